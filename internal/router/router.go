package router

import (
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/stemsi/exstem-gate/internal/config"
	"github.com/stemsi/exstem-gate/internal/handler"
	"github.com/stemsi/exstem-gate/internal/metrics"
	"github.com/stemsi/exstem-gate/internal/middleware"
	"github.com/stemsi/exstem-gate/internal/response"
	"github.com/stemsi/exstem-gate/internal/service"
)

// Handlers groups all handler instances for route setup.
type Handlers struct {
	Auth         *handler.AuthHandler
	Session      *handler.SessionHandler
	Admin        *handler.AdminHandler
	StatusStream *handler.StatusStreamHandler
	System       *handler.SystemHandler
}

// SetupRouter configures all Gin route groups with appropriate middlewares.
// verifyLimit guards identity verification.
func SetupRouter(
	authService *service.AuthService,
	handlers *Handlers,
	cfg *config.Config,
	verifyLimit gin.HandlerFunc,
) *gin.Engine {
	gin.SetMode(cfg.GinMode)
	router := gin.Default()

	// ─── CORS ──────────────────────────────────────────────────────────
	// If AllowedOrigins is set in config, restrict to that list;
	// otherwise allow all (*) so dev works without extra config.
	corsConfig := cors.DefaultConfig()
	if len(cfg.AllowedOrigins) > 0 {
		corsConfig.AllowOrigins = cfg.AllowedOrigins
	} else {
		corsConfig.AllowAllOrigins = true
	}
	corsConfig.AllowMethods = []string{"GET", "POST", "OPTIONS"}
	corsConfig.AllowHeaders = []string{"Origin", "Content-Type", "Authorization", response.HeaderRequestID, middleware.HeaderSessionToken}
	corsConfig.ExposeHeaders = []string{response.HeaderRequestID, "X-RateLimit-Limit", "X-RateLimit-Remaining"}
	corsConfig.MaxAge = 12 * time.Hour
	router.Use(cors.New(corsConfig))

	// Apply request ID middleware globally so every response includes metadata.
	router.Use(response.RequestIDMiddleware())
	router.Use(metrics.Middleware())

	router.GET("/health", handlers.System.Health)
	router.GET("/metrics", gin.WrapH(metrics.Handler()))

	// ─── 1. Auth Group (Public, Rate Limited) ──────────────────────────
	auth := router.Group("/api/v1/auth")
	{
		auth.POST("/verify", verifyLimit, handlers.Auth.VerifyIdentity)
		auth.POST("/admin/login", verifyLimit, handlers.Auth.AdminLogin)
	}

	// ─── 2. Learner Group ──────────────────────────────────────────────
	learnerAPI := router.Group("/api/v1")
	learnerAPI.Use(middleware.NoStore())
	{
		learnerAPI.POST("/assessments/:assessment_id/sessions",
			middleware.RequireTicket(authService),
			handlers.Session.StartSession,
		)

		session := learnerAPI.Group("/session")
		{
			session.GET("", middleware.RequireSessionToken(), handlers.Session.GetSessionState)
			session.GET("/paper", middleware.RequireSessionToken(), handlers.Session.GetPaper)
			// The token travels in the body on submit.
			session.POST("/submit", handlers.Session.Submit)
		}
	}

	// ─── 3. WebSocket Group (Admin WS Auth) ────────────────────────────
	ws := router.Group("/ws/v1")
	ws.Use(middleware.RequireAdminWSAuth(authService))
	{
		ws.GET("/admin/assessments/:id/status", handlers.StatusStream.StreamStatus)
	}

	// ─── 4. Admin Group (JWT) ──────────────────────────────────────────
	adminAPI := router.Group("/api/v1/admin")
	adminAPI.Use(middleware.RequireAdminJWT(authService), middleware.NoStore())
	{
		adminAPI.GET("/assessments/:id/status", handlers.Admin.GetStatus)
		adminAPI.GET("/assessments/:id/grants", handlers.Admin.ListGrants)
		adminAPI.GET("/system", handlers.System.SystemInfo)
	}

	return router
}
