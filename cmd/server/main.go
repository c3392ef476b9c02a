package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/stemsi/exstem-gate/internal/cache"
	"github.com/stemsi/exstem-gate/internal/config"
	"github.com/stemsi/exstem-gate/internal/database"
	"github.com/stemsi/exstem-gate/internal/events"
	"github.com/stemsi/exstem-gate/internal/handler"
	"github.com/stemsi/exstem-gate/internal/logger"
	"github.com/stemsi/exstem-gate/internal/middleware"
	"github.com/stemsi/exstem-gate/internal/router"
	"github.com/stemsi/exstem-gate/internal/service"
	"github.com/stemsi/exstem-gate/internal/storage"
	"github.com/stemsi/exstem-gate/internal/validator"
	"github.com/stemsi/exstem-gate/internal/worker"
)

func main() {
	// ─── Load Configuration ────────────────────────────────────────────
	cfg := config.Load()

	// ─── Initialize Logger ─────────────────────────────────────────────
	log := logger.Setup(cfg.LogLevel, cfg.LogFormat)
	log.Info().
		Str("port", cfg.ServerPort).
		Str("mode", cfg.GinMode).
		Str("log_level", cfg.LogLevel).
		Str("database_driver", cfg.DatabaseDriver).
		Bool("honor_superseded", cfg.HonorSupersededSubmissions).
		Msg("Starting ExStem Gate")

	if cfg.AdminKeyHash == "" {
		log.Warn().Msg("ADMIN_KEY_HASH is empty, admin login is disabled")
	}

	// ─── Initialize Validator ──────────────────────────────────────────
	validator.Setup()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// ─── Open Storage ──────────────────────────────────────────────────
	backend, err := storage.Open(ctx, cfg, log)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to open storage")
	}
	defer backend.Close()

	// ─── Connect to Redis (optional) ───────────────────────────────────
	var rdb *redis.Client
	if cfg.RedisURL != "" {
		rdb, err = database.NewRedisClient(ctx, cfg, log)
		if err != nil {
			log.Fatal().Err(err).Msg("Failed to connect to Redis")
		}
		defer rdb.Close()
	} else {
		log.Warn().Msg("REDIS_URL is empty, running without cache, live events and audit queue")
	}

	// ─── Redis-backed Collaborators ────────────────────────────────────
	var (
		catalog     service.AssessmentCatalog = backend.Assessments
		sink        service.EventSink         = service.NopSink{}
		verifyLimit gin.HandlerFunc
	)
	limiterDone := make(chan struct{})
	defer close(limiterDone)

	if rdb != nil {
		catalog = cache.NewAssessmentCache(backend.Assessments, rdb, cfg.AssessmentCacheTTL, log)
		sink = events.NewRedisSink(rdb, log)
		verifyLimit = middleware.NewRedisRateLimiter(rdb, cfg.VerifyRateLimit, time.Minute, log).Middleware()
	} else {
		limiter := middleware.NewRateLimiter(cfg.VerifyRateLimit, time.Minute)
		limiter.StartCleanup(limiterDone)
		verifyLimit = limiter.Middleware()
	}

	// ─── Initialize Services ──────────────────────────────────────────
	authService := service.NewAuthService(cfg)
	identityService := service.NewIdentityService(backend.Learners, log)
	accessService := service.NewAccessService(backend.Grants)
	sessionService := service.NewSessionService(
		backend.Sessions, catalog, accessService, sink, log,
		service.WithHonorSuperseded(cfg.HonorSupersededSubmissions),
	)
	statusService := service.NewStatusService(backend.Learners, backend.Sessions, catalog)
	adminService := service.NewAdminService(backend.Learners, backend.Assessments, backend.Grants)

	// ─── Initialize Handlers ──────────────────────────────────────────
	handlers := &router.Handlers{
		Auth:         handler.NewAuthHandler(authService, identityService, log),
		Session:      handler.NewSessionHandler(sessionService, log),
		Admin:        handler.NewAdminHandler(statusService, adminService, log),
		StatusStream: handler.NewStatusStreamHandler(statusService, rdb, log, cfg.AllowedOrigins),
		System:       handler.NewSystemHandler(backend, backend.Driver, rdb, log),
	}

	// ─── Start Background Workers ─────────────────────────────────────
	workerCtx, workerCancel := context.WithCancel(context.Background())
	workerDone := make(chan struct{})

	if rdb != nil {
		auditWorker := worker.NewAuditWorker(
			worker.NewRedisQueue(rdb, config.WorkerKey.SessionAuditQueue),
			backend.Audit,
			log,
		)
		go func() {
			defer close(workerDone)
			auditWorker.Start(workerCtx)
		}()
	} else {
		close(workerDone)
	}

	// ─── Setup Router ──────────────────────────────────────────────────
	r := router.SetupRouter(authService, handlers, cfg, verifyLimit)

	// ─── Create HTTP Server ────────────────────────────────────────────
	srv := &http.Server{
		Addr:              ":" + cfg.ServerPort,
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
	}

	// ─── Start Server in Goroutine ─────────────────────────────────────
	go func() {
		log.Info().Str("addr", ":"+cfg.ServerPort).Msg("Server listening")
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal().Err(err).Msg("Server error")
		}
	}()

	// ─── Graceful Shutdown ─────────────────────────────────────────────
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	sig := <-quit

	log.Info().Str("signal", sig.String()).Msg("Shutting down gracefully...")

	// 1. Stop accepting new HTTP requests (5s timeout).
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("HTTP server shutdown error")
	}

	// 2. Stop the audit worker and wait for its final flush.
	workerCancel()
	select {
	case <-workerDone:
	case <-time.After(10 * time.Second):
		log.Warn().Msg("Audit worker did not stop in time")
	}

	log.Info().Msg("Shutdown complete")
}

// init sets zerolog global defaults before main runs.
func init() {
	zerolog.TimeFieldFormat = time.RFC3339
}
