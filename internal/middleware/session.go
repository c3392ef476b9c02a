package middleware

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/stemsi/exstem-gate/internal/response"
)

const (
	// HeaderSessionToken carries the session token on read endpoints.
	HeaderSessionToken = "X-Session-Token"
	// ContextKeySessionToken is the Gin context key for the session token.
	ContextKeySessionToken = "session_token"
)

// RequireSessionToken extracts the session token from the X-Session-Token
// header. The token is not resolved here; unknown tokens surface as
// not found from the service so they cannot be probed.
func RequireSessionToken() gin.HandlerFunc {
	return func(c *gin.Context) {
		token := strings.TrimSpace(c.GetHeader(HeaderSessionToken))
		if token == "" {
			response.AbortFail(c, http.StatusUnauthorized, response.ErrTokenRequired)
			return
		}
		c.Set(ContextKeySessionToken, token)
		c.Next()
	}
}

// GetSessionToken returns the token stored by RequireSessionToken.
func GetSessionToken(c *gin.Context) string {
	return c.GetString(ContextKeySessionToken)
}
