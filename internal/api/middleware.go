package api

import (
	"log/slog"
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	apperrors "github.com/eternisai/salesintel/internal/errors"
	"github.com/eternisai/salesintel/internal/logger"
)

type contextKey string

// ClaimsKey is the gin context key of the validated token claims.
const ClaimsKey contextKey = "session_claims"

// RequestID tags each request with an id, taken from X-Request-ID when the
// client sends one.
func RequestID() gin.HandlerFunc {
	return func(c *gin.Context) {
		id := c.GetHeader("X-Request-ID")
		if id == "" {
			id = logger.GenerateRequestID()
		}
		c.Header("X-Request-ID", id)
		c.Request = c.Request.WithContext(logger.WithRequestID(c.Request.Context(), id))
		c.Next()
	}
}

// AccessLog logs one line per request.
func AccessLog(log *logger.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		log.WithContext(c.Request.Context()).Info("request",
			slog.String("method", c.Request.Method),
			slog.String("path", c.FullPath()),
			slog.Int("status", c.Writer.Status()),
			slog.Duration("duration", time.Since(start)))
	}
}

// RequireSession validates the bearer token and checks that it was issued
// for the :id session in the path.
func RequireSession(tokens *TokenIssuer) gin.HandlerFunc {
	return func(c *gin.Context) {
		authHeader := c.GetHeader("Authorization")

		// Browsers cannot set headers on a websocket upgrade.
		if authHeader == "" && c.Request.Header.Get("Upgrade") == "websocket" {
			if token := c.Query("token"); token != "" {
				authHeader = "Bearer " + token
			}
		}

		if authHeader == "" {
			apperrors.AbortWithUnauthorized(c, "Authorization header is required", nil)
			return
		}
		if !strings.HasPrefix(authHeader, "Bearer ") {
			apperrors.AbortWithUnauthorized(c, "Authorization header must be a Bearer token", nil)
			return
		}

		token := strings.TrimPrefix(authHeader, "Bearer ")
		if token == "" {
			apperrors.AbortWithUnauthorized(c, "Bearer token is empty", nil)
			return
		}

		claims, err := tokens.Validate(token)
		if err != nil {
			apperrors.AbortWithUnauthorized(c, "Invalid or expired token", nil)
			return
		}

		if id := c.Param("id"); id != "" && id != claims.SessionID {
			apperrors.AbortWithSessionNotOwned(c, id)
			return
		}

		ctx := logger.WithSessionID(c.Request.Context(), claims.SessionID)
		c.Request = c.Request.WithContext(ctx)
		c.Set(string(ClaimsKey), claims)
		c.Next()
	}
}

// GetClaims returns the claims set by RequireSession.
func GetClaims(c *gin.Context) (*Claims, bool) {
	v, ok := c.Get(string(ClaimsKey))
	if !ok {
		return nil, false
	}
	claims, ok := v.(*Claims)
	return claims, ok
}
