package middleware

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"refinery.app/engine/internal/http/dto"
)

// Recovery catches panics in downstream handlers, logs them with the
// request's trace context, and responds with a generic 500 instead of
// crashing the process.
func Recovery() gin.HandlerFunc {
	return func(c *gin.Context) {
		defer func() {
			if rec := recover(); rec != nil {
				slog.ErrorContext(c.Request.Context(), "panic recovered", "panic", rec, "path", c.Request.URL.Path)
				c.AbortWithStatusJSON(http.StatusInternalServerError, dto.ErrorResponse{Error: "internal server error", Kind: "internal"})
			}
		}()
		c.Next()
	}
}

// Logger logs one line per request after it completes, with the OTel
// trace/span IDs attached by the slog handler.
func Logger() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		path := c.Request.URL.Path

		c.Next()

		slog.InfoContext(c.Request.Context(), "http request",
			"method", c.Request.Method,
			"path", path,
			"status", c.Writer.Status(),
			"duration_ms", time.Since(start).Milliseconds(),
		)
	}
}

// RequireAdminAPIKey guards destructive/operator-only routes (thread
// deletion) behind a static shared secret, checked against the
// X-Admin-API-Key header or an Authorization: Bearer token.
func RequireAdminAPIKey(adminAPIKey string) gin.HandlerFunc {
	return func(c *gin.Context) {
		if adminAPIKey == "" {
			c.AbortWithStatusJSON(http.StatusServiceUnavailable, dto.ErrorResponse{Error: "admin API not configured", Kind: "internal"})
			return
		}

		apiKey := c.GetHeader("X-Admin-API-Key")
		if apiKey == "" {
			apiKey = c.GetHeader("Authorization")
			if len(apiKey) > 7 && apiKey[:7] == "Bearer " {
				apiKey = apiKey[7:]
			}
		}

		if apiKey != adminAPIKey {
			c.AbortWithStatusJSON(http.StatusUnauthorized, dto.ErrorResponse{Error: "invalid or missing admin API key", Kind: "invalid_input"})
			return
		}

		c.Next()
	}
}
