package server

import (
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/abhisek/pathwise/internal/apperr"
	"github.com/abhisek/pathwise/internal/logger"
	"github.com/abhisek/pathwise/internal/metrics"
	"github.com/abhisek/pathwise/internal/policy"
)

// Identity headers set by the upstream gateway. Token issuance and
// verification happen before requests reach this service.
const (
	HeaderUserID = "X-User-ID"
	HeaderRole   = "X-User-Role"
)

const actorKey = "pathwise.actor"

// Identify stores the asserted caller on the context. Requests without
// identity continue and are rejected by the capability check.
func Identify() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Set(actorKey, policy.Actor{
			UserID: strings.TrimSpace(c.GetHeader(HeaderUserID)),
			Role:   policy.Role(strings.ToLower(strings.TrimSpace(c.GetHeader(HeaderRole)))),
		})
		c.Next()
	}
}

func actorOf(c *gin.Context) policy.Actor {
	if v, ok := c.Get(actorKey); ok {
		if a, ok := v.(policy.Actor); ok {
			return a
		}
	}
	return policy.Actor{}
}

// RequestLogger logs one line per request, at a level matching the status.
func RequestLogger(log *logger.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		status := c.Writer.Status()
		path := c.FullPath()
		if path == "" {
			path = c.Request.URL.Path
		}
		fields := []any{
			"method", c.Request.Method,
			"path", path,
			"status", status,
			"duration_ms", time.Since(start).Milliseconds(),
		}
		if a := actorOf(c); a.UserID != "" {
			fields = append(fields, "user_id", a.UserID, "role", a.Role)
		}

		switch {
		case status >= 500:
			log.Error("HTTP request", fields...)
		case status >= 400:
			log.Warn("HTTP request", fields...)
		default:
			log.Info("HTTP request", fields...)
		}
	}
}

// Metrics records request counts and latency by route template.
func Metrics() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		route := c.FullPath()
		if route == "" {
			route = "unknown"
		}
		metrics.ObserveHTTP(c.Request.Method, route, c.Writer.Status(), time.Since(start))
	}
}

// Recovery turns a panic into an internal error response.
func Recovery(log *logger.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		defer func() {
			if r := recover(); r != nil {
				log.Error("panic serving request", "path", c.Request.URL.Path, "panic", r)
				respondError(c, apperr.Internal("internal server error", nil))
				c.Abort()
			}
		}()
		c.Next()
	}
}
