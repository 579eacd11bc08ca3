package api

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
)

// tenantIDKey is the gin context key holding the resolved tenant.
const tenantIDKey = "tenant_id"

// TenantRequired resolves the tenant from the X-Tenant-ID header.
// Authentication itself happens upstream; the runtime only needs the
// isolation boundary.
func TenantRequired() gin.HandlerFunc {
	return func(c *gin.Context) {
		raw := c.GetHeader("X-Tenant-ID")
		if raw == "" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "missing X-Tenant-ID header"})
			return
		}
		tenantID, err := uuid.Parse(raw)
		if err != nil {
			c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "invalid X-Tenant-ID header"})
			return
		}
		c.Set(tenantIDKey, tenantID)
		c.Next()
	}
}

// tenantID returns the tenant set by TenantRequired.
func tenantID(c *gin.Context) uuid.UUID {
	return c.MustGet(tenantIDKey).(uuid.UUID)
}

// RequestLogger logs one line per request with latency and status.
func RequestLogger() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		slog.Info("HTTP request",
			"method", c.Request.Method,
			"path", c.FullPath(),
			"status", c.Writer.Status(),
			"latency_ms", time.Since(start).Milliseconds(),
		)
	}
}
