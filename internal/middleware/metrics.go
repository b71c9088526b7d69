package middleware

import (
	"time"

	"github.com/gin-gonic/gin"

	"github.com/safeguard-ngo/impact-api/internal/service"
)

// Metrics captures request timing and volume on the Prometheus registry.
func Metrics(metricsSvc *service.MetricsService) gin.HandlerFunc {
	return func(c *gin.Context) {
		if metricsSvc == nil {
			c.Next()
			return
		}
		start := time.Now()
		c.Next()
		path := c.FullPath()
		if path == "" {
			path = c.Request.URL.Path
		}
		metricsSvc.ObserveHTTPRequest(c.Request.Method, path, c.Writer.Status(), time.Since(start))
	}
}
