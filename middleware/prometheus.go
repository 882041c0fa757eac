package middleware

import (
	"path"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	"marketing-analytics/monitoring"
)

// PrometheusMetrics records every request by route pattern. Routes listed in
// skip (the scrape and health endpoints) are left out. Successful exports
// are also counted by format with their size.
func PrometheusMetrics(skip ...string) gin.HandlerFunc {
	skipped := make(map[string]bool, len(skip))
	for _, route := range skip {
		skipped[route] = true
	}

	return func(c *gin.Context) {
		start := time.Now()

		c.Next()

		route := routeOf(c)
		if skipped[route] {
			return
		}
		duration := time.Since(start).Seconds()
		status := c.Writer.Status()

		monitoring.RequestsTotal.WithLabelValues(
			c.Request.Method,
			route,
			strconv.Itoa(status),
		).Inc()

		monitoring.RequestDuration.WithLabelValues(
			c.Request.Method,
			route,
		).Observe(duration)

		if format, ok := exportFormat(route); ok && status < 300 {
			monitoring.ExportsServed.WithLabelValues(format).Inc()
			if size := c.Writer.Size(); size > 0 {
				monitoring.ExportBytes.WithLabelValues(format).Add(float64(size))
			}
		}
	}
}

// exportFormat recognises export routes such as /api/v1/export.xlsx.
func exportFormat(route string) (string, bool) {
	base := path.Base(route)
	if !strings.HasPrefix(base, "export.") {
		return "", false
	}
	return strings.TrimPrefix(path.Ext(base), "."), true
}
