package middleware

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"marketing-analytics/utils"
)

// ErrorHandler reports the errors attached by handlers once the response is
// written. Client errors (4xx) are expected and are not reported.
func ErrorHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Next() // Сначала выполняем все обработчики

		status := c.Writer.Status()
		if len(c.Errors) == 0 || status < http.StatusInternalServerError {
			return
		}
		for _, ginErr := range c.Errors {
			utils.CaptureErrorContext(c.Request.Context(), ginErr.Err, map[string]interface{}{
				"endpoint": routeOf(c),
				"method":   c.Request.Method,
				"status":   status,
			})
		}
	}
}

// routeOf returns the matched route pattern, so ids in the path do not
// explode label and tag cardinality.
func routeOf(c *gin.Context) string {
	if path := c.FullPath(); path != "" {
		return path
	}
	return "unmatched"
}
