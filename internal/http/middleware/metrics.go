package middleware

import (
	"time"

	"github.com/gin-gonic/gin"

	"github.com/yungbote/dataset-engine/internal/observability"
)

// Metrics records request counts and latency per route template. Routes listed in skip,
// such as the scrape endpoint or long-lived event streams, are not observed.
func Metrics(m *observability.Metrics, skip ...string) gin.HandlerFunc {
	if m == nil {
		return func(c *gin.Context) { c.Next() }
	}
	skipped := make(map[string]struct{}, len(skip))
	for _, route := range skip {
		skipped[route] = struct{}{}
	}
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		route := c.FullPath()
		if _, ok := skipped[route]; ok {
			return
		}
		m.ObserveHTTP(c.Request.Method, route, c.Writer.Status(), time.Since(start))
	}
}
