package middleware

import (
	"time"

	"github.com/gin-gonic/gin"

	"github.com/wms-platform/ledger-engine/pkg/metrics"
)

const unmatchedRoute = "unmatched"

// MetricsMiddleware records request count, latency and in-flight gauge,
// labelled by route pattern so path parameters do not explode cardinality.
// Scrapes and probes are not counted.
func MetricsMiddleware(m *metrics.Metrics) gin.HandlerFunc {
	return func(c *gin.Context) {
		switch c.Request.URL.Path {
		case "/metrics", "/health", "/ready":
			c.Next()
			return
		}

		m.IncrementHTTPRequestsInFlight()
		start := time.Now()
		c.Next()
		m.DecrementHTTPRequestsInFlight()

		route := c.FullPath()
		if route == "" {
			route = unmatchedRoute
		}
		m.RecordHTTPRequest(c.Request.Method, route, c.Writer.Status(), time.Since(start))
	}
}

// MetricsEndpoint serves the registry in the Prometheus text format.
func MetricsEndpoint(m *metrics.Metrics) gin.HandlerFunc {
	return gin.WrapH(m.Handler())
}
