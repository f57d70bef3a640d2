package api

import (
	"time"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"

	"binance-spot-executor/internal/logging"
)

const traceHeader = "X-Trace-ID"

// traceMiddleware attaches a trace ID to the request context, reusing the
// caller's X-Trace-ID when present
func traceMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		id := c.GetHeader(traceHeader)
		if id == "" {
			id = logging.GenerateTraceID()
		}
		c.Request = c.Request.WithContext(logging.WithTraceID(c.Request.Context(), id))
		c.Header(traceHeader, id)
		c.Next()
	}
}

func requestLogger(logger zerolog.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		path := c.FullPath()
		if path == "" {
			path = c.Request.URL.Path
		}
		event := logger.Debug()
		if c.Writer.Status() >= 500 {
			event = logger.Error()
		}
		event.
			Str("trace_id", logging.TraceID(c.Request.Context())).
			Str("method", c.Request.Method).
			Str("path", path).
			Int("status", c.Writer.Status()).
			Dur("latency", time.Since(start)).
			Msg("HTTP request")
	}
}
