package gin

import (
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/coinbase/solanapay/pkg/monitor"
)

// MiddlewareOptions configures RequestMiddleware
type MiddlewareOptions struct {
	Logger  *zap.Logger
	Metrics *monitor.Metrics
	// SkipPaths are served without logging, e.g. /health and /metrics
	SkipPaths []string
}

// Options is the type for the options for RequestMiddleware.
type Options func(*MiddlewareOptions)

// WithLogger is an option for RequestMiddleware to set the access logger.
func WithLogger(logger *zap.Logger) Options {
	return func(options *MiddlewareOptions) {
		options.Logger = logger
	}
}

// WithMetrics is an option for RequestMiddleware to record request metrics.
func WithMetrics(metrics *monitor.Metrics) Options {
	return func(options *MiddlewareOptions) {
		options.Metrics = metrics
	}
}

// WithSkipPaths is an option for RequestMiddleware to exclude paths from access logs.
func WithSkipPaths(paths ...string) Options {
	return func(options *MiddlewareOptions) {
		options.SkipPaths = append(options.SkipPaths, paths...)
	}
}

// RequestMiddleware logs every request and records its latency under the
// matched route template, so /sessions/:id is one series regardless of ID.
func RequestMiddleware(opts ...Options) gin.HandlerFunc {
	options := &MiddlewareOptions{Logger: zap.NewNop()}
	for _, opt := range opts {
		opt(options)
	}

	skip := make(map[string]struct{}, len(options.SkipPaths))
	for _, path := range options.SkipPaths {
		skip[path] = struct{}{}
	}

	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		duration := time.Since(start)

		route := c.FullPath()
		if route == "" {
			route = "unmatched"
		}
		status := c.Writer.Status()

		if options.Metrics != nil {
			options.Metrics.ObserveHTTP(c.Request.Method, route, status, duration)
		}

		if _, ok := skip[c.Request.URL.Path]; ok {
			return
		}
		fields := []zap.Field{
			zap.String("method", c.Request.Method),
			zap.String("path", c.Request.URL.Path),
			zap.String("route", route),
			zap.Int("status", status),
			zap.Duration("duration", duration),
		}
		if len(c.Errors) > 0 {
			fields = append(fields, zap.String("errors", c.Errors.String()))
		}
		switch {
		case status >= 500:
			options.Logger.Error("request", fields...)
		case status >= 400:
			options.Logger.Warn("request", fields...)
		default:
			options.Logger.Debug("request", fields...)
		}
	}
}
