package middleware

import (
	"time"

	applogger "SqueezeWatch/pkg/logger"

	"github.com/labstack/echo/v4"
)

// RequestLogging writes one debug line per request. Slow and failed requests
// are logged separately at higher levels by the metrics middleware, so this
// stays quiet in production log configurations.
func RequestLogging(l *applogger.Logger) echo.MiddlewareFunc {
	if l == nil {
		l = applogger.Nop()
	}
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			req := c.Request()
			start := time.Now()

			err := next(c)

			l.Debug("http request",
				applogger.String("method", req.Method),
				applogger.String("uri", req.RequestURI),
				applogger.String("remote", req.RemoteAddr),
				applogger.Int("status", c.Response().Status),
				applogger.Duration("duration_ms", time.Since(start)),
			)

			return err
		}
	}
}
