// Package logger builds the zerolog loggers shared by the server, the
// workers and examctl.
package logger

import (
	"io"
	"os"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"
)

// Setup returns the server logger, writing to stdout.
//   - level: trace, debug, info, warn, error, fatal or panic
//   - format: "json" for production, "pretty" for local runs
func Setup(level, format string) zerolog.Logger {
	return New(os.Stdout, level, format).With().Str("service", "exstem-runner").Logger()
}

// New builds a logger writing to w. An unknown level falls back to info.
// examctl passes stderr so its stdout stays machine readable.
func New(w io.Writer, level, format string) zerolog.Logger {
	if format == "pretty" {
		w = zerolog.ConsoleWriter{Out: w, TimeFormat: time.RFC3339}
	}

	lvl, err := zerolog.ParseLevel(level)
	if err != nil {
		lvl = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(lvl)

	return zerolog.New(w).With().Timestamp().Caller().Logger()
}

// Component derives a child logger tagged with a component name.
func Component(log zerolog.Logger, name string) zerolog.Logger {
	return log.With().Str("component", name).Logger()
}

// Access logs one line per HTTP request through the request scoped
// logger, so lines carry the request ID. Health probes log at debug.
func Access(log zerolog.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		l := zerolog.Ctx(c.Request.Context())
		if l.GetLevel() == zerolog.Disabled {
			l = &log
		}

		status := c.Writer.Status()
		var ev *zerolog.Event
		switch {
		case status >= 500:
			ev = l.Error()
		case status >= 400:
			ev = l.Warn()
		case c.FullPath() == "/health":
			ev = l.Debug()
		default:
			ev = l.Info()
		}

		route := c.FullPath()
		if route == "" {
			route = c.Request.URL.Path
		}
		ev.Str("method", c.Request.Method).
			Str("route", route).
			Int("status", status).
			Int("bytes", c.Writer.Size()).
			Dur("latency", time.Since(start)).
			Str("client_ip", c.ClientIP()).
			Msg("HTTP request")
	}
}
