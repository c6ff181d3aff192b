package middleware

import (
	"io"
	"net/http"
	"time"

	"github.com/gorilla/handlers"
	"github.com/rs/zerolog"
)

// LoggingMiddleware logs one line per request once the handler returns.
// The wrapped writer keeps Flusher and Hijacker so streams and websocket
// upgrades pass through.
func LoggingMiddleware(logger zerolog.Logger) func(http.Handler) http.Handler {
	log := logger.With().Str("component", "http").Logger()
	return func(next http.Handler) http.Handler {
		return handlers.CustomLoggingHandler(io.Discard, next, func(_ io.Writer, p handlers.LogFormatterParams) {
			event := log.Info()
			switch {
			case p.StatusCode >= http.StatusInternalServerError:
				event = log.Error()
			case p.StatusCode >= http.StatusBadRequest:
				event = log.Warn()
			}
			event.
				Str("method", p.Request.Method).
				Str("path", p.URL.Path).
				Int("status", p.StatusCode).
				Int("size", p.Size).
				Dur("duration", time.Since(p.TimeStamp)).
				Msg("request")
		})
	}
}
