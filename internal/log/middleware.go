package log

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5/middleware"
)

type contextKey string

const loggerContextKey contextKey = "logger"

// NewContext returns ctx carrying logger.
func NewContext(ctx context.Context, logger *Logger) context.Context {
	return context.WithValue(ctx, loggerContextKey, logger)
}

// FromContext extracts a logger from the request context, falling back to
// the default logger.
func FromContext(ctx context.Context) *Logger {
	if logger, ok := ctx.Value(loggerContextKey).(*Logger); ok {
		return logger
	}
	return &Logger{Logger: slog.Default(), component: "unknown"}
}

// RequestLogger stores a request-scoped logger in the context and logs the
// completion of every request. It expects chi's RequestID middleware to run
// first; clientIP extracts the caller address.
func RequestLogger(logger *Logger, clientIP func(*http.Request) string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			reqID := middleware.GetReqID(r.Context())
			ip := clientIP(r)

			scoped := logger.WithComponent(ComponentHTTP).With(FieldRequestID, reqID)
			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
			next.ServeHTTP(ww, r.WithContext(NewContext(r.Context(), scoped)))

			status := ww.Status()
			if status == 0 {
				status = http.StatusOK
			}
			level := slog.LevelInfo
			switch {
			case status >= 500:
				level = slog.LevelError
			case status >= 400:
				level = slog.LevelWarn
			}
			scoped.LogFields(r.Context(), level, "HTTP request completed", NewFields().
				WithHTTPRequest(r.Method, r.URL.Path, r.URL.RawQuery, r.Header.Get("User-Agent")).
				WithHTTPResponse(status, time.Since(start).Milliseconds()).
				WithClientIP(ip))
		})
	}
}
