package smarthttp

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/odvcencio/gitforge/internal/auth"
)

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (s *statusRecorder) WriteHeader(code int) {
	s.status = code
	s.ResponseWriter.WriteHeader(code)
}

// Flush forwards to the wrapped writer so pack streaming behind the
// middleware still reaches the client incrementally.
func (s *statusRecorder) Flush() {
	if f, ok := s.ResponseWriter.(http.Flusher); ok {
		f.Flush()
	}
}

func requestLoggingMiddleware(logger *slog.Logger, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rec, r)
		attrs := []any{
			"method", r.Method,
			"path", r.URL.RequestURI(),
			"status", rec.status,
			"duration", time.Since(start).String(),
		}
		if c := auth.GetClaims(r.Context()); c != nil {
			attrs = append(attrs, "user", c.Username)
		}
		logger.Info("http request", attrs...)
	})
}
