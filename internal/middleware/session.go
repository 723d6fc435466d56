package middleware

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/dukerupert/campuskubo/internal/session"
)

// sessionWriter saves the session store right before the response starts.
type sessionWriter struct {
	http.ResponseWriter
	store  session.RequestStore
	logger *slog.Logger
	saved  bool
}

func (w *sessionWriter) save() {
	if w.saved {
		return
	}
	w.saved = true
	if err := w.store.Save(w.ResponseWriter); err != nil {
		w.logger.Error("save session", "error", err)
	}
}

func (w *sessionWriter) WriteHeader(code int) {
	w.save()
	w.ResponseWriter.WriteHeader(code)
}

func (w *sessionWriter) Write(b []byte) (int, error) {
	w.save()
	return w.ResponseWriter.Write(b)
}

func (w *sessionWriter) Unwrap() http.ResponseWriter {
	return w.ResponseWriter
}

// Sessions attaches a session.Manager for the request's session to the context.
func Sessions(provider session.Provider, timeout time.Duration, logger *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			st, err := provider.Open(r)
			if err != nil {
				logger.Error("open session", "error", err)
				writeError(w, http.StatusInternalServerError, "Internal error")
				return
			}
			sw := &sessionWriter{ResponseWriter: w, store: st, logger: logger}
			m := session.New(st, timeout)
			next.ServeHTTP(sw, r.WithContext(session.NewContext(r.Context(), m)))
			sw.save()
		})
	}
}
