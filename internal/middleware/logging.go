package middleware

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/google/uuid"
)

// responseWriter wraps http.ResponseWriter to capture status code.
type responseWriter struct {
	http.ResponseWriter
	status      int
	wroteHeader bool
}

func wrapResponseWriter(w http.ResponseWriter) *responseWriter {
	return &responseWriter{ResponseWriter: w, status: http.StatusOK}
}

func (rw *responseWriter) WriteHeader(code int) {
	if rw.wroteHeader {
		return
	}
	rw.status = code
	rw.wroteHeader = true
	rw.ResponseWriter.WriteHeader(code)
}

// requestAuthKey holds a mutable record the auth middleware fills in once the
// request is authenticated, so the log line can name the account.
const requestAuthKey contextKey = "request_auth"

type requestAuth struct {
	accountID uuid.UUID
}

// noteAccountID records the authenticated account for the request log line.
// No-op when the logging middleware is not installed.
func noteAccountID(ctx context.Context, accountID uuid.UUID) {
	if auth, ok := ctx.Value(requestAuthKey).(*requestAuth); ok {
		auth.accountID = accountID
	}
}

// Logging returns a structured logging middleware.
func Logging(logger *slog.Logger) func(next http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			wrapped := wrapResponseWriter(w)

			auth := &requestAuth{}
			ctx := context.WithValue(r.Context(), requestAuthKey, auth)

			next.ServeHTTP(wrapped, r.WithContext(ctx))

			attrs := []slog.Attr{
				slog.String("method", r.Method),
				slog.String("path", r.URL.Path),
				slog.Int("status", wrapped.status),
				slog.Duration("duration", time.Since(start)),
				slog.String("request_id", chimiddleware.GetReqID(r.Context())),
				slog.String("remote_addr", r.RemoteAddr),
				slog.String("user_agent", r.UserAgent()),
			}
			if auth.accountID != uuid.Nil {
				attrs = append(attrs, slog.String("account_id", auth.accountID.String()))
			}

			logger.LogAttrs(r.Context(), slog.LevelInfo, "request", attrs...)
		})
	}
}
