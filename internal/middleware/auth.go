package middleware

import (
	"context"
	"net/http"
	"strings"

	"github.com/google/uuid"

	apierrors "github.com/lunarlabs/accountd/internal/pkg/errors"
	"github.com/lunarlabs/accountd/internal/pkg/response"
)

// contextKey is a custom type for context keys to avoid collisions.
type contextKey string

const (
	// AccountIDKey is the context key for the authenticated account ID.
	AccountIDKey contextKey = "account_id"
	// SessionTokenKey is the context key for the session token that
	// authenticated the request, when session auth was used.
	SessionTokenKey contextKey = "session_token"
)

// GetAccountID retrieves the authenticated account ID from context.
func GetAccountID(ctx context.Context) uuid.UUID {
	if v := ctx.Value(AccountIDKey); v != nil {
		return v.(uuid.UUID)
	}
	return uuid.Nil
}

// GetSessionToken retrieves the authenticating session token from context.
func GetSessionToken(ctx context.Context) string {
	if v := ctx.Value(SessionTokenKey); v != nil {
		return v.(string)
	}
	return ""
}

// SessionResolver validates a session token and returns the account ID.
type SessionResolver func(ctx context.Context, token string) (uuid.UUID, error)

// APIKeyValidator validates an API key and returns the account ID.
type APIKeyValidator func(ctx context.Context, key string) (uuid.UUID, error)

// RequireSession returns middleware that authenticates via Bearer session token.
func RequireSession(resolve SessionResolver) func(next http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			authHeader := r.Header.Get("Authorization")
			if !strings.HasPrefix(authHeader, "Bearer ") {
				response.Error(w, apierrors.ErrUnauthorized)
				return
			}
			token := strings.TrimPrefix(authHeader, "Bearer ")

			accountID, err := resolve(r.Context(), token)
			if err != nil {
				response.Error(w, err)
				return
			}

			noteAccountID(r.Context(), accountID)
			ctx := context.WithValue(r.Context(), AccountIDKey, accountID)
			ctx = context.WithValue(ctx, SessionTokenKey, token)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// RequireAuth returns middleware accepting either an X-API-Key header or a
// Bearer session token.
func RequireAuth(validateKey APIKeyValidator, resolve SessionResolver) func(next http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if apiKey := r.Header.Get("X-API-Key"); apiKey != "" {
				accountID, err := validateKey(r.Context(), apiKey)
				if err != nil {
					response.Error(w, err)
					return
				}
				noteAccountID(r.Context(), accountID)
				ctx := context.WithValue(r.Context(), AccountIDKey, accountID)
				next.ServeHTTP(w, r.WithContext(ctx))
				return
			}

			RequireSession(resolve)(next).ServeHTTP(w, r)
		})
	}
}

// PermissionChecker answers whether an account holds a named permission.
type PermissionChecker interface {
	Has(ctx context.Context, accountID uuid.UUID, permission string) (bool, error)
}

// RequirePermission returns middleware that gates a route behind a named
// permission. It must run after session authentication.
func RequirePermission(checker PermissionChecker, permission string) func(next http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			accountID := GetAccountID(r.Context())
			if accountID == uuid.Nil {
				response.Error(w, apierrors.ErrUnauthorized)
				return
			}

			ok, err := checker.Has(r.Context(), accountID, permission)
			if err != nil {
				response.Error(w, apierrors.ErrServiceUnavailable)
				return
			}
			if !ok {
				response.Error(w, apierrors.ErrForbidden)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
