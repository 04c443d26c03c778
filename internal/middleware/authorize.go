package middleware

import (
	"context"
	"net/http"
	"strings"

	"github.com/familydiary/diary/internal/auth"
	"github.com/familydiary/diary/internal/entrykey"
	"github.com/familydiary/diary/internal/logging"
)

// DevUsername is the caller assumed when the development bypass is enabled.
const DevUsername = "test-user"

type ownerKey struct{}

// TokenVerifier validates bearer tokens.
type TokenVerifier interface {
	VerifyToken(ctx context.Context, token string) (auth.Identity, error)
}

// Caller is the authenticated user of a request.
type Caller struct {
	Username string
	OwnerID  string
}

// WithCaller stores the caller on the context.
func WithCaller(ctx context.Context, username string) context.Context {
	return context.WithValue(ctx, ownerKey{}, Caller{Username: username, OwnerID: entrykey.OwnerID(username)})
}

// CallerFromContext returns the caller set by Authorize.
func CallerFromContext(ctx context.Context) (Caller, bool) {
	caller, ok := ctx.Value(ownerKey{}).(Caller)
	return caller, ok && caller.Username != ""
}

// Authorize requires a valid bearer token and injects the caller into the
// request context. With devBypass, requests without a token run as DevUsername.
func Authorize(verifier TokenVerifier, devBypass bool) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			header := strings.TrimSpace(r.Header.Get("Authorization"))
			logger := logging.FromContext(r.Context())

			if header == "" {
				if devBypass {
					logger.Warn("no bearer token, using development identity", "username", DevUsername)
					next.ServeHTTP(w, r.WithContext(WithCaller(r.Context(), DevUsername)))
					return
				}
				writeError(w, http.StatusUnauthorized, "missing bearer token")
				return
			}

			scheme, token, ok := strings.Cut(header, " ")
			if !ok || !strings.EqualFold(scheme, "bearer") || strings.TrimSpace(token) == "" {
				writeError(w, http.StatusUnauthorized, "invalid authorization format")
				return
			}

			identity, err := verifier.VerifyToken(r.Context(), strings.TrimSpace(token))
			if err != nil {
				logger.Info("bearer token rejected", "error", err)
				writeError(w, http.StatusUnauthorized, "invalid or expired token")
				return
			}

			ctx := WithCaller(r.Context(), identity.Username)
			ctx = logging.WithLogger(ctx, logger.With("username", identity.Username))
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}
