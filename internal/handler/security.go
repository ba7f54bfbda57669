package handler

import (
	"net/http"
	"strings"

	"github.com/go-faster/sdk/zctx"
	"go.uber.org/zap"

	"github.com/xenking/storefront/internal/domain/auth"
)

// TokenVerifier turns a bearer token into an identity.
type TokenVerifier interface {
	Verify(raw string) (auth.Identity, error)
}

// Authenticate requires a valid bearer token and stores the caller identity
// in the request context.
func Authenticate(v TokenVerifier) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			token, ok := bearerToken(r.Header.Get("Authorization"))
			if !ok {
				writeError(r.Context(), w, auth.ErrUnauthenticated)
				return
			}
			id, err := v.Verify(token)
			if err != nil {
				zctx.From(r.Context()).Debug("Bearer token rejected", zap.Error(err))
				writeError(r.Context(), w, auth.ErrUnauthenticated)
				return
			}

			ctx := auth.WithIdentity(r.Context(), id)
			ctx = zctx.With(ctx, zap.String("owner_id", id.OwnerID))
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

func bearerToken(header string) (string, bool) {
	header = strings.TrimSpace(header)
	scheme, token, ok := strings.Cut(header, " ")
	if !ok || !strings.EqualFold(scheme, "bearer") {
		return "", false
	}
	token = strings.TrimSpace(token)
	return token, token != ""
}

// ownerFrom writes a 401 and reports false when the request carries no
// identity.
func ownerFrom(w http.ResponseWriter, r *http.Request) (string, bool) {
	owner, err := auth.OwnerID(r.Context())
	if err != nil {
		writeError(r.Context(), w, err)
		return "", false
	}
	return owner, true
}
