// Package auth resolves the authenticated owner of a request.
package auth

import (
	"context"
	"strings"

	"github.com/go-faster/errors"
)

// ErrUnauthenticated is returned by every pipeline entry point when no
// owner identity is available.
var ErrUnauthenticated = errors.New("unauthenticated")

// Identity is the authenticated principal extracted from a bearer token.
type Identity struct {
	OwnerID string
	Email   string
}

type identityKey struct{}

// WithIdentity returns a copy of ctx carrying id.
func WithIdentity(ctx context.Context, id Identity) context.Context {
	return context.WithValue(ctx, identityKey{}, id)
}

// FromContext returns the identity stored in ctx, if any.
func FromContext(ctx context.Context) (Identity, bool) {
	id, ok := ctx.Value(identityKey{}).(Identity)
	if !ok || id.OwnerID == "" {
		return Identity{}, false
	}
	return id, true
}

// OwnerID returns the current owner id or ErrUnauthenticated.
func OwnerID(ctx context.Context) (string, error) {
	id, ok := FromContext(ctx)
	if !ok {
		return "", ErrUnauthenticated
	}
	return id.OwnerID, nil
}

// RequireOwner validates an owner id passed explicitly to a service method.
func RequireOwner(ownerID string) error {
	if strings.TrimSpace(ownerID) == "" {
		return ErrUnauthenticated
	}
	return nil
}
