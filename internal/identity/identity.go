// Package identity verifies bearer credentials and yields the caller's
// verified identifier.
package identity

import (
	"context"
	"errors"
	"strings"
)

// ErrInvalidCredential is returned for malformed, expired or rejected
// credentials.
var ErrInvalidCredential = errors.New("invalid or expired credential")

// Identity is a verified caller.
type Identity struct {
	UserID string
	Email  string
}

// Identifier returns the value used for user keys and idempotency keys.
func (i *Identity) Identifier() string {
	if i == nil {
		return ""
	}
	if i.Email != "" {
		return strings.ToLower(i.Email)
	}
	return i.UserID
}

// reservedIdentifier is the user key of anonymous callers. A verified
// identity may never map onto it.
const reservedIdentifier = "unknown"

// verified rejects identities whose identifier is empty or collides with
// the anonymous user key.
func verified(id *Identity) (*Identity, error) {
	ident := id.Identifier()
	if ident == "" || strings.EqualFold(ident, reservedIdentifier) {
		return nil, ErrInvalidCredential
	}
	return id, nil
}

// Resolver verifies a raw bearer token. A nil identity with a nil error
// means the token could not be verified because verification is disabled.
type Resolver interface {
	Resolve(ctx context.Context, token string) (*Identity, error)
}

// Disabled treats every caller as anonymous.
type Disabled struct{}

// Resolve implements Resolver.
func (Disabled) Resolve(context.Context, string) (*Identity, error) {
	return nil, nil
}

type contextKey struct{}

// WithIdentity stores a verified identity on ctx.
func WithIdentity(ctx context.Context, id *Identity) context.Context {
	return context.WithValue(ctx, contextKey{}, id)
}

// FromContext returns the verified identity, or nil for anonymous callers.
func FromContext(ctx context.Context) *Identity {
	id, _ := ctx.Value(contextKey{}).(*Identity)
	return id
}
