package core

import (
	"context"
	"errors"
	"fmt"
)

// Identity is the verified principal bound to a session.
type Identity struct {
	ID       int64  `json:"id"`
	Username string `json:"username"`
}

var (
	// ErrInvalidCredentials is the umbrella for any username/password mismatch.
	ErrInvalidCredentials = errors.New("invalid credentials")
	// ErrInvalidUsername is returned when no user matches the submitted username.
	ErrInvalidUsername = fmt.Errorf("%w: unknown username", ErrInvalidCredentials)
	// ErrInvalidPassword is returned when the password does not match the stored hash.
	ErrInvalidPassword = fmt.Errorf("%w: password mismatch", ErrInvalidCredentials)
	// ErrUnauthenticated covers missing, malformed, expired and revoked sessions.
	ErrUnauthenticated = errors.New("unauthenticated")
	// ErrStoreUnavailable means the user or session backend failed or timed out.
	ErrStoreUnavailable = errors.New("store unavailable")
)

// AuthService defines authentication behaviour.
type AuthService interface {
	Verify(ctx context.Context, username, password string) (Identity, error)
}

// SessionService is the session lifecycle consumed by the HTTP layer.
type SessionService interface {
	Create(ctx context.Context, id Identity) (Session, error)
	Resolve(ctx context.Context, token string) (Session, error)
	Invalidate(ctx context.Context, token string) error
}

type identityContextKey struct{}

// WithIdentity attaches a resolved identity to ctx for downstream handlers.
func WithIdentity(ctx context.Context, id Identity) context.Context {
	return context.WithValue(ctx, identityContextKey{}, id)
}

// IdentityFromContext returns the identity set by the session gate.
func IdentityFromContext(ctx context.Context) (Identity, bool) {
	if ctx == nil {
		return Identity{}, false
	}
	id, ok := ctx.Value(identityContextKey{}).(Identity)
	return id, ok
}
