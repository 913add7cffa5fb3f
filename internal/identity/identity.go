package identity

import (
	"context"
	"errors"

	"github.com/google/uuid"
)

type Role string

const (
	RolePatient  Role = "patient"
	RoleProvider Role = "provider"
	RoleAdmin    Role = "admin"
)

// Identity is the already-authenticated caller. The engine trusts it and only
// enforces authorization on top.
type Identity struct {
	UserID uuid.UUID
	Role   Role
}

var ErrNoIdentity = errors.New("no caller identity in context")

type contextKey struct{}

func WithIdentity(ctx context.Context, id Identity) context.Context {
	return context.WithValue(ctx, contextKey{}, id)
}

func FromContext(ctx context.Context) (Identity, error) {
	id, ok := ctx.Value(contextKey{}).(Identity)
	if !ok {
		return Identity{}, ErrNoIdentity
	}
	return id, nil
}

func ValidRole(r Role) bool {
	switch r {
	case RolePatient, RoleProvider, RoleAdmin:
		return true
	}
	return false
}
