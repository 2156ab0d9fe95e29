package auth

import (
	"context"
)

type ctxKey string

const (
	userKey ctxKey = "userClaims"
)

// Role names used across the service.
const (
	RoleAdministrator = "Administrator"
	RoleTenant        = "Tenant"
)

type Claims struct {
	Subject string
	JWTID   string
	Roles   []string
}

func (c Claims) HasRole(role string) bool {
	for _, r := range c.Roles {
		if r == role {
			return true
		}
	}
	return false
}

// IsAdmin is a convenience for the entitlement override checks.
func (c Claims) IsAdmin() bool { return c.HasRole(RoleAdministrator) }

func WithClaims(ctx context.Context, c Claims) context.Context {
	return context.WithValue(ctx, userKey, c)
}

func FromContext(ctx context.Context) Claims {
	if v, ok := ctx.Value(userKey).(Claims); ok {
		return v
	}
	return Claims{}
}

func Subject(ctx context.Context) string {
	return FromContext(ctx).Subject
}
