package auth

import (
	"context"

	"github.com/sapphybara/change-and-charm-api/types"
)

type contextKey string

const contextUserKey contextKey = "user"

// WithUser stores the authenticated user in ctx.
func WithUser(ctx context.Context, user types.User) context.Context {
	return context.WithValue(ctx, contextUserKey, user)
}

// UserFromContext returns the authenticated user, if any.
func UserFromContext(ctx context.Context) (types.User, bool) {
	user, ok := ctx.Value(contextUserKey).(types.User)
	return user, ok
}

// IsAdmin reports whether the request acts as an admin.
func IsAdmin(ctx context.Context) bool {
	user, ok := UserFromContext(ctx)
	return ok && user.Role == types.RoleAdmin
}
