package auth

import (
	"context"
	"slices"

	"github.com/dukerupert/campuskubo/internal/model"
)

type contextKey struct{}

type AuthContext struct {
	UserID   int64
	Email    string
	Role     model.Role
	FullName string
}

func WithAuth(ctx context.Context, ac AuthContext) context.Context {
	return context.WithValue(ctx, contextKey{}, ac)
}

func FromContext(ctx context.Context) (AuthContext, bool) {
	ac, ok := ctx.Value(contextKey{}).(AuthContext)
	return ac, ok
}

func UserID(ctx context.Context) int64 {
	ac, ok := FromContext(ctx)
	if !ok {
		return 0
	}
	return ac.UserID
}

// HasRole reports whether the authenticated user holds one of roles.
func HasRole(ctx context.Context, roles ...model.Role) bool {
	ac, ok := FromContext(ctx)
	if !ok {
		return false
	}
	return slices.Contains(roles, ac.Role)
}

func IsAdmin(ctx context.Context) bool {
	return HasRole(ctx, model.RoleAdmin)
}
