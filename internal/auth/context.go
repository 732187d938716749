package auth

import (
	"context"
	"time"
)

type contextKey struct{}

// AuthContext is the identity attached to a request after its session has
// been validated.
type AuthContext struct {
	UserID    string
	Email     string
	ExpiresAt time.Time
}

func WithAuth(ctx context.Context, ac AuthContext) context.Context {
	return context.WithValue(ctx, contextKey{}, ac)
}

func FromContext(ctx context.Context) (AuthContext, bool) {
	ac, ok := ctx.Value(contextKey{}).(AuthContext)
	return ac, ok
}

func UserID(ctx context.Context) string {
	ac, ok := FromContext(ctx)
	if !ok {
		return ""
	}
	return ac.UserID
}
