package auth

import (
	"context"

	"github.com/dukerupert/textblast/internal/model"
)

type contextKey struct{}

// Principal is the authenticated account behind a request.
type Principal struct {
	AccountID  int64
	Email      string
	Role       string
	Permission string
}

func WithPrincipal(ctx context.Context, p Principal) context.Context {
	return context.WithValue(ctx, contextKey{}, p)
}

func FromContext(ctx context.Context) (Principal, bool) {
	p, ok := ctx.Value(contextKey{}).(Principal)
	return p, ok
}

func AccountID(ctx context.Context) int64 {
	p, ok := FromContext(ctx)
	if !ok {
		return 0
	}
	return p.AccountID
}

func (p Principal) IsAdmin() bool {
	return p.Role == model.RoleAdmin
}
