package auth

import (
	"context"
	"time"

	"github.com/danilo-marra/espaco-dialogico-sub003/cmd/identity"
)

// AuthContext is the resolved identity of an authenticated request.
type AuthContext struct {
	UserID       string
	Role         identity.Role
	TokenVersion int64
	SessionID    string
	TokenID      string
	ExpiresAt    time.Time
}

type ctxKey struct{}

// WithAuthContext returns a copy of ctx carrying ac.
func WithAuthContext(ctx context.Context, ac AuthContext) context.Context {
	return context.WithValue(ctx, ctxKey{}, ac)
}

// FromContext returns the AuthContext stored by the middleware.
func FromContext(ctx context.Context) (AuthContext, bool) {
	ac, ok := ctx.Value(ctxKey{}).(AuthContext)
	return ac, ok && ac.UserID != ""
}
