package auth

import (
	"context"
	"errors"

	"github.com/agentguard/agentguard/pkg/identity"
)

type contextKey string

const principalKey contextKey = "principal"

// WithPrincipal attaches a Principal to the context.
func WithPrincipal(ctx context.Context, p identity.Principal) context.Context {
	return context.WithValue(ctx, principalKey, p)
}

// GetPrincipal retrieves the Principal from the context.
func GetPrincipal(ctx context.Context) (identity.Principal, error) {
	p, ok := ctx.Value(principalKey).(identity.Principal)
	if !ok {
		return nil, errors.New("auth: no principal in context")
	}
	return p, nil
}
