package internal

import (
	"context"
	"time"

	coreuser "github.com/oneflow-erp/oneflow-api/internal/core/user"
)

type ctxKey string

const ContextClaimsKey ctxKey = "claims"

// ClaimsFromContext returns the identity set by the auth middleware.
func ClaimsFromContext(ctx context.Context) (*coreuser.ClaimPayload, bool) {
	if ctx == nil {
		return nil, false
	}
	claims, ok := ctx.Value(ContextClaimsKey).(*coreuser.ClaimPayload)
	return claims, ok && claims != nil
}

func ContextWithClaims(ctx context.Context, claims *coreuser.ClaimPayload) context.Context {
	return context.WithValue(ctx, ContextClaimsKey, claims)
}

// WithTimeout returns a context with timeout, defaulting to 5 seconds if duration is zero or negative.
func WithTimeout(ctx context.Context, duration time.Duration) (context.Context, context.CancelFunc) {
	if duration <= 0 {
		duration = 5 * time.Second
	}
	return context.WithTimeout(ctx, duration)
}
