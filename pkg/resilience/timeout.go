package resilience

import (
	"context"
	"time"
)

// ProviderTimeout bounds every outbound provider HTTP call.
const ProviderTimeout = 10 * time.Second

// WithProviderTimeout wraps ctx with the standard provider call bound.
// The caller must invoke cancel on all exit paths.
func WithProviderTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(ctx, ProviderTimeout)
}

// WithTimeout is a convenience wrapper for non-default bounds.
func WithTimeout(ctx context.Context, d time.Duration) (context.Context, context.CancelFunc) {
	return context.WithTimeout(ctx, d)
}
