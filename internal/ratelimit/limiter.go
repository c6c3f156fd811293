package ratelimit

import "context"

// RateLimiter bounds outbound call throughput per scope, typically one
// scope per collaborator endpoint.
type RateLimiter interface {
	Allow(ctx context.Context, scope string) (bool, error)
	Wait(ctx context.Context, scope string) error
}
