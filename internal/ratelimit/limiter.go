package ratelimit

import "context"

// RateLimiter paces calls toward an outbound gateway. key scopes the window,
// e.g. "termii" or "receipts".
type RateLimiter interface {
	Allow(ctx context.Context, key string) (bool, error)
	Wait(ctx context.Context, key string) error
}
