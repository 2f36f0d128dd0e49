package ratelimit

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"golang.org/x/time/rate"
)

var _ RateLimiter = (*LocalLimiter)(nil)

// LocalLimiter is an in-process token bucket per key. It is used when no
// Redis-backed limiter is configured.
type LocalLimiter struct {
	mu       sync.Mutex
	limiters map[string]*rate.Limiter
	perSec   rate.Limit
	burst    int
}

func NewLocalLimiter(limitPerSec int) *LocalLimiter {
	if limitPerSec <= 0 {
		limitPerSec = 1
	}
	return &LocalLimiter{
		limiters: make(map[string]*rate.Limiter),
		perSec:   rate.Limit(limitPerSec),
		burst:    limitPerSec,
	}
}

func (l *LocalLimiter) Allow(_ context.Context, key string) (bool, error) {
	lim, err := l.limiterFor(key)
	if err != nil {
		return false, err
	}
	return lim.Allow(), nil
}

func (l *LocalLimiter) Wait(ctx context.Context, key string) error {
	lim, err := l.limiterFor(key)
	if err != nil {
		return err
	}
	if ctx == nil {
		ctx = context.Background()
	}
	return lim.Wait(ctx)
}

func (l *LocalLimiter) limiterFor(key string) (*rate.Limiter, error) {
	normalized := strings.ToLower(strings.TrimSpace(key))
	if normalized == "" {
		return nil, fmt.Errorf("rate limit key is required")
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	lim, ok := l.limiters[normalized]
	if !ok {
		lim = rate.NewLimiter(l.perSec, l.burst)
		l.limiters[normalized] = lim
	}
	return lim, nil
}
