package redis

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/kursadbilgin/estate-dispatch/internal/domain"
	goredis "github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

const (
	defaultLockTTL = 5 * time.Minute
	lockKeyPrefix  = "dispatch:lock"
)

var releaseScript = goredis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
  return redis.call("DEL", KEYS[1])
end
return 0
`)

var extendScript = goredis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
  return redis.call("PEXPIRE", KEYS[1], ARGV[2])
end
return 0
`)

// QueueLock is a single-holder lease per queue. A held lease is renewed in the
// background every third of its TTL, so the TTL only bounds how long a crashed
// holder can block the queue, not how long a run may take.
type QueueLock struct {
	client     *goredis.Client
	ttl        time.Duration
	renewEvery time.Duration
	logger     *zap.Logger
	newToken   func() string
}

func NewQueueLock(client *goredis.Client, ttl time.Duration, logger *zap.Logger) (*QueueLock, error) {
	if client == nil {
		return nil, fmt.Errorf("redis client is required")
	}
	if ttl <= 0 {
		ttl = defaultLockTTL
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	return &QueueLock{
		client:     client,
		ttl:        ttl,
		renewEvery: ttl / 3,
		logger:     logger,
		newToken:   func() string { return uuid.NewString() },
	}, nil
}

// Acquire takes the lease for key. It returns domain.ErrQueueBusy when another
// holder owns it. The returned func stops the renewal and releases the lease
// only if it is still ours.
func (l *QueueLock) Acquire(ctx context.Context, key string) (func(context.Context) error, error) {
	normalizedKey := strings.ToLower(strings.TrimSpace(key))
	if normalizedKey == "" {
		return nil, fmt.Errorf("lock key is required")
	}

	redisKey := fmt.Sprintf("%s:%s", lockKeyPrefix, normalizedKey)
	token := l.newToken()

	ok, err := l.client.SetNX(ctx, redisKey, token, l.ttl).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to acquire lock %s: %w", normalizedKey, err)
	}
	if !ok {
		return nil, fmt.Errorf("%w: %s", domain.ErrQueueBusy, normalizedKey)
	}

	renewCtx, stopRenew := context.WithCancel(context.WithoutCancel(ctx))
	done := make(chan struct{})
	go func() {
		defer close(done)
		l.keepAlive(renewCtx, redisKey, token)
	}()

	var once sync.Once
	release := func(ctx context.Context) error {
		var err error
		once.Do(func() {
			stopRenew()
			<-done
			if runErr := releaseScript.Run(ctx, l.client, []string{redisKey}, token).Err(); runErr != nil {
				err = fmt.Errorf("failed to release lock %s: %w", normalizedKey, runErr)
			}
		})
		return err
	}
	return release, nil
}

// keepAlive pushes the lease expiry forward until ctx is canceled or the
// lease is found to belong to someone else.
func (l *QueueLock) keepAlive(ctx context.Context, redisKey, token string) {
	ticker := time.NewTicker(l.renewEvery)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}

		held, err := l.extend(ctx, redisKey, token)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			// Retried on the next tick; the lease survives as long as one
			// renewal lands within the TTL.
			l.logger.Warn("failed to renew lease", zap.String("key", redisKey), zap.Error(err))
			continue
		}
		if !held {
			l.logger.Error("lease lost before release", zap.String("key", redisKey))
			return
		}
	}
}

func (l *QueueLock) extend(ctx context.Context, redisKey, token string) (bool, error) {
	n, err := extendScript.Run(ctx, l.client, []string{redisKey}, token, l.ttl.Milliseconds()).Int64()
	if err != nil {
		return false, err
	}
	return n == 1, nil
}
