package ratelimit

import (
	"context"
	"testing"
	"time"
)

func TestLocalLimiterAllowPerKey(t *testing.T) {
	t.Parallel()

	limiter := NewLocalLimiter(2)
	ctx := context.Background()

	for i := 0; i < 2; i++ {
		allowed, err := limiter.Allow(ctx, "termii")
		if err != nil {
			t.Fatalf("Allow() error = %v", err)
		}
		if !allowed {
			t.Fatalf("call %d should be allowed within burst", i+1)
		}
	}

	allowed, err := limiter.Allow(ctx, "termii")
	if err != nil {
		t.Fatalf("Allow() error = %v", err)
	}
	if allowed {
		t.Fatal("third call should be rejected")
	}

	allowed, err = limiter.Allow(ctx, " Receipts ")
	if err != nil {
		t.Fatalf("Allow(receipts) error = %v", err)
	}
	if !allowed {
		t.Fatal("other keys have their own bucket")
	}
}

func TestLocalLimiterRejectsEmptyKey(t *testing.T) {
	t.Parallel()

	limiter := NewLocalLimiter(1)
	if _, err := limiter.Allow(context.Background(), " "); err == nil {
		t.Fatal("Allow() expected error for empty key")
	}
	if err := limiter.Wait(context.Background(), ""); err == nil {
		t.Fatal("Wait() expected error for empty key")
	}
}

func TestLocalLimiterWaitHonoursDeadline(t *testing.T) {
	t.Parallel()

	limiter := NewLocalLimiter(1)
	if err := limiter.Wait(context.Background(), "termii"); err != nil {
		t.Fatalf("first Wait() error = %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	// rate.Limiter fails fast when the next token lies beyond the deadline.
	if err := limiter.Wait(ctx, "termii"); err == nil {
		t.Fatal("Wait() expected error when the next token is beyond the deadline")
	}
}
