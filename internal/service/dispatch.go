package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/kursadbilgin/estate-dispatch/internal/domain"
	"github.com/kursadbilgin/estate-dispatch/internal/observability"
	"github.com/kursadbilgin/estate-dispatch/internal/provider"
	"github.com/kursadbilgin/estate-dispatch/internal/queue"
	"github.com/kursadbilgin/estate-dispatch/internal/ratelimit"
	"github.com/kursadbilgin/estate-dispatch/internal/repository"
	"go.uber.org/zap"
)

const (
	defaultInterItemDelay = 200 * time.Millisecond
)

// DispatchFunc performs the outbound call for one item. The returned metadata
// is merged into the item on success.
type DispatchFunc func(ctx context.Context, item domain.DispatchItem) (map[string]string, error)

// sentHook runs after an item has been persisted as sent.
type sentHook func(ctx context.Context, logger *zap.Logger, item *domain.DispatchItem)

// QueueLocker hands out a single-holder lease per key. Acquire returns
// domain.ErrQueueBusy when the lease is taken.
type QueueLocker interface {
	Acquire(ctx context.Context, key string) (func(context.Context) error, error)
}

// Summary counts the attempts made during one run. Failed counts failed
// attempts, including those that left the item pending.
type Summary struct {
	Total      int `json:"total"`
	Successful int `json:"successful"`
	Failed     int `json:"failed"`
}

// ItemResult is the outcome of one dispatch attempt.
type ItemResult struct {
	ID       string            `json:"id"`
	Target   string            `json:"target"`
	Status   domain.ItemStatus `json:"status"`
	Attempts int               `json:"attempts"`
	Error    string            `json:"error,omitempty"`
}

// dispatcher applies the per-item state machine: call, transition, persist.
// Batch processors and campaign runs share it.
type dispatcher struct {
	store       repository.ItemStore
	maxAttempts int
	delay       time.Duration
	limiterKey  string
	limiter     ratelimit.RateLimiter
	events      queue.EventPublisher
	onSent      sentHook
	metrics     *observability.Metrics
	now         func() time.Time
	sleep       func(ctx context.Context, d time.Duration) error
}

func newDispatcher(store repository.ItemStore, maxAttempts int, delay time.Duration) dispatcher {
	if maxAttempts <= 0 {
		maxAttempts = domain.DefaultMaxAttempts
	}
	if delay < 0 {
		delay = 0
	}

	return dispatcher{
		store:       store,
		maxAttempts: maxAttempts,
		delay:       delay,
		now:         time.Now,
		sleep:       sleepWithContext,
	}
}

// run dispatches items in order. Collaborator failures are recorded on the
// item; store and limiter failures stop the run and are returned with the
// results gathered so far.
func (d *dispatcher) run(
	ctx context.Context,
	logger *zap.Logger,
	items []domain.DispatchItem,
	dispatch DispatchFunc,
) (Summary, []ItemResult, error) {
	summary := Summary{}
	results := make([]ItemResult, 0, len(items))
	queueName := d.store.Queue().String()

	for i := range items {
		item := &items[i]

		if i > 0 && d.delay > 0 {
			if err := d.sleep(ctx, d.delay); err != nil {
				return summary, results, fmt.Errorf("pacing interrupted: %w", err)
			}
		}
		if d.limiter != nil {
			if err := d.limiter.Wait(ctx, d.limiterKey); err != nil {
				return summary, results, fmt.Errorf("rate limiter wait failed: %w", err)
			}
		}

		start := d.now()
		extra, dispatchErr := safeDispatch(ctx, dispatch, *item)
		d.metrics.ObserveDispatchDuration(queueName, d.now().Sub(start))

		result := ItemResult{ID: item.ID, Target: item.Target}
		if dispatchErr == nil {
			if err := item.MarkSent(d.now(), extra); err != nil {
				return summary, results, err
			}
		} else {
			result.Error = provider.Reason(dispatchErr)
			if _, err := item.RecordFailure(result.Error, d.maxAttempts); err != nil {
				return summary, results, err
			}
		}

		if err := d.store.Update(ctx, item); err != nil {
			if errors.Is(err, domain.ErrConflict) {
				// Another invocation already settled this row.
				logger.Warn("item changed concurrently, outcome discarded",
					zap.String("itemId", item.ID),
				)
				continue
			}
			return summary, results, fmt.Errorf("failed to persist item %s: %w", item.ID, err)
		}

		result.Status = item.Status
		result.Attempts = item.Attempts
		summary.Total++
		results = append(results, result)

		switch {
		case dispatchErr == nil:
			summary.Successful++
			d.metrics.IncItemSent(queueName)
			logger.Debug("item sent",
				zap.String("itemId", item.ID),
				zap.Int("attempts", item.Attempts),
			)
			if d.onSent != nil {
				d.onSent(ctx, logger, item)
			}
		case item.Status == domain.ItemStatusFailed:
			summary.Failed++
			d.metrics.IncItemFailed(queueName)
			logger.Warn("item failed permanently",
				zap.String("itemId", item.ID),
				zap.Int("attempts", item.Attempts),
				zap.String("error", result.Error),
			)
		default:
			summary.Failed++
			d.metrics.IncAttemptFailed(queueName, provider.IsTransient(dispatchErr))
			logger.Info("item attempt failed, will retry on next run",
				zap.String("itemId", item.ID),
				zap.Int("attempts", item.Attempts),
				zap.String("error", result.Error),
			)
		}

		d.publish(ctx, logger, item, result.Error)
	}

	return summary, results, nil
}

func (d *dispatcher) publish(ctx context.Context, logger *zap.Logger, item *domain.DispatchItem, errText string) {
	if d.events == nil {
		return
	}

	event := queue.DispatchEvent{
		ItemID:     item.ID,
		Queue:      d.store.Queue(),
		Status:     item.Status,
		Attempts:   item.Attempts,
		Error:      errText,
		OccurredAt: d.now().UTC(),
	}
	if item.CampaignID != nil {
		event.CampaignID = *item.CampaignID
	}

	if err := d.events.PublishEvent(ctx, event); err != nil {
		logger.Warn("failed to publish dispatch event",
			zap.String("itemId", item.ID),
			zap.Error(err),
		)
	}
}

func safeDispatch(ctx context.Context, dispatch DispatchFunc, item domain.DispatchItem) (extra map[string]string, err error) {
	defer func() {
		if r := recover(); r != nil {
			extra = nil
			err = fmt.Errorf("dispatch panicked: %v", r)
		}
	}()

	return dispatch(ctx, item)
}

func sleepWithContext(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
