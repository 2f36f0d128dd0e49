package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/kursadbilgin/estate-dispatch/internal/domain"
	"github.com/kursadbilgin/estate-dispatch/internal/observability"
	"github.com/kursadbilgin/estate-dispatch/internal/queue"
	"github.com/kursadbilgin/estate-dispatch/internal/ratelimit"
	"github.com/kursadbilgin/estate-dispatch/internal/repository"
	"go.uber.org/zap"
)

const (
	DefaultSMSBatchSize     = 20
	DefaultReceiptBatchSize = 10
)

// ProcessorConfig holds the knobs of one queue processor. Zero values fall
// back to defaults; a negative InterItemDelay disables pacing.
type ProcessorConfig struct {
	BatchSize      int
	MaxAttempts    int
	InterItemDelay time.Duration
}

// BatchReport is the result of one processor invocation.
type BatchReport struct {
	Queue   domain.Queue `json:"queue"`
	RunID   string       `json:"runId"`
	Summary Summary      `json:"summary"`
	Results []ItemResult `json:"results"`
}

// BatchProcessor drains up to BatchSize pending items of one queue per Run.
type BatchProcessor struct {
	dispatcher
	dispatch  DispatchFunc
	batchSize int
	locker    QueueLocker
	logger    *zap.Logger
	newRunID  func() string
}

func NewBatchProcessor(
	store repository.ItemStore,
	dispatch DispatchFunc,
	cfg ProcessorConfig,
	logger *zap.Logger,
) (*BatchProcessor, error) {
	if store == nil {
		return nil, fmt.Errorf("item store is required")
	}
	if dispatch == nil {
		return nil, fmt.Errorf("dispatch func is required")
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = defaultBatchSize(store.Queue())
	}
	if cfg.InterItemDelay == 0 {
		cfg.InterItemDelay = defaultInterItemDelay
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	return &BatchProcessor{
		dispatcher: newDispatcher(store, cfg.MaxAttempts, cfg.InterItemDelay),
		dispatch:   dispatch,
		batchSize:  cfg.BatchSize,
		logger:     logger,
		newRunID:   uuid.NewString,
	}, nil
}

func (p *BatchProcessor) Queue() domain.Queue {
	return p.store.Queue()
}

func (p *BatchProcessor) SetMetrics(metrics *observability.Metrics) {
	if p == nil {
		return
	}
	p.metrics = metrics
}

// SetLocker enables the single-drainer lease. Without it the processor
// assumes it is the only invoker for its queue.
func (p *BatchProcessor) SetLocker(locker QueueLocker) {
	if p == nil {
		return
	}
	p.locker = locker
}

// SetRateLimiter makes every dispatch wait on limiter under key, in addition
// to the fixed inter-item delay.
func (p *BatchProcessor) SetRateLimiter(limiter ratelimit.RateLimiter, key string) {
	if p == nil {
		return
	}
	p.limiter = limiter
	p.limiterKey = key
}

func (p *BatchProcessor) SetEventPublisher(events queue.EventPublisher) {
	if p == nil {
		return
	}
	p.events = events
}

// Run processes one batch. Caller cancellation does not interrupt a started
// batch. An error means the run itself broke down; the partial report is
// returned alongside it.
func (p *BatchProcessor) Run(ctx context.Context) (*BatchReport, error) {
	if ctx == nil {
		ctx = context.Background()
	}

	queueName := p.store.Queue()
	runID := p.newRunID()
	ctx = observability.WithRunID(context.WithoutCancel(ctx), runID)
	logger := observability.WithContextLogger(p.logger, ctx).With(zap.String("queue", queueName.String()))

	if p.locker != nil {
		release, err := p.locker.Acquire(ctx, queueName.String())
		if err != nil {
			if errors.Is(err, domain.ErrQueueBusy) {
				p.metrics.IncBatchRun(queueName.String(), "busy")
				logger.Info("queue is busy, skipping run")
				return nil, err
			}
			p.metrics.IncBatchRun(queueName.String(), "error")
			return nil, fmt.Errorf("failed to acquire queue lease: %w", err)
		}
		defer func() {
			if err := release(ctx); err != nil {
				logger.Warn("failed to release queue lease", zap.Error(err))
			}
		}()
	}

	p.metrics.IncBatchInFlight(queueName.String())
	defer p.metrics.DecBatchInFlight(queueName.String())

	report := &BatchReport{Queue: queueName, RunID: runID, Results: []ItemResult{}}

	items, err := p.store.FetchPending(ctx, p.batchSize)
	if err != nil {
		p.metrics.IncBatchRun(queueName.String(), "error")
		logger.Error("failed to fetch pending items", zap.Error(err))
		return report, fmt.Errorf("failed to fetch pending items: %w", err)
	}
	if len(items) == 0 {
		p.metrics.IncBatchRun(queueName.String(), "empty")
		logger.Debug("no pending items")
		return report, nil
	}

	logger.Info("batch started", zap.Int("items", len(items)))

	summary, results, err := p.run(ctx, logger, items, p.dispatch)
	report.Summary = summary
	report.Results = results
	if err != nil {
		p.metrics.IncBatchRun(queueName.String(), "error")
		logger.Error("batch aborted",
			zap.Int("processed", summary.Total),
			zap.Error(err),
		)
		return report, err
	}

	p.metrics.IncBatchRun(queueName.String(), "completed")
	logger.Info("batch processed",
		zap.Int("total", summary.Total),
		zap.Int("successful", summary.Successful),
		zap.Int("failed", summary.Failed),
	)

	return report, nil
}

func defaultBatchSize(q domain.Queue) int {
	if q == domain.QueueReceipt {
		return DefaultReceiptBatchSize
	}
	return DefaultSMSBatchSize
}
