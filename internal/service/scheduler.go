package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/kursadbilgin/estate-dispatch/internal/domain"
	"github.com/robfig/cron/v3"
	"go.uber.org/zap"
)

// Runner is one drainable queue.
type Runner interface {
	Queue() domain.Queue
	Run(ctx context.Context) (*BatchReport, error)
}

type scheduledRun struct {
	spec   string
	runner Runner
}

// Scheduler triggers processor runs on cron specs. Overlapping ticks of the
// same job are skipped.
type Scheduler struct {
	parser cron.Parser
	logger *zap.Logger

	mu   sync.Mutex
	runs []scheduledRun
}

func NewScheduler(logger *zap.Logger) *Scheduler {
	if logger == nil {
		logger = zap.NewNop()
	}

	return &Scheduler{
		parser: cron.NewParser(cron.SecondOptional | cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor),
		logger: logger,
	}
}

// Register adds runner on spec, e.g. "@every 1m" or "*/5 * * * *". An empty
// spec leaves the queue to on-demand invocation only.
func (s *Scheduler) Register(spec string, runner Runner) error {
	spec = strings.TrimSpace(spec)
	if spec == "" {
		return nil
	}
	if runner == nil {
		return fmt.Errorf("runner is required")
	}
	if _, err := s.parser.Parse(spec); err != nil {
		return fmt.Errorf("%w: invalid schedule %q for %s queue: %v", domain.ErrValidation, spec, runner.Queue(), err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.runs = append(s.runs, scheduledRun{spec: spec, runner: runner})
	return nil
}

// Start runs the registered schedules until ctx is done and waits for
// in-flight runs before returning.
func (s *Scheduler) Start(ctx context.Context) error {
	if ctx == nil {
		ctx = context.Background()
	}

	c := cron.New(
		cron.WithParser(s.parser),
		cron.WithChain(cron.SkipIfStillRunning(cron.DiscardLogger)),
	)

	s.mu.Lock()
	runs := append([]scheduledRun(nil), s.runs...)
	s.mu.Unlock()

	for _, r := range runs {
		runner := r.runner
		if _, err := c.AddFunc(r.spec, func() { s.runOnce(ctx, runner) }); err != nil {
			return fmt.Errorf("failed to schedule %s queue: %w", runner.Queue(), err)
		}
		s.logger.Info("queue scheduled",
			zap.String("queue", runner.Queue().String()),
			zap.String("schedule", r.spec),
		)
	}

	c.Start()
	<-ctx.Done()
	<-c.Stop().Done()

	return nil
}

func (s *Scheduler) runOnce(ctx context.Context, runner Runner) {
	if ctx.Err() != nil {
		return
	}

	report, err := runner.Run(ctx)
	switch {
	case errors.Is(err, domain.ErrQueueBusy):
		s.logger.Info("scheduled run skipped, queue busy",
			zap.String("queue", runner.Queue().String()),
		)
	case err != nil:
		s.logger.Error("scheduled run failed",
			zap.String("queue", runner.Queue().String()),
			zap.Error(err),
		)
	case report != nil && report.Summary.Total > 0:
		s.logger.Info("scheduled run finished",
			zap.String("queue", runner.Queue().String()),
			zap.Int("total", report.Summary.Total),
			zap.Int("successful", report.Summary.Successful),
			zap.Int("failed", report.Summary.Failed),
		)
	}
}
