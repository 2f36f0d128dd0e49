package service

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/kursadbilgin/estate-dispatch/internal/domain"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

type fakeRunner struct {
	queue domain.Queue
	runFn func(ctx context.Context) (*BatchReport, error)
	calls atomic.Int32
}

func (f *fakeRunner) Queue() domain.Queue { return f.queue }

func (f *fakeRunner) Run(ctx context.Context) (*BatchReport, error) {
	f.calls.Add(1)
	if f.runFn != nil {
		return f.runFn(ctx)
	}
	return &BatchReport{Queue: f.queue}, nil
}

func TestSchedulerRegister(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		spec    string
		wantErr bool
		wantLen int
	}{
		{name: "every descriptor", spec: "@every 1m", wantLen: 1},
		{name: "five fields", spec: "*/5 * * * *", wantLen: 1},
		{name: "six fields with seconds", spec: "*/30 * * * * *", wantLen: 1},
		{name: "empty spec is skipped", spec: "  ", wantLen: 0},
		{name: "invalid", spec: "every minute", wantErr: true},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			s := NewScheduler(zap.NewNop())
			err := s.Register(tt.spec, &fakeRunner{queue: domain.QueueSMS})
			if tt.wantErr {
				if !errors.Is(err, domain.ErrValidation) {
					t.Fatalf("Register() error = %v, want ErrValidation", err)
				}
				return
			}
			if err != nil {
				t.Fatalf("Register() error = %v", err)
			}
			if len(s.runs) != tt.wantLen {
				t.Fatalf("registered runs = %d, want %d", len(s.runs), tt.wantLen)
			}
		})
	}
}

func TestSchedulerRunOnceLogging(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name      string
		runFn     func(ctx context.Context) (*BatchReport, error)
		wantMsg   string
		wantLevel zapcore.Level
	}{
		{
			name: "busy",
			runFn: func(ctx context.Context) (*BatchReport, error) {
				return nil, domain.ErrQueueBusy
			},
			wantMsg:   "scheduled run skipped, queue busy",
			wantLevel: zapcore.InfoLevel,
		},
		{
			name: "failure",
			runFn: func(ctx context.Context) (*BatchReport, error) {
				return nil, errors.New("db down")
			},
			wantMsg:   "scheduled run failed",
			wantLevel: zapcore.ErrorLevel,
		},
		{
			name: "processed",
			runFn: func(ctx context.Context) (*BatchReport, error) {
				return &BatchReport{Summary: Summary{Total: 2, Successful: 2}}, nil
			},
			wantMsg:   "scheduled run finished",
			wantLevel: zapcore.InfoLevel,
		},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			core, recorded := observer.New(zapcore.InfoLevel)
			s := NewScheduler(zap.New(core))

			s.runOnce(context.Background(), &fakeRunner{queue: domain.QueueReceipt, runFn: tt.runFn})

			entries := recorded.FilterMessage(tt.wantMsg).All()
			if len(entries) != 1 {
				t.Fatalf("log entries for %q = %d, want 1", tt.wantMsg, len(entries))
			}
			if entries[0].Level != tt.wantLevel {
				t.Fatalf("level = %s, want %s", entries[0].Level, tt.wantLevel)
			}
			if entries[0].ContextMap()["queue"] != "receipt" {
				t.Fatalf("queue field = %v", entries[0].ContextMap()["queue"])
			}
		})
	}
}

func TestSchedulerStartRunsRegisteredJobs(t *testing.T) {
	t.Parallel()

	runner := &fakeRunner{queue: domain.QueueSMS}
	s := NewScheduler(zap.NewNop())
	if err := s.Register("@every 1s", runner); err != nil {
		t.Fatalf("Register() error = %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 2500*time.Millisecond)
	defer cancel()

	if err := s.Start(ctx); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	if runner.calls.Load() == 0 {
		t.Fatal("registered runner was never invoked")
	}
}
