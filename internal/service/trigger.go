package service

import (
	"context"
	"fmt"

	"github.com/kursadbilgin/estate-dispatch/internal/domain"
	"github.com/kursadbilgin/estate-dispatch/internal/observability"
	"github.com/kursadbilgin/estate-dispatch/internal/queue"
	"go.uber.org/zap"
)

// CampaignExecutor runs one campaign send.
type CampaignExecutor interface {
	Execute(ctx context.Context, id string) (*CampaignReport, error)
}

// TriggerRouter maps broker trigger messages to processor runs.
type TriggerRouter struct {
	runners   map[domain.Queue]Runner
	campaigns CampaignExecutor
	logger    *zap.Logger
}

func NewTriggerRouter(campaigns CampaignExecutor, logger *zap.Logger, runners ...Runner) *TriggerRouter {
	if logger == nil {
		logger = zap.NewNop()
	}

	byQueue := make(map[domain.Queue]Runner, len(runners))
	for _, r := range runners {
		if r != nil {
			byQueue[r.Queue()] = r
		}
	}

	return &TriggerRouter{
		runners:   byQueue,
		campaigns: campaigns,
		logger:    logger,
	}
}

// Handle is a queue.TriggerHandler.
func (r *TriggerRouter) Handle(ctx context.Context, msg queue.TriggerMessage) error {
	if msg.RunID != "" {
		ctx = observability.WithRunID(ctx, msg.RunID)
	}
	logger := observability.WithContextLogger(r.logger, ctx)

	if msg.Queue == domain.QueueCampaign {
		if r.campaigns == nil {
			return fmt.Errorf("%w: campaign triggers are not enabled", domain.ErrValidation)
		}
		report, err := r.campaigns.Execute(ctx, msg.CampaignID)
		if err != nil {
			return err
		}
		logger.Info("triggered campaign run finished",
			zap.String("campaignId", msg.CampaignID),
			zap.String("status", report.Status.String()),
			zap.Int("attempted", report.Summary.Total),
		)
		return nil
	}

	runner, ok := r.runners[msg.Queue]
	if !ok {
		return fmt.Errorf("%w: no processor for queue %q", domain.ErrValidation, msg.Queue)
	}

	report, err := runner.Run(ctx)
	if err != nil {
		return err
	}
	logger.Info("triggered run finished",
		zap.String("queue", msg.Queue.String()),
		zap.Int("total", report.Summary.Total),
		zap.Int("successful", report.Summary.Successful),
		zap.Int("failed", report.Summary.Failed),
	)
	return nil
}
