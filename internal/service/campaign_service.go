package service

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/kursadbilgin/estate-dispatch/internal/domain"
	"github.com/kursadbilgin/estate-dispatch/internal/observability"
	"github.com/kursadbilgin/estate-dispatch/internal/provider"
	"github.com/kursadbilgin/estate-dispatch/internal/queue"
	"github.com/kursadbilgin/estate-dispatch/internal/ratelimit"
	"github.com/kursadbilgin/estate-dispatch/internal/repository"
	"go.uber.org/zap"
)

const maxCampaignRecipients = 10000

type CreateCampaignInput struct {
	Name       string
	Message    string
	SenderID   string
	Recipients []string
}

// CampaignDetails is a campaign plus the live status of its recipients.
type CampaignDetails struct {
	Campaign        *domain.Campaign
	RecipientCounts map[domain.ItemStatus]int
}

type CampaignReport struct {
	CampaignID string                `json:"campaignId"`
	Status     domain.CampaignStatus `json:"status"`
	Summary    Summary               `json:"summary"`
	Results    []ItemResult          `json:"results"`
}

// CampaignService creates bulk SMS campaigns and sends them inline.
type CampaignService struct {
	dispatcher
	campaigns repository.CampaignRepository
	gateway   provider.SMSGateway
	signature string
	locker    QueueLocker
	logger    *zap.Logger
}

func NewCampaignService(
	campaigns repository.CampaignRepository,
	recipients repository.ItemStore,
	gateway provider.SMSGateway,
	signature string,
	cfg ProcessorConfig,
	logger *zap.Logger,
) (*CampaignService, error) {
	if campaigns == nil {
		return nil, fmt.Errorf("campaign repository is required")
	}
	if recipients == nil {
		return nil, fmt.Errorf("recipient store is required")
	}
	if gateway == nil {
		return nil, fmt.Errorf("sms gateway is required")
	}
	if cfg.InterItemDelay == 0 {
		cfg.InterItemDelay = defaultInterItemDelay
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	return &CampaignService{
		dispatcher: newDispatcher(recipients, cfg.MaxAttempts, cfg.InterItemDelay),
		campaigns:  campaigns,
		gateway:    gateway,
		signature:  signature,
		logger:     logger,
	}, nil
}

func (s *CampaignService) SetMetrics(metrics *observability.Metrics) {
	if s == nil {
		return
	}
	s.metrics = metrics
}

func (s *CampaignService) SetLocker(locker QueueLocker) {
	if s == nil {
		return
	}
	s.locker = locker
}

func (s *CampaignService) SetRateLimiter(limiter ratelimit.RateLimiter, key string) {
	if s == nil {
		return
	}
	s.limiter = limiter
	s.limiterKey = key
}

func (s *CampaignService) SetEventPublisher(events queue.EventPublisher) {
	if s == nil {
		return
	}
	s.events = events
}

// Create stores a draft campaign with one pending recipient item per unique number.
func (s *CampaignService) Create(ctx context.Context, in CreateCampaignInput) (*domain.Campaign, error) {
	if ctx == nil {
		ctx = context.Background()
	}

	recipients := normalizeRecipients(in.Recipients)
	if len(recipients) == 0 {
		return nil, fmt.Errorf("%w: at least one recipient is required", domain.ErrValidation)
	}
	if len(recipients) > maxCampaignRecipients {
		return nil, fmt.Errorf("%w: campaign exceeds %d recipients", domain.ErrValidation, maxCampaignRecipients)
	}

	id, err := uuid.NewV7()
	if err != nil {
		return nil, fmt.Errorf("failed to generate campaign id: %w", err)
	}

	campaign := &domain.Campaign{
		ID:              id.String(),
		Name:            strings.TrimSpace(in.Name),
		Message:         strings.TrimSpace(in.Message),
		SenderID:        strings.TrimSpace(in.SenderID),
		TotalRecipients: len(recipients),
		Status:          domain.CampaignStatusDraft,
	}
	if err := campaign.Validate(); err != nil {
		return nil, err
	}

	items := make([]*domain.DispatchItem, 0, len(recipients))
	for _, phone := range recipients {
		item := &domain.DispatchItem{
			Target:  phone,
			Payload: campaign.Message,
		}
		if campaign.SenderID != "" {
			item.Metadata = map[string]string{domain.MetaSenderID: campaign.SenderID}
		}
		items = append(items, item)
	}

	if err := s.campaigns.CreateWithRecipients(ctx, campaign, items); err != nil {
		return nil, fmt.Errorf("failed to create campaign: %w", err)
	}

	s.logger.Info("campaign created",
		zap.String("campaignId", campaign.ID),
		zap.Int("recipients", campaign.TotalRecipients),
	)

	return campaign, nil
}

func (s *CampaignService) Get(ctx context.Context, id string) (*CampaignDetails, error) {
	if ctx == nil {
		ctx = context.Background()
	}

	campaign, err := s.campaigns.GetByID(ctx, strings.TrimSpace(id))
	if err != nil {
		return nil, err
	}

	counts, err := s.store.CountByCampaign(ctx, campaign.ID)
	if err != nil {
		return nil, fmt.Errorf("failed to count campaign recipients: %w", err)
	}

	details := &CampaignDetails{
		Campaign: campaign,
		RecipientCounts: map[domain.ItemStatus]int{
			domain.ItemStatusPending: 0,
			domain.ItemStatusSent:    0,
			domain.ItemStatusFailed:  0,
		},
	}
	for _, c := range counts {
		details.RecipientCounts[c.Status] = c.Count
	}

	return details, nil
}

// Execute sends to the pending recipients of the campaign until each one is
// sent or has used its attempt budget, then completes the campaign with
// counters taken from the recipient rows. Individual send failures do not fail
// the campaign; a broken run marks it failed and returns the error.
func (s *CampaignService) Execute(ctx context.Context, id string) (*CampaignReport, error) {
	if ctx == nil {
		ctx = context.Background()
	}

	id = strings.TrimSpace(id)
	if id == "" {
		return nil, fmt.Errorf("%w: campaign id is required", domain.ErrValidation)
	}

	ctx = observability.WithRunID(context.WithoutCancel(ctx), uuid.NewString())
	logger := observability.WithContextLogger(s.logger, ctx).With(zap.String("campaignId", id))

	if s.locker != nil {
		release, err := s.locker.Acquire(ctx, "campaign:"+id)
		if err != nil {
			if errors.Is(err, domain.ErrQueueBusy) {
				return nil, err
			}
			return nil, fmt.Errorf("failed to acquire campaign lease: %w", err)
		}
		defer func() {
			if err := release(ctx); err != nil {
				logger.Warn("failed to release campaign lease", zap.Error(err))
			}
		}()
	}

	campaign, err := s.campaigns.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if err := campaign.CanExecute(); err != nil {
		return nil, err
	}

	if err := s.campaigns.UpdateStatus(ctx, campaign.ID, domain.CampaignStatusSending); err != nil {
		return nil, fmt.Errorf("failed to mark campaign as sending: %w", err)
	}
	campaign.Status = domain.CampaignStatusSending

	report := &CampaignReport{CampaignID: campaign.ID, Status: campaign.Status, Results: []ItemResult{}}

	runErr := s.drain(ctx, logger, campaign, report)
	if runErr == nil {
		runErr = s.complete(ctx, campaign)
	}
	if runErr != nil {
		s.markFailed(ctx, logger, campaign, runErr)
		report.Status = campaign.Status
		return report, runErr
	}

	s.metrics.IncCampaignRun(campaign.Status.String())
	report.Status = campaign.Status
	logger.Info("campaign completed",
		zap.Int("successfulSends", campaign.SuccessfulSends),
		zap.Int("failedSends", campaign.FailedSends),
		zap.Int("attempted", report.Summary.Total),
	)

	return report, nil
}

// drain makes passes over the pending recipients. Every pass costs each
// remaining recipient one attempt, so maxAttempts passes leave none pending.
func (s *CampaignService) drain(ctx context.Context, logger *zap.Logger, campaign *domain.Campaign, report *CampaignReport) error {
	for pass := 1; pass <= s.maxAttempts; pass++ {
		recipients, err := s.store.ListPendingByCampaign(ctx, campaign.ID)
		if err != nil {
			return fmt.Errorf("failed to load campaign recipients: %w", err)
		}
		if len(recipients) == 0 {
			return nil
		}

		if pass > 1 && s.delay > 0 {
			if err := s.sleep(ctx, s.delay); err != nil {
				return fmt.Errorf("pacing interrupted: %w", err)
			}
		}
		logger.Info("campaign pass started", zap.Int("pass", pass), zap.Int("pending", len(recipients)))

		summary, results, err := s.run(ctx, logger, recipients, sendSMS(s.gateway, s.signature, campaign.Message))
		report.Summary.Total += summary.Total
		report.Summary.Successful += summary.Successful
		report.Summary.Failed += summary.Failed
		report.Results = append(report.Results, results...)
		if err != nil {
			return err
		}
	}
	return nil
}

func (s *CampaignService) complete(ctx context.Context, campaign *domain.Campaign) error {
	sent, failed, pending, err := s.tally(ctx, campaign.ID)
	if err != nil {
		return err
	}
	if pending > 0 {
		return fmt.Errorf("%d campaign recipients still pending after %d passes", pending, s.maxAttempts)
	}
	if err := campaign.Complete(sent, failed, s.now()); err != nil {
		return err
	}
	if err := s.campaigns.SaveResult(ctx, campaign); err != nil {
		return fmt.Errorf("failed to save campaign result: %w", err)
	}
	return nil
}

func (s *CampaignService) tally(ctx context.Context, campaignID string) (sent, failed, pending int, err error) {
	counts, err := s.store.CountByCampaign(ctx, campaignID)
	if err != nil {
		return 0, 0, 0, fmt.Errorf("failed to count campaign recipients: %w", err)
	}
	for _, c := range counts {
		switch c.Status {
		case domain.ItemStatusSent:
			sent = c.Count
		case domain.ItemStatusFailed:
			failed = c.Count
		case domain.ItemStatusPending:
			pending = c.Count
		}
	}
	return sent, failed, pending, nil
}

// markFailed records a broken run with whatever the recipient rows say was
// settled so far. A later Execute picks up the rest.
func (s *CampaignService) markFailed(ctx context.Context, logger *zap.Logger, campaign *domain.Campaign, cause error) {
	if sent, failed, _, err := s.tally(ctx, campaign.ID); err == nil {
		campaign.RecordProgress(sent, failed)
	} else {
		logger.Warn("campaign counters not refreshed", zap.Error(err))
	}
	campaign.Status = domain.CampaignStatusFailed
	campaign.SentAt = nil

	s.metrics.IncCampaignRun(campaign.Status.String())
	logger.Error("campaign run failed", zap.Error(cause))

	if err := s.campaigns.SaveResult(ctx, campaign); err != nil {
		logger.Error("failed to mark campaign as failed", zap.Error(err))
	}
}

func normalizeRecipients(raw []string) []string {
	seen := make(map[string]struct{}, len(raw))
	out := make([]string, 0, len(raw))
	for _, r := range raw {
		phone := strings.TrimSpace(r)
		if phone == "" {
			continue
		}
		if _, ok := seen[phone]; ok {
			continue
		}
		seen[phone] = struct{}{}
		out = append(out, phone)
	}
	return out
}
