package service

import (
	"context"
	"fmt"
	"strings"

	"github.com/kursadbilgin/estate-dispatch/internal/domain"
	"github.com/kursadbilgin/estate-dispatch/internal/repository"
	"go.uber.org/zap"
)

const maxEnqueueBatch = 1000

type SMSRequest struct {
	To         string
	Message    string
	SenderID   string
	ReceiptURL string
}

type ReceiptRequest struct {
	PaymentID   string
	NotifyPhone string
	SenderID    string
}

// QueueService accepts new work into the SMS and receipt queues.
type QueueService struct {
	sms      repository.ItemStore
	receipts repository.ItemStore
	logger   *zap.Logger
}

func NewQueueService(sms, receipts repository.ItemStore, logger *zap.Logger) (*QueueService, error) {
	if sms == nil || receipts == nil {
		return nil, fmt.Errorf("sms and receipt stores are required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	return &QueueService{sms: sms, receipts: receipts, logger: logger}, nil
}

func (s *QueueService) EnqueueSMS(ctx context.Context, requests []SMSRequest) ([]domain.DispatchItem, error) {
	if err := checkEnqueueSize(len(requests)); err != nil {
		return nil, err
	}

	items := make([]*domain.DispatchItem, 0, len(requests))
	for _, r := range requests {
		items = append(items, &domain.DispatchItem{
			Target:   r.To,
			Payload:  r.Message,
			Metadata: compactMetadata(domain.MetaSenderID, r.SenderID, domain.MetaReceiptURL, r.ReceiptURL),
		})
	}

	return s.enqueue(ctx, s.sms, items)
}

func (s *QueueService) EnqueueReceipts(ctx context.Context, requests []ReceiptRequest) ([]domain.DispatchItem, error) {
	if err := checkEnqueueSize(len(requests)); err != nil {
		return nil, err
	}

	items := make([]*domain.DispatchItem, 0, len(requests))
	for _, r := range requests {
		items = append(items, &domain.DispatchItem{
			Target:   r.PaymentID,
			Metadata: compactMetadata(domain.MetaNotifyPhone, r.NotifyPhone, domain.MetaSenderID, r.SenderID),
		})
	}

	return s.enqueue(ctx, s.receipts, items)
}

func (s *QueueService) enqueue(
	ctx context.Context,
	store repository.ItemStore,
	items []*domain.DispatchItem,
) ([]domain.DispatchItem, error) {
	if ctx == nil {
		ctx = context.Background()
	}

	if err := store.Enqueue(ctx, items); err != nil {
		return nil, err
	}

	created := make([]domain.DispatchItem, 0, len(items))
	for _, item := range items {
		created = append(created, *item)
	}

	s.logger.Info("items enqueued",
		zap.String("queue", store.Queue().String()),
		zap.Int("count", len(created)),
	)

	return created, nil
}

func checkEnqueueSize(n int) error {
	if n == 0 {
		return fmt.Errorf("%w: at least one item is required", domain.ErrValidation)
	}
	if n > maxEnqueueBatch {
		return fmt.Errorf("%w: at most %d items per request", domain.ErrValidation, maxEnqueueBatch)
	}
	return nil
}

// compactMetadata builds a metadata map from key/value pairs, skipping blank values.
func compactMetadata(kv ...string) map[string]string {
	metadata := make(map[string]string)
	for i := 0; i+1 < len(kv); i += 2 {
		if v := strings.TrimSpace(kv[i+1]); v != "" {
			metadata[kv[i]] = v
		}
	}
	return metadata
}
