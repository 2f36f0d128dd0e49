package service

import (
	"context"
	"fmt"

	"github.com/kursadbilgin/estate-dispatch/internal/domain"
	"github.com/kursadbilgin/estate-dispatch/internal/provider"
	"github.com/kursadbilgin/estate-dispatch/internal/repository"
	"go.uber.org/zap"
)

const receiptReadyMessage = "Your payment receipt is ready."

// NewReceiptProcessor builds the processor that drains receipt_queue. Items
// target a payment id. When an item carries notify_phone and notifications is
// set, a follow-up SMS with the receipt link is queued once the receipt item
// is stored as sent.
func NewReceiptProcessor(
	store repository.ItemStore,
	generator provider.ReceiptGenerator,
	notifications repository.ItemStore,
	cfg ProcessorConfig,
	logger *zap.Logger,
) (*BatchProcessor, error) {
	if generator == nil {
		return nil, fmt.Errorf("receipt generator is required")
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = DefaultReceiptBatchSize
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	p, err := NewBatchProcessor(store, generateReceipt(generator), cfg, logger)
	if err != nil {
		return nil, err
	}
	if notifications != nil {
		p.onSent = notifyReceiptReady(notifications)
	}
	return p, nil
}

func generateReceipt(generator provider.ReceiptGenerator) DispatchFunc {
	return func(ctx context.Context, item domain.DispatchItem) (map[string]string, error) {
		result, err := generator.Generate(ctx, item.Target)
		if err != nil {
			return nil, err
		}
		if result == nil {
			return nil, fmt.Errorf("receipt generator returned no result")
		}

		return map[string]string{domain.MetaReceiptURL: result.ReceiptURL}, nil
	}
}

// notifyReceiptReady queues the follow-up SMS for a receipt item that has
// been persisted as sent. Enqueue failures are logged and do not affect the
// receipt item.
func notifyReceiptReady(notifications repository.ItemStore) sentHook {
	return func(ctx context.Context, logger *zap.Logger, item *domain.DispatchItem) {
		phone := item.Meta(domain.MetaNotifyPhone)
		if phone == "" {
			return
		}

		followUp := &domain.DispatchItem{
			Target:  phone,
			Payload: receiptReadyMessage,
			Metadata: map[string]string{
				domain.MetaReceiptURL: item.Meta(domain.MetaReceiptURL),
			},
		}
		if senderID := item.Meta(domain.MetaSenderID); senderID != "" {
			followUp.Metadata[domain.MetaSenderID] = senderID
		}

		if err := notifications.Enqueue(ctx, []*domain.DispatchItem{followUp}); err != nil {
			logger.Warn("failed to queue receipt notification",
				zap.String("itemId", item.ID),
				zap.String("paymentId", item.Target),
				zap.Error(err),
			)
		}
	}
}
