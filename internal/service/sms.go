package service

import (
	"context"
	"fmt"

	"github.com/kursadbilgin/estate-dispatch/internal/domain"
	"github.com/kursadbilgin/estate-dispatch/internal/provider"
	"github.com/kursadbilgin/estate-dispatch/internal/repository"
	"go.uber.org/zap"
)

// NewSMSProcessor builds the processor that drains sms_queue through the gateway.
func NewSMSProcessor(
	store repository.ItemStore,
	gateway provider.SMSGateway,
	signature string,
	cfg ProcessorConfig,
	logger *zap.Logger,
) (*BatchProcessor, error) {
	if gateway == nil {
		return nil, fmt.Errorf("sms gateway is required")
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = DefaultSMSBatchSize
	}

	return NewBatchProcessor(store, sendSMS(gateway, signature, ""), cfg, logger)
}

// sendSMS returns the dispatch func for SMS items. A non-empty message
// overrides the item payload, which is how campaign recipients are sent.
func sendSMS(gateway provider.SMSGateway, signature string, message string) DispatchFunc {
	return func(ctx context.Context, item domain.DispatchItem) (map[string]string, error) {
		body := item.Payload
		if message != "" {
			body = message
		}

		result, err := gateway.Send(ctx, provider.SMSMessage{
			To:       item.Target,
			Body:     provider.ComposeSMSBody(body, item.Meta(domain.MetaReceiptURL), signature),
			SenderID: item.Meta(domain.MetaSenderID),
		})
		if err != nil {
			return nil, err
		}
		if result == nil {
			return nil, nil
		}
		return map[string]string{domain.MetaGatewayMessageID: result.MessageID}, nil
	}
}
