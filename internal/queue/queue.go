package queue

import (
	"context"
	"fmt"
)

const (
	// TriggerQueue carries requests to run a processor or a campaign.
	TriggerQueue = "dispatch.triggers"
	// EventQueue receives one event per dispatch attempt outcome.
	EventQueue = "dispatch.events"
)

// EventPublisher publishes dispatch outcome events.
type EventPublisher interface {
	PublishEvent(ctx context.Context, event DispatchEvent) error
}

// TriggerPublisher hands processing requests to whichever instance consumes
// the trigger queue.
type TriggerPublisher interface {
	PublishTrigger(ctx context.Context, msg TriggerMessage) error
}

// TriggerHandler handles a consumed trigger message.
type TriggerHandler func(ctx context.Context, msg TriggerMessage) error

// TriggerConsumer consumes processing triggers.
type TriggerConsumer interface {
	ConsumeTriggers(ctx context.Context, handler TriggerHandler) error
	Close() error
}

// DLQName returns the dead-letter queue for a queue, e.g. dlq.dispatch.triggers.
func DLQName(queue string) string {
	return fmt.Sprintf("dlq.%s", queue)
}
