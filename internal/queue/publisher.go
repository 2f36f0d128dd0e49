package queue

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
)

var (
	_ EventPublisher   = (*RabbitMQPublisher)(nil)
	_ TriggerPublisher = (*RabbitMQPublisher)(nil)
)

type RabbitMQPublisher struct {
	client *RabbitMQ
}

func NewRabbitMQPublisher(client *RabbitMQ) *RabbitMQPublisher {
	return &RabbitMQPublisher{client: client}
}

func (p *RabbitMQPublisher) PublishEvent(ctx context.Context, event DispatchEvent) error {
	if err := event.Validate(); err != nil {
		return fmt.Errorf("invalid dispatch event: %w", err)
	}
	if event.OccurredAt.IsZero() {
		event.OccurredAt = time.Now().UTC()
	}
	return p.publishJSON(ctx, EventQueue, event.ItemID, event)
}

// PublishTrigger enqueues a processing trigger.
func (p *RabbitMQPublisher) PublishTrigger(ctx context.Context, msg TriggerMessage) error {
	if err := msg.Validate(); err != nil {
		return fmt.Errorf("invalid trigger message: %w", err)
	}
	return p.publishJSON(ctx, TriggerQueue, msg.RunID, msg)
}

func (p *RabbitMQPublisher) publishJSON(ctx context.Context, queue string, messageID string, body any) error {
	if p == nil || p.client == nil {
		return fmt.Errorf("publisher is not initialized")
	}

	payload, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("failed to marshal message for %q: %w", queue, err)
	}

	ch, err := p.client.channel(ctx)
	if err != nil {
		return err
	}
	defer ch.Close()

	publishing := amqp.Publishing{
		ContentType:  "application/json",
		DeliveryMode: amqp.Persistent,
		Timestamp:    time.Now().UTC(),
		MessageId:    messageID,
		Body:         payload,
	}

	if err := ch.PublishWithContext(ctx, "", queue, false, false, publishing); err != nil {
		return fmt.Errorf("failed to publish message to queue %q: %w", queue, err)
	}

	return nil
}

func (p *RabbitMQPublisher) Close() error {
	if p == nil || p.client == nil {
		return nil
	}
	return p.client.Close()
}
