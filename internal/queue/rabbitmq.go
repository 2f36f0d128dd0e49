package queue

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
	"go.uber.org/zap"
)

const (
	dlxExchangeName  = "dispatch.dlx"
	connectTimeout   = 15 * time.Second
	reconnectBackoff = time.Second
	maxBackoff       = 30 * time.Second

	// Unconsumed events expire after a day; the queue is capped.
	eventTTL       = 24 * time.Hour
	eventMaxLength = 100000
)

type queueSpec struct {
	name string
	args amqp.Table
	// dlq, when set, is declared and bound to the dead-letter exchange.
	dlq string
}

func topology() []queueSpec {
	return []queueSpec{
		{
			name: TriggerQueue,
			dlq:  DLQName(TriggerQueue),
			args: amqp.Table{
				"x-dead-letter-exchange":    dlxExchangeName,
				"x-dead-letter-routing-key": TriggerQueue,
			},
		},
		{
			name: EventQueue,
			args: amqp.Table{
				"x-message-ttl": int64(eventTTL / time.Millisecond),
				"x-max-length":  int64(eventMaxLength),
				"x-overflow":    "drop-head",
			},
		},
	}
}

// RabbitMQ owns one broker connection, redialing it on demand. Topology is
// declared once per connection.
type RabbitMQ struct {
	url    string
	logger *zap.Logger

	mu       sync.RWMutex
	dialMu   sync.Mutex
	conn     *amqp.Connection
	declared bool
}

func NewRabbitMQ(url string, logger *zap.Logger) (*RabbitMQ, error) {
	if strings.TrimSpace(url) == "" {
		return nil, fmt.Errorf("rabbitmq url is required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	r := &RabbitMQ{url: url, logger: logger}

	ctx, cancel := context.WithTimeout(context.Background(), connectTimeout)
	defer cancel()

	if _, err := r.connection(ctx); err != nil {
		return nil, err
	}

	return r, nil
}

func (r *RabbitMQ) Close() error {
	r.mu.Lock()
	conn := r.conn
	r.conn = nil
	r.declared = false
	r.mu.Unlock()

	if conn == nil || conn.IsClosed() {
		return nil
	}

	return conn.Close()
}

// channel opens a channel on a live connection, redialing once if the
// current connection refuses.
func (r *RabbitMQ) channel(ctx context.Context) (*amqp.Channel, error) {
	conn, err := r.connection(ctx)
	if err != nil {
		return nil, err
	}

	ch, err := conn.Channel()
	if err != nil {
		r.logger.Warn("rabbitmq channel open failed, redialing", zap.Error(err))
		r.drop(conn)

		conn, err = r.connection(ctx)
		if err != nil {
			return nil, err
		}
		ch, err = conn.Channel()
		if err != nil {
			return nil, fmt.Errorf("failed to create rabbitmq channel after reconnect: %w", err)
		}
	}

	if err := r.ensureTopology(conn, ch); err != nil {
		_ = ch.Close()
		return nil, err
	}

	return ch, nil
}

func (r *RabbitMQ) connection(ctx context.Context) (*amqp.Connection, error) {
	r.mu.RLock()
	conn := r.conn
	r.mu.RUnlock()
	if conn != nil && !conn.IsClosed() {
		return conn, nil
	}

	r.dialMu.Lock()
	defer r.dialMu.Unlock()

	r.mu.RLock()
	conn = r.conn
	r.mu.RUnlock()
	if conn != nil && !conn.IsClosed() {
		return conn, nil
	}

	wait := reconnectBackoff
	for {
		newConn, err := amqp.Dial(r.url)
		if err == nil {
			r.mu.Lock()
			r.conn = newConn
			r.declared = false
			r.mu.Unlock()
			return newConn, nil
		}

		r.logger.Warn("rabbitmq dial failed",
			zap.Error(err),
			zap.Duration("backoff", wait),
		)

		select {
		case <-ctx.Done():
			return nil, fmt.Errorf("rabbitmq reconnect canceled: %w", ctx.Err())
		case <-time.After(wait):
		}

		wait *= 2
		if wait > maxBackoff {
			wait = maxBackoff
		}
	}
}

func (r *RabbitMQ) drop(conn *amqp.Connection) {
	r.mu.Lock()
	if r.conn == conn {
		r.conn = nil
		r.declared = false
	}
	r.mu.Unlock()

	if conn != nil && !conn.IsClosed() {
		_ = conn.Close()
	}
}

func (r *RabbitMQ) ensureTopology(conn *amqp.Connection, ch *amqp.Channel) error {
	r.mu.RLock()
	done := r.declared && r.conn == conn
	r.mu.RUnlock()
	if done {
		return nil
	}

	if err := declareTopology(ch); err != nil {
		return err
	}

	r.mu.Lock()
	if r.conn == conn {
		r.declared = true
	}
	r.mu.Unlock()
	return nil
}

func declareTopology(ch *amqp.Channel) error {
	if err := ch.ExchangeDeclare(dlxExchangeName, "direct", true, false, false, false, nil); err != nil {
		return fmt.Errorf("failed to declare dlx exchange: %w", err)
	}

	for _, q := range topology() {
		if q.dlq != "" {
			if _, err := ch.QueueDeclare(q.dlq, true, false, false, false, nil); err != nil {
				return fmt.Errorf("failed to declare dlq %q: %w", q.dlq, err)
			}
			if err := ch.QueueBind(q.dlq, q.name, dlxExchangeName, false, nil); err != nil {
				return fmt.Errorf("failed to bind dlq %q: %w", q.dlq, err)
			}
		}

		if _, err := ch.QueueDeclare(q.name, true, false, false, false, q.args); err != nil {
			return fmt.Errorf("failed to declare queue %q: %w", q.name, err)
		}
	}

	return nil
}
