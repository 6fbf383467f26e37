package fanout

import (
	"context"
	"errors"
	"fmt"
	"sync"

	amqp "github.com/rabbitmq/amqp091-go"
	"go.uber.org/zap"
)

const DefaultQueue = "chatsync_messages"

// AMQPSink publishes envelopes to a durable queue on the default exchange.
type AMQPSink struct {
	mu      sync.Mutex
	conn    *amqp.Connection
	channel *amqp.Channel
	queue   string
	logger  *zap.Logger
}

// DialAMQP connects to the broker and declares the queue.
func DialAMQP(url, queue string, logger *zap.Logger) (*AMQPSink, error) {
	if url == "" {
		return nil, errors.New("amqp url cannot be empty")
	}
	if queue == "" {
		queue = DefaultQueue
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	conn, err := amqp.Dial(url)
	if err != nil {
		return nil, fmt.Errorf("dial amqp: %w", err)
	}
	ch, err := conn.Channel()
	if err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("open amqp channel: %w", err)
	}
	if _, err := ch.QueueDeclare(queue, true, false, false, false, nil); err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("declare queue %s: %w", queue, err)
	}
	logger.Info("amqp sink connected", zap.String("queue", queue))
	return &AMQPSink{conn: conn, channel: ch, queue: queue, logger: logger}, nil
}

func (s *AMQPSink) Publish(ctx context.Context, body []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	err := s.channel.PublishWithContext(ctx, "", s.queue, false, false, amqp.Publishing{
		ContentType:  "application/json",
		DeliveryMode: amqp.Persistent,
		Body:         body,
	})
	if err != nil {
		return fmt.Errorf("publish to %s: %w", s.queue, err)
	}
	s.logger.Debug("published to amqp", zap.String("queue", s.queue))
	return nil
}

func (s *AMQPSink) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.channel.Close(); err != nil && !errors.Is(err, amqp.ErrClosed) {
		_ = s.conn.Close()
		return err
	}
	return s.conn.Close()
}
