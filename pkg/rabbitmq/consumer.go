package rabbitmq

import (
	"context"
	"fmt"
	"log/slog"

	amqp "github.com/rabbitmq/amqp091-go"
)

// Handler processes one delivery. Returning false re-queues the message.
type Handler func(ctx context.Context, body []byte) bool

type Consumer struct {
	conn   *amqp.Connection
	ch     *amqp.Channel
	logger *slog.Logger
}

func NewConsumer(amqpURL string, logger *slog.Logger) (*Consumer, error) {
	cleanURL, err := SanitizeAMQPURL(amqpURL)
	if err != nil {
		return nil, err
	}

	conn, err := amqp.Dial(cleanURL)
	if err != nil {
		return nil, err
	}

	ch, err := conn.Channel()
	if err != nil {
		conn.Close()
		return nil, err
	}

	return &Consumer{conn: conn, ch: ch, logger: logger}, nil
}

// ConsumeWithBindings binds queueName to exchange for every routing key in
// bindings and dispatches deliveries until ctx is cancelled or the channel closes.
// It blocks; the returned error is nil on a clean shutdown.
func (c *Consumer) ConsumeWithBindings(ctx context.Context, exchange, queueName string, bindings map[string]Handler) error {
	if len(bindings) == 0 {
		return fmt.Errorf("no bindings provided")
	}

	if err := declareExchange(c.ch, exchange); err != nil {
		return err
	}

	q, err := c.ch.QueueDeclare(queueName, true, false, false, false, nil)
	if err != nil {
		return err
	}

	handlers := make(map[string]Handler)
	for routingKey, handler := range bindings {
		if handler == nil {
			continue
		}
		handlers[routingKey] = handler
		if err := c.ch.QueueBind(q.Name, routingKey, exchange, false, nil); err != nil {
			return err
		}
	}

	if err := c.ch.Qos(10, 0, false); err != nil {
		return err
	}

	msgs, err := c.ch.Consume(q.Name, "", false, false, false, false, nil)
	if err != nil {
		return err
	}

	for {
		select {
		case <-ctx.Done():
			return nil
		case d, ok := <-msgs:
			if !ok {
				return fmt.Errorf("delivery channel closed")
			}
			dispatch(ctx, c.logger, handlers, d)
		}
	}
}

// acknowledger is the subset of amqp.Delivery used by dispatch.
type acknowledger interface {
	Ack(multiple bool) error
	Nack(multiple, requeue bool) error
}

func dispatch(ctx context.Context, logger *slog.Logger, handlers map[string]Handler, d amqp.Delivery) {
	handle(ctx, logger, handlers, d.RoutingKey, d.Body, d)
}

func handle(ctx context.Context, logger *slog.Logger, handlers map[string]Handler, routingKey string, body []byte, ack acknowledger) {
	handler, ok := handlers[routingKey]
	if !ok {
		logger.Warn("no handler for routing key; acknowledging to drop", "routing_key", routingKey)
		_ = ack.Ack(false)
		return
	}
	if handler(ctx, body) {
		_ = ack.Ack(false)
		return
	}
	logger.Warn("handler failed; re-queuing", "routing_key", routingKey)
	_ = ack.Nack(false, true)
}

func (c *Consumer) Close() {
	if c.ch != nil {
		c.ch.Close()
	}
	if c.conn != nil {
		c.conn.Close()
	}
}
