package messagepipeline

import (
	"context"
	"fmt"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/rs/zerolog"
)

// SimplePublisher defines a direct, non-batching publisher.
type SimplePublisher interface {
	// Publish sends payload to the exchange with the given routing key. The call
	// returns once the broker client has accepted the frame.
	Publish(ctx context.Context, routingKey string, payload []byte, attributes map[string]string) error
	// Stop releases publisher resources.
	Stop(ctx context.Context) error
}

// Publishing attribute keys understood by RabbitPublisher.
const (
	PublishAttrMessageID = "message_id"
)

// RabbitPublisher publishes persistent messages to a single exchange.
type RabbitPublisher struct {
	conn     *RabbitConnection
	exchange string
	logger   zerolog.Logger
	now      func() time.Time
}

// NewRabbitPublisher creates a publisher for the given exchange. The exchange is
// expected to be declared by the connection's setup hook.
func NewRabbitPublisher(conn *RabbitConnection, exchange string, logger zerolog.Logger) (*RabbitPublisher, error) {
	if conn == nil {
		return nil, fmt.Errorf("rabbitmq connection cannot be nil")
	}
	if exchange == "" {
		return nil, fmt.Errorf("exchange name cannot be empty")
	}
	return &RabbitPublisher{
		conn:     conn,
		exchange: exchange,
		logger:   logger.With().Str("component", "RabbitPublisher").Str("exchange", exchange).Logger(),
		now:      time.Now,
	}, nil
}

// Publish sends a single persistent message. It fails immediately when the connection
// is down so that the caller can apply its own backoff.
func (p *RabbitPublisher) Publish(ctx context.Context, routingKey string, payload []byte, attributes map[string]string) error {
	ch, err := p.conn.Channel()
	if err != nil {
		return fmt.Errorf("cannot publish to %s/%s: %w", p.exchange, routingKey, err)
	}

	headers := amqp.Table{}
	for k, v := range attributes {
		if k == PublishAttrMessageID {
			continue
		}
		headers[k] = v
	}

	msg := amqp.Publishing{
		ContentType:  "application/json",
		DeliveryMode: amqp.Persistent,
		MessageId:    attributes[PublishAttrMessageID],
		Timestamp:    p.now(),
		Headers:      headers,
		Body:         payload,
	}
	if err := ch.PublishWithContext(ctx, p.exchange, routingKey, false, false, msg); err != nil {
		return fmt.Errorf("failed to publish to %s/%s: %w", p.exchange, routingKey, err)
	}
	p.logger.Debug().Str("routing_key", routingKey).Str("message_id", msg.MessageId).Int("bytes", len(payload)).Msg("Message published.")
	return nil
}

// Stop is a no-op: publishes are unbuffered and the connection is owned by the caller.
func (p *RabbitPublisher) Stop(_ context.Context) error {
	return nil
}
