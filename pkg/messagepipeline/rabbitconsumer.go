package messagepipeline

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"sync"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/rs/zerolog"
)

// RabbitConsumerConfig configures a RabbitConsumer.
type RabbitConsumerConfig struct {
	QueueName   string
	ConsumerTag string
	// PrefetchCount is the broker-side limit of unacknowledged deliveries for this
	// consumer. A value of 1 keeps exactly one delivery in flight.
	PrefetchCount int
	// ResubscribeInterval is the pause before retrying a failed subscription.
	ResubscribeInterval time.Duration
}

// LoadDefaultRabbitConsumerConfig returns the configuration used by the classification
// workers: one outstanding delivery at a time.
func LoadDefaultRabbitConsumerConfig(queueName string) *RabbitConsumerConfig {
	return &RabbitConsumerConfig{
		QueueName:           queueName,
		PrefetchCount:       1,
		ResubscribeInterval: 5 * time.Second,
	}
}

// RabbitConsumer implements MessageConsumer for a durable RabbitMQ queue with manual
// acknowledgment. It resubscribes whenever the underlying connection is re-established.
type RabbitConsumer struct {
	cfg        *RabbitConsumerConfig
	conn       *RabbitConnection
	logger     zerolog.Logger
	outputChan chan Message
	doneChan   chan struct{}
	stopOnce   sync.Once
	cancel     context.CancelFunc
}

// NewRabbitConsumer creates a new consumer. It does not subscribe until Start is called.
func NewRabbitConsumer(cfg *RabbitConsumerConfig, conn *RabbitConnection, logger zerolog.Logger) (*RabbitConsumer, error) {
	if cfg == nil || cfg.QueueName == "" {
		return nil, fmt.Errorf("rabbitmq consumer requires a queue name")
	}
	if conn == nil {
		return nil, fmt.Errorf("rabbitmq connection cannot be nil")
	}
	if cfg.PrefetchCount <= 0 {
		cfg.PrefetchCount = 1
	}
	if cfg.ResubscribeInterval <= 0 {
		cfg.ResubscribeInterval = 5 * time.Second
	}
	return &RabbitConsumer{
		cfg:        cfg,
		conn:       conn,
		logger:     logger.With().Str("component", "RabbitConsumer").Str("queue", cfg.QueueName).Logger(),
		outputChan: make(chan Message, cfg.PrefetchCount),
		doneChan:   make(chan struct{}),
	}, nil
}

// Messages returns the channel deliveries are forwarded to.
func (c *RabbitConsumer) Messages() <-chan Message { return c.outputChan }

// Done returns a channel that is closed once the consume loop has exited.
func (c *RabbitConsumer) Done() <-chan struct{} { return c.doneChan }

// Start launches the consume loop in the background.
func (c *RabbitConsumer) Start(ctx context.Context) error {
	c.logger.Info().Int("prefetch", c.cfg.PrefetchCount).Msg("Starting RabbitMQ message consumption...")
	consumeCtx, cancel := context.WithCancel(ctx)
	c.cancel = cancel
	go func() {
		defer close(c.doneChan)
		defer close(c.outputChan)
		defer c.logger.Info().Msg("RabbitMQ consume loop stopped.")
		c.run(consumeCtx)
	}()
	return nil
}

// run subscribes, forwards deliveries until the subscription ends, and resubscribes.
func (c *RabbitConsumer) run(ctx context.Context) {
	for {
		deliveries, err := c.subscribe(ctx)
		if err != nil {
			if ctx.Err() != nil || errors.Is(err, ErrConnectionClosed) {
				return
			}
			c.logger.Warn().Err(err).Dur("retry_in", c.cfg.ResubscribeInterval).Msg("Failed to subscribe to queue.")
			select {
			case <-ctx.Done():
				return
			case <-time.After(c.cfg.ResubscribeInterval):
			}
			continue
		}
		c.logger.Info().Msg("Subscribed to queue.")

		if !c.forward(ctx, deliveries) {
			return
		}
		c.logger.Warn().Msg("Delivery channel closed, waiting for reconnection.")
	}
}

// subscribe sets the prefetch limit, verifies the queue and starts a consumer on it.
func (c *RabbitConsumer) subscribe(ctx context.Context) (<-chan amqp.Delivery, error) {
	ch, err := c.conn.WaitChannel(ctx)
	if err != nil {
		return nil, err
	}
	if err := ch.Qos(c.cfg.PrefetchCount, 0, false); err != nil {
		return nil, fmt.Errorf("failed to set prefetch: %w", err)
	}
	if err := DeclareQueue(ch, c.cfg.QueueName); err != nil {
		return nil, err
	}
	deliveries, err := ch.Consume(c.cfg.QueueName, c.cfg.ConsumerTag, false, false, false, false, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to consume from %s: %w", c.cfg.QueueName, err)
	}
	return deliveries, nil
}

// forward hands deliveries to the pipeline. It returns false when the consumer is stopping.
func (c *RabbitConsumer) forward(ctx context.Context, deliveries <-chan amqp.Delivery) bool {
	for {
		select {
		case <-ctx.Done():
			return false
		case d, ok := <-deliveries:
			if !ok {
				return ctx.Err() == nil
			}
			msg := c.toMessage(d)
			select {
			case c.outputChan <- msg:
			case <-ctx.Done():
				msg.Nack()
				c.logger.Warn().Str("msg_id", msg.ID).Msg("Consumer stopping, Nacking message.")
				return false
			}
		}
	}
}

func (c *RabbitConsumer) toMessage(d amqp.Delivery) Message {
	id := d.MessageId
	if id == "" {
		id = strconv.FormatUint(d.DeliveryTag, 10)
	}
	payloadCopy := make([]byte, len(d.Body))
	copy(payloadCopy, d.Body)

	logger := c.logger.With().Str("msg_id", id).Uint64("delivery_tag", d.DeliveryTag).Logger()
	return Message{
		MessageData: MessageData{
			ID:          id,
			Payload:     payloadCopy,
			PublishTime: d.Timestamp,
		},
		Attributes: map[string]string{
			AttrRoutingKey:  d.RoutingKey,
			AttrExchange:    d.Exchange,
			AttrRedelivered: strconv.FormatBool(d.Redelivered),
		},
		Ack: func() {
			if err := d.Ack(false); err != nil {
				logger.Error().Err(err).Msg("Failed to ack delivery; the broker will redeliver it.")
			}
		},
		Nack: func() {
			if err := d.Nack(false, true); err != nil {
				logger.Error().Err(err).Msg("Failed to nack delivery.")
			}
		},
	}
}

// Stop cancels the consume loop and waits for it to exit or for ctx to expire.
// Deliveries already handed to the pipeline can still be acknowledged afterwards,
// as long as the connection stays open.
func (c *RabbitConsumer) Stop(ctx context.Context) error {
	var err error
	c.stopOnce.Do(func() {
		c.logger.Info().Msg("Stopping RabbitMQ consumer...")
		if c.cancel == nil {
			close(c.outputChan)
			close(c.doneChan)
			return
		}
		c.cancel()
		select {
		case <-c.doneChan:
			c.logger.Info().Msg("RabbitMQ consume loop confirmed stopped.")
		case <-ctx.Done():
			c.logger.Error().Msg("Timeout waiting for RabbitMQ consume loop to stop.")
			err = ctx.Err()
		}
	})
	return err
}
