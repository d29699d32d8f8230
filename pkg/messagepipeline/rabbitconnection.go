package messagepipeline

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/rs/zerolog"
)

// ErrConnectionClosed is returned once a RabbitConnection has been closed by its owner.
var ErrConnectionClosed = errors.New("rabbitmq connection closed")

// ErrNotConnected is returned when no channel is currently available, for example
// while a reconnect is in progress.
var ErrNotConnected = errors.New("rabbitmq connection not available")

// AMQPChannel is the subset of *amqp.Channel used by this package.
type AMQPChannel interface {
	ExchangeDeclare(name, kind string, durable, autoDelete, internal, noWait bool, args amqp.Table) error
	QueueDeclare(name string, durable, autoDelete, exclusive, noWait bool, args amqp.Table) (amqp.Queue, error)
	QueueBind(name, key, exchange string, noWait bool, args amqp.Table) error
	Qos(prefetchCount, prefetchSize int, global bool) error
	Consume(queue, consumer string, autoAck, exclusive, noLocal, noWait bool, args amqp.Table) (<-chan amqp.Delivery, error)
	PublishWithContext(ctx context.Context, exchange, key string, mandatory, immediate bool, msg amqp.Publishing) error
	NotifyClose(receiver chan *amqp.Error) chan *amqp.Error
	Close() error
}

// AMQPConnection is the subset of *amqp.Connection used by this package.
type AMQPConnection interface {
	Channel() (AMQPChannel, error)
	NotifyClose(receiver chan *amqp.Error) chan *amqp.Error
	Close() error
}

// Dialer opens a new broker connection.
type Dialer func(cfg *RabbitMQConfig) (AMQPConnection, error)

// SetupFunc runs on every freshly opened channel, before it is handed out.
type SetupFunc func(ch AMQPChannel) error

type amqpConnection struct {
	*amqp.Connection
}

func (c amqpConnection) Channel() (AMQPChannel, error) {
	ch, err := c.Connection.Channel()
	if err != nil {
		return nil, err
	}
	return ch, nil
}

// DialAMQP is the production Dialer backed by amqp091-go.
func DialAMQP(cfg *RabbitMQConfig) (AMQPConnection, error) {
	props := amqp.NewConnectionProperties()
	if cfg.ConnectionName != "" {
		props.SetClientConnectionName(cfg.ConnectionName)
	}
	conn, err := amqp.DialConfig(cfg.URL(), amqp.Config{
		Heartbeat:  cfg.Heartbeat,
		Locale:     "en_US",
		Properties: props,
	})
	if err != nil {
		return nil, err
	}
	return amqpConnection{Connection: conn}, nil
}

// RabbitConnection owns one broker connection and one channel on it. When the broker
// drops either, it reconnects at a fixed interval until it succeeds or is closed.
type RabbitConnection struct {
	cfg    *RabbitMQConfig
	dial   Dialer
	setup  SetupFunc
	logger zerolog.Logger

	mu     sync.RWMutex
	conn   AMQPConnection
	ch     AMQPChannel
	ready  chan struct{} // closed while ch != nil or after Close
	closed bool

	stopChan  chan struct{}
	closeOnce sync.Once
	wg        sync.WaitGroup
}

// NewRabbitConnection creates a connection manager. It does not dial until Connect is called.
// setup may be nil.
func NewRabbitConnection(cfg *RabbitMQConfig, dial Dialer, setup SetupFunc, logger zerolog.Logger) (*RabbitConnection, error) {
	if cfg == nil {
		return nil, fmt.Errorf("rabbitmq config cannot be nil")
	}
	if dial == nil {
		dial = DialAMQP
	}
	return &RabbitConnection{
		cfg:      cfg,
		dial:     dial,
		setup:    setup,
		logger:   logger.With().Str("component", "RabbitConnection").Str("broker", cfg.Redacted()).Logger(),
		ready:    make(chan struct{}),
		stopChan: make(chan struct{}),
	}, nil
}

// Connect dials the broker, retrying at the reconnect interval up to ConnectAttempts
// times, and starts watching the connection for failures.
func (c *RabbitConnection) Connect(ctx context.Context) error {
	attempts := c.cfg.ConnectAttempts
	if attempts <= 0 {
		attempts = 1
	}
	var lastErr error
	for i := 1; i <= attempts; i++ {
		conn, ch, err := c.open()
		if err == nil {
			c.install(conn, ch)
			c.logger.Info().Msg("Connected to RabbitMQ.")
			return nil
		}
		lastErr = err
		c.logger.Warn().Err(err).Int("attempt", i).Int("max_attempts", attempts).Msg("Failed to connect to RabbitMQ.")
		if i == attempts {
			break
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-c.stopChan:
			return ErrConnectionClosed
		case <-time.After(c.cfg.ReconnectInterval):
		}
	}
	return fmt.Errorf("failed to connect to rabbitmq at %s: %w", c.cfg.Redacted(), lastErr)
}

// open dials, opens a channel and runs the setup hook.
func (c *RabbitConnection) open() (AMQPConnection, AMQPChannel, error) {
	conn, err := c.dial(c.cfg)
	if err != nil {
		return nil, nil, fmt.Errorf("dial failed: %w", err)
	}
	ch, err := conn.Channel()
	if err != nil {
		_ = conn.Close()
		return nil, nil, fmt.Errorf("failed to open channel: %w", err)
	}
	if c.setup != nil {
		if err := c.setup(ch); err != nil {
			_ = ch.Close()
			_ = conn.Close()
			return nil, nil, fmt.Errorf("channel setup failed: %w", err)
		}
	}
	return conn, ch, nil
}

// install publishes a live channel and starts the watcher for it.
func (c *RabbitConnection) install(conn AMQPConnection, ch AMQPChannel) {
	connClosed := conn.NotifyClose(make(chan *amqp.Error, 1))
	chClosed := ch.NotifyClose(make(chan *amqp.Error, 1))

	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		_ = ch.Close()
		_ = conn.Close()
		return
	}
	c.conn, c.ch = conn, ch
	close(c.ready)
	c.mu.Unlock()

	c.wg.Add(1)
	go c.watch(connClosed, chClosed)
}

// watch waits for the connection or channel to go away and then reconnects.
func (c *RabbitConnection) watch(connClosed, chClosed <-chan *amqp.Error) {
	defer c.wg.Done()
	var reason *amqp.Error
	select {
	case <-c.stopChan:
		return
	case reason = <-connClosed:
	case reason = <-chClosed:
	}

	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	oldConn := c.conn
	c.conn, c.ch = nil, nil
	c.ready = make(chan struct{})
	c.mu.Unlock()
	if oldConn != nil {
		_ = oldConn.Close()
	}

	if reason != nil {
		c.logger.Warn().Str("reason", reason.Reason).Int("code", reason.Code).Msg("RabbitMQ connection lost, reconnecting.")
	} else {
		c.logger.Warn().Msg("RabbitMQ channel closed, reconnecting.")
	}

	for {
		select {
		case <-c.stopChan:
			return
		case <-time.After(c.cfg.ReconnectInterval):
		}
		conn, ch, err := c.open()
		if err != nil {
			c.logger.Warn().Err(err).Dur("retry_in", c.cfg.ReconnectInterval).Msg("Reconnect attempt failed.")
			continue
		}
		c.install(conn, ch)
		c.logger.Info().Msg("Reconnected to RabbitMQ.")
		return
	}
}

// Channel returns the current channel without blocking.
func (c *RabbitConnection) Channel() (AMQPChannel, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.closed {
		return nil, ErrConnectionClosed
	}
	if c.ch == nil {
		return nil, ErrNotConnected
	}
	return c.ch, nil
}

// WaitChannel blocks until a channel is available, the context ends or the
// connection is closed.
func (c *RabbitConnection) WaitChannel(ctx context.Context) (AMQPChannel, error) {
	for {
		c.mu.RLock()
		ch, ready, closed := c.ch, c.ready, c.closed
		c.mu.RUnlock()
		if closed {
			return nil, ErrConnectionClosed
		}
		if ch != nil {
			return ch, nil
		}
		select {
		case <-ready:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
}

// IsConnected reports whether a channel is currently available.
func (c *RabbitConnection) IsConnected() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return !c.closed && c.ch != nil
}

// Close stops reconnection and closes the channel and connection. Errors during
// teardown are logged at debug level and otherwise ignored.
func (c *RabbitConnection) Close() {
	c.closeOnce.Do(func() {
		c.mu.Lock()
		c.closed = true
		conn, ch := c.conn, c.ch
		if ch == nil {
			close(c.ready)
		}
		c.conn, c.ch = nil, nil
		c.mu.Unlock()
		close(c.stopChan)

		if ch != nil {
			if err := ch.Close(); err != nil {
				c.logger.Debug().Err(err).Msg("Ignoring error while closing channel.")
			}
		}
		if conn != nil {
			if err := conn.Close(); err != nil {
				c.logger.Debug().Err(err).Msg("Ignoring error while closing connection.")
			}
		}
		c.wg.Wait()
		c.logger.Info().Msg("RabbitMQ connection closed.")
	})
}
