package messagepipeline_test

import (
	"context"
	"errors"
	"strconv"
	"sync"

	"github.com/illmade-knight/go-imagepipeline/pkg/messagepipeline"
	amqp "github.com/rabbitmq/amqp091-go"
)

// ====================================================================================
// Test doubles for the consumer stage and for the AMQP client surface.
// ====================================================================================

// --- MockMessageConsumer ---

// MockMessageConsumer is a mock implementation of the MessageConsumer interface.
type MockMessageConsumer struct {
	msgChan    chan messagepipeline.Message
	startCount int
	stopCount  int
	mu         sync.Mutex
	closeOnce  sync.Once
}

func NewMockMessageConsumer(bufferSize int) *MockMessageConsumer {
	return &MockMessageConsumer{
		msgChan: make(chan messagepipeline.Message, bufferSize),
	}
}
func (m *MockMessageConsumer) Push(msg messagepipeline.Message) {
	m.msgChan <- msg
}
func (m *MockMessageConsumer) Close() {
	m.closeOnce.Do(func() {
		close(m.msgChan)
	})
}
func (m *MockMessageConsumer) Messages() <-chan messagepipeline.Message {
	return m.msgChan
}
func (m *MockMessageConsumer) Start(_ context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.startCount++
	return nil
}
func (m *MockMessageConsumer) Stop(_ context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.stopCount++
	m.Close()
	return nil
}
func (m *MockMessageConsumer) Done() <-chan struct{} {
	done := make(chan struct{})
	close(done)
	return done
}
func (m *MockMessageConsumer) GetStartCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.startCount
}
func (m *MockMessageConsumer) GetStopCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.stopCount
}

// --- fakeChannel ---

type declaredQueue struct {
	Name    string
	Durable bool
}

type boundQueue struct {
	Queue, Key, Exchange string
}

type publishedMessage struct {
	Exchange, Key string
	Msg           amqp.Publishing
}

// fakeChannel is an in-memory AMQPChannel. Its queue honors the prefetch limit set
// through Qos the way a broker does: with prefetch 0 it pushes deliveries without
// waiting for acknowledgments.
type fakeChannel struct {
	mu   sync.Mutex
	cond *sync.Cond

	exchanges  []string
	queues     []declaredQueue
	bindings   []boundQueue
	published  []publishedMessage
	publishErr error
	qosErr     error
	qosCalls   []int

	prefetch       int
	pending        [][]byte
	nextTag        uint64
	outstanding    int
	maxOutstanding int
	delivered      int
	acks           int
	nacks          int

	consuming bool
	closed    bool
	notify    []chan *amqp.Error
	closeErr  error
}

func newFakeChannel() *fakeChannel {
	ch := &fakeChannel{}
	ch.cond = sync.NewCond(&ch.mu)
	return ch
}

func (c *fakeChannel) ExchangeDeclare(name, _ string, _, _, _, _ bool, _ amqp.Table) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.exchanges = append(c.exchanges, name)
	return nil
}

func (c *fakeChannel) QueueDeclare(name string, durable, _, _, _ bool, _ amqp.Table) (amqp.Queue, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.queues = append(c.queues, declaredQueue{Name: name, Durable: durable})
	return amqp.Queue{Name: name}, nil
}

func (c *fakeChannel) QueueBind(name, key, exchange string, _ bool, _ amqp.Table) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.bindings = append(c.bindings, boundQueue{Queue: name, Key: key, Exchange: exchange})
	return nil
}

func (c *fakeChannel) Qos(prefetchCount, _ int, _ bool) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.qosCalls = append(c.qosCalls, prefetchCount)
	if c.qosErr != nil {
		return c.qosErr
	}
	c.prefetch = prefetchCount
	return nil
}

func (c *fakeChannel) Consume(queue, _ string, autoAck, _, _, _ bool, _ amqp.Table) (<-chan amqp.Delivery, error) {
	if autoAck {
		return nil, errors.New("fake channel only supports manual ack")
	}
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil, amqp.ErrClosed
	}
	c.consuming = true
	c.mu.Unlock()

	out := make(chan amqp.Delivery)
	go c.dispatch(queue, out)
	return out, nil
}

// dispatch pushes pending bodies while the prefetch window allows it.
func (c *fakeChannel) dispatch(queue string, out chan<- amqp.Delivery) {
	defer close(out)
	for {
		c.mu.Lock()
		for !c.closed && (len(c.pending) == 0 || (c.prefetch > 0 && c.outstanding >= c.prefetch)) {
			c.cond.Wait()
		}
		if c.closed {
			c.mu.Unlock()
			return
		}
		body := c.pending[0]
		c.pending = c.pending[1:]
		c.nextTag++
		c.outstanding++
		c.delivered++
		if c.outstanding > c.maxOutstanding {
			c.maxOutstanding = c.outstanding
		}
		d := amqp.Delivery{
			Acknowledger: c,
			DeliveryTag:  c.nextTag,
			MessageId:    "msg-" + strconv.FormatUint(c.nextTag, 10),
			RoutingKey:   queue,
			Body:         body,
		}
		c.mu.Unlock()
		out <- d
	}
}

// enqueue makes a body available to the consumer, as if published to its queue.
func (c *fakeChannel) enqueue(body []byte) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.pending = append(c.pending, body)
	c.cond.Broadcast()
}

func (c *fakeChannel) settle(ack bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.outstanding--
	if ack {
		c.acks++
	} else {
		c.nacks++
	}
	c.cond.Broadcast()
}

func (c *fakeChannel) Ack(_ uint64, _ bool) error {
	c.settle(true)
	return nil
}

func (c *fakeChannel) Nack(_ uint64, _ bool, _ bool) error {
	c.settle(false)
	return nil
}

func (c *fakeChannel) Reject(_ uint64, _ bool) error {
	c.settle(false)
	return nil
}

func (c *fakeChannel) PublishWithContext(_ context.Context, exchange, key string, _, _ bool, msg amqp.Publishing) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.publishErr != nil {
		return c.publishErr
	}
	c.published = append(c.published, publishedMessage{Exchange: exchange, Key: key, Msg: msg})
	return nil
}

func (c *fakeChannel) NotifyClose(receiver chan *amqp.Error) chan *amqp.Error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.notify = append(c.notify, receiver)
	return receiver
}

// shutdown closes the channel, optionally reporting a broker-side reason.
func (c *fakeChannel) shutdown(reason *amqp.Error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return
	}
	c.closed = true
	for _, n := range c.notify {
		if reason != nil {
			n <- reason
		}
		close(n)
	}
	c.notify = nil
	c.cond.Broadcast()
}

func (c *fakeChannel) Close() error {
	c.shutdown(nil)
	return c.closeErr
}

func (c *fakeChannel) stats() (delivered, acks, nacks, maxOutstanding int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.delivered, c.acks, c.nacks, c.maxOutstanding
}

func (c *fakeChannel) isConsuming() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.consuming && !c.closed
}

// --- fakeConnection ---

type fakeConnection struct {
	mu       sync.Mutex
	ch       *fakeChannel
	notify   []chan *amqp.Error
	closed   bool
	closeErr error
}

func newFakeConnection() *fakeConnection {
	return &fakeConnection{ch: newFakeChannel()}
}

func (c *fakeConnection) Channel() (messagepipeline.AMQPChannel, error) {
	return c.ch, nil
}

func (c *fakeConnection) NotifyClose(receiver chan *amqp.Error) chan *amqp.Error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.notify = append(c.notify, receiver)
	return receiver
}

func (c *fakeConnection) shutdown(reason *amqp.Error) {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.closed = true
	for _, n := range c.notify {
		if reason != nil {
			n <- reason
		}
		close(n)
	}
	c.notify = nil
	c.mu.Unlock()
	c.ch.shutdown(reason)
}

// drop simulates the broker going away.
func (c *fakeConnection) drop() {
	c.shutdown(&amqp.Error{Code: amqp.ConnectionForced, Reason: "CONNECTION_FORCED - broker shutdown"})
}

func (c *fakeConnection) Close() error {
	c.shutdown(nil)
	return c.closeErr
}

func (c *fakeConnection) isClosed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed
}

// fakeDialer hands out a fresh fakeConnection per dial, failing the first failures dials.
type fakeDialer struct {
	mu       sync.Mutex
	failures int
	dials    int
	conns    []*fakeConnection
}

func (d *fakeDialer) Dial(_ *messagepipeline.RabbitMQConfig) (messagepipeline.AMQPConnection, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.dials++
	if d.failures > 0 {
		d.failures--
		return nil, errors.New("dial tcp: connection refused")
	}
	conn := newFakeConnection()
	d.conns = append(d.conns, conn)
	return conn, nil
}

func (d *fakeDialer) dialCount() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.dials
}

func (d *fakeDialer) latest() *fakeConnection {
	d.mu.Lock()
	defer d.mu.Unlock()
	if len(d.conns) == 0 {
		return nil
	}
	return d.conns[len(d.conns)-1]
}
