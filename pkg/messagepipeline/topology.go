package messagepipeline

import (
	"fmt"

	amqp "github.com/rabbitmq/amqp091-go"
)

// Topology names of the image analysis pipeline.
const (
	ImageExchange = "image_analysis_exchange"
	FaceQueue     = "face_queue"
	TeamQueue     = "team_queue"
)

// Binding ties one routing key to exactly one queue.
type Binding struct {
	RoutingKey string
	Queue      string
}

// Topology is the static broker layout: one exchange and a fixed set of 1:1 bindings
// to durable queues. It is declared at connect time and never changed afterwards.
type Topology struct {
	Exchange     string
	ExchangeKind string
	Bindings     []Binding
}

// ImageTopology returns the layout shared by the dispatcher and the workers.
func ImageTopology() Topology {
	return Topology{
		Exchange:     ImageExchange,
		ExchangeKind: amqp.ExchangeTopic,
		Bindings: []Binding{
			{RoutingKey: "face", Queue: FaceQueue},
			{RoutingKey: "team", Queue: TeamQueue},
		},
	}
}

// Validate checks that routing keys and queues pair up one to one.
func (t Topology) Validate() error {
	if t.Exchange == "" {
		return fmt.Errorf("topology exchange name cannot be empty")
	}
	keys := make(map[string]struct{}, len(t.Bindings))
	queues := make(map[string]struct{}, len(t.Bindings))
	for _, b := range t.Bindings {
		if b.RoutingKey == "" || b.Queue == "" {
			return fmt.Errorf("binding %+v must name both a routing key and a queue", b)
		}
		if _, dup := keys[b.RoutingKey]; dup {
			return fmt.Errorf("routing key %q bound more than once", b.RoutingKey)
		}
		if _, dup := queues[b.Queue]; dup {
			return fmt.Errorf("queue %q bound more than once", b.Queue)
		}
		keys[b.RoutingKey] = struct{}{}
		queues[b.Queue] = struct{}{}
	}
	return nil
}

// QueueFor returns the queue bound to a routing key.
func (t Topology) QueueFor(routingKey string) (string, bool) {
	for _, b := range t.Bindings {
		if b.RoutingKey == routingKey {
			return b.Queue, true
		}
	}
	return "", false
}

// Declare idempotently declares the exchange, every queue and every binding.
func (t Topology) Declare(ch AMQPChannel) error {
	if err := t.Validate(); err != nil {
		return err
	}
	if err := ch.ExchangeDeclare(t.Exchange, t.ExchangeKind, true, false, false, false, nil); err != nil {
		return fmt.Errorf("failed to declare exchange %s: %w", t.Exchange, err)
	}
	for _, b := range t.Bindings {
		if err := DeclareQueue(ch, b.Queue); err != nil {
			return err
		}
		if err := ch.QueueBind(b.Queue, b.RoutingKey, t.Exchange, false, nil); err != nil {
			return fmt.Errorf("failed to bind queue %s to %s with key %s: %w", b.Queue, t.Exchange, b.RoutingKey, err)
		}
	}
	return nil
}

// DeclareQueue declares a durable, shared queue. Redeclaring an existing queue with
// the same arguments is a no-op on the broker.
func DeclareQueue(ch AMQPChannel, name string) error {
	if _, err := ch.QueueDeclare(name, true, false, false, false, nil); err != nil {
		return fmt.Errorf("failed to declare queue %s: %w", name, err)
	}
	return nil
}
