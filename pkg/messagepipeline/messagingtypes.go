package messagepipeline

import (
	"time"
)

// Message is the canonical, internal representation of a delivery flowing through the
// pipeline. It contains the core data, metadata, and acknowledgment handles.
type Message struct {
	MessageData

	// Attributes holds metadata from the message broker (routing key, exchange, redelivery flag).
	Attributes map[string]string

	// Ack signals that processing finished and the delivery can be removed from the queue.
	Ack func()

	// Nack signals that processing did not happen and the delivery should be requeued.
	Nack func()
}

// MessageData holds the essential payload of a message.
type MessageData struct {
	// ID is the broker message id, or the delivery tag when the publisher set none.
	ID string `json:"id"`

	// Payload is the raw byte content of the delivery.
	Payload []byte `json:"payload"`

	// PublishTime is the timestamp set by the publisher, if any.
	PublishTime time.Time `json:"publishTime"`
}

// Attribute keys set by the RabbitMQ consumer.
const (
	AttrRoutingKey  = "routing_key"
	AttrExchange    = "exchange"
	AttrRedelivered = "redelivered"
)
