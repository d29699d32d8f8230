package messagepipeline

import (
	"context"
)

// ====================================================================================
// This file defines the core interfaces and function types for building a message
// pipeline. It outlines the contracts for consuming, transforming, and processing
// broker deliveries.
// ====================================================================================

// --- Stage 1: Consumer ---

// MessageConsumer defines the interface for a message source (e.g., a RabbitMQ queue).
// It is responsible for fetching deliveries and handing them off to the pipeline.
type MessageConsumer interface {
	// Messages returns a read-only channel from which pipeline workers will receive messages.
	Messages() <-chan Message
	// Start begins the consumption process.
	Start(ctx context.Context) error
	// Stop gracefully ceases message consumption and waits for background tasks to finish.
	Stop(ctx context.Context) error
	// Done returns a channel that is closed when the consumer has completely shut down.
	Done() <-chan struct{}
}

// --- Stage 2: Transformer ---

// MessageTransformer defines a function that turns a generic `Message` into a
// specific, structured payload of type T.
//
// The 'skip' return value can be set to true to signal that this message should
// be acknowledged and not processed further, effectively filtering it from the pipeline.
type MessageTransformer[T any] func(ctx context.Context, msg *Message) (payload *T, skip bool, err error)

// --- Stage 3: Processor ---

// StreamProcessor defines the contract for an endpoint that handles transformed
// messages of type T one by one. A returned error is treated as a processing
// failure; what happens to the delivery then depends on the service's failure policy.
type StreamProcessor[T any] func(ctx context.Context, original Message, payload *T) error
