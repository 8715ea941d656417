// Package broker implements the message-broker client layer: shared publish
// clients with retry, flow-controlled subscriber sessions, and a process-wide
// lifecycle registry over a pluggable pub/sub transport.
package broker

import (
	"context"
	"io"
	"time"
)

// Message represents a delivered message with acknowledgment controls.
type Message interface {
	// Data returns the raw message payload.
	Data() []byte

	// ID returns the backend-assigned message identifier.
	ID() string

	// Subject returns the message subject/topic.
	Subject() string

	// Ack acknowledges successful processing.
	Ack() error

	// Nak signals processing failure, requesting redelivery.
	Nak() error

	// InProgress extends the message lease, resetting the ack deadline.
	InProgress() error

	// Term terminates the message (no redelivery).
	Term() error

	// Metadata returns delivery metadata.
	Metadata() (MessageMetadata, error)
}

// MessageMetadata contains delivery information about a message.
type MessageMetadata struct {
	NumDelivered uint64
	Timestamp    time.Time
	Subject      string
	Stream       string
	Consumer     string
}

// Publisher publishes messages to a topic and returns the backend message id.
type Publisher interface {
	// Publish sends a message to the specified topic.
	Publish(ctx context.Context, topic string, data []byte) (string, error)

	// Close releases resources.
	Close() error
}

// Consumer consumes messages from a subscription.
type Consumer interface {
	// Subscribe starts consuming messages and returns a channel.
	// The channel is closed when the context is cancelled or the stream is
	// lost. Caller is responsible for calling Ack/Nak/Term on each message.
	Subscribe(ctx context.Context) (<-chan Message, error)
}

// Provider provides factory methods for creating publishers and consumers.
// This interface abstracts the underlying message broker (NATS JetStream,
// in-memory, etc.) allowing implementations to be swapped transparently.
type Provider interface {
	io.Closer

	// NewPublisher creates a new Publisher with the given options.
	NewPublisher(opts PublisherOptions) (Publisher, error)

	// NewConsumer creates a new Consumer with the given options.
	NewConsumer(opts ConsumerOptions) (Consumer, error)
}

// Connectable is an optional interface for providers that need to establish
// a connection before they can be used. Memory-based providers don't
// implement this interface.
type Connectable interface {
	Connect(ctx context.Context) error
}
