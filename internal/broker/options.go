package broker

import "time"

// PublisherOptions configures a backend publisher.
type PublisherOptions struct {
	// StreamName is the name of the stream topics are published into.
	StreamName string

	// SubjectPrefix is prepended to all topics.
	SubjectPrefix string

	// OnPublish is called after each publish attempt (for metrics).
	OnPublish func(subject string, err error, latency time.Duration)
}

// ConsumerOptions configures a backend consumer.
type ConsumerOptions struct {
	// StreamName is the name of the stream to consume from.
	StreamName string

	// Topic is the topic the subscription is bound to.
	Topic string

	// Subscription is the durable subscription name.
	Subscription string

	// AckWait is the per-delivery lease: how long the backend waits for an
	// ack before redelivering.
	AckWait time.Duration

	// MaxAckPending bounds backend-side outstanding deliveries. Zero means
	// backend default.
	MaxAckPending int

	// ChannelBufSize is the buffer size for the message channel.
	ChannelBufSize int
}

// DefaultConsumerOptions returns ConsumerOptions with sensible defaults.
func DefaultConsumerOptions() ConsumerOptions {
	return ConsumerOptions{
		AckWait:        60 * time.Second,
		ChannelBufSize: 100,
	}
}

// FlowControlConfig bounds in-flight work for a subscriber session.
type FlowControlConfig struct {
	// MaxMessages is the maximum number of concurrently outstanding messages.
	MaxMessages int

	// MaxBytes is the maximum total payload bytes outstanding at once.
	MaxBytes int64

	// MaxLeaseDuration caps how long a single message lease may be extended.
	MaxLeaseDuration time.Duration
}

// ApplyDefaults fills in missing values with defaults.
func (c *FlowControlConfig) ApplyDefaults() {
	if c.MaxMessages <= 0 {
		c.MaxMessages = 100
	}
	if c.MaxBytes <= 0 {
		c.MaxBytes = 100 * 1024 * 1024
	}
	if c.MaxLeaseDuration <= 0 {
		c.MaxLeaseDuration = 10 * time.Minute
	}
}

// Options configures the lifecycle registry and its clients.
type Options struct {
	// StreamName is the backend stream all topics live under.
	StreamName string

	// FlowControl is the default flow control budget for sessions that do
	// not supply their own.
	FlowControl FlowControlConfig

	// Retry is the backoff schedule used by publish retries and session
	// reconnects.
	Retry RetrySchedule

	// PublishTimeout is the default retry budget for Publish calls that
	// pass zero.
	PublishTimeout time.Duration

	// AckWait is the backend ack deadline for subscriber sessions.
	AckWait time.Duration
}

// ApplyDefaults fills in missing values with defaults.
func (o *Options) ApplyDefaults() {
	if o.StreamName == "" {
		o.StreamName = "WAL"
	}
	o.FlowControl.ApplyDefaults()
	o.Retry.ApplyDefaults()
	if o.PublishTimeout <= 0 {
		o.PublishTimeout = 60 * time.Second
	}
	if o.AckWait <= 0 {
		o.AckWait = 60 * time.Second
	}
}
