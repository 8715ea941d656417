package memory

import (
	"context"
	"time"

	"github.com/walofficial/wal-server/internal/broker"
)

// memoryPublisher implements broker.Publisher for the in-memory engine.
type memoryPublisher struct {
	engine *Engine
	opts   broker.PublisherOptions
}

// Publish fans the message out to the topic's subscriptions and returns the
// generated message id.
func (p *memoryPublisher) Publish(ctx context.Context, topic string, data []byte) (string, error) {
	start := time.Now()

	if err := ctx.Err(); err != nil {
		return "", err
	}
	id, err := p.engine.publish(topic, data)

	if p.opts.OnPublish != nil {
		p.opts.OnPublish(topic, err, time.Since(start))
	}
	return id, err
}

// Close releases resources. The engine owns the shared state.
func (p *memoryPublisher) Close() error {
	return nil
}
