package memory

import (
	"context"

	"github.com/walofficial/wal-server/internal/broker"
)

// memoryConsumer implements broker.Consumer for the in-memory engine.
type memoryConsumer struct {
	engine *Engine
	opts   broker.ConsumerOptions
}

// Subscribe starts consuming messages and returns a channel. The channel is
// closed when the context is cancelled or the engine closes. The durable
// queue outlives the channel, so a re-subscribe resumes pending messages.
func (c *memoryConsumer) Subscribe(ctx context.Context) (<-chan broker.Message, error) {
	sub, err := c.engine.subscription(c.opts.Topic, c.opts.Subscription, c.opts.AckWait)
	if err != nil {
		return nil, err
	}

	out := make(chan broker.Message, c.opts.ChannelBufSize)
	go func() {
		defer close(out)
		for {
			select {
			case <-ctx.Done():
				return
			case <-c.engine.done:
				return
			case m := <-sub.queue:
				m.arm()
				select {
				case out <- m:
				case <-ctx.Done():
					m.Nak()
					return
				case <-c.engine.done:
					return
				}
			}
		}
	}()
	return out, nil
}
