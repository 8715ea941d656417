package nats

import (
	"context"
	"fmt"
	"log/slog"
	"sync/atomic"

	"github.com/nats-io/nats.go/jetstream"

	"github.com/walofficial/wal-server/internal/broker"
)

// jetStreamConsumer implements broker.Consumer using a durable JetStream
// consumer with explicit acks.
type jetStreamConsumer struct {
	js   JetStream
	opts broker.ConsumerOptions
}

func newConsumer(js JetStream, opts broker.ConsumerOptions) (broker.Consumer, error) {
	if opts.StreamName == "" {
		return nil, fmt.Errorf("stream name is required")
	}
	if opts.Subscription == "" {
		return nil, fmt.Errorf("subscription name is required")
	}
	if opts.ChannelBufSize <= 0 {
		opts.ChannelBufSize = broker.DefaultConsumerOptions().ChannelBufSize
	}
	if opts.AckWait <= 0 {
		opts.AckWait = broker.DefaultConsumerOptions().AckWait
	}
	return &jetStreamConsumer{js: js, opts: opts}, nil
}

// Subscribe starts consuming messages and returns a channel. The channel is
// closed when the context is cancelled.
func (c *jetStreamConsumer) Subscribe(ctx context.Context) (<-chan broker.Message, error) {
	filterSubject := c.opts.StreamName + ".>"
	if c.opts.Topic != "" {
		// A topic binds the subscription to one subject subtree, ordering
		// keys included.
		filterSubject = fmt.Sprintf("%s.%s.>", c.opts.StreamName, c.opts.Topic)
	}

	_, err := c.js.CreateOrUpdateStream(ctx, jetstream.StreamConfig{
		Name:     c.opts.StreamName,
		Subjects: []string{c.opts.StreamName + ".>"},
		Storage:  jetstream.FileStorage,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to ensure stream: %w", err)
	}

	consumer, err := c.js.CreateOrUpdateConsumer(ctx, c.opts.StreamName, jetstream.ConsumerConfig{
		Durable:        c.opts.Subscription,
		AckPolicy:      jetstream.AckExplicitPolicy,
		AckWait:        c.opts.AckWait,
		MaxAckPending:  c.opts.MaxAckPending,
		FilterSubjects: []string{filterSubject, trimWildcard(filterSubject)},
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create consumer: %w", err)
	}

	msgCh := make(chan broker.Message, c.opts.ChannelBufSize)

	// Track closing to avoid sending to a closed channel.
	var closing atomic.Bool

	cc, err := consumer.Consume(func(msg jetstream.Msg) {
		if closing.Load() {
			msg.Nak()
			return
		}
		select {
		case msgCh <- wrapMessage(msg):
		case <-ctx.Done():
			msg.Nak()
		}
	})
	if err != nil {
		return nil, fmt.Errorf("failed to start consumer: %w", err)
	}

	slog.Info("JetStream consumer subscribed",
		"stream", c.opts.StreamName, "subscription", c.opts.Subscription)

	go func() {
		<-ctx.Done()
		closing.Store(true)
		cc.Stop()
		close(msgCh)
	}()

	return msgCh, nil
}

// trimWildcard returns the bare subject for messages published without an
// ordering key: "S.topic.>" also needs "S.topic" itself.
func trimWildcard(filter string) string {
	if len(filter) > 2 && filter[len(filter)-2:] == ".>" {
		return filter[:len(filter)-2]
	}
	return filter
}
