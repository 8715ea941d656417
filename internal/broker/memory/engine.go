// Package memory provides an in-process broker transport for tests and
// standalone mode. It mirrors the JetStream transport's semantics: explicit
// acks, lease expiry redelivery, immediate redelivery on nack.
package memory

import (
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/walofficial/wal-server/internal/broker"
)

// Compile-time check that Engine implements broker.Provider.
var _ broker.Provider = (*Engine)(nil)

// Engine is the in-memory broker. Topics and subscriptions are created
// lazily; each subscription receives its own copy of every message published
// to its topic.
type Engine struct {
	mu     sync.Mutex
	topics map[string]*topic
	closed bool
	done   chan struct{}
}

type topic struct {
	subs map[string]*subscription
}

type subscription struct {
	name    string
	ackWait time.Duration
	queue   chan *memoryMessage
}

// New creates a new in-memory engine.
func New() *Engine {
	return &Engine{
		topics: make(map[string]*topic),
		done:   make(chan struct{}),
	}
}

// NewPublisher creates a new in-memory Publisher.
func (e *Engine) NewPublisher(opts broker.PublisherOptions) (broker.Publisher, error) {
	if e.IsClosed() {
		return nil, ErrEngineClosed
	}
	return &memoryPublisher{engine: e, opts: opts}, nil
}

// NewConsumer creates a new in-memory Consumer bound to a topic and durable
// subscription.
func (e *Engine) NewConsumer(opts broker.ConsumerOptions) (broker.Consumer, error) {
	if e.IsClosed() {
		return nil, ErrEngineClosed
	}
	if opts.ChannelBufSize <= 0 {
		opts.ChannelBufSize = broker.DefaultConsumerOptions().ChannelBufSize
	}
	if opts.AckWait <= 0 {
		opts.AckWait = broker.DefaultConsumerOptions().AckWait
	}
	return &memoryConsumer{engine: e, opts: opts}, nil
}

// Close shuts down the engine and all subscriptions.
func (e *Engine) Close() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.closed {
		return nil
	}
	e.closed = true
	close(e.done)
	return nil
}

// IsClosed returns true if the engine is closed.
func (e *Engine) IsClosed() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.closed
}

// subscription binds (creating if needed) a durable subscription on topic.
// The queue persists across Subscribe calls so pending messages survive a
// stream reconnect.
func (e *Engine) subscription(topicName, subName string, ackWait time.Duration) (*subscription, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.closed {
		return nil, ErrEngineClosed
	}

	t, ok := e.topics[topicName]
	if !ok {
		t = &topic{subs: make(map[string]*subscription)}
		e.topics[topicName] = t
	}
	sub, ok := t.subs[subName]
	if !ok {
		sub = &subscription{
			name:    subName,
			ackWait: ackWait,
			queue:   make(chan *memoryMessage, 1024),
		}
		t.subs[subName] = sub
	}
	return sub, nil
}

// publish fans the message out to every subscription of the subject's topic.
// All copies share one message id, as the backend contract requires.
func (e *Engine) publish(subject string, data []byte) (string, error) {
	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		return "", ErrEngineClosed
	}
	t := e.topics[topicOf(subject)]
	var subs []*subscription
	if t != nil {
		for _, sub := range t.subs {
			subs = append(subs, sub)
		}
	}
	e.mu.Unlock()

	id := uuid.NewString()
	for _, sub := range subs {
		m := &memoryMessage{
			id:        id,
			data:      data,
			subject:   subject,
			timestamp: time.Now(),
			engine:    e,
			sub:       sub,
		}
		select {
		case sub.queue <- m:
		case <-e.done:
			return "", ErrEngineClosed
		}
	}
	return id, nil
}

// topicOf maps a subject (possibly carrying an ordering-key suffix) to its
// topic: the first dot-separated token.
func topicOf(subject string) string {
	if i := strings.IndexByte(subject, '.'); i > 0 {
		return subject[:i]
	}
	return subject
}
