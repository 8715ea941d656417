package broker

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"
)

// ClientKey identifies a logical client in the registry.
type ClientKey string

// PublisherKey is the fixed key of the process-wide publish client.
const PublisherKey ClientKey = "publisher"

// SubscriberKey returns the registry key for a subscription's session.
func SubscriberKey(subscription string) ClientKey {
	return ClientKey("subscriber:" + subscription)
}

type handleState int32

const (
	handleOpen handleState = iota
	handleDraining
	handleClosed
)

// ClientHandle wraps one live client with lifecycle metadata. Handles are
// owned by the registry; callers only ever borrow them. There is at most one
// live handle per key, and a handle is never reused after it closes.
type ClientHandle struct {
	Key       ClientKey
	CreatedAt time.Time

	state atomic.Int32
	refs  atomic.Int32
	close func(grace time.Duration)
}

// Open reports whether the handle still accepts work.
func (h *ClientHandle) Open() bool {
	return handleState(h.state.Load()) == handleOpen
}

// Refs returns the number of in-flight operations borrowed from the handle.
func (h *ClientHandle) Refs() int {
	return int(h.refs.Load())
}

// Registry is the process-wide map from client keys to live clients. It
// creates the shared publish client lazily, tracks one session per
// subscription, and coordinates shutdown ordering: sessions drain first,
// then the publisher closes, then the transport connection. Only creation
// and shutdown take the registry lock; steady-state publish and dispatch
// paths never touch it.
type Registry struct {
	provider Provider
	opts     Options
	metrics  Metrics
	logger   *slog.Logger

	pub atomic.Pointer[publishClient]

	mu       sync.Mutex
	handles  map[ClientKey]*ClientHandle
	sessions map[string]*Session
	closed   bool
}

// publishClient pairs the shared publish manager with its handle so the hot
// path reads both with one atomic load.
type publishClient struct {
	pm     *publishManager
	handle *ClientHandle
}

// NewRegistry creates a registry over the given transport provider. Metrics
// may be nil.
func NewRegistry(provider Provider, opts Options, metrics Metrics, logger *slog.Logger) *Registry {
	opts.ApplyDefaults()
	if metrics == nil {
		metrics = NoopMetrics{}
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Registry{
		provider: provider,
		opts:     opts,
		metrics:  metrics,
		logger:   logger,
		handles:  make(map[ClientKey]*ClientHandle),
		sessions: make(map[string]*Session),
	}
}

// Publish sends payload to topic through the shared publish client, creating
// it on first use. Transient backend failures are retried with backoff until
// retryTimeout (zero means the configured default) is exhausted.
func (r *Registry) Publish(ctx context.Context, topic string, payload []byte, retryTimeout time.Duration) (string, error) {
	return r.PublishWithOpts(ctx, topic, payload, retryTimeout, PublishOpts{})
}

// PublishWithOpts is Publish with per-call options such as an ordering key.
func (r *Registry) PublishWithOpts(ctx context.Context, topic string, payload []byte, retryTimeout time.Duration, opts PublishOpts) (string, error) {
	pc, err := r.publisher()
	if err != nil {
		return "", err
	}

	pc.handle.refs.Add(1)
	defer pc.handle.refs.Add(-1)
	return pc.pm.Publish(ctx, topic, payload, retryTimeout, opts)
}

// publisher returns the shared publish client, creating it under the lock on
// first use. The steady-state path is a single atomic load; the registry
// mutex is taken only for creation and shutdown.
func (r *Registry) publisher() (*publishClient, error) {
	if pc := r.pub.Load(); pc != nil {
		return pc, nil
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return nil, ErrRegistryClosed
	}
	if pc := r.pub.Load(); pc != nil {
		return pc, nil
	}

	backend, err := r.provider.NewPublisher(PublisherOptions{
		StreamName: r.opts.StreamName,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create publish client: %w", err)
	}

	pm := newPublishManager(backend, r.opts, r.metrics, r.logger)
	handle := &ClientHandle{Key: PublisherKey, CreatedAt: time.Now()}
	handle.close = func(time.Duration) {
		handle.state.Store(int32(handleClosed))
		if err := pm.Close(); err != nil {
			r.logger.Error("error closing publish client", "error", err)
		}
	}
	r.handles[PublisherKey] = handle
	r.pub.Store(&publishClient{pm: pm, handle: handle})
	r.logger.Info("created publish client", "stream", r.opts.StreamName)
	return r.pub.Load(), nil
}

// StartSubscription starts (or returns) the session consuming subscription
// messages from topic. Calling it twice with the same subscription id yields
// the same live session. A nil flow control uses the registry defaults.
func (r *Registry) StartSubscription(ctx context.Context, topic, subscription string, fc *FlowControlConfig, handler Handler) (*Session, error) {
	if handler == nil {
		return nil, fmt.Errorf("handler is required for subscription %q", subscription)
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return nil, ErrRegistryClosed
	}

	if existing, ok := r.sessions[subscription]; ok && existing.State() != StateStopped {
		return existing, nil
	}

	flow := r.opts.FlowControl
	if fc != nil {
		flow = *fc
	}
	flow.ApplyDefaults()

	consumer, err := r.provider.NewConsumer(ConsumerOptions{
		StreamName:     r.opts.StreamName,
		Topic:          topic,
		Subscription:   subscription,
		AckWait:        r.opts.AckWait,
		MaxAckPending:  flow.MaxMessages,
		ChannelBufSize: flow.MaxMessages,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create consumer for %q: %w", subscription, err)
	}

	session := newSession(consumer, subscription, flow, handler, r.opts, r.metrics, r.logger)
	if err := session.start(); err != nil {
		return nil, err
	}

	key := SubscriberKey(subscription)
	handle := &ClientHandle{Key: key, CreatedAt: time.Now()}
	handle.close = func(grace time.Duration) {
		handle.state.Store(int32(handleDraining))
		session.Stop(grace)
		handle.state.Store(int32(handleClosed))
	}
	r.sessions[subscription] = session
	r.handles[key] = handle
	return session, nil
}

// StopSubscription drains the session and removes it from the registry,
// blocking until it stops or grace elapses.
func (r *Registry) StopSubscription(session *Session, grace time.Duration) {
	r.mu.Lock()
	key := SubscriberKey(session.Subscription())
	handle := r.handles[key]
	delete(r.sessions, session.Subscription())
	delete(r.handles, key)
	r.mu.Unlock()

	if handle != nil {
		handle.close(grace)
	} else {
		session.Stop(grace)
	}
}

// Session returns the live session for a subscription, if any.
func (r *Registry) Session(subscription string) (*Session, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.sessions[subscription]
	return s, ok
}

// Shutdown closes every registered client: subscriber sessions drain
// concurrently within the grace period, then the publish client closes, then
// the transport connection. A second call returns ErrRegistryClosed.
func (r *Registry) Shutdown(grace time.Duration) error {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return ErrRegistryClosed
	}
	r.closed = true

	sessionHandles := make([]*ClientHandle, 0, len(r.sessions))
	for sub := range r.sessions {
		if h, ok := r.handles[SubscriberKey(sub)]; ok {
			sessionHandles = append(sessionHandles, h)
		}
	}
	pubHandle := r.handles[PublisherKey]
	r.handles = make(map[ClientKey]*ClientHandle)
	r.sessions = make(map[string]*Session)
	r.pub.Store(nil)
	r.mu.Unlock()

	r.logger.Info("shutting down broker clients",
		"sessions", len(sessionHandles), "grace", grace)

	var wg sync.WaitGroup
	for _, h := range sessionHandles {
		wg.Add(1)
		go func(h *ClientHandle) {
			defer wg.Done()
			h.close(grace)
		}(h)
	}
	wg.Wait()

	if pubHandle != nil {
		if refs := pubHandle.Refs(); refs > 0 {
			r.logger.Warn("closing publish client with in-flight publishes", "refs", refs)
		}
		pubHandle.close(0)
	}

	if err := r.provider.Close(); err != nil {
		return fmt.Errorf("failed to close transport: %w", err)
	}
	r.logger.Info("broker clients shut down")
	return nil
}
