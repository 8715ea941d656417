package broker

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"
)

// SessionState is the lifecycle state of a subscriber session.
type SessionState int32

const (
	StateStarting SessionState = iota
	StateStreaming
	StateDraining
	StateStopped
)

func (s SessionState) String() string {
	switch s {
	case StateStarting:
		return "starting"
	case StateStreaming:
		return "streaming"
	case StateDraining:
		return "draining"
	case StateStopped:
		return "stopped"
	}
	return "unknown"
}

// maxReconnectFailures bounds consecutive failed stream re-establishments
// before the session gives up and stops with an error.
const maxReconnectFailures = 5

const (
	deliveryPending int32 = iota
	deliveryAcked
	deliveryNacked
	deliveryTermed
)

// Delivery is one delivered-but-unacknowledged message handed to a Handler.
// Ack, Nack and Term may be called from inside the handler for early
// settlement; whichever of handler-return and explicit call happens first
// wins, the other is a no-op.
type Delivery struct {
	Payload []byte
	ID      string
	Subject string
	// Attempt is the backend delivery attempt, starting at 1.
	Attempt uint64

	msg   Message
	state atomic.Int32
}

// NewDelivery wraps a raw backend message for direct handler invocation,
// outside a session. Attempt is taken from the message metadata.
func NewDelivery(msg Message) *Delivery {
	d := &Delivery{
		Payload: msg.Data(),
		ID:      msg.ID(),
		Subject: msg.Subject(),
		Attempt: 1,
		msg:     msg,
	}
	if md, err := msg.Metadata(); err == nil && md.NumDelivered > 0 {
		d.Attempt = md.NumDelivered
	}
	return d
}

// Ack acknowledges the message. Only the first settlement takes effect.
func (d *Delivery) Ack() error {
	if !d.state.CompareAndSwap(deliveryPending, deliveryAcked) {
		return nil
	}
	return d.msg.Ack()
}

// Nack negatively acknowledges the message, leaving redelivery timing to the
// backend.
func (d *Delivery) Nack() error {
	if !d.state.CompareAndSwap(deliveryPending, deliveryNacked) {
		return nil
	}
	return d.msg.Nak()
}

// Term drops the message without redelivery (poison messages).
func (d *Delivery) Term() error {
	if !d.state.CompareAndSwap(deliveryPending, deliveryTermed) {
		return nil
	}
	return d.msg.Term()
}

func (d *Delivery) settled() bool {
	return d.state.Load() != deliveryPending
}

// Handler processes one delivery. Returning nil acknowledges the message,
// returning an error (or panicking) negatively acknowledges it; redelivery
// is then the backend's responsibility, the session never re-invokes the
// handler itself.
type Handler func(ctx context.Context, d *Delivery) error

// Session maintains one long-lived stream for a subscription, applies flow
// control before dispatching messages to the handler, extends leases while
// handlers run, and settles each message after the handler returns.
type Session struct {
	subscription string
	consumer     Consumer
	handler      Handler
	gate         *FlowGate
	schedule     RetrySchedule
	ackWait      time.Duration
	maxLease     time.Duration
	metrics      Metrics
	logger       *slog.Logger

	state    atomic.Int32
	inFlight atomic.Int32

	streamCtx     context.Context
	streamCancel  context.CancelFunc
	handlerCtx    context.Context
	handlerCancel context.CancelFunc

	wg       sync.WaitGroup
	done     chan struct{}
	stopOnce sync.Once

	mu  sync.Mutex
	err error
}

func newSession(consumer Consumer, subscription string, fc FlowControlConfig, handler Handler, opts Options, metrics Metrics, logger *slog.Logger) *Session {
	fc.ApplyDefaults()
	s := &Session{
		subscription: subscription,
		consumer:     consumer,
		handler:      handler,
		gate:         NewFlowGate(fc),
		schedule:     opts.Retry,
		ackWait:      opts.AckWait,
		maxLease:     fc.MaxLeaseDuration,
		metrics:      metrics,
		logger:       logger.With("subscription", subscription),
		done:         make(chan struct{}),
	}
	s.state.Store(int32(StateStarting))
	s.streamCtx, s.streamCancel = context.WithCancel(context.Background())
	s.handlerCtx, s.handlerCancel = context.WithCancel(context.Background())
	return s
}

// start establishes the stream and begins dispatching. The first subscribe
// error is surfaced synchronously.
func (s *Session) start() error {
	ch, err := s.consumer.Subscribe(s.streamCtx)
	if err != nil {
		s.state.Store(int32(StateStopped))
		close(s.done)
		return fmt.Errorf("failed to open stream for %q: %w", s.subscription, err)
	}
	s.state.Store(int32(StateStreaming))
	s.logger.Info("subscription streaming")
	go s.run(ch)
	return nil
}

// State returns the current session state.
func (s *Session) State() SessionState {
	return SessionState(s.state.Load())
}

// Subscription returns the subscription id the session consumes.
func (s *Session) Subscription() string {
	return s.subscription
}

// Done is closed once the streaming loop has exited.
func (s *Session) Done() <-chan struct{} {
	return s.done
}

// Err returns the session failure, if any, once Done is closed.
func (s *Session) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.err
}

// InFlight returns the number of messages currently being processed.
func (s *Session) InFlight() int {
	return int(s.inFlight.Load())
}

// run owns the streaming loop. It closes done on exit but leaves the state
// transition to Stop (or fail), so State reports Draining while in-flight
// handlers settle.
func (s *Session) run(ch <-chan Message) {
	defer close(s.done)

	for {
		s.consume(ch)
		if s.streamCtx.Err() != nil {
			return
		}

		// Stream lost while still streaming. Re-establish with backoff;
		// permits held by in-flight handlers survive the reconnect.
		var err error
		ch, err = s.reconnect()
		if err != nil {
			if !errors.Is(err, ErrSessionStopped) {
				s.fail(err)
			}
			return
		}
	}
}

func (s *Session) consume(ch <-chan Message) {
	for {
		select {
		case msg, ok := <-ch:
			if !ok {
				return
			}
			// The message case can win the select race against a drain.
			if s.streamCtx.Err() != nil {
				msg.Nak()
				return
			}
			s.dispatch(msg)
		case <-s.streamCtx.Done():
			return
		}
	}
}

func (s *Session) reconnect() (<-chan Message, error) {
	backoff := s.schedule.NewBackoff()
	for failures := 1; ; failures++ {
		if failures > maxReconnectFailures {
			return nil, &SessionError{
				Subscription: s.subscription,
				Err:          fmt.Errorf("stream re-establishment failed %d times", maxReconnectFailures),
			}
		}

		delay := backoff.Next()
		s.logger.Warn("stream lost, reconnecting", "attempt", failures, "backoff", delay)
		timer := time.NewTimer(delay)
		select {
		case <-timer.C:
		case <-s.streamCtx.Done():
			// Drained mid-reconnect; a clean stop, not a failure.
			timer.Stop()
			return nil, ErrSessionStopped
		}

		ch, err := s.consumer.Subscribe(s.streamCtx)
		if err == nil {
			s.logger.Info("stream re-established")
			return ch, nil
		}
		s.logger.Error("reconnect failed", "attempt", failures, "error", err)
	}
}

func (s *Session) dispatch(msg Message) {
	permit, err := s.gate.Acquire(s.streamCtx, int64(len(msg.Data())))
	if err != nil {
		// Draining; hand the message back to the backend.
		msg.Nak()
		return
	}

	s.wg.Add(1)
	s.metrics.SetInFlight(s.subscription, int(s.inFlight.Add(1)))
	go s.process(msg, permit)
}

func (s *Session) process(msg Message, permit *Permit) {
	defer s.wg.Done()
	defer permit.Release()
	defer func() {
		s.metrics.SetInFlight(s.subscription, int(s.inFlight.Add(-1)))
	}()

	d := NewDelivery(msg)

	leaseStop := make(chan struct{})
	go s.extendLease(msg, leaseStop)

	err := s.invoke(d)
	close(leaseStop)

	if err != nil {
		s.logger.Error("handler failed, nacking message",
			"message_id", d.ID, "attempt", d.Attempt, "error", err)
		if nakErr := d.Nack(); nakErr != nil {
			s.logger.Error("nack failed", "message_id", d.ID, "error", nakErr)
		}
		s.metrics.IncNack(s.subscription)
		return
	}

	if ackErr := d.Ack(); ackErr != nil {
		s.logger.Error("ack failed", "message_id", d.ID, "error", ackErr)
	}
	s.metrics.IncAck(s.subscription)
}

func (s *Session) invoke(d *Delivery) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("handler panic: %v", r)
		}
	}()
	return s.handler(s.handlerCtx, d)
}

func (s *Session) fail(err error) {
	s.mu.Lock()
	s.err = err
	s.mu.Unlock()
	s.state.Store(int32(StateStopped))
	s.logger.Error("subscription failed", "error", err)
}

// extendLease keeps resetting the ack deadline while the handler runs, up to
// the configured maximum lease. Extension stops the moment the handler
// returns.
func (s *Session) extendLease(msg Message, stop <-chan struct{}) {
	interval := s.ackWait / 3
	if interval <= 0 {
		interval = time.Second
	}
	deadline := time.Now().Add(s.maxLease)

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			if time.Now().After(deadline) {
				s.logger.Warn("max lease duration reached, abandoning extension",
					"message_id", msg.ID())
				return
			}
			if err := msg.InProgress(); err != nil {
				s.logger.Debug("lease extension failed", "message_id", msg.ID(), "error", err)
				return
			}
		}
	}
}

// Stop drains the session: no new messages are dispatched, in-flight
// handlers get up to grace to finish, then remaining messages are abandoned
// to backend redelivery. Safe to call more than once.
func (s *Session) Stop(grace time.Duration) {
	s.stopOnce.Do(func() {
		if s.State() != StateStopped {
			s.state.Store(int32(StateDraining))
		}
		s.logger.Info("draining subscription", "grace", grace)
		s.streamCancel()

		finished := make(chan struct{})
		go func() {
			s.wg.Wait()
			close(finished)
		}()

		timer := time.NewTimer(grace)
		defer timer.Stop()
		select {
		case <-finished:
			s.logger.Info("all in-flight messages settled")
		case <-timer.C:
			s.logger.Warn("drain grace period elapsed, abandoning in-flight messages",
				"in_flight", s.inFlight.Load())
		}

		s.handlerCancel()
		<-s.done
		s.state.Store(int32(StateStopped))
	})
}
