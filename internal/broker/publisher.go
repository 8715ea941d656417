package broker

import (
	"context"
	"fmt"
	"log/slog"
	"time"
)

// PublishOpts carries optional per-call publish settings.
type PublishOpts struct {
	// OrderingKey is passed through to the backend as a subject suffix; the
	// client layer does not interpret it.
	OrderingKey string
}

// publishManager owns the shared backend publisher and wraps every send in
// the retry schedule. It is safe for concurrent use; the backend client
// multiplexes concurrent in-flight sends itself.
type publishManager struct {
	pub      Publisher
	schedule RetrySchedule
	timeout  time.Duration
	metrics  Metrics
	logger   *slog.Logger
}

func newPublishManager(pub Publisher, opts Options, metrics Metrics, logger *slog.Logger) *publishManager {
	return &publishManager{
		pub:      pub,
		schedule: opts.Retry,
		timeout:  opts.PublishTimeout,
		metrics:  metrics,
		logger:   logger,
	}
}

// Publish sends payload to topic, retrying transient failures with
// exponential backoff until retryTimeout is exhausted. A zero retryTimeout
// uses the configured default. It returns the backend message id.
func (m *publishManager) Publish(ctx context.Context, topic string, payload []byte, retryTimeout time.Duration, opts PublishOpts) (string, error) {
	if retryTimeout <= 0 {
		retryTimeout = m.timeout
	}

	subject := topic
	if opts.OrderingKey != "" {
		subject = topic + "." + opts.OrderingKey
	}

	backoff := m.schedule.NewBackoff()
	attempts := 0
	var lastErr error

	for {
		attempts++
		m.metrics.IncPublishAttempt(topic)

		start := time.Now()
		id, err := m.pub.Publish(ctx, subject, payload)
		m.metrics.ObservePublishLatency(topic, time.Since(start))

		if err == nil {
			if attempts > 1 {
				m.logger.Debug("publish succeeded after retries",
					"topic", topic, "attempts", attempts)
			}
			return id, nil
		}
		lastErr = err

		if IsFatal(err) {
			m.metrics.IncPublishFailure(topic, "rejected")
			return "", &PublishRejectedError{Topic: topic, Err: err}
		}
		if ctx.Err() != nil {
			m.metrics.IncPublishFailure(topic, "cancelled")
			return "", fmt.Errorf("publish to %q cancelled: %w", topic, ctx.Err())
		}

		delay := backoff.Next()
		if m.schedule.Exhausted(backoff.Elapsed()+delay, retryTimeout) {
			m.metrics.IncPublishFailure(topic, "timeout")
			return "", &PublishTimeoutError{
				Topic:    topic,
				Attempts: attempts,
				Elapsed:  backoff.Elapsed(),
				Err:      lastErr,
			}
		}

		m.metrics.IncPublishRetry(topic)
		m.logger.Warn("publish failed, retrying",
			"topic", topic, "attempt", attempts, "backoff", delay, "error", err)

		timer := time.NewTimer(delay)
		select {
		case <-timer.C:
		case <-ctx.Done():
			timer.Stop()
			m.metrics.IncPublishFailure(topic, "cancelled")
			return "", fmt.Errorf("publish to %q cancelled: %w", topic, ctx.Err())
		}
	}
}

// Close releases the backend publisher.
func (m *publishManager) Close() error {
	return m.pub.Close()
}
