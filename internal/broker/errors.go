package broker

import (
	"errors"
	"fmt"
	"time"
)

var (
	// ErrRegistryClosed is returned when operating on a shut-down registry.
	ErrRegistryClosed = errors.New("registry is closed")

	// ErrSessionStopped is returned when operating on a stopped session.
	ErrSessionStopped = errors.New("session is stopped")

	// ErrNotConnected is returned when the provider has no live connection.
	ErrNotConnected = errors.New("provider is not connected")
)

// FatalError wraps an error that must not be retried (malformed request,
// permission denied, topic not found).
type FatalError struct {
	Err error
}

func (e *FatalError) Error() string {
	return fmt.Sprintf("fatal: %v", e.Err)
}

func (e *FatalError) Unwrap() error {
	return e.Err
}

// IsFatal reports whether err is non-retryable.
func IsFatal(err error) bool {
	var fe *FatalError
	return errors.As(err, &fe)
}

// PublishTimeoutError is returned when a publish exhausts its retry budget.
type PublishTimeoutError struct {
	Topic    string
	Attempts int
	Elapsed  time.Duration
	Err      error
}

func (e *PublishTimeoutError) Error() string {
	return fmt.Sprintf("publish to %q timed out after %d attempts in %s: %v",
		e.Topic, e.Attempts, e.Elapsed.Round(time.Millisecond), e.Err)
}

func (e *PublishTimeoutError) Unwrap() error {
	return e.Err
}

// PublishRejectedError is returned when the backend rejects a publish with a
// non-retryable error.
type PublishRejectedError struct {
	Topic string
	Err   error
}

func (e *PublishRejectedError) Error() string {
	return fmt.Sprintf("publish to %q rejected: %v", e.Topic, e.Err)
}

func (e *PublishRejectedError) Unwrap() error {
	return e.Err
}

// SessionError reports an asynchronous subscriber session failure, surfaced
// through Session.Err after the session stops.
type SessionError struct {
	Subscription string
	Err          error
}

func (e *SessionError) Error() string {
	return fmt.Sprintf("subscription %q failed: %v", e.Subscription, e.Err)
}

func (e *SessionError) Unwrap() error {
	return e.Err
}
