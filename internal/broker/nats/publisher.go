package nats

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/nats-io/nats.go/jetstream"

	"github.com/walofficial/wal-server/internal/broker"
)

// jetStreamPublisher implements broker.Publisher using NATS JetStream.
type jetStreamPublisher struct {
	js   JetStream
	opts broker.PublisherOptions
}

func newPublisher(js JetStream, opts broker.PublisherOptions) (broker.Publisher, error) {
	// Ensure the stream exists before the first publish.
	if opts.StreamName != "" {
		subjects := []string{opts.StreamName + ".>"}
		if opts.SubjectPrefix != "" && opts.SubjectPrefix != opts.StreamName {
			subjects = []string{opts.SubjectPrefix + ".>"}
		}

		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		_, err := js.CreateOrUpdateStream(ctx, jetstream.StreamConfig{
			Name:     opts.StreamName,
			Subjects: subjects,
			Storage:  jetstream.FileStorage,
		})
		if err != nil {
			return nil, fmt.Errorf("failed to ensure stream: %w", err)
		}
	}

	return &jetStreamPublisher{js: js, opts: opts}, nil
}

// Publish sends a message and returns its backend id (stream:sequence).
// Non-retryable backend rejections are wrapped as broker.FatalError so the
// retry loop fails fast.
func (p *jetStreamPublisher) Publish(ctx context.Context, topic string, data []byte) (string, error) {
	start := time.Now()

	subject := topic
	if prefix := p.subjectPrefix(); prefix != "" {
		subject = prefix + "." + topic
	}

	ack, err := p.js.Publish(ctx, subject, data)

	if p.opts.OnPublish != nil {
		p.opts.OnPublish(subject, err, time.Since(start))
	}

	if err != nil {
		return "", classifyPublishError(subject, err)
	}
	return fmt.Sprintf("%s:%d", ack.Stream, ack.Sequence), nil
}

func (p *jetStreamPublisher) subjectPrefix() string {
	if p.opts.SubjectPrefix != "" {
		return p.opts.SubjectPrefix
	}
	return p.opts.StreamName
}

// Close releases resources. JetStream publishers share the provider's
// connection and need no explicit close.
func (p *jetStreamPublisher) Close() error {
	return nil
}

// classifyPublishError separates non-retryable rejections from transient
// transport failures. 4xx API responses (bad subject, stream not found, no
// permission) will not succeed on retry.
func classifyPublishError(subject string, err error) error {
	wrapped := fmt.Errorf("failed to publish to %s: %w", subject, err)

	if errors.Is(err, jetstream.ErrInvalidSubject) {
		return &broker.FatalError{Err: wrapped}
	}
	var apiErr *jetstream.APIError
	if errors.As(err, &apiErr) && apiErr.Code >= 400 && apiErr.Code < 500 {
		return &broker.FatalError{Err: wrapped}
	}
	return wrapped
}
