package nats

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/nats-io/nats.go/jetstream"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/walofficial/wal-server/internal/broker"
)

// fakeJetStream records calls and scripts responses for the narrowed
// JetStream interface.
type fakeJetStream struct {
	mu sync.Mutex

	publishSubjects []string
	publishErr      error
	pubAck          jetstream.PubAck

	streamConfigs []jetstream.StreamConfig
	streamErr     error

	consumerConfigs []jetstream.ConsumerConfig
	consumerErr     error
	consumer        jetstream.Consumer
}

func (f *fakeJetStream) Publish(ctx context.Context, subject string, payload []byte, opts ...jetstream.PublishOpt) (*jetstream.PubAck, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.publishSubjects = append(f.publishSubjects, subject)
	if f.publishErr != nil {
		return nil, f.publishErr
	}
	ack := f.pubAck
	return &ack, nil
}

func (f *fakeJetStream) CreateOrUpdateStream(ctx context.Context, cfg jetstream.StreamConfig) (jetstream.Stream, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.streamConfigs = append(f.streamConfigs, cfg)
	return nil, f.streamErr
}

func (f *fakeJetStream) CreateOrUpdateConsumer(ctx context.Context, stream string, cfg jetstream.ConsumerConfig) (jetstream.Consumer, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.consumerConfigs = append(f.consumerConfigs, cfg)
	if f.consumerErr != nil {
		return nil, f.consumerErr
	}
	return f.consumer, nil
}

func TestPublisher_EnsuresStream(t *testing.T) {
	js := &fakeJetStream{pubAck: jetstream.PubAck{Stream: "WAL", Sequence: 7}}

	_, err := newPublisher(js, broker.PublisherOptions{StreamName: "WAL"})
	require.NoError(t, err)

	require.Len(t, js.streamConfigs, 1)
	cfg := js.streamConfigs[0]
	assert.Equal(t, "WAL", cfg.Name)
	assert.Equal(t, []string{"WAL.>"}, cfg.Subjects)
	assert.Equal(t, jetstream.FileStorage, cfg.Storage)
}

func TestPublisher_StreamCreationFailure(t *testing.T) {
	js := &fakeJetStream{streamErr: errors.New("no jetstream")}

	_, err := newPublisher(js, broker.PublisherOptions{StreamName: "WAL"})
	require.Error(t, err)
}

func TestPublisher_PublishPrefixesSubjectAndDerivesID(t *testing.T) {
	js := &fakeJetStream{pubAck: jetstream.PubAck{Stream: "WAL", Sequence: 42}}
	pub, err := newPublisher(js, broker.PublisherOptions{StreamName: "WAL"})
	require.NoError(t, err)

	id, err := pub.Publish(context.Background(), "t1", []byte("payload"))
	require.NoError(t, err)
	assert.Equal(t, "WAL:42", id)
	assert.Equal(t, []string{"WAL.t1"}, js.publishSubjects)
}

func TestPublisher_SubjectPrefixOverride(t *testing.T) {
	js := &fakeJetStream{pubAck: jetstream.PubAck{Stream: "WAL", Sequence: 1}}
	pub, err := newPublisher(js, broker.PublisherOptions{StreamName: "WAL", SubjectPrefix: "custom"})
	require.NoError(t, err)

	require.Len(t, js.streamConfigs, 1)
	assert.Equal(t, []string{"custom.>"}, js.streamConfigs[0].Subjects)

	_, err = pub.Publish(context.Background(), "t1", []byte("payload"))
	require.NoError(t, err)
	assert.Equal(t, []string{"custom.t1"}, js.publishSubjects)
}

func TestPublisher_OnPublishHook(t *testing.T) {
	js := &fakeJetStream{pubAck: jetstream.PubAck{Stream: "WAL", Sequence: 1}}

	var gotSubject string
	var gotErr error
	pub, err := newPublisher(js, broker.PublisherOptions{
		StreamName: "WAL",
		OnPublish: func(subject string, err error, _ time.Duration) {
			gotSubject = subject
			gotErr = err
		},
	})
	require.NoError(t, err)

	_, err = pub.Publish(context.Background(), "t1", []byte("payload"))
	require.NoError(t, err)
	assert.Equal(t, "WAL.t1", gotSubject)
	assert.NoError(t, gotErr)
}

func TestClassifyPublishError(t *testing.T) {
	tests := []struct {
		name  string
		err   error
		fatal bool
	}{
		{
			name:  "invalid subject",
			err:   jetstream.ErrInvalidSubject,
			fatal: true,
		},
		{
			name:  "api 4xx rejection",
			err:   &jetstream.APIError{Code: 400, Description: "bad request"},
			fatal: true,
		},
		{
			name:  "api 5xx server error",
			err:   &jetstream.APIError{Code: 503, Description: "unavailable"},
			fatal: false,
		},
		{
			name:  "transport error",
			err:   errors.New("connection reset"),
			fatal: false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := classifyPublishError("WAL.t1", tt.err)
			require.Error(t, got)
			assert.Equal(t, tt.fatal, broker.IsFatal(got))
			assert.ErrorIs(t, got, tt.err, "the original error must stay unwrappable")
		})
	}
}

func TestPublisher_PublishErrorClassified(t *testing.T) {
	js := &fakeJetStream{
		pubAck:     jetstream.PubAck{Stream: "WAL", Sequence: 1},
		publishErr: &jetstream.APIError{Code: 400, Description: "bad request"},
	}
	pub, err := newPublisher(js, broker.PublisherOptions{StreamName: "WAL"})
	require.NoError(t, err)

	_, err = pub.Publish(context.Background(), "t1", []byte("payload"))
	require.Error(t, err)
	assert.True(t, broker.IsFatal(err))
}
