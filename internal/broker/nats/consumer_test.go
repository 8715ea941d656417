package nats

import (
	"context"
	"testing"
	"time"

	"github.com/nats-io/nats.go/jetstream"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/walofficial/wal-server/internal/broker"
)

// fakeJSConsumer embeds the interface so only Consume needs implementing.
type fakeJSConsumer struct {
	jetstream.Consumer
	handler jetstream.MessageHandler
}

func (c *fakeJSConsumer) Consume(handler jetstream.MessageHandler, opts ...jetstream.PullConsumeOpt) (jetstream.ConsumeContext, error) {
	c.handler = handler
	return fakeConsumeContext{}, nil
}

type fakeConsumeContext struct {
	jetstream.ConsumeContext
}

func (fakeConsumeContext) Stop() {}

// fakeJSMsg embeds jetstream.Msg so only the methods under test need
// implementing.
type fakeJSMsg struct {
	jetstream.Msg
	data    []byte
	subject string
	naks    int
}

func (m *fakeJSMsg) Data() []byte    { return m.data }
func (m *fakeJSMsg) Subject() string { return m.subject }

func (m *fakeJSMsg) Nak() error {
	m.naks++
	return nil
}

func (m *fakeJSMsg) Metadata() (*jetstream.MsgMetadata, error) {
	return &jetstream.MsgMetadata{
		Stream:       "WAL",
		Consumer:     "sub-a",
		NumDelivered: 3,
		Sequence:     jetstream.SequencePair{Stream: 42},
		Timestamp:    time.Now(),
	}, nil
}

func TestNewConsumer_Validation(t *testing.T) {
	js := &fakeJetStream{}

	_, err := newConsumer(js, broker.ConsumerOptions{Subscription: "sub-a"})
	require.Error(t, err, "stream name is required")

	_, err = newConsumer(js, broker.ConsumerOptions{StreamName: "WAL"})
	require.Error(t, err, "subscription is required")
}

func TestNewConsumer_AppliesDefaults(t *testing.T) {
	js := &fakeJetStream{}

	c, err := newConsumer(js, broker.ConsumerOptions{StreamName: "WAL", Subscription: "sub-a"})
	require.NoError(t, err)

	jc := c.(*jetStreamConsumer)
	defaults := broker.DefaultConsumerOptions()
	assert.Equal(t, defaults.AckWait, jc.opts.AckWait)
	assert.Equal(t, defaults.ChannelBufSize, jc.opts.ChannelBufSize)
}

func TestConsumer_SubscribeConfiguresDurable(t *testing.T) {
	inner := &fakeJSConsumer{}
	js := &fakeJetStream{consumer: inner}

	c, err := newConsumer(js, broker.ConsumerOptions{
		StreamName:    "WAL",
		Topic:         "t1",
		Subscription:  "sub-a",
		AckWait:       30 * time.Second,
		MaxAckPending: 50,
	})
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	_, err = c.Subscribe(ctx)
	require.NoError(t, err)

	require.Len(t, js.consumerConfigs, 1)
	cfg := js.consumerConfigs[0]
	assert.Equal(t, "sub-a", cfg.Durable)
	assert.Equal(t, jetstream.AckExplicitPolicy, cfg.AckPolicy)
	assert.Equal(t, 30*time.Second, cfg.AckWait)
	assert.Equal(t, 50, cfg.MaxAckPending)
	assert.Equal(t, []string{"WAL.t1.>", "WAL.t1"}, cfg.FilterSubjects)
}

func TestConsumer_SubscribeDeliversWrappedMessages(t *testing.T) {
	inner := &fakeJSConsumer{}
	js := &fakeJetStream{consumer: inner}

	c, err := newConsumer(js, broker.ConsumerOptions{
		StreamName:   "WAL",
		Topic:        "t1",
		Subscription: "sub-a",
	})
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	ch, err := c.Subscribe(ctx)
	require.NoError(t, err)
	require.NotNil(t, inner.handler)

	inner.handler(&fakeJSMsg{data: []byte("payload"), subject: "WAL.t1.user-42"})

	select {
	case m := <-ch:
		assert.Equal(t, []byte("payload"), m.Data())
		assert.Equal(t, "WAL.t1.user-42", m.Subject())
		assert.Equal(t, "WAL:42", m.ID())
		md, err := m.Metadata()
		require.NoError(t, err)
		assert.Equal(t, uint64(3), md.NumDelivered)
		assert.Equal(t, "sub-a", md.Consumer)
	case <-time.After(time.Second):
		t.Fatal("no message delivered")
	}

	// Cancellation closes the channel and late arrivals get nacked.
	cancel()
	for {
		select {
		case _, ok := <-ch:
			if !ok {
				return
			}
		case <-time.After(time.Second):
			t.Fatal("channel did not close after cancellation")
		}
	}
}

func TestConsumer_SubscribeWithoutTopicUsesStreamSubtree(t *testing.T) {
	inner := &fakeJSConsumer{}
	js := &fakeJetStream{consumer: inner}

	c, err := newConsumer(js, broker.ConsumerOptions{StreamName: "WAL", Subscription: "sub-a"})
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	_, err = c.Subscribe(ctx)
	require.NoError(t, err)

	require.Len(t, js.consumerConfigs, 1)
	assert.Equal(t, []string{"WAL.>", "WAL"}, js.consumerConfigs[0].FilterSubjects)
}

func TestTrimWildcard(t *testing.T) {
	assert.Equal(t, "WAL.t1", trimWildcard("WAL.t1.>"))
	assert.Equal(t, "WAL.t1", trimWildcard("WAL.t1"))
	assert.Equal(t, ".>", trimWildcard(".>"))
}
