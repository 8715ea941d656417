package broker_test

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/walofficial/wal-server/internal/broker"
	"github.com/walofficial/wal-server/internal/broker/memory"
)

func memoryRegistry(t *testing.T) *broker.Registry {
	t.Helper()
	opts := broker.Options{
		StreamName: "WAL",
		Retry: broker.RetrySchedule{
			Initial:    time.Millisecond,
			Max:        5 * time.Millisecond,
			Multiplier: 2.0,
		},
		PublishTimeout: time.Second,
		AckWait:        time.Second,
	}
	r := broker.NewRegistry(memory.New(), opts, nil, nil)
	t.Cleanup(func() { r.Shutdown(time.Second) })
	return r
}

func TestEndToEnd_PublishAndConsume(t *testing.T) {
	r := memoryRegistry(t)

	received := make(chan []byte, 1)
	_, err := r.StartSubscription(context.Background(), "user-posts", "user-posts-sub", nil,
		func(ctx context.Context, d *broker.Delivery) error {
			received <- d.Payload
			return nil
		})
	require.NoError(t, err)

	id, err := r.Publish(context.Background(), "user-posts", []byte("hello"), 0)
	require.NoError(t, err)
	assert.NotEmpty(t, id)

	select {
	case payload := <-received:
		assert.Equal(t, []byte("hello"), payload)
	case <-time.After(2 * time.Second):
		t.Fatal("message was not delivered")
	}
}

func TestEndToEnd_FailureRedelivers(t *testing.T) {
	r := memoryRegistry(t)

	var mu sync.Mutex
	var attempts []uint64
	done := make(chan struct{})

	_, err := r.StartSubscription(context.Background(), "user-posts", "user-posts-sub", nil,
		func(ctx context.Context, d *broker.Delivery) error {
			mu.Lock()
			attempts = append(attempts, d.Attempt)
			n := len(attempts)
			mu.Unlock()
			if n == 1 {
				return errors.New("transient failure")
			}
			close(done)
			return nil
		})
	require.NoError(t, err)

	_, err = r.Publish(context.Background(), "user-posts", []byte("payload"), 0)
	require.NoError(t, err)

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("message was not redelivered after a handler failure")
	}

	mu.Lock()
	defer mu.Unlock()
	require.Len(t, attempts, 2)
	assert.Equal(t, uint64(1), attempts[0])
	assert.Equal(t, uint64(2), attempts[1])
}

func TestEndToEnd_OrderingKeyReachesTopicSubscription(t *testing.T) {
	r := memoryRegistry(t)

	received := make(chan string, 1)
	_, err := r.StartSubscription(context.Background(), "user-posts", "user-posts-sub", nil,
		func(ctx context.Context, d *broker.Delivery) error {
			received <- d.Subject
			return nil
		})
	require.NoError(t, err)

	_, err = r.PublishWithOpts(context.Background(), "user-posts", []byte("payload"), 0,
		broker.PublishOpts{OrderingKey: "user-42"})
	require.NoError(t, err)

	select {
	case subject := <-received:
		assert.Equal(t, "user-posts.user-42", subject)
	case <-time.After(2 * time.Second):
		t.Fatal("message was not delivered")
	}
}

func TestEndToEnd_FanoutToMultipleSubscriptions(t *testing.T) {
	r := memoryRegistry(t)

	var countA, countB atomic.Int32
	_, err := r.StartSubscription(context.Background(), "user-posts", "sub-a", nil,
		func(ctx context.Context, d *broker.Delivery) error {
			countA.Add(1)
			return nil
		})
	require.NoError(t, err)
	_, err = r.StartSubscription(context.Background(), "user-posts", "sub-b", nil,
		func(ctx context.Context, d *broker.Delivery) error {
			countB.Add(1)
			return nil
		})
	require.NoError(t, err)

	_, err = r.Publish(context.Background(), "user-posts", []byte("payload"), 0)
	require.NoError(t, err)

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if countA.Load() == 1 && countB.Load() == 1 {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("fanout incomplete: sub-a=%d sub-b=%d", countA.Load(), countB.Load())
}
