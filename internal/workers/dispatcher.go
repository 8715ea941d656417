package workers

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/walofficial/wal-server/internal/broker"
)

// Worker processes one decoded envelope. Returning an error nacks the
// underlying message; wrapping the error in broker.FatalError terminates it
// instead (no redelivery).
type Worker interface {
	Process(ctx context.Context, env *Envelope) error
}

// WorkerFunc adapts a function to the Worker interface.
type WorkerFunc func(ctx context.Context, env *Envelope) error

func (f WorkerFunc) Process(ctx context.Context, env *Envelope) error {
	return f(ctx, env)
}

// Dispatcher routes deliveries to registered workers by envelope kind.
// Undecodable payloads and unknown kinds are terminated as poison messages;
// redelivering them can never succeed.
type Dispatcher struct {
	mu      sync.RWMutex
	workers map[string]Worker
	logger  *slog.Logger
}

// NewDispatcher creates an empty dispatcher.
func NewDispatcher(logger *slog.Logger) *Dispatcher {
	if logger == nil {
		logger = slog.Default()
	}
	return &Dispatcher{
		workers: make(map[string]Worker),
		logger:  logger,
	}
}

// Register binds a worker to an envelope kind, replacing any previous
// binding.
func (d *Dispatcher) Register(kind string, w Worker) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.workers[kind] = w
}

// Handler returns the broker handler that decodes envelopes and invokes the
// matching worker.
func (d *Dispatcher) Handler() broker.Handler {
	return func(ctx context.Context, msg *broker.Delivery) error {
		env, err := DecodeEnvelope(msg.Payload)
		if err != nil {
			d.logger.Error("invalid envelope, terminating message",
				"message_id", msg.ID, "error", err)
			return msg.Term()
		}

		d.mu.RLock()
		w, ok := d.workers[env.Kind]
		d.mu.RUnlock()
		if !ok {
			d.logger.Error("no worker for envelope kind, terminating message",
				"message_id", msg.ID, "kind", env.Kind)
			return msg.Term()
		}

		if err := w.Process(ctx, env); err != nil {
			if broker.IsFatal(err) {
				d.logger.Error("worker failed fatally, terminating message",
					"message_id", msg.ID, "kind", env.Kind, "task_id", env.TaskID, "error", err)
				return msg.Term()
			}
			return fmt.Errorf("worker %q failed for task %s: %w", env.Kind, env.TaskID, err)
		}
		return nil
	}
}
