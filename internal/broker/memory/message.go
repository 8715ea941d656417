package memory

import (
	"sync"
	"time"

	"github.com/walofficial/wal-server/internal/broker"
)

// memoryMessage implements broker.Message for in-memory delivery. The same
// instance is requeued on nack or lease expiry, tracking delivery attempts.
type memoryMessage struct {
	id        string
	data      []byte
	subject   string
	timestamp time.Time

	engine *Engine
	sub    *subscription

	mu           sync.Mutex
	numDelivered uint64
	settled      bool // acked or termed: terminal
	naked        bool // set between nack and redelivery
	lease        *time.Timer
}

func (m *memoryMessage) Data() []byte {
	return m.data
}

func (m *memoryMessage) ID() string {
	return m.id
}

func (m *memoryMessage) Subject() string {
	return m.subject
}

// arm starts the lease countdown for one delivery attempt. Called by the
// consumer loop as the message is handed out.
func (m *memoryMessage) arm() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.numDelivered++
	m.naked = false
	if m.lease != nil {
		m.lease.Stop()
	}
	m.lease = time.AfterFunc(m.sub.ackWait, m.expire)
}

// expire fires on lease expiry and hands the message back for redelivery.
func (m *memoryMessage) expire() {
	m.mu.Lock()
	if m.settled || m.naked {
		m.mu.Unlock()
		return
	}
	m.mu.Unlock()
	m.requeue()
}

// Ack acknowledges successful processing. Idempotent.
func (m *memoryMessage) Ack() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.settled || m.naked {
		return nil
	}
	m.settled = true
	m.stopLeaseLocked()
	return nil
}

// Nak signals processing failure and requeues immediately.
func (m *memoryMessage) Nak() error {
	m.mu.Lock()
	if m.settled || m.naked {
		m.mu.Unlock()
		return nil
	}
	m.naked = true
	m.stopLeaseLocked()
	m.mu.Unlock()

	m.requeue()
	return nil
}

// InProgress resets the lease timer, extending the ack deadline.
func (m *memoryMessage) InProgress() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.settled || m.naked {
		return nil
	}
	if m.lease != nil {
		m.lease.Reset(m.sub.ackWait)
	}
	return nil
}

// Term terminates the message with no redelivery. Idempotent.
func (m *memoryMessage) Term() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.settled || m.naked {
		return nil
	}
	m.settled = true
	m.stopLeaseLocked()
	return nil
}

func (m *memoryMessage) Metadata() (broker.MessageMetadata, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return broker.MessageMetadata{
		NumDelivered: m.numDelivered,
		Timestamp:    m.timestamp,
		Subject:      m.subject,
		Consumer:     m.sub.name,
	}, nil
}

func (m *memoryMessage) stopLeaseLocked() {
	if m.lease != nil {
		m.lease.Stop()
		m.lease = nil
	}
}

func (m *memoryMessage) requeue() {
	if m.engine.IsClosed() {
		return
	}
	select {
	case m.sub.queue <- m:
	case <-m.engine.done:
	}
}
