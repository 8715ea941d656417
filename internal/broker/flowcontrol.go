package broker

import (
	"context"
	"sync"
)

// FlowGate bounds concurrently outstanding messages by count and byte volume.
// Acquire blocks in FIFO order until both budgets have headroom; Release
// returns the reservation. A single message larger than the byte budget is
// admitted alone (overdraft) so it can still be processed.
type FlowGate struct {
	mu          sync.Mutex
	maxMessages int
	maxBytes    int64
	count       int
	bytes       int64
	waiters     []*flowWaiter
}

type flowWaiter struct {
	size    int64
	granted bool
	ready   chan struct{}
}

// Permit is a reservation of one message slot and size bytes. It must be
// released exactly once.
type Permit struct {
	gate     *FlowGate
	size     int64
	released bool
	mu       sync.Mutex
}

// NewFlowGate creates a gate with the given budget.
func NewFlowGate(cfg FlowControlConfig) *FlowGate {
	cfg.ApplyDefaults()
	return &FlowGate{
		maxMessages: cfg.MaxMessages,
		maxBytes:    cfg.MaxBytes,
	}
}

// Acquire reserves one message slot and size bytes, blocking until the
// budget allows it or ctx is cancelled. Waiters are served in FIFO order.
func (g *FlowGate) Acquire(ctx context.Context, size int64) (*Permit, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	g.mu.Lock()
	if len(g.waiters) == 0 && g.admitsLocked(size) {
		g.count++
		g.bytes += size
		g.mu.Unlock()
		return &Permit{gate: g, size: size}, nil
	}

	w := &flowWaiter{size: size, ready: make(chan struct{})}
	g.waiters = append(g.waiters, w)
	g.mu.Unlock()

	select {
	case <-w.ready:
		return &Permit{gate: g, size: size}, nil
	case <-ctx.Done():
		g.mu.Lock()
		if w.granted {
			// Granted concurrently with cancellation; hand the budget back.
			g.releaseLocked(size)
			g.mu.Unlock()
			return nil, ctx.Err()
		}
		for i, cand := range g.waiters {
			if cand == w {
				g.waiters = append(g.waiters[:i], g.waiters[i+1:]...)
				break
			}
		}
		g.mu.Unlock()
		return nil, ctx.Err()
	}
}

// Release returns the reserved slot and bytes. Releasing a permit twice is a
// programming error and panics.
func (p *Permit) Release() {
	p.mu.Lock()
	if p.released {
		p.mu.Unlock()
		panic("broker: flow control permit released twice")
	}
	p.released = true
	p.mu.Unlock()

	p.gate.mu.Lock()
	p.gate.releaseLocked(p.size)
	p.gate.mu.Unlock()
}

// Stats returns the outstanding message count and byte volume.
func (g *FlowGate) Stats() (count int, bytes int64) {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.count, g.bytes
}

func (g *FlowGate) admitsLocked(size int64) bool {
	if g.count >= g.maxMessages {
		return false
	}
	if size > g.maxBytes {
		// Oversized: admit only when the byte budget is completely free, so
		// the overdraft covers exactly this one message.
		return g.bytes == 0
	}
	return g.bytes+size <= g.maxBytes
}

func (g *FlowGate) releaseLocked(size int64) {
	g.count--
	g.bytes -= size
	for len(g.waiters) > 0 {
		w := g.waiters[0]
		if !g.admitsLocked(w.size) {
			break
		}
		g.count++
		g.bytes += w.size
		w.granted = true
		close(w.ready)
		g.waiters = g.waiters[1:]
	}
}
