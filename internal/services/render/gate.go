package render

import (
	"context"
	"errors"
	"sync"
)

// ErrAdmissionClosed is returned by Acquire once the gate is draining.
var ErrAdmissionClosed = errors.New("admission gate closed")

// AdmissionGate bounds how many renders run at once. Waiters queue in
// strict FIFO order; Release hands its slot directly to the queue head so
// a late arrival can never jump an earlier waiter.
type AdmissionGate struct {
	mu      sync.Mutex
	limit   int
	inUse   int
	waiters []chan bool

	draining  bool
	drainDone chan struct{}
}

// NewAdmissionGate creates a gate admitting at most limit concurrent
// holders.
func NewAdmissionGate(limit int) *AdmissionGate {
	if limit < 1 {
		limit = 1
	}
	return &AdmissionGate{
		limit:     limit,
		drainDone: make(chan struct{}),
	}
}

// Acquire takes a slot, waiting in FIFO order when the gate is full. The
// caller bounds the wait through ctx; on cancellation the waiter is
// removed from the queue, and a slot that was already handed to it is
// passed on so it is never lost.
func (g *AdmissionGate) Acquire(ctx context.Context) error {
	g.mu.Lock()
	if g.draining {
		g.mu.Unlock()
		return ErrAdmissionClosed
	}
	if g.inUse < g.limit && len(g.waiters) == 0 {
		g.inUse++
		g.mu.Unlock()
		return nil
	}

	// true = slot handed off (inUse already counted), closed = aborted
	ready := make(chan bool, 1)
	g.waiters = append(g.waiters, ready)
	g.mu.Unlock()

	select {
	case granted := <-ready:
		if !granted {
			return ErrAdmissionClosed
		}
		return nil
	case <-ctx.Done():
		g.mu.Lock()
		for i, w := range g.waiters {
			if w == ready {
				g.waiters = append(g.waiters[:i], g.waiters[i+1:]...)
				g.mu.Unlock()
				return ctx.Err()
			}
		}
		g.mu.Unlock()
		// handoff or drain raced the cancellation
		if granted := <-ready; granted {
			g.Release()
		}
		return ctx.Err()
	}
}

// Release frees a slot. If anyone is waiting the slot transfers directly
// to the head of the queue; otherwise the in-use count drops. The final
// release during a drain closes the drain channel.
func (g *AdmissionGate) Release() {
	g.mu.Lock()
	defer g.mu.Unlock()

	if len(g.waiters) > 0 && !g.draining {
		ready := g.waiters[0]
		g.waiters = g.waiters[1:]
		ready <- true
		return
	}

	g.inUse--
	if g.draining && g.inUse == 0 {
		select {
		case <-g.drainDone:
		default:
			close(g.drainDone)
		}
	}
}

// Drain stops admitting, aborts queued waiters, and waits for every
// in-flight holder to release.
func (g *AdmissionGate) Drain(ctx context.Context) error {
	g.mu.Lock()
	g.draining = true
	waiters := g.waiters
	g.waiters = nil
	if g.inUse == 0 {
		select {
		case <-g.drainDone:
		default:
			close(g.drainDone)
		}
	}
	g.mu.Unlock()

	for _, w := range waiters {
		close(w)
	}

	select {
	case <-g.drainDone:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Stats reports the configured limit, slots in use, and queued waiters.
func (g *AdmissionGate) Stats() (limit, inUse, waiting int) {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.limit, g.inUse, len(g.waiters)
}
