package render

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"
)

func TestGateAdmitsUpToLimit(t *testing.T) {
	g := NewAdmissionGate(2)

	if err := g.Acquire(context.Background()); err != nil {
		t.Fatalf("first Acquire failed: %v", err)
	}
	if err := g.Acquire(context.Background()); err != nil {
		t.Fatalf("second Acquire failed: %v", err)
	}

	limit, inUse, waiting := g.Stats()
	if limit != 2 || inUse != 2 || waiting != 0 {
		t.Errorf("Stats = (%d, %d, %d), want (2, 2, 0)", limit, inUse, waiting)
	}

	g.Release()
	g.Release()
	if _, inUse, _ := g.Stats(); inUse != 0 {
		t.Errorf("inUse after releases = %d, want 0", inUse)
	}
}

func TestGateBlocksAtLimitAndHandsOffOnRelease(t *testing.T) {
	g := NewAdmissionGate(1)
	if err := g.Acquire(context.Background()); err != nil {
		t.Fatalf("Acquire failed: %v", err)
	}

	admitted := make(chan struct{})
	go func() {
		if err := g.Acquire(context.Background()); err == nil {
			close(admitted)
		}
	}()

	// Waiter must be queued, not admitted.
	deadline := time.After(time.Second)
	for {
		if _, _, waiting := g.Stats(); waiting == 1 {
			break
		}
		select {
		case <-deadline:
			t.Fatal("waiter never queued")
		case <-time.After(time.Millisecond):
		}
	}
	select {
	case <-admitted:
		t.Fatal("waiter admitted past the limit")
	default:
	}

	g.Release()
	select {
	case <-admitted:
	case <-time.After(time.Second):
		t.Fatal("waiter not admitted after release")
	}

	// Slot was handed off, not freed: inUse stays at 1.
	if _, inUse, _ := g.Stats(); inUse != 1 {
		t.Errorf("inUse after handoff = %d, want 1", inUse)
	}
	g.Release()
}

func TestGateWaitersAdmittedInFIFOOrder(t *testing.T) {
	g := NewAdmissionGate(1)
	if err := g.Acquire(context.Background()); err != nil {
		t.Fatalf("Acquire failed: %v", err)
	}

	const waiters = 5
	var mu sync.Mutex
	var order []int

	for i := 0; i < waiters; i++ {
		i := i
		// Enqueue strictly one at a time so queue order is deterministic.
		ready := make(chan struct{})
		go func() {
			close(ready)
			if err := g.Acquire(context.Background()); err != nil {
				return
			}
			mu.Lock()
			order = append(order, i)
			mu.Unlock()
			g.Release()
		}()
		<-ready
		deadline := time.After(time.Second)
		for {
			if _, _, waiting := g.Stats(); waiting == i+1 {
				break
			}
			select {
			case <-deadline:
				t.Fatalf("waiter %d never queued", i)
			case <-time.After(time.Millisecond):
			}
		}
	}

	g.Release()

	deadline := time.After(2 * time.Second)
	for {
		mu.Lock()
		n := len(order)
		mu.Unlock()
		if n == waiters {
			break
		}
		select {
		case <-deadline:
			t.Fatalf("only %d of %d waiters admitted", n, waiters)
		case <-time.After(time.Millisecond):
		}
	}

	mu.Lock()
	defer mu.Unlock()
	for i, got := range order {
		if got != i {
			t.Fatalf("admission order = %v, want strictly FIFO", order)
		}
	}
}

func TestGateCancelledWaiterIsRemoved(t *testing.T) {
	g := NewAdmissionGate(1)
	if err := g.Acquire(context.Background()); err != nil {
		t.Fatalf("Acquire failed: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	errCh := make(chan error, 1)
	go func() { errCh <- g.Acquire(ctx) }()

	deadline := time.After(time.Second)
	for {
		if _, _, waiting := g.Stats(); waiting == 1 {
			break
		}
		select {
		case <-deadline:
			t.Fatal("waiter never queued")
		case <-time.After(time.Millisecond):
		}
	}

	cancel()
	if err := <-errCh; !errors.Is(err, context.Canceled) {
		t.Errorf("cancelled waiter error = %v, want context.Canceled", err)
	}
	if _, _, waiting := g.Stats(); waiting != 0 {
		t.Errorf("waiting after cancellation = %d, want 0", waiting)
	}

	// The held slot is unaffected.
	g.Release()
	if _, inUse, _ := g.Stats(); inUse != 0 {
		t.Errorf("inUse after release = %d, want 0", inUse)
	}
}

func TestGateDrainAbortsWaitersAndWaitsForHolders(t *testing.T) {
	g := NewAdmissionGate(1)
	if err := g.Acquire(context.Background()); err != nil {
		t.Fatalf("Acquire failed: %v", err)
	}

	waiterErr := make(chan error, 1)
	go func() { waiterErr <- g.Acquire(context.Background()) }()

	deadline := time.After(time.Second)
	for {
		if _, _, waiting := g.Stats(); waiting == 1 {
			break
		}
		select {
		case <-deadline:
			t.Fatal("waiter never queued")
		case <-time.After(time.Millisecond):
		}
	}

	drained := make(chan error, 1)
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		drained <- g.Drain(ctx)
	}()

	// The queued waiter is aborted immediately.
	if err := <-waiterErr; !errors.Is(err, ErrAdmissionClosed) {
		t.Errorf("drained waiter error = %v, want ErrAdmissionClosed", err)
	}

	// Drain waits for the holder.
	select {
	case err := <-drained:
		t.Fatalf("Drain returned %v with a slot still held", err)
	case <-time.After(100 * time.Millisecond):
	}

	g.Release()
	if err := <-drained; err != nil {
		t.Fatalf("Drain failed: %v", err)
	}

	// New arrivals are refused after drain.
	if err := g.Acquire(context.Background()); !errors.Is(err, ErrAdmissionClosed) {
		t.Errorf("post-drain Acquire error = %v, want ErrAdmissionClosed", err)
	}
}

func TestGateDrainWithNoHoldersReturnsImmediately(t *testing.T) {
	g := NewAdmissionGate(4)
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	if err := g.Drain(ctx); err != nil {
		t.Fatalf("Drain of idle gate failed: %v", err)
	}
}
