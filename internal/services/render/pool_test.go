package render

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/ternarybob/revelo/internal/common"
	"github.com/ternarybob/revelo/pkg/models"
)

func testPoolConfig(size int) *common.PoolConfig {
	return &common.PoolConfig{
		Size:           size,
		AcquireTimeout: 200 * time.Millisecond,
		IdleEvictAfter: time.Hour,
		EvictInterval:  time.Hour,
	}
}

func TestPoolWarmFillsToSize(t *testing.T) {
	engine := newFakeEngine()
	pool := NewContextPool(engine, testPoolConfig(3), testLogger())

	if err := pool.Warm(context.Background()); err != nil {
		t.Fatalf("Warm failed: %v", err)
	}

	size, available := pool.Stats()
	if size != 3 || available != 3 {
		t.Errorf("Stats = (%d, %d), want (3, 3)", size, available)
	}
}

func TestPoolWarmFailureDestroysPartialSet(t *testing.T) {
	engine := newFakeEngine()
	engine.failContextAfter = 2
	pool := NewContextPool(engine, testPoolConfig(3), testLogger())

	err := pool.Warm(context.Background())
	if err == nil {
		t.Fatal("Warm succeeded, want failure")
	}
	// Everything created before the failure must have been torn down.
	engine.mu.Lock()
	live := len(engine.liveContexts)
	engine.mu.Unlock()
	if live != 0 {
		t.Errorf("live contexts after failed warm = %d, want 0", live)
	}
}

func TestPoolAcquireBeforeWarmIsRefused(t *testing.T) {
	engine := newFakeEngine()
	pool := NewContextPool(engine, testPoolConfig(2), testLogger())

	_, err := pool.Acquire(context.Background())
	if models.KindOf(err) != models.ErrKindPoolExhausted {
		t.Errorf("error kind = %v, want pool_exhausted", models.KindOf(err))
	}
}

func TestPoolAcquireReleaseCycle(t *testing.T) {
	engine := newFakeEngine()
	pool := NewContextPool(engine, testPoolConfig(1), testLogger())
	if err := pool.Warm(context.Background()); err != nil {
		t.Fatalf("Warm failed: %v", err)
	}

	pc, err := pool.Acquire(context.Background())
	if err != nil {
		t.Fatalf("Acquire failed: %v", err)
	}
	if _, available := pool.Stats(); available != 0 {
		t.Errorf("available after acquire = %d, want 0", available)
	}

	pool.Release(pc)
	if _, available := pool.Stats(); available != 1 {
		t.Errorf("available after release = %d, want 1", available)
	}

	again, err := pool.Acquire(context.Background())
	if err != nil {
		t.Fatalf("re-Acquire failed: %v", err)
	}
	if again.ID != pc.ID {
		t.Errorf("re-acquired context %s, want the released one %s", again.ID, pc.ID)
	}
	pool.Release(again)
}

func TestPoolAcquireTimesOutWhenEmpty(t *testing.T) {
	engine := newFakeEngine()
	pool := NewContextPool(engine, testPoolConfig(1), testLogger())
	if err := pool.Warm(context.Background()); err != nil {
		t.Fatalf("Warm failed: %v", err)
	}

	pc, _ := pool.Acquire(context.Background())
	defer pool.Release(pc)

	_, err := pool.Acquire(context.Background())
	if models.KindOf(err) != models.ErrKindPoolTimeout {
		t.Errorf("error kind = %v, want pool_timeout", models.KindOf(err))
	}
}

func TestPoolDeadContextIsReplacedOnAcquire(t *testing.T) {
	engine := newFakeEngine()
	pool := NewContextPool(engine, testPoolConfig(1), testLogger())
	if err := pool.Warm(context.Background()); err != nil {
		t.Fatalf("Warm failed: %v", err)
	}

	pc, _ := pool.Acquire(context.Background())
	dead := pc.Handle
	pool.Release(pc)
	engine.markDead(dead)

	fresh, err := pool.Acquire(context.Background())
	if err != nil {
		t.Fatalf("Acquire after dead context failed: %v", err)
	}
	if fresh.Handle.ID == dead.ID {
		t.Error("acquired the dead context, want a replacement")
	}
	if engine.closedCount() != 1 {
		t.Errorf("closed contexts = %d, want 1 (the dead one)", engine.closedCount())
	}
	pool.Release(fresh)

	// Pool stays at fixed size.
	size, available := pool.Stats()
	if size != 1 || available != 1 {
		t.Errorf("Stats = (%d, %d), want (1, 1)", size, available)
	}
}

// loseOneSlot kills a pooled context and blocks its replacement from
// being created, leaving the pool one slot short.
func loseOneSlot(t *testing.T, engine *fakeEngine, pool *ContextPool) {
	t.Helper()

	doomed, err := pool.Acquire(context.Background())
	if err != nil {
		t.Fatalf("Acquire failed: %v", err)
	}
	survivor, err := pool.Acquire(context.Background())
	if err != nil {
		t.Fatalf("second Acquire failed: %v", err)
	}
	engine.markDead(doomed.Handle)
	engine.newContextErr = fmt.Errorf("browser gone")
	pool.Release(doomed)
	pool.Release(survivor)

	// The dead context is caught on checkout; its replacement cannot be
	// built, so the retry hands out the survivor.
	pc, err := pool.Acquire(context.Background())
	if err != nil {
		t.Fatalf("Acquire after dead context failed: %v", err)
	}
	if pc.ID != survivor.ID {
		t.Fatalf("acquired %s, want the surviving context %s", pc.ID, survivor.ID)
	}
	pool.Release(pc)
}

func TestPoolFailedReplacementIsRebuiltOnEviction(t *testing.T) {
	engine := newFakeEngine()
	pool := NewContextPool(engine, testPoolConfig(2), testLogger())
	if err := pool.Warm(context.Background()); err != nil {
		t.Fatalf("Warm failed: %v", err)
	}

	loseOneSlot(t, engine, pool)
	if _, available := pool.Stats(); available != 1 {
		t.Fatalf("available = %d, want 1 while a slot is missing", available)
	}

	// Context creation recovers; the eviction pass restores the pool to
	// its fixed size.
	engine.newContextErr = nil
	pool.evictIdle()
	if _, available := pool.Stats(); available != 2 {
		t.Errorf("available = %d, want 2 after rebuild", available)
	}

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	if err := pool.Drain(ctx); err != nil {
		t.Fatalf("Drain failed: %v", err)
	}
}

func TestPoolDrainCountsOnlyLiveContexts(t *testing.T) {
	engine := newFakeEngine()
	pool := NewContextPool(engine, testPoolConfig(2), testLogger())
	if err := pool.Warm(context.Background()); err != nil {
		t.Fatalf("Warm failed: %v", err)
	}

	loseOneSlot(t, engine, pool)

	// One slot is gone for good, so the drain must finish once the single
	// live context comes back instead of waiting for the full size.
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	if err := pool.Drain(ctx); err != nil {
		t.Fatalf("Drain failed with a lost slot: %v", err)
	}

	engine.mu.Lock()
	live := len(engine.liveContexts)
	engine.mu.Unlock()
	if live != 0 {
		t.Errorf("live contexts after drain = %d, want 0", live)
	}
}

func TestPoolDrainWaitsForOutstanding(t *testing.T) {
	engine := newFakeEngine()
	pool := NewContextPool(engine, testPoolConfig(2), testLogger())
	if err := pool.Warm(context.Background()); err != nil {
		t.Fatalf("Warm failed: %v", err)
	}

	pc, _ := pool.Acquire(context.Background())

	drained := make(chan error, 1)
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		drained <- pool.Drain(ctx)
	}()

	// Drain must not complete while one context is checked out.
	select {
	case err := <-drained:
		t.Fatalf("Drain returned %v before outstanding context came back", err)
	case <-time.After(100 * time.Millisecond):
	}

	// New acquisitions are refused mid-drain.
	if _, err := pool.Acquire(context.Background()); models.KindOf(err) != models.ErrKindPoolExhausted {
		t.Errorf("acquire during drain kind = %v, want pool_exhausted", models.KindOf(err))
	}

	pool.Release(pc)
	if err := <-drained; err != nil {
		t.Fatalf("Drain failed: %v", err)
	}

	engine.mu.Lock()
	live := len(engine.liveContexts)
	engine.mu.Unlock()
	if live != 0 {
		t.Errorf("live contexts after drain = %d, want 0", live)
	}
}

func TestPoolDrainInterruptedByContext(t *testing.T) {
	engine := newFakeEngine()
	pool := NewContextPool(engine, testPoolConfig(1), testLogger())
	if err := pool.Warm(context.Background()); err != nil {
		t.Fatalf("Warm failed: %v", err)
	}

	pc, _ := pool.Acquire(context.Background())
	defer pool.Release(pc)

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	if err := pool.Drain(ctx); err == nil {
		t.Error("Drain succeeded with a context still outstanding, want error")
	}
}
