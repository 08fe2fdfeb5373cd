package render

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/ternarybob/revelo/internal/common"
)

func testSessionsConfig(max int, ttl time.Duration) *common.SessionsConfig {
	return &common.SessionsConfig{
		MaxSessions:   max,
		TTL:           ttl,
		SweepInterval: time.Hour,
	}
}

func TestSessionGetOrCreateReusesHandle(t *testing.T) {
	engine := newFakeEngine()
	store := NewSessionStore(engine, testSessionsConfig(4, time.Hour), testLogger(), nil)
	defer store.CloseAll()

	first, created, err := store.GetOrCreate(context.Background(), "alpha")
	if err != nil {
		t.Fatalf("GetOrCreate failed: %v", err)
	}
	if !created {
		t.Error("first GetOrCreate reported created=false")
	}

	second, created, err := store.GetOrCreate(context.Background(), "alpha")
	if err != nil {
		t.Fatalf("second GetOrCreate failed: %v", err)
	}
	if created {
		t.Error("second GetOrCreate reported created=true")
	}
	if first.ID != second.ID {
		t.Errorf("got a different context %s, want reuse of %s", second.ID, first.ID)
	}
}

func TestSessionCapacityEvictsExactlyOldest(t *testing.T) {
	engine := newFakeEngine()
	var evictedKeys []string
	var evictReasons []string
	store := NewSessionStore(engine, testSessionsConfig(2, time.Hour), testLogger(), func(key, reason string) {
		evictedKeys = append(evictedKeys, key)
		evictReasons = append(evictReasons, reason)
	})
	defer store.CloseAll()

	ctx := context.Background()
	if _, _, err := store.GetOrCreate(ctx, "old"); err != nil {
		t.Fatalf("create old: %v", err)
	}
	time.Sleep(5 * time.Millisecond)
	if _, _, err := store.GetOrCreate(ctx, "mid"); err != nil {
		t.Fatalf("create mid: %v", err)
	}
	time.Sleep(5 * time.Millisecond)

	// Touch "old" so "mid" becomes least recently used.
	if _, ok := store.Get("old"); !ok {
		t.Fatal("Get(old) missed")
	}
	time.Sleep(5 * time.Millisecond)

	if _, _, err := store.GetOrCreate(ctx, "new"); err != nil {
		t.Fatalf("create new: %v", err)
	}

	if len(evictedKeys) != 1 || evictedKeys[0] != "mid" {
		t.Errorf("evicted %v, want exactly [mid]", evictedKeys)
	}
	if len(evictReasons) != 1 || evictReasons[0] != "capacity" {
		t.Errorf("evict reasons %v, want [capacity]", evictReasons)
	}

	count, max, _ := store.Stats()
	if count != 2 || max != 2 {
		t.Errorf("Stats = (%d, %d), want (2, 2)", count, max)
	}
	if _, ok := store.Get("old"); !ok {
		t.Error("old was evicted, want it kept")
	}
}

func TestSessionConcurrentCreatesRespectCapacity(t *testing.T) {
	engine := newFakeEngine()
	engine.newContextDelay = 50 * time.Millisecond
	store := NewSessionStore(engine, testSessionsConfig(1, time.Hour), testLogger(), nil)
	defer store.CloseAll()

	if _, _, err := store.GetOrCreate(context.Background(), "a"); err != nil {
		t.Fatalf("seed session: %v", err)
	}

	// Two first-use creates for distinct keys overlap while their contexts
	// launch; both must land without pushing the store past its maximum.
	var wg sync.WaitGroup
	for _, key := range []string{"b", "c"} {
		wg.Add(1)
		go func(key string) {
			defer wg.Done()
			if _, _, err := store.GetOrCreate(context.Background(), key); err != nil {
				t.Errorf("GetOrCreate(%s) failed: %v", key, err)
			}
		}(key)
	}
	wg.Wait()

	count, max, _ := store.Stats()
	if count > max {
		t.Fatalf("store holds %d sessions with max %d", count, max)
	}
	// Three contexts were launched; every one but the survivor is closed.
	if got := engine.closedCount(); got != 2 {
		t.Errorf("closed contexts = %d, want 2", got)
	}
}

func TestSessionSweepExpiresOnlyIdleEntries(t *testing.T) {
	engine := newFakeEngine()
	var evicted []string
	store := NewSessionStore(engine, testSessionsConfig(8, 50*time.Millisecond), testLogger(), func(key, reason string) {
		if reason == "ttl" {
			evicted = append(evicted, key)
		}
	})
	defer store.CloseAll()

	ctx := context.Background()
	if _, _, err := store.GetOrCreate(ctx, "stale"); err != nil {
		t.Fatalf("create stale: %v", err)
	}
	if _, _, err := store.GetOrCreate(ctx, "fresh"); err != nil {
		t.Fatalf("create fresh: %v", err)
	}

	time.Sleep(80 * time.Millisecond)
	// Bump fresh past the cutoff.
	if _, ok := store.Get("fresh"); !ok {
		t.Fatal("Get(fresh) missed")
	}

	store.sweep()

	if len(evicted) != 1 || evicted[0] != "stale" {
		t.Errorf("ttl-evicted %v, want exactly [stale]", evicted)
	}
	if _, ok := store.Get("fresh"); !ok {
		t.Error("fresh was swept, want it kept")
	}
}

func TestSessionRemove(t *testing.T) {
	engine := newFakeEngine()
	store := NewSessionStore(engine, testSessionsConfig(4, time.Hour), testLogger(), nil)
	defer store.CloseAll()

	if _, _, err := store.GetOrCreate(context.Background(), "gone"); err != nil {
		t.Fatalf("GetOrCreate failed: %v", err)
	}

	if !store.Remove("gone") {
		t.Error("Remove(gone) = false, want true")
	}
	if store.Remove("gone") {
		t.Error("second Remove(gone) = true, want false")
	}
	if engine.closedCount() != 1 {
		t.Errorf("closed contexts = %d, want 1", engine.closedCount())
	}
}

func TestSessionCloseAllRefusesNewSessions(t *testing.T) {
	engine := newFakeEngine()
	store := NewSessionStore(engine, testSessionsConfig(4, time.Hour), testLogger(), nil)

	if _, _, err := store.GetOrCreate(context.Background(), "a"); err != nil {
		t.Fatalf("GetOrCreate failed: %v", err)
	}
	store.CloseAll()

	if engine.closedCount() != 1 {
		t.Errorf("closed contexts = %d, want 1", engine.closedCount())
	}
	if _, _, err := store.GetOrCreate(context.Background(), "b"); err == nil {
		t.Error("GetOrCreate after CloseAll succeeded, want error")
	}
}
