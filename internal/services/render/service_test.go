package render

import (
	"context"
	"testing"
	"time"

	"github.com/ternarybob/revelo/pkg/models"
)

func newTestService(t *testing.T, engine *fakeEngine) *Service {
	t.Helper()
	cfg := testConfig()
	svc := NewService(engine, nil, nil, nil, cfg, testLogger())
	if err := svc.Start(context.Background()); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	return svc
}

func TestServiceLifecycle(t *testing.T) {
	engine := newFakeEngine()
	engine.titleScript = []string{"Example Domain"}
	engine.bodyScript = []string{"plain content"}
	engine.content = cleanPage

	svc := newTestService(t, engine)

	if !svc.IsReady() {
		t.Fatal("service not ready after Start")
	}
	if stats := svc.PoolStats(); stats.Size != 1 || stats.Available != 1 {
		t.Errorf("PoolStats = %+v, want size 1 available 1", stats)
	}

	result, err := svc.Render(context.Background(), &models.RenderRequest{URL: "https://example.com"})
	if err != nil {
		t.Fatalf("Render failed: %v", err)
	}
	if result.Status != 200 {
		t.Errorf("Status = %d, want 200", result.Status)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := svc.Close(ctx); err != nil {
		t.Fatalf("Close failed: %v", err)
	}

	if svc.IsReady() {
		t.Error("service still ready after Close")
	}
	if _, err := svc.Render(context.Background(), &models.RenderRequest{URL: "https://example.com"}); err == nil {
		t.Error("Render accepted after Close")
	}
}

func TestServiceStartFailsWhenPoolCannotWarm(t *testing.T) {
	engine := newFakeEngine()
	engine.newContextErr = context.DeadlineExceeded

	cfg := testConfig()
	svc := NewService(engine, nil, nil, nil, cfg, testLogger())
	if err := svc.Start(context.Background()); err == nil {
		t.Fatal("Start succeeded with an unwarmable pool")
	}
	if svc.IsReady() {
		t.Error("service ready despite failed start")
	}
}

func TestServiceSessionManagement(t *testing.T) {
	engine := newFakeEngine()
	svc := newTestService(t, engine)
	defer svc.Close(context.Background())

	key, err := svc.CreateSession(context.Background(), "")
	if err != nil {
		t.Fatalf("CreateSession failed: %v", err)
	}
	if key == "" {
		t.Fatal("CreateSession returned empty key")
	}

	named, err := svc.CreateSession(context.Background(), "named")
	if err != nil {
		t.Fatalf("CreateSession(named) failed: %v", err)
	}
	if named != "named" {
		t.Errorf("key = %q, want the caller's key preserved", named)
	}

	if got := len(svc.ListSessions()); got != 2 {
		t.Errorf("ListSessions len = %d, want 2", got)
	}

	if !svc.RemoveSession("named") {
		t.Error("RemoveSession(named) = false, want true")
	}
	if svc.RemoveSession("missing") {
		t.Error("RemoveSession(missing) = true, want false")
	}
	if got := len(svc.ListSessions()); got != 1 {
		t.Errorf("ListSessions len after remove = %d, want 1", got)
	}
}
