package render

import (
	"context"
	"testing"
	"time"

	"github.com/ternarybob/revelo/internal/common"
	"github.com/ternarybob/revelo/pkg/models"
)

func testChallengeConfig(maxRounds int) *common.ChallengeConfig {
	return &common.ChallengeConfig{
		MaxRounds:        maxRounds,
		SettleWait:       time.Millisecond,
		NavWaitTimeout:   time.Millisecond,
		MinContentLength: 64,
		MaxBodyProbe:     4096,
	}
}

func newTestResolver(engine *fakeEngine, maxRounds int, onRound roundNotify) *ChallengeResolver {
	detector := NewChallengeDetector(nil)
	return NewChallengeResolver(engine, detector, testChallengeConfig(maxRounds), testLogger(), onRound)
}

func mustContext(t *testing.T, engine *fakeEngine) *BrowserContext {
	t.Helper()
	bc, err := engine.NewContext(context.Background(), ContextOptions{})
	if err != nil {
		t.Fatalf("NewContext failed: %v", err)
	}
	return bc
}

func mustPage(t *testing.T, engine *fakeEngine, bc *BrowserContext) *Page {
	t.Helper()
	p, err := engine.NewPage(context.Background(), bc)
	if err != nil {
		t.Fatalf("NewPage failed: %v", err)
	}
	return p
}

func TestResolverNotChallengedExitsImmediately(t *testing.T) {
	engine := newFakeEngine()
	engine.titleScript = []string{"Example Domain"}
	engine.bodyScript = []string{"plain content"}
	r := newTestResolver(engine, 5, nil)

	bc := mustContext(t, engine)
	p := mustPage(t, engine, bc)

	outcome, rounds, err := r.Resolve(context.Background(), bc, p, "example.com")
	if err != nil {
		t.Fatalf("Resolve failed: %v", err)
	}
	if outcome != OutcomeNotChallenged || rounds != 0 {
		t.Errorf("outcome = %v rounds = %d, want not_challenged with 0 rounds", outcome, rounds)
	}
	if engine.mouseMoves != 0 || engine.reloads != 0 {
		t.Error("resolver touched the page without a challenge")
	}
}

func TestResolverExistingClearanceSkipsRounds(t *testing.T) {
	engine := newFakeEngine()
	engine.titleScript = []string{"Just a moment..."}
	engine.bodyScript = []string{"Checking your browser"}
	r := newTestResolver(engine, 5, nil)

	bc := mustContext(t, engine)
	engine.setCookie(bc, models.Cookie{Name: "cf_clearance", Value: "tok", Domain: "example.com"})
	p := mustPage(t, engine, bc)

	outcome, rounds, err := r.Resolve(context.Background(), bc, p, "example.com")
	if err != nil {
		t.Fatalf("Resolve failed: %v", err)
	}
	if outcome != OutcomeCleared || rounds != 0 {
		t.Errorf("outcome = %v rounds = %d, want cleared with 0 rounds", outcome, rounds)
	}
}

func TestResolverClearsAfterRounds(t *testing.T) {
	engine := newFakeEngine()
	// Check 0: initial (challenged). Checks 1 and 2: rounds one and two;
	// the page clears on the second round.
	engine.titleScript = []string{"Just a moment...", "Just a moment...", "Example Domain"}
	engine.bodyScript = []string{"Checking your browser", "Checking your browser", "real content"}

	var rounds []int
	r := newTestResolver(engine, 5, func(round, max int) { rounds = append(rounds, round) })

	bc := mustContext(t, engine)
	p := mustPage(t, engine, bc)

	outcome, used, err := r.Resolve(context.Background(), bc, p, "example.com")
	if err != nil {
		t.Fatalf("Resolve failed: %v", err)
	}
	if outcome != OutcomeCleared {
		t.Errorf("outcome = %v, want cleared", outcome)
	}
	if used != 2 {
		t.Errorf("rounds used = %d, want 2", used)
	}
	if len(rounds) != 2 || rounds[0] != 1 || rounds[1] != 2 {
		t.Errorf("round notifications = %v, want [1 2]", rounds)
	}
	if engine.mouseMoves == 0 {
		t.Error("no humanization input during rounds")
	}
	if engine.reloads != 0 {
		t.Errorf("reloads = %d, want 0 when cleared within budget", engine.reloads)
	}
}

func TestResolverClearanceCookieMidRoundWins(t *testing.T) {
	engine := newFakeEngine()
	engine.titleScript = []string{"Just a moment..."}
	engine.bodyScript = []string{"Checking your browser"}

	r := newTestResolver(engine, 5, nil)
	bc := mustContext(t, engine)
	p := mustPage(t, engine, bc)

	// Plant the clearance after the initial check has already run, as the
	// real challenge flow does.
	done := make(chan struct{})
	go func() {
		time.Sleep(2 * time.Millisecond)
		engine.setCookie(bc, models.Cookie{Name: "cf_clearance", Value: "tok", Domain: "example.com"})
		close(done)
	}()

	outcome, used, err := r.Resolve(context.Background(), bc, p, "example.com")
	<-done
	if err != nil {
		t.Fatalf("Resolve failed: %v", err)
	}
	if outcome != OutcomeCleared {
		t.Errorf("outcome = %v, want cleared via cookie", outcome)
	}
	if used < 1 || used > 5 {
		t.Errorf("rounds used = %d, want within budget", used)
	}
}

func TestResolverExhaustsBudgetWithOneReload(t *testing.T) {
	engine := newFakeEngine()
	engine.titleScript = []string{"Just a moment..."}
	engine.bodyScript = []string{"Checking your browser"}

	r := newTestResolver(engine, 3, nil)
	bc := mustContext(t, engine)
	p := mustPage(t, engine, bc)

	outcome, used, err := r.Resolve(context.Background(), bc, p, "example.com")
	if err != nil {
		t.Fatalf("Resolve failed: %v", err)
	}
	if outcome != OutcomeStillChallenged {
		t.Errorf("outcome = %v, want still_challenged", outcome)
	}
	if used != 3 {
		t.Errorf("rounds used = %d, want full budget of 3", used)
	}
	if engine.reloads != 1 {
		t.Errorf("reloads = %d, want exactly 1", engine.reloads)
	}
}

func TestResolverReloadRescuesStubbornPage(t *testing.T) {
	engine := newFakeEngine()
	// Challenged through every round check; the check after the reload
	// (call index 1+maxRounds+1) sees the real page.
	engine.titleScript = []string{
		"Just a moment...", "Just a moment...", "Just a moment...", "Example Domain",
	}
	engine.bodyScript = []string{
		"Checking your browser", "Checking your browser", "Checking your browser", "real content",
	}

	r := newTestResolver(engine, 2, nil)
	bc := mustContext(t, engine)
	p := mustPage(t, engine, bc)

	outcome, used, err := r.Resolve(context.Background(), bc, p, "example.com")
	if err != nil {
		t.Fatalf("Resolve failed: %v", err)
	}
	if outcome != OutcomeCleared {
		t.Errorf("outcome = %v, want cleared by the post-budget reload", outcome)
	}
	if used != 2 {
		t.Errorf("rounds used = %d, want 2", used)
	}
	if engine.reloads != 1 {
		t.Errorf("reloads = %d, want 1", engine.reloads)
	}
}

func TestResolverContextCancellationPropagates(t *testing.T) {
	engine := newFakeEngine()
	engine.titleScript = []string{"Just a moment..."}
	engine.bodyScript = []string{"Checking your browser"}

	cfg := testChallengeConfig(10)
	cfg.SettleWait = time.Hour // force the cancel to hit during settle
	r := NewChallengeResolver(engine, NewChallengeDetector(nil), cfg, testLogger(), nil)

	bc := mustContext(t, engine)
	p := mustPage(t, engine, bc)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	_, _, err := r.Resolve(ctx, bc, p, "example.com")
	if err == nil {
		t.Fatal("Resolve ignored context cancellation")
	}
}
