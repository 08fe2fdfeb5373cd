package render

import (
	"context"
	"math/rand"
	"time"

	"github.com/ternarybob/arbor"

	"github.com/ternarybob/revelo/internal/common"
)

// ChallengeOutcome is the terminal state of a resolution attempt.
type ChallengeOutcome int

const (
	OutcomeNotChallenged ChallengeOutcome = iota
	OutcomeCleared
	OutcomeStillChallenged
)

func (o ChallengeOutcome) String() string {
	switch o {
	case OutcomeNotChallenged:
		return "not_challenged"
	case OutcomeCleared:
		return "cleared"
	case OutcomeStillChallenged:
		return "still_challenged"
	default:
		return "unknown"
	}
}

// roundNotify lets the owner publish per-round progress events.
type roundNotify func(round, maxRounds int)

// ChallengeResolver waits out anti-bot interstitials. Most challenges
// solve themselves in the browser given time and believable activity; the
// resolver's job is to wait in bounded rounds, nudge the page with
// human-like input, and recheck until the real page appears or the round
// budget runs out. After the last round it performs exactly one hard
// reload before giving up.
type ChallengeResolver struct {
	engine   Engine
	detector *ChallengeDetector
	config   *common.ChallengeConfig
	logger   arbor.ILogger
	onRound  roundNotify
}

// NewChallengeResolver creates a resolver over the given engine.
func NewChallengeResolver(engine Engine, detector *ChallengeDetector, config *common.ChallengeConfig, logger arbor.ILogger, onRound roundNotify) *ChallengeResolver {
	if onRound == nil {
		onRound = func(int, int) {}
	}
	return &ChallengeResolver{
		engine:   engine,
		detector: detector,
		config:   config,
		logger:   logger,
		onRound:  onRound,
	}
}

// Resolve inspects the page and, if challenged, runs the bounded
// resolution loop. Returns the outcome and the number of rounds used.
// The error return is reserved for ctx expiry; a stubborn challenge is an
// outcome, not an error.
func (r *ChallengeResolver) Resolve(ctx context.Context, bc *BrowserContext, p *Page, host string) (ChallengeOutcome, int, error) {
	challenged, err := r.check(ctx, p)
	if err != nil {
		return OutcomeStillChallenged, 0, err
	}
	if !challenged {
		return OutcomeNotChallenged, 0, nil
	}
	if r.hasClearance(ctx, bc, host) {
		return OutcomeCleared, 0, nil
	}

	r.logger.Info().Str("host", host).Int("max_rounds", r.config.MaxRounds).Msg("Challenge detected, starting resolution")

	for round := 1; round <= r.config.MaxRounds; round++ {
		r.onRound(round, r.config.MaxRounds)

		if err := r.settle(ctx); err != nil {
			return OutcomeStillChallenged, round, err
		}

		// Challenge pages navigate themselves once solved; absence of a
		// navigation within the window just means "not yet".
		if err := r.engine.WaitForNavigation(ctx, p, r.config.NavWaitTimeout); err != nil {
			r.logger.Debug().Int("round", round).Msg("No navigation within wait window")
		}

		r.humanize(ctx, p)

		if r.hasClearance(ctx, bc, host) {
			r.logger.Info().Str("host", host).Int("rounds", round).Msg("Challenge cleared via clearance cookie")
			return OutcomeCleared, round, nil
		}
		challenged, err := r.check(ctx, p)
		if err != nil {
			return OutcomeStillChallenged, round, err
		}
		if !challenged {
			r.logger.Info().Str("host", host).Int("rounds", round).Msg("Challenge cleared")
			return OutcomeCleared, round, nil
		}
	}

	// One hard reload after the budget, then a final verdict.
	r.logger.Info().Str("host", host).Msg("Round budget exhausted, trying one hard reload")
	if _, err := r.engine.Reload(ctx, p, r.config.NavWaitTimeout*4); err != nil {
		r.logger.Warn().Err(err).Str("host", host).Msg("Hard reload failed")
		return OutcomeStillChallenged, r.config.MaxRounds, nil
	}
	if err := r.settle(ctx); err != nil {
		return OutcomeStillChallenged, r.config.MaxRounds, err
	}
	if r.hasClearance(ctx, bc, host) {
		return OutcomeCleared, r.config.MaxRounds, nil
	}
	challenged, err = r.check(ctx, p)
	if err != nil {
		return OutcomeStillChallenged, r.config.MaxRounds, err
	}
	if !challenged {
		return OutcomeCleared, r.config.MaxRounds, nil
	}
	return OutcomeStillChallenged, r.config.MaxRounds, nil
}

// check fetches title and a bounded text prefix and runs the detector.
func (r *ChallengeResolver) check(ctx context.Context, p *Page) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}
	title, err := r.engine.PageTitle(ctx, p)
	if err != nil {
		return false, err
	}
	body, err := r.engine.VisibleText(ctx, p, r.config.MaxBodyProbe)
	if err != nil {
		return false, err
	}
	return r.detector.IsChallenged(title, body), nil
}

func (r *ChallengeResolver) hasClearance(ctx context.Context, bc *BrowserContext, host string) bool {
	cookies, err := r.engine.GetCookies(ctx, bc)
	if err != nil {
		r.logger.Debug().Err(err).Msg("Failed to read cookies during challenge check")
		return false
	}
	return r.detector.HasClearance(cookies, host)
}

// settle waits the configured interval without busy-polling.
func (r *ChallengeResolver) settle(ctx context.Context) error {
	timer := time.NewTimer(r.config.SettleWait)
	defer timer.Stop()
	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// humanize performs a few small pointer moves and a scroll so the page
// sees activity. Input failures are logged and ignored; activity is a
// nudge, not a requirement.
func (r *ChallengeResolver) humanize(ctx context.Context, p *Page) {
	moves := 2 + rand.Intn(3)
	for i := 0; i < moves; i++ {
		x := 100 + rand.Float64()*600
		y := 100 + rand.Float64()*400
		if err := r.engine.MouseMove(ctx, p, x, y); err != nil {
			r.logger.Debug().Err(err).Msg("Mouse move failed during humanization")
			return
		}
		pause := time.Duration(50+rand.Intn(150)) * time.Millisecond
		timer := time.NewTimer(pause)
		select {
		case <-timer.C:
		case <-ctx.Done():
			timer.Stop()
			return
		}
	}
	if err := r.engine.ScrollBy(ctx, p, 0, 120+rand.Intn(240)); err != nil {
		r.logger.Debug().Err(err).Msg("Scroll failed during humanization")
	}
}
