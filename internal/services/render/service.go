package render

import (
	"context"
	"sync/atomic"
	"time"

	"github.com/ternarybob/arbor"

	"github.com/ternarybob/revelo/internal/common"
	"github.com/ternarybob/revelo/internal/interfaces"
	"github.com/ternarybob/revelo/pkg/models"
)

// PoolStats is the readiness view of the context pool.
type PoolStats struct {
	Size      int `json:"size"`
	Available int `json:"available"`
}

// SessionStats is the readiness view of the session store.
type SessionStats struct {
	Count      int   `json:"count"`
	Max        int   `json:"max"`
	TTLSeconds int64 `json:"ttl_seconds"`
}

// AdmissionStats is the readiness view of the admission gate.
type AdmissionStats struct {
	Limit   int `json:"limit"`
	InUse   int `json:"in_use"`
	Waiting int `json:"waiting"`
}

// Service owns the render pipeline's lifecycle: it starts the browser,
// warms the pool, runs the background loops, serves renders, and tears
// everything down in dependency order.
type Service struct {
	orchestrator *Orchestrator
	engine       Engine
	pool         *ContextPool
	sessions     *SessionStore
	gate         *AdmissionGate
	events       interfaces.EventService
	config       *common.Config
	logger       arbor.ILogger

	ready      atomic.Bool
	loopCancel context.CancelFunc
}

// NewService builds the full pipeline from config.
func NewService(
	engine Engine,
	clearances interfaces.ClearanceStorage,
	records interfaces.RenderStorage,
	events interfaces.EventService,
	config *common.Config,
	logger arbor.ILogger,
) *Service {
	gate := NewAdmissionGate(config.Admission.MaxConcurrent)
	pool := NewContextPool(engine, &config.Pool, logger)
	detector := NewChallengeDetector(config.Challenge.ClearanceCookies)
	limiter := NewOriginLimiter(config.Render.OriginInterval)

	publish := func(eventType interfaces.EventType, payload map[string]interface{}) {
		if events == nil {
			return
		}
		_ = events.Publish(context.Background(), interfaces.Event{Type: eventType, Payload: payload})
	}

	sessions := NewSessionStore(engine, &config.Sessions, logger, func(key, reason string) {
		publish(interfaces.EventSessionEvicted, map[string]interface{}{"session": key, "reason": reason})
	})
	resolver := NewChallengeResolver(engine, detector, &config.Challenge, logger, func(round, maxRounds int) {
		publish(interfaces.EventChallengeRound, map[string]interface{}{"round": round, "max_rounds": maxRounds})
	})

	orchestrator := NewOrchestrator(engine, pool, sessions, gate, detector, resolver, limiter,
		clearances, records, events, config, logger)

	return &Service{
		orchestrator: orchestrator,
		engine:       engine,
		pool:         pool,
		sessions:     sessions,
		gate:         gate,
		events:       events,
		config:       config,
		logger:       logger,
	}
}

// Start launches the browser, warms the pool and starts the background
// loops. Failure to warm is fatal: a render service without its pool is
// not a degraded service, it is a broken one.
func (s *Service) Start(ctx context.Context) error {
	if err := s.engine.Start(ctx); err != nil {
		return err
	}
	if err := s.pool.Warm(ctx); err != nil {
		closeCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		_ = s.engine.Close(closeCtx)
		return err
	}

	loopCtx, cancel := context.WithCancel(context.Background())
	s.loopCancel = cancel
	s.sessions.StartSweep(loopCtx)
	s.pool.StartEviction(loopCtx)
	s.startStatsLoop(loopCtx)

	s.ready.Store(true)
	s.logger.Info().Msg("Render service started")
	return nil
}

// startStatsLoop publishes pool occupancy once a second for the UI; the
// websocket layer throttles per its own config.
func (s *Service) startStatsLoop(ctx context.Context) {
	if s.events == nil {
		return
	}
	common.SafeGoWithContext(ctx, s.logger, "pool-stats", func() {
		ticker := time.NewTicker(1 * time.Second)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				size, available := s.pool.Stats()
				limit, inUse, waiting := s.gate.Stats()
				_ = s.events.Publish(ctx, interfaces.Event{
					Type: interfaces.EventPoolStats,
					Payload: map[string]interface{}{
						"size":      size,
						"available": available,
						"limit":     limit,
						"in_use":    inUse,
						"waiting":   waiting,
					},
				})
			}
		}
	})
}

// Render serves one request. Refused outright once shutdown has begun.
func (s *Service) Render(ctx context.Context, req *models.RenderRequest) (*models.RenderResult, error) {
	if !s.ready.Load() {
		return nil, models.NewRenderError(models.ErrKindPoolExhausted, "render service is not accepting requests")
	}
	return s.orchestrator.Render(ctx, req)
}

// CreateSession pre-warms a dedicated session context, generating a key
// when the caller did not provide one.
func (s *Service) CreateSession(ctx context.Context, key string) (string, error) {
	if !s.ready.Load() {
		return "", models.NewRenderError(models.ErrKindPoolExhausted, "render service is not accepting requests")
	}
	if key == "" {
		key = common.NewSessionKey()
	}
	if _, _, err := s.sessions.GetOrCreate(ctx, key); err != nil {
		return "", models.WrapRenderError(models.ErrKindInternal, err, "failed to create session")
	}
	return key, nil
}

// ListSessions returns the live session snapshot.
func (s *Service) ListSessions() []SessionInfo {
	return s.sessions.List()
}

// RemoveSession destroys one session context.
func (s *Service) RemoveSession(key string) bool {
	return s.sessions.Remove(key)
}

// IsReady reports whether the pipeline is warm and accepting requests.
func (s *Service) IsReady() bool {
	return s.ready.Load()
}

// PoolStats returns current pool occupancy.
func (s *Service) PoolStats() PoolStats {
	size, available := s.pool.Stats()
	return PoolStats{Size: size, Available: available}
}

// SessionStats returns session store occupancy against its bounds.
func (s *Service) SessionStats() SessionStats {
	count, max, ttl := s.sessions.Stats()
	return SessionStats{Count: count, Max: max, TTLSeconds: int64(ttl.Seconds())}
}

// AdmissionStats returns gate occupancy and queue depth.
func (s *Service) AdmissionStats() AdmissionStats {
	limit, inUse, waiting := s.gate.Stats()
	return AdmissionStats{Limit: limit, InUse: inUse, Waiting: waiting}
}

// Close tears the pipeline down in strict order: stop admitting, drain
// in-flight renders, stop the background loops and close sessions, drain
// the pool, then close the browser. Each step only runs once the previous
// one finished, because each layer depends on the one below it.
func (s *Service) Close(ctx context.Context) error {
	s.ready.Store(false)

	if err := s.gate.Drain(ctx); err != nil {
		s.logger.Warn().Err(err).Msg("Admission drain did not complete")
	}

	if s.loopCancel != nil {
		s.loopCancel()
	}
	s.sessions.CloseAll()

	if err := s.pool.Drain(ctx); err != nil {
		s.logger.Warn().Err(err).Msg("Pool drain did not complete")
	}

	if err := s.engine.Close(ctx); err != nil {
		return err
	}
	s.logger.Info().Msg("Render service closed")
	return nil
}
