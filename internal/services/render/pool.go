package render

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/ternarybob/arbor"

	"github.com/ternarybob/revelo/internal/common"
	"github.com/ternarybob/revelo/pkg/models"
)

// PooledContext is one pre-warmed browser context owned by the pool.
type PooledContext struct {
	ID         string
	Handle     *BrowserContext
	CreatedAt  time.Time
	LastUsedAt time.Time
}

// ContextPool keeps a fixed number of warm browser contexts and hands them
// out one renderer at a time. Dead contexts are replaced, never just
// dropped; slots whose replacement fails are tracked as a deficit and
// rebuilt by the eviction loop.
type ContextPool struct {
	engine Engine
	config *common.PoolConfig
	logger arbor.ILogger

	free chan *PooledContext

	mu       sync.Mutex
	draining bool
	warmed   bool
	deficit  int
}

// NewContextPool creates an empty pool. Warm must run before Acquire.
func NewContextPool(engine Engine, config *common.PoolConfig, logger arbor.ILogger) *ContextPool {
	return &ContextPool{
		engine: engine,
		config: config,
		logger: logger,
		free:   make(chan *PooledContext, config.Size),
	}
}

// Warm creates the full set of pooled contexts. Any creation failure
// destroys what was built and fails startup.
func (p *ContextPool) Warm(ctx context.Context) error {
	p.mu.Lock()
	if p.warmed {
		p.mu.Unlock()
		return nil
	}
	p.mu.Unlock()

	created := make([]*PooledContext, 0, p.config.Size)
	for i := 0; i < p.config.Size; i++ {
		pc, err := p.createContext(ctx)
		if err != nil {
			for _, c := range created {
				p.destroyContext(c)
			}
			return fmt.Errorf("failed to warm pool context %d of %d: %w", i+1, p.config.Size, err)
		}
		created = append(created, pc)
	}
	for _, pc := range created {
		p.free <- pc
	}

	p.mu.Lock()
	p.warmed = true
	p.mu.Unlock()

	p.logger.Info().Int("size", p.config.Size).Msg("Context pool warmed")
	return nil
}

func (p *ContextPool) createContext(ctx context.Context) (*PooledContext, error) {
	handle, err := p.engine.NewContext(ctx, ContextOptions{})
	if err != nil {
		return nil, err
	}
	now := time.Now()
	return &PooledContext{
		ID:         common.NewPooledContextID(),
		Handle:     handle,
		CreatedAt:  now,
		LastUsedAt: now,
	}, nil
}

func (p *ContextPool) destroyContext(pc *PooledContext) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := p.engine.CloseContext(ctx, pc.Handle); err != nil {
		p.logger.Warn().Err(err).Str("context_id", pc.ID).Msg("Failed to close pooled context")
	}
}

// Acquire checks a context out of the pool, waiting up to the configured
// acquire timeout for one to free up. A context that fails its liveness
// probe is destroyed and replaced, and acquisition retries once.
func (p *ContextPool) Acquire(ctx context.Context) (*PooledContext, error) {
	return p.acquire(ctx, true)
}

func (p *ContextPool) acquire(ctx context.Context, retry bool) (*PooledContext, error) {
	p.mu.Lock()
	if p.draining {
		p.mu.Unlock()
		return nil, models.NewRenderError(models.ErrKindPoolExhausted, "context pool is draining")
	}
	if !p.warmed {
		p.mu.Unlock()
		return nil, models.NewRenderError(models.ErrKindPoolExhausted, "context pool is not warmed")
	}
	p.mu.Unlock()

	timer := time.NewTimer(p.config.AcquireTimeout)
	defer timer.Stop()

	select {
	case pc := <-p.free:
		if err := p.probe(ctx, pc); err != nil {
			p.logger.Warn().Err(err).Str("context_id", pc.ID).Msg("Pooled context failed liveness probe, replacing")
			p.replace(pc)
			if retry {
				return p.acquire(ctx, false)
			}
			return nil, models.WrapRenderError(models.ErrKindPoolExhausted, err, "replacement context also unusable")
		}
		return pc, nil
	case <-timer.C:
		return nil, models.NewRenderError(models.ErrKindPoolTimeout, "no pooled context available within %s", p.config.AcquireTimeout)
	case <-ctx.Done():
		return nil, models.WrapRenderError(models.ErrKindPoolTimeout, ctx.Err(), "context acquisition cancelled")
	}
}

func (p *ContextPool) probe(ctx context.Context, pc *PooledContext) error {
	probeCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	_, err := p.engine.ContextPages(probeCtx, pc.Handle)
	return err
}

// replace destroys a dead context and puts a fresh one on the free list,
// keeping the pool at its fixed size. If creation fails the lost slot is
// recorded as a deficit and rebuilt on the next eviction pass.
func (p *ContextPool) replace(pc *PooledContext) {
	p.destroyContext(pc)

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	fresh, err := p.createContext(ctx)
	if err != nil {
		p.mu.Lock()
		p.deficit++
		p.mu.Unlock()
		p.logger.Error().Err(err).Msg("Failed to create replacement pooled context")
		return
	}
	select {
	case p.free <- fresh:
	default:
		// free list full means the pool was drained underneath us
		p.destroyContext(fresh)
	}
}

// rebuildLost recreates contexts whose replacements failed, bringing the
// pool back up to its fixed size. Slots that still cannot be built stay
// in the deficit for the next pass.
func (p *ContextPool) rebuildLost() {
	p.mu.Lock()
	missing := p.deficit
	p.deficit = 0
	p.mu.Unlock()

	for i := 0; i < missing; i++ {
		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		fresh, err := p.createContext(ctx)
		cancel()
		if err != nil {
			p.mu.Lock()
			p.deficit += missing - i
			p.mu.Unlock()
			p.logger.Warn().Err(err).Int("missing", missing-i).Msg("Context pool still below size, deferring rebuild")
			return
		}
		select {
		case p.free <- fresh:
			p.logger.Info().Str("context_id", fresh.ID).Msg("Rebuilt lost pooled context")
		default:
			p.destroyContext(fresh)
			return
		}
	}
}

// Release returns a context to the free list. Callers must not touch the
// context after releasing it.
func (p *ContextPool) Release(pc *PooledContext) {
	pc.LastUsedAt = time.Now()
	select {
	case p.free <- pc:
	default:
		// pool shrank or is draining; close rather than leak
		p.logger.Warn().Str("context_id", pc.ID).Msg("Released context had no free slot, destroying")
		p.destroyContext(pc)
	}
}

// StartEviction runs the idle-recycling loop until ctx is cancelled. Only
// free contexts are examined; checked-out contexts are never touched.
func (p *ContextPool) StartEviction(ctx context.Context) {
	common.SafeGoWithContext(ctx, p.logger, "pool-eviction", func() {
		ticker := time.NewTicker(p.config.EvictInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				p.evictIdle()
			}
		}
	})
}

func (p *ContextPool) evictIdle() {
	p.mu.Lock()
	if p.draining {
		p.mu.Unlock()
		return
	}
	p.mu.Unlock()

	cutoff := time.Now().Add(-p.config.IdleEvictAfter)

	// Drain whatever is currently free, recycle the stale ones, put the
	// rest straight back.
	var held []*PooledContext
	for {
		select {
		case pc := <-p.free:
			held = append(held, pc)
		default:
			goto collected
		}
	}
collected:
	for _, pc := range held {
		if pc.LastUsedAt.Before(cutoff) {
			p.logger.Debug().
				Str("context_id", pc.ID).
				Str("idle", time.Since(pc.LastUsedAt).Round(time.Second).String()).
				Msg("Recycling idle pooled context")
			p.replace(pc)
			continue
		}
		p.free <- pc
	}

	p.rebuildLost()
}

// Drain refuses new acquisitions, waits for outstanding contexts to come
// back, then destroys everything. The pool cannot be reused afterwards.
func (p *ContextPool) Drain(ctx context.Context) error {
	p.mu.Lock()
	if p.draining {
		p.mu.Unlock()
		return nil
	}
	p.draining = true
	warmed := p.warmed
	p.mu.Unlock()

	if !warmed {
		return nil
	}

	// Slots lost to failed replacements will never come back through the
	// free list, so the drain waits only for the contexts actually alive.
	collected := 0
	for {
		p.mu.Lock()
		expected := p.config.Size - p.deficit
		p.mu.Unlock()
		if collected >= expected {
			break
		}
		select {
		case pc := <-p.free:
			p.destroyContext(pc)
			collected++
		case <-ctx.Done():
			return fmt.Errorf("pool drain interrupted with %d of %d contexts outstanding: %w",
				expected-collected, expected, ctx.Err())
		}
	}
	p.logger.Info().Int("size", collected).Msg("Context pool drained")
	return nil
}

// Stats reports the fixed size and how many contexts are currently free.
func (p *ContextPool) Stats() (size int, available int) {
	return p.config.Size, len(p.free)
}
