package render

import (
	"context"
	"errors"
	"net/url"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/ternarybob/arbor"

	"github.com/ternarybob/revelo/internal/common"
	"github.com/ternarybob/revelo/internal/interfaces"
	internalmodels "github.com/ternarybob/revelo/internal/models"
	"github.com/ternarybob/revelo/pkg/models"
)

var validate = validator.New()

// acquiredContext tags which kind of browser context serves a render so
// release always does the right thing: pooled contexts go back to the
// pool, session contexts stay alive in the store.
type acquiredContext struct {
	source  models.ContextSource
	handle  *BrowserContext
	pooled  *PooledContext
	session string
}

// Orchestrator runs the full render pipeline: admit, acquire a context,
// configure, navigate, resolve any challenge, extract, and release.
type Orchestrator struct {
	engine     Engine
	pool       *ContextPool
	sessions   *SessionStore
	gate       *AdmissionGate
	detector   *ChallengeDetector
	resolver   *ChallengeResolver
	limiter    *OriginLimiter
	clearances interfaces.ClearanceStorage
	records    interfaces.RenderStorage
	events     interfaces.EventService
	config     *common.Config
	logger     arbor.ILogger
}

// NewOrchestrator wires the pipeline. Storage and events may be nil in
// tests; persistence and eventing degrade to no-ops.
func NewOrchestrator(
	engine Engine,
	pool *ContextPool,
	sessions *SessionStore,
	gate *AdmissionGate,
	detector *ChallengeDetector,
	resolver *ChallengeResolver,
	limiter *OriginLimiter,
	clearances interfaces.ClearanceStorage,
	records interfaces.RenderStorage,
	events interfaces.EventService,
	config *common.Config,
	logger arbor.ILogger,
) *Orchestrator {
	return &Orchestrator{
		engine:     engine,
		pool:       pool,
		sessions:   sessions,
		gate:       gate,
		detector:   detector,
		resolver:   resolver,
		limiter:    limiter,
		clearances: clearances,
		records:    records,
		events:     events,
		config:     config,
		logger:     logger,
	}
}

// Render executes one render request end to end. Every error it returns
// is a *models.RenderError carrying the taxonomy kind.
func (o *Orchestrator) Render(ctx context.Context, req *models.RenderRequest) (*models.RenderResult, error) {
	started := time.Now()
	id := common.NewRenderID()

	result, err := o.render(ctx, id, req)

	duration := time.Since(started)
	o.persistRecord(id, req, result, err, duration)
	o.publishOutcome(id, req, result, err, duration)
	return result, err
}

func (o *Orchestrator) render(ctx context.Context, id string, req *models.RenderRequest) (*models.RenderResult, error) {
	target, origin, err := o.validateRequest(req)
	if err != nil {
		return nil, err
	}

	format := req.Format
	if format == "" {
		format = models.OutputFormat(o.config.Render.DefaultFormat)
	}

	o.publishEvent(interfaces.EventRenderStarted, map[string]interface{}{
		"id":      id,
		"url":     req.URL,
		"session": req.Session,
	})

	// Admission: bounded queue wait, FIFO.
	admitCtx, cancelAdmit := context.WithTimeout(ctx, o.config.Admission.QueueTimeout)
	err = o.gate.Acquire(admitCtx)
	cancelAdmit()
	if err != nil {
		if errors.Is(err, ErrAdmissionClosed) {
			return nil, models.NewRenderError(models.ErrKindPoolExhausted, "service is shutting down")
		}
		return nil, models.WrapRenderError(models.ErrKindAdmissionTimeout, err,
			"no render slot within %s", o.config.Admission.QueueTimeout)
	}
	defer o.gate.Release()

	// Whole-request deadline, after admission so queue time does not eat
	// into render time.
	timeout := o.config.Render.RequestTimeout
	if req.TimeoutSeconds > 0 {
		timeout = time.Duration(req.TimeoutSeconds) * time.Second
	}
	reqCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	acquired, err := o.acquireContext(reqCtx, req.Session)
	if err != nil {
		return nil, err
	}
	defer o.releaseContext(acquired)

	page, err := o.engine.NewPage(reqCtx, acquired.handle)
	if err != nil {
		return nil, models.WrapRenderError(models.ErrKindInternal, err, "failed to open page")
	}
	defer o.closePage(page)

	o.injectCookies(reqCtx, acquired.handle, origin, req.Cookies)

	if err := o.limiter.Wait(reqCtx, origin); err != nil {
		return nil, models.WrapRenderError(models.ErrKindNavigationTimeout, err, "origin pacing wait cancelled")
	}

	navTimeout := o.config.Render.NavigationTimeout
	nav, err := o.engine.Navigate(reqCtx, page, req.URL, navTimeout)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			return nil, models.WrapRenderError(models.ErrKindNavigationTimeout, err,
				"navigation did not finish within %s", navTimeout)
		}
		return nil, models.WrapRenderError(models.ErrKindNavigationFailed, err, "navigation failed")
	}

	if req.WaitSelector != "" {
		if err := o.engine.WaitForSelector(reqCtx, page, req.WaitSelector, o.config.Challenge.NavWaitTimeout); err != nil {
			o.logger.Debug().Err(err).Str("id", id).Str("selector", req.WaitSelector).Msg("Wait selector did not appear")
		}
	}

	outcome, rounds, err := o.resolver.Resolve(reqCtx, acquired.handle, page, target.Hostname())
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			return nil, models.WrapRenderError(models.ErrKindNavigationTimeout, err, "deadline hit while resolving challenge")
		}
		return nil, models.WrapRenderError(models.ErrKindChallengeUnresolved, err, "challenge resolution aborted")
	}

	markup, err := o.engine.PageContent(reqCtx, page)
	if err != nil {
		return nil, models.WrapRenderError(models.ErrKindContentExtractionFailed, err, "failed to extract page content")
	}

	challengeResolved := outcome == OutcomeCleared
	if outcome == OutcomeStillChallenged {
		// A page can fail its clearance check but still have served real
		// content. Short or visibly still-challenged markup is a failure;
		// anything else goes back to the caller flagged unresolved.
		if len(markup) < o.config.Challenge.MinContentLength || o.detector.MarkupChallenged(markup) {
			return nil, models.NewRenderError(models.ErrKindChallengeUnresolved,
				"challenge not resolved after %d rounds", rounds)
		}
	}

	content, err := convertContent(markup, format)
	if err != nil {
		return nil, models.WrapRenderError(models.ErrKindContentExtractionFailed, err, "format conversion failed")
	}

	result := &models.RenderResult{
		ID:                id,
		URL:               req.URL,
		FinalURL:          nav.FinalURL,
		Status:            nav.Status,
		Content:           content,
		Format:            format,
		ContentBytes:      len(markup),
		LinkCount:         countLinks(markup),
		Source:            acquired.source,
		Session:           acquired.session,
		ChallengeDetected: outcome != OutcomeNotChallenged,
		ChallengeResolved: challengeResolved || outcome == OutcomeNotChallenged,
		ChallengeRounds:   rounds,
		RenderedAt:        time.Now(),
	}

	if title, err := o.engine.PageTitle(reqCtx, page); err == nil {
		result.Title = title
	}
	if cookies, err := o.engine.GetCookies(reqCtx, acquired.handle); err == nil {
		result.Cookies = cookies
	}
	if req.Screenshot {
		if shot, err := o.engine.Screenshot(reqCtx, page); err == nil {
			result.Screenshot = shot
		} else {
			o.logger.Debug().Err(err).Str("id", id).Msg("Screenshot capture failed")
		}
	}

	if challengeResolved {
		o.harvestClearance(origin, result.Cookies)
	}
	return result, nil
}

// validateRequest checks the request shape and returns the parsed URL and
// its origin.
func (o *Orchestrator) validateRequest(req *models.RenderRequest) (*url.URL, string, error) {
	if err := validate.Struct(req); err != nil {
		return nil, "", models.WrapRenderError(models.ErrKindBadInput, err, "invalid render request")
	}
	parsed, err := url.Parse(req.URL)
	if err != nil || parsed.Hostname() == "" {
		return nil, "", models.NewRenderError(models.ErrKindBadInput, "url %q is not absolute", req.URL)
	}
	if parsed.Scheme != "http" && parsed.Scheme != "https" {
		return nil, "", models.NewRenderError(models.ErrKindBadInput, "unsupported scheme %q", parsed.Scheme)
	}
	if !o.config.AllowTestURLs() && isLoopback(parsed.Hostname()) {
		return nil, "", models.NewRenderError(models.ErrKindBadInput, "loopback targets are not allowed in production")
	}
	return parsed, parsed.Scheme + "://" + parsed.Host, nil
}

func isLoopback(host string) bool {
	host = strings.ToLower(host)
	return host == "localhost" || host == "127.0.0.1" || host == "::1"
}

// acquireContext picks a session context when the request names one,
// otherwise checks one out of the pool.
func (o *Orchestrator) acquireContext(ctx context.Context, sessionKey string) (*acquiredContext, error) {
	if sessionKey != "" {
		handle, created, err := o.sessions.GetOrCreate(ctx, sessionKey)
		if err != nil {
			return nil, models.WrapRenderError(models.ErrKindInternal, err, "failed to prepare session %q", sessionKey)
		}
		if created {
			o.publishEvent(interfaces.EventSessionCreated, map[string]interface{}{"session": sessionKey})
		}
		return &acquiredContext{source: models.SourceSession, handle: handle, session: sessionKey}, nil
	}

	pc, err := o.pool.Acquire(ctx)
	if err != nil {
		return nil, err
	}
	return &acquiredContext{source: models.SourcePooled, handle: pc.Handle, pooled: pc}, nil
}

// releaseContext is the unconditional cleanup path. Pooled contexts go
// back to the pool whatever happened; session contexts belong to the
// store and are left alone.
func (o *Orchestrator) releaseContext(ac *acquiredContext) {
	if ac.source == models.SourcePooled && ac.pooled != nil {
		o.pool.Release(ac.pooled)
	}
}

func (o *Orchestrator) closePage(p *Page) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := o.engine.ClosePage(ctx, p); err != nil {
		o.logger.Warn().Err(err).Msg("Failed to close render page")
	}
}

// injectCookies loads any stored clearance for the origin plus the
// caller's cookies into the context. Both are best-effort: a render
// without them just faces the challenge again.
func (o *Orchestrator) injectCookies(ctx context.Context, bc *BrowserContext, origin string, requestCookies []models.Cookie) {
	var cookies []models.Cookie
	if o.clearances != nil {
		if clearance, err := o.clearances.GetByOrigin(ctx, origin); err == nil && clearance != nil {
			cookies = append(cookies, clearance.Cookies...)
			clearance.Touch()
			if err := o.clearances.Upsert(ctx, clearance); err != nil {
				o.logger.Debug().Err(err).Str("origin", origin).Msg("Failed to bump clearance")
			}
		}
	}
	cookies = append(cookies, requestCookies...)
	if len(cookies) == 0 {
		return
	}
	if err := o.engine.SetCookies(ctx, bc, cookies); err != nil {
		o.logger.Warn().Err(err).Str("origin", origin).Msg("Failed to inject cookies")
	}
}

// harvestClearance persists the clearance cookies from a freshly cleared
// challenge so later renders to the origin skip the interstitial.
func (o *Orchestrator) harvestClearance(origin string, cookies []models.Cookie) {
	if o.clearances == nil {
		return
	}
	var clearanceCookies []models.Cookie
	for _, c := range cookies {
		if o.detector.isClearanceName(c.Name) {
			clearanceCookies = append(clearanceCookies, c)
		}
	}
	if len(clearanceCookies) == 0 {
		return
	}
	common.SafeGo(o.logger, "harvest-clearance", func() {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		now := time.Now()
		clearance := &internalmodels.Clearance{
			Origin:     origin,
			Cookies:    clearanceCookies,
			UserAgent:  o.config.Engine.UserAgent,
			IssuedAt:   now,
			LastSeenAt: now,
		}
		if err := o.clearances.Upsert(ctx, clearance); err != nil {
			o.logger.Warn().Err(err).Str("origin", origin).Msg("Failed to persist clearance")
		} else {
			o.logger.Info().Str("origin", origin).Int("cookies", len(clearanceCookies)).Msg("Clearance persisted")
		}
	})
}

// persistRecord writes the audit record off the request path.
func (o *Orchestrator) persistRecord(id string, req *models.RenderRequest, result *models.RenderResult, renderErr error, duration time.Duration) {
	if o.records == nil {
		return
	}
	record := &internalmodels.RenderRecord{
		ID:         id,
		URL:        req.URL,
		Session:    req.Session,
		DurationMs: duration.Milliseconds(),
		CreatedAt:  time.Now(),
	}
	if result != nil {
		record.FinalURL = result.FinalURL
		record.Status = result.Status
		record.Success = true
		record.Source = result.Source
		record.ChallengeRounds = result.ChallengeRounds
		record.ContentBytes = result.ContentBytes
	} else if renderErr != nil {
		record.ErrorKind = models.KindOf(renderErr)
		record.ErrorMessage = renderErr.Error()
	}
	common.SafeGo(o.logger, "persist-render-record", func() {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := o.records.Save(ctx, record); err != nil {
			o.logger.Warn().Err(err).Str("id", id).Msg("Failed to persist render record")
		}
	})
}

func (o *Orchestrator) publishOutcome(id string, req *models.RenderRequest, result *models.RenderResult, renderErr error, duration time.Duration) {
	if renderErr != nil {
		o.publishEvent(interfaces.EventRenderFailed, map[string]interface{}{
			"id":          id,
			"url":         req.URL,
			"kind":        string(models.KindOf(renderErr)),
			"duration_ms": duration.Milliseconds(),
		})
		return
	}
	o.publishEvent(interfaces.EventRenderCompleted, map[string]interface{}{
		"id":               id,
		"url":              req.URL,
		"status":           result.Status,
		"challenge_rounds": result.ChallengeRounds,
		"content_bytes":    result.ContentBytes,
		"duration_ms":      duration.Milliseconds(),
	})
}

func (o *Orchestrator) publishEvent(eventType interfaces.EventType, payload map[string]interface{}) {
	if o.events == nil {
		return
	}
	if err := o.events.Publish(context.Background(), interfaces.Event{Type: eventType, Payload: payload}); err != nil {
		o.logger.Debug().Err(err).Str("event_type", string(eventType)).Msg("Failed to publish event")
	}
}
