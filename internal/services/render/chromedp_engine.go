package render

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/chromedp/cdproto/cdp"
	"github.com/chromedp/cdproto/emulation"
	"github.com/chromedp/cdproto/input"
	"github.com/chromedp/cdproto/network"
	"github.com/chromedp/cdproto/page"
	"github.com/chromedp/cdproto/storage"
	"github.com/chromedp/cdproto/target"
	"github.com/chromedp/chromedp"
	"github.com/ternarybob/arbor"

	"github.com/ternarybob/revelo/internal/common"
	"github.com/ternarybob/revelo/pkg/models"
)

// BrowserContext is a handle to an isolated CDP browser context. Contexts
// created in the same browser process share nothing: each has its own
// cookie jar, cache and storage.
type BrowserContext struct {
	ID   cdp.BrowserContextID
	opts ContextOptions
}

// Page is a handle to one open page (CDP target) inside a browser context.
type Page struct {
	TargetID target.ID
	ctx      context.Context
	cancel   context.CancelFunc
}

// chromedpEngine drives one headless Chrome process over CDP.
type chromedpEngine struct {
	config *common.EngineConfig
	logger arbor.ILogger

	allocCtx      context.Context
	allocCancel   context.CancelFunc
	browserCtx    context.Context
	browserCancel context.CancelFunc

	waitPolicy   WaitPolicy
	idleInterval time.Duration

	mu      sync.Mutex
	started bool
}

// NewChromedpEngine creates an engine from config. The browser process is
// not launched until Start.
func NewChromedpEngine(config *common.EngineConfig, logger arbor.ILogger) Engine {
	policy := WaitPolicy(config.NavWaitPolicy)
	if policy != WaitNetworkIdle {
		policy = WaitLoad
	}
	idle := config.NavIdleInterval
	if idle <= 0 {
		idle = 500 * time.Millisecond
	}
	return &chromedpEngine{
		config:       config,
		logger:       logger,
		waitPolicy:   policy,
		idleInterval: idle,
	}
}

// Start launches the browser and probes it with a scratch navigation.
func (e *chromedpEngine) Start(ctx context.Context) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.started {
		return nil
	}

	opts := []chromedp.ExecAllocatorOption{
		chromedp.NoFirstRun,
		chromedp.NoDefaultBrowserCheck,
		chromedp.Flag("disable-blink-features", "AutomationControlled"),
		chromedp.Flag("exclude-switches", "enable-automation"),
		chromedp.Flag("disable-infobars", true),
		chromedp.Flag("disable-dev-shm-usage", true),
		chromedp.WindowSize(e.config.WindowWidth, e.config.WindowHeight),
		chromedp.UserAgent(e.config.UserAgent),
	}
	if e.config.Headless {
		opts = append(opts, chromedp.Flag("headless", "new"))
	}
	if e.config.NoSandbox {
		opts = append(opts, chromedp.NoSandbox)
	}
	if e.config.DisableGPU {
		opts = append(opts, chromedp.DisableGPU)
	}
	if e.config.ChromePath != "" {
		opts = append(opts, chromedp.ExecPath(e.config.ChromePath))
	}
	if e.config.Proxy != "" {
		opts = append(opts, chromedp.ProxyServer(e.config.Proxy))
	}

	e.allocCtx, e.allocCancel = chromedp.NewExecAllocator(context.Background(), opts...)
	e.browserCtx, e.browserCancel = chromedp.NewContext(e.allocCtx)

	startupTimeout := e.config.StartupTimeout
	if startupTimeout <= 0 {
		startupTimeout = 30 * time.Second
	}
	probeCtx, cancel := context.WithTimeout(e.browserCtx, startupTimeout)
	defer cancel()

	var title string
	if err := chromedp.Run(probeCtx,
		chromedp.Navigate("about:blank"),
		chromedp.Title(&title),
	); err != nil {
		e.browserCancel()
		e.allocCancel()
		e.browserCtx, e.allocCtx = nil, nil
		return fmt.Errorf("browser startup probe failed: %w", err)
	}

	e.started = true
	e.logger.Info().
		Bool("headless", e.config.Headless).
		Str("wait_policy", string(e.waitPolicy)).
		Msg("Browser engine started")
	return nil
}

// run executes CDP actions against the shared browser connection,
// honoring the caller's deadline.
func (e *chromedpEngine) run(ctx context.Context, actions ...chromedp.Action) error {
	runCtx := e.browserCtx
	if runCtx == nil {
		return fmt.Errorf("engine not started")
	}
	if deadline, ok := ctx.Deadline(); ok {
		var cancel context.CancelFunc
		runCtx, cancel = context.WithDeadline(runCtx, deadline)
		defer cancel()
	}
	return chromedp.Run(runCtx, actions...)
}

// runPage executes CDP actions against one page's target.
func (e *chromedpEngine) runPage(ctx context.Context, p *Page, actions ...chromedp.Action) error {
	runCtx := p.ctx
	if deadline, ok := ctx.Deadline(); ok {
		var cancel context.CancelFunc
		runCtx, cancel = context.WithDeadline(runCtx, deadline)
		defer cancel()
	}
	return chromedp.Run(runCtx, actions...)
}

func (e *chromedpEngine) NewContext(ctx context.Context, opts ContextOptions) (*BrowserContext, error) {
	var id cdp.BrowserContextID
	err := e.run(ctx, chromedp.ActionFunc(func(cctx context.Context) error {
		var err error
		id, err = target.CreateBrowserContext().Do(cctx)
		return err
	}))
	if err != nil {
		return nil, fmt.Errorf("failed to create browser context: %w", err)
	}
	if opts.UserAgent == "" {
		opts.UserAgent = e.config.UserAgent
	}
	return &BrowserContext{ID: id, opts: opts}, nil
}

func (e *chromedpEngine) CloseContext(ctx context.Context, bc *BrowserContext) error {
	err := e.run(ctx, chromedp.ActionFunc(func(cctx context.Context) error {
		return target.DisposeBrowserContext(bc.ID).Do(cctx)
	}))
	if err != nil {
		return fmt.Errorf("failed to dispose browser context: %w", err)
	}
	return nil
}

// ContextPages counts the pages alive in a context. A transport error
// means the context (or browser) is gone and the caller should recycle.
func (e *chromedpEngine) ContextPages(ctx context.Context, bc *BrowserContext) (int, error) {
	var infos []*target.Info
	err := e.run(ctx, chromedp.ActionFunc(func(cctx context.Context) error {
		var err error
		infos, err = target.GetTargets().Do(cctx)
		return err
	}))
	if err != nil {
		return 0, fmt.Errorf("failed to list targets: %w", err)
	}
	count := 0
	for _, info := range infos {
		if info.BrowserContextID == bc.ID && info.Type == "page" {
			count++
		}
	}
	return count, nil
}

func (e *chromedpEngine) NewPage(ctx context.Context, bc *BrowserContext) (*Page, error) {
	var tid target.ID
	err := e.run(ctx, chromedp.ActionFunc(func(cctx context.Context) error {
		var err error
		tid, err = target.CreateTarget("about:blank").WithBrowserContextID(bc.ID).Do(cctx)
		return err
	}))
	if err != nil {
		return nil, fmt.Errorf("failed to create page target: %w", err)
	}

	pageCtx, cancel := chromedp.NewContext(e.browserCtx, chromedp.WithTargetID(tid))

	actions := []chromedp.Action{
		network.Enable(),
	}
	if e.config.Stealth {
		actions = append(actions, chromedp.ActionFunc(func(cctx context.Context) error {
			_, err := page.AddScriptToEvaluateOnNewDocument(stealthScript).Do(cctx)
			return err
		}))
	}
	if bc.opts.UserAgent != "" {
		actions = append(actions, emulation.SetUserAgentOverride(bc.opts.UserAgent))
	}
	if bc.opts.Locale != "" {
		actions = append(actions, chromedp.ActionFunc(func(cctx context.Context) error {
			return emulation.SetLocaleOverride().WithLocale(bc.opts.Locale).Do(cctx)
		}))
	}
	if bc.opts.Timezone != "" {
		actions = append(actions, chromedp.ActionFunc(func(cctx context.Context) error {
			return emulation.SetTimezoneOverride(bc.opts.Timezone).Do(cctx)
		}))
	}

	p := &Page{TargetID: tid, ctx: pageCtx, cancel: cancel}
	if err := e.runPage(ctx, p, actions...); err != nil {
		cancel()
		e.closeTarget(tid)
		return nil, fmt.Errorf("failed to attach page: %w", err)
	}
	return p, nil
}

func (e *chromedpEngine) ClosePage(ctx context.Context, p *Page) error {
	err := e.run(ctx, chromedp.ActionFunc(func(cctx context.Context) error {
		return target.CloseTarget(p.TargetID).Do(cctx)
	}))
	p.cancel()
	if err != nil {
		return fmt.Errorf("failed to close page target: %w", err)
	}
	return nil
}

// closeTarget is the best-effort cleanup path for a half-created page.
func (e *chromedpEngine) closeTarget(tid target.ID) {
	cctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := e.run(cctx, chromedp.ActionFunc(func(c context.Context) error {
		return target.CloseTarget(tid).Do(c)
	})); err != nil {
		e.logger.Debug().Err(err).Str("target_id", string(tid)).Msg("Failed to close orphaned target")
	}
}

// Navigate loads the URL and waits per the configured policy. The document
// response status is captured off the network event stream; redirects mean
// the final URL can differ from the requested one.
func (e *chromedpEngine) Navigate(ctx context.Context, p *Page, url string, timeout time.Duration) (*NavigateResult, error) {
	navCtx, cancel := context.WithTimeout(p.ctx, timeout)
	defer cancel()
	if deadline, ok := ctx.Deadline(); ok {
		var dcancel context.CancelFunc
		navCtx, dcancel = context.WithDeadline(navCtx, deadline)
		defer dcancel()
	}

	var (
		mu        sync.Mutex
		status    int
		inflight  int
		loaded    bool
		idleTimer *time.Timer
	)
	idleCh := make(chan struct{}, 1)

	armIdle := func() {
		// callers hold mu
		if loaded && inflight == 0 && idleTimer == nil {
			idleTimer = time.AfterFunc(e.idleInterval, func() {
				select {
				case idleCh <- struct{}{}:
				default:
				}
			})
		}
	}

	listenCtx, stopListen := context.WithCancel(navCtx)
	defer stopListen()
	chromedp.ListenTarget(listenCtx, func(ev interface{}) {
		switch ev := ev.(type) {
		case *network.EventResponseReceived:
			if ev.Type == network.ResourceTypeDocument {
				mu.Lock()
				status = int(ev.Response.Status)
				mu.Unlock()
			}
		case *network.EventRequestWillBeSent:
			mu.Lock()
			inflight++
			if idleTimer != nil {
				idleTimer.Stop()
				idleTimer = nil
			}
			mu.Unlock()
		case *network.EventLoadingFinished, *network.EventLoadingFailed:
			mu.Lock()
			if inflight > 0 {
				inflight--
			}
			armIdle()
			mu.Unlock()
		case *page.EventLoadEventFired:
			mu.Lock()
			loaded = true
			armIdle()
			mu.Unlock()
		}
	})

	if err := chromedp.Run(navCtx, chromedp.Navigate(url)); err != nil {
		return nil, fmt.Errorf("navigation to %s failed: %w", url, err)
	}

	if e.waitPolicy == WaitNetworkIdle {
		// Best effort: a page that never goes quiet still counts as
		// loaded once its load event fired.
		select {
		case <-idleCh:
		case <-navCtx.Done():
		}
	}

	mu.Lock()
	finalStatus := status
	mu.Unlock()
	if finalStatus == 0 {
		finalStatus = 200
	}

	finalURL, err := e.FinalURL(ctx, p)
	if err != nil {
		finalURL = url
	}
	return &NavigateResult{Status: finalStatus, FinalURL: finalURL}, nil
}

// Reload re-navigates the page to its current URL.
func (e *chromedpEngine) Reload(ctx context.Context, p *Page, timeout time.Duration) (*NavigateResult, error) {
	current, err := e.FinalURL(ctx, p)
	if err != nil {
		return nil, err
	}
	return e.Navigate(ctx, p, current, timeout)
}

func (e *chromedpEngine) PageContent(ctx context.Context, p *Page) (string, error) {
	var html string
	err := e.runPage(ctx, p, chromedp.Evaluate(`document.documentElement ? document.documentElement.outerHTML : ''`, &html))
	if err != nil {
		return "", fmt.Errorf("failed to read page content: %w", err)
	}
	return html, nil
}

func (e *chromedpEngine) PageTitle(ctx context.Context, p *Page) (string, error) {
	var title string
	if err := e.runPage(ctx, p, chromedp.Title(&title)); err != nil {
		return "", fmt.Errorf("failed to read page title: %w", err)
	}
	return title, nil
}

func (e *chromedpEngine) VisibleText(ctx context.Context, p *Page, maxBytes int) (string, error) {
	var text string
	err := e.runPage(ctx, p, chromedp.Evaluate(`document.body ? document.body.innerText : ''`, &text))
	if err != nil {
		return "", fmt.Errorf("failed to read page text: %w", err)
	}
	if maxBytes > 0 && len(text) > maxBytes {
		text = text[:maxBytes]
	}
	return text, nil
}

func (e *chromedpEngine) FinalURL(ctx context.Context, p *Page) (string, error) {
	var url string
	if err := e.runPage(ctx, p, chromedp.Location(&url)); err != nil {
		return "", fmt.Errorf("failed to read page location: %w", err)
	}
	return url, nil
}

func (e *chromedpEngine) GetCookies(ctx context.Context, bc *BrowserContext) ([]models.Cookie, error) {
	var raw []*network.Cookie
	err := e.run(ctx, chromedp.ActionFunc(func(cctx context.Context) error {
		var err error
		raw, err = storage.GetCookies().WithBrowserContextID(bc.ID).Do(cctx)
		return err
	}))
	if err != nil {
		return nil, fmt.Errorf("failed to get cookies: %w", err)
	}
	cookies := make([]models.Cookie, 0, len(raw))
	for _, c := range raw {
		cookies = append(cookies, models.Cookie{
			Name:     c.Name,
			Value:    c.Value,
			Domain:   c.Domain,
			Path:     c.Path,
			Expires:  c.Expires,
			HTTPOnly: c.HTTPOnly,
			Secure:   c.Secure,
		})
	}
	return cookies, nil
}

func (e *chromedpEngine) SetCookies(ctx context.Context, bc *BrowserContext, cookies []models.Cookie) error {
	if len(cookies) == 0 {
		return nil
	}
	params := make([]*network.CookieParam, 0, len(cookies))
	for _, c := range cookies {
		p := &network.CookieParam{
			Name:     c.Name,
			Value:    c.Value,
			Domain:   c.Domain,
			Path:     c.Path,
			HTTPOnly: c.HTTPOnly,
			Secure:   c.Secure,
		}
		if c.Expires > 0 {
			exp := cdp.TimeSinceEpoch(time.Unix(int64(c.Expires), 0))
			p.Expires = &exp
		}
		params = append(params, p)
	}
	err := e.run(ctx, chromedp.ActionFunc(func(cctx context.Context) error {
		return storage.SetCookies(params).WithBrowserContextID(bc.ID).Do(cctx)
	}))
	if err != nil {
		return fmt.Errorf("failed to set cookies: %w", err)
	}
	return nil
}

func (e *chromedpEngine) MouseMove(ctx context.Context, p *Page, x, y float64) error {
	return e.runPage(ctx, p, chromedp.ActionFunc(func(cctx context.Context) error {
		return input.DispatchMouseEvent(input.MouseMoved, x, y).Do(cctx)
	}))
}

func (e *chromedpEngine) ScrollBy(ctx context.Context, p *Page, dx, dy int) error {
	return e.runPage(ctx, p, chromedp.Evaluate(fmt.Sprintf(`window.scrollBy(%d, %d)`, dx, dy), nil))
}

func (e *chromedpEngine) WaitForSelector(ctx context.Context, p *Page, selector string, timeout time.Duration) error {
	waitCtx, cancel := context.WithTimeout(p.ctx, timeout)
	defer cancel()
	if err := chromedp.Run(waitCtx, chromedp.WaitVisible(selector, chromedp.ByQuery)); err != nil {
		return fmt.Errorf("selector %q not visible: %w", selector, err)
	}
	return nil
}

// WaitForNavigation blocks until the page fires a load event or the
// timeout expires. Challenge pages navigate on their own schedule, so the
// resolver treats a timeout here as "nothing happened", not a failure.
func (e *chromedpEngine) WaitForNavigation(ctx context.Context, p *Page, timeout time.Duration) error {
	waitCtx, cancel := context.WithTimeout(p.ctx, timeout)
	defer cancel()

	fired := make(chan struct{}, 1)
	listenCtx, stopListen := context.WithCancel(waitCtx)
	defer stopListen()
	chromedp.ListenTarget(listenCtx, func(ev interface{}) {
		switch ev.(type) {
		case *page.EventLoadEventFired, *page.EventFrameNavigated:
			select {
			case fired <- struct{}{}:
			default:
			}
		}
	})

	select {
	case <-fired:
		return nil
	case <-waitCtx.Done():
		return waitCtx.Err()
	}
}

func (e *chromedpEngine) Screenshot(ctx context.Context, p *Page) ([]byte, error) {
	var buf []byte
	if err := e.runPage(ctx, p, chromedp.CaptureScreenshot(&buf)); err != nil {
		return nil, fmt.Errorf("failed to capture screenshot: %w", err)
	}
	return buf, nil
}

// Close shuts the browser process down. Every context and page dies with
// the process, so callers drain pools and sessions first.
func (e *chromedpEngine) Close(ctx context.Context) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if !e.started {
		return nil
	}
	if err := chromedp.Cancel(e.browserCtx); err != nil {
		e.logger.Warn().Err(err).Msg("Browser did not exit cleanly")
	}
	e.browserCancel()
	e.allocCancel()
	e.started = false
	e.logger.Info().Msg("Browser engine closed")
	return nil
}
