package render

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/chromedp/cdproto/cdp"
	"github.com/chromedp/cdproto/target"
	"github.com/ternarybob/arbor"

	"github.com/ternarybob/revelo/pkg/models"
)

func testLogger() arbor.ILogger {
	return arbor.NewLogger()
}

// fakeEngine is a scripted in-memory Engine. Behaviors are driven by
// function hooks; unset hooks succeed with neutral defaults.
type fakeEngine struct {
	mu sync.Mutex

	contextSeq int
	pageSeq    int

	liveContexts   map[cdp.BrowserContextID]bool
	closedContexts []cdp.BrowserContextID
	deadContexts   map[cdp.BrowserContextID]bool

	cookies map[cdp.BrowserContextID][]models.Cookie

	newContextErr    error
	newContextDelay  time.Duration // simulated context launch latency
	failContextAfter int           // fail NewContext once this many exist (0 = never)
	navigateErr      error
	navStatus        int
	navFinalURL      string

	// Scripted page state consumed one entry per check. When the script
	// runs out the last entry repeats.
	titleScript []string
	bodyScript  []string
	checkCalls  int

	content     string
	contentErr  error
	reloads     int
	reloadErr   error
	mouseMoves  int
	scrolls     int
	navWaits    int
	pagesOpened int
	pagesClosed int
}

func newFakeEngine() *fakeEngine {
	return &fakeEngine{
		liveContexts: make(map[cdp.BrowserContextID]bool),
		deadContexts: make(map[cdp.BrowserContextID]bool),
		cookies:      make(map[cdp.BrowserContextID][]models.Cookie),
		navStatus:    200,
	}
}

func (f *fakeEngine) Start(ctx context.Context) error { return nil }

func (f *fakeEngine) NewContext(ctx context.Context, opts ContextOptions) (*BrowserContext, error) {
	f.mu.Lock()
	delay := f.newContextDelay
	f.mu.Unlock()
	if delay > 0 {
		time.Sleep(delay)
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.newContextErr != nil {
		return nil, f.newContextErr
	}
	if f.failContextAfter > 0 && f.contextSeq >= f.failContextAfter {
		return nil, fmt.Errorf("browser refused context %d", f.contextSeq+1)
	}
	f.contextSeq++
	id := cdp.BrowserContextID(fmt.Sprintf("ctx-%d", f.contextSeq))
	f.liveContexts[id] = true
	return &BrowserContext{ID: id}, nil
}

func (f *fakeEngine) CloseContext(ctx context.Context, bc *BrowserContext) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.liveContexts, bc.ID)
	f.closedContexts = append(f.closedContexts, bc.ID)
	return nil
}

func (f *fakeEngine) ContextPages(ctx context.Context, bc *BrowserContext) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.deadContexts[bc.ID] {
		return 0, fmt.Errorf("context %s is gone", bc.ID)
	}
	return 0, nil
}

func (f *fakeEngine) NewPage(ctx context.Context, bc *BrowserContext) (*Page, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.pageSeq++
	f.pagesOpened++
	return &Page{TargetID: target.ID(fmt.Sprintf("page-%d", f.pageSeq))}, nil
}

func (f *fakeEngine) ClosePage(ctx context.Context, p *Page) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.pagesClosed++
	return nil
}

func (f *fakeEngine) Navigate(ctx context.Context, p *Page, url string, timeout time.Duration) (*NavigateResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.navigateErr != nil {
		return nil, f.navigateErr
	}
	final := f.navFinalURL
	if final == "" {
		final = url
	}
	return &NavigateResult{Status: f.navStatus, FinalURL: final}, nil
}

func (f *fakeEngine) Reload(ctx context.Context, p *Page, timeout time.Duration) (*NavigateResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.reloads++
	if f.reloadErr != nil {
		return nil, f.reloadErr
	}
	return &NavigateResult{Status: f.navStatus}, nil
}

func (f *fakeEngine) PageContent(ctx context.Context, p *Page) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.contentErr != nil {
		return "", f.contentErr
	}
	return f.content, nil
}

func scripted(script []string, call int) string {
	if len(script) == 0 {
		return ""
	}
	if call >= len(script) {
		return script[len(script)-1]
	}
	return script[call]
}

func (f *fakeEngine) PageTitle(ctx context.Context, p *Page) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return scripted(f.titleScript, f.checkCalls), nil
}

// VisibleText advances the script cursor: the resolver always reads title
// then body, so body marks the end of one check.
func (f *fakeEngine) VisibleText(ctx context.Context, p *Page, maxBytes int) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	body := scripted(f.bodyScript, f.checkCalls)
	f.checkCalls++
	if maxBytes > 0 && len(body) > maxBytes {
		body = body[:maxBytes]
	}
	return body, nil
}

func (f *fakeEngine) FinalURL(ctx context.Context, p *Page) (string, error) {
	return f.navFinalURL, nil
}

func (f *fakeEngine) GetCookies(ctx context.Context, bc *BrowserContext) ([]models.Cookie, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.cookies[bc.ID], nil
}

func (f *fakeEngine) SetCookies(ctx context.Context, bc *BrowserContext, cookies []models.Cookie) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.cookies[bc.ID] = append(f.cookies[bc.ID], cookies...)
	return nil
}

func (f *fakeEngine) MouseMove(ctx context.Context, p *Page, x, y float64) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.mouseMoves++
	return nil
}

func (f *fakeEngine) ScrollBy(ctx context.Context, p *Page, dx, dy int) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.scrolls++
	return nil
}

func (f *fakeEngine) WaitForSelector(ctx context.Context, p *Page, selector string, timeout time.Duration) error {
	return nil
}

func (f *fakeEngine) WaitForNavigation(ctx context.Context, p *Page, timeout time.Duration) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.navWaits++
	return nil
}

func (f *fakeEngine) Screenshot(ctx context.Context, p *Page) ([]byte, error) {
	return []byte{0x89, 0x50, 0x4e, 0x47}, nil
}

func (f *fakeEngine) Close(ctx context.Context) error { return nil }

// setCookie installs a cookie on a context for clearance scenarios.
func (f *fakeEngine) setCookie(bc *BrowserContext, c models.Cookie) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.cookies[bc.ID] = append(f.cookies[bc.ID], c)
}

// markDead makes a context fail its liveness probe.
func (f *fakeEngine) markDead(bc *BrowserContext) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.deadContexts[bc.ID] = true
}

func (f *fakeEngine) closedCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.closedContexts)
}
