package render

import (
	"context"
	"time"

	"github.com/ternarybob/revelo/pkg/models"
)

// WaitPolicy selects when a navigation is considered finished.
type WaitPolicy string

const (
	WaitLoad        WaitPolicy = "load"
	WaitNetworkIdle WaitPolicy = "networkidle"
)

// ContextOptions configures a new isolated browser context and the pages
// opened inside it.
type ContextOptions struct {
	UserAgent string
	Locale    string
	Timezone  string
}

// NavigateResult carries the observable outcome of a navigation.
type NavigateResult struct {
	Status   int
	FinalURL string
}

// Engine abstracts the headless browser so the pool, session store,
// resolver and orchestrator can be tested without one. Implementations
// must be safe for concurrent use across distinct contexts and pages.
type Engine interface {
	// Start launches the browser process and verifies it responds.
	Start(ctx context.Context) error

	// NewContext creates an isolated browser context (own cookie jar,
	// cache and storage). CloseContext destroys it and every page in it.
	NewContext(ctx context.Context, opts ContextOptions) (*BrowserContext, error)
	CloseContext(ctx context.Context, bc *BrowserContext) error

	// ContextPages reports how many pages the context currently owns.
	// Used as a liveness probe: an error means the context is dead.
	ContextPages(ctx context.Context, bc *BrowserContext) (int, error)

	// NewPage opens a page inside the context. ClosePage closes just
	// that page and leaves the context alive.
	NewPage(ctx context.Context, bc *BrowserContext) (*Page, error)
	ClosePage(ctx context.Context, p *Page) error

	// Navigate loads a URL and waits per the engine's wait policy,
	// bounded by timeout. Reload re-navigates the page to its current
	// URL, dropping in-memory page state.
	Navigate(ctx context.Context, p *Page, url string, timeout time.Duration) (*NavigateResult, error)
	Reload(ctx context.Context, p *Page, timeout time.Duration) (*NavigateResult, error)

	// Content extraction.
	PageContent(ctx context.Context, p *Page) (string, error)
	PageTitle(ctx context.Context, p *Page) (string, error)
	VisibleText(ctx context.Context, p *Page, maxBytes int) (string, error)
	FinalURL(ctx context.Context, p *Page) (string, error)

	// Cookie access is context-scoped, not page-scoped.
	GetCookies(ctx context.Context, bc *BrowserContext) ([]models.Cookie, error)
	SetCookies(ctx context.Context, bc *BrowserContext, cookies []models.Cookie) error

	// Interaction primitives used by the challenge resolver.
	MouseMove(ctx context.Context, p *Page, x, y float64) error
	ScrollBy(ctx context.Context, p *Page, dx, dy int) error

	// WaitForSelector blocks until the selector is visible or the
	// timeout expires. WaitForNavigation blocks until the page fires a
	// load event or the timeout expires; timing out is reported as an
	// error the caller may treat as best-effort.
	WaitForSelector(ctx context.Context, p *Page, selector string, timeout time.Duration) error
	WaitForNavigation(ctx context.Context, p *Page, timeout time.Duration) error

	// Screenshot captures the current viewport as PNG.
	Screenshot(ctx context.Context, p *Page) ([]byte, error)

	// Close shuts the browser process down. All contexts die with it.
	Close(ctx context.Context) error
}
