package render

import (
	"strings"

	"github.com/PuerkitoBio/goquery"

	"github.com/ternarybob/revelo/pkg/models"
)

// challengeMarkers are the substrings anti-bot interstitials leave in the
// page title or early body text. Matching is case-insensitive.
var challengeMarkers = []string{
	"just a moment",
	"attention required",
	"checking your browser",
	"verify you are human",
	"ddos-guard",
	"_cf_chl",
	"cf-challenge",
	"turnstile",
	"challenges.cloudflare.com",
	"jschl",
}

// challengeSelectors are DOM containers challenge pages render into.
var challengeSelectors = []string{
	"#challenge-form",
	"#challenge-running",
	"#cf-please-wait",
	".cf-turnstile",
}

// defaultClearanceCookies are the cookie names that prove a challenge was
// passed for an origin.
var defaultClearanceCookies = []string{"cf_clearance"}

// ChallengeDetector decides, from fetched page state, whether a render
// landed on an anti-bot interstitial instead of the real page. It is
// heuristic and best-effort: markers evolve, so a miss is survivable and
// a false positive only costs resolution rounds.
type ChallengeDetector struct {
	clearanceCookies []string
}

// NewChallengeDetector creates a detector. An empty cookie list falls
// back to the built-in clearance cookie names.
func NewChallengeDetector(clearanceCookies []string) *ChallengeDetector {
	if len(clearanceCookies) == 0 {
		clearanceCookies = defaultClearanceCookies
	}
	return &ChallengeDetector{clearanceCookies: clearanceCookies}
}

// IsChallenged scans the title and a bounded prefix of visible text for
// challenge markers.
func (d *ChallengeDetector) IsChallenged(title, bodyText string) bool {
	haystack := strings.ToLower(title) + "\n" + strings.ToLower(bodyText)
	for _, marker := range challengeMarkers {
		if strings.Contains(haystack, marker) {
			return true
		}
	}
	return false
}

// MarkupChallenged checks the rendered markup for challenge containers.
// Used for the final partial-success decision, where the body text may
// already be empty but the challenge widget is still mounted.
func (d *ChallengeDetector) MarkupChallenged(markup string) bool {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(markup))
	if err != nil {
		return false
	}
	for _, sel := range challengeSelectors {
		if doc.Find(sel).Length() > 0 {
			return true
		}
	}
	return false
}

// HasClearance reports whether the cookie set contains a clearance cookie
// scoped to the request host. Cookie domains match the host itself or any
// parent domain (".example.com" covers "www.example.com").
func (d *ChallengeDetector) HasClearance(cookies []models.Cookie, host string) bool {
	host = strings.ToLower(host)
	for _, c := range cookies {
		if !d.isClearanceName(c.Name) {
			continue
		}
		if c.Value == "" {
			continue
		}
		if domainMatches(c.Domain, host) {
			return true
		}
	}
	return false
}

func (d *ChallengeDetector) isClearanceName(name string) bool {
	for _, n := range d.clearanceCookies {
		if name == n {
			return true
		}
	}
	return false
}

func domainMatches(cookieDomain, host string) bool {
	if cookieDomain == "" {
		return true
	}
	domain := strings.ToLower(strings.TrimPrefix(cookieDomain, "."))
	return host == domain || strings.HasSuffix(host, "."+domain)
}
