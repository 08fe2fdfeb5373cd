package render

import (
	"testing"

	"github.com/ternarybob/revelo/pkg/models"
)

func TestDetectorIsChallenged(t *testing.T) {
	d := NewChallengeDetector(nil)

	tests := []struct {
		name  string
		title string
		body  string
		want  bool
	}{
		{"plain page", "Example Domain", "This domain is for use in examples.", false},
		{"cloudflare title", "Just a moment...", "", true},
		{"case insensitive", "JUST A MOMENT", "", true},
		{"attention required", "Attention Required! | Cloudflare", "", true},
		{"body marker", "Example", "Checking your browser before accessing example.com", true},
		{"turnstile body", "Example", "please complete the turnstile check", true},
		{"ddos guard", "DDoS-Guard", "", true},
		{"chl token in body", "Loading", "window._cf_chl_opt = {}", true},
		{"verify human", "Security check", "Verify you are human by completing the action below", true},
		{"empty page", "", "", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := d.IsChallenged(tt.title, tt.body); got != tt.want {
				t.Errorf("IsChallenged(%q, %q) = %v, want %v", tt.title, tt.body, got, tt.want)
			}
		})
	}
}

func TestDetectorMarkupChallenged(t *testing.T) {
	d := NewChallengeDetector(nil)

	tests := []struct {
		name   string
		markup string
		want   bool
	}{
		{"challenge form", `<html><body><form id="challenge-form"></form></body></html>`, true},
		{"challenge running", `<html><body><div id="challenge-running"></div></body></html>`, true},
		{"turnstile widget", `<html><body><div class="cf-turnstile"></div></body></html>`, true},
		{"real page", `<html><body><article><h1>News</h1><p>Content</p></article></body></html>`, false},
		{"empty", ``, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := d.MarkupChallenged(tt.markup); got != tt.want {
				t.Errorf("MarkupChallenged = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestDetectorHasClearance(t *testing.T) {
	d := NewChallengeDetector(nil)

	tests := []struct {
		name    string
		cookies []models.Cookie
		host    string
		want    bool
	}{
		{
			"exact domain",
			[]models.Cookie{{Name: "cf_clearance", Value: "tok", Domain: "example.com"}},
			"example.com",
			true,
		},
		{
			"parent domain covers subdomain",
			[]models.Cookie{{Name: "cf_clearance", Value: "tok", Domain: ".example.com"}},
			"www.example.com",
			true,
		},
		{
			"unrelated domain",
			[]models.Cookie{{Name: "cf_clearance", Value: "tok", Domain: "other.com"}},
			"example.com",
			false,
		},
		{
			"suffix is not a subdomain",
			[]models.Cookie{{Name: "cf_clearance", Value: "tok", Domain: "ample.com"}},
			"example.com",
			false,
		},
		{
			"wrong cookie name",
			[]models.Cookie{{Name: "session_id", Value: "tok", Domain: "example.com"}},
			"example.com",
			false,
		},
		{
			"empty value does not count",
			[]models.Cookie{{Name: "cf_clearance", Value: "", Domain: "example.com"}},
			"example.com",
			false,
		},
		{
			"no cookies",
			nil,
			"example.com",
			false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := d.HasClearance(tt.cookies, tt.host); got != tt.want {
				t.Errorf("HasClearance = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestDetectorCustomClearanceCookies(t *testing.T) {
	d := NewChallengeDetector([]string{"__ddg_clearance"})

	cookies := []models.Cookie{{Name: "__ddg_clearance", Value: "tok", Domain: "example.com"}}
	if !d.HasClearance(cookies, "example.com") {
		t.Error("custom clearance cookie not recognized")
	}

	cfOnly := []models.Cookie{{Name: "cf_clearance", Value: "tok", Domain: "example.com"}}
	if d.HasClearance(cfOnly, "example.com") {
		t.Error("default cookie recognized despite custom override")
	}
}
