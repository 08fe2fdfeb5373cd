package models

import (
	"time"
)

// OutputFormat selects how the rendered DOM is returned to the caller.
type OutputFormat string

const (
	FormatHTML     OutputFormat = "html"
	FormatMarkdown OutputFormat = "markdown"
	FormatText     OutputFormat = "text"
)

// ContextSource records which kind of browser context served a render.
type ContextSource string

const (
	SourcePooled  ContextSource = "pooled"
	SourceSession ContextSource = "session"
)

// Cookie is the wire representation of a browser cookie on the render API.
type Cookie struct {
	Name     string  `json:"name"`
	Value    string  `json:"value"`
	Domain   string  `json:"domain,omitempty"`
	Path     string  `json:"path,omitempty"`
	Expires  float64 `json:"expires,omitempty"` // Unix seconds, 0 = session cookie
	HTTPOnly bool    `json:"http_only,omitempty"`
	Secure   bool    `json:"secure,omitempty"`
}

// RenderRequest is the body of POST /api/render.
type RenderRequest struct {
	URL            string       `json:"url" validate:"required,url"`
	Session        string       `json:"session,omitempty" validate:"omitempty,max=128"`
	Format         OutputFormat `json:"format,omitempty" validate:"omitempty,oneof=html markdown text"`
	Cookies        []Cookie     `json:"cookies,omitempty" validate:"omitempty,dive"`
	WaitSelector   string       `json:"wait_selector,omitempty" validate:"omitempty,max=512"`
	Screenshot     bool         `json:"screenshot,omitempty"`
	TimeoutSeconds int          `json:"timeout_seconds,omitempty" validate:"omitempty,min=1,max=600"`
}

// RenderResult is the successful response of POST /api/render.
type RenderResult struct {
	ID                string        `json:"id"`
	URL               string        `json:"url"`
	FinalURL          string        `json:"final_url"`
	Status            int           `json:"status"`
	Title             string        `json:"title,omitempty"`
	Content           string        `json:"content"`
	Format            OutputFormat  `json:"format"`
	ContentBytes      int           `json:"content_bytes"`
	LinkCount         int           `json:"link_count"`
	Source            ContextSource `json:"source"`
	Session           string        `json:"session,omitempty"`
	ChallengeDetected bool          `json:"challenge_detected"`
	ChallengeResolved bool          `json:"challenge_resolved"`
	ChallengeRounds   int           `json:"challenge_rounds"`
	Cookies           []Cookie      `json:"cookies,omitempty"`
	Screenshot        []byte        `json:"screenshot,omitempty"` // PNG, base64 in JSON
	DurationMs        int64         `json:"duration_ms"`
	RenderedAt        time.Time     `json:"rendered_at"`
}
