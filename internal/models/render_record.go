package models

import (
	"time"

	pkgmodels "github.com/ternarybob/revelo/pkg/models"
)

// RenderRecord is the persisted audit trail of one render request.
type RenderRecord struct {
	ID              string                  `json:"id" badgerhold:"key"`
	URL             string                  `json:"url"`
	FinalURL        string                  `json:"final_url"`
	Status          int                     `json:"status"`
	Success         bool                    `json:"success"`
	ErrorKind       pkgmodels.ErrorKind     `json:"error_kind,omitempty"`
	ErrorMessage    string                  `json:"error_message,omitempty"`
	Source          pkgmodels.ContextSource `json:"source,omitempty"`
	Session         string                  `json:"session,omitempty"`
	ChallengeRounds int                     `json:"challenge_rounds"`
	ContentBytes    int                     `json:"content_bytes"`
	DurationMs      int64                   `json:"duration_ms"`
	CreatedAt       time.Time               `json:"created_at" badgerhold:"index"`
}
