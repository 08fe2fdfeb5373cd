package common

import (
	"github.com/google/uuid"
)

// NewRenderID generates a unique render request ID with the "req_" prefix
// Format: req_<uuid>
func NewRenderID() string {
	return "req_" + uuid.New().String()
}

// NewSessionKey generates a session key for sessions created without one
// Format: ses_<uuid>
func NewSessionKey() string {
	return "ses_" + uuid.New().String()
}

// NewPooledContextID generates an ID for a pooled browser context
// Format: pctx_<uuid>
func NewPooledContextID() string {
	return "pctx_" + uuid.New().String()
}
