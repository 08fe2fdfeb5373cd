package models

import (
	"errors"
	"fmt"
	"net/http"
)

// ErrorKind classifies render failures so callers can map them to
// HTTP statuses and retry decisions without parsing messages.
type ErrorKind string

const (
	ErrKindBadInput                ErrorKind = "bad_input"
	ErrKindAdmissionTimeout        ErrorKind = "admission_timeout"
	ErrKindPoolTimeout             ErrorKind = "pool_timeout"
	ErrKindPoolExhausted           ErrorKind = "pool_exhausted"
	ErrKindNavigationTimeout       ErrorKind = "navigation_timeout"
	ErrKindNavigationFailed        ErrorKind = "navigation_failed"
	ErrKindChallengeUnresolved     ErrorKind = "challenge_unresolved"
	ErrKindContentExtractionFailed ErrorKind = "content_extraction_failed"
	ErrKindInternal                ErrorKind = "internal"
)

// RenderError is the error type returned by the render service. It wraps
// the underlying cause so errors.Is/As keep working through it.
type RenderError struct {
	Kind    ErrorKind `json:"kind"`
	Message string    `json:"message"`
	Cause   error     `json:"-"`
}

func (e *RenderError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *RenderError) Unwrap() error {
	return e.Cause
}

// NewRenderError creates a RenderError without an underlying cause.
func NewRenderError(kind ErrorKind, format string, args ...interface{}) *RenderError {
	return &RenderError{Kind: kind, Message: fmt.Sprintf(format, args...)}
}

// WrapRenderError creates a RenderError around an underlying cause.
func WrapRenderError(kind ErrorKind, cause error, format string, args ...interface{}) *RenderError {
	return &RenderError{Kind: kind, Message: fmt.Sprintf(format, args...), Cause: cause}
}

// KindOf extracts the ErrorKind from an error chain, defaulting to internal.
func KindOf(err error) ErrorKind {
	var re *RenderError
	if errors.As(err, &re) {
		return re.Kind
	}
	return ErrKindInternal
}

// HTTPStatus maps an error kind to the HTTP status the API returns for it.
func (k ErrorKind) HTTPStatus() int {
	switch k {
	case ErrKindBadInput:
		return http.StatusBadRequest
	case ErrKindAdmissionTimeout:
		return http.StatusTooManyRequests
	case ErrKindPoolTimeout, ErrKindPoolExhausted:
		return http.StatusServiceUnavailable
	case ErrKindNavigationTimeout:
		return http.StatusGatewayTimeout
	case ErrKindNavigationFailed, ErrKindChallengeUnresolved, ErrKindContentExtractionFailed:
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

// Retryable reports whether a request failing with this kind is worth
// retrying unchanged. Input errors and unresolved challenges are not.
func (k ErrorKind) Retryable() bool {
	switch k {
	case ErrKindAdmissionTimeout, ErrKindPoolTimeout, ErrKindPoolExhausted, ErrKindNavigationTimeout:
		return true
	default:
		return false
	}
}

// RetryHint returns a short human hint for API error payloads.
func (k ErrorKind) RetryHint() string {
	if k.Retryable() {
		return "transient, retry with backoff"
	}
	return "not retryable without changing the request"
}
