package models

import (
	"errors"
	"fmt"
	"net/http"
	"testing"
)

func TestRenderErrorUnwrap(t *testing.T) {
	cause := errors.New("connection refused")
	err := WrapRenderError(ErrKindNavigationFailed, cause, "navigation to %s failed", "https://example.com")

	if !errors.Is(err, cause) {
		t.Error("errors.Is lost the cause through RenderError")
	}

	var re *RenderError
	if !errors.As(fmt.Errorf("render: %w", err), &re) {
		t.Fatal("errors.As failed through an extra wrap")
	}
	if re.Kind != ErrKindNavigationFailed {
		t.Errorf("Kind = %v, want navigation_failed", re.Kind)
	}
}

func TestKindOf(t *testing.T) {
	if got := KindOf(NewRenderError(ErrKindPoolTimeout, "no context")); got != ErrKindPoolTimeout {
		t.Errorf("KindOf = %v, want pool_timeout", got)
	}
	if got := KindOf(errors.New("plain")); got != ErrKindInternal {
		t.Errorf("KindOf(plain) = %v, want internal", got)
	}
	wrapped := fmt.Errorf("outer: %w", NewRenderError(ErrKindBadInput, "bad url"))
	if got := KindOf(wrapped); got != ErrKindBadInput {
		t.Errorf("KindOf(wrapped) = %v, want bad_input", got)
	}
}

func TestErrorKindHTTPStatus(t *testing.T) {
	tests := []struct {
		kind ErrorKind
		want int
	}{
		{ErrKindBadInput, http.StatusBadRequest},
		{ErrKindAdmissionTimeout, http.StatusTooManyRequests},
		{ErrKindPoolTimeout, http.StatusServiceUnavailable},
		{ErrKindPoolExhausted, http.StatusServiceUnavailable},
		{ErrKindNavigationTimeout, http.StatusGatewayTimeout},
		{ErrKindNavigationFailed, http.StatusBadGateway},
		{ErrKindChallengeUnresolved, http.StatusBadGateway},
		{ErrKindContentExtractionFailed, http.StatusBadGateway},
		{ErrKindInternal, http.StatusInternalServerError},
		{ErrorKind("unknown"), http.StatusInternalServerError},
	}

	for _, tt := range tests {
		if got := tt.kind.HTTPStatus(); got != tt.want {
			t.Errorf("%s.HTTPStatus() = %d, want %d", tt.kind, got, tt.want)
		}
	}
}

func TestErrorKindRetryable(t *testing.T) {
	retryable := []ErrorKind{ErrKindAdmissionTimeout, ErrKindPoolTimeout, ErrKindPoolExhausted, ErrKindNavigationTimeout}
	for _, kind := range retryable {
		if !kind.Retryable() {
			t.Errorf("%s should be retryable", kind)
		}
	}

	terminal := []ErrorKind{ErrKindBadInput, ErrKindNavigationFailed, ErrKindChallengeUnresolved, ErrKindContentExtractionFailed, ErrKindInternal}
	for _, kind := range terminal {
		if kind.Retryable() {
			t.Errorf("%s should not be retryable", kind)
		}
	}
}
