package agent

import (
	"context"
	"errors"
	"fmt"
)

// ErrorKind classifies upstream failures by how the engine should react.
type ErrorKind string

const (
	// ErrorKindUnavailable covers rate limits, 5xx responses, and
	// transport failures. Retryable with backoff.
	ErrorKindUnavailable ErrorKind = "unavailable"

	// ErrorKindRefused covers content-policy refusals. Not retryable:
	// the turn is skipped and the session continues.
	ErrorKindRefused ErrorKind = "refused"

	// ErrorKindTimeout covers deadline expiry on a single call.
	// Retryable.
	ErrorKindTimeout ErrorKind = "timeout"

	// ErrorKindEmpty covers syntactically successful responses with no
	// usable content. Retryable up to the empty-retry budget.
	ErrorKindEmpty ErrorKind = "empty"
)

// UpstreamError is the adapter layer's uniform error type. Every error
// that escapes an Adapter is one of these, so callers can switch on
// Kind without knowing which provider produced it.
type UpstreamError struct {
	Kind   ErrorKind
	Detail string
	Err    error
}

func (e *UpstreamError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("upstream %s: %s: %v", e.Kind, e.Detail, e.Err)
	}
	return fmt.Sprintf("upstream %s: %s", e.Kind, e.Detail)
}

func (e *UpstreamError) Unwrap() error { return e.Err }

// Retryable reports whether another attempt could plausibly succeed.
func (e *UpstreamError) Retryable() bool {
	return e.Kind != ErrorKindRefused
}

// NewUnavailable wraps a transport or server-side failure.
func NewUnavailable(detail string, err error) *UpstreamError {
	return &UpstreamError{Kind: ErrorKindUnavailable, Detail: detail, Err: err}
}

// NewRefused marks a content-policy refusal.
func NewRefused(detail string) *UpstreamError {
	return &UpstreamError{Kind: ErrorKindRefused, Detail: detail}
}

// NewTimeout wraps a deadline expiry.
func NewTimeout(detail string, err error) *UpstreamError {
	return &UpstreamError{Kind: ErrorKindTimeout, Detail: detail, Err: err}
}

// NewEmpty marks a response with no usable content.
func NewEmpty(detail string) *UpstreamError {
	return &UpstreamError{Kind: ErrorKindEmpty, Detail: detail}
}

// KindOf extracts the ErrorKind from err, or "" if err is not an
// UpstreamError.
func KindOf(err error) ErrorKind {
	var ue *UpstreamError
	if errors.As(err, &ue) {
		return ue.Kind
	}
	return ""
}

// IsRetryable reports whether err is an UpstreamError worth retrying.
// Context cancellation is never retryable regardless of wrapping.
func IsRetryable(err error) bool {
	if errors.Is(err, context.Canceled) {
		return false
	}
	var ue *UpstreamError
	return errors.As(err, &ue) && ue.Retryable()
}
