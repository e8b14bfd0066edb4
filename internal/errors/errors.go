// Package errors defines the error taxonomy used throughout bleepsweep.
package errors

import (
	stderrors "errors"
	"fmt"
)

// SweepError represents a sweep failure with a machine-readable code,
// human-readable message and the HTTP status code reported to callers.
type SweepError struct {
	// Code is the machine-readable reason (e.g., "no-admin-creds").
	Code string
	// Message is a human-readable description of the error.
	Message string
	// HTTPStatus is the HTTP status code to return (e.g., 400, 503).
	HTTPStatus int
	// cause is the wrapped underlying error, if any.
	cause error
}

// Error implements the error interface for SweepError.
func (e *SweepError) Error() string {
	if e.cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.cause)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// Unwrap returns the underlying cause.
func (e *SweepError) Unwrap() error {
	return e.cause
}

// Is reports whether target is a SweepError with the same code, so that a
// wrapped copy still matches its sentinel.
func (e *SweepError) Is(target error) bool {
	t, ok := target.(*SweepError)
	if !ok {
		return false
	}
	return t.Code == e.Code
}

// Wrap returns a copy of the SweepError carrying cause.
func (e *SweepError) Wrap(cause error) *SweepError {
	cp := *e
	cp.cause = cause
	return &cp
}

// WithMessage returns a copy of the SweepError with a more specific message.
func (e *SweepError) WithMessage(format string, args ...any) *SweepError {
	cp := *e
	cp.Message = fmt.Sprintf(format, args...)
	return &cp
}

// Pre-defined sweep errors.
var (
	// ErrNoAdminCreds is returned when no object store handle is configured.
	// The operation fails fast and no partial work is attempted.
	ErrNoAdminCreds = &SweepError{
		Code:       "no-admin-creds",
		Message:    "object store credentials are not configured",
		HTTPStatus: 503,
	}

	// ErrInvalidMode is returned for an unknown sweep mode.
	ErrInvalidMode = &SweepError{
		Code:       "invalid-mode",
		Message:    "purge mode must be one of prefix, orphans, targeted",
		HTTPStatus: 400,
	}

	// ErrInvalidFilter is returned when safe mode is on but its pattern
	// cannot be compiled.
	ErrInvalidFilter = &SweepError{
		Code:       "invalid-filter",
		Message:    "safe-mode pattern is invalid",
		HTTPStatus: 400,
	}

	// ErrInvalidRequest is returned for malformed or contradictory requests.
	ErrInvalidRequest = &SweepError{
		Code:       "invalid-request",
		Message:    "the request is invalid",
		HTTPStatus: 400,
	}

	// ErrEmptyPrefix is returned when a prefix sweep would cover a whole bucket.
	ErrEmptyPrefix = &SweepError{
		Code:       "empty-prefix",
		Message:    "prefix mode requires at least one non-empty prefix",
		HTTPStatus: 400,
	}

	// ErrNoBuckets is returned when neither the request nor the configuration names a bucket.
	ErrNoBuckets = &SweepError{
		Code:       "no-buckets",
		Message:    "no buckets to sweep",
		HTTPStatus: 400,
	}

	// ErrListFailed is returned when enumerating the object store fails.
	ErrListFailed = &SweepError{
		Code:       "list-failed",
		Message:    "listing objects failed",
		HTTPStatus: 500,
	}

	// ErrReferenceScan is returned when reading references from the metadata store fails.
	ErrReferenceScan = &SweepError{
		Code:       "reference-scan-failed",
		Message:    "collecting references failed",
		HTTPStatus: 500,
	}

	// ErrNoReferenceSource is returned when an orphan or owner-scoped sweep
	// is requested without a configured metadata store.
	ErrNoReferenceSource = &SweepError{
		Code:       "no-reference-source",
		Message:    "no metadata store is configured for reference collection",
		HTTPStatus: 503,
	}
)

// As finds the first SweepError in err's chain.
func As(err error) (*SweepError, bool) {
	var se *SweepError
	if stderrors.As(err, &se) {
		return se, true
	}
	return nil, false
}

// Status returns the HTTP status for err, defaulting to 500.
func Status(err error) int {
	if se, ok := As(err); ok {
		return se.HTTPStatus
	}
	return 500
}

// Code returns the machine-readable code for err, defaulting to "internal-error".
func Code(err error) string {
	if se, ok := As(err); ok {
		return se.Code
	}
	return "internal-error"
}
