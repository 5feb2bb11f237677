// Package common provides shared utilities and types used across the application.
package common

import (
	"context"
	"errors"
	"fmt"
	"strings"
)

// Common application errors.
var (
	// Storage errors.
	ErrNotFound       = errors.New("not found")
	ErrDuplicateEntry = errors.New("duplicate entry")

	// Configuration errors.
	ErrMissingConfig = errors.New("missing configuration")
	ErrInvalidConfig = errors.New("invalid configuration")

	// Document errors. Both abort the whole file.
	ErrUnsupportedFormat = errors.New("unsupported document format")
	ErrMalformedDocument = errors.New("malformed document")

	// Detection errors. Recoverable at the unit boundary.
	ErrDetectionTimeout      = errors.New("detection timed out")
	ErrDetectionServiceError = errors.New("detection service error")
	ErrDetectionRateLimited  = errors.New("detection rate limited")
	ErrAllDetectorsFailed    = errors.New("all detectors failed")

	// Redaction errors.
	ErrUnitRedactionFailure = errors.New("unit redaction failed")
	ErrFindingOutOfRange    = errors.New("finding outside unit range")
	ErrCancelled            = errors.New("redaction cancelled")
)

// UserError represents an error that should be shown to the user.
type UserError struct {
	Err         error
	UserMessage string
}

func (e *UserError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.UserMessage, e.Err)
	}
	return e.UserMessage
}

func (e *UserError) Unwrap() error {
	return e.Err
}

// NewUserError creates a new user-friendly error.
func NewUserError(userMessage string, err error) error {
	return &UserError{
		UserMessage: userMessage,
		Err:         err,
	}
}

// InvalidConfigError lists every problem found while validating a redaction config.
type InvalidConfigError struct {
	Problems []string
}

func (e *InvalidConfigError) Error() string {
	return fmt.Sprintf("%v: %s", ErrInvalidConfig, strings.Join(e.Problems, "; "))
}

func (e *InvalidConfigError) Unwrap() error {
	return ErrInvalidConfig
}

// UnsupportedFormatError is returned when no codec handles a declared format.
type UnsupportedFormatError struct {
	Format string
}

func (e *UnsupportedFormatError) Error() string {
	return fmt.Sprintf("%v: %q", ErrUnsupportedFormat, e.Format)
}

func (e *UnsupportedFormatError) Unwrap() error {
	return ErrUnsupportedFormat
}

// MalformedDocumentError is returned when a codec cannot decode the input bytes.
type MalformedDocumentError struct {
	Format string
	Err    error
}

func (e *MalformedDocumentError) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("%v (%s)", ErrMalformedDocument, e.Format)
	}
	return fmt.Sprintf("%v (%s): %v", ErrMalformedDocument, e.Format, e.Err)
}

func (e *MalformedDocumentError) Unwrap() []error {
	if e.Err == nil {
		return []error{ErrMalformedDocument}
	}
	return []error{ErrMalformedDocument, e.Err}
}

// DetectionError is a classified failure from one detector on one unit.
// Kind is one of ErrDetectionTimeout, ErrDetectionServiceError or ErrDetectionRateLimited.
type DetectionError struct {
	Kind     error
	Detector string
	Err      error
}

func (e *DetectionError) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("%s: %v", e.Detector, e.Kind)
	}
	return fmt.Sprintf("%s: %v: %v", e.Detector, e.Kind, e.Err)
}

func (e *DetectionError) Unwrap() []error {
	if e.Err == nil {
		return []error{e.Kind}
	}
	return []error{e.Kind, e.Err}
}

// ClassifyDetectionError maps a raw service error onto the detection taxonomy.
// Context cancellation by the caller is returned unchanged.
func ClassifyDetectionError(detector string, err error) error {
	if err == nil {
		return nil
	}

	var detErr *DetectionError
	if errors.As(err, &detErr) {
		return err
	}

	switch {
	case errors.Is(err, context.Canceled):
		return err
	case errors.Is(err, context.DeadlineExceeded), errors.Is(err, ErrDetectionTimeout):
		return &DetectionError{Kind: ErrDetectionTimeout, Detector: detector, Err: err}
	case errors.Is(err, ErrRateLimit), errors.Is(err, ErrDetectionRateLimited):
		return &DetectionError{Kind: ErrDetectionRateLimited, Detector: detector, Err: err}
	default:
		return &DetectionError{Kind: ErrDetectionServiceError, Detector: detector, Err: err}
	}
}

// IsRetryable determines if an error should trigger a retry.
func IsRetryable(err error) bool {
	if errors.Is(err, context.Canceled) {
		return false
	}

	if errors.Is(err, ErrRateLimit) ||
		errors.Is(err, ErrDetectionRateLimited) ||
		errors.Is(err, ErrDetectionTimeout) ||
		errors.Is(err, context.DeadlineExceeded) {
		return true
	}

	var retryableErr *RetryableError
	if errors.As(err, &retryableErr) {
		return retryableErr.Retryable
	}

	return false
}
