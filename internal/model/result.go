package model

import (
	"context"
	"errors"
	"time"

	"github.com/Veraticus/redactor/internal/common"
)

// Status is the overall outcome of a file run.
type Status string

// Result statuses.
const (
	StatusSuccess        Status = "Success"
	StatusPartialFailure Status = "PartialFailure"
	StatusFailure        Status = "Failure"
	StatusCancelled      Status = "Cancelled"
)

// ErrorKind is the closed set of error kinds recorded per unit.
type ErrorKind string

// Error kinds.
const (
	KindInvalidConfig      ErrorKind = "InvalidConfigError"
	KindUnsupportedFormat  ErrorKind = "UnsupportedFormatError"
	KindMalformedDocument  ErrorKind = "MalformedDocumentError"
	KindDetectionTimeout   ErrorKind = "DetectionTimeout"
	KindDetectionService   ErrorKind = "DetectionServiceError"
	KindDetectionRateLimit ErrorKind = "DetectionRateLimited"
	KindUnitRedaction      ErrorKind = "UnitRedactionFailure"
	KindCancelled          ErrorKind = "Cancelled"
)

// KindOf maps an error onto its recorded kind. Unknown errors count as unit redaction failures.
func KindOf(err error) ErrorKind {
	switch {
	case errors.Is(err, common.ErrInvalidConfig):
		return KindInvalidConfig
	case errors.Is(err, common.ErrUnsupportedFormat):
		return KindUnsupportedFormat
	case errors.Is(err, common.ErrMalformedDocument):
		return KindMalformedDocument
	case errors.Is(err, common.ErrCancelled), errors.Is(err, context.Canceled):
		return KindCancelled
	case errors.Is(err, common.ErrDetectionTimeout):
		return KindDetectionTimeout
	case errors.Is(err, common.ErrDetectionRateLimited):
		return KindDetectionRateLimit
	case errors.Is(err, common.ErrDetectionServiceError):
		return KindDetectionService
	default:
		return KindUnitRedaction
	}
}

// UnitError records why a unit failed or degraded.
type UnitError struct {
	UnitID   string       `json:"unit_id"`
	Detector DetectorKind `json:"detector,omitempty"`
	Kind     ErrorKind    `json:"kind"`
	Message  string       `json:"message"`
}

// NewUnitError builds a UnitError from an error.
func NewUnitError(unitID string, detector DetectorKind, err error) UnitError {
	return UnitError{
		UnitID:   unitID,
		Detector: detector,
		Kind:     KindOf(err),
		Message:  err.Error(),
	}
}

// RedactionResult is the file-level aggregate handed back to the caller.
type RedactionResult struct {
	RequestID string        `json:"request_id"`
	Format    string        `json:"format"`
	Status    Status        `json:"status"`
	Processed int           `json:"processed"`
	Succeeded int           `json:"succeeded"`
	Failed    int           `json:"failed"`
	Degraded  int           `json:"degraded"`
	Audit     []AuditEntry  `json:"audit"`
	Errors    []UnitError   `json:"errors"`
	Warnings  []UnitError   `json:"warnings,omitempty"`
	Duration  time.Duration `json:"duration"`
}

// HasArtifact reports whether a redacted artifact may be written for this result.
func (r RedactionResult) HasArtifact() bool {
	return r.Status == StatusSuccess || r.Status == StatusPartialFailure
}

// CategoryCounts tallies audit entries by category.
func (r RedactionResult) CategoryCounts() map[string]int {
	counts := make(map[string]int)
	for _, e := range r.Audit {
		counts[e.Category]++
	}
	return counts
}
