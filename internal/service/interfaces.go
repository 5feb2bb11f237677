// Package service defines the interfaces for all application services.
package service

import (
	"context"
	"time"

	"github.com/Veraticus/redactor/internal/model"
)

// BlobStore is the object storage boundary used to stage input and output files.
type BlobStore interface {
	Fetch(ctx context.Context, id string) ([]byte, error)
	Store(ctx context.Context, id string, data []byte) error
}

// DetectionService is an external text or image understanding service.
// Implementations return findings relative to the unit and may fail with
// timeouts, rate limits or service errors.
type DetectionService interface {
	Analyze(ctx context.Context, unit model.ContentUnit, kind model.DetectorKind, timeout time.Duration) ([]model.Finding, error)
}

// JobRecord is a persisted summary of one redaction job.
type JobRecord struct {
	CreatedAt   time.Time
	CompletedAt *time.Time
	ID          string
	Tenant      string
	Format      string
	Source      string
	Output      string
	Stage       string
	Status      model.Status
	Message     string
	Result      *model.RedactionResult
}

// JobFilter narrows job listings.
type JobFilter struct {
	Tenant string
	Status model.Status
	Limit  int
}

// Storage defines the contract for our persistence layer.
type Storage interface {
	SaveJob(ctx context.Context, job *JobRecord) error
	CompleteJob(ctx context.Context, id string, result model.RedactionResult, message string) error
	GetJob(ctx context.Context, id string) (*JobRecord, error)
	ListJobs(ctx context.Context, filter JobFilter) ([]JobRecord, error)
	GetAuditEntries(ctx context.Context, jobID string) ([]model.AuditEntry, error)
	GetUnitErrors(ctx context.Context, jobID string) ([]model.UnitError, error)

	Migrate(ctx context.Context) error
	Close() error
}

// CompletionEvent is announced to subscribers when a job reaches a terminal status.
type CompletionEvent struct {
	RequestID  string         `json:"request_id"`
	Tenant     string         `json:"tenant,omitempty"`
	Stage      string         `json:"stage"`
	Status     model.Status   `json:"status"`
	Processed  int            `json:"processed"`
	Failed     int            `json:"failed"`
	Redactions int            `json:"redactions"`
	Categories map[string]int `json:"categories,omitempty"`
	Output     string         `json:"output,omitempty"`
	Message    string         `json:"message,omitempty"`
}

// Notifier publishes completion events.
type Notifier interface {
	Publish(ctx context.Context, event CompletionEvent) error
}
