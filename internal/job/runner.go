package job

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"path"
	"time"

	"github.com/Veraticus/redactor/internal/document"
	"github.com/Veraticus/redactor/internal/metrics"
	"github.com/Veraticus/redactor/internal/model"
	"github.com/Veraticus/redactor/internal/policy"
	"github.com/Veraticus/redactor/internal/processor"
	"github.com/Veraticus/redactor/internal/service"
)

// Stages recorded with every job.
const (
	StageRedact  = "redact"
	StageAnalyse = "analyse"
	StageSkip    = "skip"
	StageApply   = "apply"
)

// Request describes one redaction job.
type Request struct {
	// ID is optional; a UUID is generated when empty.
	ID      string
	Tenant  string
	Profile string
	// Format is optional when Source has a recognisable extension.
	Format string
	// Source is the blob id of the input in the staging store. Ignored when Data is set.
	Source string
	Data   []byte
	// Destination, when set, also receives the artifact in the output store.
	Destination string
	Overrides   model.ConfigOverrides
	Rules       []policy.RuleSpec
	// SkipRedaction passes the input through unchanged.
	SkipRedaction bool
	// DryRun analyses the input without producing a final artifact. The
	// proposed artifact and the findings behind it are stored for review.
	DryRun bool
}

// ApplyRequest applies reviewed findings to a job's staged input.
type ApplyRequest struct {
	// ID is the job whose raw input is redacted.
	ID string
	// Proposals replace the findings stored by the job's analysis when set.
	Proposals   *Proposals
	Destination string
}

// Outcome is what a finished job produced.
type Outcome struct {
	JobID    string
	Prefix   string
	Stage    string
	Artifact []byte
	// ArtifactID is the staging blob id of the artifact, empty when none was stored.
	ArtifactID string
	// ProposedID and ProposalsID are set by an analysis: the preview artifact
	// and the findings that produced it.
	ProposedID  string
	ProposalsID string
	ResultID    string
	Result      model.RedactionResult
}

// Config wires a Runner. Processor, Policy and Store are required.
type Config struct {
	Processor *processor.Processor
	Policy    *policy.Processor
	Store     service.BlobStore
	Output    service.BlobStore
	Storage   service.Storage
	Notifier  service.Notifier
	Metrics   *metrics.Metrics
	Logger    *slog.Logger
}

// Runner executes redaction jobs.
type Runner struct {
	processor *processor.Processor
	policy    *policy.Processor
	store     service.BlobStore
	output    service.BlobStore
	storage   service.Storage
	notifier  service.Notifier
	metrics   *metrics.Metrics
	logger    *slog.Logger
}

// New creates a Runner.
func New(cfg Config) (*Runner, error) {
	if cfg.Processor == nil {
		return nil, fmt.Errorf("job runner requires a processor")
	}
	if cfg.Policy == nil {
		return nil, fmt.Errorf("job runner requires a policy processor")
	}
	if cfg.Store == nil {
		return nil, fmt.Errorf("job runner requires a blob store")
	}
	if cfg.Output == nil {
		cfg.Output = cfg.Store
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}

	return &Runner{
		processor: cfg.Processor,
		policy:    cfg.Policy,
		store:     cfg.Store,
		output:    cfg.Output,
		storage:   cfg.Storage,
		notifier:  cfg.Notifier,
		metrics:   cfg.Metrics,
		logger:    cfg.Logger,
	}, nil
}

func stageOf(req Request) string {
	switch {
	case req.SkipRedaction:
		return StageSkip
	case req.DryRun:
		return StageAnalyse
	default:
		return StageRedact
	}
}

// Run executes one job. The returned error is non-nil when the job could not
// be staged or recorded, or the document could not be processed at all. In
// the latter case the Outcome still carries the Failure result.
func (r *Runner) Run(ctx context.Context, req Request) (*Outcome, error) {
	jobID := req.ID
	if jobID == "" {
		jobID = NewID()
	}
	prefix, err := StoragePrefix(jobID)
	if err != nil {
		return nil, err
	}

	format := req.Format
	if format == "" {
		if format, err = document.FormatFromPath(req.Source); err != nil {
			return nil, err
		}
	}

	data := req.Data
	if data == nil {
		if req.Source == "" {
			return nil, fmt.Errorf("job %s has no input", jobID)
		}
		if data, err = r.store.Fetch(ctx, req.Source); err != nil {
			return nil, fmt.Errorf("failed to read input: %w", err)
		}
	}

	ext := document.Extension(format)
	outcome := &Outcome{
		JobID:    jobID,
		Prefix:   prefix,
		Stage:    stageOf(req),
		ResultID: path.Join(prefix, "result.json"),
	}
	logger := r.logger.With("request_id", jobID, "stage", outcome.Stage, "format", format)

	record := &service.JobRecord{
		ID:     jobID,
		Tenant: req.Tenant,
		Format: format,
		Source: path.Join(prefix, "raw."+ext),
		Stage:  outcome.Stage,
	}
	if r.storage != nil {
		if err := r.storage.SaveJob(ctx, record); err != nil {
			return nil, fmt.Errorf("failed to record job: %w", err)
		}
	}

	if err := r.store.Store(ctx, record.Source, data); err != nil {
		return nil, fmt.Errorf("failed to stage raw input: %w", err)
	}
	logger.Info("Staged raw input", "blob", record.Source, "bytes", len(data))

	var (
		procErr error
		cfg     model.RedactionConfig
	)
	switch {
	case req.SkipRedaction:
		logger.Info("Redaction skipped, passing input through")
		outcome.Result = model.RedactionResult{
			RequestID: jobID,
			Format:    format,
			Status:    model.StatusSuccess,
			Audit:     []model.AuditEntry{},
			Errors:    []model.UnitError{},
		}
		outcome.Artifact = data

	default:
		cfg, procErr = r.resolve(jobID, format, req)
		if procErr != nil {
			outcome.Result = failedResult(jobID, format)
			break
		}
		outcome.Result, outcome.Artifact, procErr = r.processor.Process(ctx, document.Document{ID: jobID, Format: format, Data: data}, cfg)
	}

	if req.DryRun {
		if outcome.Artifact != nil && !req.SkipRedaction {
			if err := r.storeProposals(ctx, outcome, newProposals(jobID, req.Tenant, format, cfg, outcome.Result), ext); err != nil {
				return outcome, err
			}
			logger.Info("Stored proposed redactions", "blob", outcome.ProposalsID, "findings", len(outcome.Result.Audit))
		}
		outcome.Artifact = nil
	}

	if err := r.finish(ctx, outcome, record, req.Destination, ext); err != nil {
		return outcome, err
	}

	message := ""
	if procErr != nil {
		message = procErr.Error()
	}
	if err := r.record(ctx, record, outcome, message); err != nil {
		return outcome, err
	}
	r.announce(ctx, logger, req.Tenant, outcome, message)

	return outcome, procErr
}

// Apply redacts a job's staged raw input with reviewed findings. The job must
// have been analysed first unless req.Proposals is set. The curated findings
// are stored beside the raw input before they are applied.
func (r *Runner) Apply(ctx context.Context, req ApplyRequest) (*Outcome, error) {
	prefix, err := StoragePrefix(req.ID)
	if err != nil {
		return nil, err
	}

	proposals := req.Proposals
	if proposals == nil {
		if proposals, err = LoadProposals(ctx, r.store, prefix); err != nil {
			return nil, err
		}
	}
	format := proposals.Format
	ext := document.Extension(format)

	outcome := &Outcome{
		JobID:    req.ID,
		Prefix:   prefix,
		Stage:    StageApply,
		ResultID: path.Join(prefix, "result.json"),
	}
	logger := r.logger.With("request_id", req.ID, "stage", outcome.Stage, "format", format)

	record := &service.JobRecord{
		ID:     req.ID,
		Tenant: proposals.Tenant,
		Format: format,
		Source: path.Join(prefix, "raw."+ext),
		Stage:  outcome.Stage,
	}

	data, err := r.store.Fetch(ctx, record.Source)
	if err != nil {
		return nil, fmt.Errorf("failed to read staged input: %w", err)
	}

	curated, err := json.MarshalIndent(proposals, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("failed to marshal curated findings: %w", err)
	}
	curatedID := path.Join(prefix, "curated.json")
	if err := r.store.Store(ctx, curatedID, curated); err != nil {
		return nil, fmt.Errorf("failed to store curated findings: %w", err)
	}
	logger.Info("Stored curated findings", "blob", curatedID, "findings", len(proposals.Entries))

	if r.storage != nil {
		if err := r.storage.SaveJob(ctx, record); err != nil {
			return nil, fmt.Errorf("failed to record job: %w", err)
		}
	}

	var procErr error
	outcome.Result, outcome.Artifact, procErr = r.processor.Apply(ctx,
		document.Document{ID: req.ID, Format: format, Data: data}, proposals.Config, proposals.Review)

	if err := r.finish(ctx, outcome, record, req.Destination, ext); err != nil {
		return outcome, err
	}

	message := ""
	if procErr != nil {
		message = procErr.Error()
	}
	if err := r.record(ctx, record, outcome, message); err != nil {
		return outcome, err
	}
	r.announce(ctx, logger, proposals.Tenant, outcome, message)

	return outcome, procErr
}

func (r *Runner) resolve(jobID, format string, req Request) (model.RedactionConfig, error) {
	return r.policy.Resolve(policy.RequestContext{
		Overrides:      req.Overrides,
		RequestID:      jobID,
		Tenant:         req.Tenant,
		Profile:        req.Profile,
		Format:         format,
		RedactionRules: req.Rules,
	})
}

func failedResult(jobID, format string) model.RedactionResult {
	return model.RedactionResult{
		RequestID: jobID,
		Format:    format,
		Status:    model.StatusFailure,
		Audit:     []model.AuditEntry{},
		Errors:    []model.UnitError{},
	}
}

// finish stores the artifact, delivers it when a destination is set, and
// stores the result.
func (r *Runner) finish(ctx context.Context, outcome *Outcome, record *service.JobRecord, destination, ext string) error {
	if outcome.Artifact != nil {
		outcome.ArtifactID = path.Join(outcome.Prefix, "redacted."+ext)
		if err := r.store.Store(ctx, outcome.ArtifactID, outcome.Artifact); err != nil {
			return fmt.Errorf("failed to store artifact: %w", err)
		}
		if destination != "" {
			if err := r.output.Store(ctx, destination, outcome.Artifact); err != nil {
				return fmt.Errorf("failed to deliver artifact: %w", err)
			}
		}
		record.Output = outcome.ArtifactID
	}
	return r.storeResult(ctx, outcome)
}

func (r *Runner) storeProposals(ctx context.Context, outcome *Outcome, proposals *Proposals, ext string) error {
	outcome.ProposedID = path.Join(outcome.Prefix, "proposed."+ext)
	if err := r.store.Store(ctx, outcome.ProposedID, outcome.Artifact); err != nil {
		return fmt.Errorf("failed to store proposed artifact: %w", err)
	}

	data, err := json.MarshalIndent(proposals, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal proposals: %w", err)
	}
	outcome.ProposalsID = path.Join(outcome.Prefix, ProposalsFile)
	if err := r.store.Store(ctx, outcome.ProposalsID, data); err != nil {
		return fmt.Errorf("failed to store proposals: %w", err)
	}
	return nil
}

func (r *Runner) storeResult(ctx context.Context, outcome *Outcome) error {
	data, err := json.MarshalIndent(outcome.Result, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal result: %w", err)
	}
	if err := r.store.Store(ctx, outcome.ResultID, data); err != nil {
		return fmt.Errorf("failed to store result: %w", err)
	}
	return nil
}

func (r *Runner) record(ctx context.Context, record *service.JobRecord, outcome *Outcome, message string) error {
	if r.storage == nil {
		return nil
	}

	// Persist even when the caller has gone away so the history stays complete.
	ctx = context.WithoutCancel(ctx)

	record.Status = outcome.Result.Status
	record.Message = message
	if err := r.storage.SaveJob(ctx, record); err != nil {
		return fmt.Errorf("failed to update job: %w", err)
	}
	if err := r.storage.CompleteJob(ctx, record.ID, outcome.Result, message); err != nil {
		return fmt.Errorf("failed to complete job: %w", err)
	}
	return nil
}

func (r *Runner) announce(ctx context.Context, logger *slog.Logger, tenant string, outcome *Outcome, message string) {
	if r.metrics != nil {
		r.metrics.ObserveResult(outcome.Stage, outcome.Result)
	}
	if r.notifier == nil {
		return
	}

	event := service.CompletionEvent{
		RequestID:  outcome.JobID,
		Tenant:     tenant,
		Stage:      outcome.Stage,
		Status:     outcome.Result.Status,
		Processed:  outcome.Result.Processed,
		Failed:     outcome.Result.Failed,
		Redactions: len(outcome.Result.Audit),
		Categories: outcome.Result.CategoryCounts(),
		Output:     outcome.ArtifactID,
		Message:    message,
	}

	publishCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
	defer cancel()
	if err := r.notifier.Publish(publishCtx, event); err != nil {
		logger.Warn("Failed to publish completion event", "error", err)
	}
}
