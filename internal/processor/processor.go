// Package processor drives one document through decomposition, per-unit
// detection and redaction, and reassembly.
package processor

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"runtime"
	"sync"
	"time"

	"github.com/Veraticus/redactor/internal/common"
	"github.com/Veraticus/redactor/internal/detector"
	"github.com/Veraticus/redactor/internal/document"
	"github.com/Veraticus/redactor/internal/model"
	"github.com/Veraticus/redactor/internal/redact"
)

// FallbackCategory labels whole-unit redactions made when every detector failed
// and the config asks for a fallback.
const FallbackCategory = "unverified"

// Observer receives progress callbacks. Calls may come from several workers at once.
type Observer interface {
	PhaseChanged(requestID string, phase Phase)
	UnitsDecomposed(requestID string, total int)
	UnitStarted(requestID string, unit model.ContentUnit)
	UnitFinished(requestID string, unit model.ContentUnit, err error)
}

// NopObserver ignores every callback.
type NopObserver struct{}

func (NopObserver) PhaseChanged(string, Phase)                    {}
func (NopObserver) UnitsDecomposed(string, int)                   {}
func (NopObserver) UnitStarted(string, model.ContentUnit)         {}
func (NopObserver) UnitFinished(string, model.ContentUnit, error) {}

// Config configures a Processor.
type Config struct {
	Codecs    *document.Registry
	Detectors *detector.Registry
	Redactor  *redact.Redactor
	Observer  Observer
	Logger    *slog.Logger
	Workers   int
}

// Processor runs files through the redaction pipeline. It holds no per-file
// state and may process several files concurrently.
type Processor struct {
	codecs    *document.Registry
	detectors *detector.Registry
	redactor  *redact.Redactor
	observer  Observer
	logger    *slog.Logger
	workers   int
}

// New creates a Processor.
func New(cfg Config) (*Processor, error) {
	if cfg.Detectors == nil {
		return nil, fmt.Errorf("processor requires a detector registry")
	}
	if cfg.Codecs == nil {
		cfg.Codecs = document.DefaultRegistry()
	}
	if cfg.Redactor == nil {
		cfg.Redactor = redact.New()
	}
	if cfg.Observer == nil {
		cfg.Observer = NopObserver{}
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.Workers <= 0 {
		cfg.Workers = runtime.NumCPU()
	}

	return &Processor{
		codecs:    cfg.Codecs,
		detectors: cfg.Detectors,
		redactor:  cfg.Redactor,
		observer:  cfg.Observer,
		logger:    cfg.Logger,
		workers:   cfg.Workers,
	}, nil
}

// unitResult is the outcome of one unit, stored at the unit's index.
type unitResult struct {
	err      error
	redacted model.RedactedUnit
	failures []detector.Failure
	index    int
	done     bool
	fallback error
}

func (r unitResult) cancelled() bool {
	return !r.done || errors.Is(r.err, common.ErrCancelled)
}

// detectFunc produces the findings for one unit.
type detectFunc func(ctx context.Context, unit model.ContentUnit) detector.Outcome

// Process redacts doc under cfg.
//
// Structural failures (unsupported or malformed format, reassembly errors) are
// returned as errors alongside a Failure result. Everything else, including
// cancellation and fail-closed aborts, is reported through the result status.
// Artifact bytes are returned only when the result has an artifact.
func (p *Processor) Process(ctx context.Context, doc document.Document, cfg model.RedactionConfig) (model.RedactionResult, []byte, error) {
	return p.run(ctx, doc, cfg, func(units []model.ContentUnit) (detectFunc, error) {
		detectors, err := p.detectors.For(cfg)
		if err != nil {
			return nil, err
		}
		return func(ctx context.Context, unit model.ContentUnit) detector.Outcome {
			return detector.Run(ctx, detectors, unit, cfg)
		}, nil
	})
}

// Review is a reviewed set of findings for one document.
type Review struct {
	Entries []model.AuditEntry `json:"entries"`
	// Withheld units are redacted whole. Their detection failed when the
	// findings were proposed, so nobody has reviewed what they contain.
	Withheld []string `json:"withheld,omitempty"`
}

// Apply redacts doc with reviewed findings instead of running detectors.
// Entries are matched to units by id. An entry naming a unit the document
// does not have, or a range outside its unit, aborts the run. An entry's
// strategy, when set, overrides the configured strategy for its category.
func (p *Processor) Apply(ctx context.Context, doc document.Document, cfg model.RedactionConfig, review Review) (model.RedactionResult, []byte, error) {
	cfg = withEntryStrategies(cfg, review.Entries)

	return p.run(ctx, doc, cfg, func(units []model.ContentUnit) (detectFunc, error) {
		known := make(map[string]model.ContentUnit, len(units))
		for _, u := range units {
			known[u.ID] = u
		}

		byUnit := make(map[string][]model.Finding, len(review.Entries))
		for _, e := range review.Entries {
			unit, ok := known[e.UnitID]
			if !ok {
				return nil, fmt.Errorf("%w: document has no unit %q", common.ErrFindingOutOfRange, e.UnitID)
			}
			f := e.Finding()
			if !f.Within(unit) {
				return nil, fmt.Errorf("%w: finding [%d,%d) on unit %q", common.ErrFindingOutOfRange, f.Start, f.End, e.UnitID)
			}
			byUnit[e.UnitID] = append(byUnit[e.UnitID], f)
		}
		for _, id := range review.Withheld {
			unit, ok := known[id]
			if !ok {
				return nil, fmt.Errorf("%w: document has no unit %q", common.ErrFindingOutOfRange, id)
			}
			byUnit[id] = wholeUnit(unit)
		}

		return func(ctx context.Context, unit model.ContentUnit) detector.Outcome {
			if err := ctx.Err(); err != nil {
				return detector.Outcome{Err: fmt.Errorf("%w: %w", common.ErrCancelled, err)}
			}
			return detector.Outcome{Findings: byUnit[unit.ID]}
		}, nil
	})
}

func withEntryStrategies(cfg model.RedactionConfig, entries []model.AuditEntry) model.RedactionConfig {
	cfg = cfg.Clone()
	for _, e := range entries {
		if !e.Strategy.Valid() {
			continue
		}
		if cfg.Overrides == nil {
			cfg.Overrides = make(map[string]model.CategoryOverride)
		}
		ov := cfg.Overrides[e.Category]
		strategy := e.Strategy
		ov.Strategy = &strategy
		cfg.Overrides[e.Category] = ov
	}
	return cfg
}

// run drives the phase machine. prepare builds the per-unit detection once the
// document has been decomposed.
func (p *Processor) run(
	ctx context.Context,
	doc document.Document,
	cfg model.RedactionConfig,
	prepare func(units []model.ContentUnit) (detectFunc, error),
) (model.RedactionResult, []byte, error) {
	start := time.Now()
	result := model.RedactionResult{
		RequestID: doc.ID,
		Format:    doc.Format,
		Audit:     []model.AuditEntry{},
		Errors:    []model.UnitError{},
	}
	machine := NewMachine(func(phase Phase) { p.observer.PhaseChanged(doc.ID, phase) })
	p.observer.PhaseChanged(doc.ID, Decomposing)

	fail := func(err error) (model.RedactionResult, []byte, error) {
		_ = machine.Fail()
		result.Status = model.StatusFailure
		result.Duration = time.Since(start)
		p.logger.Error("Document processing failed",
			"request_id", doc.ID,
			"format", doc.Format,
			"error", err)
		return result, nil, err
	}

	if err := cfg.Validate(); err != nil {
		return fail(err)
	}

	parsed, err := p.codecs.Decompose(doc)
	if err != nil {
		return fail(err)
	}
	units := parsed.Units()
	detect, err := prepare(units)
	if err != nil {
		return fail(err)
	}
	p.observer.UnitsDecomposed(doc.ID, len(units))
	p.logger.Debug("Decomposed document",
		"request_id", doc.ID,
		"format", doc.Format,
		"units", len(units))

	if err := machine.Advance(ProcessingUnits); err != nil {
		return fail(err)
	}
	results := p.processUnits(ctx, doc.ID, detect, units, cfg)

	if err := machine.Advance(Reassembling); err != nil {
		return fail(err)
	}
	p.aggregate(&result, units, results, cfg)

	var artifact []byte
	if result.HasArtifact() {
		artifact, err = p.reassemble(parsed, units, results, cfg)
		if err != nil {
			return fail(err)
		}
	}

	if err := machine.Advance(Done); err != nil {
		return fail(err)
	}
	result.Duration = time.Since(start)

	p.logger.Info("Document processed",
		"request_id", doc.ID,
		"status", result.Status,
		"units", result.Processed,
		"failed", result.Failed,
		"degraded", result.Degraded,
		"redactions", len(result.Audit),
		"duration", result.Duration)

	return result, artifact, nil
}

// processUnits runs every unit through a bounded worker pool. Results are
// indexed by unit position so reassembly order never depends on completion order.
func (p *Processor) processUnits(
	ctx context.Context,
	requestID string,
	detect detectFunc,
	units []model.ContentUnit,
	cfg model.RedactionConfig,
) []unitResult {
	workChan := make(chan int, len(units))
	for i := range units {
		workChan <- i
	}
	close(workChan)

	resultsChan := make(chan unitResult, len(units))

	workers := min(p.workers, len(units))
	var wg sync.WaitGroup
	wg.Add(workers)
	for range workers {
		go func() {
			defer wg.Done()
			for idx := range workChan {
				if ctx.Err() != nil {
					continue
				}
				unit := units[idx]
				p.observer.UnitStarted(requestID, unit)
				res := p.processUnit(ctx, detect, unit, cfg)
				res.index = idx
				p.observer.UnitFinished(requestID, unit, res.err)
				resultsChan <- res
			}
		}()
	}

	go func() {
		wg.Wait()
		close(resultsChan)
	}()

	results := make([]unitResult, len(units))
	for i := range results {
		results[i].index = i
	}
	for res := range resultsChan {
		results[res.index] = res
	}
	return results
}

func (p *Processor) processUnit(ctx context.Context, detect detectFunc, unit model.ContentUnit, cfg model.RedactionConfig) unitResult {
	outcome := detect(ctx, unit)
	res := unitResult{done: true, failures: outcome.Failures}

	findings := outcome.Findings
	if outcome.Failed() {
		if errors.Is(outcome.Err, common.ErrCancelled) || !cfg.Fallback {
			res.err = outcome.Err
			return res
		}
		findings = wholeUnit(unit)
		res.fallback = outcome.Err
		p.logger.Warn("Redacting whole unit after detection failure",
			"unit_id", unit.ID,
			"error", outcome.Err)
	}

	redacted, err := p.redactor.Apply(unit, findings, cfg)
	if err != nil {
		res.err = err
		return res
	}
	res.redacted = redacted
	return res
}

// wholeUnit returns a single finding covering all of unit.
func wholeUnit(unit model.ContentUnit) []model.Finding {
	f := model.Finding{Category: FallbackCategory, Confidence: 1}
	switch unit.Kind {
	case model.UnitImage:
		box := unit.Bounds
		f.Box = &box
	default:
		if unit.Text == "" {
			return nil
		}
		f.End = len(unit.Text)
	}
	return []model.Finding{f}
}

// aggregate folds unit results into the file-level result in unit order.
func (p *Processor) aggregate(result *model.RedactionResult, units []model.ContentUnit, results []unitResult, cfg model.RedactionConfig) {
	cancelled := false
	for i, res := range results {
		unit := units[i]
		if res.cancelled() {
			cancelled = true
			continue
		}
		result.Processed++

		if res.err != nil {
			result.Failed++
			result.Errors = append(result.Errors, unitErrors(unit.ID, res)...)
			p.logger.Warn("Unit failed",
				"unit_id", unit.ID,
				"kind", model.KindOf(res.err),
				"error", res.err)
			continue
		}

		result.Succeeded++
		result.Audit = append(result.Audit, res.redacted.Audit...)
		if len(res.failures) == 0 && res.fallback == nil {
			continue
		}
		result.Degraded++
		for _, f := range res.failures {
			result.Warnings = append(result.Warnings, model.NewUnitError(unit.ID, f.Detector, f.Err))
		}
		if res.fallback != nil && len(res.failures) == 0 {
			result.Warnings = append(result.Warnings, model.NewUnitError(unit.ID, "", res.fallback))
		}
	}

	switch {
	case cancelled:
		result.Status = model.StatusCancelled
	case result.Failed == 0:
		result.Status = model.StatusSuccess
	case result.Failed == len(units):
		result.Status = model.StatusFailure
	case !cfg.FailurePolicy.FailOpen():
		result.Status = model.StatusFailure
	default:
		result.Status = model.StatusPartialFailure
	}
}

// unitErrors records one error per failed detector, or the unit's own error
// when no detector reported one.
func unitErrors(unitID string, res unitResult) []model.UnitError {
	if len(res.failures) == 0 || !errors.Is(res.err, common.ErrAllDetectorsFailed) {
		return []model.UnitError{model.NewUnitError(unitID, "", res.err)}
	}
	out := make([]model.UnitError, 0, len(res.failures))
	for _, f := range res.failures {
		out = append(out, model.NewUnitError(unitID, f.Detector, f.Err))
	}
	return out
}

// reassemble builds the artifact. Failed units are omitted or replaced with a
// placeholder depending on the failure policy.
func (p *Processor) reassemble(parsed document.Parsed, units []model.ContentUnit, results []unitResult, cfg model.RedactionConfig) ([]byte, error) {
	parts := make([]document.Part, len(units))
	for i, res := range results {
		if res.err == nil {
			parts[i] = document.Part{Text: res.redacted.Text, Image: res.redacted.Image}
			continue
		}

		unit := units[i]
		if cfg.FailurePolicy != model.FailPlaceholder {
			parts[i] = document.Part{Omit: true}
			continue
		}
		switch unit.Kind {
		case model.UnitImage:
			img, err := redact.Blackout(unit)
			if err != nil {
				parts[i] = document.Part{Omit: true}
				continue
			}
			parts[i] = document.Part{Image: img}
		default:
			parts[i] = document.Part{Text: cfg.Placeholder}
		}
	}

	out, err := parsed.Reassemble(parts)
	if err != nil {
		return nil, fmt.Errorf("failed to reassemble document: %w", err)
	}
	return out, nil
}
