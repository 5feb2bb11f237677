package detector

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"

	"golang.org/x/sync/errgroup"

	"github.com/Veraticus/redactor/internal/common"
	"github.com/Veraticus/redactor/internal/model"
)

// Failure is one detector's error on one unit.
type Failure struct {
	Err      error
	Detector model.DetectorKind
}

// Outcome is the merged result of running every active detector on a unit.
type Outcome struct {
	Err      error
	Findings []model.Finding
	Failures []Failure
	Degraded bool
}

// Failed reports whether the unit has no usable findings.
func (o Outcome) Failed() bool {
	return o.Err != nil
}

// Run fans the unit out to every detector that accepts its kind and merges the results.
//
// One detector failing degrades the unit to what the others found. When every
// applicable detector fails, Outcome.Err wraps common.ErrAllDetectorsFailed.
// If ctx ends while calls are in flight, their findings are discarded and
// Outcome.Err wraps common.ErrCancelled.
func Run(ctx context.Context, detectors []Detector, unit model.ContentUnit, cfg model.RedactionConfig) Outcome {
	applicable := make([]Detector, 0, len(detectors))
	for _, d := range detectors {
		if Accepts(d.Kind(), unit.Kind) {
			applicable = append(applicable, d)
		}
	}
	if len(applicable) == 0 {
		return Outcome{Err: fmt.Errorf("%w: no active detector accepts %s units", common.ErrUnitRedactionFailure, unit.Kind)}
	}

	if err := ctx.Err(); err != nil {
		return Outcome{Err: fmt.Errorf("%w: %w", common.ErrCancelled, err)}
	}

	type result struct {
		err      error
		findings []model.Finding
	}
	results := make([]result, len(applicable))

	// Detector errors are per unit and stay in results. Only cancellation of
	// the run fails the group, which discards whatever was found in flight.
	var g errgroup.Group
	for i, d := range applicable {
		g.Go(func() error {
			if err := ctx.Err(); err != nil {
				return err
			}
			findings, err := d.Detect(ctx, unit)
			if ctxErr := ctx.Err(); ctxErr != nil {
				return ctxErr
			}
			results[i] = result{findings: findings, err: err}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return Outcome{Err: fmt.Errorf("%w: %w", common.ErrCancelled, err)}
	}

	var (
		all      []model.Finding
		failures []Failure
		errs     []error
	)
	for i, r := range results {
		kind := applicable[i].Kind()
		if r.err != nil {
			failures = append(failures, Failure{Detector: kind, Err: r.err})
			errs = append(errs, r.err)
			slog.Warn("Detector failed on unit",
				"unit_id", unit.ID,
				"detector", kind,
				"error", r.err)
			continue
		}
		all = append(all, accept(unit, kind, cfg, r.findings)...)
	}

	if len(failures) == len(applicable) {
		return Outcome{
			Err:      fmt.Errorf("%w: %w", common.ErrAllDetectorsFailed, errors.Join(errs...)),
			Failures: failures,
		}
	}

	return Outcome{
		Findings: Merge(cfg, all),
		Failures: failures,
		Degraded: len(failures) > 0,
	}
}

// accept keeps findings that lie inside the unit, belong to the detector's
// configured categories and are not already redacted content.
func accept(unit model.ContentUnit, kind model.DetectorKind, cfg model.RedactionConfig, findings []model.Finding) []model.Finding {
	allowed := cfg.CategoriesFor(kind)

	out := make([]model.Finding, 0, len(findings))
	for _, f := range findings {
		f.Source = kind
		if !f.Within(unit) {
			continue
		}
		if len(allowed) > 0 && !slices.Contains(allowed, f.Category) {
			continue
		}
		out = append(out, f)
	}

	if unit.Kind == model.UnitText {
		out = discardMasked(unit.Text, cfg.Placeholder, out)
	}
	return out
}
