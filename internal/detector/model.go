package detector

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"golang.org/x/time/rate"

	"github.com/Veraticus/redactor/internal/cache"
	"github.com/Veraticus/redactor/internal/common"
	"github.com/Veraticus/redactor/internal/model"
	"github.com/Veraticus/redactor/internal/service"
)

// ModelOptions configures a detector backed by an external detection service.
type ModelOptions struct {
	Cache     cache.Cache
	Logger    *slog.Logger
	Retry     common.RetryOptions
	Timeout   time.Duration
	CacheTTL  time.Duration
	RateLimit float64 // calls per second, 0 disables limiting
	Burst     int
}

// ServiceDetector adapts a DetectionService to the Detector interface.
// It owns the per-call timeout, retry with backoff, rate limiting and error classification.
type ServiceDetector struct {
	service  service.DetectionService
	limiter  *rate.Limiter
	cache    cache.Cache
	logger   *slog.Logger
	kind     model.DetectorKind
	retry    common.RetryOptions
	timeout  time.Duration
	cacheTTL time.Duration
}

// NewTextModelDetector creates a detector backed by a text understanding service.
func NewTextModelDetector(svc service.DetectionService, opts ModelOptions) (*ServiceDetector, error) {
	return newServiceDetector(model.DetectorTextModel, svc, opts)
}

// NewVisionModelDetector creates a detector backed by an image understanding service.
// Results for images are never cached.
func NewVisionModelDetector(svc service.DetectionService, opts ModelOptions) (*ServiceDetector, error) {
	opts.Cache = nil
	return newServiceDetector(model.DetectorVisionModel, svc, opts)
}

func newServiceDetector(kind model.DetectorKind, svc service.DetectionService, opts ModelOptions) (*ServiceDetector, error) {
	if svc == nil {
		return nil, fmt.Errorf("%s detector requires a detection service", kind)
	}
	if opts.Timeout <= 0 {
		opts.Timeout = 30 * time.Second
	}
	if opts.Retry.MaxAttempts == 0 {
		opts.Retry = common.DefaultRetryOptions()
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}

	limit := rate.Inf
	burst := opts.Burst
	if opts.RateLimit > 0 {
		limit = rate.Limit(opts.RateLimit)
		if burst <= 0 {
			burst = 1
		}
	}

	return &ServiceDetector{
		service:  svc,
		limiter:  rate.NewLimiter(limit, burst),
		cache:    opts.Cache,
		logger:   opts.Logger,
		kind:     kind,
		retry:    opts.Retry,
		timeout:  opts.Timeout,
		cacheTTL: opts.CacheTTL,
	}, nil
}

// Kind implements Detector.
func (d *ServiceDetector) Kind() model.DetectorKind {
	return d.kind
}

// Detect implements Detector.
//
// New calls stop as soon as ctx is done. A call already sent to the service runs
// to completion under its own timeout; Run discards what it returns.
func (d *ServiceDetector) Detect(ctx context.Context, unit model.ContentUnit) ([]model.Finding, error) {
	if !Accepts(d.kind, unit.Kind) {
		return nil, nil
	}

	key := d.cacheKey(unit)
	if key != "" {
		if cached, ok := d.lookup(ctx, key); ok {
			return cached, nil
		}
	}

	var raw []model.Finding
	err := common.WithRetry(ctx, func() error {
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := d.limiter.Wait(ctx); err != nil {
			return fmt.Errorf("rate limiter wait: %w", err)
		}

		callCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), d.timeout)
		defer cancel()

		out, err := d.service.Analyze(callCtx, unit, d.kind, d.timeout)
		if err != nil {
			return common.ClassifyDetectionError(string(d.kind), err)
		}
		raw = out
		return nil
	}, d.retry)
	if err != nil {
		return nil, common.ClassifyDetectionError(string(d.kind), err)
	}

	findings := make([]model.Finding, 0, len(raw))
	for _, f := range raw {
		f.Source = d.kind
		if !f.Within(unit) || (f.Box == nil && !validRunes(unit.Text, f.Start, f.End)) {
			d.logger.Warn("Dropping finding outside unit",
				"unit_id", unit.ID,
				"detector", d.kind,
				"category", f.Category)
			continue
		}
		findings = append(findings, f)
	}

	if key != "" {
		d.store(ctx, key, findings)
	}

	return findings, nil
}

func (d *ServiceDetector) cacheKey(unit model.ContentUnit) string {
	if d.cache == nil || unit.Kind != model.UnitText {
		return ""
	}
	return cache.Key(string(d.kind), unit.Text)
}

func (d *ServiceDetector) lookup(ctx context.Context, key string) ([]model.Finding, bool) {
	data, ok, err := d.cache.Get(ctx, key)
	if err != nil {
		d.logger.Warn("Detection cache read failed", "detector", d.kind, "error", err)
		return nil, false
	}
	if !ok {
		return nil, false
	}

	var findings []model.Finding
	if err := json.Unmarshal(data, &findings); err != nil {
		d.logger.Warn("Discarding unreadable cache entry", "detector", d.kind, "error", err)
		return nil, false
	}
	return findings, true
}

func (d *ServiceDetector) store(ctx context.Context, key string, findings []model.Finding) {
	data, err := json.Marshal(findings)
	if err != nil {
		return
	}
	if err := d.cache.Set(ctx, key, data, d.cacheTTL); err != nil {
		d.logger.Warn("Detection cache write failed", "detector", d.kind, "error", err)
	}
}
