package model

import (
	"fmt"
	"maps"
	"slices"
	"sort"

	"github.com/Veraticus/redactor/internal/common"
)

// DetectorKind identifies one of the closed set of detector variants.
type DetectorKind string

// Detector kinds.
const (
	DetectorRule        DetectorKind = "rule"
	DetectorTextModel   DetectorKind = "text_model"
	DetectorVisionModel DetectorKind = "vision_model"
)

// DetectorKinds lists every known detector kind in registration order.
var DetectorKinds = []DetectorKind{DetectorRule, DetectorTextModel, DetectorVisionModel}

// Valid reports whether k is a known detector kind.
func (k DetectorKind) Valid() bool {
	return slices.Contains(DetectorKinds, k)
}

// Strategy is the replacement applied to a redacted span.
type Strategy string

// Replacement strategies.
const (
	StrategyMask     Strategy = "mask"
	StrategyBlackBox Strategy = "black_box"
	StrategyRemove   Strategy = "remove"
)

// Valid reports whether s is a known strategy.
func (s Strategy) Valid() bool {
	switch s {
	case StrategyMask, StrategyBlackBox, StrategyRemove:
		return true
	}
	return false
}

// Strength ranks strategies when overlapping spans disagree.
// Remove leaves no trace, mask hides the length, black box keeps it.
func (s Strategy) Strength() int {
	switch s {
	case StrategyRemove:
		return 3
	case StrategyMask:
		return 2
	case StrategyBlackBox:
		return 1
	}
	return 0
}

// FailurePolicy decides what reassembly does with a unit that failed.
type FailurePolicy string

// Failure policies. Omit and placeholder are fail-open.
const (
	FailOmit        FailurePolicy = "omit"
	FailPlaceholder FailurePolicy = "placeholder"
	FailClosed      FailurePolicy = "fail_closed"
)

// Valid reports whether p is a known policy.
func (p FailurePolicy) Valid() bool {
	switch p {
	case FailOmit, FailPlaceholder, FailClosed:
		return true
	}
	return false
}

// FailOpen reports whether partial output may be emitted under p.
func (p FailurePolicy) FailOpen() bool {
	return p != FailClosed
}

// DefaultPlaceholder replaces masked spans when no placeholder is configured.
const DefaultPlaceholder = "[REDACTED]"

// CategoryOverride replaces the strategy or threshold for one category.
type CategoryOverride struct {
	Strategy  *Strategy `json:"strategy,omitempty"  yaml:"strategy,omitempty"`
	Threshold *float64  `json:"threshold,omitempty" yaml:"threshold,omitempty"`
}

// RedactionConfig is the resolved, read-only policy for one file.
type RedactionConfig struct {
	Detectors     []DetectorKind              `json:"detectors"`
	Thresholds    map[DetectorKind]float64    `json:"thresholds"`
	Categories    map[DetectorKind][]string   `json:"categories,omitempty"`
	Strategy      Strategy                    `json:"strategy"`
	Overrides     map[string]CategoryOverride `json:"overrides,omitempty"`
	FailurePolicy FailurePolicy               `json:"failure_policy"`
	Fallback      bool                        `json:"fallback"`
	Placeholder   string                      `json:"placeholder"`
}

// ConfigOverrides is a sparse layer applied on top of a RedactionConfig.
// Nil fields leave the underlying value untouched.
type ConfigOverrides struct {
	Detectors     []DetectorKind              `yaml:"detectors,omitempty"`
	Thresholds    map[DetectorKind]float64    `yaml:"thresholds,omitempty"`
	Categories    map[DetectorKind][]string   `yaml:"categories,omitempty"`
	Strategy      *Strategy                   `yaml:"strategy,omitempty"`
	Overrides     map[string]CategoryOverride `yaml:"overrides,omitempty"`
	FailurePolicy *FailurePolicy              `yaml:"failure_policy,omitempty"`
	Fallback      *bool                       `yaml:"fallback,omitempty"`
	Placeholder   *string                     `yaml:"placeholder,omitempty"`
}

// DefaultConfig is the built-in policy: rules only, mask strategy, fail-open with placeholders.
func DefaultConfig() RedactionConfig {
	return RedactionConfig{
		Detectors: []DetectorKind{DetectorRule},
		Thresholds: map[DetectorKind]float64{
			DetectorRule:        0.5,
			DetectorTextModel:   0.7,
			DetectorVisionModel: 0.5,
		},
		Strategy:      StrategyMask,
		FailurePolicy: FailPlaceholder,
		Placeholder:   DefaultPlaceholder,
	}
}

// Resolve merges overrides onto defaults in order and validates the result.
func Resolve(defaults RedactionConfig, overrides ...ConfigOverrides) (RedactionConfig, error) {
	cfg := defaults.Clone()

	for _, o := range overrides {
		if o.Detectors != nil {
			cfg.Detectors = slices.Clone(o.Detectors)
		}
		for kind, t := range o.Thresholds {
			if cfg.Thresholds == nil {
				cfg.Thresholds = make(map[DetectorKind]float64)
			}
			cfg.Thresholds[kind] = t
		}
		for kind, cats := range o.Categories {
			if cfg.Categories == nil {
				cfg.Categories = make(map[DetectorKind][]string)
			}
			cfg.Categories[kind] = slices.Clone(cats)
		}
		if o.Strategy != nil {
			cfg.Strategy = *o.Strategy
		}
		for category, ov := range o.Overrides {
			if cfg.Overrides == nil {
				cfg.Overrides = make(map[string]CategoryOverride)
			}
			merged := cfg.Overrides[category]
			if ov.Strategy != nil {
				s := *ov.Strategy
				merged.Strategy = &s
			}
			if ov.Threshold != nil {
				t := *ov.Threshold
				merged.Threshold = &t
			}
			cfg.Overrides[category] = merged
		}
		if o.FailurePolicy != nil {
			cfg.FailurePolicy = *o.FailurePolicy
		}
		if o.Fallback != nil {
			cfg.Fallback = *o.Fallback
		}
		if o.Placeholder != nil {
			cfg.Placeholder = *o.Placeholder
		}
	}

	if cfg.Placeholder == "" {
		cfg.Placeholder = DefaultPlaceholder
	}
	if cfg.FailurePolicy == "" {
		cfg.FailurePolicy = FailPlaceholder
	}

	if err := cfg.Validate(); err != nil {
		return RedactionConfig{}, err
	}
	return cfg, nil
}

// Validate checks the invariants of a resolved config.
func (c RedactionConfig) Validate() error {
	var problems []string

	if len(c.Detectors) == 0 {
		problems = append(problems, "at least one detector must be active")
	}
	seen := make(map[DetectorKind]bool, len(c.Detectors))
	for _, kind := range c.Detectors {
		if !kind.Valid() {
			problems = append(problems, fmt.Sprintf("unknown detector %q", kind))
		}
		if seen[kind] {
			problems = append(problems, fmt.Sprintf("detector %q listed twice", kind))
		}
		seen[kind] = true
	}

	for _, kind := range sortedKinds(c.Thresholds) {
		if !kind.Valid() {
			problems = append(problems, fmt.Sprintf("threshold set for unknown detector %q", kind))
			continue
		}
		if t := c.Thresholds[kind]; !inUnitRange(t) {
			problems = append(problems, fmt.Sprintf("threshold for %s is %v, must be within [0,1]", kind, t))
		}
	}

	if !c.Strategy.Valid() {
		problems = append(problems, fmt.Sprintf("unknown strategy %q", c.Strategy))
	}
	if !c.FailurePolicy.Valid() {
		problems = append(problems, fmt.Sprintf("unknown failure policy %q", c.FailurePolicy))
	}

	categories := slices.Sorted(maps.Keys(c.Overrides))
	for _, category := range categories {
		ov := c.Overrides[category]
		if ov.Threshold != nil && !inUnitRange(*ov.Threshold) {
			problems = append(problems, fmt.Sprintf("threshold for category %s is %v, must be within [0,1]", category, *ov.Threshold))
		}
		if ov.Strategy != nil && !ov.Strategy.Valid() {
			problems = append(problems, fmt.Sprintf("unknown strategy %q for category %s", *ov.Strategy, category))
		}
	}

	if len(problems) > 0 {
		return &common.InvalidConfigError{Problems: problems}
	}
	return nil
}

// Active reports whether the detector kind is enabled.
func (c RedactionConfig) Active(kind DetectorKind) bool {
	return slices.Contains(c.Detectors, kind)
}

// ThresholdFor returns the minimum confidence for a finding.
// A category override wins over the detector threshold.
func (c RedactionConfig) ThresholdFor(kind DetectorKind, category string) float64 {
	if ov, ok := c.Overrides[category]; ok && ov.Threshold != nil {
		return *ov.Threshold
	}
	return c.Thresholds[kind]
}

// StrategyFor returns the category strategy, falling back to the file-level default.
func (c RedactionConfig) StrategyFor(category string) Strategy {
	if ov, ok := c.Overrides[category]; ok && ov.Strategy != nil {
		return *ov.Strategy
	}
	return c.Strategy
}

// CategoriesFor returns the categories a detector is restricted to. Empty means all.
func (c RedactionConfig) CategoriesFor(kind DetectorKind) []string {
	return c.Categories[kind]
}

// Clone returns a deep copy so the resolved config cannot be mutated through shared maps.
func (c RedactionConfig) Clone() RedactionConfig {
	out := c
	out.Detectors = slices.Clone(c.Detectors)
	out.Thresholds = maps.Clone(c.Thresholds)
	if c.Categories != nil {
		out.Categories = make(map[DetectorKind][]string, len(c.Categories))
		for k, v := range c.Categories {
			out.Categories[k] = slices.Clone(v)
		}
	}
	if c.Overrides != nil {
		out.Overrides = make(map[string]CategoryOverride, len(c.Overrides))
		for k, v := range c.Overrides {
			cp := CategoryOverride{}
			if v.Strategy != nil {
				s := *v.Strategy
				cp.Strategy = &s
			}
			if v.Threshold != nil {
				t := *v.Threshold
				cp.Threshold = &t
			}
			out.Overrides[k] = cp
		}
	}
	return out
}

func inUnitRange(v float64) bool {
	return v >= 0 && v <= 1
}

func sortedKinds(m map[DetectorKind]float64) []DetectorKind {
	kinds := make([]DetectorKind, 0, len(m))
	for k := range m {
		kinds = append(kinds, k)
	}
	sort.Slice(kinds, func(i, j int) bool { return kinds[i] < kinds[j] })
	return kinds
}
