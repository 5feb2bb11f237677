// Package policy resolves the effective redaction config for a request.
//
// Layers are applied in order: built-in defaults, the policy file defaults,
// the named profile, the tenant policy, redaction rules carried by the request
// and finally explicit request overrides. Validation is left to model.Resolve
// so InvalidConfigError reaches callers unchanged.
package policy

import (
	"fmt"
	"os"
	"slices"

	"gopkg.in/yaml.v3"

	"github.com/Veraticus/redactor/internal/common"
	"github.com/Veraticus/redactor/internal/detector"
	"github.com/Veraticus/redactor/internal/document"
	"github.com/Veraticus/redactor/internal/model"
)

// DefaultProfile is used when a request names no profile.
const DefaultProfile = "default"

// File is a policy file: shared defaults plus named profiles and tenant policies.
type File struct {
	Profiles map[string]model.ConfigOverrides `yaml:"profiles"`
	Tenants  map[string]model.ConfigOverrides `yaml:"tenants"`
	Defaults model.ConfigOverrides            `yaml:"defaults"`
}

// RuleProperties tunes one detector named by a redaction rule.
type RuleProperties struct {
	Threshold  *float64        `yaml:"threshold,omitempty"  json:"threshold,omitempty"`
	Strategy   *model.Strategy `yaml:"strategy,omitempty"   json:"strategy,omitempty"`
	Categories []string        `yaml:"categories,omitempty" json:"categories,omitempty"`
}

// RuleSpec selects a detector for a request.
type RuleSpec struct {
	Type       model.DetectorKind `yaml:"redactor_type" json:"redactor_type"`
	Properties RuleProperties     `yaml:"properties"    json:"properties"`
}

// RequestContext is everything a caller supplies to pick a config.
type RequestContext struct {
	Overrides      model.ConfigOverrides
	RequestID      string
	Tenant         string
	Profile        string
	Format         string
	RedactionRules []RuleSpec
}

// Processor resolves configs. It is read-only after construction.
type Processor struct {
	file       File
	base       model.RedactionConfig
	registered []model.DetectorKind
}

// NewProcessor creates a Processor. registered lists the detector kinds the
// pipeline can run; redaction rules naming anything else are rejected.
func NewProcessor(base model.RedactionConfig, file *File, registered []model.DetectorKind) *Processor {
	p := &Processor{
		base:       base.Clone(),
		registered: slices.Clone(registered),
	}
	if file != nil {
		p.file = *file
	}
	return p
}

// LoadPolicyFile reads a YAML policy file.
func LoadPolicyFile(path string) (*File, error) {
	data, err := os.ReadFile(path) //nolint:gosec // policy path comes from trusted config
	if err != nil {
		return nil, fmt.Errorf("failed to read policy file: %w", err)
	}
	return ParsePolicy(data)
}

// ParsePolicy decodes a YAML policy document.
func ParsePolicy(data []byte) (*File, error) {
	var f File
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, &common.InvalidConfigError{Problems: []string{fmt.Sprintf("policy file: %v", err)}}
	}
	return &f, nil
}

// Profiles lists the profile names defined in the policy file.
func (p *Processor) Profiles() []string {
	names := make([]string, 0, len(p.file.Profiles))
	for name := range p.file.Profiles {
		names = append(names, name)
	}
	slices.Sort(names)
	return names
}

// Resolve returns the effective config for req.
func (p *Processor) Resolve(req RequestContext) (model.RedactionConfig, error) {
	layers := []model.ConfigOverrides{p.file.Defaults}

	profile := req.Profile
	if profile == "" {
		profile = DefaultProfile
	}
	if o, ok := p.file.Profiles[profile]; ok {
		layers = append(layers, o)
	} else if profile != DefaultProfile {
		return model.RedactionConfig{}, &common.InvalidConfigError{
			Problems: []string{fmt.Sprintf("unknown profile %q", profile)},
		}
	}

	if o, ok := p.file.Tenants[req.Tenant]; ok && req.Tenant != "" {
		layers = append(layers, o)
	}

	if len(req.RedactionRules) > 0 {
		o, err := p.rulesLayer(req.RedactionRules, req.Format)
		if err != nil {
			return model.RedactionConfig{}, err
		}
		layers = append(layers, o)
	}

	layers = append(layers, req.Overrides)
	return model.Resolve(p.base, layers...)
}

// rulesLayer turns redaction rules into an override layer. Rules for detectors
// that cannot see any unit of the document's format are dropped.
func (p *Processor) rulesLayer(rules []RuleSpec, format string) (model.ConfigOverrides, error) {
	var problems []string
	for _, r := range rules {
		if !slices.Contains(p.registered, r.Type) {
			problems = append(problems, fmt.Sprintf("unknown redactor_type %q", r.Type))
		}
	}
	if len(problems) > 0 {
		return model.ConfigOverrides{}, &common.InvalidConfigError{Problems: problems}
	}

	o := model.ConfigOverrides{
		Detectors:  []model.DetectorKind{},
		Thresholds: make(map[model.DetectorKind]float64),
		Categories: make(map[model.DetectorKind][]string),
		Overrides:  make(map[string]model.CategoryOverride),
	}

	for _, r := range FilterRules(rules, format) {
		if !slices.Contains(o.Detectors, r.Type) {
			o.Detectors = append(o.Detectors, r.Type)
		}
		props := r.Properties
		if props.Threshold != nil {
			o.Thresholds[r.Type] = *props.Threshold
		}
		if len(props.Categories) > 0 {
			o.Categories[r.Type] = append(o.Categories[r.Type], props.Categories...)
		}
		if props.Strategy == nil {
			continue
		}
		if len(props.Categories) == 0 {
			o.Strategy = props.Strategy
			continue
		}
		for _, c := range props.Categories {
			override := o.Overrides[c]
			override.Strategy = props.Strategy
			o.Overrides[c] = override
		}
	}

	return o, nil
}

// FilterRules keeps the rules whose detector accepts at least one unit kind the
// format produces. An unknown format keeps every rule; decomposition reports it later.
func FilterRules(rules []RuleSpec, format string) []RuleSpec {
	kinds := document.UnitKinds(format)
	if kinds == nil {
		return rules
	}

	out := make([]RuleSpec, 0, len(rules))
	for _, r := range rules {
		if slices.ContainsFunc(kinds, func(k model.UnitKind) bool { return detector.Accepts(r.Type, k) }) {
			out = append(out, r)
		}
	}
	return out
}
