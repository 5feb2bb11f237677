// Package detector finds sensitive spans and regions in content units.
//
// Three variants share the Detector interface: a deterministic RuleDetector
// and two adapters over external detection services (text and vision). Run
// fans a unit out to every active detector and merges what they report.
package detector

import (
	"context"
	"fmt"
	"sync"

	"github.com/Veraticus/redactor/internal/model"
)

// Detector reports sensitive sub-ranges of a content unit.
type Detector interface {
	Kind() model.DetectorKind
	Detect(ctx context.Context, unit model.ContentUnit) ([]model.Finding, error)
}

// Registry holds one detector per kind.
type Registry struct {
	detectors map[model.DetectorKind]Detector
	order     []model.DetectorKind
	mu        sync.RWMutex
}

// NewRegistry creates a registry with the given detectors.
func NewRegistry(detectors ...Detector) (*Registry, error) {
	r := &Registry{detectors: make(map[model.DetectorKind]Detector)}
	for _, d := range detectors {
		if err := r.Register(d); err != nil {
			return nil, err
		}
	}
	return r, nil
}

// Register adds a detector. Each kind may be registered once.
func (r *Registry) Register(d Detector) error {
	if d == nil {
		return fmt.Errorf("detector is nil")
	}
	kind := d.Kind()
	if !kind.Valid() {
		return fmt.Errorf("unknown detector kind: %s", kind)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.detectors[kind]; exists {
		return fmt.Errorf("detector %s already registered", kind)
	}
	r.detectors[kind] = d
	r.order = append(r.order, kind)
	return nil
}

// Get returns the detector registered for kind.
func (r *Registry) Get(kind model.DetectorKind) (Detector, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	d, ok := r.detectors[kind]
	return d, ok
}

// Kinds returns the registered kinds in registration order.
func (r *Registry) Kinds() []model.DetectorKind {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]model.DetectorKind, len(r.order))
	copy(out, r.order)
	return out
}

// For returns the detectors the config activates, in registration order.
// An active kind with no registered detector is an error.
func (r *Registry) For(cfg model.RedactionConfig) ([]Detector, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	for _, kind := range cfg.Detectors {
		if _, ok := r.detectors[kind]; !ok {
			return nil, fmt.Errorf("detector %s is enabled but not configured", kind)
		}
	}

	out := make([]Detector, 0, len(cfg.Detectors))
	for _, kind := range r.order {
		if cfg.Active(kind) {
			out = append(out, r.detectors[kind])
		}
	}
	return out, nil
}

// Accepts reports whether a detector kind can analyze a unit kind.
func Accepts(kind model.DetectorKind, unit model.UnitKind) bool {
	switch kind {
	case model.DetectorVisionModel:
		return unit == model.UnitImage
	default:
		return unit == model.UnitText
	}
}
