package model

import "fmt"

// UnitKind distinguishes text units from image units.
type UnitKind string

// Unit kinds.
const (
	UnitText  UnitKind = "text"
	UnitImage UnitKind = "image"
)

// Categories that codecs assign to whole fields.
const (
	CategoryAccountNumber = "account_number"
	CategoryRoutingNumber = "routing_number"
)

// Box is a pixel rectangle; Max is exclusive.
type Box struct {
	MinX int `json:"min_x"`
	MinY int `json:"min_y"`
	MaxX int `json:"max_x"`
	MaxY int `json:"max_y"`
}

// Empty reports whether the box covers no pixels.
func (b Box) Empty() bool {
	return b.MinX >= b.MaxX || b.MinY >= b.MaxY
}

// Contains reports whether o lies fully inside b.
func (b Box) Contains(o Box) bool {
	return o.MinX >= b.MinX && o.MinY >= b.MinY && o.MaxX <= b.MaxX && o.MaxY <= b.MaxY
}

// Overlaps reports whether the two boxes share any pixel.
func (b Box) Overlaps(o Box) bool {
	return b.MinX < o.MaxX && o.MinX < b.MaxX && b.MinY < o.MaxY && o.MinY < b.MaxY
}

// Union returns the smallest box covering both.
func (b Box) Union(o Box) Box {
	return Box{
		MinX: min(b.MinX, o.MinX),
		MinY: min(b.MinY, o.MinY),
		MaxX: max(b.MaxX, o.MaxX),
		MaxY: max(b.MaxY, o.MaxY),
	}
}

// Clip limits the box to the bounds.
func (b Box) Clip(bounds Box) Box {
	return Box{
		MinX: max(b.MinX, bounds.MinX),
		MinY: max(b.MinY, bounds.MinY),
		MaxX: min(b.MaxX, bounds.MaxX),
		MaxY: min(b.MaxY, bounds.MaxY),
	}
}

func (b Box) String() string {
	return fmt.Sprintf("(%d,%d)-(%d,%d)", b.MinX, b.MinY, b.MaxX, b.MaxY)
}

// Location points back into the source document.
type Location struct {
	Page  int    `json:"page"`
	Field string `json:"field,omitempty"`
}

// ContentUnit is one independently processable fragment of a document.
type ContentUnit struct {
	ID       string   `json:"id"`
	Index    int      `json:"index"`
	Kind     UnitKind `json:"kind"`
	Location Location `json:"location"`
	// Category marks a unit that is sensitive as a whole because of the field
	// it came from, such as a statement's account number.
	Category string `json:"category,omitempty"`

	// Text units. Start and End are byte offsets of Text in the source document.
	Text  string `json:"-"`
	Start int    `json:"start"`
	End   int    `json:"end"`

	// Image units. Bounds is the full image rectangle.
	Image       []byte `json:"-"`
	ImageFormat string `json:"image_format,omitempty"`
	Bounds      Box    `json:"bounds"`
}

// Finding is a detector's claim that part of a unit is sensitive.
// Start and End are byte offsets into the unit's Text; Box is set for image findings.
type Finding struct {
	Category   string       `json:"category"`
	Confidence float64      `json:"confidence"`
	Source     DetectorKind `json:"source"`
	Start      int          `json:"start"`
	End        int          `json:"end"`
	Box        *Box         `json:"box,omitempty"`
}

// Within reports whether the finding's sub-range lies inside the unit.
func (f Finding) Within(unit ContentUnit) bool {
	switch unit.Kind {
	case UnitImage:
		return f.Box != nil && !f.Box.Empty() && unit.Bounds.Contains(*f.Box)
	default:
		return f.Box == nil && f.Start >= 0 && f.Start < f.End && f.End <= len(unit.Text)
	}
}

// Overlaps reports whether two findings on the same unit cover common content.
func (f Finding) Overlaps(o Finding) bool {
	if f.Box != nil && o.Box != nil {
		return f.Box.Overlaps(*o.Box)
	}
	return f.Start < o.End && o.Start < f.End
}

// SameRange reports whether both findings cover exactly the same content.
func (f Finding) SameRange(o Finding) bool {
	if f.Box != nil || o.Box != nil {
		return f.Box != nil && o.Box != nil && *f.Box == *o.Box
	}
	return f.Start == o.Start && f.End == o.End
}

// AuditEntry records one applied redaction. It never holds the redacted content.
type AuditEntry struct {
	UnitID     string       `json:"unit_id"`
	Category   string       `json:"category"`
	Categories []string     `json:"categories,omitempty"`
	Start      int          `json:"start"`
	End        int          `json:"end"`
	Box        *Box         `json:"box,omitempty"`
	Strategy   Strategy     `json:"strategy"`
	Confidence float64      `json:"confidence"`
	Source     DetectorKind `json:"source"`
}

// Finding returns the claim the entry was recorded from. Multi-category entries
// keep their strongest category.
func (e AuditEntry) Finding() Finding {
	return Finding{
		Category:   e.Category,
		Confidence: e.Confidence,
		Source:     e.Source,
		Start:      e.Start,
		End:        e.End,
		Box:        e.Box,
	}
}

// RedactedUnit is a unit after redaction. Unit keeps position metadata only.
type RedactedUnit struct {
	Unit  ContentUnit  `json:"unit"`
	Text  string       `json:"-"`
	Image []byte       `json:"-"`
	Audit []AuditEntry `json:"audit"`
}
