package document

import (
	"bytes"
	"fmt"
	"image"
	_ "image/jpeg" // register decoder
	_ "image/png"  // register decoder

	"github.com/Veraticus/redactor/internal/model"
	"github.com/Veraticus/redactor/internal/redact"
)

// ImageCodec treats a PNG or JPEG file as a single image unit.
type ImageCodec struct{}

// NewImageCodec creates an image codec.
func NewImageCodec() *ImageCodec {
	return &ImageCodec{}
}

// Formats implements Codec.
func (c *ImageCodec) Formats() []string {
	return []string{FormatPNG, FormatJPEG}
}

type imageDocument struct {
	format string
	units  []model.ContentUnit
}

// Decompose implements Codec.
func (c *ImageCodec) Decompose(data []byte) (Parsed, error) {
	cfg, format, err := image.DecodeConfig(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("failed to read image header: %w", err)
	}
	if cfg.Width == 0 || cfg.Height == 0 {
		return nil, fmt.Errorf("image has no pixels (%dx%d)", cfg.Width, cfg.Height)
	}
	// Truncated pixel data passes DecodeConfig, so decode fully once.
	if _, _, err := image.Decode(bytes.NewReader(data)); err != nil {
		return nil, fmt.Errorf("failed to decode image: %w", err)
	}

	format = normalizeFormat(format)
	return &imageDocument{
		format: format,
		units: []model.ContentUnit{{
			ID:          "image",
			Kind:        model.UnitImage,
			Location:    model.Location{Page: 1},
			Image:       data,
			ImageFormat: format,
			Bounds:      model.Box{MaxX: cfg.Width, MaxY: cfg.Height},
		}},
	}, nil
}

func (d *imageDocument) Units() []model.ContentUnit {
	return d.units
}

// Reassemble returns the redacted image. An omitted image comes back fully black
// at its original size.
func (d *imageDocument) Reassemble(parts []Part) ([]byte, error) {
	if err := checkParts(d.units, parts); err != nil {
		return nil, err
	}
	if !parts[0].Omit {
		return parts[0].Image, nil
	}

	return redact.Blackout(d.units[0])
}
