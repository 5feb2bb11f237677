// Package vision implements the image detection service on top of the Google
// Cloud Vision API. Faces are reported directly; text found by OCR is passed
// through a text scanner and flagged words become box findings.
package vision

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"google.golang.org/api/googleapi"
	visionapi "google.golang.org/api/vision/v1"

	"github.com/Veraticus/redactor/internal/common"
	"github.com/Veraticus/redactor/internal/gcp"
	"github.com/Veraticus/redactor/internal/model"
	"github.com/Veraticus/redactor/internal/textutil"
)

// Defaults for face findings.
const (
	FaceCategory          = "face"
	DefaultFaceConfidence = 0.5
	maxFaces              = 50
)

// TextScanner finds sensitive spans in plain text. The rule detector satisfies it.
type TextScanner interface {
	Scan(text string) []model.Finding
}

// Options tunes the vision service.
type Options struct {
	Logger *slog.Logger
	// Scanner flags OCR words. Without one only faces are reported.
	Scanner           TextScanner
	MinFaceConfidence float64
}

// Service implements service.DetectionService for image units.
type Service struct {
	api     *visionapi.Service
	scanner TextScanner
	logger  *slog.Logger
	minFace float64
}

// New creates a vision service with credentials from cfg.
func New(ctx context.Context, cfg gcp.Config, opts Options) (*Service, error) {
	clientOpts, err := gcp.ClientOptions(ctx, cfg, visionapi.CloudVisionScope)
	if err != nil {
		return nil, err
	}

	api, err := visionapi.NewService(ctx, clientOpts...)
	if err != nil {
		return nil, fmt.Errorf("unable to create vision service: %w", err)
	}

	return NewWithAPI(api, opts), nil
}

// NewWithAPI wraps an existing API client.
func NewWithAPI(api *visionapi.Service, opts Options) *Service {
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if opts.MinFaceConfidence <= 0 {
		opts.MinFaceConfidence = DefaultFaceConfidence
	}
	return &Service{
		api:     api,
		scanner: opts.Scanner,
		logger:  opts.Logger,
		minFace: opts.MinFaceConfidence,
	}
}

// Analyze implements service.DetectionService.
func (s *Service) Analyze(ctx context.Context, unit model.ContentUnit, kind model.DetectorKind, timeout time.Duration) ([]model.Finding, error) {
	if kind != model.DetectorVisionModel || unit.Kind != model.UnitImage {
		return nil, fmt.Errorf("vision service cannot analyze %s units for %s", unit.Kind, kind)
	}
	if len(unit.Image) == 0 {
		return nil, fmt.Errorf("image unit %s has no content", unit.ID)
	}
	if timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	features := []*visionapi.Feature{{Type: "FACE_DETECTION", MaxResults: maxFaces}}
	if s.scanner != nil {
		features = append(features, &visionapi.Feature{Type: "TEXT_DETECTION"})
	}

	req := &visionapi.BatchAnnotateImagesRequest{
		Requests: []*visionapi.AnnotateImageRequest{{
			Image:    &visionapi.Image{Content: base64.StdEncoding.EncodeToString(unit.Image)},
			Features: features,
		}},
	}

	resp, err := s.api.Images.Annotate(req).Context(ctx).Do()
	if err != nil {
		return nil, classify(err)
	}
	if len(resp.Responses) == 0 {
		return nil, fmt.Errorf("vision API returned no responses")
	}

	annotated := resp.Responses[0]
	if annotated.Error != nil && annotated.Error.Code != 0 {
		return nil, statusError(annotated.Error)
	}

	findings := s.faceFindings(annotated.FaceAnnotations, unit.Bounds)
	if s.scanner != nil {
		findings = append(findings, s.textFindings(annotated.TextAnnotations, unit.Bounds)...)
	}

	s.logger.Debug("Vision analysis complete",
		"unit_id", unit.ID,
		"faces", len(annotated.FaceAnnotations),
		"words", max(len(annotated.TextAnnotations)-1, 0),
		"findings", len(findings))

	return findings, nil
}

func (s *Service) faceFindings(faces []*visionapi.FaceAnnotation, bounds model.Box) []model.Finding {
	var out []model.Finding
	for _, face := range faces {
		if face == nil || face.DetectionConfidence < s.minFace {
			continue
		}
		box, ok := boxOf(face.BoundingPoly, bounds)
		if !ok {
			continue
		}
		out = append(out, model.Finding{
			Category:   FaceCategory,
			Confidence: face.DetectionConfidence,
			Source:     model.DetectorVisionModel,
			Box:        &box,
		})
	}
	return out
}

// ocrWord is one OCR word with its byte range in the joined OCR text.
type ocrWord struct {
	text       string
	box        model.Box
	start, end int
}

// textFindings scans the OCR words as one line of text. A word overlapping a
// scanner match is flagged, as is any other word with the same normalised form.
func (s *Service) textFindings(annotations []*visionapi.EntityAnnotation, bounds model.Box) []model.Finding {
	// The first annotation is the full text; the rest are words.
	if len(annotations) < 2 {
		return nil
	}

	var (
		words  []ocrWord
		joined strings.Builder
	)
	for _, a := range annotations[1:] {
		if a == nil || strings.TrimSpace(a.Description) == "" {
			continue
		}
		box, ok := boxOf(a.BoundingPoly, bounds)
		if !ok {
			continue
		}
		if joined.Len() > 0 {
			joined.WriteByte(' ')
		}
		start := joined.Len()
		joined.WriteString(a.Description)
		words = append(words, ocrWord{text: a.Description, box: box, start: start, end: joined.Len()})
	}

	type flag struct {
		category   string
		confidence float64
	}
	flagged := make(map[string]flag)
	for _, f := range s.scanner.Scan(joined.String()) {
		for _, w := range words {
			if w.start < f.End && f.Start < w.end {
				key := textutil.NormalizeWord(w.text)
				if key == "" {
					continue
				}
				if prev, ok := flagged[key]; !ok || f.Confidence > prev.confidence {
					flagged[key] = flag{category: f.Category, confidence: f.Confidence}
				}
			}
		}
	}

	var out []model.Finding
	for _, w := range words {
		fl, ok := flagged[textutil.NormalizeWord(w.text)]
		if !ok {
			continue
		}
		box := w.box
		out = append(out, model.Finding{
			Category:   fl.category,
			Confidence: fl.confidence,
			Source:     model.DetectorVisionModel,
			Box:        &box,
		})
	}
	return out
}

// boxOf converts a bounding polygon to a rectangle clipped to bounds.
func boxOf(poly *visionapi.BoundingPoly, bounds model.Box) (model.Box, bool) {
	if poly == nil || len(poly.Vertices) == 0 {
		return model.Box{}, false
	}

	first := true
	var box model.Box
	for _, v := range poly.Vertices {
		if v == nil {
			continue
		}
		x, y := int(v.X), int(v.Y)
		if first {
			box = model.Box{MinX: x, MinY: y, MaxX: x, MaxY: y}
			first = false
			continue
		}
		box.MinX = min(box.MinX, x)
		box.MinY = min(box.MinY, y)
		box.MaxX = max(box.MaxX, x)
		box.MaxY = max(box.MaxY, y)
	}
	if first {
		return model.Box{}, false
	}

	box = box.Clip(bounds)
	return box, !box.Empty()
}

// classify maps API errors onto the retry taxonomy.
func classify(err error) error {
	var apiErr *googleapi.Error
	if !errors.As(err, &apiErr) {
		return err
	}
	switch {
	case apiErr.Code == http.StatusTooManyRequests:
		return fmt.Errorf("%w: %w", common.ErrRateLimit, err)
	case apiErr.Code >= http.StatusInternalServerError:
		return &common.RetryableError{Err: err, Retryable: true}
	default:
		return err
	}
}

// statusError handles per-image errors reported inside a successful batch response.
// Code 8 is RESOURCE_EXHAUSTED and 14 is UNAVAILABLE.
func statusError(status *visionapi.Status) error {
	err := fmt.Errorf("vision API error (code %d): %s", status.Code, status.Message)
	switch status.Code {
	case 8:
		return fmt.Errorf("%w: %w", common.ErrRateLimit, err)
	case 14:
		return &common.RetryableError{Err: err, Retryable: true}
	default:
		return err
	}
}
