package detector

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/Veraticus/redactor/internal/model"
)

func TestMerge(t *testing.T) {
	strict := 0.9
	cfg := model.DefaultConfig()
	cfg.Overrides = map[string]model.CategoryOverride{
		"name": {Threshold: &strict},
	}

	tests := []struct {
		name     string
		findings []model.Finding
		want     []model.Finding
	}{
		{
			name: "below threshold dropped",
			findings: []model.Finding{
				{Category: "email", Confidence: 0.4, Source: model.DetectorRule, Start: 0, End: 5},
				{Category: "email", Confidence: 0.6, Source: model.DetectorRule, Start: 6, End: 9},
			},
			want: []model.Finding{
				{Category: "email", Confidence: 0.6, Source: model.DetectorRule, Start: 6, End: 9},
			},
		},
		{
			name: "category threshold override wins",
			findings: []model.Finding{
				{Category: "name", Confidence: 0.85, Source: model.DetectorTextModel, Start: 0, End: 4},
				{Category: "name", Confidence: 0.95, Source: model.DetectorTextModel, Start: 5, End: 9},
			},
			want: []model.Finding{
				{Category: "name", Confidence: 0.95, Source: model.DetectorTextModel, Start: 5, End: 9},
			},
		},
		{
			name: "overlapping categories both kept",
			findings: []model.Finding{
				{Category: "phone", Confidence: 0.8, Source: model.DetectorRule, Start: 3, End: 12},
				{Category: "nhs_number", Confidence: 0.8, Source: model.DetectorRule, Start: 0, End: 12},
			},
			want: []model.Finding{
				{Category: "nhs_number", Confidence: 0.8, Source: model.DetectorRule, Start: 0, End: 12},
				{Category: "phone", Confidence: 0.8, Source: model.DetectorRule, Start: 3, End: 12},
			},
		},
		{
			name: "exact duplicate keeps highest confidence",
			findings: []model.Finding{
				{Category: "email", Confidence: 0.8, Source: model.DetectorTextModel, Start: 2, End: 8},
				{Category: "email", Confidence: 0.95, Source: model.DetectorRule, Start: 2, End: 8},
				{Category: "email", Confidence: 0.9, Source: model.DetectorTextModel, Start: 2, End: 8},
			},
			want: []model.Finding{
				{Category: "email", Confidence: 0.95, Source: model.DetectorRule, Start: 2, End: 8},
			},
		},
		{
			name: "same range different category kept",
			findings: []model.Finding{
				{Category: "phone", Confidence: 0.8, Source: model.DetectorRule, Start: 0, End: 8},
				{Category: "account", Confidence: 0.8, Source: model.DetectorTextModel, Start: 0, End: 8},
			},
			want: []model.Finding{
				{Category: "account", Confidence: 0.8, Source: model.DetectorTextModel, Start: 0, End: 8},
				{Category: "phone", Confidence: 0.8, Source: model.DetectorRule, Start: 0, End: 8},
			},
		},
		{
			name: "duplicate boxes collapse",
			findings: []model.Finding{
				{Category: "face", Confidence: 0.6, Source: model.DetectorVisionModel, Box: &model.Box{MaxX: 4, MaxY: 4}},
				{Category: "face", Confidence: 0.9, Source: model.DetectorVisionModel, Box: &model.Box{MaxX: 4, MaxY: 4}},
			},
			want: []model.Finding{
				{Category: "face", Confidence: 0.9, Source: model.DetectorVisionModel, Box: &model.Box{MaxX: 4, MaxY: 4}},
			},
		},
		{
			name:     "empty input",
			findings: nil,
			want:     []model.Finding{},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Merge(cfg, tt.findings))
		})
	}
}

func TestDiscardMasked(t *testing.T) {
	text := "Contact: [REDACTED], ██████ and jane"
	findings := []model.Finding{
		{Category: "word", Start: 10, End: 18},
		{Category: "box", Start: 21, End: 24},
		{Category: "name", Start: 44, End: 48},
		{Category: "straddle", Start: 0, End: 12},
	}

	got := discardMasked(text, model.DefaultPlaceholder, findings)

	var categories []string
	for _, f := range got {
		categories = append(categories, f.Category)
	}
	assert.Equal(t, []string{"name", "straddle"}, categories)
}
