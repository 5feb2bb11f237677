package common

import (
	"bytes"
	"context"
	"errors"
	"log/slog"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestClassifyDetectionError(t *testing.T) {
	tests := []struct {
		err      error
		wantKind error
		name     string
	}{
		{name: "deadline", err: context.DeadlineExceeded, wantKind: ErrDetectionTimeout},
		{name: "rate limit", err: ErrRateLimit, wantKind: ErrDetectionRateLimited},
		{name: "other", err: errors.New("upstream 503"), wantKind: ErrDetectionServiceError},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ClassifyDetectionError("text_model", tt.err)

			var detErr *DetectionError
			require.ErrorAs(t, err, &detErr)
			assert.Equal(t, "text_model", detErr.Detector)
			assert.ErrorIs(t, err, tt.wantKind)
			assert.ErrorIs(t, err, tt.err)
			assert.True(t, strings.HasPrefix(err.Error(), "text_model: "))
		})
	}

	assert.NoError(t, ClassifyDetectionError("rule", nil))
	assert.Equal(t, context.Canceled, ClassifyDetectionError("rule", context.Canceled))

	already := &DetectionError{Kind: ErrDetectionTimeout, Detector: "vision_model"}
	assert.Same(t, already, ClassifyDetectionError("text_model", already))
}

func TestTypedErrors(t *testing.T) {
	assert.ErrorIs(t, &InvalidConfigError{Problems: []string{"a"}}, ErrInvalidConfig)
	assert.ErrorIs(t, &UnsupportedFormatError{Format: "docx"}, ErrUnsupportedFormat)

	cause := errors.New("unexpected EOF")
	malformed := &MalformedDocumentError{Format: "json", Err: cause}
	assert.ErrorIs(t, malformed, ErrMalformedDocument)
	assert.ErrorIs(t, malformed, cause)

	userErr := NewUserError("Cannot read file", cause)
	assert.ErrorIs(t, userErr, cause)
	assert.Equal(t, "Cannot read file: unexpected EOF", userErr.Error())
	assert.Equal(t, "Plain", NewUserError("Plain", nil).Error())
}

func TestParseLevel(t *testing.T) {
	tests := []struct {
		name    string
		want    slog.Level
		wantErr bool
	}{
		{name: "debug", want: slog.LevelDebug},
		{name: "", want: slog.LevelInfo},
		{name: " WARN ", want: slog.LevelWarn},
		{name: "warning", want: slog.LevelWarn},
		{name: "error", want: slog.LevelError},
		{name: "loud", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ParseLevel(tt.name)
			if tt.wantErr {
				assert.ErrorIs(t, err, ErrInvalidConfig)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestNewLogger(t *testing.T) {
	var buf bytes.Buffer
	logger := NewLogger(&buf, slog.LevelInfo, "json")
	logger.Debug("hidden")
	logger.Info("shown", "unit_id", "3")

	out := buf.String()
	assert.NotContains(t, out, "hidden")
	assert.Contains(t, out, `"unit_id":"3"`)
}

func TestLogHelpers(t *testing.T) {
	var buf bytes.Buffer
	previous := slog.Default()
	slog.SetDefault(NewLogger(&buf, slog.LevelDebug, "console"))
	t.Cleanup(func() { slog.SetDefault(previous) })

	LogError(errors.New("boom"), "Unit failed", Fields{"unit_id": "7", "detector": "rule"})
	LogInfo("Job done", Fields{"status": "Success"})

	out := buf.String()
	assert.Contains(t, out, "level=ERROR")
	assert.Contains(t, out, "error=boom")
	assert.Less(t, strings.Index(out, "detector=rule"), strings.Index(out, "unit_id=7"))
	assert.Contains(t, out, "status=Success")
}
