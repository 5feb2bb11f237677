package metrics

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Veraticus/redactor/internal/model"
)

func sampleResult() model.RedactionResult {
	return model.RedactionResult{
		Format:    "json",
		Status:    model.StatusPartialFailure,
		Processed: 4,
		Succeeded: 3,
		Failed:    1,
		Degraded:  1,
		Duration:  250 * time.Millisecond,
		Audit: []model.AuditEntry{
			{Category: "email", Strategy: model.StrategyMask},
			{Category: "email", Strategy: model.StrategyMask},
			{Category: "face", Strategy: model.StrategyBlackBox},
		},
		Errors:   []model.UnitError{{Detector: model.DetectorVisionModel, Kind: model.KindDetectionRateLimit}},
		Warnings: []model.UnitError{{Detector: model.DetectorTextModel, Kind: model.KindDetectionTimeout}},
	}
}

func TestObserveResult(t *testing.T) {
	m := New()
	m.ObserveResult("redact", sampleResult())
	m.ObserveResult("redact", sampleResult())

	assert.InDelta(t, 2, testutil.ToFloat64(m.JobsTotal.WithLabelValues("redact", "json", "PartialFailure")), 1e-9)
	assert.InDelta(t, 4, testutil.ToFloat64(m.UnitsTotal.WithLabelValues("succeeded")), 1e-9)
	assert.InDelta(t, 2, testutil.ToFloat64(m.UnitsTotal.WithLabelValues("degraded")), 1e-9)
	assert.InDelta(t, 2, testutil.ToFloat64(m.UnitsTotal.WithLabelValues("failed")), 1e-9)
	assert.InDelta(t, 4, testutil.ToFloat64(m.RedactionsTotal.WithLabelValues("email", "mask")), 1e-9)
	assert.InDelta(t, 2, testutil.ToFloat64(m.DetectorErrors.WithLabelValues("text_model", "DetectionTimeout")), 1e-9)
	assert.Equal(t, 1, testutil.CollectAndCount(m.JobDuration))
}

func TestNew_IndependentRegistries(t *testing.T) {
	a, b := New(), New()
	a.ObserveResult("redact", sampleResult())

	assert.InDelta(t, 0, testutil.ToFloat64(b.JobsTotal.WithLabelValues("redact", "json", "PartialFailure")), 1e-9)
}

func TestWriteTextfile(t *testing.T) {
	m := New()
	m.ObserveResult("analyse", sampleResult())

	path := filepath.Join(t.TempDir(), "textfile", "redactor.prom")
	require.NoError(t, m.WriteTextfile(path))

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(data), `redactor_jobs_total{format="json",stage="analyse",status="PartialFailure"} 1`)
	assert.Contains(t, string(data), "redactor_job_duration_seconds_bucket")
}
