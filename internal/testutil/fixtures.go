package testutil

import (
	"time"

	"github.com/Veraticus/redactor/internal/model"
	"github.com/Veraticus/redactor/internal/service"
)

// SampleResult is a partially failed text job: two email findings, one
// social security number and a text model timeout on the third unit.
func SampleResult(requestID string) model.RedactionResult {
	return model.RedactionResult{
		RequestID: requestID,
		Format:    "text",
		Status:    model.StatusPartialFailure,
		Processed: 3,
		Succeeded: 2,
		Failed:    1,
		Audit: []model.AuditEntry{
			{UnitID: "0", Category: "email", Start: 9, End: 24, Strategy: model.StrategyMask, Confidence: 1, Source: model.DetectorRule},
			{UnitID: "1", Category: "ssn", Start: 4, End: 15, Strategy: model.StrategyMask, Confidence: 1, Source: model.DetectorRule},
			{UnitID: "1", Category: "email", Start: 20, End: 35, Strategy: model.StrategyRemove, Confidence: 0.9, Source: model.DetectorTextModel},
		},
		Errors: []model.UnitError{
			{UnitID: "2", Detector: model.DetectorTextModel, Kind: model.KindDetectionTimeout, Message: "deadline exceeded"},
		},
		Duration: 1200 * time.Millisecond,
	}
}

// FinishedJob builds a seed for a completed text job.
func FinishedJob(id string, result model.RedactionResult) SeedJob {
	return SeedJob{
		Record: service.JobRecord{
			ID:     id,
			Format: result.Format,
			Source: id + "/raw.txt",
			Output: id + "/redacted.txt",
			Stage:  "redact",
			Status: result.Status,
		},
		Result: &result,
	}
}

// PendingJob builds a seed for a job that has not finished.
func PendingJob(id, tenant string) SeedJob {
	return SeedJob{
		Record: service.JobRecord{ID: id, Tenant: tenant, Format: "text", Source: id + "/raw.txt", Stage: "redact"},
	}
}
