// Package testutil provides shared test helpers for the redactor packages.
// It offers isolated job databases and ready-made results for seeding them.
package testutil

import (
	"context"
	"testing"

	"github.com/Veraticus/redactor/internal/model"
	"github.com/Veraticus/redactor/internal/service"
	"github.com/Veraticus/redactor/internal/storage"
)

// TestDB represents a test database with associated test utilities.
type TestDB struct {
	Storage *storage.SQLiteStorage
	t       *testing.T
}

// SeedJob is a job to insert before the test runs. A nil Result leaves the
// job unfinished.
type SeedJob struct {
	Record  service.JobRecord
	Result  *model.RedactionResult
	Message string
}

// TestDBOptions provides configuration options for test database setup.
type TestDBOptions struct {
	CustomSetup    func(context.Context, service.Storage) error
	Jobs           []SeedJob
	SkipMigrations bool
}

// SetupTestDB creates a new in-memory job database seeded with jobs.
// It automatically handles migrations and cleanup.
//
// Example:
//
//	db := testutil.SetupTestDB(t, testutil.FinishedJob("case-42", testutil.SampleResult("case-42")))
func SetupTestDB(t *testing.T, jobs ...SeedJob) *TestDB {
	t.Helper()
	return SetupTestDBWithOptions(t, TestDBOptions{Jobs: jobs})
}

// SetupTestDBWithOptions creates a test database with custom options.
func SetupTestDBWithOptions(t *testing.T, opts TestDBOptions) *TestDB {
	t.Helper()

	db, err := storage.NewSQLiteStorage(":memory:")
	if err != nil {
		t.Fatalf("failed to create test database: %v", err)
	}
	t.Cleanup(func() {
		_ = db.Close()
	})

	ctx := context.Background()
	if !opts.SkipMigrations {
		if err := db.Migrate(ctx); err != nil {
			t.Fatalf("failed to run migrations: %v", err)
		}
	}

	testDB := &TestDB{Storage: db, t: t}
	for _, job := range opts.Jobs {
		testDB.Seed(job)
	}

	if opts.CustomSetup != nil {
		if err := opts.CustomSetup(ctx, db); err != nil {
			t.Fatalf("custom setup failed: %v", err)
		}
	}

	return testDB
}

// Seed inserts one job, completing it when it carries a result.
func (db *TestDB) Seed(job SeedJob) {
	db.t.Helper()
	ctx := context.Background()

	record := job.Record
	if err := db.Storage.SaveJob(ctx, &record); err != nil {
		db.t.Fatalf("failed to seed job %q: %v", record.ID, err)
	}
	if job.Result == nil {
		return
	}
	if err := db.Storage.CompleteJob(ctx, record.ID, *job.Result, job.Message); err != nil {
		db.t.Fatalf("failed to complete job %q: %v", record.ID, err)
	}
}

// MustGetJob returns the job with the given id or fails the test.
func (db *TestDB) MustGetJob(id string) *service.JobRecord {
	db.t.Helper()
	job, err := db.Storage.GetJob(context.Background(), id)
	if err != nil {
		db.t.Fatalf("failed to get job %q: %v", id, err)
	}
	return job
}
