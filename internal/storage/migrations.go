package storage

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
)

// ExpectedSchemaVersion is the latest schema version that the application expects.
// If the database cannot be migrated to this version, it's a fatal error.
const ExpectedSchemaVersion = 3

// Migration represents a database schema migration.
type Migration struct {
	Up          func(*sql.Tx) error
	Description string
	Version     int
}

var migrations = []Migration{
	{
		Version:     1,
		Description: "Initial schema",
		Up: func(tx *sql.Tx) error {
			queries := []string{
				`CREATE TABLE IF NOT EXISTS jobs (
					id TEXT PRIMARY KEY,
					tenant TEXT NOT NULL DEFAULT '',
					format TEXT NOT NULL,
					source TEXT NOT NULL DEFAULT '',
					output TEXT NOT NULL DEFAULT '',
					stage TEXT NOT NULL,
					status TEXT NOT NULL DEFAULT '',
					message TEXT NOT NULL DEFAULT '',
					processed INTEGER DEFAULT 0,
					succeeded INTEGER DEFAULT 0,
					failed INTEGER DEFAULT 0,
					degraded INTEGER DEFAULT 0,
					duration_ms INTEGER DEFAULT 0,
					created_at DATETIME DEFAULT CURRENT_TIMESTAMP,
					completed_at DATETIME
				)`,

				`CREATE TABLE IF NOT EXISTS audit_entries (
					id INTEGER PRIMARY KEY AUTOINCREMENT,
					job_id TEXT NOT NULL,
					unit_id TEXT NOT NULL,
					category TEXT NOT NULL,
					categories TEXT NOT NULL DEFAULT '',
					start_offset INTEGER NOT NULL DEFAULT 0,
					end_offset INTEGER NOT NULL DEFAULT 0,
					box TEXT,
					strategy TEXT NOT NULL,
					confidence REAL DEFAULT 0,
					source TEXT NOT NULL,
					FOREIGN KEY (job_id) REFERENCES jobs(id) ON DELETE CASCADE
				)`,

				`CREATE TABLE IF NOT EXISTS unit_errors (
					id INTEGER PRIMARY KEY AUTOINCREMENT,
					job_id TEXT NOT NULL,
					unit_id TEXT NOT NULL,
					detector TEXT NOT NULL DEFAULT '',
					kind TEXT NOT NULL,
					message TEXT NOT NULL,
					warning INTEGER NOT NULL DEFAULT 0,
					FOREIGN KEY (job_id) REFERENCES jobs(id) ON DELETE CASCADE
				)`,
			}

			for _, query := range queries {
				if _, err := tx.Exec(query); err != nil {
					return fmt.Errorf("failed to execute query: %w", err)
				}
			}
			return nil
		},
	},
	{
		Version:     2,
		Description: "Add lookup indexes",
		Up: func(tx *sql.Tx) error {
			queries := []string{
				`CREATE INDEX IF NOT EXISTS idx_jobs_tenant ON jobs(tenant)`,
				`CREATE INDEX IF NOT EXISTS idx_jobs_status ON jobs(status)`,
				`CREATE INDEX IF NOT EXISTS idx_jobs_created_at ON jobs(created_at)`,
				`CREATE INDEX IF NOT EXISTS idx_audit_entries_job_id ON audit_entries(job_id)`,
				`CREATE INDEX IF NOT EXISTS idx_unit_errors_job_id ON unit_errors(job_id)`,
			}

			for _, query := range queries {
				if _, err := tx.Exec(query); err != nil {
					return fmt.Errorf("failed to execute query '%s': %w", query, err)
				}
			}
			return nil
		},
	},
	{
		Version:     3,
		Description: "Keep the full result document with each job",
		Up: func(tx *sql.Tx) error {
			_, err := tx.Exec(`ALTER TABLE jobs ADD COLUMN result_json TEXT`)
			return err
		},
	},
}

// Migrate applies all pending database migrations.
func (s *SQLiteStorage) Migrate(ctx context.Context) error {
	if err := validateContext(ctx); err != nil {
		return err
	}

	var currentVersion int
	err := s.db.QueryRowContext(ctx, "PRAGMA user_version").Scan(&currentVersion)
	if err != nil {
		return fmt.Errorf("failed to get schema version: %w", err)
	}

	for _, migration := range migrations {
		if migration.Version <= currentVersion {
			continue
		}

		tx, txErr := s.db.BeginTx(ctx, nil)
		if txErr != nil {
			return fmt.Errorf("failed to begin transaction: %w", txErr)
		}

		if upErr := migration.Up(tx); upErr != nil {
			_ = tx.Rollback()
			return fmt.Errorf("migration %d failed: %w", migration.Version, upErr)
		}

		if _, execErr := tx.Exec(fmt.Sprintf("PRAGMA user_version = %d", migration.Version)); execErr != nil {
			_ = tx.Rollback()
			return fmt.Errorf("failed to update schema version: %w", execErr)
		}

		if commitErr := tx.Commit(); commitErr != nil {
			return fmt.Errorf("failed to commit migration %d: %w", migration.Version, commitErr)
		}

		slog.Debug("Applied migration",
			"version", migration.Version,
			"description", migration.Description)
	}

	var finalVersion int
	err = s.db.QueryRowContext(ctx, "PRAGMA user_version").Scan(&finalVersion)
	if err != nil {
		return fmt.Errorf("failed to verify final schema version: %w", err)
	}

	if finalVersion != ExpectedSchemaVersion {
		return fmt.Errorf("database schema version mismatch: expected %d, got %d", ExpectedSchemaVersion, finalVersion)
	}

	return nil
}
