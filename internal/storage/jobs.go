package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/Veraticus/redactor/internal/common"
	"github.com/Veraticus/redactor/internal/model"
	"github.com/Veraticus/redactor/internal/service"
)

const defaultListLimit = 50

// SaveJob inserts a job row or updates the mutable fields of an existing one.
func (s *SQLiteStorage) SaveJob(ctx context.Context, job *service.JobRecord) error {
	if err := validateContext(ctx); err != nil {
		return err
	}
	if err := validateJob(job); err != nil {
		return err
	}

	if job.CreatedAt.IsZero() {
		job.CreatedAt = time.Now().UTC()
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO jobs (id, tenant, format, source, output, stage, status, message, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			output = excluded.output,
			stage = excluded.stage,
			status = excluded.status,
			message = excluded.message
	`, job.ID, job.Tenant, job.Format, job.Source, job.Output, job.Stage, string(job.Status), job.Message, job.CreatedAt)
	if err != nil {
		return fmt.Errorf("failed to save job: %w", err)
	}
	return nil
}

// CompleteJob records the result of a finished job, replacing any audit
// entries and unit errors stored for it earlier.
func (s *SQLiteStorage) CompleteJob(ctx context.Context, id string, result model.RedactionResult, message string) error {
	if err := validateContext(ctx); err != nil {
		return err
	}
	if err := validateString(id, "id"); err != nil {
		return err
	}

	resultJSON, err := json.Marshal(result)
	if err != nil {
		return fmt.Errorf("failed to marshal result: %w", err)
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	res, err := tx.ExecContext(ctx, `
		UPDATE jobs SET
			status = ?, message = ?, processed = ?, succeeded = ?, failed = ?, degraded = ?,
			duration_ms = ?, completed_at = ?, result_json = ?
		WHERE id = ?
	`, string(result.Status), message, result.Processed, result.Succeeded, result.Failed, result.Degraded,
		result.Duration.Milliseconds(), time.Now().UTC(), string(resultJSON), id)
	if err != nil {
		return fmt.Errorf("failed to update job: %w", err)
	}
	rows, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to check rows affected: %w", err)
	}
	if rows == 0 {
		err = fmt.Errorf("job %s: %w", id, common.ErrNotFound)
		return err
	}

	if err = s.replaceAuditTx(ctx, tx, id, result.Audit); err != nil {
		return err
	}
	if err = s.replaceUnitErrorsTx(ctx, tx, id, result.Errors, result.Warnings); err != nil {
		return err
	}

	if err = tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit job completion: %w", err)
	}
	return nil
}

func (s *SQLiteStorage) replaceAuditTx(ctx context.Context, tx *sql.Tx, jobID string, entries []model.AuditEntry) error {
	if _, err := tx.ExecContext(ctx, `DELETE FROM audit_entries WHERE job_id = ?`, jobID); err != nil {
		return fmt.Errorf("failed to clear audit entries: %w", err)
	}
	if len(entries) == 0 {
		return nil
	}

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO audit_entries (job_id, unit_id, category, categories, start_offset, end_offset, box, strategy, confidence, source)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`)
	if err != nil {
		return fmt.Errorf("failed to prepare statement: %w", err)
	}
	defer func() { _ = stmt.Close() }()

	for _, e := range entries {
		var box sql.NullString
		if e.Box != nil {
			data, marshalErr := json.Marshal(e.Box)
			if marshalErr != nil {
				return fmt.Errorf("failed to marshal box: %w", marshalErr)
			}
			box = sql.NullString{String: string(data), Valid: true}
		}

		if _, err := stmt.ExecContext(ctx, jobID, e.UnitID, e.Category, strings.Join(e.Categories, ","),
			e.Start, e.End, box, string(e.Strategy), e.Confidence, string(e.Source)); err != nil {
			return fmt.Errorf("failed to insert audit entry: %w", err)
		}
	}
	return nil
}

func (s *SQLiteStorage) replaceUnitErrorsTx(ctx context.Context, tx *sql.Tx, jobID string, errs, warnings []model.UnitError) error {
	if _, err := tx.ExecContext(ctx, `DELETE FROM unit_errors WHERE job_id = ?`, jobID); err != nil {
		return fmt.Errorf("failed to clear unit errors: %w", err)
	}

	insert := func(e model.UnitError, warning bool) error {
		_, err := tx.ExecContext(ctx, `
			INSERT INTO unit_errors (job_id, unit_id, detector, kind, message, warning)
			VALUES (?, ?, ?, ?, ?, ?)
		`, jobID, e.UnitID, string(e.Detector), string(e.Kind), e.Message, warning)
		if err != nil {
			return fmt.Errorf("failed to insert unit error: %w", err)
		}
		return nil
	}

	for _, e := range errs {
		if err := insert(e, false); err != nil {
			return err
		}
	}
	for _, w := range warnings {
		if err := insert(w, true); err != nil {
			return err
		}
	}
	return nil
}

const jobColumns = `id, tenant, format, source, output, stage, status, message, created_at, completed_at, result_json`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanJob(row rowScanner) (*service.JobRecord, error) {
	var (
		job        service.JobRecord
		status     string
		completed  sql.NullTime
		resultJSON sql.NullString
	)
	if err := row.Scan(&job.ID, &job.Tenant, &job.Format, &job.Source, &job.Output, &job.Stage,
		&status, &job.Message, &job.CreatedAt, &completed, &resultJSON); err != nil {
		return nil, err
	}

	job.Status = model.Status(status)
	if completed.Valid {
		t := completed.Time
		job.CompletedAt = &t
	}
	if resultJSON.Valid && resultJSON.String != "" {
		var result model.RedactionResult
		if err := json.Unmarshal([]byte(resultJSON.String), &result); err != nil {
			return nil, fmt.Errorf("failed to unmarshal result for job %s: %w", job.ID, err)
		}
		job.Result = &result
	}
	return &job, nil
}

// GetJob returns a job by id.
func (s *SQLiteStorage) GetJob(ctx context.Context, id string) (*service.JobRecord, error) {
	if err := validateContext(ctx); err != nil {
		return nil, err
	}
	if err := validateString(id, "id"); err != nil {
		return nil, err
	}

	row := s.db.QueryRowContext(ctx, `SELECT `+jobColumns+` FROM jobs WHERE id = ?`, id)
	job, err := scanJob(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("job %s: %w", id, common.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get job: %w", err)
	}
	return job, nil
}

// ListJobs returns jobs newest first.
func (s *SQLiteStorage) ListJobs(ctx context.Context, filter service.JobFilter) ([]service.JobRecord, error) {
	if err := validateContext(ctx); err != nil {
		return nil, err
	}

	var (
		where []string
		args  []any
	)
	if filter.Tenant != "" {
		where = append(where, "tenant = ?")
		args = append(args, filter.Tenant)
	}
	if filter.Status != "" {
		where = append(where, "status = ?")
		args = append(args, string(filter.Status))
	}

	query := `SELECT ` + jobColumns + ` FROM jobs`
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}

	limit := filter.Limit
	if limit <= 0 {
		limit = defaultListLimit
	}
	query += " ORDER BY created_at DESC, id LIMIT ?"
	args = append(args, limit)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list jobs: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var jobs []service.JobRecord
	for rows.Next() {
		job, err := scanJob(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan job: %w", err)
		}
		jobs = append(jobs, *job)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating jobs: %w", err)
	}
	return jobs, nil
}

// GetAuditEntries returns the audit trail of a job in recorded order.
func (s *SQLiteStorage) GetAuditEntries(ctx context.Context, jobID string) ([]model.AuditEntry, error) {
	if err := validateContext(ctx); err != nil {
		return nil, err
	}
	if err := validateString(jobID, "jobID"); err != nil {
		return nil, err
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT unit_id, category, categories, start_offset, end_offset, box, strategy, confidence, source
		FROM audit_entries WHERE job_id = ? ORDER BY id
	`, jobID)
	if err != nil {
		return nil, fmt.Errorf("failed to query audit entries: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var entries []model.AuditEntry
	for rows.Next() {
		var (
			e          model.AuditEntry
			categories string
			box        sql.NullString
			strategy   string
			source     string
		)
		if err := rows.Scan(&e.UnitID, &e.Category, &categories, &e.Start, &e.End, &box, &strategy, &e.Confidence, &source); err != nil {
			return nil, fmt.Errorf("failed to scan audit entry: %w", err)
		}
		if categories != "" {
			e.Categories = strings.Split(categories, ",")
		}
		if box.Valid {
			var b model.Box
			if err := json.Unmarshal([]byte(box.String), &b); err != nil {
				return nil, fmt.Errorf("failed to unmarshal box: %w", err)
			}
			e.Box = &b
		}
		e.Strategy = model.Strategy(strategy)
		e.Source = model.DetectorKind(source)
		entries = append(entries, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating audit entries: %w", err)
	}
	return entries, nil
}

// GetUnitErrors returns the unit failures of a job. Warnings are not included.
func (s *SQLiteStorage) GetUnitErrors(ctx context.Context, jobID string) ([]model.UnitError, error) {
	if err := validateContext(ctx); err != nil {
		return nil, err
	}
	if err := validateString(jobID, "jobID"); err != nil {
		return nil, err
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT unit_id, detector, kind, message
		FROM unit_errors WHERE job_id = ? AND warning = 0 ORDER BY id
	`, jobID)
	if err != nil {
		return nil, fmt.Errorf("failed to query unit errors: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var out []model.UnitError
	for rows.Next() {
		var (
			e        model.UnitError
			detector string
			kind     string
		)
		if err := rows.Scan(&e.UnitID, &detector, &kind, &e.Message); err != nil {
			return nil, fmt.Errorf("failed to scan unit error: %w", err)
		}
		e.Detector = model.DetectorKind(detector)
		e.Kind = model.ErrorKind(kind)
		out = append(out, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating unit errors: %w", err)
	}
	return out, nil
}
