package automation

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"
)

// RunRepository defines run log persistence.
// This abstraction allows SQLite and in-memory implementations.
type RunRepository interface {
	RunRecorder
	GetRun(ctx context.Context, id string) (*Run, error)
	ListRuns(ctx context.Context, limit int) ([]Run, error)
	ListResults(ctx context.Context, runID string) ([]ResultRecord, error)
	RunChecker
	DeleteRunsBefore(ctx context.Context, cutoff time.Time) (int64, error)
}

const (
	defaultListLimit = 20
	maxListLimit     = 500
)

// timeFormat is fixed-width so stored timestamps sort lexically.
const timeFormat = "2006-01-02T15:04:05.000000000Z07:00"

// runColumns is the SELECT column list for run queries.
const runColumns = `id, source, status, stop_on_failure, actions_total, succeeded, failed,
			started_at, completed_at, duration_ms, error`

// SQLiteRunRepository implements RunRepository using SQLite.
type SQLiteRunRepository struct {
	db *sql.DB
}

// NewSQLiteRunRepository creates a new SQLite-backed run log.
func NewSQLiteRunRepository(db *sql.DB) *SQLiteRunRepository {
	return &SQLiteRunRepository{db: db}
}

// SaveRun inserts the run and its results in one transaction. A run ID
// that is already stored fails with ErrRunExists and leaves the stored
// record untouched.
func (r *SQLiteRunRepository) SaveRun(ctx context.Context, run *Run) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("starting transaction: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck // Rollback is no-op after commit

	_, err = tx.ExecContext(ctx, `
		INSERT INTO runs (
			id, source, status, stop_on_failure, actions_total, succeeded, failed,
			started_at, completed_at, duration_ms, error
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		run.ID,
		run.Source,
		string(run.Status),
		boolToInt(run.StopOnFailure),
		run.ActionsTotal,
		run.Succeeded,
		run.Failed,
		run.StartedAt.UTC().Format(timeFormat),
		nullableTime(run.CompletedAt),
		run.DurationMS,
		nullableString(run.Error),
	)
	if err != nil {
		if isUniqueConstraintError(err) {
			return fmt.Errorf("%w: %s", ErrRunExists, run.ID)
		}
		return fmt.Errorf("inserting run: %w", err)
	}

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO action_results (
			run_id, position, kind, description, params, success, value,
			error_class, error, duration_ms, executed_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return fmt.Errorf("preparing result insert: %w", err)
	}
	defer stmt.Close()

	for _, rec := range run.Results {
		params, err := json.Marshal(rec.Action)
		if err != nil {
			return fmt.Errorf("marshalling action %d: %w", rec.Index, err)
		}
		value, err := marshalValue(rec.Value)
		if err != nil {
			return fmt.Errorf("marshalling value %d: %w", rec.Index, err)
		}
		if _, err := stmt.ExecContext(ctx,
			run.ID,
			rec.Index,
			string(rec.Kind),
			rec.Description,
			string(params),
			boolToInt(rec.Success),
			value,
			string(rec.ErrorClass),
			rec.Error,
			rec.DurationMS,
			rec.ExecutedAt.UTC().Format(timeFormat),
		); err != nil {
			return fmt.Errorf("inserting result %d: %w", rec.Index, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("committing run: %w", err)
	}
	return nil
}

// GetRun retrieves a run and its results.
func (r *SQLiteRunRepository) GetRun(ctx context.Context, id string) (*Run, error) {
	row := r.db.QueryRowContext(ctx, `SELECT `+runColumns+` FROM runs WHERE id = ?`, id)
	run, err := scanRun(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("%w: %s", ErrRunNotFound, id)
		}
		return nil, fmt.Errorf("querying run: %w", err)
	}

	run.Results, err = r.ListResults(ctx, id)
	if err != nil {
		return nil, err
	}
	return run, nil
}

// RunExists reports whether a run with id is stored.
func (r *SQLiteRunRepository) RunExists(ctx context.Context, id string) (bool, error) {
	var n int
	if err := r.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM runs WHERE id = ?`, id).Scan(&n); err != nil {
		return false, fmt.Errorf("checking run: %w", err)
	}
	return n > 0, nil
}

// ListRuns returns the most recent runs without their results, newest first.
func (r *SQLiteRunRepository) ListRuns(ctx context.Context, limit int) ([]Run, error) {
	if limit <= 0 {
		limit = defaultListLimit
	}
	if limit > maxListLimit {
		limit = maxListLimit
	}

	rows, err := r.db.QueryContext(ctx,
		`SELECT `+runColumns+` FROM runs ORDER BY started_at DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("querying runs: %w", err)
	}
	defer rows.Close()

	var runs []Run
	for rows.Next() {
		run, scanErr := scanRun(rows)
		if scanErr != nil {
			return nil, fmt.Errorf("scanning run: %w", scanErr)
		}
		runs = append(runs, *run)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating runs: %w", err)
	}
	return runs, nil
}

// ListResults returns a run's results in execution order.
func (r *SQLiteRunRepository) ListResults(ctx context.Context, runID string) ([]ResultRecord, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT position, kind, description, params, success, value,
			error_class, error, duration_ms, executed_at
		FROM action_results
		WHERE run_id = ?
		ORDER BY position`, runID)
	if err != nil {
		return nil, fmt.Errorf("querying results: %w", err)
	}
	defer rows.Close()

	var results []ResultRecord
	for rows.Next() {
		rec := ResultRecord{RunID: runID}
		var kind, params, errorClass, executedAt string
		var success int
		var value sql.NullString

		if err := rows.Scan(
			&rec.Index,
			&kind,
			&rec.Description,
			&params,
			&success,
			&value,
			&errorClass,
			&rec.Error,
			&rec.DurationMS,
			&executedAt,
		); err != nil {
			return nil, fmt.Errorf("scanning result: %w", err)
		}

		rec.Kind = Kind(kind)
		rec.Success = success != 0
		rec.ErrorClass = ErrorClass(errorClass)
		if t, parseErr := time.Parse(time.RFC3339Nano, executedAt); parseErr == nil {
			rec.ExecutedAt = t
		}
		if err := json.Unmarshal([]byte(params), &rec.Action); err != nil {
			return nil, fmt.Errorf("unmarshalling action %d: %w", rec.Index, err)
		}
		if value.Valid {
			rec.Value = json.RawMessage(value.String)
		}
		results = append(results, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating results: %w", err)
	}
	return results, nil
}

// DeleteRunsBefore removes runs started before cutoff, with their results.
func (r *SQLiteRunRepository) DeleteRunsBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	res, err := r.db.ExecContext(ctx, `DELETE FROM runs WHERE started_at < ?`,
		cutoff.UTC().Format(timeFormat))
	if err != nil {
		return 0, fmt.Errorf("deleting runs: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("checking rows affected: %w", err)
	}
	return n, nil
}

// ─── Row Scanning Helpers ───────────────────────────────────────────────────

// rowScanner is satisfied by both *sql.Row and *sql.Rows.
type rowScanner interface {
	Scan(dest ...any) error
}

func scanRun(scanner rowScanner) (*Run, error) {
	var run Run
	var status, startedAt string
	var stopOnFailure int
	var completedAt, runErr sql.NullString
	var durationMS sql.NullInt64

	err := scanner.Scan(
		&run.ID,
		&run.Source,
		&status,
		&stopOnFailure,
		&run.ActionsTotal,
		&run.Succeeded,
		&run.Failed,
		&startedAt,
		&completedAt,
		&durationMS,
		&runErr,
	)
	if err != nil {
		return nil, err
	}

	run.Status = RunStatus(status)
	run.StopOnFailure = stopOnFailure != 0
	if t, parseErr := time.Parse(time.RFC3339Nano, startedAt); parseErr == nil {
		run.StartedAt = t
	}
	if completedAt.Valid {
		if t, parseErr := time.Parse(time.RFC3339Nano, completedAt.String); parseErr == nil {
			run.CompletedAt = &t
		}
	}
	if durationMS.Valid {
		run.DurationMS = durationMS.Int64
	}
	if runErr.Valid {
		run.Error = runErr.String
	}
	return &run, nil
}

// ─── SQL Helpers ────────────────────────────────────────────────────────────

// isUniqueConstraintError checks if an error is a SQLite primary key or
// unique constraint violation.
func isUniqueConstraintError(err error) bool {
	if err == nil {
		return false
	}
	msg := err.Error()
	return strings.Contains(msg, "UNIQUE constraint failed") ||
		strings.Contains(msg, "PRIMARY KEY constraint failed")
}

func nullableString(s string) sql.NullString {
	if s == "" {
		return sql.NullString{}
	}
	return sql.NullString{String: s, Valid: true}
}

func nullableTime(t *time.Time) sql.NullString {
	if t == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: t.UTC().Format(timeFormat), Valid: true}
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

func marshalValue(v any) (sql.NullString, error) {
	if v == nil {
		return sql.NullString{}, nil
	}
	data, err := json.Marshal(v)
	if err != nil {
		return sql.NullString{}, err
	}
	return sql.NullString{String: string(data), Valid: true}, nil
}
