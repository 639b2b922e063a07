// Package store keeps the history of training runs in SQLite.
package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"

	"github.com/conceptmaps/trainsvc/internal/model"
)

var (
	ErrNotFound        = errors.New("not found")
	ErrAlreadyFinished = errors.New("already finished")
)

// InterruptedReason is recorded for runs which were in progress when the
// service stopped.
const InterruptedReason = "service stopped during training"

func InitDB(ctx context.Context, dbPath string) (*sql.DB, error) {
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, err
	}
	// sqlite serializes writers anyway, a single connection avoids SQLITE_BUSY
	db.SetMaxOpenConns(1)

	_, err = db.ExecContext(ctx,
		`CREATE TABLE IF NOT EXISTS runs (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			uuid TEXT NOT NULL UNIQUE,
			job_type TEXT NOT NULL,
			target TEXT NOT NULL,
			source TEXT NOT NULL DEFAULT '',
			in_progress BOOLEAN NOT NULL,
			state TEXT NOT NULL,
			exit_code INTEGER NOT NULL DEFAULT -1,
			reason TEXT DEFAULT NULL,
			started TEXT NOT NULL,
			stopped TEXT DEFAULT NULL
		)`,
	)
	if err != nil {
		_ = db.Close()
		return nil, err
	}
	_, err = db.ExecContext(ctx,
		`CREATE INDEX IF NOT EXISTS runs_job_type ON runs (job_type, id)`,
	)
	if err != nil {
		_ = db.Close()
		return nil, err
	}
	return db, nil
}

func rollback(ctx context.Context, tx *sql.Tx, id string) {
	if err := tx.Rollback(); err != nil && !errors.Is(err, sql.ErrTxDone) {
		slog.ErrorContext(ctx, "Calling `tx.Rollback()` failed.", slog.String("uuid", id))
	}
}

// Start persists that a run is in progress. If the run is already known
// and still in progress, no error is returned, if it has already finished
// ErrAlreadyFinished is returned.
func Start(ctx context.Context, db *sql.DB, run model.Run) error {
	id := run.ID.String()
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer rollback(ctx, tx, id)

	var inProgress bool
	row := tx.QueryRowContext(ctx,
		`SELECT in_progress FROM runs WHERE uuid=?`, id,
	)
	err = row.Scan(&inProgress)
	switch {
	case err == nil && inProgress:
		return nil
	case err == nil && !inProgress:
		return ErrAlreadyFinished
	case err != nil && !errors.Is(err, sql.ErrNoRows):
		return fmt.Errorf("executing sql query failed: %w", err)
	}

	_, err = tx.ExecContext(ctx,
		`INSERT INTO runs (uuid, job_type, target, source, in_progress, state, exit_code, started)
		 VALUES (?,?,?,?,?,?,?,?);`,
		id, run.JobType, run.Target, run.Source, true, run.State, run.ExitCode, formatTime(run.Started),
	)
	if err != nil {
		return fmt.Errorf("executing sql insert failed: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("committing transaction failed: %w", err)
	}
	return nil
}

// Finish stores the outcome of a run. ErrNotFound is returned for an unknown
// run, ErrAlreadyFinished if the outcome was stored before.
func Finish(ctx context.Context, db *sql.DB, run model.Run) error {
	id := run.ID.String()
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer rollback(ctx, tx, id)

	var inProgress bool
	row := tx.QueryRowContext(ctx,
		`SELECT in_progress FROM runs WHERE uuid=?`, id,
	)
	err = row.Scan(&inProgress)
	switch {
	case err == nil && !inProgress:
		return ErrAlreadyFinished
	case errors.Is(err, sql.ErrNoRows):
		return ErrNotFound
	case err != nil:
		return fmt.Errorf("executing sql query failed: %w", err)
	}

	_, err = tx.ExecContext(ctx,
		`UPDATE runs
		 SET
			in_progress = false,
			state = ?,
			exit_code = ?,
			reason = ?,
			stopped = ?
		WHERE uuid = ?;
		`, run.State, run.ExitCode, nullString(run.Reason), formatTime(run.Stopped), id,
	)
	if err != nil {
		return fmt.Errorf("executing sql update failed: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("committing transaction failed: %w", err)
	}
	return nil
}

// Interrupt marks all runs still in progress as failed. It is called on
// startup, a run can't survive the service which supervised it.
func Interrupt(ctx context.Context, db *sql.DB, now time.Time) (int64, error) {
	result, err := db.ExecContext(ctx,
		`UPDATE runs
		 SET
			in_progress = false,
			state = ?,
			reason = ?,
			stopped = ?
		WHERE in_progress = true;
		`, model.StateFailure, InterruptedReason, formatTime(now),
	)
	if err != nil {
		return 0, fmt.Errorf("executing sql update failed: %w", err)
	}
	ra, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("fetching affected rows failed: %w", err)
	}
	return ra, nil
}

// Get returns the run identified by id or ErrNotFound.
func Get(ctx context.Context, db *sql.DB, id uuid.UUID) (model.Run, error) {
	row := db.QueryRowContext(ctx,
		`SELECT `+columns+` FROM runs WHERE uuid=?`, id.String(),
	)
	run, err := scanRun(row)
	switch {
	case errors.Is(err, sql.ErrNoRows):
		return model.Run{}, ErrNotFound
	case err != nil:
		return model.Run{}, fmt.Errorf("executing sql query failed: %w", err)
	}
	return run, nil
}

// List returns up to limit runs, newest first. An empty jobType lists the
// runs of all job types.
func List(ctx context.Context, db *sql.DB, jobType string, limit int) ([]model.Run, error) {
	if limit <= 0 {
		limit = -1
	}
	rows, err := db.QueryContext(ctx,
		`SELECT `+columns+` FROM runs
		 WHERE ? = '' OR job_type = ?
		 ORDER BY id DESC
		 LIMIT ?`, jobType, jobType, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("executing sql query failed: %w", err)
	}
	defer rows.Close()

	runs := []model.Run{}
	for rows.Next() {
		run, err := scanRun(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning row failed: %w", err)
		}
		runs = append(runs, run)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating rows failed: %w", err)
	}
	return runs, nil
}

const columns = `uuid, job_type, target, source, state, exit_code, reason, started, stopped`

type scanner interface {
	Scan(dest ...any) error
}

func scanRun(s scanner) (model.Run, error) {
	var (
		run     model.Run
		id      string
		reason  sql.NullString
		started string
		stopped sql.NullString
	)
	err := s.Scan(&id, &run.JobType, &run.Target, &run.Source, &run.State, &run.ExitCode, &reason, &started, &stopped)
	if err != nil {
		return model.Run{}, err
	}
	if run.ID, err = uuid.Parse(id); err != nil {
		return model.Run{}, fmt.Errorf("parsing uuid: %w", err)
	}
	run.Reason = reason.String
	if run.Started, err = time.Parse(time.RFC3339Nano, started); err != nil {
		return model.Run{}, fmt.Errorf("parsing started: %w", err)
	}
	if stopped.Valid {
		if run.Stopped, err = time.Parse(time.RFC3339Nano, stopped.String); err != nil {
			return model.Run{}, fmt.Errorf("parsing stopped: %w", err)
		}
	}
	return run, nil
}

func formatTime(t time.Time) string {
	return t.UTC().Format(time.RFC3339Nano)
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}
