package store_test

import (
	"context"
	"database/sql"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"github.com/conceptmaps/trainsvc/internal/model"
	"github.com/conceptmaps/trainsvc/internal/store"
)

func initDB(t *testing.T) *sql.DB {
	t.Helper()
	db, err := store.InitDB(t.Context(), filepath.Join(t.TempDir(), "runs.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	return db
}

func newRun(jobType string, started time.Time) model.Run {
	return model.Run{
		ID:       uuid.New(),
		JobType:  jobType,
		Target:   "modelA",
		Source:   "base",
		State:    model.StatePreparing,
		ExitCode: -1,
		Started:  started,
	}
}

func TestStore(t *testing.T) {
	t.Parallel()
	db := initDB(t)
	ctx := t.Context()
	started := time.Date(2026, 10, 19, 12, 0, 0, 0, time.UTC)
	run := newRun("relations", started)

	_, err := store.Get(ctx, db, run.ID)
	require.ErrorIs(t, err, store.ErrNotFound)
	require.ErrorIs(t, store.Finish(ctx, db, run), store.ErrNotFound)

	require.NoError(t, store.Start(ctx, db, run))
	// still in progress, idempotent
	require.NoError(t, store.Start(ctx, db, run))

	got, err := store.Get(ctx, db, run.ID)
	require.NoError(t, err)
	require.Equal(t, run, got)

	run.State = model.StateSuccess
	run.ExitCode = 0
	run.Stopped = started.Add(time.Minute)
	require.NoError(t, store.Finish(ctx, db, run))
	require.ErrorIs(t, store.Finish(ctx, db, run), store.ErrAlreadyFinished)
	require.ErrorIs(t, store.Start(ctx, db, run), store.ErrAlreadyFinished)

	got, err = store.Get(ctx, db, run.ID)
	require.NoError(t, err)
	require.Equal(t, run, got)
	require.Equal(t, time.Minute, got.Duration())
}

func TestList(t *testing.T) {
	t.Parallel()
	db := initDB(t)
	ctx := t.Context()
	started := time.Date(2026, 10, 19, 12, 0, 0, 0, time.UTC)

	var ids []uuid.UUID
	for i, jobType := range []string{"relations", "nrt", "relations", "relations"} {
		run := newRun(jobType, started.Add(time.Duration(i)*time.Minute))
		require.NoError(t, store.Start(ctx, db, run))
		ids = append(ids, run.ID)
	}

	runs, err := store.List(ctx, db, "", 0)
	require.NoError(t, err)
	require.Len(t, runs, 4)
	require.Equal(t, ids[3], runs[0].ID)

	runs, err = store.List(ctx, db, "relations", 2)
	require.NoError(t, err)
	require.Len(t, runs, 2)
	require.Equal(t, ids[3], runs[0].ID)
	require.Equal(t, ids[2], runs[1].ID)

	runs, err = store.List(ctx, db, "ner", 10)
	require.NoError(t, err)
	require.Empty(t, runs)
}

func TestInterrupt(t *testing.T) {
	t.Parallel()
	db := initDB(t)
	ctx := t.Context()
	now := time.Date(2026, 10, 19, 12, 0, 0, 0, time.UTC)

	running := newRun("relations", now.Add(-time.Hour))
	require.NoError(t, store.Start(ctx, db, running))
	done := newRun("nrt", now.Add(-time.Hour))
	require.NoError(t, store.Start(ctx, db, done))
	done.State = model.StateSuccess
	done.ExitCode = 0
	done.Stopped = now.Add(-time.Minute)
	require.NoError(t, store.Finish(ctx, db, done))

	n, err := store.Interrupt(ctx, db, now)
	require.NoError(t, err)
	require.Equal(t, int64(1), n)

	got, err := store.Get(ctx, db, running.ID)
	require.NoError(t, err)
	require.Equal(t, model.StateFailure, got.State)
	require.Equal(t, store.InterruptedReason, got.Reason)
	require.Equal(t, now, got.Stopped)

	got, err = store.Get(ctx, db, done.ID)
	require.NoError(t, err)
	require.Equal(t, done, got)
}

func TestRecorder(t *testing.T) {
	t.Parallel()
	db := initDB(t)
	ctx := context.Background()
	rec := store.NewRecorder(db)
	started := time.Date(2026, 10, 19, 12, 0, 0, 0, time.UTC)

	run := newRun("relations", started)
	rec.RunStarted(ctx, run)
	run.State = model.StateCanceled
	run.Reason = "canceled"
	run.Stopped = started.Add(time.Second)
	rec.RunFinished(ctx, run)

	got, err := store.Get(ctx, db, run.ID)
	require.NoError(t, err)
	require.Equal(t, run, got)

	// a finish without a recorded start is stored anyway
	orphan := newRun("nrt", started)
	orphan.State = model.StateFailure
	orphan.Stopped = started.Add(time.Second)
	rec.RunFinished(ctx, orphan)
	got, err = store.Get(ctx, db, orphan.ID)
	require.NoError(t, err)
	require.Equal(t, model.StateFailure, got.State)
}
