package store

import (
	"context"
	"database/sql"
	"errors"
	"log/slog"

	"github.com/conceptmaps/trainsvc/internal/model"
)

// Recorder writes run events to the history. Failures are logged, the
// history never fails a training.
type Recorder struct {
	db *sql.DB
}

func NewRecorder(db *sql.DB) Recorder {
	return Recorder{db: db}
}

func (r Recorder) RunStarted(ctx context.Context, run model.Run) {
	if err := Start(ctx, r.db, run); err != nil {
		slog.ErrorContext(ctx, "recording run start", "error", err)
	}
}

func (r Recorder) RunFinished(ctx context.Context, run model.Run) {
	err := Finish(ctx, r.db, run)
	if errors.Is(err, ErrNotFound) {
		// the start was not recorded
		if err = Start(ctx, r.db, run); err == nil {
			err = Finish(ctx, r.db, run)
		}
	}
	if err != nil {
		slog.ErrorContext(ctx, "recording run outcome", "error", err)
	}
}
