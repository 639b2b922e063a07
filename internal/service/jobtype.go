package service

import (
	"context"

	"github.com/conceptmaps/trainsvc/internal/model"
)

// ConvertFunc writes the training data in the format the trainer expects
// into dir. dir exists when the function is called.
type ConvertFunc func(ctx context.Context, data []byte, dir string) error

// SuccessFunc runs once after a run of the job type succeeded.
type SuccessFunc func(ctx context.Context, run model.Run) error

// JobType is the extension point of the supervisor: a name, the working
// directory of the trainer and the conversion of the training data. All
// job types share the Job state machine.
type JobType struct {
	Name      string
	Dir       string // relative to the workspace
	Convert   ConvertFunc
	OnSuccess SuccessFunc
}

// NotImplemented is the converter of job types which do not accept
// training data yet.
func NotImplemented(context.Context, []byte, string) error {
	return ErrNotImplemented
}

// Observer gets notified about run lifecycle, RunFinished is called exactly
// once for every RunStarted.
type Observer interface {
	RunStarted(ctx context.Context, run model.Run)
	RunFinished(ctx context.Context, run model.Run)
}

// Observers fans events out to all its members.
type Observers []Observer

func (o Observers) RunStarted(ctx context.Context, run model.Run) {
	for _, observer := range o {
		observer.RunStarted(ctx, run)
	}
}

func (o Observers) RunFinished(ctx context.Context, run model.Run) {
	for _, observer := range o {
		observer.RunFinished(ctx, run)
	}
}
