package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"maps"
	"slices"
	"time"

	"github.com/conceptmaps/trainsvc/internal/model"
)

// Supervisor routes requests to the Job of the given type. The set of job
// types is fixed at construction.
type Supervisor struct {
	jobs map[string]*Job
}

func NewSupervisor(jobs ...*Job) (*Supervisor, error) {
	s := &Supervisor{jobs: make(map[string]*Job, len(jobs))}
	for _, j := range jobs {
		if _, ok := s.jobs[j.Name()]; ok {
			return nil, fmt.Errorf("duplicate job type %q", j.Name())
		}
		s.jobs[j.Name()] = j
	}
	return s, nil
}

// SupervisorFromConfig creates a job for every configured job type. A
// configured type with no entry in types gets a converter which refuses
// all training data.
func SupervisorFromConfig(ctx context.Context, cfg model.Config, types map[string]JobType, launcher Launcher, observer Observer) (*Supervisor, error) {
	grace, err := model.DurationOr(cfg.Service.Grace, 2*time.Second)
	if err != nil {
		return nil, fmt.Errorf("service.grace: %w", err)
	}
	statusWait, err := model.DurationOr(cfg.Service.StatusWait, 250*time.Millisecond)
	if err != nil {
		return nil, fmt.Errorf("service.status_wait: %w", err)
	}

	jobs := make([]*Job, 0, len(cfg.Jobs))
	for _, name := range slices.Sorted(maps.Keys(cfg.Jobs)) {
		jobCfg := cfg.Jobs[name]
		typ, ok := types[name]
		if !ok {
			slog.WarnContext(ctx, "no converter for job type", "job_type", name)
			typ = JobType{Convert: NotImplemented}
		}
		typ.Name = name
		typ.Dir = jobCfg.Dir

		jobs = append(jobs, NewJob(typ, JobConfig{
			Workspace:  cfg.Workspace,
			Command:    jobCfg.Command,
			Clean:      jobCfg.Clean,
			Launcher:   launcher,
			Observer:   observer,
			Grace:      grace,
			StatusWait: statusWait,
		}))
	}
	return NewSupervisor(jobs...)
}

func (s *Supervisor) Job(name string) (*Job, error) {
	j, ok := s.jobs[name]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownJobType, name)
	}
	return j, nil
}

// JobTypes returns the sorted names of all job types.
func (s *Supervisor) JobTypes() []string {
	return slices.Sorted(maps.Keys(s.jobs))
}

func (s *Supervisor) Start(ctx context.Context, jobType string, data []byte, target, source string) error {
	j, err := s.Job(jobType)
	if err != nil {
		return err
	}
	return j.Start(ctx, data, target, source)
}

func (s *Supervisor) Cancel(ctx context.Context, jobType string) error {
	j, err := s.Job(jobType)
	if err != nil {
		return err
	}
	return j.Cancel(ctx)
}

func (s *Supervisor) Status(ctx context.Context, jobType string) (model.TrainingStatus, error) {
	j, err := s.Job(jobType)
	if err != nil {
		return model.TrainingStatus{}, err
	}
	return j.Status(ctx), nil
}

// Close terminates all active runs and waits for them.
func (s *Supervisor) Close(ctx context.Context) error {
	var errs []error
	for _, name := range s.JobTypes() {
		if err := s.jobs[name].Close(ctx); err != nil {
			errs = append(errs, fmt.Errorf("closing %s: %w", name, err))
		}
	}
	return errors.Join(errs...)
}
