package service

import (
	"bufio"
	"bytes"
	"cmp"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/conceptmaps/trainsvc/internal/log"
	"github.com/conceptmaps/trainsvc/internal/model"
)

// ErrClosed is returned by Start after Close was called.
var ErrClosed = errors.New("job is closed")

const (
	maxLineSize = 1 << 20
	// applies to a clean command configured without a timeout
	defaultCleanTimeout = 10 * time.Minute
)

// JobConfig holds everything a Job needs besides its type.
type JobConfig struct {
	Workspace string
	Command   model.Command
	Clean     *model.Command
	Launcher  Launcher
	Observer  Observer
	// Grace is how long the output is drained after the trainer exited.
	Grace time.Duration
	// StatusWait bounds how long Status waits for an exited run to settle.
	StatusWait time.Duration
}

// Job supervises at most one trainer run of a single job type. Phase is
// kept in an atomic so the check and claim of Start is a single
// compare-and-swap, all other transitions happen under mx.
type Job struct {
	typ        JobType
	workspace  string
	command    model.Command
	clean      *model.Command
	launcher   Launcher
	observer   Observer
	grace      time.Duration
	statusWait time.Duration

	phase atomic.Int32

	mx          sync.Mutex
	current     *run // set while Starting or Running
	terminating *run // canceled, but its trainer has not exited yet
	last        *run // the run Status reports the output of
	closed      bool
	wg          sync.WaitGroup

	// closing is canceled by Close and stops a running clean command
	closing     context.Context
	stopClosing context.CancelFunc
}

type run struct {
	info     model.Run
	proc     Process
	stdout   LineLog
	stderr   LineLog
	drains   sync.WaitGroup
	exited   chan struct{}
	done     chan struct{}
	canceled bool // guarded by Job.mx
	timedOut atomic.Bool
}

func NewJob(typ JobType, cfg JobConfig) *Job {
	observer := cfg.Observer
	if observer == nil {
		observer = Observers(nil)
	}
	launcher := cfg.Launcher
	if launcher == nil {
		launcher = NewRunner(0)
	}
	closing, stopClosing := context.WithCancel(context.Background())
	return &Job{
		typ:         typ,
		workspace:   cfg.Workspace,
		command:     cfg.Command,
		clean:       cfg.Clean,
		launcher:    launcher,
		observer:    observer,
		grace:       cfg.Grace,
		statusWait:  cfg.StatusWait,
		closing:     closing,
		stopClosing: stopClosing,
	}
}

func (j *Job) Name() string { return j.typ.Name }

// Dir is the working directory of the trainer.
func (j *Job) Dir() string { return filepath.Join(j.workspace, j.typ.Dir) }

func (j *Job) Phase() Phase { return Phase(j.phase.Load()) }

// Start converts data into the job directory and launches the trainer. It
// returns once the trainer has been spawned, the run is supervised in the
// background.
func (j *Job) Start(ctx context.Context, data []byte, target, source string) error {
	prev, ok := j.claim()
	if !ok {
		return ErrAlreadyActive
	}
	if err := j.awaitTerminating(ctx); err != nil {
		j.phase.Store(int32(prev))
		return err
	}

	r := &run{
		info: model.Run{
			ID:       uuid.New(),
			JobType:  j.typ.Name,
			Target:   target,
			Source:   source,
			State:    model.StatePreparing,
			ExitCode: -1,
			Started:  time.Now().UTC(),
		},
		exited: make(chan struct{}),
		done:   make(chan struct{}),
	}
	j.mx.Lock()
	j.last = r
	j.mx.Unlock()

	// the run outlives the request which started it
	ctx = log.ContextAttrs(context.WithoutCancel(ctx), slog.Group("run",
		slog.String("job_type", j.typ.Name),
		slog.String("id", r.info.ID.String()),
	))
	slog.InfoContext(ctx, "training requested", "target", target, "source", source)
	j.observer.RunStarted(ctx, r.info)

	vars := Vars{JobType: j.typ.Name, Target: target, Source: source, RunID: r.info.ID.String()}
	dir := j.Dir()
	if err := j.prepare(ctx, r, dir, data, vars); err != nil {
		r.stdout.Append("conversion failed: " + err.Error())
		slog.ErrorContext(ctx, "preparing training data", "error", err)
		j.fail(ctx, r, err.Error())
		return &ConversionError{JobType: j.typ.Name, Err: err}
	}

	cmd, err := NewCommand(j.command, dir, vars)
	if err != nil {
		r.stderr.Append("starting trainer failed: " + err.Error())
		j.fail(ctx, r, err.Error())
		return &SpawnError{Path: j.command.Path, Err: err}
	}

	j.mx.Lock()
	if j.closed {
		j.mx.Unlock()
		r.stderr.Append("starting trainer failed: " + ErrClosed.Error())
		j.fail(ctx, r, ErrClosed.Error())
		return ErrClosed
	}
	j.phase.Store(int32(PhaseStarting))
	proc, err := j.launcher.Launch(ctx, cmd)
	if err != nil {
		j.mx.Unlock()
		r.stderr.Append("starting trainer failed: " + err.Error())
		slog.ErrorContext(ctx, "starting trainer", "path", cmd.Path, "error", err)
		j.fail(ctx, r, err.Error())
		return &SpawnError{Path: cmd.Path, Err: err}
	}
	r.proc = proc
	r.info.State = model.StateTraining
	j.current = r
	j.phase.Store(int32(PhaseRunning))
	j.wg.Add(1)
	j.mx.Unlock()

	slog.InfoContext(ctx, "training started", "pid", proc.Pid(), "dir", dir)
	r.drains.Go(func() { drain(ctx, "stdout", proc.Stdout(), &r.stdout) })
	r.drains.Go(func() { drain(ctx, "stderr", proc.Stderr(), &r.stderr) })
	go j.monitor(ctx, r, cmd.Timeout)
	return nil
}

// claim moves an idle job to PhasePreparingData and returns the phase it
// left.
func (j *Job) claim() (Phase, bool) {
	for {
		cur := j.phase.Load()
		if Phase(cur).Active() {
			return Phase(cur), false
		}
		if j.phase.CompareAndSwap(cur, int32(PhasePreparingData)) {
			return Phase(cur), true
		}
	}
}

// awaitTerminating gives a canceled trainer which is still shutting down
// the grace period to exit. Two trainers never share the job directory, so
// a trainer outliving it makes Start fail with ErrAlreadyActive.
func (j *Job) awaitTerminating(ctx context.Context) error {
	j.mx.Lock()
	r := j.terminating
	j.mx.Unlock()
	if r == nil {
		return nil
	}

	select {
	case <-r.exited:
	default:
		t := time.NewTimer(j.grace)
		defer t.Stop()
		select {
		case <-r.exited:
		case <-t.C:
			return ErrAlreadyActive
		case <-ctx.Done():
			return ctx.Err()
		}
	}

	j.mx.Lock()
	if j.terminating == r {
		j.terminating = nil
	}
	j.mx.Unlock()
	return nil
}

func (j *Job) prepare(ctx context.Context, r *run, dir string, data []byte, vars Vars) error {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("creating job directory: %w", err)
	}
	if j.clean != nil {
		j.runClean(ctx, r, dir, vars)
	}
	convert := j.typ.Convert
	if convert == nil {
		convert = NotImplemented
	}
	return convert(ctx, data, dir)
}

// runClean runs the optional cleanup of the previous run in its own process
// group. Its failure is recorded, but does not prevent the training. The
// clean command never goes through the launcher, the launcher only ever
// sees trainers of accepted training data.
func (j *Job) runClean(ctx context.Context, r *run, dir string, vars Vars) {
	proto, err := NewCommand(*j.clean, dir, vars)
	if err != nil {
		r.stdout.Append("clean failed: " + err.Error())
		return
	}
	ctx, cancel := context.WithTimeout(ctx, cmp.Or(proto.Timeout, defaultCleanTimeout))
	defer cancel()
	stop := context.AfterFunc(j.closing, cancel)
	defer stop()

	cmd := exec.CommandContext(ctx, proto.Path, proto.Args...)
	cmd.Dir = proto.Dir
	cmd.Env = proto.Env
	setProcessGroup(cmd)
	cmd.Cancel = func() error { return kill(cmd) }
	// a grandchild keeping the output open must not block the run
	cmd.WaitDelay = time.Second
	out, err := cmd.CombinedOutput()
	for line := range strings.Lines(string(out)) {
		r.stdout.Append(strings.TrimRight(line, "\r\n"))
	}
	if err != nil {
		r.stdout.Append("clean failed: " + err.Error())
		slog.WarnContext(ctx, "clean command", "path", proto.Path, "error", err)
	}
}

// fail settles a run which never reached the trainer.
func (j *Job) fail(ctx context.Context, r *run, reason string) {
	j.mx.Lock()
	r.info.State = model.StateFailure
	r.info.Reason = reason
	r.info.Stopped = time.Now().UTC()
	info := r.info
	j.phase.Store(int32(PhaseFailed))
	j.mx.Unlock()
	close(r.exited)
	close(r.done)
	j.observer.RunFinished(ctx, info)
}

func (j *Job) monitor(ctx context.Context, r *run, timeout time.Duration) {
	defer j.wg.Done()

	if timeout > 0 {
		go func() {
			t := time.NewTimer(timeout)
			defer t.Stop()
			select {
			case <-r.exited:
			case <-t.C:
				r.timedOut.Store(true)
				slog.WarnContext(ctx, "training timed out, terminating", "timeout", timeout)
				if err := r.proc.Terminate(); err != nil {
					slog.ErrorContext(ctx, "terminating trainer", "error", err)
				}
			}
		}()
	}

	code, waitErr := r.proc.Wait()
	close(r.exited)
	j.awaitDrains(ctx, r)

	j.mx.Lock()
	r.info.ExitCode = code
	r.info.Stopped = time.Now().UTC()
	switch {
	case r.canceled:
		r.info.State = model.StateCanceled
		r.info.Reason = "canceled"
	case waitErr != nil:
		r.info.State = model.StateFailure
		r.info.Reason = "waiting for trainer: " + waitErr.Error()
	case r.timedOut.Load():
		r.info.State = model.StateFailure
		r.info.Reason = fmt.Sprintf("training timed out after %s", timeout)
	case code != 0:
		r.info.State = model.StateFailure
		r.info.Reason = fmt.Sprintf("trainer exited with code %d", code)
	default:
		r.info.State = model.StateSuccess
	}
	if r.info.State == model.StateFailure {
		r.stderr.Append(r.info.Reason)
	}
	if j.terminating == r {
		j.terminating = nil
	}
	current := j.current == r
	if current {
		j.current = nil
		if r.info.State == model.StateSuccess {
			j.phase.Store(int32(PhaseSucceeded))
		} else {
			j.phase.Store(int32(PhaseFailed))
		}
	}
	info := r.info
	j.mx.Unlock()
	close(r.done)

	slog.InfoContext(ctx, "training finished", "state", info.State, "exit_code", code, "duration", info.Duration())
	j.observer.RunFinished(ctx, info)

	if current && info.State == model.StateSuccess && j.typ.OnSuccess != nil {
		if err := j.typ.OnSuccess(ctx, info); err != nil {
			r.stdout.Append("post training action failed: " + err.Error())
			slog.ErrorContext(ctx, "post training action", "error", err)
		}
	}
}

// awaitDrains waits for both drains, output still open after the grace
// period (a grandchild holding the pipe) is closed.
func (j *Job) awaitDrains(ctx context.Context, r *run) {
	drained := make(chan struct{})
	go func() {
		r.drains.Wait()
		close(drained)
	}()
	t := time.NewTimer(j.grace)
	defer t.Stop()
	select {
	case <-drained:
	case <-t.C:
		slog.WarnContext(ctx, "trainer output still open after exit, closing", "grace", j.grace)
		_ = r.proc.Stdout().Close()
		_ = r.proc.Stderr().Close()
		<-drained
	}
}

func drain(ctx context.Context, stream string, rc io.ReadCloser, lines *LineLog) {
	defer rc.Close()
	scanner := bufio.NewScanner(rc)
	scanner.Buffer(make([]byte, 0, 64*1024), maxLineSize)
	scanner.Split(splitLines(maxLineSize))
	for scanner.Scan() {
		lines.Append(scanner.Text())
	}
	err := scanner.Err()
	if err == nil || errors.Is(err, os.ErrClosed) || errors.Is(err, io.ErrClosedPipe) {
		return
	}
	lines.Append(fmt.Sprintf("reading %s failed: %v", stream, err))
	slog.ErrorContext(ctx, "reading trainer output", "stream", stream, "error", err)
	// keep the pipe empty, a blocked writer never exits
	_, _ = io.Copy(io.Discard, rc)
}

const truncatedMark = " [truncated]"

// splitLines is scanLines for a scanner whose buffer holds size bytes. A
// longer line is cut at size and its remainder up to the next line break is
// dropped, the lines after it are read as usual.
func splitLines(size int) bufio.SplitFunc {
	var skipping bool
	return func(data []byte, atEOF bool) (int, []byte, error) {
		if skipping {
			i := bytes.IndexAny(data, "\r\n")
			if i < 0 {
				return len(data), nil, nil
			}
			advance, _, err := scanLines(data[i:], atEOF)
			if err != nil || advance == 0 {
				return i, nil, err
			}
			skipping = false
			return i + advance, nil, nil
		}
		advance, token, err := scanLines(data, atEOF)
		if advance == 0 && token == nil && err == nil && len(data) >= size {
			skipping = true
			line := make([]byte, 0, size+len(truncatedMark))
			line = append(line, data[:size]...)
			return size, append(line, truncatedMark...), nil
		}
		return advance, token, err
	}
}

// scanLines splits on \n, \r\n and a bare \r, progress bars of the trainer
// rewrite their line using \r.
func scanLines(data []byte, atEOF bool) (int, []byte, error) {
	if atEOF && len(data) == 0 {
		return 0, nil, nil
	}
	if i := bytes.IndexAny(data, "\r\n"); i >= 0 {
		if data[i] == '\n' {
			return i + 1, data[:i], nil
		}
		if i+1 < len(data) {
			if data[i+1] == '\n' {
				return i + 2, data[:i], nil
			}
			return i + 1, data[:i], nil
		}
		if atEOF {
			return i + 1, data[:i], nil
		}
		return 0, nil, nil
	}
	if atEOF {
		return len(data), data, nil
	}
	return 0, nil, nil
}

// Cancel terminates the active run and returns the job to PhaseInactive
// without waiting for the trainer to exit. Until it exits, Start waits for
// it or reports ErrAlreadyActive.
func (j *Job) Cancel(ctx context.Context) error {
	j.mx.Lock()
	r := j.current
	if r == nil {
		j.mx.Unlock()
		return ErrNotActive
	}
	j.current = nil
	j.terminating = r
	r.canceled = true
	r.stdout.Append("training canceled: termination requested")
	j.phase.Store(int32(PhaseInactive))
	j.mx.Unlock()

	slog.InfoContext(ctx, "training canceled", "job_type", j.typ.Name, "run_id", r.info.ID)
	if err := r.proc.Terminate(); err != nil {
		r.stderr.Append("terminating trainer failed: " + err.Error())
		slog.ErrorContext(ctx, "terminating trainer", "job_type", j.typ.Name, "error", err)
	}
	return nil
}

// Status returns a snapshot of the job. A run which already exited is
// given StatusWait to settle, so a query right after the exit does not
// report a stale training state.
func (j *Job) Status(_ context.Context) model.TrainingStatus {
	j.mx.Lock()
	r := j.current
	j.mx.Unlock()
	if r != nil {
		select {
		case <-r.exited:
			t := time.NewTimer(j.statusWait)
			select {
			case <-r.done:
			case <-t.C:
			}
			t.Stop()
		default:
		}
	}

	j.mx.Lock()
	defer j.mx.Unlock()
	phase := j.Phase()
	status := model.TrainingStatus{
		IsActive: phase.Active(),
		State:    phase.State(),
	}
	if j.last != nil {
		status.Output = j.last.stdout.String()
		status.Error = j.last.stderr.String()
		status.RunID = j.last.info.ID.String()
	}
	return status
}

// Close cancels an active run and waits for all supervising goroutines.
func (j *Job) Close(ctx context.Context) error {
	j.mx.Lock()
	j.closed = true
	j.mx.Unlock()
	j.stopClosing()

	err := j.Cancel(ctx)
	if errors.Is(err, ErrNotActive) {
		err = nil
	}
	done := make(chan struct{})
	go func() {
		j.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}
