package service_test

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/conceptmaps/trainsvc/internal/model"
	"github.com/conceptmaps/trainsvc/internal/service"
)

// fakeProcess is driven by the test: lines are written to its pipes and
// exitWith makes Wait return.
type fakeProcess struct {
	stdoutR, stderrR *io.PipeReader
	stdoutW, stderrW *io.PipeWriter
	exit             chan int
	once             sync.Once
	terminated       atomic.Bool
}

func newFakeProcess() *fakeProcess {
	p := &fakeProcess{exit: make(chan int, 1)}
	p.stdoutR, p.stdoutW = io.Pipe()
	p.stderrR, p.stderrW = io.Pipe()
	return p
}

func (p *fakeProcess) Pid() int              { return 4242 }
func (p *fakeProcess) Stdout() io.ReadCloser { return p.stdoutR }
func (p *fakeProcess) Stderr() io.ReadCloser { return p.stderrR }
func (p *fakeProcess) Wait() (int, error)    { return <-p.exit, nil }

func (p *fakeProcess) Terminate() error {
	p.terminated.Store(true)
	p.exitWith(-1)
	return nil
}

func (p *fakeProcess) stdout(t *testing.T, lines ...string) {
	t.Helper()
	for _, line := range lines {
		_, err := fmt.Fprintln(p.stdoutW, line)
		require.NoError(t, err)
	}
}

func (p *fakeProcess) stderr(t *testing.T, lines ...string) {
	t.Helper()
	for _, line := range lines {
		_, err := fmt.Fprintln(p.stderrW, line)
		require.NoError(t, err)
	}
}

func (p *fakeProcess) exitWith(code int) {
	p.once.Do(func() {
		_ = p.stdoutW.Close()
		_ = p.stderrW.Close()
		p.exit <- code
	})
}

// exitOpen exits, but leaves the output open as a forked grandchild would.
func (p *fakeProcess) exitOpen(code int) {
	p.once.Do(func() {
		p.exit <- code
	})
}

type fakeLauncher struct {
	err   error
	calls atomic.Int32
	procs chan *fakeProcess

	mx   sync.Mutex
	cmds []service.Command
}

func newFakeLauncher() *fakeLauncher {
	return &fakeLauncher{procs: make(chan *fakeProcess, 16)}
}

func (l *fakeLauncher) Launch(_ context.Context, cmd service.Command) (service.Process, error) {
	l.calls.Add(1)
	if l.err != nil {
		return nil, l.err
	}
	l.mx.Lock()
	l.cmds = append(l.cmds, cmd)
	l.mx.Unlock()
	p := newFakeProcess()
	l.procs <- p
	return p, nil
}

func (l *fakeLauncher) next(t *testing.T) *fakeProcess {
	t.Helper()
	select {
	case p := <-l.procs:
		return p
	case <-time.After(5 * time.Second):
		t.Fatal("no process launched")
		return nil
	}
}

type recorder struct {
	mx       sync.Mutex
	started  []model.Run
	finished []model.Run
}

func (r *recorder) RunStarted(_ context.Context, run model.Run) {
	r.mx.Lock()
	defer r.mx.Unlock()
	r.started = append(r.started, run)
}

func (r *recorder) RunFinished(_ context.Context, run model.Run) {
	r.mx.Lock()
	defer r.mx.Unlock()
	r.finished = append(r.finished, run)
}

func (r *recorder) Finished() []model.Run {
	r.mx.Lock()
	defer r.mx.Unlock()
	return append([]model.Run(nil), r.finished...)
}

func (r *recorder) Started() []model.Run {
	r.mx.Lock()
	defer r.mx.Unlock()
	return append([]model.Run(nil), r.started...)
}

func writeData(_ context.Context, data []byte, dir string) error {
	return os.WriteFile(filepath.Join(dir, "data.json"), data, 0o644)
}

func relationsType() service.JobType {
	return service.JobType{
		Name:    "relations",
		Dir:     "relations",
		Convert: writeData,
	}
}

func newTestJob(t *testing.T, typ service.JobType, cfg service.JobConfig) *service.Job {
	t.Helper()
	if cfg.Workspace == "" {
		cfg.Workspace = t.TempDir()
	}
	if cfg.Command.Path == "" {
		cfg.Command = model.Command{Path: "trainer", Args: []string{"--target", "${target}"}}
	}
	if cfg.Grace == 0 {
		cfg.Grace = 100 * time.Millisecond
	}
	if cfg.StatusWait == 0 {
		cfg.StatusWait = 50 * time.Millisecond
	}
	job := service.NewJob(typ, cfg)
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		require.NoError(t, job.Close(ctx))
	})
	return job
}

func waitState(t *testing.T, job *service.Job, state string) model.TrainingStatus {
	t.Helper()
	var status model.TrainingStatus
	require.Eventually(t, func() bool {
		status = job.Status(t.Context())
		return status.State == state
	}, 5*time.Second, 10*time.Millisecond)
	return status
}
