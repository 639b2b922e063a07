package service

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"os"
	"os/exec"
	"time"
)

// Command is a fully resolved trainer invocation.
type Command struct {
	Path    string
	Args    []string
	Env     []string
	Dir     string
	Timeout time.Duration
}

// Process is a handle of a launched trainer. Stdout and Stderr must be read
// until EOF, Wait must be called exactly once.
type Process interface {
	Pid() int
	Stdout() io.ReadCloser
	Stderr() io.ReadCloser
	// Wait blocks until the process exits and returns its exit code, -1 if
	// it was killed by a signal. The error is set only if waiting failed.
	Wait() (int, error)
	// Terminate asks the process to stop, it is killed if it does not exit
	// in time.
	Terminate() error
}

// Launcher starts trainer processes, tests inject their own.
type Launcher interface {
	Launch(ctx context.Context, cmd Command) (Process, error)
}

// Runner is a thin wrapper around os/exec:
//   - the process runs in its own process group, so termination reaches
//     the tools it spawns
//   - stdout and stderr are connected to pipes owned by the caller
//   - termination is SIGTERM followed by SIGKILL after KillAfter
type Runner struct {
	KillAfter time.Duration
}

func NewRunner(killAfter time.Duration) *Runner {
	return &Runner{KillAfter: killAfter}
}

// Launch starts the process and returns immediately.
func (r *Runner) Launch(ctx context.Context, proto Command) (Process, error) {
	cmd := exec.Command(proto.Path, proto.Args...)
	cmd.Dir = proto.Dir
	cmd.Env = proto.Env
	setProcessGroup(cmd)

	stdoutR, stdoutW, err := os.Pipe()
	if err != nil {
		return nil, err
	}
	stderrR, stderrW, err := os.Pipe()
	if err != nil {
		closeAll(stdoutR, stdoutW)
		return nil, err
	}
	// *os.File outputs are handed to the child directly, exec does not
	// start copying goroutines for them.
	cmd.Stdout = stdoutW
	cmd.Stderr = stderrW

	if err := cmd.Start(); err != nil {
		closeAll(stdoutR, stdoutW, stderrR, stderrW)
		return nil, err
	}
	// the child holds its own copies now
	closeAll(stdoutW, stderrW)

	slog.DebugContext(ctx, "trainer started", "path", proto.Path, "args", proto.Args, "dir", proto.Dir, "pid", cmd.Process.Pid)
	return &execProcess{
		cmd:       cmd,
		stdout:    stdoutR,
		stderr:    stderrR,
		exited:    make(chan struct{}),
		killAfter: r.KillAfter,
	}, nil
}

type execProcess struct {
	cmd       *exec.Cmd
	stdout    *os.File
	stderr    *os.File
	exited    chan struct{}
	killAfter time.Duration
}

func (p *execProcess) Pid() int              { return p.cmd.Process.Pid }
func (p *execProcess) Stdout() io.ReadCloser { return p.stdout }
func (p *execProcess) Stderr() io.ReadCloser { return p.stderr }

func (p *execProcess) Wait() (int, error) {
	err := p.cmd.Wait()
	close(p.exited)
	if err == nil {
		return 0, nil
	}
	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		return exitErr.ExitCode(), nil
	}
	return -1, err
}

func (p *execProcess) Terminate() error {
	select {
	case <-p.exited:
		return nil
	default:
	}
	err := terminate(p.cmd)
	if errors.Is(err, os.ErrProcessDone) {
		err = nil
	}
	if p.killAfter > 0 {
		go func() {
			t := time.NewTimer(p.killAfter)
			defer t.Stop()
			select {
			case <-p.exited:
			case <-t.C:
				_ = kill(p.cmd)
			}
		}()
	}
	return err
}

func closeAll(files ...*os.File) {
	for _, f := range files {
		_ = f.Close()
	}
}
