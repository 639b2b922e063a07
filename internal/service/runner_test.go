package service_test

import (
	"io"
	"os/exec"
	"testing"
	"time"

	"github.com/conceptmaps/trainsvc/internal/service"
	"github.com/stretchr/testify/require"
)

func TestRunner(t *testing.T) {
	t.Parallel()
	sh, err := exec.LookPath("sh")
	if err != nil {
		t.Skipf("skipped, binary sh not available: %v", err)
	}

	runner := service.NewRunner(time.Second)
	cmd := service.Command{
		Path: sh,
		Args: []string{"-c", "echo stdout; echo stderr 1>&2; exit 7"},
		Env:  []string{"LC_ALL=C"},
	}

	proc, err := runner.Launch(t.Context(), cmd)
	require.NoError(t, err)
	require.NotZero(t, proc.Pid())

	stdout, err := io.ReadAll(proc.Stdout())
	require.NoError(t, err)
	stderr, err := io.ReadAll(proc.Stderr())
	require.NoError(t, err)
	code, err := proc.Wait()
	require.NoError(t, err)

	require.Equal(t, "stdout\n", string(stdout))
	require.Equal(t, "stderr\n", string(stderr))
	require.Equal(t, 7, code)
	require.NoError(t, proc.Terminate())
	_ = proc.Stdout().Close()
	_ = proc.Stderr().Close()
}

func TestRunner_Terminate(t *testing.T) {
	t.Parallel()
	sh, err := exec.LookPath("sh")
	if err != nil {
		t.Skipf("skipped, binary sh not available: %v", err)
	}

	runner := service.NewRunner(time.Second)
	proc, err := runner.Launch(t.Context(), service.Command{
		Path: sh,
		Args: []string{"-c", "sleep 30"},
	})
	require.NoError(t, err)

	start := time.Now()
	require.NoError(t, proc.Terminate())
	code, err := proc.Wait()
	require.NoError(t, err)
	require.Equal(t, -1, code)
	require.Less(t, time.Since(start), 5*time.Second)

	_, err = io.ReadAll(proc.Stdout())
	require.NoError(t, err)
	_ = proc.Stdout().Close()
	_ = proc.Stderr().Close()
}

func TestRunner_ExecError(t *testing.T) {
	t.Parallel()
	runner := service.NewRunner(0)
	_, err := runner.Launch(t.Context(), service.Command{Path: "does not exist"})
	require.Error(t, err)
	var execErr *exec.Error
	require.ErrorAs(t, err, &execErr)
	require.Equal(t, "does not exist", execErr.Name)
}
