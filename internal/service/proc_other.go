//go:build !unix

package service

import "os/exec"

func setProcessGroup(_ *exec.Cmd) {}

// terminate kills the process, graceful termination signals are not
// available on this platform.
func terminate(cmd *exec.Cmd) error {
	return cmd.Process.Kill()
}

func kill(cmd *exec.Cmd) error {
	return cmd.Process.Kill()
}
