//go:build windows

package subprocess

import "os/exec"

func setProcessGroup(*exec.Cmd) {}

// Windows has no SIGTERM; both steps kill the process.
func terminate(cmd *exec.Cmd) error {
	return cmd.Process.Kill()
}

func kill(cmd *exec.Cmd) error {
	return cmd.Process.Kill()
}
