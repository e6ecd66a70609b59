//go:build unix

package prover

import (
	"os/exec"
	"syscall"
)

// setProcessGroup starts the prover in its own process group, and makes
// cancellation kill the whole group so helpers it spawned don't linger.
func setProcessGroup(cmd *exec.Cmd) {
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}
	cmd.Cancel = func() error {
		return syscall.Kill(-cmd.Process.Pid, syscall.SIGKILL)
	}
}
