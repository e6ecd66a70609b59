//go:build !unix

package prover

import "os/exec"

// setProcessGroup is a no-op: exec.CommandContext already kills the process.
func setProcessGroup(*exec.Cmd) {}
