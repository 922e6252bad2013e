//go:build !windows

package tasks

import (
	"os/exec"
	"syscall"
)

// setProcAttributes puts the worker in its own process group so kill signals
// reach the whole browser tree, not just the worker itself.
func setProcAttributes(cmd *exec.Cmd) {
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}
}

// requestStop sends SIGTERM to the worker's process group
func requestStop(cmd *exec.Cmd) {
	if cmd.Process == nil {
		return
	}
	syscall.Kill(-cmd.Process.Pid, syscall.SIGTERM)
}

// forceKill sends SIGKILL to the worker's process group
func forceKill(cmd *exec.Cmd) {
	if cmd.Process == nil {
		return
	}
	syscall.Kill(-cmd.Process.Pid, syscall.SIGKILL)
}
