//go:build windows

package tasks

import (
	"os/exec"
)

// setProcAttributes is a no-op on Windows; there is no process group to set
// up and taskkill handles the tree.
func setProcAttributes(cmd *exec.Cmd) {}

// requestStop has no graceful signal on Windows, so it kills outright
func requestStop(cmd *exec.Cmd) {
	forceKill(cmd)
}

// forceKill terminates the worker process
func forceKill(cmd *exec.Cmd) {
	if cmd.Process == nil {
		return
	}
	cmd.Process.Kill()
}
