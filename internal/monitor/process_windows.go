//go:build windows

package monitor

import (
	"os"
	"os/exec"
	"syscall"
)

// Windows has no POSIX process groups; the hub is started as a plain child.
func sysProcAttr() *syscall.SysProcAttr {
	return nil
}

func terminateGroup(pid int) error {
	return killGroup(pid)
}

func killGroup(pid int) error {
	p, err := os.FindProcess(pid)
	if err != nil {
		return err
	}
	return p.Kill()
}

// Alive reports whether a process with pid exists
func Alive(pid int) bool {
	p, err := os.FindProcess(pid)
	if err != nil {
		return false
	}
	_ = p.Release()
	return true
}

func signalOf(*exec.ExitError) string {
	return ""
}
