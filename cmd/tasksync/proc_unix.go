//go:build !windows

package main

import (
	"os/exec"
	"syscall"
)

func configureRelayProc(cmd *exec.Cmd) {
	cmd.SysProcAttr = &syscall.SysProcAttr{Setsid: true}
}
