//go:build windows

package main

import "os/exec"

func configureRelayProc(cmd *exec.Cmd) {
	// Windows doesn't use Setsid.
}
