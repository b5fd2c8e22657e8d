//go:build windows

package process

import (
	"os"
)

// Windows has no SIGTERM for console-less children; both phases terminate.
func terminateGroup(pid int) error { return killPid(pid) }

func killGroup(pid int) error { return killPid(pid) }

func killPid(pid int) error {
	if pid <= 0 {
		return nil
	}
	p, err := os.FindProcess(pid)
	if err != nil {
		return nil
	}
	if err := p.Kill(); err != nil && err != os.ErrProcessDone {
		return err
	}
	return nil
}

func signalOf(*os.ProcessState) (string, bool) { return "", false }
