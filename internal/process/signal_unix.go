//go:build !windows

package process

import (
	"errors"
	"os"
	"syscall"

	"golang.org/x/sys/unix"
)

// terminateGroup asks the whole process group to exit.
func terminateGroup(pid int) error { return signalGroup(pid, unix.SIGTERM) }

// killGroup forcibly kills the whole process group.
func killGroup(pid int) error { return signalGroup(pid, unix.SIGKILL) }

func signalGroup(pid int, sig unix.Signal) error {
	if pid <= 0 {
		return nil
	}
	err := unix.Kill(-pid, sig)
	if errors.Is(err, unix.ESRCH) {
		// group leader gone; try the pid alone in case it changed group
		err = unix.Kill(pid, sig)
		if errors.Is(err, unix.ESRCH) {
			return nil
		}
	}
	return err
}

// signalOf reports the terminating signal name (e.g. "SIGTERM") when the
// process died from a signal.
func signalOf(ps *os.ProcessState) (string, bool) {
	if ps == nil {
		return "", false
	}
	ws, ok := ps.Sys().(syscall.WaitStatus)
	if !ok || !ws.Signaled() {
		return "", false
	}
	sig := unix.Signal(ws.Signal())
	if name := unix.SignalName(sig); name != "" {
		return name, true
	}
	return sig.String(), true
}
