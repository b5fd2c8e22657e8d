package process

import (
	"fmt"
	"os"
	"slices"
	"time"
)

// ExitStatus is what the OS reported when a child ended.
type ExitStatus struct {
	// Code is the exit code, or -1 when the child was killed by a signal or
	// the status could not be read.
	Code int
	// Signal is the terminating signal name, empty for a normal exit.
	Signal string
	// Err is set when waiting failed for a reason other than a non-zero exit.
	Err error
	// StopRequested reports whether the supervisor had signalled the child
	// before it exited.
	StopRequested bool
	ExitedAt      time.Time
}

func exitStatusFrom(ps *os.ProcessState, waitErr error, stopRequested bool) ExitStatus {
	st := ExitStatus{Code: -1, StopRequested: stopRequested, ExitedAt: time.Now()}
	if ps == nil {
		st.Err = waitErr
		if st.Err == nil {
			st.Err = fmt.Errorf("no process state")
		}
		return st
	}
	if sig, ok := signalOf(ps); ok {
		st.Signal = sig
		return st
	}
	st.Code = ps.ExitCode()
	return st
}

// Outcome is the terminal state chosen for an exit.
type Outcome struct {
	Failed bool
	// Code is the exit code to record when !Failed.
	Code int
	// Reason is the error message to record when Failed.
	Reason string
}

// ExitPolicy decides whether an exit counts as a clean stop or a failure.
type ExitPolicy struct {
	// SuccessCodes are exit codes recorded as Stopped. Defaults to {0}.
	SuccessCodes []int
}

func DefaultExitPolicy() ExitPolicy { return ExitPolicy{SuccessCodes: []int{0}} }

func (p ExitPolicy) success(code int) bool {
	if len(p.SuccessCodes) == 0 {
		return code == 0
	}
	return slices.Contains(p.SuccessCodes, code)
}

// Classify maps an exit to Stopped or Failed:
//   - a success code is Stopped(code);
//   - during a requested stop any exit is Stopped, a signal death as code 0;
//   - otherwise a non-success code or a signal death is Failed.
func (p ExitPolicy) Classify(st ExitStatus) Outcome {
	if st.Signal == "" && st.Err == nil && st.Code >= 0 && p.success(st.Code) {
		return Outcome{Code: st.Code}
	}
	if st.StopRequested {
		if st.Signal != "" || st.Code < 0 {
			return Outcome{Code: 0}
		}
		return Outcome{Code: st.Code}
	}
	switch {
	case st.Signal != "":
		return Outcome{Failed: true, Reason: "terminated by signal " + st.Signal}
	case st.Err != nil:
		return Outcome{Failed: true, Reason: "wait failed: " + st.Err.Error()}
	default:
		return Outcome{Failed: true, Reason: fmt.Sprintf("exited with code %d", st.Code)}
	}
}
