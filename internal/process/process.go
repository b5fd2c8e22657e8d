// Package process owns the OS side of a supervised child: building the
// command, spawning it in its own process group, delivering stop signals and
// reaping it exactly once.
package process

import (
	"errors"
	"fmt"
	"io"
	"sync"
	"sync/atomic"
	"time"
)

// DefaultWaitDelay bounds how long Wait keeps draining output pipes after the
// child exits, in case a grandchild still holds them open.
const DefaultWaitDelay = 2 * time.Second

// DefaultKillGrace is how long Stop waits for the reaper after SIGKILL.
const DefaultKillGrace = 5 * time.Second

var ErrKillTimeout = errors.New("process did not exit after SIGKILL")

// Output wires the child's streams. Nil writers discard. Closers are closed
// once, after the child has been reaped and its pipes drained.
type Output struct {
	Stdout  io.Writer
	Stderr  io.Writer
	Closers []io.Closer
}

// Handle is the live OS handle of one spawned child. Exactly one goroutine,
// started by Start, waits on the child; everything else observes Done.
type Handle struct {
	spec      Spec
	pid       int
	startedAt time.Time

	// KillGrace overrides DefaultKillGrace when positive.
	KillGrace time.Duration

	stopping atomic.Bool
	done     chan struct{}
	status   ExitStatus

	stopOnce sync.Mutex
}

// Start spawns spec and begins reaping it in the background.
func Start(spec Spec, out Output) (*Handle, error) {
	cmd, err := spec.BuildCommand()
	if err != nil {
		closeAll(out.Closers)
		return nil, err
	}
	cmd.Stdout = out.Stdout
	cmd.Stderr = out.Stderr
	cmd.WaitDelay = DefaultWaitDelay
	if err := cmd.Start(); err != nil {
		closeAll(out.Closers)
		return nil, err
	}
	h := &Handle{
		spec:      spec,
		pid:       cmd.Process.Pid,
		startedAt: time.Now(),
		done:      make(chan struct{}),
	}
	go func() {
		werr := cmd.Wait()
		h.status = exitStatusFrom(cmd.ProcessState, werr, h.stopping.Load())
		closeAll(out.Closers)
		close(h.done)
	}()
	return h, nil
}

func closeAll(cs []io.Closer) {
	for _, c := range cs {
		if c != nil {
			_ = c.Close()
		}
	}
}

func (h *Handle) PID() int             { return h.pid }
func (h *Handle) StartedAt() time.Time { return h.startedAt }
func (h *Handle) Spec() Spec           { return h.spec }

// Done is closed once the child has been reaped.
func (h *Handle) Done() <-chan struct{} { return h.done }

// Exited reports whether the child has been reaped.
func (h *Handle) Exited() bool {
	select {
	case <-h.done:
		return true
	default:
		return false
	}
}

// Status returns the exit status. It blocks until the child is reaped.
func (h *Handle) Status() ExitStatus {
	<-h.done
	return h.status
}

// Stop sends SIGTERM to the child's process group, waits up to timeout, then
// sends SIGKILL. It returns once the child has been reaped. escalated reports
// whether SIGKILL was needed. Concurrent calls are serialized.
func (h *Handle) Stop(timeout time.Duration) (escalated bool, err error) {
	h.stopOnce.Lock()
	defer h.stopOnce.Unlock()

	if h.Exited() {
		return false, nil
	}
	h.stopping.Store(true)
	termErr := terminateGroup(h.pid)

	if timeout > 0 && termErr == nil {
		t := time.NewTimer(timeout)
		defer t.Stop()
		select {
		case <-h.done:
			return false, nil
		case <-t.C:
		}
	}
	return true, h.kill()
}

// Kill sends SIGKILL to the process group and waits for the reaper.
func (h *Handle) Kill() error {
	h.stopOnce.Lock()
	defer h.stopOnce.Unlock()
	if h.Exited() {
		return nil
	}
	h.stopping.Store(true)
	return h.kill()
}

func (h *Handle) kill() error {
	killErr := killGroup(h.pid)
	grace := h.KillGrace
	if grace <= 0 {
		grace = DefaultKillGrace
	}
	t := time.NewTimer(grace)
	defer t.Stop()
	select {
	case <-h.done:
		return nil
	case <-t.C:
		if killErr != nil {
			return fmt.Errorf("%w: %v", ErrKillTimeout, killErr)
		}
		return ErrKillTimeout
	}
}
