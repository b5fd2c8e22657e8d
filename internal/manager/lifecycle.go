package manager

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/loykin/keepr/internal/buffer"
	"github.com/loykin/keepr/internal/history"
	"github.com/loykin/keepr/internal/metrics"
	"github.com/loykin/keepr/internal/process"
	"github.com/loykin/keepr/internal/registry"
	"github.com/loykin/keepr/internal/security"
)

// Start validates and spawns the record's command. It fails with
// ErrAlreadyRunning when the record is Running and ErrStartInProgress when
// another start or restart of id has not returned yet.
func (m *Manager) Start(id string) (registry.Record, error) {
	if err := m.begin(id, opStart); err != nil {
		return registry.Record{}, err
	}
	defer m.end(id)
	return m.start(id)
}

// Stop sends SIGTERM to the process group, waits up to timeout and then
// SIGKILLs. It returns after the exit has been recorded.
func (m *Manager) Stop(id string, timeout time.Duration) (registry.Record, error) {
	if err := m.begin(id, opStop); err != nil {
		return registry.Record{}, err
	}
	defer m.end(id)
	return m.stop(id, timeout)
}

// Restart stops id if it is Running and starts it again under a single
// in-flight slot. From a terminal state it is a plain start.
func (m *Manager) Restart(id string, timeout time.Duration) (registry.Record, error) {
	if err := m.begin(id, opStart); err != nil {
		return registry.Record{}, err
	}
	defer m.end(id)
	if _, err := m.stop(id, timeout); err != nil && !errors.Is(err, ErrNotRunning) {
		if !errors.Is(err, process.ErrKillTimeout) {
			return registry.Record{}, err
		}
		m.log.Warn("restart: previous instance did not exit", slog.String("process_id", id), slog.Any("error", err))
	}
	return m.start(id)
}

func (m *Manager) start(id string) (registry.Record, error) {
	rec, err := m.reg.Get(id)
	if err != nil {
		return registry.Record{}, err
	}
	if rec.State == registry.StateRunning {
		return rec, fmt.Errorf("%w: %s", ErrAlreadyRunning, id)
	}

	res, err := m.validator.Validate(security.Input{
		Command: rec.Command,
		Args:    rec.Args,
		Env:     rec.Env,
		Cwd:     rec.Cwd,
		Shell:   rec.Shell,
	})
	if err != nil {
		m.log.Warn("start rejected", slog.String("process_id", id), slog.Any("error", err))
		failed := m.markFailed(rec, err.Error(), metrics.CauseValidation)
		return failed, err
	}

	out, err := m.output(id)
	if err != nil {
		return rec, err
	}
	h, err := process.Start(process.Spec{
		ID:      id,
		Command: rec.Command,
		Args:    rec.Args,
		Shell:   rec.Shell,
		Dir:     res.Cwd,
		Env:     m.env.Merge(rec.Env),
	}, out)
	if err != nil {
		m.log.Error("spawn failed", slog.String("process_id", id), slog.String("command", rec.Command), slog.Any("error", err))
		failed := m.markFailed(rec, "spawn failed: "+err.Error(), metrics.CauseSpawn)
		return failed, &SpawnError{ID: id, Err: err}
	}
	h.KillGrace = m.killGrace

	prev := rec.State
	rec, err = m.reg.Update(id, func(r *registry.Record) error {
		r.SetRunning(h.PID(), h.StartedAt())
		return nil
	})
	if err != nil {
		// The record cannot vanish while the start slot is held; this only
		// trips on an invariant violation.
		_ = h.Kill()
		return rec, fmt.Errorf("record start of %s: %w", id, err)
	}
	lv := &live{h: h, settled: make(chan struct{})}
	m.mu.Lock()
	m.handles[id] = lv
	m.mu.Unlock()
	m.wg.Add(1)
	go m.monitor(id, lv)

	m.log.Info("process started",
		slog.String("process_id", id),
		slog.Int("pid", h.PID()),
		slog.String("command", rec.Command))
	metrics.IncStart(id)
	metrics.RecordStateTransition(string(prev), string(registry.StateRunning))
	m.emit(history.EventStarted, rec)
	m.refreshCounts()
	m.changed()
	return rec, nil
}

// output builds the writers that drain the child's streams into the record's
// buffer and, when configured, into rotated log files.
func (m *Manager) output(id string) (process.Output, error) {
	buf, err := m.reg.Output(id)
	if err != nil {
		return process.Output{}, err
	}
	line := func(s buffer.Stream) *process.LineWriter {
		return process.NewLineWriter(func(l string) {
			buf.Append(s, l)
			metrics.AddOutputLine(string(s))
		})
	}
	stdout, stderr := line(buffer.Stdout), line(buffer.Stderr)
	out := process.Output{Stdout: stdout, Stderr: stderr, Closers: []io.Closer{stdout, stderr}}
	if m.procLogs.File.Dir == "" {
		return out, nil
	}
	fo, fe, err := m.procLogs.ProcessWriters(id)
	if err != nil {
		m.log.Warn("process log files unavailable", slog.String("process_id", id), slog.Any("error", err))
		return out, nil
	}
	if fo != nil {
		out.Stdout = io.MultiWriter(stdout, fo)
		out.Closers = append(out.Closers, fo)
	}
	if fe != nil {
		out.Stderr = io.MultiWriter(stderr, fe)
		out.Closers = append(out.Closers, fe)
	}
	return out, nil
}

func (m *Manager) markFailed(rec registry.Record, reason, cause string) registry.Record {
	prev := rec.State
	applied := false
	got, err := m.reg.Update(rec.ID, func(r *registry.Record) error {
		if r.State == registry.StateRunning {
			return registry.ErrNoop
		}
		r.SetFailed(reason, time.Time{})
		applied = true
		return nil
	})
	if err != nil || !applied {
		return got
	}
	metrics.IncFailure(rec.ID, cause)
	metrics.RecordStateTransition(string(prev), string(registry.StateFailed))
	m.emit(history.EventFailed, got)
	m.refreshCounts()
	m.changed()
	return got
}

func (m *Manager) stop(id string, timeout time.Duration) (registry.Record, error) {
	rec, err := m.reg.Get(id)
	if err != nil {
		return registry.Record{}, err
	}
	m.mu.Lock()
	lv := m.handles[id]
	m.mu.Unlock()
	if rec.State != registry.StateRunning || lv == nil {
		return rec, fmt.Errorf("%w: %s", ErrNotRunning, id)
	}
	if timeout <= 0 {
		timeout = m.stopTimeout
	}
	escalated, err := lv.h.Stop(timeout)
	if err != nil {
		m.log.Error("stop failed", slog.String("process_id", id), slog.Int("pid", lv.h.PID()), slog.Any("error", err))
		if !lv.h.Exited() {
			rec = m.abandon(id, lv, err.Error())
		}
		return rec, fmt.Errorf("stop %s: %w", id, err)
	}
	<-lv.settled
	if escalated {
		m.log.Warn("process killed after stop timeout", slog.String("process_id", id), slog.Duration("timeout", timeout))
	}
	metrics.IncStop(id, escalated)
	return m.reg.Get(id)
}

// abandon records a child that outlived SIGKILL as Failed and detaches its
// handle so the id can be started again. The monitor still reaps the child
// and finds the exit already recorded.
func (m *Manager) abandon(id string, lv *live, reason string) registry.Record {
	applied := false
	rec, err := m.reg.Update(id, func(r *registry.Record) error {
		if r.State != registry.StateRunning || r.PID != lv.h.PID() {
			return registry.ErrNoop
		}
		r.SetFailed(reason, time.Time{})
		applied = true
		return nil
	})
	m.mu.Lock()
	if m.handles[id] == lv {
		delete(m.handles, id)
	}
	m.mu.Unlock()
	if err != nil || !applied {
		return rec
	}
	metrics.IncFailure(id, metrics.CauseKill)
	metrics.RecordStateTransition(string(registry.StateRunning), string(registry.StateFailed))
	m.emit(history.EventFailed, rec)
	m.refreshCounts()
	m.changed()
	return rec
}

// monitor waits for the child to be reaped and records the terminal state.
// It is the only path out of Running.
func (m *Manager) monitor(id string, lv *live) {
	defer m.wg.Done()
	st := lv.h.Status()
	outcome := m.policy.Classify(st)

	applied := false
	rec, err := m.reg.Update(id, func(r *registry.Record) error {
		if r.State != registry.StateRunning || r.PID != lv.h.PID() {
			return registry.ErrNoop
		}
		if outcome.Failed {
			r.SetFailed(outcome.Reason, st.ExitedAt)
		} else {
			r.SetStopped(outcome.Code, st.ExitedAt)
		}
		applied = true
		return nil
	})

	m.mu.Lock()
	if m.handles[id] == lv {
		delete(m.handles, id)
	}
	m.mu.Unlock()
	close(lv.settled)
	if m.sampler != nil {
		m.sampler.Forget(int32(lv.h.PID()))
	}

	if err != nil || !applied {
		m.log.Debug("exit already recorded", slog.String("process_id", id), slog.Any("error", err))
		return
	}
	attrs := []any{
		slog.String("process_id", id),
		slog.Int("pid", lv.h.PID()),
		slog.Bool("stop_requested", st.StopRequested),
	}
	if outcome.Failed {
		m.log.Warn("process failed", append(attrs, slog.String("reason", outcome.Reason))...)
		metrics.IncFailure(id, metrics.CauseExit)
		metrics.RecordStateTransition(string(registry.StateRunning), string(registry.StateFailed))
		m.emit(history.EventFailed, rec)
	} else {
		m.log.Info("process exited", append(attrs, slog.Int("exit_code", outcome.Code))...)
		metrics.RecordStateTransition(string(registry.StateRunning), string(registry.StateStopped))
		m.emit(history.EventStopped, rec)
	}
	m.refreshCounts()
	m.changed()
}

func (m *Manager) emit(t history.EventType, rec registry.Record) {
	m.hist.Emit(history.Event{Type: t, OccurredAt: time.Now().UTC(), Record: historyRecord(rec)})
}

func historyRecord(rec registry.Record) history.Record {
	return history.Record{
		ProcessID: rec.ID,
		Name:      rec.Name,
		Command:   rec.Command,
		PID:       rec.PID,
		State:     string(rec.State),
		ExitCode:  rec.ExitCode,
		Error:     rec.Error,
		StartedAt: rec.StartedAt,
		StoppedAt: rec.StoppedAt,
	}
}

func (m *Manager) refreshCounts() {
	counts := map[string]int{
		string(registry.StateNotStarted): 0,
		string(registry.StateRunning):    0,
		string(registry.StateStopped):    0,
		string(registry.StateFailed):     0,
	}
	for _, rec := range m.reg.List(registry.FilterAll) {
		counts[string(rec.State)]++
	}
	metrics.SetRecordCounts(counts)
}
