package manager

import (
	"context"
	"fmt"
	"log/slog"
	"regexp"
	"slices"
	"strings"
	"time"

	"github.com/loykin/keepr/internal/buffer"
	"github.com/loykin/keepr/internal/history"
	"github.com/loykin/keepr/internal/metrics"
	"github.com/loykin/keepr/internal/registry"
)

const maxIDLen = 128

var idPattern = regexp.MustCompile(`^[A-Za-z0-9._-]+$`)

// checkConfig performs the structural checks of create and update. Security
// checks run at start time.
func checkConfig(cfg registry.Config) error {
	switch {
	case cfg.ID == "":
		return fmt.Errorf("%w: process id is required", ErrInvalidConfig)
	case len(cfg.ID) > maxIDLen:
		return fmt.Errorf("%w: process id longer than %d characters", ErrInvalidConfig, maxIDLen)
	case !idPattern.MatchString(cfg.ID):
		return fmt.Errorf("%w: process id %q may only contain letters, digits, '.', '_' and '-'", ErrInvalidConfig, cfg.ID)
	case strings.TrimSpace(cfg.Command) == "":
		return fmt.Errorf("%w: command is required", ErrInvalidConfig)
	}
	for k := range cfg.Env {
		if strings.TrimSpace(k) == "" {
			return fmt.Errorf("%w: empty environment variable name", ErrInvalidConfig)
		}
	}
	return nil
}

// Create registers a NotStarted record.
func (m *Manager) Create(cfg registry.Config) (registry.Record, error) {
	if err := checkConfig(cfg); err != nil {
		return registry.Record{}, err
	}
	rec := registry.NewRecord(cfg)
	if err := m.reg.Insert(rec); err != nil {
		return registry.Record{}, err
	}
	m.log.Info("process created", slog.String("process_id", rec.ID), slog.String("command", rec.Command))
	m.emit(history.EventCreated, rec)
	m.refreshCounts()
	m.changed()
	return rec, nil
}

// CreateFromTemplate instantiates a stored template as a new record.
func (m *Manager) CreateFromTemplate(templateID, processID string, values map[string]string) (registry.Record, error) {
	tpl, err := m.templates.Get(templateID)
	if err != nil {
		return registry.Record{}, err
	}
	inst, err := tpl.Instantiate(processID, values)
	if err != nil {
		return registry.Record{}, err
	}
	return m.Create(registry.Config{
		ID:                 inst.ProcessID,
		Name:               inst.Name,
		Command:            inst.Command,
		Args:               inst.Args,
		Env:                inst.Env,
		Cwd:                inst.Cwd,
		AutoStartOnRestore: inst.AutoStart,
		Tags:               inst.Tags,
	})
}

// ConfigPatch lists the fields UpdateConfig may change. Nil fields are kept.
type ConfigPatch struct {
	Name               *string            `json:"name,omitempty"`
	Command            *string            `json:"command,omitempty"`
	Args               *[]string          `json:"args,omitempty"`
	Env                *map[string]string `json:"env,omitempty"`
	Cwd                *string            `json:"cwd,omitempty"`
	Shell              *bool              `json:"shell,omitempty"`
	AutoStartOnRestore *bool              `json:"auto_start_on_restore,omitempty"`
	Tags               *[]string          `json:"tags,omitempty"`
}

func (p ConfigPatch) apply(c *registry.Config) {
	if p.Name != nil {
		c.Name = *p.Name
	}
	if p.Command != nil {
		c.Command = *p.Command
	}
	if p.Args != nil {
		c.Args = slices.Clone(*p.Args)
	}
	if p.Env != nil {
		c.Env = make(map[string]string, len(*p.Env))
		for k, v := range *p.Env {
			c.Env[k] = v
		}
	}
	if p.Cwd != nil {
		c.Cwd = *p.Cwd
	}
	if p.Shell != nil {
		c.Shell = *p.Shell
	}
	if p.AutoStartOnRestore != nil {
		c.AutoStartOnRestore = *p.AutoStartOnRestore
	}
	if p.Tags != nil {
		c.Tags = slices.Clone(*p.Tags)
	}
}

// UpdateConfig changes the configuration of a record that is not Running.
func (m *Manager) UpdateConfig(id string, patch ConfigPatch) (registry.Record, error) {
	m.mu.Lock()
	if err := m.busyLocked(id); err != nil {
		m.mu.Unlock()
		return registry.Record{}, err
	}
	rec, err := m.reg.Update(id, func(r *registry.Record) error {
		if r.State == registry.StateRunning {
			return fmt.Errorf("%w: %s", ErrStillRunning, id)
		}
		cfg := r.Config.Clone()
		patch.apply(&cfg)
		if cfg.Name == "" {
			cfg.Name = cfg.ID
		}
		if err := checkConfig(cfg); err != nil {
			return err
		}
		cfg.Normalize()
		r.Config = cfg
		return nil
	})
	m.mu.Unlock()
	if err != nil {
		return rec, err
	}
	m.log.Info("process updated", slog.String("process_id", id))
	m.changed()
	return rec, nil
}

// Remove deletes a record that is not Running, together with its output.
func (m *Manager) Remove(id string) (registry.Record, error) {
	m.mu.Lock()
	if err := m.busyLocked(id); err != nil {
		m.mu.Unlock()
		return registry.Record{}, err
	}
	rec, err := m.reg.Remove(id)
	m.mu.Unlock()
	if err != nil {
		return rec, err
	}
	m.log.Info("process removed", slog.String("process_id", id))
	metrics.Forget(id)
	m.emit(history.EventRemoved, rec)
	m.refreshCounts()
	m.changed()
	return rec, nil
}

func (m *Manager) Get(id string) (registry.Record, error) {
	return m.reg.Get(id)
}

// List returns records matching f ordered by id.
func (m *Manager) List(f registry.Filter) []registry.Record {
	return m.reg.List(f)
}

// Find returns records matching q ordered by id.
func (m *Manager) Find(q registry.Query) []registry.Record {
	recs := m.reg.List(q.State)
	if q.Name == "" {
		return recs
	}
	out := recs[:0]
	for _, rec := range recs {
		if q.Match(rec) {
			out = append(out, rec)
		}
	}
	return out
}

// Status is a record enriched with live resource usage.
type Status struct {
	registry.Record
	UptimeSeconds int64          `json:"uptime_seconds,omitempty"`
	Usage         *metrics.Usage `json:"usage,omitempty"`
}

// Status returns the record for id. For Running records it adds uptime and,
// when a sampler is configured, CPU and memory usage.
func (m *Manager) Status(ctx context.Context, id string) (Status, error) {
	rec, err := m.reg.Get(id)
	if err != nil {
		return Status{}, err
	}
	st := Status{Record: rec}
	if rec.State != registry.StateRunning {
		return st, nil
	}
	if rec.StartedAt != nil {
		st.UptimeSeconds = int64(time.Since(*rec.StartedAt).Seconds())
	}
	if m.sampler != nil {
		if u, err := m.sampler.Sample(ctx, int32(rec.PID)); err == nil {
			st.Usage = &u
		} else {
			m.log.Debug("usage sample failed", slog.String("process_id", id), slog.Any("error", err))
		}
	}
	return st, nil
}

// Output returns up to limit most recent captured lines of id. stream is
// "stdout", "stderr", or "" / "both" for both. limit <= 0 returns everything
// retained.
func (m *Manager) Output(id string, limit int, stream string) ([]buffer.Entry, error) {
	buf, err := m.reg.Output(id)
	if err != nil {
		return nil, err
	}
	switch s := buffer.Stream(strings.ToLower(stream)); s {
	case "", "both":
		return buf.Last(limit), nil
	case buffer.Stdout, buffer.Stderr:
		return buf.LastFiltered(limit, s), nil
	default:
		return nil, fmt.Errorf("unknown stream %q (want stdout|stderr|both)", stream)
	}
}

// Adopt inserts a record loaded from a snapshot. A record that was Running
// when the snapshot was taken cannot be reattached: it is reset to Stopped
// with exit code -1 and stale is true.
func (m *Manager) Adopt(rec registry.Record) (adopted registry.Record, stale bool, err error) {
	rec = rec.Clone()
	if err := checkConfig(rec.Config); err != nil {
		return registry.Record{}, false, err
	}
	rec.Config.Normalize()
	if rec.State == registry.StateRunning {
		at := time.Now().UTC()
		rec.SetStopped(-1, at)
		stale = true
	}
	rec.PID = 0
	if err := rec.Check(); err != nil {
		return registry.Record{}, false, err
	}
	if err := m.reg.Insert(rec); err != nil {
		return registry.Record{}, false, err
	}
	m.refreshCounts()
	return rec, stale, nil
}
