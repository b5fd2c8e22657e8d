package registry

import (
	"fmt"
	"maps"
	"slices"
	"time"
)

// State is the lifecycle state of a process record.
type State string

const (
	StateNotStarted State = "not_started"
	StateRunning    State = "running"
	StateStopped    State = "stopped"
	StateFailed     State = "failed"
)

// ParseState accepts the canonical names; it is used for snapshots and filters.
func ParseState(s string) (State, error) {
	switch State(s) {
	case StateNotStarted, StateRunning, StateStopped, StateFailed:
		return State(s), nil
	}
	return "", fmt.Errorf("unknown state %q", s)
}

// Config is the client-supplied, persistable part of a record.
type Config struct {
	ID                 string            `json:"process_id" yaml:"id"`
	Name               string            `json:"name" yaml:"name"`
	Command            string            `json:"command" yaml:"command"`
	Args               []string          `json:"args" yaml:"args"`
	Env                map[string]string `json:"env,omitempty" yaml:"env,omitempty"`
	Cwd                string            `json:"cwd,omitempty" yaml:"cwd,omitempty"`
	Shell              bool              `json:"shell,omitempty" yaml:"shell,omitempty"`
	AutoStartOnRestore bool              `json:"auto_start_on_restore" yaml:"auto_start_on_restore"`
	Tags               []string          `json:"tags,omitempty" yaml:"tags,omitempty"`
}

// Clone returns a deep copy.
func (c Config) Clone() Config {
	c.Args = slices.Clone(c.Args)
	c.Env = maps.Clone(c.Env)
	c.Tags = slices.Clone(c.Tags)
	return c
}

// Normalize sorts and de-duplicates tags and defaults Name to ID.
func (c *Config) Normalize() {
	if c.Name == "" {
		c.Name = c.ID
	}
	if len(c.Tags) > 0 {
		tags := slices.Clone(c.Tags)
		slices.Sort(tags)
		c.Tags = slices.Compact(tags)
	}
	if c.Args == nil {
		c.Args = []string{}
	}
}

// Record is a process record: configuration plus runtime state.
//
// Invariant: PID != 0 iff State == Running; ExitCode != nil iff State ==
// Stopped; Error != "" iff State == Failed.
type Record struct {
	Config
	State     State      `json:"state"`
	PID       int        `json:"pid,omitempty"`
	ExitCode  *int       `json:"exit_code,omitempty"`
	Error     string     `json:"error,omitempty"`
	StartedAt *time.Time `json:"started_at,omitempty"`
	StoppedAt *time.Time `json:"stopped_at,omitempty"`
	// Restarts counts successful starts after the first one.
	Restarts int `json:"restarts"`
}

// NewRecord builds a NotStarted record from cfg.
func NewRecord(cfg Config) Record {
	cfg = cfg.Clone()
	cfg.Normalize()
	return Record{Config: cfg, State: StateNotStarted}
}

// Clone returns a deep copy.
func (r Record) Clone() Record {
	r.Config = r.Config.Clone()
	if r.ExitCode != nil {
		v := *r.ExitCode
		r.ExitCode = &v
	}
	if r.StartedAt != nil {
		v := *r.StartedAt
		r.StartedAt = &v
	}
	if r.StoppedAt != nil {
		v := *r.StoppedAt
		r.StoppedAt = &v
	}
	return r
}

// SetRunning transitions to Running with pid, clearing terminal fields.
func (r *Record) SetRunning(pid int, at time.Time) {
	if r.StartedAt != nil {
		r.Restarts++
	}
	r.State = StateRunning
	r.PID = pid
	r.StartedAt = &at
	r.StoppedAt = nil
	r.ExitCode = nil
	r.Error = ""
}

// SetStopped transitions to Stopped with the given exit code.
func (r *Record) SetStopped(code int, at time.Time) {
	r.State = StateStopped
	r.PID = 0
	r.ExitCode = &code
	r.Error = ""
	r.StoppedAt = &at
}

// SetFailed transitions to Failed with msg. at may be zero when the process
// never ran (validation or spawn failure).
func (r *Record) SetFailed(msg string, at time.Time) {
	if msg == "" {
		msg = "unknown failure"
	}
	r.State = StateFailed
	r.PID = 0
	r.ExitCode = nil
	r.Error = msg
	if !at.IsZero() {
		r.StoppedAt = &at
	}
}

// Check verifies the state/field invariant.
func (r Record) Check() error {
	switch r.State {
	case StateNotStarted, StateRunning, StateStopped, StateFailed:
	default:
		return fmt.Errorf("record %s: unknown state %q", r.ID, r.State)
	}
	if (r.PID != 0) != (r.State == StateRunning) {
		return fmt.Errorf("record %s: pid=%d in state %s", r.ID, r.PID, r.State)
	}
	if (r.ExitCode != nil) != (r.State == StateStopped) {
		return fmt.Errorf("record %s: exit_code presence mismatch in state %s", r.ID, r.State)
	}
	if (r.Error != "") != (r.State == StateFailed) {
		return fmt.Errorf("record %s: error presence mismatch in state %s", r.ID, r.State)
	}
	return nil
}
