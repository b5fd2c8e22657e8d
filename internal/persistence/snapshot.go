// Package persistence checkpoints supervisor state to a YAML snapshot and
// replays it on boot.
package persistence

import (
	"bytes"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/loykin/keepr/internal/registry"
	"github.com/loykin/keepr/pkg/template"
)

// Version is the snapshot format version written by this build.
const Version = 1

// Error is returned when a snapshot cannot be read, decoded or written.
type Error struct {
	Op   string // load, decode, save
	Path string
	Err  error
}

func (e *Error) Error() string {
	return fmt.Sprintf("snapshot %s %s: %v", e.Op, e.Path, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

// Snapshot is the on-disk document.
type Snapshot struct {
	Version   int                 `json:"version" yaml:"version"`
	SavedAt   time.Time           `json:"saved_at" yaml:"saved_at"`
	Processes []ProcessEntry      `json:"processes" yaml:"processes"`
	Templates []template.Template `json:"templates" yaml:"templates"`
	Settings  map[string]string   `json:"settings" yaml:"settings"`
}

// ProcessEntry is a record's configuration and last-known state. The pid is
// never persisted.
type ProcessEntry struct {
	registry.Config `yaml:",inline"`
	State           registry.State `json:"state" yaml:"state"`
	ExitCode        *int           `json:"exit_code,omitempty" yaml:"exit_code,omitempty"`
	Error           string         `json:"error,omitempty" yaml:"error,omitempty"`
	StartedAt       *time.Time     `json:"started_at,omitempty" yaml:"started_at,omitempty"`
	StoppedAt       *time.Time     `json:"stopped_at,omitempty" yaml:"stopped_at,omitempty"`
	Restarts        int            `json:"restarts,omitempty" yaml:"restarts,omitempty"`
}

func entryFrom(rec registry.Record) ProcessEntry {
	rec = rec.Clone()
	return ProcessEntry{
		Config:    rec.Config,
		State:     rec.State,
		ExitCode:  rec.ExitCode,
		Error:     rec.Error,
		StartedAt: utc(rec.StartedAt),
		StoppedAt: utc(rec.StoppedAt),
		Restarts:  rec.Restarts,
	}
}

func utc(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	u := t.UTC().Round(0)
	return &u
}

// Record converts the entry back into a registry record without a pid.
func (e ProcessEntry) Record() (registry.Record, error) {
	st, err := registry.ParseState(string(e.State))
	if err != nil {
		return registry.Record{}, err
	}
	return registry.Record{
		Config:    e.Config.Clone(),
		State:     st,
		ExitCode:  e.ExitCode,
		Error:     e.Error,
		StartedAt: e.StartedAt,
		StoppedAt: e.StoppedAt,
		Restarts:  e.Restarts,
	}, nil
}

// sort orders processes and templates by id so encoding is deterministic.
func (s *Snapshot) sort() {
	slices.SortFunc(s.Processes, func(a, b ProcessEntry) int { return strings.Compare(a.ID, b.ID) })
	slices.SortFunc(s.Templates, func(a, b template.Template) int { return strings.Compare(a.ID, b.ID) })
}

// Encode renders s as YAML.
func Encode(s Snapshot) ([]byte, error) {
	s.sort()
	if s.Processes == nil {
		s.Processes = []ProcessEntry{}
	}
	if s.Templates == nil {
		s.Templates = []template.Template{}
	}
	if s.Settings == nil {
		s.Settings = map[string]string{}
	}
	var buf bytes.Buffer
	enc := yaml.NewEncoder(&buf)
	enc.SetIndent(2)
	if err := enc.Encode(s); err != nil {
		return nil, err
	}
	if err := enc.Close(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// Decode parses a snapshot document.
func Decode(b []byte) (Snapshot, error) {
	var s Snapshot
	if len(bytes.TrimSpace(b)) == 0 {
		return s, errors.New("empty document")
	}
	if err := yaml.Unmarshal(b, &s); err != nil {
		return s, err
	}
	if s.Version < 1 || s.Version > Version {
		return s, fmt.Errorf("unsupported snapshot version %d", s.Version)
	}
	seen := make(map[string]bool, len(s.Processes))
	for _, p := range s.Processes {
		if p.ID == "" {
			return s, errors.New("process entry without id")
		}
		if seen[p.ID] {
			return s, fmt.Errorf("duplicate process id %q", p.ID)
		}
		seen[p.ID] = true
	}
	return s, nil
}

// FileStore reads and writes one snapshot file.
type FileStore struct {
	Path string
}

// Load reads the snapshot. A missing file yields found == false and no error;
// any other failure is an *Error.
func (f FileStore) Load() (snap Snapshot, found bool, err error) {
	b, err := os.ReadFile(filepath.Clean(f.Path))
	if errors.Is(err, os.ErrNotExist) {
		return Snapshot{}, false, nil
	}
	if err != nil {
		return Snapshot{}, false, &Error{Op: "load", Path: f.Path, Err: err}
	}
	snap, err = Decode(b)
	if err != nil {
		return Snapshot{}, false, &Error{Op: "decode", Path: f.Path, Err: err}
	}
	return snap, true, nil
}

// Save writes s atomically: a temp file in the same directory is written and
// fsynced, renamed over the target, then the directory is fsynced.
func (f FileStore) Save(s Snapshot) error {
	b, err := Encode(s)
	if err != nil {
		return &Error{Op: "encode", Path: f.Path, Err: err}
	}
	if err := writeAtomic(f.Path, b); err != nil {
		return &Error{Op: "save", Path: f.Path, Err: err}
	}
	return nil
}

func writeAtomic(path string, b []byte) (err error) {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o750); err != nil {
		return err
	}
	tmp, err := os.CreateTemp(dir, "."+filepath.Base(path)+".tmp-*")
	if err != nil {
		return err
	}
	defer func() {
		if err != nil {
			_ = tmp.Close()
			_ = os.Remove(tmp.Name())
		}
	}()
	if _, err = tmp.Write(b); err != nil {
		return err
	}
	if err = tmp.Sync(); err != nil {
		return err
	}
	if err = tmp.Close(); err != nil {
		return err
	}
	if err = os.Rename(tmp.Name(), path); err != nil {
		return err
	}
	return syncDir(dir)
}
