package persistence

import (
	"context"
	"fmt"
	"log/slog"
)

// Failure is one record that could not be restored or auto-started.
type Failure struct {
	ProcessID string `json:"process_id"`
	Reason    string `json:"reason"`
}

// Report summarizes a restore or import.
type Report struct {
	Found     bool      `json:"found"`
	Processes int       `json:"processes"`
	Templates int       `json:"templates"`
	Settings  int       `json:"settings"`
	Stale     []string  `json:"stale,omitempty"`
	Started   []string  `json:"started,omitempty"`
	Skipped   []string  `json:"skipped,omitempty"`
	Failures  []Failure `json:"failures,omitempty"`
}

// Restore loads the snapshot into an empty manager and starts every record
// flagged auto_start_on_restore. A missing file is an empty state; an
// unreadable or corrupt one is returned as *Error and nothing is loaded.
// Per-record problems are logged and collected in the report.
func (s *Snapshotter) Restore(ctx context.Context) (Report, error) {
	snap, found, err := s.store.Load()
	if err != nil {
		return Report{}, err
	}
	rep := Report{Found: found}
	if !found {
		s.log.Info("no snapshot found, starting empty", slog.String("path", s.store.Path))
		return rep, nil
	}

	if s.settings != nil && snap.Settings != nil {
		s.settings.Replace(snap.Settings)
		rep.Settings = len(snap.Settings)
	}
	for _, t := range snap.Templates {
		if err := s.mgr.Templates().Put(t); err != nil {
			s.log.Warn("template not restored", slog.String("template_id", t.ID), slog.Any("error", err))
			continue
		}
		rep.Templates++
	}

	var autostart []string
	for _, e := range snap.Processes {
		id, stale, err := s.adopt(e)
		if err != nil {
			s.log.Error("process not restored", slog.String("process_id", e.ID), slog.Any("error", err))
			rep.Failures = append(rep.Failures, Failure{ProcessID: e.ID, Reason: err.Error()})
			continue
		}
		rep.Processes++
		if stale {
			rep.Stale = append(rep.Stale, id)
		}
		if e.AutoStartOnRestore {
			autostart = append(autostart, id)
		}
	}

	for _, id := range autostart {
		if ctx.Err() != nil {
			rep.Failures = append(rep.Failures, Failure{ProcessID: id, Reason: ctx.Err().Error()})
			continue
		}
		if _, err := s.mgr.Start(id); err != nil {
			s.log.Error("auto-start failed", slog.String("process_id", id), slog.Any("error", err))
			rep.Failures = append(rep.Failures, Failure{ProcessID: id, Reason: err.Error()})
			continue
		}
		rep.Started = append(rep.Started, id)
	}
	s.log.Info("snapshot restored",
		slog.String("path", s.store.Path),
		slog.Int("processes", rep.Processes),
		slog.Int("templates", rep.Templates),
		slog.Int("auto_started", len(rep.Started)),
		slog.Int("failures", len(rep.Failures)))
	return rep, nil
}

func (s *Snapshotter) adopt(e ProcessEntry) (string, bool, error) {
	rec, err := e.Record()
	if err != nil {
		return "", false, err
	}
	got, stale, err := s.mgr.Adopt(rec)
	if err != nil {
		return "", false, err
	}
	if stale {
		s.log.Warn("process was running when the supervisor stopped; marked stopped with unknown exit code",
			slog.String("process_id", got.ID),
			slog.Int("exit_code", -1))
	}
	return got.ID, stale, nil
}

// Export writes the current state to path.
func (s *Snapshotter) Export(path string) error {
	if path == "" {
		return &Error{Op: "save", Path: path, Err: fmt.Errorf("path is required")}
	}
	return FileStore{Path: path}.Save(s.Capture())
}

// Import merges the snapshot at path: records and templates whose ids are not
// present are added, settings keys not present are added. Existing entries are
// never overwritten and imported records are not started.
func (s *Snapshotter) Import(path string) (Report, error) {
	snap, found, err := FileStore{Path: path}.Load()
	if err != nil {
		return Report{}, err
	}
	if !found {
		return Report{}, &Error{Op: "load", Path: path, Err: fmt.Errorf("file does not exist")}
	}
	rep := Report{Found: true}
	for _, t := range snap.Templates {
		if _, err := s.mgr.Templates().Get(t.ID); err == nil {
			rep.Skipped = append(rep.Skipped, "template:"+t.ID)
			continue
		}
		if err := s.mgr.Templates().Put(t); err != nil {
			rep.Failures = append(rep.Failures, Failure{ProcessID: "template:" + t.ID, Reason: err.Error()})
			continue
		}
		rep.Templates++
	}
	for _, e := range snap.Processes {
		if _, err := s.mgr.Get(e.ID); err == nil {
			rep.Skipped = append(rep.Skipped, e.ID)
			continue
		}
		id, stale, err := s.adopt(e)
		if err != nil {
			rep.Failures = append(rep.Failures, Failure{ProcessID: e.ID, Reason: err.Error()})
			continue
		}
		rep.Processes++
		if stale {
			rep.Stale = append(rep.Stale, id)
		}
	}
	if s.settings != nil {
		rep.Settings = s.settings.Merge(snap.Settings)
	}
	s.log.Info("snapshot imported",
		slog.String("path", path),
		slog.Int("processes", rep.Processes),
		slog.Int("skipped", len(rep.Skipped)))
	s.Notify()
	return rep, nil
}
