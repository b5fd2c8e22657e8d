package client

import "time"

// CreateRequest registers a new process record.
type CreateRequest struct {
	ProcessID          string            `json:"process_id"`
	Name               string            `json:"name,omitempty"`
	Command            string            `json:"command"`
	Args               []string          `json:"args,omitempty"`
	Env                map[string]string `json:"env,omitempty"`
	Cwd                string            `json:"cwd,omitempty"`
	Shell              bool              `json:"shell,omitempty"`
	AutoStartOnRestore bool              `json:"auto_start_on_restore,omitempty"`
	Tags               []string          `json:"tags,omitempty"`
}

// UpdateRequest changes the configuration of a non-running record. Nil fields
// are left unchanged.
type UpdateRequest struct {
	Name               *string            `json:"name,omitempty"`
	Command            *string            `json:"command,omitempty"`
	Args               *[]string          `json:"args,omitempty"`
	Env                *map[string]string `json:"env,omitempty"`
	Cwd                *string            `json:"cwd,omitempty"`
	Shell              *bool              `json:"shell,omitempty"`
	AutoStartOnRestore *bool              `json:"auto_start_on_restore,omitempty"`
	Tags               *[]string          `json:"tags,omitempty"`
}

// Usage is a resource sample of a running process.
type Usage struct {
	PID        int32     `json:"pid"`
	CPUPercent float64   `json:"cpu_percent"`
	RSSBytes   uint64    `json:"memory_rss_bytes"`
	VMSBytes   uint64    `json:"memory_vms_bytes"`
	NumThreads int32     `json:"num_threads"`
	NumFDs     int32     `json:"num_fds,omitempty"`
	SampledAt  time.Time `json:"sampled_at"`
}

// Process is a process record as reported by the supervisor.
type Process struct {
	ProcessID          string            `json:"process_id"`
	Name               string            `json:"name"`
	Command            string            `json:"command"`
	Args               []string          `json:"args"`
	Env                map[string]string `json:"env,omitempty"`
	Cwd                string            `json:"cwd,omitempty"`
	Shell              bool              `json:"shell,omitempty"`
	AutoStartOnRestore bool              `json:"auto_start_on_restore"`
	Tags               []string          `json:"tags,omitempty"`
	State              string            `json:"state"`
	PID                int               `json:"pid,omitempty"`
	ExitCode           *int              `json:"exit_code,omitempty"`
	Error              string            `json:"error,omitempty"`
	StartedAt          *time.Time        `json:"started_at,omitempty"`
	StoppedAt          *time.Time        `json:"stopped_at,omitempty"`
	Restarts           int               `json:"restarts"`
	UptimeSeconds      int64             `json:"uptime_seconds,omitempty"`
	Usage              *Usage            `json:"usage,omitempty"`
}

// ActionResult is returned by create, start, stop, restart and remove.
type ActionResult struct {
	ProcessID string `json:"process_id"`
	Status    string `json:"status"`
	PID       int    `json:"pid,omitempty"`
	ExitCode  *int   `json:"exit_code,omitempty"`
	Error     string `json:"error,omitempty"`
}

// OutputEntry is one captured line.
type OutputEntry struct {
	Seq    uint64    `json:"seq"`
	Stream string    `json:"stream"`
	Line   string    `json:"line"`
	Time   time.Time `json:"time"`
}

// Output is the recent output of a process, oldest first.
type Output struct {
	ProcessID string        `json:"process_id"`
	Lines     []string      `json:"lines"`
	Entries   []OutputEntry `json:"entries"`
}

// OutputQuery selects lines from a process's output buffer. Zero values mean
// server defaults.
type OutputQuery struct {
	Limit  int
	Stream string // stdout, stderr or both
}

// ListQuery selects records for List. Zero values match everything.
type ListQuery struct {
	Filter string // all, running, stopped, failed or not_started
	Name   string // substring of the id or command
}

// TemplateQuery selects templates. A template matches when its category
// equals Category and it carries every tag in Tags.
type TemplateQuery struct {
	Category string
	Tags     []string
}

// Failure names a record that could not be restored or started.
type Failure struct {
	ProcessID string `json:"process_id"`
	Reason    string `json:"reason"`
}

// ImportReport summarizes a snapshot import.
type ImportReport struct {
	Found     bool      `json:"found"`
	Processes int       `json:"processes"`
	Templates int       `json:"templates"`
	Settings  int       `json:"settings"`
	Skipped   []string  `json:"skipped,omitempty"`
	Failures  []Failure `json:"failures,omitempty"`
}

// ErrorResponse represents an API error response
type ErrorResponse struct {
	Error string `json:"error"`
	Code  string `json:"code"`
	Kind  string `json:"kind,omitempty"`
	Field string `json:"field,omitempty"`
}
