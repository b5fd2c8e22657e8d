package manager

import (
	"errors"
	"fmt"

	"github.com/loykin/keepr/internal/registry"
)

var (
	ErrNotFound      = registry.ErrNotFound
	ErrAlreadyExists = registry.ErrAlreadyExists
	ErrStillRunning  = registry.ErrStillRunning

	ErrAlreadyRunning  = errors.New("process is already running")
	ErrNotRunning      = errors.New("process is not running")
	ErrStartInProgress = errors.New("start already in progress")
	ErrStopInProgress  = errors.New("stop already in progress")
	ErrShuttingDown    = errors.New("supervisor is shutting down")
	ErrInvalidConfig   = errors.New("invalid process configuration")
)

// SpawnError is returned when the OS refused to create the child. The record
// is left Failed; spawns are never retried.
type SpawnError struct {
	ID  string
	Err error
}

func (e *SpawnError) Error() string {
	return fmt.Sprintf("spawn %s: %v", e.ID, e.Err)
}

func (e *SpawnError) Unwrap() error { return e.Err }
