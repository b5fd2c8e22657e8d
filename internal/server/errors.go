package server

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/loykin/keepr/internal/manager"
	"github.com/loykin/keepr/internal/persistence"
	"github.com/loykin/keepr/internal/process"
	"github.com/loykin/keepr/internal/security"
	"github.com/loykin/keepr/pkg/template"
)

// Error codes returned in errorResp.Code.
const (
	CodeInvalidRequest     = "invalid_request"
	CodeNotFound           = "not_found"
	CodeAlreadyExists      = "already_exists"
	CodeAlreadyRunning     = "already_running"
	CodeNotRunning         = "not_running"
	CodeStartInProgress    = "start_in_progress"
	CodeStopInProgress     = "stop_in_progress"
	CodeStillRunning       = "still_running"
	CodeKillTimeout        = "kill_timeout"
	CodeValidation         = "validation_error"
	CodeSpawnFailure       = "spawn_failure"
	CodePersistenceFailure = "persistence_failure"
	CodeShuttingDown       = "shutting_down"
	CodeInternal           = "internal_error"
)

type errorResp struct {
	Error string `json:"error"`
	Code  string `json:"code"`
	// Kind and Field are set for validation errors.
	Kind  string `json:"kind,omitempty"`
	Field string `json:"field,omitempty"`
}

type requestError struct{ msg string }

func (e *requestError) Error() string { return e.msg }

func badRequest(msg string) error { return &requestError{msg: msg} }

// classify maps an error to an HTTP status and response body.
func classify(err error) (int, errorResp) {
	resp := errorResp{Error: err.Error()}
	var (
		re *requestError
		ve *security.ValidationError
		se *manager.SpawnError
		pe *persistence.Error
		tv *template.VariableError
		tp *template.PlaceholderError
	)
	switch {
	case errors.As(err, &re), errors.Is(err, manager.ErrInvalidConfig), errors.As(err, &tv), errors.As(err, &tp):
		resp.Code = CodeInvalidRequest
		return http.StatusBadRequest, resp
	case errors.As(err, &ve):
		resp.Code, resp.Kind, resp.Field = CodeValidation, string(ve.Kind), ve.Field
		return http.StatusUnprocessableEntity, resp
	case errors.As(err, &se):
		resp.Code = CodeSpawnFailure
		return http.StatusInternalServerError, resp
	case errors.As(err, &pe):
		resp.Code = CodePersistenceFailure
		return http.StatusInternalServerError, resp
	case errors.Is(err, process.ErrKillTimeout):
		resp.Code = CodeKillTimeout
		return http.StatusInternalServerError, resp
	case errors.Is(err, manager.ErrNotFound), errors.Is(err, template.ErrNotFound):
		resp.Code = CodeNotFound
		return http.StatusNotFound, resp
	case errors.Is(err, manager.ErrAlreadyExists), errors.Is(err, template.ErrAlreadyExists):
		resp.Code = CodeAlreadyExists
	case errors.Is(err, manager.ErrAlreadyRunning):
		resp.Code = CodeAlreadyRunning
	case errors.Is(err, manager.ErrNotRunning):
		resp.Code = CodeNotRunning
	case errors.Is(err, manager.ErrStartInProgress):
		resp.Code = CodeStartInProgress
	case errors.Is(err, manager.ErrStopInProgress):
		resp.Code = CodeStopInProgress
	case errors.Is(err, manager.ErrStillRunning):
		resp.Code = CodeStillRunning
	case errors.Is(err, manager.ErrShuttingDown):
		resp.Code = CodeShuttingDown
		return http.StatusServiceUnavailable, resp
	default:
		resp.Code = CodeInternal
		return http.StatusInternalServerError, resp
	}
	return http.StatusConflict, resp
}

func writeError(c *gin.Context, err error) {
	code, body := classify(err)
	writeJSON(c, code, body)
}
