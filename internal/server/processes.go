package server

import (
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/loykin/keepr/internal/buffer"
	"github.com/loykin/keepr/internal/manager"
	"github.com/loykin/keepr/internal/registry"
	"github.com/loykin/keepr/internal/settings"
)

// defaultOutputLimit applies when neither the request nor settings give one.
const defaultOutputLimit = 1000

type createReq struct {
	ProcessID          string            `json:"process_id"`
	Name               string            `json:"name"`
	Command            string            `json:"command"`
	Args               []string          `json:"args"`
	Env                map[string]string `json:"env"`
	Cwd                string            `json:"cwd"`
	Shell              bool              `json:"shell"`
	AutoStartOnRestore bool              `json:"auto_start_on_restore"`
	Tags               []string          `json:"tags"`
}

type actionResp struct {
	ProcessID string `json:"process_id"`
	Status    string `json:"status"`
	PID       int    `json:"pid,omitempty"`
	ExitCode  *int   `json:"exit_code,omitempty"`
	Error     string `json:"error,omitempty"`
}

type outputResp struct {
	ProcessID string         `json:"process_id"`
	Lines     []string       `json:"lines"`
	Entries   []buffer.Entry `json:"entries"`
}

func (r *Router) handleCreate(c *gin.Context) {
	var req createReq
	if err := c.ShouldBindJSON(&req); err != nil {
		writeError(c, badRequest("invalid JSON: "+err.Error()))
		return
	}
	rec, err := r.mgr.Create(registry.Config{
		ID:                 req.ProcessID,
		Name:               req.Name,
		Command:            req.Command,
		Args:               req.Args,
		Env:                req.Env,
		Cwd:                req.Cwd,
		Shell:              req.Shell,
		AutoStartOnRestore: req.AutoStartOnRestore,
		Tags:               req.Tags,
	})
	if err != nil {
		writeError(c, err)
		return
	}
	writeJSON(c, http.StatusCreated, actionResp{ProcessID: rec.ID, Status: "created"})
}

func (r *Router) handleList(c *gin.Context) {
	f, err := registry.ParseFilter(c.Query("filter"))
	if err != nil {
		writeError(c, badRequest(err.Error()))
		return
	}
	recs := r.mgr.Find(registry.Query{State: f, Name: c.Query("name")})
	if len(recs) == 0 {
		recs = []registry.Record{}
	}
	writeJSON(c, http.StatusOK, recs)
}

func (r *Router) handleStatus(c *gin.Context) {
	st, err := r.mgr.Status(c.Request.Context(), c.Param("id"))
	if err != nil {
		writeError(c, err)
		return
	}
	writeJSON(c, http.StatusOK, st)
}

func (r *Router) handleUpdate(c *gin.Context) {
	var patch manager.ConfigPatch
	if err := c.ShouldBindJSON(&patch); err != nil {
		writeError(c, badRequest("invalid JSON: "+err.Error()))
		return
	}
	rec, err := r.mgr.UpdateConfig(c.Param("id"), patch)
	if err != nil {
		writeError(c, err)
		return
	}
	writeJSON(c, http.StatusOK, rec)
}

func (r *Router) handleRemove(c *gin.Context) {
	rec, err := r.mgr.Remove(c.Param("id"))
	if err != nil {
		writeError(c, err)
		return
	}
	writeJSON(c, http.StatusOK, actionResp{ProcessID: rec.ID, Status: "removed"})
}

func (r *Router) handleStart(c *gin.Context) {
	rec, err := r.mgr.Start(c.Param("id"))
	if err != nil {
		writeError(c, err)
		return
	}
	writeJSON(c, http.StatusOK, actionResp{ProcessID: rec.ID, Status: string(rec.State), PID: rec.PID})
}

func stopTimeout(c *gin.Context) (time.Duration, error) {
	ms, ok, err := queryInt(c, "timeout_ms")
	if err != nil || !ok {
		return 0, err
	}
	return time.Duration(ms) * time.Millisecond, nil
}

func (r *Router) handleStop(c *gin.Context) {
	timeout, err := stopTimeout(c)
	if err != nil {
		writeError(c, err)
		return
	}
	rec, err := r.mgr.Stop(c.Param("id"), timeout)
	if err != nil {
		writeError(c, err)
		return
	}
	writeJSON(c, http.StatusOK, actionResp{ProcessID: rec.ID, Status: string(rec.State), ExitCode: rec.ExitCode, Error: rec.Error})
}

func (r *Router) handleRestart(c *gin.Context) {
	timeout, err := stopTimeout(c)
	if err != nil {
		writeError(c, err)
		return
	}
	rec, err := r.mgr.Restart(c.Param("id"), timeout)
	if err != nil {
		writeError(c, err)
		return
	}
	writeJSON(c, http.StatusOK, actionResp{ProcessID: rec.ID, Status: string(rec.State), PID: rec.PID})
}

func (r *Router) handleOutput(c *gin.Context) {
	limit, ok, err := queryInt(c, "limit")
	if err != nil {
		writeError(c, err)
		return
	}
	if !ok {
		limit = r.defaultLimit()
	}
	stream := strings.ToLower(c.Query("stream"))
	switch stream {
	case "", "both", string(buffer.Stdout), string(buffer.Stderr):
	default:
		writeError(c, badRequest("stream must be stdout, stderr or both"))
		return
	}
	id := c.Param("id")
	entries, err := r.mgr.Output(id, limit, stream)
	if err != nil {
		writeError(c, err)
		return
	}
	lines := make([]string, len(entries))
	for i, e := range entries {
		lines[i] = e.Line
	}
	if entries == nil {
		entries = []buffer.Entry{}
	}
	writeJSON(c, http.StatusOK, outputResp{ProcessID: id, Lines: lines, Entries: entries})
}

func (r *Router) defaultLimit() int {
	if r.settings == nil {
		return defaultOutputLimit
	}
	v, ok := r.settings.Get(settings.KeyMaxLogLines)
	if !ok {
		return defaultOutputLimit
	}
	n, err := strconv.Atoi(v)
	if err != nil || n <= 0 {
		return defaultOutputLimit
	}
	return n
}
