package server

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
)

var errNotConfigured = errors.New("not configured")

type pathReq struct {
	Path string `json:"path"`
}

func (r *Router) handleSettingsGet(c *gin.Context) {
	if r.settings == nil {
		writeJSON(c, http.StatusNotFound, errorResp{Error: "settings " + errNotConfigured.Error(), Code: CodeNotFound})
		return
	}
	writeJSON(c, http.StatusOK, r.settings.All())
}

func (r *Router) handleSettingsPut(c *gin.Context) {
	if r.settings == nil {
		writeJSON(c, http.StatusNotFound, errorResp{Error: "settings " + errNotConfigured.Error(), Code: CodeNotFound})
		return
	}
	var kv map[string]string
	if err := c.ShouldBindJSON(&kv); err != nil {
		writeError(c, badRequest("invalid JSON: "+err.Error()))
		return
	}
	if err := r.settings.Update(kv); err != nil {
		writeError(c, badRequest(err.Error()))
		return
	}
	r.changed()
	writeJSON(c, http.StatusOK, r.settings.All())
}

func (r *Router) requireSnapshotter(c *gin.Context) bool {
	if r.snap == nil {
		writeJSON(c, http.StatusNotFound, errorResp{Error: "persistence " + errNotConfigured.Error(), Code: CodeNotFound})
		return false
	}
	return true
}

func (r *Router) handleSnapshotSave(c *gin.Context) {
	if !r.requireSnapshotter(c) {
		return
	}
	if err := r.snap.Save(); err != nil {
		writeError(c, err)
		return
	}
	writeJSON(c, http.StatusOK, gin.H{"path": r.snap.Path(), "status": "saved"})
}

func bindPath(c *gin.Context) (string, bool) {
	var req pathReq
	if err := c.ShouldBindJSON(&req); err != nil {
		writeError(c, badRequest("invalid JSON: "+err.Error()))
		return "", false
	}
	if !isSafeAbsPath(req.Path) {
		writeError(c, badRequest("path must be an absolute path without traversal"))
		return "", false
	}
	return req.Path, true
}

func (r *Router) handleSnapshotExport(c *gin.Context) {
	if !r.requireSnapshotter(c) {
		return
	}
	path, ok := bindPath(c)
	if !ok {
		return
	}
	if err := r.snap.Export(path); err != nil {
		writeError(c, err)
		return
	}
	writeJSON(c, http.StatusOK, gin.H{"path": path, "status": "exported"})
}

func (r *Router) handleSnapshotImport(c *gin.Context) {
	if !r.requireSnapshotter(c) {
		return
	}
	path, ok := bindPath(c)
	if !ok {
		return
	}
	rep, err := r.snap.Import(path)
	if err != nil {
		writeError(c, err)
		return
	}
	writeJSON(c, http.StatusOK, rep)
}
