package server

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/loykin/keepr/pkg/template"
)

type instantiateReq struct {
	ProcessID string            `json:"process_id"`
	Values    map[string]string `json:"values"`
}

func (r *Router) handleTemplateList(c *gin.Context) {
	writeJSON(c, http.StatusOK, r.mgr.Templates().Search(c.Query("category"), c.QueryArray("tag")))
}

func (r *Router) handleTemplateGet(c *gin.Context) {
	t, err := r.mgr.Templates().Get(c.Param("id"))
	if err != nil {
		writeError(c, err)
		return
	}
	writeJSON(c, http.StatusOK, t)
}

func bindTemplate(c *gin.Context) (template.Template, bool) {
	var t template.Template
	if err := c.ShouldBindJSON(&t); err != nil {
		writeError(c, badRequest("invalid JSON: "+err.Error()))
		return t, false
	}
	return t, true
}

func (r *Router) handleTemplateCreate(c *gin.Context) {
	t, ok := bindTemplate(c)
	if !ok {
		return
	}
	if err := t.Validate(); err != nil {
		writeError(c, badRequest(err.Error()))
		return
	}
	created, err := r.mgr.Templates().Create(t)
	if err != nil {
		writeError(c, err)
		return
	}
	r.changed()
	writeJSON(c, http.StatusCreated, created)
}

func (r *Router) handleTemplateUpdate(c *gin.Context) {
	t, ok := bindTemplate(c)
	if !ok {
		return
	}
	t.ID = c.Param("id")
	if err := t.Validate(); err != nil {
		writeError(c, badRequest(err.Error()))
		return
	}
	updated, err := r.mgr.Templates().Update(t)
	if err != nil {
		writeError(c, err)
		return
	}
	r.changed()
	writeJSON(c, http.StatusOK, updated)
}

func (r *Router) handleTemplateDelete(c *gin.Context) {
	id := c.Param("id")
	if err := r.mgr.Templates().Delete(id); err != nil {
		writeError(c, err)
		return
	}
	r.changed()
	writeJSON(c, http.StatusOK, gin.H{"template_id": id, "status": "removed"})
}

func (r *Router) handleTemplateInstantiate(c *gin.Context) {
	var req instantiateReq
	if err := c.ShouldBindJSON(&req); err != nil {
		writeError(c, badRequest("invalid JSON: "+err.Error()))
		return
	}
	rec, err := r.mgr.CreateFromTemplate(c.Param("id"), req.ProcessID, req.Values)
	if err != nil {
		writeError(c, err)
		return
	}
	writeJSON(c, http.StatusCreated, rec)
}

// changed schedules a snapshot after template or settings edits, which do not
// pass through the manager's change hook.
func (r *Router) changed() {
	if r.snap != nil {
		r.snap.Notify()
	}
}
