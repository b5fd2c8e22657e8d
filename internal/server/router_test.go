package server

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/loykin/keepr/internal/manager"
	"github.com/loykin/keepr/internal/persistence"
	"github.com/loykin/keepr/internal/process"
	"github.com/loykin/keepr/internal/registry"
	"github.com/loykin/keepr/internal/security"
	"github.com/loykin/keepr/internal/settings"
)

type testEnv struct {
	h    http.Handler
	mgr  *manager.Manager
	snap *persistence.Snapshotter
	dir  string
}

func setupRouter(t *testing.T, base string) testEnv {
	t.Helper()
	gin.SetMode(gin.TestMode)
	quiet := slog.New(slog.NewTextHandler(io.Discard, nil))
	mgr := manager.New(manager.Options{Logger: quiet, Validator: &security.Validator{}})
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = mgr.Shutdown(ctx, time.Second)
	})
	dir := t.TempDir()
	set := settings.New()
	snap := persistence.NewSnapshotter(persistence.FileStore{Path: filepath.Join(dir, "state.yaml")}, mgr, set, persistence.Options{Logger: quiet, Interval: -1})
	r := NewRouter(mgr, Options{BasePath: base, Snapshotter: snap, Settings: set, Logger: quiet})
	return testEnv{h: r.Handler(), mgr: mgr, snap: snap, dir: dir}
}

func doReq(t *testing.T, h http.Handler, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var rdr io.Reader
	if body != nil {
		b, _ := json.Marshal(body)
		rdr = bytes.NewReader(b)
	}
	req := httptest.NewRequest(method, path, rdr)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func decode[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &v), rec.Body.String())
	return v
}

func TestSanitizeBase(t *testing.T) {
	assert.Equal(t, "", sanitizeBase(" / "))
	assert.Equal(t, "/api", sanitizeBase("api/"))
	assert.Equal(t, "/a/b", sanitizeBase("/a/b//"))
}

func TestIsSafeAbsPath(t *testing.T) {
	assert.True(t, isSafeAbsPath("/tmp/x.yaml"))
	assert.False(t, isSafeAbsPath(""))
	assert.False(t, isSafeAbsPath("rel/x.yaml"))
	assert.False(t, isSafeAbsPath("/tmp/../etc/passwd"))
}

func TestCreateListStatusRemove(t *testing.T) {
	env := setupRouter(t, "/api")

	rec := doReq(t, env.h, http.MethodPost, "/api/processes", createReq{ProcessID: "p1", Command: "sleep", Args: []string{"5"}})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	created := decode[actionResp](t, rec)
	assert.Equal(t, actionResp{ProcessID: "p1", Status: "created"}, created)

	rec = doReq(t, env.h, http.MethodPost, "/api/processes", createReq{ProcessID: "p1", Command: "sleep"})
	assert.Equal(t, http.StatusConflict, rec.Code)
	assert.Equal(t, CodeAlreadyExists, decode[errorResp](t, rec).Code)

	rec = doReq(t, env.h, http.MethodPost, "/api/processes", createReq{ProcessID: "bad id", Command: "sleep"})
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = doReq(t, env.h, http.MethodGet, "/api/processes?filter=not_started", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	list := decode[[]registry.Record](t, rec)
	require.Len(t, list, 1)
	assert.Equal(t, "p1", list[0].ID)

	rec = doReq(t, env.h, http.MethodGet, "/api/processes?filter=running", nil)
	assert.Equal(t, "[]\n", rec.Body.String())
	rec = doReq(t, env.h, http.MethodGet, "/api/processes?filter=zombie", nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	rec = doReq(t, env.h, http.MethodGet, "/api/processes?name=sle", nil)
	require.Len(t, decode[[]registry.Record](t, rec), 1)
	rec = doReq(t, env.h, http.MethodGet, "/api/processes?filter=not_started&name=p2", nil)
	assert.Equal(t, "[]\n", rec.Body.String())

	rec = doReq(t, env.h, http.MethodGet, "/api/processes/p1", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	st := decode[map[string]any](t, rec)
	assert.Equal(t, "p1", st["process_id"])
	assert.Equal(t, "not_started", st["state"])
	assert.NotContains(t, st, "pid")

	rec = doReq(t, env.h, http.MethodGet, "/api/processes/nope", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Equal(t, CodeNotFound, decode[errorResp](t, rec).Code)

	rec = doReq(t, env.h, http.MethodPost, "/api/processes/p1/stop", nil)
	assert.Equal(t, http.StatusConflict, rec.Code)
	assert.Equal(t, CodeNotRunning, decode[errorResp](t, rec).Code)

	rec = doReq(t, env.h, http.MethodDelete, "/api/processes/p1", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "removed", decode[actionResp](t, rec).Status)
	rec = doReq(t, env.h, http.MethodDelete, "/api/processes/p1", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestUpdateProcess(t *testing.T) {
	env := setupRouter(t, "")
	doReq(t, env.h, http.MethodPost, "/processes", createReq{ProcessID: "u", Command: "true"})

	rec := doReq(t, env.h, http.MethodPatch, "/processes/u", map[string]any{"args": []string{"x"}, "tags": []string{"b", "a"}})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	got := decode[registry.Record](t, rec)
	assert.Equal(t, []string{"x"}, got.Args)
	assert.Equal(t, []string{"a", "b"}, got.Tags)
}

func TestValidationErrorOnStart(t *testing.T) {
	env := setupRouter(t, "")
	doReq(t, env.h, http.MethodPost, "/processes", createReq{ProcessID: "inj", Command: "echo", Args: []string{"$(reboot)"}})

	rec := doReq(t, env.h, http.MethodPost, "/processes/inj/start", nil)
	require.Equal(t, http.StatusUnprocessableEntity, rec.Code, rec.Body.String())
	body := decode[errorResp](t, rec)
	assert.Equal(t, CodeValidation, body.Code)
	assert.Equal(t, string(security.KindShellMeta), body.Kind)
	assert.Equal(t, "args[0]", body.Field)

	rec = doReq(t, env.h, http.MethodGet, "/processes/inj", nil)
	st := decode[registry.Record](t, rec)
	assert.Equal(t, registry.StateFailed, st.State)
	assert.NotEmpty(t, st.Error)
}

func TestOutputParams(t *testing.T) {
	env := setupRouter(t, "")
	doReq(t, env.h, http.MethodPost, "/processes", createReq{ProcessID: "o", Command: "true"})

	rec := doReq(t, env.h, http.MethodGet, "/processes/o/output", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	out := decode[outputResp](t, rec)
	assert.Equal(t, "o", out.ProcessID)
	assert.Empty(t, out.Lines)

	rec = doReq(t, env.h, http.MethodGet, "/processes/o/output?limit=-1", nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	rec = doReq(t, env.h, http.MethodGet, "/processes/o/output?stream=video", nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	rec = doReq(t, env.h, http.MethodGet, "/processes/missing/output", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestTemplatesAPI(t *testing.T) {
	env := setupRouter(t, "")
	tpl := map[string]any{
		"template_id": "greet",
		"command":     "echo",
		"args":        []string{"hello", "{{WHO}}"},
		"variables":   []map[string]any{{"name": "WHO", "type": "string", "required": true}},
		"category":    "demo",
		"tags":        []string{"greeting"},
	}
	rec := doReq(t, env.h, http.MethodPost, "/templates", tpl)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	rec = doReq(t, env.h, http.MethodPost, "/templates", tpl)
	assert.Equal(t, http.StatusConflict, rec.Code)
	rec = doReq(t, env.h, http.MethodPost, "/templates", map[string]any{"template_id": "x"})
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = doReq(t, env.h, http.MethodGet, "/templates", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Len(t, decode[[]map[string]any](t, rec), 1)
	rec = doReq(t, env.h, http.MethodGet, "/templates?category=DEMO&tag=greeting", nil)
	assert.Len(t, decode[[]map[string]any](t, rec), 1)
	rec = doReq(t, env.h, http.MethodGet, "/templates?category=demo&tag=greeting&tag=other", nil)
	assert.Len(t, decode[[]map[string]any](t, rec), 0)

	rec = doReq(t, env.h, http.MethodPost, "/templates/greet/instantiate", instantiateReq{ProcessID: "g1", Values: map[string]string{"WHO": "bob"}})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	assert.Equal(t, []string{"hello", "bob"}, decode[registry.Record](t, rec).Args)

	rec = doReq(t, env.h, http.MethodPost, "/templates/greet/instantiate", instantiateReq{ProcessID: "g2"})
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	tpl["description"] = "updated"
	rec = doReq(t, env.h, http.MethodPut, "/templates/greet", tpl)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, "updated", decode[map[string]any](t, rec)["description"])

	rec = doReq(t, env.h, http.MethodDelete, "/templates/greet", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	rec = doReq(t, env.h, http.MethodGet, "/templates/greet", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestSettingsAPI(t *testing.T) {
	env := setupRouter(t, "")
	rec := doReq(t, env.h, http.MethodGet, "/settings", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "dark", decode[map[string]string](t, rec)[settings.KeyTheme])

	rec = doReq(t, env.h, http.MethodPut, "/settings", map[string]string{settings.KeyTheme: "light"})
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "light", decode[map[string]string](t, rec)[settings.KeyTheme])
}

func TestSnapshotAPI(t *testing.T) {
	env := setupRouter(t, "")
	doReq(t, env.h, http.MethodPost, "/processes", createReq{ProcessID: "s", Command: "true"})

	rec := doReq(t, env.h, http.MethodPost, "/snapshot", nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.FileExists(t, filepath.Join(env.dir, "state.yaml"))

	out := filepath.Join(env.dir, "export.yaml")
	rec = doReq(t, env.h, http.MethodPost, "/snapshot/export", pathReq{Path: out})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.FileExists(t, out)

	rec = doReq(t, env.h, http.MethodPost, "/snapshot/export", pathReq{Path: "relative.yaml"})
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = doReq(t, env.h, http.MethodPost, "/snapshot/import", pathReq{Path: out})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	rep := decode[persistence.Report](t, rec)
	assert.Equal(t, []string{"s"}, rep.Skipped)

	rec = doReq(t, env.h, http.MethodPost, "/snapshot/import", pathReq{Path: filepath.Join(env.dir, "none.yaml")})
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.Equal(t, CodePersistenceFailure, decode[errorResp](t, rec).Code)
}

func TestMetricsRoute(t *testing.T) {
	gin.SetMode(gin.TestMode)
	mgr := manager.New(manager.Options{Logger: slog.New(slog.NewTextHandler(io.Discard, nil))})
	h := NewRouter(mgr, Options{
		BasePath: "/api",
		Metrics:  http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) { _, _ = w.Write([]byte("ok")) }),
	}).Handler()
	rec := doReq(t, h, http.MethodGet, "/metrics", nil)
	assert.Equal(t, "ok", rec.Body.String())

	rec = doReq(t, h, http.MethodGet, "/api/settings", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
	rec = doReq(t, h, http.MethodPost, "/api/snapshot", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestClassify(t *testing.T) {
	code, body := classify(manager.ErrStartInProgress)
	assert.Equal(t, http.StatusConflict, code)
	assert.Equal(t, CodeStartInProgress, body.Code)

	code, body = classify(&manager.SpawnError{ID: "x", Err: assert.AnError})
	assert.Equal(t, http.StatusInternalServerError, code)
	assert.Equal(t, CodeSpawnFailure, body.Code)

	code, _ = classify(manager.ErrShuttingDown)
	assert.Equal(t, http.StatusServiceUnavailable, code)

	code, body = classify(fmt.Errorf("stop web: %w", process.ErrKillTimeout))
	assert.Equal(t, http.StatusInternalServerError, code)
	assert.Equal(t, CodeKillTimeout, body.Code)
}
