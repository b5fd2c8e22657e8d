package client

import (
	"context"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/loykin/keepr/internal/manager"
	"github.com/loykin/keepr/internal/security"
	"github.com/loykin/keepr/internal/server"
	"github.com/loykin/keepr/internal/settings"
	"github.com/loykin/keepr/pkg/template"
)

var quiet = slog.New(slog.NewTextHandler(io.Discard, nil))

func newTestClient(t *testing.T) (*Client, *manager.Manager) {
	t.Helper()
	gin.SetMode(gin.TestMode)
	mgr := manager.New(manager.Options{Logger: quiet, Validator: &security.Validator{AllowShell: true}})
	t.Cleanup(func() { _ = mgr.Shutdown(context.Background(), time.Second) })
	r := server.NewRouter(mgr, server.Options{BasePath: "/api", Settings: settings.New(), Logger: quiet})
	ts := httptest.NewServer(r.Handler())
	t.Cleanup(ts.Close)
	return New(Config{BaseURL: ts.URL + "/api/", Logger: quiet}), mgr
}

func TestNewDefaults(t *testing.T) {
	c := New(Config{})
	assert.Equal(t, DefaultBaseURL, c.baseURL)
	assert.Equal(t, 30*time.Second, c.client.Timeout)
	assert.NotNil(t, c.logger)
}

func TestRecordCRUD(t *testing.T) {
	c, _ := newTestClient(t)
	ctx := context.Background()

	assert.True(t, c.IsReachable(ctx))

	res, err := c.Create(ctx, CreateRequest{ProcessID: "web", Command: "sleep", Args: []string{"5"}, Tags: []string{"b", "a"}})
	require.NoError(t, err)
	assert.Equal(t, "created", res.Status)

	_, err = c.Create(ctx, CreateRequest{ProcessID: "web", Command: "sleep"})
	assert.True(t, IsCode(err, "already_exists"), "got %v", err)

	list, err := c.List(ctx, ListQuery{})
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.Equal(t, "not_started", list[0].State)
	assert.Equal(t, []string{"a", "b"}, list[0].Tags)

	running, err := c.List(ctx, ListQuery{Filter: "running"})
	require.NoError(t, err)
	assert.Empty(t, running)

	byName, err := c.List(ctx, ListQuery{Name: "sle"})
	require.NoError(t, err)
	require.Len(t, byName, 1)
	assert.Equal(t, "web", byName[0].ProcessID)
	none, err := c.List(ctx, ListQuery{Name: "python"})
	require.NoError(t, err)
	assert.Empty(t, none)

	name := "frontend"
	p, err := c.Update(ctx, "web", UpdateRequest{Name: &name})
	require.NoError(t, err)
	assert.Equal(t, "frontend", p.Name)

	st, err := c.Status(ctx, "web")
	require.NoError(t, err)
	assert.Equal(t, "frontend", st.Name)
	assert.Nil(t, st.Usage)

	_, err = c.Remove(ctx, "web")
	require.NoError(t, err)
	_, err = c.Status(ctx, "web")
	var ae *APIError
	require.ErrorAs(t, err, &ae)
	assert.Equal(t, http.StatusNotFound, ae.Status)
	assert.Equal(t, "not_found", ae.Code)
}

func TestValidationErrorDetails(t *testing.T) {
	c, _ := newTestClient(t)
	ctx := context.Background()
	_, err := c.Create(ctx, CreateRequest{ProcessID: "bad", Command: "ls", Env: map[string]string{"LD_PRELOAD": "/x.so"}})
	require.NoError(t, err)

	_, err = c.Start(ctx, "bad")
	var ae *APIError
	require.ErrorAs(t, err, &ae)
	assert.Equal(t, http.StatusUnprocessableEntity, ae.Status)
	assert.Equal(t, "validation_error", ae.Code)
	assert.Equal(t, "env[LD_PRELOAD]", ae.Field)
	assert.NotEmpty(t, ae.Kind)

	st, err := c.Status(ctx, "bad")
	require.NoError(t, err)
	assert.Equal(t, "failed", st.State)
}

func TestStopNotRunning(t *testing.T) {
	c, _ := newTestClient(t)
	ctx := context.Background()
	_, err := c.Create(ctx, CreateRequest{ProcessID: "idle", Command: "sleep"})
	require.NoError(t, err)
	_, err = c.Stop(ctx, "idle", time.Second)
	assert.True(t, IsCode(err, "not_running"), "got %v", err)
}

func TestTemplatesAndSettings(t *testing.T) {
	c, _ := newTestClient(t)
	ctx := context.Background()

	def := "8080"
	_, err := c.CreateTemplate(ctx, template.Template{
		ID:        "srv",
		Command:   "python3",
		Args:      []string{"-m", "http.server", "{{PORT}}"},
		Variables: []template.Variable{{Name: "PORT", Type: template.VarNumber, Default: &def}},
	})
	require.NoError(t, err)

	_, err = c.CreateTemplate(ctx, template.Template{ID: "tail", Command: "tail", Category: "monitoring", Tags: []string{"logs"}})
	require.NoError(t, err)

	tpls, err := c.Templates(ctx, TemplateQuery{})
	require.NoError(t, err)
	require.Len(t, tpls, 2)
	tpls, err = c.Templates(ctx, TemplateQuery{Category: "monitoring", Tags: []string{"logs"}})
	require.NoError(t, err)
	require.Len(t, tpls, 1)
	assert.Equal(t, "tail", tpls[0].ID)
	tpls, err = c.Templates(ctx, TemplateQuery{Tags: []string{"logs", "web"}})
	require.NoError(t, err)
	assert.Empty(t, tpls)

	p, err := c.Instantiate(ctx, "srv", "srv-1", map[string]string{"PORT": "9000"})
	require.NoError(t, err)
	assert.Equal(t, []string{"-m", "http.server", "9000"}, p.Args)

	_, err = c.Instantiate(ctx, "srv", "srv-2", map[string]string{"PORT": "abc"})
	assert.True(t, IsCode(err, "invalid_request"), "got %v", err)

	require.NoError(t, c.DeleteTemplate(ctx, "srv"))
	assert.True(t, IsCode(c.DeleteTemplate(ctx, "srv"), "not_found"))

	kv, err := c.Settings(ctx)
	require.NoError(t, err)
	assert.Equal(t, "dark", kv["theme"])
	kv, err = c.UpdateSettings(ctx, map[string]string{"theme": "light"})
	require.NoError(t, err)
	assert.Equal(t, "light", kv["theme"])

	// no snapshotter configured
	assert.True(t, IsCode(c.SaveSnapshot(ctx), "not_found"))
}

func TestNonJSONErrorBody(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "boom", http.StatusBadGateway)
	}))
	defer ts.Close()
	c := New(Config{BaseURL: ts.URL, Logger: quiet})
	_, err := c.List(context.Background(), ListQuery{})
	var ae *APIError
	require.ErrorAs(t, err, &ae)
	assert.Equal(t, http.StatusBadGateway, ae.Status)
	assert.Equal(t, "HTTP 502: Bad Gateway", ae.Error())
}
