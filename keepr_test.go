package keepr

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/loykin/keepr/internal/config"
	"github.com/loykin/keepr/internal/registry"
	"github.com/loykin/keepr/internal/settings"
	"github.com/loykin/keepr/pkg/template"
)

func testConfig(t *testing.T) *Config {
	t.Helper()
	gin.SetMode(gin.TestMode)
	c, err := LoadConfig("")
	require.NoError(t, err)
	c.Persistence.SnapshotPath = filepath.Join(t.TempDir(), "state.yaml")
	c.Log.Slog.Level = "error"
	return c
}

func TestDaemonCreatesDeclaredProcesses(t *testing.T) {
	c := testConfig(t)
	c.Processes = []config.ProcConfig{
		{ID: "web", Command: "python3", Args: []string{"-m", "http.server"}, Env: []string{"PORT=8000"}},
	}
	d, err := New(c)
	require.NoError(t, err)

	rep, err := d.Restore(context.Background())
	require.NoError(t, err)
	assert.False(t, rep.Found)
	assert.Empty(t, rep.Started)
	assert.Equal(t, len(template.NewGenerator().Builtins()), rep.Templates)
	_, err = d.Manager().Templates().Get(string(template.TypeWeb))
	require.NoError(t, err)

	rec, err := d.Manager().Get("web")
	require.NoError(t, err)
	assert.Equal(t, registry.StateNotStarted, rec.State)
	assert.Equal(t, "8000", rec.Env["PORT"])

	ts := httptest.NewServer(d.Handler())
	defer ts.Close()
	resp, err := http.Get(ts.URL + "/api/processes")
	require.NoError(t, err)
	defer func() { _ = resp.Body.Close() }()
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var list []Record
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&list))
	require.Len(t, list, 1)
	assert.Equal(t, "web", list[0].ID)

	require.NoError(t, d.Shutdown())
	_, err = os.Stat(c.SnapshotPath())
	require.NoError(t, err)
}

func TestDaemonRestoreKeepsSnapshotOverDeclaration(t *testing.T) {
	c := testConfig(t)
	first, err := New(c)
	require.NoError(t, err)
	_, err = first.Manager().Create(ProcessConfig{ID: "web", Command: "sleep", Args: []string{"1"}})
	require.NoError(t, err)
	require.NoError(t, first.Shutdown())

	c.Processes = []config.ProcConfig{{ID: "web", Command: "other"}}
	second, err := New(c)
	require.NoError(t, err)
	rep, err := second.Restore(context.Background())
	require.NoError(t, err)
	assert.True(t, rep.Found)
	assert.Equal(t, 1, rep.Processes)
	rec, err := second.Manager().Get("web")
	require.NoError(t, err)
	assert.Equal(t, "sleep", rec.Command)
	require.NoError(t, second.Shutdown())
}

func TestDaemonHistorySink(t *testing.T) {
	c := testConfig(t)
	c.History.Sinks = []string{"sqlite://" + filepath.Join(t.TempDir(), "history.db")}
	d, err := New(c)
	require.NoError(t, err)
	_, err = d.Manager().Create(ProcessConfig{ID: "a", Command: "true"})
	require.NoError(t, err)
	require.NoError(t, d.Shutdown())
}

func TestNewRejectsBadConfig(t *testing.T) {
	c := testConfig(t)
	c.History.Sinks = []string{"bogus://x"}
	_, err := New(c)
	assert.Error(t, err)

	c = testConfig(t)
	c.Server.BasePath = "api"
	_, err = New(c)
	assert.Error(t, err)
}

func TestAutoSaveSettingSeededFromConfig(t *testing.T) {
	c := testConfig(t)
	c.Persistence.AutoSaveInterval = 90 * time.Second
	d, err := New(c)
	require.NoError(t, err)
	v, ok := d.Settings().Get(settings.KeyAutoSaveInterval)
	require.True(t, ok)
	assert.Equal(t, "90", v)

	for in, want := range map[time.Duration]string{
		0:                       "300",
		-time.Second:            "0",
		1500 * time.Millisecond: "2",
		time.Millisecond:        "1",
	} {
		assert.Equal(t, want, autoSaveSeconds(in), in.String())
	}
}
