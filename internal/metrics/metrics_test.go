package metrics

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"sync"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// freshRegistry registers all collectors into a new registry regardless of
// earlier tests.
func freshRegistry(t *testing.T) *prometheus.Registry {
	t.Helper()
	reg := prometheus.NewRegistry()
	regOK.Store(false)
	require.NoError(t, Register(reg))
	return reg
}

func TestRegisterIdempotentAndCountersWork(t *testing.T) {
	reg := freshRegistry(t)
	require.NoError(t, Register(reg))

	IncStart("a")
	IncStart("a")
	IncStop("a", false)
	IncStop("a", true)
	IncFailure("a", CauseExit)
	RecordStateTransition("running", "stopped")
	RecordStateTransition("running", "running") // ignored
	SetRecordCounts(map[string]int{"running": 2, "stopped": 1})
	AddOutputLine("stdout")
	ObserveSnapshot(0.01, nil)
	ObserveSnapshot(0, errors.New("disk full"))

	assert.Equal(t, 2.0, testutil.ToFloat64(processStarts.WithLabelValues("a")))
	assert.Equal(t, 1.0, testutil.ToFloat64(processStops.WithLabelValues("a", "true")))
	assert.Equal(t, 1.0, testutil.ToFloat64(processFailures.WithLabelValues("a", CauseExit)))
	assert.Equal(t, 2.0, testutil.ToFloat64(recordsByState.WithLabelValues("running")))
	assert.Equal(t, 1.0, testutil.ToFloat64(snapshotFailures))

	mfs, err := reg.Gather()
	require.NoError(t, err)
	names := map[string]bool{}
	for _, mf := range mfs {
		names[mf.GetName()] = true
	}
	for _, want := range []string{
		"keepr_process_starts_total",
		"keepr_process_stops_total",
		"keepr_process_failures_total",
		"keepr_process_state_transitions_total",
		"keepr_registry_records",
		"keepr_output_lines_total",
		"keepr_persistence_snapshot_duration_seconds",
	} {
		assert.True(t, names[want], "missing %s", want)
	}

	Forget("a")
	assert.Equal(t, 0, testutil.CollectAndCount(processFailures))
}

func TestHandlerForServesMetrics(t *testing.T) {
	reg := freshRegistry(t)
	IncStart("x")

	srv := httptest.NewServer(HandlerFor(reg))
	defer srv.Close()

	resp, err := http.Get(srv.URL)
	require.NoError(t, err)
	defer func() { _ = resp.Body.Close() }()
	require.Equal(t, http.StatusOK, resp.StatusCode)
	b, _ := io.ReadAll(resp.Body)
	assert.Contains(t, string(b), `keepr_process_starts_total{process_id="x"} 1`)
}

func TestConcurrentIncrements(t *testing.T) {
	reg := freshRegistry(t)
	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			IncStart("c")
			IncStop("c", false)
			AddOutputLine("stderr")
		}()
	}
	wg.Wait()
	_, err := reg.Gather()
	require.NoError(t, err)
	assert.Equal(t, 50.0, testutil.ToFloat64(processStarts.WithLabelValues("c")))
}

func TestMetricsBeforeRegister(t *testing.T) {
	originalState := regOK.Load()
	regOK.Store(false)
	defer regOK.Store(originalState)

	IncStart("test")
	IncStop("test", true)
	IncFailure("test", CauseSpawn)
	RecordStateTransition("a", "b")
	SetRecordCounts(map[string]int{"x": 1})
	ObserveSnapshot(1, nil)
	Forget("test")
}

type errorRegisterer struct{}

func (errorRegisterer) Register(prometheus.Collector) error {
	return errors.New("test registration error")
}
func (errorRegisterer) MustRegister(...prometheus.Collector) {}
func (errorRegisterer) Unregister(prometheus.Collector) bool { return false }

func TestRegisterError(t *testing.T) {
	originalState := regOK.Load()
	regOK.Store(false)
	defer regOK.Store(originalState)

	err := Register(errorRegisterer{})
	assert.EqualError(t, err, "test registration error")
	assert.False(t, regOK.Load())
}

func TestSamplerSelf(t *testing.T) {
	s := NewSampler()
	u, err := s.Sample(context.Background(), int32(os.Getpid()))
	require.NoError(t, err)
	assert.Equal(t, int32(os.Getpid()), u.PID)
	assert.Positive(t, u.RSSBytes)
	assert.False(t, u.SampledAt.IsZero())

	s.Forget(u.PID)
	_, err = s.Sample(context.Background(), -1)
	assert.Error(t, err)
}
