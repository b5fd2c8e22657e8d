// Package manager is the lifecycle controller: it owns the live OS handle of
// every Running record and is the only writer of record state.
package manager

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/loykin/keepr/internal/env"
	"github.com/loykin/keepr/internal/history"
	"github.com/loykin/keepr/internal/logger"
	"github.com/loykin/keepr/internal/metrics"
	"github.com/loykin/keepr/internal/process"
	"github.com/loykin/keepr/internal/registry"
	"github.com/loykin/keepr/internal/security"
	"github.com/loykin/keepr/pkg/template"
)

// DefaultStopTimeout is the graceful phase of stop when the caller gives none.
const DefaultStopTimeout = 10 * time.Second

// Options configures a Manager. Zero values get sensible defaults.
type Options struct {
	OutputCapacity int
	StopTimeout    time.Duration
	// KillGrace bounds the wait for a child to be reaped after SIGKILL.
	KillGrace  time.Duration
	Validator  *security.Validator
	ExitPolicy process.ExitPolicy
	Env        *env.Env
	// ProcessLogs mirrors captured output to rotated files when File.Dir is set.
	ProcessLogs logger.Config
	Logger      *slog.Logger
	History     *history.Recorder
	Sampler     *metrics.Sampler
	Templates   *template.Store
	// OnChange is called after every mutation worth persisting.
	OnChange func()
}

type op int

const (
	opStart op = iota + 1
	opStop
)

func (o op) err() error {
	if o == opStop {
		return ErrStopInProgress
	}
	return ErrStartInProgress
}

// live is the side-table entry for a Running record.
type live struct {
	h       *process.Handle
	settled chan struct{} // closed once the exit has been recorded
}

// Manager starts, stops and monitors processes.
type Manager struct {
	reg         registry.Registry
	validator   *security.Validator
	policy      process.ExitPolicy
	env         *env.Env
	procLogs    logger.Config
	stopTimeout time.Duration
	killGrace   time.Duration
	log         *slog.Logger
	hist        *history.Recorder
	sampler     *metrics.Sampler
	templates   *template.Store
	onChange    func()

	mu       sync.Mutex
	handles  map[string]*live
	inflight map[string]op
	closed   bool

	wg sync.WaitGroup
}

func New(opts Options) *Manager {
	m := &Manager{
		reg:         registry.New(opts.OutputCapacity),
		validator:   opts.Validator,
		policy:      opts.ExitPolicy,
		env:         opts.Env,
		procLogs:    opts.ProcessLogs,
		stopTimeout: opts.StopTimeout,
		killGrace:   opts.KillGrace,
		log:         opts.Logger,
		hist:        opts.History,
		sampler:     opts.Sampler,
		templates:   opts.Templates,
		onChange:    opts.OnChange,
		handles:     make(map[string]*live),
		inflight:    make(map[string]op),
	}
	if m.validator == nil {
		m.validator = &security.Validator{}
	}
	if len(m.policy.SuccessCodes) == 0 {
		m.policy = process.DefaultExitPolicy()
	}
	if m.env == nil {
		m.env = env.New()
	}
	if m.stopTimeout <= 0 {
		m.stopTimeout = DefaultStopTimeout
	}
	if m.log == nil {
		m.log = slog.Default()
	}
	if m.templates == nil {
		m.templates = template.NewStore()
	}
	return m
}

// SetOnChange replaces the change hook. It must be called before the manager
// is shared between goroutines.
func (m *Manager) SetOnChange(fn func()) { m.onChange = fn }

// Registry exposes the record store for read-only consumers such as
// persistence.
func (m *Manager) Registry() registry.Registry { return m.reg }

func (m *Manager) Templates() *template.Store { return m.templates }

func (m *Manager) StopTimeout() time.Duration { return m.stopTimeout }

// begin reserves the in-flight slot for id.
func (m *Manager) begin(id string, o op) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed && o == opStart {
		return ErrShuttingDown
	}
	if cur, busy := m.inflight[id]; busy {
		return fmt.Errorf("%w: %s", cur.err(), id)
	}
	m.inflight[id] = o
	return nil
}

func (m *Manager) end(id string) {
	m.mu.Lock()
	delete(m.inflight, id)
	m.mu.Unlock()
}

// busy reports the in-flight error for id; the caller holds m.mu.
func (m *Manager) busyLocked(id string) error {
	if cur, ok := m.inflight[id]; ok {
		return fmt.Errorf("%w: %s", cur.err(), id)
	}
	return nil
}

func (m *Manager) changed() {
	if m.onChange != nil {
		m.onChange()
	}
}

// RunningPIDs maps process id to pid for every live child.
func (m *Manager) RunningPIDs() map[string]int {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make(map[string]int, len(m.handles))
	for id, lv := range m.handles {
		out[id] = lv.h.PID()
	}
	return out
}

// StopAll stops every Running process in parallel. A zero timeout uses the
// configured default.
func (m *Manager) StopAll(ctx context.Context, timeout time.Duration) error {
	ids := make([]string, 0)
	for id := range m.RunningPIDs() {
		ids = append(ids, id)
	}
	g, _ := errgroup.WithContext(ctx)
	for _, id := range ids {
		g.Go(func() error {
			_, err := m.Stop(id, timeout)
			switch {
			case err == nil, errors.Is(err, ErrNotRunning), errors.Is(err, ErrStopInProgress):
				return nil
			}
			return err
		})
	}
	return g.Wait()
}

// Shutdown refuses new starts, stops all children and waits for their
// monitors to finish or ctx to expire.
func (m *Manager) Shutdown(ctx context.Context, timeout time.Duration) error {
	m.mu.Lock()
	m.closed = true
	m.mu.Unlock()

	err := m.StopAll(ctx, timeout)
	done := make(chan struct{})
	go func() {
		m.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-ctx.Done():
		return errors.Join(err, ctx.Err())
	}
	return err
}
