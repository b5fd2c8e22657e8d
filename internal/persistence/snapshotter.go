package persistence

import (
	"context"
	"log/slog"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/loykin/keepr/internal/manager"
	"github.com/loykin/keepr/internal/metrics"
	"github.com/loykin/keepr/internal/registry"
	"github.com/loykin/keepr/internal/settings"
)

const (
	DefaultDebounce = 2 * time.Second
	DefaultInterval = 5 * time.Minute
)

// Options tunes a Snapshotter.
type Options struct {
	// Debounce delays a save after Notify so bursts of mutations produce one
	// write.
	Debounce time.Duration
	// Interval is the periodic save period used while the auto_save_interval
	// setting is absent or malformed. Negative disables it.
	Interval time.Duration
	Logger   *slog.Logger
}

// Snapshotter captures manager and settings state into a FileStore.
type Snapshotter struct {
	store    FileStore
	mgr      *manager.Manager
	settings *settings.Store
	log      *slog.Logger
	debounce time.Duration
	interval time.Duration
	now      func() time.Time

	kick   chan struct{}
	saveMu sync.Mutex
}

func NewSnapshotter(store FileStore, mgr *manager.Manager, st *settings.Store, opts Options) *Snapshotter {
	s := &Snapshotter{
		store:    store,
		mgr:      mgr,
		settings: st,
		log:      opts.Logger,
		debounce: opts.Debounce,
		interval: opts.Interval,
		now:      time.Now,
		kick:     make(chan struct{}, 1),
	}
	if s.log == nil {
		s.log = slog.Default()
	}
	if s.debounce <= 0 {
		s.debounce = DefaultDebounce
	}
	if s.interval == 0 {
		s.interval = DefaultInterval
	}
	return s
}

func (s *Snapshotter) Path() string { return s.store.Path }

// AutoSaveInterval is the periodic save period: the auto_save_interval setting
// in seconds, or the configured interval when the setting is absent or not a
// number. Zero or less means periodic saves are off.
func (s *Snapshotter) AutoSaveInterval() time.Duration {
	if s.settings != nil {
		if v, ok := s.settings.Get(settings.KeyAutoSaveInterval); ok {
			if n, err := strconv.Atoi(strings.TrimSpace(v)); err == nil {
				return time.Duration(n) * time.Second
			}
		}
	}
	return s.interval
}

// Capture reads a consistent view of every record, template and setting.
func (s *Snapshotter) Capture() Snapshot {
	recs := s.mgr.List(registry.FilterAll)
	snap := Snapshot{
		Version:   Version,
		SavedAt:   s.now().UTC().Round(0),
		Processes: make([]ProcessEntry, 0, len(recs)),
		Templates: s.mgr.Templates().List(),
	}
	for _, rec := range recs {
		snap.Processes = append(snap.Processes, entryFrom(rec))
	}
	if s.settings != nil {
		snap.Settings = s.settings.All()
	}
	return snap
}

// Save writes a snapshot now. Failures are logged and returned; in-memory
// state is never rolled back.
func (s *Snapshotter) Save() error {
	s.saveMu.Lock()
	defer s.saveMu.Unlock()
	start := time.Now()
	snap := s.Capture()
	err := s.store.Save(snap)
	metrics.ObserveSnapshot(time.Since(start).Seconds(), err)
	if err != nil {
		s.log.Error("snapshot save failed", slog.String("path", s.store.Path), slog.Any("error", err))
		return err
	}
	s.log.Debug("snapshot saved",
		slog.String("path", s.store.Path),
		slog.Int("processes", len(snap.Processes)),
		slog.Int("templates", len(snap.Templates)))
	return nil
}

// Notify schedules a debounced save. It never blocks.
func (s *Snapshotter) Notify() {
	select {
	case s.kick <- struct{}{}:
	default:
	}
}

// Run services Notify and the periodic timer until ctx is done. A pending
// debounced save is flushed on exit.
func (s *Snapshotter) Run(ctx context.Context) {
	var ticker *time.Ticker
	var tick <-chan time.Time
	interval := s.AutoSaveInterval()
	arm := func() {
		if ticker != nil {
			ticker.Stop()
			ticker, tick = nil, nil
		}
		if interval > 0 {
			ticker = time.NewTicker(interval)
			tick = ticker.C
		}
	}
	arm()
	defer func() {
		if ticker != nil {
			ticker.Stop()
		}
	}()
	debounce := time.NewTimer(s.debounce)
	if !debounce.Stop() {
		<-debounce.C
	}
	pending := false
	for {
		select {
		case <-ctx.Done():
			if pending {
				_ = s.Save()
			}
			return
		case <-s.kick:
			if d := s.AutoSaveInterval(); d != interval {
				s.log.Info("auto-save interval changed", slog.Duration("interval", d))
				interval = d
				arm()
			}
			if !pending {
				pending = true
				debounce.Reset(s.debounce)
			}
		case <-debounce.C:
			pending = false
			_ = s.Save()
		case <-tick:
			_ = s.Save()
		}
	}
}
