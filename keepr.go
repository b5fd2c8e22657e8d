// Package keepr embeds the process supervisor: it assembles the manager,
// persistence, history, metrics and the HTTP surface from one Config.
package keepr

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"golang.org/x/sync/errgroup"

	cfg "github.com/loykin/keepr/internal/config"
	"github.com/loykin/keepr/internal/history"
	"github.com/loykin/keepr/internal/history/factory"
	"github.com/loykin/keepr/internal/manager"
	"github.com/loykin/keepr/internal/metrics"
	"github.com/loykin/keepr/internal/persistence"
	"github.com/loykin/keepr/internal/registry"
	"github.com/loykin/keepr/internal/server"
	"github.com/loykin/keepr/internal/settings"
	"github.com/loykin/keepr/pkg/template"
)

// Re-export core types for external consumers.

type Config = cfg.Config

type ProcessConfig = registry.Config

type Record = registry.Record

type RestoreReport = persistence.Report

func LoadConfig(path string) (*Config, error) { return cfg.Load(path) }

// Daemon is one assembled supervisor. Create it with New, then either call
// Run, or Restore and mount Handler in your own server.
type Daemon struct {
	cfg      *Config
	log      *slog.Logger
	mgr      *manager.Manager
	settings *settings.Store
	snap     *persistence.Snapshotter
	hist     *history.Recorder
	sampler  *metrics.Sampler
	router   *server.Router
}

// New builds a Daemon from c. Nothing is spawned or loaded until Restore or
// Run.
func New(c *Config) (*Daemon, error) {
	if c == nil {
		var err error
		if c, err = cfg.Load(""); err != nil {
			return nil, err
		}
	}
	if err := c.Validate(); err != nil {
		return nil, err
	}
	log := c.Log.NewSlogger()

	sinks, err := factory.NewSinks(c.History.Sinks)
	if err != nil {
		return nil, fmt.Errorf("history: %w", err)
	}
	genv, err := c.GlobalEnv()
	if err != nil {
		return nil, err
	}

	d := &Daemon{cfg: c, log: log, settings: settings.NewWithDefaults(map[string]string{
		settings.KeyAutoSaveInterval: autoSaveSeconds(c.Persistence.AutoSaveInterval),
	})}
	d.hist = history.NewRecorder(log, c.History.QueueSize, sinks...)

	var metricsHandler http.Handler
	if c.Metrics.Enabled {
		if err := metrics.Register(prometheus.DefaultRegisterer); err != nil {
			return nil, fmt.Errorf("metrics: %w", err)
		}
		d.sampler = metrics.NewSampler()
		if c.Metrics.Listen == "" {
			metricsHandler = metrics.Handler()
		}
	}

	d.mgr = manager.New(manager.Options{
		OutputCapacity: c.Supervisor.OutputCapacity,
		StopTimeout:    c.Supervisor.StopTimeout,
		KillGrace:      c.Supervisor.KillGrace,
		Validator:      c.Validator(),
		ExitPolicy:     c.ExitPolicy(),
		Env:            genv,
		ProcessLogs:    c.ProcessLogs(),
		Logger:         log,
		History:        d.hist,
		Sampler:        d.sampler,
	})
	d.snap = persistence.NewSnapshotter(persistence.FileStore{Path: c.SnapshotPath()}, d.mgr, d.settings, persistence.Options{
		Debounce: c.Persistence.Debounce,
		Interval: c.Persistence.AutoSaveInterval,
		Logger:   log,
	})
	d.mgr.SetOnChange(d.snap.Notify)
	d.settings.OnChange = d.snap.Notify

	d.router = server.NewRouter(d.mgr, server.Options{
		BasePath:    c.Server.BasePath,
		Snapshotter: d.snap,
		Settings:    d.settings,
		Metrics:     metricsHandler,
		Logger:      log,
	})
	return d, nil
}

func (d *Daemon) Manager() *manager.Manager             { return d.mgr }
func (d *Daemon) Settings() *settings.Store             { return d.settings }
func (d *Daemon) Snapshotter() *persistence.Snapshotter { return d.snap }
func (d *Daemon) Logger() *slog.Logger                  { return d.log }

// Handler returns the HTTP surface.
func (d *Daemon) Handler() http.Handler { return d.router.Handler() }

// Restore loads the snapshot, auto-starts flagged records, then creates the
// config-declared processes missing from the restored state, starting those
// with auto_start. Without a snapshot the built-in templates are registered.
func (d *Daemon) Restore(ctx context.Context) (RestoreReport, error) {
	rep, err := d.snap.Restore(ctx)
	if err != nil {
		return rep, err
	}
	if !rep.Found {
		for _, t := range template.NewGenerator().Builtins() {
			if _, err := d.mgr.Templates().Create(t); err == nil {
				rep.Templates++
			}
		}
	}
	for _, pc := range d.cfg.Records() {
		if _, err := d.mgr.Get(pc.ID); err == nil {
			continue
		}
		if _, err := d.mgr.Create(pc); err != nil {
			d.log.Error("declared process not created", slog.String("process_id", pc.ID), slog.Any("error", err))
			rep.Failures = append(rep.Failures, persistence.Failure{ProcessID: pc.ID, Reason: err.Error()})
			continue
		}
		if !pc.AutoStartOnRestore {
			continue
		}
		if _, err := d.mgr.Start(pc.ID); err != nil {
			d.log.Error("auto-start failed", slog.String("process_id", pc.ID), slog.Any("error", err))
			rep.Failures = append(rep.Failures, persistence.Failure{ProcessID: pc.ID, Reason: err.Error()})
			continue
		}
		rep.Started = append(rep.Started, pc.ID)
	}
	return rep, nil
}

// Run restores state and serves until ctx is done, then stops every child,
// writes a final snapshot when configured and flushes history.
func (d *Daemon) Run(ctx context.Context) error {
	if _, err := d.Restore(ctx); err != nil {
		return err
	}

	bg, stopBg := context.WithCancel(context.Background())
	defer stopBg()
	snapDone := make(chan struct{})
	go func() {
		defer close(snapDone)
		d.snap.Run(bg)
	}()
	if d.sampler != nil {
		go d.sampler.Run(bg, d.cfg.Metrics.SampleInterval, d.mgr.RunningPIDs, d.log)
	}

	servers := []*http.Server{server.NewServer(d.cfg.Server.Listen, d.Handler())}
	if d.cfg.Metrics.Enabled && d.cfg.Metrics.Listen != "" {
		mux := http.NewServeMux()
		mux.Handle("/metrics", metrics.Handler())
		servers = append(servers, server.NewServer(d.cfg.Metrics.Listen, mux))
	}

	g, gctx := errgroup.WithContext(ctx)
	for _, srv := range servers {
		g.Go(func() error {
			d.log.Info("listening", slog.String("addr", srv.Addr))
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return fmt.Errorf("serve %s: %w", srv.Addr, err)
			}
			return nil
		})
	}
	g.Go(func() error {
		<-gctx.Done()
		sctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		for _, srv := range servers {
			_ = srv.Shutdown(sctx)
		}
		return nil
	})
	serveErr := g.Wait()

	d.log.Info("shutting down")
	if err := d.Shutdown(); err != nil {
		d.log.Error("shutdown incomplete", slog.Any("error", err))
	}
	stopBg()
	<-snapDone
	return serveErr
}

// Shutdown stops every running child, writes the final snapshot when
// save_on_shutdown is set and drains the history queue.
func (d *Daemon) Shutdown() error {
	timeout := d.mgr.StopTimeout()
	ctx, cancel := context.WithTimeout(context.Background(), timeout+10*time.Second)
	defer cancel()

	var errs []error
	if err := d.mgr.Shutdown(ctx, timeout); err != nil {
		errs = append(errs, err)
	}
	if d.cfg.Persistence.SaveOnShutdown {
		if err := d.snap.Save(); err != nil {
			errs = append(errs, err)
		}
	}
	if err := d.hist.Close(ctx); err != nil {
		errs = append(errs, err)
	}
	return errors.Join(errs...)
}

// autoSaveSeconds renders the configured auto-save period as the setting
// value. Zero keeps the default period, negative turns periodic saves off and
// anything under a second rounds up to one.
func autoSaveSeconds(d time.Duration) string {
	switch {
	case d == 0:
		d = persistence.DefaultInterval
	case d < 0:
		return "0"
	}
	return strconv.FormatInt(int64(max((d+time.Second-1)/time.Second, 1)), 10)
}
