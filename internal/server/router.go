// Package server exposes the supervisor's tool-invocation surface over HTTP.
package server

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/loykin/keepr/internal/manager"
	"github.com/loykin/keepr/internal/persistence"
	"github.com/loykin/keepr/internal/settings"
)

// Options configures a Router. Snapshotter and Settings are optional; their
// routes answer 404 when absent.
type Options struct {
	BasePath    string
	Snapshotter *persistence.Snapshotter
	Settings    *settings.Store
	// Metrics is mounted at /metrics (outside the base path) when set.
	Metrics http.Handler
	Logger  *slog.Logger
}

// Router provides embeddable HTTP handlers for managing processes.
// Routes, relative to basePath:
//
//	POST   /processes                     create
//	GET    /processes?filter=             list
//	GET    /processes/:id                 status
//	PATCH  /processes/:id                 update config
//	DELETE /processes/:id                 remove
//	POST   /processes/:id/start           start
//	POST   /processes/:id/stop            stop (timeout_ms)
//	POST   /processes/:id/restart         restart (timeout_ms)
//	GET    /processes/:id/output          output (limit, stream)
//	GET    /templates, POST /templates
//	GET|PUT|DELETE /templates/:id
//	POST   /templates/:id/instantiate
//	GET|PUT /settings
//	POST   /snapshot, /snapshot/export, /snapshot/import
type Router struct {
	mgr      *manager.Manager
	snap     *persistence.Snapshotter
	settings *settings.Store
	metrics  http.Handler
	log      *slog.Logger
	basePath string
}

func NewRouter(mgr *manager.Manager, opts Options) *Router {
	r := &Router{
		mgr:      mgr,
		snap:     opts.Snapshotter,
		settings: opts.Settings,
		metrics:  opts.Metrics,
		log:      opts.Logger,
		basePath: sanitizeBase(opts.BasePath),
	}
	if r.log == nil {
		r.log = slog.Default()
	}
	return r
}

// Handler returns an http.Handler powered by gin that can be mounted in any server/mux.
func (r *Router) Handler() http.Handler {
	g := gin.New()
	g.Use(gin.Recovery(), r.requestLog)
	if r.metrics != nil {
		g.GET("/metrics", gin.WrapH(r.metrics))
	}
	api := g.Group(r.basePath)

	procs := api.Group("/processes")
	procs.POST("", r.handleCreate)
	procs.GET("", r.handleList)
	procs.GET("/:id", r.handleStatus)
	procs.PATCH("/:id", r.handleUpdate)
	procs.DELETE("/:id", r.handleRemove)
	procs.POST("/:id/start", r.handleStart)
	procs.POST("/:id/stop", r.handleStop)
	procs.POST("/:id/restart", r.handleRestart)
	procs.GET("/:id/output", r.handleOutput)

	tpls := api.Group("/templates")
	tpls.GET("", r.handleTemplateList)
	tpls.POST("", r.handleTemplateCreate)
	tpls.GET("/:id", r.handleTemplateGet)
	tpls.PUT("/:id", r.handleTemplateUpdate)
	tpls.DELETE("/:id", r.handleTemplateDelete)
	tpls.POST("/:id/instantiate", r.handleTemplateInstantiate)

	api.GET("/settings", r.handleSettingsGet)
	api.PUT("/settings", r.handleSettingsPut)

	api.POST("/snapshot", r.handleSnapshotSave)
	api.POST("/snapshot/export", r.handleSnapshotExport)
	api.POST("/snapshot/import", r.handleSnapshotImport)
	return g
}

func (r *Router) requestLog(c *gin.Context) {
	start := time.Now()
	c.Next()
	r.log.Debug("http request",
		slog.String("method", c.Request.Method),
		slog.String("path", c.FullPath()),
		slog.Int("status", c.Writer.Status()),
		slog.Duration("elapsed", time.Since(start)))
}

// NewServer wraps h in an http.Server with conservative timeouts. The caller
// starts and shuts it down.
func NewServer(addr string, h http.Handler) *http.Server {
	return &http.Server{
		Addr:              addr,
		Handler:           h,
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       15 * time.Second,
		// stop and restart may wait out a graceful timeout
		WriteTimeout: 2 * time.Minute,
		IdleTimeout:  60 * time.Second,
	}
}
