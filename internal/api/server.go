// Package api is the HTTP surface of linewatch. Every JSON response uses the
// {success, data, error} envelope; the notification feed is streamed as
// server-sent events.
package api

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"golang.org/x/sync/errgroup"

	"github.com/hurttlocker/linewatch/internal/conflict"
	"github.com/hurttlocker/linewatch/internal/export"
	"github.com/hurttlocker/linewatch/internal/lines"
	"github.com/hurttlocker/linewatch/internal/logging"
	"github.com/hurttlocker/linewatch/internal/plan"
	"github.com/hurttlocker/linewatch/internal/scan"
	"github.com/hurttlocker/linewatch/internal/store"
)

// Defaults for Options.
const (
	DefaultMaxUploadBytes = 20 << 20
	DefaultPollInterval   = 2 * time.Second
	DefaultHeartbeat      = 15 * time.Second
	FeedBatchSize         = 100
	shutdownTimeout       = 10 * time.Second
)

// Store is the persistence the handlers read directly.
type Store interface {
	ListLines(ctx context.Context, activeOnly bool) ([]store.Line, error)
	ListAliases(ctx context.Context) ([]store.LineAlias, error)
	EnsureLine(ctx context.Context, name string) (*store.Line, error)
	SetLineActive(ctx context.Context, lineID int64, active bool) error
	UpsertAlias(ctx context.Context, lineID int64, alias string, weight float64) error
	ListPlanTasks(ctx context.Context, filter store.TaskFilter) ([]store.PlanTask, error)
	ListDowntimes(ctx context.Context, filter store.DowntimeFilter) ([]store.Downtime, error)
	GetLineByName(ctx context.Context, name string) (*store.Line, error)
	GetScanJob(ctx context.Context, id string) (*store.ScanJob, error)
	ListScanJobs(ctx context.Context, limit int) ([]store.ScanJob, error)
	ListNotifications(ctx context.Context, filter store.NotificationFilter) ([]store.Notification, error)
	ListNotificationsAfter(ctx context.Context, afterID int64, limit int) ([]store.Notification, error)
	Notify(ctx context.Context, code store.NotificationCode, text string, payload map[string]any) (bool, error)
	Stats(ctx context.Context) (*store.Stats, error)
}

// Deps are the components the server exposes.
type Deps struct {
	Store     Store
	Lines     *lines.Resolver
	Plan      *plan.Reconciler
	Scans     *scan.Runner
	Conflicts *conflict.Detector
	Exporter  *export.Exporter
}

// Options tunes the server.
type Options struct {
	MaxUploadBytes int64
	PollInterval   time.Duration
	Heartbeat      time.Duration
	Version        string
}

// Server holds the gin engine and its dependencies.
type Server struct {
	engine    *gin.Engine
	store     Store
	lines     *lines.Resolver
	plan      *plan.Reconciler
	scans     *scan.Runner
	conflicts *conflict.Detector
	exporter  *export.Exporter
	opts      Options
	log       *logging.Logger
	now       func() time.Time
}

// NewServer builds the router.
func NewServer(deps Deps, opts Options, log *logging.Logger) *Server {
	if opts.MaxUploadBytes <= 0 {
		opts.MaxUploadBytes = DefaultMaxUploadBytes
	}
	if opts.PollInterval <= 0 {
		opts.PollInterval = DefaultPollInterval
	}
	if opts.Heartbeat <= 0 {
		opts.Heartbeat = DefaultHeartbeat
	}
	s := &Server{
		store:     deps.Store,
		lines:     deps.Lines,
		plan:      deps.Plan,
		scans:     deps.Scans,
		conflicts: deps.Conflicts,
		exporter:  deps.Exporter,
		opts:      opts,
		log:       logging.OrNop(log).With("component", "api"),
		now:       time.Now,
	}
	s.engine = s.routes()
	return s
}

// Handler returns the HTTP handler.
func (s *Server) Handler() http.Handler { return s.engine }

func (s *Server) routes() *gin.Engine {
	r := gin.New()
	r.Use(s.requestLogger(), s.recovery())
	r.MaxMultipartMemory = s.opts.MaxUploadBytes

	api := r.Group("/api")
	api.GET("/health", s.health)

	api.GET("/lines", s.listLines)
	api.POST("/lines", s.createLine)
	api.GET("/lines/resolve", s.resolveLine)

	api.POST("/plan/upload", s.uploadPlan)
	api.GET("/plan/tasks", s.listTasks)
	api.GET("/plan/export", s.exportPlan)

	api.POST("/minutes/upload", s.uploadMinutes)
	api.GET("/downtimes", s.listDowntimes)

	api.POST("/scan", s.startScan)
	api.GET("/scan", s.listScans)
	api.GET("/scan/:id", s.getScan)

	api.GET("/conflicts", s.listConflicts)
	api.POST("/conflicts/detect", s.detectConflicts)
	api.GET("/conflicts/export", s.exportConflicts)

	api.GET("/notifications", s.listNotifications)
	api.GET("/notifications/stream", s.streamNotifications)

	r.NoRoute(func(c *gin.Context) {
		respondError(c, http.StatusNotFound, string(store.CodeNotFound), "route not found", nil)
	})
	return r
}

func (s *Server) requestLogger() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := s.now()
		c.Next()
		s.log.Debug("request", "method", c.Request.Method, "path", c.Request.URL.Path,
			"status", c.Writer.Status(), "duration_ms", s.now().Sub(start).Milliseconds())
	}
}

func (s *Server) recovery() gin.HandlerFunc {
	return gin.CustomRecovery(func(c *gin.Context, recovered any) {
		s.log.Error("handler panicked", "path", c.Request.URL.Path, "panic", recovered)
		respondError(c, http.StatusInternalServerError, CodeInternal, "internal error", nil)
	})
}

// Serve listens on addr until ctx is canceled, then shuts down gracefully.
func (s *Server) Serve(ctx context.Context, addr string) error {
	srv := &http.Server{Addr: addr, Handler: s.engine, ReadHeaderTimeout: 10 * time.Second}
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		s.log.Info("http server listening", "addr", addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), shutdownTimeout)
		defer cancel()
		s.log.Info("http server shutting down")
		return srv.Shutdown(shutdownCtx)
	})
	return g.Wait()
}

type healthResponse struct {
	Status  string       `json:"status"`
	Version string       `json:"version,omitempty"`
	Stats   *store.Stats `json:"stats"`
}

func (s *Server) health(c *gin.Context) {
	st, err := s.store.Stats(c.Request.Context())
	if err != nil {
		s.fail(c, err)
		return
	}
	respondOK(c, http.StatusOK, healthResponse{Status: "ok", Version: s.opts.Version, Stats: st})
}
