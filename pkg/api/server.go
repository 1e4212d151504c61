// Package api exposes the engine's control surface over HTTP: session
// CRUD and lifecycle controls, audience interventions, human turns, the
// SSE event stream, and the bidirectional conversation WebSocket. The
// package stays thin; every decision belongs to pkg/orchestrator.
package api

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/parleyhq/parley/pkg/config"
	"github.com/parleyhq/parley/pkg/database"
	"github.com/parleyhq/parley/pkg/events"
	"github.com/parleyhq/parley/pkg/observe"
	"github.com/parleyhq/parley/pkg/orchestrator"
	"github.com/parleyhq/parley/pkg/persistence"
)

const (
	readHeaderTimeout = 10 * time.Second

	// wsWriteTimeout bounds a single WebSocket send so one stalled client
	// cannot wedge its connection goroutine.
	wsWriteTimeout = 10 * time.Second
)

// Deps carries the collaborators the server routes requests to.
type Deps struct {
	Registry *orchestrator.Registry
	Gateway  persistence.Gateway
	Bus      *events.Bus

	// DB is nil when the process runs on the in-memory gateway; health
	// reporting adapts accordingly.
	DB *database.Client

	Config  *config.Config
	Metrics *observe.Metrics
	Logger  *slog.Logger
}

// Server is the HTTP control surface.
type Server struct {
	registry *orchestrator.Registry
	gateway  persistence.Gateway
	bus      *events.Bus
	db       *database.Client
	cfg      *config.Config
	metrics  *observe.Metrics
	logger   *slog.Logger

	httpSrv *http.Server
}

// NewServer wires a server; Deps.Registry, Gateway, and Bus are required.
func NewServer(d Deps) (*Server, error) {
	if d.Registry == nil || d.Gateway == nil || d.Bus == nil {
		return nil, fmt.Errorf("api: registry, gateway, and bus are required")
	}
	if d.Config == nil {
		d.Config = config.Default()
	}
	if d.Metrics == nil {
		d.Metrics = observe.DefaultMetrics()
	}
	logger := d.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Server{
		registry: d.Registry,
		gateway:  d.Gateway,
		bus:      d.Bus,
		db:       d.DB,
		cfg:      d.Config,
		metrics:  d.Metrics,
		logger:   logger.With("component", "api"),
	}, nil
}

// Router builds the gin engine with all routes and middleware attached.
func (s *Server) Router() *gin.Engine {
	gin.SetMode(gin.ReleaseMode)
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(requestLogger(s.logger))
	r.Use(s.requestMetrics())
	r.Use(securityHeaders())
	r.Use(corsHeaders(s.cfg.System.DashboardURL))

	r.GET("/health", s.healthHandler)
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	v1 := r.Group("/api/v1")
	{
		v1.POST("/sessions", s.createSessionHandler)
		v1.GET("/sessions/:id", s.getSessionHandler)
		v1.POST("/sessions/:id/start", s.startSessionHandler)
		v1.POST("/sessions/:id/pause", s.pauseSessionHandler)
		v1.POST("/sessions/:id/resume", s.resumeSessionHandler)
		v1.POST("/sessions/:id/stop", s.stopSessionHandler)
		v1.POST("/sessions/:id/restart", s.restartSessionHandler)
		v1.POST("/sessions/:id/interventions", s.submitInterventionHandler)
		v1.POST("/sessions/:id/human-turn", s.submitHumanTurnHandler)
		v1.GET("/sessions/:id/utterances", s.listUtterancesHandler)
		v1.GET("/sessions/:id/events", s.eventsHandler)
		v1.GET("/sessions/:id/conversation", s.conversationHandler)
	}
	return r
}

// Start begins serving on addr and blocks until the listener fails or
// Shutdown is called. http.ErrServerClosed is swallowed as the normal
// shutdown signal.
func (s *Server) Start(addr string) error {
	s.httpSrv = &http.Server{
		Addr:              addr,
		Handler:           s.Router(),
		ReadHeaderTimeout: readHeaderTimeout,
	}
	s.logger.Info("http server listening", "addr", addr)
	if err := s.httpSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("api: serve: %w", err)
	}
	return nil
}

// Serve is Start for a pre-built listener; used by tests to bind port 0.
func (s *Server) Serve(ln net.Listener) error {
	s.httpSrv = &http.Server{
		Handler:           s.Router(),
		ReadHeaderTimeout: readHeaderTimeout,
	}
	if err := s.httpSrv.Serve(ln); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("api: serve: %w", err)
	}
	return nil
}

// Shutdown drains in-flight requests until ctx expires.
func (s *Server) Shutdown(ctx context.Context) error {
	if s.httpSrv == nil {
		return nil
	}
	if err := s.httpSrv.Shutdown(ctx); err != nil {
		return fmt.Errorf("api: shutdown: %w", err)
	}
	return nil
}
