// Package e2e boots complete parley instances and drives full dialogue
// sessions through the public HTTP, SSE, and WebSocket surfaces.
package e2e

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/parleyhq/parley/pkg/agent"
	"github.com/parleyhq/parley/pkg/api"
	"github.com/parleyhq/parley/pkg/config"
	"github.com/parleyhq/parley/pkg/events"
	"github.com/parleyhq/parley/pkg/models"
	"github.com/parleyhq/parley/pkg/orchestrator"
	"github.com/parleyhq/parley/pkg/persistence"
)

// TestApp boots a complete parley instance for e2e testing: in-memory
// persistence behind the retrying write path, a real event bus, the
// orchestrator registry, and the HTTP server on a random port. Model
// adapters are scripted per participant ID.
type TestApp struct {
	// Core
	Config  *config.Config
	Gateway persistence.Gateway

	// Real infrastructure
	Bus      *events.Bus
	Registry *orchestrator.Registry
	Server   *api.Server

	// Runtime
	BaseURL string // e.g. "http://127.0.0.1:54321"
	WSURL   string // e.g. "ws://127.0.0.1:54321"

	mu       sync.Mutex
	adapters map[string]agent.Adapter

	t *testing.T
}

// testAppConfig holds options accumulated before creating the TestApp.
type testAppConfig struct {
	engine    []func(*config.EngineConfig)
	adapters  map[string]agent.Adapter
	evaluator agent.Adapter
	heartbeat time.Duration
}

// TestAppOption configures the test app.
type TestAppOption func(*testAppConfig)

// WithEngine applies a mutation to the engine config after the fast test
// defaults are set. Later options win.
func WithEngine(fn func(*config.EngineConfig)) TestAppOption {
	return func(c *testAppConfig) { c.engine = append(c.engine, fn) }
}

// WithAdapter registers a scripted adapter for a participant ID before the
// app starts. Adapters can also be added later via RegisterAdapter.
func WithAdapter(participantID string, a agent.Adapter) TestAppOption {
	return func(c *testAppConfig) { c.adapters[participantID] = a }
}

// WithEvaluator sets the interruption evaluator adapter for lively sessions.
func WithEvaluator(a agent.Adapter) TestAppOption {
	return func(c *testAppConfig) { c.evaluator = a }
}

// WithHeartbeat enables bus heartbeats at the given interval. Tests that
// don't ask for one run without heartbeats so event logs stay quiet.
func WithHeartbeat(d time.Duration) TestAppOption {
	return func(c *testAppConfig) { c.heartbeat = d }
}

// NewTestApp creates and starts a full parley test instance.
// Shutdown is registered via t.Cleanup automatically.
func NewTestApp(t *testing.T, opts ...TestAppOption) *TestApp {
	t.Helper()

	// Apply options.
	tc := &testAppConfig{adapters: make(map[string]agent.Adapter)}
	for _, opt := range opts {
		opt(tc)
	}

	// 1. Config — production defaults rescaled to test speed.
	cfg := config.Default()
	fastEngine(cfg.Engine)
	for _, fn := range tc.engine {
		fn(cfg.Engine)
	}

	// Component logs would drown go test output, so discard them.
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	// 2. Persistence — in-memory gateway; writes go through the retrying
	// wrapper so degraded-write advisories flow the way production does.
	gw := persistence.NewMemoryGateway()

	// 3. Event bus — ring and subscriber buffers sized from config,
	// transcript catch-up backed by the gateway.
	bus := events.NewBus(cfg.Engine.EventBufferSize, cfg.Engine.SubscriberBufferSize, tc.heartbeat, persistence.CatchupSource(gw))
	retrying := persistence.NewRetrying(gw, bus, logger)

	app := &TestApp{
		Config:   cfg,
		Gateway:  retrying,
		Bus:      bus,
		adapters: tc.adapters,
		t:        t,
	}

	// 4. Registry — adapter lookup routes through the app so tests can
	// register scripted adapters per participant.
	registry := orchestrator.NewRegistry(orchestrator.Deps{
		Gateway:    retrying,
		Bus:        bus,
		Config:     cfg,
		Logger:     logger,
		AdapterFor: app.adapterFor,
		Evaluator:  tc.evaluator,
	})
	app.Registry = registry

	// 5. HTTP server on a random port.
	server, err := api.NewServer(api.Deps{
		Registry: registry,
		Gateway:  retrying,
		Bus:      bus,
		Config:   cfg,
		Logger:   logger,
	})
	require.NoError(t, err)

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)

	go func() {
		_ = server.Serve(ln)
	}()

	addr := ln.Addr().String()
	app.Server = server
	app.BaseURL = fmt.Sprintf("http://%s", addr)
	app.WSURL = fmt.Sprintf("ws://%s", addr)

	// Register cleanup in reverse-creation order.
	t.Cleanup(func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = registry.Shutdown(shutdownCtx)
		_ = server.Shutdown(shutdownCtx)
		bus.Shutdown()
	})

	return app
}

// RegisterAdapter installs a scripted adapter for a participant ID.
func (app *TestApp) RegisterAdapter(participantID string, a agent.Adapter) {
	app.mu.Lock()
	defer app.mu.Unlock()
	app.adapters[participantID] = a
}

// adapterFor resolves a participant to its registered scripted adapter.
// A missing registration fails the session start loudly instead of letting
// the registry fall back to a real provider.
func (app *TestApp) adapterFor(p *models.Participant) (agent.Adapter, error) {
	app.mu.Lock()
	defer app.mu.Unlock()
	a, ok := app.adapters[p.ID]
	if !ok {
		return nil, fmt.Errorf("no scripted adapter registered for participant %q", p.ID)
	}
	return a, nil
}

// fastEngine rescales the pacing knobs so a full debate finishes in tens of
// milliseconds. Pacing floors drop to zero so interrupt windows open at the
// first sentence boundary.
func fastEngine(ec *config.EngineConfig) {
	ec.ChunkSize = 50
	ec.ChunkDelay = time.Millisecond
	ec.EvaluationInterval = time.Millisecond
	ec.RetryBackoffBase = time.Millisecond
	ec.CooldownDuration = 10 * time.Millisecond
	ec.HumanTurnTimeout = 200 * time.Millisecond
	ec.TurnTimeout = 5 * time.Second
	ec.PacingFloors = map[models.Pacing]time.Duration{
		models.PacingSlow:   0,
		models.PacingMedium: 0,
		models.PacingFast:   0,
	}
}
