package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/parleyhq/parley/pkg/agent"
	"github.com/parleyhq/parley/pkg/config"
	"github.com/parleyhq/parley/pkg/events"
	"github.com/parleyhq/parley/pkg/models"
	"github.com/parleyhq/parley/pkg/observe"
	"github.com/parleyhq/parley/pkg/persistence"
)

// Deps wires the Registry to process-level infrastructure. AdapterFor
// and Evaluator override the config-driven adapter factory; tests inject
// scripted adapters through them.
type Deps struct {
	Gateway persistence.Gateway
	Bus     *events.Bus
	Config  *config.Config
	Metrics *observe.Metrics
	Logger  *slog.Logger

	AdapterFor func(p *models.Participant) (agent.Adapter, error)
	Evaluator  agent.Adapter
}

// handle is one running session: its orchestrator, the cancel for its
// run context, and a channel closed when the run goroutine exits.
type handle struct {
	orch   *Orchestrator
	cancel context.CancelFunc
	done   chan struct{}
}

// Registry owns every running session in the process. It launches one
// goroutine per started session, routes control operations to the right
// orchestrator, and drains them all on shutdown. There is no other
// process-wide session state.
type Registry struct {
	gateway persistence.Gateway
	bus     *events.Bus
	cfg     *config.Config
	metrics *observe.Metrics
	logger  *slog.Logger

	adapterFor func(p *models.Participant) (agent.Adapter, error)
	evaluator  agent.Adapter

	mu       sync.Mutex
	starting map[string]struct{}
	handles  map[string]*handle
	wg       sync.WaitGroup
	stopped  bool
}

// NewRegistry builds a Registry. Gateway and Bus are required; the rest
// default sensibly.
func NewRegistry(deps Deps) *Registry {
	cfg := deps.Config
	if cfg == nil {
		cfg = config.Default()
	}
	metrics := deps.Metrics
	if metrics == nil {
		metrics = observe.DefaultMetrics()
	}
	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Registry{
		gateway:    deps.Gateway,
		bus:        deps.Bus,
		cfg:        cfg,
		metrics:    metrics,
		logger:     logger,
		adapterFor: deps.AdapterFor,
		evaluator:  deps.Evaluator,
		starting:   make(map[string]struct{}),
		handles:    make(map[string]*handle),
	}
}

// Create validates a create request, fills defaults, and persists the
// session in configuring. The phase plan is derived once here so roster
// and phase mistakes fail the request instead of the later start.
func (r *Registry) Create(ctx context.Context, req *models.CreateSessionRequest) (*models.Session, error) {
	if strings.TrimSpace(req.Proposition) == "" {
		return nil, fmt.Errorf("%w: proposition is required", ErrInvalidRequest)
	}
	switch req.Mode {
	case models.ModeFormal, models.ModeLively, models.ModeInformal, models.ModeDuelogic, models.ModeConversation:
	case "":
		return nil, fmt.Errorf("%w: mode is required", ErrInvalidRequest)
	default:
		return nil, fmt.Errorf("%w: unknown mode %q", ErrInvalidRequest, req.Mode)
	}
	flow := req.Flow
	switch flow {
	case "":
		flow = models.FlowAuto
	case models.FlowAuto, models.FlowStep:
	default:
		return nil, fmt.Errorf("%w: unknown flow %q", ErrInvalidRequest, req.Flow)
	}

	participants, err := buildRoster(req.Participants, r.cfg.Defaults)
	if err != nil {
		return nil, err
	}

	cfgOut, err := r.sessionConfig(req)
	if err != nil {
		return nil, err
	}
	if cfgOut.Human != nil && cfgOut.Human.Enabled {
		if _, ok := findParticipant(participants, cfgOut.Human.Side); !ok {
			return nil, fmt.Errorf("%w: human side %q is not on the roster", ErrInvalidRequest, cfgOut.Human.Side)
		}
	}

	s := &models.Session{
		ID:           uuid.NewString(),
		Proposition:  strings.TrimSpace(req.Proposition),
		Context:      strings.TrimSpace(req.Context),
		Mode:         req.Mode,
		Flow:         flow,
		Participants: participants,
		Phases:       req.Phases,
		Status:       models.StatusConfiguring,
		Config:       cfgOut,
		CreatedAt:    time.Now().UTC(),
	}

	// Fail fast on roster or phase mistakes.
	if _, err := derivePlan(s, cfgOut.Rounds); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidRequest, err)
	}

	if err := r.gateway.CreateSession(ctx, s); err != nil {
		return nil, fmt.Errorf("orchestrator: create session: %w", err)
	}
	r.logger.Info("session created", "session_id", s.ID, "mode", s.Mode, "participants", len(participants))
	return s, nil
}

// sessionConfig merges request config over process defaults.
func (r *Registry) sessionConfig(req *models.CreateSessionRequest) (models.SessionConfig, error) {
	d := r.cfg.Defaults
	out := req.Config

	if out.Brevity == "" {
		out.Brevity = d.Brevity
	}
	if out.CitationPolicy == "" {
		out.CitationPolicy = d.CitationPolicy
	}
	if out.Temperature <= 0 {
		out.Temperature = d.Temperature
	}
	out.MaxTokens = d.ClampMaxTokens(out.MaxTokens)
	if out.Rounds <= 0 {
		out.Rounds = d.Rounds
	}

	if out.Lively != nil {
		l := out.Lively
		if l.AggressionLevel < 0 || l.AggressionLevel > 5 {
			return out, fmt.Errorf("%w: aggression level %d out of range 1..5", ErrInvalidRequest, l.AggressionLevel)
		}
		switch l.Pacing {
		case "", models.PacingSlow, models.PacingMedium, models.PacingFast:
		default:
			return out, fmt.Errorf("%w: unknown pacing %q", ErrInvalidRequest, l.Pacing)
		}
	}
	return out, nil
}

// buildRoster turns participant specs into roster entries with stable,
// unique ids and default models filled in.
func buildRoster(specs []models.ParticipantSpec, d *config.Defaults) ([]*models.Participant, error) {
	if len(specs) == 0 {
		return nil, fmt.Errorf("%w: at least one participant is required", ErrInvalidRequest)
	}
	seen := make(map[string]struct{}, len(specs))
	out := make([]*models.Participant, 0, len(specs))
	for i, spec := range specs {
		name := strings.TrimSpace(spec.Name)
		if name == "" {
			return nil, fmt.Errorf("%w: participant %d has no name", ErrInvalidRequest, i+1)
		}
		if spec.Role == "" {
			return nil, fmt.Errorf("%w: participant %q has no role", ErrInvalidRequest, name)
		}
		id := spec.ID
		if id == "" {
			id = slugify(name)
		}
		if id == "" {
			id = fmt.Sprintf("speaker-%d", i+1)
		}
		if _, dup := seen[id]; dup {
			return nil, fmt.Errorf("%w: duplicate participant id %q", ErrInvalidRequest, id)
		}
		seen[id] = struct{}{}

		model := spec.ModelID
		if model == "" {
			model = d.Provider + "/" + d.Model
		}
		out = append(out, &models.Participant{
			ID:      id,
			Name:    name,
			Role:    spec.Role,
			ModelID: model,
			State:   models.SpeakingReady,
		})
	}
	return out, nil
}

// slugify lowers a display name into an id: letters and digits survive,
// runs of anything else collapse to single hyphens.
func slugify(name string) string {
	var b strings.Builder
	pendingHyphen := false
	for _, r := range strings.ToLower(name) {
		switch {
		case r >= 'a' && r <= 'z', r >= '0' && r <= '9':
			if pendingHyphen && b.Len() > 0 {
				b.WriteByte('-')
			}
			pendingHyphen = false
			b.WriteRune(r)
		default:
			pendingHyphen = true
		}
	}
	return b.String()
}

func findParticipant(roster []*models.Participant, id string) (*models.Participant, bool) {
	for _, p := range roster {
		if p.ID == id {
			return p, true
		}
	}
	return nil, false
}

// Start claims the session id, builds its orchestrator and adapters, and
// launches the run goroutine on a context detached from the request.
func (r *Registry) Start(ctx context.Context, sessionID string) error {
	r.mu.Lock()
	if r.stopped {
		r.mu.Unlock()
		return ErrShuttingDown
	}
	if _, running := r.handles[sessionID]; running {
		r.mu.Unlock()
		return fmt.Errorf("%w: session %s", ErrAlreadyRunning, sessionID)
	}
	if _, claimed := r.starting[sessionID]; claimed {
		r.mu.Unlock()
		return fmt.Errorf("%w: session %s", ErrAlreadyRunning, sessionID)
	}
	r.starting[sessionID] = struct{}{}
	r.mu.Unlock()

	release := func() {
		r.mu.Lock()
		delete(r.starting, sessionID)
		r.mu.Unlock()
	}

	s, err := r.gateway.FindSession(ctx, sessionID)
	if err != nil {
		release()
		return mapNotFound(err, sessionID)
	}

	plan, err := derivePlan(s, s.Config.Rounds)
	if err != nil {
		release()
		return err
	}

	adapters, err := r.buildAdapters(s)
	if err != nil {
		release()
		return err
	}
	evaluator, err := r.buildEvaluator(s)
	if err != nil {
		release()
		return err
	}

	orch, err := New(Params{
		Session:   s,
		Plan:      plan,
		Gateway:   r.gateway,
		Bus:       r.bus,
		Adapters:  adapters,
		Evaluator: evaluator,
		Engine:    r.cfg.Engine,
		Defaults:  r.cfg.Defaults,
		Metrics:   r.metrics,
		Logger:    r.logger,
	})
	if err != nil {
		release()
		return err
	}

	if err := orch.Start(ctx); err != nil {
		release()
		return err
	}

	// Detached context: the run outlives the HTTP request that started it.
	runCtx, cancel := context.WithCancel(context.Background())
	h := &handle{orch: orch, cancel: cancel, done: make(chan struct{})}

	r.mu.Lock()
	delete(r.starting, sessionID)
	if r.stopped {
		r.mu.Unlock()
		cancel()
		close(h.done)
		return ErrShuttingDown
	}
	r.handles[sessionID] = h
	r.wg.Add(1)
	r.mu.Unlock()

	r.metrics.ActiveSessions.Add(runCtx, 1)
	go r.run(runCtx, h, sessionID)
	return nil
}

// run hosts one session's turn loop until it resolves, then releases the
// handle.
func (r *Registry) run(ctx context.Context, h *handle, sessionID string) {
	defer r.wg.Done()

	err := h.orch.Run(ctx)

	r.mu.Lock()
	delete(r.handles, sessionID)
	r.mu.Unlock()
	h.cancel()
	close(h.done)
	r.metrics.ActiveSessions.Add(context.WithoutCancel(ctx), -1)

	if err != nil {
		r.logger.Error("session run failed", "session_id", sessionID, "error", err)
		return
	}
	r.logger.Info("session run finished", "session_id", sessionID)
}

// buildAdapters resolves one adapter per non-human roster seat, via the
// injected constructor or the config-driven factory.
func (r *Registry) buildAdapters(s *models.Session) (map[string]agent.Adapter, error) {
	human := s.Config.Human
	factory := agent.NewAdapterFactory(r.cfg.ProviderRegistry, r.cfg.Defaults, r.cfg.Engine.TurnTimeout)

	adapters := make(map[string]agent.Adapter, len(s.Participants))
	for _, p := range s.Participants {
		if human != nil && human.Enabled && human.Side == p.ID {
			continue
		}
		if r.adapterFor != nil {
			a, err := r.adapterFor(p)
			if err != nil {
				return nil, fmt.Errorf("orchestrator: adapter for %q: %w", p.ID, err)
			}
			adapters[p.ID] = a
			continue
		}
		provider, model := splitModelID(p.ModelID, r.cfg.Defaults)
		a, err := factory.CreateAdapter(provider, model)
		if err != nil {
			return nil, fmt.Errorf("orchestrator: adapter for %q: %w", p.ID, err)
		}
		adapters[p.ID] = a
	}
	return adapters, nil
}

// buildEvaluator returns the interruption evaluator for sessions that
// arbitrate interrupts, or nil when the mode never fires one.
func (r *Registry) buildEvaluator(s *models.Session) (agent.Adapter, error) {
	if r.evaluator != nil {
		return r.evaluator, nil
	}
	lively := resolveLivelySettings(s, r.cfg.Engine)
	if !interruptionsEnabled(s.Mode, lively) {
		return nil, nil
	}
	if r.cfg.Engine.EvaluatorProvider == "" {
		return nil, nil
	}
	factory := agent.NewAdapterFactory(r.cfg.ProviderRegistry, r.cfg.Defaults, r.cfg.Engine.TurnTimeout)
	a, err := factory.CreateAdapter(r.cfg.Engine.EvaluatorProvider, r.cfg.Engine.EvaluatorModel)
	if err != nil {
		return nil, fmt.Errorf("orchestrator: evaluator adapter: %w", err)
	}
	return a, nil
}

// splitModelID parses "provider/model" identifiers; a bare model name
// falls back to the default provider.
func splitModelID(id string, d *config.Defaults) (provider, model string) {
	if i := strings.IndexByte(id, '/'); i > 0 {
		return id[:i], id[i+1:]
	}
	if id == "" {
		return d.Provider, d.Model
	}
	return d.Provider, id
}

// Pause suspends a running session at its next turn boundary.
func (r *Registry) Pause(ctx context.Context, sessionID string) error {
	h := r.handle(sessionID)
	if h == nil {
		return r.notRunning(ctx, sessionID)
	}
	return h.orch.Pause(ctx)
}

// Resume releases a paused session.
func (r *Registry) Resume(ctx context.Context, sessionID string) error {
	h := r.handle(sessionID)
	if h == nil {
		return r.notRunning(ctx, sessionID)
	}
	return h.orch.Resume(ctx)
}

// Stop requests a client stop and cancels the session's run context. The
// in-flight stream is cancelled; the loop unwinds into debate_stopped.
func (r *Registry) Stop(ctx context.Context, sessionID string) error {
	h := r.handle(sessionID)
	if h == nil {
		return r.notRunning(ctx, sessionID)
	}
	if err := h.orch.requestStop(StopReasonClientRequest); err != nil {
		return err
	}
	h.cancel()
	return nil
}

// Restart stops the session if running, waits for the loop to resolve,
// then clears all persisted utterances and resets the session to
// configuring for a fresh start.
func (r *Registry) Restart(ctx context.Context, sessionID string) error {
	if h := r.handle(sessionID); h != nil {
		// A race with natural completion is fine; the cancel and wait
		// below hold either way.
		_ = h.orch.requestStop(StopReasonRestart)
		h.cancel()
		select {
		case <-h.done:
		case <-ctx.Done():
			return ctx.Err()
		}
	}

	if _, err := r.gateway.FindSession(ctx, sessionID); err != nil {
		return mapNotFound(err, sessionID)
	}
	if err := r.gateway.ClearSessionUtterances(ctx, sessionID); err != nil {
		return fmt.Errorf("orchestrator: restart %s: %w", sessionID, err)
	}
	if err := r.gateway.UpdateSessionStatus(ctx, sessionID, models.StatusConfiguring); err != nil {
		return fmt.Errorf("orchestrator: restart %s: %w", sessionID, err)
	}
	r.logger.Info("session restarted", "session_id", sessionID)
	return nil
}

// SubmitIntervention queues an audience submission for relay into the
// target speaker's next turn prompt.
func (r *Registry) SubmitIntervention(ctx context.Context, sessionID string, req *models.SubmitInterventionRequest) (*models.Intervention, error) {
	switch req.Kind {
	case models.InterventionQuestion, models.InterventionChallenge,
		models.InterventionEvidence, models.InterventionClarification:
	default:
		return nil, fmt.Errorf("%w: unknown intervention kind %q", ErrInvalidRequest, req.Kind)
	}
	if strings.TrimSpace(req.Content) == "" {
		return nil, fmt.Errorf("%w: intervention content is required", ErrInvalidRequest)
	}

	s, err := r.gateway.FindSession(ctx, sessionID)
	if err != nil {
		return nil, mapNotFound(err, sessionID)
	}
	if s.Status.Terminal() {
		return nil, fmt.Errorf("%w: session is %q", ErrInvalidTransition, s.Status)
	}
	if req.TargetSpeaker != "" {
		if _, ok := s.Participant(req.TargetSpeaker); !ok {
			return nil, fmt.Errorf("%w: target speaker %q is not on the roster", ErrInvalidRequest, req.TargetSpeaker)
		}
	}

	iv := &models.Intervention{
		ID:            uuid.NewString(),
		SessionID:     sessionID,
		Kind:          req.Kind,
		TargetSpeaker: req.TargetSpeaker,
		Content:       strings.TrimSpace(req.Content),
		Status:        models.InterventionPending,
		SubmittedAt:   time.Now().UTC(),
	}
	if err := r.gateway.RecordIntervention(ctx, iv); err != nil {
		return nil, fmt.Errorf("orchestrator: record intervention: %w", err)
	}
	r.logger.Info("intervention queued", "session_id", sessionID, "kind", iv.Kind, "target", iv.TargetSpeaker)
	return iv, nil
}

// SubmitHumanTurn delivers content to the session's pending human
// rendezvous.
func (r *Registry) SubmitHumanTurn(ctx context.Context, sessionID string, req *models.SubmitHumanTurnRequest) error {
	h := r.handle(sessionID)
	if h == nil {
		if _, err := r.gateway.FindSession(ctx, sessionID); err != nil {
			return mapNotFound(err, sessionID)
		}
		return fmt.Errorf("%w: session is not running", ErrNoPendingTurn)
	}
	return h.orch.SubmitHumanTurn(req.Side, req.Phase, req.TurnNumber, req.Content)
}

// SubmitConversationUtterance injects an out-of-band human message into
// a running conversation session.
func (r *Registry) SubmitConversationUtterance(ctx context.Context, sessionID, speaker, content string) error {
	h := r.handle(sessionID)
	if h == nil {
		return r.notRunning(ctx, sessionID)
	}
	return h.orch.InjectConversationUtterance(ctx, speaker, content)
}

// Session returns the persisted session, overlaid with the fresher
// in-memory status when the session is running.
func (r *Registry) Session(ctx context.Context, sessionID string) (*models.Session, error) {
	s, err := r.gateway.FindSession(ctx, sessionID)
	if err != nil {
		return nil, mapNotFound(err, sessionID)
	}
	if h := r.handle(sessionID); h != nil {
		s.Status = h.orch.Status()
	}
	return s, nil
}

// Running reports whether the session currently has a live handle.
func (r *Registry) Running(sessionID string) bool {
	return r.handle(sessionID) != nil
}

// Shutdown stops accepting starts, requests a stop from every running
// session, and waits for their loops to drain or the context to expire.
func (r *Registry) Shutdown(ctx context.Context) error {
	r.mu.Lock()
	r.stopped = true
	handles := make([]*handle, 0, len(r.handles))
	for _, h := range r.handles {
		handles = append(handles, h)
	}
	r.mu.Unlock()

	for _, h := range handles {
		_ = h.orch.requestStop(StopReasonShutdown)
		h.cancel()
	}

	done := make(chan struct{})
	go func() {
		r.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		r.logger.Info("session registry drained", "sessions", len(handles))
		return nil
	case <-ctx.Done():
		return fmt.Errorf("orchestrator: shutdown: %w", ctx.Err())
	}
}

// RecoverOrphans marks sessions left live or paused by a previous
// process as errored. Called once at boot, before the API starts.
func (r *Registry) RecoverOrphans(ctx context.Context) error {
	ids, err := r.gateway.ListOrphanedSessions(ctx)
	if err != nil {
		return fmt.Errorf("orchestrator: list orphaned sessions: %w", err)
	}
	for _, id := range ids {
		if err := r.gateway.UpdateSessionStatus(ctx, id, models.StatusError); err != nil {
			r.logger.Error("could not mark orphaned session", "session_id", id, "error", err)
			continue
		}
		r.logger.Warn("marked orphaned session as errored", "session_id", id)
	}
	return nil
}

func (r *Registry) handle(sessionID string) *handle {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.handles[sessionID]
}

// notRunning distinguishes "no such session" from "session exists but
// has no live loop".
func (r *Registry) notRunning(ctx context.Context, sessionID string) error {
	s, err := r.gateway.FindSession(ctx, sessionID)
	if err != nil {
		return mapNotFound(err, sessionID)
	}
	return fmt.Errorf("%w: session is %q, not running", ErrInvalidTransition, s.Status)
}

func mapNotFound(err error, sessionID string) error {
	if errors.Is(err, persistence.ErrNotFound) {
		return fmt.Errorf("%w: %s", ErrSessionNotFound, sessionID)
	}
	return err
}
