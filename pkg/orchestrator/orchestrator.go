// Package orchestrator drives dialogue sessions end to end: it walks the
// phase plan, runs each turn through the adapter layer, arbitrates
// interruptions at safe boundaries, persists every committed utterance,
// and exposes the lifecycle controls (start, pause, resume, stop,
// restart) plus the human rendezvous.
//
// One Orchestrator exists per running session. Its turn loop is a single
// goroutine; the pieces it shares with API goroutines (status, gate,
// rendezvous desk) carry their own locks, while the completed-turns set
// and stored partials are loop-local and need none.
package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"go.opentelemetry.io/otel/metric"

	"github.com/parleyhq/parley/pkg/agent"
	"github.com/parleyhq/parley/pkg/config"
	"github.com/parleyhq/parley/pkg/events"
	"github.com/parleyhq/parley/pkg/interrupt"
	"github.com/parleyhq/parley/pkg/models"
	"github.com/parleyhq/parley/pkg/observe"
	"github.com/parleyhq/parley/pkg/persistence"
	"github.com/parleyhq/parley/pkg/prompt"
	"github.com/parleyhq/parley/pkg/scheduler"
)

// finalizeTimeout bounds the final persistence writes after the loop ends.
const finalizeTimeout = 10 * time.Second

// Stop reasons carried on debate_stopped events. A reason prefixed with
// "failure" transitions the session to error instead of completed.
const (
	StopReasonClientRequest = "client_request"
	StopReasonShutdown      = "shutdown"
	StopReasonRestart       = "restart"
	StopReasonFailure       = "failure"
)

// Params wires an Orchestrator to one session.
type Params struct {
	Session *models.Session
	// Plan is the resolved phase plan (see derivePlan). Required.
	Plan    []models.PhaseSpec
	Gateway persistence.Gateway
	Bus     *events.Bus

	// Adapters maps participant id to that participant's adapter. Every
	// non-human participant must have one.
	Adapters map[string]agent.Adapter
	// Evaluator judges interrupt candidates. Nil disables interruption
	// evaluation even in lively mode.
	Evaluator agent.Adapter

	Composer *prompt.Composer
	Engine   *config.EngineConfig
	Defaults *config.Defaults
	Metrics  *observe.Metrics
	Logger   *slog.Logger
}

// Orchestrator runs one session's turn loop.
type Orchestrator struct {
	session  *models.Session
	plan     []models.PhaseSpec
	gateway  persistence.Gateway
	bus      *events.Bus
	composer *prompt.Composer
	adapters map[string]agent.Adapter
	engine   *config.EngineConfig
	defaults *config.Defaults
	metrics  *observe.Metrics
	logger   *slog.Logger

	sched     *scheduler.Scheduler
	intEngine *interrupt.Engine
	lively    models.LivelySettings
	gate      *pauseGate
	desk      *rendezvousDesk

	mu            sync.Mutex
	status        models.SessionStatus
	stopRequested bool
	stopReason    string
	phaseID       string
	phaseIdx      int

	// Loop-local state, touched only by the session goroutine.
	completed map[string]struct{}
	partials  map[string]partialTurn
	startedAt time.Time
}

// partialTurn is the stored fragment of an interrupted turn, waiting to
// be consumed by the same speaker in the same or a later phase.
type partialTurn struct {
	content    string
	phaseIndex int
}

// New builds an orchestrator. The session must still be in configuring.
func New(p Params) (*Orchestrator, error) {
	switch {
	case p.Session == nil:
		return nil, errors.New("orchestrator: session is required")
	case len(p.Plan) == 0:
		return nil, errors.New("orchestrator: phase plan is required")
	case p.Gateway == nil:
		return nil, errors.New("orchestrator: persistence gateway is required")
	case p.Bus == nil:
		return nil, errors.New("orchestrator: event bus is required")
	}
	if p.Composer == nil {
		p.Composer = prompt.NewComposer()
	}
	if p.Engine == nil {
		p.Engine = config.DefaultEngineConfig()
	}
	if p.Defaults == nil {
		p.Defaults = config.DefaultDefaults()
	}
	if p.Metrics == nil {
		p.Metrics = observe.DefaultMetrics()
	}
	logger := p.Logger
	if logger == nil {
		logger = slog.Default()
	}
	logger = logger.With("session_id", p.Session.ID)

	lively := resolveLivelySettings(p.Session, p.Engine)
	interruptions := interruptionsEnabled(p.Session.Mode, lively)

	sched := scheduler.New(scheduler.Options{
		Floor:                  p.Engine.FloorFor(lively.Pacing),
		MaxInterruptsPerMinute: lively.MaxInterruptsPerMinute,
		Cooldown:               p.Engine.CooldownDuration,
		InterruptionsEnabled:   interruptions,
	}, logger)

	o := &Orchestrator{
		session:   p.Session,
		plan:      p.Plan,
		gateway:   p.Gateway,
		bus:       p.Bus,
		composer:  p.Composer,
		adapters:  p.Adapters,
		engine:    p.Engine,
		defaults:  p.Defaults,
		metrics:   p.Metrics,
		logger:    logger,
		sched:     sched,
		lively:    lively,
		gate:      newPauseGate(),
		desk:      newRendezvousDesk(),
		status:    p.Session.Status,
		completed: make(map[string]struct{}),
		partials:  make(map[string]partialTurn),
	}

	if interruptions && p.Evaluator != nil {
		o.intEngine = interrupt.NewEngine(interrupt.Params{
			SessionID:   p.Session.ID,
			Proposition: p.Session.Proposition,
			Roster:      p.Session.Participants,
			Aggression:  lively.AggressionLevel,
			Temperature: o.temperature(),
			Evaluator:   p.Evaluator,
			Adapters:    p.Adapters,
			Composer:    p.Composer,
			Bus:         p.Bus,
			Engine:      p.Engine,
			Logger:      p.Logger,
		})
	}

	return o, nil
}

// resolveLivelySettings fills in defaults for absent or partial lively
// settings so downstream consumers never see zero values.
func resolveLivelySettings(s *models.Session, engine *config.EngineConfig) models.LivelySettings {
	settings := models.LivelySettings{
		AggressionLevel:        3,
		Pacing:                 models.PacingMedium,
		MaxInterruptsPerMinute: engine.MaxInterruptsPerMinute,
		BoundaryDetection:      s.Mode == models.ModeLively,
	}
	if s.Config.Lively == nil {
		return settings
	}

	in := *s.Config.Lively
	if in.AggressionLevel > 0 {
		settings.AggressionLevel = in.AggressionLevel
	}
	if in.Pacing != "" {
		settings.Pacing = in.Pacing
	}
	if in.MaxInterruptsPerMinute > 0 {
		settings.MaxInterruptsPerMinute = in.MaxInterruptsPerMinute
	}
	settings.BoundaryDetection = in.BoundaryDetection
	settings.ChairInterruptions = in.ChairInterruptions
	return settings
}

// interruptionsEnabled reports whether this session arbitrates
// interruptions at all: lively mode with boundary detection on, or
// duelogic with chair interruptions explicitly enabled.
func interruptionsEnabled(mode models.Mode, lively models.LivelySettings) bool {
	switch mode {
	case models.ModeLively:
		return lively.BoundaryDetection
	case models.ModeDuelogic:
		return lively.ChairInterruptions && lively.BoundaryDetection
	default:
		return false
	}
}

// SessionID returns the id of the session this orchestrator runs.
func (o *Orchestrator) SessionID() string { return o.session.ID }

// Status returns the in-memory lifecycle status.
func (o *Orchestrator) Status() models.SessionStatus {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.status
}

// Snapshot exposes the scheduler's point-in-time state for the session
// detail endpoint.
func (o *Orchestrator) Snapshot() scheduler.Snapshot {
	return o.sched.Snapshot()
}

// Start transitions configuring → live and announces the debate. The
// turn loop itself runs in Run, on the session task group.
func (o *Orchestrator) Start(ctx context.Context) error {
	o.mu.Lock()
	if o.status != models.StatusConfiguring {
		status := o.status
		o.mu.Unlock()
		return fmt.Errorf("%w: cannot start session in status %q", ErrInvalidTransition, status)
	}
	o.status = models.StatusLive
	o.mu.Unlock()

	if err := o.gateway.UpdateSessionStatus(ctx, o.session.ID, models.StatusLive); err != nil {
		o.mu.Lock()
		o.status = models.StatusConfiguring
		o.mu.Unlock()
		return fmt.Errorf("orchestrator: start session: %w", err)
	}

	speakers := make([]string, 0, len(o.session.Participants))
	for _, p := range o.session.Participants {
		speakers = append(speakers, p.ID)
	}
	o.bus.Publish(o.session.ID, events.EventTypeDebateStarted, events.DebateStartedPayload{
		Proposition: o.session.Proposition,
		Mode:        string(o.session.Mode),
		Speakers:    speakers,
		PhaseCount:  len(o.plan),
	})
	o.logger.Info("session started",
		"mode", o.session.Mode,
		"phases", len(o.plan),
		"turns", planTurnCount(o.plan))
	return nil
}

// Run executes the phase plan to completion. It always resolves the
// session to a terminal status before returning; the returned error is
// non-nil only for fatal failures (the stopped path returns nil).
func (o *Orchestrator) Run(ctx context.Context) error {
	o.startedAt = time.Now()
	o.seedFromHistory(ctx)

	runErr := o.runPhases(ctx)
	return o.finish(ctx, runErr)
}

// runPhases walks phases and turns, applying the pause, duplicate, and
// human gates before each turn.
func (o *Orchestrator) runPhases(ctx context.Context) error {
	total := planTurnCount(o.plan)
	pos := 0

	for pi, phase := range o.plan {
		o.setPhase(pi, phase.ID)
		o.bus.Publish(o.session.ID, events.EventTypePhaseStart, events.PhaseStartPayload{
			Phase:     phase.ID,
			Name:      phase.Name,
			TurnCount: len(phase.Turns),
		})
		o.logger.Info("phase started", "phase", phase.ID, "turns", len(phase.Turns))

		for _, turn := range phase.Turns {
			if err := o.gate.wait(ctx); err != nil {
				return err
			}

			pos++
			turnID := models.TurnID(phase.ID, turn.Speaker, turn.TurnNumber, turn.Kind)
			if _, done := o.completed[turnID]; done {
				o.logger.Debug("turn already committed, skipping", "turn_id", turnID)
				continue
			}

			var err error
			if o.humanSeat(turn.Speaker) {
				err = o.humanTurn(ctx, phase, turn, turnID)
			} else {
				err = o.executeTurn(ctx, pi, phase, turn, turnID)
			}
			if err != nil {
				return err
			}

			if o.session.Flow == models.FlowStep && pos < total {
				o.stepPause(ctx)
			}
		}

		o.bus.Publish(o.session.ID, events.EventTypePhaseComplete, events.PhaseCompletePayload{Phase: phase.ID})
		o.logger.Info("phase complete", "phase", phase.ID)
	}
	return nil
}

// finish resolves the run to a terminal status: completed for natural
// completion and clean stops, error for failure-flagged stops and fatal
// errors. Final writes use an uncancellable context so a stopped session
// still lands its status and transcript.
func (o *Orchestrator) finish(ctx context.Context, runErr error) error {
	fctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), finalizeTimeout)
	defer cancel()

	o.mu.Lock()
	stopRequested, reason := o.stopRequested, o.stopReason
	o.mu.Unlock()

	switch {
	case runErr == nil:
		utterances, err := o.gateway.ListUtterancesBySession(fctx, o.session.ID)
		if err != nil {
			o.logger.Error("could not load utterances for final transcript", "error", err)
		} else if err := o.gateway.SaveTranscript(fctx, o.session.ID, renderTranscript(o.session, o.plan, utterances)); err != nil {
			o.logger.Error("could not save final transcript", "error", err)
		}
		o.bus.Publish(o.session.ID, events.EventTypeDebateComplete, events.DebateCompletePayload{
			TotalUtterances: len(utterances),
			DurationMS:      time.Since(o.startedAt).Milliseconds(),
		})
		o.setTerminal(fctx, models.StatusCompleted)
		o.logger.Info("session complete", "utterances", len(utterances), "duration", time.Since(o.startedAt).Round(time.Millisecond))
		return nil

	case stopRequested || errors.Is(runErr, context.Canceled) || errors.Is(runErr, context.DeadlineExceeded):
		if reason == "" {
			reason = StopReasonShutdown
		}
		o.bus.Publish(o.session.ID, events.EventTypeDebateStopped, events.DebateStoppedPayload{Reason: reason})
		status := models.StatusCompleted
		if strings.HasPrefix(reason, StopReasonFailure) {
			status = models.StatusError
		}
		o.setTerminal(fctx, status)
		o.logger.Info("session stopped", "reason", reason)
		return nil

	default:
		o.bus.Publish(o.session.ID, events.EventTypeError, events.ErrorPayload{
			Message:     runErr.Error(),
			Recoverable: false,
		})
		o.setTerminal(fctx, models.StatusError)
		o.logger.Error("session failed", "error", runErr)
		return runErr
	}
}

// Pause suspends the turn loop at the next turn boundary and cancels any
// pending interrupt.
func (o *Orchestrator) Pause(ctx context.Context) error {
	o.mu.Lock()
	if o.status != models.StatusLive {
		status := o.status
		o.mu.Unlock()
		return fmt.Errorf("%w: cannot pause session in status %q", ErrInvalidTransition, status)
	}
	o.status = models.StatusPaused
	o.mu.Unlock()

	o.gate.pause()
	if o.intEngine != nil && o.intEngine.CancelPending(interrupt.ReasonSessionPaused) {
		o.metrics.InterruptsCancelled.Add(ctx, 1, metric.WithAttributes(observe.Attr("reason", interrupt.ReasonSessionPaused)))
	}
	if err := o.gateway.UpdateSessionStatus(ctx, o.session.ID, models.StatusPaused); err != nil {
		o.logger.Error("could not persist paused status", "error", err)
	}
	o.bus.Publish(o.session.ID, events.EventTypeDebatePaused, nil)
	o.logger.Info("session paused")
	return nil
}

// Resume releases a paused turn loop.
func (o *Orchestrator) Resume(ctx context.Context) error {
	o.mu.Lock()
	if o.status != models.StatusPaused {
		status := o.status
		o.mu.Unlock()
		return fmt.Errorf("%w: cannot resume session in status %q", ErrInvalidTransition, status)
	}
	o.status = models.StatusLive
	o.mu.Unlock()

	o.gate.resume()
	if err := o.gateway.UpdateSessionStatus(ctx, o.session.ID, models.StatusLive); err != nil {
		o.logger.Error("could not persist live status", "error", err)
	}
	o.bus.Publish(o.session.ID, events.EventTypeDebateResumed, nil)
	o.logger.Info("session resumed")
	return nil
}

// stepPause is the flow=step self-suspension after a committed turn.
func (o *Orchestrator) stepPause(ctx context.Context) {
	o.mu.Lock()
	if o.status != models.StatusLive {
		o.mu.Unlock()
		return
	}
	o.status = models.StatusPaused
	o.mu.Unlock()

	o.gate.pause()
	if err := o.gateway.UpdateSessionStatus(ctx, o.session.ID, models.StatusPaused); err != nil {
		o.logger.Error("could not persist paused status", "error", err)
	}
	o.bus.Publish(o.session.ID, events.EventTypeDebatePaused, nil)
	o.logger.Debug("step flow: awaiting resume")
}

// requestStop records the stop and its reason; the registry cancels the
// session context right after, which unwinds the loop into finish.
func (o *Orchestrator) requestStop(reason string) error {
	o.mu.Lock()
	if o.status.Terminal() || o.status == models.StatusConfiguring {
		status := o.status
		o.mu.Unlock()
		return fmt.Errorf("%w: cannot stop session in status %q", ErrInvalidTransition, status)
	}
	o.stopRequested = true
	o.stopReason = reason
	o.mu.Unlock()

	if o.intEngine != nil {
		o.intEngine.CancelPending(interrupt.ReasonSessionStopped)
	}
	// A paused loop is parked on the gate; the caller's context cancel
	// unblocks it, so the gate stays closed here.
	return nil
}

// SubmitHumanTurn satisfies the pending rendezvous for (side, phase,
// turnNumber).
func (o *Orchestrator) SubmitHumanTurn(side, phase string, turnNumber int, content string) error {
	if strings.TrimSpace(content) == "" {
		return fmt.Errorf("%w: human turn content is empty", ErrInvalidRequest)
	}
	return o.desk.submit(rendezvousKey{Side: side, Phase: phase, TurnNumber: turnNumber}, content)
}

// InjectConversationUtterance records an out-of-band human message on the
// conversation channel: persisted in the shared sequence space and
// broadcast as conversation_utterance.
func (o *Orchestrator) InjectConversationUtterance(ctx context.Context, speaker, content string) error {
	content = strings.TrimSpace(content)
	if content == "" {
		return fmt.Errorf("%w: conversation utterance content is empty", ErrInvalidRequest)
	}
	if st := o.Status(); st.Terminal() {
		return fmt.Errorf("%w: session is %q", ErrInvalidTransition, st)
	}

	o.mu.Lock()
	phase := o.phaseID
	o.mu.Unlock()
	if phase == "" {
		phase = models.PhaseExchange
	}

	u := &models.Utterance{
		SessionID: o.session.ID,
		Speaker:   speaker,
		Phase:     phase,
		Content:   content,
		ElapsedMS: time.Since(o.startedAt).Milliseconds(),
		Metadata: models.UtteranceMetadata{
			PromptKind:       "conversation",
			ModelID:          "human",
			IsHumanGenerated: true,
		},
	}
	seq, _, err := o.gateway.AppendUtterance(ctx, u)
	if err != nil {
		return fmt.Errorf("orchestrator: conversation utterance: %w", err)
	}

	o.bus.Publish(o.session.ID, events.EventTypeConversationUtterance, events.ConversationUtterancePayload{
		Speaker:  speaker,
		Content:  content,
		Sequence: int64(seq),
	})
	o.metrics.HumanTurns.Add(ctx, 1, metric.WithAttributes(observe.Attr("kind", "conversation")))
	return nil
}

// seedFromHistory rebuilds the completed-turns set and stored partials
// from persisted utterances, so a restarted process resumes instead of
// re-running committed turns.
func (o *Orchestrator) seedFromHistory(ctx context.Context) {
	utterances, err := o.gateway.ListUtterancesBySession(ctx, o.session.ID)
	if err != nil {
		o.logger.Warn("could not seed turn history", "error", err)
		return
	}
	for _, u := range utterances {
		if u.Metadata.IsInterjection {
			continue
		}
		if u.Metadata.TurnID != "" {
			o.completed[u.Metadata.TurnID] = struct{}{}
		}
		if u.Metadata.WasInterrupted {
			o.partials[u.Speaker] = partialTurn{content: u.Content, phaseIndex: o.phaseIndexOf(u.Phase)}
		} else {
			// Any later committed turn by the speaker consumed the partial.
			delete(o.partials, u.Speaker)
		}
	}
	if len(o.completed) > 0 {
		o.logger.Info("resuming with committed turns", "completed", len(o.completed), "partials", len(o.partials))
	}
}

// setTerminal persists and publishes nothing itself; callers publish the
// terminal event first, then the status lands here.
func (o *Orchestrator) setTerminal(ctx context.Context, status models.SessionStatus) {
	o.mu.Lock()
	o.status = status
	o.mu.Unlock()
	if err := o.gateway.UpdateSessionStatus(ctx, o.session.ID, status); err != nil {
		o.logger.Error("could not persist terminal status", "status", status, "error", err)
	}
}

func (o *Orchestrator) setPhase(idx int, id string) {
	o.mu.Lock()
	o.phaseID = id
	o.phaseIdx = idx
	o.mu.Unlock()
}

func (o *Orchestrator) phaseIndexOf(phaseID string) int {
	for i, p := range o.plan {
		if p.ID == phaseID {
			return i
		}
	}
	return 0
}

// humanSeat reports whether the participant's turns rendezvous with a
// human instead of an adapter.
func (o *Orchestrator) humanSeat(participantID string) bool {
	h := o.session.Config.Human
	return h != nil && h.Enabled && h.Side == participantID
}

// takePartial consumes the stored partial for speaker if the current
// phase is at or past the phase it was captured in.
func (o *Orchestrator) takePartial(speaker string, phaseIdx int) (string, bool) {
	p, ok := o.partials[speaker]
	if !ok || phaseIdx < p.phaseIndex {
		return "", false
	}
	delete(o.partials, speaker)
	return p.content, true
}

func (o *Orchestrator) storePartial(speaker string, phaseIdx int, content string) {
	o.partials[speaker] = partialTurn{content: content, phaseIndex: phaseIdx}
}

func (o *Orchestrator) temperature() float64 {
	if o != nil && o.session != nil && o.session.Config.Temperature > 0 {
		return o.session.Config.Temperature
	}
	if o.defaults != nil {
		return o.defaults.Temperature
	}
	return config.DefaultDefaults().Temperature
}

func (o *Orchestrator) maxTokens() int {
	return o.defaults.ClampMaxTokens(o.session.Config.MaxTokens)
}

func (o *Orchestrator) brevity() string {
	if o.session.Config.Brevity != "" {
		return o.session.Config.Brevity
	}
	return o.defaults.Brevity
}

func (o *Orchestrator) citationPolicy() string {
	if o.session.Config.CitationPolicy != "" {
		return o.session.Config.CitationPolicy
	}
	return o.defaults.CitationPolicy
}
