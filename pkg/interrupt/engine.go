// Package interrupt decides when one participant should barge in on
// another, and generates the interjection when it happens.
//
// The Engine runs beside the active stream. The orchestrator ticks it
// with EvaluateAsync while a speaker holds the floor; a fast evaluator
// model judges the streamed tail and accepted candidates land in a
// single pending slot. When the scheduler reports a safe boundary the
// orchestrator calls Fire, which generates the interjection through the
// interrupter's own adapter.
package interrupt

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
	"github.com/parleyhq/parley/pkg/prompt"
)

// ErrNoPending is returned by Fire when no candidate is scheduled.
var ErrNoPending = errors.New("interrupt: no pending candidate")

// Cancellation reasons carried on interrupt_cancelled events.
const (
	ReasonSpeakerEnded     = "speaker_ended"
	ReasonSuperseded       = "superseded"
	ReasonBudgetExhausted  = "budget_exhausted"
	ReasonSessionPaused    = "session_paused"
	ReasonSessionStopped   = "session_stopped"
	ReasonGenerationFailed = "generation_failed"
)

const (
	evalMaxTokens         = 300
	interjectionMaxTokens = 200
)

// Candidate is an accepted interruption waiting for a safe boundary.
type Candidate struct {
	Interrupter   string
	Target        string
	Relevance     float64
	Contradiction float64
	Combined      float64
	TriggerPhrase string
	Reasoning     string
	ScheduledAt   time.Time
}

// Result is what a fired interruption produces.
type Result struct {
	Text   string
	Energy int
	Record *models.Interruption
}

// EvalInput is one evaluation tick's view of the live stream.
type EvalInput struct {
	CurrentSpeaker string
	// Candidates are the participant ids eligible to interrupt right now.
	Candidates []string
	// Tail is the last slice of streamed content (bounded by config).
	Tail    string
	Elapsed time.Duration
}

// FireInput carries the stream position at firing time.
type FireInput struct {
	AtToken     int
	PartialTail string
	Elapsed     time.Duration
}

// Params wires an Engine to one session.
type Params struct {
	SessionID   string
	Proposition string
	Roster      []*models.Participant
	Aggression  int // 1..5
	Temperature float64

	Evaluator agent.Adapter
	// Adapters maps participant id to that participant's adapter, used
	// for interjection generation.
	Adapters map[string]agent.Adapter

	Composer *prompt.Composer
	Bus      *events.Bus
	Engine   *config.EngineConfig
	Logger   *slog.Logger
}

// Engine is the per-session interruption engine.
type Engine struct {
	p         Params
	threshold float64
	logger    *slog.Logger

	mu         sync.Mutex
	pending    *Candidate
	generation int // bumped per turn so stale evaluations discard themselves
	inFlight   bool
}

// NewEngine creates an engine for one session.
func NewEngine(p Params) *Engine {
	logger := p.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Engine{
		p:         p,
		threshold: p.Engine.ThresholdFor(p.Aggression),
		logger:    logger.With("session_id", p.SessionID),
	}
}

// NewTurn invalidates evaluations still in flight for the previous
// speaker.
func (e *Engine) NewTurn() {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.generation++
}

// Pending returns a copy of the pending candidate, if any.
func (e *Engine) Pending() (Candidate, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.pending == nil {
		return Candidate{}, false
	}
	return *e.pending, true
}

// CancelPending drops the pending candidate and publishes
// interrupt_cancelled. Returns false when nothing was pending.
func (e *Engine) CancelPending(reason string) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.cancelLocked(reason)
}

func (e *Engine) cancelLocked(reason string) bool {
	if e.pending == nil {
		return false
	}
	interrupter := e.pending.Interrupter
	e.pending = nil
	e.p.Bus.Publish(e.p.SessionID, events.EventTypeInterruptCancelled, events.InterruptCancelledPayload{
		Interrupter: interrupter,
		Reason:      reason,
	})
	e.logger.Debug("interrupt cancelled", "interrupter", interrupter, "reason", reason)
	return true
}

// EvaluateAsync launches one evaluation tick unless one is already in
// flight. It never blocks the caller.
func (e *Engine) EvaluateAsync(ctx context.Context, in EvalInput) {
	if e.p.Evaluator == nil || len(in.Candidates) == 0 || in.Tail == "" {
		return
	}

	e.mu.Lock()
	if e.inFlight {
		e.mu.Unlock()
		return
	}
	e.inFlight = true
	generation := e.generation
	e.mu.Unlock()

	go func() {
		defer func() {
			e.mu.Lock()
			e.inFlight = false
			e.mu.Unlock()
		}()
		e.evaluate(ctx, in, generation)
	}()
}

// evaluate runs one judgment call. Evaluator failure or an unparseable
// verdict is a silent skip.
func (e *Engine) evaluate(ctx context.Context, in EvalInput, generation int) {
	evalCtx, cancel := context.WithTimeout(ctx, e.p.Engine.EvaluationInterval)
	defer cancel()

	raw, err := e.p.Evaluator.Complete(evalCtx, agent.Request{
		Messages:  e.evalMessages(in),
		MaxTokens: evalMaxTokens,
	})
	if err != nil {
		e.logger.Debug("evaluator call failed, skipping tick", "error", err)
		return
	}

	v, err := parseVerdict(raw)
	if err != nil {
		e.logger.Debug("evaluator verdict unparseable, skipping tick", "error", err)
		return
	}
	if !v.ShouldInterrupt || v.CandidateSpeaker == nil {
		return
	}

	candidate := *v.CandidateSpeaker
	if candidate == "" || candidate == in.CurrentSpeaker || !contains(in.Candidates, candidate) {
		return
	}

	combined := 0.6*v.Relevance + 0.4*v.Contradiction
	if combined < e.threshold {
		return
	}

	e.schedule(&Candidate{
		Interrupter:   candidate,
		Target:        in.CurrentSpeaker,
		Relevance:     v.Relevance,
		Contradiction: v.Contradiction,
		Combined:      combined,
		TriggerPhrase: v.TriggerPhrase,
		Reasoning:     v.Reasoning,
		ScheduledAt:   time.Now(),
	}, generation)
}

// schedule installs an accepted candidate in the pending slot. A later
// candidate replaces an earlier one only with a strictly greater
// combined score.
func (e *Engine) schedule(c *Candidate, generation int) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if generation != e.generation {
		e.logger.Debug("discarding stale evaluation", "interrupter", c.Interrupter)
		return
	}
	if e.pending != nil {
		if c.Combined <= e.pending.Combined {
			return
		}
		e.cancelLocked(ReasonSuperseded)
	}

	e.pending = c
	e.p.Bus.Publish(e.p.SessionID, events.EventTypeInterruptScheduled, events.InterruptScheduledPayload{
		Interrupter:    c.Interrupter,
		CurrentSpeaker: c.Target,
		RelevanceScore: c.Relevance,
		TriggerPhrase:  c.TriggerPhrase,
	})
	e.logger.Info("interrupt scheduled",
		"interrupter", c.Interrupter,
		"target", c.Target,
		"combined", c.Combined,
		"reasoning", c.Reasoning)
}

// Fire consumes the pending candidate and generates its interjection.
// The caller has already verified the boundary and budget. On
// generation failure the candidate is cancelled with
// reason=generation_failed and the error returned.
func (e *Engine) Fire(ctx context.Context, in FireInput) (*Result, error) {
	e.mu.Lock()
	if e.pending == nil {
		e.mu.Unlock()
		return nil, ErrNoPending
	}
	c := *e.pending
	e.pending = nil
	e.mu.Unlock()

	adapter := e.p.Adapters[c.Interrupter]
	if adapter == nil {
		e.publishCancelled(c.Interrupter, ReasonGenerationFailed)
		return nil, fmt.Errorf("interrupt: no adapter for interrupter %q", c.Interrupter)
	}

	energy := energyFor(e.p.Aggression, c.Combined)
	maxSentences := e.p.Engine.InterjectionMaxSentences

	text, err := adapter.Complete(ctx, agent.Request{
		Messages: e.p.Composer.ComposeInterjection(prompt.InterjectionInput{
			Proposition:   e.p.Proposition,
			Interrupter:   e.participant(c.Interrupter),
			Target:        e.participant(c.Target),
			TriggerPhrase: c.TriggerPhrase,
			PartialTail:   in.PartialTail,
			Energy:        energy,
			MaxSentences:  maxSentences,
		}),
		Temperature: e.p.Temperature,
		MaxTokens:   interjectionMaxTokens,
	})
	if err != nil {
		e.publishCancelled(c.Interrupter, ReasonGenerationFailed)
		return nil, fmt.Errorf("interrupt: interjection generation failed: %w", err)
	}

	return &Result{
		Text:   clipSentences(strings.TrimSpace(text), maxSentences),
		Energy: energy,
		Record: &models.Interruption{
			ID:            uuid.NewString(),
			SessionID:     e.p.SessionID,
			Interrupter:   c.Interrupter,
			Interrupted:   c.Target,
			AtToken:       in.AtToken,
			TriggerPhrase: c.TriggerPhrase,
			Relevance:     c.Relevance,
			Energy:        energy,
			FiredAtMS:     in.Elapsed.Milliseconds(),
			CreatedAt:     time.Now().UTC(),
		},
	}, nil
}

func (e *Engine) publishCancelled(interrupter, reason string) {
	e.p.Bus.Publish(e.p.SessionID, events.EventTypeInterruptCancelled, events.InterruptCancelledPayload{
		Interrupter: interrupter,
		Reason:      reason,
	})
}

func (e *Engine) participant(id string) *models.Participant {
	for _, p := range e.p.Roster {
		if p.ID == id {
			return p
		}
	}
	return nil
}

// energyFor classifies interjection intensity from aggression and the
// combined score: clamp(aggression + (combined > 0.8 ? 1 : 0), 1, 5).
func energyFor(aggression int, combined float64) int {
	energy := aggression
	if combined > 0.8 {
		energy++
	}
	if energy < 1 {
		energy = 1
	}
	if energy > 5 {
		energy = 5
	}
	return energy
}

func contains(ids []string, id string) bool {
	for _, v := range ids {
		if v == id {
			return true
		}
	}
	return false
}

// evalMessages builds the judge prompt: strict-JSON contract, current
// stream tail, and the eligible interrupters.
func (e *Engine) evalMessages(in EvalInput) []agent.Message {
	var sys strings.Builder
	sys.WriteString("You are a real-time debate interruption judge. You watch a live exchange and decide whether another participant should barge in right now. ")
	sys.WriteString("Interruptions are disruptive: approve one only when the current content contains a concrete claim worth challenging immediately. ")
	sys.WriteString("Respond with a single JSON object and nothing else.")

	var usr strings.Builder
	usr.WriteString("Proposition: \"")
	usr.WriteString(e.p.Proposition)
	usr.WriteString("\"\nCurrent speaker: ")
	usr.WriteString(in.CurrentSpeaker)
	usr.WriteString("\nEligible interrupters: ")
	usr.WriteString(strings.Join(in.Candidates, ", "))
	usr.WriteString("\nElapsed session time: ")
	usr.WriteString(in.Elapsed.Round(time.Second).String())
	usr.WriteString("\n\nThe speaker's live content (most recent):\n\"")
	usr.WriteString(in.Tail)
	usr.WriteString("\"\n\nRespond with JSON exactly in this shape:\n")
	usr.WriteString(`{"should_interrupt": false, "candidate_speaker": null, "relevance": 0.0, "contradiction": 0.0, "trigger_phrase": "", "reasoning": ""}`)
	usr.WriteString("\ncandidate_speaker must be one of the eligible interrupters or null. ")
	usr.WriteString("relevance scores how directly the content engages the proposition; contradiction scores how strongly it conflicts with the candidate's position. ")
	usr.WriteString("trigger_phrase must be a short verbatim quote from the content.")

	return []agent.Message{
		{Role: agent.RoleSystem, Content: sys.String()},
		{Role: agent.RoleUser, Content: usr.String()},
	}
}
