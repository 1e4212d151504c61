package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"math"
	"strings"
	"time"
	"unicode/utf8"

	"go.opentelemetry.io/otel/metric"

	"github.com/parleyhq/parley/pkg/agent"
	"github.com/parleyhq/parley/pkg/events"
	"github.com/parleyhq/parley/pkg/interrupt"
	"github.com/parleyhq/parley/pkg/models"
	"github.com/parleyhq/parley/pkg/observe"
	"github.com/parleyhq/parley/pkg/prompt"
	"github.com/parleyhq/parley/pkg/scheduler"
)

// turnResult is what streamTurn hands back for committing. When
// interrupted is set the speaker was cut off mid-stream and cut carries
// the interruption attribution; content is everything accumulated up to
// the cutoff.
type turnResult struct {
	content     string
	interrupted bool
	cut         *cutoff
	elapsed     time.Duration
}

type cutoff struct {
	by             string
	atToken        int
	interruptionID string
	triggerPhrase  string
	energy         int
	completionPct  int
}

// executeTurn runs one model turn end to end: prompt assembly, streaming
// with the empty-response retry loop, and commit. A nil return means the
// turn was handled (committed, refused, or exhausted); errors abort the
// session.
func (o *Orchestrator) executeTurn(ctx context.Context, phaseIdx int, phase models.PhaseSpec, spec models.TurnSpec, turnID string) error {
	speaker, ok := o.session.Participant(spec.Speaker)
	if !ok {
		return fmt.Errorf("orchestrator: turn %s names unknown participant %q", turnID, spec.Speaker)
	}
	adapter, ok := o.adapters[speaker.ID]
	if !ok {
		return fmt.Errorf("orchestrator: no adapter for participant %q", speaker.ID)
	}

	resume, isResumption := o.takePartial(speaker.ID, phaseIdx)

	interventions, err := o.gateway.PendingInterventions(ctx, o.session.ID, speaker.ID)
	if err != nil {
		o.logger.Warn("could not load pending interventions", "speaker", speaker.ID, "error", err)
	}
	history, err := o.gateway.ListUtterancesBySession(ctx, o.session.ID)
	if err != nil {
		o.logger.Warn("could not load transcript history", "error", err)
	}

	in := prompt.Input{
		Proposition:    o.session.Proposition,
		Context:        o.session.Context,
		Speaker:        speaker,
		Roster:         o.session.Participants,
		Phase:          phase.ID,
		Kind:           spec.Kind,
		History:        history,
		Resumption:     resume,
		Interventions:  interventions,
		Brevity:        o.brevity(),
		CitationPolicy: o.citationPolicy(),
	}
	req := agent.Request{
		Messages:    o.composer.Compose(in),
		Temperature: o.temperature(),
		MaxTokens:   o.maxTokens(),
	}

	var lastReason string
	for attempt := 1; attempt <= o.engine.MaxEmptyRetries; attempt++ {
		res, err := o.streamTurn(ctx, speaker, adapter, phase, phaseIdx, spec, req, isResumption)
		switch {
		case err != nil:
			if ctx.Err() != nil {
				return ctx.Err()
			}
			if errors.Is(err, scheduler.ErrSpeakerConflict) {
				return fmt.Errorf("orchestrator: turn %s: %w", turnID, err)
			}
			if agent.KindOf(err) == agent.ErrorKindRefused {
				o.bus.Publish(o.session.ID, events.EventTypeContentPolicyRefusal, events.ContentPolicyRefusalPayload{
					Speaker: speaker.ID,
					TurnID:  turnID,
					Detail:  err.Error(),
				})
				o.logger.Warn("provider refused the turn, skipping", "speaker", speaker.ID, "turn_id", turnID, "error", err)
				return nil
			}
			lastReason = err.Error()

		case res.interrupted || utf8.RuneCountInString(strings.TrimSpace(res.content)) >= models.MinContentLength:
			if attempt > 1 {
				o.bus.Publish(o.session.ID, events.EventTypeRetrySuccess, events.RetrySuccessPayload{
					Speaker:  speaker.ID,
					TurnID:   turnID,
					Attempts: attempt,
				})
			}
			return o.commitTurn(ctx, adapter, phase, spec, turnID, res, isResumption, interventions)

		default:
			// Stream finished but produced nothing usable; the speaker is
			// still active on the scheduler and must yield before a retry.
			o.sched.EndSpeaker()
			lastReason = "empty response"
		}

		if attempt < o.engine.MaxEmptyRetries {
			o.bus.Publish(o.session.ID, events.EventTypeRetryAttempt, events.RetryAttemptPayload{
				Speaker: speaker.ID,
				TurnID:  turnID,
				Attempt: attempt,
				Reason:  lastReason,
			})
			o.metrics.GenerationRetries.Add(ctx, 1, metric.WithAttributes(observe.Attr("speaker", speaker.ID)))
			o.logger.Warn("turn attempt failed, retrying",
				"speaker", speaker.ID, "turn_id", turnID, "attempt", attempt, "reason", lastReason)
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(time.Duration(attempt) * o.engine.RetryBackoffBase):
			}
		}
	}

	o.bus.Publish(o.session.ID, events.EventTypeRetryExhausted, events.RetryExhaustedPayload{
		Speaker:  speaker.ID,
		TurnID:   turnID,
		Attempts: o.engine.MaxEmptyRetries,
		Reason:   lastReason,
	})
	o.logger.Warn("retries exhausted, skipping turn",
		"speaker", speaker.ID, "turn_id", turnID, "reason", lastReason)
	return nil
}

// streamTurn owns one generation attempt: it claims the floor, relays
// chunks, runs interruption evaluation, and fires pending interrupts at
// safe boundaries. On a committable return (success or cutoff) the
// speaker is still active on the scheduler; commitTurn ends the turn.
// Every error return yields the floor before surfacing.
func (o *Orchestrator) streamTurn(ctx context.Context, speaker *models.Participant, adapter agent.Adapter, phase models.PhaseSpec, phaseIdx int, spec models.TurnSpec, req agent.Request, isResumption bool) (*turnResult, error) {
	turnCtx, cancel := context.WithTimeout(ctx, o.engine.TurnTimeout)
	defer cancel()

	stream, expectedTotal, err := agent.StreamOrSimulate(turnCtx, adapter, req, o.engine.ChunkSize, o.engine.ChunkDelay)
	if err != nil {
		return nil, err
	}

	if err := o.sched.StartSpeaker(speaker.ID); err != nil {
		return nil, err
	}
	o.sched.SetTurn(phase.ID, spec)
	if o.intEngine != nil {
		o.intEngine.NewTurn()
	}

	started := time.Now()
	o.bus.Publish(o.session.ID, events.EventTypeSpeakerStarted, events.SpeakerStartedPayload{
		Speaker:      speaker.ID,
		Phase:        phase.ID,
		IsResumption: isResumption,
	})

	var evalTick <-chan time.Time
	if o.intEngine != nil {
		ticker := time.NewTicker(o.engine.EvaluationInterval)
		defer ticker.Stop()
		evalTick = ticker.C
	}

	windowAnnounced := false
	closeWindow := func(reason string) {
		if windowAnnounced {
			o.bus.Publish(o.session.ID, events.EventTypeWindowClosed, events.WindowClosedPayload{
				Speaker: speaker.ID,
				Reason:  reason,
			})
			windowAnnounced = false
		}
	}

	for {
		select {
		case <-turnCtx.Done():
			o.sched.EndSpeaker()
			closeWindow("speaker_ended")
			return nil, turnCtx.Err()

		case chunk, open := <-stream:
			if !open {
				// Stream drained cleanly. Leave the speaker active for
				// commitTurn or for the caller's retry handling.
				if o.intEngine != nil {
					o.intEngine.CancelPending(interrupt.ReasonSpeakerEnded)
				}
				closeWindow("speaker_ended")
				return &turnResult{content: o.sched.Content(), elapsed: time.Since(started)}, nil
			}
			switch c := chunk.(type) {
			case *agent.TextChunk:
				safe := o.sched.ProcessTokenChunk(c.Content)
				o.bus.Publish(o.session.ID, events.EventTypeTokenChunk, events.TokenChunkPayload{
					Speaker:       speaker.ID,
					Chunk:         c.Content,
					TokenPosition: o.sched.TokenCursor(),
				})
				o.metrics.TokenChunks.Add(turnCtx, 1, metric.WithAttributes(observe.Attr("speaker", speaker.ID)))

				if safe {
					o.bus.Publish(o.session.ID, events.EventTypeBoundarySafe, events.BoundarySafePayload{
						Speaker:   speaker.ID,
						AtToken:   o.sched.LastBoundary(),
						Sentences: o.sched.SentenceCount(),
					})
				}
				if !windowAnnounced && o.sched.WindowOpen() {
					windowAnnounced = true
					o.bus.Publish(o.session.ID, events.EventTypeWindowOpened, events.WindowOpenedPayload{
						Speaker: speaker.ID,
						AtToken: o.sched.TokenCursor(),
					})
				}
				if cut := o.tryFire(turnCtx, speaker, phase, phaseIdx, expectedTotal, started); cut != nil {
					cancel()
					return &turnResult{
						content:     cut.partial,
						interrupted: true,
						cut:         cut.cutoff,
						elapsed:     time.Since(started),
					}, nil
				}

			case *agent.ErrorChunk:
				o.sched.EndSpeaker()
				closeWindow("speaker_ended")
				return nil, c.Err
			}

		case <-evalTick:
			o.scheduleEvaluation(turnCtx, speaker, started)
		}
	}
}

// firedInterrupt pairs the cutoff attribution with the partial content
// captured at fire time.
type firedInterrupt struct {
	cutoff  *cutoff
	partial string
}

// tryFire runs the interrupt procedure when a candidate is pending and
// the window is open. Returns nil when the speaker should keep talking
// (no candidate, budget spent, window closed, or the interjection
// failed to generate).
func (o *Orchestrator) tryFire(ctx context.Context, speaker *models.Participant, phase models.PhaseSpec, phaseIdx, expectedTotal int, started time.Time) *firedInterrupt {
	if o.intEngine == nil {
		return nil
	}
	pending, ok := o.intEngine.Pending()
	if !ok {
		return nil
	}
	if o.sched.BudgetExhausted() {
		if o.intEngine.CancelPending(interrupt.ReasonBudgetExhausted) {
			o.metrics.InterruptsCancelled.Add(ctx, 1, metric.WithAttributes(observe.Attr("reason", interrupt.ReasonBudgetExhausted)))
		}
		return nil
	}
	if !o.sched.CanInterrupt() {
		return nil
	}

	atToken := o.sched.TokenCursor()
	pct := completionPercentage(atToken, expectedTotal)
	o.bus.Publish(o.session.ID, events.EventTypeSpeakerCutoff, events.SpeakerCutoffPayload{
		CutoffSpeaker:        speaker.ID,
		InterruptedBy:        pending.Interrupter,
		AtTokenPosition:      atToken,
		PartialContentTail:   o.sched.ContentTail(200),
		CompletionPercentage: pct,
	})

	res, err := o.intEngine.Fire(ctx, interrupt.FireInput{
		AtToken:     atToken,
		PartialTail: o.sched.ContentTail(o.engine.EvaluationTailChars),
		Elapsed:     time.Since(started),
	})
	if err != nil {
		// The engine already published interrupt_cancelled; the cutoff
		// event stands but the speaker keeps the floor.
		o.logger.Warn("interjection generation failed, speaker continues",
			"speaker", speaker.ID, "interrupter", pending.Interrupter, "error", err)
		return nil
	}

	interjection := &models.Utterance{
		SessionID: o.session.ID,
		Speaker:   pending.Interrupter,
		Phase:     phase.ID,
		Content:   res.Text,
		ElapsedMS: time.Since(o.startedAt).Milliseconds(),
		Metadata: models.UtteranceMetadata{
			PromptKind:         "interjection",
			ModelID:            o.modelIDFor(pending.Interrupter),
			IsInterjection:     true,
			InterruptionID:     res.Record.ID,
			TriggerPhrase:      pending.TriggerPhrase,
			InterruptionEnergy: res.Energy,
		},
	}
	if _, _, err := o.gateway.AppendUtterance(ctx, interjection); err != nil {
		o.logger.Error("could not persist interjection, live stream remains authoritative", "error", err)
	}
	if err := o.gateway.RecordInterruption(ctx, res.Record); err != nil {
		o.logger.Error("could not persist interruption record", "error", err)
	}

	partial := o.sched.Content()
	o.sched.MarkInterrupted(speaker.ID)
	o.storePartial(speaker.ID, phaseIdx, partial)

	o.bus.Publish(o.session.ID, events.EventTypeInterruptFired, events.InterruptFiredPayload{
		Interrupter:        pending.Interrupter,
		InterruptedSpeaker: speaker.ID,
		Energy:             res.Energy,
	})
	o.bus.Publish(o.session.ID, events.EventTypeInterjection, events.InterjectionPayload{
		Speaker:        pending.Interrupter,
		Content:        res.Text,
		Energy:         res.Energy,
		InterruptionID: res.Record.ID,
	})
	o.sched.RecordInterruptFired(pending.Interrupter)
	o.bus.Publish(o.session.ID, events.EventTypeWindowClosed, events.WindowClosedPayload{
		Speaker: speaker.ID,
		Reason:  "interrupt_fired",
	})
	o.metrics.InterruptsFired.Add(ctx, 1, metric.WithAttributes(
		observe.Attr("interrupter", pending.Interrupter),
		observe.Attr("interrupted", speaker.ID),
	))

	return &firedInterrupt{
		partial: partial,
		cutoff: &cutoff{
			by:             pending.Interrupter,
			atToken:        atToken,
			interruptionID: res.Record.ID,
			triggerPhrase:  pending.TriggerPhrase,
			energy:         res.Energy,
			completionPct:  pct,
		},
	}
}

// scheduleEvaluation hands the current tail to the evaluator. Skipped
// when the budget is spent or nothing has been said yet; the engine
// itself enforces single-flight.
func (o *Orchestrator) scheduleEvaluation(ctx context.Context, speaker *models.Participant, started time.Time) {
	if o.intEngine == nil || o.sched.BudgetExhausted() {
		return
	}
	tail := o.sched.ContentTail(o.engine.EvaluationTailChars)
	if strings.TrimSpace(tail) == "" {
		return
	}
	candidates := o.eligibleInterrupters(speaker.ID)
	if len(candidates) == 0 {
		return
	}
	o.intEngine.EvaluateAsync(ctx, interrupt.EvalInput{
		CurrentSpeaker: speaker.ID,
		Candidates:     candidates,
		Tail:           tail,
		Elapsed:        time.Since(started),
	})
}

// eligibleInterrupters returns roster members who could cut in on
// current: debaters (or chairs when chair interruptions are on) who are
// ready on the scheduler.
func (o *Orchestrator) eligibleInterrupters(current string) []string {
	var out []string
	for _, p := range o.session.Participants {
		if p.ID == current || o.humanSeat(p.ID) {
			continue
		}
		if !p.Role.Debater() && !(p.Role == models.RoleChair && o.lively.ChairInterruptions) {
			continue
		}
		if o.sched.State(p.ID) != models.SpeakingReady {
			continue
		}
		out = append(out, p.ID)
	}
	return out
}

// commitTurn persists the finished turn, publishes the utterance, and
// marks the turn id committed. Persistence failure is logged, not fatal:
// the live event stream already carried the content.
func (o *Orchestrator) commitTurn(ctx context.Context, adapter agent.Adapter, phase models.PhaseSpec, spec models.TurnSpec, turnID string, res *turnResult, isResumption bool, interventions []*models.Intervention) error {
	o.sched.EndSpeaker()

	content := strings.TrimSpace(res.content)
	meta := models.UtteranceMetadata{
		TurnID:       turnID,
		PromptKind:   spec.Kind.String(),
		ModelID:      adapter.ModelID(),
		IsResumption: isResumption,
	}
	if res.interrupted && res.cut != nil {
		meta.WasInterrupted = true
		meta.InterruptedBy = res.cut.by
		meta.InterruptedAtToken = res.cut.atToken
		meta.CompletionPercentage = res.cut.completionPct
		meta.InterruptionID = res.cut.interruptionID
	}

	u := &models.Utterance{
		SessionID: o.session.ID,
		Speaker:   spec.Speaker,
		Phase:     phase.ID,
		Content:   content,
		ElapsedMS: time.Since(o.startedAt).Milliseconds(),
		Metadata:  meta,
	}
	seq, existing, err := o.gateway.AppendUtterance(ctx, u)
	if err != nil {
		o.logger.Error("could not persist utterance, live stream remains authoritative",
			"turn_id", turnID, "error", err)
	} else if existing {
		o.logger.Debug("utterance already persisted", "turn_id", turnID, "sequence", seq)
	}

	o.bus.Publish(o.session.ID, events.EventTypeUtterance, events.UtterancePayload{
		Speaker:        spec.Speaker,
		Phase:          phase.ID,
		Content:        content,
		Sequence:       int64(seq),
		Model:          meta.ModelID,
		WasInterrupted: meta.WasInterrupted,
		Metadata:       &meta,
	})
	o.completed[turnID] = struct{}{}

	if runes := utf8.RuneCountInString(content); !res.interrupted && runes < models.MinExpectedLength {
		o.bus.Publish(o.session.ID, events.EventTypeTruncatedResponse, events.TruncatedResponsePayload{
			Speaker:       spec.Speaker,
			TurnID:        turnID,
			ContentLength: runes,
			ExpectedMin:   models.MinExpectedLength,
		})
	}

	for _, iv := range interventions {
		if err := o.gateway.RecordInterventionResponse(ctx, iv.ID, content); err != nil {
			o.logger.Warn("could not mark intervention addressed", "intervention_id", iv.ID, "error", err)
		}
	}

	o.metrics.RecordTurn(ctx, phase.ID, spec.Speaker, res.elapsed.Seconds())
	o.logger.Info("turn committed",
		"speaker", spec.Speaker,
		"turn_id", turnID,
		"sequence", seq,
		"interrupted", meta.WasInterrupted,
		"chars", len(content))
	return nil
}

// humanTurn opens a rendezvous for the human side and waits for a
// submission or the timeout. Timeouts skip the turn; the debate moves on.
func (o *Orchestrator) humanTurn(ctx context.Context, phase models.PhaseSpec, spec models.TurnSpec, turnID string) error {
	timeout := o.engine.HumanTurnTimeout
	if h := o.session.Config.Human; h != nil && h.TimeLimitMS > 0 {
		timeout = time.Duration(h.TimeLimitMS) * time.Millisecond
	}

	key := rendezvousKey{Side: spec.Speaker, Phase: phase.ID, TurnNumber: spec.TurnNumber}
	wait, err := o.desk.open(key)
	if err != nil {
		return fmt.Errorf("orchestrator: human turn %s: %w", turnID, err)
	}

	o.bus.Publish(o.session.ID, events.EventTypeAwaitingHumanInput, events.AwaitingHumanInputPayload{
		Side:       spec.Speaker,
		Phase:      phase.ID,
		TurnNumber: spec.TurnNumber,
		PromptType: spec.Kind.String(),
		TimeoutMS:  timeout.Milliseconds(),
	})
	o.logger.Info("awaiting human input", "side", spec.Speaker, "phase", phase.ID, "turn", spec.TurnNumber, "timeout", timeout)

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		o.desk.close(key)
		return ctx.Err()

	case <-timer.C:
		o.desk.close(key)
		o.bus.Publish(o.session.ID, events.EventTypeHumanTurnTimeout, events.HumanTurnTimeoutPayload{
			Side:       spec.Speaker,
			Phase:      phase.ID,
			TurnNumber: spec.TurnNumber,
			TimeoutMS:  timeout.Milliseconds(),
		})
		o.logger.Info("human turn timed out, skipping", "side", spec.Speaker, "turn_id", turnID)
		return nil

	case content := <-wait:
		meta := models.UtteranceMetadata{
			TurnID:           turnID,
			PromptKind:       spec.Kind.String(),
			ModelID:          "human",
			IsHumanGenerated: true,
		}
		u := &models.Utterance{
			SessionID: o.session.ID,
			Speaker:   spec.Speaker,
			Phase:     phase.ID,
			Content:   content,
			ElapsedMS: time.Since(o.startedAt).Milliseconds(),
			Metadata:  meta,
		}
		seq, _, err := o.gateway.AppendUtterance(ctx, u)
		if err != nil {
			o.logger.Error("could not persist human turn, live stream remains authoritative",
				"turn_id", turnID, "error", err)
		}

		o.bus.Publish(o.session.ID, events.EventTypeHumanTurnReceived, events.HumanTurnReceivedPayload{
			Side:       spec.Speaker,
			Phase:      phase.ID,
			TurnNumber: spec.TurnNumber,
		})
		o.bus.Publish(o.session.ID, events.EventTypeUtterance, events.UtterancePayload{
			Speaker:  spec.Speaker,
			Phase:    phase.ID,
			Content:  content,
			Sequence: int64(seq),
			Model:    "human",
			Metadata: &meta,
		})
		o.completed[turnID] = struct{}{}
		o.metrics.HumanTurns.Add(ctx, 1, metric.WithAttributes(observe.Attr("kind", "turn")))
		o.logger.Info("human turn committed", "side", spec.Speaker, "turn_id", turnID, "sequence", seq)
		return nil
	}
}

// modelIDFor resolves the model id for attribution; "human" for the
// human seat, empty when no adapter is registered.
func (o *Orchestrator) modelIDFor(participantID string) string {
	if o.humanSeat(participantID) {
		return "human"
	}
	if a, ok := o.adapters[participantID]; ok {
		return a.ModelID()
	}
	return ""
}

// completionPercentage estimates how much of the expected response had
// streamed before the cutoff. When the total is unknown (native
// streaming) a nominal expected length of 1000 runes is assumed.
func completionPercentage(partial, expected int) int {
	if expected <= 0 {
		expected = 1000
	}
	pct := int(math.Round(100 * float64(partial) / float64(expected)))
	if pct > 100 {
		pct = 100
	}
	return pct
}
