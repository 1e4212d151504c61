package orchestrator

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/parleyhq/parley/pkg/agent"
	"github.com/parleyhq/parley/pkg/config"
	"github.com/parleyhq/parley/pkg/events"
	"github.com/parleyhq/parley/pkg/models"
	"github.com/parleyhq/parley/pkg/persistence"
)

// scriptEntry is one canned Complete outcome.
type scriptEntry struct {
	text string
	err  error
}

// scriptedAdapter replays queued responses in call order; the last entry
// repeats once the script runs out.
type scriptedAdapter struct {
	mu       sync.Mutex
	script   []scriptEntry
	calls    int
	requests []agent.Request
	model    string
}

func respond(texts ...string) *scriptedAdapter {
	a := &scriptedAdapter{model: "scripted-v1"}
	for _, t := range texts {
		a.script = append(a.script, scriptEntry{text: t})
	}
	return a
}

func (a *scriptedAdapter) then(e scriptEntry) *scriptedAdapter {
	a.script = append(a.script, e)
	return a
}

func (a *scriptedAdapter) Complete(_ context.Context, req agent.Request) (string, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.requests = append(a.requests, req)
	i := a.calls
	if i >= len(a.script) {
		i = len(a.script) - 1
	}
	a.calls++
	e := a.script[i]
	if e.err != nil {
		return "", e.err
	}
	return e.text, nil
}

func (a *scriptedAdapter) Stream(context.Context, agent.Request) (<-chan agent.Chunk, error) {
	return nil, agent.ErrStreamingUnsupported
}

func (a *scriptedAdapter) ModelID() string { return a.model }

func (a *scriptedAdapter) callCount() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.calls
}

func (a *scriptedAdapter) lastRequest() agent.Request {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.requests[len(a.requests)-1]
}

// testEngineConfig compresses every delay so full sessions run in
// milliseconds.
func testEngineConfig() *config.EngineConfig {
	e := config.DefaultEngineConfig()
	e.ChunkSize = 50
	e.ChunkDelay = time.Millisecond
	e.RetryBackoffBase = time.Millisecond
	e.EvaluationInterval = time.Millisecond
	e.HumanTurnTimeout = 200 * time.Millisecond
	e.TurnTimeout = 5 * time.Second
	e.CooldownDuration = 10 * time.Millisecond
	e.PacingFloors = map[models.Pacing]time.Duration{
		models.PacingSlow:   0,
		models.PacingMedium: 0,
		models.PacingFast:   0,
	}
	return e
}

// twoPhaseSession is a small formal session with an explicit two-phase
// plan: opening and closing, pro then con in each.
func twoPhaseSession() *models.Session {
	return &models.Session{
		ID:          "sess-orch",
		Proposition: "This house would adopt a four-day work week",
		Mode:        models.ModeFormal,
		Flow:        models.FlowAuto,
		Status:      models.StatusConfiguring,
		Participants: []*models.Participant{
			{ID: "pro-1", Name: "Ada", Role: models.RolePro, ModelID: "scripted-v1"},
			{ID: "con-1", Name: "Bix", Role: models.RoleCon, ModelID: "scripted-v1"},
		},
		Phases: []models.PhaseSpec{
			{ID: "opening", Name: "Opening", Turns: []models.TurnSpec{
				{Speaker: "pro-1", Kind: models.OpeningKind()},
				{Speaker: "con-1", Kind: models.OpeningKind()},
			}},
			{ID: "closing", Name: "Closing", Turns: []models.TurnSpec{
				{Speaker: "pro-1", Kind: models.ClosingKind()},
				{Speaker: "con-1", Kind: models.ClosingKind()},
			}},
		},
		Config:    models.SessionConfig{Rounds: 1},
		CreatedAt: time.Now().UTC(),
	}
}

// longText yields a paragraph of distinct sentences, long enough to
// stream in several chunks and clear the minimum-length advisory.
func longText(label string, sentences int) string {
	var b strings.Builder
	for i := 0; i < sentences; i++ {
		fmt.Fprintf(&b, "Point %d for %s builds on the productivity evidence gathered across four national trials. ", i+1, label)
	}
	return strings.TrimSpace(b.String())
}

type orchFixture struct {
	t        *testing.T
	gw       *persistence.MemoryGateway
	bus      *events.Bus
	sub      *events.Subscription
	orch     *Orchestrator
	session  *models.Session
	adapters map[string]*scriptedAdapter
}

func newOrchFixture(t *testing.T, s *models.Session, adapters map[string]*scriptedAdapter, mutate func(*Params)) *orchFixture {
	t.Helper()

	gw := persistence.NewMemoryGateway()
	require.NoError(t, gw.CreateSession(context.Background(), s))

	bus := events.NewBus(512, 512, 0, nil)
	t.Cleanup(bus.Shutdown)
	sub, err := bus.Subscribe(context.Background(), s.ID, -1)
	require.NoError(t, err)

	wired := make(map[string]agent.Adapter, len(adapters))
	for id, a := range adapters {
		wired[id] = a
	}

	plan, err := derivePlan(s, maxInt(s.Config.Rounds, 1))
	require.NoError(t, err)

	p := Params{
		Session:  s,
		Plan:     plan,
		Gateway:  gw,
		Bus:      bus,
		Adapters: wired,
		Engine:   testEngineConfig(),
	}
	if mutate != nil {
		mutate(&p)
	}

	orch, err := New(p)
	require.NoError(t, err)
	return &orchFixture{t: t, gw: gw, bus: bus, sub: sub, orch: orch, session: s, adapters: adapters}
}

func maxInt(a, b int) int {
	if a > b {
		return a
	}
	return b
}

// startAndRun flips the session live and runs the loop on a goroutine.
func (f *orchFixture) startAndRun(ctx context.Context) <-chan error {
	f.t.Helper()
	require.NoError(f.t, f.orch.Start(ctx))
	done := make(chan error, 1)
	go func() { done <- f.orch.Run(ctx) }()
	return done
}

func waitDone(t *testing.T, done <-chan error) error {
	t.Helper()
	select {
	case err := <-done:
		return err
	case <-time.After(10 * time.Second):
		t.Fatal("session run did not finish")
		return nil
	}
}

// collectUntil drains non-control events until one of the terminal types
// arrives.
func collectUntil(t *testing.T, sub *events.Subscription, terminal ...events.EventType) []events.Event {
	t.Helper()
	stop := make(map[events.EventType]bool, len(terminal))
	for _, tt := range terminal {
		stop[tt] = true
	}
	var out []events.Event
	deadline := time.After(10 * time.Second)
	for {
		select {
		case ev, ok := <-sub.Events():
			require.True(t, ok, "subscription closed early")
			if ev.Control() {
				continue
			}
			out = append(out, ev)
			if stop[ev.Type] {
				return out
			}
		case <-deadline:
			t.Fatalf("timed out waiting for %v; saw %v", terminal, typesOf(out))
		}
	}
}

func typesOf(evs []events.Event) []events.EventType {
	out := make([]events.EventType, 0, len(evs))
	for _, ev := range evs {
		out = append(out, ev.Type)
	}
	return out
}

func indexOf(evs []events.Event, typ events.EventType) int {
	for i, ev := range evs {
		if ev.Type == typ {
			return i
		}
	}
	return -1
}

func TestRunCommitsAllPlannedTurns(t *testing.T) {
	s := twoPhaseSession()
	adapters := map[string]*scriptedAdapter{
		"pro-1": respond(longText("pro opening", 4), longText("pro closing", 4)),
		"con-1": respond(longText("con opening", 4), longText("con closing", 4)),
	}
	f := newOrchFixture(t, s, adapters, nil)

	done := f.startAndRun(context.Background())
	require.NoError(t, waitDone(t, done))

	assert.Equal(t, models.StatusCompleted, f.orch.Status())
	stored, err := f.gw.FindSession(context.Background(), s.ID)
	require.NoError(t, err)
	assert.Equal(t, models.StatusCompleted, stored.Status)

	utterances, err := f.gw.ListUtterancesBySession(context.Background(), s.ID)
	require.NoError(t, err)
	require.Len(t, utterances, 4)
	for i, u := range utterances {
		assert.Equal(t, i+1, u.Sequence)
		assert.NotEmpty(t, u.Metadata.TurnID)
		assert.Equal(t, "scripted-v1", u.Metadata.ModelID)
		assert.False(t, u.Metadata.WasInterrupted)
	}
	assert.Equal(t, []string{"pro-1", "con-1", "pro-1", "con-1"},
		[]string{utterances[0].Speaker, utterances[1].Speaker, utterances[2].Speaker, utterances[3].Speaker})

	evs := collectUntil(t, f.sub, events.EventTypeDebateComplete)
	types := typesOf(evs)
	assert.Equal(t, events.EventTypeDebateStarted, types[0])
	assert.Contains(t, types, events.EventTypePhaseStart)
	assert.Contains(t, types, events.EventTypeSpeakerStarted)
	assert.Contains(t, types, events.EventTypeTokenChunk)
	assert.Contains(t, types, events.EventTypeUtterance)
	assert.Contains(t, types, events.EventTypePhaseComplete)

	// Both phases open and close, in order.
	firstPhaseStart := indexOf(evs, events.EventTypePhaseStart)
	firstPhaseComplete := indexOf(evs, events.EventTypePhaseComplete)
	assert.Less(t, firstPhaseStart, firstPhaseComplete)

	transcript, err := f.gw.Transcript(context.Background(), s.ID)
	require.NoError(t, err)
	assert.Contains(t, transcript, s.Proposition)
	assert.Contains(t, transcript, "**Ada**")
}

func TestRunSkipsAlreadyCommittedTurns(t *testing.T) {
	s := twoPhaseSession()
	adapters := map[string]*scriptedAdapter{
		"pro-1": respond(longText("pro fresh", 4)),
		"con-1": respond(longText("con opening", 4), longText("con closing", 4)),
	}
	f := newOrchFixture(t, s, adapters, nil)

	// Simulate a previous process having committed pro's two turns.
	for _, phase := range []struct{ id, kind string }{{"opening", "opening"}, {"closing", "closing"}} {
		kind := models.OpeningKind()
		if phase.kind == "closing" {
			kind = models.ClosingKind()
		}
		_, _, err := f.gw.AppendUtterance(context.Background(), &models.Utterance{
			SessionID: s.ID,
			Speaker:   "pro-1",
			Phase:     phase.id,
			Content:   longText("pro committed "+phase.id, 4),
			Metadata: models.UtteranceMetadata{
				TurnID:     models.TurnID(phase.id, "pro-1", 1, kind),
				PromptKind: phase.kind,
				ModelID:    "scripted-v1",
			},
		})
		require.NoError(t, err)
	}

	done := f.startAndRun(context.Background())
	require.NoError(t, waitDone(t, done))

	// Pro's adapter was never called; con's ran both turns.
	assert.Zero(t, adapters["pro-1"].callCount())
	assert.Equal(t, 2, adapters["con-1"].callCount())

	utterances, err := f.gw.ListUtterancesBySession(context.Background(), s.ID)
	require.NoError(t, err)
	assert.Len(t, utterances, 4)
}

func TestRunRetriesEmptyResponseThenSucceeds(t *testing.T) {
	s := twoPhaseSession()
	s.Phases = s.Phases[:1] // opening only
	pro := &scriptedAdapter{model: "scripted-v1"}
	pro.then(scriptEntry{err: agent.NewEmpty("no content")})
	pro.then(scriptEntry{text: longText("pro recovered", 4)})
	adapters := map[string]*scriptedAdapter{
		"pro-1": pro,
		"con-1": respond(longText("con opening", 4)),
	}
	f := newOrchFixture(t, s, adapters, nil)

	done := f.startAndRun(context.Background())
	require.NoError(t, waitDone(t, done))

	assert.Equal(t, 2, pro.callCount())

	evs := collectUntil(t, f.sub, events.EventTypeDebateComplete)
	retryIdx := indexOf(evs, events.EventTypeRetryAttempt)
	successIdx := indexOf(evs, events.EventTypeRetrySuccess)
	require.GreaterOrEqual(t, retryIdx, 0, "expected a retry_attempt event")
	require.GreaterOrEqual(t, successIdx, 0, "expected a retry_success event")
	assert.Less(t, retryIdx, successIdx)

	utterances, err := f.gw.ListUtterancesBySession(context.Background(), s.ID)
	require.NoError(t, err)
	require.Len(t, utterances, 2)
	assert.Contains(t, utterances[0].Content, "pro recovered")
}

func TestRunRetryExhaustedSkipsTurn(t *testing.T) {
	s := twoPhaseSession()
	s.Phases = s.Phases[:1]
	pro := &scriptedAdapter{model: "scripted-v1"}
	for i := 0; i < 3; i++ {
		pro.then(scriptEntry{err: agent.NewUnavailable("rate limited", nil)})
	}
	adapters := map[string]*scriptedAdapter{
		"pro-1": pro,
		"con-1": respond(longText("con opening", 4)),
	}
	f := newOrchFixture(t, s, adapters, nil)

	done := f.startAndRun(context.Background())
	require.NoError(t, waitDone(t, done))

	assert.Equal(t, 3, pro.callCount())
	assert.Equal(t, models.StatusCompleted, f.orch.Status())

	evs := collectUntil(t, f.sub, events.EventTypeDebateComplete)
	assert.GreaterOrEqual(t, indexOf(evs, events.EventTypeRetryExhausted), 0)

	// Only con's turn landed; the debate still completed.
	utterances, err := f.gw.ListUtterancesBySession(context.Background(), s.ID)
	require.NoError(t, err)
	require.Len(t, utterances, 1)
	assert.Equal(t, "con-1", utterances[0].Speaker)
}

func TestRunRefusalSkipsWithoutRetry(t *testing.T) {
	s := twoPhaseSession()
	s.Phases = s.Phases[:1]
	pro := &scriptedAdapter{model: "scripted-v1"}
	pro.then(scriptEntry{err: agent.NewRefused("safety filter")})
	adapters := map[string]*scriptedAdapter{
		"pro-1": pro,
		"con-1": respond(longText("con opening", 4)),
	}
	f := newOrchFixture(t, s, adapters, nil)

	done := f.startAndRun(context.Background())
	require.NoError(t, waitDone(t, done))

	// One call, no retries.
	assert.Equal(t, 1, pro.callCount())

	evs := collectUntil(t, f.sub, events.EventTypeDebateComplete)
	assert.GreaterOrEqual(t, indexOf(evs, events.EventTypeContentPolicyRefusal), 0)
	assert.Equal(t, -1, indexOf(evs, events.EventTypeRetryAttempt))
}

func TestRunEmitsTruncatedResponseAdvisory(t *testing.T) {
	s := twoPhaseSession()
	s.Phases = s.Phases[:1]
	adapters := map[string]*scriptedAdapter{
		"pro-1": respond("Short but valid opening remark."), // >= 10 runes, < 200
		"con-1": respond(longText("con opening", 4)),
	}
	f := newOrchFixture(t, s, adapters, nil)

	done := f.startAndRun(context.Background())
	require.NoError(t, waitDone(t, done))

	evs := collectUntil(t, f.sub, events.EventTypeDebateComplete)
	idx := indexOf(evs, events.EventTypeTruncatedResponse)
	require.GreaterOrEqual(t, idx, 0)

	// The short turn still committed.
	utterances, err := f.gw.ListUtterancesBySession(context.Background(), s.ID)
	require.NoError(t, err)
	assert.Len(t, utterances, 2)
}

func TestStartRejectsNonConfiguringSession(t *testing.T) {
	s := twoPhaseSession()
	adapters := map[string]*scriptedAdapter{
		"pro-1": respond(longText("pro", 4)),
		"con-1": respond(longText("con", 4)),
	}
	f := newOrchFixture(t, s, adapters, nil)

	require.NoError(t, f.orch.Start(context.Background()))
	err := f.orch.Start(context.Background())
	assert.ErrorIs(t, err, ErrInvalidTransition)
}

func TestPauseAndResumeGateTheLoop(t *testing.T) {
	s := twoPhaseSession()
	adapters := map[string]*scriptedAdapter{
		"pro-1": respond(longText("pro opening", 4), longText("pro closing", 4)),
		"con-1": respond(longText("con opening", 4), longText("con closing", 4)),
	}
	f := newOrchFixture(t, s, adapters, nil)

	require.NoError(t, f.orch.Start(context.Background()))
	require.NoError(t, f.orch.Pause(context.Background()))
	assert.Equal(t, models.StatusPaused, f.orch.Status())

	done := make(chan error, 1)
	go func() { done <- f.orch.Run(context.Background()) }()

	// Paused before the first turn: nothing commits.
	time.Sleep(50 * time.Millisecond)
	utterances, err := f.gw.ListUtterancesBySession(context.Background(), s.ID)
	require.NoError(t, err)
	assert.Empty(t, utterances)

	require.NoError(t, f.orch.Resume(context.Background()))
	require.NoError(t, waitDone(t, done))
	assert.Equal(t, models.StatusCompleted, f.orch.Status())

	evs := collectUntil(t, f.sub, events.EventTypeDebateComplete)
	assert.GreaterOrEqual(t, indexOf(evs, events.EventTypeDebatePaused), 0)
	assert.GreaterOrEqual(t, indexOf(evs, events.EventTypeDebateResumed), 0)
}

func TestPauseRequiresLiveSession(t *testing.T) {
	s := twoPhaseSession()
	adapters := map[string]*scriptedAdapter{
		"pro-1": respond(longText("pro", 4)),
		"con-1": respond(longText("con", 4)),
	}
	f := newOrchFixture(t, s, adapters, nil)

	err := f.orch.Pause(context.Background())
	assert.ErrorIs(t, err, ErrInvalidTransition)
}

func TestStepFlowPausesAfterEachTurn(t *testing.T) {
	s := twoPhaseSession()
	s.Flow = models.FlowStep
	s.Phases = s.Phases[:1] // two turns total
	adapters := map[string]*scriptedAdapter{
		"pro-1": respond(longText("pro opening", 4)),
		"con-1": respond(longText("con opening", 4)),
	}
	f := newOrchFixture(t, s, adapters, nil)

	done := f.startAndRun(context.Background())

	// After the first committed turn the loop self-pauses.
	require.Eventually(t, func() bool {
		return f.orch.Status() == models.StatusPaused
	}, 5*time.Second, 5*time.Millisecond)

	utterances, err := f.gw.ListUtterancesBySession(context.Background(), s.ID)
	require.NoError(t, err)
	assert.Len(t, utterances, 1)

	// The final turn does not pause again; the run completes.
	require.NoError(t, f.orch.Resume(context.Background()))
	require.NoError(t, waitDone(t, done))
	assert.Equal(t, models.StatusCompleted, f.orch.Status())
}

func TestStopUnwindsIntoDebateStopped(t *testing.T) {
	s := twoPhaseSession()
	adapters := map[string]*scriptedAdapter{
		"pro-1": respond(longText("pro opening", 40)), // long stream to stop into
		"con-1": respond(longText("con opening", 40)),
	}
	f := newOrchFixture(t, s, adapters, nil)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	done := f.startAndRun(ctx)

	// Let the first stream get going, then stop mid-flight.
	evs := collectUntil(t, f.sub, events.EventTypeTokenChunk)
	require.NotEmpty(t, evs)
	require.NoError(t, f.orch.requestStop(StopReasonClientRequest))
	cancel()

	require.NoError(t, waitDone(t, done))
	assert.Equal(t, models.StatusCompleted, f.orch.Status())

	rest := collectUntil(t, f.sub, events.EventTypeDebateStopped)
	stopped := rest[len(rest)-1]
	payload, err := stopped.MarshalJSON()
	require.NoError(t, err)
	assert.Contains(t, string(payload), StopReasonClientRequest)

	// No further content events after the stop.
	assert.Equal(t, -1, indexOf(rest, events.EventTypeDebateComplete))
}

func TestStopRejectedWhenConfiguring(t *testing.T) {
	s := twoPhaseSession()
	adapters := map[string]*scriptedAdapter{
		"pro-1": respond(longText("pro", 4)),
		"con-1": respond(longText("con", 4)),
	}
	f := newOrchFixture(t, s, adapters, nil)

	err := f.orch.requestStop(StopReasonClientRequest)
	assert.ErrorIs(t, err, ErrInvalidTransition)
}

func TestHumanTurnRendezvous(t *testing.T) {
	s := twoPhaseSession()
	s.Phases = s.Phases[:1]
	s.Config.Human = &models.HumanConfig{Enabled: true, Side: "pro-1"}
	adapters := map[string]*scriptedAdapter{
		"con-1": respond(longText("con opening", 4)),
	}
	f := newOrchFixture(t, s, adapters, nil)

	done := f.startAndRun(context.Background())

	// Wait for the rendezvous to open, then submit.
	collectUntil(t, f.sub, events.EventTypeAwaitingHumanInput)
	require.Eventually(t, func() bool {
		return f.orch.SubmitHumanTurn("pro-1", "opening", 1, "We have lived this schedule for a year and output rose.") == nil
	}, 2*time.Second, 5*time.Millisecond)

	require.NoError(t, waitDone(t, done))

	utterances, err := f.gw.ListUtterancesBySession(context.Background(), s.ID)
	require.NoError(t, err)
	require.Len(t, utterances, 2)
	human := utterances[0]
	assert.Equal(t, "pro-1", human.Speaker)
	assert.True(t, human.Metadata.IsHumanGenerated)
	assert.Equal(t, "human", human.Metadata.ModelID)
	assert.NotEmpty(t, human.Metadata.TurnID)

	evs := collectUntil(t, f.sub, events.EventTypeDebateComplete)
	assert.GreaterOrEqual(t, indexOf(evs, events.EventTypeHumanTurnReceived), 0)
}

func TestHumanTurnTimeoutSkips(t *testing.T) {
	s := twoPhaseSession()
	s.Phases = s.Phases[:1]
	s.Config.Human = &models.HumanConfig{Enabled: true, Side: "pro-1", TimeLimitMS: 30}
	adapters := map[string]*scriptedAdapter{
		"con-1": respond(longText("con opening", 4)),
	}
	f := newOrchFixture(t, s, adapters, nil)

	done := f.startAndRun(context.Background())
	require.NoError(t, waitDone(t, done))

	evs := collectUntil(t, f.sub, events.EventTypeDebateComplete)
	assert.GreaterOrEqual(t, indexOf(evs, events.EventTypeHumanTurnTimeout), 0)

	// Only con committed; the human seat produced nothing.
	utterances, err := f.gw.ListUtterancesBySession(context.Background(), s.ID)
	require.NoError(t, err)
	require.Len(t, utterances, 1)
	assert.Equal(t, "con-1", utterances[0].Speaker)

	// A submission after the timeout is rejected.
	err = f.orch.SubmitHumanTurn("pro-1", "opening", 1, "too late")
	assert.ErrorIs(t, err, ErrNoPendingTurn)
}

func TestConversationInjection(t *testing.T) {
	s := twoPhaseSession()
	adapters := map[string]*scriptedAdapter{
		"pro-1": respond(longText("pro", 4)),
		"con-1": respond(longText("con", 4)),
	}
	f := newOrchFixture(t, s, adapters, nil)

	require.NoError(t, f.orch.Start(context.Background()))
	require.NoError(t, f.orch.InjectConversationUtterance(context.Background(), "Casey", "What about parents on school schedules?"))

	utterances, err := f.gw.ListUtterancesBySession(context.Background(), s.ID)
	require.NoError(t, err)
	require.Len(t, utterances, 1)
	u := utterances[0]
	assert.Equal(t, "Casey", u.Speaker)
	assert.True(t, u.Metadata.IsHumanGenerated)
	assert.Empty(t, u.Metadata.TurnID)

	evs := collectUntil(t, f.sub, events.EventTypeConversationUtterance)
	assert.Equal(t, events.EventTypeConversationUtterance, evs[len(evs)-1].Type)

	err = f.orch.InjectConversationUtterance(context.Background(), "Casey", "   ")
	assert.Error(t, err)
}

func TestInterventionsRelayedIntoPrompt(t *testing.T) {
	s := twoPhaseSession()
	s.Phases = s.Phases[:1]
	adapters := map[string]*scriptedAdapter{
		"pro-1": respond(longText("pro opening", 4)),
		"con-1": respond(longText("con opening", 4)),
	}
	f := newOrchFixture(t, s, adapters, nil)

	iv := &models.Intervention{
		ID:            "iv-1",
		SessionID:     s.ID,
		Kind:          models.InterventionQuestion,
		TargetSpeaker: "pro-1",
		Content:       "What about maintenance workloads?",
		Status:        models.InterventionPending,
		SubmittedAt:   time.Now().UTC(),
	}
	require.NoError(t, f.gw.RecordIntervention(context.Background(), iv))

	done := f.startAndRun(context.Background())
	require.NoError(t, waitDone(t, done))

	// The digest reached pro's prompt.
	req := f.adapters["pro-1"].lastRequest()
	var joined strings.Builder
	for _, m := range req.Messages {
		joined.WriteString(m.Content)
	}
	assert.Contains(t, joined.String(), "maintenance workloads")

	// And the intervention was marked addressed with the response text.
	ivs, err := f.gw.ListInterventionsBySession(context.Background(), s.ID)
	require.NoError(t, err)
	require.Len(t, ivs, 1)
	assert.Equal(t, models.InterventionAddressed, ivs[0].Status)
	assert.NotEmpty(t, ivs[0].Response)
}

// livelySession wires a lively-mode session where con interrupts pro.
func livelySession() *models.Session {
	s := twoPhaseSession()
	s.ID = "sess-lively"
	s.Mode = models.ModeLively
	s.Config.Lively = &models.LivelySettings{
		AggressionLevel:        5,
		Pacing:                 models.PacingFast,
		MaxInterruptsPerMinute: 1,
		BoundaryDetection:      true,
	}
	return s
}

func acceptConVerdict() string {
	return `{"should_interrupt": true, "candidate_speaker": "con-1", "relevance": 0.9, "contradiction": 0.85, "trigger_phrase": "productivity evidence", "reasoning": "the trials were disputed"}`
}

func TestLivelyInterruptAndResumption(t *testing.T) {
	s := livelySession()
	adapters := map[string]*scriptedAdapter{
		"pro-1": respond(longText("pro opening", 12), longText("pro closing", 4)),
		"con-1": respond(
			"Hold on. Two of those trials were withdrawn last spring.",
			longText("con opening", 4),
			longText("con closing", 4),
		),
	}
	f := newOrchFixture(t, s, adapters, func(p *Params) {
		p.Evaluator = respond(acceptConVerdict())
	})

	done := f.startAndRun(context.Background())
	require.NoError(t, waitDone(t, done))
	assert.Equal(t, models.StatusCompleted, f.orch.Status())

	evs := collectUntil(t, f.sub, events.EventTypeDebateComplete)
	cutoffIdx := indexOf(evs, events.EventTypeSpeakerCutoff)
	firedIdx := indexOf(evs, events.EventTypeInterruptFired)
	interjectionIdx := indexOf(evs, events.EventTypeInterjection)
	require.GreaterOrEqual(t, cutoffIdx, 0, "expected speaker_cutoff; saw %v", typesOf(evs))
	require.GreaterOrEqual(t, firedIdx, 0)
	require.GreaterOrEqual(t, interjectionIdx, 0)
	assert.Less(t, cutoffIdx, firedIdx)
	assert.Less(t, firedIdx, interjectionIdx)
	assert.GreaterOrEqual(t, indexOf(evs, events.EventTypeWindowOpened), 0)

	utterances, err := f.gw.ListUtterancesBySession(context.Background(), s.ID)
	require.NoError(t, err)

	var interjection, interrupted, resumption *models.Utterance
	for _, u := range utterances {
		switch {
		case u.Metadata.IsInterjection:
			interjection = u
		case u.Metadata.WasInterrupted:
			interrupted = u
		case u.Metadata.IsResumption:
			resumption = u
		}
	}

	require.NotNil(t, interjection, "interjection utterance missing")
	assert.Equal(t, "con-1", interjection.Speaker)
	assert.NotEmpty(t, interjection.Metadata.InterruptionID)
	assert.NotZero(t, interjection.Metadata.InterruptionEnergy)

	require.NotNil(t, interrupted, "interrupted utterance missing")
	assert.Equal(t, "pro-1", interrupted.Speaker)
	assert.Equal(t, "con-1", interrupted.Metadata.InterruptedBy)
	assert.Positive(t, interrupted.Metadata.InterruptedAtToken)
	assert.Equal(t, interjection.Metadata.InterruptionID, interrupted.Metadata.InterruptionID)
	assert.Positive(t, interrupted.Metadata.CompletionPercentage)
	assert.LessOrEqual(t, interrupted.Metadata.CompletionPercentage, 100)

	// The interjection shares the sequence space with full turns.
	assert.NotEqual(t, interjection.Sequence, interrupted.Sequence)

	require.NotNil(t, resumption, "resumption turn missing")
	assert.Equal(t, "pro-1", resumption.Speaker)

	// Pro's resumption prompt carried the verbatim fragment instruction.
	last := f.adapters["pro-1"].lastRequest()
	var joined strings.Builder
	for _, m := range last.Messages {
		joined.WriteString(m.Content)
	}
	assert.Contains(t, joined.String(), "You were interrupted mid-statement")

	// One interruption on record.
	records, err := f.gw.ListInterruptionsBySession(context.Background(), s.ID)
	require.NoError(t, err)
	require.Len(t, records, 1)
	assert.Equal(t, "con-1", records[0].Interrupter)
	assert.Equal(t, "pro-1", records[0].Interrupted)
}

func TestLivelyBudgetCapsInterrupts(t *testing.T) {
	s := livelySession()
	// Both pro turns are long; the evaluator always wants an interrupt,
	// but the budget allows exactly one per minute.
	adapters := map[string]*scriptedAdapter{
		"pro-1": respond(longText("pro opening", 12), longText("pro closing", 12)),
		"con-1": respond(
			"Hold on. Two of those trials were withdrawn last spring.",
			longText("con opening", 4),
			longText("con closing", 4),
		),
	}
	f := newOrchFixture(t, s, adapters, func(p *Params) {
		p.Evaluator = respond(acceptConVerdict())
	})

	done := f.startAndRun(context.Background())
	require.NoError(t, waitDone(t, done))

	records, err := f.gw.ListInterruptionsBySession(context.Background(), s.ID)
	require.NoError(t, err)
	assert.Len(t, records, 1, "budget of one interrupt per minute")
}

func TestFormalModeNeverEvaluatesInterrupts(t *testing.T) {
	s := twoPhaseSession() // formal
	evaluator := respond(acceptConVerdict())
	adapters := map[string]*scriptedAdapter{
		"pro-1": respond(longText("pro opening", 8), longText("pro closing", 4)),
		"con-1": respond(longText("con opening", 8), longText("con closing", 4)),
	}
	f := newOrchFixture(t, s, adapters, func(p *Params) {
		p.Evaluator = evaluator
	})

	done := f.startAndRun(context.Background())
	require.NoError(t, waitDone(t, done))

	assert.Zero(t, evaluator.callCount())

	records, err := f.gw.ListInterruptionsBySession(context.Background(), s.ID)
	require.NoError(t, err)
	assert.Empty(t, records)
}
