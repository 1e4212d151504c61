// Package scheduler tracks who holds the floor in a session and where
// the active speaker's stream can safely be cut.
//
// One Scheduler exists per running session and is mutated only under
// its own lock, so the orchestrator's turn loop and the interruption
// engine's evaluation ticks can query it concurrently.
package scheduler

import (
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/parleyhq/parley/pkg/models"
)

// ErrSpeakerConflict is returned by StartSpeaker while another speaker
// holds the floor. At most one participant speaks at any instant.
var ErrSpeakerConflict = errors.New("scheduler: another speaker is active")

// budgetWindow is the rolling window for the interrupt-per-minute cap.
const budgetWindow = time.Minute

// Options fixes the per-session interruption tunables at construction.
type Options struct {
	// Floor is the minimum speaking time before a boundary counts,
	// derived from the session's pacing.
	Floor time.Duration

	// MaxInterruptsPerMinute caps fired interrupts in any rolling
	// 60-second window. Zero disables interrupts entirely.
	MaxInterruptsPerMinute int

	// Cooldown is how long a participant stays in cooldown after
	// finishing a turn or firing an interjection.
	Cooldown time.Duration

	// InterruptionsEnabled gates boundary detection and CanInterrupt.
	// False for formal sessions.
	InterruptionsEnabled bool
}

// Scheduler is the per-session speaking-state machine.
type Scheduler struct {
	opts   Options
	logger *slog.Logger
	now    func() time.Time

	mu            sync.Mutex
	phase         string
	turn          models.TurnSpec
	active        string
	states        map[string]models.SpeakingState
	cooldownUntil map[string]time.Time

	content      []rune
	sentences    int
	lastBoundary int
	windowOpen   bool
	startedAt    time.Time

	fired []time.Time
}

// New creates a scheduler for one session.
func New(opts Options, logger *slog.Logger) *Scheduler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Scheduler{
		opts:          opts,
		logger:        logger,
		now:           time.Now,
		states:        make(map[string]models.SpeakingState),
		cooldownUntil: make(map[string]time.Time),
		lastBoundary:  -1,
	}
}

// SetTurn records the current phase and turn spec for introspection.
func (s *Scheduler) SetTurn(phase string, turn models.TurnSpec) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.phase = phase
	s.turn = turn
}

// StartSpeaker gives the floor to id. Fails with ErrSpeakerConflict if
// someone else is already speaking. Resets the token cursor and closes
// the interrupt window.
func (s *Scheduler) StartSpeaker(id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.active != "" && s.active != id {
		return fmt.Errorf("%w: %s speaking, %s requested", ErrSpeakerConflict, s.active, id)
	}

	s.active = id
	s.states[id] = models.SpeakingActive
	delete(s.cooldownUntil, id)
	s.content = s.content[:0]
	s.sentences = 0
	s.lastBoundary = -1
	s.windowOpen = false
	s.startedAt = s.now()

	s.logger.Debug("speaker started", "speaker", id, "phase", s.phase)
	return nil
}

// ProcessTokenChunk appends chunk to the active speaker's emitted
// content and reports whether a safe boundary was detected in it. A
// boundary inside the pacing floor does not count. Any counted
// boundary opens the interrupt window.
func (s *Scheduler) ProcessTokenChunk(chunk string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.active == "" {
		return false
	}

	prevLen := len(s.content)
	s.content = append(s.content, []rune(chunk)...)

	if !s.opts.InterruptionsEnabled {
		return false
	}

	// Look back one rune so a terminator ending the previous chunk is
	// re-examined now that its follower is known.
	cut, sentences, found := scanBoundaries(s.content, prevLen-1)
	s.sentences = sentences
	if !found {
		return false
	}
	if s.now().Sub(s.startedAt) < s.opts.Floor {
		return false
	}

	s.lastBoundary = cut
	if !s.windowOpen {
		s.windowOpen = true
		s.logger.Debug("interrupt window opened", "speaker", s.active, "boundary", cut)
	}
	return true
}

// EndSpeaker releases the floor. The speaker enters cooldown, which
// lapses to ready after the configured duration.
func (s *Scheduler) EndSpeaker() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.active == "" {
		return
	}
	s.demote(s.active)
	s.logger.Debug("speaker ended", "speaker", s.active, "tokens", len(s.content))
	s.active = ""
	s.windowOpen = false
}

// MarkInterrupted demotes the active speaker to interrupted and
// releases the floor.
func (s *Scheduler) MarkInterrupted(id string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.states[id] = models.SpeakingInterrupted
	if s.active == id {
		s.active = ""
	}
}

// SetSpeakerState overrides a participant's speaking state.
func (s *Scheduler) SetSpeakerState(id string, state models.SpeakingState) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.states[id] = state
	if state != models.SpeakingCooldown {
		delete(s.cooldownUntil, id)
	}
}

// State returns a participant's speaking state, resolving lapsed
// cooldowns to ready.
func (s *Scheduler) State(id string) models.SpeakingState {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.resolveState(id)
}

// CanInterrupt reports whether an interrupt may fire right now: the
// window is open, the rolling budget has headroom, and interruptions
// are enabled for this session.
func (s *Scheduler) CanInterrupt() bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.opts.InterruptionsEnabled || !s.windowOpen {
		return false
	}
	return s.firedInWindow() < s.opts.MaxInterruptsPerMinute
}

// BudgetExhausted reports whether the rolling interrupt budget is used
// up, independent of window state.
func (s *Scheduler) BudgetExhausted() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.opts.MaxInterruptsPerMinute > 0 && s.firedInWindow() >= s.opts.MaxInterruptsPerMinute
}

// RecordInterruptFired counts a fired interrupt against the rolling
// budget, closes the window, and puts the interrupter in cooldown.
// This is the single counting point: scheduled-but-cancelled candidates
// never consume budget.
func (s *Scheduler) RecordInterruptFired(interrupter string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.fired = append(s.fired, s.now())
	s.windowOpen = false
	if interrupter != "" {
		s.states[interrupter] = models.SpeakingCooldown
		s.cooldownUntil[interrupter] = s.now().Add(s.opts.Cooldown)
	}
	s.logger.Debug("interrupt fired", "interrupter", interrupter, "fired_last_minute", s.firedInWindow())
}

// ActiveSpeaker returns the speaker holding the floor, if any.
func (s *Scheduler) ActiveSpeaker() (string, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.active, s.active != ""
}

// TokenCursor returns the rune count emitted by the active speaker.
func (s *Scheduler) TokenCursor() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.content)
}

// Content returns everything the active speaker has emitted this turn.
func (s *Scheduler) Content() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return string(s.content)
}

// ContentTail returns the last n runes of the emitted content.
func (s *Scheduler) ContentTail(n int) string {
	s.mu.Lock()
	defer s.mu.Unlock()

	if n >= len(s.content) {
		return string(s.content)
	}
	return string(s.content[len(s.content)-n:])
}

// LastBoundary returns the rune offset just past the most recent safe
// boundary, or -1 when none has been detected this turn.
func (s *Scheduler) LastBoundary() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastBoundary
}

// SentenceCount returns how many complete sentences the active speaker
// has emitted this turn.
func (s *Scheduler) SentenceCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.sentences
}

// WindowOpen reports whether the interrupt window is currently open.
func (s *Scheduler) WindowOpen() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.windowOpen
}

// Snapshot is a point-in-time view of scheduler state for debugging
// and the session detail endpoint.
type Snapshot struct {
	Phase         string                         `json:"phase"`
	Turn          models.TurnSpec                `json:"turn"`
	ActiveSpeaker string                         `json:"active_speaker,omitempty"`
	TokenCursor   int                            `json:"token_cursor"`
	WindowOpen    bool                           `json:"window_open"`
	States        map[string]models.SpeakingState `json:"states"`
	FiredLastMin  int                            `json:"fired_last_minute"`
}

// Snapshot returns a copy of the current state.
func (s *Scheduler) Snapshot() Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()

	states := make(map[string]models.SpeakingState, len(s.states))
	for id := range s.states {
		states[id] = s.resolveState(id)
	}
	return Snapshot{
		Phase:         s.phase,
		Turn:          s.turn,
		ActiveSpeaker: s.active,
		TokenCursor:   len(s.content),
		WindowOpen:    s.windowOpen,
		States:        states,
		FiredLastMin:  s.firedInWindow(),
	}
}

// demote moves a speaker out of the active state into cooldown (or
// straight to ready when no cooldown is configured).
func (s *Scheduler) demote(id string) {
	if s.opts.Cooldown <= 0 {
		s.states[id] = models.SpeakingReady
		return
	}
	s.states[id] = models.SpeakingCooldown
	s.cooldownUntil[id] = s.now().Add(s.opts.Cooldown)
}

func (s *Scheduler) resolveState(id string) models.SpeakingState {
	state, ok := s.states[id]
	if !ok {
		return models.SpeakingReady
	}
	if state == models.SpeakingCooldown {
		if until, ok := s.cooldownUntil[id]; ok && !s.now().Before(until) {
			s.states[id] = models.SpeakingReady
			delete(s.cooldownUntil, id)
			return models.SpeakingReady
		}
	}
	return state
}

// firedInWindow prunes stale timestamps and counts the remainder.
// Caller holds the lock.
func (s *Scheduler) firedInWindow() int {
	cutoff := s.now().Add(-budgetWindow)
	kept := s.fired[:0]
	for _, t := range s.fired {
		if t.After(cutoff) {
			kept = append(kept, t)
		}
	}
	s.fired = kept
	return len(s.fired)
}
