// Package models contains the dialogue domain entities and business types.
package models

import (
	"time"
)

// SessionStatus is the lifecycle state of a dialogue session.
type SessionStatus string

const (
	StatusConfiguring SessionStatus = "configuring"
	StatusLive        SessionStatus = "live"
	StatusPaused      SessionStatus = "paused"
	StatusCompleted   SessionStatus = "completed"
	StatusError       SessionStatus = "error"
)

// Terminal reports whether the status admits no further transitions.
func (s SessionStatus) Terminal() bool {
	return s == StatusCompleted || s == StatusError
}

// CanTransitionTo reports whether the lifecycle graph permits moving to next.
// configuring → live → (paused ↔ live)* → {completed, error}.
func (s SessionStatus) CanTransitionTo(next SessionStatus) bool {
	switch s {
	case StatusConfiguring:
		return next == StatusLive || next == StatusError
	case StatusLive:
		return next == StatusPaused || next == StatusCompleted || next == StatusError
	case StatusPaused:
		return next == StatusLive || next == StatusCompleted || next == StatusError
	default:
		return false
	}
}

// Mode selects the dialogue format and its default phase plan.
type Mode string

const (
	ModeFormal       Mode = "formal"
	ModeLively       Mode = "lively"
	ModeInformal     Mode = "informal"
	ModeDuelogic     Mode = "duelogic"
	ModeConversation Mode = "conversation"
)

// Flow controls turn advancement: auto runs phases end to end, step pauses
// after every committed turn until resumed.
type Flow string

const (
	FlowAuto Flow = "auto"
	FlowStep Flow = "step"
)

// Pacing tunes the minimum floor before a safe boundary counts.
type Pacing string

const (
	PacingSlow   Pacing = "slow"
	PacingMedium Pacing = "medium"
	PacingFast   Pacing = "fast"
)

// Session is one dialogue run. A session exclusively owns its participants,
// utterances, interventions, and interruptions.
type Session struct {
	ID           string         `json:"id"`
	Proposition  string         `json:"proposition"`
	Context      string         `json:"context,omitempty"`
	Mode         Mode           `json:"mode"`
	Flow         Flow           `json:"flow"`
	Participants []*Participant `json:"participants"`
	// Phases overrides the mode-derived plan when non-empty.
	Phases    []PhaseSpec   `json:"phases,omitempty"`
	Status    SessionStatus `json:"status"`
	Config    SessionConfig `json:"config"`
	CreatedAt time.Time     `json:"created_at"`
	StartedAt *time.Time    `json:"started_at,omitempty"`
	EndedAt   *time.Time    `json:"ended_at,omitempty"`
}

// Participant looks up a roster member by id.
func (s *Session) Participant(id string) (*Participant, bool) {
	for _, p := range s.Participants {
		if p.ID == id {
			return p, true
		}
	}
	return nil, false
}

// ParticipantsByRole returns roster members carrying the given role tag.
func (s *Session) ParticipantsByRole(role Role) []*Participant {
	var out []*Participant
	for _, p := range s.Participants {
		if p.Role == role {
			out = append(out, p)
		}
	}
	return out
}

// SessionConfig is the per-session tunable bundle.
type SessionConfig struct {
	Brevity        string          `json:"brevity,omitempty"` // "concise" | "standard" | "expansive"
	MaxTokens      int             `json:"max_tokens,omitempty"`
	Temperature    float64         `json:"temperature,omitempty"`
	CitationPolicy string          `json:"citation_policy,omitempty"`
	// Rounds is the phase budget for exchange-style phases (informal,
	// duelogic, conversation).
	Rounds int             `json:"rounds,omitempty"`
	Human  *HumanConfig    `json:"human,omitempty"`
	Lively *LivelySettings `json:"lively,omitempty"`
}

// HumanConfig enables human participation on one side of the dialogue.
type HumanConfig struct {
	Enabled     bool   `json:"enabled"`
	Side        string `json:"side"` // participant id of the human-driven seat
	TimeLimitMS int    `json:"time_limit_ms,omitempty"`
}

// LivelySettings are the interruption tunables.
type LivelySettings struct {
	AggressionLevel        int    `json:"aggression_level"` // 1..5
	Pacing                 Pacing `json:"pacing,omitempty"`
	MaxInterruptsPerMinute int    `json:"max_interrupts_per_minute"`
	ChairInterruptions     bool   `json:"chair_interruptions,omitempty"`
	BoundaryDetection      bool   `json:"boundary_detection"`
}

// ────────────────────────────────────────────────────────────
// API request/response types
// ────────────────────────────────────────────────────────────

// CreateSessionRequest contains fields for creating a new session.
type CreateSessionRequest struct {
	Proposition  string            `json:"proposition"`
	Context      string            `json:"context,omitempty"`
	Mode         Mode              `json:"mode"`
	Flow         Flow              `json:"flow,omitempty"`
	Participants []ParticipantSpec `json:"participants"`
	Phases       []PhaseSpec       `json:"phases,omitempty"`
	Config       SessionConfig     `json:"config,omitempty"`
}

// ParticipantSpec declares one roster seat in a create request.
type ParticipantSpec struct {
	ID      string `json:"id,omitempty"`
	Name    string `json:"name"`
	Role    Role   `json:"role"`
	ModelID string `json:"model_id,omitempty"`
}

// SubmitInterventionRequest contains fields for a human intervention.
type SubmitInterventionRequest struct {
	Kind          InterventionKind `json:"kind"`
	TargetSpeaker string           `json:"target_speaker,omitempty"`
	Content       string           `json:"content"`
}

// SubmitHumanTurnRequest satisfies a pending human-turn rendezvous.
type SubmitHumanTurnRequest struct {
	Side       string `json:"side"`
	Phase      string `json:"phase"`
	TurnNumber int    `json:"turn_number"`
	Content    string `json:"content"`
}
