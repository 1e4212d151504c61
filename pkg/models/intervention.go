package models

import "time"

// InterventionKind classifies a human submission.
type InterventionKind string

const (
	InterventionQuestion      InterventionKind = "question"
	InterventionChallenge     InterventionKind = "challenge"
	InterventionEvidence      InterventionKind = "evidence"
	InterventionClarification InterventionKind = "clarification"
)

// InterventionStatus is the handling state of an intervention.
type InterventionStatus string

const (
	InterventionPending      InterventionStatus = "pending"
	InterventionAcknowledged InterventionStatus = "acknowledged"
	InterventionAddressed    InterventionStatus = "addressed"
	InterventionDismissed    InterventionStatus = "dismissed"
)

// Intervention is a human-submitted question/challenge/evidence/clarification
// directed at a speaker. An addressed intervention carries the responding
// utterance's text.
type Intervention struct {
	ID            string             `json:"id"`
	SessionID     string             `json:"session_id"`
	Kind          InterventionKind   `json:"kind"`
	TargetSpeaker string             `json:"target_speaker,omitempty"`
	Content       string             `json:"content"`
	Status        InterventionStatus `json:"status"`
	Response      string             `json:"response,omitempty"`
	SubmittedAt   time.Time          `json:"submitted_at"`
	RespondedAt   *time.Time         `json:"responded_at,omitempty"`
}
