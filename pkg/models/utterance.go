package models

import "time"

// Utterance is one recorded speech act. Sequence is monotonic per session;
// interjections share the same sequence space and are disambiguated by
// metadata.
type Utterance struct {
	ID        string            `json:"id,omitempty"`
	SessionID string            `json:"session_id"`
	Sequence  int               `json:"sequence"`
	Speaker   string            `json:"speaker"`
	Phase     string            `json:"phase"`
	Content   string            `json:"content"`
	ElapsedMS int64             `json:"elapsed_ms"`
	Metadata  UtteranceMetadata `json:"metadata"`
	CreatedAt time.Time         `json:"created_at,omitempty"`
}

// UtteranceMetadata carries replay attribution. TurnID, PromptKind, and
// ModelID are always present; the interruption fields only when relevant.
type UtteranceMetadata struct {
	TurnID               string `json:"turn_id"`
	PromptKind           string `json:"prompt_kind"`
	ModelID              string `json:"model_id"`
	WasInterrupted       bool   `json:"was_interrupted,omitempty"`
	InterruptedBy        string `json:"interrupted_by,omitempty"`
	InterruptedAtToken   int    `json:"interrupted_at_token,omitempty"`
	CompletionPercentage int    `json:"completion_percentage,omitempty"`
	IsInterjection       bool   `json:"is_interjection,omitempty"`
	InterruptionID       string `json:"interruption_id,omitempty"`
	TriggerPhrase        string `json:"trigger_phrase,omitempty"`
	InterruptionEnergy   int    `json:"interruption_energy,omitempty"` // 1..5
	IsResumption         bool   `json:"is_resumption,omitempty"`
	IsHumanGenerated     bool   `json:"is_human_generated,omitempty"`
}

// MinContentLength is the floor below which a non-interrupted utterance is
// rejected by the generation loop.
const MinContentLength = 10

// MinExpectedLength is the floor below which a committed response draws a
// truncated_response advisory.
const MinExpectedLength = 200
