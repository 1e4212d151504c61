package events

import "github.com/parleyhq/parley/pkg/models"

// Payload structs for every event type. The Event envelope injects
// type/session_id/event_id/timestamp at marshal time, so payloads carry
// only their type-specific fields.

// DebateStartedPayload is the payload for debate_started events.
type DebateStartedPayload struct {
	Proposition string   `json:"proposition"`
	Mode        string   `json:"mode"`
	Speakers    []string `json:"speakers,omitempty"`
	PhaseCount  int      `json:"phase_count,omitempty"`
}

// DebateStoppedPayload is the payload for debate_stopped events.
type DebateStoppedPayload struct {
	Reason string `json:"reason,omitempty"`
}

// DebateCompletePayload is the payload for debate_complete events.
type DebateCompletePayload struct {
	TotalUtterances int   `json:"total_utterances"`
	DurationMS      int64 `json:"duration_ms"`
}

// ErrorPayload is the payload for error events.
type ErrorPayload struct {
	Message     string `json:"message"`
	Recoverable bool   `json:"recoverable"`
}

// PhaseStartPayload is the payload for phase_start events.
type PhaseStartPayload struct {
	Phase     string `json:"phase"`
	Name      string `json:"name,omitempty"`
	TurnCount int    `json:"turn_count"`
}

// PhaseCompletePayload is the payload for phase_complete events.
type PhaseCompletePayload struct {
	Phase string `json:"phase"`
}

// SpeakerStartedPayload is the payload for speaker_started events.
type SpeakerStartedPayload struct {
	Speaker      string `json:"speaker"`
	Phase        string `json:"phase"`
	IsResumption bool   `json:"is_resumption,omitempty"`
}

// TokenChunkPayload is the payload for token_chunk events — one streamed
// slice of the active speaker's output. High frequency, ephemeral.
type TokenChunkPayload struct {
	Speaker       string `json:"speaker"`
	Chunk         string `json:"chunk"`
	TokenPosition int    `json:"token_position"`
}

// UtterancePayload is the payload for utterance events, published when a
// turn's content is committed.
type UtterancePayload struct {
	Speaker        string                    `json:"speaker"`
	Phase          string                    `json:"phase"`
	Content        string                    `json:"content"`
	Sequence       int64                     `json:"sequence"`
	Model          string                    `json:"model,omitempty"`
	WasInterrupted bool                      `json:"was_interrupted,omitempty"`
	Metadata       *models.UtteranceMetadata `json:"metadata,omitempty"`
}

// InterruptScheduledPayload is the payload for interrupt_scheduled events:
// an accepted candidate is parked in the pending slot awaiting a boundary.
type InterruptScheduledPayload struct {
	Interrupter    string  `json:"interrupter"`
	CurrentSpeaker string  `json:"current_speaker"`
	RelevanceScore float64 `json:"relevance_score"`
	TriggerPhrase  string  `json:"trigger_phrase,omitempty"`
}

// InterruptFiredPayload is the payload for interrupt_fired events.
type InterruptFiredPayload struct {
	Interrupter        string `json:"interrupter"`
	InterruptedSpeaker string `json:"interrupted_speaker"`
	Energy             int    `json:"energy"`
}

// SpeakerCutoffPayload is the payload for speaker_cutoff events, published
// the moment the active speaker's stream is severed at a boundary.
type SpeakerCutoffPayload struct {
	CutoffSpeaker        string `json:"cutoff_speaker"`
	InterruptedBy        string `json:"interrupted_by"`
	AtTokenPosition      int    `json:"at_token_position"`
	PartialContentTail   string `json:"partial_content_tail,omitempty"`
	CompletionPercentage int    `json:"completion_percentage"`
}

// InterruptCancelledPayload is the payload for interrupt_cancelled events.
type InterruptCancelledPayload struct {
	Interrupter string `json:"interrupter,omitempty"`
	Reason      string `json:"reason"`
}

// InterjectionPayload is the payload for interjection events — the
// interrupter's short burst, persisted as an is_interjection utterance.
type InterjectionPayload struct {
	Speaker        string `json:"speaker"`
	Content        string `json:"content"`
	Energy         int    `json:"energy"`
	InterruptionID string `json:"interruption_id"`
}

// BoundarySafePayload is the payload for boundary:safe scheduler signals.
type BoundarySafePayload struct {
	Speaker   string `json:"speaker"`
	AtToken   int    `json:"at_token"`
	Sentences int    `json:"sentences"`
}

// WindowOpenedPayload is the payload for window:opened scheduler signals.
type WindowOpenedPayload struct {
	Speaker string `json:"speaker"`
	AtToken int    `json:"at_token"`
}

// WindowClosedPayload is the payload for window:closed scheduler signals.
type WindowClosedPayload struct {
	Speaker string `json:"speaker"`
	Reason  string `json:"reason"`
}

// ConnectedPayload is the payload for the subscriber-local connected event.
type ConnectedPayload struct {
	SubscriberID string `json:"subscriber_id"`
	LastEventID  int64  `json:"last_event_id,omitempty"`
}

// CatchupStartPayload is the payload for catchup_start control events.
type CatchupStartPayload struct {
	Reason string `json:"reason"`
}

// CatchupUtterancePayload is the payload for catchup_utterance control
// events: one persisted utterance replayed to a re-syncing subscriber.
type CatchupUtterancePayload struct {
	Utterance *models.Utterance `json:"utterance"`
}

// CatchupCompletePayload is the payload for catchup_complete control events.
type CatchupCompletePayload struct {
	Replayed int `json:"replayed"`
}

// AwaitingHumanInputPayload is the payload for awaiting_human_input events.
type AwaitingHumanInputPayload struct {
	Side       string `json:"side"`
	Phase      string `json:"phase"`
	TurnNumber int    `json:"turn_number"`
	PromptType string `json:"prompt_type"`
	TimeoutMS  int64  `json:"timeout_ms,omitempty"`
}

// HumanTurnReceivedPayload is the payload for human_turn_received events.
type HumanTurnReceivedPayload struct {
	Side       string `json:"side"`
	Phase      string `json:"phase"`
	TurnNumber int    `json:"turn_number"`
}

// HumanTurnTimeoutPayload is the payload for human_turn_timeout events.
type HumanTurnTimeoutPayload struct {
	Side       string `json:"side"`
	Phase      string `json:"phase"`
	TurnNumber int    `json:"turn_number"`
	TimeoutMS  int64  `json:"timeout_ms"`
}

// ConversationConnectedPayload is the payload for conversation_connected
// events on the bidirectional conversation channel.
type ConversationConnectedPayload struct {
	ConnectionID string `json:"connection_id"`
}

// ConversationUtterancePayload is the payload for conversation_utterance
// events: a human message accepted over the conversation channel.
type ConversationUtterancePayload struct {
	Speaker  string `json:"speaker"`
	Content  string `json:"content"`
	Sequence int64  `json:"sequence"`
}

// RetryAttemptPayload is the payload for retry_attempt advisory events.
type RetryAttemptPayload struct {
	Speaker string `json:"speaker"`
	TurnID  string `json:"turn_id"`
	Attempt int    `json:"attempt"`
	Reason  string `json:"reason"`
}

// RetrySuccessPayload is the payload for retry_success advisory events.
type RetrySuccessPayload struct {
	Speaker  string `json:"speaker"`
	TurnID   string `json:"turn_id"`
	Attempts int    `json:"attempts"`
}

// RetryExhaustedPayload is the payload for retry_exhausted advisory events.
type RetryExhaustedPayload struct {
	Speaker  string `json:"speaker"`
	TurnID   string `json:"turn_id"`
	Attempts int    `json:"attempts"`
	Reason   string `json:"reason"`
}

// TruncatedResponsePayload is the payload for truncated_response advisory
// events: a committed turn came in far under the expected length.
type TruncatedResponsePayload struct {
	Speaker       string `json:"speaker"`
	TurnID        string `json:"turn_id"`
	ContentLength int    `json:"content_length"`
	ExpectedMin   int    `json:"expected_min"`
}

// ContentPolicyRefusalPayload is the payload for content_policy_refusal
// advisory events.
type ContentPolicyRefusalPayload struct {
	Speaker string `json:"speaker"`
	TurnID  string `json:"turn_id"`
	Detail  string `json:"detail,omitempty"`
}

// PersistenceDegradedPayload is the payload for persistence_degraded
// advisory events: a write failed after all retries; the live stream
// remains authoritative.
type PersistenceDegradedPayload struct {
	Operation string `json:"operation"`
	Detail    string `json:"detail,omitempty"`
}
