// Package events provides the per-session event bus: typed broadcast with
// monotonic event ids, bounded buffering, and reconnect catch-up.
//
// ════════════════════════════════════════════════════════════════
// Session events vs. control events
// ════════════════════════════════════════════════════════════════
//
// Session events are published once per session and fanned out to every
// subscriber. They carry a per-session monotonically increasing event id
// (starting at 1) and are buffered in a bounded ring so reconnecting
// clients can replay what they missed.
//
// Control events are subscriber-local: they describe the state of ONE
// subscription (connected, catchup_start, catchup_utterance,
// catchup_complete) and carry event id 0. They are never buffered and
// never count against the session's id sequence, so a client's
// Last-Event-ID always refers to a real session event.
//
// Catch-up contract on subscribe(last_event_id):
//
//	last_event_id < 0   live tail only (fresh subscriber)
//	still in the ring   catchup_start, missed events replayed with their
//	                    original ids, catchup_complete, then live
//	fallen off the ring catchup_start, the persisted transcript replayed
//	                    as catchup_utterance control events,
//	                    catchup_complete, then live
//
// A subscriber that consumes too slowly falls behind the ring the same
// way: the bus drops its oldest unseen events and injects a
// catchup_start control event so the client knows to re-sync from
// persistence. Publishers are never blocked by subscribers.
//
// A heartbeat session event is published on every session that has at
// least one subscriber, so idle streams stay verifiably alive.
//
// ════════════════════════════════════════════════════════════════
package events

// EventType identifies an event kind on the wire.
type EventType string

// Session lifecycle events.
const (
	EventTypeDebateStarted  EventType = "debate_started"
	EventTypeDebatePaused   EventType = "debate_paused"
	EventTypeDebateResumed  EventType = "debate_resumed"
	EventTypeDebateStopped  EventType = "debate_stopped"
	EventTypeDebateComplete EventType = "debate_complete"
	EventTypeError          EventType = "error"
	EventTypeHeartbeat      EventType = "heartbeat"
)

// Phase progression events.
const (
	EventTypePhaseStart    EventType = "phase_start"
	EventTypePhaseComplete EventType = "phase_complete"
)

// Turn events. token_chunk is high-frequency and carries one streamed
// slice of the active speaker's output.
const (
	EventTypeSpeakerStarted EventType = "speaker_started"
	EventTypeTokenChunk     EventType = "token_chunk"
	EventTypeUtterance      EventType = "utterance"
)

// Interruption events.
const (
	EventTypeInterruptScheduled EventType = "interrupt_scheduled"
	EventTypeInterruptFired     EventType = "interrupt_fired"
	EventTypeSpeakerCutoff      EventType = "speaker_cutoff"
	EventTypeInterruptCancelled EventType = "interrupt_cancelled"
	EventTypeInterjection       EventType = "interjection"
)

// Scheduler signals. Published when the boundary detector confirms a safe
// interruption point and when the interrupt window opens or closes.
const (
	EventTypeBoundarySafe EventType = "boundary:safe"
	EventTypeWindowOpened EventType = "window:opened"
	EventTypeWindowClosed EventType = "window:closed"
)

// Subscriber-local control events (event id 0, never buffered).
const (
	EventTypeConnected        EventType = "connected"
	EventTypeCatchupStart     EventType = "catchup_start"
	EventTypeCatchupUtterance EventType = "catchup_utterance"
	EventTypeCatchupComplete  EventType = "catchup_complete"
)

// Human participation events.
const (
	EventTypeAwaitingHumanInput EventType = "awaiting_human_input"
	EventTypeHumanTurnReceived  EventType = "human_turn_received"
	EventTypeHumanTurnTimeout   EventType = "human_turn_timeout"
)

// Conversation-mode events.
const (
	EventTypeConversationConnected EventType = "conversation_connected"
	EventTypeConversationUtterance EventType = "conversation_utterance"
)

// Advisory events: recoverable trouble that does not stop the session.
const (
	EventTypeRetryAttempt         EventType = "retry_attempt"
	EventTypeRetrySuccess         EventType = "retry_success"
	EventTypeRetryExhausted       EventType = "retry_exhausted"
	EventTypeTruncatedResponse    EventType = "truncated_response"
	EventTypeContentPolicyRefusal EventType = "content_policy_refusal"
	EventTypePersistenceDegraded  EventType = "persistence_degraded"
)

// IsControl reports whether the type is subscriber-local.
func (t EventType) IsControl() bool {
	switch t {
	case EventTypeConnected, EventTypeCatchupStart, EventTypeCatchupUtterance, EventTypeCatchupComplete:
		return true
	default:
		return false
	}
}

// CatchupStartReason values for CatchupStartPayload.Reason.
const (
	CatchupReasonReconnect     = "reconnect"
	CatchupReasonSubscriberLag = "subscriber_lag"
	CatchupReasonBufferExpired = "buffer_expired"
)

// ClientMessage is the JSON structure for client → server WebSocket
// messages on the conversation endpoint.
type ClientMessage struct {
	Action      string `json:"action"`                  // "subscribe", "say", "ping"
	Content     string `json:"content,omitempty"`       // utterance text for "say"
	Speaker     string `json:"speaker,omitempty"`       // display name for "say"
	LastEventID *int64 `json:"last_event_id,omitempty"` // for "subscribe"
}
