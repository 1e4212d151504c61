package events

import (
	"encoding/json"
	"fmt"
	"time"
)

// Event is the envelope every subscriber receives. EventID is 0 for
// subscriber-local control events and a per-session monotonic id
// (starting at 1) for session events.
type Event struct {
	SessionID string
	EventID   int64
	Type      EventType
	Timestamp time.Time
	Payload   any
}

// Control reports whether the event is subscriber-local.
func (e Event) Control() bool {
	return e.EventID == 0
}

// MarshalJSON flattens the payload fields into the envelope so the wire
// shape is a single JSON object: {"type", "session_id", "event_id",
// "timestamp", ...payload fields}. Control events omit event_id.
func (e Event) MarshalJSON() ([]byte, error) {
	m := make(map[string]any)

	if e.Payload != nil {
		payloadJSON, err := json.Marshal(e.Payload)
		if err != nil {
			return nil, fmt.Errorf("failed to marshal %s payload: %w", e.Type, err)
		}
		if err := json.Unmarshal(payloadJSON, &m); err != nil {
			return nil, fmt.Errorf("failed to flatten %s payload: %w", e.Type, err)
		}
	}

	m["type"] = e.Type
	m["session_id"] = e.SessionID
	m["timestamp"] = e.Timestamp.UTC().Format(time.RFC3339Nano)
	if e.EventID > 0 {
		m["event_id"] = e.EventID
	}

	return json.Marshal(m)
}

// UnmarshalJSON restores the envelope fields and leaves the remaining
// payload fields in Payload as a map[string]any.
func (e *Event) UnmarshalJSON(data []byte) error {
	var m map[string]any
	if err := json.Unmarshal(data, &m); err != nil {
		return err
	}

	if v, ok := m["type"].(string); ok {
		e.Type = EventType(v)
	}
	if v, ok := m["session_id"].(string); ok {
		e.SessionID = v
	}
	if v, ok := m["event_id"].(float64); ok {
		e.EventID = int64(v)
	}
	if v, ok := m["timestamp"].(string); ok {
		if ts, err := time.Parse(time.RFC3339Nano, v); err == nil {
			e.Timestamp = ts
		}
	}

	delete(m, "type")
	delete(m, "session_id")
	delete(m, "event_id")
	delete(m, "timestamp")
	e.Payload = m

	return nil
}
