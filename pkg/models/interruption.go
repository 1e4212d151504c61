package models

import "time"

// Interruption records a fired interruption: who broke in, whom they cut off,
// where in the victim's stream it happened, and the evaluator scores that
// justified it.
type Interruption struct {
	ID            string    `json:"id"`
	SessionID     string    `json:"session_id"`
	Interrupter   string    `json:"interrupter"`
	Interrupted   string    `json:"interrupted"`
	AtToken       int       `json:"at_token"`
	TriggerPhrase string    `json:"trigger_phrase,omitempty"`
	Relevance     float64   `json:"relevance"`
	Energy        int       `json:"energy"`
	FiredAtMS     int64     `json:"fired_at_ms"`
	CreatedAt     time.Time `json:"created_at"`
}
