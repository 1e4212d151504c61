package models

// Role is the tag a participant speaks under.
type Role string

const (
	RolePro       Role = "pro"
	RoleCon       Role = "con"
	RoleModerator Role = "moderator"
	RoleHost      Role = "host"
	RoleGuest     Role = "guest"
	// RoleChair is the duelogic chair seat (holds a philosophical position
	// rather than a side).
	RoleChair Role = "chair"
)

// Debater reports whether the role argues a side.
func (r Role) Debater() bool {
	return r == RolePro || r == RoleCon
}

// Opponent returns the opposing side for debater roles, "" otherwise.
func (r Role) Opponent() Role {
	switch r {
	case RolePro:
		return RoleCon
	case RoleCon:
		return RolePro
	default:
		return ""
	}
}

// SpeakingState tracks a participant's position in the turn machinery.
type SpeakingState string

const (
	SpeakingReady       SpeakingState = "ready"
	SpeakingActive      SpeakingState = "speaking"
	SpeakingQueued      SpeakingState = "queued"
	SpeakingCooldown    SpeakingState = "cooldown"
	SpeakingInterrupted SpeakingState = "interrupted"
)

// Participant is a speaking entity bound to a model identifier.
// At most one participant per session is in state "speaking" at any instant.
type Participant struct {
	ID      string        `json:"id"`
	Name    string        `json:"name"`
	Role    Role          `json:"role"`
	ModelID string        `json:"model_id"`
	State   SpeakingState `json:"state"`
}
