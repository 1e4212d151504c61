package models

import "fmt"

// Phase identifiers. Formal sessions use opening through synthesis; informal
// sessions use exchange/wrap-up; duelogic adds introduction.
const (
	PhaseOpening      = "opening"
	PhaseConstructive = "constructive"
	PhaseCrossExam    = "crossexam"
	PhaseRebuttal     = "rebuttal"
	PhaseClosing      = "closing"
	PhaseSynthesis    = "synthesis"
	PhaseExchange     = "exchange"
	PhaseWrapUp       = "wrap-up"
	PhaseIntroduction = "introduction"
)

// PhaseSpec is one ordered segment of a session with its turn plan.
type PhaseSpec struct {
	ID    string     `json:"id"`
	Name  string     `json:"name,omitempty"`
	Turns []TurnSpec `json:"turns"`
}

// TurnSpec is a static descriptor of one turn: who speaks, with what prompt
// kind, at which position within the phase.
type TurnSpec struct {
	Speaker    string     `json:"speaker"` // participant id
	Kind       PromptKind `json:"kind"`
	TurnNumber int        `json:"turn_number"`
}

// TurnID builds the stable identifier used for idempotent persistence and
// the completed-turns set: phase:speaker:turn_number:prompt_kind.
func TurnID(phase, speaker string, turnNumber int, kind PromptKind) string {
	return fmt.Sprintf("%s:%s:%d:%s", phase, speaker, turnNumber, kind.String())
}
