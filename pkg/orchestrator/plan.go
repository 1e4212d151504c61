package orchestrator

import (
	"fmt"

	"github.com/parleyhq/parley/pkg/models"
)

// derivePlan builds the ordered phase/turn plan for a session. Explicit
// phases on the session override the mode-derived plan; rounds is the
// exchange budget for the free-flowing modes.
func derivePlan(s *models.Session, rounds int) ([]models.PhaseSpec, error) {
	if err := validateRoster(s); err != nil {
		return nil, err
	}
	if rounds < 1 {
		rounds = 1
	}

	if len(s.Phases) > 0 {
		return normalizePhases(s)
	}

	switch s.Mode {
	case models.ModeFormal, models.ModeLively:
		return debatePlan(s), nil
	case models.ModeInformal:
		return informalPlan(s, rounds), nil
	case models.ModeDuelogic:
		return duelogicPlan(s, rounds), nil
	case models.ModeConversation:
		return conversationPlan(s, rounds), nil
	default:
		return nil, fmt.Errorf("orchestrator: unsupported mode %q", s.Mode)
	}
}

// validateRoster enforces the per-mode roster shape.
func validateRoster(s *models.Session) error {
	switch s.Mode {
	case models.ModeFormal, models.ModeLively:
		if n := len(s.ParticipantsByRole(models.RolePro)); n != 1 {
			return fmt.Errorf("orchestrator: %s mode requires exactly one pro participant, got %d", s.Mode, n)
		}
		if n := len(s.ParticipantsByRole(models.RoleCon)); n != 1 {
			return fmt.Errorf("orchestrator: %s mode requires exactly one con participant, got %d", s.Mode, n)
		}
	case models.ModeInformal:
		if len(s.Participants) < 2 {
			return fmt.Errorf("orchestrator: informal mode requires at least two participants, got %d", len(s.Participants))
		}
	case models.ModeDuelogic:
		if n := len(s.ParticipantsByRole(models.RoleChair)); n != 2 {
			return fmt.Errorf("orchestrator: duelogic mode requires exactly two chairs, got %d", n)
		}
	case models.ModeConversation:
		if n := len(s.ParticipantsByRole(models.RoleHost)); n != 1 {
			return fmt.Errorf("orchestrator: conversation mode requires exactly one host, got %d", n)
		}
		if len(s.Participants) < 2 {
			return fmt.Errorf("orchestrator: conversation mode requires at least one guest")
		}
	default:
		return fmt.Errorf("orchestrator: unsupported mode %q", s.Mode)
	}
	return nil
}

// normalizePhases validates an explicit phase plan: every speaker must be
// on the roster and every turn id must be unique. Missing turn numbers
// are filled positionally.
func normalizePhases(s *models.Session) ([]models.PhaseSpec, error) {
	seen := make(map[string]struct{})
	out := make([]models.PhaseSpec, 0, len(s.Phases))
	for pi, phase := range s.Phases {
		if phase.ID == "" {
			return nil, fmt.Errorf("orchestrator: phase %d has no id", pi)
		}
		norm := models.PhaseSpec{ID: phase.ID, Name: phase.Name, Turns: make([]models.TurnSpec, 0, len(phase.Turns))}
		for ti, turn := range phase.Turns {
			if _, ok := s.Participant(turn.Speaker); !ok {
				return nil, fmt.Errorf("orchestrator: phase %q turn %d names unknown speaker %q", phase.ID, ti, turn.Speaker)
			}
			if turn.TurnNumber <= 0 {
				turn.TurnNumber = ti + 1
			}
			id := models.TurnID(phase.ID, turn.Speaker, turn.TurnNumber, turn.Kind)
			if _, dup := seen[id]; dup {
				return nil, fmt.Errorf("orchestrator: duplicate turn %s in phase plan", id)
			}
			seen[id] = struct{}{}
			norm.Turns = append(norm.Turns, turn)
		}
		out = append(out, norm)
	}
	return out, nil
}

// debatePlan is the formal/lively structure: opening, constructive,
// cross-examination with interleaved question/response pairs, rebuttal,
// closing, and a moderator synthesis when a moderator is seated.
func debatePlan(s *models.Session) []models.PhaseSpec {
	pro := s.ParticipantsByRole(models.RolePro)[0].ID
	con := s.ParticipantsByRole(models.RoleCon)[0].ID

	plan := []models.PhaseSpec{
		phaseOf(models.PhaseOpening, "Opening Statements",
			turnOf(pro, models.OpeningKind()),
			turnOf(con, models.OpeningKind())),
		phaseOf(models.PhaseConstructive, "Constructive Arguments",
			turnOf(pro, models.ConstructiveKind("")),
			turnOf(con, models.ConstructiveKind(""))),
		phaseOf(models.PhaseCrossExam, "Cross-Examination",
			turnOf(pro, models.CrossExamQuestionKind()),
			turnOf(con, models.CrossExamResponseKind()),
			turnOf(con, models.CrossExamQuestionKind()),
			turnOf(pro, models.CrossExamResponseKind())),
		phaseOf(models.PhaseRebuttal, "Rebuttals",
			turnOf(pro, models.RebuttalKind()),
			turnOf(con, models.RebuttalKind())),
		phaseOf(models.PhaseClosing, "Closing Statements",
			turnOf(pro, models.ClosingKind()),
			turnOf(con, models.ClosingKind())),
	}

	if mods := s.ParticipantsByRole(models.RoleModerator); len(mods) > 0 {
		plan = append(plan, phaseOf(models.PhaseSynthesis, "Moderator Synthesis",
			turnOf(mods[0].ID, models.SynthesisKind())))
	}
	return plan
}

// informalPlan is round-robin exchange rounds followed by one wrap-up
// remark per participant.
func informalPlan(s *models.Session, rounds int) []models.PhaseSpec {
	var exchange []models.TurnSpec
	for r := 0; r < rounds; r++ {
		for _, p := range s.Participants {
			exchange = append(exchange, turnOf(p.ID, models.ConstructiveKind("")))
		}
	}

	var wrap []models.TurnSpec
	for _, p := range s.Participants {
		wrap = append(wrap, turnOf(p.ID, models.ClosingKind()))
	}

	return []models.PhaseSpec{
		phaseOf(models.PhaseExchange, "Exchange", exchange...),
		phaseOf(models.PhaseWrapUp, "Wrap-Up", wrap...),
	}
}

// duelogicPlan stages two worldview chairs: introduction, openings,
// alternating exchange rounds, and synthesis. A seated moderator takes
// the introduction and synthesis turns; otherwise the first chair does.
func duelogicPlan(s *models.Session, rounds int) []models.PhaseSpec {
	chairs := s.ParticipantsByRole(models.RoleChair)
	framing := chairs[0].ID
	if mods := s.ParticipantsByRole(models.RoleModerator); len(mods) > 0 {
		framing = mods[0].ID
	}

	var exchange []models.TurnSpec
	for r := 0; r < rounds; r++ {
		exchange = append(exchange,
			turnOf(chairs[0].ID, models.ConstructiveKind("")),
			turnOf(chairs[1].ID, models.ConstructiveKind("")))
	}

	return []models.PhaseSpec{
		phaseOf(models.PhaseIntroduction, "Introduction",
			turnOf(framing, models.IntroductionKind())),
		phaseOf(models.PhaseOpening, "Position Statements",
			turnOf(chairs[0].ID, models.OpeningKind()),
			turnOf(chairs[1].ID, models.OpeningKind())),
		phaseOf(models.PhaseExchange, "Exchange", exchange...),
		phaseOf(models.PhaseSynthesis, "Synthesis",
			turnOf(framing, models.SynthesisKind())),
	}
}

// conversationPlan is a host introduction followed by free exchange
// rounds, host first in each round.
func conversationPlan(s *models.Session, rounds int) []models.PhaseSpec {
	host := s.ParticipantsByRole(models.RoleHost)[0].ID

	var exchange []models.TurnSpec
	for r := 0; r < rounds; r++ {
		exchange = append(exchange, turnOf(host, models.ConstructiveKind("")))
		for _, p := range s.Participants {
			if p.ID == host {
				continue
			}
			exchange = append(exchange, turnOf(p.ID, models.ConstructiveKind("")))
		}
	}

	return []models.PhaseSpec{
		phaseOf(models.PhaseIntroduction, "Introduction",
			turnOf(host, models.IntroductionKind())),
		phaseOf(models.PhaseExchange, "Conversation", exchange...),
	}
}

// phaseOf assembles a phase, numbering its turns positionally.
func phaseOf(id, name string, turns ...models.TurnSpec) models.PhaseSpec {
	for i := range turns {
		turns[i].TurnNumber = i + 1
	}
	return models.PhaseSpec{ID: id, Name: name, Turns: turns}
}

func turnOf(speaker string, kind models.PromptKind) models.TurnSpec {
	return models.TurnSpec{Speaker: speaker, Kind: kind}
}

// planTurnCount is the total turns across all phases.
func planTurnCount(plan []models.PhaseSpec) int {
	n := 0
	for _, p := range plan {
		n += len(p.Turns)
	}
	return n
}
