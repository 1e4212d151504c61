package orchestrator

import (
	"fmt"
	"strings"

	"github.com/parleyhq/parley/pkg/models"
)

// renderTranscript produces the markdown transcript saved alongside a
// completed session. Utterances arrive in sequence order and stay that
// way; phase headings are emitted on first encounter.
func renderTranscript(s *models.Session, plan []models.PhaseSpec, utterances []*models.Utterance) string {
	var b strings.Builder

	fmt.Fprintf(&b, "# %s\n\n", s.Proposition)
	if s.Context != "" {
		fmt.Fprintf(&b, "%s\n\n", s.Context)
	}
	fmt.Fprintf(&b, "Mode: %s | Participants: %d | Utterances: %d\n", s.Mode, len(s.Participants), len(utterances))

	names := make(map[string]string, len(s.Participants))
	for _, p := range s.Participants {
		names[p.ID] = p.Name
	}
	display := func(id string) string {
		if n, ok := names[id]; ok && n != "" {
			return n
		}
		return id
	}

	currentPhase := ""
	for _, u := range utterances {
		if u.Phase != currentPhase {
			currentPhase = u.Phase
			fmt.Fprintf(&b, "\n## %s\n", phaseHeading(plan, currentPhase))
		}

		switch {
		case u.Metadata.IsInterjection:
			fmt.Fprintf(&b, "\n> **%s** interjects: %s\n", display(u.Speaker), u.Content)
		case u.Metadata.IsHumanGenerated:
			fmt.Fprintf(&b, "\n**%s** (human):\n%s\n", display(u.Speaker), u.Content)
		default:
			attribution := u.Metadata.ModelID
			if attribution == "" {
				attribution = "unknown"
			}
			fmt.Fprintf(&b, "\n**%s** (%s):\n%s\n", display(u.Speaker), attribution, u.Content)
			if u.Metadata.WasInterrupted {
				fmt.Fprintf(&b, "\n*[interrupted by %s at token %d]*\n",
					display(u.Metadata.InterruptedBy), u.Metadata.InterruptedAtToken)
			}
		}
	}

	return b.String()
}

// phaseHeading prefers the plan's display name over the raw phase id.
func phaseHeading(plan []models.PhaseSpec, phaseID string) string {
	for _, p := range plan {
		if p.ID == phaseID && p.Name != "" {
			return p.Name
		}
	}
	if phaseID == "" {
		return "Transcript"
	}
	return strings.ToUpper(phaseID[:1]) + phaseID[1:]
}
