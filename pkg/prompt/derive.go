package prompt

import (
	"strings"
	"unicode/utf8"

	"github.com/parleyhq/parley/pkg/models"
)

const (
	// substantialMinChars is the floor below which an opponent utterance
	// is too thin to rebut (trimmed length).
	substantialMinChars = 40

	// maxRebuttalTargets caps how many opponent arguments a rebuttal
	// directive quotes.
	maxRebuttalTargets = 3

	// transcriptTailUtterances bounds the recent-exchange context window.
	transcriptTailUtterances = 8

	// Clip lengths for quoted material inside directives.
	transcriptClipChars = 500
	excerptClipChars    = 1200
)

// opponentIDs returns the set of participant ids the speaker argues
// against: the opposite side for debaters, the other chairs for a chair,
// and every non-moderator otherwise.
func opponentIDs(speaker *models.Participant, roster []*models.Participant) map[string]bool {
	out := make(map[string]bool)
	if speaker == nil {
		return out
	}
	for _, p := range roster {
		if p.ID == speaker.ID {
			continue
		}
		switch {
		case speaker.Role.Debater():
			if p.Role == speaker.Role.Opponent() {
				out[p.ID] = true
			}
		case speaker.Role == models.RoleChair:
			if p.Role == models.RoleChair {
				out[p.ID] = true
			}
		default:
			if p.Role != models.RoleModerator {
				out[p.ID] = true
			}
		}
	}
	return out
}

// OpponentArguments returns the last max substantial opponent utterances
// in chronological order. Substantial means the trimmed content is at
// least 40 characters; shorter fragments (acknowledgements, cut-off
// stubs) are skipped.
func OpponentArguments(history []*models.Utterance, speaker *models.Participant, roster []*models.Participant, max int) []*models.Utterance {
	opponents := opponentIDs(speaker, roster)
	var picked []*models.Utterance
	for i := len(history) - 1; i >= 0 && len(picked) < max; i-- {
		u := history[i]
		if !opponents[u.Speaker] {
			continue
		}
		if utf8.RuneCountInString(strings.TrimSpace(u.Content)) < substantialMinChars {
			continue
		}
		picked = append(picked, u)
	}
	// Reverse into chronological order.
	for i, j := 0, len(picked)-1; i < j; i, j = i+1, j-1 {
		picked[i], picked[j] = picked[j], picked[i]
	}
	return picked
}

// LastOpponentQuestion returns the most recent opponent utterance that
// contains a question mark, or nil when none exists.
func LastOpponentQuestion(history []*models.Utterance, speaker *models.Participant, roster []*models.Participant) *models.Utterance {
	opponents := opponentIDs(speaker, roster)
	for i := len(history) - 1; i >= 0; i-- {
		u := history[i]
		if opponents[u.Speaker] && strings.Contains(u.Content, "?") {
			return u
		}
	}
	return nil
}

// transcriptTail renders the recent exchange as speaker-tagged lines.
// Opening and introduction turns run before any meaningful history;
// rebuttal and cross-exam responses quote their own targeted excerpts
// instead. Those kinds get no tail.
func transcriptTail(history []*models.Utterance, kind models.PromptKind, roster []*models.Participant) string {
	if len(history) == 0 {
		return ""
	}
	switch kind.Tag {
	case models.KindOpening, models.KindIntroduction, models.KindRebuttal, models.KindCrossExamResponse:
		return ""
	}

	names := make(map[string]string, len(roster))
	for _, p := range roster {
		names[p.ID] = p.Name
	}

	start := len(history) - transcriptTailUtterances
	if start < 0 {
		start = 0
	}
	var b strings.Builder
	b.WriteString("The exchange so far (most recent last):")
	for _, u := range history[start:] {
		name := names[u.Speaker]
		if name == "" {
			name = u.Speaker
		}
		b.WriteString("\n\n")
		b.WriteString(name)
		b.WriteString(": ")
		b.WriteString(clip(u.Content, transcriptClipChars))
	}
	return b.String()
}

// clip truncates s to at most max runes, marking the cut with an
// ellipsis.
func clip(s string, max int) string {
	if utf8.RuneCountInString(s) <= max {
		return s
	}
	runes := []rune(s)
	return string(runes[:max]) + "…"
}
