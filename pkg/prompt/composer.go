// Package prompt composes the message sequences sent to upstream models.
//
// The Composer is a pure function over session state: proposition, role
// identity, phase, prompt kind, and the utterance history. It holds no
// mutable state and is safe for concurrent use. Every turn produces
// exactly two messages — a role directive (system) and a turn directive
// (user) — so adapters never see partial conversations.
package prompt

import (
	"strings"

	"github.com/parleyhq/parley/pkg/agent"
	"github.com/parleyhq/parley/pkg/models"
)

// Composer builds prompt sequences for dialogue turns and interjections.
// Stateless — all state comes from parameters.
type Composer struct{}

// NewComposer creates a Composer.
func NewComposer() *Composer {
	return &Composer{}
}

// Input carries everything a turn prompt depends on.
type Input struct {
	Proposition string
	Context     string

	// Speaker is the participant taking this turn. Roster is the full
	// participant list; the composer derives opponents from it.
	Speaker *models.Participant
	Roster  []*models.Participant

	Phase string
	Kind  models.PromptKind

	// History holds prior utterances in ascending sequence order.
	History []*models.Utterance

	// Resumption is the verbatim partial content of an interrupted turn
	// the speaker is now continuing. Empty for fresh turns.
	Resumption string

	// Interventions are pending audience submissions relayed into this
	// turn. The speaker is directed to address them before continuing.
	Interventions []*models.Intervention

	Brevity        string
	CitationPolicy string
}

// Compose returns the two-message sequence for one turn:
// [role directive, turn directive].
func (c *Composer) Compose(in Input) []agent.Message {
	return []agent.Message{
		{Role: agent.RoleSystem, Content: c.systemDirective(in)},
		{Role: agent.RoleUser, Content: c.userDirective(in)},
	}
}

func (c *Composer) systemDirective(in Input) string {
	var b strings.Builder
	b.WriteString(roleDirective(in.Speaker))
	b.WriteString("\n\nProposition: \"")
	b.WriteString(in.Proposition)
	b.WriteString("\"")
	if in.Context != "" {
		b.WriteString("\n\nBackground: ")
		b.WriteString(in.Context)
	}
	b.WriteString("\n\n")
	b.WriteString(brevityDirective(in.Brevity))
	if line := citationDirective(in.CitationPolicy); line != "" {
		b.WriteString("\n")
		b.WriteString(line)
	}
	b.WriteString("\nSpeak as yourself in the first person. Never output stage directions, speaker labels, or meta commentary.")
	return b.String()
}

func (c *Composer) userDirective(in Input) string {
	var b strings.Builder

	if tail := transcriptTail(in.History, in.Kind, in.Roster); tail != "" {
		b.WriteString(tail)
		b.WriteString("\n\n")
	}

	if in.Resumption != "" {
		b.WriteString(resumptionPrefix(in.Resumption))
		b.WriteString("\n\n")
	}

	if len(in.Interventions) > 0 {
		b.WriteString(interventionDigest(in.Interventions))
		b.WriteString("\n\n")
	}

	b.WriteString(c.turnDirective(in))
	return b.String()
}

// turnDirective selects the kind-specific instruction. Unknown kinds fall
// back to the constructive/opening template of the speaker's role.
func (c *Composer) turnDirective(in Input) string {
	switch in.Kind.Tag {
	case models.KindOpening:
		return openingDirective(in.Speaker)
	case models.KindConstructive:
		return constructiveDirective(in.Speaker, in.Kind.Theme)
	case models.KindCrossExamQuestion:
		return crossExamQuestionDirective
	case models.KindCrossExamResponse:
		return crossExamResponseDirective(in)
	case models.KindRebuttal:
		return rebuttalDirective(in)
	case models.KindClosing:
		return closingDirective(in.Speaker)
	case models.KindIntroduction:
		return introductionDirective(in)
	case models.KindSynthesis:
		return synthesisDirective
	case models.KindResumption:
		if in.Resumption != "" {
			return "Finish the statement you were making. Complete the thought and bring it to a natural close."
		}
		return constructiveDirective(in.Speaker, "")
	default:
		if in.Speaker != nil && in.Speaker.Role.Debater() {
			return constructiveDirective(in.Speaker, "")
		}
		return openingDirective(in.Speaker)
	}
}

func crossExamResponseDirective(in Input) string {
	question := LastOpponentQuestion(in.History, in.Speaker, in.Roster)
	if question == nil {
		return "Respond to your opponent's line of questioning. Answer directly and concisely before adding anything else."
	}
	var b strings.Builder
	b.WriteString("Your opponent asked:\n\n\"")
	b.WriteString(clip(question.Content, excerptClipChars))
	b.WriteString("\"\n\nAnswer the question directly. Do not deflect or change the subject; answer first, then qualify if you must.")
	return b.String()
}

func rebuttalDirective(in Input) string {
	args := OpponentArguments(in.History, in.Speaker, in.Roster, maxRebuttalTargets)
	if len(args) == 0 {
		return "Rebut the case your opponent has presented so far. Attack their strongest point first."
	}
	var b strings.Builder
	b.WriteString("Rebut your opponent's case. Their most recent arguments:\n")
	for i, u := range args {
		b.WriteString("\n")
		b.WriteString(numbered(i))
		b.WriteString(clip(u.Content, excerptClipChars))
		b.WriteString("\n")
	}
	b.WriteString("\nTake on the strongest of these directly. Dismantle the argument, not the person, and do not restate your own case.")
	return b.String()
}

func numbered(i int) string {
	return string(rune('1'+i)) + ". "
}

// InterjectionInput carries everything an interjection prompt depends on.
type InterjectionInput struct {
	Proposition   string
	Interrupter   *models.Participant
	Target        *models.Participant
	TriggerPhrase string
	PartialTail   string
	Energy        int // 1..5
	MaxSentences  int
}

// ComposeInterjection builds the prompt for a fired interruption: a short,
// pointed barge-in aimed at what the target was just saying.
func (c *Composer) ComposeInterjection(in InterjectionInput) []agent.Message {
	var sys strings.Builder
	sys.WriteString(roleDirective(in.Interrupter))
	sys.WriteString("\n\nProposition: \"")
	sys.WriteString(in.Proposition)
	sys.WriteString("\"\n\nYou interject in live debate: fast, verbal, in the moment. No preamble, no politeness formulas.")

	targetName := "your opponent"
	if in.Target != nil {
		targetName = in.Target.Name
	}
	maxSentences := in.MaxSentences
	if maxSentences <= 0 {
		maxSentences = 2
	}

	var usr strings.Builder
	usr.WriteString("You are interrupting ")
	usr.WriteString(targetName)
	usr.WriteString(" mid-statement.")
	if in.PartialTail != "" {
		usr.WriteString(" They were just saying:\n\n\"")
		usr.WriteString(clip(in.PartialTail, excerptClipChars))
		usr.WriteString("\"\n")
	}
	if in.TriggerPhrase != "" {
		usr.WriteString("\nYou broke in on the claim: \"")
		usr.WriteString(in.TriggerPhrase)
		usr.WriteString("\"\n")
	}
	usr.WriteString("\nDeliver the interjection now, in a ")
	usr.WriteString(energyTone(in.Energy))
	usr.WriteString(" tone. At most ")
	usr.WriteString(sentenceWord(maxSentences))
	usr.WriteString(" — make the single sharpest point and stop.")

	return []agent.Message{
		{Role: agent.RoleSystem, Content: sys.String()},
		{Role: agent.RoleUser, Content: usr.String()},
	}
}

func energyTone(energy int) string {
	switch {
	case energy <= 1:
		return "measured but insistent"
	case energy == 2:
		return "firm"
	case energy == 3:
		return "sharp"
	case energy == 4:
		return "heated"
	default:
		return "forceful, almost talking over them"
	}
}

func sentenceWord(n int) string {
	switch n {
	case 1:
		return "one sentence"
	case 2:
		return "two sentences"
	case 3:
		return "three sentences"
	default:
		return "two sentences"
	}
}
