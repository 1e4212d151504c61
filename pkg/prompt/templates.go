package prompt

import (
	"strings"

	"github.com/parleyhq/parley/pkg/models"
)

// roleDirective identifies the speaker and binds them to their seat.
func roleDirective(p *models.Participant) string {
	if p == nil {
		return "You are a participant in a structured dialogue."
	}
	var b strings.Builder
	b.WriteString("You are ")
	b.WriteString(p.Name)
	switch p.Role {
	case models.RolePro:
		b.WriteString(", arguing FOR the proposition in a structured debate. You believe the proposition is true and defend it without conceding the debate itself.")
	case models.RoleCon:
		b.WriteString(", arguing AGAINST the proposition in a structured debate. You believe the proposition is false and attack it without conceding the debate itself.")
	case models.RoleModerator:
		b.WriteString(", the moderator of a structured debate. You are strictly neutral: you frame, summarize, and keep order, but you never argue a side and never declare a winner.")
	case models.RoleHost:
		b.WriteString(", hosting a free-flowing conversation on the topic. You guide with curiosity, draw your guest out, and share your own perspective lightly.")
	case models.RoleGuest:
		b.WriteString(", a guest in a conversation on the topic. Bring your own perspective and experience; engage with the host's questions genuinely.")
	case models.RoleChair:
		b.WriteString(", the chair of one worldview in a dialogue of positions. You speak for your tradition's way of seeing the proposition, steelmanning it at every turn.")
	default:
		b.WriteString(", a participant in a structured dialogue on the proposition.")
	}
	return b.String()
}

func brevityDirective(brevity string) string {
	switch brevity {
	case "concise":
		return "Keep each contribution short and pointed: a few sentences, one paragraph at most."
	case "expansive":
		return "Develop your argument fully, with concrete examples and structured reasoning."
	default:
		return "Aim for two to four focused paragraphs."
	}
}

func citationDirective(policy string) string {
	switch policy {
	case "required":
		return "Support every factual claim with a named source."
	case "encouraged":
		return "Cite sources where they strengthen your case."
	default:
		return ""
	}
}

func openingDirective(p *models.Participant) string {
	if p == nil || !p.Role.Debater() {
		return "Open the session: state what is at stake in the proposition and where you stand on it."
	}
	side := "for"
	if p.Role == models.RoleCon {
		side = "against"
	}
	return "Deliver your opening statement. Set out your strongest case " + side +
		" the proposition: your central claim, your best two or three supporting arguments, and why this question matters."
}

func constructiveDirective(p *models.Participant, theme string) string {
	if p != nil && !p.Role.Debater() {
		return "Continue the conversation naturally. Respond to what was just said, add something of your own, and move the discussion forward."
	}
	if theme != "" {
		return "Present a constructive argument focused on " + theme +
			". Go deeper than your opening: one line of argument, developed properly, with evidence."
	}
	return "Present your next constructive argument, building on your case so far. Introduce a line of argument you have not yet developed."
}

const crossExamQuestionDirective = "Cross-examination: ask your opponent ONE pointed question that exposes the weakest part of their case. Ask the question directly and stop — do not answer it yourself, and do not stack multiple questions."

func closingDirective(p *models.Participant) string {
	if p == nil || !p.Role.Debater() {
		return "Deliver your closing remarks. Sum up what this exchange established and what remains open."
	}
	return "Deliver your closing statement. Summarize why your side has prevailed: the arguments that survived, the arguments your opponent failed to answer. Introduce no new arguments."
}

func introductionDirective(in Input) string {
	var b strings.Builder
	b.WriteString("Introduce the session: state the proposition in your own words and introduce the participants")
	var names []string
	for _, p := range in.Roster {
		if in.Speaker != nil && p.ID == in.Speaker.ID {
			continue
		}
		names = append(names, p.Name)
	}
	if len(names) > 0 {
		b.WriteString(" — ")
		b.WriteString(strings.Join(names, ", "))
	}
	b.WriteString(". Then hand the floor to the first speaker.")
	return b.String()
}

const synthesisDirective = "Synthesize the exchange: name the strongest argument each side made, the crux where they genuinely disagree, and what remains unresolved. Stay neutral — do not declare a winner."

// resumptionPrefix is the verbatim continuation instruction applied when a
// speaker resumes an interrupted turn.
func resumptionPrefix(fragment string) string {
	var b strings.Builder
	b.WriteString("You were interrupted mid-statement. Here is exactly what you had said, verbatim:\n\n\"")
	b.WriteString(fragment)
	b.WriteString("\"\n\nContinue from precisely where you left off. Do not repeat, rephrase, or summarize anything above — pick up the thought mid-stream and finish it.")
	return b.String()
}

// interventionDigest relays pending audience submissions into the turn.
// The speaker addresses them in-voice before continuing their argument.
func interventionDigest(ivs []*models.Intervention) string {
	var b strings.Builder
	b.WriteString("The moderator relays input from the audience. Address it directly in this turn:")
	for _, iv := range ivs {
		b.WriteString("\n- ")
		if iv.Kind != "" {
			b.WriteString("[")
			b.WriteString(string(iv.Kind))
			b.WriteString("] ")
		}
		b.WriteString(iv.Content)
	}
	return b.String()
}
