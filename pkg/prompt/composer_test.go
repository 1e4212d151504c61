package prompt

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/parleyhq/parley/pkg/agent"
	"github.com/parleyhq/parley/pkg/models"
)

var (
	pro = &models.Participant{ID: "pro-1", Name: "Ada", Role: models.RolePro}
	con = &models.Participant{ID: "con-1", Name: "Bix", Role: models.RoleCon}
	mod = &models.Participant{ID: "mod-1", Name: "Mo", Role: models.RoleModerator}
)

func testRoster() []*models.Participant {
	return []*models.Participant{pro, con, mod}
}

func utt(speaker, content string) *models.Utterance {
	return &models.Utterance{Speaker: speaker, Content: content}
}

func compose(t *testing.T, in Input) (system, user string) {
	t.Helper()
	msgs := NewComposer().Compose(in)
	require.Len(t, msgs, 2)
	require.Equal(t, agent.RoleSystem, msgs[0].Role)
	require.Equal(t, agent.RoleUser, msgs[1].Role)
	return msgs[0].Content, msgs[1].Content
}

func TestComposeRoleDirectives(t *testing.T) {
	in := Input{
		Proposition: "AI systems should be open source",
		Context:     "Assume present-day capabilities.",
		Speaker:     pro,
		Roster:      testRoster(),
		Kind:        models.OpeningKind(),
	}
	system, _ := compose(t, in)
	assert.Contains(t, system, "Ada")
	assert.Contains(t, system, "FOR the proposition")
	assert.Contains(t, system, `Proposition: "AI systems should be open source"`)
	assert.Contains(t, system, "Background: Assume present-day capabilities.")

	in.Speaker = con
	system, _ = compose(t, in)
	assert.Contains(t, system, "AGAINST the proposition")

	in.Speaker = mod
	system, _ = compose(t, in)
	assert.Contains(t, system, "strictly neutral")
}

func TestComposeOpening(t *testing.T) {
	_, user := compose(t, Input{
		Proposition: "p",
		Speaker:     pro,
		Roster:      testRoster(),
		Kind:        models.OpeningKind(),
		History:     []*models.Utterance{utt("mod-1", "welcome everyone to tonight's debate")},
	})
	assert.Contains(t, user, "opening statement")
	assert.Contains(t, user, "case for")
	// Openings never quote the transcript.
	assert.NotContains(t, user, "exchange so far")
}

func TestComposeRebuttalQuotesOpponents(t *testing.T) {
	long := strings.Repeat("openness breeds accountability and scrutiny ", 3)
	history := []*models.Utterance{
		utt("con-1", long+"ARG-ONE"),
		utt("pro-1", long+"MY-OWN-POINT"),
		utt("con-1", "too thin"),
		utt("con-1", long+"ARG-TWO"),
		utt("con-1", long+"ARG-THREE"),
		utt("con-1", long+"ARG-FOUR"),
	}
	_, user := compose(t, Input{
		Proposition: "p",
		Speaker:     pro,
		Roster:      testRoster(),
		Kind:        models.RebuttalKind(),
		History:     history,
	})

	// Last three substantial opponent arguments, in chronological order.
	assert.NotContains(t, user, "ARG-ONE")
	assert.NotContains(t, user, "MY-OWN-POINT")
	assert.NotContains(t, user, "too thin")
	i2 := strings.Index(user, "ARG-TWO")
	i3 := strings.Index(user, "ARG-THREE")
	i4 := strings.Index(user, "ARG-FOUR")
	require.True(t, i2 >= 0 && i3 >= 0 && i4 >= 0, "all three arguments quoted")
	assert.Less(t, i2, i3)
	assert.Less(t, i3, i4)
}

func TestComposeRebuttalWithoutTargets(t *testing.T) {
	_, user := compose(t, Input{
		Proposition: "p",
		Speaker:     pro,
		Roster:      testRoster(),
		Kind:        models.RebuttalKind(),
	})
	assert.Contains(t, user, "Rebut the case your opponent has presented")
}

func TestComposeCrossExamResponse(t *testing.T) {
	history := []*models.Utterance{
		utt("con-1", "Is safety not more important than transparency, every single time?"),
		utt("pro-1", "I answered that already."),
		utt("con-1", "You keep dodging the core issue here, and the audience can tell."),
	}
	_, user := compose(t, Input{
		Proposition: "p",
		Speaker:     pro,
		Roster:      testRoster(),
		Kind:        models.CrossExamResponseKind(),
		History:     history,
	})
	// The most recent opponent utterance with a question mark wins, even
	// when a later statement follows it.
	assert.Contains(t, user, "Is safety not more important")
	assert.Contains(t, user, "Answer the question directly")
}

func TestComposeCrossExamResponseNoQuestion(t *testing.T) {
	_, user := compose(t, Input{
		Proposition: "p",
		Speaker:     pro,
		Roster:      testRoster(),
		Kind:        models.CrossExamResponseKind(),
		History:     []*models.Utterance{utt("con-1", "a plain statement with no question at all")},
	})
	assert.Contains(t, user, "line of questioning")
}

func TestComposeResumptionPrefix(t *testing.T) {
	fragment := "The essential point about open weights is that they allow"
	_, user := compose(t, Input{
		Proposition: "p",
		Speaker:     pro,
		Roster:      testRoster(),
		Kind:        models.ConstructiveKind(""),
		Resumption:  fragment,
	})
	assert.Contains(t, user, "verbatim")
	assert.Contains(t, user, fragment)
	assert.Contains(t, user, "Do not repeat")
	// The continuation instruction precedes the turn directive.
	assert.Less(t, strings.Index(user, fragment), strings.Index(user, "constructive argument"))
}

func TestComposeInterventionDigest(t *testing.T) {
	_, user := compose(t, Input{
		Proposition: "p",
		Speaker:     con,
		Roster:      testRoster(),
		Kind:        models.ConstructiveKind(""),
		Interventions: []*models.Intervention{
			{Kind: models.InterventionQuestion, Content: "What about maintenance costs?"},
			{Kind: models.InterventionEvidence, Content: "The 2024 audit found the opposite."},
		},
	})
	assert.Contains(t, user, "audience")
	assert.Contains(t, user, "[question] What about maintenance costs?")
	assert.Contains(t, user, "[evidence] The 2024 audit found the opposite.")
	// Interventions are relayed before the turn directive.
	assert.Less(t, strings.Index(user, "audience"), strings.Index(user, "constructive argument"))
}

func TestComposeUnknownKindFallsBack(t *testing.T) {
	_, user := compose(t, Input{
		Proposition: "p",
		Speaker:     pro,
		Roster:      testRoster(),
		Kind:        models.UnknownKind("freestyle_rant"),
	})
	assert.Contains(t, user, "constructive argument")

	_, user = compose(t, Input{
		Proposition: "p",
		Speaker:     mod,
		Roster:      testRoster(),
		Kind:        models.UnknownKind("freestyle_rant"),
	})
	assert.Contains(t, user, "where you stand")
}

func TestComposeBrevityAndCitations(t *testing.T) {
	in := Input{
		Proposition:    "p",
		Speaker:        pro,
		Roster:         testRoster(),
		Kind:           models.OpeningKind(),
		Brevity:        "concise",
		CitationPolicy: "required",
	}
	system, _ := compose(t, in)
	assert.Contains(t, system, "one paragraph at most")
	assert.Contains(t, system, "named source")

	in.Brevity = ""
	in.CitationPolicy = ""
	system, _ = compose(t, in)
	assert.Contains(t, system, "two to four focused paragraphs")
	assert.NotContains(t, system, "source")
}

func TestComposeThemedConstructive(t *testing.T) {
	_, user := compose(t, Input{
		Proposition: "p",
		Speaker:     con,
		Roster:      testRoster(),
		Kind:        models.ConstructiveKind("economic impact"),
	})
	assert.Contains(t, user, "economic impact")
}

func TestComposeSynthesisStaysNeutral(t *testing.T) {
	_, user := compose(t, Input{
		Proposition: "p",
		Speaker:     mod,
		Roster:      testRoster(),
		Kind:        models.SynthesisKind(),
	})
	assert.Contains(t, user, "do not declare a winner")
}

func TestComposeIntroductionNamesRoster(t *testing.T) {
	_, user := compose(t, Input{
		Proposition: "p",
		Speaker:     mod,
		Roster:      testRoster(),
		Kind:        models.IntroductionKind(),
	})
	assert.Contains(t, user, "Ada")
	assert.Contains(t, user, "Bix")
	assert.NotContains(t, user, "Mo,")
}

func TestComposeInterjection(t *testing.T) {
	msgs := NewComposer().ComposeInterjection(InterjectionInput{
		Proposition:   "p",
		Interrupter:   con,
		Target:        pro,
		TriggerPhrase: "everyone agrees that",
		PartialTail:   "and as we all know, everyone agrees that openness",
		Energy:        5,
		MaxSentences:  2,
	})
	require.Len(t, msgs, 2)
	assert.Equal(t, agent.RoleSystem, msgs[0].Role)
	assert.Contains(t, msgs[0].Content, "Bix")
	assert.Contains(t, msgs[1].Content, "interrupting Ada")
	assert.Contains(t, msgs[1].Content, `"everyone agrees that"`)
	assert.Contains(t, msgs[1].Content, "two sentences")
	assert.Contains(t, msgs[1].Content, "forceful")
}
