package e2e

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/parleyhq/parley/pkg/models"
)

// TestConcurrentSessionsIsolateStreams runs three debates side by side on
// one instance and verifies no event or utterance crosses session lines.
func TestConcurrentSessionsIsolateStreams(t *testing.T) {
	type debate struct {
		label   string
		proID   string
		conID   string
		proText string
		conText string
		sess    *models.Session
		stream  *SSEClient
	}

	debates := make([]*debate, 0, 3)
	opts := make([]TestAppOption, 0, 6)
	for i := 1; i <= 3; i++ {
		d := &debate{
			label:   fmt.Sprintf("session %d", i),
			proID:   fmt.Sprintf("s%d-pro", i),
			conID:   fmt.Sprintf("s%d-con", i),
			proText: paragraph(fmt.Sprintf("debate %d pro", i), 3),
			conText: paragraph(fmt.Sprintf("debate %d con", i), 3),
		}
		opts = append(opts,
			WithAdapter(d.proID, Say(d.proText)),
			WithAdapter(d.conID, Say(d.conText)),
		)
		debates = append(debates, d)
	}

	app := NewTestApp(t, opts...)

	for _, d := range debates {
		d.sess = app.CreateSession(t, &models.CreateSessionRequest{
			Proposition: "Concurrent sessions stay in their lanes: " + d.label,
			Mode:        models.ModeFormal,
			Participants: []models.ParticipantSpec{
				{ID: d.proID, Name: "Pro " + d.label, Role: models.RolePro},
				{ID: d.conID, Name: "Con " + d.label, Role: models.RoleCon},
			},
			Phases: singlePhase("main",
				turn(d.proID, models.OpeningKind()),
				turn(d.conID, models.ConstructiveKind("")),
			),
		})

		stream, err := StreamEvents(context.Background(), app.BaseURL, d.sess.ID, -1)
		require.NoError(t, err)
		t.Cleanup(stream.Close)
		d.stream = stream
	}

	for _, d := range debates {
		app.StartSession(t, d.sess.ID)
	}
	for _, d := range debates {
		_, err := d.stream.WaitForType("debate_complete", 15*time.Second)
		require.NoError(t, err, "%s never completed", d.label)
	}

	for _, d := range debates {
		assertAllEventsHaveSessionID(t, d.stream.Events(), d.sess.ID)

		// The stream carries exactly this session's two turns.
		utterances := d.stream.EventsByType("utterance")
		require.Len(t, utterances, 2, d.label)
		require.Equal(t, d.proText, payloadString(utterances[0].Payload(), "content"))
		require.Equal(t, d.conText, payloadString(utterances[1].Payload(), "content"))

		// Nothing from the other two leaked in.
		for _, other := range debates {
			if other == d {
				continue
			}
			for _, ev := range d.stream.Events() {
				require.NotContains(t, ev.Raw, other.proText, "%s stream leaked %s content", d.label, other.label)
				require.NotContains(t, ev.Raw, other.conText, "%s stream leaked %s content", d.label, other.label)
			}
		}

		utts := app.GetUtterances(t, d.sess.ID)
		require.Len(t, utts, 2, d.label)
		require.Equal(t, d.proID, utts[0].Speaker)
		require.Equal(t, d.proText, utts[0].Content)
		require.Equal(t, d.conID, utts[1].Speaker)
		require.Equal(t, d.conText, utts[1].Content)
	}
}
