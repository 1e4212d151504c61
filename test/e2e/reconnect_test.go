package e2e

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/parleyhq/parley/pkg/config"
	"github.com/parleyhq/parley/pkg/models"
)

// sessionEvents filters out subscriber-local control frames, leaving only
// events that carry a session id on the wire.
func sessionEvents(evs []SSEEvent) []SSEEvent {
	var out []SSEEvent
	for _, ev := range evs {
		if ev.ID > 0 {
			out = append(out, ev)
		}
	}
	return out
}

func runTwoTurnDebate(t *testing.T, app *TestApp, proposition string) (*models.Session, *SSEClient) {
	t.Helper()
	req := formalRequest(proposition)
	req.Phases = singlePhase("main",
		turn("pro-1", models.OpeningKind()),
		turn("con-1", models.ConstructiveKind("")),
	)
	sess := app.CreateSession(t, req)

	live, err := StreamEvents(context.Background(), app.BaseURL, sess.ID, -1)
	require.NoError(t, err)
	t.Cleanup(live.Close)

	app.StartSession(t, sess.ID)
	_, err = live.WaitForType("debate_complete", 10*time.Second)
	require.NoError(t, err)
	return sess, live
}

// TestStreamReplayFromRing reconnects with a Last-Event-ID still covered by
// the ring buffer and verifies the gap is replayed verbatim, with original
// ids, bracketed by catchup_start and catchup_complete.
func TestStreamReplayFromRing(t *testing.T) {
	app := NewTestApp(t,
		WithAdapter("pro-1", Say(paragraph("ring pro", 3))),
		WithAdapter("con-1", Say(paragraph("ring con", 3))),
	)
	sess, live := runTwoTurnDebate(t, app, "Ring replay preserves event identity.")

	utteranceIdx := indexOfType(live.Events(), "utterance")
	require.GreaterOrEqual(t, utteranceIdx, 0)
	resumeFrom := live.Events()[utteranceIdx].ID
	require.Greater(t, resumeFrom, int64(0))

	var missed []SSEEvent
	for _, ev := range sessionEvents(live.Events()) {
		if ev.ID > resumeFrom {
			missed = append(missed, ev)
		}
	}
	require.NotEmpty(t, missed)

	replayer, err := StreamEvents(context.Background(), app.BaseURL, sess.ID, resumeFrom)
	require.NoError(t, err)
	defer replayer.Close()

	complete, err := replayer.WaitForType("catchup_complete", 10*time.Second)
	require.NoError(t, err)
	require.Equal(t, len(missed), payloadInt(complete.Payload(), "replayed"))

	got := replayer.Events()
	require.Equal(t, "connected", got[0].Type())
	require.Equal(t, "catchup_start", got[1].Type())
	require.Equal(t, "reconnect", payloadString(got[1].Payload(), "reason"))

	replayed := sessionEvents(got)
	require.Len(t, replayed, len(missed))
	for i, ev := range replayed {
		require.Equal(t, missed[i].ID, ev.ID, "replay must keep original ids")
		require.Equal(t, missed[i].Type(), ev.Type())
	}
	require.Equal(t, resumeFrom+1, replayed[0].ID)
}

// TestStreamReplayFallsBackToTranscript shrinks the ring so the requested
// resume point has been overwritten, forcing the persisted-transcript path.
func TestStreamReplayFallsBackToTranscript(t *testing.T) {
	proText := paragraph("expired pro", 3)
	conText := paragraph("expired con", 3)
	app := NewTestApp(t,
		WithAdapter("pro-1", Say(proText)),
		WithAdapter("con-1", Say(conText)),
		WithEngine(func(ec *config.EngineConfig) { ec.EventBufferSize = 8 }),
	)

	req := formalRequest("Old history comes back from the transcript.")
	req.Phases = singlePhase("main",
		turn("pro-1", models.OpeningKind()),
		turn("con-1", models.ConstructiveKind("")),
	)
	sess := app.CreateSession(t, req)
	app.StartSession(t, sess.ID)
	app.WaitForSessionStatus(t, sess.ID, models.StatusCompleted)

	// Event 2 has long since rotated out of an 8-slot ring.
	replayer, err := StreamEvents(context.Background(), app.BaseURL, sess.ID, 1)
	require.NoError(t, err)
	defer replayer.Close()

	complete, err := replayer.WaitForType("catchup_complete", 10*time.Second)
	require.NoError(t, err)
	require.Equal(t, 2, payloadInt(complete.Payload(), "replayed"))

	start := replayer.EventsByType("catchup_start")
	require.Len(t, start, 1)
	require.Equal(t, "buffer_expired", payloadString(start[0].Payload(), "reason"))

	caught := replayer.EventsByType("catchup_utterance")
	require.Len(t, caught, 2)
	for i, want := range []struct{ speaker, content string }{
		{"pro-1", proText},
		{"con-1", conText},
	} {
		require.Zero(t, caught[i].ID, "transcript frames are control frames")
		u, ok := caught[i].Payload()["utterance"].(map[string]any)
		require.True(t, ok, "catchup_utterance payload: %s", caught[i].Raw)
		require.Equal(t, want.speaker, u["speaker"])
		require.Equal(t, want.content, u["content"])
	}
}

// TestStreamReplayViaQueryParam resumes with ?last_event_id=0 and receives
// the entire session history from the ring.
func TestStreamReplayViaQueryParam(t *testing.T) {
	app := NewTestApp(t,
		WithAdapter("pro-1", Say(paragraph("query pro", 3))),
		WithAdapter("con-1", Say(paragraph("query con", 3))),
	)
	sess, live := runTwoTurnDebate(t, app, "Query-param resume replays from the top.")

	all := sessionEvents(live.Events())

	replayer, err := StreamEventsQuery(context.Background(), app.BaseURL, sess.ID, 0)
	require.NoError(t, err)
	defer replayer.Close()

	complete, err := replayer.WaitForType("catchup_complete", 10*time.Second)
	require.NoError(t, err)
	require.Equal(t, len(all), payloadInt(complete.Payload(), "replayed"))

	replayed := sessionEvents(replayer.Events())
	require.Len(t, replayed, len(all))
	require.Equal(t, int64(1), replayed[0].ID)
	for i, ev := range replayed {
		require.Equal(t, all[i].ID, ev.ID)
		require.Equal(t, all[i].Type(), ev.Type())
	}
}
