package persistence

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/parleyhq/parley/pkg/models"
	"github.com/parleyhq/parley/test/util"
)

func newPostgresGateway(t *testing.T) *PostgresGateway {
	t.Helper()
	client := util.SetupTestDatabase(t)
	return NewPostgresGateway(client.Pool())
}

func TestPostgresSessionRoundTrip(t *testing.T) {
	gw := newPostgresGateway(t)
	ctx := context.Background()

	s := newTestSession("s1")
	s.Config.Rounds = 3
	s.Config.Brevity = "concise"
	require.NoError(t, gw.CreateSession(ctx, s))
	assert.ErrorIs(t, gw.CreateSession(ctx, newTestSession("s1")), ErrAlreadyExists)

	got, err := gw.FindSession(ctx, "s1")
	require.NoError(t, err)
	assert.Equal(t, s.Proposition, got.Proposition)
	assert.Equal(t, models.ModeFormal, got.Mode)
	assert.Equal(t, 3, got.Config.Rounds)
	require.Len(t, got.Participants, 2)
	assert.Equal(t, "pro", got.Participants[0].ID)
	assert.Equal(t, models.RolePro, got.Participants[0].Role)

	require.NoError(t, gw.UpdateSessionStatus(ctx, "s1", models.StatusLive))
	got, err = gw.FindSession(ctx, "s1")
	require.NoError(t, err)
	assert.Equal(t, models.StatusLive, got.Status)
	assert.NotNil(t, got.StartedAt)

	require.NoError(t, gw.UpdateSessionStatus(ctx, "s1", models.StatusCompleted))
	got, err = gw.FindSession(ctx, "s1")
	require.NoError(t, err)
	assert.NotNil(t, got.EndedAt)

	_, err = gw.FindSession(ctx, "missing")
	assert.ErrorIs(t, err, ErrNotFound)
	assert.ErrorIs(t, gw.UpdateSessionStatus(ctx, "missing", models.StatusLive), ErrNotFound)
}

func TestPostgresAppendUtteranceDedup(t *testing.T) {
	gw := newPostgresGateway(t)
	ctx := context.Background()
	require.NoError(t, gw.CreateSession(ctx, newTestSession("s1")))

	seq1, existing, err := gw.AppendUtterance(ctx, fullTurn("s1", "pro", "opening", "Opening case for the motion.", 1))
	require.NoError(t, err)
	assert.False(t, existing)
	assert.Equal(t, 1, seq1)

	// Same turn_id: silent no-op.
	seqDup, existing, err := gw.AppendUtterance(ctx, fullTurn("s1", "pro", "opening", "Changed words, same turn.", 1))
	require.NoError(t, err)
	assert.True(t, existing)
	assert.Equal(t, seq1, seqDup)

	// Same content under a new turn_id: fingerprint rejects.
	seqFp, existing, err := gw.AppendUtterance(ctx, fullTurn("s1", "pro", "opening", "Opening case for the motion.", 2))
	require.NoError(t, err)
	assert.True(t, existing)
	assert.Equal(t, seq1, seqFp)

	// Interrupted partial sharing the turn_id is a distinct row.
	partial := fullTurn("s1", "pro", "opening", "Opening case for the", 1)
	partial.Metadata.WasInterrupted = true
	partial.Metadata.InterruptedBy = "con"
	seq2, existing, err := gw.AppendUtterance(ctx, partial)
	require.NoError(t, err)
	assert.False(t, existing)
	assert.Equal(t, 2, seq2)

	list, err := gw.ListUtterancesBySession(ctx, "s1")
	require.NoError(t, err)
	require.Len(t, list, 2)
	assert.Equal(t, 1, list[0].Sequence)
	assert.True(t, list[1].Metadata.WasInterrupted)
	assert.Equal(t, "con", list[1].Metadata.InterruptedBy)
}

func TestPostgresInterjectionsShareSequenceSpace(t *testing.T) {
	gw := newPostgresGateway(t)
	ctx := context.Background()
	require.NoError(t, gw.CreateSession(ctx, newTestSession("s1")))

	_, _, err := gw.AppendUtterance(ctx, fullTurn("s1", "pro", "constructive", "A full argument turn.", 1))
	require.NoError(t, err)

	interjection := &models.Utterance{
		SessionID: "s1",
		Speaker:   "con",
		Phase:     "constructive",
		Content:   "That's simply not true!",
		Metadata:  models.UtteranceMetadata{IsInterjection: true, InterruptionID: "ir-1"},
	}
	seq, existing, err := gw.AppendUtterance(ctx, interjection)
	require.NoError(t, err)
	assert.False(t, existing)
	assert.Equal(t, 2, seq)

	// A repeated interjection is not deduplicated.
	seq2, existing, err := gw.AppendUtterance(ctx, &models.Utterance{
		SessionID: "s1", Speaker: "con", Phase: "constructive",
		Content:  "That's simply not true!",
		Metadata: models.UtteranceMetadata{IsInterjection: true, InterruptionID: "ir-2"},
	})
	require.NoError(t, err)
	assert.False(t, existing)
	assert.Equal(t, 3, seq2)
}

func TestPostgresInterventionLifecycle(t *testing.T) {
	gw := newPostgresGateway(t)
	ctx := context.Background()
	require.NoError(t, gw.CreateSession(ctx, newTestSession("s1")))

	require.NoError(t, gw.RecordIntervention(ctx, &models.Intervention{
		ID: "iv-1", SessionID: "s1", Kind: models.InterventionQuestion,
		Content: "What changed since 2020?", Status: models.InterventionPending,
	}))
	require.NoError(t, gw.RecordIntervention(ctx, &models.Intervention{
		ID: "iv-2", SessionID: "s1", Kind: models.InterventionChallenge, TargetSpeaker: "con",
		Content: "Name one source.", Status: models.InterventionPending,
	}))

	pending, err := gw.PendingInterventions(ctx, "s1", "pro")
	require.NoError(t, err)
	require.Len(t, pending, 1)
	assert.Equal(t, "iv-1", pending[0].ID)

	require.NoError(t, gw.RecordInterventionResponse(ctx, "iv-1", "Addressed during rebuttal."))
	pending, err = gw.PendingInterventions(ctx, "s1", "pro")
	require.NoError(t, err)
	assert.Empty(t, pending)

	all, err := gw.ListInterventionsBySession(ctx, "s1")
	require.NoError(t, err)
	require.Len(t, all, 2)
	assert.Equal(t, models.InterventionAddressed, all[0].Status)
	assert.Equal(t, "Addressed during rebuttal.", all[0].Response)
	assert.NotNil(t, all[0].RespondedAt)

	assert.ErrorIs(t, gw.RecordInterventionResponse(ctx, "missing", "x"), ErrNotFound)
}

func TestPostgresClearAndOrphans(t *testing.T) {
	gw := newPostgresGateway(t)
	ctx := context.Background()

	live := newTestSession("s-live")
	require.NoError(t, gw.CreateSession(ctx, live))
	require.NoError(t, gw.UpdateSessionStatus(ctx, "s-live", models.StatusLive))

	done := newTestSession("s-done")
	require.NoError(t, gw.CreateSession(ctx, done))
	require.NoError(t, gw.UpdateSessionStatus(ctx, "s-done", models.StatusLive))
	require.NoError(t, gw.UpdateSessionStatus(ctx, "s-done", models.StatusCompleted))

	orphans, err := gw.ListOrphanedSessions(ctx)
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"s-live"}, orphans)

	_, _, err = gw.AppendUtterance(ctx, fullTurn("s-live", "pro", "opening", "Before the crash.", 1))
	require.NoError(t, err)
	require.NoError(t, gw.RecordInterruption(ctx, &models.Interruption{
		ID: "ir-1", SessionID: "s-live", Interrupter: "con", Interrupted: "pro", AtToken: 42,
	}))
	require.NoError(t, gw.SaveTranscript(ctx, "s-live", "# Transcript"))
	require.NoError(t, gw.SaveTranscript(ctx, "s-live", "# Transcript v2")) // upsert

	tr, err := gw.Transcript(ctx, "s-live")
	require.NoError(t, err)
	assert.Equal(t, "# Transcript v2", tr)

	require.NoError(t, gw.ClearSessionUtterances(ctx, "s-live"))
	list, err := gw.ListUtterancesBySession(ctx, "s-live")
	require.NoError(t, err)
	assert.Empty(t, list)
	_, err = gw.Transcript(ctx, "s-live")
	assert.ErrorIs(t, err, ErrNotFound)

	// Old turn ids are appendable again and sequences restart at 1.
	seq, existing, err := gw.AppendUtterance(ctx, fullTurn("s-live", "pro", "opening", "Before the crash.", 1))
	require.NoError(t, err)
	assert.False(t, existing)
	assert.Equal(t, 1, seq)
}

func TestPostgresPurgeCascades(t *testing.T) {
	gw := newPostgresGateway(t)
	ctx := context.Background()

	done := newTestSession("s-done")
	require.NoError(t, gw.CreateSession(ctx, done))
	_, _, err := gw.AppendUtterance(ctx, fullTurn("s-done", "pro", "opening", "Purged together with the session.", 1))
	require.NoError(t, err)
	require.NoError(t, gw.RecordIntervention(ctx, &models.Intervention{
		ID: "iv-1", SessionID: "s-done", Kind: models.InterventionQuestion,
		Content: "Does the purge take me too?", Status: models.InterventionPending,
	}))
	require.NoError(t, gw.SaveTranscript(ctx, "s-done", "# Old transcript"))
	require.NoError(t, gw.UpdateSessionStatus(ctx, "s-done", models.StatusCompleted))

	live := newTestSession("s-live")
	require.NoError(t, gw.CreateSession(ctx, live))
	require.NoError(t, gw.UpdateSessionStatus(ctx, "s-live", models.StatusLive))

	// Anything ended before a future cutoff is eligible; live sessions
	// have no ended_at and never match.
	count, err := gw.PurgeSessionsEndedBefore(ctx, time.Now().UTC().Add(time.Minute))
	require.NoError(t, err)
	assert.Equal(t, 1, count)

	_, err = gw.FindSession(ctx, "s-done")
	assert.ErrorIs(t, err, ErrNotFound)
	list, err := gw.ListUtterancesBySession(ctx, "s-done")
	require.NoError(t, err)
	assert.Empty(t, list)
	ivs, err := gw.ListInterventionsBySession(ctx, "s-done")
	require.NoError(t, err)
	assert.Empty(t, ivs)
	_, err = gw.Transcript(ctx, "s-done")
	assert.ErrorIs(t, err, ErrNotFound)

	_, err = gw.FindSession(ctx, "s-live")
	assert.NoError(t, err)
}
