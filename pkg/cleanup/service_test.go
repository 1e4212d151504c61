package cleanup

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/parleyhq/parley/pkg/config"
	"github.com/parleyhq/parley/pkg/models"
	"github.com/parleyhq/parley/pkg/persistence"
)

func seedSession(t *testing.T, gw *persistence.MemoryGateway, id string, status models.SessionStatus, endedAgo time.Duration) {
	t.Helper()
	s := &models.Session{
		ID:          id,
		Proposition: "Standing desks measurably improve focus",
		Mode:        models.ModeFormal,
		Flow:        models.FlowAuto,
		Status:      status,
	}
	if endedAgo > 0 {
		ended := time.Now().UTC().Add(-endedAgo)
		s.EndedAt = &ended
	}
	require.NoError(t, gw.CreateSession(context.Background(), s))
	if status.Terminal() {
		_, _, err := gw.AppendUtterance(context.Background(), &models.Utterance{
			SessionID: id,
			Speaker:   "ada",
			Phase:     "opening",
			Content:   "Opening case for " + id + ".",
		})
		require.NoError(t, err)
	}
}

func retentionConfig() *config.RetentionConfig {
	return &config.RetentionConfig{
		SessionRetentionDays: 365,
		CleanupInterval:      time.Hour,
	}
}

func TestService_PurgesOldFinishedSessions(t *testing.T) {
	gw := persistence.NewMemoryGateway()
	ctx := context.Background()
	seedSession(t, gw, "sess-stale", models.StatusCompleted, 400*24*time.Hour)
	seedSession(t, gw, "sess-failed", models.StatusError, 400*24*time.Hour)

	svc := NewService(retentionConfig(), gw, nil)
	svc.sweep(ctx)

	_, err := gw.FindSession(ctx, "sess-stale")
	assert.ErrorIs(t, err, persistence.ErrNotFound)
	_, err = gw.FindSession(ctx, "sess-failed")
	assert.ErrorIs(t, err, persistence.ErrNotFound)

	utterances, err := gw.ListUtterancesBySession(ctx, "sess-stale")
	require.NoError(t, err)
	assert.Empty(t, utterances)
}

func TestService_PreservesRecentSessions(t *testing.T) {
	gw := persistence.NewMemoryGateway()
	ctx := context.Background()
	seedSession(t, gw, "sess-fresh", models.StatusCompleted, 24*time.Hour)

	svc := NewService(retentionConfig(), gw, nil)
	svc.sweep(ctx)

	_, err := gw.FindSession(ctx, "sess-fresh")
	assert.NoError(t, err)
}

func TestService_PreservesUnfinishedSessions(t *testing.T) {
	gw := persistence.NewMemoryGateway()
	ctx := context.Background()
	// A live session has no ended_at regardless of age.
	seedSession(t, gw, "sess-live", models.StatusLive, 0)
	seedSession(t, gw, "sess-draft", models.StatusConfiguring, 0)

	svc := NewService(retentionConfig(), gw, nil)
	svc.sweep(ctx)

	_, err := gw.FindSession(ctx, "sess-live")
	assert.NoError(t, err)
	_, err = gw.FindSession(ctx, "sess-draft")
	assert.NoError(t, err)
}

func TestService_StartSweepsImmediately(t *testing.T) {
	gw := persistence.NewMemoryGateway()
	seedSession(t, gw, "sess-stale", models.StatusCompleted, 400*24*time.Hour)

	svc := NewService(retentionConfig(), gw, nil)
	svc.Start(context.Background())
	defer svc.Stop()

	assert.Eventually(t, func() bool {
		_, err := gw.FindSession(context.Background(), "sess-stale")
		return errors.Is(err, persistence.ErrNotFound)
	}, 5*time.Second, 10*time.Millisecond)
}

func TestService_StopIsIdempotent(t *testing.T) {
	svc := NewService(retentionConfig(), persistence.NewMemoryGateway(), nil)
	svc.Stop() // never started

	svc.Start(context.Background())
	svc.Start(context.Background()) // second start is a no-op
	svc.Stop()
}
