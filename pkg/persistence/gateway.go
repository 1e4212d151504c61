// Package persistence provides the durable write path for sessions,
// utterances, interventions, interruptions, and transcripts.
//
// Two implementations exist: MemoryGateway (in-process maps, used for
// DB-less runs and tests) and PostgresGateway (pgx connection pool).
// Writes for a single session are serialized by the orchestrator, so
// implementations only need cross-session safety.
package persistence

import (
	"context"
	"errors"
	"time"

	"github.com/parleyhq/parley/pkg/events"
	"github.com/parleyhq/parley/pkg/models"
)

// ErrNotFound is returned by queries for rows that do not exist.
var ErrNotFound = errors.New("not found")

// ErrAlreadyExists is returned by CreateSession for a duplicate session id.
var ErrAlreadyExists = errors.New("already exists")

// Gateway is the persistence surface the orchestrator writes through.
//
// AppendUtterance is idempotent: a second append with the same
// (session_id, turn_id) and non-interrupted metadata is a silent no-op
// returning the existing sequence with existing=true. A content
// fingerprint (first 200 normalized characters + speaker + phase)
// additionally rejects duplicates across differing turn ids, except for
// interjections. Sequences are per-session, monotonic, starting at 1;
// interjections share the same sequence space as full turns.
type Gateway interface {
	CreateSession(ctx context.Context, s *models.Session) error
	UpdateSessionStatus(ctx context.Context, sessionID string, st models.SessionStatus) error
	AddParticipant(ctx context.Context, sessionID string, p *models.Participant) error
	AppendUtterance(ctx context.Context, u *models.Utterance) (sequence int, existing bool, err error)
	RecordIntervention(ctx context.Context, iv *models.Intervention) error
	RecordInterventionResponse(ctx context.Context, interventionID, response string) error
	RecordInterruption(ctx context.Context, ir *models.Interruption) error
	SaveTranscript(ctx context.Context, sessionID, transcript string) error

	FindSession(ctx context.Context, sessionID string) (*models.Session, error)
	ListUtterancesBySession(ctx context.Context, sessionID string) ([]*models.Utterance, error)
	ListInterventionsBySession(ctx context.Context, sessionID string) ([]*models.Intervention, error)
	// PendingInterventions returns undelivered interventions addressed to
	// speaker or to nobody in particular, oldest first.
	PendingInterventions(ctx context.Context, sessionID, speaker string) ([]*models.Intervention, error)

	// ClearSessionUtterances drops all utterances, interruptions, and the
	// saved transcript for a session. Used by restart.
	ClearSessionUtterances(ctx context.Context, sessionID string) error
	// ListOrphanedSessions returns ids of sessions left live or paused by
	// a previous process. Used once at startup for crash recovery.
	ListOrphanedSessions(ctx context.Context) ([]string, error)
	// PurgeSessionsEndedBefore removes terminal sessions that ended before
	// cutoff, together with everything recorded under them. Returns the
	// number of sessions removed. Used by the retention sweeper.
	PurgeSessionsEndedBefore(ctx context.Context, cutoff time.Time) (int, error)
}

// CatchupSource adapts a Gateway to the event bus's transcript replay
// interface.
func CatchupSource(gw Gateway) events.CatchupSource {
	return catchupSource{gw}
}

type catchupSource struct{ gw Gateway }

func (c catchupSource) ListUtterances(ctx context.Context, sessionID string) ([]*models.Utterance, error) {
	return c.gw.ListUtterancesBySession(ctx, sessionID)
}
