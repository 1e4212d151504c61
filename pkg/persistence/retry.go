package persistence

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/cenkalti/backoff/v4"

	"github.com/parleyhq/parley/pkg/events"
	"github.com/parleyhq/parley/pkg/models"
)

// writeRetries is the number of retries after the first attempt, so every
// write gets at most three tries.
const writeRetries = 2

// Retrying decorates a Gateway with exponential-backoff retries on every
// write. A write that still fails after the last attempt publishes a
// persistence_degraded advisory on the session's event stream and returns
// the error; durability is best-effort and the live broadcast stays the
// source of truth. Reads pass through untouched.
type Retrying struct {
	next     Gateway
	bus      *events.Bus
	logger   *slog.Logger
	interval time.Duration
}

var _ Gateway = (*Retrying)(nil)

// NewRetrying wraps next. bus may be nil, in which case degraded writes
// are only logged.
func NewRetrying(next Gateway, bus *events.Bus, logger *slog.Logger) *Retrying {
	if logger == nil {
		logger = slog.Default()
	}
	return &Retrying{next: next, bus: bus, logger: logger, interval: 100 * time.Millisecond}
}

func (r *Retrying) retry(ctx context.Context, sessionID, op string, fn func() error) error {
	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = r.interval
	bo.MaxElapsedTime = 0
	policy := backoff.WithContext(backoff.WithMaxRetries(bo, writeRetries), ctx)

	attempt := 0
	err := backoff.Retry(func() error {
		attempt++
		err := fn()
		if err == nil {
			return nil
		}
		if !transient(err) {
			return backoff.Permanent(err)
		}
		r.logger.Warn("persistence write failed, retrying",
			"op", op, "session_id", sessionID, "attempt", attempt, "error", err)
		return err
	}, policy)
	if err != nil && transient(err) {
		r.logger.Error("persistence write degraded", "op", op, "session_id", sessionID, "error", err)
		if r.bus != nil && sessionID != "" {
			r.bus.Publish(sessionID, events.EventTypePersistenceDegraded, events.PersistenceDegradedPayload{
				Operation: op,
				Detail:    err.Error(),
			})
		}
	}
	return err
}

// transient reports whether a write error is worth another attempt.
// Domain sentinels and caller cancellation are final.
func transient(err error) bool {
	if errors.Is(err, ErrNotFound) || errors.Is(err, ErrAlreadyExists) {
		return false
	}
	if errors.Is(err, context.Canceled) {
		return false
	}
	return true
}

func (r *Retrying) CreateSession(ctx context.Context, s *models.Session) error {
	return r.retry(ctx, s.ID, "create_session", func() error {
		return r.next.CreateSession(ctx, s)
	})
}

func (r *Retrying) UpdateSessionStatus(ctx context.Context, sessionID string, st models.SessionStatus) error {
	return r.retry(ctx, sessionID, "update_session_status", func() error {
		return r.next.UpdateSessionStatus(ctx, sessionID, st)
	})
}

func (r *Retrying) AddParticipant(ctx context.Context, sessionID string, p *models.Participant) error {
	return r.retry(ctx, sessionID, "add_participant", func() error {
		return r.next.AddParticipant(ctx, sessionID, p)
	})
}

func (r *Retrying) AppendUtterance(ctx context.Context, u *models.Utterance) (int, bool, error) {
	var (
		seq      int
		existing bool
	)
	err := r.retry(ctx, u.SessionID, "append_utterance", func() error {
		var err error
		seq, existing, err = r.next.AppendUtterance(ctx, u)
		return err
	})
	return seq, existing, err
}

func (r *Retrying) RecordIntervention(ctx context.Context, iv *models.Intervention) error {
	return r.retry(ctx, iv.SessionID, "record_intervention", func() error {
		return r.next.RecordIntervention(ctx, iv)
	})
}

func (r *Retrying) RecordInterventionResponse(ctx context.Context, interventionID, response string) error {
	return r.retry(ctx, "", "record_intervention_response", func() error {
		return r.next.RecordInterventionResponse(ctx, interventionID, response)
	})
}

func (r *Retrying) RecordInterruption(ctx context.Context, ir *models.Interruption) error {
	return r.retry(ctx, ir.SessionID, "record_interruption", func() error {
		return r.next.RecordInterruption(ctx, ir)
	})
}

func (r *Retrying) SaveTranscript(ctx context.Context, sessionID, transcript string) error {
	return r.retry(ctx, sessionID, "save_transcript", func() error {
		return r.next.SaveTranscript(ctx, sessionID, transcript)
	})
}

func (r *Retrying) ClearSessionUtterances(ctx context.Context, sessionID string) error {
	return r.retry(ctx, sessionID, "clear_session_utterances", func() error {
		return r.next.ClearSessionUtterances(ctx, sessionID)
	})
}

// PurgeSessionsEndedBefore passes through without retries. The sweeper
// runs on an interval, so a failed purge is simply retried next tick.
func (r *Retrying) PurgeSessionsEndedBefore(ctx context.Context, cutoff time.Time) (int, error) {
	return r.next.PurgeSessionsEndedBefore(ctx, cutoff)
}

func (r *Retrying) FindSession(ctx context.Context, sessionID string) (*models.Session, error) {
	return r.next.FindSession(ctx, sessionID)
}

func (r *Retrying) ListUtterancesBySession(ctx context.Context, sessionID string) ([]*models.Utterance, error) {
	return r.next.ListUtterancesBySession(ctx, sessionID)
}

func (r *Retrying) ListInterventionsBySession(ctx context.Context, sessionID string) ([]*models.Intervention, error) {
	return r.next.ListInterventionsBySession(ctx, sessionID)
}

func (r *Retrying) PendingInterventions(ctx context.Context, sessionID, speaker string) ([]*models.Intervention, error) {
	return r.next.PendingInterventions(ctx, sessionID, speaker)
}

func (r *Retrying) ListOrphanedSessions(ctx context.Context) ([]string, error) {
	return r.next.ListOrphanedSessions(ctx)
}
