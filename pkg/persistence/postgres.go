package persistence

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/parleyhq/parley/pkg/models"
)

// PostgresGateway persists through a pgx connection pool. The schema is
// owned by pkg/database's embedded migrations; both duplicate rules are
// additionally enforced there by partial unique indexes, so a concurrent
// duplicate insert degrades to a re-select rather than a second row.
type PostgresGateway struct {
	pool *pgxpool.Pool
}

var _ Gateway = (*PostgresGateway)(nil)

// NewPostgresGateway wraps an already-connected pool. The caller owns the
// pool's lifecycle.
func NewPostgresGateway(pool *pgxpool.Pool) *PostgresGateway {
	return &PostgresGateway{pool: pool}
}

const createSessionSQL = `
INSERT INTO sessions (id, proposition, context, mode, flow, status, config, phases, created_at)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`

const addParticipantSQL = `
INSERT INTO participants (session_id, id, name, role, model_id, position)
VALUES ($1, $2, $3, $4, $5, (SELECT COALESCE(MAX(position) + 1, 0) FROM participants WHERE session_id = $1))
ON CONFLICT (session_id, id) DO UPDATE
SET name = EXCLUDED.name, role = EXCLUDED.role, model_id = EXCLUDED.model_id`

func (g *PostgresGateway) CreateSession(ctx context.Context, s *models.Session) error {
	cfg, err := json.Marshal(s.Config)
	if err != nil {
		return fmt.Errorf("persistence: encode session config: %w", err)
	}
	phases, err := json.Marshal(s.Phases)
	if err != nil {
		return fmt.Errorf("persistence: encode session phases: %w", err)
	}
	createdAt := s.CreatedAt
	if createdAt.IsZero() {
		createdAt = time.Now().UTC()
	}

	tx, err := g.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("persistence: begin create session: %w", err)
	}
	defer tx.Rollback(ctx) //nolint:errcheck

	_, err = tx.Exec(ctx, createSessionSQL,
		s.ID, s.Proposition, s.Context, string(s.Mode), string(s.Flow), string(s.Status), cfg, phases, createdAt)
	if err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("persistence: create session %s: %w", s.ID, ErrAlreadyExists)
		}
		return fmt.Errorf("persistence: create session: %w", err)
	}
	for _, p := range s.Participants {
		if _, err := tx.Exec(ctx, addParticipantSQL, s.ID, p.ID, p.Name, string(p.Role), p.ModelID); err != nil {
			return fmt.Errorf("persistence: create session participant %s: %w", p.ID, err)
		}
	}
	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("persistence: commit create session: %w", err)
	}
	return nil
}

const updateSessionStatusSQL = `
UPDATE sessions
SET status = $2,
    started_at = CASE
        WHEN $2 = 'configuring' THEN NULL
        WHEN $2 = 'live' THEN COALESCE(started_at, now())
        ELSE started_at END,
    ended_at = CASE
        WHEN $2 = 'configuring' THEN NULL
        WHEN $2 IN ('completed', 'error') THEN COALESCE(ended_at, now())
        ELSE ended_at END
WHERE id = $1`

func (g *PostgresGateway) UpdateSessionStatus(ctx context.Context, sessionID string, st models.SessionStatus) error {
	ct, err := g.pool.Exec(ctx, updateSessionStatusSQL, sessionID, string(st))
	if err != nil {
		return fmt.Errorf("persistence: update session status: %w", err)
	}
	if ct.RowsAffected() == 0 {
		return fmt.Errorf("persistence: update session %s: %w", sessionID, ErrNotFound)
	}
	return nil
}

func (g *PostgresGateway) AddParticipant(ctx context.Context, sessionID string, p *models.Participant) error {
	if _, err := g.pool.Exec(ctx, addParticipantSQL, sessionID, p.ID, p.Name, string(p.Role), p.ModelID); err != nil {
		return fmt.Errorf("persistence: add participant: %w", err)
	}
	return nil
}

const utteranceByTurnSQL = `
SELECT sequence FROM utterances
WHERE session_id = $1 AND turn_id = $2 AND NOT was_interrupted`

const utteranceByFingerprintSQL = `
SELECT sequence FROM utterances
WHERE session_id = $1 AND fingerprint = $2 AND NOT is_interjection`

const insertUtteranceSQL = `
INSERT INTO utterances (id, session_id, sequence, speaker, phase, content, elapsed_ms,
                        turn_id, fingerprint, was_interrupted, is_interjection, metadata, created_at)
VALUES ($1, $2, (SELECT COALESCE(MAX(sequence), 0) + 1 FROM utterances WHERE session_id = $2),
        $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
RETURNING sequence`

func (g *PostgresGateway) AppendUtterance(ctx context.Context, u *models.Utterance) (int, bool, error) {
	fp := ""
	if !u.Metadata.IsInterjection {
		fp = Fingerprint(u.Content, u.Speaker, u.Phase)
	}
	meta, err := json.Marshal(u.Metadata)
	if err != nil {
		return 0, false, fmt.Errorf("persistence: encode utterance metadata: %w", err)
	}

	if seq, ok, err := g.findExistingUtterance(ctx, u, fp); err != nil {
		return 0, false, err
	} else if ok {
		return seq, true, nil
	}

	id := u.ID
	if id == "" {
		id = uuid.NewString()
	}
	createdAt := u.CreatedAt
	if createdAt.IsZero() {
		createdAt = time.Now().UTC()
	}

	var seq int
	err = g.pool.QueryRow(ctx, insertUtteranceSQL,
		id, u.SessionID, u.Speaker, u.Phase, u.Content, u.ElapsedMS,
		u.Metadata.TurnID, fp, u.Metadata.WasInterrupted, u.Metadata.IsInterjection, meta, createdAt,
	).Scan(&seq)
	if err != nil {
		if isUniqueViolation(err) {
			// Lost a duplicate race; the winning row carries the sequence.
			if seq, ok, selErr := g.findExistingUtterance(ctx, u, fp); selErr == nil && ok {
				return seq, true, nil
			}
		}
		return 0, false, fmt.Errorf("persistence: append utterance: %w", err)
	}
	return seq, false, nil
}

func (g *PostgresGateway) findExistingUtterance(ctx context.Context, u *models.Utterance, fp string) (int, bool, error) {
	var seq int
	if !u.Metadata.WasInterrupted && u.Metadata.TurnID != "" {
		err := g.pool.QueryRow(ctx, utteranceByTurnSQL, u.SessionID, u.Metadata.TurnID).Scan(&seq)
		switch {
		case err == nil:
			return seq, true, nil
		case !errors.Is(err, pgx.ErrNoRows):
			return 0, false, fmt.Errorf("persistence: look up turn %s: %w", u.Metadata.TurnID, err)
		}
	}
	if fp != "" {
		err := g.pool.QueryRow(ctx, utteranceByFingerprintSQL, u.SessionID, fp).Scan(&seq)
		switch {
		case err == nil:
			return seq, true, nil
		case !errors.Is(err, pgx.ErrNoRows):
			return 0, false, fmt.Errorf("persistence: look up fingerprint: %w", err)
		}
	}
	return 0, false, nil
}

const recordInterventionSQL = `
INSERT INTO interventions (id, session_id, kind, target_speaker, content, status, submitted_at)
VALUES ($1, $2, $3, $4, $5, $6, $7)`

func (g *PostgresGateway) RecordIntervention(ctx context.Context, iv *models.Intervention) error {
	submittedAt := iv.SubmittedAt
	if submittedAt.IsZero() {
		submittedAt = time.Now().UTC()
	}
	_, err := g.pool.Exec(ctx, recordInterventionSQL,
		iv.ID, iv.SessionID, string(iv.Kind), iv.TargetSpeaker, iv.Content, string(iv.Status), submittedAt)
	if err != nil {
		return fmt.Errorf("persistence: record intervention: %w", err)
	}
	return nil
}

const interventionResponseSQL = `
UPDATE interventions SET status = $2, response = $3, responded_at = now() WHERE id = $1`

func (g *PostgresGateway) RecordInterventionResponse(ctx context.Context, interventionID, response string) error {
	ct, err := g.pool.Exec(ctx, interventionResponseSQL, interventionID, string(models.InterventionAddressed), response)
	if err != nil {
		return fmt.Errorf("persistence: record intervention response: %w", err)
	}
	if ct.RowsAffected() == 0 {
		return fmt.Errorf("persistence: intervention %s: %w", interventionID, ErrNotFound)
	}
	return nil
}

const recordInterruptionSQL = `
INSERT INTO interruptions (id, session_id, interrupter, interrupted, at_token, trigger_phrase,
                           relevance, energy, fired_at_ms, created_at)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`

func (g *PostgresGateway) RecordInterruption(ctx context.Context, ir *models.Interruption) error {
	createdAt := ir.CreatedAt
	if createdAt.IsZero() {
		createdAt = time.Now().UTC()
	}
	_, err := g.pool.Exec(ctx, recordInterruptionSQL,
		ir.ID, ir.SessionID, ir.Interrupter, ir.Interrupted, ir.AtToken, ir.TriggerPhrase,
		ir.Relevance, ir.Energy, ir.FiredAtMS, createdAt)
	if err != nil {
		return fmt.Errorf("persistence: record interruption: %w", err)
	}
	return nil
}

const saveTranscriptSQL = `
INSERT INTO transcripts (session_id, content, saved_at)
VALUES ($1, $2, now())
ON CONFLICT (session_id) DO UPDATE SET content = EXCLUDED.content, saved_at = now()`

func (g *PostgresGateway) SaveTranscript(ctx context.Context, sessionID, transcript string) error {
	if _, err := g.pool.Exec(ctx, saveTranscriptSQL, sessionID, transcript); err != nil {
		return fmt.Errorf("persistence: save transcript: %w", err)
	}
	return nil
}

const findSessionSQL = `
SELECT id, proposition, context, mode, flow, status, config, phases, created_at, started_at, ended_at
FROM sessions WHERE id = $1`

const listParticipantsSQL = `
SELECT id, name, role, model_id FROM participants WHERE session_id = $1 ORDER BY position`

func (g *PostgresGateway) FindSession(ctx context.Context, sessionID string) (*models.Session, error) {
	var (
		s           models.Session
		mode, flow  string
		status      string
		cfg, phases []byte
	)
	err := g.pool.QueryRow(ctx, findSessionSQL, sessionID).Scan(
		&s.ID, &s.Proposition, &s.Context, &mode, &flow, &status, &cfg, &phases,
		&s.CreatedAt, &s.StartedAt, &s.EndedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("persistence: session %s: %w", sessionID, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("persistence: find session: %w", err)
	}
	s.Mode = models.Mode(mode)
	s.Flow = models.Flow(flow)
	s.Status = models.SessionStatus(status)
	if len(cfg) > 0 {
		if err := json.Unmarshal(cfg, &s.Config); err != nil {
			return nil, fmt.Errorf("persistence: decode session config: %w", err)
		}
	}
	if len(phases) > 0 {
		if err := json.Unmarshal(phases, &s.Phases); err != nil {
			return nil, fmt.Errorf("persistence: decode session phases: %w", err)
		}
	}

	rows, err := g.pool.Query(ctx, listParticipantsSQL, sessionID)
	if err != nil {
		return nil, fmt.Errorf("persistence: list participants: %w", err)
	}
	s.Participants, err = pgx.CollectRows(rows, func(row pgx.CollectableRow) (*models.Participant, error) {
		var p models.Participant
		var role string
		if err := row.Scan(&p.ID, &p.Name, &role, &p.ModelID); err != nil {
			return nil, err
		}
		p.Role = models.Role(role)
		p.State = models.SpeakingReady
		return &p, nil
	})
	if err != nil {
		return nil, fmt.Errorf("persistence: collect participants: %w", err)
	}
	return &s, nil
}

const listUtterancesSQL = `
SELECT id, session_id, sequence, speaker, phase, content, elapsed_ms, metadata, created_at
FROM utterances WHERE session_id = $1 ORDER BY sequence`

func (g *PostgresGateway) ListUtterancesBySession(ctx context.Context, sessionID string) ([]*models.Utterance, error) {
	rows, err := g.pool.Query(ctx, listUtterancesSQL, sessionID)
	if err != nil {
		return nil, fmt.Errorf("persistence: list utterances: %w", err)
	}
	out, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (*models.Utterance, error) {
		var u models.Utterance
		var meta []byte
		if err := row.Scan(&u.ID, &u.SessionID, &u.Sequence, &u.Speaker, &u.Phase, &u.Content,
			&u.ElapsedMS, &meta, &u.CreatedAt); err != nil {
			return nil, err
		}
		if len(meta) > 0 {
			if err := json.Unmarshal(meta, &u.Metadata); err != nil {
				return nil, fmt.Errorf("decode metadata: %w", err)
			}
		}
		return &u, nil
	})
	if err != nil {
		return nil, fmt.Errorf("persistence: collect utterances: %w", err)
	}
	return out, nil
}

const listInterventionsSQL = `
SELECT id, session_id, kind, target_speaker, content, status, response, submitted_at, responded_at
FROM interventions WHERE session_id = $1 ORDER BY submitted_at`

const pendingInterventionsSQL = `
SELECT id, session_id, kind, target_speaker, content, status, response, submitted_at, responded_at
FROM interventions
WHERE session_id = $1 AND status = 'pending' AND (target_speaker = '' OR target_speaker = $2)
ORDER BY submitted_at`

func (g *PostgresGateway) ListInterventionsBySession(ctx context.Context, sessionID string) ([]*models.Intervention, error) {
	rows, err := g.pool.Query(ctx, listInterventionsSQL, sessionID)
	if err != nil {
		return nil, fmt.Errorf("persistence: list interventions: %w", err)
	}
	return collectInterventions(rows)
}

func (g *PostgresGateway) PendingInterventions(ctx context.Context, sessionID, speaker string) ([]*models.Intervention, error) {
	rows, err := g.pool.Query(ctx, pendingInterventionsSQL, sessionID, speaker)
	if err != nil {
		return nil, fmt.Errorf("persistence: pending interventions: %w", err)
	}
	return collectInterventions(rows)
}

func collectInterventions(rows pgx.Rows) ([]*models.Intervention, error) {
	out, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (*models.Intervention, error) {
		var iv models.Intervention
		var kind, status string
		if err := row.Scan(&iv.ID, &iv.SessionID, &kind, &iv.TargetSpeaker, &iv.Content, &status,
			&iv.Response, &iv.SubmittedAt, &iv.RespondedAt); err != nil {
			return nil, err
		}
		iv.Kind = models.InterventionKind(kind)
		iv.Status = models.InterventionStatus(status)
		return &iv, nil
	})
	if err != nil {
		return nil, fmt.Errorf("persistence: collect interventions: %w", err)
	}
	return out, nil
}

func (g *PostgresGateway) ClearSessionUtterances(ctx context.Context, sessionID string) error {
	tx, err := g.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("persistence: begin clear utterances: %w", err)
	}
	defer tx.Rollback(ctx) //nolint:errcheck
	for _, q := range []string{
		`DELETE FROM utterances WHERE session_id = $1`,
		`DELETE FROM interruptions WHERE session_id = $1`,
		`DELETE FROM transcripts WHERE session_id = $1`,
	} {
		if _, err := tx.Exec(ctx, q, sessionID); err != nil {
			return fmt.Errorf("persistence: clear session %s: %w", sessionID, err)
		}
	}
	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("persistence: commit clear utterances: %w", err)
	}
	return nil
}

const orphanedSessionsSQL = `
SELECT id FROM sessions WHERE status IN ('live', 'paused')`

func (g *PostgresGateway) ListOrphanedSessions(ctx context.Context) ([]string, error) {
	rows, err := g.pool.Query(ctx, orphanedSessionsSQL)
	if err != nil {
		return nil, fmt.Errorf("persistence: list orphaned sessions: %w", err)
	}
	ids, err := pgx.CollectRows(rows, pgx.RowTo[string])
	if err != nil {
		return nil, fmt.Errorf("persistence: collect orphaned sessions: %w", err)
	}
	return ids, nil
}

// Child rows go with the session via ON DELETE CASCADE.
const purgeSessionsSQL = `
DELETE FROM sessions WHERE status IN ('completed', 'error') AND ended_at < $1`

func (g *PostgresGateway) PurgeSessionsEndedBefore(ctx context.Context, cutoff time.Time) (int, error) {
	ct, err := g.pool.Exec(ctx, purgeSessionsSQL, cutoff)
	if err != nil {
		return 0, fmt.Errorf("persistence: purge sessions: %w", err)
	}
	return int(ct.RowsAffected()), nil
}

// Transcript returns the saved transcript, or ErrNotFound when none was
// saved yet.
func (g *PostgresGateway) Transcript(ctx context.Context, sessionID string) (string, error) {
	var content string
	err := g.pool.QueryRow(ctx, `SELECT content FROM transcripts WHERE session_id = $1`, sessionID).Scan(&content)
	if errors.Is(err, pgx.ErrNoRows) {
		return "", fmt.Errorf("persistence: transcript %s: %w", sessionID, ErrNotFound)
	}
	if err != nil {
		return "", fmt.Errorf("persistence: load transcript: %w", err)
	}
	return content, nil
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "23505"
}
