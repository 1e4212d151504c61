package persistence

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/parleyhq/parley/pkg/models"
)

// MemoryGateway is the in-process Gateway used for tests and DB-less runs.
// All stored values are copied on the way in and out, so callers may keep
// mutating the structs they pass.
type MemoryGateway struct {
	mu            sync.RWMutex
	sessions      map[string]*models.Session
	utterances    map[string][]*models.Utterance
	turnIndex     map[string]map[string]int // session -> turn_id -> sequence, non-interrupted rows only
	fpIndex       map[string]map[string]int // session -> fingerprint -> sequence, non-interjection rows only
	interventions map[string][]*models.Intervention
	interruptions map[string][]*models.Interruption
	transcripts   map[string]string
}

var _ Gateway = (*MemoryGateway)(nil)

// NewMemoryGateway returns an empty in-memory gateway.
func NewMemoryGateway() *MemoryGateway {
	return &MemoryGateway{
		sessions:      make(map[string]*models.Session),
		utterances:    make(map[string][]*models.Utterance),
		turnIndex:     make(map[string]map[string]int),
		fpIndex:       make(map[string]map[string]int),
		interventions: make(map[string][]*models.Intervention),
		interruptions: make(map[string][]*models.Interruption),
		transcripts:   make(map[string]string),
	}
}

func (g *MemoryGateway) CreateSession(_ context.Context, s *models.Session) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	if _, ok := g.sessions[s.ID]; ok {
		return fmt.Errorf("create session %s: %w", s.ID, ErrAlreadyExists)
	}
	g.sessions[s.ID] = copySession(s)
	return nil
}

func (g *MemoryGateway) UpdateSessionStatus(_ context.Context, sessionID string, st models.SessionStatus) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	s, ok := g.sessions[sessionID]
	if !ok {
		return fmt.Errorf("update session %s: %w", sessionID, ErrNotFound)
	}
	s.Status = st
	now := time.Now().UTC()
	switch {
	case st == models.StatusConfiguring:
		// Restart path: the session is back to a pre-run state.
		s.StartedAt = nil
		s.EndedAt = nil
	case st == models.StatusLive && s.StartedAt == nil:
		s.StartedAt = &now
	case st.Terminal() && s.EndedAt == nil:
		s.EndedAt = &now
	}
	return nil
}

func (g *MemoryGateway) AddParticipant(_ context.Context, sessionID string, p *models.Participant) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	s, ok := g.sessions[sessionID]
	if !ok {
		return fmt.Errorf("add participant to %s: %w", sessionID, ErrNotFound)
	}
	cp := *p
	for i, existing := range s.Participants {
		if existing.ID == p.ID {
			s.Participants[i] = &cp
			return nil
		}
	}
	s.Participants = append(s.Participants, &cp)
	return nil
}

func (g *MemoryGateway) AppendUtterance(_ context.Context, u *models.Utterance) (int, bool, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	sid := u.SessionID

	if !u.Metadata.WasInterrupted && u.Metadata.TurnID != "" {
		if seq, ok := g.turnIndex[sid][u.Metadata.TurnID]; ok {
			return seq, true, nil
		}
	}
	fp := ""
	if !u.Metadata.IsInterjection {
		fp = Fingerprint(u.Content, u.Speaker, u.Phase)
		if seq, ok := g.fpIndex[sid][fp]; ok {
			return seq, true, nil
		}
	}

	cp := *u
	cp.Sequence = len(g.utterances[sid]) + 1
	if cp.CreatedAt.IsZero() {
		cp.CreatedAt = time.Now().UTC()
	}
	g.utterances[sid] = append(g.utterances[sid], &cp)

	if !cp.Metadata.WasInterrupted && cp.Metadata.TurnID != "" {
		if g.turnIndex[sid] == nil {
			g.turnIndex[sid] = make(map[string]int)
		}
		g.turnIndex[sid][cp.Metadata.TurnID] = cp.Sequence
	}
	if fp != "" {
		if g.fpIndex[sid] == nil {
			g.fpIndex[sid] = make(map[string]int)
		}
		g.fpIndex[sid][fp] = cp.Sequence
	}
	return cp.Sequence, false, nil
}

func (g *MemoryGateway) RecordIntervention(_ context.Context, iv *models.Intervention) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	cp := *iv
	if cp.SubmittedAt.IsZero() {
		cp.SubmittedAt = time.Now().UTC()
	}
	g.interventions[iv.SessionID] = append(g.interventions[iv.SessionID], &cp)
	return nil
}

func (g *MemoryGateway) RecordInterventionResponse(_ context.Context, interventionID, response string) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	for _, list := range g.interventions {
		for _, iv := range list {
			if iv.ID == interventionID {
				now := time.Now().UTC()
				iv.Status = models.InterventionAddressed
				iv.Response = response
				iv.RespondedAt = &now
				return nil
			}
		}
	}
	return fmt.Errorf("intervention %s: %w", interventionID, ErrNotFound)
}

func (g *MemoryGateway) RecordInterruption(_ context.Context, ir *models.Interruption) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	cp := *ir
	if cp.CreatedAt.IsZero() {
		cp.CreatedAt = time.Now().UTC()
	}
	g.interruptions[ir.SessionID] = append(g.interruptions[ir.SessionID], &cp)
	return nil
}

func (g *MemoryGateway) SaveTranscript(_ context.Context, sessionID, transcript string) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.transcripts[sessionID] = transcript
	return nil
}

func (g *MemoryGateway) FindSession(_ context.Context, sessionID string) (*models.Session, error) {
	g.mu.RLock()
	defer g.mu.RUnlock()
	s, ok := g.sessions[sessionID]
	if !ok {
		return nil, fmt.Errorf("session %s: %w", sessionID, ErrNotFound)
	}
	return copySession(s), nil
}

func (g *MemoryGateway) ListUtterancesBySession(_ context.Context, sessionID string) ([]*models.Utterance, error) {
	g.mu.RLock()
	defer g.mu.RUnlock()
	list := g.utterances[sessionID]
	out := make([]*models.Utterance, len(list))
	for i, u := range list {
		cp := *u
		out[i] = &cp
	}
	return out, nil
}

func (g *MemoryGateway) ListInterventionsBySession(_ context.Context, sessionID string) ([]*models.Intervention, error) {
	g.mu.RLock()
	defer g.mu.RUnlock()
	list := g.interventions[sessionID]
	out := make([]*models.Intervention, len(list))
	for i, iv := range list {
		cp := *iv
		out[i] = &cp
	}
	return out, nil
}

func (g *MemoryGateway) PendingInterventions(_ context.Context, sessionID, speaker string) ([]*models.Intervention, error) {
	g.mu.RLock()
	defer g.mu.RUnlock()
	var out []*models.Intervention
	for _, iv := range g.interventions[sessionID] {
		if iv.Status != models.InterventionPending {
			continue
		}
		if iv.TargetSpeaker != "" && iv.TargetSpeaker != speaker {
			continue
		}
		cp := *iv
		out = append(out, &cp)
	}
	return out, nil
}

func (g *MemoryGateway) ClearSessionUtterances(_ context.Context, sessionID string) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	delete(g.utterances, sessionID)
	delete(g.turnIndex, sessionID)
	delete(g.fpIndex, sessionID)
	delete(g.interruptions, sessionID)
	delete(g.transcripts, sessionID)
	return nil
}

func (g *MemoryGateway) ListOrphanedSessions(_ context.Context) ([]string, error) {
	g.mu.RLock()
	defer g.mu.RUnlock()
	var out []string
	for id, s := range g.sessions {
		if s.Status == models.StatusLive || s.Status == models.StatusPaused {
			out = append(out, id)
		}
	}
	return out, nil
}

func (g *MemoryGateway) PurgeSessionsEndedBefore(_ context.Context, cutoff time.Time) (int, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	purged := 0
	for id, s := range g.sessions {
		if !s.Status.Terminal() || s.EndedAt == nil || !s.EndedAt.Before(cutoff) {
			continue
		}
		delete(g.sessions, id)
		delete(g.utterances, id)
		delete(g.turnIndex, id)
		delete(g.fpIndex, id)
		delete(g.interventions, id)
		delete(g.interruptions, id)
		delete(g.transcripts, id)
		purged++
	}
	return purged, nil
}

// ListInterruptionsBySession returns recorded interruptions oldest first.
// Not part of the Gateway interface; used by tests and the transcript
// snapshot.
func (g *MemoryGateway) ListInterruptionsBySession(_ context.Context, sessionID string) ([]*models.Interruption, error) {
	g.mu.RLock()
	defer g.mu.RUnlock()
	list := g.interruptions[sessionID]
	out := make([]*models.Interruption, len(list))
	for i, ir := range list {
		cp := *ir
		out[i] = &cp
	}
	return out, nil
}

// Transcript returns the saved transcript, or ErrNotFound when none was
// saved yet.
func (g *MemoryGateway) Transcript(_ context.Context, sessionID string) (string, error) {
	g.mu.RLock()
	defer g.mu.RUnlock()
	t, ok := g.transcripts[sessionID]
	if !ok {
		return "", fmt.Errorf("transcript %s: %w", sessionID, ErrNotFound)
	}
	return t, nil
}

func copySession(s *models.Session) *models.Session {
	cp := *s
	cp.Participants = make([]*models.Participant, len(s.Participants))
	for i, p := range s.Participants {
		pc := *p
		cp.Participants[i] = &pc
	}
	cp.Phases = append([]models.PhaseSpec(nil), s.Phases...)
	for i, ph := range cp.Phases {
		cp.Phases[i].Turns = append([]models.TurnSpec(nil), ph.Turns...)
	}
	if s.Config.Human != nil {
		h := *s.Config.Human
		cp.Config.Human = &h
	}
	if s.Config.Lively != nil {
		l := *s.Config.Lively
		cp.Config.Lively = &l
	}
	if s.StartedAt != nil {
		t := *s.StartedAt
		cp.StartedAt = &t
	}
	if s.EndedAt != nil {
		t := *s.EndedAt
		cp.EndedAt = &t
	}
	return &cp
}
