package e2e

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/parleyhq/parley/pkg/models"
)

// ────────────────────────────────────────────────────────────
// HTTP Client Helpers
// ────────────────────────────────────────────────────────────

// CreateSession posts a session create request and returns the stored
// session.
func (app *TestApp) CreateSession(t *testing.T, req *models.CreateSessionRequest) *models.Session {
	t.Helper()
	var sess models.Session
	app.postJSONInto(t, "/api/v1/sessions", req, http.StatusCreated, &sess)
	require.NotEmpty(t, sess.ID)
	return &sess
}

// StartSession posts /start and expects acceptance.
func (app *TestApp) StartSession(t *testing.T, sessionID string) {
	t.Helper()
	app.postJSON(t, "/api/v1/sessions/"+sessionID+"/start", nil, http.StatusAccepted)
}

// PauseSession posts /pause and expects acceptance.
func (app *TestApp) PauseSession(t *testing.T, sessionID string) {
	t.Helper()
	app.postJSON(t, "/api/v1/sessions/"+sessionID+"/pause", nil, http.StatusAccepted)
}

// ResumeSession posts /resume and expects acceptance.
func (app *TestApp) ResumeSession(t *testing.T, sessionID string) {
	t.Helper()
	app.postJSON(t, "/api/v1/sessions/"+sessionID+"/resume", nil, http.StatusAccepted)
}

// StopSession posts /stop and expects acceptance.
func (app *TestApp) StopSession(t *testing.T, sessionID string) {
	t.Helper()
	app.postJSON(t, "/api/v1/sessions/"+sessionID+"/stop", nil, http.StatusAccepted)
}

// RestartSession posts /restart and expects acceptance.
func (app *TestApp) RestartSession(t *testing.T, sessionID string) {
	t.Helper()
	app.postJSON(t, "/api/v1/sessions/"+sessionID+"/restart", nil, http.StatusAccepted)
}

// SubmitHumanTurn posts the pending rendezvous content and expects acceptance.
func (app *TestApp) SubmitHumanTurn(t *testing.T, sessionID string, req *models.SubmitHumanTurnRequest) {
	t.Helper()
	app.postJSON(t, "/api/v1/sessions/"+sessionID+"/human-turn", req, http.StatusAccepted)
}

// SubmitIntervention posts an audience intervention and returns the parsed
// response.
func (app *TestApp) SubmitIntervention(t *testing.T, sessionID string, req *models.SubmitInterventionRequest) map[string]any {
	t.Helper()
	return app.postJSON(t, "/api/v1/sessions/"+sessionID+"/interventions", req, http.StatusAccepted)
}

// GetSession retrieves the session and decodes it into the model type.
func (app *TestApp) GetSession(t *testing.T, sessionID string) *models.Session {
	t.Helper()
	var sess models.Session
	app.getJSONInto(t, "/api/v1/sessions/"+sessionID, http.StatusOK, &sess)
	return &sess
}

// utterancesResponse mirrors the list endpoint's envelope.
type utterancesResponse struct {
	SessionID  string              `json:"session_id"`
	Count      int                 `json:"count"`
	Utterances []*models.Utterance `json:"utterances"`
}

// GetUtterances returns the session's persisted utterances in sequence order.
func (app *TestApp) GetUtterances(t *testing.T, sessionID string) []*models.Utterance {
	t.Helper()
	var resp utterancesResponse
	app.getJSONInto(t, "/api/v1/sessions/"+sessionID+"/utterances", http.StatusOK, &resp)
	require.Equal(t, len(resp.Utterances), resp.Count)
	return resp.Utterances
}

// GetHealth calls GET /health.
func (app *TestApp) GetHealth(t *testing.T) map[string]any {
	t.Helper()
	return app.getJSON(t, "/health", http.StatusOK)
}

// Post sends a POST with an optional JSON body and returns the raw status
// code plus the decoded body. Used for conflict and validation checks where
// the status itself is the assertion.
func (app *TestApp) Post(t *testing.T, path string, body any) (int, map[string]any) {
	t.Helper()
	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(data)
	}
	req, err := http.NewRequestWithContext(context.Background(), http.MethodPost, app.BaseURL+path, reader)
	require.NoError(t, err)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer func() { _ = resp.Body.Close() }()
	var result map[string]any
	_ = json.NewDecoder(resp.Body).Decode(&result)
	return resp.StatusCode, result
}

// Get sends a GET and returns the raw status code plus the decoded body.
func (app *TestApp) Get(t *testing.T, path string) (int, map[string]any) {
	t.Helper()
	req, err := http.NewRequestWithContext(context.Background(), http.MethodGet, app.BaseURL+path, nil)
	require.NoError(t, err)
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer func() { _ = resp.Body.Close() }()
	var result map[string]any
	_ = json.NewDecoder(resp.Body).Decode(&result)
	return resp.StatusCode, result
}

func (app *TestApp) postJSON(t *testing.T, path string, body any, expectedStatus int) map[string]any {
	t.Helper()
	status, result := app.Post(t, path, body)
	require.Equal(t, expectedStatus, status, "POST %s: unexpected status (body: %v)", path, result)
	return result
}

func (app *TestApp) postJSONInto(t *testing.T, path string, body any, expectedStatus int, out any) {
	t.Helper()
	data, err := json.Marshal(body)
	require.NoError(t, err)
	req, err := http.NewRequestWithContext(context.Background(), http.MethodPost, app.BaseURL+path, bytes.NewReader(data))
	require.NoError(t, err)
	req.Header.Set("Content-Type", "application/json")
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer func() { _ = resp.Body.Close() }()
	raw, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	require.Equal(t, expectedStatus, resp.StatusCode, "POST %s: unexpected status (body: %s)", path, raw)
	require.NoError(t, json.Unmarshal(raw, out))
}

func (app *TestApp) getJSON(t *testing.T, path string, expectedStatus int) map[string]any {
	t.Helper()
	status, result := app.Get(t, path)
	require.Equal(t, expectedStatus, status, "GET %s: unexpected status (body: %v)", path, result)
	return result
}

func (app *TestApp) getJSONInto(t *testing.T, path string, expectedStatus int, out any) {
	t.Helper()
	req, err := http.NewRequestWithContext(context.Background(), http.MethodGet, app.BaseURL+path, nil)
	require.NoError(t, err)
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer func() { _ = resp.Body.Close() }()
	raw, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	require.Equal(t, expectedStatus, resp.StatusCode, "GET %s: unexpected status (body: %s)", path, raw)
	require.NoError(t, json.Unmarshal(raw, out))
}

// ────────────────────────────────────────────────────────────
// Polling Helpers
// ────────────────────────────────────────────────────────────

// WaitForSessionStatus polls the API until the session reaches one of the
// expected statuses and returns the one observed.
func (app *TestApp) WaitForSessionStatus(t *testing.T, sessionID string, expected ...models.SessionStatus) models.SessionStatus {
	t.Helper()
	var actual models.SessionStatus
	require.Eventually(t, func() bool {
		req, err := http.NewRequestWithContext(context.Background(), http.MethodGet, app.BaseURL+"/api/v1/sessions/"+sessionID, nil)
		if err != nil {
			return false
		}
		resp, err := http.DefaultClient.Do(req)
		if err != nil {
			return false
		}
		defer func() { _ = resp.Body.Close() }()
		if resp.StatusCode != http.StatusOK {
			return false
		}
		var sess models.Session
		if err := json.NewDecoder(resp.Body).Decode(&sess); err != nil {
			return false
		}
		actual = sess.Status
		for _, exp := range expected {
			if actual == exp {
				return true
			}
		}
		return false
	}, 30*time.Second, 100*time.Millisecond,
		"session %s did not reach status %v (last: %s)", sessionID, expected, actual)
	return actual
}

// ────────────────────────────────────────────────────────────
// Scripted Content
// ────────────────────────────────────────────────────────────

// paragraph builds distinct multi-sentence content for one scripted turn.
// The label appears in every sentence so the persistence fingerprint never
// collides across turns, speakers, or restarts.
func paragraph(label string, sentences int) string {
	var b strings.Builder
	for i := 1; i <= sentences; i++ {
		fmt.Fprintf(&b, "Point %d from the %s remarks draws on the staffing and productivity data gathered across four regional trials. ", i, label)
	}
	return strings.TrimSpace(b.String())
}

// ────────────────────────────────────────────────────────────
// Payload Extraction
// ────────────────────────────────────────────────────────────

func payloadString(p map[string]any, key string) string {
	s, _ := p[key].(string)
	return s
}

func payloadInt(p map[string]any, key string) int {
	switch n := p[key].(type) {
	case float64:
		return int(n)
	case int:
		return n
	default:
		return 0
	}
}

func payloadBool(p map[string]any, key string) bool {
	b, _ := p[key].(bool)
	return b
}

// ────────────────────────────────────────────────────────────
// Event Stream Assertions
// ────────────────────────────────────────────────────────────

// expectEvent describes one event a stream must contain. Match, when set,
// further constrains the payload; Note labels the expectation in failures.
type expectEvent struct {
	Type  string
	Note  string
	Match func(payload map[string]any) bool
}

// assertEventsInOrder verifies that each expected event appears in the
// stream in the given relative order. Extra events in between are
// tolerated — only the expected sequence must be found.
func assertEventsInOrder(t *testing.T, got []SSEEvent, want []expectEvent) {
	t.Helper()

	wi := 0
	for _, ev := range got {
		if wi >= len(want) {
			break
		}
		w := want[wi]
		if ev.Type() != w.Type {
			continue
		}
		if w.Match != nil && !w.Match(ev.Payload()) {
			continue
		}
		wi++
	}
	if wi == len(want) {
		return
	}

	var sb strings.Builder
	fmt.Fprintf(&sb, "matched %d/%d expected events; first unmatched: %s", wi, len(want), want[wi].Type)
	if want[wi].Note != "" {
		fmt.Fprintf(&sb, " (%s)", want[wi].Note)
	}
	sb.WriteString("\nstream:")
	for i, ev := range got {
		fmt.Fprintf(&sb, "\n  [%d] id=%d %s", i, ev.ID, ev.Type())
	}
	require.Fail(t, "event order mismatch", sb.String())
}

// assertAllEventsHaveSessionID verifies that every frame carries the
// session it was subscribed for. Clients route frames by session_id, so a
// stray or missing value means cross-session leakage.
func assertAllEventsHaveSessionID(t *testing.T, got []SSEEvent, sessionID string) {
	t.Helper()
	for i, ev := range got {
		require.Equalf(t, sessionID, ev.Event.SessionID,
			"event %d (type=%s) has wrong or missing session_id", i, ev.Type())
	}
}

// indexOfType returns the position of the first frame of the given type,
// or -1.
func indexOfType(got []SSEEvent, eventType string) int {
	for i, ev := range got {
		if ev.Type() == eventType {
			return i
		}
	}
	return -1
}

func speakerIs(id string) func(map[string]any) bool {
	return func(p map[string]any) bool { return payloadString(p, "speaker") == id }
}

func phaseIs(id string) func(map[string]any) bool {
	return func(p map[string]any) bool { return payloadString(p, "phase") == id }
}

// ────────────────────────────────────────────────────────────
// Request Builders
// ────────────────────────────────────────────────────────────

// formalRequest builds a two-seat formal create request. Model IDs are
// left to defaults; the harness routes every seat to a scripted adapter
// by participant ID anyway.
func formalRequest(proposition string) *models.CreateSessionRequest {
	return &models.CreateSessionRequest{
		Proposition: proposition,
		Mode:        models.ModeFormal,
		Participants: []models.ParticipantSpec{
			{ID: "pro-1", Name: "Ada", Role: models.RolePro},
			{ID: "con-1", Name: "Ben", Role: models.RoleCon},
		},
	}
}

// singlePhase wraps turns in one custom phase.
func singlePhase(id string, turns ...models.TurnSpec) []models.PhaseSpec {
	return []models.PhaseSpec{{ID: id, Turns: turns}}
}

func turn(speaker string, kind models.PromptKind) models.TurnSpec {
	return models.TurnSpec{Speaker: speaker, Kind: kind}
}
