package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sort"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
	clocktesting "k8s.io/utils/clock/testing"

	"github.com/abhisek/drillsim/internal/attempt"
	"github.com/abhisek/drillsim/internal/performance"
	"github.com/abhisek/drillsim/internal/scenario"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

var t0 = time.Date(2026, 5, 4, 10, 0, 0, 0, time.UTC)

type memStore struct {
	mu       sync.Mutex
	perf     map[string]*performance.Performance
	attempts map[string]attempt.Attempt
	fail     bool
}

func newMemStore() *memStore {
	return &memStore{
		perf:     make(map[string]*performance.Performance),
		attempts: make(map[string]attempt.Attempt),
	}
}

func (m *memStore) LoadPerformance(_ context.Context, user, sc string) (*performance.Performance, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.perf[user+"/"+sc]
	if !ok {
		return nil, nil
	}
	cp := *p
	return &cp, nil
}

func (m *memStore) ListPerformance(_ context.Context, user string) ([]*performance.Performance, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*performance.Performance
	for _, p := range m.perf {
		if p.UserID == user {
			cp := *p
			out = append(out, &cp)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ScenarioID < out[j].ScenarioID })
	return out, nil
}

func (m *memStore) SavePerformance(_ context.Context, p *performance.Performance) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.fail {
		return errors.New("disk full")
	}
	cp := *p
	m.perf[p.UserID+"/"+p.ScenarioID] = &cp
	return nil
}

func (m *memStore) SaveAttempt(_ context.Context, a *attempt.Attempt) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.fail {
		return errors.New("disk full")
	}
	m.attempts[a.ID] = a.Clone()
	return nil
}

func testCatalog(t *testing.T) *scenario.Catalog {
	t.Helper()
	c, err := scenario.NewCatalog([]scenario.Scenario{
		{
			ID:                 "cache-stampede",
			Title:              "Cache stampede",
			Kind:               scenario.KindDetailed,
			TimeLimit:          30 * time.Minute,
			InvestigationSteps: []scenario.Step{{ID: "metrics", Title: "Check hit ratio"}, {ID: "logs", Title: "Read logs"}},
			ResolutionSteps:    []scenario.Step{{ID: "jitter", Title: "Add TTL jitter"}},
			Hints: []scenario.Hint{
				{ID: "ask", Trigger: scenario.TriggerOnRequest, Text: "Look at key expiry times."},
				{ID: "late", Trigger: scenario.TriggerElapsed, Threshold: 10 * time.Minute, Text: "Many keys expire together."},
			},
			RootCauseKeywords: []string{"expire"},
			Solution:          "Spread expirations with jitter.",
		},
		{
			ID:         "daily-disk",
			Title:      "Disk pressure",
			Kind:       scenario.KindChecklist,
			TimeLimit:  15 * time.Minute,
			Objectives: []scenario.Objective{{ID: "find", Description: "Find the largest directory"}},
		},
	})
	require.NoError(t, err)
	return c
}

type harness struct {
	t       *testing.T
	handler http.Handler
	store   *memStore
	clock   *clocktesting.FakeClock
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	clk := clocktesting.NewFakeClock(t0)
	st := newMemStore()
	cat := testCatalog(t)
	n := 0
	svc := attempt.NewService(cat, st,
		attempt.WithClock(clk),
		attempt.WithIDGenerator(func() string { n++; return fmt.Sprintf("att-%d", n) }),
	)
	return &harness{t: t, handler: New(svc, cat, st).Handler(), store: st, clock: clk}
}

func (h *harness) do(method, path, body string) *httptest.ResponseRecorder {
	h.t.Helper()
	var req *http.Request
	if body == "" {
		req = httptest.NewRequest(method, path, nil)
	} else {
		req = httptest.NewRequest(method, path, strings.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
	}
	rec := httptest.NewRecorder()
	h.handler.ServeHTTP(rec, req)
	return rec
}

func decode[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &v), "body: %s", rec.Body.String())
	return v
}

func wantMessage(t *testing.T, rec *httptest.ResponseRecorder, status int, typ string) {
	t.Helper()
	require.Equal(t, status, rec.Code, "body: %s", rec.Body.String())
	msg := decode[HTTPMessage](t, rec)
	assert.Equal(t, typ, msg.Type)
	assert.Equal(t, fmt.Sprint(status), msg.Status)
}

const lessonsJSON = `["Watch the cache hit ratio during deploys",
	"Synchronized TTLs cause thundering herds",
	"Add jitter to every cache expiration"]`

func TestScenarioEndpoints(t *testing.T) {
	h := newHarness(t)

	rec := h.do(http.MethodGet, "/scenarios", "")
	require.Equal(t, http.StatusOK, rec.Code)
	list := decode[[]scenarioSummary](t, rec)
	require.Len(t, list, 2)
	assert.Equal(t, "cache-stampede", list[0].ID)
	assert.Equal(t, 1800, list[0].TimeLimitSeconds)

	rec = h.do(http.MethodGet, "/scenarios/cache-stampede", "")
	require.Equal(t, http.StatusOK, rec.Code)
	body := rec.Body.String()
	assert.NotContains(t, body, "Spread expirations")
	assert.NotContains(t, body, "Look at key expiry")
	assert.NotContains(t, body, "root_cause_keywords")
	d := decode[scenarioDetail](t, rec)
	require.Len(t, d.Hints, 2)
	assert.Equal(t, 600, d.Hints[1].ThresholdSeconds)

	wantMessage(t, h.do(http.MethodGet, "/scenarios/nope", ""), http.StatusNotFound, "not_found")
}

func TestAttemptLifecycleOverHTTP(t *testing.T) {
	h := newHarness(t)

	rec := h.do(http.MethodPost, "/attempts", `{"user_id":"sam","scenario_id":"cache-stampede"}`)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	a := decode[attempt.Attempt](t, rec)
	assert.Equal(t, "att-1", a.ID)
	assert.Equal(t, attempt.PhaseInvestigation, a.Phase)
	assert.Equal(t, "/attempts/att-1", rec.Header().Get("Location"))

	wantMessage(t, h.do(http.MethodPost, "/attempts", `{"user_id":"sam","scenario_id":"cache-stampede"}`),
		http.StatusConflict, "invalid_state")
	wantMessage(t, h.do(http.MethodPost, "/attempts/att-1/investigation/bogus", ""),
		http.StatusUnprocessableEntity, "validation_error")
	wantMessage(t, h.do(http.MethodPost, "/attempts/att-1/resolution/jitter", ""),
		http.StatusConflict, "invalid_state")

	h.clock.Step(2 * time.Minute)
	require.Equal(t, http.StatusOK, h.do(http.MethodPost, "/attempts/att-1/investigation/metrics", "").Code)
	require.Equal(t, http.StatusOK, h.do(http.MethodPost, "/attempts/att-1/investigation/logs", "").Code)

	rec = h.do(http.MethodGet, "/attempts/att-1/hints/late", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, map[string]bool{"eligible": false}, decode[map[string]bool](t, rec))

	rec = h.do(http.MethodPost, "/attempts/att-1/hints/ask", "")
	require.Equal(t, http.StatusOK, rec.Code)
	hint := decode[hintResponse](t, rec)
	assert.True(t, hint.Disclosed)
	assert.Equal(t, "Look at key expiry times.", hint.Text)

	rec = h.do(http.MethodPost, "/attempts/att-1/hints/ask", "")
	require.Equal(t, http.StatusOK, rec.Code)
	hint = decode[hintResponse](t, rec)
	assert.False(t, hint.Disclosed)
	assert.Equal(t, "already-disclosed", hint.Reason)
	assert.Empty(t, hint.Text)

	rec = h.do(http.MethodPost, "/attempts/att-1/log", `{"kind":"command","text":"redis-cli info stats"}`)
	require.Equal(t, http.StatusOK, rec.Code)
	rec = h.do(http.MethodPost, "/attempts/att-1/log", `{"kind":"error","text":"upstream timeout"}`)
	require.Equal(t, http.StatusOK, rec.Code)
	a = decode[attempt.Attempt](t, rec)
	errSeq := a.Log[len(a.Log)-1].Seq
	rec = h.do(http.MethodPost, "/attempts/att-1/log", fmt.Sprintf(`{"kind":"resolved","ref":%d}`, errSeq))
	require.Equal(t, http.StatusOK, rec.Code)
	require.Equal(t, http.StatusBadRequest, h.do(http.MethodPost, "/attempts/att-1/log", `{"kind":"diagnosis","text":"x"}`).Code)
	require.Equal(t, http.StatusBadRequest, h.do(http.MethodPost, "/attempts/att-1/log", `{"kind":`).Code)

	wantMessage(t, h.do(http.MethodPost, "/attempts/att-1/diagnosis", `{"text":"too short"}`),
		http.StatusUnprocessableEntity, "validation_error")

	rec = h.do(http.MethodPost, "/attempts/att-1/diagnosis", `{"text":"Hot keys expire at the same moment"}`)
	require.Equal(t, http.StatusOK, rec.Code)
	a = decode[attempt.Attempt](t, rec)
	assert.Equal(t, attempt.PhaseResolution, a.Phase)
	assert.True(t, a.RootCauseIdentified)

	rec = h.do(http.MethodGet, "/attempts/att-1/timer", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"remaining_seconds":1680`)

	h.clock.Step(3 * time.Minute)
	require.Equal(t, http.StatusOK, h.do(http.MethodPost, "/attempts/att-1/rollback", "").Code)

	wantMessage(t, h.do(http.MethodPost, "/attempts/att-1/finish", `{"success":true,"lessons":`+lessonsJSON+`}`),
		http.StatusPreconditionFailed, "incomplete_prerequisite")

	require.Equal(t, http.StatusOK, h.do(http.MethodPost, "/attempts/att-1/resolution/jitter", "").Code)
	rec = h.do(http.MethodPost, "/attempts/att-1/finish", `{"success":true,"lessons":`+lessonsJSON+`}`)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	res := decode[attempt.FinishResult](t, rec)
	assert.Equal(t, attempt.PhaseReview, res.Attempt.Phase)
	assert.True(t, res.Attempt.Success)
	assert.Greater(t, res.Attempt.Score, 0)
	require.NotNil(t, res.Performance)
	assert.Equal(t, 1, res.Performance.Attempts)

	wantMessage(t, h.do(http.MethodGet, "/attempts/att-1", ""), http.StatusNotFound, "not_found")

	rec = h.do(http.MethodGet, "/users/sam/performance/cache-stampede", "")
	require.Equal(t, http.StatusOK, rec.Code)
	p := decode[performance.Performance](t, rec)
	assert.Equal(t, 1, p.SuccessfulAttempts)
	assert.Equal(t, res.Attempt.Score, p.BestScore)

	rec = h.do(http.MethodGet, "/users/sam/performance", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Len(t, decode[[]performance.Performance](t, rec), 1)

	wantMessage(t, h.do(http.MethodGet, "/users/sam/performance/daily-disk", ""), http.StatusNotFound, "not_found")
}

func TestDiscardAndTimeout(t *testing.T) {
	h := newHarness(t)

	require.Equal(t, http.StatusCreated, h.do(http.MethodPost, "/attempts", `{"user_id":"kim","scenario_id":"daily-disk"}`).Code)
	rec := h.do(http.MethodPost, "/attempts", `{"user_id":"kim","scenario_id":"daily-disk","discard":true}`)
	require.Equal(t, http.StatusCreated, rec.Code)
	assert.Equal(t, "att-2", decode[attempt.Attempt](t, rec).ID)
	wantMessage(t, h.do(http.MethodGet, "/attempts/att-1", ""), http.StatusNotFound, "not_found")

	rec = h.do(http.MethodGet, "/attempts/att-2/solution", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.False(t, decode[solutionResponse](t, rec).Revealed)

	h.clock.Step(16 * time.Minute)
	rec = h.do(http.MethodPost, "/attempts/att-2/timeout", "")
	require.Equal(t, http.StatusOK, rec.Code)
	res := decode[attempt.FinishResult](t, rec)
	assert.True(t, res.Attempt.TimedOut)
	assert.False(t, res.Attempt.Success)

	rec = h.do(http.MethodGet, "/users/nobody/performance", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, "[]", rec.Body.String())
}

func TestStartValidation(t *testing.T) {
	h := newHarness(t)

	wantMessage(t, h.do(http.MethodPost, "/attempts", `{"scenario_id":"daily-disk"}`), http.StatusUnprocessableEntity, "validation_error")
	wantMessage(t, h.do(http.MethodPost, "/attempts", `{"user_id":"a","scenario_id":"missing"}`), http.StatusNotFound, "not_found")
	wantMessage(t, h.do(http.MethodPost, "/attempts", `{"user_id":"a","bogus":1}`), http.StatusBadRequest, "badrequest")
}

func TestPersistenceFailureIsUnavailable(t *testing.T) {
	h := newHarness(t)
	require.Equal(t, http.StatusCreated, h.do(http.MethodPost, "/attempts", `{"user_id":"lee","scenario_id":"daily-disk"}`).Code)
	rec := h.do(http.MethodPost, "/attempts/att-1/objectives/find", "")
	require.Equal(t, http.StatusOK, rec.Code)
	require.Equal(t, attempt.PhaseResolution, decode[attempt.Attempt](t, rec).Phase)

	h.store.fail = true
	rec = h.do(http.MethodPost, "/attempts/att-1/finish", `{"success":false}`)
	wantMessage(t, rec, http.StatusServiceUnavailable, "persistence_error")
	assert.NotContains(t, rec.Body.String(), "disk full")

	h.store.fail = false
	rec = h.do(http.MethodPost, "/attempts/att-1/finish", `{"success":false}`)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, 1, decode[attempt.FinishResult](t, rec).Performance.Attempts)
}

type panicky struct{ Attempts }

func (panicky) Get(string) (attempt.Attempt, error) { panic("boom") }

func TestRecoversFromPanics(t *testing.T) {
	srv := New(panicky{}, testCatalog(t), newMemStore())
	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/attempts/x", nil))
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
}

func TestCORSHeaders(t *testing.T) {
	h := newHarness(t)
	req := httptest.NewRequest(http.MethodGet, "/scenarios", nil)
	req.Header.Set("Origin", "https://console.example")
	rec := httptest.NewRecorder()
	h.handler.ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.NotEmpty(t, rec.Header().Get("Access-Control-Allow-Origin"))
}

func TestStatusFor(t *testing.T) {
	tests := []struct {
		kind attempt.ErrorKind
		want int
	}{
		{attempt.KindInvalidState, http.StatusConflict},
		{attempt.KindValidation, http.StatusUnprocessableEntity},
		{attempt.KindIncompletePrerequisite, http.StatusPreconditionFailed},
		{attempt.KindNotFound, http.StatusNotFound},
		{attempt.KindPersistence, http.StatusServiceUnavailable},
		{"", http.StatusInternalServerError},
	}
	for _, tt := range tests {
		if got := statusFor(tt.kind); got != tt.want {
			t.Errorf("statusFor(%q) = %d, want %d", tt.kind, got, tt.want)
		}
	}
}
