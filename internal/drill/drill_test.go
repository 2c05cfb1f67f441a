package drill

import (
	"context"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/abhisek/drillsim/internal/attempt"
	"github.com/abhisek/drillsim/internal/scenario"
	"github.com/abhisek/drillsim/internal/store"
)

var start = time.Date(2026, 6, 1, 14, 0, 0, 0, time.UTC)

func newRunner(t *testing.T) (*Runner, *store.Store) {
	t.Helper()
	cat, err := scenario.Open(context.Background())
	require.NoError(t, err)
	st, err := store.Open(filepath.Join(t.TempDir(), "drill.db"))
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() })
	return NewRunner(cat, st, WithStart(start)), st
}

const fullDrill = `
user: riley
scenario: disk-full-log-rotation
steps:
  - action: investigate
    id: check-health
    after: 1m
  - action: command
    text: df -h
  - action: error
    text: "write /var/log/app.log: no space left on device"
  - action: investigate
    id: check-disk-usage
    after: 1m
  - action: hint
    id: rotate-hint
  - action: hint
    id: disk-hint
  - action: resolve
    id: truncate-logs
    expect: invalid_state
  - action: investigate
    id: find-large-files
    after: 2m
  - action: investigate
    id: inspect-logrotate
  - action: diagnose
    text: "The application is broken somehow"
  - action: diagnose
    text: "Log rotation stopped and the disk filled up"
    after: 30s
  - action: resolve-error
    text: truncated app.log
  - action: resolve
    id: truncate-logs
    after: 2m
  - action: resolve
    id: fix-logrotate
  - action: resolve
    id: verify-writes
    after: 1m
  - action: finish
    success: true
    lessons:
      - Alert on filesystem usage before it reaches 100 percent
      - Check logrotate status after changing log paths
      - Keep application logs on a separate volume
`

func TestParse(t *testing.T) {
	s, err := Parse([]byte(fullDrill))
	require.NoError(t, err)
	assert.Equal(t, "riley", s.User)
	require.Len(t, s.Steps, 16)
	assert.Equal(t, time.Minute, s.Steps[0].After)
	assert.Equal(t, 30*time.Second, s.Steps[10].After)
	assert.Equal(t, attempt.KindInvalidState, s.Steps[6].Expect)
	assert.Len(t, s.Steps[15].Lessons, 3)
}

func TestParse_Invalid(t *testing.T) {
	tests := []struct {
		name string
		doc  string
		want string
	}{
		{"missing user", "scenario: x\nsteps: []", "user is required"},
		{"missing scenario", "user: a", "scenario is required"},
		{"unknown action", "user: a\nscenario: x\nsteps:\n  - action: dance", `unknown action "dance"`},
		{"negative delay", "user: a\nscenario: x\nsteps:\n  - action: wait\n    after: -1m", "negative delay"},
		{"bad yaml", "user: [", "parse script"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Parse([]byte(tt.doc))
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.want)
		})
	}
}

func TestRun_FullDrill(t *testing.T) {
	r, st := newRunner(t)
	s, err := Parse([]byte(fullDrill))
	require.NoError(t, err)

	rep, err := r.Run(context.Background(), s)
	require.NoError(t, err)
	require.NotNil(t, rep.Result)

	a := rep.Result.Attempt
	assert.True(t, a.Success)
	assert.False(t, a.TimedOut)
	assert.Equal(t, attempt.PhaseReview, a.Phase)
	assert.Equal(t, 2, a.RootCauseAttempts)
	assert.Equal(t, 1, a.HintsUsed) // disk-hint was requested during the cooldown
	assert.Equal(t, 0, a.UnresolvedErrors())
	assert.GreaterOrEqual(t, a.Score, 0)
	assert.LessOrEqual(t, a.Score, 100)

	require.Len(t, rep.Events, 16)
	assert.Equal(t, "hint withheld: cooldown", rep.Events[5].Note)
	assert.Error(t, rep.Events[6].Err)
	assert.Equal(t, "diagnosis rejected", rep.Events[9].Note)
	assert.Equal(t, attempt.PhaseDiagnosis, rep.Events[9].Phase)
	assert.Equal(t, attempt.PhaseResolution, rep.Events[10].Phase)
	assert.Equal(t, 7*time.Minute+30*time.Second, rep.Events[15].Elapsed)
	assert.True(t, strings.HasPrefix(rep.Events[15].Note, "score "))

	p, err := st.LoadPerformance(context.Background(), "riley", "disk-full-log-rotation")
	require.NoError(t, err)
	require.NotNil(t, p)
	assert.Equal(t, 1, p.SuccessfulAttempts)
	assert.Equal(t, a.Score, p.BestScore)
}

func TestRun_ScriptEndsEarlyTimesOut(t *testing.T) {
	r, st := newRunner(t)
	s, err := Parse([]byte(`
user: riley
scenario: daily-dns-misconfig
steps:
  - action: objective
    id: reproduce
    after: 2m
`))
	require.NoError(t, err)

	rep, err := r.Run(context.Background(), s)
	require.NoError(t, err)
	require.NotNil(t, rep.Result)
	assert.True(t, rep.Result.Attempt.TimedOut)
	assert.False(t, rep.Result.Attempt.Success)

	last := rep.Events[len(rep.Events)-1]
	assert.Equal(t, "time limit reached", last.Note)
	assert.Equal(t, 15*time.Minute, last.Elapsed)

	stored, err := st.LoadAttempt(context.Background(), rep.AttemptID)
	require.NoError(t, err)
	assert.True(t, stored.TimedOut)
}

func TestRun_DelayPastLimitStopsScript(t *testing.T) {
	r, _ := newRunner(t)
	s, err := Parse([]byte(`
user: riley
scenario: daily-dns-misconfig
steps:
  - action: objective
    id: reproduce
  - action: objective
    id: find-record
    after: 20m
  - action: objective
    id: fix-record
`))
	require.NoError(t, err)

	rep, err := r.Run(context.Background(), s)
	require.NoError(t, err)
	require.Len(t, rep.Events, 2)
	assert.Equal(t, "time limit reached", rep.Events[1].Note)
	assert.True(t, rep.Result.Attempt.TimedOut)
	assert.Len(t, rep.Result.Attempt.ObjectivesDone, 1)
}

func TestRun_UnexpectedErrorStops(t *testing.T) {
	r, _ := newRunner(t)
	s, err := Parse([]byte(`
user: riley
scenario: disk-full-log-rotation
steps:
  - action: investigate
    id: not-a-step
`))
	require.NoError(t, err)

	_, err = r.Run(context.Background(), s)
	require.Error(t, err)
	assert.Equal(t, attempt.KindValidation, attempt.KindOf(err))
	assert.Contains(t, err.Error(), "step 1 (investigate)")
}

func TestRun_UnknownScenario(t *testing.T) {
	r, _ := newRunner(t)
	_, err := r.Run(context.Background(), &Script{User: "riley", Scenario: "nope"})
	require.Error(t, err)
	assert.Equal(t, attempt.KindNotFound, attempt.KindOf(err))
}
