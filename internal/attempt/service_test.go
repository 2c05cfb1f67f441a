package attempt

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	clocktesting "k8s.io/utils/clock/testing"

	"github.com/abhisek/drillsim/internal/performance"
	"github.com/abhisek/drillsim/internal/scenario"
)

type fakeCatalog map[string]scenario.Scenario

func (c fakeCatalog) Get(id string) (scenario.Scenario, error) {
	sc, ok := c[id]
	if !ok {
		return scenario.Scenario{}, fmt.Errorf("get %s: %w", id, scenario.ErrNotFound)
	}
	return sc, nil
}

type perfKey struct{ user, scenario string }

type fakeStore struct {
	mu       sync.Mutex
	perf     map[perfKey]*performance.Performance
	attempts map[string]Attempt
	failNext int
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		perf:     make(map[perfKey]*performance.Performance),
		attempts: make(map[string]Attempt),
	}
}

func (f *fakeStore) LoadPerformance(_ context.Context, user, sc string) (*performance.Performance, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	p, ok := f.perf[perfKey{user, sc}]
	if !ok {
		return nil, nil
	}
	cp := *p
	return &cp, nil
}

func (f *fakeStore) SavePerformance(_ context.Context, p *performance.Performance) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failNext > 0 {
		f.failNext--
		return errors.New("disk I/O error")
	}
	cp := *p
	f.perf[perfKey{p.UserID, p.ScenarioID}] = &cp
	return nil
}

func (f *fakeStore) SaveAttempt(_ context.Context, a *Attempt) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.attempts[a.ID] = a.Clone()
	return nil
}

func newTestService(t *testing.T) (*Service, *fakeStore, *clocktesting.FakeClock) {
	t.Helper()
	clk := clocktesting.NewFakeClock(t0)
	st := newFakeStore()
	n := 0
	svc := NewService(
		fakeCatalog{"pool-exhaustion": detailedScenario(), "daily-dns": checklistScenario()},
		st,
		WithClock(clk),
		WithIDGenerator(func() string { n++; return fmt.Sprintf("att-%d", n) }),
	)
	return svc, st, clk
}

func driveToResolution(t *testing.T, svc *Service, id string) {
	t.Helper()
	for _, st := range []string{"i1", "i2", "i3", "i4", "i5", "i6"} {
		_, err := svc.CompleteInvestigationStep(id, st)
		require.NoError(t, err)
	}
	_, err := svc.SubmitDiagnosis(id, goodDiagnosis)
	require.NoError(t, err)
	for _, st := range []string{"r1", "r2", "r3", "r4"} {
		_, err := svc.CompleteResolutionStep(id, st)
		require.NoError(t, err)
	}
}

func TestService_StartRules(t *testing.T) {
	svc, _, _ := newTestService(t)
	ctx := context.Background()

	a, err := svc.Start(ctx, "u1", "pool-exhaustion", false)
	require.NoError(t, err)
	assert.Equal(t, "att-1", a.ID)
	assert.Equal(t, PhaseInvestigation, a.Phase)

	_, err = svc.Start(ctx, "u1", "pool-exhaustion", false)
	assert.True(t, errors.Is(err, ErrInvalidState), "second start: %v", err)

	// Other users and scenarios are independent.
	_, err = svc.Start(ctx, "u2", "pool-exhaustion", false)
	require.NoError(t, err)
	_, err = svc.Start(ctx, "u1", "daily-dns", false)
	require.NoError(t, err)

	b, err := svc.Start(ctx, "u1", "pool-exhaustion", true)
	require.NoError(t, err)
	assert.Equal(t, "att-4", b.ID)

	_, err = svc.Get("att-1")
	assert.True(t, errors.Is(err, ErrNotFound), "discarded attempt: %v", err)

	_, err = svc.Start(ctx, "u1", "missing", false)
	assert.True(t, errors.Is(err, ErrNotFound))
	assert.True(t, errors.Is(err, scenario.ErrNotFound))

	_, err = svc.Start(ctx, "", "pool-exhaustion", false)
	assert.True(t, errors.Is(err, ErrValidation))
}

func TestService_FinishPersistsAndFolds(t *testing.T) {
	svc, st, clk := newTestService(t)
	ctx := context.Background()

	a, err := svc.Start(ctx, "u1", "pool-exhaustion", false)
	require.NoError(t, err)
	driveToResolution(t, svc, a.ID)
	clk.Step(5 * time.Minute)

	res, err := svc.Finish(ctx, a.ID, true, goodLessons)
	require.NoError(t, err)
	assert.Equal(t, 99, res.Attempt.Score)
	assert.Equal(t, 1, res.Performance.Attempts)
	assert.Equal(t, 99, res.Performance.BestScore)
	assert.Equal(t, performance.LevelNovice, res.Performance.MasteryLevel)
	assert.Nil(t, res.LevelChange)

	saved, ok := st.attempts[a.ID]
	require.True(t, ok)
	assert.Equal(t, PhaseReview, saved.Phase)

	_, err = svc.Get(a.ID)
	assert.True(t, errors.Is(err, ErrNotFound), "finished attempt should leave the repository")

	// A second high-scoring run promotes the learner.
	b, err := svc.Start(ctx, "u1", "pool-exhaustion", false)
	require.NoError(t, err)
	driveToResolution(t, svc, b.ID)
	res, err = svc.Finish(ctx, b.ID, true, goodLessons)
	require.NoError(t, err)
	assert.Equal(t, 2, res.Performance.Attempts)
	require.NotNil(t, res.LevelChange)
	assert.Equal(t, performance.LevelExpert, res.LevelChange.To)
}

func TestService_FinishRetryAfterPersistenceError(t *testing.T) {
	svc, st, clk := newTestService(t)
	ctx := context.Background()

	a, err := svc.Start(ctx, "u1", "pool-exhaustion", false)
	require.NoError(t, err)
	driveToResolution(t, svc, a.ID)
	clk.Step(5 * time.Minute)

	st.failNext = 1
	_, err = svc.Finish(ctx, a.ID, true, goodLessons)
	require.Error(t, err)
	assert.Equal(t, KindPersistence, KindOf(err))

	held, err := svc.Get(a.ID)
	require.NoError(t, err)
	assert.Equal(t, PhaseReview, held.Phase)
	assert.Equal(t, 99, held.Score)

	// Time moves on and the retry ignores its arguments; the score is kept.
	clk.Step(30 * time.Minute)
	res, err := svc.Finish(ctx, a.ID, false, nil)
	require.NoError(t, err)
	assert.Equal(t, 99, res.Attempt.Score)
	assert.True(t, res.Attempt.Success)
	assert.Equal(t, 1, res.Performance.Attempts)
}

func TestService_StartSavesUnpersistedAttempt(t *testing.T) {
	for _, discard := range []bool{false, true} {
		t.Run(fmt.Sprintf("discard=%v", discard), func(t *testing.T) {
			svc, st, clk := newTestService(t)
			ctx := context.Background()

			a, err := svc.Start(ctx, "u1", "pool-exhaustion", false)
			require.NoError(t, err)
			driveToResolution(t, svc, a.ID)
			clk.Step(5 * time.Minute)

			st.failNext = 1
			_, err = svc.Finish(ctx, a.ID, true, goodLessons)
			require.Equal(t, KindPersistence, KindOf(err))

			b, err := svc.Start(ctx, "u1", "pool-exhaustion", discard)
			require.NoError(t, err)
			assert.Equal(t, "att-2", b.ID)

			p, err := st.LoadPerformance(ctx, "u1", "pool-exhaustion")
			require.NoError(t, err)
			require.NotNil(t, p)
			assert.Equal(t, 1, p.Attempts)
			assert.Equal(t, 99, p.BestScore)
			assert.Contains(t, st.attempts, a.ID)

			_, err = svc.Finish(ctx, a.ID, true, goodLessons)
			assert.Equal(t, KindNotFound, KindOf(err))
		})
	}
}

func TestService_StartKeepsAttemptWhileWritesFail(t *testing.T) {
	svc, st, clk := newTestService(t)
	ctx := context.Background()

	a, err := svc.Start(ctx, "u1", "pool-exhaustion", false)
	require.NoError(t, err)
	driveToResolution(t, svc, a.ID)
	clk.Step(5 * time.Minute)

	st.failNext = 2
	_, err = svc.Finish(ctx, a.ID, true, goodLessons)
	require.Equal(t, KindPersistence, KindOf(err))

	_, err = svc.Start(ctx, "u1", "pool-exhaustion", true)
	require.Equal(t, KindPersistence, KindOf(err))

	held, err := svc.Get(a.ID)
	require.NoError(t, err)
	assert.Equal(t, PhaseReview, held.Phase)
	assert.Equal(t, 99, held.Score)

	res, err := svc.Finish(ctx, a.ID, false, nil)
	require.NoError(t, err)
	assert.True(t, res.Attempt.Success)
	assert.Equal(t, 1, res.Performance.Attempts)

	b, err := svc.Start(ctx, "u1", "pool-exhaustion", false)
	require.NoError(t, err)
	assert.Equal(t, "att-2", b.ID)
}

func TestService_FinishPrerequisiteKeepsAttempt(t *testing.T) {
	svc, st, _ := newTestService(t)
	ctx := context.Background()

	a, err := svc.Start(ctx, "u1", "pool-exhaustion", false)
	require.NoError(t, err)
	driveToResolution(t, svc, a.ID)

	_, err = svc.Finish(ctx, a.ID, true, goodLessons[:2])
	assert.True(t, errors.Is(err, ErrIncompletePrerequisite))

	held, err := svc.Get(a.ID)
	require.NoError(t, err)
	assert.Equal(t, PhaseResolution, held.Phase)
	assert.Empty(t, st.attempts)
}

func TestService_HintsAndTimer(t *testing.T) {
	svc, _, clk := newTestService(t)
	ctx := context.Background()

	a, err := svc.Start(ctx, "u1", "pool-exhaustion", false)
	require.NoError(t, err)

	rem, err := svc.Remaining(a.ID)
	require.NoError(t, err)
	assert.Equal(t, 45*60, rem)

	ok, err := svc.IsHintEligible(a.ID, "early")
	require.NoError(t, err)
	assert.False(t, ok)

	clk.Step(299 * time.Second)
	ok, _ = svc.IsHintEligible(a.ID, "early")
	assert.False(t, ok, "eligible at 299s")
	clk.Step(time.Second)
	ok, _ = svc.IsHintEligible(a.ID, "early")
	assert.True(t, ok, "not eligible at 300s")

	res, err := svc.RecordHintUse(a.ID, "early")
	require.NoError(t, err)
	assert.True(t, res.Disclosed)

	res, err = svc.RecordHintUse(a.ID, "ask")
	require.NoError(t, err)
	assert.False(t, res.Disclosed)
	assert.Equal(t, "cooldown", res.Reason)

	st, err := svc.TimerStatus(a.ID)
	require.NoError(t, err)
	assert.Equal(t, 300, st.CooldownSeconds)
	assert.Empty(t, st.EligibleHints)

	_, err = svc.IsHintEligible(a.ID, "nope")
	assert.True(t, errors.Is(err, ErrNotFound))

	revealed, err := svc.IsSolutionRevealed(a.ID)
	require.NoError(t, err)
	assert.False(t, revealed)
	_, shown, err := svc.Solution(a.ID)
	require.NoError(t, err)
	assert.False(t, shown)
}

func TestService_TickTimesOut(t *testing.T) {
	svc, st, clk := newTestService(t)
	ctx := context.Background()

	a, err := svc.Start(ctx, "u1", "pool-exhaustion", false)
	require.NoError(t, err)
	clk.Step(10 * time.Minute)
	b, err := svc.Start(ctx, "u1", "daily-dns", false)
	require.NoError(t, err)

	clk.Step(20 * time.Minute)
	done, err := svc.Tick(ctx)
	require.NoError(t, err)
	require.Len(t, done, 1)
	assert.Equal(t, b.ID, done[0].Attempt.ID)
	assert.True(t, done[0].Attempt.TimedOut)
	assert.False(t, done[0].Attempt.Success)

	clk.Step(15 * time.Minute)
	done, err = svc.Tick(ctx)
	require.NoError(t, err)
	require.Len(t, done, 1)
	assert.Equal(t, a.ID, done[0].Attempt.ID)
	assert.Len(t, st.attempts, 2)

	done, err = svc.Tick(ctx)
	require.NoError(t, err)
	assert.Empty(t, done)
}

func TestService_ConcurrentStepsOnOneAttempt(t *testing.T) {
	svc, _, _ := newTestService(t)
	ctx := context.Background()
	a, err := svc.Start(ctx, "u1", "pool-exhaustion", false)
	require.NoError(t, err)

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, _ = svc.CompleteInvestigationStep(a.ID, fmt.Sprintf("i%d", i%6+1))
			_, _ = svc.RecordCommand(a.ID, "uptime")
		}(i)
	}
	wg.Wait()

	got, err := svc.Get(a.ID)
	require.NoError(t, err)
	assert.Len(t, got.InvestigationDone, 6)
	assert.Len(t, got.Log, 50)
}
