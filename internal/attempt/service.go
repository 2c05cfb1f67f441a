package attempt

import (
	"context"
	"errors"
	"sync"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"k8s.io/utils/clock"

	"github.com/abhisek/drillsim/internal/performance"
	"github.com/abhisek/drillsim/internal/scenario"
	"github.com/abhisek/drillsim/internal/timer"
)

// FinishResult is returned once a finished attempt has been persisted.
type FinishResult struct {
	Attempt     Attempt                  `json:"attempt"`
	Performance *performance.Performance `json:"performance"`
	LevelChange *performance.LevelChange `json:"level_change,omitempty"`
}

// Service runs attempts for concurrent callers. Each attempt id has its own
// lock; operations on different attempts never block each other.
type Service struct {
	catalog Catalog
	repo    Repository
	store   Store
	clock   clock.PassiveClock
	log     *zap.Logger
	newID   func() string

	mu    sync.Mutex // guards locks and the start check
	locks map[string]*sync.Mutex
}

// Option configures a Service.
type Option func(*Service)

// WithClock sets the time source. Defaults to the real clock.
func WithClock(c clock.PassiveClock) Option {
	return func(s *Service) { s.clock = c }
}

// WithLogger sets the logger. Defaults to a no-op logger.
func WithLogger(l *zap.Logger) Option {
	return func(s *Service) { s.log = l }
}

// WithIDGenerator overrides attempt id generation.
func WithIDGenerator(f func() string) Option {
	return func(s *Service) { s.newID = f }
}

// WithRepository replaces the in-memory attempt repository.
func WithRepository(r Repository) Option {
	return func(s *Service) { s.repo = r }
}

// NewService creates an attempt service backed by catalog and store.
func NewService(catalog Catalog, store Store, opts ...Option) *Service {
	s := &Service{
		catalog: catalog,
		repo:    NewMemoryRepository(),
		store:   store,
		clock:   clock.RealClock{},
		log:     zap.NewNop(),
		newID:   uuid.NewString,
		locks:   make(map[string]*sync.Mutex),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *Service) lockFor(id string) *sync.Mutex {
	s.mu.Lock()
	defer s.mu.Unlock()
	l, ok := s.locks[id]
	if !ok {
		l = &sync.Mutex{}
		s.locks[id] = l
	}
	return l
}

func (s *Service) dropLock(id string) {
	s.mu.Lock()
	delete(s.locks, id)
	s.mu.Unlock()
}

func (s *Service) lookup(op, id string) (scenario.Scenario, error) {
	sc, err := s.catalog.Get(id)
	if err != nil {
		return scenario.Scenario{}, &Error{Kind: KindNotFound, Op: op, Msg: "scenario " + id, Err: err}
	}
	return sc, nil
}

// Start begins a new attempt. An attempt already in progress for the same
// user and scenario is rejected unless discard is set, in which case it is
// dropped unscored. A finished attempt still held because its write failed
// is saved first; if that write fails again Start returns the persistence
// error and keeps it.
func (s *Service) Start(ctx context.Context, userID, scenarioID string, discard bool) (Attempt, error) {
	const op = "start"
	if userID == "" {
		return Attempt{}, validationf(op, "user id is required")
	}
	sc, err := s.lookup(op, scenarioID)
	if err != nil {
		return Attempt{}, err
	}
	if err := s.settle(ctx, op, userID, scenarioID); err != nil {
		return Attempt{}, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if prev, ok := s.repo.Active(userID, scenarioID); ok {
		if !discard {
			return Attempt{}, &Error{Kind: KindInvalidState, Op: op, Msg: "attempt " + prev + " already in progress"}
		}
		s.repo.Remove(prev)
		delete(s.locks, prev)
		s.log.Info("Discarded attempt",
			zap.String("attempt", prev),
			zap.String("user", userID),
			zap.String("scenario", scenarioID))
	}

	sess := Begin(s.newID(), userID, sc, s.clock)
	if err := s.repo.Insert(sess.Attempt()); err != nil {
		return Attempt{}, err
	}
	s.log.Info("Started attempt",
		zap.String("attempt", sess.Attempt().ID),
		zap.String("user", userID),
		zap.String("scenario", scenarioID),
		zap.String("kind", string(sc.Kind)))
	return sess.Snapshot(), nil
}

var errInProgress = errors.New("attempt in progress")

// settle persists the finished attempt held for (userID, scenarioID), if
// any. Attempts still in progress are left alone.
func (s *Service) settle(ctx context.Context, op, userID, scenarioID string) error {
	id, ok := s.repo.Active(userID, scenarioID)
	if !ok {
		return nil
	}
	_, err := s.complete(ctx, op, id, func(*Session) error { return errInProgress })
	switch {
	case err == nil:
		s.log.Info("Saved finished attempt", zap.String("attempt", id))
		return nil
	case errors.Is(err, errInProgress), KindOf(err) == KindNotFound:
		return nil
	default:
		return err
	}
}

// withSession loads the attempt under its lock and runs fn on a session.
func (s *Service) withSession(op, id string, fn func(*Session) error) error {
	l := s.lockFor(id)
	l.Lock()
	defer l.Unlock()

	a, ok := s.repo.Get(id)
	if !ok {
		s.dropLock(id)
		return notFoundf(op, "attempt %s", id)
	}
	sc, err := s.lookup(op, a.ScenarioID)
	if err != nil {
		return err
	}
	sess, err := Resume(a, sc, s.clock)
	if err != nil {
		return &Error{Kind: KindInvalidState, Op: op, Err: err}
	}
	return fn(sess)
}

func (s *Service) mutate(op, id string, fn func(*Session) (Attempt, error)) (Attempt, error) {
	var out Attempt
	err := s.withSession(op, id, func(sess *Session) error {
		a, err := fn(sess)
		out = a
		return err
	})
	if err != nil {
		s.log.Debug("Rejected operation", zap.String("op", op), zap.String("attempt", id), zap.Error(err))
		return Attempt{}, err
	}
	return out, nil
}

// Get returns a snapshot of an in-progress attempt.
func (s *Service) Get(id string) (Attempt, error) {
	return s.mutate("get", id, func(sess *Session) (Attempt, error) {
		return sess.Snapshot(), nil
	})
}

// CompleteInvestigationStep marks an investigation step done.
func (s *Service) CompleteInvestigationStep(id, stepID string) (Attempt, error) {
	return s.mutate("complete-investigation-step", id, func(sess *Session) (Attempt, error) {
		return sess.CompleteInvestigationStep(stepID)
	})
}

// CompleteResolutionStep marks a resolution step done.
func (s *Service) CompleteResolutionStep(id, stepID string) (Attempt, error) {
	return s.mutate("complete-resolution-step", id, func(sess *Session) (Attempt, error) {
		return sess.CompleteResolutionStep(stepID)
	})
}

// CompleteObjective marks a checklist objective done.
func (s *Service) CompleteObjective(id, objectiveID string) (Attempt, error) {
	return s.mutate("complete-objective", id, func(sess *Session) (Attempt, error) {
		return sess.CompleteObjective(objectiveID)
	})
}

// SubmitDiagnosis records a diagnosis. Check Attempt.Phase or
// RootCauseIdentified on the result to tell an accepted diagnosis from a
// wrong guess.
func (s *Service) SubmitDiagnosis(id, text string) (Attempt, error) {
	a, err := s.mutate("submit-diagnosis", id, func(sess *Session) (Attempt, error) {
		return sess.SubmitDiagnosis(text)
	})
	if err == nil {
		s.log.Info("Diagnosis submitted",
			zap.String("attempt", id),
			zap.Bool("accepted", a.RootCauseIdentified),
			zap.Int("tries", a.RootCauseAttempts))
	}
	return a, err
}

// RecordCommand appends a command to the attempt log.
func (s *Service) RecordCommand(id, text string) (Attempt, error) {
	return s.mutate("record-command", id, func(sess *Session) (Attempt, error) {
		return sess.RecordCommand(text)
	})
}

// RecordError appends an unresolved error to the attempt log.
func (s *Service) RecordError(id, text string) (Attempt, error) {
	return s.mutate("record-error", id, func(sess *Session) (Attempt, error) {
		return sess.RecordError(text)
	})
}

// ResolveError resolves the logged error with sequence number seq.
func (s *Service) ResolveError(id string, seq int, note string) (Attempt, error) {
	return s.mutate("resolve-error", id, func(sess *Session) (Attempt, error) {
		return sess.ResolveError(seq, note)
	})
}

// RecordRollback counts a reverted resolution action.
func (s *Service) RecordRollback(id string) (Attempt, error) {
	return s.mutate("record-rollback", id, func(sess *Session) (Attempt, error) {
		return sess.RecordRollback()
	})
}

// RecordHintUse requests a hint. Ineligible requests return a result with
// Disclosed false and a nil error.
func (s *Service) RecordHintUse(id, hintID string) (HintResult, error) {
	var res HintResult
	err := s.withSession("record-hint-use", id, func(sess *Session) error {
		var err error
		res, err = sess.RecordHintUse(hintID)
		return err
	})
	if err != nil {
		return HintResult{}, err
	}
	if res.Disclosed {
		s.log.Info("Hint disclosed", zap.String("attempt", id), zap.String("hint", hintID))
	} else {
		s.log.Debug("Hint withheld", zap.String("attempt", id), zap.String("hint", hintID), zap.String("reason", res.Reason))
	}
	return res, nil
}

// Remaining returns the seconds left on the attempt's countdown.
func (s *Service) Remaining(id string) (int, error) {
	var secs int
	err := s.withSession("remaining", id, func(sess *Session) error {
		secs = sess.Timer().RemainingSeconds(s.clock.Now())
		return nil
	})
	return secs, err
}

// IsHintEligible reports whether hintID could be disclosed right now.
func (s *Service) IsHintEligible(id, hintID string) (bool, error) {
	var ok bool
	err := s.withSession("is-hint-eligible", id, func(sess *Session) error {
		h, found := sess.sc.Hint(hintID)
		if !found {
			return notFoundf("is-hint-eligible", "hint %q", hintID)
		}
		ok = sess.Timer().HintEligible(h, s.clock.Now())
		return nil
	})
	return ok, err
}

// IsSolutionRevealed reports whether the solution may be shown.
func (s *Service) IsSolutionRevealed(id string) (bool, error) {
	var ok bool
	err := s.withSession("is-solution-revealed", id, func(sess *Session) error {
		ok = sess.Timer().SolutionRevealed(s.clock.Now())
		return nil
	})
	return ok, err
}

// Solution returns the scenario solution once it has been revealed.
func (s *Service) Solution(id string) (string, bool, error) {
	var text string
	var ok bool
	err := s.withSession("solution", id, func(sess *Session) error {
		if sess.Timer().SolutionRevealed(s.clock.Now()) {
			text, ok = sess.sc.Solution, true
		}
		return nil
	})
	return text, ok, err
}

// TimerStatus bundles every timer query for the attempt.
func (s *Service) TimerStatus(id string) (timer.Status, error) {
	var st timer.Status
	err := s.withSession("timer-status", id, func(sess *Session) error {
		st = sess.Timer().Status(s.clock.Now(), sess.sc.Hints)
		return nil
	})
	return st, err
}

// Finish completes the attempt and persists it with the updated performance
// record. If persistence fails the attempt stays finalized in memory and a
// later Finish retries the write without rescoring; success and lessons are
// ignored on such retries.
func (s *Service) Finish(ctx context.Context, id string, success bool, lessons []string) (*FinishResult, error) {
	return s.complete(ctx, "finish", id, func(sess *Session) error {
		_, err := sess.Finish(success, lessons)
		return err
	})
}

// Timeout force-completes the attempt as unsuccessful.
func (s *Service) Timeout(ctx context.Context, id string) (*FinishResult, error) {
	return s.complete(ctx, "timeout", id, func(sess *Session) error {
		_, err := sess.Timeout()
		return err
	})
}

func (s *Service) complete(ctx context.Context, op, id string, fn func(*Session) error) (*FinishResult, error) {
	var res *FinishResult
	err := s.withSession(op, id, func(sess *Session) error {
		a := sess.Attempt()
		if !a.Finalized() {
			if err := fn(sess); err != nil {
				return err
			}
			s.log.Info("Attempt finished",
				zap.String("attempt", a.ID),
				zap.String("user", a.UserID),
				zap.String("scenario", a.ScenarioID),
				zap.Int("score", a.Score),
				zap.Bool("success", a.Success),
				zap.Bool("timed_out", a.TimedOut))
		}
		var err error
		res, err = s.persist(ctx, a)
		if err != nil {
			s.log.Warn("Persisting attempt failed", zap.String("attempt", a.ID), zap.Error(err))
			return &Error{Kind: KindPersistence, Op: op, Msg: "save attempt " + a.ID, Err: err}
		}
		s.repo.Remove(id)
		return nil
	})
	if err != nil {
		return nil, err
	}
	s.dropLock(id)
	if c := res.LevelChange; c != nil {
		s.log.Info("Mastery level changed",
			zap.String("user", c.UserID),
			zap.String("scenario", c.ScenarioID),
			zap.String("from", string(c.From)),
			zap.String("to", string(c.To)))
	}
	return res, nil
}

func (s *Service) persist(ctx context.Context, a *Attempt) (*FinishResult, error) {
	prev, err := s.store.LoadPerformance(ctx, a.UserID, a.ScenarioID)
	if err != nil {
		return nil, err
	}
	next, change := performance.Fold(prev, a.Outcome())

	if c, ok := s.store.(Completer); ok {
		err = c.Complete(ctx, a, next)
	} else {
		err = s.store.SaveAttempt(ctx, a)
		if err == nil {
			err = s.store.SavePerformance(ctx, next)
		}
	}
	if err != nil {
		return nil, err
	}
	return &FinishResult{Attempt: a.Clone(), Performance: next, LevelChange: change}, nil
}

// Tick times out every held attempt whose limit has passed and retries
// persistence for finalized attempts whose earlier write failed. It is
// meant to be called periodically by the driving loop.
func (s *Service) Tick(ctx context.Context) ([]*FinishResult, error) {
	var (
		done []*FinishResult
		errs []error
	)
	for _, id := range s.repo.IDs() {
		if err := ctx.Err(); err != nil {
			return done, err
		}
		due := false
		err := s.withSession("tick", id, func(sess *Session) error {
			a := sess.Attempt()
			due = a.Finalized() || sess.Timer().TimeUp(s.clock.Now())
			return nil
		})
		if err != nil || !due {
			continue
		}
		res, err := s.Timeout(ctx, id)
		switch {
		case err == nil:
			done = append(done, res)
		case KindOf(err) == KindNotFound:
			// finished concurrently
		default:
			errs = append(errs, err)
		}
	}
	return done, errors.Join(errs...)
}
