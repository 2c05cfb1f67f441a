// Package drill replays scripted attempts against the attempt service on a
// simulated clock. Scripts are YAML documents listing learner actions and
// the time that passes before each one.
package drill

import (
	"context"
	"errors"
	"fmt"
	"os"
	"time"

	"go.uber.org/zap"
	"gopkg.in/yaml.v3"
	clocktesting "k8s.io/utils/clock/testing"

	"github.com/abhisek/drillsim/internal/attempt"
)

// Action names a learner operation in a script.
type Action string

const (
	ActionWait         Action = "wait"
	ActionInvestigate  Action = "investigate"
	ActionResolve      Action = "resolve"
	ActionObjective    Action = "objective"
	ActionHint         Action = "hint"
	ActionDiagnose     Action = "diagnose"
	ActionCommand      Action = "command"
	ActionError        Action = "error"
	ActionResolveError Action = "resolve-error"
	ActionRollback     Action = "rollback"
	ActionFinish       Action = "finish"
)

var knownActions = map[Action]bool{
	ActionWait: true, ActionInvestigate: true, ActionResolve: true, ActionObjective: true,
	ActionHint: true, ActionDiagnose: true, ActionCommand: true, ActionError: true,
	ActionResolveError: true, ActionRollback: true, ActionFinish: true,
}

// Step is one scripted action. After is the simulated time that passes
// before the action runs.
type Step struct {
	After   time.Duration `yaml:"after"`
	Action  Action        `yaml:"action"`
	ID      string        `yaml:"id,omitempty"`
	Text    string        `yaml:"text,omitempty"`
	Ref     int           `yaml:"ref,omitempty"` // error seq; 0 means the latest error
	Success bool          `yaml:"success,omitempty"`
	Lessons []string      `yaml:"lessons,omitempty"`

	// Expect names the error kind the step must fail with.
	Expect attempt.ErrorKind `yaml:"expect,omitempty"`
}

// Script is a complete drill.
type Script struct {
	User     string `yaml:"user"`
	Scenario string `yaml:"scenario"`
	Steps    []Step `yaml:"steps"`
}

// Parse decodes and checks a script.
func Parse(data []byte) (*Script, error) {
	var s Script
	if err := yaml.Unmarshal(data, &s); err != nil {
		return nil, fmt.Errorf("parse script: %w", err)
	}
	if err := s.Validate(); err != nil {
		return nil, err
	}
	return &s, nil
}

// Load reads a script file.
func Load(path string) (*Script, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read script: %w", err)
	}
	return Parse(data)
}

// Validate checks the script structure.
func (s *Script) Validate() error {
	var errs []error
	if s.User == "" {
		errs = append(errs, errors.New("user is required"))
	}
	if s.Scenario == "" {
		errs = append(errs, errors.New("scenario is required"))
	}
	for i, st := range s.Steps {
		if !knownActions[st.Action] {
			errs = append(errs, fmt.Errorf("step %d: unknown action %q", i+1, st.Action))
		}
		if st.After < 0 {
			errs = append(errs, fmt.Errorf("step %d: negative delay", i+1))
		}
	}
	return errors.Join(errs...)
}

// Event records what one step did.
type Event struct {
	Elapsed time.Duration
	Step    Step
	Phase   attempt.Phase
	Note    string
	Err     error
}

// Report is the outcome of a run.
type Report struct {
	AttemptID string
	Events    []Event
	Result    *attempt.FinishResult
}

// Runner executes scripts.
type Runner struct {
	catalog attempt.Catalog
	store   attempt.Store
	start   time.Time
	log     *zap.Logger
}

// Option configures a Runner.
type Option func(*Runner)

// WithStart sets the simulated start time. Default: now.
func WithStart(t time.Time) Option {
	return func(r *Runner) { r.start = t }
}

// WithLogger sets the logger handed to the attempt service.
func WithLogger(l *zap.Logger) Option {
	return func(r *Runner) { r.log = l }
}

// NewRunner creates a Runner persisting finished attempts to store.
func NewRunner(catalog attempt.Catalog, store attempt.Store, opts ...Option) *Runner {
	r := &Runner{catalog: catalog, store: store, start: time.Now(), log: zap.NewNop()}
	for _, o := range opts {
		o(r)
	}
	return r
}

// Run plays the script. A script that ends without finishing runs out the
// clock and the attempt is timed out.
func (r *Runner) Run(ctx context.Context, s *Script) (*Report, error) {
	clk := clocktesting.NewFakePassiveClock(r.start)
	svc := attempt.NewService(r.catalog, r.store, attempt.WithClock(clk), attempt.WithLogger(r.log))

	a, err := svc.Start(ctx, s.User, s.Scenario, false)
	if err != nil {
		return nil, fmt.Errorf("start attempt: %w", err)
	}
	rep := &Report{AttemptID: a.ID}
	lastError := 0

	for i, st := range s.Steps {
		if err := ctx.Err(); err != nil {
			return rep, err
		}
		clk.SetTime(clk.Now().Add(st.After))

		// Expired attempts are swept before the learner acts, as the
		// server's tick loop would.
		if done, err := svc.Tick(ctx); err != nil {
			return rep, fmt.Errorf("step %d: %w", i+1, err)
		} else if len(done) > 0 {
			rep.Result = done[0]
			rep.Events = append(rep.Events, Event{
				Elapsed: clk.Since(r.start),
				Step:    st,
				Phase:   attempt.PhaseReview,
				Note:    "time limit reached",
			})
			return rep, nil
		}

		ev := Event{Step: st}
		note, snap, res, err := r.apply(ctx, svc, rep.AttemptID, st, lastError)
		ev.Elapsed = clk.Since(r.start)
		ev.Note = note
		ev.Err = err

		if st.Expect != "" {
			if attempt.KindOf(err) != st.Expect {
				return rep, fmt.Errorf("step %d (%s): expected %s, got %v", i+1, st.Action, st.Expect, err)
			}
		} else if err != nil {
			return rep, fmt.Errorf("step %d (%s): %w", i+1, st.Action, err)
		}

		if res != nil {
			ev.Phase = res.Attempt.Phase
			rep.Events = append(rep.Events, ev)
			rep.Result = res
			return rep, nil
		}
		if cur, err := svc.Get(rep.AttemptID); err == nil {
			snap = cur
		}
		ev.Phase = snap.Phase
		if st.Action == ActionError && err == nil {
			lastError = snap.Log[len(snap.Log)-1].Seq
		}
		rep.Events = append(rep.Events, ev)
	}

	res, err := r.runOut(ctx, svc, clk, s.Scenario)
	if err != nil {
		return rep, err
	}
	rep.Result = res
	rep.Events = append(rep.Events, Event{
		Elapsed: clk.Since(r.start),
		Step:    Step{Action: ActionWait},
		Phase:   attempt.PhaseReview,
		Note:    "time limit reached",
	})
	return rep, nil
}

func (r *Runner) apply(ctx context.Context, svc *attempt.Service, id string, st Step, lastError int) (string, attempt.Attempt, *attempt.FinishResult, error) {
	var (
		a   attempt.Attempt
		err error
	)
	switch st.Action {
	case ActionWait:
		return "", a, nil, nil
	case ActionInvestigate:
		a, err = svc.CompleteInvestigationStep(id, st.ID)
	case ActionResolve:
		a, err = svc.CompleteResolutionStep(id, st.ID)
	case ActionObjective:
		a, err = svc.CompleteObjective(id, st.ID)
	case ActionDiagnose:
		a, err = svc.SubmitDiagnosis(id, st.Text)
		if err == nil && !a.RootCauseIdentified {
			return "diagnosis rejected", a, nil, nil
		}
	case ActionCommand:
		a, err = svc.RecordCommand(id, st.Text)
	case ActionError:
		a, err = svc.RecordError(id, st.Text)
	case ActionResolveError:
		ref := st.Ref
		if ref == 0 {
			ref = lastError
		}
		a, err = svc.ResolveError(id, ref, st.Text)
	case ActionRollback:
		a, err = svc.RecordRollback(id)
	case ActionHint:
		hr, err := svc.RecordHintUse(id, st.ID)
		if err != nil {
			return "", a, nil, err
		}
		if !hr.Disclosed {
			return "hint withheld: " + hr.Reason, a, nil, nil
		}
		return "hint: " + hr.Hint.Text, a, nil, nil
	case ActionFinish:
		res, err := svc.Finish(ctx, id, st.Success, st.Lessons)
		if err != nil {
			return "", a, nil, err
		}
		return fmt.Sprintf("score %d", res.Attempt.Score), res.Attempt, res, nil
	}
	return "", a, nil, err
}

// runOut advances the clock to the time limit and sweeps.
func (r *Runner) runOut(ctx context.Context, svc *attempt.Service, clk *clocktesting.FakePassiveClock, scenarioID string) (*attempt.FinishResult, error) {
	sc, err := r.catalog.Get(scenarioID)
	if err != nil {
		return nil, err
	}
	if deadline := r.start.Add(sc.TimeLimit); clk.Now().Before(deadline) {
		clk.SetTime(deadline)
	}
	done, err := svc.Tick(ctx)
	if err != nil {
		return nil, fmt.Errorf("time out attempt: %w", err)
	}
	if len(done) == 0 {
		return nil, errors.New("attempt did not time out")
	}
	return done[0], nil
}
