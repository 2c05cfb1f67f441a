package attempt

import (
	"fmt"
	"slices"
	"strings"
	"time"
	"unicode/utf8"

	"k8s.io/utils/clock"

	"github.com/abhisek/drillsim/internal/scenario"
	"github.com/abhisek/drillsim/internal/scoring"
	"github.com/abhisek/drillsim/internal/timer"
)

const (
	// MinDiagnosisLength is the minimum diagnosis length in characters.
	MinDiagnosisLength = 20
	// MinLessonLength is the minimum length of a lesson that counts.
	MinLessonLength = 20
	// MinLessons is how many qualifying lessons a successful finish needs.
	MinLessons = 3
)

// HintResult reports the outcome of a hint request. An ineligible request
// is not an error; Reason explains why nothing was disclosed.
type HintResult struct {
	Disclosed bool          `json:"disclosed"`
	Reason    string        `json:"reason,omitempty"`
	Hint      scenario.Hint `json:"-"`
}

// Session drives one attempt through its phases. It is not safe for
// concurrent use; the Service serializes access per attempt.
type Session struct {
	a     *Attempt
	sc    scenario.Scenario
	clock clock.PassiveClock
}

// Begin creates a new attempt for userID on sc and moves it past the
// briefing into investigation.
func Begin(id, userID string, sc scenario.Scenario, clk clock.PassiveClock) *Session {
	s := &Session{a: newAttempt(id, userID, sc, clk.Now()), sc: sc, clock: clk}
	s.a.Phase = PhaseInvestigation
	return s
}

// Resume wraps an existing attempt. The attempt is mutated in place.
func Resume(a *Attempt, sc scenario.Scenario, clk clock.PassiveClock) (*Session, error) {
	if a.ScenarioID != sc.ID {
		return nil, fmt.Errorf("attempt %s belongs to scenario %s, not %s", a.ID, a.ScenarioID, sc.ID)
	}
	return &Session{a: a, sc: sc, clock: clk}, nil
}

// Attempt returns the underlying attempt.
func (s *Session) Attempt() *Attempt { return s.a }

// Snapshot returns a copy of the current attempt state.
func (s *Session) Snapshot() Attempt { return s.a.Clone() }

// Timer returns the attempt's timing view.
func (s *Session) Timer() timer.State { return s.a.TimerState(s.sc.TimeLimit) }

func (s *Session) elapsedSecs(now time.Time) int {
	return int(now.Sub(s.a.StartedAt).Seconds())
}

// CompleteInvestigationStep marks a step done. Repeating a step is a no-op.
func (s *Session) CompleteInvestigationStep(stepID string) (Attempt, error) {
	const op = "complete-investigation-step"
	if s.a.Phase != PhaseInvestigation {
		return Attempt{}, invalidState(op, s.a.Phase)
	}
	if !s.sc.HasInvestigationStep(stepID) {
		return Attempt{}, validationf(op, "unknown investigation step %q", stepID)
	}
	if !s.a.InvestigationDone[stepID] {
		s.a.InvestigationDone[stepID] = true
		s.a.InvestigationSecs = s.elapsedSecs(s.clock.Now())
	}
	return s.Snapshot(), nil
}

// CompleteResolutionStep marks a step done. Repeating a step is a no-op.
func (s *Session) CompleteResolutionStep(stepID string) (Attempt, error) {
	const op = "complete-resolution-step"
	if s.a.Phase != PhaseResolution {
		return Attempt{}, invalidState(op, s.a.Phase)
	}
	if !s.sc.HasResolutionStep(stepID) {
		return Attempt{}, validationf(op, "unknown resolution step %q", stepID)
	}
	if !s.a.ResolutionDone[stepID] {
		s.a.ResolutionDone[stepID] = true
		s.a.ResolutionSecs = int(s.clock.Now().Sub(s.a.ResolutionStartedAt).Seconds())
	}
	return s.Snapshot(), nil
}

// CompleteObjective marks a checklist objective done. Repeating is a no-op.
// Once every objective of a checklist scenario is done the attempt moves
// into resolution and can be finished.
func (s *Session) CompleteObjective(objectiveID string) (Attempt, error) {
	const op = "complete-objective"
	if !s.a.Phase.Active() {
		return Attempt{}, invalidState(op, s.a.Phase)
	}
	if !s.sc.HasObjective(objectiveID) {
		return Attempt{}, validationf(op, "unknown objective %q", objectiveID)
	}
	s.a.ObjectivesDone[objectiveID] = true

	if s.sc.Kind == scenario.KindChecklist && s.a.Phase != PhaseResolution && s.objectivesDone() {
		s.a.ResolutionStartedAt = s.clock.Now()
		s.a.Phase = PhaseResolution
	}
	return s.Snapshot(), nil
}

func (s *Session) objectivesDone() bool {
	for _, o := range s.sc.Objectives {
		if !s.a.ObjectivesDone[o.ID] {
			return false
		}
	}
	return true
}

// RecordHintUse discloses a hint if the timer allows it.
func (s *Session) RecordHintUse(hintID string) (HintResult, error) {
	const op = "record-hint-use"
	if s.a.Phase != PhaseInvestigation && s.a.Phase != PhaseResolution {
		return HintResult{}, invalidState(op, s.a.Phase)
	}
	h, ok := s.sc.Hint(hintID)
	if !ok {
		return HintResult{}, notFoundf(op, "hint %q not in scenario %s", hintID, s.sc.ID)
	}
	now := s.clock.Now()
	if reason := s.Timer().HintReason(h, now); reason != "" {
		return HintResult{Reason: reason}, nil
	}
	s.a.HintsUsed++
	s.a.HintIDs = append(s.a.HintIDs, h.ID)
	s.a.LastHintAt = now
	s.record(LogHint, h.ID, 0, now)
	return HintResult{Disclosed: true, Hint: h}, nil
}

// SubmitDiagnosis records a root-cause statement. The first submission
// moves the attempt from investigation into diagnosis. A statement that
// mentions none of the scenario's root-cause keywords counts as a wrong
// guess: the attempt stays in diagnosis and no error is returned.
func (s *Session) SubmitDiagnosis(text string) (Attempt, error) {
	const op = "submit-diagnosis"
	switch s.a.Phase {
	case PhaseInvestigation:
		s.a.Phase = PhaseDiagnosis
	case PhaseDiagnosis:
	default:
		return Attempt{}, invalidState(op, s.a.Phase)
	}

	text = strings.TrimSpace(text)
	if n := utf8.RuneCountInString(text); n < MinDiagnosisLength {
		return Attempt{}, validationf(op, "diagnosis must be at least %d characters, got %d", MinDiagnosisLength, n)
	}

	now := s.clock.Now()
	s.a.RootCauseAttempts++
	s.a.Diagnosis = text
	s.record(LogDiagnosis, text, 0, now)
	if !matchesRootCause(text, s.sc.RootCauseKeywords) {
		return s.Snapshot(), nil
	}

	s.a.RootCauseIdentified = true
	s.a.TimeToIdentifySecs = s.elapsedSecs(now)
	s.a.ResolutionStartedAt = now
	s.a.Phase = PhaseResolution
	return s.Snapshot(), nil
}

func matchesRootCause(text string, keywords []string) bool {
	if len(keywords) == 0 {
		return true
	}
	lower := strings.ToLower(text)
	for _, k := range keywords {
		if strings.Contains(lower, strings.ToLower(k)) {
			return true
		}
	}
	return false
}

// RecordCommand appends a command the learner ran.
func (s *Session) RecordCommand(text string) (Attempt, error) {
	return s.appendLog("record-command", LogCommand, text, 0)
}

// RecordError appends an error the learner hit. It stays unresolved until
// ResolveError is called with its sequence number.
func (s *Session) RecordError(text string) (Attempt, error) {
	return s.appendLog("record-error", LogError, text, 0)
}

// ResolveError marks a previously recorded error as resolved.
func (s *Session) ResolveError(seq int, note string) (Attempt, error) {
	const op = "resolve-error"
	if !s.a.Phase.Active() {
		return Attempt{}, invalidState(op, s.a.Phase)
	}
	idx := slices.IndexFunc(s.a.Log, func(e LogEntry) bool { return e.Seq == seq })
	if idx < 0 || s.a.Log[idx].Kind != LogError {
		return Attempt{}, validationf(op, "no error entry with sequence %d", seq)
	}
	if slices.ContainsFunc(s.a.Log, func(e LogEntry) bool { return e.Kind == LogResolved && e.Ref == seq }) {
		return Attempt{}, validationf(op, "error %d already resolved", seq)
	}
	if strings.TrimSpace(note) == "" {
		note = "resolved"
	}
	return s.appendLog(op, LogResolved, note, seq)
}

func (s *Session) appendLog(op string, kind LogKind, text string, ref int) (Attempt, error) {
	if !s.a.Phase.Active() {
		return Attempt{}, invalidState(op, s.a.Phase)
	}
	text = strings.TrimSpace(text)
	if text == "" {
		return Attempt{}, validationf(op, "text must not be empty")
	}
	s.record(kind, text, ref, s.clock.Now())
	return s.Snapshot(), nil
}

func (s *Session) record(kind LogKind, text string, ref int, at time.Time) {
	s.a.Log = append(s.a.Log, LogEntry{
		Seq:  len(s.a.Log) + 1,
		Kind: kind,
		Text: text,
		Ref:  ref,
		At:   at,
	})
}

// RecordRollback counts a reverted resolution action.
func (s *Session) RecordRollback() (Attempt, error) {
	if s.a.Phase != PhaseResolution {
		return Attempt{}, invalidState("record-rollback", s.a.Phase)
	}
	s.a.Rollbacks++
	return s.Snapshot(), nil
}

// Finish completes the attempt from the resolution phase, reached through an
// accepted diagnosis or, for checklists, the last objective. A successful
// finish requires every scenario step and objective plus MinLessons lessons
// of at least MinLessonLength characters; shorter lessons are kept but do
// not count.
func (s *Session) Finish(success bool, lessons []string) (Attempt, error) {
	const op = "finish"
	if s.a.Phase != PhaseResolution {
		return Attempt{}, invalidState(op, s.a.Phase)
	}

	var kept []string
	qualifying := 0
	for _, l := range lessons {
		l = strings.TrimSpace(l)
		if l == "" {
			continue
		}
		kept = append(kept, l)
		if utf8.RuneCountInString(l) >= MinLessonLength {
			qualifying++
		}
	}

	if success {
		if missing := s.missing(); len(missing) > 0 {
			return Attempt{}, &Error{
				Kind: KindIncompletePrerequisite,
				Op:   op,
				Msg:  "incomplete: " + strings.Join(missing, ", "),
			}
		}
		if qualifying < MinLessons {
			return Attempt{}, &Error{
				Kind: KindIncompletePrerequisite,
				Op:   op,
				Msg:  fmt.Sprintf("need %d lessons of at least %d characters, got %d", MinLessons, MinLessonLength, qualifying),
			}
		}
	}

	s.finalize(success, false, kept)
	return s.Snapshot(), nil
}

// Timeout force-completes the attempt as unsuccessful. It is driven by the
// system when the time limit expires, from any non-terminal phase.
func (s *Session) Timeout() (Attempt, error) {
	if s.a.Finalized() {
		return Attempt{}, invalidState("timeout", s.a.Phase)
	}
	s.finalize(false, true, nil)
	return s.Snapshot(), nil
}

func (s *Session) missing() []string {
	var out []string
	for _, st := range s.sc.InvestigationSteps {
		if !s.a.InvestigationDone[st.ID] {
			out = append(out, "investigation step "+st.ID)
		}
	}
	for _, st := range s.sc.ResolutionSteps {
		if !s.a.ResolutionDone[st.ID] {
			out = append(out, "resolution step "+st.ID)
		}
	}
	for _, o := range s.sc.Objectives {
		if !s.a.ObjectivesDone[o.ID] {
			out = append(out, "objective "+o.ID)
		}
	}
	return out
}

func (s *Session) finalize(success, timedOut bool, lessons []string) {
	now := s.clock.Now()
	s.a.CompletedAt = &now
	s.a.LessonsLearned = lessons
	s.a.Success = success
	s.a.TimedOut = timedOut

	r := scoring.Evaluate(s.sc.Kind, s.a.Telemetry(s.sc, now), s.sc.ScoringWeights())
	s.a.Efficiency = r.Efficiency
	s.a.Accuracy = r.Accuracy
	s.a.Score = r.Score
	s.a.Phase = PhaseReview
}
