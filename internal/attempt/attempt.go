package attempt

import (
	"maps"
	"slices"
	"time"

	"github.com/abhisek/drillsim/internal/performance"
	"github.com/abhisek/drillsim/internal/scenario"
	"github.com/abhisek/drillsim/internal/scoring"
	"github.com/abhisek/drillsim/internal/timer"
)

// Phase is a stage of the attempt lifecycle. Phases only move forward.
type Phase string

const (
	PhaseBriefing      Phase = "briefing"
	PhaseInvestigation Phase = "investigation"
	PhaseDiagnosis     Phase = "diagnosis"
	PhaseResolution    Phase = "resolution"
	PhaseReview        Phase = "review" // terminal
)

// Active reports whether learner actions are accepted in this phase.
func (p Phase) Active() bool {
	return p == PhaseInvestigation || p == PhaseDiagnosis || p == PhaseResolution
}

// LogKind tags an entry in the attempt's command/error log.
type LogKind string

const (
	LogCommand   LogKind = "command"
	LogError     LogKind = "error"
	LogResolved  LogKind = "resolved" // Ref points at the error it resolves
	LogHint      LogKind = "hint"     // Text is the disclosed hint id
	LogDiagnosis LogKind = "diagnosis"
)

// LogEntry is one append-only record of learner activity.
type LogEntry struct {
	Seq  int       `json:"seq"`
	Kind LogKind   `json:"kind"`
	Text string    `json:"text"`
	Ref  int       `json:"ref,omitempty"`
	At   time.Time `json:"at"`
}

// Attempt is one learner's run through a scenario. While in progress it is
// owned by a single session; once in PhaseReview it never changes again.
type Attempt struct {
	ID         string        `json:"id"`
	UserID     string        `json:"user_id"`
	ScenarioID string        `json:"scenario_id"`
	Kind       scenario.Kind `json:"kind"`
	Phase      Phase         `json:"phase"`

	StartedAt   time.Time  `json:"started_at"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`

	InvestigationDone map[string]bool `json:"investigation_done"`
	ResolutionDone    map[string]bool `json:"resolution_done"`
	ObjectivesDone    map[string]bool `json:"objectives_done"`

	HintsUsed  int       `json:"hints_used"`
	HintIDs    []string  `json:"hint_ids"`
	LastHintAt time.Time `json:"last_hint_at"`

	InvestigationSecs   int       `json:"investigation_secs"`
	ResolutionSecs      int       `json:"resolution_secs"`
	TimeToIdentifySecs  int       `json:"time_to_identify_secs"`
	ResolutionStartedAt time.Time `json:"resolution_started_at"`

	RootCauseIdentified bool   `json:"root_cause_identified"`
	RootCauseAttempts   int    `json:"root_cause_attempts"`
	Diagnosis           string `json:"diagnosis,omitempty"`

	Rollbacks      int        `json:"rollbacks"`
	Log            []LogEntry `json:"log"`
	LessonsLearned []string   `json:"lessons_learned"`

	Efficiency float64 `json:"efficiency"`
	Accuracy   float64 `json:"accuracy"`
	Score      int     `json:"score"`
	Success    bool    `json:"success"`
	TimedOut   bool    `json:"timed_out"`
}

func newAttempt(id, userID string, sc scenario.Scenario, now time.Time) *Attempt {
	return &Attempt{
		ID:                id,
		UserID:            userID,
		ScenarioID:        sc.ID,
		Kind:              sc.Kind,
		Phase:             PhaseBriefing,
		StartedAt:         now,
		InvestigationDone: make(map[string]bool),
		ResolutionDone:    make(map[string]bool),
		ObjectivesDone:    make(map[string]bool),
	}
}

// Finalized reports whether the attempt has been completed.
func (a *Attempt) Finalized() bool {
	return a.Phase == PhaseReview
}

// Clone returns a deep copy safe to hand to callers.
func (a *Attempt) Clone() Attempt {
	c := *a
	c.InvestigationDone = maps.Clone(a.InvestigationDone)
	c.ResolutionDone = maps.Clone(a.ResolutionDone)
	c.ObjectivesDone = maps.Clone(a.ObjectivesDone)
	c.HintIDs = slices.Clone(a.HintIDs)
	c.Log = slices.Clone(a.Log)
	c.LessonsLearned = slices.Clone(a.LessonsLearned)
	if a.CompletedAt != nil {
		t := *a.CompletedAt
		c.CompletedAt = &t
	}
	return c
}

// TotalTime is the wall time from start to completion (or to now while the
// attempt is still running).
func (a *Attempt) TotalTime(now time.Time) time.Duration {
	end := now
	if a.CompletedAt != nil {
		end = *a.CompletedAt
	}
	if d := end.Sub(a.StartedAt); d > 0 {
		return d
	}
	return 0
}

// UnresolvedErrors counts logged errors without a matching resolution entry.
func (a *Attempt) UnresolvedErrors() int {
	resolved := make(map[int]bool)
	for _, e := range a.Log {
		if e.Kind == LogResolved {
			resolved[e.Ref] = true
		}
	}
	n := 0
	for _, e := range a.Log {
		if e.Kind == LogError && !resolved[e.Seq] {
			n++
		}
	}
	return n
}

// TimerState returns the timing view used for countdown and hint queries.
func (a *Attempt) TimerState(limit time.Duration) timer.State {
	disclosed := make(map[string]bool, len(a.HintIDs))
	for _, id := range a.HintIDs {
		disclosed[id] = true
	}
	return timer.State{
		StartedAt:  a.StartedAt,
		Limit:      limit,
		LastHintAt: a.LastHintAt,
		Disclosed:  disclosed,
	}
}

// Telemetry extracts the scoring inputs.
func (a *Attempt) Telemetry(sc scenario.Scenario, now time.Time) scoring.Telemetry {
	return scoring.Telemetry{
		TotalTime:              a.TotalTime(now),
		TimeLimit:              sc.TimeLimit,
		HintsUsed:              a.HintsUsed,
		Rollbacks:              a.Rollbacks,
		RootCauseIdentified:    a.RootCauseIdentified,
		RootCauseAttempts:      a.RootCauseAttempts,
		InvestigationCompleted: len(a.InvestigationDone),
		ResolutionCompleted:    len(a.ResolutionDone),
		ObjectivesCompleted:    len(a.ObjectivesDone),
		ObjectivesTotal:        len(sc.Objectives),
		UnresolvedErrors:       a.UnresolvedErrors(),
	}
}

// Outcome converts a finalized attempt into aggregator input.
func (a *Attempt) Outcome() performance.Outcome {
	o := performance.Outcome{
		AttemptID:  a.ID,
		UserID:     a.UserID,
		ScenarioID: a.ScenarioID,
		Success:    a.Success,
		Score:      a.Score,
		Efficiency: a.Efficiency,
		Accuracy:   a.Accuracy,
	}
	if a.CompletedAt != nil {
		o.CompletedAt = *a.CompletedAt
		o.TotalTime = a.TotalTime(*a.CompletedAt)
	}
	return o
}
