package scenario

import (
	"slices"
	"time"
)

// Kind selects the attempt flavor and its scoring strategy.
type Kind string

const (
	// KindDetailed scenarios walk through investigation, diagnosis and
	// resolution steps and are scored on accuracy and efficiency.
	KindDetailed Kind = "detailed"

	// KindChecklist scenarios (daily, weekly and capstone challenges) are
	// scored against an objective checklist and the time limit.
	KindChecklist Kind = "checklist"
)

// TriggerKind controls when a hint may be disclosed.
type TriggerKind string

const (
	TriggerElapsed   TriggerKind = "elapsed-time" // after time since start
	TriggerIdle      TriggerKind = "idle-time"    // after time since the last disclosure
	TriggerOnRequest TriggerKind = "on-request"   // whenever asked
)

// Step is a single investigation or resolution action.
type Step struct {
	ID          string `json:"id"`
	Title       string `json:"title"`
	Description string `json:"description,omitempty"`
}

// Objective is a checklist item for checklist-flavored scenarios.
type Objective struct {
	ID          string `json:"id"`
	Description string `json:"description"`
}

// Hint is a piece of guidance gated by the disclosure timer.
type Hint struct {
	ID                string        `json:"id"`
	Trigger           TriggerKind   `json:"trigger"`
	Threshold         time.Duration `json:"threshold"`
	PenaltyMultiplier float64       `json:"penalty_multiplier"`
	Category          string        `json:"category,omitempty"`
	Text              string        `json:"text"`
}

// Weights configures the composite score for detailed scenarios.
type Weights struct {
	Accuracy   float64 `json:"accuracy"`
	Efficiency float64 `json:"efficiency"`
	Completion float64 `json:"completion"`
}

// DefaultWeights returns the standard 40/30/30 split.
func DefaultWeights() Weights {
	return Weights{Accuracy: 0.4, Efficiency: 0.3, Completion: 0.3}
}

// IsZero reports whether no weight has been configured.
func (w Weights) IsZero() bool {
	return w.Accuracy == 0 && w.Efficiency == 0 && w.Completion == 0
}

// Scenario is the immutable definition of a trainable incident.
// Attempts reference scenarios by ID only.
type Scenario struct {
	ID                 string        `json:"id"`
	Title              string        `json:"title"`
	Summary            string        `json:"summary,omitempty"`
	Kind               Kind          `json:"kind"`
	Difficulty         string        `json:"difficulty,omitempty"`
	TimeLimit          time.Duration `json:"time_limit"`
	InvestigationSteps []Step        `json:"investigation_steps"`
	ResolutionSteps    []Step        `json:"resolution_steps"`
	Objectives         []Objective   `json:"objectives,omitempty"`
	Hints              []Hint        `json:"hints,omitempty"`
	Weights            Weights       `json:"weights"`

	// RootCauseKeywords, when set, gate diagnosis acceptance: at least one
	// keyword must appear in the submitted cause (case-insensitive).
	RootCauseKeywords []string `json:"root_cause_keywords,omitempty"`

	// Solution is the full walkthrough shown once the reveal threshold passes.
	Solution string `json:"solution,omitempty"`
}

// TimeLimitSeconds returns the limit in whole seconds.
func (s Scenario) TimeLimitSeconds() int {
	return int(s.TimeLimit / time.Second)
}

// Hint returns the hint with the given ID.
func (s Scenario) Hint(id string) (Hint, bool) {
	for _, h := range s.Hints {
		if h.ID == id {
			return h, true
		}
	}
	return Hint{}, false
}

// HasInvestigationStep reports whether id names an investigation step.
func (s Scenario) HasInvestigationStep(id string) bool {
	return slices.ContainsFunc(s.InvestigationSteps, func(st Step) bool { return st.ID == id })
}

// HasResolutionStep reports whether id names a resolution step.
func (s Scenario) HasResolutionStep(id string) bool {
	return slices.ContainsFunc(s.ResolutionSteps, func(st Step) bool { return st.ID == id })
}

// HasObjective reports whether id names an objective.
func (s Scenario) HasObjective(id string) bool {
	return slices.ContainsFunc(s.Objectives, func(o Objective) bool { return o.ID == id })
}

// ScoringWeights returns the configured weights, or the defaults when unset.
func (s Scenario) ScoringWeights() Weights {
	if s.Weights.IsZero() {
		return DefaultWeights()
	}
	return s.Weights
}
