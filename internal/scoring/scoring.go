// Package scoring converts attempt telemetry into sub-scores and a
// composite score. All functions are pure and deterministic.
package scoring

import (
	"math"
	"time"

	"github.com/abhisek/drillsim/internal/scenario"
)

const (
	// NominalStepCount normalizes completion across scenarios of varying
	// size. It is deliberately not derived from the scenario's step count.
	NominalStepCount = 10

	hintPenalty     = 10.0
	rollbackPenalty = 5.0
	wrongGuessCost  = 20.0

	checklistBase          = 50
	checklistObjectivesMax = 20
	checklistHintCost      = 5
	checklistErrorCost     = 10
)

// Telemetry is the raw data captured by an attempt that scoring needs.
type Telemetry struct {
	TotalTime time.Duration
	TimeLimit time.Duration

	HintsUsed int
	Rollbacks int

	RootCauseIdentified bool
	RootCauseAttempts   int

	InvestigationCompleted int
	ResolutionCompleted    int

	ObjectivesCompleted int
	ObjectivesTotal     int
	UnresolvedErrors    int
}

// Result holds the scores derived for a finished attempt.
type Result struct {
	Efficiency     float64 `json:"efficiency"`
	Accuracy       float64 `json:"accuracy"`
	CompletionRate float64 `json:"completion_rate"`
	Score          int     `json:"score"`
}

// Efficiency applies a flat per-minute time penalty plus fixed hint and
// rollback penalties, clamped to [0, 100].
func Efficiency(t Telemetry) float64 {
	minutes := t.TotalTime.Seconds() / 60
	v := (100 - minutes) - float64(t.HintsUsed)*hintPenalty - float64(t.Rollbacks)*rollbackPenalty
	return clamp(v, 0, 100)
}

// Accuracy starts from 100 for an identified root cause and deducts 20 per
// extra diagnosis attempt, clamped to [0, 100].
func Accuracy(t Telemetry) float64 {
	base := 0.0
	if t.RootCauseIdentified {
		base = 100
	}
	extra := t.RootCauseAttempts - 1
	if extra < 0 {
		extra = 0
	}
	return clamp(base-float64(extra)*wrongGuessCost, 0, 100)
}

// CompletionRate is completed steps over NominalStepCount. It may exceed 1
// for scenarios with more than NominalStepCount steps.
func CompletionRate(t Telemetry) float64 {
	return float64(t.InvestigationCompleted+t.ResolutionCompleted) / NominalStepCount
}

// DetailedScore is the weighted composite for detailed attempts.
func DetailedScore(t Telemetry, w scenario.Weights) int {
	raw := Accuracy(t)*w.Accuracy + Efficiency(t)*w.Efficiency + CompletionRate(t)*100*w.Completion
	return int(clamp(math.Round(raw), 0, 100))
}

// TimeBonus returns the tiered bonus for finishing within the limit.
func TimeBonus(total, limit time.Duration) int {
	if limit <= 0 {
		return 0
	}
	ratio := total.Seconds() / limit.Seconds()
	switch {
	case ratio <= 0.5:
		return 30
	case ratio <= 0.75:
		return 20
	case ratio <= 1.0:
		return 10
	default:
		return 0
	}
}

// ChecklistScore scores objective-checklist attempts (daily, weekly and
// capstone challenges).
func ChecklistScore(t Telemetry) int {
	ratio := 0.0
	if t.ObjectivesTotal > 0 {
		ratio = float64(t.ObjectivesCompleted) / float64(t.ObjectivesTotal)
	}
	score := checklistBase +
		TimeBonus(t.TotalTime, t.TimeLimit) +
		int(math.Round(checklistObjectivesMax*ratio)) -
		t.HintsUsed*checklistHintCost -
		t.UnresolvedErrors*checklistErrorCost
	return int(clamp(float64(score), 0, 100))
}

// Evaluate is the single dispatch point selecting the scoring strategy for
// an attempt kind. Efficiency and accuracy are reported for both kinds.
func Evaluate(kind scenario.Kind, t Telemetry, w scenario.Weights) Result {
	r := Result{
		Efficiency:     Efficiency(t),
		Accuracy:       Accuracy(t),
		CompletionRate: CompletionRate(t),
	}
	switch kind {
	case scenario.KindChecklist:
		r.Score = ChecklistScore(t)
	default:
		if w.IsZero() {
			w = scenario.DefaultWeights()
		}
		r.Score = DetailedScore(t, w)
	}
	return r
}

func clamp(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
