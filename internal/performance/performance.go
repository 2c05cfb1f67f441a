package performance

import (
	"math"
	"time"
)

// MasteryLevel is a coarse classification of a learner's history on one
// scenario.
type MasteryLevel string

const (
	LevelNovice     MasteryLevel = "novice"
	LevelCompetent  MasteryLevel = "competent"
	LevelProficient MasteryLevel = "proficient"
	LevelExpert     MasteryLevel = "expert"
)

// Rank orders levels from novice (0) to expert (3).
func (l MasteryLevel) Rank() int {
	switch l {
	case LevelCompetent:
		return 1
	case LevelProficient:
		return 2
	case LevelExpert:
		return 3
	default:
		return 0
	}
}

// SmoothingFactor weights the latest observation in skill-growth updates.
const SmoothingFactor = 0.2

// Performance is the aggregated record of one learner on one scenario.
// MasteryLevel and TroubleshootingSpeed are derived from the other fields
// and are recomputed by Normalize; stores need not persist them.
type Performance struct {
	UserID     string `json:"user_id"`
	ScenarioID string `json:"scenario_id"`

	Attempts             int     `json:"attempts"`
	SuccessfulAttempts   int     `json:"successful_attempts"`
	AverageTimeToResolve float64 `json:"average_time_to_resolve"` // seconds
	BestScore            int     `json:"best_score"`

	InvestigationSkillGrowth float64 `json:"investigation_skill_growth"`
	ResolutionSkillGrowth    float64 `json:"resolution_skill_growth"`

	TroubleshootingSpeed int          `json:"troubleshooting_speed"`
	MasteryLevel         MasteryLevel `json:"mastery_level"`

	LastAttemptedAt time.Time `json:"last_attempted_at"`

	// LastAttemptID makes folding the same attempt twice a no-op.
	LastAttemptID string `json:"last_attempt_id,omitempty"`
}

// New returns an empty record for (userID, scenarioID).
func New(userID, scenarioID string) *Performance {
	p := &Performance{UserID: userID, ScenarioID: scenarioID}
	p.Normalize()
	return p
}

// SuccessRate returns successful over total attempts (0 when none).
func (p *Performance) SuccessRate() float64 {
	if p.Attempts == 0 {
		return 0
	}
	return float64(p.SuccessfulAttempts) / float64(p.Attempts)
}

// Normalize recomputes the derived fields from their inputs.
func (p *Performance) Normalize() {
	p.MasteryLevel = ClassifyMastery(p.Attempts, p.SuccessfulAttempts, p.BestScore)
	p.TroubleshootingSpeed = SpeedPercentile(p.AverageTimeToResolve)
}

// ClassifyMastery derives the mastery level. Checks run highest-first and
// are mutually exclusive; fewer than two attempts is always novice.
func ClassifyMastery(attempts, successful, bestScore int) MasteryLevel {
	if attempts < 2 {
		return LevelNovice
	}
	rate := float64(successful) / float64(attempts)
	switch {
	case rate >= 0.9 && bestScore >= 90:
		return LevelExpert
	case rate >= 0.7 && bestScore >= 75:
		return LevelProficient
	case rate >= 0.5 && bestScore >= 60:
		return LevelCompetent
	default:
		return LevelNovice
	}
}

// SpeedPercentile buckets an average resolution time (seconds) into a
// percentile using fixed breakpoints.
func SpeedPercentile(avgSeconds float64) int {
	switch {
	case avgSeconds < 300:
		return 95
	case avgSeconds < 600:
		return 75
	case avgSeconds < 900:
		return 50
	case avgSeconds < 1200:
		return 25
	default:
		return 10
	}
}

// Smooth moves old toward observation by SmoothingFactor, capped at 100.
func Smooth(old, observation float64) float64 {
	return math.Min(100, old+(observation-old)*SmoothingFactor)
}
