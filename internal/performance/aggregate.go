package performance

import "time"

// Outcome is the part of a finished attempt the aggregator consumes.
type Outcome struct {
	AttemptID   string
	UserID      string
	ScenarioID  string
	Success     bool
	Score       int
	Efficiency  float64
	Accuracy    float64
	TotalTime   time.Duration
	CompletedAt time.Time
}

// LevelChange records a mastery level transition caused by one attempt.
type LevelChange struct {
	UserID     string       `json:"user_id"`
	ScenarioID string       `json:"scenario_id"`
	From       MasteryLevel `json:"from"`
	To         MasteryLevel `json:"to"`
}

// Promoted reports whether the change moved the learner up.
func (c LevelChange) Promoted() bool {
	return c.To.Rank() > c.From.Rank()
}

// Fold merges one finished attempt into prev and returns the updated copy.
// prev is not modified; nil starts a fresh record. Folding an attempt whose
// ID matches prev.LastAttemptID returns an unchanged copy, so retries are
// safe. The LevelChange is nil when the mastery level did not move.
func Fold(prev *Performance, o Outcome) (*Performance, *LevelChange) {
	var p Performance
	if prev != nil {
		p = *prev
	} else {
		p = *New(o.UserID, o.ScenarioID)
	}

	if o.AttemptID != "" && p.LastAttemptID == o.AttemptID {
		p.Normalize()
		return &p, nil
	}

	before := ClassifyMastery(p.Attempts, p.SuccessfulAttempts, p.BestScore)

	oldCount := p.Attempts
	p.Attempts++
	if o.Success {
		p.SuccessfulAttempts++
	}

	p.AverageTimeToResolve = (p.AverageTimeToResolve*float64(oldCount) + o.TotalTime.Seconds()) / float64(p.Attempts)

	if o.Score > p.BestScore {
		p.BestScore = o.Score
	}

	p.InvestigationSkillGrowth = Smooth(p.InvestigationSkillGrowth, o.Accuracy)
	p.ResolutionSkillGrowth = Smooth(p.ResolutionSkillGrowth, o.Efficiency)

	p.LastAttemptedAt = o.CompletedAt
	p.LastAttemptID = o.AttemptID
	p.Normalize()

	if p.MasteryLevel == before {
		return &p, nil
	}
	return &p, &LevelChange{
		UserID:     p.UserID,
		ScenarioID: p.ScenarioID,
		From:       before,
		To:         p.MasteryLevel,
	}
}
