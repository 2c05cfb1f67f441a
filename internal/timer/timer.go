// Package timer answers countdown and hint-disclosure questions for an
// attempt. Every function is a pure query over the attempt's timing state
// and the supplied instant; nothing here schedules work or mutates state.
package timer

import (
	"time"

	"github.com/abhisek/drillsim/internal/scenario"
)

const (
	// HintCooldown is the minimum spacing between two hint disclosures,
	// regardless of trigger kind.
	HintCooldown = 5 * time.Minute

	// SolutionRevealAfter is the elapsed time after which the full
	// solution may be shown.
	SolutionRevealAfter = 90 * time.Minute
)

// State is the timing view of one attempt.
type State struct {
	StartedAt time.Time
	Limit     time.Duration

	// LastHintAt is the time of the most recent disclosure (zero if none).
	LastHintAt time.Time

	// Disclosed holds the IDs of hints already shown.
	Disclosed map[string]bool
}

// Elapsed returns now - StartedAt, never negative.
func (s State) Elapsed(now time.Time) time.Duration {
	d := now.Sub(s.StartedAt)
	if d < 0 {
		return 0
	}
	return d
}

// Remaining returns the time left before the limit, never negative.
func (s State) Remaining(now time.Time) time.Duration {
	r := s.Limit - s.Elapsed(now)
	if r < 0 {
		return 0
	}
	return r
}

// RemainingSeconds returns Remaining in whole seconds.
func (s State) RemainingSeconds(now time.Time) int {
	return int(s.Remaining(now) / time.Second)
}

// TimeUp reports whether the limit has been reached. The driving layer
// must turn this into a timed-out finish.
func (s State) TimeUp(now time.Time) bool {
	return s.Elapsed(now) >= s.Limit
}

// CooldownRemaining returns how long until another hint may be disclosed.
func (s State) CooldownRemaining(now time.Time) time.Duration {
	if s.LastHintAt.IsZero() {
		return 0
	}
	r := HintCooldown - now.Sub(s.LastHintAt)
	if r < 0 {
		return 0
	}
	return r
}

// HintEligible reports whether h may be disclosed at now.
func (s State) HintEligible(h scenario.Hint, now time.Time) bool {
	return s.HintReason(h, now) == ""
}

// Ineligibility reasons returned by HintReason.
const (
	ReasonCooldown  = "cooldown"
	ReasonDisclosed = "already-disclosed"
	ReasonTooEarly  = "too-early"
	ReasonUnknown   = "unknown-trigger"
)

// HintReason returns why h is not eligible at now, or "" when it is.
func (s State) HintReason(h scenario.Hint, now time.Time) string {
	if s.Disclosed[h.ID] {
		return ReasonDisclosed
	}
	if s.CooldownRemaining(now) > 0 {
		return ReasonCooldown
	}

	switch h.Trigger {
	case scenario.TriggerOnRequest:
		return ""
	case scenario.TriggerElapsed:
		if s.Elapsed(now) >= h.Threshold {
			return ""
		}
		return ReasonTooEarly
	case scenario.TriggerIdle:
		since := s.StartedAt
		if !s.LastHintAt.IsZero() {
			since = s.LastHintAt
		}
		if now.Sub(since) >= h.Threshold {
			return ""
		}
		return ReasonTooEarly
	}
	return ReasonUnknown
}

// SolutionRevealed reports whether the full solution may be shown.
func (s State) SolutionRevealed(now time.Time) bool {
	return s.Elapsed(now) >= SolutionRevealAfter
}

// Status bundles every timer query for one instant.
type Status struct {
	ElapsedSeconds   int      `json:"elapsed_seconds"`
	RemainingSeconds int      `json:"remaining_seconds"`
	TimeUp           bool     `json:"time_up"`
	SolutionRevealed bool     `json:"solution_revealed"`
	CooldownSeconds  int      `json:"cooldown_seconds"`
	EligibleHints    []string `json:"eligible_hints"`
}

// Status evaluates all queries at now against the given hints.
func (s State) Status(now time.Time, hints []scenario.Hint) Status {
	st := Status{
		ElapsedSeconds:   int(s.Elapsed(now) / time.Second),
		RemainingSeconds: s.RemainingSeconds(now),
		TimeUp:           s.TimeUp(now),
		SolutionRevealed: s.SolutionRevealed(now),
		CooldownSeconds:  int((s.CooldownRemaining(now) + time.Second - 1) / time.Second),
		EligibleHints:    []string{},
	}
	for _, h := range hints {
		if s.HintEligible(h, now) {
			st.EligibleHints = append(st.EligibleHints, h.ID)
		}
	}
	return st
}
