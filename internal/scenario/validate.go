package scenario

import (
	"errors"
	"fmt"
	"math"
)

// validateScenario checks structural invariants the schema cannot express.
func validateScenario(sc Scenario) error {
	var errs []error

	if sc.Kind == KindChecklist && len(sc.Objectives) == 0 {
		errs = append(errs, errors.New("checklist scenario has no objectives"))
	}
	if sc.Kind == KindDetailed && len(sc.InvestigationSteps)+len(sc.ResolutionSteps) == 0 {
		errs = append(errs, errors.New("detailed scenario has no steps"))
	}

	seen := make(map[string]string)
	check := func(kind, id string) {
		if prev, ok := seen[id]; ok {
			errs = append(errs, fmt.Errorf("duplicate id %q (%s and %s)", id, prev, kind))
			return
		}
		seen[id] = kind
	}
	for _, s := range sc.InvestigationSteps {
		check("investigation step", s.ID)
	}
	for _, s := range sc.ResolutionSteps {
		check("resolution step", s.ID)
	}
	for _, o := range sc.Objectives {
		check("objective", o.ID)
	}

	hintIDs := make(map[string]bool, len(sc.Hints))
	for _, h := range sc.Hints {
		if hintIDs[h.ID] {
			errs = append(errs, fmt.Errorf("duplicate hint id %q", h.ID))
		}
		hintIDs[h.ID] = true
		if h.Threshold < 0 {
			errs = append(errs, fmt.Errorf("hint %q: negative threshold", h.ID))
		}
	}

	w := sc.Weights
	if sum := w.Accuracy + w.Efficiency + w.Completion; math.Abs(sum-1) > 1e-6 {
		errs = append(errs, fmt.Errorf("weights sum to %.3f, want 1", sum))
	}

	return errors.Join(errs...)
}
