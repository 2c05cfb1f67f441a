package server

import (
	"net/http"

	"github.com/gorilla/mux"

	"github.com/abhisek/drillsim/internal/attempt"
	"github.com/abhisek/drillsim/internal/scenario"
)

type scenarioSummary struct {
	ID               string        `json:"id"`
	Title            string        `json:"title"`
	Summary          string        `json:"summary,omitempty"`
	Kind             scenario.Kind `json:"kind"`
	Difficulty       string        `json:"difficulty,omitempty"`
	TimeLimitSeconds int           `json:"time_limit_seconds"`
}

type hintView struct {
	ID               string               `json:"id"`
	Trigger          scenario.TriggerKind `json:"trigger"`
	ThresholdSeconds int                  `json:"threshold_seconds"`
	Category         string               `json:"category,omitempty"`
}

// scenarioDetail omits hint texts, diagnosis keywords and the solution.
type scenarioDetail struct {
	scenarioSummary
	InvestigationSteps []scenario.Step      `json:"investigation_steps"`
	ResolutionSteps    []scenario.Step      `json:"resolution_steps"`
	Objectives         []scenario.Objective `json:"objectives,omitempty"`
	Hints              []hintView           `json:"hints,omitempty"`
}

func summarize(sc scenario.Scenario) scenarioSummary {
	return scenarioSummary{
		ID:               sc.ID,
		Title:            sc.Title,
		Summary:          sc.Summary,
		Kind:             sc.Kind,
		Difficulty:       sc.Difficulty,
		TimeLimitSeconds: sc.TimeLimitSeconds(),
	}
}

func detail(sc scenario.Scenario) scenarioDetail {
	d := scenarioDetail{
		scenarioSummary:    summarize(sc),
		InvestigationSteps: sc.InvestigationSteps,
		ResolutionSteps:    sc.ResolutionSteps,
		Objectives:         sc.Objectives,
	}
	for _, h := range sc.Hints {
		d.Hints = append(d.Hints, hintView{
			ID:               h.ID,
			Trigger:          h.Trigger,
			ThresholdSeconds: int(h.Threshold.Seconds()),
			Category:         h.Category,
		})
	}
	return d
}

func (s *Server) ListScenariosFunc(w http.ResponseWriter, r *http.Request) {
	list := s.catalog.List()
	out := make([]scenarioSummary, 0, len(list))
	for _, sc := range list {
		out = append(out, summarize(sc))
	}
	ReturnJSON(w, r, http.StatusOK, out)
}

func (s *Server) GetScenarioFunc(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["scenario_id"]
	sc, err := s.catalog.Get(id)
	if err != nil {
		ReturnHTTPMessage(w, r, http.StatusNotFound, string(attempt.KindNotFound), "scenario "+id+" not found")
		return
	}
	ReturnJSON(w, r, http.StatusOK, detail(sc))
}
