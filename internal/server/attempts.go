package server

import (
	"context"
	"net/http"

	"github.com/gorilla/mux"

	"github.com/abhisek/drillsim/internal/attempt"
	"github.com/abhisek/drillsim/internal/timer"
)

// Attempts is the attempt lifecycle surface served over HTTP.
// *attempt.Service implements it.
type Attempts interface {
	Start(ctx context.Context, userID, scenarioID string, discard bool) (attempt.Attempt, error)
	Get(id string) (attempt.Attempt, error)
	CompleteInvestigationStep(id, stepID string) (attempt.Attempt, error)
	CompleteResolutionStep(id, stepID string) (attempt.Attempt, error)
	CompleteObjective(id, objectiveID string) (attempt.Attempt, error)
	SubmitDiagnosis(id, text string) (attempt.Attempt, error)
	RecordCommand(id, text string) (attempt.Attempt, error)
	RecordError(id, text string) (attempt.Attempt, error)
	ResolveError(id string, seq int, note string) (attempt.Attempt, error)
	RecordRollback(id string) (attempt.Attempt, error)
	RecordHintUse(id, hintID string) (attempt.HintResult, error)
	IsHintEligible(id, hintID string) (bool, error)
	Solution(id string) (string, bool, error)
	TimerStatus(id string) (timer.Status, error)
	Finish(ctx context.Context, id string, success bool, lessons []string) (*attempt.FinishResult, error)
	Timeout(ctx context.Context, id string) (*attempt.FinishResult, error)
}

var _ Attempts = (*attempt.Service)(nil)

type startRequest struct {
	UserID     string `json:"user_id"`
	ScenarioID string `json:"scenario_id"`
	Discard    bool   `json:"discard"`
}

type diagnosisRequest struct {
	Text string `json:"text"`
}

type logRequest struct {
	Kind attempt.LogKind `json:"kind"`
	Text string          `json:"text"`
	Ref  int             `json:"ref,omitempty"`
}

type finishRequest struct {
	Success bool     `json:"success"`
	Lessons []string `json:"lessons"`
}

type hintResponse struct {
	Disclosed bool   `json:"disclosed"`
	Reason    string `json:"reason,omitempty"`
	HintID    string `json:"hint_id"`
	Text      string `json:"text,omitempty"`
	Category  string `json:"category,omitempty"`
}

type solutionResponse struct {
	Revealed bool   `json:"revealed"`
	Solution string `json:"solution,omitempty"`
}

func (s *Server) badRequest(w http.ResponseWriter, r *http.Request, err error) {
	ReturnHTTPMessage(w, r, http.StatusBadRequest, "badrequest", "invalid request body: "+err.Error())
}

// respond writes an attempt snapshot or the error that replaced it.
func (s *Server) respond(w http.ResponseWriter, r *http.Request, a attempt.Attempt, err error) {
	if err != nil {
		s.returnError(w, r, err)
		return
	}
	ReturnJSON(w, r, http.StatusOK, a)
}

func (s *Server) StartFunc(w http.ResponseWriter, r *http.Request) {
	var req startRequest
	if err := decodeBody(r, &req); err != nil {
		s.badRequest(w, r, err)
		return
	}
	a, err := s.attempts.Start(r.Context(), req.UserID, req.ScenarioID, req.Discard)
	if err != nil {
		s.returnError(w, r, err)
		return
	}
	w.Header().Set("Location", "/attempts/"+a.ID)
	ReturnJSON(w, r, http.StatusCreated, a)
}

func (s *Server) GetAttemptFunc(w http.ResponseWriter, r *http.Request) {
	a, err := s.attempts.Get(mux.Vars(r)["attempt_id"])
	s.respond(w, r, a, err)
}

func (s *Server) TimerFunc(w http.ResponseWriter, r *http.Request) {
	st, err := s.attempts.TimerStatus(mux.Vars(r)["attempt_id"])
	if err != nil {
		s.returnError(w, r, err)
		return
	}
	ReturnJSON(w, r, http.StatusOK, st)
}

func (s *Server) SolutionFunc(w http.ResponseWriter, r *http.Request) {
	text, ok, err := s.attempts.Solution(mux.Vars(r)["attempt_id"])
	if err != nil {
		s.returnError(w, r, err)
		return
	}
	ReturnJSON(w, r, http.StatusOK, solutionResponse{Revealed: ok, Solution: text})
}

func (s *Server) InvestigationStepFunc(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	a, err := s.attempts.CompleteInvestigationStep(vars["attempt_id"], vars["step_id"])
	s.respond(w, r, a, err)
}

func (s *Server) ResolutionStepFunc(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	a, err := s.attempts.CompleteResolutionStep(vars["attempt_id"], vars["step_id"])
	s.respond(w, r, a, err)
}

func (s *Server) ObjectiveFunc(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	a, err := s.attempts.CompleteObjective(vars["attempt_id"], vars["objective_id"])
	s.respond(w, r, a, err)
}

func (s *Server) HintEligibleFunc(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	ok, err := s.attempts.IsHintEligible(vars["attempt_id"], vars["hint_id"])
	if err != nil {
		s.returnError(w, r, err)
		return
	}
	ReturnJSON(w, r, http.StatusOK, map[string]bool{"eligible": ok})
}

func (s *Server) HintFunc(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	res, err := s.attempts.RecordHintUse(vars["attempt_id"], vars["hint_id"])
	if err != nil {
		s.returnError(w, r, err)
		return
	}
	out := hintResponse{Disclosed: res.Disclosed, Reason: res.Reason, HintID: vars["hint_id"]}
	if res.Disclosed {
		out.Text = res.Hint.Text
		out.Category = res.Hint.Category
	}
	ReturnJSON(w, r, http.StatusOK, out)
}

func (s *Server) DiagnosisFunc(w http.ResponseWriter, r *http.Request) {
	var req diagnosisRequest
	if err := decodeBody(r, &req); err != nil {
		s.badRequest(w, r, err)
		return
	}
	a, err := s.attempts.SubmitDiagnosis(mux.Vars(r)["attempt_id"], req.Text)
	s.respond(w, r, a, err)
}

func (s *Server) RollbackFunc(w http.ResponseWriter, r *http.Request) {
	a, err := s.attempts.RecordRollback(mux.Vars(r)["attempt_id"])
	s.respond(w, r, a, err)
}

func (s *Server) LogFunc(w http.ResponseWriter, r *http.Request) {
	var req logRequest
	if err := decodeBody(r, &req); err != nil {
		s.badRequest(w, r, err)
		return
	}
	id := mux.Vars(r)["attempt_id"]

	var (
		a   attempt.Attempt
		err error
	)
	switch req.Kind {
	case attempt.LogCommand:
		a, err = s.attempts.RecordCommand(id, req.Text)
	case attempt.LogError:
		a, err = s.attempts.RecordError(id, req.Text)
	case attempt.LogResolved:
		a, err = s.attempts.ResolveError(id, req.Ref, req.Text)
	default:
		ReturnHTTPMessage(w, r, http.StatusBadRequest, "badrequest", "log kind must be command, error or resolved")
		return
	}
	s.respond(w, r, a, err)
}

func (s *Server) FinishFunc(w http.ResponseWriter, r *http.Request) {
	var req finishRequest
	if err := decodeBody(r, &req); err != nil {
		s.badRequest(w, r, err)
		return
	}
	res, err := s.attempts.Finish(r.Context(), mux.Vars(r)["attempt_id"], req.Success, req.Lessons)
	if err != nil {
		s.returnError(w, r, err)
		return
	}
	ReturnJSON(w, r, http.StatusOK, res)
}

func (s *Server) TimeoutFunc(w http.ResponseWriter, r *http.Request) {
	res, err := s.attempts.Timeout(r.Context(), mux.Vars(r)["attempt_id"])
	if err != nil {
		s.returnError(w, r, err)
		return
	}
	ReturnJSON(w, r, http.StatusOK, res)
}
