package server

import (
	"net/http"

	"github.com/gorilla/mux"

	"github.com/abhisek/drillsim/internal/attempt"
	"github.com/abhisek/drillsim/internal/performance"
)

func (s *Server) ListPerformanceFunc(w http.ResponseWriter, r *http.Request) {
	ps, err := s.perf.ListPerformance(r.Context(), mux.Vars(r)["user_id"])
	if err != nil {
		s.returnError(w, r, err)
		return
	}
	if ps == nil {
		ps = []*performance.Performance{}
	}
	ReturnJSON(w, r, http.StatusOK, ps)
}

func (s *Server) GetPerformanceFunc(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	p, err := s.perf.LoadPerformance(r.Context(), vars["user_id"], vars["scenario_id"])
	if err != nil {
		s.returnError(w, r, err)
		return
	}
	if p == nil {
		ReturnHTTPMessage(w, r, http.StatusNotFound, string(attempt.KindNotFound),
			"no attempts by "+vars["user_id"]+" on "+vars["scenario_id"])
		return
	}
	ReturnJSON(w, r, http.StatusOK, p)
}
