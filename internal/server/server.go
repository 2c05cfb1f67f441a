package server

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/gorilla/handlers"
	"github.com/gorilla/mux"
	"go.uber.org/zap"

	"github.com/abhisek/drillsim/internal/performance"
	"github.com/abhisek/drillsim/internal/scenario"
)

var (
	corsAllowedMethods = []string{"GET", "POST", "HEAD", "OPTIONS"}
	corsAllowedHeaders = []string{"Authorization", "Content-Type"}
)

// Catalog lists and resolves scenarios.
type Catalog interface {
	Get(id string) (scenario.Scenario, error)
	List() []scenario.Scenario
}

// PerformanceReader reads aggregated learner records.
type PerformanceReader interface {
	LoadPerformance(ctx context.Context, userID, scenarioID string) (*performance.Performance, error)
	ListPerformance(ctx context.Context, userID string) ([]*performance.Performance, error)
}

// Server exposes the attempt service over HTTP.
type Server struct {
	attempts Attempts
	catalog  Catalog
	perf     PerformanceReader
	log      *zap.Logger
	origins  []string
}

// Option configures a Server.
type Option func(*Server)

// WithLogger sets the request and failure logger.
func WithLogger(l *zap.Logger) Option {
	return func(s *Server) { s.log = l }
}

// WithAllowedOrigins sets the CORS origins. Default: "*".
func WithAllowedOrigins(origins []string) Option {
	return func(s *Server) { s.origins = origins }
}

// New creates a Server.
func New(attempts Attempts, catalog Catalog, perf PerformanceReader, opts ...Option) *Server {
	s := &Server{
		attempts: attempts,
		catalog:  catalog,
		perf:     perf,
		log:      zap.NewNop(),
		origins:  []string{"*"},
	}
	for _, o := range opts {
		o(s)
	}
	return s
}

// SetupRoutes registers every endpoint on r.
func (s *Server) SetupRoutes(r *mux.Router) {
	r.HandleFunc("/scenarios", s.ListScenariosFunc).Methods(http.MethodGet)
	r.HandleFunc("/scenarios/{scenario_id}", s.GetScenarioFunc).Methods(http.MethodGet)

	r.HandleFunc("/attempts", s.StartFunc).Methods(http.MethodPost)
	r.HandleFunc("/attempts/{attempt_id}", s.GetAttemptFunc).Methods(http.MethodGet)
	r.HandleFunc("/attempts/{attempt_id}/timer", s.TimerFunc).Methods(http.MethodGet)
	r.HandleFunc("/attempts/{attempt_id}/solution", s.SolutionFunc).Methods(http.MethodGet)
	r.HandleFunc("/attempts/{attempt_id}/investigation/{step_id}", s.InvestigationStepFunc).Methods(http.MethodPost)
	r.HandleFunc("/attempts/{attempt_id}/resolution/{step_id}", s.ResolutionStepFunc).Methods(http.MethodPost)
	r.HandleFunc("/attempts/{attempt_id}/objectives/{objective_id}", s.ObjectiveFunc).Methods(http.MethodPost)
	r.HandleFunc("/attempts/{attempt_id}/hints/{hint_id}", s.HintEligibleFunc).Methods(http.MethodGet)
	r.HandleFunc("/attempts/{attempt_id}/hints/{hint_id}", s.HintFunc).Methods(http.MethodPost)
	r.HandleFunc("/attempts/{attempt_id}/diagnosis", s.DiagnosisFunc).Methods(http.MethodPost)
	r.HandleFunc("/attempts/{attempt_id}/rollback", s.RollbackFunc).Methods(http.MethodPost)
	r.HandleFunc("/attempts/{attempt_id}/log", s.LogFunc).Methods(http.MethodPost)
	r.HandleFunc("/attempts/{attempt_id}/finish", s.FinishFunc).Methods(http.MethodPost)
	r.HandleFunc("/attempts/{attempt_id}/timeout", s.TimeoutFunc).Methods(http.MethodPost)

	r.HandleFunc("/users/{user_id}/performance", s.ListPerformanceFunc).Methods(http.MethodGet)
	r.HandleFunc("/users/{user_id}/performance/{scenario_id}", s.GetPerformanceFunc).Methods(http.MethodGet)

	s.log.Debug("Set up routes for attempt server")
}

// Handler returns the routed handler wrapped with access logging, panic
// recovery and CORS.
func (s *Server) Handler() http.Handler {
	r := mux.NewRouter()
	s.SetupRoutes(r)
	r.Use(s.logRequests)

	h := handlers.RecoveryHandler(handlers.RecoveryLogger(recoveryLogger{s.log}))(r)
	return handlers.CORS(
		handlers.AllowedOrigins(s.origins),
		handlers.AllowedMethods(corsAllowedMethods),
		handlers.AllowedHeaders(corsAllowedHeaders),
	)(h)
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}

func (s *Server) logRequests(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rec, r)
		s.log.Debug("Handled request",
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Int("status", rec.status),
			zap.Duration("took", time.Since(start)))
	})
}

type recoveryLogger struct{ log *zap.Logger }

func (l recoveryLogger) Println(v ...interface{}) {
	l.log.Error("Recovered from panic", zap.String("panic", fmt.Sprint(v...)))
}
