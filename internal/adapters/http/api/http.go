// Package api declares HTTP contracts and route registration helpers.
package api

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	service "github.com/okian/transferwire/internal/app"
	"github.com/okian/transferwire/internal/domain/model"
	"github.com/okian/transferwire/internal/domain/schedule"
	"github.com/okian/transferwire/internal/domain/story"
)

const maxBodyBytes = 1 << 20

// Dependencies required by HTTP handlers. Using an interface bundle keeps
// the handler layer loosely coupled to the service.
type Dependencies interface {
	StatsProvider
	StoryDependencies
	SignalDependencies
	OutcomeDependencies
	SourceDependencies
	CycleDependencies
}

// StoryDependencies reads and retracts stories.
type StoryDependencies interface {
	Stories(ctx context.Context, f story.Filter) ([]model.Story, error)
	Story(ctx context.Context, id string) (model.Story, error)
	Retract(ctx context.Context, id string) (model.Story, error)
}

// SignalDependencies accepts pushed signals.
type SignalDependencies interface {
	IngestSignals(ctx context.Context, signals []model.Signal) ([]model.Signal, error)
}

// OutcomeDependencies reconciles predictions with what happened.
type OutcomeDependencies interface {
	RecordOutcome(ctx context.Context, storyID string, confirmed bool, resolvedAt time.Time) error
	RecordSourceOutcome(ctx context.Context, sourceID string, confirmed bool, predictedAt, resolvedAt time.Time) error
}

// SourceDependencies exposes the catalogue and reliability.
type SourceDependencies interface {
	Sources() []model.Source
	Source(id string) (model.Source, bool)
	Reliability(sourceID string) (model.ReliabilityMetric, bool)
	ReliabilityScore(sourceID string) float64
	SchedulerRecommendations() schedule.Recommendations
}

// CycleDependencies runs a cycle on demand.
type CycleDependencies interface {
	RunCycle(ctx context.Context) (service.CycleReport, error)
}

var _ Dependencies = (*service.Service)(nil)

// Server wires HTTP routes for the business API.
type Server struct {
	healthHandler  *HealthHandler
	statsHandler   *StatsHandler
	storiesHandler *StoriesHandler
	signalsHandler *SignalsHandler
	outcomeHandler *OutcomesHandler
	sourcesHandler *SourcesHandler
	cycleHandler   *CycleHandler
}

// NewServer creates a new API server with all handlers.
func NewServer(deps Dependencies) *Server {
	return &Server{
		healthHandler:  NewHealthHandler(),
		statsHandler:   NewStatsHandler(deps),
		storiesHandler: NewStoriesHandler(deps),
		signalsHandler: NewSignalsHandler(deps),
		outcomeHandler: NewOutcomesHandler(deps),
		sourcesHandler: NewSourcesHandler(deps),
		cycleHandler:   NewCycleHandler(deps),
	}
}

// Register attaches all HTTP routes to mux.
func (s *Server) Register(_ context.Context, mux *http.ServeMux) {
	mux.HandleFunc("GET /healthz", instrument(s.healthHandler.HandleHealth))
	mux.HandleFunc("GET /stats", instrument(s.statsHandler.HandleStats))
	mux.HandleFunc("GET /openapi.yaml", instrument(HandleOpenAPI))

	mux.HandleFunc("GET /stories", instrument(s.storiesHandler.HandleList))
	mux.HandleFunc("GET /stories/{id}", instrument(s.storiesHandler.HandleGet))
	mux.HandleFunc("POST /stories/{id}/retract", instrument(s.storiesHandler.HandleRetract))

	mux.HandleFunc("POST /signals", instrument(s.signalsHandler.HandlePost))
	mux.HandleFunc("POST /outcomes", instrument(s.outcomeHandler.HandlePost))

	mux.HandleFunc("GET /sources", instrument(s.sourcesHandler.HandleList))
	mux.HandleFunc("GET /sources/{id}/reliability", instrument(s.sourcesHandler.HandleReliability))
	mux.HandleFunc("GET /recommendations", instrument(s.sourcesHandler.HandleRecommendations))

	mux.HandleFunc("POST /cycles", instrument(s.cycleHandler.HandleRun))
}

type errorResponse struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, err error) {
	status, code := statusOf(err)
	noteError(w, code)
	msg := http.StatusText(status)
	if err != nil {
		msg = err.Error()
	}
	writeJSON(w, status, errorResponse{Code: code, Message: msg})
}

// decode reads one JSON document and rejects unknown fields.
func decode(r *http.Request, v any) error {
	dec := json.NewDecoder(io.LimitReader(r.Body, maxBodyBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		return fmt.Errorf("%w: %w", ErrBadRequest, err)
	}
	return nil
}
