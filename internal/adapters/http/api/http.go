// Package api declares HTTP contracts and route registration helpers.
package api

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/okian/burnrank/internal/domain/dedupe"
	"github.com/okian/burnrank/internal/domain/model"
	"github.com/okian/burnrank/internal/domain/ranking"
	"github.com/okian/burnrank/internal/domain/types"
	"github.com/okian/burnrank/pkg/logger"
)

// Clock resolves "today" in the service's time zone.
type Clock interface {
	Today() time.Time
}

// EventDependencies accepts exercise events for asynchronous recording.
type EventDependencies interface {
	dedupe.Deduper
	Clock
	// Enqueue hands the event to the workers. queue.ErrFull means backpressure.
	Enqueue(ctx context.Context, ev model.ExerciseEvent) error
}

// RankingDependencies answers leaderboard reads.
type RankingDependencies interface {
	Clock
	TopRankings(ctx context.Context, q ranking.Query) ([]types.Entry, error)
	UserRanking(ctx context.Context, userID int64, q ranking.Query) (types.UserRanking, error)
}

// CategoryDependencies applies category changes.
type CategoryDependencies interface {
	Clock
	MigrateCategory(ctx context.Context, ch model.CategoryChange) (ranking.MigrationReport, error)
}

// ReadinessChecker reports whether the score store is reachable.
type ReadinessChecker interface {
	Ready(ctx context.Context) error
}

// Dependencies required by HTTP handlers. Using an interface bundle keeps
// the handler layer loosely coupled to implementations in other packages.
type Dependencies interface {
	EventDependencies
	RankingDependencies
	CategoryDependencies
	ReadinessChecker
	StatsProvider
}

// Server wires HTTP routes for the business API.
type Server struct {
	healthHandler   *HealthHandler
	statsHandler    *StatsHandler
	eventsHandler   *EventsHandler
	categoryHandler *CategoryHandler
	rankingsHandler *RankingsHandler
	log             logger.Logger
}

// NewServer creates a new API server with all handlers.
func NewServer(deps Dependencies, opts ...Option) *Server {
	cfg := serverConfig{
		defaultLimit: defaultLimit,
		maxLimit:     maxLimit,
		log:          logger.Named("api"),
	}
	for _, opt := range opts {
		opt(&cfg)
	}
	return &Server{
		healthHandler:   NewHealthHandler(deps),
		statsHandler:    NewStatsHandler(deps),
		eventsHandler:   NewEventsHandler(deps, cfg.log),
		categoryHandler: NewCategoryHandler(deps, cfg.log),
		rankingsHandler: NewRankingsHandler(deps, cfg.defaultLimit, cfg.maxLimit, cfg.log),
		log:             cfg.log,
	}
}

// Register attaches all HTTP routes to mux.
func (s *Server) Register(_ context.Context, mux *http.ServeMux) {
	route := func(pattern, endpoint string, h http.HandlerFunc) {
		mux.Handle(pattern, RequestID(MetricsMiddleware(h, endpoint)))
	}
	route("/healthz", "healthz", s.healthHandler.HandleHealth)
	route("/readyz", "readyz", s.healthHandler.HandleReady)
	route("/stats", "stats", s.statsHandler.HandleStats)
	route("/events", "events", s.eventsHandler.HandlePostEvent)
	route("/categories", "categories", s.categoryHandler.HandlePostCategory)
	route("/rankings", "rankings", s.rankingsHandler.HandleGetRankings)
	route("/rankings/users/{user_id}", "user_ranking", s.rankingsHandler.HandleGetUserRanking)
}

type ackResponse struct {
	Status    string `json:"status"`
	EventID   string `json:"event_id"`
	Duplicate bool   `json:"duplicate"`
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

func writeError(w http.ResponseWriter, status int, code string, err error) {
	msg := http.StatusText(status)
	if err != nil {
		msg = err.Error()
	}
	writeJSON(w, status, errorResponse{Code: code, Message: msg})
}

// parseDate accepts YYYY-MM-DD in loc or an RFC3339 timestamp, which is
// moved into loc so buckets follow the service's calendar.
func parseDate(s string, loc *time.Location) (time.Time, error) {
	if t, err := time.ParseInLocation(time.DateOnly, s, loc); err == nil {
		return t, nil
	}
	t, err := time.Parse(time.RFC3339, s)
	if err != nil {
		return time.Time{}, ranking.ErrInvalidDate
	}
	return t.In(loc), nil
}
