package api

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/okian/burnrank/internal/domain/model"
	"github.com/okian/burnrank/internal/domain/ranking"
	"github.com/okian/burnrank/pkg/logger"
)

// eventRequest mirrors the OpenAPI schema for POST /events.
type eventRequest struct {
	EventID  string   `json:"event_id"`
	UserID   int64    `json:"user_id"`
	Calories *float64 `json:"calories"`
	Category string   `json:"category"`
	Date     string   `json:"date"`
}

func (e eventRequest) toEvent(today time.Time) (model.ExerciseEvent, error) {
	ev := model.ExerciseEvent{
		EventID:  strings.TrimSpace(e.EventID),
		UserID:   e.UserID,
		Category: strings.TrimSpace(e.Category),
		Date:     today,
	}
	switch {
	case ev.EventID == "":
		return ev, fmt.Errorf("%w: missing event_id", ErrBadRequest)
	case e.Calories == nil:
		return ev, fmt.Errorf("%w: missing calories", ErrBadRequest)
	}
	ev.Calories = *e.Calories
	if e.Date != "" {
		d, err := parseDate(e.Date, today.Location())
		if err != nil {
			return ev, fmt.Errorf("%w: date must be YYYY-MM-DD or RFC3339", err)
		}
		ev.Date = d
	}
	if err := ranking.ValidateEvent(ev); err != nil {
		return ev, err
	}
	return ev, nil
}

// EventsHandler handles event requests.
type EventsHandler struct {
	deps EventDependencies
	log  logger.Logger
}

// NewEventsHandler creates a new events handler.
func NewEventsHandler(deps EventDependencies, log logger.Logger) *EventsHandler {
	return &EventsHandler{deps: deps, log: log}
}

// HandlePostEvent handles POST /events requests.
func (h *EventsHandler) HandlePostEvent(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.NotFound(w, r)
		return
	}
	var req eventRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "bad_request", fmt.Errorf("%w: %w", ErrBadRequest, err))
		return
	}
	ev, err := req.toEvent(h.deps.Today())
	if err != nil {
		status, code := statusFor(err)
		writeError(w, status, code, err)
		return
	}

	// Idempotency check - mark as seen first
	if h.deps.SeenAndRecord(r.Context(), ev.EventID) {
		writeJSON(w, http.StatusOK, ackResponse{Status: "duplicate", EventID: ev.EventID, Duplicate: true})
		return
	}

	if err := h.deps.Enqueue(r.Context(), ev); err != nil {
		// Rollback the "seen" status so a retry is accepted
		h.deps.Unrecord(r.Context(), ev.EventID)
		status, code := statusFor(err)
		if status == http.StatusTooManyRequests {
			err = fmt.Errorf("%w: %w", ErrBackpressure, err)
		} else if status >= http.StatusInternalServerError {
			h.log.Warn(r.Context(), "event not enqueued",
				logger.String("event_id", ev.EventID),
				logger.String("request_id", RequestIDFrom(r.Context())),
				logger.Error(err))
		}
		writeError(w, status, code, err)
		return
	}
	writeJSON(w, http.StatusAccepted, ackResponse{Status: "accepted", EventID: ev.EventID})
}
