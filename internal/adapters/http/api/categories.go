package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"

	"github.com/okian/burnrank/internal/domain/model"
	"github.com/okian/burnrank/internal/domain/ranking"
	"github.com/okian/burnrank/pkg/logger"
)

// categoryRequest mirrors the OpenAPI schema for POST /categories.
type categoryRequest struct {
	UserID      int64  `json:"user_id"`
	OldCategory string `json:"old_category"`
	NewCategory string `json:"new_category"`
	AsOf        string `json:"as_of"`
}

type migrationFailure struct {
	errorResponse
	Report ranking.MigrationReport `json:"report"`
}

// CategoryHandler applies identity-category changes to the leaderboards.
type CategoryHandler struct {
	deps CategoryDependencies
	log  logger.Logger
}

// NewCategoryHandler creates a new category handler.
func NewCategoryHandler(deps CategoryDependencies, log logger.Logger) *CategoryHandler {
	return &CategoryHandler{deps: deps, log: log}
}

// HandlePostCategory handles POST /categories requests. The migration runs
// before the response is written.
func (h *CategoryHandler) HandlePostCategory(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.NotFound(w, r)
		return
	}
	var req categoryRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "bad_request", fmt.Errorf("%w: %w", ErrBadRequest, err))
		return
	}
	if req.NewCategory == "" {
		writeError(w, http.StatusBadRequest, "bad_request", fmt.Errorf("%w: missing new_category", ErrBadRequest))
		return
	}

	ch := model.CategoryChange{
		UserID:      req.UserID,
		OldCategory: req.OldCategory,
		NewCategory: req.NewCategory,
	}
	if req.AsOf != "" {
		today := h.deps.Today()
		asOf, err := parseDate(req.AsOf, today.Location())
		if err != nil {
			writeError(w, http.StatusBadRequest, "bad_request", fmt.Errorf("%w: as_of must be YYYY-MM-DD or RFC3339", err))
			return
		}
		ch.AsOf = asOf
	}

	report, err := h.deps.MigrateCategory(r.Context(), ch)
	if err != nil {
		status, code := statusFor(err)
		if errors.Is(err, ranking.ErrPartialMigration) {
			h.log.Warn(r.Context(), "category migration incomplete",
				logger.Int64("user_id", ch.UserID),
				logger.String("request_id", RequestIDFrom(r.Context())),
				logger.Error(err))
			writeJSON(w, status, migrationFailure{
				errorResponse: errorResponse{Code: code, Message: err.Error()},
				Report:        report,
			})
			return
		}
		writeError(w, status, code, err)
		return
	}
	writeJSON(w, http.StatusOK, report)
}
