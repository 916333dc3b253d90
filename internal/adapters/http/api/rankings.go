package api

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/sourcegraph/conc/pool"

	"github.com/okian/burnrank/internal/domain/ranking"
	"github.com/okian/burnrank/internal/domain/types"
	"github.com/okian/burnrank/pkg/logger"
)

type rankingsResponse struct {
	Rankings    []types.Entry      `json:"rankings"`
	UserRanking *types.UserRanking `json:"user_ranking"`
	Period      ranking.Period     `json:"period"`
	Category    *string            `json:"category"`
	TargetDate  string             `json:"target_date"`
}

// RankingsHandler serves leaderboard reads.
type RankingsHandler struct {
	deps         RankingDependencies
	defaultLimit int
	maxLimit     int
	log          logger.Logger
}

// NewRankingsHandler creates a new rankings handler.
func NewRankingsHandler(deps RankingDependencies, defaultLimit, maxLimit int, log logger.Logger) *RankingsHandler {
	return &RankingsHandler{
		deps:         deps,
		defaultLimit: defaultLimit,
		maxLimit:     maxLimit,
		log:          log,
	}
}

// parseQuery reads period, category (or its alias identity) and date.
func (h *RankingsHandler) parseQuery(v url.Values) (ranking.Query, error) {
	var q ranking.Query

	p, err := ranking.ParsePeriod(v.Get("period"))
	if err != nil {
		return q, err
	}
	q.Period = p

	label := v.Get("category")
	if label == "" {
		label = v.Get("identity")
	}
	if label = strings.TrimSpace(label); label != "" {
		cat, ok := ranking.ParseCategory(label)
		if !ok {
			return q, fmt.Errorf("%w: %q", ranking.ErrInvalidCategory, label)
		}
		q.Category = string(cat)
	}

	today := h.deps.Today()
	q.Date = today
	if raw := v.Get("date"); raw != "" {
		d, err := parseDate(raw, today.Location())
		if err != nil {
			return q, fmt.Errorf("%w: date must be YYYY-MM-DD", err)
		}
		q.Date = d
	}
	return q, nil
}

func (h *RankingsHandler) parseLimit(raw string) (int, error) {
	if raw == "" {
		return h.defaultLimit, nil
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n < 1 || n > h.maxLimit {
		return 0, fmt.Errorf("%w: limit must be in [1, %d]", ranking.ErrInvalidLimit, h.maxLimit)
	}
	return n, nil
}

func parseUserID(raw string) (int64, error) {
	id, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || id <= 0 {
		return 0, fmt.Errorf("%w: user_id must be a positive integer", ranking.ErrInvalidUser)
	}
	return id, nil
}

func (h *RankingsHandler) fail(w http.ResponseWriter, r *http.Request, err error) {
	status, code := statusFor(err)
	if status >= http.StatusInternalServerError {
		h.log.Warn(r.Context(), "ranking read failed",
			logger.String("path", r.URL.Path),
			logger.String("request_id", RequestIDFrom(r.Context())),
			logger.Error(err))
	}
	writeError(w, status, code, err)
}

// HandleGetRankings handles GET /rankings. The top list and the optional
// user lookup are read concurrently.
func (h *RankingsHandler) HandleGetRankings(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.NotFound(w, r)
		return
	}
	v := r.URL.Query()
	q, err := h.parseQuery(v)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	if q.Limit, err = h.parseLimit(v.Get("limit")); err != nil {
		h.fail(w, r, err)
		return
	}
	var userID int64
	if raw := v.Get("user_id"); raw != "" {
		if userID, err = parseUserID(raw); err != nil {
			h.fail(w, r, err)
			return
		}
	}

	resp := rankingsResponse{
		Period:     q.Period,
		TargetDate: q.Date.Format(time.DateOnly),
	}
	if q.Category != "" {
		resp.Category = &q.Category
	}

	p := pool.New().WithContext(r.Context()).WithCancelOnError()
	p.Go(func(ctx context.Context) error {
		entries, err := h.deps.TopRankings(ctx, q)
		resp.Rankings = entries
		return err
	})
	if userID > 0 {
		p.Go(func(ctx context.Context) error {
			ur, err := h.deps.UserRanking(ctx, userID, q)
			resp.UserRanking = &ur
			return err
		})
	}
	if err := p.Wait(); err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

// HandleGetUserRanking handles GET /rankings/users/{user_id}.
func (h *RankingsHandler) HandleGetUserRanking(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.NotFound(w, r)
		return
	}
	userID, err := parseUserID(r.PathValue("user_id"))
	if err != nil {
		h.fail(w, r, err)
		return
	}
	q, err := h.parseQuery(r.URL.Query())
	if err != nil {
		h.fail(w, r, err)
		return
	}
	ur, err := h.deps.UserRanking(r.Context(), userID, q)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, ur)
}
