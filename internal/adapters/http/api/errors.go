package api

import (
	"context"
	"errors"
	"net/http"

	"github.com/okian/burnrank/internal/adapters/mq/queue"
	"github.com/okian/burnrank/internal/adapters/repository"
	"github.com/okian/burnrank/internal/domain/ranking"
)

// Sentinel kinds for API errors.
var (
	ErrBadRequest   = errors.New("bad request")
	ErrBackpressure = errors.New("backpressure")
)

// statusFor maps domain and store errors to a status code and error code.
func statusFor(err error) (int, string) {
	switch {
	case errors.Is(err, ErrBackpressure), errors.Is(err, queue.ErrFull):
		return http.StatusTooManyRequests, "backpressure"
	case errors.Is(err, ErrBadRequest),
		errors.Is(err, ranking.ErrInvalidPeriod),
		errors.Is(err, ranking.ErrInvalidCategory),
		errors.Is(err, ranking.ErrInvalidDate),
		errors.Is(err, ranking.ErrInvalidCalories),
		errors.Is(err, ranking.ErrInvalidUser),
		errors.Is(err, ranking.ErrInvalidLimit),
		errors.Is(err, repository.ErrInvalidLimit):
		return http.StatusBadRequest, "bad_request"
	case errors.Is(err, ranking.ErrPartialMigration):
		return http.StatusServiceUnavailable, "migration_incomplete"
	case errors.Is(err, repository.ErrStoreUnavailable), errors.Is(err, context.DeadlineExceeded):
		return http.StatusServiceUnavailable, "rankings_unavailable"
	case errors.Is(err, queue.ErrClosed):
		return http.StatusServiceUnavailable, "shutting_down"
	}
	return http.StatusInternalServerError, "internal_error"
}
