package httpadapter

import (
	"context"
	"errors"
	"net/http"

	"github.com/bilgece/retrieval/internal/core/domain"
)

func mapErrorToHTTPStatus(err error) int {
	switch {
	case domain.IsKind(err, domain.ErrInvalidInput):
		return http.StatusBadRequest
	case domain.IsKind(err, domain.ErrUnauthorized):
		return http.StatusUnauthorized
	case domain.IsKind(err, domain.ErrRateLimited):
		return http.StatusTooManyRequests
	case domain.IsKind(err, domain.ErrOverloaded):
		return http.StatusServiceUnavailable
	case domain.IsKind(err, domain.ErrDegradedNoData):
		return http.StatusServiceUnavailable
	case domain.IsKind(err, domain.ErrNoStrategyResults):
		return http.StatusServiceUnavailable
	case domain.IsKind(err, domain.ErrTemporary):
		return http.StatusServiceUnavailable
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		// 499-style client disconnects have no standard code; the closest is
		// a timeout.
		return http.StatusGatewayTimeout
	default:
		return http.StatusInternalServerError
	}
}

func writeError(w http.ResponseWriter, err error) {
	status := mapErrorToHTTPStatus(err)
	if status == http.StatusTooManyRequests {
		w.Header().Set("Retry-After", "1")
	}
	writeJSON(w, status, map[string]string{"error": publicErrorMessage(status, err)})
}

// publicErrorMessage keeps backend detail out of 5xx bodies; the full error
// still lands in the access log.
func publicErrorMessage(status int, err error) string {
	switch status {
	case http.StatusInternalServerError:
		return "internal error"
	case http.StatusGatewayTimeout:
		return "request timed out"
	default:
		return err.Error()
	}
}
