package handlers

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"strings"

	"crispy/models"
)

// statusFor maps a domain error to an HTTP status. Lookups made while creating a thread or
// post report a missing board or thread as a bad request rather than a missing resource.
func statusFor(err error, creating bool) int {
	switch {
	case errors.Is(err, models.ErrValidation),
		errors.Is(err, models.ErrInvalidPrefix),
		errors.Is(err, models.ErrPrefixNotSet):
		return http.StatusBadRequest
	case errors.Is(err, models.ErrNotFound):
		if creating {
			return http.StatusBadRequest
		}
		return http.StatusNotFound
	case errors.Is(err, models.ErrDuplicateName):
		return http.StatusConflict
	case errors.Is(err, models.ErrPartitionExhausted):
		return http.StatusInsufficientStorage
	case models.IsRetryable(err), errors.Is(err, context.DeadlineExceeded):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

func clientMessage(err error, fallback string) string {
	switch {
	case errors.Is(err, models.ErrValidation):
		return strings.TrimPrefix(err.Error(), models.ErrValidation.Error()+": ")
	case errors.Is(err, models.ErrBoardNotFound):
		return "Board not found"
	case errors.Is(err, models.ErrThreadNotFound):
		return "Thread not found"
	case errors.Is(err, models.ErrPostNotFound):
		return "Post not found"
	case errors.Is(err, models.ErrPrefixNotSet):
		return "Board prefix not set"
	case errors.Is(err, models.ErrInvalidPrefix), errors.Is(err, models.ErrDuplicateName):
		return err.Error()
	case errors.Is(err, models.ErrPartitionExhausted):
		return "Board has run out of identifiers"
	case models.IsRetryable(err), errors.Is(err, context.DeadlineExceeded):
		return "Server busy, please retry"
	default:
		return fallback
	}
}

// respondError writes {"error": ...} for err. Only unexpected failures are logged at error level.
func respondError(w http.ResponseWriter, err error, fallback string, creating bool, logger *slog.Logger, app App) {
	status := statusFor(err, creating)
	switch {
	case status >= http.StatusInternalServerError && status != http.StatusServiceUnavailable:
		logger.Error(fallback, "error", err)
	case status == http.StatusServiceUnavailable:
		logger.Warn("Transient failure", "error", err)
		w.Header().Set("Retry-After", "1")
	default:
		logger.Debug("Request rejected", "status", status, "error", err)
	}
	respondJSON(w, status, map[string]string{"error": clientMessage(err, fallback)}, app)
}
