package api

import (
	"encoding/json"
	"errors"
	"net/http"

	"go.uber.org/zap"

	"github.com/hackgods/consultation-queue/internal/consultation"
)

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, code, details string) {
	writeJSON(w, status, ErrorResponse{Error: code, Details: details})
}

// statusFor maps a coordinator error kind to an HTTP status.
func statusFor(err error) int {
	switch consultation.KindOf(err) {
	case consultation.KindNotFound:
		return http.StatusNotFound
	case consultation.KindInvalidTransition:
		return http.StatusConflict
	case consultation.KindPreconditionFailed:
		if errors.Is(err, consultation.ErrAlreadyQueued) || errors.Is(err, consultation.ErrCallAlreadyActive) {
			return http.StatusConflict
		}
		return http.StatusBadRequest
	case consultation.KindUnauthorized:
		return http.StatusForbidden
	case consultation.KindUnavailable:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

// handleCoordinatorError writes the error verbatim for coordinator rejections
// and a generic body for infrastructure failures.
func handleCoordinatorError(w http.ResponseWriter, r *http.Request, logger *zap.Logger, err error) {
	status := statusFor(err)
	if status == http.StatusInternalServerError {
		logger.Error("request failed",
			zap.String("path", r.URL.Path),
			zap.String("request_id", GetRequestID(r.Context())),
			zap.Error(err),
		)
		writeError(w, status, "internal_error", "internal server error")
		return
	}
	if status == http.StatusServiceUnavailable {
		w.Header().Set("Retry-After", "1")
	}
	writeError(w, status, consultation.CodeOf(err), err.Error())
}
