package httpx

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/splax/slipway/internal/repository"
	"github.com/splax/slipway/internal/repository/postgres"
	"github.com/splax/slipway/internal/service/deployment"
)

// writeJSON writes JSON response with status code.
func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

// writeError sends an error message.
func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

// isKnownServiceError reports whether err carries one of the sentinel
// errors with a dedicated HTTP status.
func isKnownServiceError(err error) bool {
	return errors.Is(err, repository.ErrNotFound) ||
		errors.Is(err, repository.ErrConflict) ||
		errors.Is(err, deployment.ErrInvalidTransition) ||
		errors.Is(err, deployment.ErrEnvironmentMismatch) ||
		errors.Is(err, postgres.ErrDuplicate)
}

// writeServiceError maps service sentinels onto HTTP statuses. Unrecognized
// errors become a 500 without leaking internals.
func writeServiceError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, repository.ErrNotFound):
		writeError(w, http.StatusNotFound, "resource not found")
	case errors.Is(err, deployment.ErrEnvironmentMismatch):
		writeError(w, http.StatusNotFound, "environment not found in project")
	case errors.Is(err, repository.ErrConflict), errors.Is(err, deployment.ErrInvalidTransition):
		writeError(w, http.StatusConflict, err.Error())
	case errors.Is(err, postgres.ErrDuplicate):
		writeError(w, http.StatusConflict, err.Error())
	default:
		writeError(w, http.StatusInternalServerError, "internal error")
	}
}
