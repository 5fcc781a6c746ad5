package httpx

import (
	"context"
	"errors"
	"net/http"

	"encoding/json"

	"github.com/LaboInfra/fob-api/internal/cloud"
	"github.com/LaboInfra/fob-api/internal/repository"
	"github.com/LaboInfra/fob-api/internal/service/guard"
	syncsvc "github.com/LaboInfra/fob-api/internal/service/sync"
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

// writeServiceError translates service layer errors into HTTP statuses.
// Anything unrecognized is treated as a validation failure, which is what
// the service validation sentinels amount to.
func writeServiceError(w http.ResponseWriter, err error) {
	writeError(w, statusForError(err), err.Error())
}

func statusForError(err error) int {
	var rejected *syncsvc.RejectedError
	var precondition *guard.PreconditionError
	var unavailable *cloud.UnavailableError
	switch {
	case errors.Is(err, guard.ErrDenied):
		return http.StatusForbidden
	case errors.Is(err, repository.ErrNotFound), errors.Is(err, cloud.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, repository.ErrInsufficientQuota):
		return http.StatusConflict
	case errors.As(err, &rejected), errors.As(err, &precondition):
		return http.StatusConflict
	case errors.As(err, &unavailable),
		errors.Is(err, syncsvc.ErrExternalProjectMissing),
		errors.Is(err, context.DeadlineExceeded):
		return http.StatusBadGateway
	default:
		return http.StatusBadRequest
	}
}
