package handlers

import (
	"errors"
	"net/http"

	"github.com/danielgtaylor/huma/v2"

	"github.com/jmylchreest/vodarr/internal/models"
)

// mapServiceError translates the model error taxonomy into HTTP status
// errors. Anything outside the taxonomy is a 500.
func mapServiceError(err error, msg string) error {
	switch {
	case errors.Is(err, models.ErrInvalidRegistrationToken):
		return huma.Error403Forbidden("invalid registration token")
	case errors.Is(err, models.ErrForbidden):
		return huma.Error403Forbidden("token mismatch or job not owned by runner")
	case errors.Is(err, models.ErrNotFound):
		return huma.Error404NotFound(msg)
	case errors.Is(err, models.ErrConflict):
		return huma.Error409Conflict(msg, err)
	case errors.Is(err, models.ErrQuotaExceeded):
		return huma.NewError(http.StatusRequestEntityTooLarge, msg, err)
	case errors.Is(err, models.ErrInvalidPayload),
		errors.Is(err, models.ErrUnknownJobType),
		errors.Is(err, models.ErrParentJobCycle),
		errors.Is(err, models.ErrRunnerNameRequired):
		return huma.Error400BadRequest(msg, err)
	default:
		return huma.Error500InternalServerError(msg, err)
	}
}
