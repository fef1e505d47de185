package httpx

import (
	"errors"
	"net/http"

	"github.com/ledgerkeep/ledgerkeep/internal/shared"
)

// RespondError maps domain errors to HTTP responses using RFC7807.
//
// Every shared.ErrForbidden failure produces the same problem body no
// matter which internal check rejected the request, so callers cannot
// probe membership or billing state through error shapes.
func RespondError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, shared.ErrNotFound):
		Problem(w, http.StatusNotFound, "Not Found", "resource not found")
	case errors.Is(err, shared.ErrDuplicate):
		Problem(w, http.StatusConflict, "Duplicate", err.Error())
	case errors.Is(err, shared.ErrLastOwner):
		Problem(w, http.StatusBadRequest, "Invalid Operation", "cannot remove the last owner")
	case errors.Is(err, shared.ErrValidation):
		Problem(w, http.StatusBadRequest, "Validation Failed", err.Error())
	case errors.Is(err, shared.ErrForbidden):
		Problem(w, http.StatusForbidden, "Forbidden", "forbidden")
	case errors.Is(err, shared.ErrUnauthorized):
		Problem(w, http.StatusUnauthorized, "Unauthorized", "authentication required")
	default:
		Problem(w, http.StatusInternalServerError, "Internal Error", "")
	}
}
