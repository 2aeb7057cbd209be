package httpx

import (
	"errors"
	"net/http"
)

// Sentinel errors for the domain layer. Services wrap these with context;
// handlers hand the wrapped error to RespondError for status mapping.
var (
	// ErrUnauthenticated indicates a missing or invalid primary session.
	ErrUnauthenticated = errors.New("unauthenticated")
	// ErrUnauthorized indicates a missing, invalid, or expired admin
	// escalation where one is required. Also returned for failed
	// escalation attempts regardless of cause.
	ErrUnauthorized = errors.New("unauthorized")
	// ErrForbidden indicates an authenticated subject lacking the required
	// membership, role, or access right.
	ErrForbidden = errors.New("forbidden")
	// ErrNotFound indicates the target resource does not exist or is inactive.
	ErrNotFound = errors.New("resource not found")
	// ErrDuplicate indicates a uniqueness violation.
	ErrDuplicate = errors.New("duplicate entry")
	// ErrValidation indicates malformed input.
	ErrValidation = errors.New("validation failed")
)

// RespondError maps domain errors to HTTP responses using RFC7807.
// Both authentication failures map to 401; they differ only in detail text
// so clients can distinguish "log in" from "re-escalate".
func RespondError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, ErrUnauthenticated):
		Problem(w, http.StatusUnauthorized, "Unauthenticated", err.Error())
	case errors.Is(err, ErrUnauthorized):
		Problem(w, http.StatusUnauthorized, "Unauthorized", err.Error())
	case errors.Is(err, ErrForbidden):
		Problem(w, http.StatusForbidden, "Forbidden", err.Error())
	case errors.Is(err, ErrNotFound):
		Problem(w, http.StatusNotFound, "Not Found", err.Error())
	case errors.Is(err, ErrDuplicate):
		Problem(w, http.StatusConflict, "Duplicate", err.Error())
	case errors.Is(err, ErrValidation):
		Problem(w, http.StatusBadRequest, "Validation Failed", err.Error())
	default:
		Problem(w, http.StatusInternalServerError, "Internal Error", "")
	}
}
