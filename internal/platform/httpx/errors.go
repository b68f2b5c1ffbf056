// Package httpx provides HTTP response utilities.
package httpx

import (
	"errors"
	"net/http"

	"github.com/fieldstock/fieldstock/internal/shared"
)

// Sentinel errors for the transport layer.
var (
	ErrForbidden    = errors.New("forbidden")
	ErrUnauthorized = errors.New("unauthorized")
)

// coder is implemented by domain errors that carry a stable machine code.
type coder interface {
	Code() string
}

// RespondError maps domain errors to HTTP responses using RFC7807.
func RespondError(w http.ResponseWriter, err error) {
	code := ""
	var c coder
	if errors.As(err, &c) {
		code = c.Code()
	}
	switch {
	case errors.Is(err, shared.ErrNotFound):
		problem(w, http.StatusNotFound, "Not Found", code, err.Error())
	case errors.Is(err, shared.ErrValidation):
		problem(w, http.StatusBadRequest, "Validation Failed", code, err.Error())
	case errors.Is(err, shared.ErrIdempotencyConflict):
		problem(w, http.StatusConflict, "Duplicate", "duplicate_request", err.Error())
	case errors.Is(err, shared.ErrConflict):
		problem(w, http.StatusConflict, "Conflict", code, err.Error())
	case errors.Is(err, ErrForbidden):
		problem(w, http.StatusForbidden, "Forbidden", "", err.Error())
	case errors.Is(err, ErrUnauthorized):
		problem(w, http.StatusUnauthorized, "Unauthorized", "", err.Error())
	case errors.Is(err, shared.ErrInconsistent):
		problem(w, http.StatusInternalServerError, "Inconsistent State", code, err.Error())
	default:
		problem(w, http.StatusInternalServerError, "Internal Error", "", "")
	}
}
