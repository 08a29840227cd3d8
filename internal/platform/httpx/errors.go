package httpx

import (
	"errors"
	"net/http"
	"strings"

	"github.com/go-playground/validator/v10"

	"github.com/fleetdesk/fleetdesk/internal/platform/db"
	"github.com/fleetdesk/fleetdesk/internal/shared"
)

// ErrBadRequest marks malformed requests (bad JSON, bad path parameters).
var ErrBadRequest = errors.New("bad request")

// Stable error codes returned in problem responses.
const (
	CodeNotFound          = "not_found"
	CodeInvalidTransition = "invalid_transition"
	CodeValidation        = "validation"
	CodeConflict          = "conflict"
	CodeBadRequest        = "bad_request"
	CodeInternal          = "internal"
)

// RespondError maps domain errors to HTTP responses using RFC7807.
func RespondError(w http.ResponseWriter, err error) {
	var fieldErrs validator.ValidationErrors
	switch {
	case errors.As(err, &fieldErrs):
		ValidationProblem(w, fieldErrs)
	case errors.Is(err, shared.ErrNotFound):
		Problem(w, http.StatusNotFound, CodeNotFound, "Not Found", err.Error())
	case errors.Is(err, shared.ErrInvalidTransition):
		Problem(w, http.StatusConflict, CodeInvalidTransition, "Invalid Transition", err.Error())
	case errors.Is(err, shared.ErrValidation):
		Problem(w, http.StatusUnprocessableEntity, CodeValidation, "Validation Failed", err.Error())
	case errors.Is(err, shared.ErrConflict), errors.Is(err, shared.ErrIdempotencyConflict):
		Problem(w, http.StatusConflict, CodeConflict, "Conflict", err.Error())
	case db.IsSerializationFailure(err):
		Problem(w, http.StatusConflict, CodeConflict, "Conflict", "concurrent update, retry the request")
	case errors.Is(err, ErrBadRequest):
		Problem(w, http.StatusBadRequest, CodeBadRequest, "Bad Request", err.Error())
	default:
		Problem(w, http.StatusInternalServerError, CodeInternal, "Internal Error", "")
	}
}

// IsClientError reports whether err maps to a 4xx response.
func IsClientError(err error) bool {
	var fieldErrs validator.ValidationErrors
	return errors.As(err, &fieldErrs) ||
		errors.Is(err, shared.ErrNotFound) ||
		errors.Is(err, shared.ErrInvalidTransition) ||
		errors.Is(err, shared.ErrValidation) ||
		errors.Is(err, shared.ErrConflict) ||
		errors.Is(err, shared.ErrIdempotencyConflict) ||
		db.IsSerializationFailure(err) ||
		errors.Is(err, ErrBadRequest)
}

// ValidationProblem reports struct tag failures field by field.
func ValidationProblem(w http.ResponseWriter, fieldErrs validator.ValidationErrors) {
	fields := make(map[string]string, len(fieldErrs))
	names := make([]string, 0, len(fieldErrs))
	for _, fe := range fieldErrs {
		fields[fe.Field()] = fe.Tag()
		names = append(names, fe.Field())
	}
	JSON(w, http.StatusUnprocessableEntity, ProblemDetail{
		Type:   "about:blank",
		Title:  "Validation Failed",
		Status: http.StatusUnprocessableEntity,
		Detail: "invalid fields: " + strings.Join(names, ", "),
		Code:   CodeValidation,
		Fields: fields,
	})
}
