// Package errors maps domain errors onto the service's JSON error envelope.
package errors

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/johandahlberg/arteria-delivery/pkg/delivery"
	"github.com/johandahlberg/arteria-delivery/pkg/mover"
	"github.com/johandahlberg/arteria-delivery/pkg/runfolders"
	"github.com/johandahlberg/arteria-delivery/pkg/staging"
)

// HTTPErrorResponse is the envelope for every error body the API returns.
type HTTPErrorResponse struct {
	Error HTTPError `json:"error"`
}

// HTTPError carries a stable machine-readable code plus a human message.
type HTTPError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

const (
	CodeNotFound         = "NOT_FOUND"
	CodeMethodNotAllowed = "METHOD_NOT_ALLOWED"
	CodeInvalidState     = "INVALID_STATE"
	CodeInvalidArgument  = "INVALID_ARGUMENT"
	CodeAlreadyDelivered = "ALREADY_DELIVERED"
	CodeInternal         = "INTERNAL_ERROR"
)

// Classify resolves a domain error to an HTTP status and stable error code.
//
// Conflicts (already delivered) are deliberately distinct from not-found so a
// client can tell "retry with force_delivery" apart from "wrong name".
func Classify(err error) (int, string) {
	switch {
	case errors.Is(err, runfolders.ErrRunfolderNotFound),
		errors.Is(err, runfolders.ErrProjectNotFound),
		errors.Is(err, staging.ErrOrderNotFound),
		errors.Is(err, mover.ErrOrderNotFound):
		return http.StatusNotFound, CodeNotFound
	case errors.Is(err, delivery.ErrProjectAlreadyDelivered):
		return http.StatusConflict, CodeAlreadyDelivered
	case errors.Is(err, staging.ErrInvalidState),
		errors.Is(err, mover.ErrInvalidState):
		return http.StatusBadRequest, CodeInvalidState
	case errors.Is(err, staging.ErrUnrecognizedSourceType),
		errors.Is(err, runfolders.ErrTooManyProjectsFound),
		errors.Is(err, delivery.ErrUnknownDeliveryMode):
		return http.StatusBadRequest, CodeInvalidArgument
	default:
		return http.StatusInternalServerError, CodeInternal
	}
}

// RespondWithError writes err as a JSON error envelope.
func RespondWithError(w http.ResponseWriter, r *http.Request, err error) {
	status, code := Classify(err)
	WriteError(w, status, code, err.Error())
}

// WriteError writes an explicit error envelope.
func WriteError(w http.ResponseWriter, status int, code, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(HTTPErrorResponse{
		Error: HTTPError{Code: code, Message: message},
	})
}

// NotFoundHandler is installed as the router's fallback route.
func NotFoundHandler(w http.ResponseWriter, r *http.Request) {
	WriteError(w, http.StatusNotFound, CodeNotFound, "no route for "+r.URL.Path)
}

// MethodNotAllowedHandler is installed as the router's 405 handler.
func MethodNotAllowedHandler(w http.ResponseWriter, r *http.Request) {
	WriteError(w, http.StatusMethodNotAllowed, CodeMethodNotAllowed, r.Method+" is not allowed on "+r.URL.Path)
}
