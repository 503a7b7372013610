package handlers

import (
	"encoding/json"
	"net/http"

	apperrors "github.com/johandahlberg/arteria-delivery/internal/errors"
)

// httpErrorResponder is swappable so tests can observe how handlers fail
// without decoding the full envelope.
var httpErrorResponder = defaultErrorResponder

func defaultErrorResponder(w http.ResponseWriter, r *http.Request, err error) {
	apperrors.RespondWithError(w, r, err)
}

// SetHTTPErrorResponder replaces the error responder; nil restores the
// default.
func SetHTTPErrorResponder(responder func(http.ResponseWriter, *http.Request, error)) {
	if responder == nil {
		httpErrorResponder = defaultErrorResponder
		return
	}
	httpErrorResponder = responder
}

// ResetHTTPErrorResponder restores the default responder.
func ResetHTTPErrorResponder() {
	httpErrorResponder = defaultErrorResponder
}

func respondWithError(w http.ResponseWriter, r *http.Request, err error) {
	httpErrorResponder(w, r, err)
}

func writeJSON(w http.ResponseWriter, status int, body interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}
