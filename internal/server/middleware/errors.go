package middleware

import (
	"encoding/json"
	"fmt"
	"net/http"
)

// ErrorResponse is the JSON body written when a request dies inside the
// middleware chain, before a handler could shape its own error.
type ErrorResponse struct {
	Error ErrorDetail `json:"error"`
}

type ErrorDetail struct {
	Code      string                 `json:"code"`
	Message   string                 `json:"message"`
	RequestID string                 `json:"request_id,omitempty"`
	Details   map[string]interface{} `json:"details,omitempty"`
}

// Recovery converts handler panics into a 500 JSON response instead of
// tearing down the connection.
func Recovery(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			if rec := recover(); rec != nil {
				writeErrorResponse(w, "INTERNAL_ERROR",
					fmt.Sprintf("panic: %v", rec),
					RequestIDFromContext(r.Context()),
					http.StatusInternalServerError)
			}
		}()
		next.ServeHTTP(w, r)
	})
}

func writeErrorResponse(w http.ResponseWriter, code, message, requestID string, status int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(ErrorResponse{
		Error: ErrorDetail{Code: code, Message: message, RequestID: requestID},
	})
}
