package statusapi

import (
	"encoding/json"
	"net/http"
	"time"
)

// ErrorCode is a stable, machine-readable API error category.
type ErrorCode string

const (
	CodeNotFound     ErrorCode = "NOT_FOUND"
	CodeInternal     ErrorCode = "INTERNAL_ERROR"
	CodeBadRequest   ErrorCode = "BAD_REQUEST"
)

// apiError is the JSON body returned for any non-2xx response.
type apiError struct {
	Code      ErrorCode `json:"code"`
	Message   string    `json:"message"`
	RequestID string    `json:"request_id,omitempty"`
	Timestamp string    `json:"timestamp"`
}

func newAPIError(code ErrorCode, message string) *apiError {
	return &apiError{Code: code, Message: message, Timestamp: time.Now().UTC().Format(time.RFC3339)}
}

func (e *apiError) statusCode() int {
	switch e.Code {
	case CodeNotFound:
		return http.StatusNotFound
	case CodeBadRequest:
		return http.StatusBadRequest
	default:
		return http.StatusInternalServerError
	}
}

func writeError(w http.ResponseWriter, r *http.Request, err *apiError) {
	err.RequestID = getRequestID(r.Context())
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(err.statusCode())
	json.NewEncoder(w).Encode(struct {
		Error *apiError `json:"error"`
	}{Error: err})
}

func writeJSON(w http.ResponseWriter, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	json.NewEncoder(w).Encode(v)
}
