package errors

import (
	"encoding/json"
	"errors"
	"net/http"
)

var httpStatusMap = map[string]int{
	CodeInternal:             http.StatusInternalServerError,
	CodeNotFound:             http.StatusNotFound,
	CodeBadRequest:           http.StatusBadRequest,
	CodeUnauthorized:         http.StatusUnauthorized,
	CodeForbidden:            http.StatusForbidden,
	CodeConflict:             http.StatusConflict,
	CodeValidation:           http.StatusBadRequest,
	CodeUnavailable:          http.StatusServiceUnavailable,
	CodeRateLimited:          http.StatusTooManyRequests,
	CodeGeocodeNotFound:      http.StatusNotFound,
	CodeGeocodeUnavailable:   http.StatusServiceUnavailable,
	CodeClipboardWriteFailed: http.StatusUnprocessableEntity,
}

// ErrorResponse is the standard error response format.
type ErrorResponse struct {
	Error   ErrorBody `json:"error"`
	TraceID string    `json:"trace_id,omitempty"`
}

// ErrorBody contains the error details.
type ErrorBody struct {
	Code    string            `json:"code"`
	Message string            `json:"message"`
	Details map[string]string `json:"details,omitempty"`
}

// HTTPStatus returns the HTTP status code for an error.
func HTTPStatus(err error) int {
	var appErr *AppError
	if errors.As(err, &appErr) {
		if status, exists := httpStatusMap[appErr.Code]; exists {
			return status
		}
	}
	return http.StatusInternalServerError
}

// WriteError writes an error response to the HTTP response writer.
func WriteError(w http.ResponseWriter, err error, traceID string) {
	status := HTTPStatus(err)

	code := CodeInternal
	message := "An internal error occurred"
	var details map[string]string

	var appErr *AppError
	if errors.As(err, &appErr) {
		code = appErr.Code
		message = appErr.Message
		details = appErr.Details
	}

	writeJSON(w, status, ErrorResponse{
		Error: ErrorBody{
			Code:    code,
			Message: message,
			Details: details,
		},
		TraceID: traceID,
	})
}

// WriteErrorWithStatus writes an error response with a specific status code.
func WriteErrorWithStatus(w http.ResponseWriter, status int, code, message string) {
	writeJSON(w, status, ErrorResponse{
		Error: ErrorBody{
			Code:    code,
			Message: message,
		},
	})
}

func writeJSON(w http.ResponseWriter, status int, response ErrorResponse) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(response)
}
