package handlers

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"

	"go.uber.org/zap"

	"github.com/substratehq/substrate/access"
	"github.com/substratehq/substrate/sessions"
	"github.com/substratehq/substrate/storage"
	"github.com/substratehq/substrate/users"
)

// ErrorResponse represents a standardized error response
type ErrorResponse struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// customError is a simple error type for custom error messages
type customError struct {
	message string
}

func (e *customError) Error() string {
	return e.message
}

// SendErrorResponse sends a standardized JSON error response
func SendErrorResponse(w http.ResponseWriter, logger *zap.Logger, err error, defaultStatusCode int) {
	w.Header().Set("Content-Type", "application/json")

	var statusCode int
	var errorCode string

	// Map domain errors to HTTP status codes and error codes
	switch {
	case errors.Is(err, storage.ErrNotFound):
		statusCode = http.StatusNotFound
		errorCode = "NOT_FOUND"
	case errors.Is(err, sessions.ErrSessionNotFound):
		statusCode = http.StatusNotFound
		errorCode = "SESSION_NOT_FOUND"
	case errors.Is(err, storage.ErrInvalidArgument):
		statusCode = http.StatusBadRequest
		errorCode = "INVALID_ARGUMENT"
	case errors.Is(err, storage.ErrReadOnly):
		statusCode = http.StatusConflict
		errorCode = "READ_ONLY"
	case errors.Is(err, users.ErrAuthenticationFailed):
		statusCode = http.StatusUnauthorized
		errorCode = "AUTHENTICATION_FAILED"
	case errors.Is(err, access.ErrAccessDenied):
		statusCode = http.StatusForbidden
		errorCode = "PERMISSION_DENIED"
	default:
		statusCode = defaultStatusCode
		errorCode = "INTERNAL_ERROR"
	}

	w.WriteHeader(statusCode)

	response := ErrorResponse{
		Code:    errorCode,
		Message: err.Error(),
	}

	if err := json.NewEncoder(w).Encode(response); err != nil {
		logger.Error("Failed to encode error response", zap.Error(err))
		fmt.Fprintf(w, "Internal error occurred")
	}

	logger.Debug("Error response sent",
		zap.String("error_code", errorCode),
		zap.Int("status_code", statusCode),
		zap.Error(err))
}

// SendJSONResponse sends a JSON response with any data structure
func SendJSONResponse(w http.ResponseWriter, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(data); err != nil {
		w.WriteHeader(http.StatusInternalServerError)
		fmt.Fprintf(w, `{"error":"Failed to encode response"}`)
	}
}
