// Package httputil holds the response helpers shared by HTTP handlers, so
// every endpoint emits the same JSON envelope and error shape.
package httputil

import (
	"encoding/json"
	"net/http"

	"github.com/makerloom/stitchpress/internal/pkg/logger"
)

// ErrorResponse is the error envelope for all API errors.
type ErrorResponse struct {
	Error string `json:"error"`
	Code  string `json:"code,omitempty"`
}

// JSON writes a JSON response with the given status code.
func JSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		logger.Error("encoding JSON response", "error", err.Error())
	}
}

// OK writes a 200 response with the given data.
func OK(w http.ResponseWriter, data interface{}) {
	JSON(w, http.StatusOK, data)
}

// Error writes a JSON error response for client and server errors.
func Error(w http.ResponseWriter, status int, message string) {
	JSON(w, status, ErrorResponse{Error: message})
}

// BadRequest writes a 400 error.
func BadRequest(w http.ResponseWriter, message string) {
	Error(w, http.StatusBadRequest, message)
}

// InternalError writes a 500 error. The real error is logged but never
// leaks to the client.
func InternalError(w http.ResponseWriter, err error) {
	logger.Error("internal server error", "error", err.Error())
	Error(w, http.StatusInternalServerError, "internal server error")
}
