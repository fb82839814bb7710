// Package handlers implements the HTTP handlers for the nimbusfs gateway.
package handlers

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/3leaps/nimbusfs/pkg/s3fs"
	"github.com/3leaps/nimbusfs/pkg/s3path"
)

// HTTPErrorResponse is the JSON envelope for all error responses.
type HTTPErrorResponse struct {
	Error HTTPError `json:"error"`
}

// HTTPError carries a machine-readable code and a human-readable message.
type HTTPError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// WriteError writes a JSON error response with the given status.
func WriteError(w http.ResponseWriter, status int, code, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(HTTPErrorResponse{
		Error: HTTPError{Code: code, Message: message},
	})
}

// WriteFSError maps a filesystem error onto an HTTP status and code.
func WriteFSError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, s3fs.ErrNotFound):
		WriteError(w, http.StatusNotFound, "NOT_FOUND", err.Error())
	case errors.Is(err, s3fs.ErrAlreadyExists):
		WriteError(w, http.StatusConflict, "ALREADY_EXISTS", err.Error())
	case errors.Is(err, s3fs.ErrNotAFile):
		WriteError(w, http.StatusConflict, "NOT_A_FILE", err.Error())
	case errors.Is(err, s3fs.ErrInvalidState), errors.Is(err, s3path.ErrInvalidPath):
		WriteError(w, http.StatusBadRequest, "INVALID_REQUEST", err.Error())
	case errors.Is(err, s3fs.ErrNotImplemented):
		WriteError(w, http.StatusNotImplemented, "NOT_IMPLEMENTED", err.Error())
	case errors.Is(err, s3fs.ErrFinalized):
		WriteError(w, http.StatusServiceUnavailable, "SHUTTING_DOWN", err.Error())
	default:
		WriteError(w, http.StatusBadGateway, "UPSTREAM_ERROR", err.Error())
	}
}

// NotFound is the router fallback for unknown routes.
func NotFound(w http.ResponseWriter, _ *http.Request) {
	WriteError(w, http.StatusNotFound, "NOT_FOUND", "route not found")
}

// MethodNotAllowed is the router fallback for unsupported methods.
func MethodNotAllowed(w http.ResponseWriter, _ *http.Request) {
	WriteError(w, http.StatusMethodNotAllowed, "METHOD_NOT_ALLOWED", "method not allowed")
}
