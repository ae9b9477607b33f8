package api

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/GoCodeAlone/artifacts/artifact"
	"github.com/GoCodeAlone/artifacts/disk"
	"github.com/GoCodeAlone/artifacts/signing"
)

// envelope is a standard JSON response wrapper.
type envelope struct {
	Data  any    `json:"data,omitempty"`
	Error string `json:"error,omitempty"`
}

// listEnvelope wraps a list response with its size.
type listEnvelope struct {
	Data  any `json:"data"`
	Total int `json:"total"`
}

// WriteJSON writes a JSON response with the given status code.
func WriteJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(envelope{Data: data})
}

// WriteError writes a JSON error response.
func WriteError(w http.ResponseWriter, status int, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(envelope{Error: message})
}

// WriteList writes a list response.
func WriteList(w http.ResponseWriter, status int, items any, total int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(listEnvelope{Data: items, Total: total})
}

// writeServiceError maps service errors to HTTP status codes. Unexpected
// errors are logged and reported without detail.
func writeServiceError(w http.ResponseWriter, r *http.Request, logger *slog.Logger, err error) {
	switch {
	case errors.Is(err, artifact.ErrNotFound), errors.Is(err, disk.ErrObjectNotFound):
		WriteError(w, http.StatusNotFound, "artifact not found")
	case errors.Is(err, signing.ErrInvalidSignature), errors.Is(err, signing.ErrExpired):
		WriteError(w, http.StatusForbidden, err.Error())
	case errors.Is(err, artifact.ErrInvalidInput):
		WriteError(w, http.StatusBadRequest, err.Error())
	default:
		logger.ErrorContext(r.Context(), "request failed",
			"method", r.Method, "path", r.URL.Path,
			"request_id", RequestIDFromContext(r.Context()), "error", err)
		WriteError(w, http.StatusInternalServerError, "internal error")
	}
}
