package handler

// RESPONSE HELPERS:
// Every handler answers through writeJSON / writeError, so all endpoints
// share one content type and one error shape:
//
//	{"error": "validation_error", "message": "unsupported language \"cobol\"", "field": "language"}
//
// Clients switch on "error" (machine-readable) and show "message".

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"

	"github.com/sakif/autofix-playground/internal/apperror"
)

// ErrorResponse is the body of every non-2xx response.
type ErrorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message"`
	Field   string `json:"field,omitempty"`
}

// writeJSON sets the content type, then the status, then encodes data.
// Headers set after the first body write are silently dropped, hence the order.
func writeJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if data != nil {
		if err := json.NewEncoder(w).Encode(data); err != nil {
			// status is already on the wire; all we can do is log
			slog.Error("failed to encode JSON response", slog.String("error", err.Error()))
		}
	}
}

// errorKinds maps domain sentinels to HTTP. Order matters: the first
// sentinel found in the chain wins.
var errorKinds = []struct {
	sentinel error
	status   int
	kind     string
}{
	{apperror.ErrValidation, http.StatusBadRequest, "validation_error"},
	{apperror.ErrNotFound, http.StatusNotFound, "not_found"},
	{apperror.ErrUnauthorized, http.StatusUnauthorized, "unauthorized"},
	{apperror.ErrForbidden, http.StatusForbidden, "forbidden"},
	{apperror.ErrConflict, http.StatusConflict, "conflict"},
	{apperror.ErrNetwork, http.StatusBadGateway, "upstream_error"},
	{apperror.ErrFixGeneration, http.StatusBadGateway, "fix_generation_failed"},
}

// writeError translates a service error into a status code and ErrorResponse.
//
// The service layer knows nothing about HTTP; it returns apperror sentinels
// wrapped as deep as it likes, and errors.Is walks the chain:
//
//	fmt.Errorf("creating workspace: %w", apperror.ValidationFailed(...))
//	  → *AppError{Err: ErrValidation} → ErrValidation ✓
//
// Errors that are not an *AppError become a generic 500 so internal
// details (SQL, file paths) never reach the client.
func writeError(w http.ResponseWriter, err error) {
	var appErr *apperror.AppError
	if !errors.As(err, &appErr) {
		writeJSON(w, http.StatusInternalServerError, ErrorResponse{
			Error:   "internal_error",
			Message: "An internal error occurred",
		})
		return
	}

	status, kind := http.StatusInternalServerError, "internal_error"
	for _, k := range errorKinds {
		if errors.Is(err, k.sentinel) {
			status, kind = k.status, k.kind
			break
		}
	}

	writeJSON(w, status, ErrorResponse{
		Error:   kind,
		Message: appErr.Message,
		Field:   appErr.Field,
	})
}

// maxBodyBytes bounds every JSON request body. It leaves room for
// service.MaxCodeLength of code plus JSON escaping.
const maxBodyBytes = 1 << 20

// decodeJSON reads a single JSON object from the request body into dst.
// Unknown fields are rejected so typos in field names surface as 400s.
func decodeJSON(w http.ResponseWriter, r *http.Request, dst interface{}) error {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		if errors.Is(err, io.EOF) {
			return apperror.ValidationFailed("body", "request body is required")
		}
		return apperror.ValidationFailed("body", fmt.Sprintf("invalid JSON body: %v", err))
	}
	return nil
}
