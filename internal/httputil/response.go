package httputil

import (
	"encoding/json"
	"errors"
	"net/http"
	"strings"
)

// maxRequestBody caps decoded JSON request bodies.
const maxRequestBody = 1 << 20

// errorBody is the wire shape of every error response.
type errorBody struct {
	Error errorDetail `json:"error"`
}

type errorDetail struct {
	Code    string                 `json:"code"`
	Message string                 `json:"message"`
	Details map[string]interface{} `json:"details,omitempty"`
}

// WriteJSON writes v as a JSON response with the given status.
func WriteJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if v == nil {
		return
	}
	_ = json.NewEncoder(w).Encode(v)
}

// WriteErrorResponse writes a structured error response.
func WriteErrorResponse(w http.ResponseWriter, r *http.Request, status int, code, message string, details map[string]interface{}) {
	WriteJSON(w, status, errorBody{Error: errorDetail{Code: code, Message: message, Details: details}})
}

// BadRequest writes a 400 response.
func BadRequest(w http.ResponseWriter, message string) {
	writeSimpleError(w, http.StatusBadRequest, "bad_request", message, "invalid request")
}

// Unauthorized writes a 401 response.
func Unauthorized(w http.ResponseWriter, message string) {
	writeSimpleError(w, http.StatusUnauthorized, "unauthorized", message, "authentication required")
}

// Forbidden writes a 403 response.
func Forbidden(w http.ResponseWriter, message string) {
	writeSimpleError(w, http.StatusForbidden, "forbidden", message, "forbidden")
}

// NotFound writes a 404 response.
func NotFound(w http.ResponseWriter, message string) {
	writeSimpleError(w, http.StatusNotFound, "not_found", message, "resource not found")
}

// Conflict writes a 409 response.
func Conflict(w http.ResponseWriter, message string) {
	writeSimpleError(w, http.StatusConflict, "conflict", message, "conflict")
}

// InternalError writes a 500 response.
func InternalError(w http.ResponseWriter, message string) {
	writeSimpleError(w, http.StatusInternalServerError, "internal_error", message, "internal server error")
}

func writeSimpleError(w http.ResponseWriter, status int, code, message, fallback string) {
	if strings.TrimSpace(message) == "" {
		message = fallback
	}
	WriteJSON(w, status, errorBody{Error: errorDetail{Code: code, Message: message}})
}

// DecodeJSON decodes a JSON request body into dst. Unknown fields and bodies
// over 1 MiB are rejected.
func DecodeJSON(r *http.Request, dst interface{}) error {
	if r.Body == nil {
		return errors.New("request body required")
	}
	dec := json.NewDecoder(http.MaxBytesReader(nil, r.Body, maxRequestBody))
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		return err
	}
	// A second document in the body is a client bug.
	if dec.More() {
		return errors.New("request body must contain a single JSON document")
	}
	return nil
}
