// Package httputil provides JSON request and response helpers for the entitlement API.
package httputil

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/platinummonkey/entitle/pkg/entitlement"
	"github.com/platinummonkey/entitle/pkg/observability"
)

// WriteJSON writes a JSON response with the given status code
func WriteJSON(w http.ResponseWriter, status int, data interface{}) error {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	return json.NewEncoder(w).Encode(data)
}

// WriteSuccess writes a successful response (200 OK) with JSON data
func WriteSuccess(w http.ResponseWriter, data interface{}) error {
	return WriteJSON(w, http.StatusOK, data)
}

// WriteCreated writes a successful creation response (201 Created) with JSON data
func WriteCreated(w http.ResponseWriter, data interface{}) error {
	return WriteJSON(w, http.StatusCreated, data)
}

// WriteNoContent writes a successful response with no content (204 No Content)
func WriteNoContent(w http.ResponseWriter) {
	w.WriteHeader(http.StatusNoContent)
}

// ErrorResponse is the body of every error answer.
// Error carries the machine-readable kind, Message the human one.
type ErrorResponse struct {
	Error   string                 `json:"error"`
	Message string                 `json:"message,omitempty"`
	Details map[string]interface{} `json:"details,omitempty"`
}

// WriteErrorMessage writes an error response with an explicit kind
func WriteErrorMessage(w http.ResponseWriter, status int, kind entitlement.Kind, message string) {
	_ = WriteJSON(w, status, ErrorResponse{Error: string(kind), Message: message})
}

// WriteBadRequest writes an invalid input error (400)
func WriteBadRequest(w http.ResponseWriter, message string) {
	WriteErrorMessage(w, http.StatusBadRequest, entitlement.KindInvalidInput, message)
}

// WriteUnauthenticated writes a missing session error (401)
func WriteUnauthenticated(w http.ResponseWriter, message string) {
	WriteErrorMessage(w, http.StatusUnauthorized, entitlement.KindUnauthenticated, message)
}

// StatusFor maps an error kind to its HTTP status
func StatusFor(kind entitlement.Kind) int {
	switch kind {
	case entitlement.KindUnauthenticated:
		return http.StatusUnauthorized
	case entitlement.KindUnauthorized:
		return http.StatusForbidden
	case entitlement.KindNotFound:
		return http.StatusNotFound
	case entitlement.KindInvalidInput:
		return http.StatusBadRequest
	case entitlement.KindSeatLimitReached, entitlement.KindNoAdminAvailable:
		return http.StatusConflict
	case entitlement.KindProviderError:
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

// WriteError writes err as a structured error response. Errors outside the
// entitlement taxonomy are logged and answered with a generic 500.
func WriteError(w http.ResponseWriter, r *http.Request, err error) {
	var e *entitlement.Error
	kind := entitlement.KindOf(err)
	status := StatusFor(kind)

	if status >= http.StatusInternalServerError {
		observability.FromContext(r.Context()).WithError(err).
			WithField("path", r.URL.Path).
			Error("Request failed")
	}

	resp := ErrorResponse{Error: string(kind)}
	switch {
	case kind == entitlement.KindInternal:
		resp.Message = "internal server error"
	case errors.As(err, &e):
		resp.Message = e.Message
		if kind == entitlement.KindSeatLimitReached {
			resp.Details = map[string]interface{}{
				"current": e.Current,
				"limit":   e.Limit,
			}
		}
	}

	_ = WriteJSON(w, status, resp)
}
