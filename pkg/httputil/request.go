package httputil

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strings"

	"github.com/gorilla/mux"

	"github.com/platinummonkey/entitle/pkg/entitlement"
)

// DecodeJSON reads a JSON request body into dest. Unknown fields are
// rejected; an empty body leaves dest at its zero value. Failures come back
// as invalid_input errors.
func DecodeJSON(r *http.Request, dest interface{}) error {
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()

	err := dec.Decode(dest)
	var tooLarge *http.MaxBytesError
	switch {
	case err == nil, errors.Is(err, io.EOF):
		return nil
	case errors.As(err, &tooLarge):
		return entitlement.InvalidInput("request body too large")
	default:
		return entitlement.InvalidInput("invalid JSON: " + err.Error())
	}
}

// DecodeJSONOrError is DecodeJSON that answers the request itself on failure.
func DecodeJSONOrError(w http.ResponseWriter, r *http.Request, dest interface{}) bool {
	if err := DecodeJSON(r, dest); err != nil {
		WriteError(w, r, err)
		return false
	}
	return true
}

// PathParam returns a route variable, trimmed.
func PathParam(r *http.Request, key string) (string, error) {
	val := strings.TrimSpace(mux.Vars(r)[key])
	if val == "" {
		return "", entitlement.InvalidInput("missing path parameter: " + key)
	}
	return val, nil
}

// PathParamOrError is PathParam that answers the request itself on failure.
func PathParamOrError(w http.ResponseWriter, r *http.Request, key string) (string, bool) {
	val, err := PathParam(r, key)
	if err != nil {
		WriteError(w, r, err)
		return "", false
	}
	return val, true
}

// RequireNonEmpty answers 400 when a required body field is blank.
func RequireNonEmpty(w http.ResponseWriter, value, fieldName string) bool {
	if strings.TrimSpace(value) == "" {
		WriteBadRequest(w, fieldName+" is required")
		return false
	}
	return true
}
