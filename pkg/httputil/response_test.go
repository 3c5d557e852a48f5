package httputil

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/platinummonkey/entitle/pkg/entitlement"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWriteJSON(t *testing.T) {
	w := httptest.NewRecorder()

	err := WriteJSON(w, http.StatusOK, map[string]string{"message": "success"})

	assert.NoError(t, err)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "application/json", w.Header().Get("Content-Type"))
	assert.Contains(t, w.Body.String(), "success")
}

func decodeError(t *testing.T, w *httptest.ResponseRecorder) ErrorResponse {
	t.Helper()
	var resp ErrorResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	return resp
}

func TestWriteError(t *testing.T) {
	tests := []struct {
		name    string
		err     error
		status  int
		kind    string
		message string
	}{
		{"unauthenticated", entitlement.Unauthenticated("sign in"), http.StatusUnauthorized, "unauthenticated", "sign in"},
		{"unauthorized", entitlement.Unauthorized("Only organization owners can manage billing"), http.StatusForbidden, "unauthorized", "Only organization owners can manage billing"},
		{"not found", entitlement.NotFound("organization not found"), http.StatusNotFound, "not_found", "organization not found"},
		{"invalid input", entitlement.InvalidInput("Please provide a valid email address"), http.StatusBadRequest, "invalid_input", "Please provide a valid email address"},
		{"no admin", entitlement.NoAdminAvailable(), http.StatusConflict, "no_admin_available", entitlement.NoAdminAvailable().Message},
		{"provider", entitlement.ProviderError(errors.New("stripe 503")), http.StatusBadGateway, "provider_error", entitlement.ProviderError(nil).Message},
		{"wrapped", fmt.Errorf("invite: %w", entitlement.NotFound("member not found")), http.StatusNotFound, "not_found", "member not found"},
		{"internal", errors.New("connection refused"), http.StatusInternalServerError, "internal", "internal server error"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := httptest.NewRecorder()
			r := httptest.NewRequest(http.MethodGet, "/api/v1/organizations", nil)

			WriteError(w, r, tt.err)

			assert.Equal(t, tt.status, w.Code)
			resp := decodeError(t, w)
			assert.Equal(t, tt.kind, resp.Error)
			assert.Equal(t, tt.message, resp.Message)
			assert.Nil(t, resp.Details)
		})
	}
}

func TestWriteErrorSeatLimitDetails(t *testing.T) {
	w := httptest.NewRecorder()
	r := httptest.NewRequest(http.MethodPost, "/api/v1/organizations/org_acme/invitations", nil)

	WriteError(w, r, entitlement.SeatLimit(5, 5))

	assert.Equal(t, http.StatusConflict, w.Code)
	resp := decodeError(t, w)
	assert.Equal(t, "seat_limit_reached", resp.Error)
	assert.Equal(t, "Your Team plan supports up to 5 members. Upgrade to add more seats.", resp.Message)
	assert.Equal(t, float64(5), resp.Details["current"])
	assert.Equal(t, float64(5), resp.Details["limit"])
}

func TestWriteErrorDoesNotLeakInternals(t *testing.T) {
	w := httptest.NewRecorder()
	r := httptest.NewRequest(http.MethodGet, "/", nil)

	WriteError(w, r, errors.New("pq: password authentication failed for user entitle"))

	assert.NotContains(t, w.Body.String(), "password")
}

func TestWriteNoContent(t *testing.T) {
	w := httptest.NewRecorder()
	WriteNoContent(w)
	assert.Equal(t, http.StatusNoContent, w.Code)
	assert.Empty(t, w.Body.String())
}
