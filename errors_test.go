package oauth

import (
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewOAuthError(t *testing.T) {
	err := NewOAuthError(ErrorCodeInvalidScope, "Unknown scope", http.StatusBadRequest)

	assert.Equal(t, "invalid_scope", err.Code)
	assert.Equal(t, "Unknown scope", err.Description)
	assert.Equal(t, http.StatusBadRequest, err.Status)
	assert.Equal(t, "invalid_scope: Unknown scope", err.Error())
}

func TestCommonErrors(t *testing.T) {
	tests := []struct {
		name   string
		err    *OAuthError
		code   string
		status int
	}{
		{name: "invalid request", err: ErrInvalidRequest("x"), code: ErrorCodeInvalidRequest, status: http.StatusBadRequest},
		{name: "invalid client", err: ErrInvalidClient("x"), code: ErrorCodeInvalidClient, status: http.StatusUnauthorized},
		{name: "invalid grant", err: ErrInvalidGrant("x"), code: ErrorCodeInvalidGrant, status: http.StatusBadRequest},
		{name: "unauthorized client", err: ErrUnauthorizedClient("x"), code: ErrorCodeUnauthorizedClient, status: http.StatusBadRequest},
		{name: "invalid scope", err: ErrInvalidScope("x"), code: ErrorCodeInvalidScope, status: http.StatusBadRequest},
		{name: "access denied", err: ErrAccessDenied("x"), code: ErrorCodeAccessDenied, status: http.StatusBadRequest},
		{name: "server error", err: ErrServerError("x"), code: ErrorCodeInternalServerError, status: http.StatusInternalServerError},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.code, tt.err.Code)
			assert.Equal(t, tt.status, tt.err.Status)
		})
	}
}

func TestWriteError(t *testing.T) {
	t.Run("oauth error", func(t *testing.T) {
		rr := httptest.NewRecorder()
		WriteError(rr, ErrInvalidGrant("The authorization code has expired"))

		assert.Equal(t, http.StatusBadRequest, rr.Code)
		assert.Equal(t, "application/json", rr.Header().Get("Content-Type"))

		var body ErrorResponse
		require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &body))
		assert.Equal(t, ErrorResponse{Error: "invalid_grant", ErrorDescription: "The authorization code has expired"}, body)
	})

	t.Run("unauthorized carries WWW-Authenticate", func(t *testing.T) {
		rr := httptest.NewRecorder()
		WriteError(rr, ErrInvalidClient("Client authentication failed"))

		assert.Equal(t, http.StatusUnauthorized, rr.Code)
		assert.Contains(t, rr.Header().Get("WWW-Authenticate"), `error="invalid_client"`)
	})

	t.Run("internal errors do not leak", func(t *testing.T) {
		rr := httptest.NewRecorder()
		WriteError(rr, errors.New("dial tcp 10.0.0.5:6379: connection refused"))

		assert.Equal(t, http.StatusInternalServerError, rr.Code)
		assert.NotContains(t, rr.Body.String(), "10.0.0.5")

		var body ErrorResponse
		require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &body))
		assert.Equal(t, ErrorCodeInternalServerError, body.Error)
	})
}
