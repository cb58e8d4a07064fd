package oautherr

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWriteJSON(t *testing.T) {
	t.Run("bad request", func(t *testing.T) {
		rec := httptest.NewRecorder()
		WriteJSON(rec, InvalidGrant("The authorization code was already used"))

		assert.Equal(t, http.StatusBadRequest, rec.Code)
		assert.Equal(t, "application/json", rec.Header().Get("Content-Type"))
		assert.Empty(t, rec.Header().Get("WWW-Authenticate"))

		var body map[string]string
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
		assert.Equal(t, map[string]string{
			"error":             "invalid_grant",
			"error_description": "The authorization code was already used",
		}, body)
	})

	t.Run("invalid client", func(t *testing.T) {
		rec := httptest.NewRecorder()
		WriteJSON(rec, InvalidClient("Client \"x\"\nfailed"))

		assert.Equal(t, http.StatusUnauthorized, rec.Code)
		assert.Equal(t, `Basic realm="oauth", error="invalid_client", error_description="Client xfailed"`,
			rec.Header().Get("WWW-Authenticate"))
	})
}
