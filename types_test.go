package oauth

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTokenResponse_OmitsEmptyFields(t *testing.T) {
	data, err := json.Marshal(TokenResponse{AccessToken: "at", TokenType: "Bearer", ExpiresIn: 3600})
	require.NoError(t, err)

	var raw map[string]any
	require.NoError(t, json.Unmarshal(data, &raw))
	assert.Equal(t, map[string]any{
		"access_token": "at",
		"token_type":   "Bearer",
		"expires_in":   float64(3600),
	}, raw)
}

func TestIntrospectionResponse_Inactive(t *testing.T) {
	data, err := json.Marshal(IntrospectionResponse{})
	require.NoError(t, err)
	assert.JSONEq(t, `{"active":false}`, string(data))
}

func TestIntrospectionResponse_Decode(t *testing.T) {
	var resp IntrospectionResponse
	err := json.Unmarshal([]byte(`{
		"active": true,
		"client_id": "test-client",
		"scope": "openid profile",
		"sub": "alice",
		"exp": 1735732800,
		"iat": 1735729200,
		"iss": "https://auth.example.com"
	}`), &resp)
	require.NoError(t, err)

	assert.True(t, resp.Active)
	assert.Equal(t, "test-client", resp.ClientID)
	assert.Equal(t, "openid profile", resp.Scope)
	assert.Equal(t, "alice", resp.Sub)
	assert.Equal(t, int64(1735732800), resp.Exp)
	assert.Equal(t, "https://auth.example.com", resp.Iss)
}
