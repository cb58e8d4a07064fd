package server

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testConfigYAML = `
issuer: https://auth.example.com
access_token_ttl: 900
require_pkce: true
supported_scopes:
  - openid
  - profile
  - read
scope_policy: default
default_scopes:
  - read
rate_limit:
  requests_per_second: 5
  burst: 7
request_object:
  request_uri_enabled: true
  require_request_uri_registration: true
password:
  enabled: true
jwt_bearer:
  enabled: true
  trusted_issuers:
    - issuer: https://idp.example.com
      jwks: '{"keys":[]}'
storage:
  backend: valkey
  valkey:
    address: localhost:6379
    key_prefix: "oauth:"
`

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

func TestLoadConfig_File(t *testing.T) {
	config, err := LoadConfig(writeConfig(t, testConfigYAML))
	require.NoError(t, err)

	assert.Equal(t, "https://auth.example.com", config.Issuer)
	assert.Equal(t, int64(900), config.AccessTokenTTL)
	assert.True(t, config.RequirePKCE)
	assert.Equal(t, []string{"openid", "profile", "read"}, config.SupportedScopes)
	assert.Equal(t, "default", config.ScopePolicy)
	assert.Equal(t, []string{"read"}, config.DefaultScopes)
	assert.Equal(t, 5, config.RateLimit.RequestsPerSecond)
	assert.Equal(t, 7, config.RateLimit.Burst)
	assert.True(t, config.RequestObject.RequestURIEnabled)
	assert.True(t, config.RequestObject.RequireRequestURIRegistration)
	assert.True(t, config.Password.Enabled)
	assert.True(t, config.JWTBearer.Enabled)
	require.Len(t, config.JWTBearer.TrustedIssuers, 1)
	assert.Equal(t, "https://idp.example.com", config.JWTBearer.TrustedIssuers[0].Issuer)
	assert.Equal(t, `{"keys":[]}`, config.JWTBearer.TrustedIssuers[0].JWKS)
	assert.Equal(t, StorageValkey, config.Storage.Backend)
	assert.Equal(t, "localhost:6379", config.Storage.Valkey.Address)
	assert.Equal(t, "oauth:", config.Storage.Valkey.KeyPrefix)
}

func TestLoadConfig_Defaults(t *testing.T) {
	config, err := LoadConfig("")
	require.NoError(t, err)

	assert.Equal(t, StorageMemory, config.Storage.Backend)
	assert.Equal(t, "none", config.ScopePolicy)
	assert.Empty(t, config.Issuer)
}

func TestLoadConfig_EnvironmentOverridesFile(t *testing.T) {
	t.Setenv("OAUTH_ENGINE_ISSUER", "https://login.example.org")
	t.Setenv("OAUTH_ENGINE_ACCESS_TOKEN_TTL", "120")
	t.Setenv("OAUTH_ENGINE_RATE_LIMIT__BURST", "42")
	t.Setenv("OAUTH_ENGINE_STORAGE__VALKEY__ADDRESS", "valkey:6379")
	t.Setenv("OAUTH_ENGINE_ALLOW_PKCE_PLAIN", "true")

	config, err := LoadConfig(writeConfig(t, testConfigYAML))
	require.NoError(t, err)

	assert.Equal(t, "https://login.example.org", config.Issuer)
	assert.Equal(t, int64(120), config.AccessTokenTTL)
	assert.Equal(t, 42, config.RateLimit.Burst)
	assert.Equal(t, 5, config.RateLimit.RequestsPerSecond)
	assert.Equal(t, "valkey:6379", config.Storage.Valkey.Address)
	assert.True(t, config.AllowPKCEPlain)
}

func TestLoadConfig_MissingFile(t *testing.T) {
	_, err := LoadConfig(filepath.Join(t.TempDir(), "missing.yaml"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to load config file")
}

func TestTransformEnv(t *testing.T) {
	tests := map[string]string{
		"OAUTH_ENGINE_ISSUER":                   "issuer",
		"OAUTH_ENGINE_RATE_LIMIT__BURST":        "rate_limit.burst",
		"OAUTH_ENGINE_STORAGE__VALKEY__ADDRESS": "storage.valkey.address",
	}
	for in, want := range tests {
		assert.Equal(t, want, transformEnv(in), in)
	}
}
