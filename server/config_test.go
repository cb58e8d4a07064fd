package server

import (
	"bytes"
	"log/slog"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/giantswarm/oauth-engine/internal/testutil"
	"github.com/giantswarm/oauth-engine/scope"
)

// captureLogger creates a logger that writes to a buffer for testing
func captureLogger() (*slog.Logger, *bytes.Buffer) {
	var buf bytes.Buffer
	logger := slog.New(slog.NewTextHandler(&buf, &slog.HandlerOptions{
		Level: slog.LevelDebug,
	}))
	return logger, &buf
}

func TestApplyTimeDefaults(t *testing.T) {
	tests := []struct {
		name                      string
		input                     *Config
		expectedAuthCodeTTL       int64
		expectedAccessTokenTTL    int64
		expectedRefreshTokenTTL   int64
		expectedIDTokenTTL        int64
		expectedTrustedProxyCount int
		expectedClockSkewGrace    int64
	}{
		{
			name:                      "all zeros should get defaults",
			input:                     &Config{},
			expectedAuthCodeTTL:       600,
			expectedAccessTokenTTL:    3600,
			expectedRefreshTokenTTL:   7776000,
			expectedIDTokenTTL:        3600,
			expectedTrustedProxyCount: 1,
			expectedClockSkewGrace:    5,
		},
		{
			name: "custom values should be preserved",
			input: &Config{
				AuthorizationCodeTTL: 300,
				AccessTokenTTL:       1800,
				RefreshTokenTTL:      86400,
				IDTokenTTL:           900,
				TrustedProxyCount:    2,
				ClockSkewGracePeriod: 10,
			},
			expectedAuthCodeTTL:       300,
			expectedAccessTokenTTL:    1800,
			expectedRefreshTokenTTL:   86400,
			expectedIDTokenTTL:        900,
			expectedTrustedProxyCount: 2,
			expectedClockSkewGrace:    10,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			applyTimeDefaults(tt.input)

			assert.Equal(t, tt.expectedAuthCodeTTL, tt.input.AuthorizationCodeTTL)
			assert.Equal(t, tt.expectedAccessTokenTTL, tt.input.AccessTokenTTL)
			assert.Equal(t, tt.expectedRefreshTokenTTL, tt.input.RefreshTokenTTL)
			assert.Equal(t, tt.expectedIDTokenTTL, tt.input.IDTokenTTL)
			assert.Equal(t, tt.expectedTrustedProxyCount, tt.input.TrustedProxyCount)
			assert.Equal(t, tt.expectedClockSkewGrace, tt.input.ClockSkewGracePeriod)
		})
	}
}

func TestApplySecureDefaults(t *testing.T) {
	logger, _ := captureLogger()

	config := applySecureDefaults(&Config{Issuer: testutil.Issuer}, logger)

	assert.True(t, config.AllowRefreshTokenRotation)
	assert.True(t, config.RequirePKCEForPublicClients)
	assert.Equal(t, absoluteMinStateLength, config.MinStateLength)
	assert.Equal(t, StorageMemory, config.Storage.Backend)
	assert.Equal(t, scope.PolicyNameNone, config.ScopePolicy)
	assert.Equal(t, 10, config.RateLimit.RequestsPerSecond)
	assert.Equal(t, 20, config.RateLimit.Burst)
	assert.Equal(t, "oauth-engine", config.Instrumentation.ServiceName)
}

func TestApplySecurityDefaults_OptOut(t *testing.T) {
	t.Run("disabled rotation and PKCE are warned about", func(t *testing.T) {
		logger, buf := captureLogger()
		config := &Config{
			DisableRefreshTokenRotation: true,
			DisablePKCEForPublicClients: true,
		}

		applySecurityDefaults(config, logger)

		assert.False(t, config.AllowRefreshTokenRotation)
		assert.False(t, config.RequirePKCEForPublicClients)
		assert.Contains(t, buf.String(), "Refresh token rotation is DISABLED")
		assert.Contains(t, buf.String(), "PKCE is NOT REQUIRED for public clients")
	})

	t.Run("RequirePKCE overrides the public client opt-out", func(t *testing.T) {
		logger, buf := captureLogger()
		config := &Config{RequirePKCE: true, DisablePKCEForPublicClients: true}

		applySecurityDefaults(config, logger)

		assert.True(t, config.RequirePKCEForPublicClients)
		assert.NotContains(t, buf.String(), "PKCE is NOT REQUIRED")
	})

	t.Run("short state length is raised to the floor", func(t *testing.T) {
		logger, buf := captureLogger()
		config := &Config{MinStateLength: 4}

		applySecurityDefaults(config, logger)

		assert.Equal(t, absoluteMinStateLength, config.MinStateLength)
		assert.Contains(t, buf.String(), "MinStateLength below recommended minimum")
	})

	t.Run("optional state keeps the configured length", func(t *testing.T) {
		logger, buf := captureLogger()
		config := &Config{AllowNoStateParameter: true, MinStateLength: 4}

		applySecurityDefaults(config, logger)

		assert.Equal(t, 4, config.MinStateLength)
		assert.Contains(t, buf.String(), "State parameter is NOT REQUIRED")
	})

	t.Run("unsigned request objects are warned about", func(t *testing.T) {
		logger, buf := captureLogger()
		config := &Config{RequestObject: RequestObjectConfig{AllowUnsigned: true}}

		applySecurityDefaults(config, logger)

		assert.Contains(t, buf.String(), "Unsigned request objects are ALLOWED")
	})
}

func validConfig(mutate func(*Config)) *Config {
	config := &Config{Issuer: testutil.Issuer}
	if mutate != nil {
		mutate(config)
	}
	logger := slog.New(slog.NewTextHandler(&bytes.Buffer{}, nil))
	return applySecureDefaults(config, logger)
}

func TestValidateConfig(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr string
	}{
		{
			name: "defaults are valid",
		},
		{
			name:    "missing issuer",
			mutate:  func(c *Config) { c.Issuer = "" },
			wantErr: "issuer is required",
		},
		{
			name:    "relative issuer",
			mutate:  func(c *Config) { c.Issuer = "/auth" },
			wantErr: "absolute URL",
		},
		{
			name:    "issuer with query",
			mutate:  func(c *Config) { c.Issuer = "https://auth.example.com?tenant=a" },
			wantErr: "query or fragment",
		},
		{
			name:    "http issuer on a public host",
			mutate:  func(c *Config) { c.Issuer = "http://auth.example.com" },
			wantErr: "must use HTTPS",
		},
		{
			name: "http issuer on a public host with explicit opt-in",
			mutate: func(c *Config) {
				c.Issuer = "http://auth.example.com"
				c.AllowInsecureHTTP = true
			},
		},
		{
			name:   "http issuer on localhost",
			mutate: func(c *Config) { c.Issuer = "http://localhost:8080" },
		},
		{
			name:    "unsupported scheme",
			mutate:  func(c *Config) { c.Issuer = "ftp://auth.example.com" },
			wantErr: "invalid issuer URL scheme",
		},
		{
			name:    "negative TTL",
			mutate:  func(c *Config) { c.AccessTokenTTL = -1 },
			wantErr: "access_token_ttl must not be negative",
		},
		{
			name:    "invalid scope",
			mutate:  func(c *Config) { c.SupportedScopes = []string{"read write"} },
			wantErr: `invalid scope "read write"`,
		},
		{
			name:    "unknown scope policy",
			mutate:  func(c *Config) { c.ScopePolicy = "guess" },
			wantErr: `unknown scope_policy "guess"`,
		},
		{
			name: "default scopes outside supported scopes",
			mutate: func(c *Config) {
				c.SupportedScopes = []string{"read"}
				c.DefaultScopes = []string{"write"}
			},
			wantErr: "default_scopes must be a subset",
		},
		{
			name:    "valkey without address",
			mutate:  func(c *Config) { c.Storage.Backend = StorageValkey },
			wantErr: "storage.valkey.address is required",
		},
		{
			name:    "unknown backend",
			mutate:  func(c *Config) { c.Storage.Backend = "postgres" },
			wantErr: `unknown storage backend "postgres"`,
		},
		{
			name:    "bad encryption key",
			mutate:  func(c *Config) { c.Storage.EncryptionKey = "not-base64!" },
			wantErr: "invalid storage.encryption_key",
		},
		{
			name: "bad trusted issuer key set",
			mutate: func(c *Config) {
				c.JWTBearer.TrustedIssuers = []TrustedIssuerConfig{{Issuer: "https://idp.example.com", JWKS: `{"keys":[]}`}}
			},
			wantErr: "JWK Set has no keys",
		},
		{
			name: "trusted issuer without name",
			mutate: func(c *Config) {
				c.JWTBearer.TrustedIssuers = []TrustedIssuerConfig{{JWKS: `{"keys":[]}`}}
			},
			wantErr: "issuer is required",
		},
		{
			name:   "CORS origin",
			mutate: func(c *Config) { c.CORS.AllowedOrigins = []string{"https://app.example.com"} },
		},
		{
			name:    "CORS wildcard without opt-in",
			mutate:  func(c *Config) { c.CORS.AllowedOrigins = []string{"*"} },
			wantErr: "requires allow_wildcard_origin",
		},
		{
			name: "CORS wildcard with credentials",
			mutate: func(c *Config) {
				c.CORS.AllowedOrigins = []string{"*"}
				c.CORS.AllowWildcardOrigin = true
				c.CORS.AllowCredentials = true
			},
			wantErr: "cannot use wildcard",
		},
		{
			name:    "CORS origin with path",
			mutate:  func(c *Config) { c.CORS.AllowedOrigins = []string{"https://app.example.com/app"} },
			wantErr: "must not have a path",
		},
		{
			name:    "CORS plain HTTP origin",
			mutate:  func(c *Config) { c.CORS.AllowedOrigins = []string{"http://app.example.com"} },
			wantErr: "HTTP origin",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			logger, _ := captureLogger()
			err := validateConfig(validConfig(tt.mutate), logger)
			if tt.wantErr == "" {
				assert.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestValidateConfig_ReportsAllProblems(t *testing.T) {
	logger, _ := captureLogger()
	config := validConfig(func(c *Config) {
		c.Issuer = ""
		c.RefreshTokenTTL = -5
		c.ScopePolicy = "guess"
	})

	err := validateConfig(config, logger)
	require.Error(t, err)

	msg := err.Error()
	assert.Contains(t, msg, "issuer is required")
	assert.Contains(t, msg, "refresh_token_ttl")
	assert.Contains(t, msg, "scope_policy")
	assert.Equal(t, 3, strings.Count(msg, "\n")+1)
}

func TestValidateIssuer_LocalhostWarning(t *testing.T) {
	logger, buf := captureLogger()
	config := validConfig(func(c *Config) { c.Issuer = "http://127.0.0.1:9000" })

	require.NoError(t, validateIssuer(config, logger))
	assert.Contains(t, buf.String(), "DEVELOPMENT WARNING")
}

func TestIsLocalhostHostname(t *testing.T) {
	tests := map[string]bool{
		"localhost":        true,
		"127.0.0.1":        true,
		"127.1.2.3":        true,
		"::1":              true,
		"0.0.0.0":          true,
		"auth.example.com": false,
		"10.0.0.1":         false,
		"localhost.evil":   false,
	}
	for host, want := range tests {
		assert.Equal(t, want, isLocalhostHostname(host), host)
	}
}

func TestParseKeySet(t *testing.T) {
	key := testutil.RSAKey(t)

	set, err := parseKeySet(testutil.PublicKeySetJSON(t, key, testutil.KeyID, "sig"))
	require.NoError(t, err)
	require.Len(t, set.Keys, 1)
	assert.Equal(t, testutil.KeyID, set.Keys[0].KeyID)

	_, err = parseKeySet("not json")
	assert.Error(t, err)
}

func TestConfigEndpoints(t *testing.T) {
	config := &Config{Issuer: "https://auth.example.com/tenant/"}

	assert.Equal(t, "https://auth.example.com/tenant/authorize", config.AuthorizationEndpoint())
	assert.Equal(t, "https://auth.example.com/tenant/token", config.TokenEndpoint())
	assert.Equal(t, "https://auth.example.com/tenant/introspect", config.IntrospectionEndpoint())
	assert.Equal(t, "https://auth.example.com/tenant/revoke", config.RevocationEndpoint())
	assert.Equal(t, "https://auth.example.com/tenant/jwks.json", config.JWKSEndpoint())
}
