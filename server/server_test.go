package server

import (
	"context"
	"encoding/json"
	"net/http"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/giantswarm/oauth-engine/grant"
	"github.com/giantswarm/oauth-engine/internal/testutil"
	"github.com/giantswarm/oauth-engine/jose"
	"github.com/giantswarm/oauth-engine/providers"
	"github.com/giantswarm/oauth-engine/storage/memory"
)

type serverFixture struct {
	server   *Server
	store    *memory.Store
	accounts *providers.Static
	clock    *testutil.MockTime
}

func newTestServer(t *testing.T, mutate func(*Config)) *serverFixture {
	t.Helper()

	clock := testutil.NewMockTime(time.Date(2025, 1, 1, 12, 0, 0, 0, time.UTC))
	store := memory.New()
	store.SetClock(clock.Now)
	require.NoError(t, store.Clients().Save(context.Background(), testutil.ConfidentialClient()))
	require.NoError(t, store.Clients().Save(context.Background(), testutil.PublicClient()))

	logger, _ := captureLogger()
	accounts := providers.NewStatic(logger)
	accounts.SetCost(4)
	require.NoError(t, accounts.AddUser(providers.UserInfo{ID: testutil.UserID, Name: "Alice"}, "wonderland"))

	signer, err := jose.NewSigner(testutil.RSAKey(t), testutil.KeyID)
	require.NoError(t, err)

	config := &Config{Issuer: testutil.Issuer}
	if mutate != nil {
		mutate(config)
	}

	srv, err := New(MemoryRepositories(store), accounts, signer, Options{Now: clock.Now}, config, logger)
	require.NoError(t, err)
	t.Cleanup(func() { _ = srv.Shutdown(context.Background()) })

	return &serverFixture{server: srv, store: store, accounts: accounts, clock: clock}
}

func TestNew(t *testing.T) {
	f := newTestServer(t, nil)
	srv := f.server

	assert.Equal(t, testutil.Issuer, srv.Config.Issuer)
	assert.NotNil(t, srv.Logger)
	assert.NotNil(t, srv.RateLimiter)
	assert.NotNil(t, srv.Authorization)
	assert.NotNil(t, srv.Token)
	assert.Equal(t, []string{
		grant.TypeAuthorizationCode,
		grant.TypeClientCredentials,
		grant.TypeRefreshToken,
		grant.TypeImplicit,
	}, srv.Grants.Names())
	assert.Equal(t, f.clock.Now(), srv.Now())
}

func TestNew_RequiredArguments(t *testing.T) {
	store := memory.New()
	repos := MemoryRepositories(store)
	signer, err := jose.NewSigner(testutil.RSAKey(t), testutil.KeyID)
	require.NoError(t, err)
	config := func() *Config { return &Config{Issuer: testutil.Issuer} }

	_, err = New(Repositories{}, nil, signer, Options{}, config(), nil)
	assert.ErrorContains(t, err, "client repository is required")

	_, err = New(repos, nil, nil, Options{}, config(), nil)
	assert.ErrorContains(t, err, "signer is required")

	_, err = New(repos, nil, signer, Options{}, nil, nil)
	assert.ErrorContains(t, err, "config is required")

	_, err = New(repos, nil, signer, Options{}, &Config{Issuer: "http://auth.example.com"}, nil)
	assert.ErrorContains(t, err, "invalid configuration")

	_, err = New(repos, nil, signer, Options{}, &Config{
		Issuer:   testutil.Issuer,
		Password: PasswordGrantConfig{Enabled: true},
	}, nil)
	assert.ErrorContains(t, err, "requires an account provider")
}

func TestNew_OptionalGrants(t *testing.T) {
	idp := testutil.NewRSAKey(t)
	f := newTestServer(t, func(c *Config) {
		c.Password.Enabled = true
		c.JWTBearer.Enabled = true
		c.JWTBearer.TrustedIssuers = []TrustedIssuerConfig{{
			Issuer: "https://idp.example.com",
			JWKS:   testutil.PublicKeySetJSON(t, idp, "idp-key", "sig"),
		}}
	})

	names := f.server.Grants.Names()
	assert.Contains(t, names, grant.TypePassword)
	assert.Contains(t, names, grant.TypeJWTBearer)
	assert.True(t, f.server.HasGrant(grant.TypeJWTBearer))
	assert.False(t, f.server.HasGrant(grant.TypeImplicit))
}

func TestNew_RateLimitDisabled(t *testing.T) {
	f := newTestServer(t, func(c *Config) { c.RateLimit.Disabled = true })
	assert.Nil(t, f.server.RateLimiter)
}

func TestServer_ClientCredentials(t *testing.T) {
	f := newTestServer(t, nil)

	rec := testutil.NewHTTPRequest(http.MethodPost, PathToken).
		WithBasicAuth(testutil.ClientID, testutil.ClientSecret).
		WithForm("grant_type", grant.TypeClientCredentials).
		WithForm("scope", "read").
		Do(f.server.Token)

	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	var body map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.NotEmpty(t, body["access_token"])
	assert.Equal(t, "Bearer", body["token_type"])
	assert.Equal(t, "read", body["scope"])
	assert.NotContains(t, body, "refresh_token")

	info, err := f.server.Tokens.Introspect(context.Background(), testutil.ConfidentialClient(), body["access_token"].(string), "")
	require.NoError(t, err)
	assert.Equal(t, true, info["active"])
	assert.Equal(t, testutil.ClientID, info["client_id"])
}

func TestServer_Metadata(t *testing.T) {
	f := newTestServer(t, func(c *Config) {
		c.SupportedScopes = []string{"openid", "profile", "read"}
	})

	md := f.server.Metadata()

	assert.Equal(t, testutil.Issuer, md.Issuer)
	assert.Equal(t, testutil.Issuer+PathAuthorization, md.AuthorizationEndpoint)
	assert.Equal(t, testutil.Issuer+PathToken, md.TokenEndpoint)
	assert.Equal(t, testutil.Issuer+PathIntrospection, md.IntrospectionEndpoint)
	assert.Equal(t, testutil.Issuer+PathRevocation, md.RevocationEndpoint)
	assert.Equal(t, testutil.Issuer+PathJWKS, md.JWKSURI)

	assert.Equal(t, []string{"openid", "profile", "read"}, md.ScopesSupported)
	assert.Equal(t, testutil.AllResponseTypes, md.ResponseTypesSupported)
	assert.Equal(t, []string{"query", "fragment", "form_post"}, md.ResponseModesSupported)
	assert.Equal(t, []string{"S256"}, md.CodeChallengeMethodsSupported)
	assert.Equal(t, []string{"RS256"}, md.IDTokenSigningAlgValuesSupported)
	assert.Equal(t, []string{"access_token", "refresh_token"}, md.TokenTypeHintsSupported)
	assert.Contains(t, md.TokenEndpointAuthMethodsSupported, "client_secret_basic")
	assert.Contains(t, md.TokenEndpointAuthMethodsSupported, "private_key_jwt")
	assert.NotEmpty(t, md.TokenEndpointAuthSigningAlgValuesSupported)
	assert.True(t, md.RequestParameterSupported)
	assert.False(t, md.RequestURIParameterSupported)
	assert.True(t, md.AuthorizationResponseIssParameterSupported)
	assert.Empty(t, md.RequestObjectEncryptionAlgValuesSupported)
	assert.NotContains(t, md.RequestObjectSigningAlgValuesSupported, "none")
}

func TestServer_Metadata_OptOuts(t *testing.T) {
	f := newTestServer(t, func(c *Config) {
		c.AllowPKCEPlain = true
		c.DisableResponseModeParameter = true
		c.DisableIssuerResponseParameter = true
		c.RequestObject.Disabled = true
	})

	md := f.server.Metadata()

	assert.Equal(t, []string{"S256", "plain"}, md.CodeChallengeMethodsSupported)
	assert.Empty(t, md.ResponseModesSupported)
	assert.False(t, md.AuthorizationResponseIssParameterSupported)
	assert.False(t, md.RequestParameterSupported)
	assert.Empty(t, md.RequestObjectSigningAlgValuesSupported)
}

func TestServer_PublicKeys(t *testing.T) {
	encKey := testutil.NewRSAKey(t)
	dec, err := jose.NewDecrypterFromKey(encKey, "enc-key")
	require.NoError(t, err)

	store := memory.New()
	signer, err := jose.NewSigner(testutil.RSAKey(t), testutil.KeyID)
	require.NoError(t, err)
	logger, _ := captureLogger()

	srv, err := New(MemoryRepositories(store), nil, signer, Options{Decrypter: dec}, &Config{Issuer: testutil.Issuer}, logger)
	require.NoError(t, err)

	keys := srv.PublicKeys()
	require.Len(t, keys.Keys, 2)
	assert.Equal(t, testutil.KeyID, keys.Keys[0].KeyID)
	assert.Equal(t, "enc-key", keys.Keys[1].KeyID)
	for _, k := range keys.Keys {
		assert.True(t, k.IsPublic())
	}

	md := srv.Metadata()
	assert.NotEmpty(t, md.RequestObjectEncryptionAlgValuesSupported)
	assert.NotEmpty(t, md.RequestObjectEncryptionEncValuesSupported)
}

func TestServer_ClientIP(t *testing.T) {
	f := newTestServer(t, func(c *Config) { c.TrustProxy = true })

	r := testutil.NewHTTPRequest(http.MethodPost, PathToken).
		WithHeader("X-Forwarded-For", "203.0.113.7, 10.0.0.1").
		Build()
	r.RemoteAddr = "10.0.0.1:1234"

	assert.Equal(t, "203.0.113.7", f.server.ClientIP(r))
}

func TestOpenRepositories(t *testing.T) {
	logger, buf := captureLogger()

	repos, err := OpenRepositories(StorageConfig{Backend: StorageMemory, EncryptionKey: "ignored"}, nil, logger)
	require.NoError(t, err)
	assert.NoError(t, repos.validate())
	assert.Contains(t, buf.String(), "ignored by the memory backend")

	_, err = OpenRepositories(StorageConfig{Backend: "postgres"}, nil, logger)
	assert.ErrorContains(t, err, `unknown storage backend "postgres"`)
}
