package grant

import (
	"context"
	"crypto/rsa"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strconv"
	"testing"
	"time"

	gojose "github.com/go-jose/go-jose/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"

	"github.com/giantswarm/oauth-engine/clientauth"
	"github.com/giantswarm/oauth-engine/idtoken"
	"github.com/giantswarm/oauth-engine/internal/testutil"
	"github.com/giantswarm/oauth-engine/jose"
	"github.com/giantswarm/oauth-engine/providers"
	"github.com/giantswarm/oauth-engine/security"
	"github.com/giantswarm/oauth-engine/storage"
	"github.com/giantswarm/oauth-engine/storage/memory"
	"github.com/giantswarm/oauth-engine/token"
)

const (
	tokenURL     = testutil.Issuer + "/token"
	idpIssuer    = "https://idp.example.com"
	idpKeyID     = "idp-key"
	userPassword = "down-the-rabbit-hole"
	testNonce    = "n-0S6_WzA2Mj"
)

type fixtureConfig struct {
	RequireOfflineAccess bool
	DisableRotation      bool
	AllowPublicPassword  bool
	Before               []BeforeExtension
	After                []AfterExtension
	RateLimiter          *security.RateLimiter

	WrapCodes         func(storage.AuthorizationCodeRepository) storage.AuthorizationCodeRepository
	WrapRefreshTokens func(storage.RefreshTokenRepository) storage.RefreshTokenRepository
}

type fixtureOption func(*fixtureConfig)

func withRequireOfflineAccess() fixtureOption {
	return func(c *fixtureConfig) { c.RequireOfflineAccess = true }
}

func withoutRotation() fixtureOption {
	return func(c *fixtureConfig) { c.DisableRotation = true }
}

// withCodeHook makes the authorization_code grant call afterMarkUsed once
// a code was consumed successfully.
func withCodeHook(afterMarkUsed func(code string)) fixtureOption {
	return func(c *fixtureConfig) {
		c.WrapCodes = func(repo storage.AuthorizationCodeRepository) storage.AuthorizationCodeRepository {
			return &codeHook{AuthorizationCodeRepository: repo, afterMarkUsed: afterMarkUsed}
		}
	}
}

// withRefreshHook makes the refresh_token grant call afterFind after every
// refresh token lookup.
func withRefreshHook(afterFind func(id string)) fixtureOption {
	return func(c *fixtureConfig) {
		c.WrapRefreshTokens = func(repo storage.RefreshTokenRepository) storage.RefreshTokenRepository {
			return &refreshHook{RefreshTokenRepository: repo, afterFind: afterFind}
		}
	}
}

type codeHook struct {
	storage.AuthorizationCodeRepository
	afterMarkUsed func(code string)
}

func (h *codeHook) MarkUsed(ctx context.Context, code string, issuedTokenIDs ...string) (*storage.AuthorizationCode, error) {
	c, err := h.AuthorizationCodeRepository.MarkUsed(ctx, code, issuedTokenIDs...)
	if err == nil && h.afterMarkUsed != nil {
		h.afterMarkUsed(code)
	}
	return c, err
}

type refreshHook struct {
	storage.RefreshTokenRepository
	afterFind func(id string)
}

func (h *refreshHook) Find(ctx context.Context, id string) (*storage.RefreshToken, error) {
	rt, err := h.RefreshTokenRepository.Find(ctx, id)
	if h.afterFind != nil {
		h.afterFind(id)
	}
	return rt, err
}

type fixture struct {
	store    *memory.Store
	clock    *testutil.MockTime
	idpKey   *rsa.PrivateKey
	endpoint *Endpoint
}

func newFixture(t *testing.T, opts ...fixtureOption) *fixture {
	t.Helper()
	ctx := context.Background()

	var cfg fixtureConfig
	for _, opt := range opts {
		opt(&cfg)
	}

	f := &fixture{
		store:  memory.New(),
		clock:  testutil.NewMockTime(time.Now().Truncate(time.Second)),
		idpKey: testutil.NewRSAKey(t),
	}
	f.store.SetClock(f.clock.Now)

	require.NoError(t, f.store.Clients().Save(ctx, testutil.ConfidentialClient()))
	require.NoError(t, f.store.Clients().Save(ctx, testutil.PublicClient()))

	accounts := providers.NewStatic(nil)
	accounts.SetCost(bcrypt.MinCost)
	require.NoError(t, accounts.AddUser(providers.UserInfo{ID: testutil.UserID, Name: "Alice"}, userPassword))

	signer, err := jose.NewSigner(testutil.RSAKey(t), testutil.KeyID)
	require.NoError(t, err)
	idIssuer, err := idtoken.New(idtoken.Config{Issuer: testutil.Issuer, Signer: signer, Accounts: accounts, Now: f.clock.Now})
	require.NoError(t, err)

	auditor := security.NewAuditor(nil, false)
	verifier := jose.NewVerifier(jose.NewClientKeyResolver(nil))

	var codes storage.AuthorizationCodeRepository = f.store.AuthorizationCodes()
	if cfg.WrapCodes != nil {
		codes = cfg.WrapCodes(codes)
	}
	var refreshTokens storage.RefreshTokenRepository = f.store.RefreshTokens()
	if cfg.WrapRefreshTokens != nil {
		refreshTokens = cfg.WrapRefreshTokens(refreshTokens)
	}

	grants := NewRegistry(
		NewAuthorizationCode(AuthorizationCodeConfig{
			Codes:         codes,
			AccessTokens:  f.store.AccessTokens(),
			RefreshTokens: f.store.RefreshTokens(),
			Auditor:       auditor,
			Now:           f.clock.Now,
		}),
		NewClientCredentials(nil),
		NewRefreshToken(RefreshTokenConfig{
			RefreshTokens:   refreshTokens,
			AccessTokens:    f.store.AccessTokens(),
			DisableRotation: cfg.DisableRotation,
			Auditor:         auditor,
			Now:             f.clock.Now,
		}),
		NewPassword(PasswordConfig{
			Accounts:           accounts,
			AllowPublicClients: cfg.AllowPublicPassword,
			IssueRefreshTokens: true,
			Auditor:            auditor,
			Now:                f.clock.Now,
		}),
		NewJWTBearer(JWTBearerConfig{
			Clients:  f.store.Clients(),
			Verifier: verifier,
			TrustedIssuers: map[string]*gojose.JSONWebKeySet{
				idpIssuer: {Keys: []gojose.JSONWebKey{{Key: &f.idpKey.PublicKey, KeyID: idpKeyID, Use: "sig"}}},
			},
			Audiences: []string{testutil.Issuer, tokenURL},
			Auditor:   auditor,
			Now:       f.clock.Now,
		}),
		Implicit{},
	)

	after := append([]AfterExtension{IDTokenExtension{Issuer: idIssuer}}, cfg.After...)
	f.endpoint = NewEndpoint(EndpointConfig{
		Grants: grants,
		ClientAuth: clientauth.NewManager(clientauth.Config{
			Clients: f.store.Clients(),
			Auditor: auditor,
			Now:     f.clock.Now,
		}),
		TokenTypes: token.NewRegistry(),
		Issuer: token.NewIssuer(token.IssuerConfig{
			AccessTokens:    f.store.AccessTokens(),
			RefreshTokens:   f.store.RefreshTokens(),
			AccessTokenTTL:  time.Hour,
			RefreshTokenTTL: 24 * time.Hour,
			Now:             f.clock.Now,
		}),
		Before:               NewBeforeChain(cfg.Before...),
		After:                NewAfterChain(after...),
		RequireOfflineAccess: cfg.RequireOfflineAccess,
		IssuerURL:            testutil.Issuer,
		RateLimiter:          cfg.RateLimiter,
		Auditor:              auditor,
		Now:                  f.clock.Now,
	})
	return f
}

// post sends a token request. A non-empty secret authenticates with HTTP
// Basic; otherwise clientID travels in the form as a public client would.
func (f *fixture) post(form url.Values, clientID, secret string) *httptest.ResponseRecorder {
	req := testutil.NewHTTPRequest(http.MethodPost, tokenURL)
	for k := range form {
		req.WithForm(k, form.Get(k))
	}
	switch {
	case secret != "":
		req.WithBasicAuth(clientID, secret)
	case clientID != "":
		req.WithForm("client_id", clientID)
	}
	return req.Do(f.endpoint)
}

// confidential sends a token request as the confidential test client.
func (f *fixture) confidential(form url.Values) *httptest.ResponseRecorder {
	return f.post(form, testutil.ClientID, testutil.ClientSecret)
}

type codeOption func(*storage.AuthorizationCodeParams)

func withPKCE(challenge, method string) codeOption {
	return func(p *storage.AuthorizationCodeParams) {
		p.QueryParameters["code_challenge"] = challenge
		p.QueryParameters["code_challenge_method"] = method
	}
}

func withCodeScope(s string) codeOption {
	return func(p *storage.AuthorizationCodeParams) { p.Parameters["scope"] = s }
}

func forClient(id string) codeOption {
	return func(p *storage.AuthorizationCodeParams) { p.ClientID = id }
}

// issueCode stores an authorization code as the authorization endpoint
// would after consent.
func (f *fixture) issueCode(t *testing.T, opts ...codeOption) *storage.AuthorizationCode {
	t.Helper()
	params := storage.AuthorizationCodeParams{
		TokenParams: storage.TokenParams{
			ClientID:        testutil.ClientID,
			ResourceOwnerID: testutil.UserID,
			ExpiresAt:       f.clock.Now().Add(10 * time.Minute),
			Parameters:      storage.DataBag{"scope": "openid profile offline_access"},
			Metadata: storage.DataBag{
				MetadataNonce:    testNonce,
				MetadataAuthTime: strconv.FormatInt(f.clock.Now().Add(-time.Minute).Unix(), 10),
			},
		},
		RedirectURI:     testutil.RedirectURI,
		QueryParameters: map[string]string{"response_type": "code", "client_id": testutil.ClientID},
	}
	for _, opt := range opts {
		opt(&params)
	}
	code, err := f.store.AuthorizationCodes().Create(context.Background(), params)
	require.NoError(t, err)
	return code
}

func codeForm(code string) url.Values {
	return url.Values{
		ParamGrantType:   {TypeAuthorizationCode},
		ParamCode:        {code},
		ParamRedirectURI: {testutil.RedirectURI},
	}
}

// exchange redeems a fresh code and returns the token response.
func (f *fixture) exchange(t *testing.T) map[string]any {
	t.Helper()
	rr := f.confidential(codeForm(f.issueCode(t).ID()))
	require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())
	return decode(t, rr)
}

func refreshForm(rt string) url.Values {
	return url.Values{
		ParamGrantType:    {TypeRefreshToken},
		ParamRefreshToken: {rt},
	}
}

func decode(t *testing.T, rr *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var body map[string]any
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &body), rr.Body.String())
	return body
}

func assertOAuthError(t *testing.T, rr *httptest.ResponseRecorder, status int, code string) {
	t.Helper()
	assert.Equal(t, status, rr.Code, rr.Body.String())
	body := decode(t, rr)
	assert.Equal(t, code, body["error"])
}

func idTokenClaims(t *testing.T, raw any) map[string]any {
	t.Helper()
	s, ok := raw.(string)
	require.True(t, ok, "id_token missing")
	tok, err := jose.Parse(s)
	require.NoError(t, err)
	claims, err := tok.Claims()
	require.NoError(t, err)
	return claims
}

func saveClient(t *testing.T, f *fixture, id string, md storage.DataBag) *storage.Client {
	t.Helper()
	base := testutil.ConfidentialClient().Metadata()
	for k, v := range md {
		base[k] = v
	}
	c := storage.NewClient(id, "owner", base)
	require.NoError(t, f.store.Clients().Save(context.Background(), c))
	return c
}
