package authorize

import (
	"context"
	"net/http"
	"net/url"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/giantswarm/oauth-engine/idtoken"
	"github.com/giantswarm/oauth-engine/internal/testutil"
	"github.com/giantswarm/oauth-engine/jose"
	"github.com/giantswarm/oauth-engine/providers"
	"github.com/giantswarm/oauth-engine/scope"
	"github.com/giantswarm/oauth-engine/security"
	"github.com/giantswarm/oauth-engine/storage"
	"github.com/giantswarm/oauth-engine/storage/memory"
	"github.com/giantswarm/oauth-engine/token"
)

var fixedTime = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

// approveAll is a consent policy approving every request.
type approveAll struct{}

func (approveAll) PreApproved(context.Context, *Request) (bool, error) { return true, nil }

type fixture struct {
	store    *memory.Store
	clock    *testutil.MockTime
	types    *ResponseTypeRegistry
	modes    *ResponseModeRegistry
	tokens   *token.Registry
	loader   *Loader
	checkers *Chain
	endpoint *Endpoint

	// user is returned by the user discovery; nil means logged out.
	user     *providers.UserInfo
	authTime time.Time

	loginCalls   []*Request
	consentCalls []*Request
}

type fixtureOption func(*EndpointConfig, *CheckerConfig)

func withConsentPolicy(p ConsentPolicy) fixtureOption {
	return func(cfg *EndpointConfig, _ *CheckerConfig) { cfg.ConsentPolicy = p }
}

func withResponseMode() fixtureOption {
	return func(_ *EndpointConfig, cc *CheckerConfig) { cc.AllowResponseMode = true }
}

func newFixture(t *testing.T, opts ...fixtureOption) *fixture {
	t.Helper()
	ctx := context.Background()

	f := &fixture{
		store: memory.New(),
		clock: testutil.NewMockTime(time.Now().Truncate(time.Second)),
		user:  &providers.UserInfo{ID: testutil.UserID, Name: "Alice"},
	}
	f.authTime = f.clock.Now().Add(-time.Hour)
	f.store.SetClock(f.clock.Now)

	require.NoError(t, f.store.Clients().Save(ctx, testutil.ConfidentialClient()))
	require.NoError(t, f.store.Clients().Save(ctx, testutil.PublicClient()))

	signer, err := jose.NewSigner(testutil.RSAKey(t), testutil.KeyID)
	require.NoError(t, err)
	idIssuer, err := idtoken.New(idtoken.Config{Issuer: testutil.Issuer, Signer: signer, Now: f.clock.Now})
	require.NoError(t, err)

	f.tokens = token.NewRegistry()
	tokenIssuer := token.NewIssuer(token.IssuerConfig{
		AccessTokens:    f.store.AccessTokens(),
		RefreshTokens:   f.store.RefreshTokens(),
		AccessTokenTTL:  time.Hour,
		RefreshTokenTTL: 24 * time.Hour,
		Now:             f.clock.Now,
	})

	f.types = DefaultResponseTypes(
		NewCodeResponseType(CodeConfig{Codes: f.store.AuthorizationCodes(), TTL: 10 * time.Minute, Now: f.clock.Now}),
		NewTokenResponseType(tokenIssuer, f.tokens, nil),
		NewIDTokenResponseType(idIssuer),
	)
	f.modes = DefaultResponseModes(testutil.Issuer)

	f.loader = NewLoader(LoaderConfig{
		Clients:                f.store.Clients(),
		Issuer:                 testutil.Issuer,
		RequestObjectSupported: true,
		Verifier:               jose.NewVerifier(jose.NewClientKeyResolver(nil)),
		Now:                    f.clock.Now,
	})

	cfg := EndpointConfig{
		Loader:        f.loader,
		ResponseTypes: f.types,
		ResponseModes: f.modes,
		Clients:       f.store.Clients(),
		Sessions:      f.store.Sessions(),
		Users: UserDiscoveryFunc(func(*http.Request) (*providers.UserInfo, time.Time, error) {
			return f.user, f.authTime, nil
		}),
		Login: LoginHandlerFunc(func(w http.ResponseWriter, _ *http.Request, req *Request) {
			f.loginCalls = append(f.loginCalls, req)
			w.WriteHeader(http.StatusOK)
		}),
		Consent: ConsentHandlerFunc(func(w http.ResponseWriter, _ *http.Request, req *Request) {
			f.consentCalls = append(f.consentCalls, req)
			w.WriteHeader(http.StatusOK)
		}),
		Issuer:                  testutil.Issuer,
		IssuerResponseParameter: true,
		Auditor:                 security.NewAuditor(nil, false),
		Now:                     f.clock.Now,
	}
	checkerCfg := CheckerConfig{
		ResponseTypes:               f.types,
		ResponseModes:               f.modes,
		Scopes:                      scope.NewValidator(nil, nil),
		TokenTypes:                  f.tokens,
		RequirePKCEForPublicClients: true,
	}
	for _, opt := range opts {
		opt(&cfg, &checkerCfg)
	}

	f.checkers = DefaultCheckers(checkerCfg)
	cfg.Checkers = f.checkers
	f.endpoint = NewEndpoint(cfg)
	return f
}

// authorize sends a GET authorization request built from params.
func (f *fixture) authorize(params url.Values) *http.Response {
	req := testutil.NewHTTPRequest(http.MethodGet, "/authorize")
	for k := range params {
		req.WithForm(k, params.Get(k))
	}
	return req.Do(f.endpoint).Result()
}

// codeParams returns a valid response_type=code request.
func codeParams() url.Values {
	return url.Values{
		ParamResponseType: {"code"},
		ParamClientID:     {testutil.ClientID},
		ParamRedirectURI:  {testutil.RedirectURI},
		ParamScope:        {"openid profile"},
		ParamState:        {"xyz-state"},
	}
}

// load runs the loader and checker chain like the endpoint does.
func (f *fixture) load(t *testing.T, params url.Values) (*Request, error) {
	t.Helper()
	req, err := f.loader.LoadParams(context.Background(), params)
	if err != nil {
		return nil, err
	}
	return req, f.checkers.Run(context.Background(), req)
}

func redirectParams(t *testing.T, resp *http.Response) (query url.Values, fragment url.Values) {
	t.Helper()
	require.Equal(t, http.StatusFound, resp.StatusCode)
	loc, err := url.Parse(resp.Header.Get("Location"))
	require.NoError(t, err)
	fragment, err = url.ParseQuery(loc.Fragment)
	require.NoError(t, err)
	return loc.Query(), fragment
}

func clientWith(t *testing.T, f *fixture, id string, md storage.DataBag) *storage.Client {
	t.Helper()
	base := testutil.ConfidentialClient().Metadata()
	for k, v := range md {
		base[k] = v
	}
	c := storage.NewClient(id, "owner", base)
	require.NoError(t, f.store.Clients().Save(context.Background(), c))
	return c
}
