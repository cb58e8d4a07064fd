package grant

import (
	"context"
	"errors"
	"net/http"
	"net/url"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/giantswarm/oauth-engine/idtoken"
	"github.com/giantswarm/oauth-engine/internal/testutil"
	"github.com/giantswarm/oauth-engine/oautherr"
	"github.com/giantswarm/oauth-engine/security"
	"github.com/giantswarm/oauth-engine/storage"
)

func TestEndpoint_RequestValidation(t *testing.T) {
	f := newFixture(t)

	tests := []struct {
		name   string
		form   url.Values
		status int
		code   string
	}{
		{
			name:   "missing grant_type",
			form:   url.Values{},
			status: http.StatusBadRequest,
			code:   oautherr.CodeInvalidRequest,
		},
		{
			name:   "unknown grant_type",
			form:   url.Values{ParamGrantType: {"urn:example:unknown"}},
			status: http.StatusBadRequest,
			code:   oautherr.CodeInvalidRequest,
		},
		{
			name:   "implicit is refused at the token endpoint",
			form:   url.Values{ParamGrantType: {TypeImplicit}},
			status: http.StatusBadRequest,
			code:   oautherr.CodeInvalidRequest,
		},
		{
			name:   "missing code",
			form:   url.Values{ParamGrantType: {TypeAuthorizationCode}},
			status: http.StatusBadRequest,
			code:   oautherr.CodeInvalidRequest,
		},
		{
			name:   "missing refresh_token",
			form:   url.Values{ParamGrantType: {TypeRefreshToken}},
			status: http.StatusBadRequest,
			code:   oautherr.CodeInvalidRequest,
		},
		{
			name:   "missing password",
			form:   url.Values{ParamGrantType: {TypePassword}, ParamUsername: {testutil.UserID}},
			status: http.StatusBadRequest,
			code:   oautherr.CodeInvalidRequest,
		},
		{
			name:   "missing assertion",
			form:   url.Values{ParamGrantType: {TypeJWTBearer}},
			status: http.StatusBadRequest,
			code:   oautherr.CodeInvalidRequest,
		},
		{
			name:   "unknown token type",
			form:   url.Values{ParamGrantType: {TypeClientCredentials}, "token_type": {"MAC"}},
			status: http.StatusBadRequest,
			code:   oautherr.CodeInvalidRequest,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assertOAuthError(t, f.confidential(tt.form), tt.status, tt.code)
		})
	}
}

func TestEndpoint_RejectsGET(t *testing.T) {
	f := newFixture(t)
	rr := testutil.NewHTTPRequest(http.MethodGet, tokenURL).
		WithForm(ParamGrantType, TypeClientCredentials).
		WithBasicAuth(testutil.ClientID, testutil.ClientSecret).
		Do(f.endpoint)
	assertOAuthError(t, rr, http.StatusBadRequest, oautherr.CodeInvalidRequest)
}

func TestEndpoint_ClientAuthentication(t *testing.T) {
	f := newFixture(t)
	form := url.Values{ParamGrantType: {TypeClientCredentials}}

	t.Run("wrong secret", func(t *testing.T) {
		rr := f.post(form, testutil.ClientID, "not-the-secret")
		assertOAuthError(t, rr, http.StatusUnauthorized, oautherr.CodeInvalidClient)
		assert.Contains(t, rr.Header().Get("WWW-Authenticate"), "invalid_client")
	})

	t.Run("no credentials", func(t *testing.T) {
		assertOAuthError(t, f.post(form, "", ""), http.StatusUnauthorized, oautherr.CodeInvalidClient)
	})

	t.Run("unknown client", func(t *testing.T) {
		assertOAuthError(t, f.post(form, "nobody", "secret"), http.StatusUnauthorized, oautherr.CodeInvalidClient)
	})

	t.Run("deleted client", func(t *testing.T) {
		c := saveClient(t, f, "deleted-client", nil)
		c.MarkDeleted()
		require.NoError(t, f.store.Clients().Save(context.Background(), c))
		assertOAuthError(t, f.post(form, "deleted-client", testutil.ClientSecret), http.StatusUnauthorized, oautherr.CodeInvalidClient)
	})

	t.Run("grant not allowed for client", func(t *testing.T) {
		assertOAuthError(t, f.post(form, testutil.PublicClientID, ""), http.StatusBadRequest, oautherr.CodeUnauthorizedClient)
	})
}

func TestEndpoint_TokenTypeRestrictedByClient(t *testing.T) {
	f := newFixture(t)
	saveClient(t, f, "mac-only", storage.DataBag{storage.MetadataTokenTypes: []string{"MAC"}})

	rr := f.post(url.Values{ParamGrantType: {TypeClientCredentials}}, "mac-only", testutil.ClientSecret)
	assertOAuthError(t, rr, http.StatusBadRequest, oautherr.CodeUnauthorizedClient)
}

func TestEndpoint_SuccessResponse(t *testing.T) {
	f := newFixture(t)
	rr := f.confidential(url.Values{ParamGrantType: {TypeClientCredentials}, ParamScope: {"read write"}})
	require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())

	assert.Equal(t, "application/json", rr.Header().Get("Content-Type"))
	assert.Equal(t, "no-store", rr.Header().Get("Cache-Control"))
	assert.NotEmpty(t, rr.Header().Get("Strict-Transport-Security"))

	body := decode(t, rr)
	assert.NotEmpty(t, body["access_token"])
	assert.Equal(t, "Bearer", body["token_type"])
	assert.EqualValues(t, 3600, body["expires_in"])
	assert.Equal(t, "read write", body["scope"])
	assert.NotContains(t, body, "refresh_token")
	assert.NotContains(t, body, "id_token")
}

func TestEndpoint_RateLimited(t *testing.T) {
	f := newFixture(t, func(c *fixtureConfig) {
		c.RateLimiter = security.NewRateLimiter(1, 1, nil)
	})
	form := url.Values{ParamGrantType: {TypeClientCredentials}}

	require.Equal(t, http.StatusOK, f.confidential(form).Code)
	assertOAuthError(t, f.confidential(form), http.StatusTooManyRequests, oautherr.CodeSlowDown)
}

// recorder is a before-extension that logs its name and optionally stops
// the chain.
type recorder struct {
	name  string
	calls *[]string
	stop  error
}

func (r recorder) Name() string { return r.name }

func (r recorder) BeforeIssue(ctx context.Context, data *Data, next BeforeNext) error {
	*r.calls = append(*r.calls, r.name)
	if r.stop != nil {
		return r.stop
	}
	return next.Run(ctx, data)
}

func TestEndpoint_ExtensionChains(t *testing.T) {
	t.Run("before and after run in order", func(t *testing.T) {
		var calls []string
		f := newFixture(t, func(c *fixtureConfig) {
			c.Before = []BeforeExtension{
				recorder{name: "first", calls: &calls},
				recorder{name: "second", calls: &calls},
			}
			c.After = []AfterExtension{AfterFunc{
				ExtensionName: "custom",
				Func: func(_ context.Context, data *Data, resp *Response) error {
					calls = append(calls, "after")
					resp.Set("x_client", data.Client().ID())
					return nil
				},
			}}
		})

		rr := f.confidential(url.Values{ParamGrantType: {TypeClientCredentials}})
		require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())
		assert.Equal(t, []string{"first", "second", "after"}, calls)
		assert.Equal(t, testutil.ClientID, decode(t, rr)["x_client"])
	})

	t.Run("before error aborts before issuance", func(t *testing.T) {
		var calls []string
		f := newFixture(t, func(c *fixtureConfig) {
			c.Before = []BeforeExtension{
				recorder{name: "gate", calls: &calls, stop: oautherr.AccessDenied("not today")},
				recorder{name: "never", calls: &calls},
			}
		})

		rr := f.confidential(url.Values{ParamGrantType: {TypeClientCredentials}})
		assertOAuthError(t, rr, http.StatusBadRequest, oautherr.CodeAccessDenied)
		assert.Equal(t, []string{"gate"}, calls)
	})

	t.Run("internal errors are not leaked", func(t *testing.T) {
		f := newFixture(t, func(c *fixtureConfig) {
			c.Before = []BeforeExtension{BeforeFunc{
				ExtensionName: "broken",
				Func: func(context.Context, *Data) error {
					return errors.New("database password is hunter2")
				},
			}}
		})

		rr := f.confidential(url.Values{ParamGrantType: {TypeClientCredentials}})
		assertOAuthError(t, rr, http.StatusInternalServerError, oautherr.CodeInternalServerError)
		assert.NotContains(t, rr.Body.String(), "hunter2")
	})
}

func TestEndpoint_IDTokenExtension(t *testing.T) {
	f := newFixture(t)

	body := f.exchange(t)
	claims := idTokenClaims(t, body["id_token"])
	assert.Equal(t, testutil.Issuer, claims["iss"])
	assert.Equal(t, testutil.UserID, claims["sub"])
	assert.Equal(t, []any{testutil.ClientID}, claims["aud"])
	assert.Equal(t, testNonce, claims["nonce"])
	assert.NotEmpty(t, claims["auth_time"])

	atHash, err := idtoken.LeftHalfHash("RS256", body["access_token"].(string))
	require.NoError(t, err)
	assert.Equal(t, atHash, claims["at_hash"])

	t.Run("not issued without openid", func(t *testing.T) {
		code := f.issueCode(t, withCodeScope("profile"))
		rr := f.confidential(codeForm(code.ID()))
		require.Equal(t, http.StatusOK, rr.Code)
		assert.NotContains(t, decode(t, rr), "id_token")
	})

	t.Run("refreshed ID token has no nonce", func(t *testing.T) {
		rr := f.confidential(refreshForm(body["refresh_token"].(string)))
		require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())
		refreshed := idTokenClaims(t, decode(t, rr)["id_token"])
		assert.Equal(t, testutil.UserID, refreshed["sub"])
		assert.NotContains(t, refreshed, "nonce")
	})
}

func TestRegistry(t *testing.T) {
	r := NewRegistry(NewClientCredentials(nil), Implicit{})
	assert.Equal(t, []string{TypeClientCredentials, TypeImplicit}, r.Names())

	_, ok := r.Get(TypePassword)
	assert.False(t, ok)

	replacement := NewClientCredentials(nil)
	r.Register(replacement)
	got, ok := r.Get(TypeClientCredentials)
	require.True(t, ok)
	assert.Same(t, replacement, got)
	assert.Len(t, r.Names(), 2)
}

func TestChains_EmptyAndNil(t *testing.T) {
	ctx := context.Background()
	data := newData(TypeClientCredentials, url.Values{}, "127.0.0.1")

	assert.NoError(t, NewBeforeChain().Run(ctx, data))
	assert.NoError(t, NewAfterChain().Run(ctx, data, newResponse()))
	assert.NoError(t, BeforeNext{}.Run(ctx, data))
	assert.NoError(t, AfterNext{}.Run(ctx, data, newResponse()))
}

func TestResponse_PayloadIsCopy(t *testing.T) {
	resp := newResponse()
	resp.Set("access_token", "abc")

	p := resp.Payload()
	p["access_token"] = "tampered"

	v, ok := resp.Get("access_token")
	require.True(t, ok)
	assert.Equal(t, "abc", v)
}

func TestData_Accessors(t *testing.T) {
	data := newData(TypePassword, url.Values{ParamUsername: {"alice"}}, "10.0.0.1")
	assert.Equal(t, TypePassword, data.GrantType())
	assert.Equal(t, "alice", data.Param(ParamUsername))
	assert.Equal(t, "10.0.0.1", data.ClientIP())
	assert.Nil(t, data.Client())

	data.Parameters()["k"] = "v"
	assert.Equal(t, "v", data.Parameters().String("k"))

	data.SetAttribute("x", 1)
	v, ok := data.Attribute("x")
	assert.True(t, ok)
	assert.Equal(t, 1, v)

	assert.False(t, data.RefreshEligible())
	data.SetRefreshEligible(true)
	assert.True(t, data.RefreshEligible())
}
