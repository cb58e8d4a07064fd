package oauth

import (
	"io"
	"net/http"
	"net/url"
	"regexp"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/giantswarm/oauth-engine/authorize"
	"github.com/giantswarm/oauth-engine/internal/testutil"
	"github.com/giantswarm/oauth-engine/oautherr"
	"github.com/giantswarm/oauth-engine/providers"
	"github.com/giantswarm/oauth-engine/server"
)

var authorizationIDPattern = regexp.MustCompile(`name="authorization_id" value="([^"]+)"`)

func setupInteractiveHandler(t *testing.T) *handlerFixture {
	t.Helper()
	return newHandlerFixture(t, nil, func(f *handlerFixture, opts *ServerOptions) {
		basicAuth := NewBasicAuth(f.accounts, f.clock.Now)
		opts.Users = basicAuth
		opts.Login = basicAuth
		opts.Consent = ConsentPage("", nil)
	})
}

func authorizeRequest(params url.Values) *testutil.HTTPRequest {
	req := testutil.NewHTTPRequest(http.MethodGet, server.PathAuthorization)
	for k := range params {
		req.WithForm(k, params.Get(k))
	}
	return req
}

func TestBasicAuth_ChallengesAnonymousUser(t *testing.T) {
	f := setupInteractiveHandler(t)

	resp := f.do(authorizeRequest(codeRequest()))
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
	assert.Contains(t, resp.Header.Get("WWW-Authenticate"), `Basic realm="oauth-engine"`)

	resp = f.do(authorizeRequest(codeRequest()).WithBasicAuth(testutil.UserID, "wrong"))
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
}

func TestConsentPage_FullFlow(t *testing.T) {
	f := setupInteractiveHandler(t)

	resp := f.do(authorizeRequest(codeRequest()).WithBasicAuth(testutil.UserID, "wonderland"))
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "text/html; charset=utf-8", resp.Header.Get("Content-Type"))
	assert.Equal(t, "no-store", resp.Header.Get("Cache-Control"))

	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	page := string(body)
	assert.Contains(t, page, "Test Client")
	assert.Contains(t, page, "Signed in as <strong>Alice</strong>")
	assert.Contains(t, page, "<li>openid</li>")
	assert.Contains(t, page, `action="`+server.PathConsent+`"`)

	match := authorizationIDPattern.FindStringSubmatch(page)
	require.Len(t, match, 2)

	resp = f.do(testutil.NewHTTPRequest(http.MethodPost, server.PathConsent).
		WithBasicAuth(testutil.UserID, "wonderland").
		WithForm(FormAuthorizationID, match[1]).
		WithForm(FormDecision, DecisionAllow))
	query, _ := redirectLocation(t, resp)
	assert.NotEmpty(t, query.Get("code"))
	assert.Equal(t, "state-123456", query.Get("state"))
}

func TestConsentPage_DecisionBoundToUser(t *testing.T) {
	f := setupInteractiveHandler(t)
	require.NoError(t, f.accounts.AddUser(providers.UserInfo{ID: "mallory", Name: "Mallory"}, "looking-glass"))

	resp := f.do(authorizeRequest(codeRequest()).WithBasicAuth(testutil.UserID, "wonderland"))
	require.Equal(t, http.StatusOK, resp.StatusCode)
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	match := authorizationIDPattern.FindStringSubmatch(string(body))
	require.Len(t, match, 2)

	decide := func(username, password string) *http.Response {
		return f.do(testutil.NewHTTPRequest(http.MethodPost, server.PathConsent).
			WithBasicAuth(username, password).
			WithForm(FormAuthorizationID, match[1]).
			WithForm(FormDecision, DecisionAllow))
	}

	resp = decide("mallory", "looking-glass")
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	assert.Equal(t, oautherr.CodeAccessDenied, decodeBody(t, resp)["error"])

	resp = f.do(testutil.NewHTTPRequest(http.MethodPost, server.PathConsent).
		WithForm(FormAuthorizationID, match[1]).
		WithForm(FormDecision, DecisionAllow))
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	// the rightful user can still decide
	query, _ := redirectLocation(t, decide(testutil.UserID, "wonderland"))
	assert.NotEmpty(t, query.Get("code"))
}

func TestBasicAuth_CurrentUser(t *testing.T) {
	f := setupInteractiveHandler(t)
	users := NewBasicAuth(f.accounts, f.clock.Now)

	t.Run("no credentials", func(t *testing.T) {
		user, authTime, err := users.CurrentUser(testutil.NewHTTPRequest(http.MethodGet, "/").Build())
		require.NoError(t, err)
		assert.Nil(t, user)
		assert.True(t, authTime.IsZero())
	})

	t.Run("valid credentials", func(t *testing.T) {
		loggedIn := f.clock.Now()
		r := testutil.NewHTTPRequest(http.MethodGet, "/").WithBasicAuth(testutil.UserID, "wonderland").Build()
		user, authTime, err := users.CurrentUser(r)
		require.NoError(t, err)
		require.NotNil(t, user)
		assert.Equal(t, testutil.UserID, user.ID)
		assert.Equal(t, loggedIn, authTime)

		// later requests report the original login
		f.clock.Advance(5 * time.Minute)
		_, authTime, err = users.CurrentUser(r)
		require.NoError(t, err)
		assert.Equal(t, loggedIn, authTime)
	})

	t.Run("wrong password", func(t *testing.T) {
		r := testutil.NewHTTPRequest(http.MethodGet, "/").WithBasicAuth(testutil.UserID, "nope").Build()
		user, _, err := users.CurrentUser(r)
		require.NoError(t, err)
		assert.Nil(t, user)
	})
}

func TestBasicAuth_ReauthenticationRequests(t *testing.T) {
	tests := []struct {
		name  string
		param string
		value string
	}{
		{name: "prompt=login", param: authorize.ParamPrompt, value: "login"},
		{name: "max_age exceeded", param: authorize.ParamMaxAge, value: "60"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := setupInteractiveHandler(t)

			resp := f.do(authorizeRequest(codeRequest()).WithBasicAuth(testutil.UserID, "wonderland"))
			require.Equal(t, http.StatusOK, resp.StatusCode)
			f.clock.Advance(10 * time.Minute)

			params := codeRequest()
			params.Set(tt.param, tt.value)
			resp = f.do(authorizeRequest(params).WithBasicAuth(testutil.UserID, "wonderland"))
			assert.Equal(t, http.StatusUnauthorized, resp.StatusCode, "an old login does not satisfy the request")

			// the browser asked for credentials again
			resp = f.do(authorizeRequest(params).WithBasicAuth(testutil.UserID, "wonderland"))
			assert.Equal(t, http.StatusOK, resp.StatusCode)
		})
	}
}
