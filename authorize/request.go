package authorize

import (
	"errors"
	"maps"
	"net/http"
	"net/url"
	"slices"
	"strings"
	"time"

	"github.com/giantswarm/oauth-engine/providers"
	"github.com/giantswarm/oauth-engine/storage"
)

// Authorization request parameters.
const (
	ParamClientID            = "client_id"
	ParamRedirectURI         = "redirect_uri"
	ParamResponseType        = "response_type"
	ParamResponseMode        = "response_mode"
	ParamScope               = "scope"
	ParamState               = "state"
	ParamNonce               = "nonce"
	ParamPrompt              = "prompt"
	ParamDisplay             = "display"
	ParamMaxAge              = "max_age"
	ParamTokenType           = "token_type"
	ParamCodeChallenge       = "code_challenge"
	ParamCodeChallengeMethod = "code_challenge_method"
	ParamRequest             = "request"
	ParamRequestURI          = "request_uri"
	ParamAuthorizationID     = "authorization_id"
)

// Prompt values.
const (
	PromptNone          = "none"
	PromptLogin         = "login"
	PromptConsent       = "consent"
	PromptSelectAccount = "select_account"
)

// ConsentState is the resource owner's decision on a request.
type ConsentState string

// Consent states. Allow and Deny are terminal.
const (
	ConsentNotGiven ConsentState = "not_given"
	ConsentAllow    ConsentState = "allow"
	ConsentDeny     ConsentState = "deny"
)

var (
	// ErrRedirectURIUnverified is returned when a response parameter is
	// attached before the redirect URI passed validation.
	ErrRedirectURIUnverified = errors.New("redirect URI has not been verified")

	// ErrConsentAlreadyGiven is returned when a decision is recorded twice.
	ErrConsentAlreadyGiven = errors.New("consent decision already recorded")
)

// Request is an authorization request in flight.
type Request struct {
	id        string
	createdAt time.Time

	params url.Values
	client *storage.Client

	responseType ResponseType
	responseMode ResponseMode
	tokenType    string
	scope        []string

	redirectURI      string
	redirectVerified bool
	fromRequestObj   bool

	consent  ConsentState
	user     *providers.UserInfo
	authTime time.Time

	attributes     map[string]any
	responseParams url.Values
	headers        http.Header
}

// NewRequest creates a request for client from already merged parameters.
func NewRequest(params url.Values, client *storage.Client, now time.Time) *Request {
	return &Request{
		createdAt:      now,
		params:         cloneValues(params),
		client:         client,
		consent:        ConsentNotGiven,
		attributes:     map[string]any{},
		responseParams: url.Values{},
		headers:        http.Header{},
	}
}

func cloneValues(v url.Values) url.Values {
	out := make(url.Values, len(v))
	for k, vs := range v {
		out[k] = slices.Clone(vs)
	}
	return out
}

// ID returns the authorization ID, empty until the request was stored.
func (r *Request) ID() string { return r.id }

// CreatedAt returns when the request was first received.
func (r *Request) CreatedAt() time.Time { return r.createdAt }

// Param returns the first value of a request parameter.
func (r *Request) Param(name string) string { return r.params.Get(name) }

// Params returns a copy of the request parameters.
func (r *Request) Params() url.Values { return cloneValues(r.params) }

// FlatParams returns the request parameters with only the first value of each.
func (r *Request) FlatParams() map[string]string {
	out := make(map[string]string, len(r.params))
	for k := range r.params {
		out[k] = r.params.Get(k)
	}
	return out
}

// Client returns the resolved client.
func (r *Request) Client() *storage.Client { return r.client }

// FromRequestObject reports whether parameters came from a request object.
func (r *Request) FromRequestObject() bool { return r.fromRequestObj }

// ResponseType returns the resolved response type, nil before the response
// type checker ran.
func (r *Request) ResponseType() ResponseType { return r.responseType }

// SetResponseType sets the resolved response type.
func (r *Request) SetResponseType(rt ResponseType) { r.responseType = rt }

// ResponseMode returns the resolved response mode.
func (r *Request) ResponseMode() ResponseMode { return r.responseMode }

// SetResponseMode sets the resolved response mode.
func (r *Request) SetResponseMode(m ResponseMode) { r.responseMode = m }

// TokenType returns the token type access tokens are issued with.
func (r *Request) TokenType() string { return r.tokenType }

// SetTokenType sets the token type.
func (r *Request) SetTokenType(name string) { r.tokenType = name }

// Scope returns the validated scope list.
func (r *Request) Scope() []string { return slices.Clone(r.scope) }

// SetScope replaces the validated scope list.
func (r *Request) SetScope(scopes []string) { r.scope = slices.Clone(scopes) }

// State returns the state parameter.
func (r *Request) State() string { return r.params.Get(ParamState) }

// Nonce returns the nonce parameter.
func (r *Request) Nonce() string { return r.params.Get(ParamNonce) }

// Prompts returns the space separated prompt values.
func (r *Request) Prompts() []string { return strings.Fields(r.params.Get(ParamPrompt)) }

// HasPrompt reports whether prompt contains value.
func (r *Request) HasPrompt(value string) bool { return slices.Contains(r.Prompts(), value) }

// RedirectURI returns the verified redirect URI, or "" when it was not
// verified yet.
func (r *Request) RedirectURI() string {
	if !r.redirectVerified {
		return ""
	}
	return r.redirectURI
}

// IsRedirectURIVerified reports whether errors may be sent to the client.
func (r *Request) IsRedirectURIVerified() bool { return r.redirectVerified }

// verifyRedirectURI marks uri as the validated redirect target.
func (r *Request) verifyRedirectURI(uri string) {
	r.redirectURI = uri
	r.redirectVerified = true
}

// Consent returns the consent state.
func (r *Request) Consent() ConsentState { return r.consent }

// Allow records consent. It fails once a decision exists.
func (r *Request) Allow() error { return r.decide(ConsentAllow) }

// Deny records refusal. It fails once a decision exists.
func (r *Request) Deny() error { return r.decide(ConsentDeny) }

func (r *Request) decide(state ConsentState) error {
	if r.consent != ConsentNotGiven {
		return ErrConsentAlreadyGiven
	}
	r.consent = state
	return nil
}

// User returns the authenticated resource owner, if any.
func (r *Request) User() *providers.UserInfo { return r.user }

// AuthTime returns when the resource owner authenticated.
func (r *Request) AuthTime() time.Time { return r.authTime }

// SetUser records the authenticated resource owner.
func (r *Request) SetUser(user *providers.UserInfo, authTime time.Time) {
	r.user = user
	r.authTime = authTime
}

// Attribute returns a scratch value.
func (r *Request) Attribute(key string) (any, bool) {
	v, ok := r.attributes[key]
	return v, ok
}

// SetAttribute stores a scratch value. Values must survive JSON encoding to
// outlive a login or consent round trip.
func (r *Request) SetAttribute(key string, value any) { r.attributes[key] = value }

// SetResponseParam attaches a parameter to the response.
func (r *Request) SetResponseParam(name, value string) error {
	if !r.redirectVerified {
		return ErrRedirectURIUnverified
	}
	r.responseParams.Set(name, value)
	return nil
}

// ResponseParam returns an attached response parameter.
func (r *Request) ResponseParam(name string) string { return r.responseParams.Get(name) }

// ResponseParams returns a copy of the attached response parameters.
func (r *Request) ResponseParams() url.Values { return cloneValues(r.responseParams) }

// resetResponse drops attached parameters, used before rendering an error.
func (r *Request) resetResponse() { r.responseParams = url.Values{} }

// SetHeader attaches a header to the response.
func (r *Request) SetHeader(name, value string) error {
	if !r.redirectVerified {
		return ErrRedirectURIUnverified
	}
	r.headers.Set(name, value)
	return nil
}

// Headers returns a copy of the attached headers.
func (r *Request) Headers() http.Header { return r.headers.Clone() }

// requestJSON is the form kept in the session store between round trips.
type requestJSON struct {
	ID               string              `json:"id"`
	CreatedAt        time.Time           `json:"created_at"`
	Params           map[string][]string `json:"params"`
	ClientID         string              `json:"client_id"`
	ResponseType     string              `json:"response_type,omitempty"`
	ResponseMode     string              `json:"response_mode,omitempty"`
	TokenType        string              `json:"token_type,omitempty"`
	Scope            []string            `json:"scope,omitempty"`
	RedirectURI      string              `json:"redirect_uri,omitempty"`
	RedirectVerified bool                `json:"redirect_verified"`
	FromRequestObj   bool                `json:"from_request_object,omitempty"`
	Consent          ConsentState        `json:"consent"`
	User             *providers.UserInfo `json:"user,omitempty"`
	AuthTime         time.Time           `json:"auth_time,omitzero"`
	Attributes       map[string]any      `json:"attributes,omitempty"`
}

func (r *Request) toJSON() requestJSON {
	dto := requestJSON{
		ID:               r.id,
		CreatedAt:        r.createdAt,
		Params:           cloneValues(r.params),
		ClientID:         r.client.ID(),
		TokenType:        r.tokenType,
		Scope:            r.scope,
		RedirectURI:      r.redirectURI,
		RedirectVerified: r.redirectVerified,
		FromRequestObj:   r.fromRequestObj,
		Consent:          r.consent,
		User:             r.user,
		AuthTime:         r.authTime,
		Attributes:       maps.Clone(r.attributes),
	}
	if r.responseType != nil {
		dto.ResponseType = r.responseType.Name()
	}
	if r.responseMode != nil {
		dto.ResponseMode = r.responseMode.Name()
	}
	return dto
}
