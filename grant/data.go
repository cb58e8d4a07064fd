package grant

import (
	"maps"
	"net/url"

	"github.com/giantswarm/oauth-engine/storage"
	"github.com/giantswarm/oauth-engine/token"
)

// Data carries one token request through the grant and its extensions.
type Data struct {
	grantType string
	form      url.Values
	clientIP  string

	client          *storage.Client
	resourceOwnerID string
	scope           []string
	tokenType       token.Type

	parameters storage.DataBag
	metadata   storage.DataBag

	// refreshEligible lets the endpoint decide on a refresh token,
	// forceRefresh skips that decision.
	refreshEligible bool
	forceRefresh    bool
	refreshToken    *storage.RefreshToken
	refreshScope    []string

	// token IDs chosen before issuance
	accessTokenID  string
	refreshTokenID string

	attributes map[string]any
}

func newData(grantType string, form url.Values, clientIP string) *Data {
	return &Data{
		grantType:  grantType,
		form:       form,
		clientIP:   clientIP,
		parameters: storage.DataBag{},
		metadata:   storage.DataBag{},
		attributes: map[string]any{},
	}
}

// GrantType returns the grant_type of the request.
func (d *Data) GrantType() string { return d.grantType }

// Param returns a form parameter of the request.
func (d *Data) Param(name string) string { return d.form.Get(name) }

// ClientIP returns the address the request came from.
func (d *Data) ClientIP() string { return d.clientIP }

// Client returns the authenticated client, or nil before authentication.
func (d *Data) Client() *storage.Client { return d.client }

// SetClient sets the client. Grants that authenticate the client
// themselves call it from PrepareResponse.
func (d *Data) SetClient(c *storage.Client) { d.client = c }

// ResourceOwnerID returns the user the tokens are issued for. It is empty
// for client-only grants.
func (d *Data) ResourceOwnerID() string { return d.resourceOwnerID }

// SetResourceOwnerID sets the resource owner.
func (d *Data) SetResourceOwnerID(id string) { d.resourceOwnerID = id }

// Scope returns the granted scopes.
func (d *Data) Scope() []string { return d.scope }

// SetScope sets the granted scopes.
func (d *Data) SetScope(s []string) { d.scope = s }

// TokenType returns the access token type selected for the request.
func (d *Data) TokenType() token.Type { return d.tokenType }

// Parameters returns the bag copied onto issued tokens as parameters.
// Callers may modify it.
func (d *Data) Parameters() storage.DataBag { return d.parameters }

// Metadata returns the bag copied onto issued tokens as metadata.
// Callers may modify it.
func (d *Data) Metadata() storage.DataBag { return d.metadata }

// SetRefreshEligible marks the request as allowed to receive a refresh
// token. The endpoint still checks the client and, when configured, the
// offline_access scope.
func (d *Data) SetRefreshEligible(v bool) { d.refreshEligible = v }

// RefreshEligible reports whether a refresh token may be issued.
func (d *Data) RefreshEligible() bool { return d.refreshEligible }

// ForceRefresh makes the endpoint issue a new refresh token regardless of
// the client's registration, as refresh token rotation requires.
func (d *Data) ForceRefresh() { d.forceRefresh = true }

// ReuseRefreshToken links the new access token to an existing refresh
// token instead of issuing one.
func (d *Data) ReuseRefreshToken(rt *storage.RefreshToken) { d.refreshToken = rt }

// ReserveTokenIDs fixes the IDs of the tokens the endpoint will issue, so a
// grant can record them before they exist.
func (d *Data) ReserveTokenIDs(accessTokenID, refreshTokenID string) {
	d.accessTokenID = accessTokenID
	d.refreshTokenID = refreshTokenID
}

// SetRefreshScope overrides the scope stored on a new refresh token. By
// default it is the access token scope.
func (d *Data) SetRefreshScope(s []string) { d.refreshScope = s }

// Attribute returns a value stored by an earlier step.
func (d *Data) Attribute(key string) (any, bool) {
	v, ok := d.attributes[key]
	return v, ok
}

// SetAttribute stores a value for later steps of the same request.
func (d *Data) SetAttribute(key string, v any) { d.attributes[key] = v }

// Response is a successful token response.
type Response struct {
	// AccessToken is the issued access token.
	AccessToken *storage.AccessToken

	// RefreshToken is set when a new refresh token was issued.
	RefreshToken *storage.RefreshToken

	payload map[string]any
}

func newResponse() *Response {
	return &Response{payload: map[string]any{}}
}

// Set adds a field to the JSON body.
func (r *Response) Set(key string, v any) { r.payload[key] = v }

// Get returns a field of the JSON body.
func (r *Response) Get(key string) (any, bool) {
	v, ok := r.payload[key]
	return v, ok
}

// Payload returns a copy of the JSON body.
func (r *Response) Payload() map[string]any { return maps.Clone(r.payload) }
