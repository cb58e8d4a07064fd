package grant

import (
	"context"
	"net/http"
)

// Grant type names.
const (
	TypeAuthorizationCode = "authorization_code"
	TypeClientCredentials = "client_credentials"
	TypeRefreshToken      = "refresh_token"
	TypePassword          = "password"
	TypeImplicit          = "implicit"
	TypeJWTBearer         = "urn:ietf:params:oauth:grant-type:jwt-bearer"
)

// GrantType is one way of obtaining tokens at the token endpoint.
type GrantType interface {
	// Name is the grant_type value.
	Name() string

	// CheckRequest validates the presence and shape of the grant's
	// parameters before anything is looked up.
	CheckRequest(r *http.Request) error

	// PrepareResponse runs before client authentication. A grant that
	// identifies the client itself sets it on data here.
	PrepareResponse(ctx context.Context, r *http.Request, data *Data) error

	// Grant validates the grant against the authenticated client and fills
	// in the resource owner, scope and token parameters.
	Grant(ctx context.Context, r *http.Request, data *Data) error
}

// TokensIssuedObserver is implemented by grants that need to know which
// tokens were issued, for example to revoke them later.
type TokensIssuedObserver interface {
	TokensIssued(ctx context.Context, data *Data, resp *Response) error
}

// authorizationEndpointOnly is implemented by grants that are only
// obtainable at the authorization endpoint.
type authorizationEndpointOnly interface {
	AuthorizationEndpointOnly() bool
}

// Registry holds the enabled grant types.
type Registry struct {
	grants []GrantType
}

// NewRegistry creates a registry. Later grants with a name already
// registered replace earlier ones.
func NewRegistry(grants ...GrantType) *Registry {
	r := &Registry{}
	for _, g := range grants {
		r.Register(g)
	}
	return r
}

// Register adds or replaces a grant type.
func (r *Registry) Register(g GrantType) {
	for i, existing := range r.grants {
		if existing.Name() == g.Name() {
			r.grants[i] = g
			return
		}
	}
	r.grants = append(r.grants, g)
}

// Get returns the grant registered under name.
func (r *Registry) Get(name string) (GrantType, bool) {
	for _, g := range r.grants {
		if g.Name() == name {
			return g, true
		}
	}
	return nil, false
}

// Names returns the registered grant type names, for discovery.
func (r *Registry) Names() []string {
	names := make([]string, len(r.grants))
	for i, g := range r.grants {
		names[i] = g.Name()
	}
	return names
}
