package grant

import (
	"context"
	"net/http"

	"github.com/giantswarm/oauth-engine/oautherr"
)

// Implicit is registered so clients and response types can be checked
// against the implicit grant. Its tokens are issued by the authorization
// endpoint; the token endpoint refuses it.
type Implicit struct{}

// Name implements GrantType.
func (Implicit) Name() string { return TypeImplicit }

// AuthorizationEndpointOnly keeps the token endpoint from dispatching here.
func (Implicit) AuthorizationEndpointOnly() bool { return true }

// CheckRequest implements GrantType.
func (Implicit) CheckRequest(*http.Request) error {
	return oautherr.InvalidRequest("The implicit grant is only available at the authorization endpoint")
}

// PrepareResponse implements GrantType.
func (Implicit) PrepareResponse(context.Context, *http.Request, *Data) error { return nil }

// Grant implements GrantType.
func (Implicit) Grant(context.Context, *http.Request, *Data) error {
	return oautherr.InvalidRequest("The implicit grant is only available at the authorization endpoint")
}
