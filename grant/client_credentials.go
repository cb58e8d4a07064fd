package grant

import (
	"context"
	"net/http"

	"github.com/giantswarm/oauth-engine/oautherr"
	"github.com/giantswarm/oauth-engine/scope"
)

// ParamScope is the scope form parameter.
const ParamScope = "scope"

// ClientCredentials issues tokens to a confidential client acting on its
// own behalf. No refresh token is issued (RFC 6749 section 4.4.3).
type ClientCredentials struct {
	Scopes *scope.Validator
}

// NewClientCredentials creates the grant.
func NewClientCredentials(scopes *scope.Validator) *ClientCredentials {
	if scopes == nil {
		scopes = scope.NewValidator(nil, nil)
	}
	return &ClientCredentials{Scopes: scopes}
}

// Name implements GrantType.
func (*ClientCredentials) Name() string { return TypeClientCredentials }

// CheckRequest implements GrantType.
func (*ClientCredentials) CheckRequest(*http.Request) error { return nil }

// PrepareResponse implements GrantType.
func (*ClientCredentials) PrepareResponse(context.Context, *http.Request, *Data) error { return nil }

// Grant implements GrantType.
func (g *ClientCredentials) Grant(_ context.Context, _ *http.Request, data *Data) error {
	if data.Client().IsPublic() {
		return oautherr.UnauthorizedClient("Public clients may not use the client_credentials grant")
	}

	granted, err := g.Scopes.Validate(data.Client(), data.Param(ParamScope))
	if err != nil {
		return err
	}
	data.SetScope(granted)
	return nil
}
