package token

import (
	"fmt"
	"slices"

	"github.com/giantswarm/oauth-engine/oautherr"
	"github.com/giantswarm/oauth-engine/storage"
)

// ParamTokenType is the parameter name holding the token type of an access token.
const ParamTokenType = "token_type"

// Type is an access token type.
type Type interface {
	// Name is the token_type value returned to clients.
	Name() string

	// ResponseParameters returns extra fields to add to a token response.
	ResponseParameters(at *storage.AccessToken) map[string]any
}

// Bearer is the RFC 6750 bearer token type.
type Bearer struct{}

// Name implements Type.
func (Bearer) Name() string { return "Bearer" }

// ResponseParameters implements Type.
func (Bearer) ResponseParameters(*storage.AccessToken) map[string]any { return nil }

// Registry holds the known token types.
type Registry struct {
	types []Type
	def   Type
}

// NewRegistry creates a registry whose first entry is the default type.
// With no arguments the registry only knows Bearer.
func NewRegistry(types ...Type) *Registry {
	if len(types) == 0 {
		types = []Type{Bearer{}}
	}
	return &Registry{types: types, def: types[0]}
}

// Get returns the type registered under name, case-sensitively.
func (r *Registry) Get(name string) (Type, bool) {
	for _, t := range r.types {
		if t.Name() == name {
			return t, true
		}
	}
	return nil, false
}

// Default returns the default type.
func (r *Registry) Default() Type { return r.def }

// Names returns the registered type names.
func (r *Registry) Names() []string {
	names := make([]string, len(r.types))
	for i, t := range r.types {
		names[i] = t.Name()
	}
	return names
}

// ForClient resolves the type a client asked for. An empty request selects
// the default. Clients that list token_types may only use those.
func (r *Registry) ForClient(client *storage.Client, requested string) (Type, error) {
	t := r.def
	if requested != "" {
		var ok bool
		if t, ok = r.Get(requested); !ok {
			return nil, oautherr.InvalidRequest(fmt.Sprintf("Unknown token type %q", requested)).ForParameter(ParamTokenType)
		}
	}

	if allowed := client.TokenTypes(); len(allowed) > 0 && !slices.Contains(allowed, t.Name()) {
		return nil, oautherr.UnauthorizedClient(fmt.Sprintf("The client may not use token type %q", t.Name()))
	}
	return t, nil
}
