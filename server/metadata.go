package server

import (
	"slices"

	"github.com/giantswarm/oauth-engine/grant"
	"github.com/giantswarm/oauth-engine/internal/pkce"
	"github.com/giantswarm/oauth-engine/jose"
	"github.com/giantswarm/oauth-engine/storage"
)

// Metadata is the discovery document served at both
// /.well-known/openid-configuration and
// /.well-known/oauth-authorization-server (RFC 8414).
type Metadata struct {
	Issuer                string `json:"issuer"`
	AuthorizationEndpoint string `json:"authorization_endpoint"`
	TokenEndpoint         string `json:"token_endpoint"`
	IntrospectionEndpoint string `json:"introspection_endpoint,omitempty"`
	RevocationEndpoint    string `json:"revocation_endpoint,omitempty"`
	JWKSURI               string `json:"jwks_uri"`

	ScopesSupported        []string `json:"scopes_supported,omitempty"`
	ResponseTypesSupported []string `json:"response_types_supported"`
	ResponseModesSupported []string `json:"response_modes_supported,omitempty"`
	GrantTypesSupported    []string `json:"grant_types_supported"`
	SubjectTypesSupported  []string `json:"subject_types_supported"`

	TokenEndpointAuthMethodsSupported          []string `json:"token_endpoint_auth_methods_supported"`
	TokenEndpointAuthSigningAlgValuesSupported []string `json:"token_endpoint_auth_signing_alg_values_supported,omitempty"`
	IntrospectionEndpointAuthMethodsSupported  []string `json:"introspection_endpoint_auth_methods_supported,omitempty"`
	RevocationEndpointAuthMethodsSupported     []string `json:"revocation_endpoint_auth_methods_supported,omitempty"`
	IDTokenSigningAlgValuesSupported           []string `json:"id_token_signing_alg_values_supported"`
	RequestObjectSigningAlgValuesSupported     []string `json:"request_object_signing_alg_values_supported,omitempty"`
	RequestObjectEncryptionAlgValuesSupported  []string `json:"request_object_encryption_alg_values_supported,omitempty"`
	RequestObjectEncryptionEncValuesSupported  []string `json:"request_object_encryption_enc_values_supported,omitempty"`
	CodeChallengeMethodsSupported              []string `json:"code_challenge_methods_supported"`
	TokenTypesSupported                        []string `json:"token_types_supported,omitempty"`
	TokenTypeHintsSupported                    []string `json:"token_type_hints_supported,omitempty"`
	RequestParameterSupported                  bool     `json:"request_parameter_supported"`
	RequestURIParameterSupported               bool     `json:"request_uri_parameter_supported"`
	RequireRequestURIRegistration              bool     `json:"require_request_uri_registration"`
	AuthorizationResponseIssParameterSupported bool     `json:"authorization_response_iss_parameter_supported"`
	ClaimsParameterSupported                   bool     `json:"claims_parameter_supported"`
	ClaimsSupported                            []string `json:"claims_supported,omitempty"`
}

var standardClaims = []string{
	"iss", "sub", "aud", "exp", "iat", "auth_time", "nonce", "at_hash", "c_hash",
	"name", "given_name", "family_name", "preferred_username", "picture", "locale",
	"email", "email_verified",
}

// Metadata returns the discovery document. Every list is read from the
// registries so it always matches what the endpoints accept.
func (s *Server) Metadata() *Metadata {
	cfg := s.Config
	methods := s.ClientAuth.SupportedMethods()

	challenge := []string{pkce.MethodS256}
	if cfg.AllowPKCEPlain {
		challenge = append(challenge, pkce.MethodPlain)
	}

	m := &Metadata{
		Issuer:                cfg.Issuer,
		AuthorizationEndpoint: cfg.AuthorizationEndpoint(),
		TokenEndpoint:         cfg.TokenEndpoint(),
		IntrospectionEndpoint: cfg.IntrospectionEndpoint(),
		RevocationEndpoint:    cfg.RevocationEndpoint(),
		JWKSURI:               cfg.JWKSEndpoint(),

		ScopesSupported:        s.Scopes.Supported(),
		ResponseTypesSupported: s.ResponseTypes.Names(),
		GrantTypesSupported:    s.Grants.Names(),
		SubjectTypesSupported:  []string{"public"},

		TokenEndpointAuthMethodsSupported:          methods,
		IntrospectionEndpointAuthMethodsSupported:  methods,
		RevocationEndpointAuthMethodsSupported:     methods,
		IDTokenSigningAlgValuesSupported:           []string{s.IDTokens.SigningAlgorithm()},
		CodeChallengeMethodsSupported:              challenge,
		TokenTypesSupported:                        s.TokenTypes.Names(),
		TokenTypeHintsSupported:                    s.Tokens.Hints(),
		AuthorizationResponseIssParameterSupported: !cfg.DisableIssuerResponseParameter,
		ClaimsSupported:                            standardClaims,
	}

	if !cfg.DisableResponseModeParameter {
		m.ResponseModesSupported = s.ResponseModes.Names()
	}

	if slices.ContainsFunc(methods, isAssertionMethod) {
		m.TokenEndpointAuthSigningAlgValuesSupported = jose.SupportedAlgorithmNames()
	}

	if !cfg.RequestObject.Disabled {
		m.RequestParameterSupported = true
		m.RequestURIParameterSupported = cfg.RequestObject.RequestURIEnabled
		m.RequireRequestURIRegistration = cfg.RequestObject.RequireRequestURIRegistration
		m.RequestObjectSigningAlgValuesSupported = jose.SupportedAlgorithmNames()
		if cfg.RequestObject.AllowUnsigned {
			m.RequestObjectSigningAlgValuesSupported = append(m.RequestObjectSigningAlgValuesSupported, "none")
		}
		if s.Decrypter != nil {
			for _, a := range jose.KeyAlgorithms {
				m.RequestObjectEncryptionAlgValuesSupported = append(m.RequestObjectEncryptionAlgValuesSupported, string(a))
			}
			for _, e := range jose.ContentEncryptions {
				m.RequestObjectEncryptionEncValuesSupported = append(m.RequestObjectEncryptionEncValuesSupported, string(e))
			}
		}
	}

	return m
}

func isAssertionMethod(name string) bool {
	return name == storage.AuthMethodClientSecretJWT || name == storage.AuthMethodPrivateKeyJWT
}

// HasGrant reports whether the token endpoint accepts the grant type.
func (s *Server) HasGrant(name string) bool {
	return name != grant.TypeImplicit && slices.Contains(s.Grants.Names(), name)
}
