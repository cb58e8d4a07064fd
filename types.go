package oauth

import "github.com/giantswarm/oauth-engine/server"

// AuthorizationServerMetadata is the discovery document (RFC 8414 and
// OpenID Connect Discovery 1.0).
type AuthorizationServerMetadata = server.Metadata

// ErrorResponse represents an OAuth error response
type ErrorResponse struct {
	// Error is the error code
	Error string `json:"error"`

	// ErrorDescription provides additional information
	ErrorDescription string `json:"error_description,omitempty"`
}

// TokenResponse represents a token endpoint response
type TokenResponse struct {
	// AccessToken is the access token
	AccessToken string `json:"access_token"`

	// TokenType is the type of token, "Bearer" unless configured otherwise
	TokenType string `json:"token_type"`

	// ExpiresIn is the lifetime in seconds of the access token
	ExpiresIn int64 `json:"expires_in,omitempty"`

	// RefreshToken is the refresh token (optional)
	RefreshToken string `json:"refresh_token,omitempty"`

	// Scope is the granted scope when it differs from the requested one
	Scope string `json:"scope,omitempty"`

	// IDToken is set when the openid scope was granted
	IDToken string `json:"id_token,omitempty"`
}

// IntrospectionResponse represents an RFC 7662 introspection response.
// Inactive tokens carry only Active.
type IntrospectionResponse struct {
	Active    bool   `json:"active"`
	Scope     string `json:"scope,omitempty"`
	ClientID  string `json:"client_id,omitempty"`
	Username  string `json:"username,omitempty"`
	TokenType string `json:"token_type,omitempty"`
	Exp       int64  `json:"exp,omitempty"`
	Iat       int64  `json:"iat,omitempty"`
	Sub       string `json:"sub,omitempty"`
	Iss       string `json:"iss,omitempty"`
}
