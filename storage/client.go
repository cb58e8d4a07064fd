package storage

import (
	"encoding/json"
	"fmt"
	"slices"
	"time"
)

// Client metadata keys. Names follow OpenID Connect Dynamic Client
// Registration where one exists.
const (
	MetadataClientName                  = "client_name"
	MetadataRedirectURIs                = "redirect_uris"
	MetadataGrantTypes                  = "grant_types"
	MetadataResponseTypes               = "response_types"
	MetadataTokenEndpointAuthMethod     = "token_endpoint_auth_method"
	MetadataTokenEndpointAuthSigningAlg = "token_endpoint_auth_signing_alg"
	MetadataClientSecret                = "client_secret"
	MetadataClientSecretHash            = "client_secret_hash"
	MetadataClientSecretExpiresAt       = "client_secret_expires_at"
	MetadataJWKS                        = "jwks"
	MetadataJWKSURI                     = "jwks_uri"
	MetadataRequestObjectSigningAlg     = "request_object_signing_alg"
	MetadataRequestURIs                 = "request_uris"
	MetadataIDTokenSignedResponseAlg    = "id_token_signed_response_alg"
	MetadataIDTokenEncryptedAlg         = "id_token_encrypted_response_alg"
	MetadataIDTokenEncryptedEnc         = "id_token_encrypted_response_enc"
	MetadataScope                       = "scope"
	MetadataDefaultScope                = "default_scope"
	MetadataTokenTypes                  = "token_types"
	MetadataFirstParty                  = "first_party"
)

// Token endpoint authentication methods.
const (
	AuthMethodNone              = "none"
	AuthMethodClientSecretBasic = "client_secret_basic"
	AuthMethodClientSecretPost  = "client_secret_post"
	AuthMethodClientSecretJWT   = "client_secret_jwt"
	AuthMethodPrivateKeyJWT     = "private_key_jwt"
)

// Client is a registered OAuth client.
type Client struct {
	id        string
	ownerID   string
	deleted   bool
	metadata  DataBag
	createdAt time.Time
}

// NewClient creates a client. The metadata bag is copied.
func NewClient(id, ownerID string, metadata DataBag) *Client {
	return &Client{
		id:        id,
		ownerID:   ownerID,
		metadata:  metadata.Clone(),
		createdAt: time.Now(),
	}
}

// ID returns the client identifier.
func (c *Client) ID() string { return c.id }

// OwnerID returns the identifier of the resource owner that registered the client.
func (c *Client) OwnerID() string { return c.ownerID }

// CreatedAt returns the registration time.
func (c *Client) CreatedAt() time.Time { return c.createdAt }

// IsDeleted reports whether the client was deleted.
func (c *Client) IsDeleted() bool { return c.deleted }

// MarkDeleted flags the client as deleted. Deleted clients fail authentication.
func (c *Client) MarkDeleted() { c.deleted = true }

// Metadata returns a copy of the metadata bag.
func (c *Client) Metadata() DataBag { return c.metadata.Clone() }

// SetMetadata replaces the whole metadata bag. Keys absent from metadata are
// dropped rather than merged.
func (c *Client) SetMetadata(metadata DataBag) { c.metadata = metadata.Clone() }

// Name returns the human readable client name, falling back to the ID.
func (c *Client) Name() string {
	if n := c.metadata.String(MetadataClientName); n != "" {
		return n
	}
	return c.id
}

// RedirectURIs returns the registered redirect URIs.
func (c *Client) RedirectURIs() []string { return c.metadata.Strings(MetadataRedirectURIs) }

// HasRedirectURI reports whether uri literally matches a registered redirect URI.
func (c *Client) HasRedirectURI(uri string) bool {
	return slices.Contains(c.RedirectURIs(), uri)
}

// GrantTypes returns the allowed grant types, defaulting to authorization_code.
func (c *Client) GrantTypes() []string {
	if gt := c.metadata.Strings(MetadataGrantTypes); len(gt) > 0 {
		return gt
	}
	return []string{"authorization_code"}
}

// HasGrantType reports whether the client may use grantType.
func (c *Client) HasGrantType(grantType string) bool {
	return slices.Contains(c.GrantTypes(), grantType)
}

// ResponseTypes returns the allowed response types, defaulting to code.
func (c *Client) ResponseTypes() []string {
	if rt := c.metadata.Strings(MetadataResponseTypes); len(rt) > 0 {
		return rt
	}
	return []string{"code"}
}

// TokenEndpointAuthMethod returns the registered authentication method,
// defaulting to client_secret_basic.
func (c *Client) TokenEndpointAuthMethod() string {
	if m := c.metadata.String(MetadataTokenEndpointAuthMethod); m != "" {
		return m
	}
	return AuthMethodClientSecretBasic
}

// IsPublic reports whether the client cannot hold credentials.
func (c *Client) IsPublic() bool {
	return c.TokenEndpointAuthMethod() == AuthMethodNone
}

// TokenEndpointAuthSigningAlg returns the pinned client assertion algorithm, if any.
func (c *Client) TokenEndpointAuthSigningAlg() string {
	return c.metadata.String(MetadataTokenEndpointAuthSigningAlg)
}

// ClientSecret returns the plaintext secret, if stored. Plaintext secrets are
// required for client_secret_jwt and HMAC signed request objects.
func (c *Client) ClientSecret() string { return c.metadata.String(MetadataClientSecret) }

// ClientSecretHash returns the bcrypt hash of the secret, if stored.
func (c *Client) ClientSecretHash() string { return c.metadata.String(MetadataClientSecretHash) }

// ClientSecretExpiresAt returns when the secret expires. Zero means never.
func (c *Client) ClientSecretExpiresAt() time.Time {
	if ts := c.metadata.Int64(MetadataClientSecretExpiresAt); ts > 0 {
		return time.Unix(ts, 0)
	}
	return time.Time{}
}

// JWKS returns the inline JSON Web Key Set, if registered.
func (c *Client) JWKS() ([]byte, bool) {
	switch v := c.metadata[MetadataJWKS].(type) {
	case nil:
		return nil, false
	case string:
		return []byte(v), v != ""
	case []byte:
		return v, len(v) > 0
	default:
		raw, err := json.Marshal(v)
		if err != nil {
			return nil, false
		}
		return raw, true
	}
}

// JWKSURI returns the registered jwks_uri, if any.
func (c *Client) JWKSURI() string { return c.metadata.String(MetadataJWKSURI) }

// RequestObjectSigningAlg returns the pinned request object algorithm, if any.
func (c *Client) RequestObjectSigningAlg() string {
	return c.metadata.String(MetadataRequestObjectSigningAlg)
}

// RequestURIs returns the pre-registered request_uri prefixes.
func (c *Client) RequestURIs() []string { return c.metadata.Strings(MetadataRequestURIs) }

// IDTokenSignedResponseAlg returns the algorithm ID Tokens must be signed with, if pinned.
func (c *Client) IDTokenSignedResponseAlg() string {
	return c.metadata.String(MetadataIDTokenSignedResponseAlg)
}

// IDTokenEncryption returns the JWE key management algorithm and content
// encryption for ID Tokens. alg is empty when ID Tokens are not encrypted.
func (c *Client) IDTokenEncryption() (alg, enc string) {
	alg = c.metadata.String(MetadataIDTokenEncryptedAlg)
	enc = c.metadata.String(MetadataIDTokenEncryptedEnc)
	if alg != "" && enc == "" {
		enc = "A128CBC-HS256"
	}
	return alg, enc
}

// Scopes returns the scopes the client may request. Empty means unrestricted
// by the client.
func (c *Client) Scopes() []string { return c.metadata.Strings(MetadataScope) }

// DefaultScopes returns the scopes applied when a request carries none.
func (c *Client) DefaultScopes() []string { return c.metadata.Strings(MetadataDefaultScope) }

// TokenTypes returns the token types the client may receive. Empty means the
// server default only.
func (c *Client) TokenTypes() []string { return c.metadata.Strings(MetadataTokenTypes) }

// IsFirstParty reports whether the client is operated by the server owner.
// Consent is implied for first-party clients unless prompt=consent.
func (c *Client) IsFirstParty() bool { return c.metadata.Bool(MetadataFirstParty) }

type clientJSON struct {
	ID        string    `json:"id"`
	OwnerID   string    `json:"owner_id,omitempty"`
	Deleted   bool      `json:"deleted,omitempty"`
	Metadata  DataBag   `json:"metadata"`
	CreatedAt time.Time `json:"created_at"`
}

// MarshalJSON implements json.Marshaler.
func (c *Client) MarshalJSON() ([]byte, error) {
	return json.Marshal(clientJSON{
		ID:        c.id,
		OwnerID:   c.ownerID,
		Deleted:   c.deleted,
		Metadata:  c.metadata,
		CreatedAt: c.createdAt,
	})
}

// UnmarshalJSON implements json.Unmarshaler.
func (c *Client) UnmarshalJSON(data []byte) error {
	var dto clientJSON
	if err := json.Unmarshal(data, &dto); err != nil {
		return fmt.Errorf("failed to decode client: %w", err)
	}
	if dto.ID == "" {
		return fmt.Errorf("failed to decode client: missing id")
	}
	*c = Client{
		id:        dto.ID,
		ownerID:   dto.OwnerID,
		deleted:   dto.Deleted,
		metadata:  dto.Metadata.Clone(),
		createdAt: dto.CreatedAt,
	}
	return nil
}

// Clone returns a deep copy, used by stores to avoid sharing mutable state.
func (c *Client) Clone() *Client {
	cp := *c
	cp.metadata = c.metadata.Clone()
	return &cp
}
