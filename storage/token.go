package storage

import (
	"encoding/json"
	"fmt"
	"maps"
	"slices"
	"time"

	"golang.org/x/oauth2"

	"github.com/giantswarm/oauth-engine/security"
)

// Token is the behaviour shared by authorization codes, access tokens and
// refresh tokens.
type Token interface {
	ID() string
	ClientID() string
	ResourceOwnerID() string
	Parameters() DataBag
	Metadata() DataBag
	ExpiresAt() time.Time
	CreatedAt() time.Time
	IsRevoked() bool
	IsExpired(now time.Time, grace time.Duration) bool
	Revoke()
}

// NewTokenID returns a 256-bit random, URL-safe identifier suitable for use
// as a bearer credential.
func NewTokenID() string {
	return oauth2.GenerateVerifier()
}

// TokenParams holds the values a token is created from.
type TokenParams struct {
	// ID is the token value. Create generates one when it is empty.
	ID string

	ClientID        string
	ResourceOwnerID string
	ExpiresAt       time.Time

	// Parameters are returned to, or visible to, the client (scope, token_type).
	Parameters DataBag

	// Metadata is server-internal context (nonce, auth_time, claims).
	Metadata DataBag

	// RefreshTokenID links an access token to the refresh token it was issued with.
	RefreshTokenID string
}

// TokenID returns p.ID, or a new random identifier if it is empty.
func (p TokenParams) TokenID() string {
	if p.ID != "" {
		return p.ID
	}
	return NewTokenID()
}

// AuthorizationCodeParams holds the values an authorization code is created from.
type AuthorizationCodeParams struct {
	TokenParams

	// RedirectURI is the redirect_uri of the authorization request, empty if
	// the request omitted it.
	RedirectURI string

	// QueryParameters are the parameters of the authorization request after
	// request object merging.
	QueryParameters map[string]string
}

type tokenBase struct {
	id              string
	clientID        string
	resourceOwnerID string
	parameters      DataBag
	metadata        DataBag
	expiresAt       time.Time
	createdAt       time.Time
	revoked         bool
}

func newTokenBase(id string, p TokenParams) tokenBase {
	return tokenBase{
		id:              id,
		clientID:        p.ClientID,
		resourceOwnerID: p.ResourceOwnerID,
		parameters:      p.Parameters.Clone(),
		metadata:        p.Metadata.Clone(),
		expiresAt:       p.ExpiresAt,
		createdAt:       time.Now(),
	}
}

// ID returns the token value.
func (t *tokenBase) ID() string { return t.id }

// ClientID returns the client the token was issued to.
func (t *tokenBase) ClientID() string { return t.clientID }

// ResourceOwnerID returns the user (or client, for client_credentials) the token acts for.
func (t *tokenBase) ResourceOwnerID() string { return t.resourceOwnerID }

// Parameters returns a copy of the client visible parameters.
func (t *tokenBase) Parameters() DataBag { return t.parameters.Clone() }

// Metadata returns a copy of the server-internal metadata.
func (t *tokenBase) Metadata() DataBag { return t.metadata.Clone() }

// ExpiresAt returns the expiry time.
func (t *tokenBase) ExpiresAt() time.Time { return t.expiresAt }

// CreatedAt returns the issuance time.
func (t *tokenBase) CreatedAt() time.Time { return t.createdAt }

// IsRevoked reports whether the token was revoked.
func (t *tokenBase) IsRevoked() bool { return t.revoked }

// IsExpired reports whether the token expired more than grace before now.
func (t *tokenBase) IsExpired(now time.Time, grace time.Duration) bool {
	return security.IsExpiredAt(t.expiresAt, now, grace)
}

// Revoke marks the token revoked. Revocation is permanent.
func (t *tokenBase) Revoke() { t.revoked = true }

// Scope returns the granted scope list.
func (t *tokenBase) Scope() []string { return t.parameters.Strings("scope") }

// AccessToken is an issued access token.
type AccessToken struct {
	tokenBase
	refreshTokenID string
}

// NewAccessToken creates an access token with the given ID.
func NewAccessToken(id string, p TokenParams) *AccessToken {
	return &AccessToken{tokenBase: newTokenBase(id, p), refreshTokenID: p.RefreshTokenID}
}

// RefreshTokenID returns the refresh token this access token was issued alongside, if any.
func (t *AccessToken) RefreshTokenID() string { return t.refreshTokenID }

// RefreshToken is an issued refresh token.
type RefreshToken struct {
	tokenBase
	accessTokenIDs []string
}

// NewRefreshToken creates a refresh token with the given ID.
func NewRefreshToken(id string, p TokenParams) *RefreshToken {
	return &RefreshToken{tokenBase: newTokenBase(id, p)}
}

// AddAccessToken records an access token spawned from this refresh token.
func (t *RefreshToken) AddAccessToken(accessTokenID string) {
	if !slices.Contains(t.accessTokenIDs, accessTokenID) {
		t.accessTokenIDs = append(t.accessTokenIDs, accessTokenID)
	}
}

// MergeFrom carries the revoked flag and the linked access tokens of stored
// over to t, so writing t back never undoes either.
func (t *RefreshToken) MergeFrom(stored *RefreshToken) {
	if stored == nil {
		return
	}
	if stored.revoked {
		t.revoked = true
	}
	for _, id := range stored.accessTokenIDs {
		t.AddAccessToken(id)
	}
}

// AccessTokenIDs returns the access tokens spawned from this refresh token.
func (t *RefreshToken) AccessTokenIDs() []string { return slices.Clone(t.accessTokenIDs) }

// AuthorizationCode is a single-use authorization code.
type AuthorizationCode struct {
	tokenBase
	redirectURI     string
	queryParameters map[string]string
	used            bool
	issuedTokenIDs  []string
}

// NewAuthorizationCode creates an authorization code with the given ID.
func NewAuthorizationCode(id string, p AuthorizationCodeParams) *AuthorizationCode {
	return &AuthorizationCode{
		tokenBase:       newTokenBase(id, p.TokenParams),
		redirectURI:     p.RedirectURI,
		queryParameters: maps.Clone(p.QueryParameters),
	}
}

// RedirectURI returns the redirect_uri the code was issued for.
func (c *AuthorizationCode) RedirectURI() string { return c.redirectURI }

// QueryParameter returns one parameter of the original authorization request.
func (c *AuthorizationCode) QueryParameter(name string) string { return c.queryParameters[name] }

// QueryParameters returns a copy of the original authorization request parameters.
func (c *AuthorizationCode) QueryParameters() map[string]string { return maps.Clone(c.queryParameters) }

// IsUsed reports whether the code was already exchanged.
func (c *AuthorizationCode) IsUsed() bool { return c.used }

// MarkUsed flags the code as exchanged. It fails if the code was already used.
func (c *AuthorizationCode) MarkUsed() error {
	if c.used {
		return ErrAuthorizationCodeUsed
	}
	c.used = true
	return nil
}

// RecordIssuedTokens remembers the tokens issued from this code so they can
// be revoked if the code is presented again.
func (c *AuthorizationCode) RecordIssuedTokens(ids ...string) {
	for _, id := range ids {
		if id != "" && !slices.Contains(c.issuedTokenIDs, id) {
			c.issuedTokenIDs = append(c.issuedTokenIDs, id)
		}
	}
}

// IssuedTokenIDs returns the IDs of tokens issued from this code.
func (c *AuthorizationCode) IssuedTokenIDs() []string { return slices.Clone(c.issuedTokenIDs) }

// tokenJSON is the persisted form shared by all token kinds.
type tokenJSON struct {
	ID              string            `json:"id"`
	ClientID        string            `json:"client_id"`
	ResourceOwnerID string            `json:"resource_owner_id,omitempty"`
	Parameters      DataBag           `json:"parameters,omitempty"`
	Metadata        DataBag           `json:"metadata,omitempty"`
	ExpiresAt       time.Time         `json:"expires_at"`
	CreatedAt       time.Time         `json:"created_at"`
	Revoked         bool              `json:"revoked,omitempty"`
	RefreshTokenID  string            `json:"refresh_token_id,omitempty"`
	AccessTokenIDs  []string          `json:"access_token_ids,omitempty"`
	RedirectURI     string            `json:"redirect_uri,omitempty"`
	QueryParameters map[string]string `json:"query_parameters,omitempty"`
	Used            bool              `json:"used,omitempty"`
	IssuedTokenIDs  []string          `json:"issued_token_ids,omitempty"`
}

func (t *tokenBase) toJSON() tokenJSON {
	return tokenJSON{
		ID:              t.id,
		ClientID:        t.clientID,
		ResourceOwnerID: t.resourceOwnerID,
		Parameters:      t.parameters,
		Metadata:        t.metadata,
		ExpiresAt:       t.expiresAt,
		CreatedAt:       t.createdAt,
		Revoked:         t.revoked,
	}
}

func (dto *tokenJSON) base() (tokenBase, error) {
	if dto.ID == "" {
		return tokenBase{}, fmt.Errorf("missing id")
	}
	return tokenBase{
		id:              dto.ID,
		clientID:        dto.ClientID,
		resourceOwnerID: dto.ResourceOwnerID,
		parameters:      dto.Parameters.Clone(),
		metadata:        dto.Metadata.Clone(),
		expiresAt:       dto.ExpiresAt,
		createdAt:       dto.CreatedAt,
		revoked:         dto.Revoked,
	}, nil
}

// MarshalJSON implements json.Marshaler.
func (t *AccessToken) MarshalJSON() ([]byte, error) {
	dto := t.toJSON()
	dto.RefreshTokenID = t.refreshTokenID
	return json.Marshal(dto)
}

// UnmarshalJSON implements json.Unmarshaler.
func (t *AccessToken) UnmarshalJSON(data []byte) error {
	var dto tokenJSON
	if err := json.Unmarshal(data, &dto); err != nil {
		return fmt.Errorf("failed to decode access token: %w", err)
	}
	base, err := dto.base()
	if err != nil {
		return fmt.Errorf("failed to decode access token: %w", err)
	}
	*t = AccessToken{tokenBase: base, refreshTokenID: dto.RefreshTokenID}
	return nil
}

// MarshalJSON implements json.Marshaler.
func (t *RefreshToken) MarshalJSON() ([]byte, error) {
	dto := t.toJSON()
	dto.AccessTokenIDs = t.accessTokenIDs
	return json.Marshal(dto)
}

// UnmarshalJSON implements json.Unmarshaler.
func (t *RefreshToken) UnmarshalJSON(data []byte) error {
	var dto tokenJSON
	if err := json.Unmarshal(data, &dto); err != nil {
		return fmt.Errorf("failed to decode refresh token: %w", err)
	}
	base, err := dto.base()
	if err != nil {
		return fmt.Errorf("failed to decode refresh token: %w", err)
	}
	*t = RefreshToken{tokenBase: base, accessTokenIDs: dto.AccessTokenIDs}
	return nil
}

// MarshalJSON implements json.Marshaler.
func (c *AuthorizationCode) MarshalJSON() ([]byte, error) {
	dto := c.toJSON()
	dto.RedirectURI = c.redirectURI
	dto.QueryParameters = c.queryParameters
	dto.Used = c.used
	dto.IssuedTokenIDs = c.issuedTokenIDs
	return json.Marshal(dto)
}

// UnmarshalJSON implements json.Unmarshaler.
func (c *AuthorizationCode) UnmarshalJSON(data []byte) error {
	var dto tokenJSON
	if err := json.Unmarshal(data, &dto); err != nil {
		return fmt.Errorf("failed to decode authorization code: %w", err)
	}
	base, err := dto.base()
	if err != nil {
		return fmt.Errorf("failed to decode authorization code: %w", err)
	}
	*c = AuthorizationCode{
		tokenBase:       base,
		redirectURI:     dto.RedirectURI,
		queryParameters: dto.QueryParameters,
		used:            dto.Used,
		issuedTokenIDs:  dto.IssuedTokenIDs,
	}
	return nil
}

func (t tokenBase) clone() tokenBase {
	t.parameters = t.parameters.Clone()
	t.metadata = t.metadata.Clone()
	return t
}

// Clone returns a deep copy, used by stores to avoid sharing mutable state.
func (t *AccessToken) Clone() *AccessToken {
	return &AccessToken{tokenBase: t.tokenBase.clone(), refreshTokenID: t.refreshTokenID}
}

// Clone returns a deep copy, used by stores to avoid sharing mutable state.
func (t *RefreshToken) Clone() *RefreshToken {
	return &RefreshToken{tokenBase: t.tokenBase.clone(), accessTokenIDs: slices.Clone(t.accessTokenIDs)}
}

// Clone returns a deep copy, used by stores to avoid sharing mutable state.
func (c *AuthorizationCode) Clone() *AuthorizationCode {
	return &AuthorizationCode{
		tokenBase:       c.tokenBase.clone(),
		redirectURI:     c.redirectURI,
		queryParameters: maps.Clone(c.queryParameters),
		used:            c.used,
		issuedTokenIDs:  slices.Clone(c.issuedTokenIDs),
	}
}
