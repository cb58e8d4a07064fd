package valkey

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"

	"github.com/giantswarm/oauth-engine/internal/util"
	"github.com/giantswarm/oauth-engine/storage"
)

// AccessTokenRepository implements storage.AccessTokenRepository.
type AccessTokenRepository struct{ s *Store }

// Find returns the token or storage.ErrTokenNotFound.
func (r *AccessTokenRepository) Find(ctx context.Context, id string) (*storage.AccessToken, error) {
	if err := validateID(id); err != nil {
		return nil, storage.ErrTokenNotFound
	}
	token := &storage.AccessToken{}
	if err := r.s.get(ctx, r.s.accessKey(id), token, storage.ErrTokenNotFound); err != nil {
		return nil, err
	}
	return token, nil
}

// Save replaces the stored token. The key outlives the token by the
// configured retention.
func (r *AccessTokenRepository) Save(ctx context.Context, token *storage.AccessToken) error {
	if err := validateID(token.ID()); err != nil {
		return fmt.Errorf("invalid access token: %w", err)
	}
	if err := r.s.put(ctx, r.s.accessKey(token.ID()), token, token.ExpiresAt()); err != nil {
		return fmt.Errorf("failed to save access token: %w", err)
	}
	return nil
}

// Create issues and stores a new access token.
func (r *AccessTokenRepository) Create(ctx context.Context, params storage.TokenParams) (*storage.AccessToken, error) {
	token := storage.NewAccessToken(params.TokenID(), params)
	if err := r.Save(ctx, token); err != nil {
		return nil, err
	}
	return token, nil
}

// refreshEnvelope keeps the revoked flag outside the (possibly encrypted)
// payload so scripts can revoke a token without decrypting it. Access token
// links live in a separate set of sealed IDs.
type refreshEnvelope struct {
	Revoked bool   `json:"revoked"`
	Data    string `json:"data"`
}

// RefreshTokenRepository implements storage.RefreshTokenRepository.
type RefreshTokenRepository struct{ s *Store }

// Find returns the token or storage.ErrTokenNotFound.
func (r *RefreshTokenRepository) Find(ctx context.Context, id string) (*storage.RefreshToken, error) {
	if err := validateID(id); err != nil {
		return nil, storage.ErrTokenNotFound
	}
	raw, err := r.s.getRaw(ctx, r.s.refreshKey(id), storage.ErrTokenNotFound)
	if err != nil {
		return nil, err
	}
	return r.decode(ctx, id, raw)
}

// Save replaces the stored payload. A revoked flag already stored is kept
// and linked access tokens are never dropped.
func (r *RefreshTokenRepository) Save(ctx context.Context, token *storage.RefreshToken) error {
	if err := validateID(token.ID()); err != nil {
		return fmt.Errorf("invalid refresh token: %w", err)
	}
	key := r.s.refreshKey(token.ID())
	data, err := r.s.seal(key, token)
	if err != nil {
		return err
	}

	revoked := "0"
	if token.IsRevoked() {
		revoked = "1"
	}
	ttl := strconv.FormatInt(r.s.ttlFor(token.ExpiresAt()).Milliseconds(), 10)

	err = r.s.client.Do(ctx,
		r.s.client.B().Eval().Script(luaSaveRefreshToken).
			Numkeys(1).
			Key(key).
			Arg(data, revoked, ttl).
			Build(),
	).Error()
	if err != nil {
		return fmt.Errorf("failed to save refresh token: %w", err)
	}
	return nil
}

// Create issues and stores a new refresh token.
func (r *RefreshTokenRepository) Create(ctx context.Context, params storage.TokenParams) (*storage.RefreshToken, error) {
	token := storage.NewRefreshToken(params.TokenID(), params)
	if err := r.Save(ctx, token); err != nil {
		return nil, err
	}
	return token, nil
}

// Consume atomically revokes the token via a Lua script, so only one
// concurrent rotation can succeed across all instances.
func (r *RefreshTokenRepository) Consume(ctx context.Context, id string) (*storage.RefreshToken, error) {
	if err := validateID(id); err != nil {
		return nil, storage.ErrTokenNotFound
	}

	result, err := r.s.client.Do(ctx,
		r.s.client.B().Eval().Script(luaConsumeRefreshToken).
			Numkeys(1).
			Key(r.s.refreshKey(id)).
			Build(),
	).ToString()
	if err != nil {
		return nil, fmt.Errorf("failed to execute atomic refresh token check: %w", err)
	}

	switch {
	case result == "NOT_FOUND":
		return nil, storage.ErrTokenNotFound
	case strings.HasPrefix(result, "ALREADY_REVOKED:"):
		stored, err := r.decode(ctx, id, strings.TrimPrefix(result, "ALREADY_REVOKED:"))
		if err != nil {
			return nil, fmt.Errorf("failed to decode revoked refresh token: %w", err)
		}
		return stored, storage.ErrTokenRevoked
	}

	stored, err := r.decode(ctx, id, result)
	if err != nil {
		return nil, err
	}
	r.s.logger.Debug("Consumed refresh token",
		"token_prefix", util.SafeTruncate(id, tokenIDLogLength))
	return stored, nil
}

// LinkAccessToken adds accessTokenID to the link set of the refresh token.
func (r *RefreshTokenRepository) LinkAccessToken(ctx context.Context, id, accessTokenID string) error {
	if err := validateID(id); err != nil {
		return storage.ErrTokenNotFound
	}
	linksKey := r.s.refreshLinksKey(id)
	sealed, err := r.s.seal(linksKey, accessTokenID)
	if err != nil {
		return err
	}

	linked, err := r.s.client.Do(ctx,
		r.s.client.B().Eval().Script(luaLinkAccessToken).
			Numkeys(2).
			Key(r.s.refreshKey(id), linksKey).
			Arg(sealed).
			Build(),
	).AsInt64()
	if err != nil {
		return fmt.Errorf("failed to link access token: %w", err)
	}
	if linked == 0 {
		return storage.ErrTokenNotFound
	}
	return nil
}

// decode opens a raw refresh token envelope and merges in the linked
// access tokens.
func (r *RefreshTokenRepository) decode(ctx context.Context, id, raw string) (*storage.RefreshToken, error) {
	var env refreshEnvelope
	if err := json.Unmarshal([]byte(raw), &env); err != nil {
		return nil, fmt.Errorf("failed to unmarshal refresh token envelope: %w", err)
	}

	token := &storage.RefreshToken{}
	if err := r.s.open(r.s.refreshKey(id), env.Data, token); err != nil {
		return nil, err
	}
	if env.Revoked {
		token.Revoke()
	}

	linksKey := r.s.refreshLinksKey(id)
	members, err := r.s.client.Do(ctx, r.s.client.B().Smembers().Key(linksKey).Build()).AsStrSlice()
	if err != nil && !isNilError(err) {
		return nil, fmt.Errorf("failed to load access token links: %w", err)
	}
	ids, err := r.s.openIDs(linksKey, members)
	if err != nil {
		return nil, err
	}
	for _, atID := range ids {
		token.AddAccessToken(atID)
	}
	return token, nil
}
