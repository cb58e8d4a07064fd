package valkey

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/giantswarm/oauth-engine/internal/util"
	"github.com/giantswarm/oauth-engine/storage"
)

// codeEnvelope keeps the used flag and the issued token IDs outside the
// (possibly encrypted) payload so the mark-used script can update them
// without decrypting. Issued holds individually sealed IDs.
type codeEnvelope struct {
	Used   bool     `json:"used"`
	Data   string   `json:"data"`
	Issued []string `json:"issued,omitempty"`
}

// AuthorizationCodeRepository implements storage.AuthorizationCodeRepository.
type AuthorizationCodeRepository struct{ s *Store }

// Find returns the code or storage.ErrAuthorizationCodeNotFound.
func (r *AuthorizationCodeRepository) Find(ctx context.Context, code string) (*storage.AuthorizationCode, error) {
	if err := validateID(code); err != nil {
		return nil, storage.ErrAuthorizationCodeNotFound
	}

	key := r.s.codeKey(code)
	raw, err := r.s.getRaw(ctx, key, storage.ErrAuthorizationCodeNotFound)
	if err != nil {
		return nil, err
	}

	return r.decode(key, raw)
}

// Save replaces the stored code, keeping its used flag.
func (r *AuthorizationCodeRepository) Save(ctx context.Context, code *storage.AuthorizationCode) error {
	if err := validateID(code.ID()); err != nil {
		return fmt.Errorf("invalid authorization code: %w", err)
	}

	key := r.s.codeKey(code.ID())
	data, err := r.s.seal(key, code)
	if err != nil {
		return err
	}
	issued, err := r.s.sealIDs(key, code.IssuedTokenIDs())
	if err != nil {
		return err
	}
	env, err := json.Marshal(codeEnvelope{Used: code.IsUsed(), Data: data, Issued: issued})
	if err != nil {
		return fmt.Errorf("failed to marshal code envelope: %w", err)
	}

	if err := r.s.putRaw(ctx, key, string(env), r.s.ttlFor(code.ExpiresAt())); err != nil {
		return fmt.Errorf("failed to save authorization code: %w", err)
	}
	return nil
}

// Create issues and stores a new authorization code.
func (r *AuthorizationCodeRepository) Create(ctx context.Context, params storage.AuthorizationCodeParams) (*storage.AuthorizationCode, error) {
	code := storage.NewAuthorizationCode(params.TokenID(), params)
	if err := r.Save(ctx, code); err != nil {
		return nil, err
	}
	return code, nil
}

// MarkUsed atomically flips the used flag and appends issuedTokenIDs via a
// Lua script, so only one concurrent redemption can succeed across all
// instances.
func (r *AuthorizationCodeRepository) MarkUsed(ctx context.Context, code string, issuedTokenIDs ...string) (*storage.AuthorizationCode, error) {
	if err := validateID(code); err != nil {
		return nil, storage.ErrAuthorizationCodeNotFound
	}
	key := r.s.codeKey(code)

	issued, err := r.s.sealIDs(key, issuedTokenIDs)
	if err != nil {
		return nil, err
	}

	result, err := r.s.client.Do(ctx,
		r.s.client.B().Eval().Script(luaMarkCodeUsed).
			Numkeys(1).
			Key(key).
			Arg(issued...).
			Build(),
	).ToString()
	if err != nil {
		return nil, fmt.Errorf("failed to execute atomic code check: %w", err)
	}

	switch {
	case result == "NOT_FOUND":
		return nil, storage.ErrAuthorizationCodeNotFound
	case strings.HasPrefix(result, "ALREADY_USED:"):
		stored, err := r.decode(key, strings.TrimPrefix(result, "ALREADY_USED:"))
		if err != nil {
			return nil, fmt.Errorf("%w: %v", storage.ErrAuthorizationCodeUsed, err)
		}
		return stored, storage.ErrAuthorizationCodeUsed
	}

	stored, err := r.decode(key, result)
	if err != nil {
		return nil, err
	}

	r.s.logger.Debug("Marked authorization code as used",
		"code_prefix", util.SafeTruncate(code, tokenIDLogLength))
	return stored, nil
}

// decode opens a raw code envelope.
func (r *AuthorizationCodeRepository) decode(key, raw string) (*storage.AuthorizationCode, error) {
	var env codeEnvelope
	if err := json.Unmarshal([]byte(raw), &env); err != nil {
		return nil, fmt.Errorf("failed to unmarshal code envelope: %w", err)
	}

	code := &storage.AuthorizationCode{}
	if err := r.s.open(key, env.Data, code); err != nil {
		return nil, err
	}
	if env.Used && !code.IsUsed() {
		_ = code.MarkUsed()
	}
	ids, err := r.s.openIDs(key, env.Issued)
	if err != nil {
		return nil, err
	}
	code.RecordIssuedTokens(ids...)
	return code, nil
}
