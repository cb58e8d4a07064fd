package valkey

import (
	"context"
	"fmt"
	"time"

	"github.com/giantswarm/oauth-engine/storage"
)

// SessionStore implements storage.SessionStore. Values expire through the
// key TTL.
type SessionStore struct{ s *Store }

// Get returns the stored value or storage.ErrSessionNotFound.
func (r *SessionStore) Get(ctx context.Context, id string) ([]byte, error) {
	if err := validateID(id); err != nil {
		return nil, storage.ErrSessionNotFound
	}
	key := r.s.sessionKey(id)
	raw, err := r.s.getRaw(ctx, key, storage.ErrSessionNotFound)
	if err != nil {
		return nil, err
	}
	value, err := r.s.getEncryptor().Open(raw, key)
	if err != nil {
		return nil, fmt.Errorf("failed to decrypt session: %w", err)
	}
	return value, nil
}

// Set stores value under id for ttl.
func (r *SessionStore) Set(ctx context.Context, id string, value []byte, ttl time.Duration) error {
	if err := validateID(id); err != nil {
		return fmt.Errorf("invalid session id: %w", err)
	}
	if ttl <= 0 {
		return fmt.Errorf("session ttl must be positive")
	}
	if len(value) > MaxRecordSize {
		return errInputTooLarge
	}

	key := r.s.sessionKey(id)
	sealed, err := r.s.getEncryptor().Seal(value, key)
	if err != nil {
		return fmt.Errorf("failed to encrypt session: %w", err)
	}
	return r.s.putRaw(ctx, key, sealed, ttl)
}

// Has reports whether a live value exists for id.
func (r *SessionStore) Has(ctx context.Context, id string) (bool, error) {
	if err := validateID(id); err != nil {
		return false, nil
	}
	n, err := r.s.client.Do(ctx, r.s.client.B().Exists().Key(r.s.sessionKey(id)).Build()).AsInt64()
	if err != nil {
		return false, fmt.Errorf("failed to check session: %w", err)
	}
	return n > 0, nil
}

// Remove deletes the value stored under id.
func (r *SessionStore) Remove(ctx context.Context, id string) error {
	if err := validateID(id); err != nil {
		return nil
	}
	if err := r.s.client.Do(ctx, r.s.client.B().Del().Key(r.s.sessionKey(id)).Build()).Error(); err != nil {
		return fmt.Errorf("failed to remove session: %w", err)
	}
	return nil
}
