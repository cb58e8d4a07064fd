package valkey

import (
	"context"
	"crypto/tls"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	valkeygo "github.com/valkey-io/valkey-go"

	"github.com/giantswarm/oauth-engine/security"
	"github.com/giantswarm/oauth-engine/storage"
)

const (
	// DefaultKeyPrefix is the default prefix for all Valkey keys
	DefaultKeyPrefix = "oauth:"

	// DefaultExpiredRetention keeps expired and revoked records around after
	// their expiry so late introspection still finds them.
	DefaultExpiredRetention = 10 * time.Minute

	// tokenIDLogLength is the number of characters to include when logging token IDs
	tokenIDLogLength = 8

	// connectionVerifyTimeout is the timeout for initial connection verification
	connectionVerifyTimeout = 5 * time.Second

	// MaxIDLength is the maximum allowed length for identifiers used in keys.
	MaxIDLength = 512

	// MaxRecordSize is the maximum size of a serialized record (64KB)
	MaxRecordSize = 64 * 1024
)

var errInputTooLarge = fmt.Errorf("input exceeds maximum allowed size")

// Config holds configuration for the Valkey storage backend.
type Config struct {
	// Address is the Valkey server address (required), e.g., "localhost:6379"
	Address string

	// Password is the optional password for Valkey authentication
	Password string

	// DB is the optional database number (default 0)
	DB int

	// KeyPrefix is the prefix for all keys (default "oauth:")
	KeyPrefix string

	// TLS is the optional TLS configuration for encrypted connections
	TLS *tls.Config

	// Logger is the optional structured logger (default: slog.Default())
	Logger *slog.Logger

	// ExpiredRetention is added to every record TTL. Default: 10 minutes
	ExpiredRetention time.Duration
}

// Store is a Valkey-backed implementation of the storage repositories.
type Store struct {
	client    valkeygo.Client
	prefix    string
	logger    *slog.Logger
	retention time.Duration

	// encryptor seals every record at rest when enabled
	encryptor   *security.Encryptor
	encryptorMu sync.RWMutex
}

// Compile-time interface checks
var (
	_ storage.ClientRepository            = (*ClientRepository)(nil)
	_ storage.AuthorizationCodeRepository = (*AuthorizationCodeRepository)(nil)
	_ storage.AccessTokenRepository       = (*AccessTokenRepository)(nil)
	_ storage.RefreshTokenRepository      = (*RefreshTokenRepository)(nil)
	_ storage.SessionStore                = (*SessionStore)(nil)
)

// New creates a new Valkey-backed storage instance.
// Returns an error if the connection cannot be established.
func New(cfg Config) (*Store, error) {
	if cfg.Address == "" {
		return nil, fmt.Errorf("valkey address is required")
	}

	prefix := cfg.KeyPrefix
	if prefix == "" {
		prefix = DefaultKeyPrefix
	}

	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	retention := cfg.ExpiredRetention
	if retention <= 0 {
		retention = DefaultExpiredRetention
	}

	opts := valkeygo.ClientOption{
		InitAddress: []string{cfg.Address},
		SelectDB:    cfg.DB,
	}
	if cfg.Password != "" {
		opts.Password = cfg.Password
	}
	if cfg.TLS != nil {
		opts.TLSConfig = cfg.TLS
	}

	client, err := valkeygo.NewClient(opts)
	if err != nil {
		return nil, fmt.Errorf("failed to create valkey client: %w", err)
	}

	// Verify connection
	ctx, cancel := context.WithTimeout(context.Background(), connectionVerifyTimeout)
	defer cancel()

	if err := client.Do(ctx, client.B().Ping().Build()).Error(); err != nil {
		client.Close()
		return nil, fmt.Errorf("failed to connect to valkey: %w", err)
	}

	logger.Info("Connected to Valkey storage",
		"address", cfg.Address,
		"db", cfg.DB,
		"prefix", prefix)

	return &Store{
		client:    client,
		prefix:    prefix,
		logger:    logger,
		retention: retention,
	}, nil
}

// Close closes the Valkey client connection.
func (s *Store) Close() {
	s.client.Close()
	s.logger.Info("Valkey storage connection closed")
}

// SetLogger sets a custom logger for the store.
func (s *Store) SetLogger(logger *slog.Logger) {
	if logger != nil {
		s.logger = logger
	}
}

// SetEncryptor enables encryption at rest. Records written before the
// encryptor was set cannot be read afterwards.
func (s *Store) SetEncryptor(enc *security.Encryptor) {
	s.encryptorMu.Lock()
	defer s.encryptorMu.Unlock()
	s.encryptor = enc
	if enc.IsEnabled() {
		s.logger.Info("Encryption at rest enabled for Valkey storage")
	}
}

func (s *Store) getEncryptor() *security.Encryptor {
	s.encryptorMu.RLock()
	defer s.encryptorMu.RUnlock()
	return s.encryptor
}

// Clients returns the client repository.
func (s *Store) Clients() *ClientRepository { return &ClientRepository{s: s} }

// AuthorizationCodes returns the authorization code repository.
func (s *Store) AuthorizationCodes() *AuthorizationCodeRepository {
	return &AuthorizationCodeRepository{s: s}
}

// AccessTokens returns the access token repository.
func (s *Store) AccessTokens() *AccessTokenRepository { return &AccessTokenRepository{s: s} }

// RefreshTokens returns the refresh token repository.
func (s *Store) RefreshTokens() *RefreshTokenRepository { return &RefreshTokenRepository{s: s} }

// Sessions returns the pending authorization session store.
func (s *Store) Sessions() *SessionStore { return &SessionStore{s: s} }

// ============================================================
// Keys
// ============================================================

func (s *Store) clientKey(clientID string) string { return s.prefix + "client:" + clientID }
func (s *Store) codeKey(code string) string       { return s.prefix + "code:" + code }
func (s *Store) accessKey(id string) string       { return s.prefix + "access:" + id }
func (s *Store) refreshKey(id string) string      { return s.prefix + "refresh:" + id }
func (s *Store) refreshLinksKey(id string) string { return s.prefix + "refresh-links:" + id }
func (s *Store) sessionKey(id string) string      { return s.prefix + "session:" + id }

// ============================================================
// Record helpers
// ============================================================

// seal marshals v and encrypts it bound to its key.
func (s *Store) seal(key string, v any) (string, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return "", fmt.Errorf("failed to marshal record: %w", err)
	}
	if len(data) > MaxRecordSize {
		return "", errInputTooLarge
	}
	return s.getEncryptor().Seal(data, key)
}

// open decrypts raw and unmarshals it into v.
func (s *Store) open(key, raw string, v any) error {
	data, err := s.getEncryptor().Open(raw, key)
	if err != nil {
		return fmt.Errorf("failed to decrypt record: %w", err)
	}
	if err := json.Unmarshal(data, v); err != nil {
		return fmt.Errorf("failed to unmarshal record: %w", err)
	}
	return nil
}

// sealIDs seals every id on its own so scripts can append them to a record
// without decrypting it.
func (s *Store) sealIDs(key string, ids []string) ([]string, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	sealed := make([]string, 0, len(ids))
	for _, id := range ids {
		v, err := s.seal(key, id)
		if err != nil {
			return nil, err
		}
		sealed = append(sealed, v)
	}
	return sealed, nil
}

func (s *Store) openIDs(key string, sealed []string) ([]string, error) {
	ids := make([]string, 0, len(sealed))
	for _, raw := range sealed {
		var id string
		if err := s.open(key, raw, &id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, nil
}

// put stores v under key. A zero expiresAt stores the record without TTL.
func (s *Store) put(ctx context.Context, key string, v any, expiresAt time.Time) error {
	value, err := s.seal(key, v)
	if err != nil {
		return err
	}
	return s.putRaw(ctx, key, value, s.ttlFor(expiresAt))
}

func (s *Store) putRaw(ctx context.Context, key, value string, ttl time.Duration) error {
	var err error
	if ttl > 0 {
		err = s.client.Do(ctx, s.client.B().Set().Key(key).Value(value).Ex(ttl).Build()).Error()
	} else {
		err = s.client.Do(ctx, s.client.B().Set().Key(key).Value(value).Build()).Error()
	}
	if err != nil {
		return fmt.Errorf("failed to store record: %w", err)
	}
	return nil
}

// get loads the record under key into v. notFound is returned for missing keys.
func (s *Store) get(ctx context.Context, key string, v any, notFound error) error {
	raw, err := s.getRaw(ctx, key, notFound)
	if err != nil {
		return err
	}
	return s.open(key, raw, v)
}

func (s *Store) getRaw(ctx context.Context, key string, notFound error) (string, error) {
	raw, err := s.client.Do(ctx, s.client.B().Get().Key(key).Build()).ToString()
	if err != nil {
		if isNilError(err) {
			return "", notFound
		}
		return "", fmt.Errorf("failed to load record: %w", err)
	}
	return raw, nil
}

// ttlFor returns the key TTL for a record expiring at expiresAt.
func (s *Store) ttlFor(expiresAt time.Time) time.Duration {
	if expiresAt.IsZero() {
		return 0
	}
	ttl := time.Until(expiresAt) + s.retention
	if ttl < time.Second {
		ttl = time.Second
	}
	return ttl
}

func validateID(id string) error {
	if id == "" {
		return fmt.Errorf("identifier must not be empty")
	}
	if len(id) > MaxIDLength {
		return errInputTooLarge
	}
	return nil
}

// isNilError checks if the error indicates a nil/not-found result from Valkey.
func isNilError(err error) bool {
	return valkeygo.IsValkeyNil(err)
}

// ============================================================
// Lua Scripts for Atomic Operations
// ============================================================

// luaMarkCodeUsed flips the used flag of an authorization code envelope and
// appends the sealed issued token IDs.
//
// KEYS[1] = code key
// ARGV    = sealed token IDs
//
// Returns 'NOT_FOUND', 'ALREADY_USED:' followed by the stored envelope, or
// the envelope after marking it used. The payload itself is opaque here
// because it may be encrypted.
const luaMarkCodeUsed = `
local raw = redis.call('GET', KEYS[1])
if not raw then
    return 'NOT_FOUND'
end

local envelope = cjson.decode(raw)
if envelope.used then
    return 'ALREADY_USED:' .. raw
end

envelope.used = true
if #ARGV > 0 then
    local issued = envelope.issued
    if type(issued) ~= 'table' then
        issued = {}
    end
    for i = 1, #ARGV do
        table.insert(issued, ARGV[i])
    end
    envelope.issued = issued
end

local updated = cjson.encode(envelope)
redis.call('SET', KEYS[1], updated, 'KEEPTTL')

return updated
`

// luaConsumeRefreshToken flips the revoked flag of a refresh token envelope.
//
// KEYS[1] = refresh token key
//
// Returns 'NOT_FOUND', 'ALREADY_REVOKED:' followed by the stored envelope, or
// the envelope after revoking it.
const luaConsumeRefreshToken = `
local raw = redis.call('GET', KEYS[1])
if not raw then
    return 'NOT_FOUND'
end

local envelope = cjson.decode(raw)
if envelope.revoked then
    return 'ALREADY_REVOKED:' .. raw
end

envelope.revoked = true
local updated = cjson.encode(envelope)
redis.call('SET', KEYS[1], updated, 'KEEPTTL')

return updated
`

// luaSaveRefreshToken replaces the payload of a refresh token envelope
// without clearing a revoked flag set in the meantime.
//
// KEYS[1] = refresh token key
// ARGV[1] = sealed payload
// ARGV[2] = '1' if the token being saved is revoked
// ARGV[3] = TTL in milliseconds, '0' for none
const luaSaveRefreshToken = `
local revoked = ARGV[2] == '1'
local raw = redis.call('GET', KEYS[1])
if raw then
    local stored = cjson.decode(raw)
    if stored.revoked then
        revoked = true
    end
end

local updated = cjson.encode({revoked = revoked, data = ARGV[1]})
local ttl = tonumber(ARGV[3])
if ttl > 0 then
    redis.call('SET', KEYS[1], updated, 'PX', ttl)
else
    redis.call('SET', KEYS[1], updated)
end
return 'OK'
`

// luaLinkAccessToken adds a sealed access token ID to the link set of a
// refresh token and aligns the set's expiry with the token.
//
// KEYS[1] = refresh token key
// KEYS[2] = link set key
// ARGV[1] = sealed access token ID
//
// Returns 0 if the refresh token does not exist, 1 otherwise.
const luaLinkAccessToken = `
if redis.call('EXISTS', KEYS[1]) == 0 then
    return 0
end
redis.call('SADD', KEYS[2], ARGV[1])
local ttl = redis.call('PTTL', KEYS[1])
if ttl > 0 then
    redis.call('PEXPIRE', KEYS[2], ttl)
end
return 1
`
