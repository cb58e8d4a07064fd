package memory

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"go.opentelemetry.io/otel/trace"

	"github.com/giantswarm/oauth-engine/instrumentation"
	"github.com/giantswarm/oauth-engine/internal/util"
	"github.com/giantswarm/oauth-engine/storage"
)

// tokenIDLogLength is the number of characters of a credential that may appear in logs
const tokenIDLogLength = 8

type sessionEntry struct {
	value     []byte
	expiresAt time.Time
}

// Store holds every repository in process memory.
type Store struct {
	mu sync.RWMutex

	clients       map[string]*storage.Client
	codes         map[string]*storage.AuthorizationCode
	accessTokens  map[string]*storage.AccessToken
	refreshTokens map[string]*storage.RefreshToken
	sessions      map[string]sessionEntry

	instrumentation *instrumentation.Instrumentation
	tracer          trace.Tracer

	// Atomic counters for metrics (lock-free access during metric collection)
	clientsCount       atomic.Int64
	codesCount         atomic.Int64
	accessTokensCount  atomic.Int64
	refreshTokensCount atomic.Int64
	sessionsCount      atomic.Int64

	logger *slog.Logger
	now    func() time.Time
}

// Compile-time interface checks
var (
	_ storage.ClientRepository            = (*ClientRepository)(nil)
	_ storage.AuthorizationCodeRepository = (*AuthorizationCodeRepository)(nil)
	_ storage.AccessTokenRepository       = (*AccessTokenRepository)(nil)
	_ storage.RefreshTokenRepository      = (*RefreshTokenRepository)(nil)
	_ storage.SessionStore                = (*SessionStore)(nil)
)

// New creates an empty in-memory store.
func New() *Store {
	return &Store{
		clients:       make(map[string]*storage.Client),
		codes:         make(map[string]*storage.AuthorizationCode),
		accessTokens:  make(map[string]*storage.AccessToken),
		refreshTokens: make(map[string]*storage.RefreshToken),
		sessions:      make(map[string]sessionEntry),
		logger:        slog.Default(),
		now:           time.Now,
	}
}

// SetLogger sets the logger used by the store
func (s *Store) SetLogger(logger *slog.Logger) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if logger != nil {
		s.logger = logger
	}
}

// SetClock replaces the time source used for session expiry and purging.
func (s *Store) SetClock(now func() time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.now = now
}

// SetInstrumentation sets OpenTelemetry instrumentation for the store
func (s *Store) SetInstrumentation(inst *instrumentation.Instrumentation) {
	s.mu.Lock()
	s.instrumentation = inst
	if inst != nil {
		s.tracer = inst.Tracer("storage")
	}
	s.mu.Unlock()

	if inst == nil {
		return
	}
	err := inst.RegisterStorageSizeCallbacks(map[string]instrumentation.StorageSizeCallback{
		"clients":             s.clientsCount.Load,
		"authorization_codes": s.codesCount.Load,
		"access_tokens":       s.accessTokensCount.Load,
		"refresh_tokens":      s.refreshTokensCount.Load,
		"sessions":            s.sessionsCount.Load,
	})
	if err != nil {
		s.logger.Warn("Failed to register storage size callbacks", "error", err)
	}
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

// PurgeExpired drops expired codes, tokens and sessions and returns how many
// entries were removed. Revoked tokens are kept until they expire so
// introspection keeps answering inactive for them.
func (s *Store) PurgeExpired(ctx context.Context) int {
	_, span := s.startStorageSpan(ctx, "purge_expired")
	defer span.End()

	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	removed := 0
	for id, c := range s.codes {
		if c.IsExpired(now, 0) {
			delete(s.codes, id)
			removed++
		}
	}
	for id, t := range s.accessTokens {
		if t.IsExpired(now, 0) {
			delete(s.accessTokens, id)
			removed++
		}
	}
	for id, t := range s.refreshTokens {
		if t.IsExpired(now, 0) {
			delete(s.refreshTokens, id)
			removed++
		}
	}
	for id, e := range s.sessions {
		if now.After(e.expiresAt) {
			delete(s.sessions, id)
			removed++
		}
	}
	s.refreshCounters()

	if removed > 0 {
		s.logger.Debug("Purged expired storage entries", "removed", removed)
	}
	return removed
}

// refreshCounters must be called with mu held.
func (s *Store) refreshCounters() {
	s.clientsCount.Store(int64(len(s.clients)))
	s.codesCount.Store(int64(len(s.codes)))
	s.accessTokensCount.Store(int64(len(s.accessTokens)))
	s.refreshTokensCount.Store(int64(len(s.refreshTokens)))
	s.sessionsCount.Store(int64(len(s.sessions)))
}

// ============================================================
// Clients
// ============================================================

// ClientRepository implements storage.ClientRepository.
type ClientRepository struct{ s *Store }

// Find returns a copy of the stored client.
func (r *ClientRepository) Find(ctx context.Context, clientID string) (*storage.Client, error) {
	ctx, span := r.s.startStorageSpan(ctx, "find_client")
	defer span.End()
	start := time.Now()

	r.s.mu.RLock()
	c, ok := r.s.clients[clientID]
	r.s.mu.RUnlock()

	var err error
	if !ok {
		err = storage.ErrClientNotFound
	}
	r.s.recordStorageOperation(ctx, span, "find_client", err, start)
	if err != nil {
		return nil, err
	}
	return c.Clone(), nil
}

// Save stores a copy of the client.
func (r *ClientRepository) Save(ctx context.Context, client *storage.Client) error {
	ctx, span := r.s.startStorageSpan(ctx, "save_client")
	defer span.End()
	start := time.Now()

	if client == nil || client.ID() == "" {
		err := fmt.Errorf("client must have an ID")
		r.s.recordStorageOperation(ctx, span, "save_client", err, start)
		return err
	}

	r.s.mu.Lock()
	r.s.clients[client.ID()] = client.Clone()
	r.s.refreshCounters()
	r.s.mu.Unlock()

	r.s.recordStorageOperation(ctx, span, "save_client", nil, start)
	return nil
}

// ============================================================
// Authorization codes
// ============================================================

// AuthorizationCodeRepository implements storage.AuthorizationCodeRepository.
type AuthorizationCodeRepository struct{ s *Store }

// Find returns a copy of the stored code.
func (r *AuthorizationCodeRepository) Find(ctx context.Context, code string) (*storage.AuthorizationCode, error) {
	ctx, span := r.s.startStorageSpan(ctx, "find_authorization_code")
	defer span.End()
	start := time.Now()

	r.s.mu.RLock()
	c, ok := r.s.codes[code]
	r.s.mu.RUnlock()

	var err error
	if !ok {
		err = storage.ErrAuthorizationCodeNotFound
	}
	r.s.recordStorageOperation(ctx, span, "find_authorization_code", err, start)
	if err != nil {
		return nil, err
	}
	return c.Clone(), nil
}

// Save replaces the stored code.
func (r *AuthorizationCodeRepository) Save(ctx context.Context, code *storage.AuthorizationCode) error {
	ctx, span := r.s.startStorageSpan(ctx, "save_authorization_code")
	defer span.End()
	start := time.Now()

	r.s.mu.Lock()
	r.s.codes[code.ID()] = code.Clone()
	r.s.refreshCounters()
	r.s.mu.Unlock()

	r.s.recordStorageOperation(ctx, span, "save_authorization_code", nil, start)
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

// MarkUsed atomically flips the used flag and records issuedTokenIDs. On
// reuse the stored code is returned alongside storage.ErrAuthorizationCodeUsed.
func (r *AuthorizationCodeRepository) MarkUsed(ctx context.Context, code string, issuedTokenIDs ...string) (*storage.AuthorizationCode, error) {
	ctx, span := r.s.startStorageSpan(ctx, "mark_authorization_code_used")
	defer span.End()
	start := time.Now()

	stored, err := r.markUsed(code, issuedTokenIDs)
	r.s.recordStorageOperation(ctx, span, "mark_authorization_code_used", err, start)
	if err == nil {
		r.s.logger.Debug("Marked authorization code as used",
			"code_prefix", util.SafeTruncate(code, tokenIDLogLength))
	}
	return stored, err
}

func (r *AuthorizationCodeRepository) markUsed(code string, issuedTokenIDs []string) (*storage.AuthorizationCode, error) {
	r.s.mu.Lock() // write lock for atomic check-and-set
	defer r.s.mu.Unlock()

	c, ok := r.s.codes[code]
	if !ok {
		return nil, storage.ErrAuthorizationCodeNotFound
	}
	if err := c.MarkUsed(); err != nil {
		return c.Clone(), err
	}
	c.RecordIssuedTokens(issuedTokenIDs...)
	return c.Clone(), nil
}

// ============================================================
// Access tokens
// ============================================================

// AccessTokenRepository implements storage.AccessTokenRepository.
type AccessTokenRepository struct{ s *Store }

// Find returns a copy of the stored token.
func (r *AccessTokenRepository) Find(ctx context.Context, id string) (*storage.AccessToken, error) {
	ctx, span := r.s.startStorageSpan(ctx, "find_access_token")
	defer span.End()
	start := time.Now()

	r.s.mu.RLock()
	t, ok := r.s.accessTokens[id]
	r.s.mu.RUnlock()

	var err error
	if !ok {
		err = storage.ErrTokenNotFound
	}
	r.s.recordStorageOperation(ctx, span, "find_access_token", err, start)
	if err != nil {
		return nil, err
	}
	return t.Clone(), nil
}

// Save replaces the stored token.
func (r *AccessTokenRepository) Save(ctx context.Context, token *storage.AccessToken) error {
	ctx, span := r.s.startStorageSpan(ctx, "save_access_token")
	defer span.End()
	start := time.Now()

	r.s.mu.Lock()
	r.s.accessTokens[token.ID()] = token.Clone()
	r.s.refreshCounters()
	r.s.mu.Unlock()

	r.s.recordStorageOperation(ctx, span, "save_access_token", nil, start)
	return nil
}

// Create issues and stores a new access token.
func (r *AccessTokenRepository) Create(ctx context.Context, params storage.TokenParams) (*storage.AccessToken, error) {
	t := storage.NewAccessToken(params.TokenID(), params)
	if err := r.Save(ctx, t); err != nil {
		return nil, err
	}
	return t, nil
}

// ============================================================
// Refresh tokens
// ============================================================

// RefreshTokenRepository implements storage.RefreshTokenRepository.
type RefreshTokenRepository struct{ s *Store }

// Find returns a copy of the stored token.
func (r *RefreshTokenRepository) Find(ctx context.Context, id string) (*storage.RefreshToken, error) {
	ctx, span := r.s.startStorageSpan(ctx, "find_refresh_token")
	defer span.End()
	start := time.Now()

	r.s.mu.RLock()
	t, ok := r.s.refreshTokens[id]
	r.s.mu.RUnlock()

	var err error
	if !ok {
		err = storage.ErrTokenNotFound
	}
	r.s.recordStorageOperation(ctx, span, "find_refresh_token", err, start)
	if err != nil {
		return nil, err
	}
	return t.Clone(), nil
}

// Save replaces the stored token, keeping its revoked flag and access
// token links.
func (r *RefreshTokenRepository) Save(ctx context.Context, token *storage.RefreshToken) error {
	ctx, span := r.s.startStorageSpan(ctx, "save_refresh_token")
	defer span.End()
	start := time.Now()

	t := token.Clone()
	r.s.mu.Lock()
	t.MergeFrom(r.s.refreshTokens[token.ID()])
	r.s.refreshTokens[token.ID()] = t
	r.s.refreshCounters()
	r.s.mu.Unlock()

	r.s.recordStorageOperation(ctx, span, "save_refresh_token", nil, start)
	return nil
}

// Consume atomically revokes the token. On a second call the stored token is
// returned alongside storage.ErrTokenRevoked.
func (r *RefreshTokenRepository) Consume(ctx context.Context, id string) (*storage.RefreshToken, error) {
	ctx, span := r.s.startStorageSpan(ctx, "consume_refresh_token")
	defer span.End()
	start := time.Now()

	t, err := r.consume(id)
	r.s.recordStorageOperation(ctx, span, "consume_refresh_token", err, start)
	return t, err
}

func (r *RefreshTokenRepository) consume(id string) (*storage.RefreshToken, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	t, ok := r.s.refreshTokens[id]
	if !ok {
		return nil, storage.ErrTokenNotFound
	}
	if t.IsRevoked() {
		return t.Clone(), storage.ErrTokenRevoked
	}
	t.Revoke()
	return t.Clone(), nil
}

// LinkAccessToken appends accessTokenID to the stored token.
func (r *RefreshTokenRepository) LinkAccessToken(ctx context.Context, id, accessTokenID string) error {
	ctx, span := r.s.startStorageSpan(ctx, "link_access_token")
	defer span.End()
	start := time.Now()

	r.s.mu.Lock()
	t, ok := r.s.refreshTokens[id]
	if ok {
		t.AddAccessToken(accessTokenID)
	}
	r.s.mu.Unlock()

	var err error
	if !ok {
		err = storage.ErrTokenNotFound
	}
	r.s.recordStorageOperation(ctx, span, "link_access_token", err, start)
	return err
}

// Create issues and stores a new refresh token.
func (r *RefreshTokenRepository) Create(ctx context.Context, params storage.TokenParams) (*storage.RefreshToken, error) {
	t := storage.NewRefreshToken(params.TokenID(), params)
	if err := r.Save(ctx, t); err != nil {
		return nil, err
	}
	return t, nil
}

// ============================================================
// Sessions
// ============================================================

// SessionStore implements storage.SessionStore.
type SessionStore struct{ s *Store }

// Get returns the live value stored under id. Expired values are dropped.
func (r *SessionStore) Get(ctx context.Context, id string) ([]byte, error) {
	ctx, span := r.s.startStorageSpan(ctx, "get_session")
	defer span.End()
	start := time.Now()

	r.s.mu.Lock()
	e, ok := r.s.sessions[id]
	if ok && r.s.now().After(e.expiresAt) {
		delete(r.s.sessions, id)
		r.s.refreshCounters()
		ok = false
	}
	r.s.mu.Unlock()

	if !ok {
		r.s.recordStorageOperation(ctx, span, "get_session", storage.ErrSessionNotFound, start)
		return nil, storage.ErrSessionNotFound
	}
	r.s.recordStorageOperation(ctx, span, "get_session", nil, start)
	return append([]byte(nil), e.value...), nil
}

// Set stores value under id for ttl.
func (r *SessionStore) Set(ctx context.Context, id string, value []byte, ttl time.Duration) error {
	ctx, span := r.s.startStorageSpan(ctx, "set_session")
	defer span.End()
	start := time.Now()

	if ttl <= 0 {
		err := fmt.Errorf("session ttl must be positive")
		r.s.recordStorageOperation(ctx, span, "set_session", err, start)
		return err
	}

	r.s.mu.Lock()
	r.s.sessions[id] = sessionEntry{
		value:     append([]byte(nil), value...),
		expiresAt: r.s.now().Add(ttl),
	}
	r.s.refreshCounters()
	r.s.mu.Unlock()

	r.s.recordStorageOperation(ctx, span, "set_session", nil, start)
	return nil
}

// Has reports whether a live value exists for id.
func (r *SessionStore) Has(ctx context.Context, id string) (bool, error) {
	_, err := r.Get(ctx, id)
	if err == storage.ErrSessionNotFound {
		return false, nil
	}
	return err == nil, err
}

// Remove deletes the value stored under id.
func (r *SessionStore) Remove(ctx context.Context, id string) error {
	ctx, span := r.s.startStorageSpan(ctx, "remove_session")
	defer span.End()
	start := time.Now()

	r.s.mu.Lock()
	delete(r.s.sessions, id)
	r.s.refreshCounters()
	r.s.mu.Unlock()

	r.s.recordStorageOperation(ctx, span, "remove_session", nil, start)
	return nil
}

// ============================================================
// Instrumentation Helpers
// ============================================================

// startStorageSpan starts a span for a storage operation. Without a tracer the
// span from ctx (possibly a no-op) is returned.
func (s *Store) startStorageSpan(ctx context.Context, operation string) (context.Context, trace.Span) {
	s.mu.RLock()
	tracer := s.tracer
	s.mu.RUnlock()

	if tracer == nil {
		return ctx, trace.SpanFromContext(ctx)
	}

	ctx, span := tracer.Start(ctx, "storage."+operation)
	instrumentation.AddStorageAttributes(span, operation, "memory")
	return ctx, span
}

// recordStorageOperation records metrics for a storage operation and sets span status
func (s *Store) recordStorageOperation(ctx context.Context, span trace.Span, operation string, err error, startTime time.Time) {
	if err != nil {
		instrumentation.RecordError(span, err)
	} else {
		instrumentation.SetSpanSuccess(span)
	}

	s.mu.RLock()
	inst := s.instrumentation
	s.mu.RUnlock()
	if inst == nil {
		return
	}

	result := "success"
	if err != nil {
		result = "error"
	}
	inst.Metrics().RecordStorageOperation(ctx, operation, result, float64(time.Since(startTime).Microseconds())/1000)
}
