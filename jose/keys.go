package jose

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	gojose "github.com/go-jose/go-jose/v4"
	"github.com/patrickmn/go-cache"

	"github.com/giantswarm/oauth-engine/security"
	"github.com/giantswarm/oauth-engine/storage"
)

// DefaultJKUCacheTTL is how long a fetched key set is reused.
const DefaultJKUCacheTTL = 5 * time.Minute

// ErrNoKeyMaterial is returned when a client has neither inline keys nor a
// jwks_uri.
var ErrNoKeyMaterial = errors.New("client has no registered key material")

// KeyResolver returns the public keys registered for a client.
type KeyResolver interface {
	// Keys returns the client's key set. refresh asks for remote sets to be
	// refetched instead of served from cache.
	Keys(ctx context.Context, client *storage.Client, refresh bool) (*gojose.JSONWebKeySet, error)
}

// StaticKeys serves one fixed key set whatever the client, for keys owned by
// a trusted third party such as an assertion issuer.
type StaticKeys struct {
	Set *gojose.JSONWebKeySet
}

// Keys implements KeyResolver.
func (s StaticKeys) Keys(context.Context, *storage.Client, bool) (*gojose.JSONWebKeySet, error) {
	if s.Set == nil || len(s.Set.Keys) == 0 {
		return nil, ErrNoKeyMaterial
	}
	return s.Set, nil
}

// JKUFetcher downloads JSON Web Key Sets from jwks_uri locations and caches
// them. Expired entries are dropped when read; there is no janitor.
type JKUFetcher struct {
	fetcher *security.Fetcher
	cache   *cache.Cache
	logger  *slog.Logger
}

// NewJKUFetcher creates a fetcher. A non-positive ttl selects DefaultJKUCacheTTL.
func NewJKUFetcher(fetcher *security.Fetcher, ttl time.Duration, logger *slog.Logger) *JKUFetcher {
	if ttl <= 0 {
		ttl = DefaultJKUCacheTTL
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &JKUFetcher{
		fetcher: fetcher,
		cache:   cache.New(ttl, 0),
		logger:  logger,
	}
}

// Fetch returns the key set published at uri.
func (f *JKUFetcher) Fetch(ctx context.Context, uri string, refresh bool) (*gojose.JSONWebKeySet, error) {
	if !refresh {
		if v, ok := f.cache.Get(uri); ok {
			return v.(*gojose.JSONWebKeySet), nil
		}
	}

	body, err := f.fetcher.Fetch(ctx, uri, "application/jwk-set+json, application/json")
	if err != nil {
		return nil, fmt.Errorf("failed to fetch key set: %w", err)
	}

	set, err := parseKeySet(body)
	if err != nil {
		return nil, err
	}

	f.cache.SetDefault(uri, set)
	f.logger.Debug("Fetched client key set", "jwks_uri", uri, "keys", len(set.Keys))
	return set, nil
}

// ClientKeyResolver resolves keys from client metadata: inline jwks first,
// then jwks_uri.
type ClientKeyResolver struct {
	jku *JKUFetcher
}

// NewClientKeyResolver creates a resolver. jku may be nil, in which case
// clients registered only with a jwks_uri have no usable keys.
func NewClientKeyResolver(jku *JKUFetcher) *ClientKeyResolver {
	return &ClientKeyResolver{jku: jku}
}

// Keys implements KeyResolver.
func (r *ClientKeyResolver) Keys(ctx context.Context, client *storage.Client, refresh bool) (*gojose.JSONWebKeySet, error) {
	if raw, ok := client.JWKS(); ok {
		return parseKeySet(raw)
	}
	if uri := client.JWKSURI(); uri != "" {
		if r.jku == nil {
			return nil, fmt.Errorf("jwks_uri resolution is not enabled")
		}
		return r.jku.Fetch(ctx, uri, refresh)
	}
	return nil, ErrNoKeyMaterial
}

func parseKeySet(raw []byte) (*gojose.JSONWebKeySet, error) {
	var set gojose.JSONWebKeySet
	if err := json.Unmarshal(raw, &set); err != nil {
		return nil, fmt.Errorf("invalid JSON Web Key Set: %w", err)
	}
	if len(set.Keys) == 0 {
		return nil, fmt.Errorf("JSON Web Key Set is empty")
	}
	return &set, nil
}

// selectKeys returns the candidate keys for kid and alg, in preference order.
// A kid that is present must match; keys pinned to another algorithm or
// registered for encryption are skipped.
func selectKeys(set *gojose.JSONWebKeySet, kid, alg, use string) []gojose.JSONWebKey {
	var candidates []gojose.JSONWebKey
	if kid != "" {
		candidates = set.Key(kid)
	} else {
		candidates = set.Keys
	}

	out := make([]gojose.JSONWebKey, 0, len(candidates))
	for _, k := range candidates {
		if k.Algorithm != "" && alg != "" && k.Algorithm != alg {
			continue
		}
		if k.Use != "" && use != "" && k.Use != use {
			continue
		}
		out = append(out, k)
	}
	return out
}
