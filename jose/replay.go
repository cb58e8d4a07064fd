package jose

import (
	"slices"
	"time"

	"github.com/patrickmn/go-cache"
)

// maxReplayEntries triggers a sweep of expired jti entries.
const maxReplayEntries = 10000

// ReplayCache remembers the jti of accepted assertions until they expire.
type ReplayCache struct {
	seen   *cache.Cache
	leeway time.Duration
	now    func() time.Time
}

// NewReplayCache creates a cache keeping entries for the remaining lifetime
// of the assertion plus leeway.
func NewReplayCache(leeway time.Duration, now func() time.Time) *ReplayCache {
	if now == nil {
		now = time.Now
	}
	return &ReplayCache{
		seen:   cache.New(cache.NoExpiration, 0),
		leeway: leeway,
		now:    now,
	}
}

// MarkSeen records jti for issuer and reports false when it was already
// used. exp is the raw "exp" claim.
func (c *ReplayCache) MarkSeen(issuer, jti string, exp any) bool {
	ttl := c.leeway
	if f, ok := exp.(float64); ok {
		ttl += time.Unix(int64(f), 0).Sub(c.now())
	}
	if ttl <= 0 {
		ttl = c.leeway
	}

	if c.seen.ItemCount() > maxReplayEntries {
		c.seen.DeleteExpired()
	}
	return c.seen.Add(issuer+"|"+jti, struct{}{}, ttl) == nil
}

// AudienceAccepted reports whether the raw "aud" claim names one of
// accepted. The claim may be a string or an array of strings.
func AudienceAccepted(aud any, accepted []string) bool {
	switch v := aud.(type) {
	case string:
		return slices.Contains(accepted, v)
	case []any:
		for _, e := range v {
			if s, ok := e.(string); ok && slices.Contains(accepted, s) {
				return true
			}
		}
	case []string:
		for _, s := range v {
			if slices.Contains(accepted, s) {
				return true
			}
		}
	}
	return false
}
