// Package security provides the security plumbing shared by the authorization
// and token endpoints: audit logging with hashed identifiers, encryption at
// rest, per-identifier rate limiting, client IP extraction, response security
// headers, request IDs and an outbound fetcher guarded against SSRF.
//
// # Rate Limiting
//
// RateLimiter is a token bucket per identifier with LRU eviction. There is no
// background cleanup: idle limiters are pruned lazily when the limiter is at
// capacity.
//
//	limiter := security.NewRateLimiter(10, 20, logger)
//	if !limiter.Allow(clientIP) {
//	    // reply with slow_down / 429
//	}
//
// # Outbound fetches
//
// Fetcher is used for request_uri and jwks_uri retrieval. It enforces a
// timeout, a body size limit, refuses redirects and by default refuses to
// connect to loopback, private, link-local and unspecified addresses.
package security
