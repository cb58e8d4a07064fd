package security

import "time"

// DefaultClockSkewGracePeriod is the default tolerance applied to expiry
// checks to absorb clock drift between hosts.
const DefaultClockSkewGracePeriod = 5 * time.Second

// IsExpiredAt reports whether expiresAt lies more than gracePeriod before
// now. A zero expiresAt never expires.
func IsExpiredAt(expiresAt, now time.Time, gracePeriod time.Duration) bool {
	if expiresAt.IsZero() {
		return false
	}
	return now.After(expiresAt.Add(gracePeriod))
}

// IsTokenExpired checks expiry against the wall clock with the default grace period.
func IsTokenExpired(expiresAt time.Time) bool {
	return IsExpiredAt(expiresAt, time.Now(), DefaultClockSkewGracePeriod)
}
