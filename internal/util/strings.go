package util

// SafeTruncate returns at most the first n bytes of s. Tokens and
// identifiers are logged through it so only a prefix reaches the logs.
// A negative n gives "".
func SafeTruncate(s string, n int) string {
	switch {
	case n <= 0:
		return ""
	case len(s) <= n:
		return s
	}
	return s[:n]
}
