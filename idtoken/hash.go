package idtoken

import (
	"crypto"
	"encoding/base64"
	"fmt"
	"strings"

	// Register the SHA-2 hashes.
	_ "crypto/sha256"
	_ "crypto/sha512"
)

// hashFor returns the hash matching the bit length of a JWS algorithm.
func hashFor(alg string) (crypto.Hash, error) {
	switch {
	case strings.HasSuffix(alg, "256"):
		return crypto.SHA256, nil
	case strings.HasSuffix(alg, "384"):
		return crypto.SHA384, nil
	case strings.HasSuffix(alg, "512"):
		return crypto.SHA512, nil
	default:
		return 0, fmt.Errorf("no hash for algorithm %q", alg)
	}
}

// LeftHalfHash computes the at_hash or c_hash value of token for an ID Token
// signed with alg: the base64url encoding of the left half of the hash.
func LeftHalfHash(alg, token string) (string, error) {
	h, err := hashFor(alg)
	if err != nil {
		return "", err
	}
	hasher := h.New()
	hasher.Write([]byte(token))
	sum := hasher.Sum(nil)
	return base64.RawURLEncoding.EncodeToString(sum[:len(sum)/2]), nil
}
