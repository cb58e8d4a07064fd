package oautherr

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
)

// WWWAuthenticateRealm is the realm advertised on invalid_client responses.
const WWWAuthenticateRealm = "oauth"

// WriteJSON writes e as a direct JSON error response. invalid_client
// responses carry a WWW-Authenticate challenge. Security headers are the
// caller's responsibility.
func WriteJSON(w http.ResponseWriter, e *Error) {
	if e.Status == http.StatusUnauthorized {
		w.Header().Set("WWW-Authenticate", fmt.Sprintf(`Basic realm=%q, error=%q, error_description=%q`,
			WWWAuthenticateRealm, e.Code, sanitizeHeaderValue(e.Description)))
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(e.Status)
	_ = json.NewEncoder(w).Encode(e.Params())
}

// sanitizeHeaderValue strips characters that cannot appear in a quoted
// header parameter.
func sanitizeHeaderValue(s string) string {
	return strings.Map(func(r rune) rune {
		if r < 0x20 || r == 0x7f || r == '"' || r == '\\' {
			return -1
		}
		return r
	}, s)
}
