package security

import (
	"fmt"
	"net/http"
	"net/url"
)

// SetSecurityHeaders sets the security headers used on every OAuth endpoint
// response. HSTS is only sent when issuer is an https URL.
func SetSecurityHeaders(w http.ResponseWriter, issuer string) {
	h := w.Header()
	h.Set("X-Frame-Options", "DENY")
	h.Set("X-Content-Type-Options", "nosniff")
	h.Set("Content-Security-Policy", "default-src 'none'; frame-ancestors 'none'")
	h.Set("Referrer-Policy", "no-referrer")

	if parsed, err := url.Parse(issuer); err == nil && parsed.Scheme == "https" {
		h.Set("Strict-Transport-Security", "max-age=31536000; includeSubDomains")
	}

	// Token and authorization responses carry credentials
	h.Set("Cache-Control", "no-store")
	h.Set("Pragma", "no-cache")
}

// SetFormPostHeaders relaxes the content security policy for a form_post
// response: only the script carrying scriptNonce may run and the form may
// only be submitted to formAction's origin.
func SetFormPostHeaders(w http.ResponseWriter, issuer, scriptNonce, formAction string) {
	SetSecurityHeaders(w, issuer)

	action := "'none'"
	if u, err := url.Parse(formAction); err == nil && u.Scheme != "" && u.Host != "" {
		action = u.Scheme + "://" + u.Host
	}
	w.Header().Set("Content-Security-Policy", fmt.Sprintf(
		"default-src 'none'; script-src 'nonce-%s'; form-action %s; frame-ancestors 'none'",
		scriptNonce, action))
}
