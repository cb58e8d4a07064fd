package security

// Event type constants for security audit logging.
const (
	// Token lifecycle events

	// EventTokenIssued is logged when the token endpoint issues an access token
	EventTokenIssued = "token_issued"

	// EventTokenRefreshed is logged when a refresh token is redeemed
	EventTokenRefreshed = "token_refreshed"

	// EventTokenRevoked is logged when a token is revoked at the revocation endpoint
	EventTokenRevoked = "token_revoked"

	// Authorization endpoint events

	// EventAuthorizationCodeIssued is logged when an authorization code is issued
	EventAuthorizationCodeIssued = "authorization_code_issued"

	// EventAuthorizationCodeReuseDetected is logged when an authorization code is redeemed twice
	EventAuthorizationCodeReuseDetected = "authorization_code_reuse_detected"

	// EventImplicitTokenIssued is logged when an access token is returned from the authorization endpoint
	EventImplicitTokenIssued = "implicit_token_issued" //nolint:gosec // G101: event name, not a credential

	// EventConsentDecision is logged when the resource owner allows or denies a request
	EventConsentDecision = "consent_decision"

	// EventRequestObjectRejected is logged when a request object fails decryption or verification
	EventRequestObjectRejected = "request_object_rejected"

	// EventRedirectURIMismatch is logged when redirect_uri does not match a registered URI
	EventRedirectURIMismatch = "redirect_uri_mismatch"

	// Security violation events

	// EventAuthFailure is logged when client or user authentication fails
	EventAuthFailure = "auth_failure"

	// EventAmbiguousClientAuthentication is logged when a request carries more than one authentication method
	EventAmbiguousClientAuthentication = "ambiguous_client_authentication"

	// EventRateLimitExceeded is logged when a rate limit is exceeded
	EventRateLimitExceeded = "rate_limit_exceeded"

	// EventPKCEValidationFailed is logged when PKCE code_verifier validation fails
	EventPKCEValidationFailed = "pkce_validation_failed"

	// EventClientAssertionReplay is logged when a client assertion jti is presented twice
	EventClientAssertionReplay = "client_assertion_replay"

	// EventFetchBlocked is logged when an outbound fetch is refused by the SSRF guard
	EventFetchBlocked = "fetch_blocked"
)
