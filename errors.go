package oauth

import (
	"net/http"

	"github.com/giantswarm/oauth-engine/oautherr"
)

// OAuth error codes as constants
const (
	ErrorCodeInvalidRequest         = oautherr.CodeInvalidRequest
	ErrorCodeInvalidClient          = oautherr.CodeInvalidClient
	ErrorCodeInvalidGrant           = oautherr.CodeInvalidGrant
	ErrorCodeUnauthorizedClient     = oautherr.CodeUnauthorizedClient
	ErrorCodeInvalidScope           = oautherr.CodeInvalidScope
	ErrorCodeInvalidRequestObject   = oautherr.CodeInvalidRequestObject
	ErrorCodeInvalidRequestURI      = oautherr.CodeInvalidRequestURI
	ErrorCodeRequestNotSupported    = oautherr.CodeRequestNotSupported
	ErrorCodeRequestURINotSupported = oautherr.CodeRequestURINotSupported
	ErrorCodeUnsupportedTokenType   = oautherr.CodeUnsupportedTokenType
	ErrorCodeInternalServerError    = oautherr.CodeInternalServerError
	ErrorCodeAccessDenied           = oautherr.CodeAccessDenied
	ErrorCodeLoginRequired          = oautherr.CodeLoginRequired
	ErrorCodeConsentRequired        = oautherr.CodeConsentRequired
	ErrorCodeInteractionRequired    = oautherr.CodeInteractionRequired
	ErrorCodeSlowDown               = oautherr.CodeSlowDown
)

// OAuthError represents an OAuth 2.0 error response
type OAuthError = oautherr.Error

// NewOAuthError creates a new OAuth error
func NewOAuthError(code, description string, status int) *OAuthError {
	return oautherr.New(code, description, status)
}

// Common OAuth errors
var (
	ErrInvalidRequest     = oautherr.InvalidRequest
	ErrInvalidClient      = oautherr.InvalidClient
	ErrInvalidGrant       = oautherr.InvalidGrant
	ErrUnauthorizedClient = oautherr.UnauthorizedClient
	ErrInvalidScope       = oautherr.InvalidScope
	ErrAccessDenied       = oautherr.AccessDenied
	ErrServerError        = oautherr.InternalServerError
)

// WriteError writes err as a JSON error response. Errors that are not
// OAuth errors become internal_server_error without leaking their message.
func WriteError(w http.ResponseWriter, err error) {
	oautherr.WriteJSON(w, oautherr.From(err))
}
