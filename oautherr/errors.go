// Package oautherr defines the structured error value shared by every stage
// of the authorization and token endpoints.
//
// Errors carry a machine-readable code from the OAuth 2.0 / OpenID Connect
// vocabulary, a human-readable description and the HTTP status the error is
// rendered with. Internal failures are wrapped as the cause and never leak
// into the rendered description.
package oautherr

import (
	"errors"
	"fmt"
	"net/http"
)

// OAuth 2.0 and OpenID Connect error codes.
const (
	CodeInvalidRequest         = "invalid_request"
	CodeInvalidClient          = "invalid_client"
	CodeInvalidGrant           = "invalid_grant"
	CodeUnauthorizedClient     = "unauthorized_client"
	CodeInvalidScope           = "invalid_scope"
	CodeInvalidRequestObject   = "invalid_request_object"
	CodeInvalidRequestURI      = "invalid_request_uri"
	CodeRequestNotSupported    = "request_not_supported"
	CodeRequestURINotSupported = "request_uri_not_supported"
	CodeUnsupportedTokenType   = "unsupported_token_type"
	CodeInternalServerError    = "internal_server_error"
	CodeAccessDenied           = "access_denied"
	CodeLoginRequired          = "login_required"
	CodeConsentRequired        = "consent_required"
	CodeInteractionRequired    = "interaction_required"
	CodeAccountSelectionReq    = "account_selection_required"
	CodeSlowDown               = "slow_down"
)

// Error is an OAuth 2.0 error response.
type Error struct {
	Code        string // OAuth error code (e.g., "invalid_request", "invalid_grant")
	Description string // Human-readable error description
	Status      int    // HTTP status code

	// Parameter names the request parameter that caused the error, if any.
	Parameter string

	cause error
}

// Error implements the error interface
func (e *Error) Error() string {
	if e.cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Description, e.cause)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Description)
}

// Unwrap returns the internal cause.
func (e *Error) Unwrap() error {
	return e.cause
}

// Wrap returns a copy of e carrying cause as its internal reason.
func (e *Error) Wrap(cause error) *Error {
	c := *e
	c.cause = cause
	return &c
}

// ForParameter returns a copy of e naming the offending parameter.
func (e *Error) ForParameter(name string) *Error {
	c := *e
	c.Parameter = name
	return &c
}

// Params returns the error as response parameters.
func (e *Error) Params() map[string]string {
	p := map[string]string{"error": e.Code}
	if e.Description != "" {
		p["error_description"] = e.Description
	}
	return p
}

// New creates a new OAuth error
func New(code, description string, status int) *Error {
	return &Error{
		Code:        code,
		Description: description,
		Status:      status,
	}
}

// From converts any error to an *Error. Errors that are not OAuth errors
// become internal_server_error with a generic description, keeping the
// original as cause for logging.
func From(err error) *Error {
	if err == nil {
		return nil
	}
	var oe *Error
	if errors.As(err, &oe) {
		return oe
	}
	return InternalServerError("The server encountered an unexpected condition").Wrap(err)
}

// Is reports whether err is an OAuth error with the given code.
func Is(err error, code string) bool {
	var oe *Error
	return errors.As(err, &oe) && oe.Code == code
}

// InvalidRequest indicates the request is malformed or missing required parameters
func InvalidRequest(desc string) *Error {
	return New(CodeInvalidRequest, desc, http.StatusBadRequest)
}

// InvalidClient indicates client authentication failed
func InvalidClient(desc string) *Error {
	return New(CodeInvalidClient, desc, http.StatusUnauthorized)
}

// InvalidGrant indicates the authorization grant or refresh token is invalid,
// expired, revoked or bound to another client
func InvalidGrant(desc string) *Error {
	return New(CodeInvalidGrant, desc, http.StatusBadRequest)
}

// UnauthorizedClient indicates the client may not use the requested grant or response type
func UnauthorizedClient(desc string) *Error {
	return New(CodeUnauthorizedClient, desc, http.StatusBadRequest)
}

// InvalidScope indicates the requested scope is invalid, unknown or not allowed
func InvalidScope(desc string) *Error {
	return New(CodeInvalidScope, desc, http.StatusBadRequest).ForParameter("scope")
}

// InvalidRequestObject indicates the request object is invalid
func InvalidRequestObject(desc string) *Error {
	return New(CodeInvalidRequestObject, desc, http.StatusBadRequest).ForParameter("request")
}

// InvalidRequestURI indicates the request_uri is invalid or could not be fetched
func InvalidRequestURI(desc string) *Error {
	return New(CodeInvalidRequestURI, desc, http.StatusBadRequest).ForParameter("request_uri")
}

// RequestNotSupported indicates the request parameter is not supported
func RequestNotSupported(desc string) *Error {
	return New(CodeRequestNotSupported, desc, http.StatusBadRequest).ForParameter("request")
}

// RequestURINotSupported indicates the request_uri parameter is not supported
func RequestURINotSupported(desc string) *Error {
	return New(CodeRequestURINotSupported, desc, http.StatusBadRequest).ForParameter("request_uri")
}

// UnsupportedTokenType indicates the token type hint is not supported
func UnsupportedTokenType(desc string) *Error {
	return New(CodeUnsupportedTokenType, desc, http.StatusBadRequest).ForParameter("token_type_hint")
}

// InternalServerError indicates an internal server error occurred
func InternalServerError(desc string) *Error {
	return New(CodeInternalServerError, desc, http.StatusInternalServerError)
}

// AccessDenied indicates the resource owner denied the request
func AccessDenied(desc string) *Error {
	return New(CodeAccessDenied, desc, http.StatusBadRequest)
}

// LoginRequired indicates prompt=none was requested without an authenticated user
func LoginRequired(desc string) *Error {
	return New(CodeLoginRequired, desc, http.StatusBadRequest)
}

// ConsentRequired indicates prompt=none was requested but consent is missing
func ConsentRequired(desc string) *Error {
	return New(CodeConsentRequired, desc, http.StatusBadRequest)
}

// InteractionRequired indicates prompt=none was requested but user interaction is needed
func InteractionRequired(desc string) *Error {
	return New(CodeInteractionRequired, desc, http.StatusBadRequest)
}

// SlowDown indicates the client is being rate limited
func SlowDown(desc string) *Error {
	return New(CodeSlowDown, desc, http.StatusTooManyRequests)
}
