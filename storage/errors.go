package storage

import "errors"

var (
	// ErrClientNotFound is returned when a client does not exist.
	ErrClientNotFound = errors.New("client not found")

	// ErrAuthorizationCodeNotFound is returned when an authorization code does not exist.
	ErrAuthorizationCodeNotFound = errors.New("authorization code not found")

	// ErrAuthorizationCodeUsed is returned when an authorization code was already exchanged.
	ErrAuthorizationCodeUsed = errors.New("authorization code already used")

	// ErrTokenNotFound is returned when an access or refresh token does not exist.
	ErrTokenNotFound = errors.New("token not found")

	// ErrTokenRevoked is returned by RefreshTokenRepository.Consume when the
	// token was already revoked.
	ErrTokenRevoked = errors.New("token already revoked")

	// ErrSessionNotFound is returned when no pending authorization exists for an ID.
	ErrSessionNotFound = errors.New("authorization session not found")
)
