package providers

import (
	"context"
	"errors"
	"slices"
)

var (
	// ErrInvalidCredentials is returned when a username and password do not match.
	ErrInvalidCredentials = errors.New("invalid credentials")

	// ErrUserNotFound is returned when no account exists for an ID.
	ErrUserNotFound = errors.New("user not found")
)

// AccountProvider resolves resource owners.
type AccountProvider interface {
	// Authenticate checks a username and password and returns the account.
	// It returns ErrInvalidCredentials on mismatch and for unknown users.
	Authenticate(ctx context.Context, username, password string) (*UserInfo, error)

	// Lookup returns the account with the given ID or ErrUserNotFound.
	Lookup(ctx context.Context, id string) (*UserInfo, error)
}

// UserInfo represents a resource owner's profile
type UserInfo struct {
	// ID is the unique user identifier, used as the subject of issued tokens
	ID string

	// Username is the login name accepted by the password grant. Defaults to ID.
	Username string

	// Email is the user's email address
	Email string

	// EmailVerified indicates if the email is verified
	EmailVerified bool

	// Name is the user's full name
	Name string

	// GivenName is the user's first name
	GivenName string

	// FamilyName is the user's last name
	FamilyName string

	// Picture is the URL of the user's profile picture
	Picture string

	// Locale is the user's preferred locale
	Locale string
}

// Claims returns the standard OpenID Connect claims released for the granted
// scopes. Empty values are omitted.
func (u *UserInfo) Claims(scopes []string) map[string]any {
	claims := map[string]any{}
	if u == nil {
		return claims
	}

	set := func(name, value string) {
		if value != "" {
			claims[name] = value
		}
	}

	if slices.Contains(scopes, "profile") {
		set("name", u.Name)
		set("given_name", u.GivenName)
		set("family_name", u.FamilyName)
		set("picture", u.Picture)
		set("locale", u.Locale)
		set("preferred_username", u.Username)
	}
	if slices.Contains(scopes, "email") && u.Email != "" {
		claims["email"] = u.Email
		claims["email_verified"] = u.EmailVerified
	}
	return claims
}
