package providers

import (
	"context"
	"errors"
)

var (
	// ErrUnknownProviderType indicates the provider type is not configured.
	ErrUnknownProviderType = errors.New("providers: unknown provider type")
	// ErrProviderDenied indicates the provider reported an authorization error on callback.
	ErrProviderDenied = errors.New("providers: authorization denied")
	// ErrMissingCode indicates the callback carried neither a code nor an error.
	ErrMissingCode = errors.New("providers: authorization code required")
)

// Profile holds the identity attributes a provider returns. Any field may be empty;
// Email in particular is optional for several providers. EmailVerified is true only
// when the provider asserted ownership of Email.
type Profile struct {
	Subject       string `json:"subject"`
	Email         string `json:"email,omitempty"`
	EmailVerified bool   `json:"emailVerified,omitempty"`
	FirstName     string `json:"firstName,omitempty"`
	LastName      string `json:"lastName,omitempty"`
}

// CallbackParams carries the query parameters of a provider redirect back to us.
type CallbackParams struct {
	Code             string
	Error            string
	ErrorDescription string
}

// Grant is the result of a successful delegated authorization.
type Grant struct {
	Profile     Profile
	AccessToken string
}

// Capability is the opaque delegated-login protocol for one provider type.
// Implementations return identity facts only and never create users.
type Capability interface {
	// AuthCodeURL returns the provider authorization URL for the state and scope.
	AuthCodeURL(state string, scope []string) string

	// Exchange turns a callback into a profile and access token.
	Exchange(ctx context.Context, params CallbackParams) (Grant, error)
}
