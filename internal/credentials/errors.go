package credentials

import (
	"errors"
	"fmt"
)

var (
	// ErrEmailTaken indicates a user with the email already exists.
	ErrEmailTaken = errors.New("credentials: email already registered")
	// ErrMissingEmail indicates the profile fields carried no email.
	ErrMissingEmail = errors.New("credentials: email required")
	// ErrMissingSubject indicates a delegated identity without a provider subject.
	ErrMissingSubject = errors.New("credentials: provider subject required")
	// ErrProviderConflict indicates the user already links a different subject for the provider type.
	ErrProviderConflict = errors.New("credentials: provider already linked to another subject")
	// ErrCrypto wraps any failure raised while hashing or comparing passwords.
	ErrCrypto = errors.New("credentials: crypto failure")

	errMissingDatabase   = errors.New("database handle is required")
	errMissingIDProvider = errors.New("id provider is required")
)

// ServiceError reports a persistence failure tagged with the failing operation.
type ServiceError struct {
	code string
	err  error
}

func (e *ServiceError) Error() string {
	if e.err == nil {
		return e.code
	}
	return fmt.Sprintf("%s: %v", e.code, e.err)
}

func (e *ServiceError) Unwrap() error {
	return e.err
}

func (e *ServiceError) Code() string {
	return e.code
}

const (
	opStoreNew                   = "credentials.store.new"
	opFindAuthentication         = "credentials.find_authentication"
	opFindUser                   = "credentials.find_user"
	opRegisterLocalUser          = "credentials.register_local_user"
	opRegisterOrLinkProviderUser = "credentials.register_or_link_provider_user"
)

func newServiceError(operation, reason string, cause error) error {
	code := fmt.Sprintf("%s.%s", operation, reason)
	return &ServiceError{code: code, err: cause}
}
