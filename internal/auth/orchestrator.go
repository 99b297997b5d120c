package auth

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/MarcoPoloResearchLab/identity/backend/internal/credentials"
	"github.com/MarcoPoloResearchLab/identity/backend/internal/profile"
	"github.com/MarcoPoloResearchLab/identity/backend/internal/providers"
	"go.uber.org/zap"
)

// Paths the orchestrator redirects to.
const (
	DefaultFinishPath = "/auth/finish"
	RegisterFormPath  = "/auth/register"
	LoginFormPath     = "/auth/login"
	EmailFormPath     = "/auth/email"
	ErrorPath         = "/auth/error"
)

var (
	errMissingRegistry  = errors.New("provider registry must be provided")
	errMissingStore     = errors.New("credential store must be provided")
	errMissingHasher    = errors.New("password hasher must be provided")
	errMissingValidator = errors.New("validator must be provided")
)

// FailurePath returns the failure page of a provider type.
func FailurePath(providerType string) string {
	return "/auth/" + providerType + "/failure"
}

// CredentialStore persists users and their authentication records.
type CredentialStore interface {
	FindAuthentication(ctx context.Context, authType, identifier string) (*credentials.Authentication, error)
	FindUserByEmail(ctx context.Context, email string) (*credentials.User, error)
	RegisterLocalUser(ctx context.Context, fields credentials.ProfileFields, hashedPassword string) (credentials.User, error)
	RegisterOrLinkProviderUser(ctx context.Context, identity credentials.ProviderIdentity) (credentials.User, error)
}

// PasswordHasher hashes and verifies local passwords.
type PasswordHasher interface {
	Hash(ctx context.Context, plaintext string) (string, error)
	Compare(ctx context.Context, plaintext, hashed string) (bool, error)
}

// AttemptState tracks where an attempt is in its lifecycle.
type AttemptState string

const (
	StateStart                     AttemptState = "start"
	StateAwaitingProviderCallback  AttemptState = "awaiting_provider_callback"
	StateAwaitingProfileCompletion AttemptState = "awaiting_profile_completion"
	StateAwaitingCredentialCheck   AttemptState = "awaiting_credential_check"
	StateResolved                  AttemptState = "resolved"
)

// Resolution is the terminal result of a resolved attempt.
type Resolution string

const (
	ResolutionNone    Resolution = ""
	ResolutionSuccess Resolution = "success"
	ResolutionFailure Resolution = "failure"
)

// ResponseMode selects how the HTTP layer writes an outcome.
type ResponseMode string

const (
	ModeRedirect ResponseMode = "redirect"
	ModePayload  ResponseMode = "payload"
)

// Outcome is the result of one orchestrator step. A success carries User and no errors;
// a failure carries Errors and no User.
type Outcome struct {
	State         AttemptState
	Resolution    Resolution
	Mode          ResponseMode
	RedirectTo    string
	User          *credentials.User
	Errors        FieldErrorSet
	MissingFields []string
}

// Succeeded reports whether the attempt resolved as a success.
func (o Outcome) Succeeded() bool {
	return o.State == StateResolved && o.Resolution == ResolutionSuccess
}

// Failed reports whether the attempt resolved as a failure.
func (o Outcome) Failed() bool {
	return o.State == StateResolved && o.Resolution == ResolutionFailure
}

// OrchestratorConfig describes the dependencies of the Orchestrator.
type OrchestratorConfig struct {
	Registry         *providers.Registry
	Store            CredentialStore
	Hasher           PasswordHasher
	Validator        *Validator
	RegisterRedirect string
	LoginRedirect    string
	Logger           *zap.Logger
}

// Orchestrator drives local and delegated authentication attempts.
type Orchestrator struct {
	registry         *providers.Registry
	store            CredentialStore
	hasher           PasswordHasher
	validator        *Validator
	registerRedirect string
	loginRedirect    string
	logger           *zap.Logger
}

// NewOrchestrator validates the configuration and constructs an Orchestrator.
func NewOrchestrator(cfg OrchestratorConfig) (*Orchestrator, error) {
	if cfg.Registry == nil {
		return nil, errMissingRegistry
	}
	if cfg.Store == nil {
		return nil, errMissingStore
	}
	if cfg.Hasher == nil {
		return nil, errMissingHasher
	}
	if cfg.Validator == nil {
		return nil, errMissingValidator
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Orchestrator{
		registry:         cfg.Registry,
		store:            cfg.Store,
		hasher:           cfg.Hasher,
		validator:        cfg.Validator,
		registerRedirect: pathOrDefault(cfg.RegisterRedirect),
		loginRedirect:    pathOrDefault(cfg.LoginRedirect),
		logger:           logger,
	}, nil
}

// BeginDelegatedLogin returns the provider authorization URL for the type.
func (o *Orchestrator) BeginDelegatedLogin(providerType, state string) (string, error) {
	entry, err := o.registry.Lookup(providerType)
	if err != nil {
		return "", err
	}
	return entry.Capability.AuthCodeURL(state, o.registry.ScopeFor(entry.Type)), nil
}

// CompleteDelegatedCallback exchanges the provider callback and either resolves the
// attempt or leaves the profile in flight for completion.
func (o *Orchestrator) CompleteDelegatedCallback(ctx context.Context, providerType string, params providers.CallbackParams, acc *profile.Accumulator, wantsHTML bool) (Outcome, error) {
	entry, err := o.registry.Lookup(providerType)
	if err != nil {
		return Outcome{}, err
	}

	grant, err := entry.Capability.Exchange(ctx, params)
	if err != nil {
		o.logger.Info("delegated login failed", zap.String("type", entry.Type), zap.Error(err))
		errs := NewFieldErrorSet(FailurePath(entry.Type))
		errs.Add(CodeProviderFailed, "")
		return failure(errs, wantsHTML), nil
	}

	acc.Begin(entry.Type, grant.AccessToken, grant.Profile)
	if acc.State() == profile.StatePartial {
		return awaitingProfile(acc.MissingFields(), wantsHTML), nil
	}
	return o.persistDelegated(ctx, acc, wantsHTML)
}

// SubmitProfileField validates and records one field of the in-flight profile. A profile
// that becomes complete is persisted in the same call.
func (o *Orchestrator) SubmitProfileField(ctx context.Context, acc *profile.Accumulator, name, value string, wantsHTML bool) (Outcome, error) {
	if errs := o.validator.CheckField(name, value, EmailFormPath); !errs.Empty() {
		return failure(errs, wantsHTML), nil
	}
	if err := acc.SupplyField(name, value); err != nil {
		return Outcome{}, err
	}
	if acc.State() == profile.StatePartial {
		return awaitingProfile(acc.MissingFields(), wantsHTML), nil
	}
	return o.persistDelegated(ctx, acc, wantsHTML)
}

// RegisterLocal creates a user with local credentials. The input must already have passed
// the credential-shape gate.
func (o *Orchestrator) RegisterLocal(ctx context.Context, registration Registration, wantsHTML bool) Outcome {
	errs := NewFieldErrorSet(RegisterFormPath)
	email := credentials.NormalizeEmail(registration.Email)

	existing, err := o.store.FindUserByEmail(ctx, email)
	if err != nil {
		o.logError("register_local", "precheck_failed", err)
		errs.Add(CodeUnknown, "")
		return failure(errs, wantsHTML)
	}
	if existing != nil {
		o.logger.Info("registration rejected", zap.String("reason", "email_exists"))
		errs.Add(CodeEmailExists, profile.FieldEmail)
		return failure(errs, wantsHTML)
	}

	hashed, err := o.hasher.Hash(ctx, registration.Password)
	if err != nil {
		o.logError("register_local", "hash_failed", err)
		errs.Add(CodeUnknown, "")
		return failure(errs, wantsHTML)
	}

	user, err := o.store.RegisterLocalUser(ctx, credentials.ProfileFields{
		Email:     email,
		FirstName: registration.FirstName,
		LastName:  registration.LastName,
	}, hashed)
	if err != nil {
		if errors.Is(err, credentials.ErrEmailTaken) {
			o.logger.Info("registration rejected", zap.String("reason", "email_exists"))
			errs.Add(CodeEmailExists, profile.FieldEmail)
			return failure(errs, wantsHTML)
		}
		o.logError("register_local", "persist_failed", err)
		errs.Add(CodeUnknown, "")
		return failure(errs, wantsHTML)
	}
	return success(user, o.registerRedirect, wantsHTML)
}

// LoginLocal verifies local credentials. A failure reports exactly one error.
func (o *Orchestrator) LoginLocal(ctx context.Context, creds Credentials, wantsHTML bool) Outcome {
	errs := NewFieldErrorSet(LoginFormPath)

	authentication, err := o.store.FindAuthentication(ctx, credentials.TypeLocal, creds.Email)
	if err != nil {
		o.logError("login_local", "lookup_failed", err)
		errs.Add(CodeUnknown, "")
		return failure(errs, wantsHTML)
	}
	if authentication == nil {
		o.logger.Info("login rejected", zap.String("reason", "unknown_user"))
		errs.Add(CodeUnknownUser, profile.FieldEmail)
		return failure(errs, wantsHTML)
	}

	matches, err := o.hasher.Compare(ctx, creds.Password, authentication.Password)
	if err != nil {
		o.logError("login_local", "compare_failed", err, zap.String("user_id", authentication.UserID))
		errs.Add(CodeUnknown, "")
		return failure(errs, wantsHTML)
	}
	if !matches {
		o.logger.Info("login rejected", zap.String("reason", "invalid_password"), zap.String("user_id", authentication.UserID))
		errs.Add(CodeInvalidPassword, "password")
		return failure(errs, wantsHTML)
	}
	return success(authentication.User, o.loginRedirect, wantsHTML)
}

func (o *Orchestrator) persistDelegated(ctx context.Context, acc *profile.Accumulator, wantsHTML bool) (Outcome, error) {
	completed, err := acc.Consume()
	if err != nil {
		return Outcome{}, err
	}

	user, err := o.store.RegisterOrLinkProviderUser(ctx, credentials.ProviderIdentity{
		Type:        completed.Type,
		Subject:     completed.Profile.Subject,
		AccessToken: completed.AccessToken,
		Fields: credentials.ProfileFields{
			Email:     completed.Profile.Email,
			FirstName: completed.Profile.FirstName,
			LastName:  completed.Profile.LastName,
		},
		EmailVerified: completed.Profile.EmailVerified,
	})
	if err != nil {
		if errors.Is(err, credentials.ErrEmailTaken) {
			// reopen the profile without the email so another one can be supplied
			reopened := completed.Profile
			reopened.Email = ""
			reopened.EmailVerified = false
			acc.Begin(completed.Type, completed.AccessToken, reopened)
			o.logger.Info("delegated login rejected", zap.String("type", completed.Type), zap.String("reason", "email_exists"))
			errs := NewFieldErrorSet(EmailFormPath)
			errs.Add(CodeEmailExists, profile.FieldEmail)
			return failure(errs, wantsHTML), nil
		}
		errs := NewFieldErrorSet(FailurePath(completed.Type))
		if errors.Is(err, credentials.ErrProviderConflict) {
			o.logger.Info("delegated login rejected", zap.String("type", completed.Type), zap.String("reason", "provider_conflict"))
			errs.Add(CodeProviderConflict, profile.FieldEmail)
			return failure(errs, wantsHTML), nil
		}
		o.logError("persist_delegated", "persist_failed", err, zap.String("type", completed.Type))
		errs.Add(CodeUnknown, "")
		return failure(errs, wantsHTML), nil
	}
	return success(user, o.loginRedirect, wantsHTML), nil
}

func (o *Orchestrator) logError(operation, reason string, err error, fields ...zap.Field) {
	attrs := []zap.Field{
		zap.String("operation", fmt.Sprintf("auth.%s", operation)),
		zap.String("reason", reason),
	}
	if err != nil {
		attrs = append(attrs, zap.Error(err))
	}
	attrs = append(attrs, fields...)
	o.logger.Error("authentication attempt error", attrs...)
}

func success(user credentials.User, redirect string, wantsHTML bool) Outcome {
	return Outcome{
		State:      StateResolved,
		Resolution: ResolutionSuccess,
		Mode:       modeFor(wantsHTML),
		RedirectTo: redirect,
		User:       &user,
	}
}

func failure(errs FieldErrorSet, wantsHTML bool) Outcome {
	return Outcome{
		State:      StateResolved,
		Resolution: ResolutionFailure,
		Mode:       modeFor(wantsHTML),
		RedirectTo: errs.Redirect(),
		Errors:     errs,
	}
}

func awaitingProfile(missing []string, wantsHTML bool) Outcome {
	return Outcome{
		State:         StateAwaitingProfileCompletion,
		Mode:          modeFor(wantsHTML),
		RedirectTo:    EmailFormPath,
		MissingFields: missing,
	}
}

func modeFor(wantsHTML bool) ResponseMode {
	if wantsHTML {
		return ModeRedirect
	}
	return ModePayload
}

func pathOrDefault(path string) string {
	if trimmed := strings.TrimSpace(path); trimmed != "" {
		return trimmed
	}
	return DefaultFinishPath
}
