package credentials

import (
	"context"
	"errors"

	"go.uber.org/zap"
	"gorm.io/gorm"
)

var noOpLogger = zap.NewNop()

// StoreConfig describes the dependencies of the credential store.
type StoreConfig struct {
	Database   *gorm.DB
	IDProvider IDProvider
	Logger     *zap.Logger
}

// Store persists users and their authentication records.
type Store struct {
	db         *gorm.DB
	idProvider IDProvider
	logger     *zap.Logger
}

// NewStore validates the configuration and constructs a Store.
func NewStore(cfg StoreConfig) (*Store, error) {
	if cfg.Database == nil {
		return nil, newServiceError(opStoreNew, "missing_database", errMissingDatabase)
	}
	if cfg.IDProvider == nil {
		return nil, newServiceError(opStoreNew, "missing_id_provider", errMissingIDProvider)
	}
	logger := cfg.Logger
	if logger == nil {
		logger = noOpLogger
	}
	return &Store{
		db:         cfg.Database,
		idProvider: cfg.IDProvider,
		logger:     logger,
	}, nil
}

// FindAuthentication returns the authentication for the type and identifier with its user
// preloaded, or nil when none exists.
func (s *Store) FindAuthentication(ctx context.Context, authType, identifier string) (*Authentication, error) {
	var record Authentication
	err := s.db.WithContext(ctx).
		Preload("User").
		Where("type = ? AND identifier = ?", normalize(authType), lookupIdentifier(authType, identifier)).
		Take(&record).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		s.logError(opFindAuthentication, "query_failed", err, zap.String("type", authType))
		return nil, newServiceError(opFindAuthentication, "query_failed", err)
	}
	return &record, nil
}

// FindUserByEmail returns the user with the email, or nil when none exists.
func (s *Store) FindUserByEmail(ctx context.Context, email string) (*User, error) {
	return s.findUser(ctx, "email = ?", NormalizeEmail(email))
}

// FindUserByID returns the user with the identifier, or nil when none exists.
func (s *Store) FindUserByID(ctx context.Context, userID string) (*User, error) {
	return s.findUser(ctx, "id = ?", normalize(userID))
}

func (s *Store) findUser(ctx context.Context, query string, value string) (*User, error) {
	var user User
	err := s.db.WithContext(ctx).Where(query, value).Take(&user).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		s.logError(opFindUser, "query_failed", err)
		return nil, newServiceError(opFindUser, "query_failed", err)
	}
	return &user, nil
}

// RegisterLocalUser creates a user and its local authentication in one transaction.
// The email is re-checked inside the transaction; a concurrent registration that
// committed first makes this call fail with ErrEmailTaken.
func (s *Store) RegisterLocalUser(ctx context.Context, fields ProfileFields, hashedPassword string) (User, error) {
	fields = normalizeFields(fields)
	if fields.Email == "" {
		return User{}, ErrMissingEmail
	}

	var created User
	txErr := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		taken, err := emailExists(tx, fields.Email)
		if err != nil {
			s.logError(opRegisterLocalUser, "user_select_failed", err)
			return newServiceError(opRegisterLocalUser, "user_select_failed", err)
		}
		if taken {
			return ErrEmailTaken
		}

		user, err := s.insertUser(tx, opRegisterLocalUser, fields)
		if err != nil {
			return err
		}

		authID, err := s.idProvider.NewID()
		if err != nil {
			s.logError(opRegisterLocalUser, "id_generation_failed", err, zap.String("user_id", user.ID))
			return newServiceError(opRegisterLocalUser, "id_generation_failed", err)
		}
		authentication := Authentication{
			ID:         authID,
			UserID:     user.ID,
			Type:       TypeLocal,
			Identifier: fields.Email,
			Password:   hashedPassword,
		}
		if err := tx.Create(&authentication).Error; err != nil {
			s.logError(opRegisterLocalUser, "authentication_insert_failed", err, zap.String("user_id", user.ID))
			return newServiceError(opRegisterLocalUser, "authentication_insert_failed", err)
		}

		created = user
		return nil
	})
	if txErr != nil {
		return User{}, txErr
	}
	return created, nil
}

// RegisterOrLinkProviderUser resolves a delegated identity to a user in one transaction.
// An existing (type, subject) authentication wins. Otherwise a verified email links the
// identity to the user owning it, and an unverified one already in use is ErrEmailTaken.
// Otherwise a new user is created.
func (s *Store) RegisterOrLinkProviderUser(ctx context.Context, identity ProviderIdentity) (User, error) {
	identity.Type = normalize(identity.Type)
	identity.Subject = normalize(identity.Subject)
	identity.Fields = normalizeFields(identity.Fields)
	if identity.Subject == "" {
		return User{}, ErrMissingSubject
	}
	if identity.Fields.Email == "" {
		return User{}, ErrMissingEmail
	}

	var resolved User
	txErr := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var existing Authentication
		err := tx.Preload("User").
			Where("type = ? AND identifier = ?", identity.Type, identity.Subject).
			Take(&existing).Error
		if err == nil {
			if identity.AccessToken != "" && identity.AccessToken != existing.AccessToken {
				if err := tx.Model(&Authentication{}).
					Where("id = ?", existing.ID).
					Update("access_token", identity.AccessToken).Error; err != nil {
					s.logError(opRegisterOrLinkProviderUser, "token_update_failed", err, zap.String("user_id", existing.UserID))
					return newServiceError(opRegisterOrLinkProviderUser, "token_update_failed", err)
				}
			}
			resolved = existing.User
			return nil
		}
		if !errors.Is(err, gorm.ErrRecordNotFound) {
			s.logError(opRegisterOrLinkProviderUser, "authentication_select_failed", err)
			return newServiceError(opRegisterOrLinkProviderUser, "authentication_select_failed", err)
		}

		var user User
		err = tx.Where("email = ?", identity.Fields.Email).Take(&user).Error
		switch {
		case errors.Is(err, gorm.ErrRecordNotFound):
			user, err = s.insertUser(tx, opRegisterOrLinkProviderUser, identity.Fields)
			if err != nil {
				return err
			}
		case err != nil:
			s.logError(opRegisterOrLinkProviderUser, "user_select_failed", err)
			return newServiceError(opRegisterOrLinkProviderUser, "user_select_failed", err)
		case !identity.EmailVerified:
			return ErrEmailTaken
		default:
			var linked int64
			if err := tx.Model(&Authentication{}).
				Where("user_id = ? AND type = ?", user.ID, identity.Type).
				Count(&linked).Error; err != nil {
				s.logError(opRegisterOrLinkProviderUser, "link_select_failed", err, zap.String("user_id", user.ID))
				return newServiceError(opRegisterOrLinkProviderUser, "link_select_failed", err)
			}
			if linked > 0 {
				return ErrProviderConflict
			}
		}

		authID, err := s.idProvider.NewID()
		if err != nil {
			s.logError(opRegisterOrLinkProviderUser, "id_generation_failed", err, zap.String("user_id", user.ID))
			return newServiceError(opRegisterOrLinkProviderUser, "id_generation_failed", err)
		}
		authentication := Authentication{
			ID:          authID,
			UserID:      user.ID,
			Type:        identity.Type,
			Identifier:  identity.Subject,
			AccessToken: identity.AccessToken,
		}
		if err := tx.Create(&authentication).Error; err != nil {
			s.logError(opRegisterOrLinkProviderUser, "authentication_insert_failed", err, zap.String("user_id", user.ID))
			return newServiceError(opRegisterOrLinkProviderUser, "authentication_insert_failed", err)
		}

		resolved = user
		return nil
	})
	if txErr != nil {
		return User{}, txErr
	}
	return resolved, nil
}

func (s *Store) insertUser(tx *gorm.DB, operation string, fields ProfileFields) (User, error) {
	userID, err := s.idProvider.NewID()
	if err != nil {
		s.logError(operation, "id_generation_failed", err)
		return User{}, newServiceError(operation, "id_generation_failed", err)
	}
	user := User{
		ID:        userID,
		Email:     fields.Email,
		FirstName: fields.FirstName,
		LastName:  fields.LastName,
	}
	if err := tx.Create(&user).Error; err != nil {
		if errors.Is(err, gorm.ErrDuplicatedKey) {
			return User{}, ErrEmailTaken
		}
		s.logError(operation, "user_insert_failed", err)
		return User{}, newServiceError(operation, "user_insert_failed", err)
	}
	return user, nil
}

func emailExists(tx *gorm.DB, email string) (bool, error) {
	var count int64
	if err := tx.Model(&User{}).Where("email = ?", email).Count(&count).Error; err != nil {
		return false, err
	}
	return count > 0, nil
}

func normalizeFields(fields ProfileFields) ProfileFields {
	return ProfileFields{
		Email:     NormalizeEmail(fields.Email),
		FirstName: normalize(fields.FirstName),
		LastName:  normalize(fields.LastName),
	}
}

// local identifiers are emails; delegated subjects are opaque and kept verbatim.
func lookupIdentifier(authType, identifier string) string {
	if normalize(authType) == TypeLocal {
		return NormalizeEmail(identifier)
	}
	return normalize(identifier)
}

func (s *Store) logError(operation, reason string, err error, fields ...zap.Field) {
	attrs := []zap.Field{
		zap.String("operation", operation),
		zap.String("reason", reason),
	}
	if err != nil {
		attrs = append(attrs, zap.Error(err))
	}
	attrs = append(attrs, fields...)
	s.logger.Error("credential store error", attrs...)
}
