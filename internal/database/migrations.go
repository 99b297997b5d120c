package database

import (
	"errors"
	"time"

	"github.com/MarcoPoloResearchLab/identity/backend/internal/credentials"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

const migrationNormalizeCredentialEmails = "2026-10-01_normalize_credential_emails"

type migrationRecord struct {
	Name             string `gorm:"column:name;primaryKey;size:190;not null"`
	AppliedAtSeconds int64  `gorm:"column:applied_at_s;not null"`
}

func (migrationRecord) TableName() string {
	return "db_migrations"
}

type migrationDefinition struct {
	name  string
	apply func(*gorm.DB, *zap.Logger) error
}

func applyMigrations(db *gorm.DB, logger *zap.Logger) error {
	migrations := []migrationDefinition{
		{name: migrationNormalizeCredentialEmails, apply: normalizeCredentialEmails},
	}

	for _, migration := range migrations {
		var record migrationRecord
		err := db.Where("name = ?", migration.name).Take(&record).Error
		if err == nil {
			continue
		}
		if !errors.Is(err, gorm.ErrRecordNotFound) {
			return err
		}
		err = db.Transaction(func(tx *gorm.DB) error {
			if err := migration.apply(tx, logger); err != nil {
				return err
			}
			appliedAt := time.Now().UTC().Unix()
			return tx.Create(&migrationRecord{Name: migration.name, AppliedAtSeconds: appliedAt}).Error
		})
		if err != nil {
			return err
		}
		logger.Info("database migration applied", zap.String("migration", migration.name))
	}
	return nil
}

// normalizeCredentialEmails lower-cases user emails and local identifiers. Rows whose
// normalized value is already taken are left untouched and logged.
func normalizeCredentialEmails(tx *gorm.DB, logger *zap.Logger) error {
	var users []credentials.User
	if err := tx.Select("id", "email").Find(&users).Error; err != nil {
		return err
	}
	for _, user := range users {
		normalized := credentials.NormalizeEmail(user.Email)
		if normalized == user.Email {
			continue
		}
		var taken int64
		if err := tx.Model(&credentials.User{}).Where("email = ? AND id <> ?", normalized, user.ID).Count(&taken).Error; err != nil {
			return err
		}
		if taken > 0 {
			logger.Warn("email normalization skipped", zap.String("user_id", user.ID), zap.String("reason", "collision"))
			continue
		}
		if err := tx.Model(&credentials.User{}).Where("id = ?", user.ID).Update("email", normalized).Error; err != nil {
			return err
		}
	}

	var authentications []credentials.Authentication
	if err := tx.Select("id", "user_id", "identifier").Where("type = ?", credentials.TypeLocal).Find(&authentications).Error; err != nil {
		return err
	}
	for _, authentication := range authentications {
		normalized := credentials.NormalizeEmail(authentication.Identifier)
		if normalized == authentication.Identifier {
			continue
		}
		var taken int64
		if err := tx.Model(&credentials.Authentication{}).
			Where("type = ? AND identifier = ? AND id <> ?", credentials.TypeLocal, normalized, authentication.ID).
			Count(&taken).Error; err != nil {
			return err
		}
		if taken > 0 {
			logger.Warn("identifier normalization skipped", zap.String("user_id", authentication.UserID), zap.String("reason", "collision"))
			continue
		}
		if err := tx.Model(&credentials.Authentication{}).Where("id = ?", authentication.ID).Update("identifier", normalized).Error; err != nil {
			return err
		}
	}
	return nil
}
