package database

import (
	"path/filepath"
	"testing"

	"github.com/MarcoPoloResearchLab/identity/backend/internal/credentials"
	sqlite "github.com/glebarez/sqlite"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"
)

func TestApplyMigrationsNormalizesCredentialEmails(testContext *testing.T) {
	tempDir := testContext.TempDir()
	databasePath := filepath.Join(tempDir, "migration.db")

	database, err := gorm.Open(sqlite.Open(databasePath), &gorm.Config{Logger: gormlogger.Discard})
	if err != nil {
		testContext.Fatalf("failed to open sqlite: %v", err)
	}

	if err := database.AutoMigrate(&credentials.User{}, &credentials.Authentication{}, &migrationRecord{}); err != nil {
		testContext.Fatalf("failed to migrate schema: %v", err)
	}

	seeds := []credentials.User{
		{ID: "user-1", Email: " Ada@Example.COM "},
		{ID: "user-2", Email: "grace@example.com"},
		{ID: "user-3", Email: "Grace@Example.com"},
	}
	for _, seed := range seeds {
		if err := database.Create(&seed).Error; err != nil {
			testContext.Fatalf("failed to insert user: %v", err)
		}
	}
	authentication := credentials.Authentication{
		ID:         "auth-1",
		UserID:     "user-1",
		Type:       credentials.TypeLocal,
		Identifier: " Ada@Example.COM ",
		Password:   "hash",
	}
	if err := database.Create(&authentication).Error; err != nil {
		testContext.Fatalf("failed to insert authentication: %v", err)
	}
	delegated := credentials.Authentication{ID: "auth-2", UserID: "user-2", Type: "github", Identifier: "MixedCaseSubject"}
	if err := database.Create(&delegated).Error; err != nil {
		testContext.Fatalf("failed to insert delegated authentication: %v", err)
	}

	core, logs := observer.New(zapcore.InfoLevel)
	if err := applyMigrations(database, zap.New(core)); err != nil {
		testContext.Fatalf("failed to apply migrations: %v", err)
	}

	var ada credentials.User
	if err := database.Where("id = ?", "user-1").Take(&ada).Error; err != nil {
		testContext.Fatalf("failed to reload user: %v", err)
	}
	if ada.Email != "ada@example.com" {
		testContext.Fatalf("expected normalized email, got %q", ada.Email)
	}

	var collided credentials.User
	if err := database.Where("id = ?", "user-3").Take(&collided).Error; err != nil {
		testContext.Fatalf("failed to reload user: %v", err)
	}
	if collided.Email != "Grace@Example.com" {
		testContext.Fatalf("colliding email must be left untouched, got %q", collided.Email)
	}
	if logs.FilterMessage("email normalization skipped").Len() != 1 {
		testContext.Fatalf("expected collision to be logged")
	}

	var storedLocal credentials.Authentication
	if err := database.Where("id = ?", "auth-1").Take(&storedLocal).Error; err != nil {
		testContext.Fatalf("failed to reload authentication: %v", err)
	}
	if storedLocal.Identifier != "ada@example.com" {
		testContext.Fatalf("expected normalized identifier, got %q", storedLocal.Identifier)
	}
	var storedDelegated credentials.Authentication
	if err := database.Where("id = ?", "auth-2").Take(&storedDelegated).Error; err != nil {
		testContext.Fatalf("failed to reload authentication: %v", err)
	}
	if storedDelegated.Identifier != "MixedCaseSubject" {
		testContext.Fatalf("delegated subjects must be kept verbatim, got %q", storedDelegated.Identifier)
	}

	var record migrationRecord
	if err := database.Where("name = ?", migrationNormalizeCredentialEmails).Take(&record).Error; err != nil {
		testContext.Fatalf("expected migration record to be created: %v", err)
	}
	if record.AppliedAtSeconds == 0 {
		testContext.Fatalf("expected migration timestamp to be set")
	}

	if err := applyMigrations(database, zap.New(core)); err != nil {
		testContext.Fatalf("failed to re-apply migrations: %v", err)
	}
	if logs.FilterMessage("database migration applied").Len() != 1 {
		testContext.Fatalf("migration must run once")
	}
}

func TestOpenSQLiteCreatesSchema(testContext *testing.T) {
	databasePath := filepath.Join(testContext.TempDir(), "identity.db")

	database, err := OpenSQLite(databasePath, nil)
	if err != nil {
		testContext.Fatalf("failed to open database: %v", err)
	}
	sqlDB, err := database.DB()
	if err != nil {
		testContext.Fatalf("failed to access sql db: %v", err)
	}
	defer sqlDB.Close()

	for _, table := range []string{"users", "authentications", "db_migrations"} {
		if !database.Migrator().HasTable(table) {
			testContext.Fatalf("expected table %s", table)
		}
	}

	if _, err := OpenSQLite("", nil); err == nil {
		testContext.Fatalf("expected error for empty path")
	}
}
