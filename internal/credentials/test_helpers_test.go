package credentials

import (
	"errors"
	"fmt"
	"path/filepath"
	"sync"
	"testing"

	sqlite "github.com/glebarez/sqlite"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"
)

func openTestDatabase(t *testing.T) *gorm.DB {
	t.Helper()
	databasePath := filepath.Join(t.TempDir(), "credentials.db")
	db, err := gorm.Open(sqlite.Open(databasePath), &gorm.Config{Logger: gormlogger.Discard})
	if err != nil {
		t.Fatalf("failed to open sqlite: %v", err)
	}
	sqlDB, err := db.DB()
	if err != nil {
		t.Fatalf("failed to access sql db: %v", err)
	}
	sqlDB.SetMaxOpenConns(1)
	t.Cleanup(func() {
		_ = sqlDB.Close()
	})
	if err := db.AutoMigrate(&User{}, &Authentication{}); err != nil {
		t.Fatalf("failed to migrate credential schema: %v", err)
	}
	return db
}

func newTestStore(t *testing.T, db *gorm.DB, ids IDProvider) *Store {
	t.Helper()
	if ids == nil {
		ids = &sequenceIDProvider{}
	}
	store, err := NewStore(StoreConfig{Database: db, IDProvider: ids})
	if err != nil {
		t.Fatalf("failed to create store: %v", err)
	}
	return store
}

// sequenceIDProvider issues id-1, id-2, ... and fails on the call numbered failOn.
type sequenceIDProvider struct {
	mu     sync.Mutex
	calls  int
	failOn int
}

func (p *sequenceIDProvider) NewID() (string, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.calls++
	if p.failOn != 0 && p.calls == p.failOn {
		return "", errors.New("id source exhausted")
	}
	return fmt.Sprintf("id-%d", p.calls), nil
}

func countRows(t *testing.T, db *gorm.DB, model interface{}) int64 {
	t.Helper()
	var count int64
	if err := db.Model(model).Count(&count).Error; err != nil {
		t.Fatalf("failed to count rows: %v", err)
	}
	return count
}
