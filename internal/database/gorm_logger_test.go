package database

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/MarcoPoloResearchLab/identity/backend/internal/credentials"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"
)

func TestGormLoggerSkipsRecordNotFound(t *testing.T) {
	core, logs := observer.New(zapcore.DebugLevel)
	db, err := OpenSQLite(filepath.Join(t.TempDir(), "quiet.db"), zap.New(core))
	if err != nil {
		t.Fatalf("failed to open sqlite: %v", err)
	}
	sqlDB, err := db.DB()
	if err != nil {
		t.Fatalf("failed to access sql db: %v", err)
	}
	t.Cleanup(func() {
		_ = sqlDB.Close()
	})

	var user credentials.User
	if err := db.Where("email = ?", "nobody@x.com").Take(&user).Error; !errors.Is(err, gorm.ErrRecordNotFound) {
		t.Fatalf("expected ErrRecordNotFound, got %v", err)
	}
	if entries := logs.FilterMessage("sql statement failed").All(); len(entries) != 0 {
		t.Fatalf("expected no gorm error entries for a lookup miss, got %#v", entries)
	}
}

func TestGormLoggerReportsStatementErrors(t *testing.T) {
	core, logs := observer.New(zapcore.DebugLevel)
	gormLogger := NewGormLogger(zap.New(core))
	statement := func() (string, int64) {
		return "SELECT 1", 0
	}

	gormLogger.Trace(context.Background(), time.Now(), statement, errors.New("disk I/O error"))
	entries := logs.FilterMessage("sql statement failed").All()
	if len(entries) != 1 || entries[0].Level != zapcore.ErrorLevel {
		t.Fatalf("expected one error entry, got %#v", logs.All())
	}
	if entries[0].ContextMap()["sql"] != "SELECT 1" {
		t.Fatalf("expected statement in log context, got %#v", entries[0].ContextMap())
	}

	gormLogger.LogMode(gormlogger.Silent).Trace(context.Background(), time.Now(), statement, errors.New("disk I/O error"))
	if logs.Len() != 1 {
		t.Fatalf("silent mode must not log, got %d entries", logs.Len())
	}

	gormLogger.Trace(context.Background(), time.Now(), statement, nil)
	if logs.Len() != 1 {
		t.Fatalf("fast successful statements must not log at warn level, got %d entries", logs.Len())
	}
}
