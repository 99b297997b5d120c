package database

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"
)

const slowQueryThreshold = 200 * time.Millisecond

// zapGormLogger forwards gorm's statement logging to zap. Record-not-found misses are
// expected lookups and are never logged.
type zapGormLogger struct {
	logger *zap.Logger
	level  gormlogger.LogLevel
}

// NewGormLogger adapts a zap logger to gorm at Warn level.
func NewGormLogger(logger *zap.Logger) gormlogger.Interface {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &zapGormLogger{logger: logger.With(zap.String("component", "gorm")), level: gormlogger.Warn}
}

func (l *zapGormLogger) LogMode(level gormlogger.LogLevel) gormlogger.Interface {
	clone := *l
	clone.level = level
	return &clone
}

func (l *zapGormLogger) Info(_ context.Context, message string, args ...interface{}) {
	if l.level >= gormlogger.Info {
		l.logger.Info(fmt.Sprintf(message, args...))
	}
}

func (l *zapGormLogger) Warn(_ context.Context, message string, args ...interface{}) {
	if l.level >= gormlogger.Warn {
		l.logger.Warn(fmt.Sprintf(message, args...))
	}
}

func (l *zapGormLogger) Error(_ context.Context, message string, args ...interface{}) {
	if l.level >= gormlogger.Error {
		l.logger.Error(fmt.Sprintf(message, args...))
	}
}

func (l *zapGormLogger) Trace(_ context.Context, begin time.Time, fc func() (string, int64), err error) {
	if l.level <= gormlogger.Silent {
		return
	}
	elapsed := time.Since(begin)
	switch {
	case err != nil && !errors.Is(err, gorm.ErrRecordNotFound) && l.level >= gormlogger.Error:
		statement, rows := fc()
		l.logger.Error("sql statement failed", zap.Error(err), zap.String("sql", statement), zap.Int64("rows", rows), zap.Duration("elapsed", elapsed))
	case elapsed > slowQueryThreshold && l.level >= gormlogger.Warn:
		statement, rows := fc()
		l.logger.Warn("slow sql statement", zap.String("sql", statement), zap.Int64("rows", rows), zap.Duration("elapsed", elapsed))
	case l.level >= gormlogger.Info:
		statement, rows := fc()
		l.logger.Debug("sql statement", zap.String("sql", statement), zap.Int64("rows", rows), zap.Duration("elapsed", elapsed))
	}
}
