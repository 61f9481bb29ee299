package db

import (
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"gorm.io/gorm/logger"
)

// gormLogger routes gorm's warnings (slow statements) and errors into zap.
// Missing records are expected lookups and stay quiet. A nil zap logger
// silences gorm entirely.
func gormLogger(l *zap.Logger, slow time.Duration) logger.Interface {
	if l == nil {
		return logger.Default.LogMode(logger.Silent)
	}
	std, err := zap.NewStdLogAt(l.Named("gorm"), zapcore.WarnLevel)
	if err != nil {
		return logger.Default.LogMode(logger.Silent)
	}
	return logger.New(std, logger.Config{
		SlowThreshold:             slow,
		LogLevel:                  logger.Warn,
		IgnoreRecordNotFoundError: true,
	})
}
