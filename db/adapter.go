package db

import (
	"fmt"

	"github.com/nightfeed/mazeshow/config"
	dbmysql "github.com/nightfeed/mazeshow/db/mysql"
	dbsqlite "github.com/nightfeed/mazeshow/db/sqlite"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

const (
	ModeSQLite       = "sqlite"
	ModeSQLiteMemory = "sqlite_memory"
	ModeMySQL        = "mysql"
)

// Open connects the run archive to the configured store. Slow statements
// and query errors are logged through log; nil keeps gorm silent.
func Open(cfg config.DatabaseConfig, log *zap.Logger) (*gorm.DB, error) {
	gl := gormLogger(log, cfg.SlowQuery)
	switch cfg.Mode {
	case ModeSQLite:
		return dbsqlite.Open(cfg.SQLitePath, gl)
	case ModeSQLiteMemory:
		return dbsqlite.OpenMemory(cfg.SQLitePath, gl)
	case ModeMySQL:
		return dbmysql.Open(dbmysql.Pool{
			DSN:     cfg.MySQLDSN,
			MaxOpen: cfg.MySQLMaxOpen,
			MaxIdle: cfg.MySQLMaxIdle,
			MaxLife: cfg.MySQLMaxLife,
		}, gl)
	default:
		return nil, fmt.Errorf("db: unknown mode %q (want %s, %s or %s)", cfg.Mode, ModeSQLite, ModeSQLiteMemory, ModeMySQL)
	}
}
