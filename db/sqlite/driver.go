package sqlite

import (
	"fmt"
	"os"
	"path/filepath"

	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

// Open creates a GORM *DB backed by a SQLite file, creating its directory.
func Open(path string, l logger.Interface) (*gorm.DB, error) {
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("sqlite: %w", err)
		}
	}
	return open(path+"?_busy_timeout=5000", l)
}

// OpenMemory opens a named shared in-memory database. Connections opened
// with the same name see the same data until the last one closes.
func OpenMemory(name string, l logger.Interface) (*gorm.DB, error) {
	if name == "" {
		name = "mazeshow"
	}
	db, err := open(fmt.Sprintf("file:%s?mode=memory&cache=shared", name), l)
	if err != nil {
		return nil, err
	}
	sqlDB, err := db.DB()
	if err != nil {
		return nil, err
	}
	// A single connection keeps the memory database alive and serializes
	// writers.
	sqlDB.SetMaxOpenConns(1)
	return db, nil
}

func open(dsn string, l logger.Interface) (*gorm.DB, error) {
	if l == nil {
		l = logger.Default.LogMode(logger.Silent)
	}
	return gorm.Open(sqlite.Open(dsn), &gorm.Config{Logger: l})
}
