// Package mysql opens the run archive on a shared MySQL server, for
// deployments that run several mazeshow instances against one leaderboard.
package mysql

import (
	"errors"
	"fmt"
	"time"

	"gorm.io/driver/mysql"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

// Pool is the DSN plus database/sql pool limits. Zero limits keep the
// database/sql defaults.
type Pool struct {
	DSN     string
	MaxOpen int
	MaxIdle int
	MaxLife time.Duration
}

// Open connects and applies the pool limits. Run records are written in
// explicit batches, so gorm's implicit per-statement transaction is off.
func Open(p Pool, l logger.Interface) (*gorm.DB, error) {
	if p.DSN == "" {
		return nil, errors.New("mysql: empty dsn")
	}
	db, err := gorm.Open(mysql.Open(p.DSN), &gorm.Config{
		Logger:                 l,
		SkipDefaultTransaction: true,
	})
	if err != nil {
		return nil, fmt.Errorf("mysql: %w", err)
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, err
	}
	if p.MaxOpen > 0 {
		sqlDB.SetMaxOpenConns(p.MaxOpen)
	}
	if p.MaxIdle > 0 {
		sqlDB.SetMaxIdleConns(p.MaxIdle)
	}
	if p.MaxLife > 0 {
		sqlDB.SetConnMaxLifetime(p.MaxLife)
	}
	return db, nil
}
