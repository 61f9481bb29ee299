package testutil

import (
	"fmt"
	"sync/atomic"
	"testing"

	"github.com/nightfeed/mazeshow/cache"
	"github.com/nightfeed/mazeshow/config"
	dbadapter "github.com/nightfeed/mazeshow/db"
	"github.com/nightfeed/mazeshow/model"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
)

var dbSeq atomic.Int64

// SetupTestDB opens a fresh in-memory SQLite database and runs AutoMigrate.
// Every call gets its own database, so tests may run in parallel.
func SetupTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	db, err := dbadapter.Open(config.DatabaseConfig{
		Mode:       dbadapter.ModeSQLiteMemory,
		SQLitePath: fmt.Sprintf("test_%d", dbSeq.Add(1)),
	}, nil)
	require.NoError(t, err, "SetupTestDB: Open")
	require.NoError(t, model.AutoMigrate(db), "SetupTestDB: AutoMigrate")
	t.Cleanup(func() {
		if sqlDB, err := db.DB(); err == nil {
			_ = sqlDB.Close()
		}
	})
	return db
}

// SetupTestCache creates LocalCache and LocalPubSub (no Redis required).
func SetupTestCache(t *testing.T) (cache.Cache, cache.PubSub) {
	t.Helper()
	c, ps, err := cache.Open(cache.CacheConfig{}) // empty RedisAddr → LocalCache
	require.NoError(t, err, "SetupTestCache")
	t.Cleanup(func() { _ = c.Close() })
	return c, ps
}
