package datastore

import (
	"fmt"
	"os"
	"path/filepath"

	"gorm.io/driver/sqlite"
	"gorm.io/gorm"

	"github.com/playwatch/playwatch/internal/conf"
)

// SQLiteStore implements Interface for the embedded SQLite backend.
type SQLiteStore struct {
	DataStore
	Settings *conf.Settings
}

// Open opens the database file, applies the WAL and foreign-key pragmas and
// runs auto-migration.
func (store *SQLiteStore) Open() error {
	path := store.Settings.Output.Database.Path
	if dir := filepath.Dir(path); dir != "." && dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("creating database directory %s: %w", dir, err)
		}
	}

	// WAL keeps readers concurrent with the single writer; busy_timeout
	// covers writer contention between workers.
	dsn := path + "?_journal_mode=WAL&_foreign_keys=on&_busy_timeout=5000"

	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger: createGormLogger(store.Settings.Output.Database.Debug),
	})
	if err != nil {
		return fmt.Errorf("failed to open SQLite database at %s: %w", path, err)
	}

	// All writes funnel through one connection so SQLITE_BUSY cannot hit
	// mid-transaction.
	sqlDB, err := db.DB()
	if err != nil {
		return fmt.Errorf("failed to access SQLite connection pool: %w", err)
	}
	sqlDB.SetMaxOpenConns(1)

	store.DB = db
	return performAutoMigration(db, "SQLite", path)
}

// Close closes the underlying database handle.
func (store *SQLiteStore) Close() error {
	if store.DB == nil {
		return nil
	}
	sqlDB, err := store.DB.DB()
	if err != nil {
		return fmt.Errorf("failed to access SQLite connection pool: %w", err)
	}
	return sqlDB.Close()
}
