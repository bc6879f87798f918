package datastore

import (
	"fmt"

	"gorm.io/driver/mysql"
	"gorm.io/gorm"

	"github.com/playwatch/playwatch/internal/conf"
)

// MySQLStore implements Interface for a server-backed MySQL store.
type MySQLStore struct {
	DataStore
	Settings *conf.Settings
}

// Open connects to the MySQL server and runs auto-migration.
func (store *MySQLStore) Open() error {
	db := store.Settings.Output.Database
	dsn := fmt.Sprintf("%s:%s@tcp(%s:%d)/%s?charset=utf8mb4&parseTime=True&loc=UTC",
		db.Username, db.Password, db.Host, db.Port, db.Name)

	conn, err := gorm.Open(mysql.Open(dsn), &gorm.Config{
		Logger: createGormLogger(db.Debug),
	})
	if err != nil {
		return fmt.Errorf("failed to open MySQL database %s@%s:%d/%s: %w",
			db.Username, db.Host, db.Port, db.Name, err)
	}

	store.DB = conn
	return performAutoMigration(conn, "MySQL", fmt.Sprintf("%s:%d/%s", db.Host, db.Port, db.Name))
}

// Close closes the underlying connection pool.
func (store *MySQLStore) Close() error {
	if store.DB == nil {
		return nil
	}
	sqlDB, err := store.DB.DB()
	if err != nil {
		return fmt.Errorf("failed to access MySQL connection pool: %w", err)
	}
	return sqlDB.Close()
}
