package datastore

import (
	"fmt"
	"log/slog"
	"time"

	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"github.com/playwatch/playwatch/internal/logging"
)

// slowQueryThreshold marks queries worth a warning; retention batch deletes
// can legitimately take several hundred milliseconds.
const slowQueryThreshold = 1 * time.Second

// createGormLogger routes GORM's own logging through the datastore service
// logger.
func createGormLogger(debug bool) gormlogger.Interface {
	level := gormlogger.Warn
	if debug {
		level = gormlogger.Info
	}
	return gormlogger.New(
		slog.NewLogLogger(logging.ForService("datastore").Handler(), slog.LevelWarn),
		gormlogger.Config{
			SlowThreshold:             slowQueryThreshold,
			LogLevel:                  level,
			IgnoreRecordNotFoundError: true,
		},
	)
}

// performAutoMigration creates or updates the schema. The schema is
// forward-only; AutoMigrate never drops columns or indexes.
func performAutoMigration(db *gorm.DB, dbType, connectionInfo string) error {
	if err := db.AutoMigrate(&Stream{}, &Track{}, &Recognition{}, &Play{}); err != nil {
		return fmt.Errorf("failed to auto-migrate %s database: %w", dbType, err)
	}
	logging.ForService("datastore").Info("database schema ready",
		"type", dbType, "database", connectionInfo)
	return nil
}
