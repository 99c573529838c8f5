package database

import (
	"fmt"

	"whatsapp-bridge/internal/config"
	applog "whatsapp-bridge/internal/log"
	"whatsapp-bridge/internal/models"

	"gorm.io/driver/postgres"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

// InitGorm opens the configured database and migrates the bridge's own tables.
// The protocol key store shares the same connection pool (see SQLDB).
func InitGorm(cfg *config.Config) (*gorm.DB, error) {
	l := applog.WithComponent("database")

	var dialector gorm.Dialector
	switch cfg.DBDriver {
	case config.DriverPostgres:
		dialector = postgres.Open(PostgresDSN(cfg))
	default:
		dialector = sqlite.Open(SQLiteDSN(cfg.DBPath))
	}

	db, err := gorm.Open(dialector, &gorm.Config{
		Logger: logger.Default.LogMode(logger.Warn),
	})
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", cfg.DBDriver, err)
	}
	l.Info().Str("driver", cfg.DBDriver).Msg("database connected")

	if cfg.DBDriver == config.DriverSQLite {
		// single writer; the key store and the credential record share this pool
		if sqlDB, err := db.DB(); err == nil {
			sqlDB.SetMaxOpenConns(1)
		}
	}

	if err := db.AutoMigrate(&models.CredentialRecord{}); err != nil {
		return nil, fmt.Errorf("auto-migrate: %w", err)
	}
	l.Debug().Msg("database migration completed")

	return db, nil
}
