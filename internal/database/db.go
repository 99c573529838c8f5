package database

import (
	"database/sql"
	"fmt"
	"strings"

	"whatsapp-bridge/internal/config"

	"gorm.io/gorm"
)

// SQLiteDSN enables foreign keys, which the protocol key store requires.
func SQLiteDSN(path string) string {
	if strings.HasPrefix(path, "file:") {
		if strings.Contains(path, "_foreign_keys") {
			return path
		}
		sep := "?"
		if strings.Contains(path, "?") {
			sep = "&"
		}
		return path + sep + "_foreign_keys=on"
	}
	return "file:" + path + "?_foreign_keys=on"
}

func PostgresDSN(cfg *config.Config) string {
	return fmt.Sprintf("host=%s user=%s password=%s dbname=%s port=%s sslmode=%s",
		cfg.DBHost, cfg.DBUser, cfg.DBPassword, cfg.DBName, cfg.DBPort, cfg.DBSSLMode)
}

// Dialect is the database/sql dialect name the protocol key store expects.
func Dialect(cfg *config.Config) string {
	if cfg.DBDriver == config.DriverPostgres {
		return "postgres"
	}
	return "sqlite3"
}

// SQLDB exposes gorm's pool so the key store does not open a second one.
func SQLDB(db *gorm.DB) (*sql.DB, error) {
	sqlDB, err := db.DB()
	if err != nil {
		return nil, fmt.Errorf("underlying sql.DB: %w", err)
	}
	return sqlDB, nil
}
