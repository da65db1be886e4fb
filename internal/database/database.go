package database

import (
	"fmt"

	"gorm.io/driver/postgres"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"github.com/Wikid82/warden/internal/config"
	"github.com/Wikid82/warden/internal/models"
)

// Open bootstraps the database selected by cfg.
func Open(cfg config.DatabaseConfig) (*gorm.DB, error) {
	gcfg := &gorm.Config{Logger: gormlogger.Default.LogMode(gormlogger.Warn)}

	var dialector gorm.Dialector
	switch cfg.Driver {
	case "", "sqlite":
		dialector = sqlite.Open(cfg.DSN)
	case "postgres":
		dialector = postgres.Open(cfg.DSN)
	default:
		return nil, fmt.Errorf("unsupported database driver %q", cfg.Driver)
	}

	db, err := gorm.Open(dialector, gcfg)
	if err != nil {
		return nil, fmt.Errorf("open %s database: %w", cfg.Driver, err)
	}

	return db, nil
}

// Connect opens the database and migrates the security tables.
func Connect(cfg config.DatabaseConfig) (*gorm.DB, error) {
	db, err := Open(cfg)
	if err != nil {
		return nil, err
	}
	if err := Migrate(db); err != nil {
		return nil, err
	}
	return db, nil
}

// Migrate creates or updates the tables owned by the enforcement core.
func Migrate(db *gorm.DB) error {
	if err := db.AutoMigrate(
		&models.SecurityEvent{},
		&models.BlockRecord{},
		&models.PrivilegedActor{},
	); err != nil {
		return fmt.Errorf("auto migrate: %w", err)
	}
	// At most one active block per address, enforced by the database so two
	// writers in different processes cannot both insert.
	if err := db.Exec("CREATE UNIQUE INDEX IF NOT EXISTS idx_block_records_one_active ON block_records (ip_address) WHERE is_active").Error; err != nil {
		return fmt.Errorf("create active block index: %w", err)
	}
	return nil
}
