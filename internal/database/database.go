package database

import (
	"fmt"

	"github.com/glebarez/sqlite"
	"github.com/hourse/backend/internal/config"
	"github.com/hourse/backend/internal/models"
	"github.com/hourse/backend/pkg/logger"
	"github.com/pkg/errors"
	"gorm.io/driver/mysql"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
)

// Open connects to the configured driver without migrating.
func Open(cfg config.DBConfig) (*gorm.DB, error) {
	dialector, err := Dialector(cfg)
	if err != nil {
		return nil, err
	}

	db, err := gorm.Open(dialector, &gorm.Config{})
	if err != nil {
		return nil, errors.Wrapf(err, "failed connecting to %s", cfg.Driver)
	}
	return db, nil
}

// Connect opens the database and runs auto-migration.
func Connect(cfg config.DBConfig) (*gorm.DB, error) {
	db, err := Open(cfg)
	if err != nil {
		return nil, err
	}

	if err := Migrate(db); err != nil {
		return nil, err
	}

	logger.Info("database_connected", map[string]interface{}{
		"driver": cfg.Driver,
		"host":   cfg.Host,
		"name":   cfg.Name,
	})
	return db, nil
}

func Dialector(cfg config.DBConfig) (gorm.Dialector, error) {
	switch cfg.Driver {
	case "", "postgres":
		return postgres.Open(PostgresDSN(cfg)), nil
	case "mysql":
		return mysql.Open(MySQLDSN(cfg)), nil
	case "sqlite":
		return sqlite.Open(cfg.SQLitePath), nil
	default:
		return nil, errors.Wrapf(config.ErrUnknownDBDriver, "driver %q", cfg.Driver)
	}
}

func PostgresDSN(cfg config.DBConfig) string {
	return fmt.Sprintf(
		"host=%s port=%s user=%s password=%s dbname=%s sslmode=%s",
		cfg.Host,
		cfg.Port,
		cfg.User,
		cfg.Password,
		cfg.Name,
		cfg.SSLMode,
	)
}

func MySQLDSN(cfg config.DBConfig) string {
	return fmt.Sprintf("%s:%s@tcp(%s:%s)/%s?charset=utf8mb4&parseTime=True&loc=UTC",
		cfg.User,
		cfg.Password,
		cfg.Host,
		cfg.Port,
		cfg.Name,
	)
}

func Migrate(db *gorm.DB) error {
	if err := db.AutoMigrate(
		&models.User{},
		&models.Family{},
		&models.FamilyMember{},
		&models.File{},
		&models.ChatRoom{},
		&models.ChatMessage{},
		&models.ChatMessageReaction{},
		&models.ChatMessageRead{},
		&models.AppSetting{},
	); err != nil {
		return errors.Wrap(err, "auto-migration failed")
	}
	return nil
}
