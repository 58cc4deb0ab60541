package database

import (
	"fmt"
	"strings"
	"time"

	"portfoliodoctor/src/database/migrations"
	"portfoliodoctor/src/model"
	"portfoliodoctor/src/security"

	"github.com/sirupsen/logrus"
	"gorm.io/driver/postgres"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

// Models lists every table owned by the service, in creation order.
func Models() []interface{} {
	return []interface{}{
		&model.User{},
		&model.ExchangeCredential{},
		&model.PortfolioBreakdown{},
		&model.PortfolioEntry{},
		&model.SyncRun{},
		&model.SyncRunExchange{},
		&model.Exception{},
		&migrations.DataMigration{},
	}
}

func isPostgres(dsn string) bool {
	return strings.HasPrefix(dsn, "postgres://") || strings.HasPrefix(dsn, "postgresql://")
}

func dialector(dsn string) gorm.Dialector {
	if isPostgres(dsn) {
		return postgres.Open(dsn)
	}
	return sqlite.Open(dsn)
}

// Open connects to the configured database without migrating it.
func Open(config Config) (*gorm.DB, error) {
	db, err := gorm.Open(dialector(config.DatabaseURL),
		&gorm.Config{
			TranslateError: true,
			Logger:         logger.Default.LogMode(logger.LogLevel(config.GormLogLevel)),
		},
	)
	if err != nil {
		return nil, fmt.Errorf("connect to database: %w", err)
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, fmt.Errorf("get sql.DB from gorm: %w", err)
	}
	if isPostgres(config.DatabaseURL) {
		sqlDB.SetMaxOpenConns(config.MaxOpenConns)
		sqlDB.SetMaxIdleConns(config.MaxIdleConns)
		if lifetime, err := time.ParseDuration(config.ConnMaxLifetime); err == nil {
			sqlDB.SetConnMaxLifetime(lifetime)
		}
	} else {
		// sqlite allows a single writer
		sqlDB.SetMaxOpenConns(1)
	}

	logrus.WithField("driver", db.Dialector.Name()).Info("[database] connection established")
	return db, nil
}

// Migrate runs schema auto-migration followed by the tracked data migrations.
func Migrate(db *gorm.DB, cipher *security.Cipher) error {
	if err := db.AutoMigrate(Models()...); err != nil {
		return fmt.Errorf("failed to run schema migrations: %w", err)
	}
	if err := migrations.Run(db, cipher); err != nil {
		return fmt.Errorf("failed to run data migrations: %w", err)
	}
	logrus.Info("[database] migrations completed")
	return nil
}

// OpenMainDB connects and migrates; it is what the server and CLI call at startup.
func OpenMainDB(config Config, cipher *security.Cipher) (*gorm.DB, error) {
	db, err := Open(config)
	if err != nil {
		return nil, err
	}
	if err := Migrate(db, cipher); err != nil {
		return nil, err
	}
	return db, nil
}
