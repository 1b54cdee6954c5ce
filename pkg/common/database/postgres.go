package database

import (
	"fmt"
	"sync"
	"time"

	"github.com/nourishpath/platform/pkg/common/config"
	"github.com/nourishpath/platform/pkg/common/logger"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"
)

var (
	db     *gorm.DB
	dbOnce sync.Once
	dbErr  error
)

// Get returns the process-wide entity store, opened once with the driver
// selected by DATABASE_DRIVER.
func Get() (*gorm.DB, error) {
	dbOnce.Do(func() {
		db, dbErr = Open(config.Load())
	})
	return db, dbErr
}

func Open(cfg *config.Config) (*gorm.DB, error) {
	switch cfg.DatabaseDriver {
	case "postgres", "":
		return OpenPostgres(cfg)
	case "sqlite":
		return OpenSQLite(cfg.SQLitePath)
	default:
		return nil, fmt.Errorf("unsupported database driver %q", cfg.DatabaseDriver)
	}
}

func OpenPostgres(cfg *config.Config) (*gorm.DB, error) {
	dsn := fmt.Sprintf(
		"host=%s user=%s password=%s dbname=%s port=%s sslmode=%s",
		cfg.PostgresHost,
		cfg.PostgresUser,
		cfg.PostgresPassword,
		cfg.PostgresDB,
		cfg.PostgresPort,
		cfg.PostgresSSLMode,
	)

	conn, err := gorm.Open(postgres.Open(dsn), &gorm.Config{Logger: gormLogger()})
	if err != nil {
		logger.Log.WithError(err).Error("Failed to connect to PostgreSQL")
		return nil, err
	}

	logger.Log.Info("Connected to PostgreSQL")
	return conn, nil
}

func Close() error {
	if db != nil {
		sqlDB, err := db.DB()
		if err != nil {
			return err
		}
		return sqlDB.Close()
	}
	return nil
}

func gormLogger() gormlogger.Interface {
	return gormlogger.New(logger.Log, gormlogger.Config{
		SlowThreshold:             time.Second,
		LogLevel:                  gormlogger.Warn,
		IgnoreRecordNotFoundError: true,
	})
}
