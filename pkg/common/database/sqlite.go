package database

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/glebarez/sqlite"
	"github.com/nourishpath/platform/pkg/common/logger"
	"gorm.io/gorm"
)

// OpenSQLite opens a file-backed store for local development and tests.
func OpenSQLite(dbPath string) (*gorm.DB, error) {
	if err := os.MkdirAll(filepath.Dir(dbPath), 0o755); err != nil {
		return nil, fmt.Errorf("create db directory: %w", err)
	}

	dsn := fmt.Sprintf("%s?_pragma=busy_timeout(5000)&_pragma=foreign_keys(1)", dbPath)
	conn, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{Logger: gormLogger()})
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}

	// SQLite serialises writers; a single connection avoids SQLITE_BUSY under
	// concurrent compare-and-set updates.
	sqlDB, err := conn.DB()
	if err != nil {
		return nil, fmt.Errorf("sqlite handle: %w", err)
	}
	sqlDB.SetMaxOpenConns(1)

	logger.Log.WithField("path", dbPath).Info("Opened SQLite database")
	return conn, nil
}
