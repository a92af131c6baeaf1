package database

import (
	"fmt"
	"strings"
	"time"

	"github.com/MarcoPoloResearchLab/wpsync/internal/ledger"
	sqlite "github.com/glebarez/sqlite"
	"go.uber.org/zap"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"
)

const (
	foreignKeysPragma  = "_pragma=foreign_keys(1)"
	slowQueryThreshold = 500 * time.Millisecond
)

// OpenSQLite establishes a SQLite connection and performs schema migrations.
func OpenSQLite(path string, logger *zap.Logger) (*gorm.DB, error) {
	if strings.TrimSpace(path) == "" {
		return nil, fmt.Errorf("database path is required")
	}

	db, err := gorm.Open(sqlite.Open(withForeignKeys(path)), &gorm.Config{Logger: newGormLogger(logger)})
	if err != nil {
		return nil, err
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, err
	}
	sqlDB.SetMaxOpenConns(1)

	models := append(ledger.Models(), &migrationRecord{})
	if err := db.AutoMigrate(models...); err != nil {
		return nil, err
	}

	if err := applyMigrations(db, logger); err != nil {
		return nil, err
	}

	if logger != nil {
		logger.Info("database initialized", zap.String("path", path))
	}

	return db, nil
}

func withForeignKeys(path string) string {
	if strings.Contains(path, foreignKeysPragma) {
		return path
	}
	separator := "?"
	if strings.Contains(path, "?") {
		separator = "&"
	}
	return path + separator + foreignKeysPragma
}

// newGormLogger routes gorm diagnostics through zap. Lookup misses are expected and never logged.
func newGormLogger(logger *zap.Logger) gormlogger.Interface {
	if logger == nil {
		return gormlogger.Discard
	}
	return gormlogger.New(
		zap.NewStdLog(logger.Named("gorm").WithOptions(zap.AddCallerSkip(3))),
		gormlogger.Config{
			SlowThreshold:             slowQueryThreshold,
			LogLevel:                  gormlogger.Warn,
			IgnoreRecordNotFoundError: true,
			Colorful:                  false,
		},
	)
}
