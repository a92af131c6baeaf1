package database

import (
	"errors"
	"time"

	"github.com/MarcoPoloResearchLab/wpsync/internal/ledger"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

const migrationNormalizeLegacyStatuses = "2026-10-01_normalize_legacy_statuses"

// legacyStatuses maps statuses written by earlier importer releases.
var legacyStatuses = map[string]ledger.Status{
	"creado":      ledger.StatusCreated,
	"actualizado": ledger.StatusUpdated,
	"omitido":     ledger.StatusSkipped,
}

type migrationRecord struct {
	Name             string `gorm:"column:name;primaryKey;size:190;not null"`
	AppliedAtSeconds int64  `gorm:"column:applied_at_s;not null"`
}

func (migrationRecord) TableName() string {
	return "db_migrations"
}

type migrationDefinition struct {
	name  string
	apply func(*gorm.DB) error
}

func applyMigrations(db *gorm.DB, logger *zap.Logger) error {
	migrations := []migrationDefinition{
		{name: migrationNormalizeLegacyStatuses, apply: normalizeLegacyStatuses},
	}

	for _, migration := range migrations {
		var record migrationRecord
		err := db.Where("name = ?", migration.name).Take(&record).Error
		if err == nil {
			continue
		}
		if !errors.Is(err, gorm.ErrRecordNotFound) {
			return err
		}
		if err := migration.apply(db); err != nil {
			return err
		}
		appliedAt := time.Now().UTC().Unix()
		if err := db.Create(&migrationRecord{Name: migration.name, AppliedAtSeconds: appliedAt}).Error; err != nil {
			return err
		}
		if logger != nil {
			logger.Info("database migration applied", zap.String("migration", migration.name))
		}
	}
	return nil
}

func normalizeLegacyStatuses(db *gorm.DB) error {
	return db.Transaction(func(tx *gorm.DB) error {
		for legacy, status := range legacyStatuses {
			if err := tx.Model(&ledger.ImportRecord{}).
				Where("status = ?", legacy).
				Update("status", status).Error; err != nil {
				return err
			}
		}
		return nil
	})
}
