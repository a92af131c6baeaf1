package database

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/MarcoPoloResearchLab/wpsync/internal/ledger"
	sqlite "github.com/glebarez/sqlite"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"
)

func TestApplyMigrationsNormalizesLegacyStatuses(t *testing.T) {
	databasePath := filepath.Join(t.TempDir(), "migration.db")
	database, err := gorm.Open(sqlite.Open(databasePath), &gorm.Config{Logger: gormlogger.Discard})
	require.NoError(t, err)

	models := append(ledger.Models(), &migrationRecord{})
	require.NoError(t, database.AutoMigrate(models...))

	now := time.Now().UTC()
	site := ledger.SiteProfile{BaseURL: "https://example.test/wp-json/wp/v2", Principal: "admin", Secret: "pw", CreatedAt: now, LastUsedAt: now}
	require.NoError(t, database.Create(&site).Error)
	legacy := []ledger.ImportRecord{
		{SiteID: site.ID, SourceIdentity: "https://feed.test/a", Status: "creado", ImportedAt: now, LastUpdatedAt: now},
		{SiteID: site.ID, SourceIdentity: "https://feed.test/b", Status: "actualizado", ImportedAt: now, LastUpdatedAt: now},
		{SiteID: site.ID, SourceIdentity: "https://feed.test/c", Status: "omitido", ImportedAt: now, LastUpdatedAt: now},
		{SiteID: site.ID, SourceIdentity: "https://feed.test/d", Status: ledger.StatusError, ImportedAt: now, LastUpdatedAt: now},
	}
	require.NoError(t, database.Create(&legacy).Error)

	require.NoError(t, applyMigrations(database, zap.NewNop()))

	expected := map[string]ledger.Status{
		"https://feed.test/a": ledger.StatusCreated,
		"https://feed.test/b": ledger.StatusUpdated,
		"https://feed.test/c": ledger.StatusSkipped,
		"https://feed.test/d": ledger.StatusError,
	}
	var stored []ledger.ImportRecord
	require.NoError(t, database.Find(&stored).Error)
	require.Len(t, stored, len(expected))
	for _, record := range stored {
		assert.Equal(t, expected[record.SourceIdentity], record.Status, record.SourceIdentity)
	}

	var record migrationRecord
	require.NoError(t, database.Where("name = ?", migrationNormalizeLegacyStatuses).Take(&record).Error)
	assert.NotZero(t, record.AppliedAtSeconds)

	assert.NoError(t, applyMigrations(database, zap.NewNop()), "second run must be a no-op")
}

func TestOpenSQLiteEnforcesForeignKeys(t *testing.T) {
	database, err := OpenSQLite(filepath.Join(t.TempDir(), "fk.db"), zap.NewNop())
	require.NoError(t, err)

	now := time.Now().UTC()
	orphan := ledger.ImportRecord{SiteID: 999, SourceIdentity: "https://feed.test/orphan", Status: ledger.StatusCreated, ImportedAt: now, LastUpdatedAt: now}
	assert.Error(t, database.Create(&orphan).Error, "orphan import record must violate the foreign key")
}

func TestOpenSQLiteRequiresPath(t *testing.T) {
	_, err := OpenSQLite("  ", nil)
	assert.Error(t, err)
}

func TestWithForeignKeysAppendsPragmaOnce(t *testing.T) {
	assert.Equal(t, "a.db?_pragma=foreign_keys(1)", withForeignKeys("a.db"))
	assert.Equal(t, "a.db?_pragma=busy_timeout(5000)&_pragma=foreign_keys(1)", withForeignKeys("a.db?_pragma=busy_timeout(5000)"))
	assert.Equal(t, "a.db?_pragma=foreign_keys(1)", withForeignKeys("a.db?_pragma=foreign_keys(1)"))
}
