package database

import (
	"path/filepath"
	"strings"
	"testing"

	"github.com/MarcoPoloResearchLab/wpsync/internal/ledger"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
	gormlogger "gorm.io/gorm/logger"
)

func TestOpenSQLiteKeepsLookupMissesQuiet(t *testing.T) {
	core, logs := observer.New(zapcore.DebugLevel)
	db, err := OpenSQLite(filepath.Join(t.TempDir(), "quiet.db"), zap.New(core))
	require.NoError(t, err)
	assert.NotSame(t, gormlogger.Default, db.Logger)

	before := logs.Len()
	var record ledger.ImportRecord
	err = db.Where("site_id = ? AND source_identity = ?", 1, "https://feed.test/missing").Take(&record).Error
	require.Error(t, err)
	assert.Equal(t, before, logs.Len(), "a lookup miss must not be logged")

	err = db.Raw("SELECT * FROM table_that_does_not_exist").Scan(&record).Error
	require.Error(t, err)
	failures := logs.FilterMessageSnippet("table_that_does_not_exist").All()
	require.Len(t, failures, 1)
	assert.Equal(t, "gorm", failures[0].LoggerName)
	assert.False(t, strings.Contains(failures[0].Message, "\x1b["), "gorm output must not carry color codes")
}

func TestNewGormLoggerWithoutZapDiscards(t *testing.T) {
	assert.Same(t, gormlogger.Discard, newGormLogger(nil))
}
