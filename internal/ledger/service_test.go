package ledger_test

import (
	"context"
	"errors"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/MarcoPoloResearchLab/wpsync/internal/database"
	"github.com/MarcoPoloResearchLab/wpsync/internal/ledger"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type steppingClock struct {
	mu      sync.Mutex
	current time.Time
}

func (c *steppingClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.current = c.current.Add(time.Second)
	return c.current
}

func newTestLedger(t *testing.T) *ledger.Service {
	t.Helper()
	db, err := database.OpenSQLite(filepath.Join(t.TempDir(), "ledger.db"), zap.NewNop())
	require.NoError(t, err)

	clock := &steppingClock{current: time.Date(2026, 10, 1, 12, 0, 0, 0, time.UTC)}
	service, err := ledger.NewService(ledger.ServiceConfig{Database: db, Clock: clock.Now, Logger: zap.NewNop()})
	require.NoError(t, err)
	return service
}

func mustAddSite(t *testing.T, service *ledger.Service, name string) int64 {
	t.Helper()
	id, err := service.AddSiteProfile(context.Background(), "https://example.test/wp-json/wp/v2/", "admin", "secret", name)
	require.NoError(t, err)
	return id
}

func remoteID(value int64) *int64 {
	return &value
}

func TestNewServiceRequiresDatabase(t *testing.T) {
	_, err := ledger.NewService(ledger.ServiceConfig{})
	require.Error(t, err)

	var ledgerErr *ledger.Error
	require.ErrorAs(t, err, &ledgerErr)
	assert.Equal(t, "ledger.service.new.missing_database", ledgerErr.Code())
}

func TestSiteProfilesOrderedByLastUse(t *testing.T) {
	ctx := context.Background()
	service := newTestLedger(t)

	first := mustAddSite(t, service, "first")
	second := mustAddSite(t, service, "second")

	profiles, err := service.ListSiteProfiles(ctx)
	require.NoError(t, err)
	require.Len(t, profiles, 2)
	assert.Equal(t, second, profiles[0].ID)
	assert.Equal(t, "https://example.test/wp-json/wp/v2", profiles[0].BaseURL)

	touched, err := service.GetSiteProfile(ctx, first)
	require.NoError(t, err)
	assert.Equal(t, "secret", touched.Secret)

	profiles, err = service.ListSiteProfiles(ctx)
	require.NoError(t, err)
	assert.Equal(t, first, profiles[0].ID)
}

func TestGetSiteProfileNotFound(t *testing.T) {
	service := newTestLedger(t)

	_, err := service.GetSiteProfile(context.Background(), 404)
	require.Error(t, err)
	assert.True(t, errors.Is(err, ledger.ErrSiteProfileNotFound))
}

func TestDeleteSiteProfileCascadesImportRecords(t *testing.T) {
	ctx := context.Background()
	service := newTestLedger(t)
	siteID := mustAddSite(t, service, "doomed")
	otherSite := mustAddSite(t, service, "kept")

	_, err := service.UpsertImportRecord(ctx, siteID, "https://feed.test/a", remoteID(1), ledger.StatusCreated)
	require.NoError(t, err)
	_, err = service.UpsertImportRecord(ctx, otherSite, "https://feed.test/a", remoteID(2), ledger.StatusCreated)
	require.NoError(t, err)

	deleted, err := service.DeleteSiteProfile(ctx, siteID)
	require.NoError(t, err)
	assert.True(t, deleted)

	record, err := service.FindImportRecord(ctx, siteID, "https://feed.test/a")
	require.NoError(t, err)
	assert.Nil(t, record)

	kept, err := service.FindImportRecord(ctx, otherSite, "https://feed.test/a")
	require.NoError(t, err)
	require.NotNil(t, kept)

	deleted, err = service.DeleteSiteProfile(ctx, siteID)
	require.NoError(t, err)
	assert.False(t, deleted)
}

func TestRotateSecret(t *testing.T) {
	ctx := context.Background()
	service := newTestLedger(t)
	siteID := mustAddSite(t, service, "site")

	require.NoError(t, service.RotateSecret(ctx, siteID, "fresh"))
	profile, err := service.GetSiteProfile(ctx, siteID)
	require.NoError(t, err)
	assert.Equal(t, "fresh", profile.Secret)

	err = service.RotateSecret(ctx, 999, "nope")
	assert.True(t, errors.Is(err, ledger.ErrSiteProfileNotFound))
}

func TestUpsertImportRecordKeepsSingleRow(t *testing.T) {
	ctx := context.Background()
	service := newTestLedger(t)
	siteID := mustAddSite(t, service, "site")

	first, err := service.UpsertImportRecord(ctx, siteID, "https://feed.test/a", remoteID(42), ledger.StatusCreated)
	require.NoError(t, err)

	for _, status := range []ledger.Status{ledger.StatusError, ledger.StatusUpdated, ledger.StatusSkipped} {
		record, err := service.UpsertImportRecord(ctx, siteID, "https://feed.test/a", remoteID(42), status)
		require.NoError(t, err)
		assert.Equal(t, first.ID, record.ID)
		assert.Equal(t, status, record.Status)
		assert.True(t, record.LastUpdatedAt.After(first.LastUpdatedAt))
		assert.True(t, record.ImportedAt.Equal(first.ImportedAt))
	}

	stats, err := service.ImportStatistics(ctx, &siteID)
	require.NoError(t, err)
	assert.Equal(t, map[ledger.Status]int64{ledger.StatusSkipped: 1}, stats)
}

func TestUpsertImportRecordRejectsUnknownStatus(t *testing.T) {
	service := newTestLedger(t)
	siteID := mustAddSite(t, service, "site")

	_, err := service.UpsertImportRecord(context.Background(), siteID, "https://feed.test/a", nil, ledger.Status("creado"))
	require.Error(t, err)

	_, err = service.UpsertImportRecord(context.Background(), siteID, " ", nil, ledger.StatusCreated)
	require.Error(t, err)
}

func TestHasContentChangedTracksLatestFingerprint(t *testing.T) {
	ctx := context.Background()
	service := newTestLedger(t)
	siteID := mustAddSite(t, service, "site")

	changed, err := service.HasContentChanged(ctx, siteID, 42, "<p>Hi</p>")
	require.NoError(t, err)
	assert.True(t, changed, "content without history counts as changed")

	hash, err := service.RecordFingerprint(ctx, siteID, 42, "<p>Hi</p>")
	require.NoError(t, err)
	assert.Equal(t, ledger.Fingerprint("<p>Hi</p>"), hash)

	changed, err = service.HasContentChanged(ctx, siteID, 42, "<p>Hi</p>")
	require.NoError(t, err)
	assert.False(t, changed)

	changed, err = service.HasContentChanged(ctx, siteID, 42, "<p>Ho</p>")
	require.NoError(t, err)
	assert.True(t, changed)

	_, err = service.RecordFingerprint(ctx, siteID, 42, "<p>Ho</p>")
	require.NoError(t, err)
	latest, found, err := service.LatestFingerprint(ctx, siteID, 42)
	require.NoError(t, err)
	require.True(t, found)
	assert.Equal(t, ledger.Fingerprint("<p>Ho</p>"), latest)

	otherSite := mustAddSite(t, service, "other")
	changed, err = service.HasContentChanged(ctx, otherSite, 42, "<p>Ho</p>")
	require.NoError(t, err)
	assert.True(t, changed, "fingerprints are scoped per site")
}

func TestFingerprintIsHexMD5(t *testing.T) {
	assert.Equal(t, "d41d8cd98f00b204e9800998ecf8427e", ledger.Fingerprint(""))
}

func TestImportStatisticsAcrossSites(t *testing.T) {
	ctx := context.Background()
	service := newTestLedger(t)
	siteA := mustAddSite(t, service, "a")
	siteB := mustAddSite(t, service, "b")

	_, err := service.UpsertImportRecord(ctx, siteA, "one", remoteID(1), ledger.StatusCreated)
	require.NoError(t, err)
	_, err = service.UpsertImportRecord(ctx, siteA, "two", nil, ledger.StatusError)
	require.NoError(t, err)
	_, err = service.UpsertImportRecord(ctx, siteB, "one", remoteID(7), ledger.StatusCreated)
	require.NoError(t, err)

	all, err := service.ImportStatistics(ctx, nil)
	require.NoError(t, err)
	assert.Equal(t, int64(2), all[ledger.StatusCreated])
	assert.Equal(t, int64(1), all[ledger.StatusError])

	scoped, err := service.ImportStatistics(ctx, &siteB)
	require.NoError(t, err)
	assert.Equal(t, map[ledger.Status]int64{ledger.StatusCreated: 1}, scoped)
}

func TestLogAppendsEntries(t *testing.T) {
	ctx := context.Background()
	service := newTestLedger(t)

	service.Log(ctx, ledger.LevelWarning, "first")
	service.RecordFailure(ctx, "second")
	service.Log(ctx, ledger.Level("bogus"), "third")

	entries, err := service.RecentLogs(ctx, 3)
	require.NoError(t, err)
	require.Len(t, entries, 3)
	assert.Equal(t, "third", entries[0].Message)
	assert.Equal(t, ledger.LevelInfo, entries[0].Level)
	assert.Equal(t, ledger.LevelError, entries[1].Level)
	assert.Equal(t, ledger.LevelWarning, entries[2].Level)
}

func TestConcurrentUpsertsDoNotDuplicate(t *testing.T) {
	ctx := context.Background()
	service := newTestLedger(t)
	siteID := mustAddSite(t, service, "site")

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func(attempt int64) {
			defer wg.Done()
			_, err := service.UpsertImportRecord(ctx, siteID, "https://feed.test/shared", remoteID(attempt), ledger.StatusUpdated)
			assert.NoError(t, err)
		}(int64(i))
	}
	wg.Wait()

	stats, err := service.ImportStatistics(ctx, &siteID)
	require.NoError(t, err)
	assert.Equal(t, int64(1), stats[ledger.StatusUpdated])
}
