package main

import (
	"bytes"
	"context"
	"encoding/csv"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/MarcoPoloResearchLab/wpsync/internal/auth"
	"github.com/MarcoPoloResearchLab/wpsync/internal/content"
	"github.com/MarcoPoloResearchLab/wpsync/internal/database"
	"github.com/MarcoPoloResearchLab/wpsync/internal/ledger"
	"github.com/MarcoPoloResearchLab/wpsync/internal/syncer"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func executeCommand(t *testing.T, args ...string) (string, error) {
	t.Helper()
	var out bytes.Buffer
	rootCmd := newRootCommand()
	rootCmd.SetOut(&out)
	rootCmd.SetErr(&out)
	rootCmd.SetArgs(args)
	err := rootCmd.Execute()
	return out.String(), err
}

func TestTokenCommandIssuesVerifiableToken(t *testing.T) {
	t.Setenv("WPSYNC_SERVER_SIGNING_SECRET", "cli-secret")

	output, err := executeCommand(t, "token", "--subject", "operator")
	require.NoError(t, err)
	token := strings.TrimSpace(strings.SplitN(output, "\n", 2)[0])

	issuer, err := auth.NewTokenIssuer(auth.TokenIssuerConfig{
		SigningSecret: []byte("cli-secret"),
		Issuer:        auth.DefaultIssuer,
		Audience:      auth.DefaultAudience,
	})
	require.NoError(t, err)
	subject, err := issuer.Validate(token)
	require.NoError(t, err)
	assert.Equal(t, "operator", subject)
}

func TestSitesAndStatsCommandsShareLedger(t *testing.T) {
	t.Setenv("WPSYNC_DATABASE_PATH", filepath.Join(t.TempDir(), "cli.db"))

	output, err := executeCommand(t, "sites", "add", "--url", "https://example.test", "--user", "admin", "--secret", "pw", "--name", "Example")
	require.NoError(t, err)
	assert.Contains(t, output, "site 1 added (https://example.test/wp-json/wp/v2)")

	output, err = executeCommand(t, "sites", "list")
	require.NoError(t, err)
	assert.Contains(t, output, "Example")
	assert.NotContains(t, output, "pw\n")

	output, err = executeCommand(t, "stats", "--site", "1")
	require.NoError(t, err)
	assert.Contains(t, output, "total")

	_, err = executeCommand(t, "sites", "remove", "--id", "7")
	assert.Error(t, err)

	output, err = executeCommand(t, "logs", "--limit", "5")
	require.NoError(t, err)
	assert.Contains(t, output, "site profile 1 added")
}

func TestSitesAddRequiresSecret(t *testing.T) {
	t.Setenv("WPSYNC_DATABASE_PATH", filepath.Join(t.TempDir(), "cli.db"))
	_, err := executeCommand(t, "sites", "add", "--url", "https://example.test", "--user", "admin")
	assert.True(t, errors.Is(err, errMissingSecret))
}

func TestPrintSummary(t *testing.T) {
	remoteID := int64(42)
	summary := syncer.RunSummary{
		RunID: "run-1",
		Results: []syncer.Result{
			{Kind: content.KindPost, Slug: "hello", Status: ledger.StatusCreated, RemoteID: &remoteID},
			{Kind: content.KindPost, Slug: "broken", Status: ledger.StatusError, Err: errors.New("lookup failed")},
			{Kind: content.KindPost, Slug: "late", Err: syncer.ErrNotDispatched},
		},
		Counts:        map[ledger.Status]int{ledger.StatusCreated: 1, ledger.StatusError: 1},
		NotDispatched: 1,
		Warning:       "local ledger failed on 3 items",
	}

	var out bytes.Buffer
	require.NoError(t, printSummary(&out, summary))
	text := out.String()
	assert.Contains(t, text, "hello")
	assert.Contains(t, text, "42")
	assert.Contains(t, text, "lookup failed")
	assert.Contains(t, text, "not dispatched")
	assert.Contains(t, text, "run run-1: 1 created, 0 updated, 0 skipped, 1 errors, 1 not dispatched")
	assert.Contains(t, text, "warning: local ledger failed on 3 items")
}

// seedImportRecords writes records straight into the ledger file the CLI will open.
func seedImportRecords(t *testing.T, path string) {
	t.Helper()
	db, err := database.OpenSQLite(path, zap.NewNop())
	require.NoError(t, err)
	service, err := ledger.NewService(ledger.ServiceConfig{Database: db})
	require.NoError(t, err)

	ctx := context.Background()
	siteID, err := service.AddSiteProfile(ctx, "https://example.test", "admin", "pw", "Example")
	require.NoError(t, err)
	first, second := int64(10), int64(11)
	_, err = service.UpsertImportRecord(ctx, siteID, "https://feed.test/a", &first, ledger.StatusCreated)
	require.NoError(t, err)
	_, err = service.UpsertImportRecord(ctx, siteID, "https://feed.test/b", &second, ledger.StatusCreated)
	require.NoError(t, err)
	_, err = service.UpsertImportRecord(ctx, siteID, "https://feed.test/c", nil, ledger.StatusError)
	require.NoError(t, err)

	sqlDB, err := db.DB()
	require.NoError(t, err)
	require.NoError(t, sqlDB.Close())
}

func TestStatsCommandExportsCSVAndJSON(t *testing.T) {
	dir := t.TempDir()
	databasePath := filepath.Join(dir, "cli.db")
	t.Setenv("WPSYNC_DATABASE_PATH", databasePath)
	seedImportRecords(t, databasePath)

	output, err := executeCommand(t, "stats", "--format", "csv")
	require.NoError(t, err)
	rows, err := csv.NewReader(strings.NewReader(output)).ReadAll()
	require.NoError(t, err)
	assert.Equal(t, [][]string{
		{"status", "count"},
		{"created", "2"},
		{"updated", "0"},
		{"skipped", "0"},
		{"error", "1"},
	}, rows)

	jsonPath := filepath.Join(dir, "stats.json")
	output, err = executeCommand(t, "stats", "--format", "JSON", "--site", "1", "--output", jsonPath)
	require.NoError(t, err)
	assert.Equal(t, "statistics written to "+jsonPath+"\n", output)

	raw, err := os.ReadFile(jsonPath)
	require.NoError(t, err)
	var report statsReport
	require.NoError(t, json.Unmarshal(raw, &report))
	require.NotNil(t, report.SiteID)
	assert.Equal(t, int64(1), *report.SiteID)
	assert.Equal(t, int64(3), report.Total)
	assert.Equal(t, map[string]int64{"created": 2, "updated": 0, "skipped": 0, "error": 1}, report.Counts)

	output, err = executeCommand(t, "logs", "--limit", "1")
	require.NoError(t, err)
	assert.Contains(t, output, "statistics exported to "+jsonPath)
}

func TestStatsCommandRejectsUnknownFormat(t *testing.T) {
	t.Setenv("WPSYNC_DATABASE_PATH", filepath.Join(t.TempDir(), "cli.db"))
	_, err := executeCommand(t, "stats", "--format", "xml")
	assert.ErrorIs(t, err, errUnknownStatsFormat)
}
