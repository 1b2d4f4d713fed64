// Package testutil provides fixtures shared by package tests.
package testutil

import (
	"path/filepath"
	"testing"

	"github.com/garyjia/spend-reconciliation/pkg/database"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

// OpenDB returns a migrated SQLite database in a per-test temp directory
func OpenDB(t testing.TB) *database.DB {
	t.Helper()

	db, err := database.New(database.Config{
		Path:         filepath.Join(t.TempDir(), "reconciliation.db"),
		MaxOpenConns: 4,
		MaxIdleConns: 4,
	}, zap.NewNop())
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })

	require.NoError(t, database.NewMigrator(db, zap.NewNop()).Migrate())
	return db
}

// Exec runs raw seed statements
func Exec(t testing.TB, db *database.DB, query string, args ...interface{}) {
	t.Helper()
	_, err := db.Exec(query, args...)
	require.NoError(t, err)
}

// SeedAccount inserts an ad account into the directory read model
func SeedAccount(t testing.TB, db *database.DB, id, projectID, channelID int64, currency string) {
	t.Helper()
	Exec(t, db, `INSERT INTO ad_accounts (id, project_id, channel_id, status, currency) VALUES (?, ?, ?, 'active', ?)`,
		id, projectID, channelID, currency)
}

// SeedDailyReport inserts one daily report entry
func SeedDailyReport(t testing.TB, db *database.DB, accountID int64, date, spend, currency, status string) {
	t.Helper()
	Exec(t, db, `INSERT INTO daily_reports (report_date, ad_account_id, spend, currency, status) VALUES (?, ?, ?, ?, ?)`,
		date, accountID, spend, currency, status)
}

// SeedRate inserts one exchange rate
func SeedRate(t testing.TB, db *database.DB, date, from, to, rate string) {
	t.Helper()
	Exec(t, db, `INSERT INTO exchange_rates (rate_date, from_currency, to_currency, rate) VALUES (?, ?, ?, ?)`,
		date, from, to, rate)
}
