package database

import (
	"path/filepath"
	"testing"
	"testing/fstest"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func openTemp(t *testing.T) *DB {
	t.Helper()
	db, err := New(Config{Path: filepath.Join(t.TempDir(), "recon.db"), MaxOpenConns: 1}, zap.NewNop())
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	return db
}

func TestDSN(t *testing.T) {
	dsn := DSN(Config{Path: "/tmp/x.db"})
	assert.Contains(t, dsn, "_txlock=immediate")
	assert.Contains(t, dsn, "_busy_timeout=5000")
	assert.Contains(t, dsn, "_foreign_keys=on")
}

func TestMigrate_EmbeddedSchema(t *testing.T) {
	db := openTemp(t)
	m := NewMigrator(db, zap.NewNop())

	require.NoError(t, m.Migrate())
	require.NoError(t, m.Migrate(), "second run is a no-op")

	for _, table := range []string{"batches", "reconciliation_details", "adjustments", "audit_log",
		"detail_operations", "batch_scope_claims", "reconciliation_reports",
		"ad_accounts", "daily_reports", "exchange_rates"} {
		var name string
		err := db.QueryRow("SELECT name FROM sqlite_master WHERE type = 'table' AND name = ?", table).Scan(&name)
		assert.NoError(t, err, "table %s", table)
	}

	var count int
	require.NoError(t, db.QueryRow("SELECT COUNT(*) FROM schema_migrations").Scan(&count))
	assert.Equal(t, 2, count)
}

func TestAuditLogIsAppendOnly(t *testing.T) {
	db := openTemp(t)
	require.NoError(t, NewMigrator(db, zap.NewNop()).Migrate())

	_, err := db.Exec(`INSERT INTO audit_log (entity_type, entity_id, actor, operation, created_at)
		VALUES ('batch', 1, 'alice', 'create_batch', CURRENT_TIMESTAMP)`)
	require.NoError(t, err)

	_, err = db.Exec("UPDATE audit_log SET actor = 'mallory'")
	assert.ErrorContains(t, err, "append-only")

	_, err = db.Exec("DELETE FROM audit_log")
	assert.ErrorContains(t, err, "append-only")
}

func TestRunMigrations_OrdersByVersion(t *testing.T) {
	db := openTemp(t)
	fsys := fstest.MapFS{
		"010_second.sql": {Data: []byte("ALTER TABLE t ADD COLUMN b TEXT;")},
		"002_first.sql":  {Data: []byte("CREATE TABLE t (a TEXT);")},
		"README.md":      {Data: []byte("ignored")},
	}

	require.NoError(t, NewMigrator(db, zap.NewNop()).RunMigrations(fsys))

	_, err := db.Exec("INSERT INTO t (a, b) VALUES ('x', 'y')")
	assert.NoError(t, err)
}

func TestRunMigrations_RejectsBadFilename(t *testing.T) {
	db := openTemp(t)
	fsys := fstest.MapFS{"schema.sql": {Data: []byte("SELECT 1;")}}

	err := NewMigrator(db, zap.NewNop()).RunMigrations(fsys)
	assert.Error(t, err)
}
