package sqlite

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/idem/internal/store"
	"github.com/roach88/idem/internal/store/storetest"
)

// createTestBackend opens a database in a per-test temp directory.
func createTestBackend(t *testing.T) *Backend {
	t.Helper()
	b, err := Open(filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatalf("Open() failed: %v", err)
	}
	return b
}

func TestConformance(t *testing.T) {
	storetest.Run(t, storetest.Factory{
		Open: func(t *testing.T) store.Backend {
			return createTestBackend(t)
		},
		Reopen: func(t *testing.T, b store.Backend) store.Backend {
			path := b.(*Backend).path(t)
			require.NoError(t, b.Close())
			reopened, err := Open(path)
			require.NoError(t, err)
			return reopened
		},
	})
}

// path recovers the database file backing b.
func (b *Backend) path(t *testing.T) string {
	t.Helper()
	var seq int
	var name, file string
	require.NoError(t, b.db.QueryRow("PRAGMA database_list").Scan(&seq, &name, &file))
	return file
}

func TestOpen_CreatesNewDatabase(t *testing.T) {
	path := filepath.Join(t.TempDir(), "test.db")

	b, err := Open(path)
	if err != nil {
		t.Fatalf("Open() failed: %v", err)
	}
	defer b.Close()

	if _, err := os.Stat(path); os.IsNotExist(err) {
		t.Error("database file was not created")
	}
}

func TestOpen_Idempotent(t *testing.T) {
	path := filepath.Join(t.TempDir(), "test.db")

	for i := 0; i < 3; i++ {
		b, err := Open(path)
		if err != nil {
			t.Fatalf("Open() iteration %d failed: %v", i, err)
		}
		b.Close()
	}

	b, err := Open(path)
	require.NoError(t, err)
	defer b.Close()

	var name string
	err = b.db.QueryRow("SELECT name FROM sqlite_master WHERE type='table' AND name='requests'").Scan(&name)
	assert.NoError(t, err, "requests table missing after idempotent opens")

	var version int
	require.NoError(t, b.db.QueryRow("PRAGMA user_version").Scan(&version))
	assert.Equal(t, currentSchemaVersion, version)
}

func TestOpen_InvalidPath(t *testing.T) {
	_, err := Open("/nonexistent/dir/test.db")
	if err == nil {
		t.Error("expected error for invalid path, got nil")
	}
}

func TestOpen_Pragmas(t *testing.T) {
	b := createTestBackend(t)
	defer b.Close()

	assert.NoError(t, b.verifyPragma("journal_mode", "wal"))
	assert.NoError(t, b.verifyPragma("synchronous", "1"))
	assert.NoError(t, b.verifyPragma("busy_timeout", "5000"))
}

func TestOpen_SweepIndex(t *testing.T) {
	b := createTestBackend(t)
	defer b.Close()

	var name string
	err := b.db.QueryRow("SELECT name FROM sqlite_master WHERE type='index' AND name='idx_requests_expires_at'").Scan(&name)
	assert.NoError(t, err)
}

func TestClose_NilDB(t *testing.T) {
	b := &Backend{db: nil}
	assert.NoError(t, b.Close())
}

func TestLoad_AfterCloseFails(t *testing.T) {
	b := createTestBackend(t)
	require.NoError(t, b.Close())

	_, _, err := b.Load(context.Background(), "idem_pay_k")
	assert.Error(t, err)
}

func TestLoad_CorruptBodyFails(t *testing.T) {
	b := createTestBackend(t)
	defer b.Close()

	_, err := b.db.Exec(`INSERT INTO requests (req_key, status, created_at, expires_at, body) VALUES ('k', 'success', 0, 0, 'not json')`)
	require.NoError(t, err)

	_, _, err = b.Load(context.Background(), "k")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "decode record")
}

func TestSave_ColumnsMirrorRecord(t *testing.T) {
	b := createTestBackend(t)
	defer b.Close()

	rec := storetest.Record("idem_pay_k", store.StatusError, time.Hour)
	require.NoError(t, b.Save(context.Background(), rec, time.Hour))

	var status string
	var createdAt, expiresAt int64
	err := b.db.QueryRow(`SELECT status, created_at, expires_at FROM requests WHERE req_key = ?`, rec.Key).
		Scan(&status, &createdAt, &expiresAt)
	require.NoError(t, err)
	assert.Equal(t, "error", status)
	assert.Equal(t, rec.CreatedAt.UnixMilli(), createdAt)
	assert.Equal(t, rec.ExpiresAt.UnixMilli(), expiresAt)
}

func TestDeleteExpired(t *testing.T) {
	b := createTestBackend(t)
	defer b.Close()
	ctx := context.Background()

	require.NoError(t, b.Save(ctx, storetest.Record("idem_a_1", store.StatusSuccess, time.Hour), time.Hour))
	require.NoError(t, b.Save(ctx, storetest.Record("idem_b_1", store.StatusSuccess, 3*time.Hour), 3*time.Hour))

	removed, err := b.DeleteExpired(ctx, storetest.T0.Add(time.Hour))
	require.NoError(t, err)
	assert.Equal(t, 0, removed, "record is live at its exact expiry instant")

	removed, err = b.DeleteExpired(ctx, storetest.T0.Add(2*time.Hour))
	require.NoError(t, err)
	assert.Equal(t, 1, removed)

	keys, err := b.Keys(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"idem_b_1"}, keys)
}
