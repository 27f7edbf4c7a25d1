package sqlite

import (
	"database/sql"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/thebtf/recall/pkg/vectors"
)

// testDB creates a migrated test database in a temp directory.
func testDB(t *testing.T) (*sql.DB, string, func()) {
	t.Helper()

	tmpDir, err := os.MkdirTemp("", "recall-sqlite-test-*")
	require.NoError(t, err)

	dbPath := filepath.Join(tmpDir, "test.db")
	db, err := sql.Open("sqlite", dbPath)
	require.NoError(t, err)

	require.NoError(t, runMigrations(db))

	cleanup := func() {
		db.Close()
		os.RemoveAll(tmpDir)
	}
	return db, dbPath, cleanup
}

// seedDocument inserts a document row directly, bypassing DocumentStore.
func seedDocument(t *testing.T, db *sql.DB, id, content string, epoch int64, embedding []float32) {
	t.Helper()

	_, err := db.Exec(`
		INSERT INTO documents (id, content, metadata, embedding, dim, created_at, created_at_epoch)
		VALUES (?, ?, '{}', ?, ?, datetime('now'), ?)`,
		id, content, vectors.Encode(embedding), len(embedding), epoch,
	)
	require.NoError(t, err)
}
