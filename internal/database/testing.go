package database

import (
	"path/filepath"
	"testing"
)

// NewTestDB opens a migrated throwaway database under t.TempDir. A file-backed
// database (not :memory:) is used so the connection pool sees one store.
func NewTestDB(t *testing.T) *DB {
	t.Helper()

	db, err := NewDB(Config{DatabasePath: filepath.Join(t.TempDir(), "test.db")})
	if err != nil {
		t.Fatalf("Failed to open test database: %v", err)
	}

	t.Cleanup(func() {
		_ = db.Close()
	})

	return db
}
