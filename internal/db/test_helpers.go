package db

import (
	"path/filepath"
	"testing"
)

// newTestDB opens a migrated database in a temp dir, closed at test end.
func newTestDB(t *testing.T) *DB {
	t.Helper()
	db, err := NewDB(filepath.Join(t.TempDir(), "uwbfollow.db"))
	if err != nil {
		t.Fatalf("Failed to create database: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return db
}
