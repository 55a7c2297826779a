// Package testutil holds helpers shared by package tests.
package testutil

import (
	"testing"

	store "github.com/xiaot623/annotator/internal/repository"
)

// NewSQLiteStore returns an in-memory store closed when the test ends.
func NewSQLiteStore(t *testing.T) *store.SQLiteStore {
	t.Helper()

	s, err := store.NewSQLiteStore(":memory:")
	if err != nil {
		t.Fatalf("failed to create sqlite store: %v", err)
	}

	t.Cleanup(func() {
		_ = s.Close()
	})

	return s
}
