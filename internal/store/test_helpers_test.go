package store

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/roach88/cqnlower/internal/csn"
	"github.com/roach88/cqnlower/internal/testutil"
)

// createTestStore creates a new file-backed store for testing.
func createTestStore(t *testing.T) *Store {
	t.Helper()
	path := filepath.Join(t.TempDir(), "test.db")
	s, err := Open(path)
	if err != nil {
		t.Fatalf("Open() failed: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

// createBookshopStore creates an in-memory store with the bookshop tables
// and sample data.
func createBookshopStore(t *testing.T) (*Store, *csn.Model) {
	t.Helper()
	m := testutil.Bookshop(t)

	s, err := Open(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })

	ctx := context.Background()
	require.NoError(t, s.CreateTables(ctx, m))

	seed, err := ParseSeed(testutil.BookshopSeed)
	require.NoError(t, err)
	require.NoError(t, s.Seed(ctx, m, seed))
	return s, m
}
