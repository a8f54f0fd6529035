package store

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/cqnlower/internal/cqn"
	"github.com/roach88/cqnlower/internal/lower"
	"github.com/roach88/cqnlower/internal/querysql"
	"github.com/roach88/cqnlower/internal/testutil"
)

func recordYAML(t *testing.T, s *Store, query string) (string, *cqn.Select) {
	t.Helper()
	m := testutil.Bookshop(t)
	q, err := cqn.DecodeYAML([]byte(query))
	require.NoError(t, err)
	lowered, err := lower.Lower(q, m)
	require.NoError(t, err)
	sql, params, err := querysql.NewSQLCompiler().Compile(lowered)
	require.NoError(t, err)

	ctx := context.Background()
	rows, err := s.QueryRows(ctx, sql, params...)
	require.NoError(t, err)
	id, err := s.RecordQuery(ctx, lowered, sql, params, len(rows.Values))
	require.NoError(t, err)
	return id, lowered
}

func TestRecordQuery(t *testing.T) {
	s, _ := createBookshopStore(t)
	ctx := context.Background()

	id, lowered := recordYAML(t, s, `
from: bookshop.Books
columns: [title]
where: [{ref: [stock]}, ">", {val: 100}]
`)
	wantID, err := cqn.QueryKey(lowered)
	require.NoError(t, err)
	assert.Equal(t, wantID, id)

	entries, err := s.QueryLog(ctx)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, int64(1), entries[0].Seq)
	assert.Equal(t, 2, entries[0].RowCount)
	assert.Equal(t, `[100]`, entries[0].Params)
	assert.Equal(t, "SELECT Books.title FROM bookshop_Books AS Books WHERE Books.stock > ?", entries[0].SQL)
}

func TestRecordQuery_Idempotent(t *testing.T) {
	s, _ := createBookshopStore(t)
	ctx := context.Background()

	query := `
from: bookshop.Books
columns: [ID]
`
	first, _ := recordYAML(t, s, query)
	second, _ := recordYAML(t, s, query)
	assert.Equal(t, first, second)

	entries, err := s.QueryLog(ctx)
	require.NoError(t, err)
	assert.Len(t, entries, 1)

	seq, err := s.GetLastSeq(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1), seq)
}

func TestQueryLog_Empty(t *testing.T) {
	s := createTestStore(t)

	entries, err := s.QueryLog(context.Background())
	require.NoError(t, err)
	assert.NotNil(t, entries)
	assert.Empty(t, entries)
}

func TestReplay(t *testing.T) {
	s, _ := createBookshopStore(t)
	ctx := context.Background()

	recordYAML(t, s, `
from: bookshop.Books
columns: [title]
where: [{ref: [stock]}, ">", {val: 100}]
`)
	recordYAML(t, s, `
from: bookshop.Authors
columns: [name]
`)

	mismatches, err := s.Replay(ctx)
	require.NoError(t, err)
	assert.Empty(t, mismatches)

	_, err = s.db.ExecContext(ctx, `UPDATE bookshop_Books SET stock = 0 WHERE ID = 251`)
	require.NoError(t, err)

	mismatches, err = s.Replay(ctx)
	require.NoError(t, err)
	require.Len(t, mismatches, 1)
	assert.Equal(t, 2, mismatches[0].Entry.RowCount)
	assert.Equal(t, 1, mismatches[0].Got)
}
