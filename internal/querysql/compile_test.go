package querysql

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/cqnlower/internal/cqn"
	"github.com/roach88/cqnlower/internal/lower"
	"github.com/roach88/cqnlower/internal/testutil"
)

func table(entity, alias string) *cqn.TableRef {
	return &cqn.TableRef{Ref: cqn.NewRef(entity), As: alias}
}

func TestCompile_JoinAndNullComparison(t *testing.T) {
	q := &cqn.Select{
		From: &cqn.Join{
			Kind:  "left",
			Left:  table("bookshop.Books", "Books"),
			Right: table("bookshop.Authors", "author"),
			On:    cqn.Comparison(cqn.NewRef("author", "ID"), cqn.OpEq, cqn.NewRef("Books", "author_ID")),
		},
		Columns: []cqn.Column{
			{Expr: cqn.NewRef("Books", "title")},
			{Expr: cqn.NewRef("author", "name"), As: "author_name"},
		},
		Where: []cqn.Expr{
			cqn.NewRef("Books", "stock"), cqn.Op(">"), &cqn.Val{Value: 10},
			cqn.OpAnd,
			cqn.NewRef("author", "name"), cqn.OpEq, cqn.Null(),
		},
	}

	sql, params, err := NewSQLCompiler().Compile(q)
	require.NoError(t, err)

	assert.Equal(t, "SELECT Books.title, author.name AS author_name "+
		"FROM bookshop_Books AS Books LEFT JOIN bookshop_Authors AS author ON author.ID = Books.author_ID "+
		"WHERE Books.stock > ? AND author.name IS NULL", sql)
	assert.Equal(t, []any{int64(10)}, params)
}

func TestCompile_ValuesAreParameterized(t *testing.T) {
	q := &cqn.Select{
		From:    table("bookshop.Books", "Books"),
		Columns: []cqn.Column{{Expr: cqn.NewRef("Books", "ID")}},
		Where: []cqn.Expr{
			cqn.NewRef("Books", "title"), cqn.Op("like"), &cqn.Val{Value: "%Heights"},
			cqn.OpOr,
			cqn.NewRef("Books", "descr"), cqn.Op("!="), cqn.Null(),
		},
	}

	sql, params, err := NewSQLCompiler().Compile(q)
	require.NoError(t, err)

	assert.NotContains(t, sql, "Heights")
	assert.Equal(t, "SELECT Books.ID FROM bookshop_Books AS Books "+
		"WHERE Books.title LIKE ? OR Books.descr IS NOT NULL", sql)
	assert.Equal(t, []any{"%Heights"}, params)
}

func TestCompile_Exists(t *testing.T) {
	q := &cqn.Select{
		From:    table("bookshop.Books", "Books"),
		Columns: []cqn.Column{{Expr: cqn.NewRef("Books", "ID")}},
		Where: []cqn.Expr{cqn.OpExists, &cqn.SubQuery{Select: &cqn.Select{
			From:    table("bookshop.Reviews", "reviews"),
			Columns: []cqn.Column{{Expr: &cqn.Val{Value: 1}}},
			Where:   cqn.Comparison(cqn.NewRef("reviews", "book_ID"), cqn.OpEq, cqn.NewRef("Books", "ID")),
		}}},
	}

	sql, params, err := NewSQLCompiler().Compile(q)
	require.NoError(t, err)

	assert.Equal(t, "SELECT Books.ID FROM bookshop_Books AS Books "+
		"WHERE EXISTS (SELECT ? FROM bookshop_Reviews AS reviews WHERE reviews.book_ID = Books.ID)", sql)
	assert.Equal(t, []any{int64(1)}, params)
}

func TestCompile_Expand(t *testing.T) {
	author := &cqn.Select{
		From:    table("bookshop.Authors", "author"),
		Columns: []cqn.Column{{Expr: cqn.NewRef("author", "name")}},
		Where:   cqn.Comparison(cqn.NewRef("author", "ID"), cqn.OpEq, cqn.NewRef("Books", "author_ID")),
		Expand:  true,
		One:     true,
	}
	q := &cqn.Select{
		From: table("bookshop.Books", "Books"),
		Columns: []cqn.Column{
			{Expr: cqn.NewRef("Books", "title")},
			{Expr: &cqn.SubQuery{Select: author}, As: "author"},
		},
	}

	sql, _, err := NewSQLCompiler().Compile(q)
	require.NoError(t, err)

	assert.Equal(t, `SELECT Books.title, (SELECT json_object('name', "$e0".name) `+
		`FROM (SELECT author.name FROM bookshop_Authors AS author WHERE author.ID = Books.author_ID) AS "$e0") AS author `+
		`FROM bookshop_Books AS Books`, sql)

	t.Run("to-many folds rows into an array", func(t *testing.T) {
		many := *author
		many.One = false
		q.Columns[1] = cqn.Column{Expr: &cqn.SubQuery{Select: &many}, As: "authors"}

		sql, _, err := NewSQLCompiler().Compile(q)
		require.NoError(t, err)
		assert.Contains(t, sql, `(SELECT json_group_array(json_object('name', "$e0".name)) FROM (`)
	})

	t.Run("nested expand is embedded as json", func(t *testing.T) {
		inner := *author
		inner.Columns = append([]cqn.Column{}, author.Columns...)
		inner.Columns = append(inner.Columns, cqn.Column{
			Expr: &cqn.SubQuery{Select: &cqn.Select{
				From:    table("bookshop.Books", "books"),
				Columns: []cqn.Column{{Expr: cqn.NewRef("books", "title")}},
				Where:   cqn.Comparison(cqn.NewRef("books", "author_ID"), cqn.OpEq, cqn.NewRef("author", "ID")),
				Expand:  true,
			}},
			As: "books",
		})
		q.Columns[1] = cqn.Column{Expr: &cqn.SubQuery{Select: &inner}, As: "author"}

		sql, _, err := NewSQLCompiler().Compile(q)
		require.NoError(t, err)
		assert.Contains(t, sql, `'books', json("$e0".books)`)
		assert.Contains(t, sql, `(SELECT json_group_array(json_object('title', "$e1".title)) FROM (`)
	})
}

func TestCompile_OrderByAndLimit(t *testing.T) {
	q := &cqn.Select{
		From:    table("bookshop.Books", "Books"),
		Columns: []cqn.Column{{Expr: cqn.NewRef("Books", "title"), As: "Order"}},
		OrderBy: []cqn.OrderItem{
			{Expr: cqn.NewRef("Order"), Sort: "desc", Nulls: "last"},
			{Expr: cqn.NewRef("Books", "ID")},
		},
		Limit: &cqn.Limit{Offset: &cqn.Val{Value: int64(5)}},
	}

	sql, params, err := NewSQLCompiler().Compile(q)
	require.NoError(t, err)

	assert.Equal(t, `SELECT Books.title AS "Order" FROM bookshop_Books AS Books `+
		`ORDER BY "Order" DESC NULLS LAST, Books.ID LIMIT -1 OFFSET ?`, sql)
	assert.Equal(t, []any{int64(5)}, params)
}

func TestCompile_Parameters(t *testing.T) {
	q := &cqn.Select{
		From:    table("bookshop.Books", "Books"),
		Columns: []cqn.Column{{Expr: cqn.NewRef("Books", "ID")}},
		Where: []cqn.Expr{
			cqn.NewRef("Books", "ID"), cqn.OpEq, &cqn.Param{Name: "?"},
			cqn.OpAnd,
			cqn.NewRef("Books", "title"), cqn.OpEq, &cqn.Param{Name: "title"},
		},
	}

	t.Run("bound", func(t *testing.T) {
		c := NewSQLCompiler()
		c.Args = []any{201}
		c.BoundValues["title"] = "Emma"

		sql, params, err := c.Compile(q)
		require.NoError(t, err)
		assert.Equal(t, "SELECT Books.ID FROM bookshop_Books AS Books WHERE Books.ID = ? AND Books.title = ?", sql)
		assert.Equal(t, []any{201, "Emma"}, params)
	})

	t.Run("missing positional", func(t *testing.T) {
		c := NewSQLCompiler()
		c.BoundValues["title"] = "Emma"
		_, _, err := c.Compile(q)
		assert.ErrorContains(t, err, "positional parameter 1")
	})

	t.Run("missing named", func(t *testing.T) {
		c := NewSQLCompiler()
		c.Args = []any{201}
		_, _, err := c.Compile(q)
		assert.ErrorContains(t, err, ":title")
	})
}

func TestCompile_Errors(t *testing.T) {
	testCases := []struct {
		name  string
		query *cqn.Select
		want  string
	}{
		{
			name:  "nil query",
			query: nil,
			want:  "nil query",
		},
		{
			name: "scoped from",
			query: &cqn.Select{
				From: &cqn.TableRef{Ref: cqn.NewRef("bookshop.Books", "author")},
			},
			want: "not lowered",
		},
		{
			name: "path reference",
			query: &cqn.Select{
				From:    table("bookshop.Books", "Books"),
				Columns: []cqn.Column{{Expr: cqn.NewRef("Books", "author", "name")}},
			},
			want: "not lowered",
		},
		{
			name: "nested projection",
			query: &cqn.Select{
				From:    table("bookshop.Books", "Books"),
				Columns: []cqn.Column{{Expr: cqn.NewRef("author"), Expand: []cqn.Column{cqn.Wildcard()}}},
			},
			want: "nested projection",
		},
		{
			name: "object literal",
			query: &cqn.Select{
				From:  table("bookshop.Books", "Books"),
				Where: []cqn.Expr{cqn.NewRef("Books", "ID"), cqn.OpEq, &cqn.Val{Value: map[string]any{}}},
			},
			want: "unsupported literal",
		},
		{
			name: "variable",
			query: &cqn.Select{
				From:  table("bookshop.Books", "Books"),
				Where: []cqn.Expr{cqn.NewRef("Books", "ID"), cqn.OpEq, cqn.NewRef("$user")},
			},
			want: "unsupported variable",
		},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			_, _, err := NewSQLCompiler().Compile(tc.query)
			assert.ErrorContains(t, err, tc.want)
		})
	}
}

func TestCompile_LoweredQuery(t *testing.T) {
	model := testutil.Bookshop(t)
	q, err := cqn.DecodeYAML([]byte(`
from: bookshop.Books
columns: [title, author.name]
where: [exists, {ref: [reviews]}]
`))
	require.NoError(t, err)

	lowered, err := lower.Lower(q, model)
	require.NoError(t, err)

	sql, params, err := NewSQLCompiler().Compile(lowered)
	require.NoError(t, err)

	assert.Equal(t, "SELECT Books.title, author.name AS author_name "+
		"FROM bookshop_Books AS Books LEFT JOIN bookshop_Authors AS author ON author.ID = Books.author_ID "+
		"WHERE EXISTS (SELECT ? FROM bookshop_Reviews AS reviews WHERE reviews.book_ID = Books.ID)", sql)
	assert.Equal(t, []any{int64(1)}, params)
}

func TestCompile_LoweredExistsOverManagedAssociation(t *testing.T) {
	model := testutil.Bookshop(t)
	q, err := cqn.DecodeYAML([]byte(`{from: bookshop.Books, columns: [title], where: [exists, {ref: [author]}]}`))
	require.NoError(t, err)

	lowered, err := lower.Lower(q, model)
	require.NoError(t, err)

	sql, params, err := NewSQLCompiler().Compile(lowered)
	require.NoError(t, err)

	assert.Equal(t, "SELECT Books.title FROM bookshop_Books AS Books "+
		"WHERE EXISTS (SELECT ? FROM bookshop_Authors AS author WHERE author.ID = Books.author_ID)", sql)
	assert.Equal(t, []any{int64(1)}, params)
}
