package cqn

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDecodeYAMLShortForms(t *testing.T) {
	sel, err := DecodeYAML([]byte(`
from: bookshop.Books
columns: ["*", title, author.name]
limit: 10
`))
	require.NoError(t, err)

	assert.Equal(t, &TableRef{Ref: NewRef("bookshop.Books")}, sel.From)
	require.Len(t, sel.Columns, 3)
	assert.True(t, sel.Columns[0].Wildcard)
	assert.Equal(t, NewRef("title"), sel.Columns[1].Expr)
	assert.Equal(t, NewRef("author", "name"), sel.Columns[2].Expr)
	assert.Equal(t, &Limit{Rows: &Val{Value: int64(10)}}, sel.Limit)
}

func TestDecodeJSONDocument(t *testing.T) {
	sel, err := DecodeYAML([]byte(`{"SELECT": {
  "from": {"ref": [{"id": "bookshop.Books", "where": [{"ref": ["stock"]}, ">", {"val": 1}]}, "author"], "as": "A"},
  "columns": [{"ref": ["name"], "as": "n"}],
  "where": ["exists", {"ref": ["books"]}, "AND", {"xpr": [{"ref": ["ID"]}, "=", {"param": "?"}]}],
  "orderBy": [{"ref": ["name"], "sort": "DESC"}],
  "limit": {"rows": {"val": 5}, "offset": "2"}
}}`))
	require.NoError(t, err)

	from, ok := sel.From.(*TableRef)
	require.True(t, ok)
	assert.Equal(t, "A", from.As)
	require.Len(t, from.Ref.Steps, 2)
	assert.Equal(t, "bookshop.Books", from.Ref.Steps[0].ID)
	assert.Equal(t, []Expr{NewRef("stock"), Op(">"), &Val{Value: 1}}, from.Ref.Steps[0].Where)

	assert.Equal(t, "n", sel.Columns[0].As)
	assert.Equal(t, []Expr{
		OpExists, NewRef("books"), OpAnd,
		&Xpr{Tokens: []Expr{NewRef("ID"), OpEq, &Param{Name: "?"}}},
	}, sel.Where)
	assert.Equal(t, []OrderItem{{Expr: NewRef("name"), Sort: "desc"}}, sel.OrderBy)
	assert.Equal(t, &Limit{Rows: &Val{Value: 5}, Offset: &Val{Value: int64(2)}}, sel.Limit)
}

func TestDecodeNestedProjection(t *testing.T) {
	sel, err := DecodeYAML([]byte(`
from: {ref: [bookshop.Authors]}
columns:
  - ref: [books]
    expand: ["*"]
    orderBy: [title]
  - ref: [address]
    inline: []
`))
	require.NoError(t, err)

	require.Len(t, sel.Columns, 2)
	assert.Equal(t, []Column{Wildcard()}, sel.Columns[0].Expand)
	assert.Equal(t, []OrderItem{{Expr: NewRef("title")}}, sel.Columns[0].OrderBy)
	assert.NotNil(t, sel.Columns[1].Inline)
	assert.Empty(t, sel.Columns[1].Inline)
	assert.Nil(t, sel.Columns[1].Expand)
}

func TestDecodeRoundTripThroughJSONShape(t *testing.T) {
	src := []byte(`{"SELECT":{"from":{"ref":["bookshop.Books"],"as":"Books"},"columns":[{"ref":["Books","ID"]}],"where":[{"ref":["Books","ID"]},"=",{"val":1}]}}`)
	sel, err := DecodeYAML(src)
	require.NoError(t, err)

	out, err := MarshalCanonical(sel)
	require.NoError(t, err)
	assert.Equal(t, `{"SELECT":{"columns":[{"ref":["Books","ID"]}],"from":{"as":"Books","ref":["bookshop.Books"]},"where":[{"ref":["Books","ID"]},"=",{"val":1}]}}`, string(out))
}

func TestDecodeErrors(t *testing.T) {
	tests := []struct {
		name string
		doc  string
		path string
	}{
		{"not an object", `[1, 2]`, ""},
		{"missing from", `columns: [a]`, ""},
		{"bad column", `{from: X, columns: [1]}`, "columns[0]"},
		{"bad limit", `{from: X, limit: abc}`, "limit"},
		{"bad step", `{from: {ref: [{where: []}]}}`, "from.ref[0]"},
		{"unknown expression", `{from: X, where: [{foo: 1}]}`, "where[0]"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := DecodeYAML([]byte(tt.doc))
			require.Error(t, err)
			var de *DecodeError
			require.ErrorAs(t, err, &de)
			assert.Equal(t, tt.path, de.Path)
		})
	}
}

func TestDecodeTokens(t *testing.T) {
	tokens, err := DecodeTokens([]any{
		map[string]any{"ref": "books.author"}, "=", map[string]any{"ref": []any{"$self"}},
	})
	require.NoError(t, err)
	assert.Equal(t, []Expr{NewRef("books", "author"), OpEq, NewRef("$self")}, tokens)

	_, err = DecodeTokens("books.author = $self")
	require.Error(t, err)
}

func TestDecodeGroupByStringsAreRefs(t *testing.T) {
	sel, err := DecodeYAML([]byte(`
from: bookshop.Books
columns: [author.name]
groupBy: [author.name, {ref: [genre, ID]}]
`))
	require.NoError(t, err)

	assert.Equal(t, []Expr{NewRef("author", "name"), NewRef("genre", "ID")}, sel.GroupBy)
}
