package compiler

import (
	"testing"

	"cuelang.org/go/cue/cuecontext"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/cqnlower/internal/cqn"
	"github.com/roach88/cqnlower/internal/csn"
)

func compile(t *testing.T, src string) (*csn.Model, error) {
	t.Helper()
	v := cuecontext.New().CompileString(src)
	require.NoError(t, v.Err())
	return CompileModel(v)
}

func TestCompileModelBasic(t *testing.T) {
	m, err := compile(t, `
		namespace: "shop"

		type: Address: {
			street: "String"
			city:   "String"
		}

		entity: Books: {
			ID:     {type: "Integer", key: true}
			title:  "String"
			author: {association: "Authors"}
		}

		entity: Authors: {
			ID:      {type: "Integer", key: true}
			name:    {type: "String", notNull: true}
			address: "Address"
			books: {
				association: "Books"
				many:        true
				on: [{ref: "books.author"}, "=", {ref: "$self"}]
			}
		}

		view: BooksView: "Books"
	`)
	require.NoError(t, err)

	books, ok := m.Definition("shop.Books")
	require.True(t, ok)
	assert.Equal(t, csn.KindEntity, books.Kind)
	assert.Equal(t, "Books", books.ShortName())

	title, ok := books.Element("title")
	require.True(t, ok)
	assert.Equal(t, "cds.String", title.Type)

	author, ok := books.Element("author")
	require.True(t, ok)
	assert.Equal(t, "shop.Authors", author.Target)
	assert.Equal(t, csn.Managed, author.Association())
	assert.True(t, author.IsToOne())

	authors, ok := m.Definition("shop.Authors")
	require.True(t, ok)
	name, _ := authors.Element("name")
	assert.True(t, name.NotNull)

	rel, ok := authors.Element("books")
	require.True(t, ok)
	assert.True(t, rel.ToMany)
	assert.Equal(t, csn.Backlink, rel.Association())
	assert.Equal(t, []cqn.Expr{cqn.NewRef("books", "author"), cqn.OpEq, cqn.NewRef("$self")}, rel.On)

	var columns []string
	for _, l := range authors.Columns() {
		columns = append(columns, l.Column)
	}
	assert.Equal(t, []string{"ID", "name", "address_street", "address_city"}, columns)

	view, ok := m.Definition("shop.BooksView")
	require.True(t, ok)
	assert.Equal(t, "shop.Books", view.Projection)
	_, ok = view.Column("author_ID")
	assert.True(t, ok, "projection inherits the foreign keys")
}

func TestCompileModelWithoutNamespace(t *testing.T) {
	m, err := compile(t, `
		entity: Orders: {
			ID:     {type: "UUID", key: true}
			amount: "Decimal"
		}
	`)
	require.NoError(t, err)

	orders, ok := m.Definition("Orders")
	require.True(t, ok)
	id, _ := orders.Element("ID")
	assert.Equal(t, "cds.UUID", id.Type)
	assert.True(t, id.Key)
}

func TestCompileModelForeignKeys(t *testing.T) {
	m, err := compile(t, `
		entity: Editions: {
			book:    {type: "Integer", key: true}
			version: {key: true, elements: {major: "Integer", minor: "Integer"}}
		}
		entity: Orders: {
			ID: {type: "Integer", key: true}
			edition: {
				association: "Editions"
				keys: ["book", {ref: "version.major", as: "major"}]
			}
		}
	`)
	require.NoError(t, err)

	orders, _ := m.Definition("Orders")
	edition, _ := orders.Element("edition")
	assert.Equal(t, []csn.ForeignKey{
		{Ref: []string{"book"}},
		{Ref: []string{"version", "major"}, As: "major"},
	}, edition.Keys)

	leaf, ok := orders.Column("edition_major")
	require.True(t, ok)
	assert.Equal(t, "version_major", leaf.TargetColumn)
}

func TestCompileModelTypeOfAndVirtual(t *testing.T) {
	m, err := compile(t, `
		entity: Authors: {
			ID:        {type: "Integer", key: true}
			address:   {elements: {city: "String"}}
			birthCity: {typeOf: "Authors:address.city"}
			age:       {type: "Integer", virtual: true}
		}
	`)
	require.NoError(t, err)

	authors, _ := m.Definition("Authors")
	birthCity, _ := authors.Element("birthCity")
	assert.Equal(t, "cds.String", birthCity.Type)

	age, _ := authors.Element("age")
	assert.True(t, age.Virtual)
	_, ok := authors.Column("age")
	assert.True(t, ok, "virtual elements still resolve")
	for _, l := range authors.Columns() {
		assert.NotEqual(t, "age", l.Column)
	}
}

func TestCompileModelErrors(t *testing.T) {
	tests := []struct {
		name    string
		src     string
		wantMsg string
	}{
		{
			name:    "empty entity",
			src:     `entity: Empty: {}`,
			wantMsg: "at least one element is required",
		},
		{
			name:    "element of wrong kind",
			src:     `entity: Books: {ID: {type: "Integer", key: true}, title: 42}`,
			wantMsg: "element must be a type name or a struct",
		},
		{
			name:    "key is not a boolean",
			src:     `entity: Books: {ID: {type: "Integer", key: "yes"}}`,
			wantMsg: "must be a boolean",
		},
		{
			name:    "association and composition",
			src:     `entity: Books: {ID: {type: "Integer", key: true}, a: {association: "Books", composition: "Books"}}`,
			wantMsg: "mutually exclusive",
		},
		{
			name:    "many on a scalar",
			src:     `entity: Books: {ID: {type: "Integer", key: true}, title: {type: "String", many: true}}`,
			wantMsg: "only allowed on associations",
		},
		{
			name: "keys and on",
			src: `entity: Books: {
				ID: {type: "Integer", key: true}
				self: {association: "Books", keys: ["ID"], on: [{ref: "self.ID"}, "=", {ref: "ID"}]}
			}`,
			wantMsg: "keys and on are mutually exclusive",
		},
		{
			name:    "typeOf without element path",
			src:     `entity: Books: {ID: {type: "Integer", key: true}, t: {typeOf: "Books"}}`,
			wantMsg: "expected Entity:path",
		},
		{
			name:    "empty on-condition",
			src:     `entity: Books: {ID: {type: "Integer", key: true}, s: {association: "Books", many: true, on: []}}`,
			wantMsg: "on-condition is empty",
		},
		{
			name:    "view without source",
			src:     `view: V: {}`,
			wantMsg: "projection is required",
		},
		{
			name:    "unknown target",
			src:     `entity: Books: {ID: {type: "Integer", key: true}, author: {association: "Nobody"}}`,
			wantMsg: `unknown association target "Nobody"`,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := compile(t, tt.src)
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantMsg)
		})
	}
}

func TestCompileModelCollectsLinkErrors(t *testing.T) {
	_, err := compile(t, `
		entity: Books: {
			ID:     {type: "Integer", key: true}
			author: {association: "Nobody"}
			genre:  {association: "Genres", many: true}
			price:  "Money"
		}
		entity: Genres: {ID: {type: "Integer", key: true}}
	`)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "Nobody")
	assert.Contains(t, err.Error(), "to-many association needs an on-condition")
	assert.Contains(t, err.Error(), `unknown type "Money"`)
}

func TestCompileErrorPosition(t *testing.T) {
	_, err := compile(t, `entity: Books: {ID: {type: "Integer", key: 1}}`)
	require.Error(t, err)

	var cerr *CompileError
	require.ErrorAs(t, err, &cerr)
	assert.Equal(t, "entity.Books.ID.key", cerr.Field)
	assert.True(t, cerr.Pos.IsValid())
}

func TestCompileModelAllCollectsDefinitionErrors(t *testing.T) {
	src := `
		entity: Empty: {}
		entity: Books: {ID: {type: "Integer", key: true}, title: 42}
		view: V: {}
	`
	v := cuecontext.New().CompileString(src)
	require.NoError(t, v.Err())

	_, err := CompileModel(v)
	require.Error(t, err)
	assert.NotContains(t, err.Error(), "projection is required", "fail-fast stops at the first definition")

	_, err = CompileModelAll(v)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "at least one element is required")
	assert.Contains(t, err.Error(), "element must be a type name or a struct")
	assert.Contains(t, err.Error(), "projection is required")

	var cerr *CompileError
	assert.ErrorAs(t, err, &cerr)
}
