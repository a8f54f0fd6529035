package compiler

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestValidateModel_Valid(t *testing.T) {
	m, err := compile(t, `
		entity: Books: {
			ID:     {type: "Integer", key: true}
			author: {association: "Authors"}
		}
		entity: Authors: {
			ID: {type: "Integer", key: true}
			books: {
				association: "Books"
				many:        true
				on: [{ref: "books.author"}, "=", {ref: "$self"}]
			}
		}
		view: BooksView: "Books"
	`)
	require.NoError(t, err)
	assert.Empty(t, ValidateModel(m))
}

func TestValidateModel_Errors(t *testing.T) {
	tests := []struct {
		name     string
		src      string
		wantCode string
		wantMsg  string
	}{
		{
			name:     "entity without key",
			src:      `entity: Logs: {msg: "String"}`,
			wantCode: ErrEntityNoKey,
			wantMsg:  "no key",
		},
		{
			name:     "element name is not an identifier",
			src:      `entity: People: {ID: {type: "Integer", key: true}, "first-name": "String"}`,
			wantCode: ErrInvalidName,
			wantMsg:  "first-name",
		},
		{
			name:     "virtual key",
			src:      `entity: People: {ID: {type: "Integer", key: true, virtual: true}, n: {type: "Integer", key: true}}`,
			wantCode: ErrVirtualKey,
			wantMsg:  "cannot be virtual",
		},
		{
			name:     "float key",
			src:      `entity: Points: {x: {type: "Double", key: true}}`,
			wantCode: ErrFloatKey,
			wantMsg:  "cds.Double",
		},
		{
			name: "association to a type",
			src: `
				type: Address: {street: "String"}
				entity: People: {
					ID:   {type: "Integer", key: true}
					home: {association: "Address", keys: ["street"]}
				}`,
			wantCode: ErrTargetNotEntity,
			wantMsg:  "not an entity",
		},
		{
			name: "on-condition ignores target",
			src: `entity: People: {
				ID: {type: "Integer", key: true}
				friends: {association: "People", many: true, on: [{ref: "ID"}, "=", {ref: "$self.ID"}]}
			}`,
			wantCode: ErrOnWithoutTarget,
			wantMsg:  "never references friends",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m, err := compile(t, tt.src)
			require.NoError(t, err)

			errs := ValidateModel(m)
			require.NotEmpty(t, errs)

			found := false
			for _, e := range errs {
				if e.Code == tt.wantCode {
					found = true
					assert.Contains(t, e.Error(), tt.wantMsg)
				}
			}
			assert.True(t, found, "expected error code %s, got %v", tt.wantCode, errs)
		})
	}
}

func TestValidateModel_CollectsAll(t *testing.T) {
	m, err := compile(t, `
		entity: Logs: {msg: "String"}
		entity: Points: {x: {type: "Double", key: true}}
	`)
	require.NoError(t, err)

	errs := ValidateModel(m)
	require.Len(t, errs, 2)
	assert.Equal(t, ErrEntityNoKey, errs[0].Code)
	assert.Equal(t, ErrFloatKey, errs[1].Code)
}
