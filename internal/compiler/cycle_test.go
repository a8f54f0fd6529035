package compiler

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// TestAnalyzeCycles_DAG tests that a model without cycles produces no warnings.
func TestAnalyzeCycles_DAG(t *testing.T) {
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
	`)
	require.NoError(t, err)

	warnings := AnalyzeCycles(m)
	assert.Empty(t, warnings, "backlinks are not edges")
	assert.NotNil(t, warnings)
}

// TestAnalyzeCycles_SelfLoop tests hierarchies are reported at info level.
func TestAnalyzeCycles_SelfLoop(t *testing.T) {
	m, err := compile(t, `
		entity: Genres: {
			ID:     {type: "Integer", key: true}
			parent: {association: "Genres"}
		}
	`)
	require.NoError(t, err)

	warnings := AnalyzeCycles(m)
	require.Len(t, warnings, 1)
	assert.Equal(t, []string{"Genres", "Genres"}, warnings[0].Path)
	assert.Equal(t, "info", warnings[0].Level)
	assert.Contains(t, warnings[0].Message, "Self-referencing")
}

// TestAnalyzeCycles_MutualReference tests a two-entity cycle through a
// structured element.
func TestAnalyzeCycles_MutualReference(t *testing.T) {
	m, err := compile(t, `
		entity: Employees: {
			ID:   {type: "Integer", key: true}
			work: {elements: {department: {association: "Departments"}}}
		}
		entity: Departments: {
			ID:   {type: "Integer", key: true}
			head: {association: "Employees"}
		}
		entity: Rooms: {
			ID:         {type: "Integer", key: true}
			department: {association: "Departments"}
		}
	`)
	require.NoError(t, err)

	warnings := AnalyzeCycles(m)
	require.Len(t, warnings, 1)
	assert.Equal(t, "warning", warnings[0].Level)
	assert.Equal(t, []string{"Employees", "Departments", "Employees"}, warnings[0].Path)
	assert.Contains(t, warnings[0].Message, "Employees → Departments → Employees")
}
