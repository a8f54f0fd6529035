package compiler

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeFiles(t *testing.T, files map[string]string) string {
	t.Helper()
	dir := t.TempDir()
	for name, content := range files {
		require.NoError(t, os.WriteFile(filepath.Join(dir, name), []byte(content), 0o644))
	}
	return dir
}

func TestLoadDir_UnifiesFiles(t *testing.T) {
	dir := writeFiles(t, map[string]string{
		"types.cue": `
namespace: "shop"
type: Address: {street: "String", city: "String"}
`,
		"entities.cue": `
entity: Authors: {
	ID:      {type: "Integer", key: true}
	address: "Address"
}
`,
		"README.md": "not a model",
	})

	v, n, err := LoadDir(dir)
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	m, err := CompileModel(v)
	require.NoError(t, err)
	authors, ok := m.Definition("shop.Authors")
	require.True(t, ok)
	_, ok = authors.Column("address_city")
	assert.True(t, ok)
}

func TestLoadDir_Errors(t *testing.T) {
	t.Run("no files", func(t *testing.T) {
		_, _, err := LoadDir(t.TempDir())
		assert.ErrorContains(t, err, "no CUE files")
	})

	t.Run("missing directory", func(t *testing.T) {
		_, _, err := LoadDir(filepath.Join(t.TempDir(), "missing"))
		assert.Error(t, err)
	})

	t.Run("syntax error", func(t *testing.T) {
		dir := writeFiles(t, map[string]string{"bad.cue": "entity: {"})
		_, _, err := LoadDir(dir)
		assert.Error(t, err)
	})
}
