package cli

import (
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/cqnlower/internal/store"
)

func TestCompileCommand_Text(t *testing.T) {
	out, err := execute(t, NewCompileCommand(&RootOptions{Format: "text"}), "testdata/model")
	require.NoError(t, err)

	assert.Contains(t, out, "✓ Compiled")
	assert.Contains(t, out, "bookshop.Books: bookshop_Books (ID, title, descr, stock, price, author_ID, coAuthor_ID, genre_ID, currency_code, dedication_text, dedication_date)")
	assert.Contains(t, out, "bookshop.BooksView: view of bookshop.Books")
}

func TestCompileCommand_JSON(t *testing.T) {
	out, err := execute(t, NewCompileCommand(&RootOptions{Format: "json"}), "testdata/model")
	require.NoError(t, err)

	var resp struct {
		Status string            `json:"status"`
		Data   CompilationResult `json:"data"`
	}
	require.NoError(t, json.Unmarshal([]byte(out), &resp))

	byName := map[string]EntitySummary{}
	for _, e := range resp.Data.Entities {
		byName[e.Name] = e
	}
	editions := byName["bookshop.Editions"]
	assert.Equal(t, []string{"book_ID", "version_major", "version_minor"}, editions.Keys)

	// Views come last so the tables they read exist
	last := resp.Data.DDL[len(resp.Data.DDL)-1]
	assert.True(t, strings.HasPrefix(last, "CREATE VIEW"), last)
}

func TestCompileCommand_Output(t *testing.T) {
	path := filepath.Join(t.TempDir(), "schema.sql")
	out, err := execute(t, NewCompileCommand(&RootOptions{Format: "text"}), "testdata/model", "-o", path)
	require.NoError(t, err)
	assert.Contains(t, out, "Wrote schema to "+path)

	data, err := os.ReadFile(path)
	require.NoError(t, err)

	// The script creates a usable database
	st, err := store.Open(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() })
	_, err = st.DB().Exec(string(data))
	require.NoError(t, err)

	rows, err := st.QueryRows(t.Context(), `SELECT count(*) AS n FROM bookshop_BooksView`)
	require.NoError(t, err)
	assert.Equal(t, [][]any{{int64(0)}}, rows.Values)
}

func TestCompileCommand_Errors(t *testing.T) {
	out, err := execute(t, NewCompileCommand(&RootOptions{Format: "text"}), "testdata/broken")
	require.Error(t, err)
	assert.Equal(t, ExitCommandError, GetExitCode(err))
	assert.Contains(t, out, "✗ Compilation failed")
	assert.Contains(t, out, ErrCodeLinkFailed)

	out, err = execute(t, NewCompileCommand(&RootOptions{Format: "json"}), "testdata/missing")
	require.Error(t, err)

	var resp CLIResponse
	require.NoError(t, json.Unmarshal([]byte(out), &resp))
	require.NotNil(t, resp.Error)
	assert.Equal(t, ErrCodeNotFound, resp.Error.Code)
}
