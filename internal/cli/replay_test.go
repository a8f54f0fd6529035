package cli

import (
	"encoding/json"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/cqnlower/internal/store"
)

// seededDB runs the reviewed query once against a fresh database file.
func seededDB(t *testing.T) string {
	t.Helper()
	db := filepath.Join(t.TempDir(), "shop.db")
	_, err := execute(t, NewRunCommand(&RootOptions{Format: "text"}),
		"--db", db, "testdata/model", "testdata/queries/reviewed.yaml", "--seed", "testdata/seed.yaml")
	require.NoError(t, err)
	return db
}

func TestReplayCommand_Empty(t *testing.T) {
	db := filepath.Join(t.TempDir(), "empty.db")
	out, err := execute(t, NewReplayCommand(&RootOptions{Format: "text"}), "--db", db)
	require.NoError(t, err)
	assert.Contains(t, out, "No queries found in database.")
}

func TestReplayCommand_RequiresDB(t *testing.T) {
	_, err := execute(t, NewReplayCommand(&RootOptions{Format: "text"}))
	assert.Error(t, err)
}

func TestReplayCommand_Stable(t *testing.T) {
	db := seededDB(t)

	out, err := execute(t, NewReplayCommand(&RootOptions{Format: "text"}), "--db", db)
	require.NoError(t, err)
	assert.Contains(t, out, "Replay Summary: 1 query(s)")
	assert.Contains(t, out, "Rows: 2")
	assert.Contains(t, out, "✓ All queries return their recorded row counts")
}

func TestReplayCommand_Changed(t *testing.T) {
	db := seededDB(t)

	st, err := store.Open(db)
	require.NoError(t, err)
	_, err = st.DB().Exec(`DELETE FROM bookshop_Reviews WHERE ID = 3`)
	require.NoError(t, err)
	require.NoError(t, st.Close())

	out, err := execute(t, NewReplayCommand(&RootOptions{Format: "text"}), "--db", db)
	require.Error(t, err)
	assert.Equal(t, ExitFailure, GetExitCode(err))
	assert.Contains(t, out, "Rows: 2 recorded, 1 now")

	out, err = execute(t, NewReplayCommand(&RootOptions{Format: "json"}), "--db", db)
	require.Error(t, err)

	var resp struct {
		Status string       `json:"status"`
		Data   ReplayResult `json:"data"`
	}
	require.NoError(t, json.Unmarshal([]byte(out), &resp))
	assert.Equal(t, "error", resp.Status)
	assert.False(t, resp.Data.AllStable)
	require.Len(t, resp.Data.Queries, 1)
	assert.Equal(t, 1, resp.Data.Queries[0].Got)
}
