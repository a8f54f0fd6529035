package cli

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTestCommand_Pass(t *testing.T) {
	out, err := execute(t, NewTestCommand(&RootOptions{Format: "text"}), "testdata/scenarios")
	require.NoError(t, err, out)

	assert.Contains(t, out, "✓ reviewed")
	assert.Contains(t, out, "✓ unknown")
	assert.Contains(t, out, "Test Summary: 2 passed, 0 failed, 2 total")
}

func TestTestCommand_Filter(t *testing.T) {
	out, err := execute(t, NewTestCommand(&RootOptions{Format: "json"}), "testdata/scenarios", "--filter", "unk*")
	require.NoError(t, err)

	var resp struct {
		Data TestResult `json:"data"`
	}
	require.NoError(t, json.Unmarshal([]byte(out), &resp))
	assert.Equal(t, 1, resp.Data.Total)
	assert.Equal(t, "unknown", resp.Data.Scenarios[0].Name)
}

func TestTestCommand_MissingDir(t *testing.T) {
	_, err := execute(t, NewTestCommand(&RootOptions{Format: "text"}), "testdata/nope")
	require.Error(t, err)
	assert.Equal(t, ExitCommandError, GetExitCode(err))
}

// copyScenarios copies the reviewed scenario into a temp dir next to
// its model and seed.
func copyScenarios(t *testing.T, golden string) string {
	t.Helper()
	root := t.TempDir()
	dir := filepath.Join(root, "scenarios")
	require.NoError(t, os.MkdirAll(filepath.Join(dir, "golden"), 0755))
	require.NoError(t, os.MkdirAll(filepath.Join(root, "model"), 0755))

	copyFile := func(src, dst string) {
		data, err := os.ReadFile(src)
		require.NoError(t, err)
		require.NoError(t, os.WriteFile(dst, data, 0644))
	}
	copyFile("testdata/model/bookshop.cue", filepath.Join(root, "model", "bookshop.cue"))
	copyFile("testdata/seed.yaml", filepath.Join(root, "seed.yaml"))
	copyFile("testdata/scenarios/reviewed.yaml", filepath.Join(dir, "reviewed.yaml"))
	if golden != "" {
		require.NoError(t, os.WriteFile(filepath.Join(dir, "golden", "reviewed.golden"), []byte(golden), 0644))
	}
	return dir
}

func TestTestCommand_GoldenMismatch(t *testing.T) {
	dir := copyScenarios(t, `{"scenario_name":"reviewed"}`)

	out, err := execute(t, NewTestCommand(&RootOptions{Format: "text"}), dir)
	require.Error(t, err)
	assert.Equal(t, ExitFailure, GetExitCode(err))
	assert.Contains(t, out, "Golden file mismatch")
}

func TestTestCommand_Update(t *testing.T) {
	dir := copyScenarios(t, `{"scenario_name":"reviewed"}`)

	out, err := execute(t, NewTestCommand(&RootOptions{Format: "text"}), dir, "--update")
	require.NoError(t, err)
	assert.Contains(t, out, "✓ reviewed (golden updated)")

	got, err := os.ReadFile(filepath.Join(dir, "golden", "reviewed.golden"))
	require.NoError(t, err)
	want, err := os.ReadFile("testdata/scenarios/golden/reviewed.golden")
	require.NoError(t, err)
	assert.Equal(t, string(want), string(got))

	_, err = execute(t, NewTestCommand(&RootOptions{Format: "text"}), dir)
	require.NoError(t, err)
}
