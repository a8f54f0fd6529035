package harness

import (
	"testing"

	"github.com/sebdah/goldie/v2"

	"github.com/roach88/cqnlower/internal/cqn"
)

// Snapshot captures the observable outcome of a scenario.
// All fields use canonical JSON serialization for deterministic comparison.
type Snapshot struct {
	ScenarioName string
	SQL          string
	Params       []any
	Columns      []string
	Rows         [][]any
}

// NewSnapshot builds the snapshot of a result.
func NewSnapshot(name string, result *Result) Snapshot {
	s := Snapshot{ScenarioName: name, SQL: result.SQL, Params: result.Params}
	if result.Rows != nil {
		s.Columns = result.Rows.Columns
		s.Rows = result.Rows.Values
	}
	return s
}

// toCanonicalMap converts a Snapshot to a map[string]any for canonical JSON serialization.
func (s *Snapshot) toCanonicalMap() map[string]any {
	columns := make([]any, len(s.Columns))
	for i, c := range s.Columns {
		columns[i] = c
	}
	rows := make([]any, len(s.Rows))
	for i, r := range s.Rows {
		rows[i] = append([]any{}, r...)
	}
	params := append([]any{}, s.Params...)

	return map[string]any{
		"scenario_name": s.ScenarioName,
		"sql":           s.SQL,
		"params":        params,
		"columns":       columns,
		"rows":          rows,
	}
}

// MarshalCanonical returns the canonical JSON of the snapshot.
func (s *Snapshot) MarshalCanonical() ([]byte, error) {
	return cqn.MarshalCanonical(s.toCanonicalMap())
}

// RunWithGolden executes a scenario and compares its snapshot against a
// golden file. The golden file is stored in testdata/golden/{scenario.Name}.golden
//
// To regenerate golden files, run:
//
//	go test ./internal/harness -update
//
// Returns error if scenario execution fails.
// Test failure (via goldie) occurs if the snapshot doesn't match the golden file.
func RunWithGolden(t *testing.T, scenario *Scenario) error {
	t.Helper()

	result, err := Run(scenario)
	if err != nil {
		return err
	}
	return AssertGolden(t, scenario.Name, result)
}

// AssertGolden compares the given result against a golden file without
// re-running the scenario.
func AssertGolden(t *testing.T, scenarioName string, result *Result) error {
	t.Helper()

	snapshot := NewSnapshot(scenarioName, result)
	data, err := snapshot.MarshalCanonical()
	if err != nil {
		return err
	}

	g := goldie.New(t,
		goldie.WithFixtureDir("testdata/golden"),
		goldie.WithNameSuffix(".golden"),
	)
	g.Assert(t, scenarioName, data)

	return nil
}
