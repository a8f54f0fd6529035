package harness

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"
)

// Scenario defines a conformance test scenario.
// A scenario lowers one query against one model and asserts on the
// lowered query, the rendered SQL and the rows it returns.
type Scenario struct {
	// Name uniquely identifies this scenario.
	Name string `yaml:"name"`

	// Description explains what this scenario validates.
	Description string `yaml:"description"`

	// Model is the directory holding the CUE model.
	// Relative paths are resolved against the scenario file location.
	Model string `yaml:"model"`

	// Seed is an optional YAML file of rows keyed by entity name.
	Seed string `yaml:"seed,omitempty"`

	// Query is the query in CQN shape, with or without the SELECT wrapper.
	Query any `yaml:"query"`

	// Args are values for positional parameters, in order.
	Args []any `yaml:"args,omitempty"`

	// Bind holds values for named parameters.
	Bind map[string]any `yaml:"bind,omitempty"`

	// Expect specifies the expected lowering outcome.
	// If nil, lowering is only required to succeed.
	Expect *ExpectClause `yaml:"expect,omitempty"`

	// Assertions validate the SQL and the returned rows.
	// Supported types: sql_contains, join_order, row_count, row
	Assertions []Assertion `yaml:"assertions,omitempty"`
}

// ExpectClause specifies expected lowering behavior.
type ExpectClause struct {
	// Error is the expected error kind (e.g. "ReferenceError").
	// When set, the other fields must be empty.
	Error string `yaml:"error,omitempty"`

	// Lowered is the exact expected lowered query in CQN shape.
	// Compared structurally after decoding.
	Lowered any `yaml:"lowered,omitempty"`

	// SQL is the exact expected SQL text.
	SQL string `yaml:"sql,omitempty"`
}

// Assertion validates the rendered SQL or the query result.
type Assertion struct {
	// Type specifies the assertion type:
	// - "sql_contains": Check the SQL contains Text
	// - "join_order": Check FROM aliases appear in order
	// - "row_count": Check the query returns exactly Count rows
	// - "row": Find the row matching Where and verify Expect
	Type string `yaml:"type"`

	// Text is the expected SQL fragment (used by sql_contains).
	Text string `yaml:"text,omitempty"`

	// Aliases is the expected alias order (used by join_order).
	Aliases []string `yaml:"aliases,omitempty"`

	// Count is the expected number of rows (used by row_count).
	Count int `yaml:"count,omitempty"`

	// Where selects the row by column values (used by row).
	// All fields must match exactly.
	Where map[string]any `yaml:"where,omitempty"`

	// Expect contains expected column values (used by row).
	// Subset match - only specified columns are validated.
	Expect map[string]any `yaml:"expect,omitempty"`
}

// Assertion type constants.
const (
	AssertSQLContains = "sql_contains"
	AssertJoinOrder   = "join_order"
	AssertRowCount    = "row_count"
	AssertRow         = "row"
)

// LoadScenario reads and parses a scenario YAML file. Model and seed
// paths are resolved against the directory of the file.
// Returns an error if the file doesn't exist, is malformed,
// contains unknown fields (typos), or is missing required fields.
func LoadScenario(path string) (*Scenario, error) {
	return LoadScenarioWithBasePath(path, filepath.Dir(path))
}

// LoadScenarioWithBasePath reads and parses a scenario YAML file,
// resolving model and seed paths relative to the provided base path.
func LoadScenarioWithBasePath(path, basePath string) (*Scenario, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read scenario file: %w", err)
	}

	scenario, err := ParseScenario(data)
	if err != nil {
		return nil, err
	}

	// Resolve paths relative to base path BEFORE validation
	scenario.Model = resolvePath(basePath, scenario.Model)
	scenario.Seed = resolvePath(basePath, scenario.Seed)

	if err := validatePaths(scenario); err != nil {
		return nil, fmt.Errorf("invalid scenario: %w", err)
	}
	return scenario, nil
}

// ParseScenario parses scenario YAML without touching the file system.
func ParseScenario(data []byte) (*Scenario, error) {
	// Strict field validation catches typos like "assertion:" vs "assertions:"
	var scenario Scenario
	decoder := yaml.NewDecoder(bytes.NewReader(data))
	decoder.KnownFields(true)
	if err := decoder.Decode(&scenario); err != nil {
		return nil, fmt.Errorf("failed to parse YAML: %w", err)
	}

	if err := validateScenario(&scenario); err != nil {
		return nil, fmt.Errorf("invalid scenario: %w", err)
	}
	return &scenario, nil
}

func resolvePath(base, p string) string {
	if p == "" || filepath.IsAbs(p) || base == "" {
		return p
	}
	return filepath.Join(base, p)
}

// validateScenario checks that required fields are present and valid.
func validateScenario(s *Scenario) error {
	if s.Name == "" {
		return fmt.Errorf("name is required")
	}

	if s.Description == "" {
		return fmt.Errorf("description is required")
	}

	if s.Model == "" {
		return fmt.Errorf("model directory is required")
	}

	if s.Query == nil {
		return fmt.Errorf("query is required")
	}

	if s.Expect == nil && len(s.Assertions) == 0 {
		return fmt.Errorf("expect or assertions is required")
	}

	if e := s.Expect; e != nil && e.Error != "" {
		if e.Lowered != nil || e.SQL != "" {
			return fmt.Errorf("expect: error excludes lowered and sql")
		}
		if len(s.Assertions) > 0 {
			return fmt.Errorf("assertions cannot run when an error is expected")
		}
	}

	for i, assertion := range s.Assertions {
		if err := validateAssertion(i, &assertion); err != nil {
			return err
		}
	}

	return nil
}

// validatePaths checks that referenced files exist.
func validatePaths(s *Scenario) error {
	if info, err := os.Stat(s.Model); err != nil || !info.IsDir() {
		return fmt.Errorf("model directory not found: %s", s.Model)
	}
	if s.Seed != "" {
		if _, err := os.Stat(s.Seed); os.IsNotExist(err) {
			return fmt.Errorf("seed file not found: %s", s.Seed)
		}
	}
	return nil
}

// validateAssertion validates a single assertion based on its type.
func validateAssertion(index int, a *Assertion) error {
	if a.Type == "" {
		return fmt.Errorf("assertions[%d]: type is required", index)
	}

	switch a.Type {
	case AssertSQLContains:
		if a.Text == "" {
			return fmt.Errorf("assertions[%d]: text is required for sql_contains", index)
		}
	case AssertJoinOrder:
		if len(a.Aliases) == 0 {
			return fmt.Errorf("assertions[%d]: aliases list is required for join_order", index)
		}
	case AssertRowCount:
		if a.Count < 0 {
			return fmt.Errorf("assertions[%d]: count must be non-negative for row_count", index)
		}
	case AssertRow:
		if len(a.Expect) == 0 {
			return fmt.Errorf("assertions[%d]: expect is required for row", index)
		}
	default:
		return fmt.Errorf("assertions[%d]: unknown assertion type %q", index, a.Type)
	}

	return nil
}
