package harness

import (
	"fmt"
	"reflect"
	"sort"
	"strings"

	"github.com/spf13/cast"

	"github.com/roach88/cqnlower/internal/cqn"
)

// AssertionError is returned when an assertion fails.
// It includes the SQL under test to help debug the failure.
type AssertionError struct {
	Type     string // Assertion type for categorization
	Expected string // Human-readable expected outcome
	Actual   string // Human-readable actual outcome
	SQL      string // Rendered query for context
}

// Error implements the error interface.
func (e *AssertionError) Error() string {
	var buf strings.Builder

	fmt.Fprintf(&buf, "Assertion failed: %s\n", e.Type)
	fmt.Fprintf(&buf, "  Expected: %s\n", e.Expected)
	fmt.Fprintf(&buf, "  Actual: %s\n", e.Actual)
	if e.SQL != "" {
		fmt.Fprintf(&buf, "\nSQL:\n  %s\n", e.SQL)
	}

	return buf.String()
}

// assertSQLContains checks if the rendered SQL contains the fragment.
func assertSQLContains(result *Result, assertion Assertion) error {
	if strings.Contains(result.SQL, assertion.Text) {
		return nil
	}
	return &AssertionError{
		Type:     AssertSQLContains,
		Expected: fmt.Sprintf("SQL containing %q", assertion.Text),
		Actual:   "not found",
		SQL:      result.SQL,
	}
}

// assertJoinOrder checks that the aliases appear in the FROM clause of the
// lowered query in the given order. Aliases don't need to be adjacent.
func assertJoinOrder(result *Result, assertion Assertion) error {
	var aliases []string
	if result.Lowered != nil {
		aliases = SourceAliases(result.Lowered.From)
	}

	positions := make(map[string]int)
	for i, alias := range aliases {
		if _, seen := positions[alias]; !seen {
			positions[alias] = i + 1 // 1-indexed for readability
		}
	}

	for _, alias := range assertion.Aliases {
		if positions[alias] == 0 {
			return &AssertionError{
				Type:     AssertJoinOrder,
				Expected: fmt.Sprintf("all aliases present: %v", assertion.Aliases),
				Actual:   fmt.Sprintf("missing alias %s in %v", alias, aliases),
				SQL:      result.SQL,
			}
		}
	}

	for i := 1; i < len(assertion.Aliases); i++ {
		prev := assertion.Aliases[i-1]
		curr := assertion.Aliases[i]
		if positions[prev] >= positions[curr] {
			return &AssertionError{
				Type:     AssertJoinOrder,
				Expected: fmt.Sprintf("aliases in order: %v", assertion.Aliases),
				Actual: fmt.Sprintf("%s (pos %d) should be before %s (pos %d)",
					prev, positions[prev], curr, positions[curr]),
				SQL: result.SQL,
			}
		}
	}

	return nil
}

// SourceAliases lists the aliases of a FROM clause left to right.
func SourceAliases(src cqn.Source) []string {
	switch s := src.(type) {
	case *cqn.TableRef:
		return []string{s.As}
	case *cqn.SubSelect:
		return []string{s.As}
	case *cqn.Join:
		return append(SourceAliases(s.Left), SourceAliases(s.Right)...)
	default:
		return nil
	}
}

// assertRowCount checks the query returned exactly the specified number of rows.
func assertRowCount(result *Result, assertion Assertion) error {
	count := 0
	if result.Rows != nil {
		count = len(result.Rows.Values)
	}
	if count != assertion.Count {
		return &AssertionError{
			Type:     AssertRowCount,
			Expected: fmt.Sprintf("%d rows", assertion.Count),
			Actual:   fmt.Sprintf("%d rows", count),
			SQL:      result.SQL,
		}
	}
	return nil
}

// assertRow finds the single row matching Where and validates the expected
// values using subset semantics.
func assertRow(result *Result, assertion Assertion) error {
	if result.Rows == nil {
		return &AssertionError{
			Type:     AssertRow,
			Expected: "query result",
			Actual:   "query was not executed",
			SQL:      result.SQL,
		}
	}

	whereDesc := formatWhereClause(assertion.Where)
	var matched []map[string]any
	for _, row := range result.Rows.Maps() {
		if rowMatches(row, assertion.Where) {
			matched = append(matched, row)
		}
	}

	switch len(matched) {
	case 0:
		return &AssertionError{
			Type:     AssertRow,
			Expected: fmt.Sprintf("row where %s", whereDesc),
			Actual:   "row not found",
			SQL:      result.SQL,
		}
	case 1:
	default:
		return &AssertionError{
			Type:     AssertRow,
			Expected: fmt.Sprintf("exactly one row where %s", whereDesc),
			Actual:   fmt.Sprintf("%d rows matched (assertion is ambiguous)", len(matched)),
			SQL:      result.SQL,
		}
	}

	actualRow := matched[0]
	for _, key := range sortedKeys(assertion.Expect) {
		expectedValue := assertion.Expect[key]
		actualValue, exists := actualRow[key]
		if !exists {
			return &AssertionError{
				Type:     AssertRow,
				Expected: fmt.Sprintf("column %q to exist", key),
				Actual:   fmt.Sprintf("column %q not present in result columns: %v", key, result.Rows.Columns),
				SQL:      result.SQL,
			}
		}
		if !valuesEqual(expectedValue, actualValue) {
			return &AssertionError{
				Type:     AssertRow,
				Expected: fmt.Sprintf("column %q = %v (type %T)", key, expectedValue, expectedValue),
				Actual:   fmt.Sprintf("column %q = %v (type %T)", key, actualValue, actualValue),
				SQL:      result.SQL,
			}
		}
	}

	return nil
}

func rowMatches(row, where map[string]any) bool {
	for key, want := range where {
		got, ok := row[key]
		if !ok || !valuesEqual(want, got) {
			return false
		}
	}
	return true
}

// formatWhereClause creates a human-readable description of row conditions.
func formatWhereClause(where map[string]any) string {
	if len(where) == 0 {
		return "(no conditions)"
	}
	keys := sortedKeys(where)
	parts := make([]string, 0, len(keys))
	for _, k := range keys {
		parts = append(parts, fmt.Sprintf("%s=%v", k, where[k]))
	}
	return strings.Join(parts, " AND ")
}

func sortedKeys(m map[string]any) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// valuesEqual compares an expected scenario value with a value read from
// SQLite. SQLite returns int64, float64, string or nil, and stores
// booleans as integers, so scalars are compared after coercion.
func valuesEqual(expected, actual any) bool {
	if expected == nil || actual == nil {
		return expected == nil && actual == nil
	}

	switch exp := expected.(type) {
	case string:
		act, ok := actual.(string)
		return ok && exp == act
	case bool:
		act, err := cast.ToBoolE(actual)
		return err == nil && exp == act
	case int, int32, int64:
		switch actual.(type) {
		case int64, int:
			return cast.ToInt64(exp) == cast.ToInt64(actual)
		case float64:
			return cast.ToFloat64(exp) == actual
		}
		return false
	case float64:
		act, err := cast.ToFloat64E(actual)
		return err == nil && exp == act
	}

	return reflect.DeepEqual(expected, actual)
}

// EvaluateAssertions evaluates all assertions against the result.
// Returns a slice of error messages for failed assertions.
func EvaluateAssertions(result *Result, assertions []Assertion) []string {
	var errors []string

	for i, assertion := range assertions {
		var err error

		switch assertion.Type {
		case AssertSQLContains:
			err = assertSQLContains(result, assertion)
		case AssertJoinOrder:
			err = assertJoinOrder(result, assertion)
		case AssertRowCount:
			err = assertRowCount(result, assertion)
		case AssertRow:
			err = assertRow(result, assertion)
		default:
			err = fmt.Errorf("assertion[%d]: unknown assertion type %q", i, assertion.Type)
		}

		if err != nil {
			errors = append(errors, err.Error())
		}
	}

	return errors
}
