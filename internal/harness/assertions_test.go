package harness

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/cqnlower/internal/cqn"
	"github.com/roach88/cqnlower/internal/store"
)

func sampleResult() *Result {
	r := NewResult()
	r.Lowered = &cqn.Select{
		From: &cqn.Join{
			Kind: "left",
			Left: &cqn.Join{
				Kind:  "left",
				Left:  &cqn.TableRef{Ref: cqn.NewRef("bookshop.Books"), As: "Books"},
				Right: &cqn.TableRef{Ref: cqn.NewRef("bookshop.Authors"), As: "author"},
			},
			Right: &cqn.TableRef{Ref: cqn.NewRef("bookshop.Genres"), As: "genre"},
		},
	}
	r.SQL = "SELECT Books.title FROM bookshop_Books AS Books LEFT JOIN bookshop_Authors AS author"
	r.Rows = &store.Rows{
		Columns: []string{"ID", "title", "stock", "price", "descr"},
		Values: [][]any{
			{int64(201), "Wuthering Heights", int64(12), 11.11, nil},
			{int64(207), "Jane Eyre", int64(11), 12.34, "Reader, I married him"},
			{int64(251), "The Raven", int64(333), float64(13), nil},
		},
	}
	return r
}

func TestAssertSQLContains(t *testing.T) {
	r := sampleResult()
	assert.NoError(t, assertSQLContains(r, Assertion{Text: "LEFT JOIN bookshop_Authors"}))

	err := assertSQLContains(r, Assertion{Text: "INNER JOIN"})
	require.Error(t, err)
	var ae *AssertionError
	require.ErrorAs(t, err, &ae)
	assert.Equal(t, AssertSQLContains, ae.Type)
	assert.Contains(t, err.Error(), "SQL:\n  SELECT Books.title")
}

func TestAssertJoinOrder(t *testing.T) {
	r := sampleResult()

	assert.Equal(t, []string{"Books", "author", "genre"}, SourceAliases(r.Lowered.From))
	assert.NoError(t, assertJoinOrder(r, Assertion{Aliases: []string{"Books", "genre"}}))

	err := assertJoinOrder(r, Assertion{Aliases: []string{"genre", "author"}})
	assert.ErrorContains(t, err, "genre (pos 3) should be before author (pos 2)")

	err = assertJoinOrder(r, Assertion{Aliases: []string{"Books", "currency"}})
	assert.ErrorContains(t, err, "missing alias currency")
}

func TestAssertRowCount(t *testing.T) {
	r := sampleResult()
	assert.NoError(t, assertRowCount(r, Assertion{Count: 3}))
	assert.ErrorContains(t, assertRowCount(r, Assertion{Count: 2}), "Actual: 3 rows")

	r.Rows = nil
	assert.NoError(t, assertRowCount(r, Assertion{Count: 0}))
}

func TestAssertRow(t *testing.T) {
	r := sampleResult()

	t.Run("match", func(t *testing.T) {
		err := assertRow(r, Assertion{
			Where:  map[string]any{"ID": 207},
			Expect: map[string]any{"title": "Jane Eyre", "stock": 11, "price": 12.34},
		})
		assert.NoError(t, err)
	})

	t.Run("null and integral float", func(t *testing.T) {
		err := assertRow(r, Assertion{
			Where:  map[string]any{"title": "The Raven"},
			Expect: map[string]any{"descr": nil, "price": 13},
		})
		assert.NoError(t, err)
	})

	t.Run("value mismatch", func(t *testing.T) {
		err := assertRow(r, Assertion{
			Where:  map[string]any{"ID": 201},
			Expect: map[string]any{"stock": 13},
		})
		assert.ErrorContains(t, err, `column "stock" = 13`)
	})

	t.Run("missing column", func(t *testing.T) {
		err := assertRow(r, Assertion{
			Where:  map[string]any{"ID": 201},
			Expect: map[string]any{"author_name": "Emily Bronte"},
		})
		assert.ErrorContains(t, err, `column "author_name" not present`)
	})

	t.Run("no match", func(t *testing.T) {
		err := assertRow(r, Assertion{
			Where:  map[string]any{"ID": 999},
			Expect: map[string]any{"title": "x"},
		})
		assert.ErrorContains(t, err, "row not found")
	})

	t.Run("ambiguous", func(t *testing.T) {
		err := assertRow(r, Assertion{
			Where:  map[string]any{"descr": nil},
			Expect: map[string]any{"title": "x"},
		})
		assert.ErrorContains(t, err, "2 rows matched")
	})
}

func TestValuesEqual(t *testing.T) {
	testCases := []struct {
		name     string
		expected any
		actual   any
		want     bool
	}{
		{"both nil", nil, nil, true},
		{"nil vs value", nil, int64(0), false},
		{"string", "a", "a", true},
		{"string vs int", "1", int64(1), false},
		{"int vs int64", 5, int64(5), true},
		{"int vs float64", 5, float64(5), true},
		{"int mismatch", 5, int64(6), false},
		{"float", 1.5, 1.5, true},
		{"bool stored as integer", true, int64(1), true},
		{"false stored as integer", false, int64(0), true},
		{"bool mismatch", true, int64(0), false},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, valuesEqual(tc.expected, tc.actual))
		})
	}
}

func TestEvaluateAssertions(t *testing.T) {
	r := sampleResult()
	errs := EvaluateAssertions(r, []Assertion{
		{Type: AssertRowCount, Count: 3},
		{Type: AssertSQLContains, Text: "GROUP BY"},
		{Type: "unknown"},
	})
	require.Len(t, errs, 2)
	assert.Contains(t, errs[0], "sql_contains")
	assert.Contains(t, errs[1], `unknown assertion type "unknown"`)
}
