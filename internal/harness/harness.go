package harness

import (
	"context"
	"fmt"
	"os"

	"github.com/sirupsen/logrus"

	"github.com/roach88/cqnlower/internal/compiler"
	"github.com/roach88/cqnlower/internal/cqn"
	"github.com/roach88/cqnlower/internal/csn"
	"github.com/roach88/cqnlower/internal/lower"
	"github.com/roach88/cqnlower/internal/querysql"
	"github.com/roach88/cqnlower/internal/store"
)

// Harness is the test execution engine.
type Harness struct {
	log logrus.FieldLogger
}

// Option configures a Harness.
type Option func(*Harness)

// WithLogger sets the logger used for lowering and execution.
func WithLogger(log logrus.FieldLogger) Option {
	return func(h *Harness) {
		h.log = log
	}
}

// New creates a harness.
func New(opts ...Option) *Harness {
	h := &Harness{log: logrus.StandardLogger()}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// Run executes a test scenario with a default harness.
func Run(scenario *Scenario) (*Result, error) {
	return New().Run(scenario)
}

// Run executes a test scenario and returns the result.
//
// Each scenario runs in a fresh in-memory database for isolation.
//
// Execution flow:
//  1. Load and compile the model
//  2. Decode and lower the query
//  3. Check the expect clause
//  4. Render SQL and run it against the seeded sandbox
//  5. Evaluate assertions
//
// The returned error reports a broken scenario (missing model, malformed
// query, unusable seed). Mismatches are reported in Result.Errors.
func (h *Harness) Run(scenario *Scenario) (*Result, error) {
	ctx := context.Background()
	log := h.log.WithField("scenario", scenario.Name)

	model, err := loadModel(scenario.Model)
	if err != nil {
		return nil, err
	}

	q, err := cqn.DecodeSelect(scenario.Query)
	if err != nil {
		return nil, fmt.Errorf("decode query: %w", err)
	}

	result := NewResult()
	result.Lowered, result.LowerError = lower.Lower(q, model, lower.WithLogger(log))

	expect := scenario.Expect
	if expect == nil {
		expect = &ExpectClause{}
	}
	if expect.Error != "" {
		checkExpectedError(result, expect.Error)
		return result, nil
	}
	if result.LowerError != nil {
		result.AddError(fmt.Sprintf("lowering failed: %v", result.LowerError))
		return result, nil
	}
	if expect.Lowered != nil {
		if err := checkLowered(result, expect.Lowered); err != nil {
			return nil, err
		}
	}

	c := querysql.NewSQLCompiler()
	c.Args = scenario.Args
	for k, v := range scenario.Bind {
		c.BoundValues[k] = v
	}
	result.SQL, result.Params, err = c.Compile(result.Lowered)
	if err != nil {
		result.AddError(fmt.Sprintf("render SQL: %v", err))
		return result, nil
	}
	if expect.SQL != "" && expect.SQL != result.SQL {
		result.AddError((&AssertionError{
			Type:     "expect.sql",
			Expected: expect.SQL,
			Actual:   result.SQL,
		}).Error())
	}

	rows, err := execute(ctx, model, scenario.Seed, result.SQL, result.Params)
	if err != nil {
		return nil, err
	}
	result.Rows = rows
	log.WithField("rows", len(rows.Values)).Debug("scenario executed")

	for _, msg := range EvaluateAssertions(result, scenario.Assertions) {
		result.AddError(msg)
	}
	return result, nil
}

func loadModel(dir string) (*csn.Model, error) {
	v, _, err := compiler.LoadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("load model: %w", err)
	}
	m, err := compiler.CompileModel(v)
	if err != nil {
		return nil, fmt.Errorf("compile model: %w", err)
	}
	return m, nil
}

func checkExpectedError(result *Result, kind string) {
	if result.LowerError == nil {
		result.AddError(fmt.Sprintf("expected %s, lowering succeeded", kind))
		return
	}
	if got := lower.KindOf(result.LowerError); string(got) != kind {
		result.AddError(fmt.Sprintf("expected %s, got %v", kind, result.LowerError))
	}
}

// checkLowered compares the lowered query with the expected one by their
// canonical JSON forms.
func checkLowered(result *Result, expected any) error {
	want, err := cqn.DecodeSelect(expected)
	if err != nil {
		return fmt.Errorf("decode expect.lowered: %w", err)
	}
	wantJSON, err := cqn.MarshalCanonical(want)
	if err != nil {
		return err
	}
	gotJSON, err := cqn.MarshalCanonical(result.Lowered)
	if err != nil {
		return err
	}
	if string(wantJSON) != string(gotJSON) {
		result.AddError((&AssertionError{
			Type:     "expect.lowered",
			Expected: string(wantJSON),
			Actual:   string(gotJSON),
		}).Error())
	}
	return nil
}

// execute creates the model's tables in a fresh in-memory database, loads
// the seed and runs the query.
func execute(ctx context.Context, m *csn.Model, seedPath, query string, params []any) (*store.Rows, error) {
	st, err := store.Open(":memory:")
	if err != nil {
		return nil, fmt.Errorf("failed to open store: %w", err)
	}
	defer st.Close()

	if err := st.CreateTables(ctx, m); err != nil {
		return nil, err
	}
	if seedPath != "" {
		data, err := os.ReadFile(seedPath)
		if err != nil {
			return nil, fmt.Errorf("read seed: %w", err)
		}
		seed, err := store.ParseSeed(data)
		if err != nil {
			return nil, err
		}
		if err := st.Seed(ctx, m, seed); err != nil {
			return nil, fmt.Errorf("seed: %w", err)
		}
	}

	rows, err := st.QueryRows(ctx, query, params...)
	if err != nil {
		return nil, fmt.Errorf("execute %s: %w", query, err)
	}
	return rows, nil
}
