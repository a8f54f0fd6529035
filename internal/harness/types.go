package harness

import (
	"github.com/roach88/cqnlower/internal/cqn"
	"github.com/roach88/cqnlower/internal/store"
)

// Result is the outcome of a test scenario execution.
type Result struct {
	// Pass indicates overall test success.
	// True if the expect clause and all assertions match.
	Pass bool `json:"pass"`

	// Errors contains validation error messages.
	// Empty if Pass is true.
	Errors []string `json:"errors,omitempty"`

	// Lowered is the lowered query. Nil if lowering failed.
	Lowered *cqn.Select `json:"-"`

	// LowerError is the lowering error, if any.
	LowerError error `json:"-"`

	// SQL and Params are the rendered query.
	SQL    string `json:"sql,omitempty"`
	Params []any  `json:"params,omitempty"`

	// Rows is the query result from the sandbox.
	Rows *store.Rows `json:"-"`
}

// NewResult creates a new passing result.
// Used as the starting point for test execution.
func NewResult() *Result {
	return &Result{
		Pass:   true,
		Errors: []string{},
	}
}

// AddError adds a validation error and marks the result as failed.
func (r *Result) AddError(err string) {
	r.Errors = append(r.Errors, err)
	r.Pass = false
}
