package cqn

import "strings"

// Expr is a token of a query expression.
//
// This is a sealed interface - only types in this package implement it.
// Operands (Ref, Val, Func, Param, Xpr, List, SubQuery) and operator
// tokens (Op) share the interface because conditions are token lists.
type Expr interface {
	exprNode() // Marker method - seals interface to this package
}

// Source is an entry of a FROM clause.
//
// Source types:
//   - TableRef: an entity (or scoped path) with an alias
//   - Join: two sources combined with an on-condition
//   - SubSelect: a nested query with an alias
type Source interface {
	sourceNode() // Marker method - seals interface to this package
}

// Op is an operator or keyword token such as "=", "and", "not", "exists",
// "case", "when", "then", "else", "end", "is", "in", "like".
type Op string

func (Op) exprNode() {}

// Common operator tokens.
const (
	OpAnd    Op = "and"
	OpOr     Op = "or"
	OpNot    Op = "not"
	OpExists Op = "exists"
	OpEq     Op = "="
	OpIs     Op = "is"
)

// Step is one segment of a reference path.
//
// Where is the infix filter attached to the step. OrderBy and Limit are
// query modifiers that only apply when the step is the target of an
// expand.
type Step struct {
	ID      string
	Where   []Expr
	OrderBy []OrderItem
	Limit   *Limit
}

// HasModifiers reports whether the step carries a filter or query modifiers.
func (s Step) HasModifiers() bool {
	return len(s.Where) > 0 || len(s.OrderBy) > 0 || s.Limit != nil
}

// Ref is a path reference, e.g. author.name or Books.author_ID.
type Ref struct {
	Steps []Step
}

func (*Ref) exprNode() {}

// NewRef builds a filter-free reference from plain step names.
func NewRef(ids ...string) *Ref {
	steps := make([]Step, len(ids))
	for i, id := range ids {
		steps[i] = Step{ID: id}
	}
	return &Ref{Steps: steps}
}

// IDs returns the step names of the reference.
func (r *Ref) IDs() []string {
	ids := make([]string, len(r.Steps))
	for i, s := range r.Steps {
		ids[i] = s.ID
	}
	return ids
}

// String returns the dotted path, e.g. "author.name".
func (r *Ref) String() string {
	return strings.Join(r.IDs(), ".")
}

// Val is a literal value. A nil Value is SQL NULL.
type Val struct {
	Value any
}

func (*Val) exprNode() {}

// IsNull reports whether the literal is NULL.
func (v *Val) IsNull() bool {
	return v.Value == nil
}

// Param is a bind parameter placeholder.
type Param struct {
	Name string // "?" for positional parameters
}

func (*Param) exprNode() {}

// Func is a function call, e.g. count(ID).
type Func struct {
	Name string
	Args []Expr
}

func (*Func) exprNode() {}

// Xpr is a parenthesised token list.
type Xpr struct {
	Tokens []Expr
}

func (*Xpr) exprNode() {}

// List is a value list, e.g. the right-hand side of "in".
type List struct {
	Items []Expr
}

func (*List) exprNode() {}

// SubQuery embeds a query in an expression (exists, in, expand columns).
type SubQuery struct {
	Select *Select
}

func (*SubQuery) exprNode() {}

// OrderItem is one ORDER BY entry.
type OrderItem struct {
	Expr  Expr
	Sort  string // "asc", "desc" or empty
	Nulls string // "first", "last" or empty
}

// Limit holds LIMIT / OFFSET expressions.
type Limit struct {
	Rows   Expr
	Offset Expr
}

// Column is one entry of a select list.
//
// A column is either the wildcard, an expression with an optional alias,
// or an expression carrying a nested projection. Expand and Inline are
// non-nil only when the column has a nested projection; OrderBy and Limit
// apply to expand subqueries.
type Column struct {
	Expr     Expr
	As       string
	Wildcard bool
	Expand   []Column
	Inline   []Column
	OrderBy  []OrderItem
	Limit    *Limit
}

// Wildcard is the "*" column.
func Wildcard() Column {
	return Column{Wildcard: true}
}

// Select is a query.
//
// Semantics:
//
//	SELECT [DISTINCT] <columns> FROM <from> WHERE <where>
//	GROUP BY <groupBy> HAVING <having> ORDER BY <orderBy> LIMIT <limit>
//
// One and Expand are set on correlated subqueries produced for expand
// columns: Expand marks the subquery as a nested projection, One tells the
// renderer the association is to-one.
type Select struct {
	From     Source
	Columns  []Column
	Where    []Expr
	GroupBy  []Expr
	Having   []Expr
	OrderBy  []OrderItem
	Limit    *Limit
	Distinct bool
	One      bool
	Expand   bool
}

// TableRef is an entity in a FROM clause.
//
// Before lowering the reference may be a scoped path such as
// Books[stock > 1]:author. After lowering it always has a single step and
// an alias.
type TableRef struct {
	Ref *Ref
	As  string
}

func (*TableRef) sourceNode() {}

// Join combines two sources. Lowered queries only contain left-deep
// chains of "left" joins.
type Join struct {
	Kind  string // "left", "inner"
	Left  Source
	Right Source
	On    []Expr
}

func (*Join) sourceNode() {}

// SubSelect is a nested query used as a FROM source.
type SubSelect struct {
	Select *Select
	As     string
}

func (*SubSelect) sourceNode() {}
