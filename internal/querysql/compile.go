package querysql

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/spf13/cast"

	"github.com/roach88/cqnlower/internal/cqn"
)

// SQLCompiler renders lowered queries to parameterized SQL for SQLite.
//
// Input must be the output of the lowerer: every FROM entry is a single
// entity with an alias and every reference is alias.column.
//
// CRITICAL: literal values are never interpolated, each one becomes a ?
// placeholder with its value in the returned params.
type SQLCompiler struct {
	// BoundValues holds the values of named parameters (:name).
	BoundValues map[string]any

	// Args holds the values of positional parameters (?) in order.
	Args []any
}

// NewSQLCompiler creates a new SQLCompiler.
func NewSQLCompiler() *SQLCompiler {
	return &SQLCompiler{
		BoundValues: make(map[string]any),
	}
}

// Compile converts a lowered query to parameterized SQL.
// Returns (sql, params, error) tuple.
//
// Expand subqueries become JSON values: a to-one expand renders as
// json_object, a to-many expand as json_group_array over json_object.
func (c *SQLCompiler) Compile(q *cqn.Select) (string, []any, error) {
	if q == nil {
		return "", nil, fmt.Errorf("cannot compile nil query")
	}
	w := &writer{c: c}
	if err := w.selectStmt(q); err != nil {
		return "", nil, err
	}
	if w.positional != len(c.Args) && w.positional > 0 {
		return "", nil, fmt.Errorf("query uses %d positional parameters but %d args were given", w.positional, len(c.Args))
	}
	return w.b.String(), w.params, nil
}

// writer accumulates SQL text and parameters for one Compile call.
type writer struct {
	c          *SQLCompiler
	b          strings.Builder
	params     []any
	positional int
	derived    int
}

func (w *writer) str(parts ...string) {
	for _, p := range parts {
		w.b.WriteString(p)
	}
}

func (w *writer) selectStmt(q *cqn.Select) error {
	if q.Expand && q.From == nil {
		return w.groupedExpand(q)
	}
	w.str("SELECT ")
	if q.Distinct {
		w.str("DISTINCT ")
	}
	if err := w.columns(q.Columns); err != nil {
		return err
	}
	if q.From != nil {
		w.str(" FROM ")
		if err := w.source(q.From); err != nil {
			return fmt.Errorf("compile from: %w", err)
		}
	}
	if len(q.Where) > 0 {
		w.str(" WHERE ")
		if err := w.tokens(q.Where); err != nil {
			return fmt.Errorf("compile where: %w", err)
		}
	}
	if len(q.GroupBy) > 0 {
		w.str(" GROUP BY ")
		if err := w.list(q.GroupBy); err != nil {
			return fmt.Errorf("compile group by: %w", err)
		}
	}
	if len(q.Having) > 0 {
		w.str(" HAVING ")
		if err := w.tokens(q.Having); err != nil {
			return fmt.Errorf("compile having: %w", err)
		}
	}
	if len(q.OrderBy) > 0 {
		w.str(" ORDER BY ")
		for i, it := range q.OrderBy {
			if i > 0 {
				w.str(", ")
			}
			if err := w.expr(it.Expr); err != nil {
				return fmt.Errorf("compile order by: %w", err)
			}
			if it.Sort != "" {
				w.str(" ", strings.ToUpper(it.Sort))
			}
			if it.Nulls != "" {
				w.str(" NULLS ", strings.ToUpper(it.Nulls))
			}
		}
	}
	return w.limit(q.Limit)
}

func (w *writer) limit(l *cqn.Limit) error {
	if l == nil {
		return nil
	}
	if l.Rows == nil {
		// SQLite needs LIMIT before OFFSET
		w.str(" LIMIT -1")
	} else {
		w.str(" LIMIT ")
		if err := w.expr(l.Rows); err != nil {
			return fmt.Errorf("compile limit: %w", err)
		}
	}
	if l.Offset != nil {
		w.str(" OFFSET ")
		if err := w.expr(l.Offset); err != nil {
			return fmt.Errorf("compile offset: %w", err)
		}
	}
	return nil
}

func (w *writer) columns(cols []cqn.Column) error {
	if len(cols) == 0 {
		w.str("*")
		return nil
	}
	for i, col := range cols {
		if i > 0 {
			w.str(", ")
		}
		if col.Wildcard {
			w.str("*")
			continue
		}
		if col.Expand != nil || col.Inline != nil {
			return fmt.Errorf("column %s has a nested projection; lower the query first", col.As)
		}
		if err := w.expr(col.Expr); err != nil {
			return fmt.Errorf("compile column: %w", err)
		}
		if col.As != "" {
			w.str(" AS ", quoteIdent(col.As))
		}
	}
	return nil
}

func (w *writer) source(src cqn.Source) error {
	switch s := src.(type) {
	case *cqn.TableRef:
		if len(s.Ref.Steps) != 1 || s.Ref.Steps[0].Where != nil {
			return fmt.Errorf("FROM %s is not lowered", s.Ref)
		}
		w.str(quoteIdent(TableName(s.Ref.Steps[0].ID)))
		if s.As != "" {
			w.str(" AS ", quoteIdent(s.As))
		}
		return nil

	case *cqn.Join:
		if err := w.source(s.Left); err != nil {
			return err
		}
		switch strings.ToLower(s.Kind) {
		case "", "inner":
			w.str(" JOIN ")
		case "left":
			w.str(" LEFT JOIN ")
		default:
			return fmt.Errorf("unsupported join kind: %s", s.Kind)
		}
		if _, nested := s.Right.(*cqn.Join); nested {
			w.str("(")
			defer w.str(")")
		}
		if err := w.source(s.Right); err != nil {
			return err
		}
		if len(s.On) > 0 {
			w.str(" ON ")
			return w.tokens(s.On)
		}
		return nil

	case *cqn.SubSelect:
		w.str("(")
		if err := w.selectStmt(s.Select); err != nil {
			return err
		}
		w.str(")")
		if s.As != "" {
			w.str(" AS ", quoteIdent(s.As))
		}
		return nil
	}
	return fmt.Errorf("unsupported source type: %T", src)
}

// tokens renders a token list. A comparison with a NULL literal on the
// right becomes IS NULL / IS NOT NULL.
func (w *writer) tokens(ts []cqn.Expr) error {
	for i, t := range ts {
		if i > 0 {
			w.str(" ")
		}
		if op, ok := t.(cqn.Op); ok && i+1 < len(ts) && isNull(ts[i+1]) {
			switch op {
			case "=", "==":
				w.str("IS")
				continue
			case "<>", "!=":
				w.str("IS NOT")
				continue
			}
		}
		if err := w.expr(t); err != nil {
			return err
		}
	}
	return nil
}

func (w *writer) list(items []cqn.Expr) error {
	for i, e := range items {
		if i > 0 {
			w.str(", ")
		}
		if err := w.expr(e); err != nil {
			return err
		}
	}
	return nil
}

func (w *writer) expr(e cqn.Expr) error {
	switch x := e.(type) {
	case cqn.Op:
		w.str(renderOp(x))
	case *cqn.Ref:
		return w.ref(x)
	case *cqn.Val:
		return w.val(x)
	case *cqn.Param:
		return w.param(x)
	case *cqn.Func:
		w.str(x.Name, "(")
		if err := w.list(x.Args); err != nil {
			return err
		}
		w.str(")")
	case *cqn.Xpr:
		w.str("(")
		if err := w.tokens(x.Tokens); err != nil {
			return err
		}
		w.str(")")
	case *cqn.List:
		w.str("(")
		if err := w.list(x.Items); err != nil {
			return err
		}
		w.str(")")
	case *cqn.SubQuery:
		w.str("(")
		var err error
		if x.Select.Expand && x.Select.From != nil {
			err = w.expand(x.Select)
		} else if x.Select.Expand {
			err = w.groupedExpand(x.Select)
		} else {
			err = w.selectStmt(x.Select)
		}
		if err != nil {
			return err
		}
		w.str(")")
	default:
		return fmt.Errorf("unsupported expression type: %T", e)
	}
	return nil
}

func (w *writer) ref(r *cqn.Ref) error {
	ids := r.IDs()
	switch {
	case len(ids) == 1 && ids[0] == "*":
		w.str("*")
	case len(ids) == 1 && ids[0] == "$now":
		w.str("CURRENT_TIMESTAMP")
	case len(ids) > 0 && strings.HasPrefix(ids[0], "$"):
		return fmt.Errorf("unsupported variable: %s", r)
	case len(ids) > 2:
		return fmt.Errorf("reference %s is not lowered", r)
	default:
		for i, id := range ids {
			if i > 0 {
				w.str(".")
			}
			w.str(quoteIdent(id))
		}
	}
	return nil
}

// val adds a literal as a parameter.
// CRITICAL: Value is NEVER interpolated - always parameterized.
func (w *writer) val(v *cqn.Val) error {
	if v.IsNull() {
		w.str("NULL")
		return nil
	}
	p, err := toParam(v.Value)
	if err != nil {
		return err
	}
	w.str("?")
	w.params = append(w.params, p)
	return nil
}

func (w *writer) param(p *cqn.Param) error {
	if p.Name == "" || p.Name == "?" {
		if w.positional >= len(w.c.Args) {
			return fmt.Errorf("missing value for positional parameter %d", w.positional+1)
		}
		w.str("?")
		w.params = append(w.params, w.c.Args[w.positional])
		w.positional++
		return nil
	}
	v, ok := w.c.BoundValues[p.Name]
	if !ok {
		return fmt.Errorf("missing value for parameter :%s", p.Name)
	}
	w.str("?")
	w.params = append(w.params, v)
	return nil
}

// expand renders a correlated expand subquery (without the surrounding
// parentheses). The inner query keeps its own ORDER BY and LIMIT; the
// outer query folds its rows into JSON.
//
//	SELECT json_group_array(json_object('k', "k")) FROM (inner) AS "$e0"
func (w *writer) expand(q *cqn.Select) error {
	inner := *q
	inner.Expand = false
	alias := fmt.Sprintf("$e%d", w.derived)
	w.derived++

	w.str("SELECT ")
	if err := w.jsonRow(q, func(col cqn.Column, name string) error {
		w.str(quoteIdent(alias), ".", quoteIdent(name))
		return nil
	}); err != nil {
		return err
	}
	w.str(" FROM (")
	if err := w.selectStmt(&inner); err != nil {
		return err
	}
	w.str(") AS ", quoteIdent(alias))
	return nil
}

// groupedExpand renders a FROM-less expand over the columns of the
// enclosing grouped query.
func (w *writer) groupedExpand(q *cqn.Select) error {
	return w.jsonRow(q, func(col cqn.Column, _ string) error {
		return w.expr(col.Expr)
	})
}

// jsonRow writes json_object over the columns of q, wrapped in
// json_group_array unless q is to-one.
func (w *writer) jsonRow(q *cqn.Select, value func(cqn.Column, string) error) error {
	if !q.One {
		w.str("json_group_array(")
		defer w.str(")")
	}
	w.str("json_object(")
	for i, col := range q.Columns {
		if i > 0 {
			w.str(", ")
		}
		name := outputName(col)
		if name == "" {
			return fmt.Errorf("expand column %d has no name", i+1)
		}
		w.str(quoteString(name), ", ")
		sub, nested := col.Expr.(*cqn.SubQuery)
		if nested && sub.Select.Expand {
			w.str("json(")
		}
		if err := value(col, name); err != nil {
			return err
		}
		if nested && sub.Select.Expand {
			w.str(")")
		}
	}
	w.str(")")
	return nil
}

func outputName(col cqn.Column) string {
	if col.As != "" {
		return col.As
	}
	if ref, ok := col.Expr.(*cqn.Ref); ok && len(ref.Steps) > 0 {
		return ref.Steps[len(ref.Steps)-1].ID
	}
	return ""
}

func isNull(e cqn.Expr) bool {
	v, ok := e.(*cqn.Val)
	return ok && v.IsNull()
}

var keywordOps = map[cqn.Op]bool{
	"and": true, "or": true, "not": true, "exists": true, "is": true,
	"in": true, "like": true, "between": true, "case": true, "when": true,
	"then": true, "else": true, "end": true, "null": true, "escape": true,
}

func renderOp(op cqn.Op) string {
	switch op {
	case "==":
		return "="
	case "!=":
		return "<>"
	}
	if keywordOps[cqn.Op(strings.ToLower(string(op)))] {
		return strings.ToUpper(string(op))
	}
	return string(op)
}

// toParam converts a literal to a Go native type for a SQL parameter.
// Supports strings, numbers and bools. Lists and objects are not
// directly supported as SQL parameters.
func toParam(v any) (any, error) {
	switch val := v.(type) {
	case string, bool, int64, float64:
		return val, nil
	case int, int8, int16, int32, uint, uint8, uint16, uint32, uint64:
		return cast.ToInt64E(val)
	case float32:
		return cast.ToFloat64E(val)
	default:
		return nil, fmt.Errorf("unsupported literal type for SQL parameter: %T", v)
	}
}

// TableName maps an entity name to its SQLite table (bookshop.Books →
// bookshop_Books).
func TableName(entity string) string {
	return strings.ReplaceAll(entity, ".", "_")
}

var plainIdent = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*$`)

var reserved = map[string]bool{
	"all": true, "and": true, "as": true, "asc": true, "between": true,
	"by": true, "case": true, "check": true, "default": true, "desc": true,
	"distinct": true, "else": true, "end": true, "exists": true,
	"from": true, "group": true, "having": true, "in": true, "index": true,
	"inner": true, "is": true, "join": true, "key": true, "left": true,
	"like": true, "limit": true, "not": true, "null": true, "offset": true,
	"on": true, "or": true, "order": true, "select": true, "table": true,
	"then": true, "values": true, "when": true, "where": true,
}

// quoteIdent double-quotes an identifier unless it is a plain,
// non-reserved name.
func quoteIdent(id string) string {
	if plainIdent.MatchString(id) && !reserved[strings.ToLower(id)] {
		return id
	}
	return `"` + strings.ReplaceAll(id, `"`, `""`) + `"`
}

func quoteString(s string) string {
	return "'" + strings.ReplaceAll(s, "'", "''") + "'"
}
