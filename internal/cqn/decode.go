package cqn

import (
	"fmt"
	"strings"

	"github.com/spf13/cast"
	"gopkg.in/yaml.v3"
)

// DecodeError reports a malformed query document.
type DecodeError struct {
	Path    string // location in the document, e.g. "columns[2].expand[0]"
	Message string
}

func (e *DecodeError) Error() string {
	if e.Path == "" {
		return e.Message
	}
	return fmt.Sprintf("%s: %s", e.Path, e.Message)
}

// DecodeYAML parses a query written in CQN JSON shape. JSON documents are
// valid YAML, so both formats are accepted.
//
// The document may be {SELECT: {...}} or the bare select body. Short forms
// are accepted where they are unambiguous:
//
//	from: bookshop.Books            # same as {ref: [bookshop.Books]}
//	columns: ["*", title, author.name]
//	limit: 10                       # same as {rows: {val: 10}}
func DecodeYAML(data []byte) (*Select, error) {
	var doc any
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, &DecodeError{Message: fmt.Sprintf("invalid YAML: %v", err)}
	}
	return DecodeSelect(doc)
}

// DecodeSelect converts a generic JSON shape into a Select. The outermost
// query needs a FROM clause; nested selects may omit it.
func DecodeSelect(doc any) (*Select, error) {
	m, ok := doc.(map[string]any)
	if !ok {
		return nil, &DecodeError{Message: fmt.Sprintf("query must be an object, got %T", doc)}
	}
	path, body := "", any(m)
	if b, ok := m["SELECT"]; ok {
		path, body = "SELECT", b
	}
	sel, err := decodeSelectBody(body, path)
	if err != nil {
		return nil, err
	}
	if sel.From == nil {
		return nil, &DecodeError{Path: path, Message: "from is required"}
	}
	return sel, nil
}

// DecodeTokens converts a generic JSON token list, such as a declared
// on-condition, into a condition.
func DecodeTokens(v any) ([]Expr, error) {
	d := decoder{}
	tokens := d.tokens(v, "")
	if d.err != nil {
		return nil, d.err
	}
	return tokens, nil
}

func decodeSelectBody(v any, path string) (*Select, error) {
	m, ok := v.(map[string]any)
	if !ok {
		return nil, &DecodeError{Path: path, Message: "SELECT must be an object"}
	}
	d := decoder{}
	sel := &Select{}
	if from, ok := m["from"]; ok {
		sel.From = d.source(from, join(path, "from"))
	}
	if cols, ok := m["columns"]; ok {
		sel.Columns = d.columns(cols, join(path, "columns"))
	}
	if where, ok := m["where"]; ok {
		sel.Where = d.tokens(where, join(path, "where"))
	}
	if groupBy, ok := m["groupBy"]; ok {
		sel.GroupBy = d.exprs(groupBy, join(path, "groupBy"))
	}
	if having, ok := m["having"]; ok {
		sel.Having = d.tokens(having, join(path, "having"))
	}
	if orderBy, ok := m["orderBy"]; ok {
		sel.OrderBy = d.orderBy(orderBy, join(path, "orderBy"))
	}
	if limit, ok := m["limit"]; ok {
		sel.Limit = d.limit(limit, join(path, "limit"))
	}
	sel.Distinct = d.flag(m, "distinct", path)
	sel.One = d.flag(m, "one", path)
	sel.Expand = d.flag(m, "expand", path)
	if d.err != nil {
		return nil, d.err
	}
	return sel, nil
}

// decoder keeps the first error so the walk can stay linear.
type decoder struct {
	err error
}

func (d *decoder) fail(path, format string, args ...any) {
	if d.err == nil {
		d.err = &DecodeError{Path: path, Message: fmt.Sprintf(format, args...)}
	}
}

func (d *decoder) flag(m map[string]any, key, path string) bool {
	v, ok := m[key]
	if !ok {
		return false
	}
	b, err := cast.ToBoolE(v)
	if err != nil {
		d.fail(join(path, key), "expected boolean: %v", err)
	}
	return b
}

func (d *decoder) source(v any, path string) Source {
	switch s := v.(type) {
	case string:
		return &TableRef{Ref: NewRef(s)}
	case map[string]any:
		if kind, ok := s["join"]; ok {
			args, _ := s["args"].([]any)
			if len(args) < 2 {
				d.fail(path, "join needs at least two args")
				return nil
			}
			src := d.source(args[0], path+".args[0]")
			for i := 1; i < len(args); i++ {
				src = &Join{
					Kind:  cast.ToString(kind),
					Left:  src,
					Right: d.source(args[i], fmt.Sprintf("%s.args[%d]", path, i)),
				}
			}
			if on, ok := s["on"]; ok {
				src.(*Join).On = d.tokens(on, path+".on")
			}
			return src
		}
		as := cast.ToString(s["as"])
		if body, ok := s["SELECT"]; ok {
			sel, err := decodeSelectBody(body, path+".SELECT")
			if err != nil {
				if d.err == nil {
					d.err = err
				}
				return nil
			}
			return &SubSelect{Select: sel, As: as}
		}
		if ref, ok := s["ref"]; ok {
			return &TableRef{Ref: d.ref(ref, path+".ref"), As: as}
		}
	}
	d.fail(path, "unsupported from clause %T", v)
	return nil
}

func (d *decoder) columns(v any, path string) []Column {
	list, ok := v.([]any)
	if !ok {
		d.fail(path, "columns must be a list")
		return nil
	}
	cols := make([]Column, 0, len(list))
	for i, item := range list {
		cols = append(cols, d.column(item, fmt.Sprintf("%s[%d]", path, i)))
	}
	return cols
}

func (d *decoder) column(v any, path string) Column {
	switch c := v.(type) {
	case string:
		if c == "*" {
			return Wildcard()
		}
		return Column{Expr: NewRef(strings.Split(c, ".")...)}
	case map[string]any:
		col := Column{As: cast.ToString(c["as"])}
		if hasOperand(c) {
			col.Expr = d.operand(c, path)
		}
		if expand, ok := c["expand"]; ok {
			col.Expand = d.columns(expand, path+".expand")
			if col.Expand == nil {
				col.Expand = []Column{}
			}
		}
		if inline, ok := c["inline"]; ok {
			col.Inline = d.columns(inline, path+".inline")
			if col.Inline == nil {
				col.Inline = []Column{}
			}
		}
		if orderBy, ok := c["orderBy"]; ok {
			col.OrderBy = d.orderBy(orderBy, path+".orderBy")
		}
		if limit, ok := c["limit"]; ok {
			col.Limit = d.limit(limit, path+".limit")
		}
		return col
	default:
		d.fail(path, "unsupported column %T", v)
		return Column{}
	}
}

func hasOperand(m map[string]any) bool {
	for _, k := range []string{"ref", "val", "func", "xpr", "list", "param", "SELECT"} {
		if _, ok := m[k]; ok {
			return true
		}
	}
	return false
}

func (d *decoder) tokens(v any, path string) []Expr {
	list, ok := v.([]any)
	if !ok {
		d.fail(path, "expected a token list, got %T", v)
		return nil
	}
	out := make([]Expr, 0, len(list))
	for i, item := range list {
		p := fmt.Sprintf("%s[%d]", path, i)
		if s, ok := item.(string); ok {
			out = append(out, Op(strings.ToLower(s)))
			continue
		}
		if e := d.operand(item, p); e != nil {
			out = append(out, e)
		}
	}
	return out
}

// exprs decodes a list of expressions such as GROUP BY entries. Unlike a
// token list, a plain string is a dotted reference.
func (d *decoder) exprs(v any, path string) []Expr {
	list, ok := v.([]any)
	if !ok {
		d.fail(path, "expected a list, got %T", v)
		return nil
	}
	out := make([]Expr, 0, len(list))
	for i, item := range list {
		if s, ok := item.(string); ok {
			out = append(out, NewRef(strings.Split(s, ".")...))
			continue
		}
		if e := d.operand(item, fmt.Sprintf("%s[%d]", path, i)); e != nil {
			out = append(out, e)
		}
	}
	return out
}

func (d *decoder) operand(v any, path string) Expr {
	m, ok := v.(map[string]any)
	if !ok {
		d.fail(path, "expected an expression object, got %T", v)
		return nil
	}
	switch {
	case m["ref"] != nil:
		return d.ref(m["ref"], path+".ref")
	case hasKey(m, "val"):
		return &Val{Value: m["val"]}
	case m["param"] != nil:
		return &Param{Name: cast.ToString(m["param"])}
	case m["func"] != nil:
		var args []Expr
		if a, ok := m["args"]; ok {
			args = d.tokens(a, path+".args")
		}
		return &Func{Name: cast.ToString(m["func"]), Args: args}
	case m["xpr"] != nil:
		return &Xpr{Tokens: d.tokens(m["xpr"], path+".xpr")}
	case m["list"] != nil:
		return &List{Items: d.tokens(m["list"], path+".list")}
	case m["SELECT"] != nil:
		sel, err := decodeSelectBody(m["SELECT"], path+".SELECT")
		if err != nil {
			if d.err == nil {
				d.err = err
			}
			return nil
		}
		return &SubQuery{Select: sel}
	}
	d.fail(path, "unknown expression")
	return nil
}

func hasKey(m map[string]any, key string) bool {
	_, ok := m[key]
	return ok
}

func (d *decoder) ref(v any, path string) *Ref {
	switch r := v.(type) {
	case string:
		return NewRef(strings.Split(r, ".")...)
	case []any:
		ref := &Ref{Steps: make([]Step, 0, len(r))}
		for i, s := range r {
			ref.Steps = append(ref.Steps, d.step(s, fmt.Sprintf("%s[%d]", path, i)))
		}
		return ref
	}
	d.fail(path, "ref must be a string or list")
	return &Ref{}
}

func (d *decoder) step(v any, path string) Step {
	switch s := v.(type) {
	case string:
		return Step{ID: s}
	case map[string]any:
		step := Step{ID: cast.ToString(s["id"])}
		if step.ID == "" {
			d.fail(path, "step needs an id")
		}
		if where, ok := s["where"]; ok {
			step.Where = d.tokens(where, path+".where")
		}
		if orderBy, ok := s["orderBy"]; ok {
			step.OrderBy = d.orderBy(orderBy, path+".orderBy")
		}
		if limit, ok := s["limit"]; ok {
			step.Limit = d.limit(limit, path+".limit")
		}
		return step
	}
	d.fail(path, "unsupported ref step %T", v)
	return Step{}
}

func (d *decoder) orderBy(v any, path string) []OrderItem {
	list, ok := v.([]any)
	if !ok {
		d.fail(path, "orderBy must be a list")
		return nil
	}
	items := make([]OrderItem, 0, len(list))
	for i, item := range list {
		p := fmt.Sprintf("%s[%d]", path, i)
		switch o := item.(type) {
		case string:
			items = append(items, OrderItem{Expr: NewRef(strings.Split(o, ".")...)})
		case map[string]any:
			items = append(items, OrderItem{
				Expr:  d.operand(o, p),
				Sort:  strings.ToLower(cast.ToString(o["sort"])),
				Nulls: strings.ToLower(cast.ToString(o["nulls"])),
			})
		default:
			d.fail(p, "unsupported orderBy entry %T", item)
		}
	}
	return items
}

func (d *decoder) limit(v any, path string) *Limit {
	m, ok := v.(map[string]any)
	if !ok {
		return &Limit{Rows: d.limitValue(v, path)}
	}
	l := &Limit{}
	if rows, ok := m["rows"]; ok {
		l.Rows = d.limitValue(rows, path+".rows")
	}
	if offset, ok := m["offset"]; ok {
		l.Offset = d.limitValue(offset, path+".offset")
	}
	return l
}

func (d *decoder) limitValue(v any, path string) Expr {
	if m, ok := v.(map[string]any); ok {
		return d.operand(m, path)
	}
	n, err := cast.ToInt64E(v)
	if err != nil {
		d.fail(path, "expected an integer: %v", err)
		return nil
	}
	return &Val{Value: n}
}

func join(path, key string) string {
	if path == "" {
		return key
	}
	return path + "." + key
}
