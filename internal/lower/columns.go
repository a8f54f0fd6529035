package lower

import (
	"slices"
	"strings"

	"github.com/roach88/cqnlower/internal/cqn"
	"github.com/roach88/cqnlower/internal/csn"
)

// projection lowers a column list. Nested projections of inline and
// structure expands share the outer scope and carry the path prefix they
// were written under.
type projection struct {
	x      exprCtx
	prefix []cqn.Step
	base   *resolved // the reference prefix resolves to
	name   string    // output name prefix

	// grouped turns association expands into FROM-less subqueries over
	// the grouped outer query.
	grouped bool
	// checks collects the leaves of grouped expands. Only projections
	// nested in a grouped expand record them.
	checks *[]groupCheck
	record bool
}

// groupCheck is a leaf a grouped expand reads, which must be grouped by.
type groupCheck struct {
	ref  string // lowered reference, alias.column
	path string // the reference as written, for error messages
}

// entry is one column of the input list after lowering. It may stand for
// several output columns.
type entry struct {
	name     string
	cols     []cqn.Column
	wildcard bool
}

// columns lowers cols. Explicit columns replace wildcard columns of the
// same name in place; two explicit columns of the same name are an error.
func (p *projection) columns(cols []cqn.Column) ([]cqn.Column, error) {
	var entries []entry
	index := make(map[string]int)
	for _, col := range cols {
		if col.Wildcard {
			wild, err := p.wildcard()
			if err != nil {
				return nil, err
			}
			for _, e := range wild {
				if _, dup := index[e.name]; dup {
					continue
				}
				index[e.name] = len(entries)
				entries = append(entries, e)
			}
			continue
		}

		e, err := p.column(col)
		if err != nil {
			return nil, err
		}
		if e.name != "" {
			if i, dup := index[e.name]; dup {
				if !entries[i].wildcard {
					return nil, p.duplicate(e.name)
				}
				entries[i] = e
				continue
			}
			index[e.name] = len(entries)
		}
		entries = append(entries, e)
	}
	return p.flatten(entries)
}

// flatten concatenates the entries. A flat column produced by a wildcard
// is dropped when an explicit column has the same name.
func (p *projection) flatten(entries []entry) ([]cqn.Column, error) {
	explicit := make(map[string]bool)
	for _, e := range entries {
		if e.wildcard {
			continue
		}
		for _, col := range e.cols {
			name := outputName(col)
			if name == "" {
				continue
			}
			if explicit[name] {
				return nil, p.duplicate(name)
			}
			explicit[name] = true
		}
	}

	var out []cqn.Column
	seen := make(map[string]bool)
	for _, e := range entries {
		for _, col := range e.cols {
			name := outputName(col)
			if e.wildcard && (explicit[name] || seen[name]) {
				p.x.s.c.Log("dropping wildcard column %s", name)
				continue
			}
			if name != "" {
				seen[name] = true
			}
			out = append(out, col)
		}
	}
	return out, nil
}

func (p *projection) duplicate(name string) error {
	return p.x.errorf(DuplicateColumnNameError, name, "duplicate column name %s", name)
}

// qualify prefixes a nested output name with the name of the enclosing
// inline or structure column.
func (p *projection) qualify(name string) string {
	if p.name == "" || name == "" {
		return name
	}
	return p.name + "_" + name
}

// wildcard expands "*" into one entry per element of the projection's
// source. Virtual elements and associations without foreign keys are left
// out.
func (p *projection) wildcard() ([]entry, error) {
	names, x, err := p.wildcardNames()
	if err != nil {
		return nil, err
	}
	wp := *p
	wp.x = x
	entries := make([]entry, 0, len(names))
	for _, name := range names {
		e, err := wp.column(cqn.Column{Expr: cqn.NewRef(name)})
		if err != nil {
			return nil, err
		}
		e.wildcard = true
		entries = append(entries, e)
	}
	return entries, nil
}

func (p *projection) wildcardNames() ([]string, exprCtx, error) {
	if p.base == nil {
		n := p.x.implicit
		if n == nil && len(p.x.s.nodes) > 0 {
			n = p.x.s.nodes[0]
		}
		if n == nil {
			return nil, p.x, p.x.errorf(ReferenceError, "*", "no source to expand * against")
		}
		x := p.x
		x.implicit = n
		if n.def == nil {
			return slices.Clone(n.names), x, nil
		}
		return elementNames(n.def.Elements), x, nil
	}

	r := p.base
	switch {
	case r.isAssociation():
		target, ok := p.x.s.c.model.Target(r.elem)
		if !ok {
			return nil, p.x, p.x.errorf(ReferenceError, r.text, "unknown target %s", r.elem.Target)
		}
		return elementNames(target.Elements), p.x, nil
	case r.elem != nil:
		return elementNames(r.elem.Elements), p.x, nil
	}
	// a structured foreign-key shortcut
	var names []string
	for _, l := range r.refs() {
		if len(l.sub) > 0 && !slices.Contains(names, l.sub[0]) {
			names = append(names, l.sub[0])
		}
	}
	return names, p.x, nil
}

func elementNames(elements []*csn.Element) []string {
	names := make([]string, 0, len(elements))
	for _, el := range elements {
		if el.Virtual {
			continue
		}
		if el.IsAssociation() && el.Association() != csn.Managed {
			continue
		}
		names = append(names, el.Name)
	}
	return names
}

// column lowers one explicit column.
func (p *projection) column(col cqn.Column) (entry, error) {
	switch e := col.Expr.(type) {
	case nil:
		return entry{}, p.x.errorf(ReferenceError, col.As, "column has no expression")
	case *cqn.Ref:
		if !isVariable(e) {
			return p.refColumn(col, e)
		}
	}
	if len(p.prefix) > 0 {
		if _, ok := col.Expr.(*cqn.Ref); !ok {
			return entry{}, p.x.errorf(PathShapeError, p.base.text, "only references can be nested under %s", p.base.text)
		}
	}
	lowered, err := p.x.expr(col.Expr)
	if err != nil {
		return entry{}, err
	}
	name := p.qualify(col.As)
	return entry{name: name, cols: []cqn.Column{{Expr: lowered, As: name}}}, nil
}

func (p *projection) refColumn(col cqn.Column, ref *cqn.Ref) (entry, error) {
	full := ref
	if len(p.prefix) > 0 {
		full = &cqn.Ref{Steps: append(slices.Clone(p.prefix), ref.Steps...)}
	}
	r, err := p.x.resolve(full)
	if err != nil {
		return entry{}, err
	}

	name := col.As
	if name == "" {
		name = r.name
		if len(p.prefix) > 0 {
			name = nameOf(ref.Steps)
		}
	}
	name = p.qualify(name)

	switch {
	case col.Expand != nil && r.isAssociation():
		if p.grouped {
			return p.groupedExpand(col, full, r, name)
		}
		return p.expand(col, r, name)

	case col.Expand != nil || col.Inline != nil:
		if r.isScalar() {
			return entry{}, p.x.errorf(PathShapeError, r.text, "%s is a scalar and cannot be expanded", r.text)
		}
		nested := col.Inline
		if col.Expand != nil {
			nested = col.Expand
		}
		if len(nested) == 0 {
			nested = []cqn.Column{cqn.Wildcard()}
		}
		sub := &projection{
			x:       p.x,
			prefix:  full.Steps,
			base:    r,
			name:    name,
			grouped: p.grouped,
			checks:  p.checks,
			record:  p.record,
		}
		cols, err := sub.columns(nested)
		if err != nil {
			return entry{}, err
		}
		return entry{name: name, cols: cols}, nil

	case r.isAssociation() && len(r.leaves) == 0:
		return entry{}, p.x.errorf(PathShapeError, r.text, "%s has no foreign keys; expand it instead", r.text)
	}

	return entry{name: name, cols: p.leafColumns(r, name)}, nil
}

// leafColumns selects the flat columns of r. A scalar keeps name; the
// leaves of a structure or association are named after name and the part
// of their column name below the reference.
func (p *projection) leafColumns(r *resolved, name string) []cqn.Column {
	refs := r.refs()
	cols := make([]cqn.Column, 0, len(refs))
	prefix := strings.Join(r.path, "_")
	virtual := len(r.leaves) > 0 && allVirtual(r.leaves)
	for _, l := range refs {
		out := name
		if !r.isScalar() {
			switch {
			case strings.HasPrefix(l.column, prefix+"_"):
				out = name + l.column[len(prefix):]
			default:
				out = name + "_" + l.key
			}
		}
		if p.record && p.checks != nil {
			path := r.text
			if len(l.sub) > 0 {
				path += "." + strings.Join(l.sub, ".")
			}
			*p.checks = append(*p.checks, groupCheck{ref: l.ref.String(), path: path})
		}

		col := cqn.Column{Expr: l.ref}
		if virtual {
			col.Expr = cqn.Null()
		}
		if out != l.column || virtual {
			col.As = out
		}
		cols = append(cols, col)
	}
	return cols
}

func allVirtual(leaves []csn.Leaf) bool {
	for _, l := range leaves {
		if !l.Virtual {
			return false
		}
	}
	return true
}

// expand turns an association column with a nested projection into a
// correlated subquery marked as expand.
func (p *projection) expand(col cqn.Column, r *resolved, name string) (entry, error) {
	c := p.x.s.c
	c.PushDebugContext("expand " + r.elem.Name)
	defer c.PopDebugContext()

	target, ok := c.model.Target(r.elem)
	if !ok {
		return entry{}, p.x.errorf(ReferenceError, r.text, "unknown target %s", r.elem.Target)
	}
	child := p.x.s.child()
	tn := child.addSynthetic(child.allocate(r.elem.Name), target)
	c.Log("expand subquery over %s as %s", target.Name, tn.alias)

	link, err := p.x.link(r.elem, r.node, r.path, tn)
	if err != nil {
		return entry{}, err
	}
	ix := exprCtx{s: child, clause: p.x.clause, implicit: tn}
	nested := col.Expand
	if len(nested) == 0 {
		nested = []cqn.Column{cqn.Wildcard()}
	}
	inner := &projection{x: ix}
	cols, err := inner.columns(nested)
	if err != nil {
		return entry{}, err
	}
	filter, err := p.x.filter(child, tn, r.step.Where)
	if err != nil {
		return entry{}, err
	}

	orderBy, limit := r.step.OrderBy, r.step.Limit
	if len(orderBy) == 0 {
		orderBy = col.OrderBy
	}
	if limit == nil {
		limit = col.Limit
	}
	ob, err := ix.orderBy(orderBy, outputNames(cols))
	if err != nil {
		return entry{}, err
	}
	lim, err := ix.limit(limit)
	if err != nil {
		return entry{}, err
	}

	sel := &cqn.Select{
		From:    child.withJoins(tableRef(tn)),
		Columns: cols,
		Where:   cqn.And(link, filter),
		OrderBy: ob,
		Limit:   lim,
		Expand:  true,
		One:     r.elem.IsToOne(),
	}
	return entry{name: name, cols: []cqn.Column{{Expr: &cqn.SubQuery{Select: sel}, As: name}}}, nil
}

// groupedExpand turns an association expand of a grouped query into a
// FROM-less subquery whose columns read the joined outer rows. Every leaf
// it reads is recorded for checkGroupBy.
func (p *projection) groupedExpand(col cqn.Column, full *cqn.Ref, r *resolved, name string) (entry, error) {
	if len(col.OrderBy) > 0 || col.Limit != nil || len(r.step.OrderBy) > 0 || r.step.Limit != nil {
		return entry{}, p.x.errorf(PathShapeError, r.text, "expand %s of a grouped query reads one row per group and cannot carry orderBy or limit", r.text)
	}
	c := p.x.s.c
	c.PushDebugContext("grouped expand " + r.elem.Name)
	defer c.PopDebugContext()

	nested := col.Expand
	if len(nested) == 0 {
		nested = []cqn.Column{cqn.Wildcard()}
	}
	inner := &projection{
		x:       p.x,
		prefix:  full.Steps,
		base:    r,
		grouped: true,
		checks:  p.checks,
		record:  true,
	}
	cols, err := inner.columns(nested)
	if err != nil {
		return entry{}, err
	}
	sel := &cqn.Select{Columns: cols, Expand: true, One: r.elem.IsToOne()}
	return entry{name: name, cols: []cqn.Column{{Expr: &cqn.SubQuery{Select: sel}, As: name}}}, nil
}

// checkGroupBy verifies that every leaf read by a grouped expand is part of
// the lowered GROUP BY.
func (p *projection) checkGroupBy(groupBy []cqn.Expr) error {
	if p.checks == nil {
		return nil
	}
	grouped := make(map[string]bool, len(groupBy))
	for _, e := range groupBy {
		if ref, ok := e.(*cqn.Ref); ok {
			grouped[ref.String()] = true
		}
	}
	for _, chk := range *p.checks {
		if !grouped[chk.ref] {
			return &Error{
				Kind:    GroupByMismatchError,
				Path:    chk.path,
				Clause:  "groupBy",
				Message: "expanded column " + chk.path + " must be part of the group by clause",
			}
		}
	}
	return nil
}
