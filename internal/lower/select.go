package lower

import (
	"github.com/roach88/cqnlower/internal/cqn"
	"github.com/roach88/cqnlower/internal/csn"
)

// lowerSelect lowers one SELECT in scope s. Clauses are lowered in the
// order FROM, columns, WHERE, GROUP BY, HAVING, ORDER BY, LIMIT, so aliases
// and joins are allocated in a stable order.
func (c *compilation) lowerSelect(s *scope, q *cqn.Select, clause string) (*cqn.Select, error) {
	if clause != "" {
		c.PushDebugContext(clause)
		defer c.PopDebugContext()
	}
	out := &cqn.Select{Distinct: q.Distinct, One: q.One, Expand: q.Expand}

	var from cqn.Source
	var pre []cqn.Expr
	if q.From != nil {
		var err error
		from, pre, err = exprCtx{s: s, clause: "from"}.from(q.From)
		if err != nil {
			return nil, err
		}
	}

	p := &projection{x: exprCtx{s: s, clause: "columns"}, grouped: len(q.GroupBy) > 0}
	if p.grouped {
		p.checks = &[]groupCheck{}
	}
	cols := q.Columns
	if len(cols) == 0 && q.From != nil {
		cols = []cqn.Column{cqn.Wildcard()}
	}
	columns, err := p.columns(cols)
	if err != nil {
		return nil, err
	}
	out.Columns = columns

	where, err := exprCtx{s: s, clause: "where"}.tokens(q.Where)
	if err != nil {
		return nil, err
	}
	out.Where = cqn.And(pre, where)

	if out.GroupBy, err = (exprCtx{s: s, clause: "groupBy"}).list(q.GroupBy); err != nil {
		return nil, err
	}
	if out.Having, err = (exprCtx{s: s, clause: "having"}).tokens(q.Having); err != nil {
		return nil, err
	}
	if out.OrderBy, err = (exprCtx{s: s, clause: "orderBy"}).orderBy(q.OrderBy, outputNames(out.Columns)); err != nil {
		return nil, err
	}
	if out.Limit, err = (exprCtx{s: s, clause: "limit"}).limit(q.Limit); err != nil {
		return nil, err
	}
	if err := p.checkGroupBy(out.GroupBy); err != nil {
		return nil, err
	}

	if from != nil {
		out.From = s.withJoins(from)
	}
	return out, nil
}

// from lowers a FROM source. It returns the lowered source and the
// conditions the source contributes to the WHERE clause.
func (x exprCtx) from(src cqn.Source) (cqn.Source, []cqn.Expr, error) {
	switch f := src.(type) {
	case *cqn.TableRef:
		return x.fromRef(f)

	case *cqn.Join:
		left, lpre, err := x.from(f.Left)
		if err != nil {
			return nil, nil, err
		}
		right, rpre, err := x.from(f.Right)
		if err != nil {
			return nil, nil, err
		}
		on, err := x.tokens(f.On)
		if err != nil {
			return nil, nil, err
		}
		return &cqn.Join{Kind: f.Kind, Left: left, Right: right, On: on}, cqn.And(lpre, rpre), nil

	case *cqn.SubSelect:
		sel, err := x.s.c.lowerSelect(x.s.child(), f.Select, "from")
		if err != nil {
			return nil, nil, err
		}
		alias, err := x.alias(f.As, "sub")
		if err != nil {
			return nil, nil, err
		}
		n := x.s.addNode(alias, nil)
		n.names = outputNames(sel.Columns)
		return &cqn.SubSelect{Select: sel, As: alias}, nil, nil
	}
	return nil, nil, x.errorf(PathShapeError, "", "unsupported source %T", src)
}

// fromRef lowers an entity reference. A single step names the queried
// entity, with its infix filter moved into WHERE. Longer references are
// scoped queries that navigate from the first entity along associations.
func (x exprCtx) fromRef(f *cqn.TableRef) (cqn.Source, []cqn.Expr, error) {
	steps := f.Ref.Steps
	if len(steps) == 0 {
		return nil, nil, x.errorf(ReferenceError, "", "empty FROM reference")
	}
	def, ok := x.s.c.model.Definition(steps[0].ID)
	if !ok {
		return nil, nil, x.errorf(ReferenceError, f.Ref.String(), "unknown entity %s", steps[0].ID)
	}
	if len(steps) == 1 {
		alias, err := x.alias(f.As, def.ShortName())
		if err != nil {
			return nil, nil, err
		}
		n := x.s.addNode(alias, def)
		rx := exprCtx{s: x.s, clause: x.clause, implicit: n}
		pre, err := rx.tokens(steps[0].Where)
		if err != nil {
			return nil, nil, err
		}
		return tableRef(n), pre, nil
	}
	return x.scoped(f, def)
}

// alias registers an explicit alias or allocates one from base.
func (x exprCtx) alias(as, base string) (string, error) {
	if as != "" {
		return as, x.s.register(as)
	}
	return x.s.allocate(base), nil
}

// hop is one association crossed by a scoped FROM path.
type hop struct {
	src   *csn.Definition
	path  []string // association path inside src
	assoc *csn.Element
	where []cqn.Expr // infix filter on the step that reached src
	base  string     // alias base for src
}

// scoped lowers Src[f]:a[g].b[h] into FROM Target(b) with
//
//	WHERE exists (SELECT 1 FROM A AS a WHERE link(b)
//	    and exists (SELECT 1 FROM Src WHERE link(a) and f) and g) and h
func (x exprCtx) scoped(f *cqn.TableRef, root *csn.Definition) (cqn.Source, []cqn.Expr, error) {
	c := x.s.c
	text := f.Ref.String()
	steps := f.Ref.Steps

	var hops []hop
	cur, where, base := root, steps[0].Where, root.ShortName()
	var path []string
	var members []*csn.Element
	for _, step := range steps[1:] {
		el, ok := member(cur, members, step.ID)
		if !ok {
			return nil, nil, x.errorf(ReferenceError, text, "%s has no element %s", describeDef(cur, path), step.ID)
		}
		path = append(path, el.Name)
		switch {
		case el.IsStructure():
			if step.HasModifiers() {
				return nil, nil, x.errorf(PathShapeError, text, "structure %s cannot carry a filter", el.Name)
			}
			members = el.Elements
		case el.IsAssociation():
			target, ok := c.model.Target(el)
			if !ok {
				return nil, nil, x.errorf(ReferenceError, text, "unknown target %s", el.Target)
			}
			hops = append(hops, hop{src: cur, path: path, assoc: el, where: where, base: base})
			cur, where, base = target, step.Where, el.Name
			path, members = nil, nil
		default:
			return nil, nil, x.errorf(PathShapeError, text, "scoped path must end in an association but %s is a scalar", el.Name)
		}
	}
	if len(path) > 0 {
		return nil, nil, x.errorf(PathShapeError, text, "scoped path must end in an association but %s is a structure", path[len(path)-1])
	}

	c.PushDebugContext("scoped " + text)
	defer c.PopDebugContext()

	alias, err := x.alias(f.As, base)
	if err != nil {
		return nil, nil, err
	}
	tn := x.s.addNode(alias, cur)
	sub, err := x.hopExists(x.s, tn, hops)
	if err != nil {
		return nil, nil, err
	}
	tx := exprCtx{s: x.s, clause: x.clause, implicit: tn}
	filter, err := tx.tokens(where)
	if err != nil {
		return nil, nil, err
	}
	return tableRef(tn), cqn.And([]cqn.Expr{cqn.OpExists, sub}, filter), nil
}

// hopExists correlates tgt with the source of the last hop and recurses
// towards the root of the path.
func (x exprCtx) hopExists(parent *scope, tgt *node, hops []hop) (*cqn.SubQuery, error) {
	h := hops[len(hops)-1]
	child := parent.child()
	sn := child.addSynthetic(child.allocate(h.base), h.src)
	x.s.c.Log("scoped step %s over %s as %s", h.assoc.Name, h.src.Name, sn.alias)

	link, err := x.link(h.assoc, sn, h.path, tgt)
	if err != nil {
		return nil, err
	}
	var nested []cqn.Expr
	if len(hops) > 1 {
		sub, err := x.hopExists(child, sn, hops[:len(hops)-1])
		if err != nil {
			return nil, err
		}
		nested = []cqn.Expr{cqn.OpExists, sub}
	}
	filter, err := x.filter(child, sn, h.where)
	if err != nil {
		return nil, err
	}
	return &cqn.SubQuery{Select: selectOne(child.withJoins(tableRef(sn)), cqn.And(link, nested, filter))}, nil
}

func describeDef(def *csn.Definition, path []string) string {
	return describe(&node{def: def}, path)
}

// list lowers GROUP BY entries. A structured reference contributes one
// entry per leaf.
func (x exprCtx) list(in []cqn.Expr) ([]cqn.Expr, error) {
	var out []cqn.Expr
	for _, e := range in {
		ref, ok := e.(*cqn.Ref)
		if !ok || isVariable(ref) {
			lowered, err := x.expr(e)
			if err != nil {
				return nil, err
			}
			out = append(out, lowered)
			continue
		}
		r, err := x.resolve(ref)
		if err != nil {
			return nil, err
		}
		refs := r.refs()
		if len(refs) == 0 {
			return nil, x.errorf(PathShapeError, r.text, "%s has no columns", r.text)
		}
		for _, l := range refs {
			out = append(out, l.ref)
		}
	}
	return out, nil
}

// orderBy lowers ORDER BY items. A single-step reference that names no
// element falls back to an output column of the select list.
func (x exprCtx) orderBy(items []cqn.OrderItem, names []string) ([]cqn.OrderItem, error) {
	var out []cqn.OrderItem
	for _, it := range items {
		ref, ok := it.Expr.(*cqn.Ref)
		if !ok || isVariable(ref) {
			lowered, err := x.expr(it.Expr)
			if err != nil {
				return nil, err
			}
			out = append(out, cqn.OrderItem{Expr: lowered, Sort: it.Sort, Nulls: it.Nulls})
			continue
		}
		r, err := x.resolve(ref)
		if err != nil {
			if len(ref.Steps) == 1 && IsReferenceError(err) && contains(names, ref.Steps[0].ID) {
				out = append(out, cqn.OrderItem{Expr: cqn.NewRef(ref.Steps[0].ID), Sort: it.Sort, Nulls: it.Nulls})
				continue
			}
			return nil, err
		}
		refs := r.refs()
		if len(refs) == 0 {
			return nil, x.errorf(PathShapeError, r.text, "%s has no columns to order by", r.text)
		}
		for _, l := range refs {
			out = append(out, cqn.OrderItem{Expr: l.ref, Sort: it.Sort, Nulls: it.Nulls})
		}
	}
	return out, nil
}

func (x exprCtx) limit(l *cqn.Limit) (*cqn.Limit, error) {
	if l == nil {
		return nil, nil
	}
	out := &cqn.Limit{}
	var err error
	if l.Rows != nil {
		if out.Rows, err = x.expr(l.Rows); err != nil {
			return nil, err
		}
	}
	if l.Offset != nil {
		if out.Offset, err = x.expr(l.Offset); err != nil {
			return nil, err
		}
	}
	return out, nil
}

// outputNames lists the names under which columns appear in the result.
func outputNames(cols []cqn.Column) []string {
	names := make([]string, 0, len(cols))
	for _, col := range cols {
		if n := outputName(col); n != "" {
			names = append(names, n)
		}
	}
	return names
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

func contains(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}
