package lower

import (
	"github.com/roach88/cqnlower/internal/cqn"
	"github.com/roach88/cqnlower/internal/csn"
)

// exists rewrites "exists ref" into a correlated subquery
//
//	exists (SELECT 1 FROM Target AS alias WHERE link [and nested] [and filter])
//
// where nested is the exists subquery of the remaining path.
func (x exprCtx) exists(ref *cqn.Ref) (*cqn.SubQuery, error) {
	text := ref.String()
	steps := ref.Steps
	if len(steps) == 0 {
		return nil, x.errorf(ReferenceError, text, "empty reference")
	}

	var start *node
	switch {
	case x.on != nil && steps[0].ID == x.on.assoc && len(steps) > 1:
		start, steps = x.on.target, steps[1:]
	case x.on != nil && steps[0].ID == "$self" && len(steps) > 1:
		start, steps = x.on.source, steps[1:]
	case x.on != nil:
		start = x.on.source
	case steps[0].ID == "$self" && len(steps) > 1:
		n, err := x.selfNode(steps, text)
		if err != nil {
			return nil, err
		}
		start, steps = n, steps[1:]
	case len(steps) > 1 && x.s.lookupAlias(steps[0].ID) != nil:
		start, steps = x.s.lookupAlias(steps[0].ID), steps[1:]
	default:
		n, err := x.implicitNode(steps[0].ID, text)
		if err != nil {
			return nil, err
		}
		start = n
	}
	return x.existsPath(start, steps, text)
}

func (x exprCtx) existsPath(src *node, steps []cqn.Step, text string) (*cqn.SubQuery, error) {
	if src.def == nil {
		return nil, x.errorf(PathShapeError, text, "exists cannot follow a sub-select column")
	}
	var path []string
	var members []*csn.Element
	for i, step := range steps {
		el, ok := member(src.def, members, step.ID)
		if !ok {
			return nil, x.errorf(ReferenceError, text, "%s has no element %s", describe(src, path), step.ID)
		}
		path = append(path, el.Name)
		switch {
		case el.IsAssociation():
			return x.existsStep(src, path, el, step, steps[i+1:], text)
		case el.IsStructure():
			if step.HasModifiers() {
				return nil, x.errorf(PathShapeError, text, "structure %s cannot carry a filter", el.Name)
			}
			members = el.Elements
		default:
			return nil, x.errorf(PathShapeError, text, "exists needs an association but %s is a scalar", el.Name)
		}
	}
	return nil, x.errorf(PathShapeError, text, "exists needs an association but %s is a structure", path[len(path)-1])
}

func (x exprCtx) existsStep(src *node, path []string, el *csn.Element, step cqn.Step, rest []cqn.Step, text string) (*cqn.SubQuery, error) {
	c := x.s.c
	c.PushDebugContext("exists " + el.Name)
	defer c.PopDebugContext()

	target, ok := c.model.Target(el)
	if !ok {
		return nil, x.errorf(ReferenceError, text, "unknown target %s", el.Target)
	}
	child := x.s.child()
	tn := child.addSynthetic(child.allocate(el.Name), target)
	c.Log("exists subquery over %s as %s", target.Name, tn.alias)

	link, err := x.link(el, src, path, tn)
	if err != nil {
		return nil, err
	}
	var nested []cqn.Expr
	if len(rest) > 0 {
		nx := exprCtx{s: child, mode: filterMode, clause: x.clause, implicit: tn}
		sub, err := nx.existsPath(tn, rest, text)
		if err != nil {
			return nil, err
		}
		nested = []cqn.Expr{cqn.OpExists, sub}
	}
	filter, err := x.filter(child, tn, step.Where)
	if err != nil {
		return nil, err
	}
	return &cqn.SubQuery{Select: selectOne(child.withJoins(tableRef(tn)), cqn.And(link, nested, filter))}, nil
}

func selectOne(from cqn.Source, where []cqn.Expr) *cqn.Select {
	return &cqn.Select{
		From:    from,
		Columns: []cqn.Column{{Expr: &cqn.Val{Value: 1}}},
		Where:   where,
	}
}
