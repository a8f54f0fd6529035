package lower

import (
	"fmt"

	"github.com/roach88/cqnlower/internal/cqn"
	"github.com/roach88/cqnlower/internal/csn"
)

// join returns the target of association el reached from src, creating a
// LEFT join in the scope owning src unless an equivalent join exists.
// Joins are equivalent when source alias, association path and filter are
// equal.
func (x exprCtx) join(src *node, path []string, el *csn.Element, step cqn.Step) (*node, error) {
	owner := src.scope
	key, err := joinKey(src, path, step.Where)
	if err != nil {
		return nil, fmt.Errorf("join key for %s: %w", el.Name, err)
	}
	owner.c.joined[key] = true
	if j, ok := owner.byKey[key]; ok {
		owner.c.Log("reusing join %s for %s.%s", j.target.alias, src.alias, el.Name)
		return j.target, nil
	}

	target, ok := owner.c.model.Target(el)
	if !ok {
		return nil, x.errorf(ReferenceError, el.Name, "unknown target %s", el.Target)
	}
	tn := &node{alias: owner.allocate(el.Name), def: target, scope: owner}
	owner.c.Log("joining %s as %s from %s", target.Name, tn.alias, src.alias)

	link, err := x.link(el, src, path, tn)
	if err != nil {
		return nil, err
	}
	filter, err := x.filter(owner, tn, step.Where)
	if err != nil {
		return nil, err
	}
	j := &join{target: tn, on: cqn.And(link, filter)}
	owner.joins = append(owner.joins, j)
	owner.byKey[key] = j
	return tn, nil
}

// joinKey identifies the join of path from src. Keys of different scopes
// never collide, even when their sources share an alias.
func joinKey(src *node, path []string, where []cqn.Expr) (string, error) {
	if len(where) == 0 {
		where = nil
	}
	key, err := cqn.StructuralKey(cqn.DomainJoin, src.alias, path, where)
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("%d/%s", src.scope.id, key), nil
}

// link builds the condition tying target rows to source rows of el.
//
// Managed associations compare each flattened key of the target with the
// matching foreign key of the source, in key order. Unmanaged associations
// use their declared on-condition with the association name bound to the
// target and $self bound to the source.
func (x exprCtx) link(el *csn.Element, src *node, path []string, tgt *node) ([]cqn.Expr, error) {
	switch el.Association() {
	case csn.Managed:
		var on []cqn.Expr
		for _, l := range src.def.LeavesUnder(path) {
			on = cqn.And(on, cqn.Comparison(columnRef(tgt.alias, l.TargetColumn), cqn.OpEq, columnRef(src.alias, l.Column)))
		}
		return on, nil
	case csn.Unmanaged, csn.Backlink:
		ox := exprCtx{
			s:      tgt.scope,
			mode:   filterMode,
			clause: x.clause,
			on:     &onBinding{assoc: el.Name, source: src, target: tgt},
		}
		return ox.tokens(el.On)
	case csn.NotAssociation:
		return nil, x.errorf(PathShapeError, el.Name, "%s is not an association", el.Name)
	}
	return nil, x.errorf(PathShapeError, el.Name, "unknown association shape %v", el.Association())
}

// filter lowers an infix filter relative to n.
func (x exprCtx) filter(s *scope, n *node, where []cqn.Expr) ([]cqn.Expr, error) {
	if len(where) == 0 {
		return nil, nil
	}
	fx := exprCtx{s: s, mode: filterMode, clause: x.clause, implicit: n}
	return fx.tokens(where)
}
