package lower

import (
	"github.com/roach88/cqnlower/internal/cqn"
)

// compareStructured expands a comparison with a structured operand into
// leaf comparisons. Equality operators conjoin the leaves with "and",
// inequality operators disjoin them with "or". It returns the expanded
// tokens and the number of leaf comparisons.
func (x exprCtx) compareStructured(left item, op string, right item) ([]cqn.Expr, int, error) {
	var joiner cqn.Op
	switch op {
	case "=", "==", "is":
		joiner = cqn.OpAnd
	case "<>", "!=", "is not":
		joiner = cqn.OpOr
	default:
		st := left.st
		if st == nil {
			st = right.st
		}
		return nil, 0, x.errorf(UnsupportedOperatorError, st.text,
			"operator %s is not supported on structured operand %s", op, st.text)
	}

	pairs, err := x.pairLeaves(left, right)
	if err != nil {
		return nil, 0, err
	}

	opTokens := []cqn.Expr{cqn.Op(op)}
	if op == "is not" {
		opTokens = []cqn.Expr{cqn.OpIs, cqn.OpNot}
	}
	var out []cqn.Expr
	for i, p := range pairs {
		if i > 0 {
			out = append(out, joiner)
		}
		out = append(out, p[0])
		out = append(out, opTokens...)
		out = append(out, p[1])
	}
	return out, len(pairs), nil
}

// pairLeaves lines up the leaves of both operands. Two structured operands
// are paired by leaf path below the reference, so an association compares
// with $self or with another association to the same target. A structured
// operand compares with null leaf by leaf, and with any other value only
// when it has a single leaf.
func (x exprCtx) pairLeaves(left, right item) ([][2]cqn.Expr, error) {
	if left.st != nil && right.st != nil {
		lrefs, rrefs := left.st.refs(), right.st.refs()
		byKey := make(map[string]*cqn.Ref, len(rrefs))
		for _, r := range rrefs {
			byKey[r.key] = r.ref
		}
		if len(lrefs) == 0 || len(lrefs) != len(rrefs) {
			return nil, x.mismatch(left.st, right.st)
		}
		pairs := make([][2]cqn.Expr, 0, len(lrefs))
		for _, l := range lrefs {
			r, ok := byKey[l.key]
			if !ok {
				return nil, x.mismatch(left.st, right.st)
			}
			pairs = append(pairs, [2]cqn.Expr{l.ref, r})
		}
		return pairs, nil
	}

	st, other, flipped := left.st, right.expr, false
	if st == nil {
		st, other, flipped = right.st, left.expr, true
	}
	refs := st.refs()
	if len(refs) == 0 {
		return nil, x.errorf(PathShapeError, st.text, "%s has no foreign keys to compare", st.text)
	}
	if len(refs) > 1 && !isNull(other) {
		return nil, x.errorf(PathShapeError, st.text, "structured value %s can only be compared with null or a matching structure", st.text)
	}
	pairs := make([][2]cqn.Expr, 0, len(refs))
	for _, r := range refs {
		if flipped {
			pairs = append(pairs, [2]cqn.Expr{other, r.ref})
		} else {
			pairs = append(pairs, [2]cqn.Expr{r.ref, other})
		}
	}
	return pairs, nil
}

func (x exprCtx) mismatch(a, b *resolved) error {
	return x.errorf(PathShapeError, a.text, "cannot compare %s with %s: their leaves differ", a.text, b.text)
}

func isNull(e cqn.Expr) bool {
	v, ok := e.(*cqn.Val)
	return ok && v.IsNull()
}
