package lower

import (
	"github.com/roach88/cqnlower/internal/cqn"
)

// item is a lowered token. Structured operands stay unflattened until the
// comparison around them is known.
type item struct {
	expr cqn.Expr
	st   *resolved
}

func (it item) isOp() bool {
	_, ok := it.expr.(cqn.Op)
	return ok && it.st == nil
}

// tokens lowers a token list: references become flat columns or joins,
// "exists ref" becomes a correlated subquery and comparisons of structured
// operands are flattened.
func (x exprCtx) tokens(in []cqn.Expr) ([]cqn.Expr, error) {
	if len(in) == 0 {
		return nil, nil
	}
	items := make([]item, 0, len(in))
	for i := 0; i < len(in); i++ {
		if in[i] == cqn.OpExists && i+1 < len(in) {
			if ref, ok := in[i+1].(*cqn.Ref); ok {
				sub, err := x.exists(ref)
				if err != nil {
					return nil, err
				}
				items = append(items, item{expr: cqn.OpExists}, item{expr: sub})
				i++
				continue
			}
		}
		it, err := x.token(in[i])
		if err != nil {
			return nil, err
		}
		items = append(items, it)
	}
	return x.compare(items)
}

func (x exprCtx) token(tok cqn.Expr) (item, error) {
	switch t := tok.(type) {
	case *cqn.Ref:
		if isVariable(t) {
			return item{expr: t}, nil
		}
		r, err := x.resolve(t)
		if err != nil {
			return item{}, err
		}
		if r.isScalar() {
			return item{expr: r.refs()[0].ref}, nil
		}
		return item{st: r}, nil
	case *cqn.Xpr:
		inner, err := x.tokens(t.Tokens)
		if err != nil {
			return item{}, err
		}
		return item{expr: &cqn.Xpr{Tokens: inner}}, nil
	case *cqn.Func:
		args, err := x.exprs(t.Args)
		if err != nil {
			return item{}, err
		}
		return item{expr: &cqn.Func{Name: t.Name, Args: args}}, nil
	case *cqn.List:
		items, err := x.exprs(t.Items)
		if err != nil {
			return item{}, err
		}
		return item{expr: &cqn.List{Items: items}}, nil
	case *cqn.SubQuery:
		sel, err := x.s.c.lowerSelect(x.s.child(), t.Select, x.clause)
		if err != nil {
			return item{}, err
		}
		return item{expr: &cqn.SubQuery{Select: sel}}, nil
	default:
		return item{expr: tok}, nil
	}
}

// exprs lowers a list of standalone expressions such as function
// arguments.
func (x exprCtx) exprs(in []cqn.Expr) ([]cqn.Expr, error) {
	if in == nil {
		return nil, nil
	}
	out := make([]cqn.Expr, 0, len(in))
	for _, e := range in {
		lowered, err := x.expr(e)
		if err != nil {
			return nil, err
		}
		out = append(out, lowered)
	}
	return out, nil
}

// expr lowers a single expression.
func (x exprCtx) expr(e cqn.Expr) (cqn.Expr, error) {
	tokens, err := x.tokens([]cqn.Expr{e})
	if err != nil {
		return nil, err
	}
	if len(tokens) == 1 {
		return tokens[0], nil
	}
	return &cqn.Xpr{Tokens: tokens}, nil
}

// compare flattens comparisons with a structured operand and replaces the
// remaining structured operands by their single leaf.
func (x exprCtx) compare(items []item) ([]cqn.Expr, error) {
	out := make([]cqn.Expr, 0, len(items))
	for i := 0; i < len(items); i++ {
		it := items[i]
		if op, rhs, ok := comparisonAt(items, i); ok && (it.st != nil || items[rhs].st != nil) {
			negated := i > 0 && items[i-1].expr == cqn.OpNot
			span := rhs - i + 1
			if negated {
				span++
			}
			siblings := len(items) > span

			expanded, n, err := x.compareStructured(it, op, items[rhs])
			if err != nil {
				return nil, err
			}
			if siblings || (negated && n > 1) {
				out = append(out, &cqn.Xpr{Tokens: expanded})
			} else {
				out = append(out, expanded...)
			}
			i = rhs
			continue
		}
		if it.st != nil {
			refs := it.st.refs()
			if len(refs) != 1 {
				if op := operatorAround(items, i); op != "" {
					return nil, x.errorf(UnsupportedOperatorError, it.st.text,
						"operator %s is not supported on structured operand %s", op, it.st.text)
				}
				return nil, x.errorf(PathShapeError, it.st.text, "structured value %s can only be compared with = or <>", it.st.text)
			}
			out = append(out, refs[0].ref)
			continue
		}
		out = append(out, it.expr)
	}
	return out, nil
}

// operatorAround returns the operator applied to the operand at items[i],
// such as "in", "not in" or "between", or "" when the operand stands alone.
func operatorAround(items []item, i int) string {
	connective := func(op cqn.Op) bool { return op == cqn.OpAnd || op == cqn.OpOr }
	if i+1 < len(items) && items[i+1].isOp() {
		op := items[i+1].expr.(cqn.Op)
		if op == cqn.OpNot && i+2 < len(items) && items[i+2].isOp() {
			return "not " + string(items[i+2].expr.(cqn.Op))
		}
		if !connective(op) && op != cqn.OpNot {
			return string(op)
		}
	}
	if i > 0 && items[i-1].isOp() {
		op := items[i-1].expr.(cqn.Op)
		if connective(op) || op == cqn.OpNot || op == cqn.OpExists {
			return ""
		}
		if i > 1 && items[i-2].expr == cqn.OpNot {
			return "not " + string(op)
		}
		return string(op)
	}
	return ""
}

var comparisonOps = map[cqn.Op]bool{
	"=": true, "==": true, "<>": true, "!=": true,
	"<": true, ">": true, "<=": true, ">=": true,
	"like": true, "is": true,
}

// comparisonAt reports whether items[i] starts a binary comparison and
// returns the operator and the index of the right operand. "is not" is
// returned as one operator.
func comparisonAt(items []item, i int) (string, int, bool) {
	if items[i].isOp() || i+2 >= len(items) {
		return "", 0, false
	}
	op, ok := items[i+1].expr.(cqn.Op)
	if !ok || !comparisonOps[op] {
		return "", 0, false
	}
	rhs := i + 2
	name := string(op)
	if op == cqn.OpIs && items[rhs].expr == cqn.OpNot {
		name, rhs = "is not", rhs+1
	}
	if rhs >= len(items) || items[rhs].isOp() {
		return "", 0, false
	}
	return name, rhs, true
}
