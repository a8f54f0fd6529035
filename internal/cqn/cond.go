package cqn

// And conjoins conditions with "and".
//
// Empty parts are skipped and a single remaining part is returned as is.
// Otherwise a part with a top-level "or" is wrapped in an Xpr so precedence
// survives the conjunction; parts consisting only of "and"-joined terms are
// spliced without parentheses.
func And(parts ...[]Expr) []Expr {
	nonEmpty := 0
	for _, p := range parts {
		if len(p) > 0 {
			nonEmpty++
		}
	}
	var out []Expr
	for _, p := range parts {
		if len(p) == 0 {
			continue
		}
		if len(out) > 0 {
			out = append(out, OpAnd)
		}
		if nonEmpty > 1 && HasTopLevelOr(p) {
			out = append(out, &Xpr{Tokens: p})
			continue
		}
		out = append(out, p...)
	}
	return out
}

// HasTopLevelOr reports whether tokens contain an "or" outside parentheses.
func HasTopLevelOr(tokens []Expr) bool {
	for _, t := range tokens {
		if op, ok := t.(Op); ok && op == OpOr {
			return true
		}
	}
	return false
}

// Comparison builds the token list "left op right".
func Comparison(left Expr, op Op, right Expr) []Expr {
	return []Expr{left, op, right}
}

// Null returns the NULL literal.
func Null() *Val {
	return &Val{}
}
