// Package cqn provides the structural query notation shared by the lowerer,
// the SQL renderer and the query decoder.
//
// A query is a *Select whose clauses are built from sealed expression
// tokens. The notation is used on both sides of lowering:
//
//	[structural query] → lower.Lower → [flat query] → querysql
//
// Before lowering, references may navigate associations, carry infix
// filters on any step, name structured elements, appear after an "exists"
// token, and columns may carry nested projections (expand / inline).
// After lowering, every reference is table-alias-qualified and names a
// single flat column, joins are explicit, and EXISTS predicates and
// expands are correlated subqueries.
//
// CONDITIONS ARE TOKEN LISTS:
//
// A condition (where, having, on, infix filter) is a flat []Expr exactly
// like a CQN "xpr": operators and keywords are Op tokens placed between
// operand tokens, and parentheses are explicit *Xpr nodes.
//
//	where: [ref(title), "=", val("Dune"), "and", "exists", ref(author)]
//
// Keeping the token shape (instead of a binary expression tree) lets the
// lowerer preserve the exact shape of user conditions, including
// parenthesisation, which downstream renderers reproduce verbatim.
//
// SEALED INTERFACES:
//
// Expr and Source are sealed with marker methods. Only types in this
// package implement them, so renderers can switch exhaustively:
//
//	switch e := expr.(type) {
//	case *Ref:
//	case *Val:
//	case Op:
//	...
//	}
//
// CANONICAL FORM:
//
// ToJSON converts any node into its CQN JSON shape and MarshalCanonical
// serializes that shape with RFC 8785 key ordering. The canonical bytes are
// used for golden files and, hashed with a domain prefix, as structural keys
// when the lowerer deduplicates joins.
package cqn
