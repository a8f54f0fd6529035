// Package lower rewrites structural queries into flat, SQL-shaped queries.
//
// Input queries may navigate associations (author.name), attach infix
// filters to path steps (books[stock > 0]), test reachability with
// "exists", select from scoped paths (Authors:books), nest projections
// (author { name }) and compare structured values. The lowered query only
// contains alias-qualified flat columns, a left-deep chain of LEFT joins
// and correlated subqueries.
//
// Lowering is a pure function of the query and the linked model. All
// mutable state (aliases, scopes, join tables) lives in a compilation that
// is created per call and discarded on return, so one Model can serve any
// number of concurrent calls.
//
// Alias rules:
//   - a table source is aliased by the last segment of its entity name
//     (bookshop.Books becomes Books) unless the query names an alias,
//   - a join or subquery is aliased by the association name,
//   - a taken alias gets a numeric suffix starting at 2 (parent, parent2),
//     checked case-insensitively against the whole ancestor chain,
//   - joins with the same source alias, association path and filter share
//     one alias.
package lower
