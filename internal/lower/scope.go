package lower

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/roach88/cqnlower/internal/cqn"
	"github.com/roach88/cqnlower/internal/csn"
)

// node is a table source visible to path resolution: an entity from the
// FROM clause, a join target, or the source of a correlated subquery.
type node struct {
	alias string
	def   *csn.Definition // nil for sub-selects
	names []string        // output columns of a sub-select
	scope *scope

	// synthetic sources are introduced by lowering (exists and expand
	// subqueries). Their aliases are not visible to references written in
	// the query.
	synthetic bool
}

func (n *node) hasColumn(name string) bool {
	for _, c := range n.names {
		if c == name {
			return true
		}
	}
	return false
}

// join is a LEFT join created while resolving an association path.
type join struct {
	target *node
	on     []cqn.Expr
}

// scope is the lexical scope of one SELECT. Child scopes belong to
// correlated subqueries and see the aliases of all ancestors.
type scope struct {
	c      *compilation
	parent *scope
	id     int // creation order within the compilation

	nodes   []*node         // explicit sources, in FROM order
	aliases map[string]bool // lower-cased aliases taken in this scope
	joins   []*join         // in creation order
	byKey   map[string]*join
}

func newScope(c *compilation, parent *scope) *scope {
	c.scopes++
	return &scope{
		c:       c,
		parent:  parent,
		id:      c.scopes,
		aliases: make(map[string]bool),
		byKey:   make(map[string]*join),
	}
}

func (s *scope) child() *scope {
	return newScope(s.c, s)
}

// taken reports whether alias is used in this scope or any ancestor.
// SQL identifiers are case-insensitive, so is the comparison.
func (s *scope) taken(alias string) bool {
	key := strings.ToLower(alias)
	for sc := s; sc != nil; sc = sc.parent {
		if sc.aliases[key] {
			return true
		}
	}
	return false
}

// allocate returns base if it is free, else base2, base3, ...
func (s *scope) allocate(base string) string {
	alias := base
	for n := 2; s.taken(alias); n++ {
		alias = base + strconv.Itoa(n)
	}
	s.aliases[strings.ToLower(alias)] = true
	s.c.Log("allocated alias %s", alias)
	return alias
}

// register records an alias given in the input as is. Two sources of one
// scope cannot share an alias; shadowing an ancestor's alias is fine.
func (s *scope) register(alias string) error {
	key := strings.ToLower(alias)
	if s.aliases[key] {
		return &Error{Kind: ReferenceError, Path: alias, Clause: "from", Message: fmt.Sprintf("alias %s is already used in this FROM clause", alias)}
	}
	s.aliases[key] = true
	return nil
}

// addNode registers an explicit source of this scope.
func (s *scope) addNode(alias string, def *csn.Definition) *node {
	n := &node{alias: alias, def: def, scope: s}
	s.nodes = append(s.nodes, n)
	return n
}

// addSynthetic registers a source introduced by lowering.
func (s *scope) addSynthetic(alias string, def *csn.Definition) *node {
	n := s.addNode(alias, def)
	n.synthetic = true
	return n
}

// lookupAlias finds a source by alias, innermost scope first.
func (s *scope) lookupAlias(alias string) *node {
	for sc := s; sc != nil; sc = sc.parent {
		for _, n := range sc.nodes {
			if n.alias == alias && !n.synthetic {
				return n
			}
		}
	}
	return nil
}

// withJoins appends the joins of this scope to from as a left-deep chain.
func (s *scope) withJoins(from cqn.Source) cqn.Source {
	for _, j := range s.joins {
		from = &cqn.Join{
			Kind:  "left",
			Left:  from,
			Right: tableRef(j.target),
			On:    j.on,
		}
	}
	return from
}

func tableRef(n *node) *cqn.TableRef {
	return &cqn.TableRef{Ref: cqn.NewRef(n.def.Name), As: n.alias}
}

// columnRef builds the flat reference alias.column.
func columnRef(alias, column string) *cqn.Ref {
	return cqn.NewRef(alias, column)
}
