package lower

import (
	"fmt"
	"slices"
	"strings"

	"github.com/roach88/cqnlower/internal/cqn"
	"github.com/roach88/cqnlower/internal/csn"
)

// exprMode controls whether path resolution may add joins.
type exprMode int

const (
	// queryMode allows association paths; each join-relevant step becomes
	// a LEFT join of the scope owning the path's source.
	queryMode exprMode = iota
	// filterMode is used for infix filters and on-conditions. Only
	// foreign-key shortcuts may cross an association there.
	filterMode
)

// exprCtx is what a token list is lowered against.
type exprCtx struct {
	s      *scope
	mode   exprMode
	clause string

	// implicit is the source relative references bind to. When nil the
	// scope's sources are searched.
	implicit *node

	// on is set while lowering a declared on-condition.
	on *onBinding
}

// onBinding binds the two sides of a declared on-condition: references
// starting with the association name read from target, $self and relative
// references read from source.
type onBinding struct {
	assoc  string
	source *node
	target *node
}

func (x exprCtx) errorf(kind ErrorKind, path, format string, args ...any) error {
	return &Error{Kind: kind, Path: path, Clause: x.clause, Message: fmt.Sprintf(format, args...)}
}

// resolved is a reference resolved to a source and its flat leaves.
type resolved struct {
	node *node
	// path is the element path inside node.def. For foreign-key shortcuts
	// it continues past the association into the key.
	path []string
	// elem is the final element; nil for flat column names and shortcuts.
	elem   *csn.Element
	leaves []csn.Leaf
	// column is set when the source is a sub-select.
	column string
	step   cqn.Step
	name   string // default output name
	text   string // the reference as written
}

func (r *resolved) isAssociation() bool {
	return r.elem != nil && r.elem.IsAssociation()
}

func (r *resolved) isStructure() bool {
	return !r.isAssociation() && !r.isScalar()
}

func (r *resolved) isScalar() bool {
	if r.column != "" {
		return true
	}
	if r.isAssociation() {
		return false
	}
	return len(r.leaves) == 1 && len(r.leaves[0].Path) == len(r.path)
}

// leafRef is one flattened leaf of a resolved reference.
type leafRef struct {
	key    string   // leaf path below the reference, used to pair leaves
	sub    []string // the same path as segments
	column string
	ref    *cqn.Ref
}

func (r *resolved) refs() []leafRef {
	if r.column != "" {
		return []leafRef{{column: r.column, ref: columnRef(r.node.alias, r.column)}}
	}
	out := make([]leafRef, len(r.leaves))
	for i, l := range r.leaves {
		sub := l.Path[min(len(r.path), len(l.Path)):]
		out[i] = leafRef{
			key:    strings.Join(sub, "_"),
			sub:    sub,
			column: l.Column,
			ref:    columnRef(r.node.alias, l.Column),
		}
	}
	return out
}

// isVariable reports whether ref names a runtime variable such as $user.
// $self is not a variable; it names the source of the reference.
func isVariable(ref *cqn.Ref) bool {
	return len(ref.Steps) > 0 && strings.HasPrefix(ref.Steps[0].ID, "$") && ref.Steps[0].ID != "$self"
}

func nameOf(steps []cqn.Step) string {
	ids := make([]string, len(steps))
	for i, s := range steps {
		ids[i] = s.ID
	}
	return strings.Join(ids, "_")
}

// resolve walks a reference. Refs with more than one step whose first step
// is a visible source alias start there; all others are relative.
func (x exprCtx) resolve(ref *cqn.Ref) (*resolved, error) {
	text := ref.String()
	steps := ref.Steps
	if len(steps) == 0 {
		return nil, x.errorf(ReferenceError, text, "empty reference")
	}

	if x.on != nil {
		first := steps[0].ID
		switch {
		case first == x.on.assoc && len(steps) > 1:
			return x.walk(x.on.target, steps[1:], text, nameOf(steps[1:]))
		case first == "$self" && len(steps) == 1:
			src := x.on.source
			return &resolved{node: src, leaves: src.def.KeyLeaves(), name: first, text: text}, nil
		case first == "$self":
			return x.walk(x.on.source, steps[1:], text, nameOf(steps[1:]))
		default:
			return x.walk(x.on.source, steps, text, nameOf(steps))
		}
	}

	if steps[0].ID == "$self" {
		return x.resolveSelf(steps, text)
	}
	if len(steps) > 1 {
		if n := x.s.lookupAlias(steps[0].ID); n != nil {
			return x.walk(n, steps[1:], text, nameOf(steps[1:]))
		}
	}
	n, err := x.implicitNode(steps[0].ID, text)
	if err != nil {
		return nil, err
	}
	return x.walk(n, steps, text, nameOf(steps))
}

// resolveSelf binds $self outside on-conditions to the source unqualified
// references resolve against, so $self.title reads the same column as title.
// A bare $self stands for the keys of that source.
func (x exprCtx) resolveSelf(steps []cqn.Step, text string) (*resolved, error) {
	if steps[0].HasModifiers() {
		return nil, x.errorf(PathShapeError, text, "$self cannot carry a filter")
	}
	n, err := x.selfNode(steps, text)
	if err != nil {
		return nil, err
	}
	rest := steps[1:]
	if len(rest) > 0 {
		return x.walk(n, rest, text, nameOf(rest))
	}
	if n.def == nil {
		return nil, x.errorf(PathShapeError, text, "$self of sub-select %s has no keys", n.alias)
	}
	return &resolved{node: n, leaves: n.def.KeyLeaves(), name: "$self", text: text}, nil
}

// selfNode returns the source $self stands for in a reference that starts
// with it.
func (x exprCtx) selfNode(steps []cqn.Step, text string) (*node, error) {
	first := steps[0].ID
	if len(steps) > 1 {
		first = steps[1].ID
	}
	return x.implicitNode(first, text)
}

// implicitNode finds the source a relative reference starts from: the
// context's implicit source, the single source of the nearest scope that
// has sources, or the unique source declaring the element.
func (x exprCtx) implicitNode(first, text string) (*node, error) {
	if x.implicit != nil {
		return x.implicit, nil
	}
	for sc := x.s; sc != nil; sc = sc.parent {
		switch len(sc.nodes) {
		case 0:
			continue
		case 1:
			return sc.nodes[0], nil
		}
		var found *node
		for _, n := range sc.nodes {
			if !n.declares(first) {
				continue
			}
			if found != nil {
				return nil, x.errorf(ReferenceError, text, "%s is ambiguous between %s and %s", first, found.alias, n.alias)
			}
			found = n
		}
		if found == nil {
			return nil, x.errorf(ReferenceError, text, "no source declares %s", first)
		}
		return found, nil
	}
	return nil, x.errorf(ReferenceError, text, "no source to resolve %s against", first)
}

func (n *node) declares(name string) bool {
	if n.def == nil {
		return n.hasColumn(name)
	}
	if _, ok := n.def.Element(name); ok {
		return true
	}
	_, ok := n.def.Column(name)
	return ok
}

func member(def *csn.Definition, members []*csn.Element, name string) (*csn.Element, bool) {
	if members == nil {
		return def.Element(name)
	}
	for _, el := range members {
		if el.Name == name {
			return el, true
		}
	}
	return nil, false
}

// walk resolves steps starting at n, joining through associations when
// the mode allows it.
func (x exprCtx) walk(n *node, steps []cqn.Step, text, name string) (*resolved, error) {
	if n.def == nil {
		if len(steps) == 1 && n.hasColumn(steps[0].ID) && !steps[0].HasModifiers() {
			return &resolved{node: n, column: steps[0].ID, step: steps[0], name: name, text: text}, nil
		}
		return nil, x.errorf(ReferenceError, text, "%s is not a column of %s", steps[0].ID, n.alias)
	}

	var path []string
	var members []*csn.Element
	for i, step := range steps {
		last := i == len(steps)-1
		el, ok := member(n.def, members, step.ID)
		if !ok {
			if len(path) == 0 && last && !step.HasModifiers() {
				if leaf, ok := n.def.Column(step.ID); ok {
					return &resolved{node: n, path: leaf.Path, leaves: []csn.Leaf{leaf}, step: step, name: name, text: text}, nil
				}
			}
			return nil, x.errorf(ReferenceError, text, "%s has no element %s", describe(n, path), step.ID)
		}
		path = append(path, el.Name)

		switch {
		case el.IsStructure():
			if step.HasModifiers() {
				return nil, x.errorf(PathShapeError, text, "structure %s cannot carry a filter", el.Name)
			}
			if last {
				return &resolved{node: n, path: path, elem: el, leaves: n.def.LeavesUnder(path), step: step, name: name, text: text}, nil
			}
			members = el.Elements

		case el.IsAssociation():
			if last {
				return &resolved{node: n, path: path, elem: el, leaves: n.def.LeavesUnder(path), step: step, name: name, text: text}, nil
			}
			if r := shortcut(n, path, el, step, steps[i+1:]); r != nil {
				ok, err := x.useShortcut(n, path)
				if err != nil {
					return nil, err
				}
				if ok {
					r.name, r.text = name, text
					return r, nil
				}
			}
			if x.mode == filterMode {
				return nil, x.errorf(PathShapeError, text, "only foreign keys of %s can be used here", el.Name)
			}
			target, err := x.join(n, path, el, step)
			if err != nil {
				return nil, err
			}
			n, path, members = target, nil, nil

		default:
			if !last {
				return nil, x.errorf(ReferenceError, text, "%s is a scalar and has no element %s", el.Name, steps[i+1].ID)
			}
			if step.HasModifiers() {
				return nil, x.errorf(PathShapeError, text, "scalar %s cannot carry a filter", el.Name)
			}
			return &resolved{node: n, path: path, elem: el, leaves: n.def.LeavesUnder(path), step: step, name: name, text: text}, nil
		}
	}
	return nil, x.errorf(ReferenceError, text, "empty reference")
}

// shortcut resolves a.b to the source-side foreign-key column(s) when b is
// (part of) a key of the unfiltered managed association a.
func shortcut(n *node, path []string, el *csn.Element, step cqn.Step, rest []cqn.Step) *resolved {
	if el.Association() != csn.Managed || step.HasModifiers() {
		return nil
	}
	full := slices.Clone(path)
	for _, s := range rest {
		if s.HasModifiers() {
			return nil
		}
		full = append(full, s.ID)
	}
	leaves := n.def.LeavesUnder(full)
	if len(leaves) == 0 {
		return nil
	}
	return &resolved{node: n, path: full, leaves: leaves, step: rest[len(rest)-1]}
}

// useShortcut reports whether a foreign-key shortcut through path may be
// used. Filters and on-conditions always use it. Elsewhere the shortcut is
// recorded, and it is dropped on the next pass when the same join is needed
// anyway, so that both references read from one join.
func (x exprCtx) useShortcut(n *node, path []string) (bool, error) {
	if x.mode == filterMode {
		return true, nil
	}
	key, err := joinKey(n, path, nil)
	if err != nil {
		return false, x.errorf(ReferenceError, strings.Join(path, "."), "join key: %v", err)
	}
	c := n.scope.c
	if c.joinOnly[key] {
		c.Log("%s.%s is joined elsewhere, not using its foreign key", n.alias, strings.Join(path, "."))
		return false, nil
	}
	c.shortcuts[key] = true
	return true, nil
}

func describe(n *node, path []string) string {
	if len(path) == 0 {
		return n.def.Name
	}
	return n.def.Name + ":" + strings.Join(path, ".")
}
