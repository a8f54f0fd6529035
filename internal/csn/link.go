package csn

import (
	"fmt"
	"slices"
	"strings"

	"github.com/hashicorp/go-multierror"
	"github.com/roach88/cqnlower/internal/cqn"
)

// LinkError reports a schema that cannot be linked.
type LinkError struct {
	Definition string
	Element    string
	Message    string
}

func (e *LinkError) Error() string {
	if e.Element == "" {
		return fmt.Sprintf("%s: %s", e.Definition, e.Message)
	}
	return fmt.Sprintf("%s.%s: %s", e.Definition, e.Element, e.Message)
}

type linkState int

const (
	unlinked linkState = iota
	linking
	linked
)

type linker struct {
	m        *Model
	defState map[*Definition]linkState
	elState  map[*Element]linkState
	errs     *multierror.Error
}

// NewModel links definitions into a Model. All link errors are collected
// and returned together.
func NewModel(defs ...*Definition) (*Model, error) {
	m := &Model{defs: make(map[string]*Definition, len(defs))}
	l := &linker{
		m:        m,
		defState: make(map[*Definition]linkState),
		elState:  make(map[*Element]linkState),
	}

	for _, d := range defs {
		if _, dup := m.defs[d.Name]; dup {
			l.fail(d.Name, "", "duplicate definition")
			continue
		}
		if d.Kind == "" {
			d.Kind = KindEntity
		}
		m.defs[d.Name] = d
		m.order = append(m.order, d)
	}

	for _, d := range m.order {
		l.resolveDefinition(d)
	}
	for _, d := range m.order {
		l.linkAssociations(d, d.Elements)
	}
	for _, d := range m.order {
		l.classify(d, d.Elements)
	}
	if err := l.errs.ErrorOrNil(); err != nil {
		return nil, err
	}

	for _, d := range m.order {
		l.index(d)
	}
	if err := l.errs.ErrorOrNil(); err != nil {
		return nil, err
	}
	return m, nil
}

func (l *linker) fail(def, element, format string, args ...any) {
	l.errs = multierror.Append(l.errs, &LinkError{
		Definition: def,
		Element:    element,
		Message:    fmt.Sprintf(format, args...),
	})
}

func (l *linker) resolveDefinition(d *Definition) {
	switch l.defState[d] {
	case linked:
		return
	case linking:
		l.fail(d.Name, "", "cyclic type definition")
		return
	}
	l.defState[d] = linking
	defer func() { l.defState[d] = linked }()

	if d.Projection != "" && len(d.Elements) == 0 {
		src, ok := l.m.defs[d.Projection]
		if !ok {
			l.fail(d.Name, "", "projection on unknown entity %q", d.Projection)
			return
		}
		l.resolveDefinition(src)
		d.Elements = cloneElements(src.Elements)
	}
	for _, el := range d.Elements {
		l.resolveElement(d, el)
	}
}

func (l *linker) resolveElement(d *Definition, el *Element) {
	switch l.elState[el] {
	case linked:
		return
	case linking:
		l.fail(d.Name, el.Name, "cyclic type reference")
		return
	}
	l.elState[el] = linking
	defer func() { l.elState[el] = linked }()

	switch {
	case el.TypeOf != "":
		l.resolveTypeOf(d, el)
	case el.Target == "" && len(el.Elements) == 0 && el.Type != "" && !strings.HasPrefix(el.Type, "cds."):
		td, ok := l.m.defs[el.Type]
		if !ok {
			l.fail(d.Name, el.Name, "unknown type %q", el.Type)
			return
		}
		l.resolveDefinition(td)
		if len(td.Elements) > 0 {
			el.Elements = cloneElements(td.Elements)
		} else if td.Type != "" {
			el.Type = td.Type
		}
	}
	for _, child := range el.Elements {
		l.resolveElement(d, child)
	}
}

func (l *linker) resolveTypeOf(d *Definition, el *Element) {
	defName, path, ok := strings.Cut(el.TypeOf, ":")
	if !ok {
		defName, path = d.Name, el.TypeOf
	}
	src, found := l.m.defs[defName]
	if !found {
		l.fail(d.Name, el.Name, "type of unknown definition %q", defName)
		return
	}
	if l.defState[src] == unlinked {
		l.resolveDefinition(src)
	}
	ref, found := l.elementAt(src, strings.Split(path, "."))
	if !found {
		l.fail(d.Name, el.Name, "type of unknown element %q", el.TypeOf)
		return
	}
	el.Type = ref.Type
	if len(el.Elements) == 0 {
		el.Elements = cloneElements(ref.Elements)
	}
	if el.Target == "" {
		el.Target = ref.Target
		el.Composition = ref.Composition
		el.ToMany = ref.ToMany
		el.Keys = slices.Clone(ref.Keys)
		el.On = slices.Clone(ref.On)
	}
}

// elementAt walks a path, resolving each element on the way so that
// members of named types are visible.
func (l *linker) elementAt(d *Definition, path []string) (*Element, bool) {
	el, ok := d.Element(path[0])
	if ok {
		l.resolveElement(d, el)
	}
	for _, name := range path[1:] {
		if !ok || !el.IsStructure() {
			return nil, false
		}
		if el, ok = el.Member(name); ok {
			l.resolveElement(d, el)
		}
	}
	return el, ok
}

func (l *linker) linkAssociations(d *Definition, elements []*Element) {
	for _, el := range elements {
		if el.IsStructure() {
			l.linkAssociations(d, el.Elements)
			continue
		}
		if !el.IsAssociation() {
			continue
		}
		target, ok := l.m.defs[el.Target]
		if !ok {
			l.fail(d.Name, el.Name, "unknown association target %q", el.Target)
			continue
		}
		if len(el.On) > 0 {
			continue
		}
		if el.ToMany && len(el.Keys) == 0 {
			l.fail(d.Name, el.Name, "to-many association needs an on-condition")
			continue
		}
		if len(el.Keys) == 0 {
			for _, k := range target.Elements {
				if k.Key {
					el.Keys = append(el.Keys, ForeignKey{Ref: []string{k.Name}})
				}
			}
			if len(el.Keys) == 0 {
				l.fail(d.Name, el.Name, "target %s has no key", target.Name)
			}
		}
	}
}

func (l *linker) classify(d *Definition, elements []*Element) {
	for _, el := range elements {
		if el.IsStructure() {
			l.classify(d, el.Elements)
			continue
		}
		if !el.IsAssociation() {
			continue
		}
		switch {
		case len(el.On) == 0:
			el.kind = Managed
		case isBacklink(l.m, el, el.On):
			el.kind = Backlink
		default:
			el.kind = Unmanaged
		}
	}
}

// isBacklink reports whether an on-condition compares $self with a managed
// association of the target, e.g. books.author = $self.
func isBacklink(m *Model, el *Element, tokens []cqn.Expr) bool {
	target, ok := m.defs[el.Target]
	if !ok {
		return false
	}
	targetAssoc := func(e cqn.Expr) bool {
		ref, ok := e.(*cqn.Ref)
		if !ok || len(ref.Steps) < 2 || ref.Steps[0].ID != el.Name {
			return false
		}
		te, ok := m.ElementAt(target, ref.IDs()[1:])
		return ok && te.IsAssociation() && len(te.On) == 0
	}
	for i, tok := range tokens {
		if x, ok := tok.(*cqn.Xpr); ok && isBacklink(m, el, x.Tokens) {
			return true
		}
		if i+2 >= len(tokens) || tokens[i+1] != cqn.OpEq {
			continue
		}
		left, right := tok, tokens[i+2]
		if (isSelf(left) && targetAssoc(right)) || (isSelf(right) && targetAssoc(left)) {
			return true
		}
	}
	return false
}

func isSelf(e cqn.Expr) bool {
	ref, ok := e.(*cqn.Ref)
	return ok && len(ref.Steps) == 1 && ref.Steps[0].ID == "$self"
}

func (l *linker) index(d *Definition) {
	d.leaves = nil
	d.columns = make(map[string]int)
	for _, el := range d.Elements {
		leaves, err := l.m.flatten(el, el.Name, []string{el.Name}, el.Key, el.Virtual, map[*Element]bool{})
		if err != nil {
			l.fail(d.Name, el.Name, "%v", err)
			continue
		}
		for _, leaf := range leaves {
			if _, dup := d.columns[leaf.Column]; dup {
				l.fail(d.Name, el.Name, "column %s is declared twice", leaf.Column)
				continue
			}
			d.columns[leaf.Column] = len(d.leaves)
			d.leaves = append(d.leaves, leaf)
		}
	}
}

// flatten expands an element into its scalar leaves. Foreign keys of
// managed associations flatten recursively through structured keys and
// keys that are associations themselves.
func (m *Model) flatten(el *Element, name string, path []string, key, virtual bool, visiting map[*Element]bool) ([]Leaf, error) {
	switch {
	case el.IsAssociation():
		if el.kind != Managed {
			return nil, nil
		}
		if visiting[el] {
			return nil, fmt.Errorf("foreign keys of %s form a cycle", el.Name)
		}
		visiting[el] = true
		defer delete(visiting, el)

		target := m.defs[el.Target]
		var out []Leaf
		for _, k := range el.Keys {
			te, ok := m.ElementAt(target, k.Ref)
			if !ok {
				return nil, fmt.Errorf("key %s not found in %s", strings.Join(k.Ref, "."), target.Name)
			}
			fkName := k.Name()
			sub, err := m.flatten(te, fkName, append(slices.Clone(path), k.Ref...), key, virtual, visiting)
			if err != nil {
				return nil, err
			}
			for _, leaf := range sub {
				suffix := leaf.Column[len(fkName):]
				leaf.Column = name + "_" + leaf.Column
				leaf.TargetColumn = strings.Join(k.Ref, "_") + suffix
				out = append(out, leaf)
			}
		}
		return out, nil
	case el.IsStructure():
		var out []Leaf
		for _, child := range el.Elements {
			sub, err := m.flatten(child, name+"_"+child.Name, append(slices.Clone(path), child.Name), key, virtual || child.Virtual, visiting)
			if err != nil {
				return nil, err
			}
			out = append(out, sub...)
		}
		return out, nil
	default:
		return []Leaf{{Column: name, Path: path, Element: el, Key: key, Virtual: virtual}}, nil
	}
}

func cloneElements(elements []*Element) []*Element {
	out := make([]*Element, len(elements))
	for i, el := range elements {
		c := *el
		c.Elements = cloneElements(el.Elements)
		c.Keys = slices.Clone(el.Keys)
		c.On = slices.Clone(el.On)
		out[i] = &c
	}
	return out
}
