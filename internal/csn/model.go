package csn

import (
	"slices"
	"strings"

	"github.com/roach88/cqnlower/internal/cqn"
)

// Kind is the kind of a definition.
type Kind string

const (
	KindEntity Kind = "entity"
	KindType   Kind = "type"
	KindAspect Kind = "aspect"
)

// AssociationKind classifies an element's association shape.
type AssociationKind int

const (
	// NotAssociation is a scalar or structured element.
	NotAssociation AssociationKind = iota
	// Managed associations link through foreign keys on the source side.
	Managed
	// Unmanaged associations link through a declared on-condition.
	Unmanaged
	// Backlink is an unmanaged association whose on-condition compares
	// $self with a managed association of the target, possibly in several
	// variants joined by "or".
	Backlink
)

func (k AssociationKind) String() string {
	switch k {
	case Managed:
		return "managed"
	case Unmanaged:
		return "unmanaged"
	case Backlink:
		return "backlink"
	default:
		return "none"
	}
}

// ForeignKey is one declared key of a managed association.
type ForeignKey struct {
	Ref []string // element path in the target entity
	As  string   // optional alias replacing the path in column names
}

// Name returns the name used in flattened foreign-key columns.
func (k ForeignKey) Name() string {
	if k.As != "" {
		return k.As
	}
	return strings.Join(k.Ref, "_")
}

// Element is a member of a definition or of a structure.
type Element struct {
	Name string
	Type string // scalar type (cds.String) or a named type

	// Elements is the ordered member list of a structured element. After
	// linking it also holds the members of a named structured type.
	Elements []*Element

	// TypeOf is a "type of" reference in the form Entity:path.to.element.
	TypeOf string

	Key     bool
	Virtual bool
	NotNull bool

	// Association data. Target is empty for non-associations.
	Target      string
	Composition bool
	ToMany      bool
	Keys        []ForeignKey
	On          []cqn.Expr

	kind AssociationKind
}

// IsAssociation reports whether the element is an association or composition.
func (e *Element) IsAssociation() bool {
	return e.Target != ""
}

// IsStructure reports whether the element is a structure.
func (e *Element) IsStructure() bool {
	return e.Target == "" && len(e.Elements) > 0
}

// IsScalar reports whether the element is a plain scalar.
func (e *Element) IsScalar() bool {
	return e.Target == "" && len(e.Elements) == 0
}

// Association returns the association shape. Zero for non-associations.
func (e *Element) Association() AssociationKind {
	return e.kind
}

// IsToOne reports whether the association yields at most one row.
func (e *Element) IsToOne() bool {
	return e.IsAssociation() && !e.ToMany
}

// Member looks up a member of a structured element.
func (e *Element) Member(name string) (*Element, bool) {
	for _, el := range e.Elements {
		if el.Name == name {
			return el, true
		}
	}
	return nil, false
}

// Leaf is one flattened scalar of an element.
type Leaf struct {
	// Column is the flat column name, e.g. author_ID or dedication_text.
	Column string
	// Path is the element path in the owning definition, e.g. [author ID].
	Path []string
	// TargetColumn is the referenced column in the target entity for
	// foreign-key leaves and empty otherwise.
	TargetColumn string
	Element      *Element
	Key          bool
	Virtual      bool
}

// Definition is an entity, type or aspect.
type Definition struct {
	Name     string
	Kind     Kind
	Elements []*Element

	// Type is set on scalar type definitions (type Price : Decimal).
	Type string

	// Projection names the entity a view projects. Views are lowered like
	// tables.
	Projection string

	leaves  []Leaf
	columns map[string]int
}

// ShortName returns the last dot segment of the name (Books for
// bookshop.Books). It is the default table alias.
func (d *Definition) ShortName() string {
	if i := strings.LastIndexByte(d.Name, '.'); i >= 0 {
		return d.Name[i+1:]
	}
	return d.Name
}

// TableName returns the SQL table name (bookshop_Books).
func (d *Definition) TableName() string {
	return strings.ReplaceAll(d.Name, ".", "_")
}

// Element looks up a top-level element.
func (d *Definition) Element(name string) (*Element, bool) {
	for _, el := range d.Elements {
		if el.Name == name {
			return el, true
		}
	}
	return nil, false
}

// Columns returns the flattened physical columns in declaration order.
// Virtual elements and unmanaged associations have no columns.
func (d *Definition) Columns() []Leaf {
	out := make([]Leaf, 0, len(d.leaves))
	for _, l := range d.leaves {
		if !l.Virtual {
			out = append(out, l)
		}
	}
	return out
}

// Column looks up a leaf by its flat column name.
func (d *Definition) Column(name string) (Leaf, bool) {
	i, ok := d.columns[name]
	if !ok {
		return Leaf{}, false
	}
	return d.leaves[i], true
}

// LeavesUnder returns the leaves whose element path starts with path, in
// declaration order. For a scalar path it returns one leaf, for a
// structure its flattened members, for a managed association its foreign
// keys.
func (d *Definition) LeavesUnder(path []string) []Leaf {
	var out []Leaf
	for _, l := range d.leaves {
		if len(l.Path) >= len(path) && slices.Equal(l.Path[:len(path)], path) {
			out = append(out, l)
		}
	}
	return out
}

// KeyLeaves returns the flattened primary key columns.
func (d *Definition) KeyLeaves() []Leaf {
	var out []Leaf
	for _, l := range d.leaves {
		if l.Key && !l.Virtual {
			out = append(out, l)
		}
	}
	return out
}

// Model is the linked schema.
type Model struct {
	defs  map[string]*Definition
	order []*Definition
}

// Definition looks up a definition by fully-qualified name.
func (m *Model) Definition(name string) (*Definition, bool) {
	d, ok := m.defs[name]
	return d, ok
}

// Definitions returns all definitions in declaration order.
func (m *Model) Definitions() []*Definition {
	return slices.Clone(m.order)
}

// Entities returns the entity definitions in declaration order.
func (m *Model) Entities() []*Definition {
	var out []*Definition
	for _, d := range m.order {
		if d.Kind == KindEntity {
			out = append(out, d)
		}
	}
	return out
}

// Target returns the target definition of an association.
func (m *Model) Target(e *Element) (*Definition, bool) {
	if !e.IsAssociation() {
		return nil, false
	}
	return m.Definition(e.Target)
}

// ElementAt walks an element path through structures of a definition.
func (m *Model) ElementAt(d *Definition, path []string) (*Element, bool) {
	if len(path) == 0 {
		return nil, false
	}
	el, ok := d.Element(path[0])
	for _, name := range path[1:] {
		if !ok || !el.IsStructure() {
			return nil, false
		}
		el, ok = el.Member(name)
	}
	return el, ok
}
