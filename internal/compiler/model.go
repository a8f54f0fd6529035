package compiler

import (
	"fmt"
	"strings"

	"cuelang.org/go/cue"
	"github.com/hashicorp/go-multierror"

	"github.com/roach88/cqnlower/internal/cqn"
	"github.com/roach88/cqnlower/internal/csn"
)

// builtinTypes maps short scalar type names to their cds names.
var builtinTypes = map[string]bool{
	"UUID": true, "Boolean": true, "Integer": true, "Int64": true,
	"Decimal": true, "Double": true, "Date": true, "Time": true,
	"DateTime": true, "Timestamp": true, "String": true,
	"LargeString": true, "Binary": true,
}

// CompileModel parses a CUE value holding a schema and links it.
// Uses CUE SDK's Go API directly (not CLI subprocess).
//
// The value is the root of the model:
//
//	namespace: "bookshop"
//	entity: Books: {
//		ID:     {type: "Integer", key: true}
//		title:  "String"
//		author: {association: "Authors"}
//	}
//	type: Address: {street: "String", city: "String"}
//	view: BooksView: "Books"
//
// Compilation stops at the first definition error. Link errors are
// collected and returned together.
func CompileModel(v cue.Value) (*csn.Model, error) {
	return compileModel(v, false)
}

// CompileModelAll is CompileModel but keeps compiling after a definition
// error. All definition errors are returned together, and the model is
// only linked when every definition compiled.
func CompileModelAll(v cue.Value) (*csn.Model, error) {
	return compileModel(v, true)
}

func compileModel(v cue.Value, collect bool) (*csn.Model, error) {
	if err := v.Err(); err != nil {
		return nil, formatCUEError(err)
	}
	ns, err := Namespace(v)
	if err != nil {
		return nil, err
	}

	var (
		defs []*csn.Definition
		errs *multierror.Error
	)
	for _, section := range Sections {
		sv := v.LookupPath(cue.ParsePath(section.Label))
		if !sv.Exists() {
			continue
		}
		iter, err := sv.Fields()
		if err != nil {
			return nil, formatCUEError(err)
		}
		for iter.Next() {
			def, err := section.Compile(iter.Value(), iter.Label(), ns)
			if err != nil {
				if !collect {
					return nil, err
				}
				errs = multierror.Append(errs, err)
				continue
			}
			defs = append(defs, def)
		}
	}
	if err := errs.ErrorOrNil(); err != nil {
		return nil, err
	}
	return csn.NewModel(defs...)
}

// Section is a top-level block of definitions.
type Section struct {
	Label   string
	Compile func(v cue.Value, name, namespace string) (*csn.Definition, error)
}

// Sections lists the definition blocks in the order they are compiled.
var Sections = []Section{
	{Label: "type", Compile: CompileType},
	{Label: "entity", Compile: CompileEntity},
	{Label: "view", Compile: CompileView},
}

// Namespace reads the optional namespace of a model.
func Namespace(v cue.Value) (string, error) {
	nsVal := v.LookupPath(cue.ParsePath("namespace"))
	if !nsVal.Exists() {
		return "", nil
	}
	ns, err := nsVal.String()
	if err != nil {
		return "", formatCUEError(err)
	}
	return ns, nil
}

// CompileEntity parses an entity definition. Every field is an element.
func CompileEntity(v cue.Value, name, namespace string) (*csn.Definition, error) {
	qualified := qualify(name, namespace)
	elements, err := compileElements(v, "entity."+name, namespace)
	if err != nil {
		return nil, err
	}
	if len(elements) == 0 {
		return nil, &CompileError{
			Field:   "entity." + name,
			Message: "at least one element is required",
			Pos:     v.Pos(),
		}
	}
	return &csn.Definition{Name: qualified, Kind: csn.KindEntity, Elements: elements}, nil
}

// CompileType parses a type definition: a scalar type name or a structure.
func CompileType(v cue.Value, name, namespace string) (*csn.Definition, error) {
	def := &csn.Definition{Name: qualify(name, namespace), Kind: csn.KindType}
	if s, err := v.String(); err == nil {
		def.Type = qualifyType(s, namespace)
		return def, nil
	}
	elements, err := compileElements(v, "type."+name, namespace)
	if err != nil {
		return nil, err
	}
	def.Elements = elements
	return def, nil
}

// CompileView parses a projection. The short form is the projected
// entity's name; the long form is {projection: "Books"}.
func CompileView(v cue.Value, name, namespace string) (*csn.Definition, error) {
	field := "view." + name
	source, err := v.String()
	if err != nil {
		var ok bool
		source, ok, err = lookupString(v, "projection", field)
		if err != nil {
			return nil, err
		}
		if !ok {
			return nil, &CompileError{
				Field:   field,
				Message: "projection is required",
				Pos:     v.Pos(),
			}
		}
	}
	return &csn.Definition{
		Name:       qualify(name, namespace),
		Kind:       csn.KindEntity,
		Projection: qualify(source, namespace),
	}, nil
}

func compileElements(v cue.Value, field, namespace string) ([]*csn.Element, error) {
	if v.IncompleteKind() != cue.StructKind {
		return nil, &CompileError{
			Field:   field,
			Message: fmt.Sprintf("expected a struct, got %v", v.IncompleteKind()),
			Pos:     v.Pos(),
		}
	}
	iter, err := v.Fields()
	if err != nil {
		return nil, formatCUEError(err)
	}
	var elements []*csn.Element
	for iter.Next() {
		name := iter.Label()
		el, err := compileElement(iter.Value(), name, field+"."+name, namespace)
		if err != nil {
			return nil, err
		}
		elements = append(elements, el)
	}
	return elements, nil
}

// compileElement parses one element. A plain string is a type name.
func compileElement(v cue.Value, name, field, namespace string) (*csn.Element, error) {
	el := &csn.Element{Name: name}
	if s, err := v.String(); err == nil {
		el.Type = qualifyType(s, namespace)
		return el, nil
	}
	if v.IncompleteKind() != cue.StructKind {
		return nil, &CompileError{
			Field:   field,
			Message: "element must be a type name or a struct",
			Pos:     v.Pos(),
		}
	}

	var err error
	if el.Key, err = lookupBool(v, "key", field); err != nil {
		return nil, err
	}
	if el.Virtual, err = lookupBool(v, "virtual", field); err != nil {
		return nil, err
	}
	if el.NotNull, err = lookupBool(v, "notNull", field); err != nil {
		return nil, err
	}
	if typ, ok, err := lookupString(v, "type", field); err != nil {
		return nil, err
	} else if ok {
		el.Type = qualifyType(typ, namespace)
	}
	if typeOf, ok, err := lookupString(v, "typeOf", field); err != nil {
		return nil, err
	} else if ok {
		defName, path, found := strings.Cut(typeOf, ":")
		if !found {
			return nil, &CompileError{
				Field:   field + ".typeOf",
				Message: "expected Entity:path",
				Pos:     v.Pos(),
			}
		}
		el.TypeOf = qualify(defName, namespace) + ":" + path
	}

	if membersVal := v.LookupPath(cue.ParsePath("elements")); membersVal.Exists() {
		members, err := compileElements(membersVal, field+".elements", namespace)
		if err != nil {
			return nil, err
		}
		el.Elements = members
	}

	if err := compileAssociation(v, el, field, namespace); err != nil {
		return nil, err
	}
	return el, nil
}

func compileAssociation(v cue.Value, el *csn.Element, field, namespace string) error {
	target, isAssoc, err := lookupString(v, "association", field)
	if err != nil {
		return err
	}
	composition, isComp, err := lookupString(v, "composition", field)
	if err != nil {
		return err
	}
	switch {
	case isAssoc && isComp:
		return &CompileError{
			Field:   field,
			Message: "association and composition are mutually exclusive",
			Pos:     v.Pos(),
		}
	case isComp:
		target = composition
		el.Composition = true
	case !isAssoc:
		for _, label := range []string{"many", "keys", "on"} {
			if v.LookupPath(cue.ParsePath(label)).Exists() {
				return &CompileError{
					Field:   field + "." + label,
					Message: "only allowed on associations",
					Pos:     v.Pos(),
				}
			}
		}
		return nil
	}
	el.Target = qualify(target, namespace)

	if el.ToMany, err = lookupBool(v, "many", field); err != nil {
		return err
	}

	if keysVal := v.LookupPath(cue.ParsePath("keys")); keysVal.Exists() {
		iter, err := keysVal.List()
		if err != nil {
			return formatCUEError(err)
		}
		for iter.Next() {
			k, err := compileForeignKey(iter.Value(), field+".keys")
			if err != nil {
				return err
			}
			el.Keys = append(el.Keys, k)
		}
	}

	if onVal := v.LookupPath(cue.ParsePath("on")); onVal.Exists() {
		var raw any
		if err := onVal.Decode(&raw); err != nil {
			return formatCUEError(err)
		}
		tokens, err := cqn.DecodeTokens(raw)
		if err != nil {
			return &CompileError{Field: field + ".on", Message: err.Error(), Pos: onVal.Pos()}
		}
		if len(tokens) == 0 {
			return &CompileError{Field: field + ".on", Message: "on-condition is empty", Pos: onVal.Pos()}
		}
		el.On = tokens
	}
	if len(el.Keys) > 0 && len(el.On) > 0 {
		return &CompileError{
			Field:   field,
			Message: "keys and on are mutually exclusive",
			Pos:     v.Pos(),
		}
	}
	return nil
}

// compileForeignKey parses "ID" or {ref: "address.street", as: "street"}.
func compileForeignKey(v cue.Value, field string) (csn.ForeignKey, error) {
	if s, err := v.String(); err == nil {
		return csn.ForeignKey{Ref: strings.Split(s, ".")}, nil
	}
	ref, ok, err := lookupString(v, "ref", field)
	if err != nil {
		return csn.ForeignKey{}, err
	}
	if !ok {
		return csn.ForeignKey{}, &CompileError{
			Field:   field,
			Message: "foreign key needs a ref",
			Pos:     v.Pos(),
		}
	}
	as, _, err := lookupString(v, "as", field)
	if err != nil {
		return csn.ForeignKey{}, err
	}
	return csn.ForeignKey{Ref: strings.Split(ref, "."), As: as}, nil
}

func lookupString(v cue.Value, label, field string) (string, bool, error) {
	fv := v.LookupPath(cue.ParsePath(label))
	if !fv.Exists() {
		return "", false, nil
	}
	s, err := fv.String()
	if err != nil {
		return "", false, &CompileError{
			Field:   field + "." + label,
			Message: "must be a string",
			Pos:     fv.Pos(),
		}
	}
	return s, true, nil
}

func lookupBool(v cue.Value, label, field string) (bool, error) {
	fv := v.LookupPath(cue.ParsePath(label))
	if !fv.Exists() {
		return false, nil
	}
	b, err := fv.Bool()
	if err != nil {
		return false, &CompileError{
			Field:   field + "." + label,
			Message: "must be a boolean",
			Pos:     fv.Pos(),
		}
	}
	return b, nil
}

// qualify prefixes a definition name with the namespace unless it is
// already qualified.
func qualify(name, namespace string) string {
	if namespace == "" || strings.Contains(name, ".") {
		return name
	}
	return namespace + "." + name
}

func qualifyType(name, namespace string) string {
	if builtinTypes[name] {
		return "cds." + name
	}
	return qualify(name, namespace)
}
