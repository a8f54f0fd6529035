package compiler

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/roach88/cqnlower/internal/cqn"
	"github.com/roach88/cqnlower/internal/csn"
)

// Validation error codes (E100-E199)
const (
	// Definition errors (E101-E109)
	ErrEntityNoKey = "E101" // entity without key elements
	ErrInvalidName = "E102" // name is not an identifier
	ErrVirtualKey  = "E103" // key element declared virtual
	ErrFloatKey    = "E104" // floating point key

	// Association errors (E110-E119)
	ErrTargetNotEntity = "E110" // association targets a type or aspect
	ErrOnWithoutTarget = "E111" // on-condition never reads the target
)

// ValidationError represents a model validation error.
type ValidationError struct {
	Field   string `json:"field"`
	Message string `json:"message"`
	Code    string `json:"code"`
}

// Error implements the error interface.
func (e ValidationError) Error() string {
	return fmt.Sprintf("[%s] %s: %s", e.Code, e.Field, e.Message)
}

// ValidateModel checks a linked model for definitions that link but cannot
// be lowered or stored sensibly.
// Returns all errors found (does not fail-fast).
func ValidateModel(m *csn.Model) []ValidationError {
	var errs []ValidationError
	for _, d := range m.Definitions() {
		errs = append(errs, validateDefinition(m, d)...)
	}
	return errs
}

func validateDefinition(m *csn.Model, d *csn.Definition) []ValidationError {
	var errs []ValidationError

	// E102: every dot segment of the name is an identifier
	for _, seg := range strings.Split(d.Name, ".") {
		if !identPattern.MatchString(seg) {
			errs = append(errs, ValidationError{
				Field:   d.Name,
				Message: fmt.Sprintf("invalid definition name %q", d.Name),
				Code:    ErrInvalidName,
			})
			break
		}
	}
	if d.Kind != csn.KindEntity {
		return errs
	}

	// E101: entities need a primary key unless they project another entity
	if d.Projection == "" && len(d.KeyLeaves()) == 0 {
		errs = append(errs, ValidationError{
			Field:   d.Name,
			Message: "entity has no key elements",
			Code:    ErrEntityNoKey,
		})
	}

	return append(errs, validateElements(m, d, d.Elements, d.Name)...)
}

func validateElements(m *csn.Model, d *csn.Definition, elements []*csn.Element, prefix string) []ValidationError {
	var errs []ValidationError
	for _, el := range elements {
		field := prefix + "." + el.Name

		// E102: element names become column names
		if !identPattern.MatchString(el.Name) {
			errs = append(errs, ValidationError{
				Field:   field,
				Message: fmt.Sprintf("invalid element name %q", el.Name),
				Code:    ErrInvalidName,
			})
		}

		if el.Key && el.Virtual {
			errs = append(errs, ValidationError{
				Field:   field,
				Message: "key elements cannot be virtual",
				Code:    ErrVirtualKey,
			})
		}
		if el.Key && isFloatType(el.Type) {
			errs = append(errs, ValidationError{
				Field:   field,
				Message: fmt.Sprintf("float type %s forbidden for key %q, use Decimal or Integer", el.Type, el.Name),
				Code:    ErrFloatKey,
			})
		}

		switch {
		case el.IsStructure():
			errs = append(errs, validateElements(m, d, el.Elements, field)...)
		case el.IsAssociation():
			errs = append(errs, validateAssociation(m, el, field)...)
		}
	}
	return errs
}

func validateAssociation(m *csn.Model, el *csn.Element, field string) []ValidationError {
	var errs []ValidationError

	// E110: association targets must be entities
	if target, ok := m.Target(el); ok && target.Kind != csn.KindEntity {
		errs = append(errs, ValidationError{
			Field:   field,
			Message: fmt.Sprintf("association target %s is a %s, not an entity", target.Name, target.Kind),
			Code:    ErrTargetNotEntity,
		})
	}

	// E111: an on-condition must read the target through the association name
	if len(el.On) > 0 && !readsTarget(el.On, el.Name) {
		errs = append(errs, ValidationError{
			Field:   field + ".on",
			Message: fmt.Sprintf("on-condition never references %s", el.Name),
			Code:    ErrOnWithoutTarget,
		})
	}

	return errs
}

// readsTarget reports whether tokens contain a reference starting with the
// association name, at any nesting depth.
func readsTarget(tokens []cqn.Expr, assoc string) bool {
	for _, t := range tokens {
		switch x := t.(type) {
		case *cqn.Ref:
			if len(x.Steps) > 0 && x.Steps[0].ID == assoc {
				return true
			}
		case *cqn.Xpr:
			if readsTarget(x.Tokens, assoc) {
				return true
			}
		case *cqn.Func:
			if readsTarget(x.Args, assoc) {
				return true
			}
		case *cqn.List:
			if readsTarget(x.Items, assoc) {
				return true
			}
		}
	}
	return false
}

// isFloatType checks if a type name is a binary floating point type.
func isFloatType(t string) bool {
	return t == "cds.Double"
}

// identPattern matches names usable as SQL identifiers without quoting.
var identPattern = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*$`)
