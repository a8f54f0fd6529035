package lower

import (
	"errors"
	"fmt"
)

// ErrorKind categorizes lowering errors.
type ErrorKind string

const (
	// ReferenceError indicates a path step that does not resolve.
	ReferenceError ErrorKind = "ReferenceError"

	// PathShapeError indicates a path that resolves but has the wrong
	// shape for where it is used, e.g. exists on a scalar.
	PathShapeError ErrorKind = "PathShapeError"

	// GroupByMismatchError indicates an expanded leaf missing from GROUP BY.
	GroupByMismatchError ErrorKind = "GroupByMismatchError"

	// UnsupportedOperatorError indicates an operator that cannot be applied
	// to a structured operand.
	UnsupportedOperatorError ErrorKind = "UnsupportedOperatorError"

	// DuplicateColumnNameError indicates two columns with the same output
	// name.
	DuplicateColumnNameError ErrorKind = "DuplicateColumnNameError"
)

// Error is returned for every lowering failure. Any error aborts the whole
// call; no partial result is produced.
type Error struct {
	Kind ErrorKind

	// Path is the offending path as written, e.g. author.ID.
	Path string

	// Clause is the query clause the path appeared in (from, columns,
	// where, groupBy, having, orderBy, limit).
	Clause string

	Message string
}

// Error implements the error interface.
func (e *Error) Error() string {
	switch {
	case e.Path != "" && e.Clause != "":
		return fmt.Sprintf("%s: %s (path=%s, clause=%s)", e.Kind, e.Message, e.Path, e.Clause)
	case e.Path != "":
		return fmt.Sprintf("%s: %s (path=%s)", e.Kind, e.Message, e.Path)
	default:
		return fmt.Sprintf("%s: %s", e.Kind, e.Message)
	}
}

// KindOf returns the kind of a lowering error, or "" for other errors.
func KindOf(err error) ErrorKind {
	var le *Error
	if errors.As(err, &le) {
		return le.Kind
	}
	return ""
}

// IsReferenceError returns true if the error is a ReferenceError.
// Uses errors.As to handle wrapped errors.
func IsReferenceError(err error) bool {
	return KindOf(err) == ReferenceError
}

// IsPathShapeError returns true if the error is a PathShapeError.
func IsPathShapeError(err error) bool {
	return KindOf(err) == PathShapeError
}

// IsGroupByMismatchError returns true if the error is a GroupByMismatchError.
func IsGroupByMismatchError(err error) bool {
	return KindOf(err) == GroupByMismatchError
}

// IsUnsupportedOperatorError returns true if the error is an
// UnsupportedOperatorError.
func IsUnsupportedOperatorError(err error) bool {
	return KindOf(err) == UnsupportedOperatorError
}

// IsDuplicateColumnNameError returns true if the error is a
// DuplicateColumnNameError.
func IsDuplicateColumnNameError(err error) bool {
	return KindOf(err) == DuplicateColumnNameError
}
