package cli

import (
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"cuelang.org/go/cue"
	"cuelang.org/go/cue/token"
	"github.com/hashicorp/go-multierror"

	"github.com/roach88/cqnlower/internal/compiler"
	"github.com/roach88/cqnlower/internal/cqn"
	"github.com/roach88/cqnlower/internal/csn"
	"github.com/roach88/cqnlower/internal/lower"
)

// LoadMode controls how errors are handled during model loading.
type LoadMode int

const (
	// LoadModeFailFast stops on the first error encountered.
	LoadModeFailFast LoadMode = iota
	// LoadModeCollectAll collects all errors before returning.
	LoadModeCollectAll
)

// LoadResult contains the results of loading a model from a directory.
type LoadResult struct {
	Model     *csn.Model
	CUEValue  cue.Value // The raw CUE value for additional processing
	FileCount int       // Number of CUE files found
}

// LoadError represents an error that occurred during model loading.
type LoadError struct {
	Code    string
	Message string
	Pos     token.Pos // CUE position if available
}

func (e *LoadError) Error() string {
	if e.Pos.IsValid() {
		return fmt.Sprintf("%s:%d:%d: %s: %s", e.Pos.Filename(), e.Pos.Line(), e.Pos.Column(), e.Code, e.Message)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// LoadModel loads, compiles and links the CUE model in a directory.
// If mode is LoadModeFailFast, compilation stops at the first definition
// error. If mode is LoadModeCollectAll, all definition errors are returned.
// Link errors are always returned together.
//
// The result is nil whenever errors are returned.
func LoadModel(dir string, mode LoadMode) (*LoadResult, []error) {
	info, err := os.Stat(dir)
	if os.IsNotExist(err) {
		return nil, []error{&LoadError{Code: ErrCodeNotFound, Message: fmt.Sprintf("model directory not found: %s", dir)}}
	}
	if err != nil {
		return nil, []error{&LoadError{Code: ErrCodeNotFound, Message: fmt.Sprintf("error accessing model directory: %v", err)}}
	}
	if !info.IsDir() {
		return nil, []error{&LoadError{Code: ErrCodeNotFound, Message: fmt.Sprintf("not a directory: %s", dir)}}
	}

	files, err := compiler.FindCUEFiles(dir)
	if err != nil {
		return nil, []error{&LoadError{Code: ErrCodeScanError, Message: fmt.Sprintf("error scanning directory: %v", err)}}
	}
	if len(files) == 0 {
		return nil, []error{&LoadError{Code: ErrCodeNoFiles, Message: fmt.Sprintf("no CUE files found in %s", dir)}}
	}

	value, n, err := compiler.LoadDir(dir)
	if err != nil {
		return nil, []error{convertCompileError(err, ErrCodeLoadFailed)}
	}

	compile := compiler.CompileModel
	if mode == LoadModeCollectAll {
		compile = compiler.CompileModelAll
	}
	m, err := compile(value)
	if err != nil {
		return nil, splitErrors(err)
	}

	return &LoadResult{Model: m, CUEValue: value, FileCount: n}, nil
}

// splitErrors flattens a multierror into one LoadError per cause.
func splitErrors(err error) []error {
	var merr *multierror.Error
	if !errors.As(err, &merr) {
		return []error{convertCompileError(err, ErrCodeGeneric)}
	}
	out := make([]error, 0, len(merr.Errors))
	for _, e := range merr.Errors {
		out = append(out, convertCompileError(e, ErrCodeGeneric))
	}
	return out
}

// convertCompileError converts a compiler or link error to a LoadError
// with position info.
func convertCompileError(err error, fallback string) *LoadError {
	var compileErr *compiler.CompileError
	if errors.As(err, &compileErr) {
		return &LoadError{
			Code:    MapFieldToErrorCode(compileErr.Field),
			Message: fmt.Sprintf("%s: %s", compileErr.Field, compileErr.Message),
			Pos:     compileErr.Pos,
		}
	}
	var linkErr *csn.LinkError
	if errors.As(err, &linkErr) {
		return &LoadError{Code: ErrCodeLinkFailed, Message: linkErr.Error()}
	}
	return &LoadError{Code: fallback, Message: err.Error()}
}

// Error code constants - unified across all CLI commands.
const (
	ErrCodeGeneric     = "E001" // Generic/unknown error
	ErrCodeScanError   = "E002" // Directory scan error
	ErrCodeNoFiles     = "E003" // No CUE files found
	ErrCodeLoadFailed  = "E004" // CUE load failed
	ErrCodeNotFound    = "E005" // Path not found
	ErrCodeBuildFailed = "E006" // CUE build failed
	ErrCodeWriteFailed = "E007" // File write error
	ErrCodeLinkFailed  = "E008" // Model does not link
	ErrCodeBadQuery    = "E009" // Query document is malformed
	ErrCodeRenderSQL   = "E010" // Lowered query cannot be rendered
	ErrCodeExecute     = "E011" // Database error

	// Definition errors
	ErrCodeInvalidOn     = "E120" // Malformed on-condition
	ErrCodeInvalidTypeOf = "E121" // Unresolvable typeOf
	ErrCodeInvalidDef    = "E122" // Malformed definition

	// Lowering errors
	ErrCodeReference       = "E201"
	ErrCodePathShape       = "E202"
	ErrCodeGroupByMismatch = "E203"
	ErrCodeUnsupportedOp   = "E204"
	ErrCodeDuplicateColumn = "E205"
)

// MapFieldToErrorCode maps a compiler error field to an error code.
func MapFieldToErrorCode(field string) string {
	switch {
	case field == "cue":
		return ErrCodeBuildFailed
	case strings.HasSuffix(field, ".on"):
		return ErrCodeInvalidOn
	case strings.HasSuffix(field, ".typeOf"):
		return ErrCodeInvalidTypeOf
	case strings.HasPrefix(field, "entity."), strings.HasPrefix(field, "type."), strings.HasPrefix(field, "view."):
		return ErrCodeInvalidDef
	default:
		return ErrCodeGeneric
	}
}

// LowerErrorCode maps a lowering error to an error code.
func LowerErrorCode(err error) string {
	switch lower.KindOf(err) {
	case lower.ReferenceError:
		return ErrCodeReference
	case lower.PathShapeError:
		return ErrCodePathShape
	case lower.GroupByMismatchError:
		return ErrCodeGroupByMismatch
	case lower.UnsupportedOperatorError:
		return ErrCodeUnsupportedOp
	case lower.DuplicateColumnNameError:
		return ErrCodeDuplicateColumn
	default:
		return ErrCodeGeneric
	}
}

// LoadQuery reads a query document. The path "-" reads from stdin.
func LoadQuery(path string, stdin io.Reader) (*cqn.Select, error) {
	var (
		data []byte
		err  error
	)
	if path == "-" {
		data, err = io.ReadAll(stdin)
	} else {
		data, err = os.ReadFile(path)
	}
	if err != nil {
		return nil, &LoadError{Code: ErrCodeNotFound, Message: fmt.Sprintf("reading query: %v", err)}
	}
	q, err := cqn.DecodeYAML(data)
	if err != nil {
		return nil, &LoadError{Code: ErrCodeBadQuery, Message: err.Error()}
	}
	return q, nil
}
