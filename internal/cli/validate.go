package cli

import (
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/roach88/cqnlower/internal/compiler"
)

// ValidationResult holds validation results.
type ValidationResult struct {
	Valid    bool                       `json:"valid"`
	Errors   []compiler.ValidationError `json:"errors,omitempty"`
	Warnings []compiler.CycleWarning    `json:"warnings,omitempty"`
}

// NewValidateCommand creates the validate command.
func NewValidateCommand(rootOpts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "validate <model-dir>",
		Short: "Validate a model",
		Long: `Validate the CUE model in a directory.

Compiles and links every definition, reporting all errors at once, then
checks definitions that link but cannot be lowered or stored. Cycles of
managed associations are reported as warnings.`,
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true, // Don't print usage on errors
		SilenceErrors: true, // Don't print errors - we handle our own error output
		RunE: func(cmd *cobra.Command, args []string) error {
			return runValidate(rootOpts, args[0], cmd)
		},
	}

	return cmd
}

func runValidate(opts *RootOptions, modelDir string, cmd *cobra.Command) error {
	formatter := &OutputFormatter{
		Format:    opts.Format,
		Writer:    cmd.OutOrStdout(),
		ErrWriter: cmd.ErrOrStderr(), // Verbose logs go to stderr to avoid corrupting JSON
		Verbose:   opts.Verbose,
	}

	loadResult, loadErrors := LoadModel(modelDir, LoadModeCollectAll)
	if len(loadErrors) > 0 {
		// Missing directories and unreadable files are command errors;
		// definitions that fail to compile are validation failures.
		if le, ok := loadErrors[0].(*LoadError); ok && isCommandErrorCode(le.Code) {
			return failLoad(formatter, loadErrors)
		}
		return outputValidationErrors(formatter, loadErrorsToValidation(loadErrors))
	}

	formatter.VerboseLog("Found %d CUE file(s) in %s", loadResult.FileCount, modelDir)

	validationErrors := compiler.ValidateModel(loadResult.Model)
	warnings := compiler.AnalyzeCycles(loadResult.Model)
	for _, w := range warnings {
		formatter.VerboseLog("%s: %s", w.Level, w.Message)
	}

	if len(validationErrors) > 0 {
		return outputValidationErrors(formatter, validationErrors)
	}
	return outputValidateSuccess(formatter, warnings)
}

func isCommandErrorCode(code string) bool {
	switch code {
	case ErrCodeNotFound, ErrCodeScanError, ErrCodeNoFiles:
		return true
	default:
		return false
	}
}

func loadErrorsToValidation(errs []error) []compiler.ValidationError {
	out := make([]compiler.ValidationError, 0, len(errs))
	for _, err := range errs {
		ve := compiler.ValidationError{Field: "model", Code: ErrCodeGeneric, Message: err.Error()}
		if le, ok := err.(*LoadError); ok {
			ve.Code = le.Code
			ve.Message = le.Message
			if le.Pos.IsValid() {
				ve.Field = fmt.Sprintf("%s:%d", le.Pos.Filename(), le.Pos.Line())
			}
		}
		out = append(out, ve)
	}
	return out
}

// outputValidateSuccess outputs successful validation results.
func outputValidateSuccess(formatter *OutputFormatter, warnings []compiler.CycleWarning) error {
	if formatter.Format == "json" {
		return formatter.Success(ValidationResult{Valid: true, Warnings: warnings})
	}

	for _, w := range warnings {
		if w.Level == "warning" {
			fmt.Fprintf(formatter.Writer, "warning: %s\n", w.Message)
		}
	}
	fmt.Fprintln(formatter.Writer, "✓ Model valid")
	return nil
}

// outputValidationErrors outputs multiple validation errors.
func outputValidationErrors(formatter *OutputFormatter, errs []compiler.ValidationError) error {
	if formatter.Format == "json" {
		response := CLIResponse{
			Status: "error",
			Data: ValidationResult{
				Valid:  false,
				Errors: errs,
			},
			Error: &CLIError{
				Code:    errs[0].Code,
				Message: errs[0].Message,
			},
		}

		encoder := json.NewEncoder(formatter.Writer)
		encoder.SetIndent("", "  ")
		if err := encoder.Encode(response); err != nil {
			return err
		}

		// Validation failures = exit code 1 (test/validation failure)
		return NewExitError(ExitFailure, fmt.Sprintf("validation failed with %d error(s)", len(errs)))
	}

	fmt.Fprintln(formatter.Writer, "✗ Validation failed")
	fmt.Fprintln(formatter.Writer)
	for _, err := range errs {
		fmt.Fprintf(formatter.Writer, "  %s %s: %s\n", err.Code, err.Field, err.Message)
	}

	// Validation failures = exit code 1 (test/validation failure)
	return NewExitError(ExitFailure, fmt.Sprintf("validation failed with %d error(s)", len(errs)))
}
