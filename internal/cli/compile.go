package cli

import (
	"encoding/json"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/roach88/cqnlower/internal/csn"
	"github.com/roach88/cqnlower/internal/querysql"
	"github.com/roach88/cqnlower/internal/store"
)

// CompileOptions holds flags for the compile command.
type CompileOptions struct {
	*RootOptions
	Output string // output file path for the schema
}

// EntitySummary describes the table an entity or view is stored in.
type EntitySummary struct {
	Name       string   `json:"name"`
	Table      string   `json:"table"`
	Columns    []string `json:"columns"`
	Keys       []string `json:"keys,omitempty"`
	Projection string   `json:"projection,omitempty"`
}

// CompilationResult holds the compiled model and its schema.
type CompilationResult struct {
	Entities []EntitySummary `json:"entities"`
	DDL      []string        `json:"ddl"`
}

// NewCompileCommand creates the compile command.
func NewCompileCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &CompileOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "compile <model-dir>",
		Short: "Compile a model to its SQLite schema",
		Long: `Compile the CUE model in a directory and print the flattened table of
every entity. Views become SQL views over the entity they project.

With --output the CREATE statements are written to a file.`,
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true, // Don't print usage on errors - we handle our own error output
		SilenceErrors: true, // Don't print errors - we handle our own error output
		RunE: func(cmd *cobra.Command, args []string) error {
			return runCompile(opts, args[0], cmd)
		},
	}

	cmd.Flags().StringVarP(&opts.Output, "output", "o", "", "output file path")

	return cmd
}

func runCompile(opts *CompileOptions, modelDir string, cmd *cobra.Command) error {
	formatter := &OutputFormatter{
		Format:    opts.Format,
		Writer:    cmd.OutOrStdout(),
		ErrWriter: cmd.ErrOrStderr(), // Verbose logs go to stderr to avoid corrupting JSON
		Verbose:   opts.Verbose,
	}

	loadResult, loadErrors := LoadModel(modelDir, LoadModeCollectAll)
	if len(loadErrors) > 0 {
		return outputCompileErrors(formatter, loadErrors)
	}

	formatter.VerboseLog("Found %d CUE file(s) in %s", loadResult.FileCount, modelDir)

	result := compileSchema(loadResult.Model)
	for _, e := range result.Entities {
		formatter.VerboseLog("Compiled %s -> %s", e.Name, e.Table)
	}

	if opts.Output != "" {
		if err := writeSchema(result.DDL, opts.Output); err != nil {
			return formatter.Fail(ExitCommandError, ErrCodeWriteFailed, fmt.Sprintf("writing output file: %v", err), nil)
		}
	}

	return outputCompileSuccess(formatter, result, opts.Output)
}

// compileSchema summarizes the stored shape of every entity. Tables come
// before views, matching the order they must be created in.
func compileSchema(m *csn.Model) *CompilationResult {
	result := &CompilationResult{Entities: []EntitySummary{}, DDL: []string{}}
	var views []string
	for _, d := range m.Entities() {
		summary := EntitySummary{
			Name:       d.Name,
			Table:      querysql.TableName(d.Name),
			Columns:    []string{},
			Projection: d.Projection,
		}
		for _, l := range d.Columns() {
			summary.Columns = append(summary.Columns, l.Column)
		}
		for _, l := range d.KeyLeaves() {
			summary.Keys = append(summary.Keys, l.Column)
		}
		result.Entities = append(result.Entities, summary)

		if d.Projection != "" {
			views = append(views, store.ViewDDL(d))
			continue
		}
		result.DDL = append(result.DDL, store.TableDDL(d))
	}
	result.DDL = append(result.DDL, views...)
	return result
}

// outputCompileSuccess outputs successful compilation results.
func outputCompileSuccess(formatter *OutputFormatter, result *CompilationResult, outputFile string) error {
	if formatter.Format == "json" {
		return formatter.Success(result)
	}

	fmt.Fprintf(formatter.Writer, "✓ Compiled %d entities\n\n", len(result.Entities))
	for _, e := range result.Entities {
		if e.Projection != "" {
			fmt.Fprintf(formatter.Writer, "  %s: view of %s\n", e.Name, e.Projection)
			continue
		}
		fmt.Fprintf(formatter.Writer, "  %s: %s (%s)\n", e.Name, e.Table, strings.Join(e.Columns, ", "))
	}

	if outputFile != "" {
		fmt.Fprintf(formatter.Writer, "\nWrote schema to %s\n", outputFile)
	}

	return nil
}

// outputCompileErrors outputs multiple compilation errors.
func outputCompileErrors(formatter *OutputFormatter, errs []error) error {
	cliErrors := make([]CLIError, len(errs))
	for i, err := range errs {
		cliErrors[i] = CLIError{Code: ErrCodeGeneric, Message: err.Error()}
		if le, ok := err.(*LoadError); ok {
			cliErrors[i] = CLIError{Code: le.Code, Message: le.Message}
		}
	}

	if formatter.Format == "json" {
		response := CLIResponse{
			Status: "error",
			Error:  &cliErrors[0],
			Data:   cliErrors, // Include all errors in data
		}

		encoder := json.NewEncoder(formatter.Writer)
		encoder.SetIndent("", "  ")
		if err := encoder.Encode(response); err != nil {
			return err
		}

		// Compilation errors are command-level errors (exit code 2)
		return NewExitError(ExitCommandError, fmt.Sprintf("compilation failed with %d error(s)", len(errs)))
	}

	fmt.Fprintln(formatter.Writer, "✗ Compilation failed")
	fmt.Fprintln(formatter.Writer)

	for i, err := range errs {
		if le, ok := err.(*LoadError); ok && le.Pos.IsValid() {
			fmt.Fprintf(formatter.Writer, "%s:%d:%d\n", le.Pos.Filename(), le.Pos.Line(), le.Pos.Column())
		}
		fmt.Fprintf(formatter.Writer, "  %s: %s\n\n", cliErrors[i].Code, cliErrors[i].Message)
	}

	// Compilation errors are command-level errors (exit code 2)
	return NewExitError(ExitCommandError, fmt.Sprintf("compilation failed with %d error(s)", len(errs)))
}

// writeSchema writes the CREATE statements as one SQL script.
func writeSchema(ddl []string, filename string) error {
	var b strings.Builder
	for _, stmt := range ddl {
		b.WriteString(stmt)
		b.WriteString(";\n")
	}
	if err := os.WriteFile(filename, []byte(b.String()), 0644); err != nil {
		return fmt.Errorf("writing file: %w", err)
	}
	return nil
}
