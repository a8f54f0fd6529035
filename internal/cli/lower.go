package cli

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/roach88/cqnlower/internal/cqn"
	"github.com/roach88/cqnlower/internal/csn"
	"github.com/roach88/cqnlower/internal/lower"
	"github.com/roach88/cqnlower/internal/querysql"
)

// LowerOptions holds flags for the lower command.
type LowerOptions struct {
	*RootOptions
	SQL  bool     // also render SQL
	Args []string // positional parameter values
	Bind []string // name=value pairs for named parameters
}

// LowerOutput is the result of lowering one query.
type LowerOutput struct {
	Lowered any    `json:"lowered"`
	SQL     string `json:"sql,omitempty"`
	Params  []any  `json:"params,omitempty"`
}

// NewLowerCommand creates the lower command.
func NewLowerCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &LowerOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "lower <model-dir> <query-file>",
		Short: "Lower a query against a model",
		Long: `Lower a query written in CQN shape (YAML or JSON) against the CUE model
in a directory and print the lowered query.

Use "-" as query file to read the query from stdin.

Examples:
  cqnlower lower ./model query.yaml
  cqnlower lower ./model query.yaml --sql --arg 201
  echo '{from: bookshop.Books, columns: [author.name]}' | cqnlower lower ./model -`,
		Args:          cobra.ExactArgs(2),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runLower(opts, args[0], args[1], cmd)
		},
	}

	cmd.Flags().BoolVar(&opts.SQL, "sql", false, "also render SQL")
	cmd.Flags().StringArrayVar(&opts.Args, "arg", nil, "positional parameter value (repeatable)")
	cmd.Flags().StringArrayVar(&opts.Bind, "bind", nil, "named parameter as name=value (repeatable)")

	return cmd
}

func runLower(opts *LowerOptions, modelDir, queryFile string, cmd *cobra.Command) error {
	formatter := &OutputFormatter{
		Format:    opts.Format,
		Writer:    cmd.OutOrStdout(),
		ErrWriter: cmd.ErrOrStderr(),
		Verbose:   opts.Verbose,
	}

	prepared, err := prepareQuery(opts, modelDir, queryFile, cmd, formatter)
	if err != nil {
		return err
	}

	out := LowerOutput{Lowered: cqn.ToJSON(prepared.Lowered)}
	if opts.SQL {
		out.SQL, out.Params = prepared.SQL, prepared.Params
	}

	if opts.Format == "json" {
		return formatter.Success(out)
	}

	w := cmd.OutOrStdout()
	encoder := json.NewEncoder(w)
	encoder.SetIndent("", "  ")
	if err := encoder.Encode(out.Lowered); err != nil {
		return err
	}
	if opts.SQL {
		fmt.Fprintf(w, "\n%s\n", out.SQL)
		if len(out.Params) > 0 {
			fmt.Fprintf(w, "-- params: %v\n", out.Params)
		}
	}
	return nil
}

// preparedQuery is a lowered and rendered query.
type preparedQuery struct {
	Model   *csn.Model
	Lowered *cqn.Select
	SQL     string
	Params  []any
}

// prepareQuery loads the model and the query, lowers it and renders SQL.
// Failures are reported through the formatter and returned as ExitError.
func prepareQuery(opts *LowerOptions, modelDir, queryFile string, cmd *cobra.Command, formatter *OutputFormatter) (*preparedQuery, error) {
	log := opts.Logger().WithField("model", modelDir)

	loadResult, loadErrors := LoadModel(modelDir, LoadModeFailFast)
	if len(loadErrors) > 0 {
		return nil, failLoad(formatter, loadErrors)
	}
	log.WithField("files", loadResult.FileCount).Debug("model loaded")

	q, err := LoadQuery(queryFile, cmd.InOrStdin())
	if err != nil {
		return nil, failLoad(formatter, []error{err})
	}

	lowered, err := lower.Lower(q, loadResult.Model, lower.WithLogger(log), lower.WithDebug(opts.Verbose))
	if err != nil {
		return nil, formatter.Fail(ExitFailure, LowerErrorCode(err), err.Error(), nil)
	}

	c := querysql.NewSQLCompiler()
	c.Args, err = parseValues(opts.Args)
	if err != nil {
		return nil, formatter.Fail(ExitCommandError, ErrCodeBadQuery, err.Error(), nil)
	}
	for _, pair := range opts.Bind {
		name, raw, ok := strings.Cut(pair, "=")
		if !ok || name == "" {
			return nil, formatter.Fail(ExitCommandError, ErrCodeBadQuery, fmt.Sprintf("invalid --bind %q: want name=value", pair), nil)
		}
		v, err := parseValue(raw)
		if err != nil {
			return nil, formatter.Fail(ExitCommandError, ErrCodeBadQuery, err.Error(), nil)
		}
		c.BoundValues[name] = v
	}

	sql, params, err := c.Compile(lowered)
	if err != nil {
		return nil, formatter.Fail(ExitFailure, ErrCodeRenderSQL, err.Error(), nil)
	}
	log.WithField("sql", sql).Debug("query rendered")

	return &preparedQuery{Model: loadResult.Model, Lowered: lowered, SQL: sql, Params: params}, nil
}

// failLoad reports the first load error, listing the rest as details.
func failLoad(formatter *OutputFormatter, errs []error) error {
	code, message := ErrCodeGeneric, errs[0].Error()
	var loadErr *LoadError
	if errors.As(errs[0], &loadErr) {
		code, message = loadErr.Code, loadErr.Message
	}
	var details []string
	for _, e := range errs[1:] {
		details = append(details, e.Error())
	}
	if details == nil {
		return formatter.Fail(ExitCommandError, code, message, nil)
	}
	return formatter.Fail(ExitCommandError, code, message, details)
}

// parseValue reads a flag value as a YAML scalar, so 201 is an integer,
// 1.5 a float, true a bool and anything else a string.
func parseValue(raw string) (any, error) {
	var v any
	if err := yaml.Unmarshal([]byte(raw), &v); err != nil {
		return nil, fmt.Errorf("invalid value %q: %w", raw, err)
	}
	switch v.(type) {
	case map[string]any, []any:
		return nil, fmt.Errorf("invalid value %q: must be a scalar", raw)
	case nil:
		if raw == "" {
			return "", nil
		}
	}
	return v, nil
}

func parseValues(raws []string) ([]any, error) {
	out := make([]any, 0, len(raws))
	for _, raw := range raws {
		v, err := parseValue(raw)
		if err != nil {
			return nil, err
		}
		out = append(out, v)
	}
	return out, nil
}
