package cli

import (
	"context"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/roach88/cqnlower/internal/store"
)

// RunOptions holds flags for the run command.
type RunOptions struct {
	LowerOptions
	Database string
	Seed     string
	NoRecord bool
}

// RunOutput is the result of running one query.
type RunOutput struct {
	ID      string           `json:"id,omitempty"`
	SQL     string           `json:"sql"`
	Params  []any            `json:"params,omitempty"`
	Columns []string         `json:"columns"`
	Rows    []map[string]any `json:"rows"`
}

// NewRunCommand creates the run command.
func NewRunCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &RunOptions{LowerOptions: LowerOptions{RootOptions: rootOpts}}

	cmd := &cobra.Command{
		Use:   "run <model-dir> <query-file>",
		Short: "Lower a query and run it against SQLite",
		Long: `Lower a query, render it to SQL and run it against a SQLite database.

The model's tables are created if missing and the optional seed file
(rows keyed by entity name) is loaded first. Every query run is recorded
in the database's query log for later replay.

Examples:
  cqnlower run ./model query.yaml --seed seed.yaml
  cqnlower run --db ./shop.db ./model query.yaml --arg 201`,
		Args:          cobra.ExactArgs(2),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runQuery(opts, args[0], args[1], cmd)
		},
	}

	cmd.Flags().StringVar(&opts.Database, "db", ":memory:", "path to SQLite database")
	cmd.Flags().StringVar(&opts.Seed, "seed", "", "YAML file of rows to insert before running")
	cmd.Flags().BoolVar(&opts.NoRecord, "no-record", false, "do not record the query in the query log")
	cmd.Flags().StringArrayVar(&opts.Args, "arg", nil, "positional parameter value (repeatable)")
	cmd.Flags().StringArrayVar(&opts.Bind, "bind", nil, "named parameter as name=value (repeatable)")

	return cmd
}

func runQuery(opts *RunOptions, modelDir, queryFile string, cmd *cobra.Command) error {
	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}
	formatter := &OutputFormatter{
		Format:    opts.Format,
		Writer:    cmd.OutOrStdout(),
		ErrWriter: cmd.ErrOrStderr(),
		Verbose:   opts.Verbose,
	}
	log := opts.Logger().WithField("db", opts.Database)

	prepared, err := prepareQuery(&opts.LowerOptions, modelDir, queryFile, cmd, formatter)
	if err != nil {
		return err
	}

	st, err := store.Open(opts.Database)
	if err != nil {
		return formatter.Fail(ExitCommandError, ErrCodeExecute, fmt.Sprintf("failed to open database: %v", err), nil)
	}
	defer func() {
		if closeErr := st.Close(); closeErr != nil {
			log.WithError(closeErr).Error("error closing database")
		}
	}()

	if err := st.CreateTables(ctx, prepared.Model); err != nil {
		return formatter.Fail(ExitCommandError, ErrCodeExecute, err.Error(), nil)
	}
	if opts.Seed != "" {
		if err := seedFile(ctx, st, prepared, opts.Seed); err != nil {
			return formatter.Fail(ExitCommandError, ErrCodeExecute, err.Error(), nil)
		}
		log.WithField("seed", opts.Seed).Debug("seed loaded")
	}

	rows, err := st.QueryRows(ctx, prepared.SQL, prepared.Params...)
	if err != nil {
		return formatter.Fail(ExitFailure, ErrCodeExecute, err.Error(), nil)
	}

	out := RunOutput{
		SQL:     prepared.SQL,
		Params:  prepared.Params,
		Columns: rows.Columns,
		Rows:    rows.Maps(),
	}
	if !opts.NoRecord {
		out.ID, err = st.RecordQuery(ctx, prepared.Lowered, prepared.SQL, prepared.Params, len(rows.Values))
		if err != nil {
			return formatter.Fail(ExitCommandError, ErrCodeExecute, err.Error(), nil)
		}
		log.WithField("id", out.ID).Debug("query recorded")
	}

	if opts.Format == "json" {
		return formatter.Success(out)
	}
	formatter.VerboseLog("%s", prepared.SQL)
	return PrintRows(cmd.OutOrStdout(), rows)
}

func seedFile(ctx context.Context, st *store.Store, prepared *preparedQuery, path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read seed: %w", err)
	}
	seed, err := store.ParseSeed(data)
	if err != nil {
		return err
	}
	return st.Seed(ctx, prepared.Model, seed)
}
