package cli

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/roach88/cqnlower/internal/store"
)

// ReplayOptions holds flags for the replay command.
type ReplayOptions struct {
	*RootOptions
	Database string
}

// ReplayQueryResult holds the replay result for a single logged query.
type ReplayQueryResult struct {
	ID       string `json:"id"`
	Seq      int64  `json:"seq"`
	SQL      string `json:"sql"`
	Recorded int    `json:"recorded_rows"`
	Got      int    `json:"got_rows"`
	Stable   bool   `json:"stable"`
}

// ReplayResult holds the overall replay result.
type ReplayResult struct {
	Queries      []ReplayQueryResult `json:"queries"`
	TotalQueries int                 `json:"total_queries"`
	AllStable    bool                `json:"all_stable"`
}

// NewReplayCommand creates the replay command.
func NewReplayCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &ReplayOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "replay",
		Short: "Replay the query log and compare row counts",
		Long: `Re-run every query recorded by "run" in the order it was recorded and
compare the number of rows it returns with the recorded count.

Exit codes:
  0 - All queries return the recorded row count
  1 - One or more row counts changed
  2 - Command error (database not found, etc.)

Examples:
  cqnlower replay --db ./shop.db
  cqnlower replay --db ./shop.db --format json`,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runReplay(opts, cmd)
		},
	}

	cmd.Flags().StringVar(&opts.Database, "db", "", "path to SQLite database (required)")
	_ = cmd.MarkFlagRequired("db")

	return cmd
}

func runReplay(opts *ReplayOptions, cmd *cobra.Command) error {
	ctx := context.Background()

	st, err := store.Open(opts.Database)
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to open database", err)
	}
	defer st.Close()

	entries, err := st.QueryLog(ctx)
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to read query log", err)
	}

	if len(entries) == 0 {
		if opts.Format == "json" {
			return outputReplayJSON(cmd, ReplayResult{
				Queries:   []ReplayQueryResult{},
				AllStable: true,
			})
		}
		fmt.Fprintln(cmd.OutOrStdout(), "No queries found in database.")
		return nil
	}

	mismatches, err := st.Replay(ctx)
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to replay query log", err)
	}
	got := make(map[string]int, len(mismatches))
	for _, m := range mismatches {
		got[m.Entry.ID] = m.Got
	}

	result := ReplayResult{
		Queries:      make([]ReplayQueryResult, 0, len(entries)),
		TotalQueries: len(entries),
		AllStable:    len(mismatches) == 0,
	}
	for _, e := range entries {
		q := ReplayQueryResult{
			ID:       e.ID,
			Seq:      e.Seq,
			SQL:      e.SQL,
			Recorded: e.RowCount,
			Got:      e.RowCount,
			Stable:   true,
		}
		if n, changed := got[e.ID]; changed {
			q.Got, q.Stable = n, false
		}
		result.Queries = append(result.Queries, q)
	}

	if opts.Format == "json" {
		return outputReplayJSON(cmd, result)
	}
	return outputReplayText(cmd, result, opts.Verbose)
}

// outputReplayJSON outputs the replay result as JSON.
func outputReplayJSON(cmd *cobra.Command, result ReplayResult) error {
	response := CLIResponse{
		Status: "ok",
		Data:   result,
	}

	if !result.AllStable {
		response.Status = "error"
		response.Error = &CLIError{
			Code:    "E_REPLAY",
			Message: "row counts changed on replay",
		}
	}

	encoder := json.NewEncoder(cmd.OutOrStdout())
	encoder.SetIndent("", "  ")
	if err := encoder.Encode(response); err != nil {
		return err
	}

	if !result.AllStable {
		return NewExitError(ExitFailure, "row counts changed on replay")
	}
	return nil
}

// outputReplayText outputs the replay result as text.
func outputReplayText(cmd *cobra.Command, result ReplayResult, verbose bool) error {
	w := cmd.OutOrStdout()

	fmt.Fprintf(w, "Replay Summary: %d query(s)\n", result.TotalQueries)
	fmt.Fprintln(w)

	for _, q := range result.Queries {
		status := "✓"
		if !q.Stable {
			status = "✗"
		}

		fmt.Fprintf(w, "%s [%d] %s\n", status, q.Seq, q.ID[:12])
		if verbose {
			fmt.Fprintf(w, "  SQL: %s\n", q.SQL)
		}
		if q.Stable {
			fmt.Fprintf(w, "  Rows: %d\n", q.Recorded)
		} else {
			fmt.Fprintf(w, "  Rows: %d recorded, %d now\n", q.Recorded, q.Got)
		}
	}
	fmt.Fprintln(w)

	if result.AllStable {
		fmt.Fprintln(w, "✓ All queries return their recorded row counts")
		return nil
	}

	fmt.Fprintln(w, "✗ Replay found changed row counts")
	return NewExitError(ExitFailure, "row counts changed on replay")
}
