// Command cqnlower lowers CQN queries against a CUE model and runs them
// on SQLite.
package main

import (
	"fmt"
	"os"

	"github.com/roach88/cqnlower/internal/cli"
)

func main() {
	if err := cli.NewRootCommand().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(cli.GetExitCode(err))
	}
}
