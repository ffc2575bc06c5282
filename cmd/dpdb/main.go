// Command dpdb is the operator-facing CLI: a REPL shell, a sector
// inspector, a sample-data seeder, and a compaction runner, replacing
// the teacher's SQL REPL (main.go) and its cmd/inspect_idx,
// cmd/seed siblings with the key/value-shaped equivalents this engine
// actually needs.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var rootCmd = &cobra.Command{
	Use:   "dpdb",
	Short: "dpdb is a single-file embedded key/value storage engine",
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
