package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"dpdb/compact"
)

var compactCmd = &cobra.Command{
	Use:   "compact <src> <dst>",
	Short: "rewrite a dpdb file into dst, reclaiming space held by tombstones and freed sectors",
	Args:  cobra.ExactArgs(2),
	RunE:  runCompact,
}

func init() {
	rootCmd.AddCommand(compactCmd)
}

func runCompact(cmd *cobra.Command, args []string) error {
	if err := compact.File(args[0], args[1]); err != nil {
		return err
	}
	fmt.Printf("compacted %s -> %s\n", args[0], args[1])
	return nil
}
