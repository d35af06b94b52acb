// Package cmd provides the CLI commands for qmd.
package cmd

import (
	"github.com/spf13/cobra"

	"github.com/qmd-dev/qmd/pkg/version"
)

// indexDir is the persistent --dir flag shared by every subcommand that
// opens an Engine.
var indexDir string

// NewRootCmd creates the root command for the qmd CLI.
func NewRootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:     "qmd",
		Short:   "Local-first hybrid search over a personal Markdown library",
		Version: version.Version,
		Long: `qmd indexes collections of Markdown documents and searches them with
BM25, semantic, or fused hybrid retrieval.

Run 'qmd index' to add or refresh a collection, then 'qmd search' to
query it.`,
	}

	cmd.SetVersionTemplate("qmd version {{.Version}}\n")
	cmd.PersistentFlags().StringVar(&indexDir, "dir", ".qmd", "Index directory")

	cmd.AddCommand(newIndexCmd())
	cmd.AddCommand(newSearchCmd())
	cmd.AddCommand(newVersionCmd())

	return cmd
}

// Execute runs the root command.
func Execute() error {
	return NewRootCmd().Execute()
}
