// ABOUTME: Root command for the Tome CLI with global flags
// ABOUTME: Registers all subcommands and handles global configuration
package commands

import (
	"github.com/spf13/cobra"
)

var (
	verbose      bool
	quiet        bool
	outputFormat string
)

// NewRootCmd creates the root command for the tome CLI
func NewRootCmd() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "tome",
		Short: "Document knowledge engine with layered memory",
		Long: `
████████╗ ██████╗ ███╗   ███╗███████╗
╚══██╔══╝██╔═══██╗████╗ ████║██╔════╝
   ██║   ██║   ██║██╔████╔██║█████╗
   ██║   ██║   ██║██║╚██╔╝██║██╔══╝
   ██║   ██████╔╝██║ ╚═╝ ██║███████╗
   ╚═╝    ╚═════╝ ╚═╝     ╚═╝╚══════╝

Tome ingests documents into a hybrid memory system: semantically
coherent chunks in a vector index, extracted concepts in a knowledge
graph, and a per-project memory bank with tiered, decaying memories.

Retrieval fuses all three sources so answers survive any single
backend having a bad day.`,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "Enable verbose output")
	rootCmd.PersistentFlags().BoolVarP(&quiet, "quiet", "q", false, "Suppress non-essential output")
	rootCmd.PersistentFlags().StringVar(&outputFormat, "format", "auto", "Output format: auto, json, or table")
	rootCmd.MarkFlagsMutuallyExclusive("verbose", "quiet")

	rootCmd.AddCommand(NewIngestCmd())
	rootCmd.AddCommand(NewQueryCmd())
	rootCmd.AddCommand(NewBankCmd())
	rootCmd.AddCommand(NewInterveneCmd())
	rootCmd.AddCommand(NewSweepCmd())
	rootCmd.AddCommand(NewVersionCmd())

	return rootCmd
}

// Execute runs the root command
func Execute() error {
	return NewRootCmd().Execute()
}
