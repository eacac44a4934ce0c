// ABOUTME: Sweep command for running one memory lifecycle pass
// ABOUTME: Recomputes strengths, promotes, archives, and consolidates
package commands

import (
	"fmt"

	"github.com/spf13/cobra"
)

// NewSweepCmd creates the sweep command
func NewSweepCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "sweep",
		Short: "Run one memory lifecycle sweep",
		Long: `Run a single lifecycle pass over all projects: recompute memory
strengths from decay and access counts, promote qualifying episodic
memories to semantic, archive weak items, and consolidate working
memory that is over capacity.

The MCP server runs this on a timer; the command exists for manual
runs and cron jobs.`,
		RunE: runSweep,
	}
}

func runSweep(cmd *cobra.Command, args []string) error {
	eng, cleanup, err := openEngine()
	if err != nil {
		return err
	}
	defer cleanup()

	if err := eng.Sweep(cmd.Context()); err != nil {
		return fmt.Errorf("sweep failed: %w", err)
	}

	if !quiet {
		fmt.Println("✓ Sweep complete")
	}
	return nil
}
