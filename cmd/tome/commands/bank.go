// ABOUTME: Bank command for inspecting a project's memory bank
// ABOUTME: Renders the context excerpt, concept list, and running summary
package commands

import (
	"encoding/json"
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/spf13/cobra"
)

var bankProject string

// NewBankCmd creates the bank command
func NewBankCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "bank",
		Short: "Show a project's memory bank",
		Long: `Show the memory bank snapshot for a project: the recent context
excerpt, the deduplicated concept list, and the versioned running
summary.

Examples:
  tome bank --project docs
  tome bank -p docs --format json`,
		RunE: runBank,
	}

	cmd.Flags().StringVarP(&bankProject, "project", "p", "", "Project to inspect (required)")
	_ = cmd.MarkFlagRequired("project")

	return cmd
}

func runBank(cmd *cobra.Command, args []string) error {
	eng, cleanup, err := openEngine()
	if err != nil {
		return err
	}
	defer cleanup()

	snap, err := eng.GetMemoryBankSnapshot(cmd.Context(), bankProject)
	if err != nil {
		return fmt.Errorf("failed to read memory bank: %w", err)
	}

	if outputFormat == "json" {
		return json.NewEncoder(os.Stdout).Encode(snap)
	}

	fmt.Printf("Memory bank for %s\n", snap.ProjectID)
	fmt.Printf("  summary version: %d\n", snap.SummaryVersion)
	fmt.Printf("  last updated:    %s\n", formatTime(snap.LastUpdated))

	if snap.SummaryText != "" {
		fmt.Printf("\nSummary:\n%s\n", snap.SummaryText)
	}

	if len(snap.ConceptList) > 0 {
		fmt.Printf("\nConcepts (%d):\n", len(snap.ConceptList))
		w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
		fmt.Fprintln(w, "NAME\tTYPE\tADDED")
		for _, c := range snap.ConceptList {
			fmt.Fprintf(w, "%s\t%s\t%s\n", truncate(c.Name, 40), c.Type, formatTime(c.AddedAt))
		}
		if err := w.Flush(); err != nil {
			return err
		}
	}

	if verbose && snap.ContextExcerpt != "" {
		fmt.Printf("\nContext:\n%s\n", snap.ContextExcerpt)
	}

	if snap.SummaryVersion == 0 && len(snap.ConceptList) == 0 && !quiet {
		fmt.Println("\nNothing ingested for this project yet.")
	}
	return nil
}
