// ABOUTME: Intervene command for recording human corrections
// ABOUTME: Corrections override extracted memories and are kept verbatim
package commands

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"
)

var (
	interveneProject string
	interveneConcept string
)

// NewInterveneCmd creates the intervene command
func NewInterveneCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "intervene <note>",
		Short: "Record a human correction",
		Long: `Record a correction in the project's memory bank. The note is
stored verbatim and marked as an intervention; when a concept is
given, the correction supersedes any extracted memory for it.

Examples:
  tome intervene -p docs "the retry budget is 5 attempts, not 3"
  tome intervene -p docs --concept "deployment region" "region is eu-central-1"`,
		Args: cobra.MinimumNArgs(1),
		RunE: runIntervene,
	}

	cmd.Flags().StringVarP(&interveneProject, "project", "p", "", "Project to correct (required)")
	cmd.Flags().StringVar(&interveneConcept, "concept", "", "Concept the correction applies to")
	_ = cmd.MarkFlagRequired("project")

	return cmd
}

func runIntervene(cmd *cobra.Command, args []string) error {
	note := strings.TrimSpace(strings.Join(args, " "))
	if note == "" {
		return fmt.Errorf("note must not be empty")
	}

	eng, cleanup, err := openEngine()
	if err != nil {
		return err
	}
	defer cleanup()

	if err := eng.RecordIntervention(cmd.Context(), interveneProject, interveneConcept, note); err != nil {
		return fmt.Errorf("failed to record intervention: %w", err)
	}

	if !quiet {
		fmt.Println("✓ Correction recorded")
	}
	return nil
}
