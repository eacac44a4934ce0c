// ABOUTME: Query command for hybrid retrieval from the CLI
// ABOUTME: Runs the three-stage retrieval and renders fused results
package commands

import (
	"encoding/json"
	"fmt"
	"os"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/tomeworks/tome/internal/models"
)

var (
	queryProject string
	queryLimit   int
)

// NewQueryCmd creates the query command
func NewQueryCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "query <text>",
		Short: "Query the knowledge engine",
		Long: `Run hybrid retrieval over the vector index, the knowledge graph,
and the memory bank, fusing the three result lists by weighted
reciprocal rank.

Examples:
  tome query --project docs "how are chunks sized"
  tome query -p docs --limit 10 --format json "retry policy"`,
		Args: cobra.MinimumNArgs(1),
		RunE: runQuery,
	}

	cmd.Flags().StringVarP(&queryProject, "project", "p", "", "Project to search (required)")
	cmd.Flags().IntVarP(&queryLimit, "limit", "l", 5, "Maximum number of results")
	_ = cmd.MarkFlagRequired("project")

	return cmd
}

func runQuery(cmd *cobra.Command, args []string) error {
	if err := validatePositiveInt("limit", queryLimit); err != nil {
		return err
	}
	query := strings.Join(args, " ")

	eng, cleanup, err := openEngine()
	if err != nil {
		return err
	}
	defer cleanup()

	results, info, err := eng.Retrieve(cmd.Context(), queryProject, query, queryLimit)
	if err != nil {
		return fmt.Errorf("retrieval failed: %w", err)
	}

	if outputFormat == "json" {
		return json.NewEncoder(os.Stdout).Encode(struct {
			Results []models.RetrievalResult `json:"results"`
			Info    *models.RetrievalInfo    `json:"info"`
		}{results, info})
	}

	if len(results) == 0 {
		if !quiet {
			fmt.Println("No results found.")
		}
		return nil
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "SCORE\tSOURCE\tREF\tPREVIEW")
	for _, r := range results {
		fmt.Fprintf(w, "%.4f\t%s\t%s\t%s\n",
			r.FusedScore, r.Source, truncate(r.Ref, 40), truncate(oneLine(r.Content), 60))
	}
	if err := w.Flush(); err != nil {
		return err
	}

	if !quiet {
		sources := make([]string, len(info.SourcesUsed))
		for i, s := range info.SourcesUsed {
			sources[i] = string(s)
		}
		fmt.Printf("\nSources: %s", strings.Join(sources, ", "))
		if info.Degraded {
			fmt.Print(" (degraded)")
		}
		if info.Reranked {
			fmt.Print(" (reranked)")
		}
		fmt.Println()
	}
	return nil
}

func oneLine(s string) string {
	return strings.Join(strings.Fields(s), " ")
}
