// ABOUTME: Ingest command for adding documents to the knowledge engine
// ABOUTME: Reads from a file or stdin, chunks, indexes, and memorizes
package commands

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"
)

var (
	ingestProject string
	ingestDocID   string
)

// NewIngestCmd creates the ingest command
func NewIngestCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "ingest [file]",
		Short: "Ingest a document into the knowledge engine",
		Long: `Ingest a document: split it into semantically coherent chunks,
index them in the vector store, extract concepts into the knowledge
graph, and update the project's memory bank.

Reads from the given file, or from stdin when no file is given
(or the file is "-").

Examples:
  tome ingest --project docs design.md
  cat notes.txt | tome ingest --project scratch --id notes_2026`,
		Args: cobra.MaximumNArgs(1),
		RunE: runIngest,
	}

	cmd.Flags().StringVarP(&ingestProject, "project", "p", "", "Project to ingest into (required)")
	cmd.Flags().StringVar(&ingestDocID, "id", "", "Document ID (default: derived from filename)")
	_ = cmd.MarkFlagRequired("project")

	return cmd
}

func runIngest(cmd *cobra.Command, args []string) error {
	var text string
	var sourceName string

	if len(args) == 1 && args[0] != "-" {
		data, err := os.ReadFile(args[0])
		if err != nil {
			return fmt.Errorf("failed to read %s: %w", args[0], err)
		}
		text = string(data)
		sourceName = args[0]
	} else {
		data, err := io.ReadAll(os.Stdin)
		if err != nil {
			return fmt.Errorf("failed to read stdin: %w", err)
		}
		text = string(data)
		sourceName = "stdin"
	}

	if strings.TrimSpace(text) == "" {
		return fmt.Errorf("document is empty")
	}

	docID := ingestDocID
	if docID == "" {
		if sourceName == "stdin" {
			return fmt.Errorf("--id is required when reading from stdin")
		}
		docID = documentIDFromPath(sourceName)
	}

	eng, cleanup, err := openEngine()
	if err != nil {
		return err
	}
	defer cleanup()

	report, err := eng.IngestDocument(cmd.Context(), ingestProject, docID, text, map[string]string{
		"source": sourceName,
	})
	if err != nil {
		return fmt.Errorf("ingestion failed: %w", err)
	}

	if outputFormat == "json" {
		return json.NewEncoder(os.Stdout).Encode(report)
	}

	if !quiet {
		fmt.Printf("✓ Ingested %s into project %s\n", docID, ingestProject)
		fmt.Printf("  chunks:   %d\n", report.ChunksCreated)
		fmt.Printf("  concepts: %d\n", report.ConceptsExtracted)
		if report.Degraded {
			fmt.Println("  note: embeddings unavailable, fixed-window chunking was used")
		}
		if report.Partial {
			fmt.Println("  note: some steps failed and were queued for repair")
		}
	}
	return nil
}

// documentIDFromPath turns "docs/Design Notes.md" into "design_notes".
func documentIDFromPath(path string) string {
	base := filepath.Base(path)
	base = strings.TrimSuffix(base, filepath.Ext(base))
	base = strings.ToLower(base)
	return strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z', r >= '0' && r <= '9':
			return r
		default:
			return '_'
		}
	}, base)
}
