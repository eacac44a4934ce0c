// ABOUTME: MemoryBankSnapshot is the denormalized, size-bounded per-project bank view
// ABOUTME: The only entity edited outside the normal ingestion path
package models

import "time"

// Hard caps on snapshot text fields. Truncation is deterministic:
// oldest content is dropped first.
const (
	ContextCapBytes = 10 * 1024
	SummaryCapBytes = 5 * 1024
	ConceptListCap  = 100
)

// ConceptEntry is one entry in the bank's deduplicated concept list.
type ConceptEntry struct {
	Name    string    `json:"name" yaml:"name"`
	Type    string    `json:"type" yaml:"type"`
	AddedAt time.Time `json:"added_at" yaml:"added_at"`
}

// MemoryBankSnapshot is a materialized view of the bank files for one project.
type MemoryBankSnapshot struct {
	ProjectID      string         `json:"project_id"`
	ContextExcerpt string         `json:"context_excerpt"`
	ConceptList    []ConceptEntry `json:"concept_list"`
	SummaryText    string         `json:"summary_text"`
	SummaryVersion int            `json:"summary_version"`
	LastUpdated    time.Time      `json:"last_updated"`
}
