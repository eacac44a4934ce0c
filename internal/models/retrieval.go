// ABOUTME: RetrievalResult is the ephemeral, tagged fusion unit returned by Retrieve
// ABOUTME: Never persisted; source tags vector, graph, or memory_bank provenance
package models

import "time"

// Source identifies which retrieval stage produced a result.
type Source string

const (
	SourceVector     Source = "vector"
	SourceGraph      Source = "graph"
	SourceMemoryBank Source = "memory_bank"
)

// RetrievalResult is one fused retrieval hit. Ref points at the underlying
// chunk, concept, or memory item; results from different sources that share
// a Ref are deduplicated and their fused scores accumulate.
type RetrievalResult struct {
	Ref            string    `json:"ref"`
	Content        string    `json:"content,omitempty"`
	RawScore       float64   `json:"raw_score"`
	Source         Source    `json:"source"`
	FusedScore     float64   `json:"fused_score"`
	LastAccessedAt time.Time `json:"last_accessed_at,omitempty"`
}

// RetrievalInfo is the quality indicator attached to every retrieval,
// so callers see partial-source outcomes instead of opaque failures.
type RetrievalInfo struct {
	SourcesUsed []Source `json:"sources_used"`
	Degraded    bool     `json:"degraded"`
	Reranked    bool     `json:"reranked"`
}
