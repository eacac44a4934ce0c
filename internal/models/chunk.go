// ABOUTME: Chunk represents a sentence-respecting segment of an ingested document
// ABOUTME: Immutable once created; superseded rather than mutated on re-chunking
package models

import "github.com/google/uuid"

// Metadata keys set by the chunking pipeline.
const (
	MetaDegraded = "degraded" // "true" when the embedding service was unavailable
	MetaPartial  = "partial"  // "true" when one or more store writes failed during ingestion
	MetaMethod   = "method"   // "spectral" or "fixed_window"
)

// Chunk is a contiguous, sentence-respecting retrieval unit derived from a document.
type Chunk struct {
	ChunkID        string            `json:"chunk_id"`
	DocumentID     string            `json:"document_id"`
	Text           string            `json:"text"`
	Ordinal        int               `json:"ordinal_position"`
	Embedding      []float32         `json:"embedding,omitempty"`
	CoherenceScore float64           `json:"coherence_score"`
	TokenCount     int               `json:"token_count"`
	PrevChunkRef   string            `json:"prev_chunk_ref,omitempty"`
	NextPreview    string            `json:"next_preview,omitempty"`
	Metadata       map[string]string `json:"metadata,omitempty"`
}

// NewChunkID generates a unique chunk ID.
func NewChunkID() string {
	return "chunk_" + uuid.New().String()
}

// Degraded reports whether this chunk was produced on the fallback path
// because the embedding service was unavailable.
func (c *Chunk) Degraded() bool {
	return c.Metadata[MetaDegraded] == "true"
}
