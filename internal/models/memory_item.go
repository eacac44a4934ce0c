// ABOUTME: MemoryItem is the unit of the tiered memory model (working/episodic/semantic)
// ABOUTME: Strength is recomputed from importance, recency, and access count; never trusted stale
package models

import (
	"time"

	"github.com/oklog/ulid/v2"
)

// Tier identifies a memory retention tier.
type Tier string

const (
	TierWorking  Tier = "working"
	TierEpisodic Tier = "episodic"
	TierSemantic Tier = "semantic"
	// TierArchived is terminal: the item is kept but excluded from retrieval.
	TierArchived Tier = "archived"
)

// MemoryItem is a single entry in the tiered memory store.
type MemoryItem struct {
	ID             string     `json:"id"`
	ProjectID      string     `json:"project_id"`
	Tier           Tier       `json:"tier"`
	Content        string     `json:"content"`
	Embedding      []float32  `json:"embedding,omitempty"`
	Importance     float64    `json:"importance"` // [0,1]
	Strength       float64    `json:"strength"`   // [0,1], derived
	AccessCount    int        `json:"access_count"`
	CreatedAt      time.Time  `json:"created_at"`
	LastAccessedAt time.Time  `json:"last_accessed_at"`
	SourceRefs     []string   `json:"source_refs,omitempty"`
	// Concept keys the item's content into the semantic layer for
	// conflict detection during promotion and interventions.
	Concept       string     `json:"concept,omitempty"`
	Reliability   float64    `json:"reliability"` // source reliability for conflict resolution
	ReviewPending bool       `json:"review_pending"`
	// WeakSince marks when strength first fell below the archival
	// threshold; cleared on reinforcement.
	WeakSince *time.Time `json:"weak_since,omitempty"`
}

// NewMemoryItemID generates a time-ordered item ID.
func NewMemoryItemID() string {
	return "mem_" + ulid.Make().String()
}

// Age returns the item's age at time now.
func (m *MemoryItem) Age(now time.Time) time.Duration {
	return now.Sub(m.CreatedAt)
}
