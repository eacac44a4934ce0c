// ABOUTME: Conflict resolution between semantic items keyed to the same concept
// ABOUTME: Higher reliability wins, then recency; unresolvable ties get flagged for review
package lifecycle

import "github.com/tomeworks/tome/internal/models"

// resolveConflict decides which of two semantic items keyed to the same
// concept survives. Higher source reliability wins outright; equal
// reliability falls back to the newer item; a full tie keeps the incoming
// item but flags it for human review. Both inputs may be mutated (the
// review flag); neither is persisted here.
func resolveConflict(existing, incoming *models.MemoryItem) (winner, loser *models.MemoryItem) {
	switch {
	case incoming.Reliability > existing.Reliability:
		return incoming, existing
	case existing.Reliability > incoming.Reliability:
		return existing, incoming
	case incoming.CreatedAt.After(existing.CreatedAt):
		return incoming, existing
	case existing.CreatedAt.After(incoming.CreatedAt):
		return existing, incoming
	default:
		incoming.ReviewPending = true
		return incoming, existing
	}
}
