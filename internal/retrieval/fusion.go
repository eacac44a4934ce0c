// ABOUTME: Weighted reciprocal rank fusion across the three retrieval stages
// ABOUTME: Deterministic: duplicate refs accumulate, ties break on recency then ref
package retrieval

import (
	"sort"

	"github.com/tomeworks/tome/internal/models"
)

// fuse merges the per-stage ranked lists with weighted reciprocal rank
// fusion: each result contributes weight/(k + rank) to its ref's fused
// score, so agreement across stages compounds. Results sharing a ref are
// deduplicated; the copy from the first stage to rank it keeps its content
// and source tag.
func fuse(lists map[models.Source][]models.RetrievalResult, weights map[models.Source]float64, k float64) []models.RetrievalResult {
	merged := make(map[string]*models.RetrievalResult)

	// Iterate sources in a fixed order so duplicate refs resolve their
	// content/source tag deterministically.
	for _, source := range []models.Source{models.SourceVector, models.SourceGraph, models.SourceMemoryBank} {
		list, ok := lists[source]
		if !ok {
			continue
		}
		weight := weights[source]
		for rank, r := range list {
			contribution := weight / (k + float64(rank+1))
			if existing, ok := merged[r.Ref]; ok {
				existing.FusedScore += contribution
				if existing.Content == "" {
					existing.Content = r.Content
				}
				if r.LastAccessedAt.After(existing.LastAccessedAt) {
					existing.LastAccessedAt = r.LastAccessedAt
				}
				continue
			}
			copied := r
			copied.FusedScore = contribution
			merged[r.Ref] = &copied
		}
	}

	out := make([]models.RetrievalResult, 0, len(merged))
	for _, r := range merged {
		out = append(out, *r)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].FusedScore != out[j].FusedScore {
			return out[i].FusedScore > out[j].FusedScore
		}
		// More recently accessed memories win ties.
		if !out[i].LastAccessedAt.Equal(out[j].LastAccessedAt) {
			return out[i].LastAccessedAt.After(out[j].LastAccessedAt)
		}
		return out[i].Ref < out[j].Ref
	})
	return out
}
