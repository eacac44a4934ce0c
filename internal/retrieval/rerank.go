// ABOUTME: Optional reranking pass over the fused head of the result list
// ABOUTME: Blends reranker relevance with normalized fused scores; failures degrade
package retrieval

import (
	"context"
	"log"
	"sort"

	"github.com/tomeworks/tome/internal/models"
)

const (
	rerankHeadFactor  = 3 // rerank the top 3*topK fused candidates
	rerankBlendWeight = 0.6
)

// Reranker scores candidates against the query, one score per candidate in
// order, higher meaning more relevant.
type Reranker interface {
	Rerank(ctx context.Context, query string, candidates []models.RetrievalResult) ([]float64, error)
}

// applyRerank reranks the head of the fused list and blends the scores:
// 0.6 reranker relevance, 0.4 normalized fused score. A reranker failure
// leaves the fused order untouched. Returns whether reranking was applied.
func applyRerank(ctx context.Context, reranker Reranker, query string, fused []models.RetrievalResult, topK int) ([]models.RetrievalResult, bool) {
	head := rerankHeadFactor * topK
	if head > len(fused) {
		head = len(fused)
	}
	if head == 0 {
		return fused, false
	}

	scores, err := reranker.Rerank(ctx, query, fused[:head])
	if err != nil || len(scores) != head {
		log.Printf("[Retrieval] reranker unavailable, keeping fusion order: %v", err)
		return fused, false
	}

	maxFused := 0.0
	for _, r := range fused[:head] {
		if r.FusedScore > maxFused {
			maxFused = r.FusedScore
		}
	}

	reranked := make([]models.RetrievalResult, len(fused))
	copy(reranked, fused)
	for i := 0; i < head; i++ {
		normalized := 0.0
		if maxFused > 0 {
			normalized = reranked[i].FusedScore / maxFused
		}
		reranked[i].FusedScore = rerankBlendWeight*scores[i] + (1-rerankBlendWeight)*normalized
	}
	sort.Slice(reranked[:head], func(i, j int) bool {
		if reranked[i].FusedScore != reranked[j].FusedScore {
			return reranked[i].FusedScore > reranked[j].FusedScore
		}
		return reranked[i].Ref < reranked[j].Ref
	})
	return reranked, true
}
