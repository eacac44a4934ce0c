// ABOUTME: Sentence similarity graph construction for spectral chunking
// ABOUTME: Cosine similarities with an adjacency boost and a percentile sparsification cut
package chunker

import (
	"math"
	"sort"

	"gonum.org/v1/gonum/mat"
)

// cosine returns the cosine similarity of two embeddings, or 0 when either
// has zero norm or the dimensions disagree.
func cosine(a, b []float32) float64 {
	if len(a) != len(b) || len(a) == 0 {
		return 0
	}
	var dot, na, nb float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		na += float64(a[i]) * float64(a[i])
		nb += float64(b[i]) * float64(b[i])
	}
	if na == 0 || nb == 0 {
		return 0
	}
	return dot / (math.Sqrt(na) * math.Sqrt(nb))
}

// buildSimilarityGraph builds the weighted sentence adjacency matrix.
// Weights are cosine similarities clamped to [0,1]; pairs of adjacent
// sentences are boosted to favor locally coherent chunks. Edges below the
// given percentile of all positive weights are cut to sparsify the graph.
func buildSimilarityGraph(embeddings [][]float32, adjacentBoost, percentile float64) *mat.SymDense {
	n := len(embeddings)
	adj := mat.NewSymDense(n, nil)

	var weights []float64
	for i := 0; i < n; i++ {
		for j := i + 1; j < n; j++ {
			w := clamp01(cosine(embeddings[i], embeddings[j]))
			if j == i+1 {
				w = clamp01(w * adjacentBoost)
			}
			adj.SetSym(i, j, w)
			if w > 0 {
				weights = append(weights, w)
			}
		}
	}

	if len(weights) == 0 {
		return adj
	}

	threshold := percentileOf(weights, percentile)
	for i := 0; i < n; i++ {
		for j := i + 1; j < n; j++ {
			if adj.At(i, j) < threshold {
				adj.SetSym(i, j, 0)
			}
		}
	}
	return adj
}

// percentileOf returns the p-th percentile of values using nearest-rank
// interpolation on the sorted slice.
func percentileOf(values []float64, p float64) float64 {
	sorted := make([]float64, len(values))
	copy(sorted, values)
	sort.Float64s(sorted)

	if p <= 0 {
		return sorted[0]
	}
	if p >= 100 {
		return sorted[len(sorted)-1]
	}
	idx := int(math.Round(p / 100 * float64(len(sorted)-1)))
	return sorted[idx]
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
