// ABOUTME: Spectral clustering over the sentence similarity graph
// ABOUTME: Normalized Laplacian eigendecomposition followed by deterministic k-means
package chunker

import (
	"errors"
	"math"

	"gonum.org/v1/gonum/mat"
)

const kmeansMaxIterations = 50

// spectralLabels clusters the graph's vertices into k groups. It embeds the
// vertices via the first k eigenvectors of the symmetric normalized Laplacian
// L = I - D^{-1/2} A D^{-1/2}, row-normalizes the spectral embedding, and runs
// a deterministic k-means over the rows. Labels are returned per vertex.
func spectralLabels(adj *mat.SymDense, k int) ([]int, error) {
	n := adj.SymmetricDim()
	labels := make([]int, n)
	if k <= 1 || n <= 1 {
		return labels, nil
	}
	if k > n {
		k = n
	}

	// Degree and its inverse square root. Isolated vertices keep a zero
	// scaling so they land at the origin of the spectral embedding.
	invSqrtDeg := make([]float64, n)
	for i := 0; i < n; i++ {
		var d float64
		for j := 0; j < n; j++ {
			if i != j {
				d += adj.At(i, j)
			}
		}
		if d > 0 {
			invSqrtDeg[i] = 1 / math.Sqrt(d)
		}
	}

	laplacian := mat.NewSymDense(n, nil)
	for i := 0; i < n; i++ {
		laplacian.SetSym(i, i, 1)
		for j := i + 1; j < n; j++ {
			w := adj.At(i, j)
			if w > 0 {
				laplacian.SetSym(i, j, -w*invSqrtDeg[i]*invSqrtDeg[j])
			}
		}
	}

	var eig mat.EigenSym
	if !eig.Factorize(laplacian, true) {
		return nil, errEigenFailed
	}
	var vecs mat.Dense
	eig.VectorsTo(&vecs)

	// Eigenvalues come back ascending, so the first k columns span the
	// smoothest structure of the graph.
	features := make([][]float64, n)
	for i := 0; i < n; i++ {
		row := make([]float64, k)
		var norm float64
		for c := 0; c < k; c++ {
			v := vecs.At(i, c)
			row[c] = v
			norm += v * v
		}
		if norm > 0 {
			norm = math.Sqrt(norm)
			for c := range row {
				row[c] /= norm
			}
		}
		features[i] = row
	}

	return kmeans(features, k), nil
}

var errEigenFailed = errors.New("eigendecomposition of sentence graph failed")

// kmeans is a deterministic Lloyd's iteration: the first centroid is row 0
// and each further centroid is the row farthest from all chosen so far, so
// identical inputs always produce identical labels.
func kmeans(rows [][]float64, k int) []int {
	n := len(rows)
	dim := len(rows[0])

	centroids := make([][]float64, 0, k)
	centroids = append(centroids, append([]float64(nil), rows[0]...))
	for len(centroids) < k {
		bestIdx, bestDist := 0, -1.0
		for i, row := range rows {
			minDist := math.MaxFloat64
			for _, c := range centroids {
				if d := sqDist(row, c); d < minDist {
					minDist = d
				}
			}
			if minDist > bestDist {
				bestDist = minDist
				bestIdx = i
			}
		}
		centroids = append(centroids, append([]float64(nil), rows[bestIdx]...))
	}

	labels := make([]int, n)
	for iter := 0; iter < kmeansMaxIterations; iter++ {
		changed := false
		for i, row := range rows {
			best, bestDist := 0, math.MaxFloat64
			for c, centroid := range centroids {
				if d := sqDist(row, centroid); d < bestDist {
					bestDist = d
					best = c
				}
			}
			if labels[i] != best {
				labels[i] = best
				changed = true
			}
		}
		if !changed && iter > 0 {
			break
		}

		counts := make([]int, k)
		sums := make([][]float64, k)
		for c := range sums {
			sums[c] = make([]float64, dim)
		}
		for i, row := range rows {
			counts[labels[i]]++
			for d, v := range row {
				sums[labels[i]][d] += v
			}
		}
		for c := range centroids {
			if counts[c] == 0 {
				continue // keep the old centroid for empty clusters
			}
			for d := range centroids[c] {
				centroids[c][d] = sums[c][d] / float64(counts[c])
			}
		}
	}
	return labels
}

func sqDist(a, b []float64) float64 {
	var sum float64
	for i := range a {
		d := a[i] - b[i]
		sum += d * d
	}
	return sum
}
