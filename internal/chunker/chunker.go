// ABOUTME: Semantic chunker turning documents into sentence-respecting chunks
// ABOUTME: Spectral clustering over sentence embeddings with a fixed-window fallback
package chunker

import (
	"context"
	"fmt"
	"log"
	"math"
	"strings"
	"time"

	"github.com/tomeworks/tome/internal/models"
	"github.com/tomeworks/tome/internal/tokens"
	"github.com/tomeworks/tome/internal/util"
)

const (
	embedBatchSize  = 32
	previewMaxRunes = 200
)

// Embedder produces embeddings for batches of sentences.
type Embedder interface {
	EmbedBatch(ctx context.Context, texts []string) ([][]float32, error)
}

// Options controls chunk sizing and graph construction.
type Options struct {
	MinTokens            int
	MaxTokens            int
	TargetTokens         int
	AdjacentBoost        float64
	SimilarityPercentile float64
	MaxRetries           int
	RetryDelay           time.Duration
}

// DefaultOptions returns the production chunk sizing.
func DefaultOptions() Options {
	return Options{
		MinTokens:            300,
		MaxTokens:            1000,
		TargetTokens:         650,
		AdjacentBoost:        1.5,
		SimilarityPercentile: 75,
		MaxRetries:           3,
		RetryDelay:           2 * time.Second,
	}
}

// Chunker splits documents into coherent chunks.
type Chunker struct {
	embedder Embedder
	counter  *tokens.Counter
	opts     Options
}

// New creates a chunker.
func New(embedder Embedder, counter *tokens.Counter, opts Options) *Chunker {
	return &Chunker{embedder: embedder, counter: counter, opts: opts}
}

// segment is a half-open-free inclusive range [start, end] of sentence indexes.
type segment struct {
	start, end int
}

// Chunk splits text into chunks. Every sentence of the input lands in exactly
// one chunk (the fallback path may additionally repeat one sentence of
// overlap), sentences are never split, and document order is preserved. When
// the embedder is unavailable after retries the fixed-window fallback is used
// and every produced chunk is flagged degraded.
func (c *Chunker) Chunk(ctx context.Context, documentID, text string, metadata map[string]string) ([]models.Chunk, error) {
	sentences := SplitSentences(text)
	if len(sentences) == 0 {
		return nil, fmt.Errorf("cannot chunk empty document %s", documentID)
	}

	counts := make([]int, len(sentences))
	total := 0
	for i, s := range sentences {
		counts[i] = c.counter.Count(s)
		total += counts[i]
	}

	degraded := false
	var embeddings [][]float32
	if len(sentences) > 1 {
		var err error
		embeddings, err = c.embedSentences(ctx, sentences)
		if err != nil {
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			log.Printf("[Chunker] embedding unavailable for %s, falling back to fixed windows: %v", documentID, err)
			degraded = true
		}
	}

	var segments []segment
	method := "spectral"
	switch {
	case degraded:
		method = "fixed_window"
		segments = fixedWindowSegments(counts, c.opts.MaxTokens)
	case len(sentences) == 1:
		segments = []segment{{0, 0}}
	default:
		adj := buildSimilarityGraph(embeddings, c.opts.AdjacentBoost, c.opts.SimilarityPercentile)
		k := clusterCount(total, c.opts.TargetTokens, len(sentences))
		labels, err := spectralLabels(adj, k)
		if err != nil {
			log.Printf("[Chunker] spectral clustering failed for %s, falling back to fixed windows: %v", documentID, err)
			method = "fixed_window"
			segments = fixedWindowSegments(counts, c.opts.MaxTokens)
		} else {
			segments = contiguousSegments(labels)
			segments = mergeSmall(segments, counts, embeddings, c.opts.MinTokens)
			segments = splitLarge(segments, counts, embeddings, c.opts.MaxTokens)
		}
	}

	chunks := make([]models.Chunk, 0, len(segments))
	for ord, seg := range segments {
		meta := make(map[string]string, len(metadata)+2)
		for k, v := range metadata {
			meta[k] = v
		}
		meta[models.MetaMethod] = method
		if degraded {
			meta[models.MetaDegraded] = "true"
		}

		chunk := models.Chunk{
			ChunkID:        models.NewChunkID(),
			DocumentID:     documentID,
			Text:           strings.Join(sentences[seg.start:seg.end+1], " "),
			Ordinal:        ord,
			Embedding:      meanEmbedding(embeddings, seg),
			CoherenceScore: coherence(embeddings, seg),
			TokenCount:     sumRange(counts, seg),
			Metadata:       meta,
		}
		chunks = append(chunks, chunk)
	}

	// Positional context: each chunk knows its predecessor and previews its
	// successor so retrieval can show surroundings without another lookup.
	for i := range chunks {
		if i > 0 {
			chunks[i].PrevChunkRef = chunks[i-1].ChunkID
		}
		if i < len(chunks)-1 {
			chunks[i].NextPreview = preview(chunks[i+1].Text)
		}
	}

	return chunks, nil
}

// embedSentences embeds all sentences in bounded batches, retrying each batch
// with backoff. Cancellation is checked between batches.
func (c *Chunker) embedSentences(ctx context.Context, sentences []string) ([][]float32, error) {
	embeddings := make([][]float32, 0, len(sentences))
	for start := 0; start < len(sentences); start += embedBatchSize {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		end := start + embedBatchSize
		if end > len(sentences) {
			end = len(sentences)
		}

		var batch [][]float32
		err := util.Retry(ctx, c.opts.MaxRetries, c.opts.RetryDelay, func(ctx context.Context) error {
			var err error
			batch, err = c.embedder.EmbedBatch(ctx, sentences[start:end])
			return err
		})
		if err != nil {
			return nil, err
		}
		if len(batch) != end-start {
			return nil, fmt.Errorf("embedder returned %d vectors for %d sentences", len(batch), end-start)
		}
		embeddings = append(embeddings, batch...)
	}
	return embeddings, nil
}

// clusterCount estimates how many chunks the document should produce from
// its total token mass, clamped to [1, sentence count].
func clusterCount(totalTokens, targetTokens, sentenceCount int) int {
	if targetTokens <= 0 {
		return 1
	}
	k := int(math.Round(float64(totalTokens) / float64(targetTokens)))
	if k < 1 {
		k = 1
	}
	if k > sentenceCount {
		k = sentenceCount
	}
	return k
}

// contiguousSegments converts per-sentence cluster labels into contiguous
// runs. A label change between neighbors is a chunk boundary, which keeps
// chunks contiguous even when a cluster is scattered across the document.
func contiguousSegments(labels []int) []segment {
	var segs []segment
	start := 0
	for i := 1; i < len(labels); i++ {
		if labels[i] != labels[i-1] {
			segs = append(segs, segment{start, i - 1})
			start = i
		}
	}
	segs = append(segs, segment{start, len(labels) - 1})
	return segs
}

// mergeSmall merges segments below the token minimum into the neighbor with
// the stronger boundary similarity until none remain or only one segment is
// left.
func mergeSmall(segs []segment, counts []int, embeddings [][]float32, minTokens int) []segment {
	for len(segs) > 1 {
		idx := -1
		smallest := minTokens
		for i, s := range segs {
			if t := sumRange(counts, s); t < smallest {
				smallest = t
				idx = i
			}
		}
		if idx == -1 {
			break
		}

		// Merge toward the more similar neighbor across the boundary.
		target := idx - 1
		if idx == 0 {
			target = 1
		} else if idx < len(segs)-1 {
			left := boundarySimilarity(embeddings, segs[idx-1], segs[idx])
			right := boundarySimilarity(embeddings, segs[idx], segs[idx+1])
			if right > left {
				target = idx + 1
			}
		}

		lo, hi := idx, target
		if lo > hi {
			lo, hi = hi, lo
		}
		merged := segment{segs[lo].start, segs[hi].end}
		segs = append(segs[:lo], append([]segment{merged}, segs[hi+1:]...)...)
	}
	return segs
}

// splitLarge splits segments above the token maximum at their weakest
// internal sentence boundary, recursively, never breaking a sentence.
func splitLarge(segs []segment, counts []int, embeddings [][]float32, maxTokens int) []segment {
	var out []segment
	for _, s := range segs {
		out = append(out, splitSegment(s, counts, embeddings, maxTokens)...)
	}
	return out
}

func splitSegment(s segment, counts []int, embeddings [][]float32, maxTokens int) []segment {
	if sumRange(counts, s) <= maxTokens || s.start == s.end {
		return []segment{s}
	}

	// Weakest similarity between adjacent sentences marks the natural cut.
	cut := s.start
	weakest := math.MaxFloat64
	for i := s.start; i < s.end; i++ {
		sim := cosine(embeddings[i], embeddings[i+1])
		if sim < weakest {
			weakest = sim
			cut = i
		}
	}

	left := splitSegment(segment{s.start, cut}, counts, embeddings, maxTokens)
	right := splitSegment(segment{cut + 1, s.end}, counts, embeddings, maxTokens)
	return append(left, right...)
}

// fixedWindowSegments groups sentences greedily up to maxTokens per window
// with one sentence of overlap between consecutive windows. A single
// oversized sentence gets its own window.
func fixedWindowSegments(counts []int, maxTokens int) []segment {
	var segs []segment
	start := 0
	for start < len(counts) {
		tok := 0
		end := start
		for end < len(counts) {
			if tok+counts[end] > maxTokens && end > start {
				break
			}
			tok += counts[end]
			end++
		}
		segs = append(segs, segment{start, end - 1})
		if end >= len(counts) {
			break
		}
		next := end - 1 // repeat the last sentence for continuity
		if next <= start {
			next = end
		}
		start = next
	}
	return segs
}

// boundarySimilarity is the cosine similarity of the sentences facing each
// other across two segments.
func boundarySimilarity(embeddings [][]float32, left, right segment) float64 {
	if embeddings == nil {
		return 0
	}
	return cosine(embeddings[left.end], embeddings[right.start])
}

// coherence is the mean pairwise cosine similarity within the segment.
// Single-sentence segments are maximally coherent.
func coherence(embeddings [][]float32, s segment) float64 {
	n := s.end - s.start + 1
	if n <= 1 || embeddings == nil {
		if embeddings == nil {
			return 0
		}
		return 1
	}
	var sum float64
	pairs := 0
	for i := s.start; i <= s.end; i++ {
		for j := i + 1; j <= s.end; j++ {
			sum += cosine(embeddings[i], embeddings[j])
			pairs++
		}
	}
	return sum / float64(pairs)
}

// meanEmbedding averages the sentence embeddings of a segment and normalizes
// the result to unit length.
func meanEmbedding(embeddings [][]float32, s segment) []float32 {
	if embeddings == nil {
		return nil
	}
	dim := len(embeddings[s.start])
	mean := make([]float64, dim)
	for i := s.start; i <= s.end; i++ {
		for d, v := range embeddings[i] {
			mean[d] += float64(v)
		}
	}
	n := float64(s.end - s.start + 1)
	var norm float64
	for d := range mean {
		mean[d] /= n
		norm += mean[d] * mean[d]
	}
	norm = math.Sqrt(norm)

	out := make([]float32, dim)
	for d := range mean {
		if norm > 0 {
			out[d] = float32(mean[d] / norm)
		}
	}
	return out
}

func sumRange(counts []int, s segment) int {
	total := 0
	for i := s.start; i <= s.end; i++ {
		total += counts[i]
	}
	return total
}

// preview returns the head of the next chunk's text for positional context.
func preview(text string) string {
	runes := []rune(text)
	if len(runes) <= previewMaxRunes {
		return text
	}
	return string(runes[:previewMaxRunes]) + "…"
}
