// ABOUTME: Hybrid three-stage retrieval: vector, graph traversal, and memory bank
// ABOUTME: Stages run concurrently under per-stage timeouts; partial failure degrades
package retrieval

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strings"
	"sync"
	"time"

	"github.com/tomeworks/tome/internal/config"
	"github.com/tomeworks/tome/internal/errs"
	"github.com/tomeworks/tome/internal/models"
	"github.com/tomeworks/tome/internal/storage"
)

// Embedder turns the query into a vector for the vector stage.
type Embedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
}

// VectorSearcher is the vector stage backend.
type VectorSearcher interface {
	Search(ctx context.Context, projectID string, query []float32, topK int, filter map[string]string) ([]storage.VectorHit, error)
}

// GraphSearcher is the graph stage backend.
type GraphSearcher interface {
	Traverse(ctx context.Context, projectID string, entryIDs []string, maxHops int, allow []string, resultCap int) ([]storage.TraversalHit, error)
	FindByName(ctx context.Context, projectID string, names []string, limit int) ([]models.ConceptNode, error)
}

// MemoryMatcher is the memory stage backend.
type MemoryMatcher interface {
	Match(ctx context.Context, projectID, query string, limit int) ([]models.RetrievalResult, error)
}

// Reinforcer receives async access notifications for returned results.
type Reinforcer interface {
	Reinforce(projectID, ref string)
}

// Options holds retrieval tuning knobs.
type Options struct {
	VectorTopN        int
	GraphMaxHops      int
	GraphResultCap    int
	MemoryStageLimit  int
	RRFK              float64
	WeightVector      float64
	WeightGraph       float64
	WeightMemory      float64
	VectorTimeout     time.Duration
	GraphTimeout      time.Duration
	BankTimeout       time.Duration
	RelationAllowlist []string
}

// OptionsFromConfig maps engine configuration onto retrieval options.
func OptionsFromConfig(cfg *config.Config) Options {
	return Options{
		VectorTopN:        cfg.VectorTopN,
		GraphMaxHops:      cfg.GraphMaxHops,
		GraphResultCap:    cfg.GraphResultCap,
		MemoryStageLimit:  cfg.MemoryStageLimit,
		RRFK:              cfg.RRFK,
		WeightVector:      cfg.WeightVector,
		WeightGraph:       cfg.WeightGraph,
		WeightMemory:      cfg.WeightMemory,
		VectorTimeout:     cfg.VectorTimeout,
		GraphTimeout:      cfg.GraphTimeout,
		BankTimeout:       cfg.BankTimeout,
		RelationAllowlist: cfg.RelationAllowlist,
	}
}

// Engine coordinates the three retrieval stages and fuses their output.
type Engine struct {
	embedder   Embedder
	vectors    VectorSearcher
	graph      GraphSearcher
	memory     MemoryMatcher
	reinforcer Reinforcer // nil disables reinforcement
	reranker   Reranker   // nil disables the rerank pass
	opts       Options
}

// NewEngine creates a retrieval engine.
func NewEngine(embedder Embedder, vectors VectorSearcher, graph GraphSearcher, memory MemoryMatcher, opts Options) *Engine {
	return &Engine{
		embedder: embedder,
		vectors:  vectors,
		graph:    graph,
		memory:   memory,
		opts:     opts,
	}
}

// WithReinforcer attaches an async reinforcement sink.
func (e *Engine) WithReinforcer(r Reinforcer) *Engine {
	e.reinforcer = r
	return e
}

// WithReranker attaches an optional reranking pass.
func (e *Engine) WithReranker(r Reranker) *Engine {
	e.reranker = r
	return e
}

type stageOutcome struct {
	source  models.Source
	results []models.RetrievalResult
	err     error
}

// Retrieve runs the vector, graph, and memory stages concurrently, fuses
// their ranked lists, and returns the topK results. Identical inputs against
// identical state return identical rankings. An error is returned only when
// every stage fails; anything less degrades and is reported in the info.
func (e *Engine) Retrieve(ctx context.Context, projectID, query string, topK int) ([]models.RetrievalResult, *models.RetrievalInfo, error) {
	if topK <= 0 {
		return nil, nil, fmt.Errorf("topK must be positive, got %d", topK)
	}

	// Embed once, before the stage clocks start.
	queryVec, embErr := e.embedder.Embed(ctx, query)
	if embErr != nil {
		log.Printf("[Retrieval] query embedding failed, vector stage disabled: %v", embErr)
	}

	// The graph stage seeds its traversal from the concepts attached to the
	// vector hits; the channel hands them over without coupling the clocks.
	entryCh := make(chan []string, 1)

	outcomes := make(chan stageOutcome, 3)
	var wg sync.WaitGroup
	wg.Add(3)

	go func() {
		defer wg.Done()
		outcomes <- e.vectorStage(ctx, projectID, queryVec, embErr, entryCh)
	}()
	go func() {
		defer wg.Done()
		outcomes <- e.graphStage(ctx, projectID, query, entryCh)
	}()
	go func() {
		defer wg.Done()
		outcomes <- e.memoryStage(ctx, projectID, query)
	}()
	wg.Wait()
	close(outcomes)

	lists := make(map[models.Source][]models.RetrievalResult, 3)
	var sourcesUsed []models.Source
	var stageErrs []error
	for outcome := range outcomes {
		if outcome.err != nil {
			log.Printf("[Retrieval] %s stage failed: %v", outcome.source, outcome.err)
			stageErrs = append(stageErrs, fmt.Errorf("%s: %w", outcome.source, outcome.err))
			continue
		}
		lists[outcome.source] = outcome.results
		sourcesUsed = append(sourcesUsed, outcome.source)
	}
	if len(sourcesUsed) == 0 {
		return nil, nil, fmt.Errorf("all retrieval stages failed: %w", errors.Join(stageErrs...))
	}
	orderSources(sourcesUsed)
	if len(sourcesUsed) < 3 {
		names := make([]string, len(sourcesUsed))
		for i, s := range sourcesUsed {
			names[i] = string(s)
		}
		log.Printf("[Retrieval] %v", &errs.DegradedResultError{SourcesUsed: names})
	}

	weights := map[models.Source]float64{
		models.SourceVector:     e.opts.WeightVector,
		models.SourceGraph:      e.opts.WeightGraph,
		models.SourceMemoryBank: e.opts.WeightMemory,
	}
	fused := fuse(lists, weights, e.opts.RRFK)

	reranked := false
	if e.reranker != nil {
		fused, reranked = applyRerank(ctx, e.reranker, query, fused, topK)
	}
	if len(fused) > topK {
		fused = fused[:topK]
	}

	if e.reinforcer != nil {
		for _, r := range fused {
			e.reinforcer.Reinforce(projectID, r.Ref)
		}
	}

	info := &models.RetrievalInfo{
		SourcesUsed: sourcesUsed,
		Degraded:    len(sourcesUsed) < 3,
		Reranked:    reranked,
	}
	return fused, info, nil
}

// vectorStage searches the vector index and forwards concept entry points to
// the graph stage. The channel is always fed, even on failure, so the graph
// stage never waits longer than its own timeout.
func (e *Engine) vectorStage(ctx context.Context, projectID string, queryVec []float32, embErr error, entryCh chan<- []string) stageOutcome {
	outcome := stageOutcome{source: models.SourceVector}
	var entries []string
	defer func() { entryCh <- entries }()

	if embErr != nil {
		outcome.err = embErr
		return outcome
	}

	stageCtx, cancel := context.WithTimeout(ctx, e.opts.VectorTimeout)
	defer cancel()

	hits, err := e.vectors.Search(stageCtx, projectID, queryVec, e.opts.VectorTopN, nil)
	if err != nil {
		outcome.err = err
		return outcome
	}

	seen := make(map[string]bool)
	results := make([]models.RetrievalResult, 0, len(hits))
	for _, h := range hits {
		results = append(results, models.RetrievalResult{
			Ref:      h.ID,
			Content:  h.Content,
			RawScore: h.Score,
			Source:   models.SourceVector,
		})
		// Chunks carry the IDs of the concepts extracted from them; those
		// are the graph stage's entry points.
		for _, id := range strings.Split(h.Payload["concepts"], ",") {
			if id != "" && !seen[id] {
				seen[id] = true
				entries = append(entries, id)
			}
		}
	}
	outcome.results = results
	return outcome
}

// graphStage waits briefly for vector entry points, falls back to keyword
// lookup when none arrive, and traverses the concept graph.
func (e *Engine) graphStage(ctx context.Context, projectID, query string, entryCh <-chan []string) stageOutcome {
	outcome := stageOutcome{source: models.SourceGraph}

	stageCtx, cancel := context.WithTimeout(ctx, e.opts.GraphTimeout)
	defer cancel()

	var entries []string
	select {
	case entries = <-entryCh:
	case <-stageCtx.Done():
		outcome.err = fmt.Errorf("waiting for entry points: %w", stageCtx.Err())
		return outcome
	}

	var results []models.RetrievalResult
	if len(entries) == 0 {
		// No vector guidance: fall back to matching query terms against
		// concept names so the graph stage still contributes.
		nodes, err := e.graph.FindByName(stageCtx, projectID, queryKeywords(query), e.opts.GraphResultCap)
		if err != nil {
			outcome.err = err
			return outcome
		}
		for _, n := range nodes {
			entries = append(entries, n.ID)
			results = append(results, models.RetrievalResult{
				Ref:      n.ID,
				Content:  n.Name,
				RawScore: n.Confidence,
				Source:   models.SourceGraph,
			})
		}
		if len(entries) == 0 {
			outcome.results = nil
			return outcome
		}
	}

	hits, err := e.graph.Traverse(stageCtx, projectID, entries, e.opts.GraphMaxHops, e.opts.RelationAllowlist, e.opts.GraphResultCap)
	if err != nil {
		outcome.err = err
		return outcome
	}
	for _, h := range hits {
		results = append(results, models.RetrievalResult{
			Ref:      h.NodeID,
			Content:  h.Name,
			RawScore: h.PathScore,
			Source:   models.SourceGraph,
		})
	}
	outcome.results = results
	return outcome
}

func (e *Engine) memoryStage(ctx context.Context, projectID, query string) stageOutcome {
	stageCtx, cancel := context.WithTimeout(ctx, e.opts.BankTimeout)
	defer cancel()

	results, err := e.memory.Match(stageCtx, projectID, query, e.opts.MemoryStageLimit)
	return stageOutcome{source: models.SourceMemoryBank, results: results, err: err}
}

// queryKeywords extracts lookup terms for the graph fallback.
func queryKeywords(query string) []string {
	fields := strings.Fields(strings.ToLower(query))
	out := make([]string, 0, len(fields))
	for _, f := range fields {
		f = strings.Trim(f, ".,;:!?\"'()")
		if len(f) > 2 {
			out = append(out, f)
		}
	}
	return out
}

func orderSources(sources []models.Source) {
	rank := map[models.Source]int{
		models.SourceVector:     0,
		models.SourceGraph:      1,
		models.SourceMemoryBank: 2,
	}
	for i := 1; i < len(sources); i++ {
		for j := i; j > 0 && rank[sources[j]] < rank[sources[j-1]]; j-- {
			sources[j], sources[j-1] = sources[j-1], sources[j]
		}
	}
}
