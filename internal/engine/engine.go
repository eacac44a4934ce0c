// ABOUTME: Top-level engine wiring ingestion, retrieval, the bank, and the lifecycle
// ABOUTME: Ingestion is compensating: failed side-effects are retried by a repair queue
package engine

import (
	"context"
	"fmt"
	"log"
	"strings"
	"sync"
	"time"

	"github.com/tomeworks/tome/internal/chunker"
	"github.com/tomeworks/tome/internal/config"
	"github.com/tomeworks/tome/internal/lifecycle"
	"github.com/tomeworks/tome/internal/llm"
	"github.com/tomeworks/tome/internal/membank"
	"github.com/tomeworks/tome/internal/models"
	"github.com/tomeworks/tome/internal/retrieval"
	"github.com/tomeworks/tome/internal/storage"
	"github.com/tomeworks/tome/internal/tokens"
	"github.com/tomeworks/tome/internal/util"
)

const (
	repairQueueSize    = 128
	maxRepairAttempts  = 5
	workingImportance  = 0.5
	extractReliability = 0.5
)

// LLM is the language-model surface the engine needs: embeddings for
// chunking and retrieval, summarization for the bank, and concept extraction
// for the graph.
type LLM interface {
	Embed(ctx context.Context, text string) ([]float32, error)
	EmbedBatch(ctx context.Context, texts []string) ([][]float32, error)
	Summarize(ctx context.Context, oldSummary string, newFacts []string, maxLen int) (string, error)
	ExtractConcepts(ctx context.Context, text string) ([]llm.ConceptCandidate, error)
}

// Deps are the wired backends the engine coordinates.
type Deps struct {
	Config  *config.Config
	LLM     LLM
	Vectors *storage.VectorStore
	Graph   *storage.GraphStore
	Items   *storage.ItemStore
	Bank    *membank.Bank
}

// IngestReport summarizes one document ingestion.
type IngestReport struct {
	DocumentID        string `json:"document_id"`
	ChunksCreated     int    `json:"chunks_created"`
	ConceptsExtracted int    `json:"concepts_extracted"`
	Degraded          bool   `json:"degraded"`
	Partial           bool   `json:"partial"`
}

type repairJob struct {
	desc    string
	attempt int
	run     func(ctx context.Context) error
}

// Engine is the hybrid memory-and-retrieval core.
type Engine struct {
	deps      Deps
	chunker   *chunker.Chunker
	lifecycle *lifecycle.Manager
	retriever *retrieval.Engine

	repairCh chan repairJob
	stopCh   chan struct{}
	wg       sync.WaitGroup
}

// New wires an engine from its backends.
func New(d Deps) *Engine {
	cfg := d.Config

	ch := chunker.New(d.LLM, tokens.NewCounter(), chunker.Options{
		MinTokens:            cfg.MinChunkTokens,
		MaxTokens:            cfg.MaxChunkTokens,
		TargetTokens:         cfg.TargetChunkTokens,
		AdjacentBoost:        cfg.AdjacentBoost,
		SimilarityPercentile: cfg.SimilarityPercentile,
		MaxRetries:           cfg.MaxRetries,
		RetryDelay:           cfg.RetryDelay,
	})

	lm := lifecycle.NewManager(d.Items, d.Graph, d.LLM, lifecycle.OptionsFromConfig(cfg))

	rt := retrieval.NewEngine(d.LLM, d.Vectors, d.Graph, d.Bank, retrieval.OptionsFromConfig(cfg)).
		WithReinforcer(lm)

	return &Engine{
		deps:      d,
		chunker:   ch,
		lifecycle: lm,
		retriever: rt,
		repairCh:  make(chan repairJob, repairQueueSize),
		stopCh:    make(chan struct{}),
	}
}

// Start launches the lifecycle manager and the ingestion repair worker.
func (e *Engine) Start() {
	e.lifecycle.Start()
	e.wg.Add(1)
	go e.repairLoop()
}

// Stop shuts everything down in reverse order.
func (e *Engine) Stop() {
	close(e.stopCh)
	e.wg.Wait()
	e.lifecycle.Stop()
}

// IngestDocument chunks text, indexes the chunks, extracts concepts into the
// graph, updates the memory bank, and seeds working memory. Store failures
// mark the report partial and are handed to the repair queue instead of
// aborting the whole ingestion.
func (e *Engine) IngestDocument(ctx context.Context, projectID, documentID, text string, metadata map[string]string) (*IngestReport, error) {
	chunks, err := e.chunker.Chunk(ctx, documentID, text, metadata)
	if err != nil {
		return nil, fmt.Errorf("chunk document: %w", err)
	}

	report := &IngestReport{DocumentID: documentID, ChunksCreated: len(chunks)}
	var conceptEntries []models.ConceptEntry
	var conceptNames []string
	var chunkRefs []string

	for i := range chunks {
		chunk := &chunks[i]
		chunkRefs = append(chunkRefs, chunk.ChunkID)
		if chunk.Degraded() {
			report.Degraded = true
		}

		// Concept extraction; a degraded chunk has no embedding so the LLM
		// is likely down too, but extraction is attempted regardless.
		var conceptIDs []string
		candidates, err := e.deps.LLM.ExtractConcepts(ctx, chunk.Text)
		if err != nil {
			log.Printf("[Engine] concept extraction failed for %s: %v", chunk.ChunkID, err)
			report.Partial = true
		} else {
			nodes, edges := e.conceptGraph(projectID, candidates)
			for _, n := range nodes {
				conceptIDs = append(conceptIDs, n.ID)
				conceptNames = append(conceptNames, n.Name)
				conceptEntries = append(conceptEntries, models.ConceptEntry{Name: n.Name, Type: n.Type})
			}
			report.ConceptsExtracted += len(nodes)

			if err := e.deps.Graph.UpsertNodes(ctx, projectID, nodes); err != nil {
				report.Partial = true
				e.enqueueRepair(fmt.Sprintf("graph nodes for %s", chunk.ChunkID), func(ctx context.Context) error {
					return e.deps.Graph.UpsertNodes(ctx, projectID, nodes)
				})
			}
			if err := e.deps.Graph.UpsertEdges(ctx, projectID, edges); err != nil {
				report.Partial = true
				e.enqueueRepair(fmt.Sprintf("graph edges for %s", chunk.ChunkID), func(ctx context.Context) error {
					return e.deps.Graph.UpsertEdges(ctx, projectID, edges)
				})
			}
		}

		if len(chunk.Embedding) > 0 {
			payload := map[string]string{
				"kind":        "chunk",
				"document_id": documentID,
				"concepts":    strings.Join(conceptIDs, ","),
			}
			chunkCopy := *chunk
			if err := e.deps.Vectors.Upsert(ctx, projectID, chunk.ChunkID, chunk.Embedding, chunk.Text, payload); err != nil {
				report.Partial = true
				e.enqueueRepair(fmt.Sprintf("vector upsert for %s", chunk.ChunkID), func(ctx context.Context) error {
					return e.deps.Vectors.Upsert(ctx, projectID, chunkCopy.ChunkID, chunkCopy.Embedding, chunkCopy.Text, payload)
				})
			}
		}
	}

	// Memory bank update: context block, concept list, and summary facts.
	upd := membank.Update{
		ContextBlock: ingestContextBlock(documentID, chunks),
		Concepts:     conceptEntries,
	}
	if len(conceptNames) > 0 {
		upd.Facts = []string{fmt.Sprintf("document %s covers: %s", documentID, strings.Join(dedupe(conceptNames), ", "))}
	}
	if err := e.deps.Bank.ApplyUpdate(ctx, projectID, upd); err != nil {
		log.Printf("[Engine] bank update failed for %s: %v", documentID, err)
		report.Partial = true
	}

	// Seed working memory with the document so the lifecycle can decide
	// whether it earns promotion.
	item := &models.MemoryItem{
		ProjectID:   projectID,
		Content:     headOf(text, 500),
		Importance:  workingImportance,
		SourceRefs:  chunkRefs,
		Reliability: extractReliability,
	}
	if len(chunks) > 0 && len(chunks[0].Embedding) > 0 {
		item.Embedding = chunks[0].Embedding
	}
	if err := e.lifecycle.AddWorkingItem(ctx, item); err != nil {
		log.Printf("[Engine] working memory seed failed for %s: %v", documentID, err)
		report.Partial = true
	}

	log.Printf("[Engine] ingested %s into %s: %d chunks, %d concepts (degraded=%v partial=%v)",
		documentID, projectID, report.ChunksCreated, report.ConceptsExtracted, report.Degraded, report.Partial)
	return report, nil
}

// Retrieve runs hybrid retrieval for a query.
func (e *Engine) Retrieve(ctx context.Context, projectID, query string, topK int) ([]models.RetrievalResult, *models.RetrievalInfo, error) {
	return e.retriever.Retrieve(ctx, projectID, query, topK)
}

// GetMemoryBankSnapshot returns the current bank view for a project.
func (e *Engine) GetMemoryBankSnapshot(ctx context.Context, projectID string) (*models.MemoryBankSnapshot, error) {
	return e.deps.Bank.Snapshot(ctx, projectID)
}

// RecordIntervention applies a human correction to both the bank and the
// semantic memory tier.
func (e *Engine) RecordIntervention(ctx context.Context, projectID, concept, note string) error {
	if err := e.deps.Bank.RecordIntervention(ctx, projectID, note); err != nil {
		return err
	}
	return e.lifecycle.RecordIntervention(ctx, projectID, concept, note)
}

// Sweep triggers one lifecycle pass outside the regular schedule.
func (e *Engine) Sweep(ctx context.Context) error {
	return e.lifecycle.Sweep(ctx)
}

// conceptGraph converts extraction candidates into graph nodes and edges.
// Relations pointing at concepts that were not extracted are dropped.
func (e *Engine) conceptGraph(projectID string, candidates []llm.ConceptCandidate) ([]models.ConceptNode, []models.ConceptEdge) {
	typeByName := make(map[string]string, len(candidates))
	for _, c := range candidates {
		if c.Name != "" {
			typeByName[strings.ToLower(c.Name)] = c.Type
		}
	}

	var nodes []models.ConceptNode
	var edges []models.ConceptEdge
	for _, c := range candidates {
		if c.Name == "" {
			continue
		}
		nodes = append(nodes, models.ConceptNode{
			ID:         models.ConceptID(projectID, c.Name, c.Type),
			Name:       c.Name,
			Type:       c.Type,
			Confidence: clamp01(c.Confidence),
		})
		for _, rel := range c.Relations {
			targetType, ok := typeByName[strings.ToLower(rel.Target)]
			if !ok {
				continue
			}
			edges = append(edges, models.ConceptEdge{
				From:         models.ConceptID(projectID, c.Name, c.Type),
				To:           models.ConceptID(projectID, rel.Target, targetType),
				RelationType: rel.RelationType,
				Weight:       clamp01(rel.Weight),
			})
		}
	}
	return nodes, edges
}

func (e *Engine) enqueueRepair(desc string, run func(ctx context.Context) error) {
	select {
	case e.repairCh <- repairJob{desc: desc, run: run}:
	default:
		log.Printf("[Engine] repair queue full, dropping job: %s", desc)
	}
}

// repairLoop retries failed ingestion side-effects with backoff until they
// succeed or exhaust their attempts.
func (e *Engine) repairLoop() {
	defer e.wg.Done()
	for {
		select {
		case <-e.stopCh:
			return
		case job := <-e.repairCh:
			ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
			err := job.run(ctx)
			cancel()
			if err == nil {
				log.Printf("[Engine] repaired: %s", job.desc)
				continue
			}
			job.attempt++
			if job.attempt >= maxRepairAttempts {
				log.Printf("[Engine] giving up on repair after %d attempts: %s: %v", job.attempt, job.desc, err)
				continue
			}
			backoff := util.CalculateBackoff(time.Second, job.attempt)
			log.Printf("[Engine] repair attempt %d failed (%s), retrying in %s: %v", job.attempt, job.desc, backoff, err)
			timer := time.NewTimer(backoff)
			select {
			case <-e.stopCh:
				timer.Stop()
				return
			case <-timer.C:
			}
			select {
			case e.repairCh <- job: // attempt count travels with the job
			default:
				log.Printf("[Engine] repair queue full, dropping job: %s", job.desc)
			}
		}
	}
}

func ingestContextBlock(documentID string, chunks []models.Chunk) string {
	if len(chunks) == 0 {
		return fmt.Sprintf("Ingested document %s (empty)", documentID)
	}
	return fmt.Sprintf("Ingested document %s (%d chunks). Opening: %s",
		documentID, len(chunks), headOf(chunks[0].Text, 200))
}

func headOf(text string, n int) string {
	runes := []rune(strings.TrimSpace(text))
	if len(runes) <= n {
		return string(runes)
	}
	return string(runes[:n]) + "…"
}

func dedupe(names []string) []string {
	seen := make(map[string]bool, len(names))
	var out []string
	for _, n := range names {
		key := strings.ToLower(n)
		if !seen[key] {
			seen[key] = true
			out = append(out, n)
		}
	}
	return out
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
