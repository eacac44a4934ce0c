// ABOUTME: Vector store adapter over chromem-go with per-project collections
// ABOUTME: chromem-go is a pure Go embedded vector database; we supply our own embeddings
package storage

import (
	"context"
	"fmt"
	"strings"
	"sync"

	chromem "github.com/philippgille/chromem-go"
)

// VectorStore upserts and searches chunk/concept embeddings.
type VectorStore struct {
	db          *chromem.DB
	collections map[string]*chromem.Collection
	mu          sync.RWMutex
}

// VectorHit is one nearest-neighbor result.
type VectorHit struct {
	ID      string            `json:"id"`
	Score   float64           `json:"score"`
	Content string            `json:"content"`
	Payload map[string]string `json:"payload,omitempty"`
}

// NewVectorStore creates a vector store. With a persistDir the index
// survives restarts; with "" everything stays in memory (tests).
func NewVectorStore(persistDir string) (*VectorStore, error) {
	var db *chromem.DB
	var err error
	if persistDir == "" {
		db = chromem.NewDB()
	} else {
		db, err = chromem.NewPersistentDB(persistDir, false)
		if err != nil {
			return nil, fmt.Errorf("open persistent vector db: %w", err)
		}
	}

	return &VectorStore{
		db:          db,
		collections: make(map[string]*chromem.Collection),
	}, nil
}

// getOrCreateCollection returns the collection for a project.
// Each project gets its own collection for namespace isolation.
func (s *VectorStore) getOrCreateCollection(projectID string) (*chromem.Collection, error) {
	s.mu.RLock()
	col, exists := s.collections[projectID]
	s.mu.RUnlock()
	if exists {
		return col, nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	// Double-check after acquiring write lock
	if col, exists := s.collections[projectID]; exists {
		return col, nil
	}

	col, err := s.db.GetOrCreateCollection(collectionName(projectID), nil, nil)
	if err != nil {
		return nil, fmt.Errorf("create collection: %w", err)
	}

	s.collections[projectID] = col
	return col, nil
}

// Upsert stores an embedding with its payload in the project collection.
func (s *VectorStore) Upsert(ctx context.Context, projectID, id string, vector []float32, content string, payload map[string]string) error {
	col, err := s.getOrCreateCollection(projectID)
	if err != nil {
		return err
	}

	doc := chromem.Document{
		ID:        id,
		Content:   content,
		Embedding: vector,
		Metadata:  payload,
	}
	if err := col.AddDocument(ctx, doc); err != nil {
		return fmt.Errorf("add document: %w", err)
	}
	return nil
}

// Search returns the topK nearest stored vectors, optionally filtered by
// exact payload matches. topK is clamped to the collection size.
func (s *VectorStore) Search(ctx context.Context, projectID string, query []float32, topK int, filter map[string]string) ([]VectorHit, error) {
	col, err := s.getOrCreateCollection(projectID)
	if err != nil {
		return nil, err
	}

	// chromem requires nResults <= collection size
	count := col.Count()
	if count == 0 {
		return nil, nil
	}
	if topK > count {
		topK = count
	}
	if topK <= 0 {
		topK = 1
	}

	results, err := col.QueryEmbedding(ctx, query, topK, filter, nil)
	if err != nil {
		return nil, fmt.Errorf("vector query: %w", err)
	}

	hits := make([]VectorHit, 0, len(results))
	for _, r := range results {
		hits = append(hits, VectorHit{
			ID:      r.ID,
			Score:   float64(r.Similarity),
			Content: r.Content,
			Payload: r.Metadata,
		})
	}
	return hits, nil
}

func collectionName(projectID string) string {
	if projectID == "" {
		return "global"
	}
	// chromem collection names must be filesystem-safe for persistence.
	sanitized := strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '-', r == '_':
			return r
		default:
			return '_'
		}
	}, projectID)
	return "project_" + sanitized
}
