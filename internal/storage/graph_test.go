// ABOUTME: Tests for the concept graph store
// ABOUTME: Covers merge-on-upsert, allowlist filtering, hop bounds, path scores, and cycles
package storage

import (
	"context"
	"testing"

	"github.com/tomeworks/tome/internal/models"
)

func newGraph(t *testing.T) *GraphStore {
	t.Helper()
	db, err := OpenInMemory()
	if err != nil {
		t.Fatalf("OpenInMemory() error = %v", err)
	}
	t.Cleanup(func() { _ = db.Close() })
	return NewGraphStore(db)
}

func TestGraphStore_UpsertMergesByNameAndType(t *testing.T) {
	g := newGraph(t)
	ctx := context.Background()

	nodes := []models.ConceptNode{
		{Name: "Raft", Type: "topic", Confidence: 0.6},
	}
	if err := g.UpsertNodes(ctx, "proj", nodes); err != nil {
		t.Fatalf("UpsertNodes() error = %v", err)
	}

	// Re-ingestion of the same (name, type) must merge, not duplicate,
	// and keep the higher confidence.
	again := []models.ConceptNode{
		{Name: "Raft", Type: "topic", Confidence: 0.9},
		{Name: "Raft", Type: "entity", Confidence: 0.5}, // different type → distinct node
	}
	if err := g.UpsertNodes(ctx, "proj", again); err != nil {
		t.Fatalf("UpsertNodes() second error = %v", err)
	}

	count, err := g.CountNodes(ctx, "proj")
	if err != nil {
		t.Fatalf("CountNodes() error = %v", err)
	}
	if count != 2 {
		t.Errorf("node count = %d, want 2 (merged by name+type)", count)
	}

	found, err := g.FindByName(ctx, "proj", []string{"raft"}, 10)
	if err != nil {
		t.Fatalf("FindByName() error = %v", err)
	}
	var topicConf float64
	for _, n := range found {
		if n.Type == "topic" {
			topicConf = n.Confidence
		}
	}
	if topicConf != 0.9 {
		t.Errorf("merged confidence = %v, want 0.9 (higher wins)", topicConf)
	}
}

func TestGraphStore_TraverseHopsAndAllowlist(t *testing.T) {
	g := newGraph(t)
	ctx := context.Background()

	a := models.ConceptID("proj", "a", "topic")
	b := models.ConceptID("proj", "b", "topic")
	c := models.ConceptID("proj", "c", "topic")
	d := models.ConceptID("proj", "d", "topic")

	nodes := []models.ConceptNode{
		{ID: a, Name: "a", Type: "topic", Confidence: 1},
		{ID: b, Name: "b", Type: "topic", Confidence: 1},
		{ID: c, Name: "c", Type: "topic", Confidence: 1},
		{ID: d, Name: "d", Type: "topic", Confidence: 1},
	}
	if err := g.UpsertNodes(ctx, "proj", nodes); err != nil {
		t.Fatalf("UpsertNodes() error = %v", err)
	}

	edges := []models.ConceptEdge{
		{From: a, To: b, RelationType: "relates_to", Weight: 0.8},
		{From: b, To: c, RelationType: "relates_to", Weight: 0.5},
		{From: a, To: d, RelationType: "contradicts", Weight: 0.9}, // not in allowlist
	}
	if err := g.UpsertEdges(ctx, "proj", edges); err != nil {
		t.Fatalf("UpsertEdges() error = %v", err)
	}

	allow := []string{"relates_to"}

	t.Run("one hop", func(t *testing.T) {
		hits, err := g.Traverse(ctx, "proj", []string{a}, 1, allow, 50)
		if err != nil {
			t.Fatalf("Traverse() error = %v", err)
		}
		if len(hits) != 1 || hits[0].NodeID != b {
			t.Fatalf("hits = %+v, want only b", hits)
		}
		if hits[0].PathScore != 0.8 {
			t.Errorf("path score = %v, want 0.8", hits[0].PathScore)
		}
	})

	t.Run("two hops accumulate path score", func(t *testing.T) {
		hits, err := g.Traverse(ctx, "proj", []string{a}, 2, allow, 50)
		if err != nil {
			t.Fatalf("Traverse() error = %v", err)
		}
		if len(hits) != 2 {
			t.Fatalf("got %d hits, want 2", len(hits))
		}
		// Sorted by path score descending: b (0.8) then c (0.8*0.5).
		if hits[0].NodeID != b || hits[1].NodeID != c {
			t.Fatalf("order = [%s %s], want [b c]", hits[0].NodeID, hits[1].NodeID)
		}
		if got, want := hits[1].PathScore, 0.8*0.5; got != want {
			t.Errorf("c path score = %v, want %v", got, want)
		}
		if len(hits[1].Path) != 3 {
			t.Errorf("c path length = %d, want 3 (a→b→c)", len(hits[1].Path))
		}
	})

	t.Run("disallowed relation never followed", func(t *testing.T) {
		hits, err := g.Traverse(ctx, "proj", []string{a}, 2, allow, 50)
		if err != nil {
			t.Fatalf("Traverse() error = %v", err)
		}
		for _, h := range hits {
			if h.NodeID == d {
				t.Error("traversal followed a relation outside the allowlist")
			}
		}
	})
}

func TestGraphStore_TraverseCycleTerminates(t *testing.T) {
	g := newGraph(t)
	ctx := context.Background()

	a := models.ConceptID("proj", "a", "topic")
	b := models.ConceptID("proj", "b", "topic")
	if err := g.UpsertNodes(ctx, "proj", []models.ConceptNode{
		{ID: a, Name: "a", Type: "topic", Confidence: 1},
		{ID: b, Name: "b", Type: "topic", Confidence: 1},
	}); err != nil {
		t.Fatalf("UpsertNodes() error = %v", err)
	}
	if err := g.UpsertEdges(ctx, "proj", []models.ConceptEdge{
		{From: a, To: b, RelationType: "relates_to", Weight: 0.9},
		{From: b, To: a, RelationType: "relates_to", Weight: 0.9},
	}); err != nil {
		t.Fatalf("UpsertEdges() error = %v", err)
	}

	hits, err := g.Traverse(ctx, "proj", []string{a}, 10, []string{"relates_to"}, 50)
	if err != nil {
		t.Fatalf("Traverse() error = %v", err)
	}
	// a is an entry point, so only b is a result; the cycle must not loop.
	if len(hits) != 1 || hits[0].NodeID != b {
		t.Errorf("hits = %+v, want only b", hits)
	}
}

func TestGraphStore_TraverseRespectsCap(t *testing.T) {
	g := newGraph(t)
	ctx := context.Background()

	hub := models.ConceptID("proj", "hub", "topic")
	nodes := []models.ConceptNode{{ID: hub, Name: "hub", Type: "topic", Confidence: 1}}
	var edges []models.ConceptEdge
	for i := 0; i < 10; i++ {
		name := string(rune('a' + i))
		id := models.ConceptID("proj", name, "topic")
		nodes = append(nodes, models.ConceptNode{ID: id, Name: name, Type: "topic", Confidence: 1})
		edges = append(edges, models.ConceptEdge{From: hub, To: id, RelationType: "relates_to", Weight: 0.5})
	}
	if err := g.UpsertNodes(ctx, "proj", nodes); err != nil {
		t.Fatalf("UpsertNodes() error = %v", err)
	}
	if err := g.UpsertEdges(ctx, "proj", edges); err != nil {
		t.Fatalf("UpsertEdges() error = %v", err)
	}

	hits, err := g.Traverse(ctx, "proj", []string{hub}, 1, []string{"relates_to"}, 3)
	if err != nil {
		t.Fatalf("Traverse() error = %v", err)
	}
	if len(hits) != 3 {
		t.Errorf("got %d hits, want 3 (capped)", len(hits))
	}
}

func TestGraphStore_HasConcept(t *testing.T) {
	g := newGraph(t)
	ctx := context.Background()

	if err := g.UpsertNodes(ctx, "proj", []models.ConceptNode{
		{Name: "Paxos", Type: "topic", Confidence: 0.7},
	}); err != nil {
		t.Fatalf("UpsertNodes() error = %v", err)
	}

	ok, err := g.HasConcept(ctx, "proj", "paxos", "topic")
	if err != nil {
		t.Fatalf("HasConcept() error = %v", err)
	}
	if !ok {
		t.Error("HasConcept() = false, want true (case-insensitive)")
	}

	ok, err = g.HasConcept(ctx, "proj", "raft", "topic")
	if err != nil {
		t.Fatalf("HasConcept() error = %v", err)
	}
	if ok {
		t.Error("HasConcept() = true for absent concept")
	}
}
