// ABOUTME: Tests for memory item persistence
// ABOUTME: Covers roundtrips, tier listing, reinforcement touches, and concept lookup
package storage

import (
	"context"
	"testing"
	"time"

	"github.com/tomeworks/tome/internal/models"
)

func newItems(t *testing.T) *ItemStore {
	t.Helper()
	db, err := OpenInMemory()
	if err != nil {
		t.Fatalf("OpenInMemory() error = %v", err)
	}
	t.Cleanup(func() { _ = db.Close() })
	return NewItemStore(db)
}

func testItem(projectID string, tier models.Tier) *models.MemoryItem {
	now := time.Now().UTC().Truncate(time.Millisecond)
	return &models.MemoryItem{
		ID:             models.NewMemoryItemID(),
		ProjectID:      projectID,
		Tier:           tier,
		Content:        "ingested document about consensus protocols",
		Embedding:      []float32{0.1, 0.2, 0.3},
		Importance:     0.6,
		Strength:       0.6,
		AccessCount:    1,
		CreatedAt:      now,
		LastAccessedAt: now,
		SourceRefs:     []string{"chunk_abc"},
		Reliability:    0.5,
	}
}

func TestItemStore_PutGetRoundtrip(t *testing.T) {
	s := newItems(t)
	ctx := context.Background()

	item := testItem("proj", models.TierWorking)
	weak := time.Now().UTC().Truncate(time.Millisecond)
	item.WeakSince = &weak

	if err := s.Put(ctx, item); err != nil {
		t.Fatalf("Put() error = %v", err)
	}

	got, err := s.Get(ctx, item.ID)
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	if got == nil {
		t.Fatal("Get() returned nil for stored item")
	}
	if got.Content != item.Content || got.Tier != item.Tier || got.Importance != item.Importance {
		t.Errorf("roundtrip mismatch: got %+v", got)
	}
	if len(got.Embedding) != 3 || got.Embedding[1] != 0.2 {
		t.Errorf("embedding roundtrip = %v", got.Embedding)
	}
	if len(got.SourceRefs) != 1 || got.SourceRefs[0] != "chunk_abc" {
		t.Errorf("source refs roundtrip = %v", got.SourceRefs)
	}
	if got.WeakSince == nil || !got.WeakSince.Equal(weak) {
		t.Errorf("weak_since roundtrip = %v, want %v", got.WeakSince, weak)
	}
}

func TestItemStore_GetMissing(t *testing.T) {
	s := newItems(t)

	got, err := s.Get(context.Background(), "mem_missing")
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	if got != nil {
		t.Errorf("Get() = %+v, want nil for missing id", got)
	}
}

func TestItemStore_ListByTierExcludesOthers(t *testing.T) {
	s := newItems(t)
	ctx := context.Background()

	working := testItem("proj", models.TierWorking)
	episodic := testItem("proj", models.TierEpisodic)
	other := testItem("other-proj", models.TierWorking)
	for _, it := range []*models.MemoryItem{working, episodic, other} {
		if err := s.Put(ctx, it); err != nil {
			t.Fatalf("Put() error = %v", err)
		}
	}

	items, err := s.ListByTier(ctx, "proj", models.TierWorking)
	if err != nil {
		t.Fatalf("ListByTier() error = %v", err)
	}
	if len(items) != 1 || items[0].ID != working.ID {
		t.Errorf("ListByTier() = %d items, want exactly the working item", len(items))
	}
}

func TestItemStore_ListProjectExcludesArchived(t *testing.T) {
	s := newItems(t)
	ctx := context.Background()

	live := testItem("proj", models.TierSemantic)
	archived := testItem("proj", models.TierArchived)
	for _, it := range []*models.MemoryItem{live, archived} {
		if err := s.Put(ctx, it); err != nil {
			t.Fatalf("Put() error = %v", err)
		}
	}

	items, err := s.ListProject(ctx, "proj")
	if err != nil {
		t.Fatalf("ListProject() error = %v", err)
	}
	if len(items) != 1 || items[0].ID != live.ID {
		t.Errorf("ListProject() should exclude archived items, got %d", len(items))
	}
}

func TestItemStore_TouchByRef(t *testing.T) {
	s := newItems(t)
	ctx := context.Background()

	item := testItem("proj", models.TierEpisodic)
	weak := time.Now().Add(-time.Hour)
	item.WeakSince = &weak
	if err := s.Put(ctx, item); err != nil {
		t.Fatalf("Put() error = %v", err)
	}

	t.Run("by source ref recomputes strength", func(t *testing.T) {
		n, err := s.TouchByRef(ctx, "proj", "chunk_abc", time.Now(), func(it *models.MemoryItem) float64 {
			if it.AccessCount != item.AccessCount+1 {
				t.Errorf("callback access count = %d, want bumped to %d", it.AccessCount, item.AccessCount+1)
			}
			return 0.42
		})
		if err != nil {
			t.Fatalf("TouchByRef() error = %v", err)
		}
		if n != 1 {
			t.Fatalf("touched %d items, want 1", n)
		}

		got, err := s.Get(ctx, item.ID)
		if err != nil {
			t.Fatalf("Get() error = %v", err)
		}
		if got.AccessCount != item.AccessCount+1 {
			t.Errorf("access count = %d, want %d", got.AccessCount, item.AccessCount+1)
		}
		if got.WeakSince != nil {
			t.Error("weak_since should be cleared on reinforcement")
		}
		if got.Strength != 0.42 {
			t.Errorf("strength = %v, want 0.42 from the recompute callback", got.Strength)
		}
	})

	t.Run("by id", func(t *testing.T) {
		n, err := s.TouchByRef(ctx, "proj", item.ID, time.Now(), nil)
		if err != nil {
			t.Fatalf("TouchByRef() error = %v", err)
		}
		if n != 1 {
			t.Errorf("touched %d items, want 1", n)
		}
	})

	t.Run("no match", func(t *testing.T) {
		n, err := s.TouchByRef(ctx, "proj", "chunk_nope", time.Now(), nil)
		if err != nil {
			t.Fatalf("TouchByRef() error = %v", err)
		}
		if n != 0 {
			t.Errorf("touched %d items, want 0", n)
		}
	})
}

func TestItemStore_FindByConcept(t *testing.T) {
	s := newItems(t)
	ctx := context.Background()

	item := testItem("proj", models.TierSemantic)
	item.Concept = "deployment_region"
	if err := s.Put(ctx, item); err != nil {
		t.Fatalf("Put() error = %v", err)
	}

	got, err := s.FindByConcept(ctx, "proj", "deployment_region")
	if err != nil {
		t.Fatalf("FindByConcept() error = %v", err)
	}
	if got == nil || got.ID != item.ID {
		t.Errorf("FindByConcept() = %+v, want the stored item", got)
	}

	none, err := s.FindByConcept(ctx, "proj", "other_concept")
	if err != nil {
		t.Fatalf("FindByConcept() error = %v", err)
	}
	if none != nil {
		t.Errorf("FindByConcept() = %+v, want nil", none)
	}
}

func TestItemStore_Projects(t *testing.T) {
	s := newItems(t)
	ctx := context.Background()

	for _, p := range []string{"alpha", "beta", "alpha"} {
		if err := s.Put(ctx, testItem(p, models.TierWorking)); err != nil {
			t.Fatalf("Put() error = %v", err)
		}
	}

	projects, err := s.Projects(ctx)
	if err != nil {
		t.Fatalf("Projects() error = %v", err)
	}
	if len(projects) != 2 {
		t.Errorf("Projects() = %v, want 2 distinct", projects)
	}
}
