// ABOUTME: SQLite persistence for tiered memory items
// ABOUTME: Embeddings and source refs are stored as JSON columns
package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/tomeworks/tome/internal/models"
)

// ItemStore persists MemoryItems across the working/episodic/semantic tiers.
type ItemStore struct {
	db *DB
}

// NewItemStore creates an item store over the shared database.
func NewItemStore(db *DB) *ItemStore {
	return &ItemStore{db: db}
}

// Put inserts or replaces a memory item.
func (s *ItemStore) Put(ctx context.Context, item *models.MemoryItem) error {
	embJSON, err := json.Marshal(item.Embedding)
	if err != nil {
		return fmt.Errorf("marshal embedding: %w", err)
	}
	refsJSON, err := json.Marshal(item.SourceRefs)
	if err != nil {
		return fmt.Errorf("marshal source refs: %w", err)
	}

	var weakSince interface{}
	if item.WeakSince != nil {
		weakSince = item.WeakSince.UTC().Format(time.RFC3339Nano)
	}

	_, err = s.db.db.ExecContext(ctx, `
		INSERT OR REPLACE INTO memory_items
		(id, project_id, tier, content, embedding, importance, strength, access_count,
		 created_at, last_accessed_at, weak_since, source_refs, concept, reliability, review_pending)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		item.ID, item.ProjectID, string(item.Tier), item.Content, string(embJSON),
		item.Importance, item.Strength, item.AccessCount,
		item.CreatedAt.UTC().Format(time.RFC3339Nano),
		item.LastAccessedAt.UTC().Format(time.RFC3339Nano),
		weakSince, string(refsJSON), item.Concept, item.Reliability, boolToInt(item.ReviewPending))
	if err != nil {
		return fmt.Errorf("put memory item: %w", err)
	}
	return nil
}

// Get returns the item with the given ID, or nil if absent.
func (s *ItemStore) Get(ctx context.Context, id string) (*models.MemoryItem, error) {
	row := s.db.db.QueryRowContext(ctx, selectItems+` WHERE id = ?`, id)
	item, err := scanItem(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	return item, err
}

// ListByTier returns all items of one tier in a project, newest first.
func (s *ItemStore) ListByTier(ctx context.Context, projectID string, tier models.Tier) ([]*models.MemoryItem, error) {
	rows, err := s.db.db.QueryContext(ctx,
		selectItems+` WHERE project_id = ? AND tier = ? ORDER BY created_at DESC`,
		projectID, string(tier))
	if err != nil {
		return nil, fmt.Errorf("list by tier: %w", err)
	}
	defer rows.Close()
	return scanItems(rows)
}

// ListProject returns all non-archived items in a project.
func (s *ItemStore) ListProject(ctx context.Context, projectID string) ([]*models.MemoryItem, error) {
	rows, err := s.db.db.QueryContext(ctx,
		selectItems+` WHERE project_id = ? AND tier != ? ORDER BY created_at DESC`,
		projectID, string(models.TierArchived))
	if err != nil {
		return nil, fmt.Errorf("list project: %w", err)
	}
	defer rows.Close()
	return scanItems(rows)
}

// Projects returns the distinct project IDs present in the store.
func (s *ItemStore) Projects(ctx context.Context) ([]string, error) {
	rows, err := s.db.db.QueryContext(ctx, `SELECT DISTINCT project_id FROM memory_items`)
	if err != nil {
		return nil, fmt.Errorf("list projects: %w", err)
	}
	defer rows.Close()

	var out []string
	for rows.Next() {
		var p string
		if err := rows.Scan(&p); err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

// TouchByRef reinforces items whose ID matches ref or whose source refs
// contain it: bumps access count, refreshes last access, clears the
// weak-since marker, and recomputes strength through the callback, which
// receives the item with its access count already bumped. A nil callback
// leaves the stored strength as-is. Returns the number of items touched.
func (s *ItemStore) TouchByRef(ctx context.Context, projectID, ref string, now time.Time, strength func(*models.MemoryItem) float64) (int, error) {
	tx, err := s.db.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("touch by ref: %w", err)
	}
	defer tx.Rollback()

	rows, err := tx.QueryContext(ctx, selectItems+`
		WHERE project_id = ? AND tier != ?
		  AND (id = ? OR source_refs LIKE ?)`,
		projectID, string(models.TierArchived), ref, `%"`+ref+`"%`)
	if err != nil {
		return 0, fmt.Errorf("touch by ref: %w", err)
	}
	items, err := scanItems(rows)
	rows.Close()
	if err != nil {
		return 0, fmt.Errorf("touch by ref: %w", err)
	}

	for _, item := range items {
		item.AccessCount++
		item.LastAccessedAt = now
		item.WeakSince = nil
		if strength != nil {
			item.Strength = strength(item)
		}
		if _, err := tx.ExecContext(ctx, `
			UPDATE memory_items
			SET access_count = ?, last_accessed_at = ?, weak_since = NULL, strength = ?
			WHERE id = ?`,
			item.AccessCount, now.UTC().Format(time.RFC3339Nano), item.Strength, item.ID); err != nil {
			return 0, fmt.Errorf("touch by ref: %w", err)
		}
	}
	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("touch by ref: %w", err)
	}
	return len(items), nil
}

// FindByConcept returns the non-archived semantic item keyed by concept, if any.
func (s *ItemStore) FindByConcept(ctx context.Context, projectID, concept string) (*models.MemoryItem, error) {
	row := s.db.db.QueryRowContext(ctx,
		selectItems+` WHERE project_id = ? AND tier = ? AND concept = ? LIMIT 1`,
		projectID, string(models.TierSemantic), concept)
	item, err := scanItem(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	return item, err
}

const selectItems = `
	SELECT id, project_id, tier, content, embedding, importance, strength, access_count,
	       created_at, last_accessed_at, weak_since, source_refs, concept, reliability, review_pending
	FROM memory_items`

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanItem(row rowScanner) (*models.MemoryItem, error) {
	var (
		item               models.MemoryItem
		tier               string
		embJSON, refsJSON  sql.NullString
		createdAt, touched string
		weakSince          sql.NullString
		concept            sql.NullString
		reviewPending      int
	)

	err := row.Scan(&item.ID, &item.ProjectID, &tier, &item.Content, &embJSON,
		&item.Importance, &item.Strength, &item.AccessCount,
		&createdAt, &touched, &weakSince, &refsJSON, &concept, &item.Reliability, &reviewPending)
	if err != nil {
		return nil, err
	}

	item.Tier = models.Tier(tier)
	item.ReviewPending = reviewPending != 0
	item.Concept = concept.String

	if item.CreatedAt, err = time.Parse(time.RFC3339Nano, createdAt); err != nil {
		return nil, fmt.Errorf("parse created_at: %w", err)
	}
	if item.LastAccessedAt, err = time.Parse(time.RFC3339Nano, touched); err != nil {
		return nil, fmt.Errorf("parse last_accessed_at: %w", err)
	}
	if weakSince.Valid {
		t, err := time.Parse(time.RFC3339Nano, weakSince.String)
		if err != nil {
			return nil, fmt.Errorf("parse weak_since: %w", err)
		}
		item.WeakSince = &t
	}
	if embJSON.Valid && embJSON.String != "" && embJSON.String != "null" {
		if err := json.Unmarshal([]byte(embJSON.String), &item.Embedding); err != nil {
			return nil, fmt.Errorf("unmarshal embedding: %w", err)
		}
	}
	if refsJSON.Valid && refsJSON.String != "" && refsJSON.String != "null" {
		if err := json.Unmarshal([]byte(refsJSON.String), &item.SourceRefs); err != nil {
			return nil, fmt.Errorf("unmarshal source refs: %w", err)
		}
	}

	return &item, nil
}

func scanItems(rows *sql.Rows) ([]*models.MemoryItem, error) {
	var items []*models.MemoryItem
	for rows.Next() {
		item, err := scanItem(rows)
		if err != nil {
			return nil, err
		}
		items = append(items, item)
	}
	return items, rows.Err()
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
