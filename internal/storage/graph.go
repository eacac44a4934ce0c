// ABOUTME: SQLite-backed concept graph store with merge-on-upsert and bounded-hop traversal
// ABOUTME: Concepts are unique per (project, name, type); traversal is path-scored and cycle-safe
package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/tomeworks/tome/internal/models"
)

// GraphStore persists concept nodes and edges per project.
type GraphStore struct {
	db *DB
}

// NewGraphStore creates a graph store over the shared database.
func NewGraphStore(db *DB) *GraphStore {
	return &GraphStore{db: db}
}

// TraversalHit is one node reached by bounded-hop traversal.
type TraversalHit struct {
	NodeID    string   `json:"node_id"`
	Name      string   `json:"name"`
	Type      string   `json:"type"`
	Path      []string `json:"path"`
	PathScore float64  `json:"path_score"`
}

// UpsertNodes inserts or merges concept nodes. Merging keeps the higher
// confidence so re-ingestion is additive rather than duplicating.
func (g *GraphStore) UpsertNodes(ctx context.Context, projectID string, nodes []models.ConceptNode) error {
	if len(nodes) == 0 {
		return nil
	}

	tx, err := g.db.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	now := time.Now().UTC().Format(time.RFC3339)
	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO concept_nodes (id, project_id, name, type, confidence, updated_at)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(project_id, name, type) DO UPDATE SET
			confidence = max(confidence, excluded.confidence),
			updated_at = excluded.updated_at`)
	if err != nil {
		return fmt.Errorf("prepare node upsert: %w", err)
	}
	defer stmt.Close()

	for _, n := range nodes {
		id := n.ID
		if id == "" {
			id = models.ConceptID(projectID, n.Name, n.Type)
		}
		if _, err := stmt.ExecContext(ctx, id, projectID, n.Name, n.Type, n.Confidence, now); err != nil {
			return fmt.Errorf("upsert node %q: %w", n.Name, err)
		}
	}

	return tx.Commit()
}

// UpsertEdges inserts or merges concept edges, keeping the higher weight.
func (g *GraphStore) UpsertEdges(ctx context.Context, projectID string, edges []models.ConceptEdge) error {
	if len(edges) == 0 {
		return nil
	}

	tx, err := g.db.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	now := time.Now().UTC().Format(time.RFC3339)
	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO concept_edges (project_id, from_id, to_id, relation_type, weight, updated_at)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(project_id, from_id, to_id, relation_type) DO UPDATE SET
			weight = max(weight, excluded.weight),
			updated_at = excluded.updated_at`)
	if err != nil {
		return fmt.Errorf("prepare edge upsert: %w", err)
	}
	defer stmt.Close()

	for _, e := range edges {
		if _, err := stmt.ExecContext(ctx, projectID, e.From, e.To, e.RelationType, e.Weight, now); err != nil {
			return fmt.Errorf("upsert edge %s->%s: %w", e.From, e.To, err)
		}
	}

	return tx.Commit()
}

// Traverse walks outward from entryIDs up to maxHops hops, following only
// relation types in the allowlist. A node's path score is the product of
// edge weights along its discovery path; revisits keep the better score,
// which also bounds cycles. Results are sorted by path score descending
// and capped.
func (g *GraphStore) Traverse(ctx context.Context, projectID string, entryIDs []string, maxHops int, allow []string, cap int) ([]TraversalHit, error) {
	if len(entryIDs) == 0 || maxHops < 1 {
		return nil, nil
	}
	if cap <= 0 {
		cap = 50
	}

	type visit struct {
		score float64
		path  []string
	}
	best := make(map[string]visit)
	frontier := make(map[string]visit, len(entryIDs))
	for _, id := range entryIDs {
		frontier[id] = visit{score: 1.0, path: []string{id}}
	}

	for hop := 0; hop < maxHops; hop++ {
		// Cancellation checkpoint per hop so deep traversals stay bounded.
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		if len(frontier) == 0 {
			break
		}

		edges, err := g.edgesFrom(ctx, projectID, keys(frontier), allow)
		if err != nil {
			return nil, fmt.Errorf("hop %d: %w", hop+1, err)
		}

		next := make(map[string]visit)
		for _, e := range edges {
			from := frontier[e.From]
			score := from.score * e.Weight
			if prev, seen := best[e.To]; seen && prev.score >= score {
				continue
			}
			path := append(append([]string(nil), from.path...), e.To)
			v := visit{score: score, path: path}
			best[e.To] = v
			next[e.To] = v
		}
		frontier = next
	}

	// Entry points themselves are not results; only reached nodes are.
	for _, id := range entryIDs {
		delete(best, id)
	}
	if len(best) == 0 {
		return nil, nil
	}

	nodes, err := g.nodesByID(ctx, projectID, keys(best))
	if err != nil {
		return nil, err
	}

	hits := make([]TraversalHit, 0, len(best))
	for id, v := range best {
		n, ok := nodes[id]
		if !ok {
			continue
		}
		hits = append(hits, TraversalHit{
			NodeID:    id,
			Name:      n.Name,
			Type:      n.Type,
			Path:      v.path,
			PathScore: v.score,
		})
	}

	sort.Slice(hits, func(i, j int) bool {
		if hits[i].PathScore != hits[j].PathScore {
			return hits[i].PathScore > hits[j].PathScore
		}
		return hits[i].NodeID < hits[j].NodeID
	})
	if len(hits) > cap {
		hits = hits[:cap]
	}

	return hits, nil
}

// FindByName returns nodes whose name matches any of the terms
// (case-insensitive substring). Used as graph entry points when the
// vector stage cannot supply them.
func (g *GraphStore) FindByName(ctx context.Context, projectID string, terms []string, limit int) ([]models.ConceptNode, error) {
	if len(terms) == 0 {
		return nil, nil
	}
	if limit <= 0 {
		limit = 10
	}

	var conds []string
	args := []interface{}{projectID}
	for _, t := range terms {
		t = strings.TrimSpace(t)
		if t == "" {
			continue
		}
		conds = append(conds, "lower(name) LIKE ?")
		args = append(args, "%"+strings.ToLower(t)+"%")
	}
	if len(conds) == 0 {
		return nil, nil
	}
	args = append(args, limit)

	query := fmt.Sprintf(`
		SELECT id, name, type, confidence FROM concept_nodes
		WHERE project_id = ? AND (%s)
		ORDER BY confidence DESC, name ASC
		LIMIT ?`, strings.Join(conds, " OR "))

	rows, err := g.db.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("find by name: %w", err)
	}
	defer rows.Close()

	var nodes []models.ConceptNode
	for rows.Next() {
		var n models.ConceptNode
		if err := rows.Scan(&n.ID, &n.Name, &n.Type, &n.Confidence); err != nil {
			return nil, err
		}
		nodes = append(nodes, n)
	}
	return nodes, rows.Err()
}

// HasConcept reports whether (name, type) exists in the project graph.
// The memory bank's verify step uses this to cross-check new concepts.
func (g *GraphStore) HasConcept(ctx context.Context, projectID, name, ctype string) (bool, error) {
	var one int
	err := g.db.db.QueryRowContext(ctx,
		`SELECT 1 FROM concept_nodes WHERE project_id = ? AND lower(name) = ? AND lower(type) = ?`,
		projectID, strings.ToLower(name), strings.ToLower(ctype)).Scan(&one)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

// CountNodes returns the number of concept nodes in a project.
func (g *GraphStore) CountNodes(ctx context.Context, projectID string) (int, error) {
	var n int
	err := g.db.db.QueryRowContext(ctx,
		`SELECT count(*) FROM concept_nodes WHERE project_id = ?`, projectID).Scan(&n)
	return n, err
}

type edgeRow struct {
	From   string
	To     string
	Weight float64
}

func (g *GraphStore) edgesFrom(ctx context.Context, projectID string, fromIDs []string, allow []string) ([]edgeRow, error) {
	args := []interface{}{projectID}
	query := `SELECT from_id, to_id, weight FROM concept_edges WHERE project_id = ? AND from_id IN (` +
		placeholders(len(fromIDs)) + `)`
	for _, id := range fromIDs {
		args = append(args, id)
	}
	if len(allow) > 0 {
		query += ` AND relation_type IN (` + placeholders(len(allow)) + `)`
		for _, r := range allow {
			args = append(args, r)
		}
	}

	rows, err := g.db.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var edges []edgeRow
	for rows.Next() {
		var e edgeRow
		if err := rows.Scan(&e.From, &e.To, &e.Weight); err != nil {
			return nil, err
		}
		edges = append(edges, e)
	}
	return edges, rows.Err()
}

func (g *GraphStore) nodesByID(ctx context.Context, projectID string, ids []string) (map[string]models.ConceptNode, error) {
	args := []interface{}{projectID}
	for _, id := range ids {
		args = append(args, id)
	}

	rows, err := g.db.db.QueryContext(ctx,
		`SELECT id, name, type, confidence FROM concept_nodes WHERE project_id = ? AND id IN (`+
			placeholders(len(ids))+`)`, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	nodes := make(map[string]models.ConceptNode, len(ids))
	for rows.Next() {
		var n models.ConceptNode
		if err := rows.Scan(&n.ID, &n.Name, &n.Type, &n.Confidence); err != nil {
			return nil, err
		}
		nodes[n.ID] = n
	}
	return nodes, rows.Err()
}

func placeholders(n int) string {
	return strings.TrimSuffix(strings.Repeat("?,", n), ",")
}

func keys[V any](m map[string]V) []string {
	out := make([]string, 0, len(m))
	for k := range m {
		out = append(out, k)
	}
	return out
}
