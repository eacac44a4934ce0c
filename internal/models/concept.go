// ABOUTME: ConceptNode and ConceptEdge form the project concept graph
// ABOUTME: Nodes are unique per (name, type, project); re-ingestion merges rather than duplicates
package models

import (
	"crypto/sha256"
	"encoding/hex"
	"strings"
)

// ConceptNode is a named entity or idea extracted from chunks during ingestion.
type ConceptNode struct {
	ID         string  `json:"id"`
	Name       string  `json:"name"`
	Type       string  `json:"type"`
	Confidence float64 `json:"confidence"`
}

// ConceptEdge is a typed, weighted relation between two concept nodes.
type ConceptEdge struct {
	From         string  `json:"from"`
	To           string  `json:"to"`
	RelationType string  `json:"relation_type"`
	Weight       float64 `json:"weight"`
}

// ConceptID derives the deterministic node ID for (project, name, type).
// Deterministic IDs are what make re-ingestion merge instead of duplicate.
func ConceptID(projectID, name, ctype string) string {
	h := sha256.Sum256([]byte(projectID + "\x00" + strings.ToLower(name) + "\x00" + strings.ToLower(ctype)))
	return "concept_" + hex.EncodeToString(h[:12])
}
