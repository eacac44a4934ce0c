// ABOUTME: MCP tool handler implementations for the Tome server
// ABOUTME: Thin argument/JSON plumbing around the engine with proper error handling
package mcp

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/mark3labs/mcp-go/mcp"

	"github.com/tomeworks/tome/internal/engine"
	"github.com/tomeworks/tome/internal/models"
)

// Handlers contains the handler functions for all MCP tools
type Handlers struct {
	engine     *engine.Engine
	shutdownWg *sync.WaitGroup // Track pending async operations
}

// Wait blocks until all async handler work has drained. Called on shutdown.
func (h *Handlers) Wait() {
	h.shutdownWg.Wait()
}

// IngestDocument handles the ingest_document tool
func (h *Handlers) IngestDocument(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	projectID, err := request.RequireString("project_id")
	if err != nil {
		return mcp.NewToolResultError("project_id argument is required and must be a string"), nil
	}
	documentID, err := request.RequireString("document_id")
	if err != nil {
		return mcp.NewToolResultError("document_id argument is required and must be a string"), nil
	}
	text, err := request.RequireString("text")
	if err != nil {
		return mcp.NewToolResultError("text argument is required and must be a string"), nil
	}

	report, err := h.engine.IngestDocument(ctx, projectID, documentID, text, nil)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("ingestion failed: %v", err)), nil
	}

	payload, err := json.MarshalIndent(report, "", "  ")
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("failed to encode report: %v", err)), nil
	}
	return mcp.NewToolResultText(string(payload)), nil
}

// retrieveResponse is the retrieve tool's JSON payload.
type retrieveResponse struct {
	Results []models.RetrievalResult `json:"results"`
	Info    *models.RetrievalInfo    `json:"info"`
}

// Retrieve handles the retrieve tool
func (h *Handlers) Retrieve(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	projectID, err := request.RequireString("project_id")
	if err != nil {
		return mcp.NewToolResultError("project_id argument is required and must be a string"), nil
	}
	query, err := request.RequireString("query")
	if err != nil {
		return mcp.NewToolResultError("query argument is required and must be a string"), nil
	}
	topK := request.GetInt("top_k", 5)

	results, info, err := h.engine.Retrieve(ctx, projectID, query, topK)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("retrieval failed: %v", err)), nil
	}

	payload, err := json.MarshalIndent(retrieveResponse{Results: results, Info: info}, "", "  ")
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("failed to encode results: %v", err)), nil
	}
	return mcp.NewToolResultText(string(payload)), nil
}

// GetMemoryBank handles the get_memory_bank tool
func (h *Handlers) GetMemoryBank(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	projectID, err := request.RequireString("project_id")
	if err != nil {
		return mcp.NewToolResultError("project_id argument is required and must be a string"), nil
	}

	snapshot, err := h.engine.GetMemoryBankSnapshot(ctx, projectID)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("failed to read memory bank: %v", err)), nil
	}

	payload, err := json.MarshalIndent(snapshot, "", "  ")
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("failed to encode snapshot: %v", err)), nil
	}
	return mcp.NewToolResultText(string(payload)), nil
}

// RecordIntervention handles the record_intervention tool
func (h *Handlers) RecordIntervention(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	projectID, err := request.RequireString("project_id")
	if err != nil {
		return mcp.NewToolResultError("project_id argument is required and must be a string"), nil
	}
	note, err := request.RequireString("note")
	if err != nil {
		return mcp.NewToolResultError("note argument is required and must be a string"), nil
	}
	concept := request.GetString("concept", "")

	if err := h.engine.RecordIntervention(ctx, projectID, concept, note); err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("failed to record intervention: %v", err)), nil
	}
	return mcp.NewToolResultText(`{"status":"recorded"}`), nil
}
