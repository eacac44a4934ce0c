// ABOUTME: MCP tool definitions and registration for the Tome server
// ABOUTME: Defines JSON schemas for the ingestion, retrieval, bank, and intervention tools
package mcp

import (
	"sync"

	"github.com/mark3labs/mcp-go/mcp"
	mcpserver "github.com/mark3labs/mcp-go/server"

	"github.com/tomeworks/tome/internal/engine"
)

// RegisterTools registers all MCP tools with the server
func RegisterTools(server *mcpserver.MCPServer, eng *engine.Engine) *Handlers {
	handlers := &Handlers{
		engine:     eng,
		shutdownWg: &sync.WaitGroup{},
	}

	// 1. ingest_document - chunk, index, and memorize a document
	server.AddTool(mcp.Tool{
		Name:        "ingest_document",
		Description: "Ingest a document into the knowledge engine: semantic chunking, vector indexing, concept extraction into the graph, and a memory bank update.",
		InputSchema: mcp.ToolInputSchema{
			Type: "object",
			Properties: map[string]interface{}{
				"project_id": map[string]interface{}{
					"type":        "string",
					"description": "Project namespace to ingest into",
				},
				"document_id": map[string]interface{}{
					"type":        "string",
					"description": "Stable identifier for the document (re-ingestion merges)",
				},
				"text": map[string]interface{}{
					"type":        "string",
					"description": "Full document text",
				},
			},
			Required: []string{"project_id", "document_id", "text"},
		},
	}, handlers.IngestDocument)

	// 2. retrieve - hybrid three-stage retrieval
	server.AddTool(mcp.Tool{
		Name:        "retrieve",
		Description: "Retrieve relevant chunks, concepts, and memories for a query using hybrid vector + graph + memory bank retrieval with rank fusion.",
		InputSchema: mcp.ToolInputSchema{
			Type: "object",
			Properties: map[string]interface{}{
				"project_id": map[string]interface{}{
					"type":        "string",
					"description": "Project namespace to search",
				},
				"query": map[string]interface{}{
					"type":        "string",
					"description": "Natural language query",
				},
				"top_k": map[string]interface{}{
					"type":        "number",
					"description": "Maximum number of results to return (default: 5)",
					"default":     5,
				},
			},
			Required: []string{"project_id", "query"},
		},
	}, handlers.Retrieve)

	// 3. get_memory_bank - denormalized per-project bank view
	server.AddTool(mcp.Tool{
		Name:        "get_memory_bank",
		Description: "Get the project's memory bank snapshot: context excerpt, concept list, and running summary.",
		InputSchema: mcp.ToolInputSchema{
			Type: "object",
			Properties: map[string]interface{}{
				"project_id": map[string]interface{}{
					"type":        "string",
					"description": "Project namespace",
				},
			},
			Required: []string{"project_id"},
		},
	}, handlers.GetMemoryBank)

	// 4. record_intervention - authoritative human correction
	server.AddTool(mcp.Tool{
		Name:        "record_intervention",
		Description: "Record a human correction. The note supersedes conflicting extracted memories and is preserved verbatim in the memory bank.",
		InputSchema: mcp.ToolInputSchema{
			Type: "object",
			Properties: map[string]interface{}{
				"project_id": map[string]interface{}{
					"type":        "string",
					"description": "Project namespace",
				},
				"concept": map[string]interface{}{
					"type":        "string",
					"description": "Optional concept the correction is keyed to (enables conflict resolution)",
				},
				"note": map[string]interface{}{
					"type":        "string",
					"description": "The correction, verbatim",
				},
			},
			Required: []string{"project_id", "note"},
		},
	}, handlers.RecordIntervention)

	return handlers
}
