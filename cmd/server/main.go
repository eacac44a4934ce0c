// ABOUTME: Main entry point for the Tome MCP server with stdio transport
// ABOUTME: Initializes storage, the engine, and the MCP server with all tools
package main

import (
	"log"
	"os"
	"path/filepath"

	"github.com/joho/godotenv"
	mcpserver "github.com/mark3labs/mcp-go/server"
	openai "github.com/sashabaranov/go-openai"

	"github.com/tomeworks/tome/internal/config"
	"github.com/tomeworks/tome/internal/engine"
	"github.com/tomeworks/tome/internal/llm"
	"github.com/tomeworks/tome/internal/mcp"
	"github.com/tomeworks/tome/internal/membank"
	"github.com/tomeworks/tome/internal/storage"
)

const serverVersion = "0.1.0"

func main() {
	// Load .env file if it exists (for API keys)
	if err := godotenv.Load(); err != nil {
		log.Printf("No .env file found (this is okay for production): %v", err)
	}

	if os.Getenv("OPENAI_API_KEY") == "" {
		log.Println("Warning: OPENAI_API_KEY not set - embeddings and LLM features will not work")
	}

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	client, err := llm.NewClientWithConfig(&llm.ClientConfig{
		APIKey:         cfg.OpenAIKey,
		ChatModel:      cfg.ChatModel,
		EmbeddingModel: openai.EmbeddingModel(cfg.EmbeddingModel),
		Timeout:        cfg.Timeout,
		MaxRetries:     cfg.MaxRetries,
		RetryDelay:     cfg.RetryDelay,
	})
	if err != nil {
		log.Fatalf("Failed to initialize LLM client: %v", err)
	}

	db, err := storage.Open(filepath.Join(cfg.DataDir, "tome.db"))
	if err != nil {
		log.Fatalf("Failed to open database: %v", err)
	}
	defer db.Close()

	vectors, err := storage.NewVectorStore(filepath.Join(cfg.DataDir, "vectors"))
	if err != nil {
		log.Fatalf("Failed to open vector store: %v", err)
	}

	graph := storage.NewGraphStore(db)
	items := storage.NewItemStore(db)

	bank, err := membank.New(cfg.DataDir, client, graph)
	if err != nil {
		log.Fatalf("Failed to open memory bank: %v", err)
	}

	eng := engine.New(engine.Deps{
		Config:  cfg,
		LLM:     client,
		Vectors: vectors,
		Graph:   graph,
		Items:   items,
		Bank:    bank,
	})
	eng.Start()
	defer eng.Stop()

	server := mcpserver.NewMCPServer(
		"Tome Knowledge Engine",
		serverVersion,
	)

	handlers := mcp.RegisterTools(server, eng)

	log.Println("Tome MCP server starting on stdio...")
	if err := mcpserver.ServeStdio(server); err != nil {
		log.Fatalf("Server error: %v", err)
	}

	// Drain any in-flight async handler work before the deferred shutdown.
	handlers.Wait()
}
