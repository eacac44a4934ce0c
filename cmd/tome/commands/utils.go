// ABOUTME: Shared helper functions for CLI commands
// ABOUTME: Engine construction, formatting, and validation utilities
package commands

import (
	"fmt"
	"path/filepath"
	"time"

	"github.com/joho/godotenv"
	openai "github.com/sashabaranov/go-openai"

	"github.com/tomeworks/tome/internal/config"
	"github.com/tomeworks/tome/internal/engine"
	"github.com/tomeworks/tome/internal/llm"
	"github.com/tomeworks/tome/internal/membank"
	"github.com/tomeworks/tome/internal/storage"
)

// openEngine loads configuration and wires up a full engine.
// The returned cleanup closes the underlying stores.
func openEngine() (*engine.Engine, func(), error) {
	// Load .env file if it exists (ignore errors)
	_ = godotenv.Load()

	cfg, err := config.Load()
	if err != nil {
		return nil, nil, fmt.Errorf("failed to load config: %w", err)
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
		return nil, nil, err
	}

	db, err := storage.Open(filepath.Join(cfg.DataDir, "tome.db"))
	if err != nil {
		return nil, nil, fmt.Errorf("failed to open database: %w", err)
	}

	vectors, err := storage.NewVectorStore(filepath.Join(cfg.DataDir, "vectors"))
	if err != nil {
		_ = db.Close()
		return nil, nil, fmt.Errorf("failed to open vector store: %w", err)
	}

	graph := storage.NewGraphStore(db)
	items := storage.NewItemStore(db)

	bank, err := membank.New(cfg.DataDir, client, graph)
	if err != nil {
		_ = db.Close()
		return nil, nil, fmt.Errorf("failed to open memory bank: %w", err)
	}

	eng := engine.New(engine.Deps{
		Config:  cfg,
		LLM:     client,
		Vectors: vectors,
		Graph:   graph,
		Items:   items,
		Bank:    bank,
	})

	cleanup := func() {
		_ = db.Close()
	}
	return eng, cleanup, nil
}

// truncate shortens a string to maxLen characters, adding "..." if truncated
func truncate(s string, maxLen int) string {
	if len(s) <= maxLen {
		return s
	}
	if maxLen <= 3 {
		return s[:maxLen]
	}
	return s[:maxLen-3] + "..."
}

// formatTime formats a timestamp for display
func formatTime(t time.Time) string {
	if t.IsZero() {
		return "never"
	}
	return t.Local().Format("2006-01-02 15:04")
}

// validatePositiveInt validates that a value is a positive integer
func validatePositiveInt(name string, value int) error {
	if value <= 0 {
		return fmt.Errorf("%s must be positive, got %d", name, value)
	}
	return nil
}
