// ABOUTME: OpenAI client for embeddings, progressive summarization, and concept extraction
// ABOUTME: Retries with backoff, caches embeddings in ristretto, degrades via TransientBackendError
package llm

import (
	"context"
	"crypto/sha256"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/dgraph-io/ristretto"
	openai "github.com/sashabaranov/go-openai"

	"github.com/tomeworks/tome/internal/errs"
	"github.com/tomeworks/tome/internal/util"
)

const (
	// DefaultChatModel is the default model for summarization and extraction
	DefaultChatModel = "gpt-4o-mini"
	// DefaultEmbeddingModel is the default model for embeddings
	DefaultEmbeddingModel = openai.SmallEmbedding3
)

// ClientConfig holds configuration for the OpenAI client.
type ClientConfig struct {
	APIKey         string
	ChatModel      string
	EmbeddingModel openai.EmbeddingModel
	Timeout        time.Duration
	MaxRetries     int
	RetryDelay     time.Duration
}

// DefaultConfig returns the default client configuration.
func DefaultConfig(apiKey string) *ClientConfig {
	return &ClientConfig{
		APIKey:         apiKey,
		ChatModel:      DefaultChatModel,
		EmbeddingModel: DefaultEmbeddingModel,
		Timeout:        30 * time.Second,
		MaxRetries:     3,
		RetryDelay:     2 * time.Second,
	}
}

// Client wraps the OpenAI API with retry logic and an embedding cache.
type Client struct {
	client         *openai.Client
	chatModel      string
	embeddingModel openai.EmbeddingModel
	timeout        time.Duration
	maxRetries     int
	retryDelay     time.Duration
	cache          *ristretto.Cache
}

// NewClient creates a client with default configuration.
func NewClient(apiKey string) (*Client, error) {
	return NewClientWithConfig(DefaultConfig(apiKey))
}

// NewClientWithConfig creates a client with custom configuration.
func NewClientWithConfig(config *ClientConfig) (*Client, error) {
	if config.APIKey == "" {
		return nil, &errs.FatalConfigError{Field: "OPENAI_API_KEY", Reason: "API key is required"}
	}

	cache, err := ristretto.NewCache(&ristretto.Config{
		NumCounters: 100_000,   // ~10x expected distinct texts
		MaxCost:     64 << 20,  // 64 MiB of cached vectors
		BufferItems: 64,
	})
	if err != nil {
		return nil, fmt.Errorf("creating embedding cache: %w", err)
	}

	return &Client{
		client:         openai.NewClient(config.APIKey),
		chatModel:      config.ChatModel,
		embeddingModel: config.EmbeddingModel,
		timeout:        config.Timeout,
		maxRetries:     config.MaxRetries,
		retryDelay:     config.RetryDelay,
		cache:          cache,
	}, nil
}

func cacheKey(text string) string {
	sum := sha256.Sum256([]byte(text))
	return string(sum[:])
}

// Embed generates an embedding vector for text, serving repeats from cache.
func (c *Client) Embed(ctx context.Context, text string) ([]float32, error) {
	if v, ok := c.cache.Get(cacheKey(text)); ok {
		if vec, ok := v.([]float32); ok {
			return vec, nil
		}
	}

	vectors, err := c.embedRemote(ctx, []string{text})
	if err != nil {
		return nil, err
	}
	c.cache.Set(cacheKey(text), vectors[0], int64(4*len(vectors[0])))
	return vectors[0], nil
}

// EmbedBatch embeds texts in one request where possible, reusing cached
// vectors and only sending cache misses over the wire.
func (c *Client) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, len(texts))
	var missing []string
	var missingIdx []int

	for i, text := range texts {
		if v, ok := c.cache.Get(cacheKey(text)); ok {
			if vec, ok := v.([]float32); ok {
				out[i] = vec
				continue
			}
		}
		missing = append(missing, text)
		missingIdx = append(missingIdx, i)
	}

	if len(missing) > 0 {
		vectors, err := c.embedRemote(ctx, missing)
		if err != nil {
			return nil, err
		}
		for j, vec := range vectors {
			out[missingIdx[j]] = vec
			c.cache.Set(cacheKey(missing[j]), vec, int64(4*len(vec)))
		}
	}

	return out, nil
}

func (c *Client) embedRemote(ctx context.Context, texts []string) ([][]float32, error) {
	var vectors [][]float32

	err := util.Retry(ctx, c.maxRetries, c.retryDelay, func(ctx context.Context) error {
		callCtx, cancel := context.WithTimeout(ctx, c.timeout)
		defer cancel()

		resp, err := c.client.CreateEmbeddings(callCtx, openai.EmbeddingRequestStrings{
			Input: texts,
			Model: c.embeddingModel,
		})
		if err != nil {
			return err
		}
		if len(resp.Data) != len(texts) {
			return fmt.Errorf("expected %d embeddings, got %d", len(texts), len(resp.Data))
		}

		vectors = make([][]float32, len(texts))
		for i, d := range resp.Data {
			vectors[i] = d.Embedding
		}
		return nil
	})
	if err != nil {
		return nil, &errs.TransientBackendError{Backend: "embedding", Err: err}
	}

	return vectors, nil
}

// Summarize performs one step of progressive summarization:
// summary_v(n) = f(summary_v(n-1), new_facts), bounded to maxLen characters.
func (c *Client) Summarize(ctx context.Context, oldSummary string, newFacts []string, maxLen int) (string, error) {
	systemPrompt := fmt.Sprintf(`You are a summarization assistant maintaining a running project summary.
Given the previous summary and a list of new facts, produce an updated summary that:
1. Preserves still-relevant information from the previous summary
2. Integrates the new facts
3. Stays under %d characters

Return ONLY the updated summary text. No preamble.`, maxLen)

	var sb strings.Builder
	sb.WriteString("PREVIOUS SUMMARY:\n")
	if oldSummary == "" {
		sb.WriteString("(none)\n")
	} else {
		sb.WriteString(oldSummary + "\n")
	}
	sb.WriteString("\nNEW FACTS:\n")
	for _, f := range newFacts {
		sb.WriteString("- " + f + "\n")
	}

	var result string
	err := util.Retry(ctx, c.maxRetries, c.retryDelay, func(ctx context.Context) error {
		callCtx, cancel := context.WithTimeout(ctx, c.timeout)
		defer cancel()

		resp, err := c.client.CreateChatCompletion(callCtx, openai.ChatCompletionRequest{
			Model: c.chatModel,
			Messages: []openai.ChatCompletionMessage{
				{Role: openai.ChatMessageRoleSystem, Content: systemPrompt},
				{Role: openai.ChatMessageRoleUser, Content: sb.String()},
			},
			Temperature: 0.3,
		})
		if err != nil {
			return err
		}
		if len(resp.Choices) == 0 {
			return fmt.Errorf("no completion choices returned")
		}
		result = strings.TrimSpace(resp.Choices[0].Message.Content)
		return nil
	})
	if err != nil {
		return "", &errs.TransientBackendError{Backend: "llm", Err: err}
	}

	return result, nil
}

// ConceptCandidate is one concept extracted from chunk text, with its
// outgoing relations to other extracted concepts.
type ConceptCandidate struct {
	Name       string              `json:"name"`
	Type       string              `json:"type"`
	Confidence float64             `json:"confidence"`
	Relations  []RelationCandidate `json:"relations,omitempty"`
}

// RelationCandidate is a typed relation from one concept to another.
type RelationCandidate struct {
	Target       string  `json:"target"`
	RelationType string  `json:"relation_type"`
	Weight       float64 `json:"weight"`
}

// ExtractConcepts extracts concept nodes and relations from chunk text.
func (c *Client) ExtractConcepts(ctx context.Context, text string) ([]ConceptCandidate, error) {
	systemPrompt := `You are a concept extraction assistant. Given a document excerpt, extract the key concepts.

For each concept provide:
- name: short canonical name
- type: one of "entity", "topic", "term", "process"
- confidence: 0.0 to 1.0
- relations: optional array of {target, relation_type, weight} where target is
  the name of another extracted concept and relation_type is one of
  "relates_to", "part_of", "depends_on", "defined_in", weight 0.0 to 1.0

Return ONLY a JSON array of concept objects. Extract at most 10 concepts.`

	userPrompt := fmt.Sprintf("Extract concepts from this excerpt:\n\n%s", text)

	var candidates []ConceptCandidate
	err := util.Retry(ctx, c.maxRetries, c.retryDelay, func(ctx context.Context) error {
		callCtx, cancel := context.WithTimeout(ctx, c.timeout)
		defer cancel()

		resp, err := c.client.CreateChatCompletion(callCtx, openai.ChatCompletionRequest{
			Model: c.chatModel,
			Messages: []openai.ChatCompletionMessage{
				{Role: openai.ChatMessageRoleSystem, Content: systemPrompt},
				{Role: openai.ChatMessageRoleUser, Content: userPrompt},
			},
			Temperature: 0.1, // Low temperature for consistent extraction
		})
		if err != nil {
			return err
		}
		if len(resp.Choices) == 0 {
			return fmt.Errorf("no completion choices returned")
		}

		content := resp.Choices[0].Message.Content
		if err := json.Unmarshal([]byte(content), &candidates); err != nil {
			return fmt.Errorf("failed to parse JSON: %w", err)
		}
		return nil
	})
	if err != nil {
		return nil, &errs.TransientBackendError{Backend: "llm", Err: err}
	}

	return candidates, nil
}
