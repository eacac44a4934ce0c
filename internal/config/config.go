// ABOUTME: Centralized configuration for the Tome knowledge engine
// ABOUTME: Loads from environment variables with validation and defaults; fails fast on bad config
package config

import (
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/adrg/xdg"

	"github.com/tomeworks/tome/internal/errs"
)

// Config holds all configuration for the engine.
type Config struct {
	// Data layout
	DataDir string

	// OpenAI settings
	OpenAIKey      string
	ChatModel      string
	EmbeddingModel string
	Timeout        time.Duration
	MaxRetries     int
	RetryDelay     time.Duration

	// Chunker settings
	MinChunkTokens       int
	MaxChunkTokens       int
	TargetChunkTokens    int
	AdjacentBoost        float64
	SimilarityPercentile float64

	// Retrieval settings
	VectorTopN        int
	GraphMaxHops      int
	GraphResultCap    int
	MemoryStageLimit  int
	RRFK              float64
	WeightVector      float64
	WeightGraph       float64
	WeightMemory      float64
	VectorTimeout     time.Duration
	GraphTimeout      time.Duration
	BankTimeout       time.Duration
	RelationAllowlist []string

	// Lifecycle settings
	WorkingCapacity    int
	DecayRateWorking   float64 // per hour
	DecayRateEpisodic  float64
	DecayRateSemantic  float64
	ArchiveThreshold   float64
	ImportanceExempt   float64
	SweepInterval      time.Duration
	PromoteAccessCount int
	PromoteMinAge      time.Duration
}

// Load reads configuration from environment variables.
func Load() (*Config, error) {
	cfg := &Config{
		DataDir:        getEnv("TOME_DATA_DIR", defaultDataDir()),
		OpenAIKey:      os.Getenv("OPENAI_API_KEY"),
		ChatModel:      getEnv("TOME_OPENAI_MODEL", "gpt-4o-mini"),
		EmbeddingModel: getEnv("TOME_EMBEDDING_MODEL", "text-embedding-3-small"),
		Timeout:        getEnvDuration("OPENAI_TIMEOUT", 30*time.Second),
		MaxRetries:     getEnvInt("OPENAI_MAX_RETRIES", 3),
		RetryDelay:     getEnvDuration("OPENAI_RETRY_DELAY", 2*time.Second),

		MinChunkTokens:       getEnvInt("TOME_CHUNK_MIN_TOKENS", 300),
		MaxChunkTokens:       getEnvInt("TOME_CHUNK_MAX_TOKENS", 1000),
		TargetChunkTokens:    getEnvInt("TOME_CHUNK_TARGET_TOKENS", 650),
		AdjacentBoost:        getEnvFloat("TOME_CHUNK_ADJACENT_BOOST", 1.5),
		SimilarityPercentile: getEnvFloat("TOME_CHUNK_SIM_PERCENTILE", 75),

		VectorTopN:        getEnvInt("TOME_VECTOR_TOP_N", 15),
		GraphMaxHops:      getEnvInt("TOME_GRAPH_MAX_HOPS", 2),
		GraphResultCap:    getEnvInt("TOME_GRAPH_RESULT_CAP", 50),
		MemoryStageLimit:  getEnvInt("TOME_MEMORY_STAGE_LIMIT", 5),
		RRFK:              getEnvFloat("TOME_RRF_K", 60),
		WeightVector:      getEnvFloat("TOME_WEIGHT_VECTOR", 0.4),
		WeightGraph:       getEnvFloat("TOME_WEIGHT_GRAPH", 0.4),
		WeightMemory:      getEnvFloat("TOME_WEIGHT_MEMORY", 0.2),
		VectorTimeout:     getEnvDuration("TOME_VECTOR_TIMEOUT", 150*time.Millisecond),
		GraphTimeout:      getEnvDuration("TOME_GRAPH_TIMEOUT", 150*time.Millisecond),
		BankTimeout:       getEnvDuration("TOME_BANK_TIMEOUT", 50*time.Millisecond),
		RelationAllowlist: getEnvList("TOME_RELATION_ALLOWLIST", []string{"relates_to", "part_of", "depends_on", "defined_in"}),

		WorkingCapacity:    getEnvInt("TOME_WORKING_CAPACITY", 20),
		DecayRateWorking:   getEnvFloat("TOME_DECAY_WORKING", 0.1),
		DecayRateEpisodic:  getEnvFloat("TOME_DECAY_EPISODIC", 0.05),
		DecayRateSemantic:  getEnvFloat("TOME_DECAY_SEMANTIC", 0.01),
		ArchiveThreshold:   getEnvFloat("TOME_ARCHIVE_THRESHOLD", 0.1),
		ImportanceExempt:   getEnvFloat("TOME_IMPORTANCE_EXEMPT", 0.8),
		SweepInterval:      getEnvDuration("TOME_SWEEP_INTERVAL", time.Hour),
		PromoteAccessCount: getEnvInt("TOME_PROMOTE_ACCESS_COUNT", 3),
		PromoteMinAge:      getEnvDuration("TOME_PROMOTE_MIN_AGE", 24*time.Hour),
	}

	return cfg, cfg.Validate()
}

// Validate fails fast on configuration that would misbehave at runtime.
func (c *Config) Validate() error {
	if c.DataDir == "" {
		return &errs.FatalConfigError{Field: "TOME_DATA_DIR", Reason: "data directory must not be empty"}
	}
	if c.MinChunkTokens <= 0 || c.MaxChunkTokens <= 0 || c.MinChunkTokens > c.MaxChunkTokens {
		return &errs.FatalConfigError{Field: "TOME_CHUNK_MIN_TOKENS/MAX_TOKENS", Reason: "need 0 < min <= max"}
	}
	if c.TargetChunkTokens < c.MinChunkTokens || c.TargetChunkTokens > c.MaxChunkTokens {
		return &errs.FatalConfigError{Field: "TOME_CHUNK_TARGET_TOKENS", Reason: "target must be within [min, max]"}
	}
	if c.SimilarityPercentile < 0 || c.SimilarityPercentile > 100 {
		return &errs.FatalConfigError{Field: "TOME_CHUNK_SIM_PERCENTILE", Reason: "must be 0-100"}
	}
	if c.MaxRetries < 0 || c.MaxRetries > 10 {
		return &errs.FatalConfigError{Field: "OPENAI_MAX_RETRIES", Reason: "must be 0-10"}
	}
	if c.WeightVector < 0 || c.WeightGraph < 0 || c.WeightMemory < 0 {
		return &errs.FatalConfigError{Field: "TOME_WEIGHT_*", Reason: "fusion weights must be non-negative"}
	}
	if c.WeightVector+c.WeightGraph+c.WeightMemory <= 0 {
		return &errs.FatalConfigError{Field: "TOME_WEIGHT_*", Reason: "fusion weights must sum to a positive value"}
	}
	if c.ArchiveThreshold < 0 || c.ArchiveThreshold > 1 {
		return &errs.FatalConfigError{Field: "TOME_ARCHIVE_THRESHOLD", Reason: "must be 0-1"}
	}
	if c.ImportanceExempt < 0 || c.ImportanceExempt > 1 {
		return &errs.FatalConfigError{Field: "TOME_IMPORTANCE_EXEMPT", Reason: "must be 0-1"}
	}
	if c.GraphMaxHops < 1 {
		return &errs.FatalConfigError{Field: "TOME_GRAPH_MAX_HOPS", Reason: "must be >= 1"}
	}
	return nil
}

func defaultDataDir() string {
	// Respects XDG_DATA_HOME override for testing
	dataHome := os.Getenv("XDG_DATA_HOME")
	if dataHome == "" {
		dataHome = xdg.DataHome
	}
	return filepath.Join(dataHome, "tome")
}

// Helper functions
func getEnv(key, defaultVal string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return defaultVal
}

func getEnvInt(key string, defaultVal int) int {
	if v := os.Getenv(key); v != "" {
		if i, err := strconv.Atoi(v); err == nil {
			return i
		}
	}
	return defaultVal
}

func getEnvFloat(key string, defaultVal float64) float64 {
	if v := os.Getenv(key); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			return f
		}
	}
	return defaultVal
}

func getEnvDuration(key string, defaultVal time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return defaultVal
}

func getEnvList(key string, defaultVal []string) []string {
	if v := os.Getenv(key); v != "" {
		parts := strings.Split(v, ",")
		out := make([]string, 0, len(parts))
		for _, p := range parts {
			if p = strings.TrimSpace(p); p != "" {
				out = append(out, p)
			}
		}
		if len(out) > 0 {
			return out
		}
	}
	return defaultVal
}
