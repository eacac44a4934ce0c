// ABOUTME: Tests for configuration loading and validation
// ABOUTME: Verifies defaults, env overrides, and fail-fast behavior on bad values
package config

import (
	"errors"
	"testing"
	"time"

	"github.com/tomeworks/tome/internal/errs"
)

func TestLoad_Defaults(t *testing.T) {
	t.Setenv("TOME_DATA_DIR", t.TempDir())

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if cfg.MinChunkTokens != 300 {
		t.Errorf("MinChunkTokens = %d, want 300", cfg.MinChunkTokens)
	}
	if cfg.MaxChunkTokens != 1000 {
		t.Errorf("MaxChunkTokens = %d, want 1000", cfg.MaxChunkTokens)
	}
	if cfg.AdjacentBoost != 1.5 {
		t.Errorf("AdjacentBoost = %v, want 1.5", cfg.AdjacentBoost)
	}
	if cfg.RRFK != 60 {
		t.Errorf("RRFK = %v, want 60", cfg.RRFK)
	}
	if cfg.WeightVector != 0.4 || cfg.WeightGraph != 0.4 || cfg.WeightMemory != 0.2 {
		t.Errorf("fusion weights = %v/%v/%v, want 0.4/0.4/0.2",
			cfg.WeightVector, cfg.WeightGraph, cfg.WeightMemory)
	}
	if cfg.VectorTimeout != 150*time.Millisecond {
		t.Errorf("VectorTimeout = %v, want 150ms", cfg.VectorTimeout)
	}
	if cfg.BankTimeout != 50*time.Millisecond {
		t.Errorf("BankTimeout = %v, want 50ms", cfg.BankTimeout)
	}
	if cfg.WorkingCapacity != 20 {
		t.Errorf("WorkingCapacity = %d, want 20", cfg.WorkingCapacity)
	}
	if cfg.SweepInterval != time.Hour {
		t.Errorf("SweepInterval = %v, want 1h", cfg.SweepInterval)
	}
	if len(cfg.RelationAllowlist) == 0 {
		t.Error("RelationAllowlist should have defaults")
	}
}

func TestLoad_EnvOverrides(t *testing.T) {
	t.Setenv("TOME_DATA_DIR", t.TempDir())
	t.Setenv("TOME_CHUNK_MIN_TOKENS", "50")
	t.Setenv("TOME_CHUNK_MAX_TOKENS", "200")
	t.Setenv("TOME_CHUNK_TARGET_TOKENS", "120")
	t.Setenv("TOME_GRAPH_MAX_HOPS", "3")
	t.Setenv("TOME_SWEEP_INTERVAL", "10m")
	t.Setenv("TOME_RELATION_ALLOWLIST", "relates_to, part_of")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if cfg.MinChunkTokens != 50 || cfg.MaxChunkTokens != 200 || cfg.TargetChunkTokens != 120 {
		t.Errorf("chunk bounds = %d/%d/%d, want 50/200/120",
			cfg.MinChunkTokens, cfg.MaxChunkTokens, cfg.TargetChunkTokens)
	}
	if cfg.GraphMaxHops != 3 {
		t.Errorf("GraphMaxHops = %d, want 3", cfg.GraphMaxHops)
	}
	if cfg.SweepInterval != 10*time.Minute {
		t.Errorf("SweepInterval = %v, want 10m", cfg.SweepInterval)
	}
	if len(cfg.RelationAllowlist) != 2 || cfg.RelationAllowlist[1] != "part_of" {
		t.Errorf("RelationAllowlist = %v, want [relates_to part_of]", cfg.RelationAllowlist)
	}
}

func TestValidate_Failures(t *testing.T) {
	base := func() *Config {
		t.Setenv("TOME_DATA_DIR", t.TempDir())
		cfg, err := Load()
		if err != nil {
			t.Fatalf("Load() error = %v", err)
		}
		return cfg
	}

	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"empty data dir", func(c *Config) { c.DataDir = "" }},
		{"min above max", func(c *Config) { c.MinChunkTokens = 2000 }},
		{"target out of bounds", func(c *Config) { c.TargetChunkTokens = 5 }},
		{"percentile over 100", func(c *Config) { c.SimilarityPercentile = 150 }},
		{"negative weight", func(c *Config) { c.WeightGraph = -0.1 }},
		{"zero weights", func(c *Config) { c.WeightVector, c.WeightGraph, c.WeightMemory = 0, 0, 0 }},
		{"archive threshold out of range", func(c *Config) { c.ArchiveThreshold = 1.5 }},
		{"zero hops", func(c *Config) { c.GraphMaxHops = 0 }},
		{"retries out of range", func(c *Config) { c.MaxRetries = 99 }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := base()
			tt.mutate(cfg)

			err := cfg.Validate()
			if err == nil {
				t.Fatal("Validate() should fail")
			}

			var fatal *errs.FatalConfigError
			if !errors.As(err, &fatal) {
				t.Errorf("error should be FatalConfigError, got %T: %v", err, err)
			}
		})
	}
}
