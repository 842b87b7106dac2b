package config

import (
	"testing"
	"time"
)

func TestLoad_Defaults(t *testing.T) {
	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() error: %v", err)
	}

	if cfg.Store.Driver != "sqlite" {
		t.Errorf("default store driver = %q, want sqlite", cfg.Store.Driver)
	}
	if cfg.Research.EarlyStopConfidence != 0.8 {
		t.Errorf("default early stop confidence = %v, want 0.8", cfg.Research.EarlyStopConfidence)
	}
	if cfg.Research.CheckpointEvery != 10 {
		t.Errorf("default checkpoint interval = %d, want 10", cfg.Research.CheckpointEvery)
	}
	if cfg.Cache.TTL() != 168*time.Hour {
		t.Errorf("default cache TTL = %v, want 168h", cfg.Cache.TTL())
	}
	if cfg.Search.Timeout() != 90*time.Second {
		t.Errorf("default search timeout = %v, want 90s", cfg.Search.Timeout())
	}
}

func TestLoad_EnvOverride(t *testing.T) {
	t.Setenv("AUCTIONINTEL_RESEARCH_CHECKPOINT_EVERY", "3")
	t.Setenv("AUCTIONINTEL_LOG_LEVEL", "debug")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() error: %v", err)
	}
	if cfg.Research.CheckpointEvery != 3 {
		t.Errorf("checkpoint_every = %d, want 3 from env", cfg.Research.CheckpointEvery)
	}
	if cfg.Log.Level != "debug" {
		t.Errorf("log level = %q, want debug from env", cfg.Log.Level)
	}
}

func TestValidate(t *testing.T) {
	cfg := &Config{
		Oracle: OracleConfig{Key: "sk-test"},
		Store:  StoreConfig{Driver: "sqlite", DatabaseURL: "test.db"},
	}
	if err := cfg.Validate(); err != nil {
		t.Errorf("valid config rejected: %v", err)
	}

	cfg.Oracle.Key = ""
	if err := cfg.Validate(); err == nil {
		t.Error("expected error for missing oracle key")
	}

	cfg.Oracle.Key = "sk-test"
	cfg.Store.Driver = "mongodb"
	if err := cfg.Validate(); err == nil {
		t.Error("expected error for unknown driver")
	}

	cfg.Store = StoreConfig{Driver: "postgres"}
	if err := cfg.Validate(); err == nil {
		t.Error("expected error for postgres without database_url")
	}
}
