package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestLoadAppliesDefaultsForOmittedFields(t *testing.T) {
	path := filepath.Join(t.TempDir(), "evoseal.yaml")
	if err := os.WriteFile(path, []byte("checkpointDirectory: /tmp/evoseal-checkpoints\n"), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.MaxCheckpoints != 100 {
		t.Fatalf("expected default MaxCheckpoints 100, got %d", cfg.MaxCheckpoints)
	}
	if !cfg.AutoCheckpoint || !cfg.AutoRollback || !cfg.SafetyChecksEnabled {
		t.Fatalf("expected safety defaults all true, got %+v", cfg)
	}
	if cfg.MaxRollbackAttempts != 3 {
		t.Fatalf("expected default MaxRollbackAttempts 3, got %d", cfg.MaxRollbackAttempts)
	}
}

func TestLoadParsesFullDocument(t *testing.T) {
	doc := `
checkpointDirectory: /var/lib/evoseal/checkpoints
maxCheckpoints: 25
autoCleanup: false
compression: gzip
regressionThreshold: 0.08
metricThresholds:
  accuracy:
    regression: 0.05
    critical: 0.15
autoCheckpoint: false
autoRollback: true
safetyChecksEnabled: true
maxRollbackAttempts: 5
enableCascadingRollback: true
enableRollbackFailureRecovery: true
adapters:
  dgm:
    baseUrl: http://localhost:9001
    requestTimeout: 30s
    pollInterval: 2s
`
	path := filepath.Join(t.TempDir(), "evoseal.yaml")
	if err := os.WriteFile(path, []byte(doc), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.MaxCheckpoints != 25 || cfg.AutoCleanup {
		t.Fatalf("unexpected parsed values: %+v", cfg)
	}
	if cfg.MetricThresholds["accuracy"].Critical != 0.15 {
		t.Fatalf("expected accuracy critical threshold 0.15, got %+v", cfg.MetricThresholds["accuracy"])
	}
	dgm, ok := cfg.Adapters["dgm"]
	if !ok {
		t.Fatalf("expected dgm adapter block")
	}
	if dgm.RequestTimeout != 30*time.Second || dgm.PollInterval != 2*time.Second {
		t.Fatalf("unexpected adapter timing: %+v", dgm)
	}
}

func TestLoadMissingFileStillAppliesOptions(t *testing.T) {
	path := filepath.Join(t.TempDir(), "does-not-exist.yaml")

	cfg, err := Load(path, WithCheckpointDirectory("/tmp/evoseal"))
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.CheckpointDirectory != "/tmp/evoseal" {
		t.Fatalf("expected option-applied directory, got %q", cfg.CheckpointDirectory)
	}
}

func TestLoadRequiresCheckpointDirectory(t *testing.T) {
	path := filepath.Join(t.TempDir(), "does-not-exist.yaml")

	if _, err := Load(path); err == nil {
		t.Fatalf("expected error when checkpointDirectory is never set")
	}
}

func TestWithAdapterOverridesRemoteBlock(t *testing.T) {
	path := filepath.Join(t.TempDir(), "does-not-exist.yaml")

	cfg, err := Load(path,
		WithCheckpointDirectory("/tmp/evoseal"),
		WithAdapter("seal", RemoteConfig{BaseURL: "http://localhost:9003", RequestTimeout: 5 * time.Second}),
	)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Adapters["seal"].BaseURL != "http://localhost:9003" {
		t.Fatalf("expected adapter override applied, got %+v", cfg.Adapters["seal"])
	}
}
