package safety

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/evoseal/evoseal/pkg/checkpoint"
	"github.com/evoseal/evoseal/pkg/metricsstore"
	"github.com/evoseal/evoseal/pkg/regression"
	"github.com/evoseal/evoseal/pkg/rollback"
)

func newTestIntegration(t *testing.T) (*Integration, *metricsstore.Store) {
	t.Helper()
	cpStore, err := checkpoint.New(t.TempDir())
	if err != nil {
		t.Fatalf("checkpoint.New: %v", err)
	}
	metrics, err := metricsstore.Open("")
	if err != nil {
		t.Fatalf("metricsstore.Open: %v", err)
	}
	detector, err := regression.New(metrics)
	if err != nil {
		t.Fatalf("regression.New: %v", err)
	}
	rollbackEngine, err := rollback.New(cpStore)
	if err != nil {
		t.Fatalf("rollback.New: %v", err)
	}
	cfg := DefaultConfig()
	cfg.WorkDir = filepath.Join(t.TempDir(), "work")
	return New(cpStore, detector, rollbackEngine, cfg), metrics
}

func TestValidateVersionSafetyAcceptsCleanVersion(t *testing.T) {
	in, metrics := newTestIntegration(t)
	_ = metrics.Append(metricsstore.MetricsRun{ID: "v1", Metrics: map[string]float64{"successRate": 0.95}})
	_ = metrics.Append(metricsstore.MetricsRun{ID: "v2", Metrics: map[string]float64{"successRate": 0.96}})

	validation, err := in.ValidateVersionSafety("v1", "v2", nil)
	if err != nil {
		t.Fatalf("ValidateVersionSafety: %v", err)
	}
	if !validation.IsSafe || validation.SafetyScore != 1.0 {
		t.Fatalf("expected safe version with full score, got %+v", validation)
	}
}

func TestValidateVersionSafetyRejectsCriticalRegression(t *testing.T) {
	in, metrics := newTestIntegration(t)
	_ = metrics.Append(metricsstore.MetricsRun{ID: "v1", Metrics: map[string]float64{"successRate": 0.95}})
	_ = metrics.Append(metricsstore.MetricsRun{ID: "v2", Metrics: map[string]float64{"successRate": 0.70}})

	validation, err := in.ValidateVersionSafety("v1", "v2", nil)
	if err != nil {
		t.Fatalf("ValidateVersionSafety: %v", err)
	}
	if validation.IsSafe {
		t.Fatalf("expected unsafe version due to critical regression, got %+v", validation)
	}
	if validation.SafetyScore != 0.5 {
		t.Fatalf("expected score 0.5 after critical penalty, got %v", validation.SafetyScore)
	}
}

func TestValidateVersionSafetyRejectsFailedTest(t *testing.T) {
	in, metrics := newTestIntegration(t)
	_ = metrics.Append(metricsstore.MetricsRun{ID: "v1", Metrics: map[string]float64{"successRate": 0.95}})
	_ = metrics.Append(metricsstore.MetricsRun{ID: "v2", Metrics: map[string]float64{"successRate": 0.95}})

	validation, err := in.ValidateVersionSafety("v1", "v2", []TestResult{{Name: "unit", Status: "fail"}})
	if err != nil {
		t.Fatalf("ValidateVersionSafety: %v", err)
	}
	if validation.IsSafe {
		t.Fatalf("expected unsafe version due to failed test")
	}
	if validation.SafetyScore != 0.7 {
		t.Fatalf("expected score 0.7 after failed-test penalty, got %v", validation.SafetyScore)
	}
}

func TestExecuteSafeEvolutionStepAcceptsAndCheckpoints(t *testing.T) {
	in, metrics := newTestIntegration(t)
	if _, err := in.Checkpoints.CreateCheckpoint("v1", "", checkpoint.VersionData{
		Changes: []checkpoint.FileChange{{RelPath: "f.txt", Content: []byte("base")}},
	}, false); err != nil {
		t.Fatalf("seed checkpoint: %v", err)
	}
	_ = metrics.Append(metricsstore.MetricsRun{ID: "v1", Metrics: map[string]float64{"successRate": 0.95}})
	_ = metrics.Append(metricsstore.MetricsRun{ID: "v2", Metrics: map[string]float64{"successRate": 0.96}})

	result, err := in.ExecuteSafeEvolutionStep(context.Background(), "v1",
		checkpoint.VersionData{Changes: []checkpoint.FileChange{{RelPath: "f.txt", Content: []byte("next")}}},
		"v2", nil)
	if err != nil {
		t.Fatalf("ExecuteSafeEvolutionStep: %v", err)
	}
	if !result.VersionAccepted || !result.CheckpointCreated || result.RollbackPerformed {
		t.Fatalf("unexpected step result: %+v", result)
	}

	if _, err := in.Checkpoints.GetMetadata("v2"); err != nil {
		t.Fatalf("expected v2 checkpoint to exist: %v", err)
	}
}

func TestExecuteSafeEvolutionStepSnapshotsPriorStateFromWorkDir(t *testing.T) {
	in, metrics := newTestIntegration(t)

	// Work dir has real content, but v1 has never been checkpointed.
	if err := os.MkdirAll(in.Config.WorkDir, 0o755); err != nil {
		t.Fatalf("mkdir work dir: %v", err)
	}
	if err := os.WriteFile(filepath.Join(in.Config.WorkDir, "f.txt"), []byte("current"), 0o644); err != nil {
		t.Fatalf("seed work dir: %v", err)
	}
	_ = metrics.Append(metricsstore.MetricsRun{ID: "v1", Metrics: map[string]float64{"successRate": 0.95}})
	_ = metrics.Append(metricsstore.MetricsRun{ID: "v2", Metrics: map[string]float64{"successRate": 0.96}})

	if _, err := in.ExecuteSafeEvolutionStep(context.Background(), "v1",
		checkpoint.VersionData{Changes: []checkpoint.FileChange{{RelPath: "f.txt", Content: []byte("next")}}},
		"v2", nil); err != nil {
		t.Fatalf("ExecuteSafeEvolutionStep: %v", err)
	}

	meta, err := in.Checkpoints.GetMetadata("v1")
	if err != nil {
		t.Fatalf("expected auto-created v1 checkpoint: %v", err)
	}
	if meta.FileCount != 1 {
		t.Fatalf("expected prior checkpoint to capture the work dir contents, got %d files", meta.FileCount)
	}

	restored, err := in.Checkpoints.RestoreCheckpoint("v1", filepath.Join(t.TempDir(), "out"), checkpoint.RestoreOptions{})
	if err != nil || restored.FileCount != 1 {
		t.Fatalf("prior checkpoint must restore the captured content: %v %+v", err, restored)
	}
}

func TestExecuteSafeEvolutionStepRollsBackOnRejection(t *testing.T) {
	in, metrics := newTestIntegration(t)
	if _, err := in.Checkpoints.CreateCheckpoint("v1", "", checkpoint.VersionData{
		Changes: []checkpoint.FileChange{{RelPath: "f.txt", Content: []byte("base")}},
	}, false); err != nil {
		t.Fatalf("seed checkpoint: %v", err)
	}
	_ = metrics.Append(metricsstore.MetricsRun{ID: "v1", Metrics: map[string]float64{"successRate": 0.95}})
	_ = metrics.Append(metricsstore.MetricsRun{ID: "v2", Metrics: map[string]float64{"successRate": 0.60}})

	result, err := in.ExecuteSafeEvolutionStep(context.Background(), "v1",
		checkpoint.VersionData{Changes: []checkpoint.FileChange{{RelPath: "f.txt", Content: []byte("broken")}}},
		"v2", nil)
	if err != nil {
		t.Fatalf("ExecuteSafeEvolutionStep: %v", err)
	}
	if result.VersionAccepted || result.CheckpointCreated {
		t.Fatalf("expected rejection, got %+v", result)
	}
	if !result.RollbackPerformed {
		t.Fatalf("expected rollback to be performed, got %+v", result)
	}
}
