// Package safety composes the checkpoint, metrics, regression, and
// rollback components into the single safety-gated evolution-step
// operation the workflow coordinator drives.
package safety

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/evoseal/evoseal/pkg/checkpoint"
	"github.com/evoseal/evoseal/pkg/regression"
	"github.com/evoseal/evoseal/pkg/rollback"
)

// Severity penalty weights subtracted from the starting safetyScore
// of 1.0.
var severityPenalty = map[regression.Severity]float64{
	regression.SeverityCritical: 0.5,
	regression.SeverityHigh:     0.25,
	regression.SeverityMedium:   0.1,
	regression.SeverityLow:      0.03,
}

const failedTestPenalty = 0.3
const safetyScoreThreshold = 0.6

// Config mirrors the {autoCheckpoint, autoRollback, safetyChecksEnabled}
// options.
type Config struct {
	AutoCheckpoint      bool
	AutoRollback        bool
	SafetyChecksEnabled bool

	// WorkDir is the working directory rejected versions are rolled
	// back into. Empty means the rollback engine's default (its own
	// work dir, or the safety-predicate fallback).
	WorkDir string
}

// DefaultConfig enables every safety behavior.
func DefaultConfig() Config {
	return Config{AutoCheckpoint: true, AutoRollback: true, SafetyChecksEnabled: true}
}

// Integration wires together C4 (checkpoint), C6 (regression), and
// C7 (rollback) behind the composed safety operations.
type Integration struct {
	Checkpoints *checkpoint.Store
	Regressions *regression.Detector
	Rollbacks   *rollback.Engine
	Config      Config
}

// New constructs an Integration from already-configured components.
func New(checkpoints *checkpoint.Store, regressions *regression.Detector, rollbacks *rollback.Engine, cfg Config) *Integration {
	return &Integration{Checkpoints: checkpoints, Regressions: regressions, Rollbacks: rollbacks, Config: cfg}
}

// TestResult mirrors rollback.TestResult; safety callers pass test
// outcomes through without depending on the rollback package's type.
type TestResult = rollback.TestResult

// CreateSafetyCheckpoint checkpoints versionData under versionID and
// returns its on-disk path. testResults does not affect checkpoint
// creation; it is accepted for callers that want to record it
// alongside the checkpoint via their own metadata.
func (in *Integration) CreateSafetyCheckpoint(versionID string, versionData checkpoint.VersionData, testResults []TestResult) (string, error) {
	return in.Checkpoints.CreateCheckpoint(versionID, "", versionData, false)
}

// SafetyValidation is the result of ValidateVersionSafety.
type SafetyValidation struct {
	IsSafe              bool                       `json:"isSafe"`
	SafetyScore         float64                    `json:"safetyScore"`
	RollbackRecommended bool                       `json:"rollbackRecommended"`
	RegressionDetails   regression.DetectionResult `json:"regressionDetails"`
}

// ValidateVersionSafety computes a composite safety score from the
// regression comparison between oldID and newID plus testResults, and
// decides whether newID is safe to keep.
func (in *Integration) ValidateVersionSafety(oldID, newID string, testResults []TestResult) (SafetyValidation, error) {
	detection, err := in.Regressions.DetectRegression(oldID, newID)
	if err != nil {
		return SafetyValidation{}, fmt.Errorf("safety: detect regression: %w", err)
	}

	score := 1.0
	hasCritical := false
	for _, reg := range detection.Regressions {
		score -= severityPenalty[reg.Severity]
		if reg.Severity == regression.SeverityCritical {
			hasCritical = true
		}
	}

	anyFailed := false
	for _, r := range testResults {
		if r.Status == "fail" {
			anyFailed = true
			break
		}
	}
	if anyFailed {
		score -= failedTestPenalty
	}

	isSafe := score >= safetyScoreThreshold && !hasCritical && !anyFailed

	return SafetyValidation{
		IsSafe:              isSafe,
		SafetyScore:         score,
		RollbackRecommended: !isSafe,
		RegressionDetails:   detection,
	}, nil
}

// StepResult is the output of ExecuteSafeEvolutionStep.
type StepResult struct {
	VersionAccepted   bool             `json:"versionAccepted"`
	CheckpointCreated bool             `json:"checkpointCreated"`
	RollbackPerformed bool             `json:"rollbackPerformed"`
	SafetyValidation  SafetyValidation `json:"safetyValidation"`
	ActionsTaken      []string         `json:"actionsTaken"`
}

// ExecuteSafeEvolutionStep runs the full five-step safety-gated
// evolution step: optionally checkpoint the prior state, apply the
// new state (the caller has already written versionData.Changes to
// disk; this only records the checkpoint), validate safety, accept or
// roll back.
//
// When the prior version has no checkpoint yet, its change-set is
// captured by snapshotting Config.WorkDir so a later rollback to
// oldID restores real content. With no WorkDir configured the prior
// checkpoint is empty; callers that manage their own working tree
// should seed oldID's checkpoint themselves before calling this.
func (in *Integration) ExecuteSafeEvolutionStep(ctx context.Context, oldID string, newVersionData checkpoint.VersionData, newID string, testResults []TestResult) (StepResult, error) {
	var actions []string
	result := StepResult{}

	if in.Config.AutoCheckpoint {
		if _, err := in.Checkpoints.GetMetadata(oldID); err != nil {
			prior := checkpoint.VersionData{Changes: snapshotWorkDir(in.Config.WorkDir)}
			if _, createErr := in.Checkpoints.CreateCheckpoint(oldID, "", prior, false); createErr != nil {
				return result, fmt.Errorf("safety: checkpoint prior state: %w", createErr)
			}
			actions = append(actions, "checkpointed prior state "+oldID)
		}
	}

	validation, err := in.ValidateVersionSafety(oldID, newID, testResults)
	if err != nil {
		return result, err
	}
	result.SafetyValidation = validation
	actions = append(actions, "validated safety")

	if validation.IsSafe {
		if _, err := in.Checkpoints.CreateCheckpoint(newID, oldID, newVersionData, false); err != nil {
			return result, fmt.Errorf("safety: checkpoint accepted version: %w", err)
		}
		result.CheckpointCreated = true
		result.VersionAccepted = true
		actions = append(actions, "accepted and checkpointed "+newID)
	} else if in.Config.AutoRollback {
		ok, rollErr := in.Rollbacks.RollbackToVersion(ctx, oldID, "auto-rollback: safety validation rejected "+newID, in.Config.WorkDir)
		if rollErr != nil {
			actions = append(actions, "rollback attempt failed: "+rollErr.Error())
		} else if ok {
			result.RollbackPerformed = true
			actions = append(actions, "rolled back rejected version "+newID)
		}
	}

	result.ActionsTaken = actions
	return result, nil
}

// snapshotWorkDir captures the current contents of dir as a
// change-set, referencing files in place so the checkpoint store
// copies their bytes at creation time. Returns nil for an empty,
// missing, or unconfigured dir.
func snapshotWorkDir(dir string) []checkpoint.FileChange {
	if dir == "" {
		return nil
	}

	skip := map[string]bool{".git": true, ".evoseal": true}
	var changes []checkpoint.FileChange
	_ = filepath.Walk(dir, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			return nil
		}
		if info.IsDir() {
			if path != dir && skip[info.Name()] {
				return filepath.SkipDir
			}
			return nil
		}
		rel, relErr := filepath.Rel(dir, path)
		if relErr != nil {
			return nil
		}
		changes = append(changes, checkpoint.FileChange{
			RelPath:    filepath.ToSlash(rel),
			SourcePath: path,
		})
		return nil
	})
	return changes
}
