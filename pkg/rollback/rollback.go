// Package rollback implements the restoration-target safety predicate
// and the rollback/recovery operations built on top of the checkpoint
// store.
package rollback

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/evoseal/evoseal/pkg/bus"
	"github.com/evoseal/evoseal/pkg/checkpoint"
)

// ErrUnsafeTarget names the unsafe-target condition. Nothing in this
// package returns it: the safety predicate always falls back to a safe
// directory instead of aborting.
var ErrUnsafeTarget = errors.New("rollback: target directory is unsafe")

// denylist is the set of absolute paths a restoration target must
// never resolve to.
var denylist = map[string]bool{
	"/":     true,
	"/home": true,
	"/usr":  true,
	"/var":  true,
	"/etc":  true,
	"/opt":  true,
}

// ResolveSafeTarget implements the restoration-target safety
// predicate: resolves target to an absolute path and rejects it (by
// substituting the safe fallback) if it is a denylisted system
// directory, the process's current working directory, or any ancestor
// of it.
func ResolveSafeTarget(target string) (resolved string, usedFallback bool, err error) {
	abs, err := filepath.Abs(target)
	if err != nil {
		return "", false, fmt.Errorf("rollback: resolve target: %w", err)
	}
	abs = filepath.Clean(abs)

	cwd, err := os.Getwd()
	if err != nil {
		return "", false, fmt.Errorf("rollback: resolve cwd: %w", err)
	}
	cwd = filepath.Clean(cwd)

	if denylist[abs] || containsPath(abs, cwd) {
		fallback := filepath.Join(cwd, ".evoseal", "rollback_target")
		if err := os.MkdirAll(fallback, 0o755); err != nil {
			return "", false, fmt.Errorf("rollback: create safe fallback: %w", err)
		}
		return fallback, true, nil
	}

	if err := os.MkdirAll(abs, 0o755); err != nil {
		return "", false, fmt.Errorf("rollback: create target: %w", err)
	}
	return abs, false, nil
}

// containsPath reports whether sub equals dir or lives underneath it.
func containsPath(dir, sub string) bool {
	if dir == sub {
		return true
	}
	prefix := dir
	if !strings.HasSuffix(prefix, string(filepath.Separator)) {
		prefix += string(filepath.Separator)
	}
	return strings.HasPrefix(sub, prefix)
}

// RollbackEvent is one appended row in rollback_history.json.
type RollbackEvent struct {
	VersionID       string    `json:"versionId"`
	Reason          string    `json:"reason"`
	TargetDir       string    `json:"targetDir"`
	SafetyValidated bool      `json:"safetyValidated"`
	UsedFallback    bool      `json:"usedFallback"`
	Success         bool      `json:"success"`
	VerificationOK  bool      `json:"verificationOk"`
	Timestamp       time.Time `json:"timestamp"`
	Error           string    `json:"error,omitempty"`
}

// Engine implements rollbackToVersion, autoRollbackOnFailure,
// cascadingRollback, and handleRollbackFailure.
type Engine struct {
	store       *checkpoint.Store
	bus         *bus.Bus
	historyPath string
	workDir     string
	mu          sync.Mutex
	history     []RollbackEvent
}

// Option configures an Engine.
type Option func(*Engine)

// WithBus wires an event bus for rollback event emission.
func WithBus(b *bus.Bus) Option {
	return func(e *Engine) { e.bus = b }
}

// WithHistoryPath sets where rollback_history.json is persisted.
func WithHistoryPath(path string) Option {
	return func(e *Engine) { e.historyPath = path }
}

// WithWorkDir sets the working directory restorations default to when
// a caller does not name one (e.g. auto and cascading rollbacks). An
// empty or unset work dir means the safety predicate's fallback
// directory is used.
func WithWorkDir(dir string) Option {
	return func(e *Engine) { e.workDir = dir }
}

// New constructs an Engine backed by store.
func New(store *checkpoint.Store, opts ...Option) (*Engine, error) {
	e := &Engine{store: store}
	for _, opt := range opts {
		opt(e)
	}
	if e.historyPath != "" {
		if err := e.loadHistory(); err != nil {
			return nil, err
		}
	}
	return e, nil
}

// TestResult is the minimal shape autoRollbackOnFailure inspects.
type TestResult struct {
	Name   string
	Status string // "pass" or "fail"
}

// RollbackToVersion restores versionID into a safety-validated target
// directory, verifies the restoration, and records the event.
func (e *Engine) RollbackToVersion(ctx context.Context, versionID, reason, requestedDir string) (bool, error) {
	event, err := e.rollback(ctx, versionID, reason, requestedDir)
	if err != nil {
		return false, err
	}
	return event.Success, nil
}

// rollback performs the restore and returns the recorded event so
// callers can inspect the post-restoration verification outcome.
func (e *Engine) rollback(ctx context.Context, versionID, reason, requestedDir string) (RollbackEvent, error) {
	if requestedDir == "" {
		requestedDir = e.workDir
	}
	target, usedFallback, err := ResolveSafeTarget(requestedDir)
	if err != nil {
		return RollbackEvent{}, err
	}

	e.emit(bus.NewEvent(bus.EventRollbackInitiated, "rollback", map[string]any{
		"versionId": versionID,
		"reason":    reason,
		"targetDir": target,
	}))

	event := RollbackEvent{
		VersionID:       versionID,
		Reason:          reason,
		TargetDir:       target,
		SafetyValidated: true,
		UsedFallback:    usedFallback,
		Timestamp:       time.Now(),
	}

	_, restoreErr := e.store.RestoreCheckpointWithValidation(versionID, target, checkpoint.RestoreOptions{BackupExisting: true})
	if restoreErr != nil {
		event.Success = false
		event.Error = restoreErr.Error()
		e.appendHistory(event)
		e.emit(bus.NewEvent(bus.EventRollbackFailed, "rollback", map[string]any{
			"versionId": versionID,
			"error":     restoreErr.Error(),
		}))
		return event, restoreErr
	}

	// The pre-restore validation covered the stored checkpoint; this
	// checks that the copy that actually landed in the target matches
	// the checkpoint's metadata.
	ok, verErr := e.store.VerifyRestoredTree(versionID, target)
	event.VerificationOK = ok && verErr == nil

	if !event.VerificationOK {
		e.emit(bus.NewEvent(bus.EventRollbackVerificationFailed, "rollback", map[string]any{
			"versionId": versionID,
		}))
	} else {
		e.emit(bus.NewEvent(bus.EventRollbackVerificationPassed, "rollback", map[string]any{
			"versionId": versionID,
		}))
	}

	event.Success = true
	e.appendHistory(event)
	e.emit(bus.NewEvent(bus.EventRollbackCompleted, "rollback", map[string]any{
		"versionId": versionID,
		"targetDir": target,
	}))
	return event, nil
}

// RegressionChecker is the narrow surface autoRollbackOnFailure needs
// from pkg/regression without importing it directly; neither package
// depends on the other, which keeps the two independently testable.
type RegressionChecker func(oldID, newID string) (hasCritical bool, err error)

// AutoRollbackOnFailure rolls back when any test in testResults failed
// or, if none failed, when checkRegression (called with an empty oldID
// and newID) reports a critical regression. The rollback target is the
// parent of newID (or, absent a parent, the most recent checkpoint
// other than newID).
func (e *Engine) AutoRollbackOnFailure(ctx context.Context, newID string, testResults []TestResult, checkRegression RegressionChecker) (bool, error) {
	failed := false
	for _, r := range testResults {
		if r.Status == "fail" {
			failed = true
			break
		}
	}

	critical := false
	if !failed && checkRegression != nil {
		var err error
		critical, err = checkRegression("", newID)
		if err != nil {
			return false, err
		}
	}

	if !failed && !critical {
		return false, nil
	}

	parentID, err := e.resolveParent(newID)
	if err != nil {
		return false, err
	}

	return e.RollbackToVersion(ctx, parentID, "auto-rollback: failed test or critical regression", "")
}

func (e *Engine) resolveParent(versionID string) (string, error) {
	meta, err := e.store.GetMetadata(versionID)
	if err == nil && meta.ParentID != "" {
		return meta.ParentID, nil
	}

	metas, listErr := e.store.ListCheckpoints()
	if listErr != nil {
		return "", listErr
	}
	for i := len(metas) - 1; i >= 0; i-- {
		if metas[i].VersionID != versionID {
			return metas[i].VersionID, nil
		}
	}
	return "", fmt.Errorf("rollback: no alternate checkpoint available for %s", versionID)
}

// CascadeResult is the output of CascadingRollback.
type CascadeResult struct {
	Success       bool     `json:"success"`
	FinalVersion  string   `json:"finalVersion,omitempty"`
	RollbackChain []string `json:"rollbackChain"`
	Attempts      int      `json:"attempts"`
}

// CascadingRollback rolls back one level at a time (via each
// checkpoint's parentId) until post-restoration verification of the
// target tree succeeds or maxAttempts is reached.
func (e *Engine) CascadingRollback(ctx context.Context, versionID string, maxAttempts int) (CascadeResult, error) {
	e.emit(bus.NewEvent(bus.EventCascadingRollbackStarted, "rollback", map[string]any{
		"versionId": versionID,
	}))

	result := CascadeResult{}
	current := versionID
	for attempt := 0; attempt < maxAttempts; attempt++ {
		parentID, err := e.resolveParent(current)
		if err != nil {
			break
		}
		result.Attempts++
		result.RollbackChain = append(result.RollbackChain, parentID)

		ev, rollErr := e.rollback(ctx, parentID, "cascading rollback", "")
		if rollErr == nil && ev.Success && ev.VerificationOK {
			result.Success = true
			result.FinalVersion = parentID
			break
		}
		current = parentID
	}

	e.emit(bus.NewEvent(bus.EventCascadingRollbackCompleted, "rollback", map[string]any{
		"versionId": versionID,
		"success":   result.Success,
		"attempts":  result.Attempts,
	}))
	return result, nil
}

// RecoveryResult is the output of HandleRollbackFailure.
type RecoveryResult struct {
	Success          bool     `json:"success"`
	RecoveryStrategy string   `json:"recoveryStrategy"`
	RecoveryActions  []string `json:"recoveryActions"`
	FinalVersion     string   `json:"finalVersion,omitempty"`
}

// Recovery strategies, tried in order.
const (
	StrategySiblingCheckpoint = "sibling_checkpoint"
	StrategyEmptySafeDir      = "empty_safe_dir"
	StrategyAbort             = "abort"
)

// HandleRollbackFailure attempts a sequence of recovery strategies
// after versionID's rollback failed attemptCount times.
func (e *Engine) HandleRollbackFailure(ctx context.Context, versionID string, cause error, attemptCount int) RecoveryResult {
	var actions []string

	if sibling, err := e.resolveParent(versionID); err == nil {
		actions = append(actions, "attempted sibling checkpoint "+sibling)
		if ok, rollErr := e.RollbackToVersion(ctx, sibling, "recovery: sibling checkpoint", ""); rollErr == nil && ok {
			return RecoveryResult{
				Success:          true,
				RecoveryStrategy: StrategySiblingCheckpoint,
				RecoveryActions:  actions,
				FinalVersion:     sibling,
			}
		}
		actions = append(actions, "sibling checkpoint restore failed")
	}

	if target, _, err := ResolveSafeTarget(e.workDir); err == nil {
		if clearErr := os.RemoveAll(target); clearErr == nil {
			if mkErr := os.MkdirAll(target, 0o755); mkErr == nil {
				actions = append(actions, "created empty safe directory "+target)
				return RecoveryResult{
					Success:          true,
					RecoveryStrategy: StrategyEmptySafeDir,
					RecoveryActions:  actions,
					FinalVersion:     "",
				}
			}
		}
	}

	actions = append(actions, "all recovery strategies exhausted")
	return RecoveryResult{
		Success:          false,
		RecoveryStrategy: StrategyAbort,
		RecoveryActions:  actions,
	}
}

func (e *Engine) emit(event bus.Event) {
	if e.bus != nil {
		e.bus.Publish(context.Background(), event)
	}
}

func (e *Engine) appendHistory(event RollbackEvent) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.history = append(e.history, event)
	_ = e.persistHistoryLocked()
}

// History returns a copy of the recorded rollback events.
func (e *Engine) History() []RollbackEvent {
	e.mu.Lock()
	defer e.mu.Unlock()
	out := make([]RollbackEvent, len(e.history))
	copy(out, e.history)
	sort.Slice(out, func(i, j int) bool { return out[i].Timestamp.Before(out[j].Timestamp) })
	return out
}

func (e *Engine) loadHistory() error {
	data, err := os.ReadFile(e.historyPath)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("rollback: read history: %w", err)
	}
	if len(data) == 0 {
		return nil
	}
	return json.Unmarshal(data, &e.history)
}

func (e *Engine) persistHistoryLocked() error {
	if e.historyPath == "" {
		return nil
	}
	data, err := json.MarshalIndent(e.history, "", "  ")
	if err != nil {
		return fmt.Errorf("rollback: marshal history: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(e.historyPath), 0o755); err != nil {
		return fmt.Errorf("rollback: mkdir: %w", err)
	}
	tmp, err := os.CreateTemp(filepath.Dir(e.historyPath), ".tmp-*")
	if err != nil {
		return fmt.Errorf("rollback: tempfile: %w", err)
	}
	tmpPath := tmp.Name()
	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		_ = os.Remove(tmpPath)
		return fmt.Errorf("rollback: write: %w", err)
	}
	if err := tmp.Close(); err != nil {
		_ = os.Remove(tmpPath)
		return fmt.Errorf("rollback: close: %w", err)
	}
	return os.Rename(tmpPath, e.historyPath)
}
