// Package workflow implements the fixed evolution-pipeline stage
// machine: validated stage transitions, a bounded retry loop with
// exponential backoff, pause/resume, and atomic state persistence.
package workflow

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math/rand"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/evoseal/evoseal/pkg/bus"
)

// Stage is one named position in the fixed workflow state machine.
type Stage string

// The full ordered stage set. A completed run's recorded stage
// sequence is a prefix of
// [Initializing, (Analyzing, Generating, Adapting, Evaluating, Validating)*, Finalizing].
const (
	StageInitializing Stage = "initializing"
	StageAnalyzing    Stage = "analyzing"
	StageGenerating   Stage = "generating"
	StageAdapting     Stage = "adapting"
	StageEvaluating   Stage = "evaluating"
	StageValidating   Stage = "validating"
	StageFinalizing   Stage = "finalizing"
	StageCompleted    Stage = "completed"
	StagePaused       Stage = "paused"
	StageFailed       Stage = "failed"
)

// iterationStages is the per-iteration cycle, repeated `iterations`
// times between initializing and finalizing.
var iterationStages = []Stage{
	StageAnalyzing, StageGenerating, StageAdapting, StageEvaluating, StageValidating,
}

// validTransitions enumerates the only stage transitions the
// coordinator will accept.
var validTransitions = map[Stage][]Stage{
	StageInitializing: {StageAnalyzing, StageFinalizing, StageFailed, StagePaused},
	StageAnalyzing:    {StageGenerating, StageFailed, StagePaused},
	StageGenerating:   {StageAdapting, StageFailed, StagePaused},
	StageAdapting:     {StageEvaluating, StageFailed, StagePaused},
	StageEvaluating:   {StageValidating, StageFailed, StagePaused},
	StageValidating:   {StageAnalyzing, StageFinalizing, StageFailed, StagePaused},
	StageFinalizing:   {StageCompleted, StageFailed},
	StagePaused:       {StageInitializing, StageAnalyzing, StageGenerating, StageAdapting, StageEvaluating, StageValidating, StageFinalizing},
}

func isValidTransition(from, to Stage) bool {
	if from == to {
		// Re-entering the current stage is a retry, always legal.
		return true
	}
	for _, allowed := range validTransitions[from] {
		if allowed == to {
			return true
		}
	}
	return false
}

// significantStages are the stages whose success leaves a repo
// artifact worth committing: adapting (the candidate change has been
// applied to the working tree) and finalizing (the run's last state).
var significantStages = map[Stage]bool{
	StageAdapting:   true,
	StageFinalizing: true,
}

// ConflictError represents a semantic merge conflict surfaced by a
// RepoCollaborator, retriable unless explicitly marked unrecoverable.
type ConflictError struct {
	Stage         Stage
	Unrecoverable bool
	Err           error
}

func (e *ConflictError) Error() string {
	return fmt.Sprintf("workflow: conflict at stage %s: %v", e.Stage, e.Err)
}

func (e *ConflictError) Unwrap() error { return e.Err }

// GitCommandError wraps a failing repo-collaborator command.
type GitCommandError struct {
	Command string
	Err     error
}

func (e *GitCommandError) Error() string {
	return fmt.Sprintf("workflow: git command %q failed: %v", e.Command, e.Err)
}

func (e *GitCommandError) Unwrap() error { return e.Err }

// ErrTransport marks an error as a retriable transport/timeout
// failure (distinct from a semantic conflict).
var ErrTransport = errors.New("workflow: transport or timeout failure")

// RepoCollaborator is the narrow git-adjacent surface the coordinator
// depends on without implementing; actual repository operations are
// out of scope for this module and are supplied by the embedding
// application.
type RepoCollaborator interface {
	PrepareBranch(ctx context.Context, repositoryURL string, timestamp time.Time) error
	Commit(ctx context.Context, message string) error
	AbortMerge(ctx context.Context) error
	CreateRecoveryBranch(ctx context.Context, reason string) (string, error)
}

// StageFunc executes one stage's work and returns an arbitrary result
// to be stored in StageResults, or an error (possibly *ConflictError
// or wrapping ErrTransport) indicating how the coordinator should
// react.
type StageFunc func(ctx context.Context, state *State) (any, error)

// Validator reports whether the iteration loop should continue past
// the current iteration.
type Validator func(state *State) (shouldContinue bool)

// State is the coordinator's persisted position, serialized verbatim
// to workflowState.json.
type State struct {
	WorkflowState string         `json:"state"`
	CurrentStage  Stage          `json:"currentStage"`
	StageResults  map[string]any `json:"stageResults"`
	RetryCount    int            `json:"retryCount"`
	ConfigPath    string         `json:"configPath"`
	WorkDir       string         `json:"workDir"`
	Iteration     int            `json:"iteration"`
}

// Coordinator runs the evolution pipeline's stage state machine.
type Coordinator struct {
	mu               sync.Mutex
	state            State
	statePath        string
	maxStageAttempts int
	retryBaseDelay   time.Duration
	retryMaxDelay    time.Duration
	repo             RepoCollaborator
	stageFns         map[Stage]StageFunc
	eventBus         *bus.Bus
	rng              *rand.Rand
	pauseRequested   bool
}

// Option configures a Coordinator.
type Option func(*Coordinator)

// WithMaxStageAttempts overrides the default of 3.
func WithMaxStageAttempts(n int) Option {
	return func(c *Coordinator) { c.maxStageAttempts = n }
}

// WithRetryDelays overrides the default backoff bounds (1s base, 300s
// cap).
func WithRetryDelays(base, max time.Duration) Option {
	return func(c *Coordinator) { c.retryBaseDelay = base; c.retryMaxDelay = max }
}

// WithStatePath sets where workflowState.json is persisted.
func WithStatePath(path string) Option {
	return func(c *Coordinator) { c.statePath = path }
}

// WithRepoCollaborator wires the git-adjacent dependency.
func WithRepoCollaborator(repo RepoCollaborator) Option {
	return func(c *Coordinator) { c.repo = repo }
}

// WithBus wires an event bus for workflow and stage event emission.
func WithBus(b *bus.Bus) Option {
	return func(c *Coordinator) { c.eventBus = b }
}

// WithStageFunc registers the function executed when the coordinator
// enters stage.
func WithStageFunc(stage Stage, fn StageFunc) Option {
	return func(c *Coordinator) { c.stageFns[stage] = fn }
}

// New constructs a Coordinator. If statePath names an existing file,
// its contents are loaded to resume prior position.
func New(opts ...Option) (*Coordinator, error) {
	c := &Coordinator{
		maxStageAttempts: 3,
		retryBaseDelay:   time.Second,
		retryMaxDelay:    300 * time.Second,
		stageFns:         make(map[Stage]StageFunc),
		rng:              rand.New(rand.NewSource(1)),
		state:            State{StageResults: make(map[string]any)},
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.statePath != "" {
		if err := c.loadState(); err != nil {
			return nil, err
		}
	}
	return c, nil
}

// RequestPause sets a flag checked between stages (not between retry
// attempts of one stage). In-flight
// adapter calls are allowed to complete or time out; remote jobs are
// never hard-cancelled, the client just stops polling.
func (c *Coordinator) RequestPause() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.pauseRequested = true
}

// State returns a copy of the coordinator's current position.
func (c *Coordinator) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.copyStateLocked()
}

func (c *Coordinator) copyStateLocked() State {
	results := make(map[string]any, len(c.state.StageResults))
	for k, v := range c.state.StageResults {
		results[k] = v
	}
	s := c.state
	s.StageResults = results
	return s
}

// RunWorkflow executes the full lifecycle: prepare repo, loop
// iterations of the analyzing..validating cycle, finalize.
func (c *Coordinator) RunWorkflow(ctx context.Context, repositoryURL string, iterations int, resume bool, validate Validator) error {
	if !resume {
		c.resetState()
	}

	c.emit(bus.EventWorkflowStarted, map[string]any{
		"repositoryUrl": repositoryURL,
		"iterations":    iterations,
		"resume":        resume,
	})

	if c.state.CurrentStage == "" || c.state.CurrentStage == StageInitializing {
		if err := c.runStage(ctx, StageInitializing, func(ctx context.Context, state *State) (any, error) {
			if c.repo != nil {
				if err := c.repo.PrepareBranch(ctx, repositoryURL, time.Now()); err != nil {
					return nil, err
				}
			}
			return nil, nil
		}); err != nil {
			return err
		}
	}

	for c.state.Iteration < iterations {
		if c.checkPause() {
			return nil
		}

		for _, stage := range iterationStages {
			if err := c.runStage(ctx, stage, c.stageFns[stage]); err != nil {
				return err
			}
			if c.checkPause() {
				return nil
			}
		}

		c.mu.Lock()
		c.state.Iteration++
		c.mu.Unlock()
		_ = c.persistState()

		if validate != nil && !validate(&c.state) {
			break
		}
	}

	if err := c.runStage(ctx, StageFinalizing, c.stageFns[StageFinalizing]); err != nil {
		return err
	}

	c.mu.Lock()
	c.state.WorkflowState = string(StageCompleted)
	c.mu.Unlock()
	c.emit(bus.EventWorkflowCompleted, map[string]any{"iterations": c.State().Iteration})
	return c.persistState()
}

func (c *Coordinator) checkPause() bool {
	c.mu.Lock()
	if !c.pauseRequested {
		c.mu.Unlock()
		return false
	}
	c.state.WorkflowState = string(StagePaused)
	c.pauseRequested = false
	_ = c.persistStateLocked()
	stage := c.state.CurrentStage
	c.mu.Unlock()

	c.emit(bus.EventWorkflowPaused, map[string]any{"stage": string(stage)})
	return true
}

// runStage validates the transition, then attempts the stage function
// up to maxStageAttempts times with backoff on transport errors and
// merge-conflict handling via the repo collaborator.
func (c *Coordinator) runStage(ctx context.Context, stage Stage, fn StageFunc) error {
	c.mu.Lock()
	from := c.state.CurrentStage
	if from != "" && !isValidTransition(from, stage) {
		c.mu.Unlock()
		return fmt.Errorf("workflow: invalid transition %s -> %s", from, stage)
	}
	c.state.CurrentStage = stage
	c.mu.Unlock()
	_ = c.persistState()
	c.emit(bus.EventStageStarted, map[string]any{"stage": string(stage)})

	if fn == nil {
		c.emit(bus.EventStageCompleted, map[string]any{"stage": string(stage)})
		return nil
	}

	for attempt := 0; attempt < c.maxStageAttempts; attempt++ {
		result, err := fn(ctx, &c.state)
		if err == nil {
			c.mu.Lock()
			c.state.StageResults[string(stage)] = result
			c.state.RetryCount = 0
			c.mu.Unlock()
			_ = c.persistState()
			if c.repo != nil && significantStages[stage] {
				_ = c.repo.Commit(ctx, "evolve: "+string(stage)+" complete")
			}
			c.emit(bus.EventStageCompleted, map[string]any{"stage": string(stage)})
			return nil
		}

		var conflict *ConflictError
		if errors.As(err, &conflict) {
			if c.repo != nil {
				_ = c.repo.AbortMerge(ctx)
			}
			if conflict.Unrecoverable {
				return c.fail(ctx, fmt.Errorf("workflow: unrecoverable conflict: %w", err))
			}
			// retriable: fall through to backoff below
		} else if !errors.Is(err, ErrTransport) {
			return c.fail(ctx, err)
		}

		c.mu.Lock()
		c.state.RetryCount++
		retryCount := c.state.RetryCount
		c.mu.Unlock()
		_ = c.persistState()

		if attempt == c.maxStageAttempts-1 {
			return c.fail(ctx, fmt.Errorf("workflow: stage %s exhausted %d attempts: %w", stage, retryCount, err))
		}

		delay := computeBackoff(attempt, c.retryBaseDelay, c.retryMaxDelay, c.rng)
		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return nil
}

func (c *Coordinator) fail(ctx context.Context, cause error) error {
	if c.repo != nil {
		_, _ = c.repo.CreateRecoveryBranch(ctx, cause.Error())
	}
	c.mu.Lock()
	stage := c.state.CurrentStage
	c.state.WorkflowState = string(StageFailed)
	c.mu.Unlock()
	_ = c.persistState()
	c.emit(bus.EventStageFailed, map[string]any{"stage": string(stage), "error": cause.Error()})
	c.emit(bus.EventWorkflowFailed, map[string]any{"error": cause.Error()})
	return cause
}

func (c *Coordinator) emit(eventType string, payload map[string]any) {
	if c.eventBus == nil {
		return
	}
	c.eventBus.Publish(context.Background(), bus.NewEvent(eventType, "workflow", payload))
}

// computeBackoff implements delay = min(base * 2^attempt, maxDelay) +
// jitter(0, base).
func computeBackoff(attempt int, base, maxDelay time.Duration, rng *rand.Rand) time.Duration {
	exponential := base * (1 << attempt)
	if exponential > maxDelay {
		exponential = maxDelay
	}
	var jitter time.Duration
	if rng != nil && base > 0 {
		jitter = time.Duration(rng.Int63n(int64(base)))
	}
	return exponential + jitter
}

func (c *Coordinator) resetState() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.state = State{StageResults: make(map[string]any)}
}

func (c *Coordinator) persistState() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.persistStateLocked()
}

func (c *Coordinator) persistStateLocked() error {
	if c.statePath == "" {
		return nil
	}
	data, err := json.MarshalIndent(c.state, "", "  ")
	if err != nil {
		return fmt.Errorf("workflow: marshal state: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(c.statePath), 0o755); err != nil {
		return fmt.Errorf("workflow: mkdir: %w", err)
	}
	tmp, err := os.CreateTemp(filepath.Dir(c.statePath), ".tmp-*")
	if err != nil {
		return fmt.Errorf("workflow: tempfile: %w", err)
	}
	tmpPath := tmp.Name()
	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		_ = os.Remove(tmpPath)
		return fmt.Errorf("workflow: write: %w", err)
	}
	if err := tmp.Close(); err != nil {
		_ = os.Remove(tmpPath)
		return fmt.Errorf("workflow: close: %w", err)
	}
	return os.Rename(tmpPath, c.statePath)
}

func (c *Coordinator) loadState() error {
	data, err := os.ReadFile(c.statePath)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("workflow: read state: %w", err)
	}
	if len(data) == 0 {
		return nil
	}
	var state State
	if err := json.Unmarshal(data, &state); err != nil {
		return fmt.Errorf("workflow: parse state: %w", err)
	}
	if state.StageResults == nil {
		state.StageResults = make(map[string]any)
	}
	c.state = state
	return nil
}
