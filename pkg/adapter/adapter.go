// Package adapter defines the uniform lifecycle and request/response
// contract that every external generation worker (DGM, OpenEvolve,
// SEAL) is exposed through, so the orchestrator never needs to know
// which concrete worker it is talking to.
package adapter

import (
	"context"
	"sync"
	"time"
)

// ComponentType is the closed set of recognized external worker kinds.
type ComponentType string

// Recognized component types.
const (
	TypeDGM        ComponentType = "dgm"
	TypeOpenEvolve ComponentType = "openevolve"
	TypeSEAL       ComponentType = "seal"
)

// Operation is a tagged operation name, scoped to a ComponentType. Go
// has no sum types, so the "dynamic dispatch over operation name"
// contract from the source is re-expressed here as named string
// constants plus an explicit OpUnsupported sentinel value rather than
// free-form strings, per the tagged-sum redesign.
type Operation string

// Recognized operations, grouped by the ComponentType that supports
// them.
const (
	OpAdvanceGeneration Operation = "advance_generation"
	OpUpdateArchive     Operation = "update_archive"
	OpEvolve            Operation = "evolve"
	OpSubmitPrompt      Operation = "submit_prompt"
	OpAnalyzeCode       Operation = "analyze_code"

	// OpUnsupported is never sent by a caller, and no adapter in this
	// module returns it: Execute reports an Operation with no handler
	// through Unsupported, whose result carries only an error string.
	OpUnsupported Operation = "unsupported"
)

// State is the lifecycle state of a ComponentStatus.
type State string

// Recognized component lifecycle states.
const (
	StateUninitialized State = "uninitialized"
	StateInitializing  State = "initializing"
	StateReady         State = "ready"
	StateStarting      State = "starting"
	StateRunning       State = "running"
	StateStopping      State = "stopping"
	StateStopped       State = "stopped"
	StateFailed        State = "failed"
)

// ComponentStatus is the lifecycle snapshot the Orchestrator keeps one
// of per registered component.
type ComponentStatus struct {
	State       State
	Message     string
	LastUpdated time.Time
	Error       error
}

// ComponentResult is the outcome of a single Execute call. Adapters
// never return a Go error from Execute: transport, protocol, and
// unknown-operation failures are all reported through Success/Error
// so the orchestrator has one uniform failure shape to retry or
// surface, matching "adapters never raise" in the error design.
type ComponentResult struct {
	Success       bool
	Data          any
	Error         string
	ExecutionTime time.Duration
	Metadata      map[string]any
}

// ExecuteOptions carries per-call overrides (currently just a
// deadline independent of ctx, useful when a caller wants a shorter
// budget than the ambient context without cancelling callers sharing
// that context).
type ExecuteOptions struct {
	Timeout time.Duration
}

// Adapter is the uniform contract every external worker satisfies.
type Adapter interface {
	// Initialize is idempotent: calling it again after success is a
	// cheap no-op; calling it again after failure retries.
	Initialize(ctx context.Context) (bool, error)

	// Start and Stop must be safe to call repeatedly.
	Start(ctx context.Context) (bool, error)
	Stop(ctx context.Context) (bool, error)

	// Execute is the sole I/O entry point for driving the component.
	Execute(ctx context.Context, op Operation, data any, opts *ExecuteOptions) ComponentResult

	Metrics() map[string]any
	Status() ComponentStatus
}

// Base implements the lifecycle state machine (including the "never
// failed -> running without going through initializing" invariant)
// so concrete adapters only need to implement their I/O. Embed Base
// and call its transition helpers instead of tracking state by hand.
type Base struct {
	mu       sync.Mutex
	status   ComponentStatus
	metrics  map[string]any
	initOnce func(ctx context.Context) error
	startFn  func(ctx context.Context) error
	stopFn   func(ctx context.Context) error
}

// NewBase constructs a Base wired to the three lifecycle callbacks a
// concrete adapter provides. Any of them may be nil, meaning that
// step is a no-op that always succeeds.
func NewBase(initFn, startFn, stopFn func(ctx context.Context) error) *Base {
	return &Base{
		status:   ComponentStatus{State: StateUninitialized, LastUpdated: time.Now()},
		metrics:  map[string]any{},
		initOnce: initFn,
		startFn:  startFn,
		stopFn:   stopFn,
	}
}

func (b *Base) setState(s State, err error) {
	b.status.State = s
	b.status.LastUpdated = time.Now()
	b.status.Error = err
	if err != nil {
		b.status.Message = err.Error()
	}
}

// Initialize runs the adapter's init callback, transitioning
// uninitialized/failed -> initializing -> ready, or -> failed on
// error. Calling Initialize again after success is a no-op that
// returns true immediately (idempotent).
func (b *Base) Initialize(ctx context.Context) (bool, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.status.State == StateReady || b.status.State == StateRunning {
		return true, nil
	}

	b.setState(StateInitializing, nil)
	if b.initOnce != nil {
		if err := b.initOnce(ctx); err != nil {
			b.setState(StateFailed, err)
			return false, nil
		}
	}
	b.setState(StateReady, nil)
	return true, nil
}

// Start transitions ready/stopped -> starting -> running. A failed
// component must be re-Initialized first; Start on a failed component
// returns false without attempting the transition, preserving the
// invariant that failed never reaches running except through
// initializing.
func (b *Base) Start(ctx context.Context) (bool, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.status.State == StateFailed || b.status.State == StateUninitialized {
		return false, nil
	}
	if b.status.State == StateRunning {
		return true, nil
	}

	b.setState(StateStarting, nil)
	if b.startFn != nil {
		if err := b.startFn(ctx); err != nil {
			b.setState(StateFailed, err)
			return false, nil
		}
	}
	b.setState(StateRunning, nil)
	return true, nil
}

// Stop transitions running -> stopping -> stopped. Safe to call on an
// already-stopped or never-started component.
func (b *Base) Stop(ctx context.Context) (bool, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.status.State == StateStopped || b.status.State == StateUninitialized {
		return true, nil
	}

	b.setState(StateStopping, nil)
	if b.stopFn != nil {
		if err := b.stopFn(ctx); err != nil {
			b.setState(StateFailed, err)
			return false, nil
		}
	}
	b.setState(StateStopped, nil)
	return true, nil
}

// Status returns the current lifecycle snapshot.
func (b *Base) Status() ComponentStatus {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.status
}

// SetMetric records a metric value retrievable via Metrics.
func (b *Base) SetMetric(key string, value any) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.metrics[key] = value
}

// Metrics returns a shallow copy of the recorded metric values.
func (b *Base) Metrics() map[string]any {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make(map[string]any, len(b.metrics))
	for k, v := range b.metrics {
		out[k] = v
	}
	return out
}

// Unsupported builds the ComponentResult reported for an operation an
// adapter does not implement.
func Unsupported(op Operation) ComponentResult {
	return ComponentResult{
		Success: false,
		Error:   "Unknown operation: " + string(op),
	}
}
