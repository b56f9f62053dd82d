// Package orchestrator implements the component registry and
// cross-adapter coordination: fan-out lifecycle management, status
// aggregation, and the strict DGM -> OpenEvolve -> DGM evolution
// workflow sequence.
package orchestrator

import (
	"context"
	"fmt"
	"sync"

	"github.com/evoseal/evoseal/pkg/adapter"
	"github.com/evoseal/evoseal/pkg/adapter/dgm"
	"github.com/evoseal/evoseal/pkg/adapter/openevolve"
	"github.com/evoseal/evoseal/pkg/config"
)

// Orchestrator holds the live set of component adapters keyed by
// their ComponentType.
type Orchestrator struct {
	mu       sync.RWMutex
	adapters map[adapter.ComponentType]adapter.Adapter
}

// New constructs an empty Orchestrator.
func New() *Orchestrator {
	return &Orchestrator{adapters: make(map[adapter.ComponentType]adapter.Adapter)}
}

// NewFromConfig constructs an Orchestrator with the remote adapters
// named in cfg.Adapters already registered. A SEAL adapter cannot be
// built from a remote block alone (it needs a seal.Provider); callers
// register one via Register.
func NewFromConfig(cfg config.Config) *Orchestrator {
	o := New()
	if rc, ok := cfg.Adapters["dgm"]; ok {
		o.Register(adapter.TypeDGM, dgm.New(remoteConfig(rc)))
	}
	if rc, ok := cfg.Adapters["openevolve"]; ok {
		o.Register(adapter.TypeOpenEvolve, openevolve.New(remoteConfig(rc)))
	}
	return o
}

func remoteConfig(rc config.RemoteConfig) adapter.RemoteConfig {
	return adapter.RemoteConfig{
		BaseURL:        rc.BaseURL,
		AuthToken:      rc.AuthToken,
		RequestTimeout: rc.RequestTimeout,
		PollInterval:   rc.PollInterval,
	}
}

// Register adds or replaces the adapter for typ.
func (o *Orchestrator) Register(typ adapter.ComponentType, a adapter.Adapter) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.adapters[typ] = a
}

func (o *Orchestrator) get(typ adapter.ComponentType) (adapter.Adapter, error) {
	o.mu.RLock()
	defer o.mu.RUnlock()
	a, ok := o.adapters[typ]
	if !ok {
		return nil, fmt.Errorf("orchestrator: no adapter registered for %s", typ)
	}
	return a, nil
}

// InitializeAll initializes every registered adapter concurrently and
// returns the first error encountered, if any, after all have
// finished (fan-out with full drain, not fail-fast, so partial
// initialization never leaves the set in an unknown state).
func (o *Orchestrator) InitializeAll(ctx context.Context) error {
	return o.fanOut(func(a adapter.Adapter) error {
		_, err := a.Initialize(ctx)
		return err
	})
}

// StartAll starts every registered adapter concurrently.
func (o *Orchestrator) StartAll(ctx context.Context) error {
	return o.fanOut(func(a adapter.Adapter) error {
		_, err := a.Start(ctx)
		return err
	})
}

// StopAll stops every registered adapter concurrently.
func (o *Orchestrator) StopAll(ctx context.Context) error {
	return o.fanOut(func(a adapter.Adapter) error {
		_, err := a.Stop(ctx)
		return err
	})
}

func (o *Orchestrator) fanOut(fn func(adapter.Adapter) error) error {
	o.mu.RLock()
	adapters := make(map[adapter.ComponentType]adapter.Adapter, len(o.adapters))
	for k, v := range o.adapters {
		adapters[k] = v
	}
	o.mu.RUnlock()

	var wg sync.WaitGroup
	errs := make(chan error, len(adapters))
	for _, a := range adapters {
		wg.Add(1)
		go func(a adapter.Adapter) {
			defer wg.Done()
			if err := fn(a); err != nil {
				errs <- err
			}
		}(a)
	}
	wg.Wait()
	close(errs)

	var first error
	for err := range errs {
		if first == nil {
			first = err
		}
	}
	return first
}

// GetAllStatus returns every registered adapter's status snapshot.
func (o *Orchestrator) GetAllStatus() map[adapter.ComponentType]adapter.ComponentStatus {
	o.mu.RLock()
	defer o.mu.RUnlock()
	out := make(map[adapter.ComponentType]adapter.ComponentStatus, len(o.adapters))
	for typ, a := range o.adapters {
		out[typ] = a.Status()
	}
	return out
}

// GetAllMetrics returns every registered adapter's metrics snapshot.
func (o *Orchestrator) GetAllMetrics() map[adapter.ComponentType]map[string]any {
	o.mu.RLock()
	defer o.mu.RUnlock()
	out := make(map[adapter.ComponentType]map[string]any, len(o.adapters))
	for typ, a := range o.adapters {
		out[typ] = a.Metrics()
	}
	return out
}

// ExecuteComponentOperation executes op on the adapter registered for
// typ.
func (o *Orchestrator) ExecuteComponentOperation(ctx context.Context, typ adapter.ComponentType, op adapter.Operation, data any, opts *adapter.ExecuteOptions) (adapter.ComponentResult, error) {
	a, err := o.get(typ)
	if err != nil {
		return adapter.ComponentResult{}, err
	}
	return a.Execute(ctx, op, data, opts), nil
}

// ParallelOperation is one unit of work for ExecuteParallelOperations.
type ParallelOperation struct {
	Type adapter.ComponentType
	Op   adapter.Operation
	Data any
	Opts *adapter.ExecuteOptions
}

// ExecuteParallelOperations runs each operation concurrently and
// returns results in the same order as ops; scheduling across
// operations is unordered.
func (o *Orchestrator) ExecuteParallelOperations(ctx context.Context, ops []ParallelOperation) ([]adapter.ComponentResult, error) {
	results := make([]adapter.ComponentResult, len(ops))
	errs := make([]error, len(ops))

	var wg sync.WaitGroup
	for i, op := range ops {
		wg.Add(1)
		go func(i int, op ParallelOperation) {
			defer wg.Done()
			result, err := o.ExecuteComponentOperation(ctx, op.Type, op.Op, op.Data, op.Opts)
			results[i] = result
			errs[i] = err
		}(i, op)
	}
	wg.Wait()

	for _, err := range errs {
		if err != nil {
			return results, err
		}
	}
	return results, nil
}

// StageOutcome is one entry in EvolutionWorkflowResult.Stages.
type StageOutcome struct {
	Stage   string `json:"stage"`
	Success bool   `json:"success"`
	Data    any    `json:"data,omitempty"`
	Error   string `json:"error,omitempty"`
}

// EvolutionWorkflowResult is the output of ExecuteEvolutionWorkflow.
type EvolutionWorkflowResult struct {
	Success       bool           `json:"success"`
	Stages        []StageOutcome `json:"stages"`
	AdvanceResult adapter.ComponentResult
	EvolveResult  adapter.ComponentResult
	ArchiveResult adapter.ComponentResult
}

const (
	stageDGMGeneration       = "dgm_generation"
	stageOpenEvolveEvolution = "openevolve_evolution"
	stageDGMArchiveUpdate    = "dgm_archive_update"
)

// errComponentNotAvailable is the error text a stage reports when its
// component type has no registered adapter.
const errComponentNotAvailable = "component not available"

// ExecuteEvolutionWorkflow runs the strict sequential stage order
// DGM.advanceGeneration -> OpenEvolve.evolve -> DGM.updateArchive,
// stopping at the first stage whose adapter is missing or whose
// execution fails (each later stage's input is the prior stage's
// output in the real pipeline, so there is nothing meaningful left to
// attempt once a stage fails). Every attempted stage's outcome is
// recorded in the returned Stages list regardless of success; overall
// Success is true only if every attempted stage succeeded AND every
// stage ran (the loop never exits early on success).
func (o *Orchestrator) ExecuteEvolutionWorkflow(ctx context.Context, advanceData, evolveData, archiveData any) (EvolutionWorkflowResult, error) {
	var result EvolutionWorkflowResult

	advance, advanceErr := o.executeWorkflowStage(ctx, adapter.TypeDGM, adapter.OpAdvanceGeneration, advanceData, stageDGMGeneration, &result)
	result.AdvanceResult = advance
	if advanceErr != nil {
		return result, advanceErr
	}

	evolve, evolveErr := o.executeWorkflowStage(ctx, adapter.TypeOpenEvolve, adapter.OpEvolve, evolveData, stageOpenEvolveEvolution, &result)
	result.EvolveResult = evolve
	if evolveErr != nil {
		return result, evolveErr
	}

	archive, archiveErr := o.executeWorkflowStage(ctx, adapter.TypeDGM, adapter.OpUpdateArchive, archiveData, stageDGMArchiveUpdate, &result)
	result.ArchiveResult = archive
	if archiveErr != nil {
		return result, archiveErr
	}

	result.Success = true
	return result, nil
}

// executeWorkflowStage runs one named stage, appends its StageOutcome
// to result.Stages, and returns a non-nil error (without aborting the
// caller's bookkeeping) whenever the stage did not succeed — whether
// because the component isn't registered or because it returned
// success=false.
func (o *Orchestrator) executeWorkflowStage(ctx context.Context, typ adapter.ComponentType, op adapter.Operation, data any, stageName string, result *EvolutionWorkflowResult) (adapter.ComponentResult, error) {
	if _, err := o.get(typ); err != nil {
		result.Stages = append(result.Stages, StageOutcome{Stage: stageName, Success: false, Error: errComponentNotAvailable})
		return adapter.ComponentResult{Success: false, Error: errComponentNotAvailable}, fmt.Errorf("orchestrator: %s: %s", stageName, errComponentNotAvailable)
	}

	res, err := o.ExecuteComponentOperation(ctx, typ, op, data, nil)
	if err != nil {
		result.Stages = append(result.Stages, StageOutcome{Stage: stageName, Success: false, Error: err.Error()})
		return res, fmt.Errorf("orchestrator: %s: %w", stageName, err)
	}
	result.Stages = append(result.Stages, StageOutcome{Stage: stageName, Success: res.Success, Data: res.Data, Error: res.Error})
	if !res.Success {
		return res, fmt.Errorf("orchestrator: %s failed: %s", stageName, res.Error)
	}
	return res, nil
}
