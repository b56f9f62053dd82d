package orchestrator

import (
	"context"
	"testing"
	"time"

	"github.com/evoseal/evoseal/pkg/adapter"
	"github.com/evoseal/evoseal/pkg/config"
)

// fakeAdapter is a hand-rolled test double implementing
// adapter.Adapter.
type fakeAdapter struct {
	typ      adapter.ComponentType
	execFn   func(ctx context.Context, op adapter.Operation, data any) adapter.ComponentResult
	initErr  error
	startErr error
}

func (f *fakeAdapter) Initialize(ctx context.Context) (bool, error) {
	return f.initErr == nil, f.initErr
}

func (f *fakeAdapter) Start(ctx context.Context) (bool, error) {
	return f.startErr == nil, f.startErr
}

func (f *fakeAdapter) Stop(ctx context.Context) (bool, error) { return true, nil }

func (f *fakeAdapter) Execute(ctx context.Context, op adapter.Operation, data any, opts *adapter.ExecuteOptions) adapter.ComponentResult {
	if f.execFn != nil {
		return f.execFn(ctx, op, data)
	}
	return adapter.ComponentResult{Success: true, Data: data}
}

func (f *fakeAdapter) Metrics() map[string]any { return map[string]any{"type": string(f.typ)} }

func (f *fakeAdapter) Status() adapter.ComponentStatus {
	return adapter.ComponentStatus{State: adapter.StateRunning, LastUpdated: time.Now()}
}

func TestInitializeAllSucceedsWhenEveryAdapterInitializes(t *testing.T) {
	o := New()
	o.Register(adapter.TypeDGM, &fakeAdapter{typ: adapter.TypeDGM})
	o.Register(adapter.TypeSEAL, &fakeAdapter{typ: adapter.TypeSEAL})

	if err := o.InitializeAll(context.Background()); err != nil {
		t.Fatalf("InitializeAll: %v", err)
	}
}

func TestExecuteParallelOperationsPreservesOrder(t *testing.T) {
	o := New()
	o.Register(adapter.TypeDGM, &fakeAdapter{typ: adapter.TypeDGM, execFn: func(ctx context.Context, op adapter.Operation, data any) adapter.ComponentResult {
		return adapter.ComponentResult{Success: true, Data: "dgm:" + data.(string)}
	}})
	o.Register(adapter.TypeSEAL, &fakeAdapter{typ: adapter.TypeSEAL, execFn: func(ctx context.Context, op adapter.Operation, data any) adapter.ComponentResult {
		return adapter.ComponentResult{Success: true, Data: "seal:" + data.(string)}
	}})

	ops := []ParallelOperation{
		{Type: adapter.TypeDGM, Op: adapter.OpAdvanceGeneration, Data: "a"},
		{Type: adapter.TypeSEAL, Op: adapter.OpSubmitPrompt, Data: "b"},
		{Type: adapter.TypeDGM, Op: adapter.OpAdvanceGeneration, Data: "c"},
	}
	results, err := o.ExecuteParallelOperations(context.Background(), ops)
	if err != nil {
		t.Fatalf("ExecuteParallelOperations: %v", err)
	}
	if results[0].Data != "dgm:a" || results[1].Data != "seal:b" || results[2].Data != "dgm:c" {
		t.Fatalf("result order not preserved: %+v", results)
	}
}

func TestExecuteEvolutionWorkflowStopsOnFirstFailure(t *testing.T) {
	o := New()
	evolveCalled := false
	o.Register(adapter.TypeDGM, &fakeAdapter{typ: adapter.TypeDGM, execFn: func(ctx context.Context, op adapter.Operation, data any) adapter.ComponentResult {
		return adapter.ComponentResult{Success: false, Error: "advance failed"}
	}})
	o.Register(adapter.TypeOpenEvolve, &fakeAdapter{typ: adapter.TypeOpenEvolve, execFn: func(ctx context.Context, op adapter.Operation, data any) adapter.ComponentResult {
		evolveCalled = true
		return adapter.ComponentResult{Success: true}
	}})

	_, err := o.ExecuteEvolutionWorkflow(context.Background(), nil, nil, nil)
	if err == nil {
		t.Fatalf("expected workflow to fail on advance generation")
	}
	if evolveCalled {
		t.Fatalf("evolve stage must not run after advance generation fails")
	}
}

func TestExecuteEvolutionWorkflowReportsMissingComponent(t *testing.T) {
	o := New()
	o.Register(adapter.TypeDGM, &fakeAdapter{typ: adapter.TypeDGM})

	result, err := o.ExecuteEvolutionWorkflow(context.Background(), nil, nil, nil)
	if err == nil {
		t.Fatalf("expected workflow error when openevolve is not registered")
	}
	if len(result.Stages) != 2 {
		t.Fatalf("expected 2 stage outcomes, got %+v", result.Stages)
	}
	if result.Stages[0].Stage != "dgm_generation" || !result.Stages[0].Success {
		t.Fatalf("unexpected first stage outcome: %+v", result.Stages[0])
	}
	second := result.Stages[1]
	if second.Stage != "openevolve_evolution" || second.Success || second.Error != "component not available" {
		t.Fatalf("unexpected missing-component outcome: %+v", second)
	}
	if result.Success {
		t.Fatalf("overall success must be false when a stage is skipped")
	}
}

func TestNewFromConfigRegistersConfiguredAdapters(t *testing.T) {
	cfg := config.Default()
	cfg.Adapters = map[string]config.RemoteConfig{
		"dgm":        {BaseURL: "http://localhost:9001"},
		"openevolve": {BaseURL: "http://localhost:9002"},
	}

	o := NewFromConfig(cfg)

	status := o.GetAllStatus()
	if _, ok := status[adapter.TypeDGM]; !ok {
		t.Fatalf("expected dgm adapter registered, got %v", status)
	}
	if _, ok := status[adapter.TypeOpenEvolve]; !ok {
		t.Fatalf("expected openevolve adapter registered, got %v", status)
	}
	if _, ok := status[adapter.TypeSEAL]; ok {
		t.Fatalf("seal must not be constructed from a remote block alone")
	}
}

func TestExecuteEvolutionWorkflowRunsAllThreeStagesInOrder(t *testing.T) {
	o := New()
	var order []string
	mk := func(typ adapter.ComponentType, name string) *fakeAdapter {
		return &fakeAdapter{typ: typ, execFn: func(ctx context.Context, op adapter.Operation, data any) adapter.ComponentResult {
			order = append(order, name)
			return adapter.ComponentResult{Success: true}
		}}
	}
	o.Register(adapter.TypeDGM, mk(adapter.TypeDGM, "dgm"))
	o.Register(adapter.TypeOpenEvolve, mk(adapter.TypeOpenEvolve, "openevolve"))

	if _, err := o.ExecuteEvolutionWorkflow(context.Background(), nil, nil, nil); err != nil {
		t.Fatalf("ExecuteEvolutionWorkflow: %v", err)
	}
	if len(order) != 3 || order[0] != "dgm" || order[1] != "openevolve" || order[2] != "dgm" {
		t.Fatalf("expected dgm,openevolve,dgm order, got %v", order)
	}
}
