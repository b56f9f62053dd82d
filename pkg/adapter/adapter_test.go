package adapter

import (
	"context"
	"errors"
	"testing"
)

func TestBaseLifecycleHappyPath(t *testing.T) {
	b := NewBase(nil, nil, nil)

	ok, err := b.Initialize(context.Background())
	if !ok || err != nil {
		t.Fatalf("Initialize: ok=%v err=%v", ok, err)
	}
	if b.Status().State != StateReady {
		t.Fatalf("expected ready, got %v", b.Status().State)
	}

	ok, _ = b.Start(context.Background())
	if !ok || b.Status().State != StateRunning {
		t.Fatalf("expected running, got %v", b.Status().State)
	}

	ok, _ = b.Stop(context.Background())
	if !ok || b.Status().State != StateStopped {
		t.Fatalf("expected stopped, got %v", b.Status().State)
	}
}

func TestBaseNeverGoesFailedToRunningWithoutInitializing(t *testing.T) {
	b := NewBase(func(context.Context) error {
		return errors.New("boom")
	}, nil, nil)

	ok, _ := b.Initialize(context.Background())
	if ok {
		t.Fatalf("expected Initialize to fail")
	}
	if b.Status().State != StateFailed {
		t.Fatalf("expected failed, got %v", b.Status().State)
	}

	ok, _ = b.Start(context.Background())
	if ok || b.Status().State == StateRunning {
		t.Fatalf("Start must not succeed from failed state")
	}

	// A component whose Initialize succeeds can then reach running.
	b2 := NewBase(nil, nil, nil)
	b2.Initialize(context.Background())
	ok, _ = b2.Start(context.Background())
	if !ok || b2.Status().State != StateRunning {
		t.Fatalf("expected running after initialize+start, got %v", b2.Status().State)
	}
}

func TestInitializeIsIdempotent(t *testing.T) {
	calls := 0
	b := NewBase(func(context.Context) error {
		calls++
		return nil
	}, nil, nil)

	b.Initialize(context.Background())
	b.Initialize(context.Background())

	if calls != 1 {
		t.Fatalf("expected init callback invoked once, got %d", calls)
	}
}

func TestUnsupportedOperationMessage(t *testing.T) {
	result := Unsupported(Operation("made_up"))
	if result.Success {
		t.Fatalf("expected failure result")
	}
	if result.Error != "Unknown operation: made_up" {
		t.Fatalf("unexpected error message: %q", result.Error)
	}
}
