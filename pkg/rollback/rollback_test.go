package rollback

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/evoseal/evoseal/pkg/checkpoint"
)

func TestResolveSafeTargetFallsBackForDenylistedAndCwd(t *testing.T) {
	cwd, err := os.Getwd()
	if err != nil {
		t.Fatalf("Getwd: %v", err)
	}

	for _, target := range []string{"/", "/home", "/etc", cwd, filepath.Dir(cwd), filepath.Dir(filepath.Dir(cwd))} {
		resolved, usedFallback, err := ResolveSafeTarget(target)
		if err != nil {
			t.Fatalf("ResolveSafeTarget(%s): %v", target, err)
		}
		if !usedFallback {
			t.Fatalf("expected fallback for %s, got %s", target, resolved)
		}
		want := filepath.Join(cwd, ".evoseal", "rollback_target")
		if resolved != want {
			t.Fatalf("expected fallback path %s, got %s", want, resolved)
		}
	}
}

func TestResolveSafeTargetAllowsOrdinaryDirectory(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "safe")
	resolved, usedFallback, err := ResolveSafeTarget(dir)
	if err != nil {
		t.Fatalf("ResolveSafeTarget: %v", err)
	}
	if usedFallback {
		t.Fatalf("did not expect fallback for ordinary directory")
	}
	if resolved != dir {
		t.Fatalf("expected %s, got %s", dir, resolved)
	}
}

func newTestEngine(t *testing.T) (*Engine, *checkpoint.Store) {
	t.Helper()
	store, err := checkpoint.New(t.TempDir())
	if err != nil {
		t.Fatalf("checkpoint.New: %v", err)
	}
	e, err := New(store, WithWorkDir(filepath.Join(t.TempDir(), "work")))
	if err != nil {
		t.Fatalf("rollback.New: %v", err)
	}
	return e, store
}

func TestRollbackToVersionRestoresAndVerifies(t *testing.T) {
	e, store := newTestEngine(t)
	if _, err := store.CreateCheckpoint("v1", "", checkpoint.VersionData{
		Changes: []checkpoint.FileChange{{RelPath: "f.txt", Content: []byte("v1 content")}},
	}, false); err != nil {
		t.Fatalf("CreateCheckpoint: %v", err)
	}

	target := filepath.Join(t.TempDir(), "work")
	ok, err := e.RollbackToVersion(context.Background(), "v1", "manual", target)
	if err != nil || !ok {
		t.Fatalf("RollbackToVersion: ok=%v err=%v", ok, err)
	}

	content, err := os.ReadFile(filepath.Join(target, "f.txt"))
	if err != nil || string(content) != "v1 content" {
		t.Fatalf("expected restored content, got %v %q", err, content)
	}

	history := e.History()
	if len(history) != 1 || !history[0].Success || !history[0].VerificationOK {
		t.Fatalf("unexpected history: %+v", history)
	}
}

func TestCascadingRollbackWalksParentChain(t *testing.T) {
	e, store := newTestEngine(t)
	if _, err := store.CreateCheckpoint("v1", "", checkpoint.VersionData{
		Changes: []checkpoint.FileChange{{RelPath: "f.txt", Content: []byte("base")}},
	}, false); err != nil {
		t.Fatalf("CreateCheckpoint v1: %v", err)
	}
	if _, err := store.CreateCheckpoint("v2", "v1", checkpoint.VersionData{
		Changes: []checkpoint.FileChange{{RelPath: "f.txt", Content: []byte("changed")}},
	}, false); err != nil {
		t.Fatalf("CreateCheckpoint v2: %v", err)
	}
	if _, err := store.CreateCheckpoint("v3", "v2", checkpoint.VersionData{
		Changes: []checkpoint.FileChange{{RelPath: "f.txt", Content: []byte("broken")}},
	}, false); err != nil {
		t.Fatalf("CreateCheckpoint v3: %v", err)
	}

	result, err := e.CascadingRollback(context.Background(), "v3", 3)
	if err != nil {
		t.Fatalf("CascadingRollback: %v", err)
	}
	if !result.Success || result.FinalVersion != "v2" {
		t.Fatalf("expected success at v2, got %+v", result)
	}
	if len(result.RollbackChain) != 1 || result.RollbackChain[0] != "v2" {
		t.Fatalf("unexpected chain: %+v", result.RollbackChain)
	}
}

func TestAutoRollbackOnFailureTriggersOnFailedTest(t *testing.T) {
	e, store := newTestEngine(t)
	if _, err := store.CreateCheckpoint("v1", "", checkpoint.VersionData{
		Changes: []checkpoint.FileChange{{RelPath: "f.txt", Content: []byte("good")}},
	}, false); err != nil {
		t.Fatalf("CreateCheckpoint v1: %v", err)
	}
	if _, err := store.CreateCheckpoint("v2", "v1", checkpoint.VersionData{
		Changes: []checkpoint.FileChange{{RelPath: "f.txt", Content: []byte("bad")}},
	}, false); err != nil {
		t.Fatalf("CreateCheckpoint v2: %v", err)
	}

	ok, err := e.AutoRollbackOnFailure(context.Background(), "v2",
		[]TestResult{{Name: "unit", Status: "fail"}}, nil)
	if err != nil || !ok {
		t.Fatalf("AutoRollbackOnFailure: ok=%v err=%v", ok, err)
	}
}

func TestAutoRollbackOnFailureNoOpWhenHealthy(t *testing.T) {
	e, store := newTestEngine(t)
	if _, err := store.CreateCheckpoint("v1", "", checkpoint.VersionData{
		Changes: []checkpoint.FileChange{{RelPath: "f.txt", Content: []byte("good")}},
	}, false); err != nil {
		t.Fatalf("CreateCheckpoint v1: %v", err)
	}

	ok, err := e.AutoRollbackOnFailure(context.Background(), "v1",
		[]TestResult{{Name: "unit", Status: "pass"}}, nil)
	if err != nil {
		t.Fatalf("AutoRollbackOnFailure: %v", err)
	}
	if ok {
		t.Fatalf("expected no rollback for healthy run")
	}
}
