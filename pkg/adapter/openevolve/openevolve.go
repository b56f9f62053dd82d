// Package openevolve implements the adapter.Adapter contract for the
// OpenEvolve generation worker, which accepts either a local
// file-path based evolve request or a remote job submission wrapping
// one.
package openevolve

import (
	"context"
	"encoding/json"
	"time"

	"github.com/evoseal/evoseal/pkg/adapter"
)

// EvolveRequest is the local-mode payload shape for the "evolve"
// operation.
type EvolveRequest struct {
	InitialProgramPath string  `json:"initialProgramPath"`
	EvaluationFile     string  `json:"evaluationFile"`
	OutputDir          string  `json:"outputDir"`
	ConfigPath         string  `json:"configPath"`
	Iterations         int     `json:"iterations,omitempty"`
	TargetScore        float64 `json:"targetScore,omitempty"`
	Checkpoint         string  `json:"checkpoint,omitempty"`
}

// EvolveResult is the {programId, score} shape a successful evolve
// job reports.
type EvolveResult struct {
	ProgramID string  `json:"programId"`
	Score     float64 `json:"score"`
}

// Adapter drives an OpenEvolve worker over HTTP, submitting to
// {base}/openevolve/jobs/evolve and following the same submit/poll/
// result protocol as the DGM adapter.
type Adapter struct {
	*adapter.Base
	remote *adapter.RemoteClient
}

// New constructs an OpenEvolve adapter against the given remote
// configuration.
func New(cfg adapter.RemoteConfig) *Adapter {
	a := &Adapter{remote: adapter.NewRemoteClient(cfg)}
	a.Base = adapter.NewBase(nil, nil, nil)
	return a
}

// Execute dispatches the "evolve" operation, the only operation
// OpenEvolve recognizes.
func (a *Adapter) Execute(ctx context.Context, op adapter.Operation, data any, _ *adapter.ExecuteOptions) adapter.ComponentResult {
	start := time.Now()

	if op != adapter.OpEvolve {
		return adapter.Unsupported(op)
	}

	// The payload may arrive already wrapped as {"job": {...}} for
	// remote dispatch, or as a bare EvolveRequest-shaped map for local
	// submission; both are forwarded as-is, since the remote server is
	// the one that interprets the evolve configuration.
	raw, err := a.remote.RunJob(ctx, "openevolve/jobs/evolve",
		func(jobID string) string { return "openevolve/jobs/" + jobID + "/status" },
		func(jobID string) string { return "openevolve/jobs/" + jobID + "/result" },
		data)
	if err != nil {
		a.SetMetric("last_error", err.Error())
		return adapter.ComponentResult{Success: false, Error: err.Error(), ExecutionTime: time.Since(start)}
	}

	var result EvolveResult
	if len(raw) > 0 {
		if err := json.Unmarshal(raw, &result); err != nil {
			return adapter.ComponentResult{Success: false, Error: "malformed result: " + err.Error(), ExecutionTime: time.Since(start)}
		}
	}
	a.SetMetric("evolve_calls", 1)
	return adapter.ComponentResult{
		Success:       true,
		Data:          map[string]any{"programId": result.ProgramID, "score": result.Score},
		ExecutionTime: time.Since(start),
	}
}
