// Package dgm implements the adapter.Adapter contract for the DGM
// (Darwin Gödel Machine family) generation worker. DGM is treated
// purely as a remote HTTP job queue: this package knows nothing about
// its internals, only its two operations and their endpoints.
package dgm

import (
	"context"
	"encoding/json"
	"time"

	"github.com/evoseal/evoseal/pkg/adapter"
)

// Adapter drives a DGM worker over HTTP. advance_generation submits a
// job to {base}/dgm/jobs/advance and polls {base}/dgm/jobs/{jobId}/status
// until completion before fetching {base}/dgm/jobs/{jobId}/result;
// update_archive is a single synchronous POST to {base}/dgm/archive/update.
type Adapter struct {
	*adapter.Base
	remote *adapter.RemoteClient
}

// New constructs a DGM adapter against the given remote configuration.
// Initialize/Start/Stop are no-ops beyond lifecycle bookkeeping: a
// remote-mode adapter has no local process to start.
func New(cfg adapter.RemoteConfig) *Adapter {
	a := &Adapter{remote: adapter.NewRemoteClient(cfg)}
	a.Base = adapter.NewBase(nil, nil, nil)
	return a
}

// Execute dispatches advance_generation and update_archive, the only
// two operations DGM recognizes.
func (a *Adapter) Execute(ctx context.Context, op adapter.Operation, data any, _ *adapter.ExecuteOptions) adapter.ComponentResult {
	start := time.Now()

	switch op {
	case adapter.OpAdvanceGeneration:
		return a.advanceGeneration(ctx, data, start)
	case adapter.OpUpdateArchive:
		return a.updateArchive(ctx, data, start)
	default:
		return adapter.Unsupported(op)
	}
}

func (a *Adapter) advanceGeneration(ctx context.Context, data any, start time.Time) adapter.ComponentResult {
	raw, err := a.remote.RunJob(ctx, "dgm/jobs/advance",
		func(jobID string) string { return "dgm/jobs/" + jobID + "/status" },
		func(jobID string) string { return "dgm/jobs/" + jobID + "/result" },
		data)
	if err != nil {
		a.SetMetric("last_error", err.Error())
		return adapter.ComponentResult{Success: false, Error: err.Error(), ExecutionTime: time.Since(start)}
	}

	var decoded any
	if len(raw) > 0 {
		if err := json.Unmarshal(raw, &decoded); err != nil {
			return adapter.ComponentResult{Success: false, Error: "malformed result: " + err.Error(), ExecutionTime: time.Since(start)}
		}
	}
	a.SetMetric("advance_generation_calls", 1)
	return adapter.ComponentResult{Success: true, Data: decoded, ExecutionTime: time.Since(start)}
}

func (a *Adapter) updateArchive(ctx context.Context, data any, start time.Time) adapter.ComponentResult {
	raw, err := a.remote.RunJobDirect(ctx, "dgm/archive/update", data)
	if err != nil {
		a.SetMetric("last_error", err.Error())
		return adapter.ComponentResult{Success: false, Error: err.Error(), ExecutionTime: time.Since(start)}
	}

	var decoded struct {
		OK      bool `json:"ok"`
		Updated bool `json:"updated"`
		Count   int  `json:"count"`
	}
	if len(raw) > 0 {
		if err := json.Unmarshal(raw, &decoded); err != nil {
			return adapter.ComponentResult{Success: false, Error: "malformed result: " + err.Error(), ExecutionTime: time.Since(start)}
		}
	}
	return adapter.ComponentResult{
		Success:       true,
		Data:          map[string]any{"ok": decoded.OK, "updated": decoded.Updated, "count": decoded.Count},
		ExecutionTime: time.Since(start),
	}
}
