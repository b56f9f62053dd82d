package bus

import "sync"

// The source's global event bus is a process-wide singleton. Rather
// than reproduce that coupling, EVOSEAL treats a Bus as an explicit
// dependency everywhere; these package-level functions are a thin,
// opt-in convenience layer over one lazily-constructed default
// instance for callers (tests, small scripts) that don't want to wire
// one through explicitly. Components never reach for this default
// internally: pkg/regression, pkg/rollback and pkg/workflow take a *Bus
// through their WithBus options and publish nothing without one, while
// pkg/orchestrator, pkg/checkpoint and pkg/safety publish no events.
var (
	defaultOnce sync.Once
	defaultBus  *Bus
)

// Default returns the lazily-constructed process-wide convenience
// Bus. Prefer constructing and threading through an explicit *Bus for
// anything beyond ad-hoc scripting or tests.
func Default() *Bus {
	defaultOnce.Do(func() {
		defaultBus = New()
	})
	return defaultBus
}
