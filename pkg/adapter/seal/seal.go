// Package seal implements the adapter.Adapter contract for the SEAL
// (Self-Adapting Language models) family of generation workers. Unlike
// DGM and OpenEvolve, SEAL is specified as a hosted LLM rather than a
// job queue, so this adapter talks to a Provider directly instead of
// through the submit/poll/result protocol.
package seal

import (
	"context"
	"time"

	"github.com/evoseal/evoseal/pkg/adapter"
)

// Provider abstracts the differences between the LLM backends SEAL
// may run on. Concrete implementations wrap the Anthropic, OpenAI, or
// Google Generative AI SDKs; all three satisfy the same narrow
// interface so the adapter and its tests need only one mock.
type Provider interface {
	// SubmitPrompt sends prompt to the model and returns its raw text
	// response.
	SubmitPrompt(ctx context.Context, prompt string) (string, error)

	// AnalyzeCode asks the model to analyze code and returns a
	// structured analysis mapping.
	AnalyzeCode(ctx context.Context, code string) (map[string]any, error)
}

// Adapter drives a SEAL-family worker through a configured Provider.
type Adapter struct {
	*adapter.Base
	provider Provider
}

// New constructs a SEAL adapter wrapping provider. Initialize checks
// that the provider is non-nil; Start/Stop are lifecycle no-ops since
// a hosted LLM provider has no local process.
func New(provider Provider) *Adapter {
	a := &Adapter{provider: provider}
	a.Base = adapter.NewBase(func(context.Context) error {
		if provider == nil {
			return errNoProvider
		}
		return nil
	}, nil, nil)
	return a
}

var errNoProvider = providerError("seal adapter requires a non-nil Provider")

type providerError string

func (e providerError) Error() string { return string(e) }

// Execute dispatches submit_prompt and analyze_code, the only two
// operations SEAL recognizes.
func (a *Adapter) Execute(ctx context.Context, op adapter.Operation, data any, _ *adapter.ExecuteOptions) adapter.ComponentResult {
	start := time.Now()

	switch op {
	case adapter.OpSubmitPrompt:
		prompt, ok := data.(string)
		if !ok {
			return adapter.ComponentResult{Success: false, Error: "submit_prompt requires a string prompt", ExecutionTime: time.Since(start)}
		}
		resp, err := a.provider.SubmitPrompt(ctx, prompt)
		if err != nil {
			a.SetMetric("last_error", err.Error())
			return adapter.ComponentResult{Success: false, Error: err.Error(), ExecutionTime: time.Since(start)}
		}
		a.SetMetric("submit_prompt_calls", 1)
		return adapter.ComponentResult{Success: true, Data: resp, ExecutionTime: time.Since(start)}

	case adapter.OpAnalyzeCode:
		code, ok := data.(string)
		if !ok {
			return adapter.ComponentResult{Success: false, Error: "analyze_code requires a string code payload", ExecutionTime: time.Since(start)}
		}
		analysis, err := a.provider.AnalyzeCode(ctx, code)
		if err != nil {
			a.SetMetric("last_error", err.Error())
			return adapter.ComponentResult{Success: false, Error: err.Error(), ExecutionTime: time.Since(start)}
		}
		a.SetMetric("analyze_code_calls", 1)
		return adapter.ComponentResult{Success: true, Data: analysis, ExecutionTime: time.Since(start)}

	default:
		return adapter.Unsupported(op)
	}
}
