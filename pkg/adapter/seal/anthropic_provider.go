package seal

import (
	"context"
	"fmt"

	anthropicsdk "github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
)

// AnthropicProvider implements Provider against the Anthropic Claude
// API.
type AnthropicProvider struct {
	apiKey    string
	modelName string
}

// NewAnthropicProvider constructs a Provider using apiKey and
// modelName (empty string selects a current default model).
func NewAnthropicProvider(apiKey, modelName string) *AnthropicProvider {
	if modelName == "" {
		modelName = "claude-sonnet-4-5-20250929"
	}
	return &AnthropicProvider{apiKey: apiKey, modelName: modelName}
}

// SubmitPrompt sends prompt as a single user message and returns the
// concatenated text of the response.
func (p *AnthropicProvider) SubmitPrompt(ctx context.Context, prompt string) (string, error) {
	if p.apiKey == "" {
		return "", fmt.Errorf("anthropic API key is required")
	}

	client := anthropicsdk.NewClient(option.WithAPIKey(p.apiKey))
	resp, err := client.Messages.New(ctx, anthropicsdk.MessageNewParams{
		Model:     anthropicsdk.Model(p.modelName),
		MaxTokens: 4096,
		Messages: []anthropicsdk.MessageParam{
			anthropicsdk.NewUserMessage(anthropicsdk.NewTextBlock(prompt)),
		},
	})
	if err != nil {
		return "", fmt.Errorf("anthropic API error: %w", err)
	}

	var text string
	for _, block := range resp.Content {
		if tb, ok := block.AsAny().(anthropicsdk.TextBlock); ok {
			if text != "" {
				text += "\n"
			}
			text += tb.Text
		}
	}
	return text, nil
}

// AnalyzeCode asks Claude to analyze code and returns its response
// wrapped in a single "analysis" field. SEAL's analysis output format
// is unspecified by the distillation (open question, left to the
// generation worker); EVOSEAL does not parse or validate its
// contents, only passes it through.
func (p *AnthropicProvider) AnalyzeCode(ctx context.Context, code string) (map[string]any, error) {
	prompt := "Analyze the following code and describe its behavior, risks, and quality:\n\n" + code
	text, err := p.SubmitPrompt(ctx, prompt)
	if err != nil {
		return nil, err
	}
	return map[string]any{"analysis": text}, nil
}
