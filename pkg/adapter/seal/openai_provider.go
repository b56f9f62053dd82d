package seal

import (
	"context"
	"fmt"

	openaisdk "github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
)

// OpenAIProvider implements Provider against OpenAI's chat completion
// API.
type OpenAIProvider struct {
	apiKey    string
	modelName string
}

// NewOpenAIProvider constructs a Provider using apiKey and modelName
// (empty string selects a current default model).
func NewOpenAIProvider(apiKey, modelName string) *OpenAIProvider {
	if modelName == "" {
		modelName = "gpt-4o"
	}
	return &OpenAIProvider{apiKey: apiKey, modelName: modelName}
}

// SubmitPrompt sends prompt as a single user message and returns the
// model's text response.
func (p *OpenAIProvider) SubmitPrompt(ctx context.Context, prompt string) (string, error) {
	if p.apiKey == "" {
		return "", fmt.Errorf("openai API key is required")
	}

	client := openaisdk.NewClient(option.WithAPIKey(p.apiKey))
	resp, err := client.Chat.Completions.New(ctx, openaisdk.ChatCompletionNewParams{
		Model: openaisdk.ChatModel(p.modelName),
		Messages: []openaisdk.ChatCompletionMessageParamUnion{
			openaisdk.UserMessage(prompt),
		},
	})
	if err != nil {
		return "", fmt.Errorf("openai API error: %w", err)
	}
	if len(resp.Choices) == 0 {
		return "", fmt.Errorf("openai returned no choices")
	}
	return resp.Choices[0].Message.Content, nil
}

// AnalyzeCode asks the model to analyze code, returning its response
// wrapped in a single "analysis" field.
func (p *OpenAIProvider) AnalyzeCode(ctx context.Context, code string) (map[string]any, error) {
	prompt := "Analyze the following code and describe its behavior, risks, and quality:\n\n" + code
	text, err := p.SubmitPrompt(ctx, prompt)
	if err != nil {
		return nil, err
	}
	return map[string]any{"analysis": text}, nil
}
