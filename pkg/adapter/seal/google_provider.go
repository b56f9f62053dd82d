package seal

import (
	"context"
	"fmt"

	genai "github.com/google/generative-ai-go/genai"
	"google.golang.org/api/option"
)

// GoogleProvider implements Provider against Google's Generative AI
// (Gemini) API.
type GoogleProvider struct {
	apiKey    string
	modelName string
}

// NewGoogleProvider constructs a Provider using apiKey and modelName
// (empty string selects a current default model).
func NewGoogleProvider(apiKey, modelName string) *GoogleProvider {
	if modelName == "" {
		modelName = "gemini-1.5-pro"
	}
	return &GoogleProvider{apiKey: apiKey, modelName: modelName}
}

// SubmitPrompt sends prompt to Gemini and returns its text response.
func (p *GoogleProvider) SubmitPrompt(ctx context.Context, prompt string) (string, error) {
	if p.apiKey == "" {
		return "", fmt.Errorf("google API key is required")
	}

	client, err := genai.NewClient(ctx, option.WithAPIKey(p.apiKey))
	if err != nil {
		return "", fmt.Errorf("google client error: %w", err)
	}
	defer func() { _ = client.Close() }()

	model := client.GenerativeModel(p.modelName)
	resp, err := model.GenerateContent(ctx, genai.Text(prompt))
	if err != nil {
		return "", fmt.Errorf("google API error: %w", err)
	}

	var text string
	if len(resp.Candidates) > 0 && resp.Candidates[0].Content != nil {
		for _, part := range resp.Candidates[0].Content.Parts {
			if t, ok := part.(genai.Text); ok {
				if text != "" {
					text += "\n"
				}
				text += string(t)
			}
		}
	}
	return text, nil
}

// AnalyzeCode asks Gemini to analyze code, returning its response
// wrapped in a single "analysis" field.
func (p *GoogleProvider) AnalyzeCode(ctx context.Context, code string) (map[string]any, error) {
	prompt := "Analyze the following code and describe its behavior, risks, and quality:\n\n" + code
	text, err := p.SubmitPrompt(ctx, prompt)
	if err != nil {
		return nil, err
	}
	return map[string]any{"analysis": text}, nil
}
