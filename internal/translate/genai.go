package translate

import (
	"context"
	"fmt"

	"google.golang.org/genai"
)

// GenAIGenerator calls GenerateContent on the Gemini API
type GenAIGenerator struct {
	client *genai.Client
	model  string
}

// NewGenAIGenerator creates a Gemini API client for model
func NewGenAIGenerator(ctx context.Context, apiKey, model string) (*GenAIGenerator, error) {
	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:  apiKey,
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create genai client: %w", err)
	}
	return &GenAIGenerator{client: client, model: model}, nil
}

// Generate sends one prompt and returns the response text
func (g *GenAIGenerator) Generate(ctx context.Context, systemInstruction, prompt string) (string, error) {
	config := &genai.GenerateContentConfig{
		SystemInstruction: genai.NewContentFromText(systemInstruction, genai.RoleUser),
		Temperature:       genai.Ptr[float32](0.2),
	}

	resp, err := g.client.Models.GenerateContent(ctx, g.model, genai.Text(prompt), config)
	if err != nil {
		return "", err
	}
	return resp.Text(), nil
}
