package llm

import (
	"context"
	"fmt"
	"strings"

	"github.com/google/generative-ai-go/genai"
	"google.golang.org/api/option"
)

type GeminiGenerator struct {
	client *genai.Client
	model  string
}

func NewGeminiGenerator(ctx context.Context, apiKey, model string, opts ...option.ClientOption) (*GeminiGenerator, error) {
	if model == "" {
		model = "gemini-2.0-flash"
	}
	clientOpts := append([]option.ClientOption{option.WithAPIKey(apiKey)}, opts...)
	client, err := genai.NewClient(ctx, clientOpts...)
	if err != nil {
		return nil, fmt.Errorf("create gemini client: %w", err)
	}
	return &GeminiGenerator{client: client, model: model}, nil
}

func (g *GeminiGenerator) Name() string { return "gemini" }

func (g *GeminiGenerator) Generate(ctx context.Context, req Request) (string, error) {
	model := g.client.GenerativeModel(g.model)
	if req.SystemPrompt != "" {
		model.SystemInstruction = &genai.Content{
			Parts: []genai.Part{genai.Text(req.SystemPrompt)},
		}
	}
	model.SetTemperature(req.Temperature)

	resp, err := model.GenerateContent(ctx, genai.Text(req.Prompt))
	if err != nil {
		return "", err
	}

	var sb strings.Builder
	for _, cand := range resp.Candidates {
		if cand.Content == nil {
			continue
		}
		for _, part := range cand.Content.Parts {
			if text, ok := part.(genai.Text); ok {
				sb.WriteString(string(text))
			}
		}
	}
	if sb.Len() == 0 {
		return "", fmt.Errorf("empty generation response")
	}
	return sb.String(), nil
}

func (g *GeminiGenerator) Close() error {
	return g.client.Close()
}
