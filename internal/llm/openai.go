package llm

import (
	"context"
	"fmt"

	openai "github.com/sashabaranov/go-openai"
)

// OpenAIGenerator drives any chat-completions compatible server. The
// local backend reuses it with a different base URL and name.
type OpenAIGenerator struct {
	client *openai.Client
	model  string
	name   string
}

func NewOpenAIGenerator(apiKey, baseURL, model string) *OpenAIGenerator {
	if model == "" {
		model = openai.GPT4oMini
	}
	cfg := openai.DefaultConfig(apiKey)
	if baseURL != "" {
		cfg.BaseURL = baseURL
	}
	return &OpenAIGenerator{
		client: openai.NewClientWithConfig(cfg),
		model:  model,
		name:   "openai",
	}
}

// NewLocalGenerator targets a locally-hosted chat-completions server.
func NewLocalGenerator(baseURL, apiKey, model string) *OpenAIGenerator {
	g := NewOpenAIGenerator(apiKey, baseURL, model)
	g.name = "local"
	return g
}

func (g *OpenAIGenerator) Name() string { return g.name }

func (g *OpenAIGenerator) Generate(ctx context.Context, req Request) (string, error) {
	messages := []openai.ChatCompletionMessage{}
	if req.SystemPrompt != "" {
		messages = append(messages, openai.ChatCompletionMessage{
			Role:    openai.ChatMessageRoleSystem,
			Content: req.SystemPrompt,
		})
	}
	messages = append(messages, openai.ChatCompletionMessage{
		Role:    openai.ChatMessageRoleUser,
		Content: req.Prompt,
	})

	resp, err := g.client.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model:       g.model,
		Messages:    messages,
		Temperature: req.Temperature,
	})
	if err != nil {
		return "", err
	}
	if len(resp.Choices) == 0 {
		return "", fmt.Errorf("no completion choices returned")
	}
	return resp.Choices[0].Message.Content, nil
}
