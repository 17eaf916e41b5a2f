package llm

import (
	"context"
	"fmt"
	"os"

	openai "github.com/sashabaranov/go-openai"

	"github.com/lumenlab/oracle/internal/config"
)

// OpenAIProvider speaks the OpenAI-compatible chat completion API. Any
// backend exposing that surface (including self-hosted gateways) works
// through a BaseURL override.
type OpenAIProvider struct {
	client *openai.Client
	model  string
}

// NewOpenAIProvider builds a provider for one candidate. The API key is
// resolved from the configured environment variable once, at construction.
func NewOpenAIProvider(cand config.CandidateConfig) (*OpenAIProvider, error) {
	keyEnv := cand.APIKeyEnv
	if keyEnv == "" {
		keyEnv = "OPENAI_API_KEY"
	}
	apiKey := os.Getenv(keyEnv)
	if apiKey == "" {
		return nil, fmt.Errorf("llm: %s not set for model %s", keyEnv, cand.Model)
	}

	cfg := openai.DefaultConfig(apiKey)
	if cand.BaseURL != "" {
		cfg.BaseURL = cand.BaseURL
	}
	return &OpenAIProvider{
		client: openai.NewClientWithConfig(cfg),
		model:  cand.Model,
	}, nil
}

func (p *OpenAIProvider) Model() string { return p.model }

// Complete issues one chat completion and normalizes the response shape.
func (p *OpenAIProvider) Complete(ctx context.Context, req Request) (Response, error) {
	messages := make([]openai.ChatCompletionMessage, 0, len(req.History)+1)
	if req.System != "" {
		messages = append(messages, openai.ChatCompletionMessage{
			Role:    openai.ChatMessageRoleSystem,
			Content: req.System,
		})
	}
	for _, turn := range req.History {
		role := turn.Role
		switch role {
		case openai.ChatMessageRoleUser, openai.ChatMessageRoleAssistant, openai.ChatMessageRoleSystem:
		default:
			role = openai.ChatMessageRoleUser
		}
		messages = append(messages, openai.ChatCompletionMessage{Role: role, Content: turn.Content})
	}

	creq := openai.ChatCompletionRequest{
		Model:    p.model,
		Messages: messages,
	}
	if req.MaxTokens > 0 {
		creq.MaxTokens = req.MaxTokens
	}
	if req.ReasoningEffort != "" {
		creq.ReasoningEffort = req.ReasoningEffort
	}
	if req.Verbosity != "" {
		creq.Verbosity = req.Verbosity
	}

	resp, err := p.client.CreateChatCompletion(ctx, creq)
	if err != nil {
		return Response{}, err
	}
	if len(resp.Choices) == 0 {
		return Response{}, nil
	}
	choice := resp.Choices[0]
	return Response{
		Text:      choice.Message.Content,
		Truncated: choice.FinishReason == openai.FinishReasonLength,
	}, nil
}
