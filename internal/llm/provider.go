package llm

import (
	"context"

	"github.com/lumenlab/oracle/internal/models"
)

// Request is one normalized generation request. Optional knobs left at
// their zero value are not sent to the provider.
type Request struct {
	System          string
	History         []models.Turn
	MaxTokens       int
	ReasoningEffort string
	Verbosity       string
}

// Response is the normalized provider output. Truncated is set when the
// provider stopped on its output-length limit, which is the cascade's cue
// to escalate the token cap or schedule a continuation.
type Response struct {
	Text      string
	Truncated bool
}

// Provider is one generation backend. Implementations normalize their wire
// shapes into Response; nothing above this boundary inspects provider
// payloads.
type Provider interface {
	Model() string
	Complete(ctx context.Context, req Request) (Response, error)
}

// TextCompletion is a convenience for single-shot internal calls (research
// planning, synthesis) that need plain text back.
func TextCompletion(ctx context.Context, p Provider, system, user string, maxTokens int) (string, error) {
	resp, err := p.Complete(ctx, Request{
		System:    system,
		History:   []models.Turn{{Role: "user", Content: user}},
		MaxTokens: maxTokens,
	})
	if err != nil {
		return "", err
	}
	return resp.Text, nil
}
