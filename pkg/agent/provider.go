package agent

import (
	"context"
	"fmt"

	"github.com/tabletalk/tabletalk/pkg/tools"
)

// LLMProvider is the language-model collaborator: given conversation
// context and tool descriptors, it returns the model's decision for the
// next step.
type LLMProvider interface {
	Decide(ctx context.Context, req DecideRequest) (*Decision, error)
	Provider() string
}

// DecideRequest is one model call.
type DecideRequest struct {
	Model       string
	System      string
	Messages    []Message
	Tools       []tools.Descriptor
	Temperature float64
	MaxTokens   int
}

// NewProvider creates an LLM provider by name.
func NewProvider(provider, apiKey string) (LLMProvider, error) {
	switch provider {
	case "openai":
		return NewOpenAIProvider(apiKey), nil
	case "anthropic":
		return NewAnthropicProvider(apiKey), nil
	default:
		return nil, fmt.Errorf("unsupported provider: %s", provider)
	}
}
