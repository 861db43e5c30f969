package providers

import (
	"context"
	"fmt"
)

// Request is one completion call.
type Request struct {
	System      string
	Prompt      string
	MaxTokens   int
	Temperature float64
}

// Response is the raw text a model returned.
type Response struct {
	Content    string
	TokensUsed int
}

// Completer is the provider abstraction.
type Completer interface {
	Complete(ctx context.Context, req Request) (Response, error)
	Name() string
}

// defaultMaxTokens applies when Request.MaxTokens is zero.
const defaultMaxTokens = 4096

// Names lists the supported provider names.
var Names = []string{"anthropic", "openai", "gemini", "ollama", "lmstudio"}

// New creates a provider by name.
func New(provider, model string) (Completer, error) {
	switch provider {
	case "anthropic":
		return NewAnthropic(model)
	case "openai":
		return NewOpenAI(model)
	case "gemini", "google":
		return NewGemini(model)
	case "ollama", "lmstudio":
		return NewLocal(provider, model)
	default:
		return nil, fmt.Errorf("unknown provider: %s", provider)
	}
}

func maxTokens(req Request) int {
	if req.MaxTokens > 0 {
		return req.MaxTokens
	}
	return defaultMaxTokens
}
