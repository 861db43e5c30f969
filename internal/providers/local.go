package providers

import (
	"fmt"
	"net/http"
	"os"
	"strings"
	"time"
)

// Default endpoints for local model servers.
const (
	defaultOllamaURL   = "http://localhost:11434"
	defaultLMStudioURL = "http://localhost:1234"
)

// NewLocal returns an OpenAI-compatible client for Ollama or LM Studio.
// OLLAMA_HOST or LMSTUDIO_HOST override the server address. No API key is
// required; CHRONICLE_LOCAL_API_KEY is sent when set.
func NewLocal(provider, model string) (*OpenAI, error) {
	var baseURL string
	switch provider {
	case "ollama":
		baseURL = firstEnv("OLLAMA_HOST", defaultOllamaURL)
	case "lmstudio":
		baseURL = firstEnv("LMSTUDIO_HOST", defaultLMStudioURL)
	default:
		return nil, fmt.Errorf("unknown local provider: %s", provider)
	}
	return &OpenAI{
		name:    provider,
		apiKey:  os.Getenv("CHRONICLE_LOCAL_API_KEY"),
		model:   model,
		baseURL: chatURL(baseURL),
		client:  &http.Client{Timeout: 300 * time.Second},
	}, nil
}

// chatURL normalizes a server address to its chat completions endpoint,
// accepting a bare host, a /v1 base or the full path.
func chatURL(base string) string {
	base = strings.TrimRight(base, "/")
	base = strings.TrimSuffix(base, "/v1/chat/completions")
	base = strings.TrimSuffix(base, "/v1")
	if !strings.Contains(base, "://") {
		base = "http://" + base
	}
	return base + "/v1/chat/completions"
}

func firstEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
