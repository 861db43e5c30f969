// Package providers implements the Completer interface for each supported
// LLM provider.
//
// Supported providers: Anthropic (Claude), OpenAI (GPT), Google (Gemini), and
// Ollama / LM Studio through their OpenAI-compatible endpoints.
//
// All providers share one HTTP helper that retries rate limits and 5xx
// responses with exponential back-off. Clients keep their endpoint in a
// field so tests can point them at an httptest server.
//
// Use [New] to obtain a Completer by provider name and model string.
package providers
