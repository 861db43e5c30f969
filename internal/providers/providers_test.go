package providers

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"
)

func init() {
	backoffBase = time.Millisecond
}

func TestNew_UnknownProvider(t *testing.T) {
	_, err := New("unknown", "model")
	if err == nil {
		t.Error("Expected error for unknown provider")
	}
}

func TestNew_MissingKey(t *testing.T) {
	t.Setenv("ANTHROPIC_API_KEY", "")
	t.Setenv("OPENAI_API_KEY", "")
	t.Setenv("GEMINI_API_KEY", "")
	t.Setenv("GOOGLE_API_KEY", "")
	for _, name := range []string{"anthropic", "openai", "gemini", "google"} {
		if _, err := New(name, "m"); err == nil {
			t.Errorf("New(%q) should fail without an API key", name)
		}
	}
}

func TestNew_Local(t *testing.T) {
	t.Setenv("OLLAMA_HOST", "")
	t.Setenv("LMSTUDIO_HOST", "127.0.0.1:9999/v1")
	c, err := New("ollama", "llama3")
	if err != nil {
		t.Fatalf("New(ollama) error: %v", err)
	}
	o := c.(*OpenAI)
	if o.Name() != "ollama" || o.baseURL != "http://localhost:11434/v1/chat/completions" {
		t.Errorf("ollama client = %s %s", o.Name(), o.baseURL)
	}
	c, err = New("lmstudio", "qwen")
	if err != nil {
		t.Fatalf("New(lmstudio) error: %v", err)
	}
	if got := c.(*OpenAI).baseURL; got != "http://127.0.0.1:9999/v1/chat/completions" {
		t.Errorf("lmstudio baseURL = %s", got)
	}
}

func TestChatURL(t *testing.T) {
	tests := []struct{ in, want string }{
		{"http://localhost:11434", "http://localhost:11434/v1/chat/completions"},
		{"http://localhost:11434/", "http://localhost:11434/v1/chat/completions"},
		{"http://localhost:11434/v1", "http://localhost:11434/v1/chat/completions"},
		{"http://localhost:11434/v1/chat/completions", "http://localhost:11434/v1/chat/completions"},
		{"gpu-box:8080", "http://gpu-box:8080/v1/chat/completions"},
	}
	for _, tt := range tests {
		if got := chatURL(tt.in); got != tt.want {
			t.Errorf("chatURL(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestAnthropic_Complete(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("x-api-key") != "test-key" {
			t.Error("Missing API key header")
		}
		if r.Header.Get("anthropic-version") != anthropicAPIVersion {
			t.Error("Missing anthropic-version header")
		}
		var body anthropicRequest
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			t.Errorf("decoding request: %v", err)
		}
		if body.System != "sys" || len(body.Messages) != 1 || body.Messages[0].Content != "user" {
			t.Errorf("unexpected request body: %+v", body)
		}
		if body.MaxTokens != defaultMaxTokens {
			t.Errorf("MaxTokens = %d, want %d", body.MaxTokens, defaultMaxTokens)
		}
		json.NewEncoder(w).Encode(anthropicResponse{
			Content: []anthropicBlock{{Type: "thinking", Text: "x"}, {Type: "text", Text: "[]"}},
			Usage:   anthropicUsage{InputTokens: 100, OutputTokens: 10},
		})
	}))
	defer server.Close()

	a := &Anthropic{apiKey: "test-key", model: "claude", endpoint: server.URL, client: server.Client()}
	resp, err := a.Complete(context.Background(), Request{System: "sys", Prompt: "user"})
	if err != nil {
		t.Fatalf("Complete error: %v", err)
	}
	if resp.Content != "[]" {
		t.Errorf("Content = %q, want %q", resp.Content, "[]")
	}
	if resp.TokensUsed != 110 {
		t.Errorf("TokensUsed = %d, want 110", resp.TokensUsed)
	}
}

func TestAnthropic_EmptyContent(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(anthropicResponse{Content: []anthropicBlock{}})
	}))
	defer server.Close()

	a := &Anthropic{apiKey: "k", model: "claude", endpoint: server.URL, client: server.Client()}
	if _, err := a.Complete(context.Background(), Request{Prompt: "p"}); err == nil {
		t.Error("Expected error for empty content")
	}
}

func TestAnthropic_ServerErrorRetried(t *testing.T) {
	var attempts int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if atomic.AddInt32(&attempts, 1) <= 2 {
			w.WriteHeader(500)
			w.Write([]byte(`{"error":"internal server error"}`))
			return
		}
		json.NewEncoder(w).Encode(anthropicResponse{Content: []anthropicBlock{{Type: "text", Text: "ok"}}})
	}))
	defer server.Close()

	a := &Anthropic{apiKey: "k", model: "claude", endpoint: server.URL, client: server.Client()}
	resp, err := a.Complete(context.Background(), Request{Prompt: "p"})
	if err != nil {
		t.Fatalf("Complete should succeed after retries: %v", err)
	}
	if resp.Content != "ok" || atomic.LoadInt32(&attempts) != 3 {
		t.Errorf("content %q after %d attempts", resp.Content, attempts)
	}
}

func TestOpenAI_Complete(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Authorization") != "Bearer test-key" {
			t.Error("Missing or wrong Authorization header")
		}
		var body openaiRequest
		json.NewDecoder(r.Body).Decode(&body)
		if len(body.Messages) != 2 || body.Messages[0].Role != "system" {
			t.Errorf("unexpected messages: %+v", body.Messages)
		}
		if body.Temperature == nil || *body.Temperature != 0.2 {
			t.Errorf("Temperature = %v, want 0.2", body.Temperature)
		}
		json.NewEncoder(w).Encode(openaiResponse{
			Choices: []openaiChoice{{Message: openaiMessage{Role: "assistant", Content: "[]"}}},
			Usage:   openaiUsage{TotalTokens: 50},
		})
	}))
	defer server.Close()

	o := &OpenAI{name: "openai", apiKey: "test-key", model: "gpt-4o", baseURL: server.URL, client: server.Client()}
	resp, err := o.Complete(context.Background(), Request{System: "s", Prompt: "p", Temperature: 0.2})
	if err != nil {
		t.Fatalf("Complete error: %v", err)
	}
	if resp.Content != "[]" || resp.TokensUsed != 50 {
		t.Errorf("resp = %+v", resp)
	}
}

func TestOpenAI_Keyless(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Authorization") != "" {
			t.Error("Expected no Authorization header for keyless server")
		}
		json.NewEncoder(w).Encode(openaiResponse{
			Choices: []openaiChoice{{Message: openaiMessage{Content: "{}"}}},
		})
	}))
	defer server.Close()

	o := &OpenAI{name: "ollama", model: "llama3", baseURL: server.URL, client: server.Client()}
	if _, err := o.Complete(context.Background(), Request{Prompt: "p"}); err != nil {
		t.Fatalf("Complete error: %v", err)
	}
}

func TestOpenAI_Errors(t *testing.T) {
	tests := []struct {
		name    string
		handler http.HandlerFunc
		auth    bool
	}{
		{"no choices", func(w http.ResponseWriter, r *http.Request) {
			json.NewEncoder(w).Encode(openaiResponse{})
		}, false},
		{"empty content", func(w http.ResponseWriter, r *http.Request) {
			json.NewEncoder(w).Encode(openaiResponse{Choices: []openaiChoice{{}}})
		}, false},
		{"bad json", func(w http.ResponseWriter, r *http.Request) {
			w.Write([]byte("not json"))
		}, false},
		{"bad request", func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(400)
		}, false},
		{"unauthorized", func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(401)
			w.Write([]byte(`{"error":"unauthorized"}`))
		}, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			server := httptest.NewServer(tt.handler)
			defer server.Close()
			o := &OpenAI{apiKey: "k", model: "m", baseURL: server.URL, client: server.Client()}
			_, err := o.Complete(context.Background(), Request{Prompt: "p"})
			if err == nil {
				t.Fatal("expected error")
			}
			if IsAuthError(err) != tt.auth {
				t.Errorf("IsAuthError = %v, want %v (%v)", IsAuthError(err), tt.auth, err)
			}
		})
	}
}

func TestOpenAI_RateLimitRetried(t *testing.T) {
	var attempts int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if atomic.AddInt32(&attempts, 1) <= 2 {
			w.WriteHeader(429)
			return
		}
		json.NewEncoder(w).Encode(openaiResponse{
			Choices: []openaiChoice{{Message: openaiMessage{Content: "[]"}}},
		})
	}))
	defer server.Close()

	o := &OpenAI{apiKey: "k", model: "m", baseURL: server.URL, client: server.Client()}
	if _, err := o.Complete(context.Background(), Request{Prompt: "p"}); err != nil {
		t.Fatalf("Complete should succeed after retries: %v", err)
	}
	if got := atomic.LoadInt32(&attempts); got != 3 {
		t.Errorf("attempts = %d, want 3", got)
	}
}

func TestOpenAI_RetriesExhausted(t *testing.T) {
	var attempts int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&attempts, 1)
		w.WriteHeader(503)
	}))
	defer server.Close()

	o := &OpenAI{apiKey: "k", model: "m", baseURL: server.URL, client: server.Client()}
	_, err := o.Complete(context.Background(), Request{Prompt: "p"})
	if !isRetryable(err) {
		t.Errorf("error = %v, want the last server error", err)
	}
	if got := atomic.LoadInt32(&attempts); got != maxRetries+1 {
		t.Errorf("attempts = %d, want %d", got, maxRetries+1)
	}
}

func TestGemini_Complete(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("x-goog-api-key") != "test-key" {
			t.Error("Missing API key in x-goog-api-key header")
		}
		if r.URL.Path != "/gemini-2.0-flash:generateContent" {
			t.Errorf("path = %s", r.URL.Path)
		}
		if r.URL.Query().Get("key") != "" {
			t.Error("API key must not be sent in the query string")
		}
		json.NewEncoder(w).Encode(geminiResponse{
			Candidates: []geminiCandidate{{Content: geminiContent{Parts: []geminiPart{{Text: "["}, {Text: "]"}}}}},
			UsageMetadata: geminiUsage{TotalTokenCount: 75},
		})
	}))
	defer server.Close()

	g := &Gemini{apiKey: "test-key", model: "gemini-2.0-flash", endpoint: server.URL, client: server.Client()}
	resp, err := g.Complete(context.Background(), Request{System: "s", Prompt: "p"})
	if err != nil {
		t.Fatalf("Complete error: %v", err)
	}
	if resp.Content != "[]" || resp.TokensUsed != 75 {
		t.Errorf("resp = %+v", resp)
	}
}

func TestGemini_Errors(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/denied:generateContent" {
			w.WriteHeader(403)
			return
		}
		json.NewEncoder(w).Encode(geminiResponse{})
	}))
	defer server.Close()

	g := &Gemini{apiKey: "k", model: "denied", endpoint: server.URL, client: server.Client()}
	if _, err := g.Complete(context.Background(), Request{Prompt: "p"}); !IsAuthError(err) {
		t.Errorf("expected auth error, got %v", err)
	}
	g.model = "empty"
	if _, err := g.Complete(context.Background(), Request{Prompt: "p"}); err == nil {
		t.Error("expected error for no candidates")
	}
}

func TestIsRetryable(t *testing.T) {
	if isRetryable(&authError{message: "test"}) {
		t.Error("authError should not be retryable")
	}
	if !isRetryable(&rateLimitError{}) {
		t.Error("rateLimitError should be retryable")
	}
	if !isRetryable(&serverError{statusCode: 500}) {
		t.Error("serverError should be retryable")
	}
	if isRetryable(context.Canceled) {
		t.Error("context.Canceled should not be retryable")
	}
}

func TestErrorMessages(t *testing.T) {
	if got := (&rateLimitError{}).Error(); got != "rate limited" {
		t.Errorf("rateLimitError.Error() = %q", got)
	}
	if got := (&serverError{statusCode: 500, body: "oops"}).Error(); got != "server error: oops" {
		t.Errorf("serverError.Error() = %q", got)
	}
	if got := (&authError{message: "bad key"}).Error(); got != "authentication error: bad key" {
		t.Errorf("authError.Error() = %q", got)
	}
}

func TestRetryAfter(t *testing.T) {
	h := http.Header{}
	if retryAfter(h) != 0 {
		t.Error("missing header should give zero")
	}
	h.Set("Retry-After", "3")
	if retryAfter(h) != 3*time.Second {
		t.Errorf("retryAfter = %v", retryAfter(h))
	}
	h.Set("Retry-After", "Wed, 21 Oct 2015 07:28:00 GMT")
	if retryAfter(h) != 0 {
		t.Error("date form is not supported and should give zero")
	}
}

func TestRetryWithBackoff_ContextCancellation(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := retryWithBackoff(ctx, 3, func() error {
		return &rateLimitError{}
	})
	if err != context.Canceled {
		t.Errorf("Expected context.Canceled, got: %v", err)
	}
}

func TestRetryWithBackoff_NonRetryable(t *testing.T) {
	attempts := 0
	err := retryWithBackoff(context.Background(), 3, func() error {
		attempts++
		return &authError{message: "bad"}
	})
	if attempts != 1 {
		t.Errorf("Expected 1 attempt for auth error, got %d", attempts)
	}
	if !IsAuthError(err) {
		t.Errorf("Expected auth error, got: %v", err)
	}
}
