package notes

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync"

	"go.uber.org/zap"

	"github.com/dshills/chronicle/internal/cache"
	"github.com/dshills/chronicle/internal/evidence"
	"github.com/dshills/chronicle/internal/gateway"
	"github.com/dshills/chronicle/internal/providers"
	"github.com/dshills/chronicle/internal/reconcile"
	"github.com/dshills/chronicle/internal/redact"
	"github.com/dshills/chronicle/internal/rounds"
)

// Drafter proposes retrieval rounds and then drafts items from the
// evidence gathered.
type Drafter interface {
	rounds.Generator
	Draft(ctx context.Context, idx *evidence.Index, t rounds.Transcript) ([]reconcile.Item, error)
}

// GeneratorOptions configures an LLMGenerator.
type GeneratorOptions struct {
	// Model is part of the cache key.
	Model     string
	MaxTokens int
	MaxNotes  int
	Redactor  redact.Redactor
	// Cache may be nil.
	Cache   *cache.Cache
	Budgets func() []gateway.Usage
	Logger  *zap.Logger
}

// LLMGenerator drives rounds and drafting through a language model.
type LLMGenerator struct {
	llm  providers.Completer
	opts GeneratorOptions
	log  *zap.Logger

	mu    sync.Mutex
	usage Usage
}

// NewGenerator returns a generator backed by llm.
func NewGenerator(llm providers.Completer, opts GeneratorOptions) *LLMGenerator {
	log := opts.Logger
	if log == nil {
		log = zap.NewNop()
	}
	return &LLMGenerator{llm: llm, opts: opts, log: log}
}

// Usage reports model calls made so far.
func (g *LLMGenerator) Usage() Usage {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.usage
}

type roundResponse struct {
	Done     bool                  `json:"done"`
	Requests []gateway.WireRequest `json:"requests"`
}

// NextRound implements rounds.Generator.
func (g *LLMGenerator) NextRound(ctx context.Context, idx *evidence.Index, t rounds.Transcript) (*rounds.Bundle, error) {
	prompt := BuildRoundPrompt(idx, t, g.promptOptions())
	var bundle *rounds.Bundle
	err := g.exchange(ctx, RoundSystemPrompt(), prompt, "a JSON object with \"done\" and \"requests\"", func(content string) error {
		b, err := g.parseRound(content)
		if err != nil {
			return err
		}
		bundle = b
		return nil
	})
	if err != nil {
		return nil, err
	}
	return bundle, nil
}

// Draft asks the model for items citing the gathered evidence.
func (g *LLMGenerator) Draft(ctx context.Context, idx *evidence.Index, t rounds.Transcript) ([]reconcile.Item, error) {
	prompt := BuildDraftPrompt(idx, t, g.promptOptions())
	var items []reconcile.Item
	err := g.exchange(ctx, DraftSystemPrompt(), prompt, "a JSON array of notes", func(content string) error {
		parsed, err := parseItems(content)
		if err != nil {
			return err
		}
		items = parsed
		return nil
	})
	if err != nil {
		return nil, err
	}
	return items, nil
}

func (g *LLMGenerator) promptOptions() PromptOptions {
	return PromptOptions{Redactor: g.opts.Redactor, MaxNotes: g.opts.MaxNotes, Budgets: g.opts.Budgets}
}

// exchange sends one prompt and parses the reply, allowing one repair pass
// when the reply does not parse. Only replies that parse are cached.
func (g *LLMGenerator) exchange(ctx context.Context, system, prompt, want string, parse func(string) error) error {
	content, cached, err := g.complete(ctx, system, prompt)
	if err != nil {
		return err
	}
	perr := parse(content)
	if perr == nil {
		if !cached && strings.TrimSpace(content) != "" {
			g.store(system, prompt, content)
		}
		return nil
	}

	g.log.Warn("model reply did not parse, attempting repair", zap.Error(perr))
	g.mu.Lock()
	g.usage.Repairs++
	g.mu.Unlock()
	repairPrompt := fmt.Sprintf(
		"Your previous response was not valid JSON. The error was: %s\n\nPlease fix it and respond with ONLY %s.\n\nYour previous response was:\n%s",
		perr.Error(), want, content,
	)
	content2, err := g.call(ctx, system, repairPrompt)
	if err != nil {
		return fmt.Errorf("repair pass failed: %w (original error: %w)", err, perr)
	}
	if err := parse(content2); err != nil {
		return fmt.Errorf("response validation failed after repair: %w", err)
	}
	if strings.TrimSpace(content2) != "" {
		g.store(system, prompt, content2)
	}
	return nil
}

func (g *LLMGenerator) cacheKey(system, prompt string) cache.Key {
	return cache.Key{Provider: g.llm.Name(), Model: g.opts.Model, System: system, Prompt: prompt}
}

func (g *LLMGenerator) complete(ctx context.Context, system, prompt string) (string, bool, error) {
	if g.opts.Cache != nil {
		if content, ok := g.opts.Cache.Get(g.cacheKey(system, prompt)); ok {
			g.mu.Lock()
			g.usage.CacheHits++
			g.mu.Unlock()
			g.log.Debug("model reply served from cache")
			return content, true, nil
		}
	}
	content, err := g.call(ctx, system, prompt)
	return content, false, err
}

func (g *LLMGenerator) call(ctx context.Context, system, prompt string) (string, error) {
	resp, err := g.llm.Complete(ctx, providers.Request{
		System:    system,
		Prompt:    prompt,
		MaxTokens: g.opts.MaxTokens,
	})
	if err != nil {
		return "", fmt.Errorf("%s: %w", g.llm.Name(), err)
	}
	g.mu.Lock()
	g.usage.Calls++
	g.usage.TokensUsed += resp.TokensUsed
	g.mu.Unlock()
	return resp.Content, nil
}

func (g *LLMGenerator) store(system, prompt, content string) {
	if g.opts.Cache == nil {
		return
	}
	if err := g.opts.Cache.Put(g.cacheKey(system, prompt), content); err != nil {
		g.log.Warn("caching model reply", zap.Error(err))
	}
}

// parseRound decodes a round reply. A blank reply is an empty, unfinished
// round. Entries that do not name a known kind are dropped; field
// validation is left to the gateway.
func (g *LLMGenerator) parseRound(content string) (*rounds.Bundle, error) {
	body := stripFences(content)
	if strings.TrimSpace(body) == "" {
		g.log.Warn("model returned an empty round reply, treating it as no requests")
		return &rounds.Bundle{}, nil
	}
	var raw roundResponse
	if err := json.Unmarshal([]byte(body), &raw); err != nil {
		return nil, fmt.Errorf("invalid JSON object: %w", err)
	}
	b := &rounds.Bundle{Done: raw.Done}
	for _, w := range raw.Requests {
		reqs, err := w.Requests()
		if err != nil {
			g.log.Warn("dropping unusable request", zap.String("kind", string(w.Kind)), zap.Error(err))
			continue
		}
		b.Requests = append(b.Requests, reqs...)
	}
	return b, nil
}

func parseItems(content string) ([]reconcile.Item, error) {
	var items []reconcile.Item
	if err := json.Unmarshal([]byte(stripFences(content)), &items); err != nil {
		return nil, fmt.Errorf("invalid JSON array: %w", err)
	}
	if items == nil {
		items = []reconcile.Item{}
	}
	return items, nil
}

// stripFences removes a surrounding markdown code fence.
func stripFences(content string) string {
	content = strings.TrimSpace(content)
	if !strings.HasPrefix(content, "```") {
		return content
	}
	lines := strings.Split(content, "\n")
	if len(lines) < 2 {
		return content
	}
	end := len(lines)
	if strings.TrimSpace(lines[end-1]) == "```" {
		end--
	}
	return strings.Join(lines[1:end], "\n")
}
