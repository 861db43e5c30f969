package notes

import (
	"context"
	"crypto/rand"
	"fmt"
	"time"

	"github.com/oklog/ulid/v2"
	"go.uber.org/zap"

	"github.com/dshills/chronicle/internal/cache"
	"github.com/dshills/chronicle/internal/config"
	"github.com/dshills/chronicle/internal/gateway"
	"github.com/dshills/chronicle/internal/gitctx"
	"github.com/dshills/chronicle/internal/providers"
	"github.com/dshills/chronicle/internal/reconcile"
	"github.com/dshills/chronicle/internal/redact"
	"github.com/dshills/chronicle/internal/rounds"
)

// Options configures Run.
type Options struct {
	Dir     string
	Range   string
	Config  config.Config
	Reindex bool
	Version string
	// Generator replaces the model-backed generator when set.
	Generator Drafter
	Logger    *zap.Logger
}

// Run indexes the range, runs the retrieval rounds, drafts notes and
// reconciles them into a report.
func Run(ctx context.Context, opts Options) (*Report, error) {
	start := time.Now()
	log := opts.Logger
	if log == nil {
		log = zap.NewNop()
	}
	cfg := opts.Config

	ws, err := Prepare(ctx, PrepareOptions{
		Dir:     opts.Dir,
		Range:   opts.Range,
		Config:  cfg,
		Reindex: opts.Reindex,
		Logger:  log,
	})
	if err != nil {
		return nil, err
	}
	indexMs := time.Since(start).Milliseconds()

	commits, err := ws.Repo.ListCommits(ctx, ws.Range.Base, ws.Range.Head)
	if err != nil {
		log.Warn("listing commits", zap.Error(err))
	}
	if commits == nil {
		commits = []gitctx.CommitInfo{}
	}

	report := &Report{
		Tool:     Tool,
		Version:  opts.Version,
		RunID:    newRunID(start),
		Provider: cfg.Provider,
		Model:    cfg.Model,
		Repo:     ws.Meta,
		Range:    ws.Range,
		Commits:  commits,
		Evidence: EvidenceInfo{
			Files:    ws.Index.Len(),
			Hunks:    len(ws.Index.HunkIDs()),
			Surfaces: ws.Index.SurfaceCounts(),
			Reused:   ws.Build == nil,
		},
		Notes: []reconcile.Note{},
	}

	gw := ws.Gateway(cfg, log)
	if ws.Index.Len() == 0 {
		log.Info("range has no indexed changes", zap.String("range", ws.Range.Spec))
		report.Budgets = gw.Usage()
		report.Timing = Timing{IndexMs: indexMs, TotalMs: time.Since(start).Milliseconds()}
		return report, nil
	}

	gen := opts.Generator
	if gen == nil {
		llm, err := newGenerator(cfg, gw.Usage, log)
		if err != nil {
			return nil, err
		}
		gen = llm
	}

	roundsStart := time.Now()
	res, err := rounds.New(gw, gen, rounds.Options{MaxRounds: cfg.Limits.MaxRounds, Logger: log}).Run(ctx)
	if err != nil {
		return nil, err
	}
	roundsMs := time.Since(roundsStart).Milliseconds()

	draftStart := time.Now()
	items, err := gen.Draft(ctx, ws.Index, res.Transcript)
	if err != nil {
		return nil, fmt.Errorf("drafting notes: %w", err)
	}
	draftMs := time.Since(draftStart).Milliseconds()

	notes, stats := reconcile.Run(items, ws.Index)
	if cfg.MaxNotes > 0 && len(notes) > cfg.MaxNotes {
		report.Truncated = len(notes) - cfg.MaxNotes
		notes = notes[:cfg.MaxNotes]
	}
	log.Info("notes reconciled",
		zap.Int("input", stats.Input),
		zap.Int("output", stats.Output),
		zap.Int("recovered", stats.Recovered),
		zap.Int("dropped", stats.Dropped),
	)

	report.Notes = notes
	report.Reconcile = stats
	report.Rounds = res.Summary
	report.Budgets = gw.Usage()
	if u, ok := gen.(interface{ Usage() Usage }); ok {
		report.Usage = u.Usage()
	}
	report.Timing = Timing{
		IndexMs:  indexMs,
		RoundsMs: roundsMs,
		DraftMs:  draftMs,
		TotalMs:  time.Since(start).Milliseconds(),
	}
	return report, nil
}

func newGenerator(cfg config.Config, budgets func() []gateway.Usage, log *zap.Logger) (*LLMGenerator, error) {
	llm, err := providers.New(cfg.Provider, cfg.Model)
	if err != nil {
		return nil, fmt.Errorf("creating provider: %w", err)
	}
	c, err := cache.New(cfg.Cache.Enabled, cfg.Cache.Dir, cfg.Cache.TTLSeconds)
	if err != nil {
		return nil, err
	}
	return NewGenerator(llm, GeneratorOptions{
		Model:     cfg.Model,
		MaxTokens: cfg.MaxTokens,
		MaxNotes:  cfg.MaxNotes,
		Redactor: redact.Redactor{
			Paths:       cfg.Privacy.RedactPaths,
			KeepSecrets: !cfg.Privacy.RedactSecrets,
		},
		Cache:   c,
		Budgets: budgets,
		Logger:  log,
	}), nil
}

func newRunID(t time.Time) string {
	entropy := ulid.Monotonic(rand.Reader, 0)
	return ulid.MustNew(ulid.Timestamp(t), entropy).String()
}
