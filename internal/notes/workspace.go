package notes

import (
	"context"
	"fmt"
	"io"

	"go.uber.org/zap"

	"github.com/dshills/chronicle/internal/config"
	"github.com/dshills/chronicle/internal/errs"
	"github.com/dshills/chronicle/internal/evidence"
	"github.com/dshills/chronicle/internal/gateway"
	"github.com/dshills/chronicle/internal/gitctx"
	"github.com/dshills/chronicle/internal/segment"
	"github.com/dshills/chronicle/internal/store"
)

// PrepareOptions selects a repository and range to index.
type PrepareOptions struct {
	// Dir is any directory inside the repository; "" is the current one.
	Dir    string
	Range  string
	Config config.Config
	// Reindex rebuilds the index even when one exists for the range.
	Reindex bool
	Logger  *zap.Logger
}

// Workspace is an indexed range ready to be served.
type Workspace struct {
	Repo  *gitctx.Repo
	Meta  gitctx.RepoMeta
	Range gitctx.Range
	Store *store.Store
	Index *evidence.Index
	// Build is nil when an existing index was reused.
	Build *evidence.BuildResult
}

// IndexRoot returns the configured index root or the default one.
func IndexRoot(cfg config.Config) (string, error) {
	if cfg.IndexDir != "" {
		return cfg.IndexDir, nil
	}
	return store.DefaultRoot()
}

// Prepare resolves the range and loads its index, building it first when
// needed.
func Prepare(ctx context.Context, opts PrepareOptions) (*Workspace, error) {
	log := opts.Logger
	if log == nil {
		log = zap.NewNop()
	}
	repo, err := gitctx.Open(ctx, opts.Dir)
	if err != nil {
		return nil, err
	}
	rng, err := repo.ResolveRange(ctx, opts.Range)
	if err != nil {
		return nil, err
	}
	root, err := IndexRoot(opts.Config)
	if err != nil {
		return nil, err
	}
	w := &Workspace{Repo: repo, Meta: repo.Meta(ctx), Range: rng}

	if !opts.Reindex {
		st, idx, err := load(root, rng, opts.Config.Surfaces)
		switch {
		case err == nil:
			log.Debug("reusing evidence index", zap.String("dir", st.Dir()))
			w.Store, w.Index = st, idx
			return w, nil
		case errs.Is(err, errs.CodeNotFound):
		default:
			log.Warn("existing index unusable, rebuilding", zap.Error(err))
		}
	}

	st, res, err := build(ctx, repo, root, rng, opts.Config, log)
	if err != nil {
		return nil, err
	}
	w.Store, w.Index, w.Build = st, res.Index, res
	return w, nil
}

// Gateway returns a gateway over the workspace with fresh budgets.
func (w *Workspace) Gateway(cfg config.Config, log *zap.Logger) *gateway.Gateway {
	return gateway.New(w.Index, w.Store, w.Repo.Snapshot(w.Range.Head), gateway.Config{
		Budgets: cfg.Budgets,
		Limits:  cfg.Limits.Limits,
		Logger:  log,
	})
}

func load(root string, rng gitctx.Range, rules evidence.Rules) (*store.Store, *evidence.Index, error) {
	st, err := store.Open(root, rng.Base, rng.Head)
	if err != nil {
		return nil, nil, err
	}
	m, err := st.ReadManifest()
	if err != nil {
		return nil, nil, err
	}
	if err := st.Verify(m); err != nil {
		return nil, nil, err
	}
	return st, evidence.FromManifest(m, rules), nil
}

func build(ctx context.Context, repo *gitctx.Repo, root string, rng gitctx.Range, cfg config.Config, log *zap.Logger) (*store.Store, *evidence.BuildResult, error) {
	summary, err := repo.NameStatus(ctx, rng.Base, rng.Head)
	if err != nil {
		return nil, nil, err
	}
	st, err := store.Create(root, rng.Base, rng.Head)
	if err != nil {
		return nil, nil, err
	}
	filter := gitctx.Filter{Include: cfg.Include, Exclude: cfg.Exclude}
	opts := evidence.BuildOptions{
		Segment: segment.Options{
			MaxHunkBytes:      cfg.Limits.MaxHunkBytes,
			MaxTotalHunkBytes: cfg.Limits.MaxTotalHunkBytes,
			Skip:              filter.Skip,
		},
		Rules:   cfg.Surfaces,
		Summary: summary,
		Logger:  log,
	}

	var res *evidence.BuildResult
	err = repo.StreamDiff(ctx, rng.Base, rng.Head, gitctx.DiffOptions{ContextLines: cfg.ContextLines}, func(r io.Reader) error {
		var err error
		res, err = evidence.Build(r, st, opts)
		return err
	})
	if err != nil {
		if rmErr := st.Remove(); rmErr != nil {
			log.Warn("removing partial index", zap.Error(rmErr))
		}
		return nil, nil, fmt.Errorf("indexing %s: %w", rng.Spec, err)
	}
	log.Info("indexed range",
		zap.String("range", rng.Spec),
		zap.Int("files", res.Stats.Files),
		zap.Int("hunks", res.Stats.Hunks),
		zap.Int("skipped", res.Stats.SkippedFiles),
	)
	return st, res, nil
}
