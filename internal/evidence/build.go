package evidence

import (
	"fmt"
	"io"

	"go.uber.org/zap"

	"github.com/dshills/chronicle/internal/segment"
	"github.com/dshills/chronicle/internal/store"
)

// BuildOptions configures Build.
type BuildOptions struct {
	Segment segment.Options
	Rules   Rules
	// Summary is the change summary reported independently of the diff
	// text (git name-status). When set, files it lists that the diff did
	// not produce are added with a meta hunk, and kind disagreements are
	// logged.
	Summary []segment.FileChange
	Logger  *zap.Logger
}

// BuildResult reports what Build produced.
type BuildResult struct {
	Index    *Index
	Manifest store.Manifest
	Stats    segment.Stats
	// Added lists paths that came from the summary cross-check only.
	Added []string
}

type storeSink struct {
	st      *store.Store
	pending []string
	files   []store.ManifestFile
}

func (s *storeSink) Hunk(h segment.Hunk) error {
	id, err := s.st.Put(h)
	if err != nil {
		return err
	}
	s.pending = append(s.pending, id)
	return nil
}

func (s *storeSink) File(fc segment.FileChange) error {
	s.files = append(s.files, store.ManifestFile{
		Path:       fc.Path,
		OldPath:    fc.OldPath,
		ChangeKind: fc.Kind,
		IsBinary:   fc.Binary,
		HunkIDs:    s.pending,
	})
	s.pending = nil
	return nil
}

// Build segments the diff read from r into st, writes the range manifest and
// returns the resulting index. st should be freshly created.
func Build(r io.Reader, st *store.Store, opts BuildOptions) (*BuildResult, error) {
	log := opts.Logger
	if log == nil {
		log = zap.NewNop()
	}
	sink := &storeSink{st: st}
	stats, err := segment.Run(r, opts.Segment, sink)
	if err != nil {
		return nil, fmt.Errorf("segmenting diff: %w", err)
	}

	res := &BuildResult{Stats: stats}
	if opts.Summary != nil {
		added, err := crossCheck(sink, opts, log)
		if err != nil {
			return nil, err
		}
		res.Added = added
	}

	m := store.Manifest{Files: sink.files}
	if err := st.WriteManifest(m); err != nil {
		return nil, err
	}
	m, err = st.ReadManifest()
	if err != nil {
		return nil, err
	}
	res.Manifest = m
	res.Index = FromManifest(m, opts.Rules)

	log.Debug("evidence index built",
		zap.String("range", store.RangeName(st.Base(), st.Head())),
		zap.Int("files", stats.Files),
		zap.Int("hunks", stats.Hunks),
		zap.Int("metaHunks", stats.MetaHunks),
		zap.Int("truncated", stats.TruncatedHunks),
		zap.Int("bytes", stats.TotalBytes),
	)
	return res, nil
}

func crossCheck(sink *storeSink, opts BuildOptions, log *zap.Logger) ([]string, error) {
	seen := make(map[string]int, len(sink.files))
	for i, f := range sink.files {
		seen[f.Path] = i
	}
	var added []string
	for _, fc := range opts.Summary {
		if opts.Segment.Skip != nil && opts.Segment.Skip(fc.Path) {
			continue
		}
		i, ok := seen[fc.Path]
		if !ok {
			log.Warn("file in change summary missing from diff", zap.String("path", fc.Path), zap.String("kind", string(fc.Kind)))
			if err := sink.Hunk(segment.MetaHunk(fc)); err != nil {
				return nil, err
			}
			if err := sink.File(fc); err != nil {
				return nil, err
			}
			seen[fc.Path] = len(sink.files) - 1
			added = append(added, fc.Path)
			continue
		}
		got := sink.files[i]
		if got.ChangeKind != fc.Kind || got.OldPath != fc.OldPath {
			log.Warn("change summary disagrees with diff",
				zap.String("path", fc.Path),
				zap.String("diffKind", string(got.ChangeKind)),
				zap.String("summaryKind", string(fc.Kind)),
				zap.String("diffOldPath", got.OldPath),
				zap.String("summaryOldPath", fc.OldPath),
			)
		}
	}
	return added, nil
}
