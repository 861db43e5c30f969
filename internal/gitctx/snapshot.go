package gitctx

import (
	"context"
	"fmt"
	"io/fs"
	"sort"
	"strings"
	"sync"

	"github.com/dshills/chronicle/internal/errs"
)

// Snapshot reads files at one commit without touching the work tree.
// The tree listing is loaded on first use and reused.
type Snapshot struct {
	repo   *Repo
	commit string

	mu    sync.Mutex
	blobs map[string]string // path -> blob id
	paths []string
}

// Snapshot returns read access to commit.
func (r *Repo) Snapshot(commit string) *Snapshot {
	return &Snapshot{repo: r, commit: commit}
}

// Commit returns the commit the snapshot is bound to.
func (s *Snapshot) Commit() string { return s.commit }

// ListFiles returns every regular file at the commit, sorted. Symlinks and
// submodules are left out.
func (s *Snapshot) ListFiles(ctx context.Context) ([]string, error) {
	if err := s.load(ctx); err != nil {
		return nil, err
	}
	return append([]string(nil), s.paths...), nil
}

// ReadFile returns the content of p at the commit. A path that is not a
// regular file there returns an error matching fs.ErrNotExist.
func (s *Snapshot) ReadFile(ctx context.Context, p string) ([]byte, error) {
	if err := s.load(ctx); err != nil {
		return nil, err
	}
	blob, ok := s.blobs[p]
	if !ok {
		return nil, &fs.PathError{Op: "read", Path: p, Err: fs.ErrNotExist}
	}
	out, err := s.repo.output(ctx, "cat-file", "blob", blob)
	if err != nil {
		return nil, fmt.Errorf("git cat-file %s (%s): %w", blob, p, err)
	}
	return []byte(out), nil
}

func (s *Snapshot) load(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.blobs != nil {
		return nil
	}
	out, err := s.repo.output(ctx, "ls-tree", "-r", "-z", "--full-tree", s.commit)
	if err != nil {
		return fmt.Errorf("git ls-tree %s: %w", s.commit, err)
	}
	blobs, err := parseTree(out)
	if err != nil {
		return err
	}
	paths := make([]string, 0, len(blobs))
	for p := range blobs {
		paths = append(paths, p)
	}
	sort.Strings(paths)
	s.blobs, s.paths = blobs, paths
	return nil
}

// parseTree parses "<mode> <type> <object>\t<path>" records separated by NUL.
func parseTree(out string) (map[string]string, error) {
	blobs := make(map[string]string)
	for _, rec := range strings.Split(out, "\x00") {
		if rec == "" {
			continue
		}
		meta, p, ok := strings.Cut(rec, "\t")
		f := strings.Fields(meta)
		if !ok || len(f) != 3 {
			return nil, errs.Malformed("ls-tree", "bad record "+rec, nil)
		}
		if f[1] != "blob" || f[0] == "120000" {
			continue
		}
		blobs[p] = f[2]
	}
	return blobs, nil
}
