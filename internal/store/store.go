package store

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/dshills/chronicle/internal/errs"
	"github.com/dshills/chronicle/internal/segment"
)

const (
	manifestName = "manifest.json"
	hunksDir     = "hunks"
	hunkExt      = ".hunk"
)

// Store holds the hunks and manifest of one base..head range.
type Store struct {
	root string
	dir  string
	base string
	head string
}

// RangeName returns the directory name used for a base..head range.
func RangeName(base, head string) string {
	return base + ".." + head
}

func validRev(rev string) error {
	if rev == "" {
		return errs.InvalidRequest("empty revision")
	}
	if strings.ContainsAny(rev, "/\\\x00") || strings.Contains(rev, "..") || strings.HasPrefix(rev, "-") || strings.HasPrefix(rev, ".") {
		return errs.InvalidRequest("revision %q cannot name an index directory", rev)
	}
	return nil
}

func newStore(root, base, head string) (*Store, error) {
	if err := validRev(base); err != nil {
		return nil, err
	}
	if err := validRev(head); err != nil {
		return nil, err
	}
	if root == "" {
		r, err := DefaultRoot()
		if err != nil {
			return nil, err
		}
		root = r
	}
	return &Store{
		root: root,
		dir:  filepath.Join(root, RangeName(base, head)),
		base: base,
		head: head,
	}, nil
}

// Create prepares an empty store for base..head, removing anything left from
// a previous index of the same range.
func Create(root, base, head string) (*Store, error) {
	s, err := newStore(root, base, head)
	if err != nil {
		return nil, err
	}
	if err := os.RemoveAll(s.dir); err != nil {
		return nil, fmt.Errorf("clearing index directory: %w", err)
	}
	if err := os.MkdirAll(filepath.Join(s.dir, hunksDir), 0o755); err != nil {
		return nil, fmt.Errorf("creating index directory: %w", err)
	}
	return s, nil
}

// Open returns the existing store for base..head. It fails with
// errs.CodeNotFound when the range has not been indexed.
func Open(root, base, head string) (*Store, error) {
	s, err := newStore(root, base, head)
	if err != nil {
		return nil, err
	}
	if _, err := os.Stat(filepath.Join(s.dir, manifestName)); err != nil {
		if os.IsNotExist(err) {
			return nil, errs.NotFound("index for " + RangeName(base, head))
		}
		return nil, fmt.Errorf("opening index: %w", err)
	}
	return s, nil
}

// Dir returns the range directory.
func (s *Store) Dir() string { return s.dir }

// Base returns the base revision.
func (s *Store) Base() string { return s.base }

// Head returns the head revision.
func (s *Store) Head() string { return s.head }

func (s *Store) hunkPath(id string) string {
	return filepath.Join(s.dir, hunksDir, id+hunkExt)
}

// Put stores h and returns its id. Storing the same content again is a
// no-op that returns the same id.
func (s *Store) Put(h segment.Hunk) (string, error) {
	data := Encode(h)
	id := HashID(data)
	path := s.hunkPath(id)
	if _, err := os.Stat(path); err == nil {
		return id, nil
	}
	if err := writeAtomic(path, data); err != nil {
		return "", fmt.Errorf("writing hunk %s: %w", id, err)
	}
	return id, nil
}

// Read loads and verifies a single hunk.
func (s *Store) Read(id string) (segment.Hunk, error) {
	if !ValidID(id) {
		return segment.Hunk{}, errs.InvalidRequest("invalid hunk id %q", id)
	}
	data, err := os.ReadFile(s.hunkPath(id))
	if err != nil {
		if os.IsNotExist(err) {
			return segment.Hunk{}, errs.NotFound("hunk " + id)
		}
		return segment.Hunk{}, fmt.Errorf("reading hunk %s: %w", id, err)
	}
	return Decode(id, data)
}

// Get loads every id in order. When maxBytes is positive and the encoded
// size of the whole set exceeds it, nothing is returned and the error has
// code errs.CodeBudgetExceeded.
func (s *Store) Get(ids []string, maxBytes int) ([]segment.Hunk, error) {
	if maxBytes > 0 {
		total := 0
		for _, id := range ids {
			n, err := s.encodedSize(id)
			if err != nil {
				return nil, err
			}
			total += n
		}
		if total > maxBytes {
			return nil, errs.BudgetExceeded("hunk", total, maxBytes)
		}
	}
	out := make([]segment.Hunk, 0, len(ids))
	for _, id := range ids {
		h, err := s.Read(id)
		if err != nil {
			return nil, err
		}
		out = append(out, h)
	}
	return out, nil
}

func (s *Store) encodedSize(id string) (int, error) {
	if !ValidID(id) {
		return 0, errs.InvalidRequest("invalid hunk id %q", id)
	}
	info, err := os.Stat(s.hunkPath(id))
	if err != nil {
		if os.IsNotExist(err) {
			return 0, errs.NotFound("hunk " + id)
		}
		return 0, fmt.Errorf("stat hunk %s: %w", id, err)
	}
	return int(info.Size()), nil
}

// Verify checks that every hunk m lists is present on disk. A missing or
// unreadable hunk file is reported as errs.CodeMalformed naming the id.
func (s *Store) Verify(m Manifest) error {
	for _, f := range m.Files {
		for _, id := range f.HunkIDs {
			if _, err := s.encodedSize(id); err != nil {
				return errs.Malformed("hunk "+id, "listed in the manifest but not stored", err)
			}
		}
	}
	return nil
}

// WriteManifest records m for this range. Files are sorted by path so the
// output does not depend on diff order.
func (s *Store) WriteManifest(m Manifest) error {
	m.SchemaVersion = SchemaVersion
	m.Base = s.base
	m.Head = s.head
	files := make([]ManifestFile, len(m.Files))
	copy(files, m.Files)
	sort.SliceStable(files, func(i, j int) bool {
		if files[i].Path != files[j].Path {
			return files[i].Path < files[j].Path
		}
		return files[i].OldPath < files[j].OldPath
	})
	for i := range files {
		if files[i].HunkIDs == nil {
			files[i].HunkIDs = []string{}
		}
	}
	m.Files = files

	data, err := json.MarshalIndent(m, "", "  ")
	if err != nil {
		return fmt.Errorf("marshaling manifest: %w", err)
	}
	data = append(data, '\n')
	if err := writeAtomic(filepath.Join(s.dir, manifestName), data); err != nil {
		return fmt.Errorf("writing manifest: %w", err)
	}
	return nil
}

// ReadManifest loads the manifest of this range.
func (s *Store) ReadManifest() (Manifest, error) {
	path := filepath.Join(s.dir, manifestName)
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return Manifest{}, errs.NotFound("manifest for " + RangeName(s.base, s.head))
		}
		return Manifest{}, fmt.Errorf("reading manifest: %w", err)
	}
	var m Manifest
	if err := json.Unmarshal(data, &m); err != nil {
		return Manifest{}, errs.Malformed(path, "invalid manifest JSON", err)
	}
	if m.SchemaVersion != SchemaVersion {
		return Manifest{}, errs.Malformed(path, fmt.Sprintf("unsupported schema version %d", m.SchemaVersion), nil)
	}
	if m.Base != s.base || m.Head != s.head {
		return Manifest{}, errs.Malformed(path, fmt.Sprintf("manifest is for %s..%s", m.Base, m.Head), nil)
	}
	return m, nil
}

// Remove deletes this range's directory.
func (s *Store) Remove() error {
	if err := os.RemoveAll(s.dir); err != nil {
		return fmt.Errorf("removing %s: %w", s.dir, err)
	}
	return nil
}

func writeAtomic(path string, data []byte) error {
	tmp, err := os.CreateTemp(filepath.Dir(path), ".tmp-*")
	if err != nil {
		return err
	}
	name := tmp.Name()
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(name)
		return err
	}
	if err := tmp.Close(); err != nil {
		os.Remove(name)
		return err
	}
	if err := os.Chmod(name, 0o644); err != nil {
		os.Remove(name)
		return err
	}
	if err := os.Rename(name, path); err != nil {
		os.Remove(name)
		return err
	}
	return nil
}

// DefaultRoot returns $XDG_CACHE_HOME/chronicle/index, falling back to the
// user cache directory of the platform.
func DefaultRoot() (string, error) {
	base := os.Getenv("XDG_CACHE_HOME")
	if base == "" {
		d, err := os.UserCacheDir()
		if err != nil {
			return "", fmt.Errorf("locating cache directory: %w", err)
		}
		base = d
	}
	return filepath.Join(base, "chronicle", "index"), nil
}
