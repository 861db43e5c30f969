package gateway

import (
	"context"
	"io/fs"
	"sort"
)

// Snapshot is read access to one immutable revision of the repository.
// ReadFile must return an error matching fs.ErrNotExist for a missing path.
// ListFiles returns every file path, slash separated and sorted.
type Snapshot interface {
	ReadFile(ctx context.Context, path string) ([]byte, error)
	ListFiles(ctx context.Context) ([]string, error)
}

// FSSnapshot adapts an fs.FS, such as an unpacked tree or fstest.MapFS.
type FSSnapshot struct {
	FS fs.FS
}

// ReadFile implements Snapshot.
func (s FSSnapshot) ReadFile(ctx context.Context, path string) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return fs.ReadFile(s.FS, path)
}

// ListFiles implements Snapshot.
func (s FSSnapshot) ListFiles(ctx context.Context) ([]string, error) {
	var out []string
	err := fs.WalkDir(s.FS, ".", func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if err := ctx.Err(); err != nil {
			return err
		}
		if d.Type().IsRegular() {
			out = append(out, p)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	sort.Strings(out)
	return out, nil
}

// isBinary reports whether data looks binary: a NUL byte in the first 512
// bytes.
func isBinary(data []byte) bool {
	n := len(data)
	if n > 512 {
		n = 512
	}
	for i := 0; i < n; i++ {
		if data[i] == 0 {
			return true
		}
	}
	return false
}
