package segment

import (
	"fmt"
	"strconv"
)

// ChangeKind is the kind of change applied to a file.
type ChangeKind string

const (
	KindAdd    ChangeKind = "add"
	KindModify ChangeKind = "modify"
	KindDelete ChangeKind = "delete"
	KindRename ChangeKind = "rename"
	KindCopy   ChangeKind = "copy"
)

// Valid reports whether k is a known change kind.
func (k ChangeKind) Valid() bool {
	switch k {
	case KindAdd, KindModify, KindDelete, KindRename, KindCopy:
		return true
	}
	return false
}

const (
	// MetaHeader is the header of a synthetic hunk for files without
	// textual changes.
	MetaHeader = "@@ meta @@"
	// TruncationMarker terminates a hunk that hit MaxHunkBytes.
	TruncationMarker = "... [hunk truncated]"
)

// FileChange describes one changed file.
type FileChange struct {
	Path    string     `json:"path"`
	OldPath string     `json:"oldPath,omitempty"`
	Kind    ChangeKind `json:"changeKind"`
	Binary  bool       `json:"isBinary"`
}

// Hunk is a bounded unit of diff content for one file. ID is assigned by the
// hunk store from the canonical encoding of Path, OldPath, Header and Lines.
type Hunk struct {
	ID        string   `json:"id"`
	Path      string   `json:"path"`
	OldPath   string   `json:"oldPath,omitempty"`
	Header    string   `json:"header"`
	Lines     []string `json:"lines"`
	Truncated bool     `json:"truncated,omitempty"`
	Bytes     int      `json:"bytes"`
}

// IsMeta reports whether h is a synthetic metadata hunk.
func (h Hunk) IsMeta() bool { return h.Header == MetaHeader }

// SizeOf returns the stored byte length of a hunk body: the header and each
// line, newline terminated.
func SizeOf(header string, lines []string) int {
	n := len(header) + 1
	for _, l := range lines {
		n += len(l) + 1
	}
	return n
}

// MetaHunk builds the synthetic hunk recorded for fc.
func MetaHunk(fc FileChange) Hunk {
	lines := []string{"changeKind: " + string(fc.Kind)}
	if fc.OldPath != "" {
		lines = append(lines, "oldPath: "+fc.OldPath)
	}
	lines = append(lines,
		"path: "+fc.Path,
		fmt.Sprintf("binary: %s", strconv.FormatBool(fc.Binary)),
	)
	return Hunk{
		Path:    fc.Path,
		OldPath: fc.OldPath,
		Header:  MetaHeader,
		Lines:   lines,
		Bytes:   SizeOf(MetaHeader, lines),
	}
}
