package store

import (
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"strconv"
	"strings"

	"github.com/dshills/chronicle/internal/errs"
	"github.com/dshills/chronicle/internal/segment"
)

const (
	pathPrefix    = "path "
	oldPathPrefix = "old-path "
)

// Encode returns the canonical byte form of h:
//
//	path <path>\n
//	old-path <oldPath>\n   (only when OldPath is set)
//	<header>\n
//	<line>\n ...
//
// Paths that contain a newline or begin with a double quote are written as
// Go-quoted strings. ID and Bytes are not part of the encoding.
func Encode(h segment.Hunk) []byte {
	var b bytes.Buffer
	b.Grow(segment.SizeOf(h.Header, h.Lines) + len(h.Path) + len(h.OldPath) + 16)
	b.WriteString(pathPrefix)
	b.WriteString(encodePath(h.Path))
	b.WriteByte('\n')
	if h.OldPath != "" {
		b.WriteString(oldPathPrefix)
		b.WriteString(encodePath(h.OldPath))
		b.WriteByte('\n')
	}
	b.WriteString(h.Header)
	b.WriteByte('\n')
	for _, l := range h.Lines {
		b.WriteString(l)
		b.WriteByte('\n')
	}
	return b.Bytes()
}

// HashID returns the content address of an encoded hunk.
func HashID(encoded []byte) string {
	sum := sha256.Sum256(encoded)
	return hex.EncodeToString(sum[:])
}

// ValidID reports whether id has the shape of a content address.
func ValidID(id string) bool {
	if len(id) != sha256.Size*2 {
		return false
	}
	for i := 0; i < len(id); i++ {
		c := id[i]
		if !(c >= '0' && c <= '9' || c >= 'a' && c <= 'f') {
			return false
		}
	}
	return true
}

// Decode parses encoded hunk content stored under id. It is strict: the data
// must hash to id, start with a path line and carry a hunk header.
func Decode(id string, data []byte) (segment.Hunk, error) {
	if got := HashID(data); got != id {
		return segment.Hunk{}, errs.Malformed(id, "content hash mismatch (got "+got+")", nil)
	}
	if len(data) == 0 || data[len(data)-1] != '\n' {
		return segment.Hunk{}, errs.Malformed(id, "missing trailing newline", nil)
	}
	lines := strings.Split(string(data[:len(data)-1]), "\n")

	var h segment.Hunk
	h.ID = id
	if !strings.HasPrefix(lines[0], pathPrefix) {
		return segment.Hunk{}, errs.Malformed(id, "missing path line", nil)
	}
	p, err := decodePath(strings.TrimPrefix(lines[0], pathPrefix))
	if err != nil || p == "" {
		return segment.Hunk{}, errs.Malformed(id, "invalid path line", err)
	}
	h.Path = p
	lines = lines[1:]

	if len(lines) > 0 && strings.HasPrefix(lines[0], oldPathPrefix) {
		op, err := decodePath(strings.TrimPrefix(lines[0], oldPathPrefix))
		if err != nil || op == "" {
			return segment.Hunk{}, errs.Malformed(id, "invalid old-path line", err)
		}
		h.OldPath = op
		lines = lines[1:]
	}
	if len(lines) == 0 || !strings.HasPrefix(lines[0], "@@") {
		return segment.Hunk{}, errs.Malformed(id, "missing hunk header", nil)
	}
	h.Header = lines[0]
	if len(lines) > 1 {
		h.Lines = lines[1:]
	}
	h.Bytes = segment.SizeOf(h.Header, h.Lines)
	h.Truncated = len(h.Lines) > 0 && h.Lines[len(h.Lines)-1] == segment.TruncationMarker
	return h, nil
}

func encodePath(p string) string {
	if strings.ContainsAny(p, "\n\r") || strings.HasPrefix(p, `"`) {
		return strconv.Quote(p)
	}
	return p
}

func decodePath(p string) (string, error) {
	if strings.HasPrefix(p, `"`) {
		return strconv.Unquote(p)
	}
	return p, nil
}
