package segment

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"
	"unicode/utf8"

	"github.com/dshills/chronicle/internal/errs"
)

const (
	// DefaultMaxHunkBytes bounds a single hunk body.
	DefaultMaxHunkBytes = 16 << 10
	// DefaultMaxTotalHunkBytes bounds all hunk bodies of one indexing run.
	DefaultMaxTotalHunkBytes = 8 << 20

	minHunkBytes   = 128
	minLineCap     = 64 << 10
	markerSize     = len(TruncationMarker) + 1
	devNull        = "/dev/null"
	gitHeaderStart = "diff --git "
)

// Sink receives segmenter output. Hunk is called as each hunk closes; File
// is called once per file after all of its hunks.
type Sink interface {
	Hunk(h Hunk) error
	File(fc FileChange) error
}

// Options bounds segmentation.
type Options struct {
	MaxHunkBytes      int
	MaxTotalHunkBytes int
	// Skip drops every file whose path it returns true for. Skipped files
	// emit nothing and do not count against MaxTotalHunkBytes.
	Skip func(path string) bool
}

func (o Options) withDefaults() (Options, error) {
	if o.MaxHunkBytes == 0 {
		o.MaxHunkBytes = DefaultMaxHunkBytes
	}
	if o.MaxTotalHunkBytes == 0 {
		o.MaxTotalHunkBytes = DefaultMaxTotalHunkBytes
	}
	if o.MaxHunkBytes < minHunkBytes {
		return o, fmt.Errorf("max hunk bytes must be at least %d, got %d", minHunkBytes, o.MaxHunkBytes)
	}
	if o.MaxTotalHunkBytes < o.MaxHunkBytes {
		return o, fmt.Errorf("max total hunk bytes (%d) must not be below max hunk bytes (%d)", o.MaxTotalHunkBytes, o.MaxHunkBytes)
	}
	return o, nil
}

// Stats summarizes one segmentation run.
type Stats struct {
	Files          int `json:"files"`
	Hunks          int `json:"hunks"`
	MetaHunks      int `json:"metaHunks"`
	TruncatedHunks int `json:"truncatedHunks"`
	SkippedFiles   int `json:"skippedFiles"`
	TotalBytes     int `json:"totalBytes"`
}

type fileState struct {
	gitA, gitB string // paths from the diff --git line
	minus      string // path from the --- line
	plus       string // path from the +++ line
	renameFrom string
	renameTo   string
	kind       ChangeKind
	binary     bool
	hunks      int
	skip       bool
	decided    bool
}

type hunkState struct {
	header    string
	lines     []string
	size      int
	truncated bool
}

type segmenter struct {
	opts  Options
	sink  Sink
	stats Stats
	file  *fileState
	hunk  *hunkState
}

// Run segments the diff read from r, delivering hunks and files to sink.
// Exceeding MaxTotalHunkBytes aborts with an errs.CodeLimitExceeded error.
func Run(r io.Reader, opts Options, sink Sink) (Stats, error) {
	opts, err := opts.withDefaults()
	if err != nil {
		return Stats{}, err
	}
	s := &segmenter{opts: opts, sink: sink}

	lineCap := opts.MaxHunkBytes + 1
	if lineCap < minLineCap {
		lineCap = minLineCap
	}
	br := bufio.NewReaderSize(r, 64<<10)
	for {
		line, err := readLine(br, lineCap)
		if err != nil && !errors.Is(err, io.EOF) {
			return s.stats, fmt.Errorf("reading diff: %w", err)
		}
		if line != nil {
			if herr := s.handle(*line); herr != nil {
				return s.stats, herr
			}
		}
		if errors.Is(err, io.EOF) {
			break
		}
	}
	if err := s.flushFile(); err != nil {
		return s.stats, err
	}
	return s.stats, nil
}

// readLine returns the next line without its newline. Bytes beyond limit are
// read and discarded so one enormous line cannot grow memory unboundedly.
// A nil line with io.EOF means the input is exhausted.
func readLine(br *bufio.Reader, limit int) (*string, error) {
	var buf []byte
	read := false
	for {
		chunk, err := br.ReadSlice('\n')
		if len(chunk) > 0 {
			read = true
			if room := limit - len(buf); room > 0 {
				if len(chunk) > room {
					buf = append(buf, chunk[:room]...)
				} else {
					buf = append(buf, chunk...)
				}
			}
		}
		if errors.Is(err, bufio.ErrBufferFull) {
			continue
		}
		if err != nil && !read {
			return nil, err
		}
		line := strings.TrimSuffix(string(buf), "\n")
		return &line, err
	}
}

func (s *segmenter) handle(line string) error {
	if strings.HasPrefix(line, gitHeaderStart) {
		if err := s.flushFile(); err != nil {
			return err
		}
		a, b := parseGitHeader(strings.TrimPrefix(line, gitHeaderStart))
		s.file = &fileState{gitA: a, gitB: b, kind: KindModify}
		return nil
	}
	if s.file == nil {
		return nil
	}
	if s.hunk != nil {
		if strings.HasPrefix(line, "@@") {
			if err := s.flushHunk(); err != nil {
				return err
			}
			s.startHunk(line)
			return nil
		}
		s.appendLine(line)
		return nil
	}

	f := s.file
	if f.binary {
		// Binary patch payload until the next file header.
		return nil
	}
	switch {
	case strings.HasPrefix(line, "new file mode "):
		f.kind = KindAdd
	case strings.HasPrefix(line, "deleted file mode "):
		f.kind = KindDelete
	case strings.HasPrefix(line, "rename from "):
		f.kind = KindRename
		f.renameFrom = unquotePath(strings.TrimPrefix(line, "rename from "))
	case strings.HasPrefix(line, "rename to "):
		f.kind = KindRename
		f.renameTo = unquotePath(strings.TrimPrefix(line, "rename to "))
	case strings.HasPrefix(line, "copy from "):
		f.kind = KindCopy
		f.renameFrom = unquotePath(strings.TrimPrefix(line, "copy from "))
	case strings.HasPrefix(line, "copy to "):
		f.kind = KindCopy
		f.renameTo = unquotePath(strings.TrimPrefix(line, "copy to "))
	case strings.HasPrefix(line, "Binary files ") && strings.HasSuffix(line, " differ"),
		line == "GIT binary patch":
		f.binary = true
	case strings.HasPrefix(line, "--- "):
		f.minus = sidePath(strings.TrimPrefix(line, "--- "))
		if f.minus == devNull && f.kind == KindModify {
			f.kind = KindAdd
		}
	case strings.HasPrefix(line, "+++ "):
		f.plus = sidePath(strings.TrimPrefix(line, "+++ "))
		if f.plus == devNull && f.kind == KindModify {
			f.kind = KindDelete
		}
	case strings.HasPrefix(line, "@@"):
		s.startHunk(line)
	}
	return nil
}

// change resolves the collected header lines into a FileChange.
func (f *fileState) change() FileChange {
	fc := FileChange{Kind: f.kind, Binary: f.binary}
	switch f.kind {
	case KindRename, KindCopy:
		fc.OldPath = firstNonEmpty(f.renameFrom, realPath(f.minus), f.gitA)
		fc.Path = firstNonEmpty(f.renameTo, realPath(f.plus), f.gitB)
	case KindDelete:
		fc.Path = firstNonEmpty(realPath(f.minus), f.gitA, f.gitB)
	default:
		fc.Path = firstNonEmpty(realPath(f.plus), f.gitB, f.gitA)
	}
	return fc
}

func (s *segmenter) skipped() bool {
	f := s.file
	if !f.decided {
		f.decided = true
		if s.opts.Skip != nil {
			f.skip = s.opts.Skip(f.change().Path)
		}
	}
	return f.skip
}

func (s *segmenter) startHunk(header string) {
	max := s.opts.MaxHunkBytes
	if len(header)+1+markerSize > max {
		// A cut header leaves room only for the marker; no body lines follow.
		header = utf8Prefix(header, max-markerSize-1)
		s.hunk = &hunkState{
			header:    header,
			lines:     []string{TruncationMarker},
			size:      len(header) + 1 + markerSize,
			truncated: true,
		}
		return
	}
	s.hunk = &hunkState{header: header, size: len(header) + 1}
}

func (s *segmenter) appendLine(line string) {
	h := s.hunk
	if h.truncated {
		return
	}
	max := s.opts.MaxHunkBytes
	if h.size+len(line)+1 <= max {
		h.lines = append(h.lines, line)
		h.size += len(line) + 1
		return
	}

	// Overflow: make room for the marker, keep as much of line as fits.
	for h.size+markerSize > max && len(h.lines) > 0 {
		last := h.lines[len(h.lines)-1]
		h.lines = h.lines[:len(h.lines)-1]
		h.size -= len(last) + 1
	}
	if room := max - h.size - markerSize - 1; room > 0 {
		if part := utf8Prefix(line, room); part != "" {
			h.lines = append(h.lines, part)
			h.size += len(part) + 1
		}
	}
	h.lines = append(h.lines, TruncationMarker)
	h.size += markerSize
	h.truncated = true
}

func (s *segmenter) flushHunk() error {
	h := s.hunk
	s.hunk = nil
	if h == nil || s.skipped() {
		return nil
	}
	fc := s.file.change()
	s.file.hunks++
	return s.emit(Hunk{
		Path:      fc.Path,
		OldPath:   fc.OldPath,
		Header:    h.header,
		Lines:     h.lines,
		Truncated: h.truncated,
		Bytes:     h.size,
	})
}

func (s *segmenter) emit(h Hunk) error {
	total := s.stats.TotalBytes + h.Bytes
	if total > s.opts.MaxTotalHunkBytes {
		return errs.LimitExceeded("total hunk bytes", s.opts.MaxTotalHunkBytes, total)
	}
	s.stats.TotalBytes = total
	s.stats.Hunks++
	if h.Truncated {
		s.stats.TruncatedHunks++
	}
	if h.IsMeta() {
		s.stats.MetaHunks++
	}
	if err := s.sink.Hunk(h); err != nil {
		return fmt.Errorf("storing hunk for %s: %w", h.Path, err)
	}
	return nil
}

func (s *segmenter) flushFile() error {
	if s.file == nil {
		return nil
	}
	if err := s.flushHunk(); err != nil {
		return err
	}
	defer func() { s.file = nil }()
	if s.skipped() {
		s.stats.SkippedFiles++
		return nil
	}
	fc := s.file.change()
	if fc.Path == "" {
		return errs.Malformed("diff", "file header without a path", nil)
	}
	if s.file.hunks == 0 {
		if err := s.emit(MetaHunk(fc)); err != nil {
			return err
		}
	}
	s.stats.Files++
	if err := s.sink.File(fc); err != nil {
		return fmt.Errorf("recording %s: %w", fc.Path, err)
	}
	return nil
}

// parseGitHeader splits the "a/<old> b/<new>" tail of a diff --git line.
func parseGitHeader(rest string) (string, string) {
	if strings.HasPrefix(rest, `"`) {
		first, remainder := splitQuoted(rest)
		return stripSide(first), stripSide(unquotePath(strings.TrimPrefix(remainder, " ")))
	}
	if strings.HasSuffix(rest, `"`) {
		if i := strings.Index(rest, ` "`); i >= 0 {
			return stripSide(rest[:i]), stripSide(unquotePath(rest[i+1:]))
		}
	}
	// Unrenamed paths are symmetric: "a/<p> b/<p>".
	if n := len(rest); n%2 == 1 {
		half := n / 2
		if rest[half] == ' ' {
			left, right := stripSide(rest[:half]), stripSide(rest[half+1:])
			if left == right {
				return left, right
			}
		}
	}
	if i := strings.LastIndex(rest, " b/"); i >= 0 {
		return stripSide(rest[:i]), stripSide(rest[i+1:])
	}
	return stripSide(rest), stripSide(rest)
}

// splitQuoted returns the leading C-style quoted token (unquoted) and the rest.
func splitQuoted(s string) (string, string) {
	for i := 1; i < len(s); i++ {
		switch s[i] {
		case '\\':
			i++
		case '"':
			return unquotePath(s[:i+1]), s[i+1:]
		}
	}
	return unquotePath(s), ""
}

func unquotePath(p string) string {
	if len(p) >= 2 && p[0] == '"' && p[len(p)-1] == '"' {
		if u, err := strconv.Unquote(p); err == nil {
			return u
		}
	}
	return p
}

// sidePath extracts the path from a ---/+++ line, which git may suffix with
// a tab when the name contains spaces.
func sidePath(p string) string {
	p = strings.TrimRight(p, "\t")
	if p == devNull {
		return devNull
	}
	return stripSide(unquotePath(p))
}

func stripSide(p string) string {
	if strings.HasPrefix(p, "a/") || strings.HasPrefix(p, "b/") {
		return p[2:]
	}
	return p
}

func realPath(p string) string {
	if p == devNull {
		return ""
	}
	return p
}

func firstNonEmpty(vals ...string) string {
	for _, v := range vals {
		if v != "" {
			return v
		}
	}
	return ""
}

// utf8Prefix returns the longest prefix of s no longer than n bytes that
// does not split a multi-byte rune.
func utf8Prefix(s string, n int) string {
	if n <= 0 {
		return ""
	}
	if n >= len(s) {
		return s
	}
	for n > 0 && !utf8.RuneStart(s[n]) {
		n--
	}
	return s[:n]
}
