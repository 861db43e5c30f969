package gateway

import (
	"fmt"
	"path"
	"sort"
	"strings"

	"github.com/bmatcuk/doublestar/v4"

	"github.com/dshills/chronicle/internal/errs"
	"github.com/dshills/chronicle/internal/store"
)

// Kind names a retrieval category. Each kind has its own budget.
type Kind string

const (
	KindHunk       Kind = "hunk"
	KindSnippet    Kind = "snippet"
	KindAround     Kind = "around"
	KindFileSearch Kind = "file_search"
	KindRepoSearch Kind = "repo_search"
	KindList       Kind = "list"
)

// Kinds lists every kind in a fixed order.
var Kinds = []Kind{KindHunk, KindSnippet, KindAround, KindFileSearch, KindRepoSearch, KindList}

// Request is one retrieval request. The set of implementations is closed:
// switch on the concrete type to handle every kind.
type Request interface {
	Kind() Kind
	// Signature is a normalized key; two requests with equal signatures
	// retrieve the same thing.
	Signature() string
	normalize(l Limits) (Request, error)
}

// HunkRequest asks for one stored hunk.
type HunkRequest struct {
	ID string `json:"id"`
}

// SnippetRequest asks for lines Start..End (1-based, inclusive) of Path.
type SnippetRequest struct {
	Path  string `json:"path"`
	Start int    `json:"start"`
	End   int    `json:"end"`
}

// AroundRequest asks for Radius lines either side of Line in Path.
type AroundRequest struct {
	Path   string `json:"path"`
	Line   int    `json:"line"`
	Radius int    `json:"radius"`
}

// FileSearchRequest searches one file for a substring.
type FileSearchRequest struct {
	Path       string `json:"path"`
	Query      string `json:"query"`
	MaxMatches int    `json:"maxMatches,omitempty"`
	IgnoreCase bool   `json:"ignoreCase,omitempty"`
}

// RepoSearchRequest searches every file accepted by Filter for a substring.
type RepoSearchRequest struct {
	Query      string `json:"query"`
	Filter     Filter `json:"filter"`
	MaxMatches int    `json:"maxMatches,omitempty"`
	IgnoreCase bool   `json:"ignoreCase,omitempty"`
}

// ListRequest lists paths accepted by Filter.
type ListRequest struct {
	Filter     Filter `json:"filter"`
	MaxEntries int    `json:"maxEntries,omitempty"`
}

func (HunkRequest) Kind() Kind       { return KindHunk }
func (SnippetRequest) Kind() Kind    { return KindSnippet }
func (AroundRequest) Kind() Kind     { return KindAround }
func (FileSearchRequest) Kind() Kind { return KindFileSearch }
func (RepoSearchRequest) Kind() Kind { return KindRepoSearch }
func (ListRequest) Kind() Kind       { return KindList }

func (r HunkRequest) Signature() string { return "hunk:" + r.ID }

func (r SnippetRequest) Signature() string {
	return fmt.Sprintf("snippet:%s:%d-%d", r.Path, r.Start, r.End)
}

func (r AroundRequest) Signature() string {
	return fmt.Sprintf("around:%s:%d~%d", r.Path, r.Line, r.Radius)
}

func (r FileSearchRequest) Signature() string {
	return fmt.Sprintf("file_search:%s:%q:%d:%t", r.Path, r.Query, r.MaxMatches, r.IgnoreCase)
}

func (r RepoSearchRequest) Signature() string {
	return fmt.Sprintf("repo_search:%q:%s:%d:%t", r.Query, r.Filter.signature(), r.MaxMatches, r.IgnoreCase)
}

func (r ListRequest) Signature() string {
	return fmt.Sprintf("list:%s:%d", r.Filter.signature(), r.MaxEntries)
}

// Normalize validates r and returns its canonical form. Validation failures
// have code errs.CodeInvalidRequest.
func Normalize(r Request, l Limits) (Request, error) {
	if r == nil {
		return nil, errs.InvalidRequest("nil request")
	}
	return r.normalize(l.withDefaults())
}

func (r HunkRequest) normalize(Limits) (Request, error) {
	id := strings.ToLower(strings.TrimSpace(r.ID))
	if !store.ValidID(id) {
		return nil, errs.InvalidRequest("invalid hunk id %q", r.ID)
	}
	return HunkRequest{ID: id}, nil
}

func (r SnippetRequest) normalize(l Limits) (Request, error) {
	p, err := cleanPath(r.Path)
	if err != nil {
		return nil, err
	}
	if r.Start < 1 || r.End < r.Start {
		return nil, errs.InvalidRequest("invalid line range %d-%d", r.Start, r.End)
	}
	if n := r.End - r.Start + 1; n > l.MaxSnippetLines {
		return nil, errs.InvalidRequest("line range spans %d lines (max %d)", n, l.MaxSnippetLines)
	}
	return SnippetRequest{Path: p, Start: r.Start, End: r.End}, nil
}

func (r AroundRequest) normalize(l Limits) (Request, error) {
	p, err := cleanPath(r.Path)
	if err != nil {
		return nil, err
	}
	if r.Line < 1 {
		return nil, errs.InvalidRequest("invalid line %d", r.Line)
	}
	if r.Radius < 0 || r.Radius > l.MaxRadius {
		return nil, errs.InvalidRequest("radius %d out of range 0-%d", r.Radius, l.MaxRadius)
	}
	return AroundRequest{Path: p, Line: r.Line, Radius: r.Radius}, nil
}

func (r FileSearchRequest) normalize(l Limits) (Request, error) {
	p, err := cleanPath(r.Path)
	if err != nil {
		return nil, err
	}
	if err := checkQuery(r.Query, l); err != nil {
		return nil, err
	}
	return FileSearchRequest{
		Path:       p,
		Query:      r.Query,
		MaxMatches: clamp(r.MaxMatches, l.MaxMatches),
		IgnoreCase: r.IgnoreCase,
	}, nil
}

func (r RepoSearchRequest) normalize(l Limits) (Request, error) {
	if err := checkQuery(r.Query, l); err != nil {
		return nil, err
	}
	f, err := r.Filter.normalize()
	if err != nil {
		return nil, err
	}
	return RepoSearchRequest{
		Query:      r.Query,
		Filter:     f,
		MaxMatches: clamp(r.MaxMatches, l.MaxMatches),
		IgnoreCase: r.IgnoreCase,
	}, nil
}

func (r ListRequest) normalize(l Limits) (Request, error) {
	f, err := r.Filter.normalize()
	if err != nil {
		return nil, err
	}
	return ListRequest{Filter: f, MaxEntries: clamp(r.MaxEntries, l.MaxEntries)}, nil
}

// Filter restricts repo search and listing. Empty fields match everything.
type Filter struct {
	Prefix     string   `json:"prefix,omitempty"`
	Extensions []string `json:"extensions,omitempty"`
	Glob       string   `json:"glob,omitempty"`
}

func (f Filter) normalize() (Filter, error) {
	var out Filter
	if f.Prefix != "" {
		trailing := strings.HasSuffix(f.Prefix, "/")
		p, err := cleanPath(f.Prefix)
		if err != nil {
			return Filter{}, err
		}
		if trailing {
			p += "/"
		}
		out.Prefix = p
	}
	seen := make(map[string]bool)
	for _, e := range f.Extensions {
		e = strings.ToLower(strings.TrimSpace(e))
		if e == "" {
			continue
		}
		if !strings.HasPrefix(e, ".") {
			e = "." + e
		}
		if strings.ContainsAny(e, "/\\\x00*") || e == "." {
			return Filter{}, errs.InvalidRequest("invalid extension %q", e)
		}
		if !seen[e] {
			seen[e] = true
			out.Extensions = append(out.Extensions, e)
		}
	}
	sort.Strings(out.Extensions)
	if g := strings.TrimSpace(f.Glob); g != "" {
		g = strings.ReplaceAll(g, "\\", "/")
		if err := checkToken(g, "glob"); err != nil {
			return Filter{}, err
		}
		if !doublestar.ValidatePattern(g) {
			return Filter{}, errs.InvalidRequest("invalid glob pattern %q", g)
		}
		out.Glob = g
	}
	return out, nil
}

// Match reports whether p passes the filter.
func (f Filter) Match(p string) bool {
	if f.Prefix != "" && !strings.HasPrefix(p, f.Prefix) {
		return false
	}
	if len(f.Extensions) > 0 {
		ext := strings.ToLower(path.Ext(p))
		ok := false
		for _, e := range f.Extensions {
			if e == ext {
				ok = true
				break
			}
		}
		if !ok {
			return false
		}
	}
	if f.Glob != "" {
		matched, err := doublestar.Match(f.Glob, p)
		if err != nil || !matched {
			return false
		}
	}
	return true
}

func (f Filter) signature() string {
	return fmt.Sprintf("%q|%s|%q", f.Prefix, strings.Join(f.Extensions, ","), f.Glob)
}

const maxPathBytes = 4096

// cleanPath validates a repository-relative path and returns it in clean,
// slash-separated form.
func cleanPath(p string) (string, error) {
	if p == "" {
		return "", errs.InvalidRequest("path is required")
	}
	if len(p) > maxPathBytes {
		return "", errs.InvalidRequest("path exceeds %d bytes", maxPathBytes)
	}
	p = strings.ReplaceAll(p, "\\", "/")
	if err := checkToken(p, "path"); err != nil {
		return "", err
	}
	c := path.Clean(p)
	if c == "." {
		return "", errs.InvalidRequest("path %q names the repository root", p)
	}
	return strings.TrimPrefix(c, "./"), nil
}

// checkToken rejects anything that could escape the snapshot or be read as
// a command-line option.
func checkToken(p, what string) error {
	switch {
	case strings.ContainsRune(p, 0):
		return errs.InvalidRequest("%s contains NUL", what)
	case strings.HasPrefix(p, "-"):
		return errs.InvalidRequest("%s %q must not start with '-'", what, p)
	case strings.HasPrefix(p, "/") || (len(p) >= 2 && p[1] == ':'):
		return errs.InvalidRequest("%s %q must be relative", what, p)
	case strings.HasPrefix(p, ":"):
		return errs.InvalidRequest("%s %q looks like a pathspec", what, p)
	}
	for _, seg := range strings.Split(p, "/") {
		if seg == ".." {
			return errs.InvalidRequest("%s %q must not contain '..'", what, p)
		}
	}
	return nil
}

func checkQuery(q string, l Limits) error {
	if strings.TrimSpace(q) == "" {
		return errs.InvalidRequest("query is required")
	}
	if len(q) > l.MaxQueryBytes {
		return errs.InvalidRequest("query is %d bytes (max %d)", len(q), l.MaxQueryBytes)
	}
	if strings.ContainsAny(q, "\x00\n") {
		return errs.InvalidRequest("query must be a single line")
	}
	return nil
}

func clamp(n, max int) int {
	if n <= 0 || n > max {
		return max
	}
	return n
}
