package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"sort"
	"strings"
	"unicode/utf8"

	"go.uber.org/zap"

	"github.com/dshills/chronicle/internal/errs"
	"github.com/dshills/chronicle/internal/evidence"
	"github.com/dshills/chronicle/internal/segment"
)

// Budgets are the per-run byte allowances per kind.
type Budgets struct {
	Hunk       int `json:"hunk" yaml:"hunk"`
	Snippet    int `json:"snippet" yaml:"snippet"`
	Around     int `json:"around" yaml:"around"`
	FileSearch int `json:"fileSearch" yaml:"fileSearch"`
	RepoSearch int `json:"repoSearch" yaml:"repoSearch"`
	List       int `json:"list" yaml:"list"`
}

// DefaultBudgets returns the default allowances.
func DefaultBudgets() Budgets {
	return Budgets{
		Hunk:       96 << 10,
		Snippet:    32 << 10,
		Around:     24 << 10,
		FileSearch: 16 << 10,
		RepoSearch: 16 << 10,
		List:       8 << 10,
	}
}

// For returns the budget of kind k.
func (b Budgets) For(k Kind) int {
	switch k {
	case KindHunk:
		return b.Hunk
	case KindSnippet:
		return b.Snippet
	case KindAround:
		return b.Around
	case KindFileSearch:
		return b.FileSearch
	case KindRepoSearch:
		return b.RepoSearch
	case KindList:
		return b.List
	}
	return 0
}

// Limits bound individual requests.
type Limits struct {
	MaxQueryBytes   int `json:"maxQueryBytes" yaml:"maxQueryBytes"`
	MaxSnippetLines int `json:"maxSnippetLines" yaml:"maxSnippetLines"`
	MaxRadius       int `json:"maxRadius" yaml:"maxRadius"`
	MaxMatches      int `json:"maxMatches" yaml:"maxMatches"`
	MaxEntries      int `json:"maxEntries" yaml:"maxEntries"`
	MaxFileBytes    int `json:"maxFileBytes" yaml:"maxFileBytes"`
	MaxFilesScanned int `json:"maxFilesScanned" yaml:"maxFilesScanned"`
	MaxMatchBytes   int `json:"maxMatchBytes" yaml:"maxMatchBytes"`
}

// DefaultLimits returns the default per-request limits.
func DefaultLimits() Limits {
	return Limits{
		MaxQueryBytes:   256,
		MaxSnippetLines: 400,
		MaxRadius:       100,
		MaxMatches:      100,
		MaxEntries:      1000,
		MaxFileBytes:    1 << 20,
		MaxFilesScanned: 5000,
		MaxMatchBytes:   300,
	}
}

func (l Limits) withDefaults() Limits {
	d := DefaultLimits()
	if l.MaxQueryBytes <= 0 {
		l.MaxQueryBytes = d.MaxQueryBytes
	}
	if l.MaxSnippetLines <= 0 {
		l.MaxSnippetLines = d.MaxSnippetLines
	}
	if l.MaxRadius <= 0 {
		l.MaxRadius = d.MaxRadius
	}
	if l.MaxMatches <= 0 {
		l.MaxMatches = d.MaxMatches
	}
	if l.MaxEntries <= 0 {
		l.MaxEntries = d.MaxEntries
	}
	if l.MaxFileBytes <= 0 {
		l.MaxFileBytes = d.MaxFileBytes
	}
	if l.MaxFilesScanned <= 0 {
		l.MaxFilesScanned = d.MaxFilesScanned
	}
	if l.MaxMatchBytes <= 0 {
		l.MaxMatchBytes = d.MaxMatchBytes
	}
	return l
}

// HunkSource loads stored hunks. *store.Store implements it.
type HunkSource interface {
	Get(ids []string, maxBytes int) ([]segment.Hunk, error)
}

// Config configures a Gateway.
type Config struct {
	Budgets Budgets
	Limits  Limits
	Logger  *zap.Logger
}

// Gateway serves the six retrieval kinds for one run.
type Gateway struct {
	index    *evidence.Index
	hunks    HunkSource
	snap     Snapshot
	limits   Limits
	trackers map[Kind]*Tracker
	log      *zap.Logger
}

// New returns a gateway with fresh trackers seeded from cfg.Budgets.
func New(index *evidence.Index, hunks HunkSource, snap Snapshot, cfg Config) *Gateway {
	log := cfg.Logger
	if log == nil {
		log = zap.NewNop()
	}
	g := &Gateway{
		index:    index,
		hunks:    hunks,
		snap:     snap,
		limits:   cfg.Limits.withDefaults(),
		trackers: make(map[Kind]*Tracker, len(Kinds)),
		log:      log,
	}
	for _, k := range Kinds {
		g.trackers[k] = NewTracker(k, cfg.Budgets.For(k))
	}
	return g
}

// Index returns the evidence index the gateway enforces.
func (g *Gateway) Index() *evidence.Index { return g.index }

// Limits returns the effective request limits.
func (g *Gateway) Limits() Limits { return g.limits }

// Normalize validates r against the gateway's limits.
func (g *Gateway) Normalize(r Request) (Request, error) {
	return Normalize(r, g.limits)
}

// Usage reports every tracker in Kinds order.
func (g *Gateway) Usage() []Usage {
	out := make([]Usage, 0, len(Kinds))
	for _, k := range Kinds {
		out = append(out, g.trackers[k].Usage())
	}
	return out
}

// Remaining returns the bytes left for kind k.
func (g *Gateway) Remaining(k Kind) int {
	if t, ok := g.trackers[k]; ok {
		return t.Remaining()
	}
	return 0
}

// Response is the outcome of one served request.
type Response struct {
	Kind      Kind   `json:"kind"`
	Signature string `json:"signature"`
	Bytes     int    `json:"bytes"`
	Result    any    `json:"result"`
}

// Serve validates and serves one request of any kind.
func (g *Gateway) Serve(ctx context.Context, r Request) (Response, error) {
	nr, err := g.Normalize(r)
	if err != nil {
		return Response{}, err
	}
	resp := Response{Kind: nr.Kind(), Signature: nr.Signature()}
	switch req := nr.(type) {
	case HunkRequest:
		resp.Result, resp.Bytes, err = g.Hunks(ctx, []string{req.ID})
	case SnippetRequest:
		resp.Result, resp.Bytes, err = g.Snippet(ctx, req)
	case AroundRequest:
		resp.Result, resp.Bytes, err = g.Around(ctx, req)
	case FileSearchRequest:
		resp.Result, resp.Bytes, err = g.FileSearch(ctx, req)
	case RepoSearchRequest:
		resp.Result, resp.Bytes, err = g.RepoSearch(ctx, req)
	case ListRequest:
		resp.Result, resp.Bytes, err = g.List(ctx, req)
	default:
		return Response{}, errs.InvalidRequest("unsupported request kind %q", r.Kind())
	}
	if err != nil {
		return Response{}, err
	}
	return resp, nil
}

// HunkResult carries served hunks. Denied lists requested ids that are not
// part of the evidence index; their content is never returned.
type HunkResult struct {
	Hunks  []segment.Hunk `json:"hunks"`
	Denied []string       `json:"denied,omitempty"`
}

// Hunks serves the given hunk ids as one call. If the result does not fit in
// the remaining hunk budget nothing is consumed and the error has code
// errs.CodeBudgetExceeded; ask again with fewer ids.
func (g *Gateway) Hunks(ctx context.Context, ids []string) (*HunkResult, int, error) {
	var allowed, denied []string
	seen := make(map[string]bool, len(ids))
	for _, raw := range ids {
		nr, err := Normalize(HunkRequest{ID: raw}, g.limits)
		if err != nil {
			return nil, 0, err
		}
		id := nr.(HunkRequest).ID
		if seen[id] {
			continue
		}
		seen[id] = true
		if g.index.HasHunk(id) {
			allowed = append(allowed, id)
		} else {
			denied = append(denied, id)
		}
	}
	if len(denied) > 0 {
		g.log.Warn("refusing hunk ids outside the evidence index", zap.Strings("ids", denied))
	}

	var res *HunkResult
	var size int
	err := g.trackers[KindHunk].Spend(func(remaining int) (int, error) {
		if err := ctx.Err(); err != nil {
			return 0, err
		}
		hunks, err := g.hunks.Get(allowed, remaining)
		if err != nil {
			return 0, err
		}
		r := &HunkResult{Hunks: hunks, Denied: denied}
		if r.Hunks == nil {
			r.Hunks = []segment.Hunk{}
		}
		n, err := measure(r)
		if err != nil {
			return 0, err
		}
		if n > remaining {
			return 0, errs.BudgetExceeded(string(KindHunk), n, remaining)
		}
		res, size = r, n
		return n, nil
	})
	if err != nil {
		return nil, 0, err
	}
	return res, size, nil
}

// Line is one numbered source line.
type Line struct {
	N    int    `json:"n"`
	Text string `json:"text"`
}

// SnippetResult carries lines of one file at the snapshot.
type SnippetResult struct {
	Path      string `json:"path"`
	Start     int    `json:"start"`
	End       int    `json:"end"`
	Lines     []Line `json:"lines"`
	Missing   bool   `json:"missing,omitempty"`
	Binary    bool   `json:"binary,omitempty"`
	Truncated bool   `json:"truncated,omitempty"`
}

// Snippet serves lines Start..End of a file.
func (g *Gateway) Snippet(ctx context.Context, req SnippetRequest) (*SnippetResult, int, error) {
	nr, err := Normalize(req, g.limits)
	if err != nil {
		return nil, 0, err
	}
	return g.snippet(ctx, KindSnippet, nr.(SnippetRequest))
}

// Around serves Radius lines either side of Line. It draws on its own budget.
func (g *Gateway) Around(ctx context.Context, req AroundRequest) (*SnippetResult, int, error) {
	nr, err := Normalize(req, g.limits)
	if err != nil {
		return nil, 0, err
	}
	a := nr.(AroundRequest)
	start := a.Line - a.Radius
	if start < 1 {
		start = 1
	}
	return g.snippet(ctx, KindAround, SnippetRequest{Path: a.Path, Start: start, End: a.Line + a.Radius})
}

func (g *Gateway) snippet(ctx context.Context, kind Kind, req SnippetRequest) (*SnippetResult, int, error) {
	var res *SnippetResult
	var size int
	err := g.trackers[kind].Spend(func(remaining int) (int, error) {
		r := &SnippetResult{Path: req.Path, Start: req.Start, End: req.End, Lines: []Line{}}
		data, err := g.readFile(ctx, req.Path)
		switch {
		case err != nil:
			return 0, err
		case data == nil:
			r.Missing = true
		case isBinary(data):
			r.Binary = true
		default:
			// The window is cut to the file; past the end it is empty with
			// End == Start-1.
			lines := splitLines(data)
			r.End = min(req.End, len(lines))
			if r.Start > len(lines) {
				r.End = r.Start - 1
			}
			for n := r.Start; n <= r.End; n++ {
				r.Lines = append(r.Lines, Line{N: n, Text: lines[n-1]})
			}
		}
		all := r.Lines
		n, err := fit(kind, remaining, len(all), func(k int) any {
			r.Lines = all[:k]
			r.Truncated = k < len(all)
			return r
		})
		if err != nil {
			return 0, err
		}
		res, size = r, n
		return n, nil
	})
	if err != nil {
		return nil, 0, err
	}
	return res, size, nil
}

// Match is one matching line.
type Match struct {
	Path string `json:"path"`
	Line int    `json:"line"`
	Text string `json:"text"`
}

// FileSearchResult carries matches within one file.
type FileSearchResult struct {
	Path      string  `json:"path"`
	Query     string  `json:"query"`
	Matches   []Match `json:"matches"`
	Missing   bool    `json:"missing,omitempty"`
	Binary    bool    `json:"binary,omitempty"`
	Truncated bool    `json:"truncated,omitempty"`
}

// FileSearch finds lines of one file containing Query.
func (g *Gateway) FileSearch(ctx context.Context, req FileSearchRequest) (*FileSearchResult, int, error) {
	nr, err := Normalize(req, g.limits)
	if err != nil {
		return nil, 0, err
	}
	req = nr.(FileSearchRequest)

	var res *FileSearchResult
	var size int
	err = g.trackers[KindFileSearch].Spend(func(remaining int) (int, error) {
		r := &FileSearchResult{Path: req.Path, Query: req.Query, Matches: []Match{}}
		data, err := g.readFile(ctx, req.Path)
		switch {
		case err != nil:
			return 0, err
		case data == nil:
			r.Missing = true
		case isBinary(data):
			r.Binary = true
		default:
			var more bool
			r.Matches, more = g.searchLines(req.Path, data, req.Query, req.IgnoreCase, req.MaxMatches)
			r.Truncated = more
		}
		all, capped := r.Matches, r.Truncated
		n, err := fit(KindFileSearch, remaining, len(all), func(k int) any {
			r.Matches = all[:k]
			r.Truncated = capped || k < len(all)
			return r
		})
		if err != nil {
			return 0, err
		}
		res, size = r, n
		return n, nil
	})
	if err != nil {
		return nil, 0, err
	}
	return res, size, nil
}

// RepoSearchResult carries matches across files.
type RepoSearchResult struct {
	Query        string  `json:"query"`
	Filter       Filter  `json:"filter"`
	Matches      []Match `json:"matches"`
	FilesScanned int     `json:"filesScanned"`
	Truncated    bool    `json:"truncated,omitempty"`
}

// RepoSearch finds lines containing Query in every file passing Filter.
// Binary and oversized files are skipped.
func (g *Gateway) RepoSearch(ctx context.Context, req RepoSearchRequest) (*RepoSearchResult, int, error) {
	nr, err := Normalize(req, g.limits)
	if err != nil {
		return nil, 0, err
	}
	req = nr.(RepoSearchRequest)

	var res *RepoSearchResult
	var size int
	err = g.trackers[KindRepoSearch].Spend(func(remaining int) (int, error) {
		files, err := g.snap.ListFiles(ctx)
		if err != nil {
			return 0, fmt.Errorf("listing snapshot: %w", err)
		}
		r := &RepoSearchResult{Query: req.Query, Filter: req.Filter, Matches: []Match{}}
		for _, p := range files {
			if !req.Filter.Match(p) {
				continue
			}
			if r.FilesScanned >= g.limits.MaxFilesScanned {
				r.Truncated = true
				break
			}
			data, err := g.readFile(ctx, p)
			if err != nil {
				return 0, err
			}
			r.FilesScanned++
			if data == nil || len(data) > g.limits.MaxFileBytes || isBinary(data) {
				continue
			}
			matches, more := g.searchLines(p, data, req.Query, req.IgnoreCase, req.MaxMatches-len(r.Matches))
			r.Matches = append(r.Matches, matches...)
			if more {
				r.Truncated = true
				break
			}
		}
		all, capped := r.Matches, r.Truncated
		n, err := fit(KindRepoSearch, remaining, len(all), func(k int) any {
			r.Matches = all[:k]
			r.Truncated = capped || k < len(all)
			return r
		})
		if err != nil {
			return 0, err
		}
		res, size = r, n
		return n, nil
	})
	if err != nil {
		return nil, 0, err
	}
	return res, size, nil
}

// ListResult carries matching paths. Total counts every match, including
// those cut by MaxEntries or the budget.
type ListResult struct {
	Filter    Filter   `json:"filter"`
	Paths     []string `json:"paths"`
	Total     int      `json:"total"`
	Truncated bool     `json:"truncated,omitempty"`
}

// List returns snapshot paths passing Filter, sorted.
func (g *Gateway) List(ctx context.Context, req ListRequest) (*ListResult, int, error) {
	nr, err := Normalize(req, g.limits)
	if err != nil {
		return nil, 0, err
	}
	req = nr.(ListRequest)

	var res *ListResult
	var size int
	err = g.trackers[KindList].Spend(func(remaining int) (int, error) {
		files, err := g.snap.ListFiles(ctx)
		if err != nil {
			return 0, fmt.Errorf("listing snapshot: %w", err)
		}
		r := &ListResult{Filter: req.Filter, Paths: []string{}}
		for _, p := range files {
			if !req.Filter.Match(p) {
				continue
			}
			r.Total++
			if len(r.Paths) < req.MaxEntries {
				r.Paths = append(r.Paths, p)
			}
		}
		sort.Strings(r.Paths)
		all := r.Paths
		n, err := fit(KindList, remaining, len(all), func(k int) any {
			r.Paths = all[:k]
			r.Truncated = k < r.Total
			return r
		})
		if err != nil {
			return 0, err
		}
		res, size = r, n
		return n, nil
	})
	if err != nil {
		return nil, 0, err
	}
	return res, size, nil
}

// readFile returns nil data with no error when p does not exist.
func (g *Gateway) readFile(ctx context.Context, p string) ([]byte, error) {
	data, err := g.snap.ReadFile(ctx, p)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, nil
		}
		return nil, fmt.Errorf("reading %s at snapshot: %w", p, err)
	}
	if data == nil {
		data = []byte{}
	}
	return data, nil
}

// searchLines returns up to max matches of query in data and whether more
// matches were left out.
func (g *Gateway) searchLines(p string, data []byte, query string, ignoreCase bool, max int) ([]Match, bool) {
	needle := query
	if ignoreCase {
		needle = strings.ToLower(query)
	}
	var out []Match
	for i, line := range splitLines(data) {
		hay := line
		if ignoreCase {
			hay = strings.ToLower(line)
		}
		if !strings.Contains(hay, needle) {
			continue
		}
		if len(out) >= max {
			return out, true
		}
		out = append(out, Match{Path: p, Line: i + 1, Text: clip(line, g.limits.MaxMatchBytes)})
	}
	return out, false
}

func splitLines(data []byte) []string {
	if len(data) == 0 {
		return nil
	}
	s := strings.TrimSuffix(string(data), "\n")
	lines := strings.Split(s, "\n")
	for i, l := range lines {
		lines[i] = strings.TrimSuffix(l, "\r")
	}
	return lines
}

func clip(s string, n int) string {
	if len(s) <= n {
		return s
	}
	for n > 0 && !utf8.RuneStart(s[n]) {
		n--
	}
	return s[:n]
}

func measure(v any) (int, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return 0, fmt.Errorf("measuring result: %w", err)
	}
	return len(data), nil
}

// fit finds the largest k in [0, n] whose shaped result fits in remaining
// and returns its measured size. shape must leave the result in the state of
// its last call, so fit always finishes by shaping the winning k.
func fit(kind Kind, remaining, n int, shape func(k int) any) (int, error) {
	size, err := measure(shape(n))
	if err != nil {
		return 0, err
	}
	if size <= remaining {
		return size, nil
	}
	lo, hi := -1, n // size(lo) fits (or lo == -1), size(hi) does not
	for hi-lo > 1 {
		mid := (lo + hi) / 2
		s, err := measure(shape(mid))
		if err != nil {
			return 0, err
		}
		if s <= remaining {
			lo = mid
		} else {
			hi = mid
		}
	}
	if lo < 0 {
		return 0, errs.BudgetExhausted(string(kind))
	}
	return measure(shape(lo))
}
