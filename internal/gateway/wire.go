package gateway

import (
	"github.com/dshills/chronicle/internal/errs"
)

// WireRequest is the flat JSON form of a request, as written by a generator
// or an MCP client. Kind selects which fields apply.
type WireRequest struct {
	Kind       Kind     `json:"kind"`
	ID         string   `json:"id,omitempty"`
	IDs        []string `json:"ids,omitempty"`
	Path       string   `json:"path,omitempty"`
	Start      int      `json:"start,omitempty"`
	End        int      `json:"end,omitempty"`
	Line       int      `json:"line,omitempty"`
	Radius     int      `json:"radius,omitempty"`
	Query      string   `json:"query,omitempty"`
	Prefix     string   `json:"prefix,omitempty"`
	Extensions []string `json:"extensions,omitempty"`
	Glob       string   `json:"glob,omitempty"`
	MaxMatches int      `json:"maxMatches,omitempty"`
	MaxEntries int      `json:"maxEntries,omitempty"`
	IgnoreCase bool     `json:"ignoreCase,omitempty"`
}

// Requests converts w into typed requests. A hunk entry may carry several
// ids and expands to one HunkRequest per id. Fields are not validated here;
// see Normalize.
func (w WireRequest) Requests() ([]Request, error) {
	filter := Filter{Prefix: w.Prefix, Extensions: w.Extensions, Glob: w.Glob}
	switch w.Kind {
	case KindHunk:
		var out []Request
		if w.ID != "" {
			out = append(out, HunkRequest{ID: w.ID})
		}
		for _, id := range w.IDs {
			out = append(out, HunkRequest{ID: id})
		}
		if len(out) == 0 {
			return nil, errs.InvalidRequest("hunk request without ids")
		}
		return out, nil
	case KindSnippet:
		return []Request{SnippetRequest{Path: w.Path, Start: w.Start, End: w.End}}, nil
	case KindAround:
		return []Request{AroundRequest{Path: w.Path, Line: w.Line, Radius: w.Radius}}, nil
	case KindFileSearch:
		return []Request{FileSearchRequest{Path: w.Path, Query: w.Query, MaxMatches: w.MaxMatches, IgnoreCase: w.IgnoreCase}}, nil
	case KindRepoSearch:
		return []Request{RepoSearchRequest{Query: w.Query, Filter: filter, MaxMatches: w.MaxMatches, IgnoreCase: w.IgnoreCase}}, nil
	case KindList:
		return []Request{ListRequest{Filter: filter, MaxEntries: w.MaxEntries}}, nil
	case "":
		return nil, errs.InvalidRequest("request kind is required")
	default:
		return nil, errs.InvalidRequest("unknown request kind %q", w.Kind)
	}
}

// ToWire converts r back into its flat form.
func ToWire(r Request) WireRequest {
	switch req := r.(type) {
	case HunkRequest:
		return WireRequest{Kind: KindHunk, ID: req.ID}
	case SnippetRequest:
		return WireRequest{Kind: KindSnippet, Path: req.Path, Start: req.Start, End: req.End}
	case AroundRequest:
		return WireRequest{Kind: KindAround, Path: req.Path, Line: req.Line, Radius: req.Radius}
	case FileSearchRequest:
		return WireRequest{Kind: KindFileSearch, Path: req.Path, Query: req.Query, MaxMatches: req.MaxMatches, IgnoreCase: req.IgnoreCase}
	case RepoSearchRequest:
		return WireRequest{
			Kind: KindRepoSearch, Query: req.Query, MaxMatches: req.MaxMatches, IgnoreCase: req.IgnoreCase,
			Prefix: req.Filter.Prefix, Extensions: req.Filter.Extensions, Glob: req.Filter.Glob,
		}
	case ListRequest:
		return WireRequest{
			Kind: KindList, MaxEntries: req.MaxEntries,
			Prefix: req.Filter.Prefix, Extensions: req.Filter.Extensions, Glob: req.Filter.Glob,
		}
	}
	return WireRequest{}
}
