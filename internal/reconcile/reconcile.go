package reconcile

import (
	"path"
	"sort"
	"strings"

	"github.com/dshills/chronicle/internal/evidence"
)

// Item is one claim as produced by a generator.
type Item struct {
	Text      string   `json:"text"`
	Citations []string `json:"citations"`
}

// Note is a reconciled item. Citations are node ids, sorted; the first one is
// the primary citation whose surface and path decide the note's position.
type Note struct {
	Text      string           `json:"text"`
	Citations []string         `json:"citations"`
	Surface   evidence.Surface `json:"surface"`
	Path      string           `json:"path"`
}

// Stats counts what happened to the input.
type Stats struct {
	Input      int `json:"input"`
	Empty      int `json:"empty"`
	Duplicates int `json:"duplicates"`
	Recovered  int `json:"recovered"`
	Dropped    int `json:"dropped"`
	Output     int `json:"output"`
}

// Run reconciles items against idx. The result depends only on the set of
// items, never on their order.
func Run(items []Item, idx *evidence.Index) ([]Note, Stats) {
	st := Stats{Input: len(items)}

	type group struct {
		text  string
		cites map[string]bool
	}
	groups := make(map[string]*group)
	var keys []string
	for _, it := range items {
		text := strings.TrimSpace(it.Text)
		if text == "" {
			st.Empty++
			continue
		}
		key := normalize(text)
		g, ok := groups[key]
		if !ok {
			g = &group{text: text, cites: make(map[string]bool)}
			groups[key] = g
			keys = append(keys, key)
		} else {
			st.Duplicates++
			if text < g.text {
				g.text = text
			}
		}
		for _, c := range it.Citations {
			g.cites[c] = true
		}
	}
	sort.Strings(keys)

	notes := make([]Note, 0, len(keys))
	for _, key := range keys {
		g := groups[key]
		cites := validate(g.cites, idx)
		if len(cites) == 0 {
			cites = recoverFromText(g.text, idx)
			if len(cites) > 0 {
				st.Recovered++
			}
		}
		if len(cites) == 0 {
			st.Dropped++
			continue
		}
		sort.Strings(cites)
		primary, _ := idx.Node(cites[0])
		notes = append(notes, Note{
			Text:      g.text,
			Citations: cites,
			Surface:   primary.Surface,
			Path:      primary.Path,
		})
	}

	sort.SliceStable(notes, func(i, j int) bool {
		a, b := notes[i], notes[j]
		if pa, pb := a.Surface.Priority(), b.Surface.Priority(); pa != pb {
			return pa < pb
		}
		if a.Path != b.Path {
			return a.Path < b.Path
		}
		if a.Text != b.Text {
			return a.Text < b.Text
		}
		return strings.Join(a.Citations, ",") < strings.Join(b.Citations, ",")
	})
	st.Output = len(notes)
	return notes, st
}

// normalize folds case and collapses whitespace.
func normalize(text string) string {
	return strings.Join(strings.Fields(strings.ToLower(text)), " ")
}

// validate maps raw citations to node ids. Hunk ids resolve to the node that
// owns them; anything unknown is dropped.
func validate(raw map[string]bool, idx *evidence.Index) []string {
	seen := make(map[string]bool)
	var out []string
	for c := range raw {
		c = strings.ToLower(strings.TrimSpace(c))
		if c == "" {
			continue
		}
		id := ""
		if n, ok := idx.Node(c); ok {
			id = n.ID
		} else if n, ok := idx.NodeForHunk(c); ok {
			id = n.ID
		}
		if id != "" && !seen[id] {
			seen[id] = true
			out = append(out, id)
		}
	}
	return out
}

type span struct{ start, end int }

// recoverFromText finds nodes whose path or old path is mentioned in text. Binary
// nodes are never candidates. A mention that lies inside a longer mentioned
// path does not count, so "a.go" does not cite alongside "pkg/a.go". When no
// full path is mentioned, a basename unique among candidates is accepted.
func recoverFromText(text string, idx *evidence.Index) []string {
	var nodes []evidence.Node
	for _, n := range idx.Nodes() {
		if !n.Binary {
			nodes = append(nodes, n)
		}
	}

	hits := make(map[string][]span)
	var all []span
	for _, n := range nodes {
		for _, p := range []string{n.Path, n.OldPath} {
			if p == "" {
				continue
			}
			for _, s := range mentions(text, p) {
				hits[n.ID] = append(hits[n.ID], s)
				all = append(all, s)
			}
		}
	}

	var out []string
	for id, spans := range hits {
		for _, s := range spans {
			if !shadowed(s, all) {
				out = append(out, id)
				break
			}
		}
	}
	if len(out) > 0 {
		return out
	}

	byBase := make(map[string][]string)
	for _, n := range nodes {
		b := path.Base(n.Path)
		byBase[b] = append(byBase[b], n.ID)
	}
	for b, ids := range byBase {
		if len(ids) == 1 && len(mentions(text, b)) > 0 {
			out = append(out, ids[0])
		}
	}
	return out
}

// mentions returns every occurrence of p in text that stands as its own
// token.
func mentions(text, p string) []span {
	var out []span
	for from := 0; from < len(text); {
		i := strings.Index(text[from:], p)
		if i < 0 {
			break
		}
		start := from + i
		end := start + len(p)
		if startBoundary(text, start) && endBoundary(text, end) {
			out = append(out, span{start, end})
		}
		from = start + 1
	}
	return out
}

func shadowed(s span, all []span) bool {
	for _, o := range all {
		if o.start <= s.start && s.end <= o.end && o.end-o.start > s.end-s.start {
			return true
		}
	}
	return false
}

func startBoundary(text string, i int) bool {
	if i == 0 {
		return true
	}
	c := text[i-1]
	return !wordByte(c) && c != '/' && c != '.'
}

func endBoundary(text string, i int) bool {
	if i == len(text) {
		return true
	}
	c := text[i]
	if c == '.' {
		return i+1 == len(text) || !wordByte(text[i+1])
	}
	return !wordByte(c) && c != '/'
}

func wordByte(c byte) bool {
	return c == '_' || c == '-' ||
		'a' <= c && c <= 'z' || 'A' <= c && c <= 'Z' || '0' <= c && c <= '9'
}
