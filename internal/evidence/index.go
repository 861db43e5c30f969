package evidence

import (
	"crypto/sha256"
	"encoding/hex"
	"sort"
	"strconv"
	"strings"

	"github.com/dshills/chronicle/internal/segment"
	"github.com/dshills/chronicle/internal/store"
)

// Node is the evidence for one changed file.
type Node struct {
	ID      string             `json:"id"`
	Path    string             `json:"path"`
	OldPath string             `json:"oldPath,omitempty"`
	Kind    segment.ChangeKind `json:"changeKind"`
	Binary  bool               `json:"isBinary"`
	Surface Surface            `json:"surface"`
	HunkIDs []string           `json:"hunkIds"`
}

// NodeID returns the content address of a node. The encoding is a
// length-prefixed tuple, one "<len>:<value>\n" record per field in the order
// path, oldPath, kind, binary, then each hunk id in sorted order. An absent
// oldPath is written as "~\n".
func NodeID(path, oldPath string, kind segment.ChangeKind, binary bool, hunkIDs []string) string {
	ids := append([]string(nil), hunkIDs...)
	sort.Strings(ids)

	var b strings.Builder
	field := func(v string) {
		b.WriteString(strconv.Itoa(len(v)))
		b.WriteByte(':')
		b.WriteString(v)
		b.WriteByte('\n')
	}
	field(path)
	if oldPath == "" {
		b.WriteString("~\n")
	} else {
		field(oldPath)
	}
	field(string(kind))
	field(strconv.FormatBool(binary))
	for _, id := range ids {
		field(id)
	}
	sum := sha256.Sum256([]byte(b.String()))
	return hex.EncodeToString(sum[:])
}

// Index maps node ids to nodes for one base..head range.
type Index struct {
	Base string
	Head string

	nodes  map[string]Node
	order  []string
	byHunk map[string]string
	byPath map[string]string
}

// New assembles an index from manifest entries. Hunk ids on each node are
// sorted; nodes are ordered by path.
func New(base, head string, files []store.ManifestFile, rules Rules) *Index {
	idx := &Index{
		Base:   base,
		Head:   head,
		nodes:  make(map[string]Node, len(files)),
		byHunk: make(map[string]string),
		byPath: make(map[string]string, len(files)),
	}
	for _, f := range files {
		ids := append([]string{}, f.HunkIDs...)
		sort.Strings(ids)
		n := Node{
			Path:    f.Path,
			OldPath: f.OldPath,
			Kind:    f.ChangeKind,
			Binary:  f.IsBinary,
			Surface: Classify(f.Path, rules),
			HunkIDs: ids,
		}
		n.ID = NodeID(n.Path, n.OldPath, n.Kind, n.Binary, n.HunkIDs)
		if _, dup := idx.nodes[n.ID]; dup {
			continue
		}
		idx.nodes[n.ID] = n
		idx.order = append(idx.order, n.ID)
		for _, h := range ids {
			if _, ok := idx.byHunk[h]; !ok {
				idx.byHunk[h] = n.ID
			}
		}
		if _, ok := idx.byPath[n.Path]; !ok {
			idx.byPath[n.Path] = n.ID
		}
	}
	sort.Slice(idx.order, func(i, j int) bool {
		a, b := idx.nodes[idx.order[i]], idx.nodes[idx.order[j]]
		if a.Path != b.Path {
			return a.Path < b.Path
		}
		return a.ID < b.ID
	})
	return idx
}

// FromManifest rebuilds an index from a persisted manifest.
func FromManifest(m store.Manifest, rules Rules) *Index {
	return New(m.Base, m.Head, m.Files, rules)
}

// Len returns the number of nodes.
func (x *Index) Len() int { return len(x.order) }

// Nodes returns all nodes ordered by path.
func (x *Index) Nodes() []Node {
	out := make([]Node, 0, len(x.order))
	for _, id := range x.order {
		out = append(out, x.nodes[id])
	}
	return out
}

// Node returns the node with the given id.
func (x *Index) Node(id string) (Node, bool) {
	n, ok := x.nodes[id]
	return n, ok
}

// NodeForPath returns the node whose current path is p.
func (x *Index) NodeForPath(p string) (Node, bool) {
	id, ok := x.byPath[p]
	if !ok {
		return Node{}, false
	}
	return x.nodes[id], true
}

// HasHunk reports whether id belongs to some node. Retrieval of any other
// hunk id must be refused.
func (x *Index) HasHunk(id string) bool {
	_, ok := x.byHunk[id]
	return ok
}

// NodeForHunk returns the node that owns hunk id.
func (x *Index) NodeForHunk(id string) (Node, bool) {
	nid, ok := x.byHunk[id]
	if !ok {
		return Node{}, false
	}
	return x.nodes[nid], true
}

// HunkIDs returns every allowed hunk id, sorted.
func (x *Index) HunkIDs() []string {
	out := make([]string, 0, len(x.byHunk))
	for id := range x.byHunk {
		out = append(out, id)
	}
	sort.Strings(out)
	return out
}

// Export is the serializable form of an index.
type Export struct {
	Base  string `json:"base"`
	Head  string `json:"head"`
	Nodes []Node `json:"nodes"`
}

// Export returns the index as a plain value.
func (x *Index) Export() Export {
	return Export{Base: x.Base, Head: x.Head, Nodes: x.Nodes()}
}

// SurfaceCounts returns the number of nodes per surface.
func (x *Index) SurfaceCounts() map[Surface]int {
	out := make(map[Surface]int)
	for _, n := range x.nodes {
		out[n.Surface]++
	}
	return out
}
