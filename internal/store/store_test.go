package store

import (
	"bytes"
	"os"
	"path/filepath"
	"reflect"
	"strings"
	"testing"

	"github.com/dshills/chronicle/internal/errs"
	"github.com/dshills/chronicle/internal/segment"
)

const (
	testBase = "1111111111111111111111111111111111111111"
	testHead = "2222222222222222222222222222222222222222"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := Create(t.TempDir(), testBase, testHead)
	if err != nil {
		t.Fatalf("Create error: %v", err)
	}
	return s
}

func sampleHunk() segment.Hunk {
	lines := []string{" name: app", "-timeout: 10", "+timeout: 30"}
	return segment.Hunk{
		Path:   "config/app.yaml",
		Header: "@@ -1,2 +1,2 @@",
		Lines:  lines,
		Bytes:  segment.SizeOf("@@ -1,2 +1,2 @@", lines),
	}
}

func TestEncode_Canonical(t *testing.T) {
	h := sampleHunk()
	want := "path config/app.yaml\n@@ -1,2 +1,2 @@\n name: app\n-timeout: 10\n+timeout: 30\n"
	if got := string(Encode(h)); got != want {
		t.Errorf("Encode() =\n%q\nwant\n%q", got, want)
	}

	h.OldPath = "config/old.yaml"
	want = "path config/app.yaml\nold-path config/old.yaml\n@@ -1,2 +1,2 @@\n name: app\n-timeout: 10\n+timeout: 30\n"
	if got := string(Encode(h)); got != want {
		t.Errorf("Encode() with old path =\n%q\nwant\n%q", got, want)
	}
}

func TestEncode_IgnoresIDAndBytes(t *testing.T) {
	a := sampleHunk()
	b := sampleHunk()
	b.ID = "something"
	b.Bytes = 1
	b.Truncated = true
	if !bytes.Equal(Encode(a), Encode(b)) {
		t.Error("ID, Bytes and Truncated must not affect the encoding")
	}
}

func TestEncode_OddPaths(t *testing.T) {
	h := sampleHunk()
	h.Path = "weird\nname.txt"
	h.OldPath = `"quoted".txt`
	data := Encode(h)
	got, err := Decode(HashID(data), data)
	if err != nil {
		t.Fatalf("Decode error: %v", err)
	}
	if got.Path != h.Path || got.OldPath != h.OldPath {
		t.Errorf("paths = %q, %q; want %q, %q", got.Path, got.OldPath, h.Path, h.OldPath)
	}
}

func TestPutRead_RoundTrip(t *testing.T) {
	s := newTestStore(t)
	h := sampleHunk()

	id, err := s.Put(h)
	if err != nil {
		t.Fatalf("Put error: %v", err)
	}
	if !ValidID(id) {
		t.Fatalf("Put returned invalid id %q", id)
	}
	if id != HashID(Encode(h)) {
		t.Error("id must be the hash of the canonical encoding")
	}

	got, err := s.Read(id)
	if err != nil {
		t.Fatalf("Read error: %v", err)
	}
	h.ID = id
	if !reflect.DeepEqual(got, h) {
		t.Errorf("Read() = %+v, want %+v", got, h)
	}
}

func TestPut_Idempotent(t *testing.T) {
	s := newTestStore(t)
	id1, err := s.Put(sampleHunk())
	if err != nil {
		t.Fatal(err)
	}
	id2, err := s.Put(sampleHunk())
	if err != nil {
		t.Fatal(err)
	}
	if id1 != id2 {
		t.Errorf("ids differ: %s vs %s", id1, id2)
	}
	entries, err := os.ReadDir(filepath.Join(s.Dir(), hunksDir))
	if err != nil {
		t.Fatal(err)
	}
	if len(entries) != 1 {
		t.Errorf("hunks dir has %d entries, want 1", len(entries))
	}
}

func TestRead_TruncatedAndMeta(t *testing.T) {
	s := newTestStore(t)

	meta := segment.MetaHunk(segment.FileChange{Path: "b.go", OldPath: "a.go", Kind: segment.KindRename})
	id, err := s.Put(meta)
	if err != nil {
		t.Fatal(err)
	}
	got, err := s.Read(id)
	if err != nil {
		t.Fatal(err)
	}
	if !got.IsMeta() || got.OldPath != "a.go" {
		t.Errorf("meta hunk round trip = %+v", got)
	}

	trunc := segment.Hunk{Path: "x", Header: "@@ -1 +1 @@", Lines: []string{"+a", segment.TruncationMarker}}
	id, err = s.Put(trunc)
	if err != nil {
		t.Fatal(err)
	}
	got, err = s.Read(id)
	if err != nil {
		t.Fatal(err)
	}
	if !got.Truncated {
		t.Error("hunk ending in the truncation marker should read back as truncated")
	}
}

func TestRead_Malformed(t *testing.T) {
	tests := []struct {
		name    string
		content string
	}{
		{"missing path line", "@@ -1 +1 @@\n+a\n"},
		{"missing header", "path a.go\n+a\n"},
		{"old path without header", "path a.go\nold-path b.go\n"},
		{"no trailing newline", "path a.go\n@@ -1 +1 @@\n+a"},
		{"empty path", "path \n@@ -1 +1 @@\n"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := newTestStore(t)
			data := []byte(tt.content)
			id := HashID(data)
			if err := os.WriteFile(s.hunkPath(id), data, 0o644); err != nil {
				t.Fatal(err)
			}
			_, err := s.Read(id)
			if !errs.Is(err, errs.CodeMalformed) {
				t.Fatalf("Read() error = %v, want MALFORMED", err)
			}
			if !strings.Contains(err.Error(), id) {
				t.Errorf("error %q should name the hunk id", err)
			}
		})
	}
}

func TestRead_HashMismatch(t *testing.T) {
	s := newTestStore(t)
	id, err := s.Put(sampleHunk())
	if err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(s.hunkPath(id), []byte("path config/app.yaml\n@@ -1 +1 @@\n+tampered\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	if _, err := s.Read(id); !errs.Is(err, errs.CodeMalformed) {
		t.Errorf("Read() error = %v, want MALFORMED", err)
	}
}

func TestRead_MissingAndInvalid(t *testing.T) {
	s := newTestStore(t)
	if _, err := s.Read(strings.Repeat("a", 64)); !errs.Is(err, errs.CodeNotFound) {
		t.Errorf("missing id error = %v, want NOT_FOUND", err)
	}
	for _, id := range []string{"", "../../etc/passwd", strings.Repeat("A", 64), strings.Repeat("a", 63)} {
		if _, err := s.Read(id); !errs.Is(err, errs.CodeInvalidRequest) {
			t.Errorf("Read(%q) error = %v, want INVALID_REQUEST", id, err)
		}
	}
}

func TestGet_Cap(t *testing.T) {
	s := newTestStore(t)
	var ids []string
	total := 0
	for _, p := range []string{"a.go", "b.go", "c.go"} {
		h := sampleHunk()
		h.Path = p
		id, err := s.Put(h)
		if err != nil {
			t.Fatal(err)
		}
		ids = append(ids, id)
		total += len(Encode(h))
	}

	got, err := s.Get(ids, total)
	if err != nil {
		t.Fatalf("Get at exact cap: %v", err)
	}
	if len(got) != 3 || got[0].Path != "a.go" || got[2].Path != "c.go" {
		t.Errorf("Get returned %d hunks in wrong order", len(got))
	}

	got, err = s.Get(ids, total-1)
	if !errs.Is(err, errs.CodeBudgetExceeded) {
		t.Fatalf("Get over cap error = %v, want BUDGET_EXCEEDED", err)
	}
	if got != nil {
		t.Error("Get over cap must not return a partial result")
	}

	if _, err := s.Get(ids, 0); err != nil {
		t.Errorf("Get without cap: %v", err)
	}
}

func TestManifest_RoundTripAndSorted(t *testing.T) {
	s := newTestStore(t)
	m := Manifest{Files: []ManifestFile{
		{Path: "z.go", ChangeKind: segment.KindModify, HunkIDs: []string{"b", "a"}},
		{Path: "a.go", OldPath: "old.go", ChangeKind: segment.KindRename},
	}}
	if err := s.WriteManifest(m); err != nil {
		t.Fatalf("WriteManifest error: %v", err)
	}

	got, err := s.ReadManifest()
	if err != nil {
		t.Fatalf("ReadManifest error: %v", err)
	}
	if got.SchemaVersion != SchemaVersion || got.Base != testBase || got.Head != testHead {
		t.Errorf("header = %d %s %s", got.SchemaVersion, got.Base, got.Head)
	}
	if got.Files[0].Path != "a.go" || got.Files[1].Path != "z.go" {
		t.Errorf("files not sorted by path: %+v", got.Files)
	}
	if got.Files[0].HunkIDs == nil {
		t.Error("hunkIds should be an empty list, not null")
	}
	if !reflect.DeepEqual(got.Files[1].HunkIDs, []string{"b", "a"}) {
		t.Error("hunk ids must keep diff order")
	}

	data, err := os.ReadFile(filepath.Join(s.Dir(), manifestName))
	if err != nil {
		t.Fatal(err)
	}
	if !bytes.Contains(data, []byte(`"schemaVersion": 1`)) {
		t.Errorf("manifest missing schema version:\n%s", data)
	}
	if bytes.Contains(data, []byte(`"oldPath": ""`)) {
		t.Error("absent old path must be omitted")
	}
}

func TestManifest_WrongRange(t *testing.T) {
	root := t.TempDir()
	s, err := Create(root, testBase, testHead)
	if err != nil {
		t.Fatal(err)
	}
	if err := s.WriteManifest(Manifest{}); err != nil {
		t.Fatal(err)
	}
	data, err := os.ReadFile(filepath.Join(s.Dir(), manifestName))
	if err != nil {
		t.Fatal(err)
	}
	data = bytes.Replace(data, []byte(testHead), []byte(testBase), 1)
	if err := os.WriteFile(filepath.Join(s.Dir(), manifestName), data, 0o644); err != nil {
		t.Fatal(err)
	}
	if _, err := s.ReadManifest(); !errs.Is(err, errs.CodeMalformed) {
		t.Errorf("ReadManifest error = %v, want MALFORMED", err)
	}
}

func TestVerify(t *testing.T) {
	s := newTestStore(t)
	id, err := s.Put(sampleHunk())
	if err != nil {
		t.Fatalf("Put error: %v", err)
	}
	m := Manifest{Files: []ManifestFile{{Path: "config/app.yaml", ChangeKind: segment.KindModify, HunkIDs: []string{id}}}}
	if err := s.Verify(m); err != nil {
		t.Fatalf("Verify error: %v", err)
	}

	if err := os.Remove(s.hunkPath(id)); err != nil {
		t.Fatal(err)
	}
	err = s.Verify(m)
	if !errs.Is(err, errs.CodeMalformed) {
		t.Fatalf("Verify after deleting a hunk = %v, want MALFORMED", err)
	}
	if !strings.Contains(err.Error(), id) {
		t.Errorf("error should name the hunk: %v", err)
	}
}

func TestOpen(t *testing.T) {
	root := t.TempDir()
	if _, err := Open(root, testBase, testHead); !errs.Is(err, errs.CodeNotFound) {
		t.Errorf("Open before index error = %v, want NOT_FOUND", err)
	}
	s, err := Create(root, testBase, testHead)
	if err != nil {
		t.Fatal(err)
	}
	if err := s.WriteManifest(Manifest{}); err != nil {
		t.Fatal(err)
	}
	if _, err := Open(root, testBase, testHead); err != nil {
		t.Errorf("Open after index: %v", err)
	}
}

func TestCreate_RejectsBadRevisions(t *testing.T) {
	for _, rev := range []string{"", "../x", "a/b", "-rf", ".hidden", "a..b"} {
		if _, err := Create(t.TempDir(), rev, testHead); !errs.Is(err, errs.CodeInvalidRequest) {
			t.Errorf("Create(%q) error = %v, want INVALID_REQUEST", rev, err)
		}
	}
}

func TestCreate_ClearsPreviousIndex(t *testing.T) {
	root := t.TempDir()
	s, err := Create(root, testBase, testHead)
	if err != nil {
		t.Fatal(err)
	}
	id, err := s.Put(sampleHunk())
	if err != nil {
		t.Fatal(err)
	}
	s, err = Create(root, testBase, testHead)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := s.Read(id); !errs.Is(err, errs.CodeNotFound) {
		t.Errorf("stale hunk survived Create: %v", err)
	}
}

func TestListAndRemoveAll(t *testing.T) {
	root := t.TempDir()
	for _, head := range []string{testHead, "3333333333333333333333333333333333333333"} {
		s, err := Create(root, testBase, head)
		if err != nil {
			t.Fatal(err)
		}
		if _, err := s.Put(sampleHunk()); err != nil {
			t.Fatal(err)
		}
		if err := s.WriteManifest(Manifest{}); err != nil {
			t.Fatal(err)
		}
	}
	if err := os.WriteFile(filepath.Join(root, "README"), []byte("keep"), 0o644); err != nil {
		t.Fatal(err)
	}

	stats, err := List(root)
	if err != nil {
		t.Fatalf("List error: %v", err)
	}
	if len(stats.Ranges) != 2 || stats.Hunks != 2 {
		t.Errorf("List = %+v", stats)
	}
	if stats.Ranges[0].Name != RangeName(testBase, testHead) {
		t.Errorf("ranges not sorted: %+v", stats.Ranges)
	}

	n, err := RemoveAll(root)
	if err != nil {
		t.Fatalf("RemoveAll error: %v", err)
	}
	if n != 2 {
		t.Errorf("RemoveAll removed %d, want 2", n)
	}
	if _, err := os.Stat(filepath.Join(root, "README")); err != nil {
		t.Error("RemoveAll deleted an unrelated file")
	}
}

func TestDefaultRoot_XDG(t *testing.T) {
	t.Setenv("XDG_CACHE_HOME", "/tmp/xdg")
	got, err := DefaultRoot()
	if err != nil {
		t.Fatal(err)
	}
	if want := filepath.Join("/tmp/xdg", "chronicle", "index"); got != want {
		t.Errorf("DefaultRoot() = %q, want %q", got, want)
	}
}
