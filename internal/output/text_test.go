package output

import (
	"bytes"
	"strings"
	"testing"

	"github.com/dshills/chronicle/internal/evidence"
	"github.com/dshills/chronicle/internal/gateway"
	"github.com/dshills/chronicle/internal/gitctx"
	"github.com/dshills/chronicle/internal/notes"
	"github.com/dshills/chronicle/internal/reconcile"
	"github.com/dshills/chronicle/internal/rounds"
)

var (
	baseSHA = "1111111111111111111111111111111111111111"
	headSHA = "2222222222222222222222222222222222222222"
	nodeA   = strings.Repeat("a", 64)
	nodeB   = strings.Repeat("b", 64)
)

func emptyReport() *notes.Report {
	return &notes.Report{
		Tool:    notes.Tool,
		Version: "1.0",
		Repo:    gitctx.RepoMeta{Root: "/tmp/repo", Branch: "main"},
		Range:   gitctx.Range{Spec: "v1.0..v1.1", Base: baseSHA, Head: headSHA},
		Commits: []gitctx.CommitInfo{},
		Notes:   []reconcile.Note{},
	}
}

func sampleReport() *notes.Report {
	r := emptyReport()
	r.Commits = []gitctx.CommitInfo{{SHA: headSHA, Subject: "add retry flag"}}
	r.Evidence = notes.EvidenceInfo{Files: 3, Hunks: 5}
	r.Notes = []reconcile.Note{
		{Text: "Client.Do now retries idempotent requests", Citations: []string{nodeA}, Surface: evidence.SurfacePublicAPI, Path: "pkg/client.go"},
		{Text: "New --retries flag", Citations: []string{nodeB}, Surface: evidence.SurfaceCLI, Path: "cmd/tool/main.go"},
		{Text: "Documents the retry policy in much more detail than anyone would want to read in one terminal line", Citations: []string{nodeA, nodeB}, Surface: evidence.SurfaceCLI, Path: "cmd/tool/flags.go"},
	}
	r.Budgets = []gateway.Usage{{Kind: gateway.KindHunk, Limit: 1000, Used: 400, Remaining: 600, Calls: 2}}
	r.Rounds = rounds.Summary{Rounds: 2, Served: 2, Skipped: 1, Bytes: 400, StopReason: rounds.StopDone}
	r.Usage = notes.Usage{Calls: 3, TokensUsed: 1200}
	r.Provider, r.Model = "anthropic", "claude"
	r.Timing = notes.Timing{IndexMs: 10, RoundsMs: 20, DraftMs: 5, TotalMs: 40}
	return r
}

func TestTextWriter_NoNotes(t *testing.T) {
	var buf bytes.Buffer
	w := &TextWriter{}
	if err := w.Write(&buf, emptyReport()); err != nil {
		t.Fatalf("Write error: %v", err)
	}

	out := buf.String()
	if !strings.Contains(out, "v1.0..v1.1") {
		t.Error("Output should mention the range")
	}
	if !strings.Contains(out, "Notes: 0") {
		t.Error("Output should show zero notes")
	}
	if !strings.Contains(out, "Nothing to report") {
		t.Error("Output should say there is nothing to report")
	}
	if strings.Contains(out, "Model:") {
		t.Error("Model line should be omitted when no calls were made")
	}
}

func TestTextWriter_WithNotes(t *testing.T) {
	var buf bytes.Buffer
	w := &TextWriter{}
	if err := w.Write(&buf, sampleReport()); err != nil {
		t.Fatalf("Write error: %v", err)
	}
	out := buf.String()

	checks := []string{
		"Range: 111111111111..222222222222",
		"PUBLIC API",
		"COMMAND LINE",
		"  - Client.Do now retries idempotent requests",
		"    pkg/client.go [aaaaaaaaaaaa]",
		"[aaaaaaaaaaaa, bbbbbbbbbbbb]",
		"Rounds: 2 (stop: done)",
		"Model: anthropic/claude | 3 calls",
		"Completed in 40ms",
	}
	for _, c := range checks {
		if !strings.Contains(out, c) {
			t.Errorf("Output missing %q\n%s", c, out)
		}
	}
	if strings.Count(out, "COMMAND LINE") != 1 {
		t.Error("each surface heading should appear once")
	}
	if strings.Index(out, "PUBLIC API") > strings.Index(out, "COMMAND LINE") {
		t.Error("notes should keep their order")
	}
	for _, line := range strings.Split(out, "\n") {
		if len([]rune(line)) > 80 {
			t.Errorf("line too long: %q", line)
		}
	}
}

func TestTextWriter_Truncated(t *testing.T) {
	r := sampleReport()
	r.Truncated = 4
	var buf bytes.Buffer
	if err := (&TextWriter{}).Write(&buf, r); err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(buf.String(), "(4 more notes omitted)") {
		t.Error("truncation should be reported")
	}
}

type failWriter struct{}

func (failWriter) Write([]byte) (int, error) { return 0, errShort }

var errShort = bytes.ErrTooLarge

func TestTextWriter_PropagatesWriteError(t *testing.T) {
	if err := (&TextWriter{}).Write(failWriter{}, sampleReport()); err != errShort {
		t.Errorf("Write error = %v, want %v", err, errShort)
	}
}

func TestWrapText(t *testing.T) {
	tests := []struct {
		text  string
		width int
		want  int
	}{
		{"short", 70, 1},
		{"one two three four", 9, 3},
		{strings.Repeat("word ", 40), 70, 3},
	}
	for _, tt := range tests {
		if got := wrapText(tt.text, tt.width); len(got) != tt.want {
			t.Errorf("wrapText(%q, %d) = %d lines, want %d", tt.text, tt.width, len(got), tt.want)
		}
	}
}

func TestGetWriter(t *testing.T) {
	for _, f := range []string{"text", "json", "markdown", "md"} {
		if _, err := GetWriter(f); err != nil {
			t.Errorf("GetWriter(%q) error: %v", f, err)
		}
	}
	if _, err := GetWriter("sarif"); err == nil {
		t.Error("GetWriter(sarif) should fail")
	}
}
