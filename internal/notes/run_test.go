package notes

import (
	"context"
	"os"
	"os/exec"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dshills/chronicle/internal/config"
	"github.com/dshills/chronicle/internal/errs"
	"github.com/dshills/chronicle/internal/evidence"
	"github.com/dshills/chronicle/internal/gateway"
	"github.com/dshills/chronicle/internal/reconcile"
	"github.com/dshills/chronicle/internal/rounds"
)

func setupTestRepo(t *testing.T) string {
	t.Helper()
	if _, err := exec.LookPath("git"); err != nil {
		t.Skip("git not installed")
	}
	dir := t.TempDir()

	run := func(args ...string) {
		t.Helper()
		cmd := exec.Command(args[0], args[1:]...)
		cmd.Dir = dir
		cmd.Env = append(os.Environ(),
			"GIT_AUTHOR_NAME=test",
			"GIT_AUTHOR_EMAIL=test@test.com",
			"GIT_COMMITTER_NAME=test",
			"GIT_COMMITTER_EMAIL=test@test.com",
		)
		out, err := cmd.CombinedOutput()
		require.NoError(t, err, "command %v failed:\n%s", args, out)
	}
	write := func(name, content string) {
		t.Helper()
		p := filepath.Join(dir, name)
		require.NoError(t, os.MkdirAll(filepath.Dir(p), 0o755))
		require.NoError(t, os.WriteFile(p, []byte(content), 0o644))
	}

	run("git", "init", "-q")
	run("git", "checkout", "-q", "-b", "main")
	write("README.md", "# tool\n")
	write("main.go", "package main\n\nfunc main() {}\n")
	run("git", "add", "-A")
	run("git", "commit", "-q", "-m", "init")

	write("main.go", "package main\n\nimport \"fmt\"\n\nfunc main() { fmt.Println(\"hi\") }\n")
	write("cmd/tool/main.go", "package main\n\nfunc main() {}\n")
	write("docs/guide.md", "# Guide\n\nRun the tool from the repository root.\n\nIt prints a greeting and exits with status zero.\n")
	write("vendor/dep/dep.go", "package dep\n")
	run("git", "add", "-A")
	run("git", "commit", "-q", "-m", "add tool command and guide")

	return dir
}

// fakeDrafter asks for every hunk in round one, stops in round two and
// drafts the given items.
type fakeDrafter struct {
	items  func(idx *evidence.Index) []reconcile.Item
	rounds int
	seen   rounds.Transcript
}

func (f *fakeDrafter) NextRound(_ context.Context, idx *evidence.Index, t rounds.Transcript) (*rounds.Bundle, error) {
	f.rounds++
	if t.Len() > 0 {
		return &rounds.Bundle{Done: true}, nil
	}
	var reqs []gateway.Request
	for _, id := range idx.HunkIDs() {
		reqs = append(reqs, gateway.HunkRequest{ID: id})
	}
	return &rounds.Bundle{Requests: reqs}, nil
}

func (f *fakeDrafter) Draft(_ context.Context, idx *evidence.Index, t rounds.Transcript) ([]reconcile.Item, error) {
	f.seen = t
	return f.items(idx), nil
}

func testConfig(t *testing.T) config.Config {
	cfg := config.Default()
	cfg.IndexDir = t.TempDir()
	cfg.Cache.Enabled = false
	return cfg
}

func nodeID(t *testing.T, idx *evidence.Index, path string) string {
	t.Helper()
	n, ok := idx.NodeForPath(path)
	require.True(t, ok, "no node for %s", path)
	return n.ID
}

func TestRun_EndToEnd(t *testing.T) {
	dir := setupTestRepo(t)
	cfg := testConfig(t)

	gen := &fakeDrafter{items: func(idx *evidence.Index) []reconcile.Item {
		mainID := nodeID(t, idx, "main.go")
		return []reconcile.Item{
			{Text: "main now prints a greeting", Citations: []string{mainID}},
			{Text: "Main now prints  a greeting", Citations: []string{mainID}},
			{Text: "Adds a user guide in docs/guide.md"},
			{Text: "   "},
			{Text: "Something nobody can cite"},
		}
	}}

	report, err := Run(context.Background(), Options{
		Dir:       dir,
		Range:     "HEAD~1..HEAD",
		Config:    cfg,
		Version:   "test",
		Generator: gen,
	})
	require.NoError(t, err)

	assert.Equal(t, Tool, report.Tool)
	assert.Equal(t, "test", report.Version)
	assert.Len(t, report.RunID, 26)
	assert.Equal(t, "HEAD~1..HEAD", report.Range.Spec)
	require.Len(t, report.Commits, 1)
	assert.Equal(t, "add tool command and guide", report.Commits[0].Subject)

	// vendor/ is excluded by default.
	assert.Equal(t, 3, report.Evidence.Files)
	assert.False(t, report.Evidence.Reused)

	assert.Equal(t, 2, gen.rounds)
	assert.Equal(t, rounds.StopDone, report.Rounds.StopReason)
	// All three hunks fit the default budget and are served as one batch.
	assert.Equal(t, 1, report.Rounds.Served)
	require.Len(t, gen.seen.Rounds, 2)
	require.Len(t, gen.seen.Rounds[0].Entries, 1)
	assert.Len(t, gen.seen.Rounds[0].Entries[0].Request.IDs, 3)

	var hunkUsage gateway.Usage
	for _, u := range report.Budgets {
		if u.Kind == gateway.KindHunk {
			hunkUsage = u
		}
	}
	assert.Positive(t, hunkUsage.Used)
	assert.Equal(t, report.Rounds.Bytes, hunkUsage.Used)

	require.Len(t, report.Notes, 2)
	paths := []string{report.Notes[0].Path, report.Notes[1].Path}
	assert.ElementsMatch(t, []string{"main.go", "docs/guide.md"}, paths)
	assert.Equal(t, reconcile.Stats{Input: 5, Empty: 1, Duplicates: 1, Recovered: 1, Dropped: 1, Output: 2}, report.Reconcile)
}

func TestRun_ReusesIndex(t *testing.T) {
	dir := setupTestRepo(t)
	cfg := testConfig(t)
	gen := func() *fakeDrafter {
		return &fakeDrafter{items: func(*evidence.Index) []reconcile.Item { return nil }}
	}

	first, err := Run(context.Background(), Options{Dir: dir, Range: "HEAD~1..HEAD", Config: cfg, Generator: gen()})
	require.NoError(t, err)
	assert.False(t, first.Evidence.Reused)

	second, err := Run(context.Background(), Options{Dir: dir, Range: "HEAD~1..HEAD", Config: cfg, Generator: gen()})
	require.NoError(t, err)
	assert.True(t, second.Evidence.Reused)
	assert.Equal(t, first.Evidence.Files, second.Evidence.Files)
	assert.Equal(t, first.Evidence.Hunks, second.Evidence.Hunks)
	assert.NotEqual(t, first.RunID, second.RunID)

	third, err := Run(context.Background(), Options{Dir: dir, Range: "HEAD~1..HEAD", Config: cfg, Reindex: true, Generator: gen()})
	require.NoError(t, err)
	assert.False(t, third.Evidence.Reused)
	assert.Empty(t, third.Notes)
}

func TestRun_MaxNotes(t *testing.T) {
	dir := setupTestRepo(t)
	cfg := testConfig(t)
	cfg.MaxNotes = 1

	gen := &fakeDrafter{items: func(idx *evidence.Index) []reconcile.Item {
		return []reconcile.Item{
			{Text: "one", Citations: []string{nodeID(t, idx, "main.go")}},
			{Text: "two", Citations: []string{nodeID(t, idx, "docs/guide.md")}},
		}
	}}
	report, err := Run(context.Background(), Options{Dir: dir, Range: "HEAD~1", Config: cfg, Generator: gen})
	require.NoError(t, err)
	assert.Len(t, report.Notes, 1)
	assert.Equal(t, 1, report.Truncated)
	assert.Equal(t, 2, report.Reconcile.Output)
}

func TestRun_EmptyRangeSkipsGenerator(t *testing.T) {
	dir := setupTestRepo(t)
	cfg := testConfig(t)

	report, err := Run(context.Background(), Options{Dir: dir, Range: "HEAD..HEAD", Config: cfg})
	require.NoError(t, err)
	assert.Equal(t, 0, report.Evidence.Files)
	assert.NotNil(t, report.Notes)
	assert.Empty(t, report.Notes)
	assert.Empty(t, report.Commits)
	assert.Zero(t, report.Usage.Calls)
	assert.Len(t, report.Budgets, len(gateway.Kinds))
}

func TestPrepare_Errors(t *testing.T) {
	dir := setupTestRepo(t)
	cfg := testConfig(t)

	_, err := Prepare(context.Background(), PrepareOptions{Dir: dir, Range: "nope..HEAD", Config: cfg})
	assert.True(t, errs.Is(err, errs.CodeNotFound), "got %v", err)

	_, err = Prepare(context.Background(), PrepareOptions{Dir: dir, Range: "", Config: cfg})
	assert.True(t, errs.Is(err, errs.CodeInvalidRequest), "got %v", err)

	_, err = Prepare(context.Background(), PrepareOptions{Dir: t.TempDir(), Range: "HEAD~1..HEAD", Config: cfg})
	assert.Error(t, err)
}

func TestPrepare_TotalLimitRemovesPartialIndex(t *testing.T) {
	dir := setupTestRepo(t)
	cfg := testConfig(t)
	cfg.Limits.MaxHunkBytes = 128
	cfg.Limits.MaxTotalHunkBytes = 128

	_, err := Prepare(context.Background(), PrepareOptions{Dir: dir, Range: "HEAD~1..HEAD", Config: cfg})
	require.Error(t, err)
	assert.True(t, errs.Is(err, errs.CodeLimitExceeded), "got %v", err)

	entries, err := os.ReadDir(cfg.IndexDir)
	require.NoError(t, err)
	assert.Empty(t, entries, "partial index should be removed")
}

func TestWorkspace_Gateway(t *testing.T) {
	dir := setupTestRepo(t)
	cfg := testConfig(t)
	cfg.Budgets.List = 4096

	ws, err := Prepare(context.Background(), PrepareOptions{Dir: dir, Range: "HEAD~1..HEAD", Config: cfg})
	require.NoError(t, err)
	require.NotNil(t, ws.Build)

	gw := ws.Gateway(cfg, nil)
	res, n, err := gw.List(context.Background(), gateway.ListRequest{Filter: gateway.Filter{Prefix: "docs/"}})
	require.NoError(t, err)
	assert.Equal(t, []string{"docs/guide.md"}, res.Paths)
	assert.Equal(t, 4096-n, gw.Remaining(gateway.KindList))
}

func TestRun_BlankRoundReplyStillDrafts(t *testing.T) {
	dir := setupTestRepo(t)
	cfg := testConfig(t)

	llm := &scriptedLLM{replies: []string{
		"",
		`[{"text": "main.go now prints a greeting", "citations": []}]`,
	}}
	gen := NewGenerator(llm, GeneratorOptions{Model: "m"})

	report, err := Run(context.Background(), Options{Dir: dir, Range: "HEAD~1..HEAD", Config: cfg, Generator: gen})
	require.NoError(t, err)

	assert.Equal(t, rounds.StopNoNew, report.Rounds.StopReason)
	assert.Equal(t, 1, report.Rounds.Rounds)
	require.Len(t, llm.calls, 2)
	assert.Equal(t, DraftSystemPrompt(), llm.calls[1].System)
	require.Len(t, report.Notes, 1)
	assert.Equal(t, "main.go", report.Notes[0].Path)
}

func TestRun_RebuildsIndexWithMissingHunk(t *testing.T) {
	dir := setupTestRepo(t)
	cfg := testConfig(t)
	gen := func() *fakeDrafter {
		return &fakeDrafter{items: func(*evidence.Index) []reconcile.Item { return nil }}
	}

	first, err := Run(context.Background(), Options{Dir: dir, Range: "HEAD~1..HEAD", Config: cfg, Generator: gen()})
	require.NoError(t, err)
	require.False(t, first.Evidence.Reused)

	hunks, err := filepath.Glob(filepath.Join(cfg.IndexDir, "*", "hunks", "*"))
	require.NoError(t, err)
	require.NotEmpty(t, hunks)
	require.NoError(t, os.Remove(hunks[0]))

	second, err := Run(context.Background(), Options{Dir: dir, Range: "HEAD~1..HEAD", Config: cfg, Generator: gen()})
	require.NoError(t, err, "a partly deleted index is rebuilt, not served")
	assert.False(t, second.Evidence.Reused)
	assert.Equal(t, first.Evidence.Hunks, second.Evidence.Hunks)
	assert.Equal(t, 1, second.Rounds.Served)
	assert.Zero(t, second.Rounds.Exhausted)

	third, err := Run(context.Background(), Options{Dir: dir, Range: "HEAD~1..HEAD", Config: cfg, Generator: gen()})
	require.NoError(t, err)
	assert.True(t, third.Evidence.Reused)
}
