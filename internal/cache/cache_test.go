package cache

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func newTestCache(t *testing.T, ttlSeconds int) (*Cache, *time.Time) {
	t.Helper()
	c, err := New(true, t.TempDir(), ttlSeconds)
	if err != nil {
		t.Fatalf("New error: %v", err)
	}
	now := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)
	c.now = func() time.Time { return now }
	return c, &now
}

func key(prompt string) Key {
	return Key{Provider: "anthropic", Model: "claude", System: "sys", Prompt: prompt}
}

func TestCache_PutGet(t *testing.T) {
	c, _ := newTestCache(t, 86400)
	k := key("round 1")
	value := `[{"text":"adds retries","citations":["abc"]}]`

	if _, ok := c.Get(k); ok {
		t.Error("expected miss before Put")
	}
	if err := c.Put(k, value); err != nil {
		t.Fatalf("Put error: %v", err)
	}
	got, ok := c.Get(k)
	if !ok {
		t.Fatal("expected hit after Put")
	}
	if got != value {
		t.Errorf("Get = %q, want %q", got, value)
	}

	other := k
	other.Model = "claude-2"
	if _, ok := c.Get(other); ok {
		t.Error("a different model must not share the entry")
	}
}

func TestCache_ShardedLayout(t *testing.T) {
	c, _ := newTestCache(t, 0)
	k := key("p")
	if err := c.Put(k, "v"); err != nil {
		t.Fatalf("Put error: %v", err)
	}
	h := k.Hash()
	path := filepath.Join(c.Dir(), h[:2], h+".json")
	if _, err := os.Stat(path); err != nil {
		t.Fatalf("entry not at %s: %v", path, err)
	}
	entries, _ := os.ReadDir(filepath.Dir(path))
	if len(entries) != 1 {
		t.Errorf("shard holds %d files, want 1 (no temp files left)", len(entries))
	}
}

func TestCache_TTLExpiration(t *testing.T) {
	c, now := newTestCache(t, 60)
	k := key("expire")
	if err := c.Put(k, "data"); err != nil {
		t.Fatalf("Put error: %v", err)
	}
	if _, ok := c.Get(k); !ok {
		t.Error("expected hit before expiry")
	}

	*now = now.Add(61 * time.Second)
	stats, err := c.GetStats()
	if err != nil {
		t.Fatalf("GetStats error: %v", err)
	}
	if stats.Expired != 1 {
		t.Errorf("Expired = %d, want 1", stats.Expired)
	}
	if _, ok := c.Get(k); ok {
		t.Error("expected miss after expiry")
	}
	h := k.Hash()
	if _, err := os.Stat(filepath.Join(c.Dir(), h[:2])); !os.IsNotExist(err) {
		t.Errorf("expired entry and its shard should be removed, stat err = %v", err)
	}
}

func TestCache_Disabled(t *testing.T) {
	c, err := New(false, "", 0)
	if err != nil {
		t.Fatalf("New error: %v", err)
	}
	if c.Enabled() || c.Dir() != "" {
		t.Errorf("disabled cache: enabled=%v dir=%q", c.Enabled(), c.Dir())
	}
	if err := c.Put(key("k"), "v"); err != nil {
		t.Errorf("Put on disabled cache: %v", err)
	}
	if _, ok := c.Get(key("k")); ok {
		t.Error("Get on disabled cache should miss")
	}
	if n, err := c.Clear(); err != nil || n != 0 {
		t.Errorf("Clear on disabled cache = %d, %v", n, err)
	}
	if n, err := c.Prune(); err != nil || n != 0 {
		t.Errorf("Prune on disabled cache = %d, %v", n, err)
	}
}

func TestCache_Clear(t *testing.T) {
	c, _ := newTestCache(t, 86400)
	for _, p := range []string{"a", "b", "c", "d", "e"} {
		if err := c.Put(key(p), "data"); err != nil {
			t.Fatalf("Put error: %v", err)
		}
	}
	// A flat entry written by hand is cleared too.
	if err := os.WriteFile(filepath.Join(c.Dir(), "stray.json"), []byte(`{}`), 0o644); err != nil {
		t.Fatal(err)
	}

	n, err := c.Clear()
	if err != nil {
		t.Fatalf("Clear error: %v", err)
	}
	if n != 6 {
		t.Errorf("Clear removed %d, want 6", n)
	}
	left, _ := os.ReadDir(c.Dir())
	if len(left) != 0 {
		t.Errorf("cache dir not empty after Clear: %v", left)
	}
}

func TestCache_Prune(t *testing.T) {
	c, now := newTestCache(t, 60)
	if err := c.Put(key("old"), "data"); err != nil {
		t.Fatalf("Put error: %v", err)
	}
	*now = now.Add(45 * time.Second)
	if err := c.Put(key("new"), "data"); err != nil {
		t.Fatalf("Put error: %v", err)
	}
	if err := os.MkdirAll(filepath.Join(c.Dir(), "zz"), 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(c.Dir(), "zz", "garbage.json"), []byte("{"), 0o644); err != nil {
		t.Fatal(err)
	}

	*now = now.Add(30 * time.Second)
	n, err := c.Prune()
	if err != nil {
		t.Fatalf("Prune error: %v", err)
	}
	if n != 2 {
		t.Errorf("Prune removed %d, want 2 (expired + unreadable)", n)
	}
	if _, ok := c.Get(key("new")); !ok {
		t.Error("live entry should survive Prune")
	}
	if _, ok := c.Get(key("old")); ok {
		t.Error("expired entry should be gone")
	}
}

func TestCache_PruneWithoutTTL(t *testing.T) {
	c, now := newTestCache(t, 0)
	if err := c.Put(key("k"), "v"); err != nil {
		t.Fatalf("Put error: %v", err)
	}
	*now = now.AddDate(10, 0, 0)
	if n, err := c.Prune(); err != nil || n != 0 {
		t.Errorf("Prune = %d, %v; want nothing removed without a TTL", n, err)
	}
}

func TestCache_GetStats(t *testing.T) {
	c, _ := newTestCache(t, 86400)

	stats, err := c.GetStats()
	if err != nil {
		t.Fatalf("GetStats error: %v", err)
	}
	if stats.Entries != 0 || stats.Models != nil {
		t.Errorf("empty cache stats = %+v", stats)
	}

	c.Put(key("one"), "value1")
	c.Put(key("two"), "value2")
	c.Put(Key{Provider: "ollama", Model: "llama3", Prompt: "three"}, "value3")

	stats, err = c.GetStats()
	if err != nil {
		t.Fatalf("GetStats error: %v", err)
	}
	if stats.Entries != 3 {
		t.Errorf("Entries = %d, want 3", stats.Entries)
	}
	if stats.TotalBytes <= 0 {
		t.Error("TotalBytes should be > 0")
	}
	if stats.Dir != c.Dir() {
		t.Errorf("Dir = %q, want %q", stats.Dir, c.Dir())
	}
	if stats.Models["anthropic/claude"] != 2 || stats.Models["ollama/llama3"] != 1 {
		t.Errorf("Models = %v", stats.Models)
	}
}

func TestCache_GetStatsMissingDir(t *testing.T) {
	c, _ := newTestCache(t, 0)
	if err := os.RemoveAll(c.Dir()); err != nil {
		t.Fatal(err)
	}
	stats, err := c.GetStats()
	if err != nil || stats.Entries != 0 {
		t.Errorf("GetStats on a removed dir = %+v, %v", stats, err)
	}
}

func TestKey_Hash(t *testing.T) {
	base := Key{Provider: "anthropic", Model: "claude-sonnet", System: "system", Prompt: "prompt"}
	tests := []struct {
		name string
		k    Key
		same bool
	}{
		{"identical", base, true},
		{"provider", Key{Provider: "openai", Model: "claude-sonnet", System: "system", Prompt: "prompt"}, false},
		{"model", Key{Provider: "anthropic", Model: "gpt-4o", System: "system", Prompt: "prompt"}, false},
		{"shifted bytes", Key{Provider: "anthropic", Model: "claude-sonnet", System: "systemp", Prompt: "rompt"}, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.k.Hash() == base.Hash(); got != tt.same {
				t.Errorf("hash equal = %v, want %v", got, tt.same)
			}
		})
	}
	if len(base.Hash()) != 64 {
		t.Errorf("hash length = %d, want 64", len(base.Hash()))
	}
}

func TestDefaultDir_XDG(t *testing.T) {
	t.Setenv("XDG_CACHE_HOME", "/tmp/xdg")
	dir, err := DefaultDir()
	if err != nil {
		t.Fatalf("DefaultDir error: %v", err)
	}
	if dir != filepath.Join("/tmp/xdg", "chronicle", "responses") {
		t.Errorf("DefaultDir = %q", dir)
	}
}
