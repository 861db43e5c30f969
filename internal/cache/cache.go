package cache

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"
)

// Key identifies one generator call.
type Key struct {
	Provider string
	Model    string
	System   string
	Prompt   string
}

// Hash returns the hex SHA-256 of the key. Fields are length prefixed so
// moving bytes between System and Prompt changes the hash.
func (k Key) Hash() string {
	var b strings.Builder
	for _, p := range []string{k.Provider, k.Model, k.System, k.Prompt} {
		b.WriteString(strconv.Itoa(len(p)))
		b.WriteByte(':')
		b.WriteString(p)
		b.WriteByte('\n')
	}
	sum := sha256.Sum256([]byte(b.String()))
	return hex.EncodeToString(sum[:])
}

// Entry is one cached reply as stored on disk.
type Entry struct {
	Hash      string    `json:"hash"`
	Provider  string    `json:"provider"`
	Model     string    `json:"model"`
	Response  string    `json:"response"`
	CreatedAt time.Time `json:"createdAt"`
}

// Cache stores replies under <dir>/<hash[:2]>/<hash>.json.
type Cache struct {
	dir     string
	ttl     time.Duration
	enabled bool
	now     func() time.Time
}

// New opens the cache at dir, or DefaultDir when dir is empty. A disabled
// cache misses on every Get and ignores Put.
func New(enabled bool, dir string, ttlSeconds int) (*Cache, error) {
	c := &Cache{enabled: enabled, ttl: time.Duration(ttlSeconds) * time.Second, now: time.Now}
	if !enabled {
		return c, nil
	}
	if dir == "" {
		d, err := DefaultDir()
		if err != nil {
			return nil, err
		}
		dir = d
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("creating cache directory: %w", err)
	}
	c.dir = dir
	return c, nil
}

// Dir returns the cache directory, empty when disabled.
func (c *Cache) Dir() string { return c.dir }

// Enabled reports whether the cache reads and writes entries.
func (c *Cache) Enabled() bool { return c.enabled }

// Get returns the reply stored for k. An expired entry is removed and
// reported as a miss.
func (c *Cache) Get(k Key) (string, bool) {
	if !c.enabled {
		return "", false
	}
	path := c.entryPath(k.Hash())
	e, err := readEntry(path)
	if err != nil {
		return "", false
	}
	if c.expired(e) {
		c.remove(path)
		return "", false
	}
	return e.Response, true
}

// Put stores response for k, replacing any earlier entry.
func (c *Cache) Put(k Key, response string) error {
	if !c.enabled {
		return nil
	}
	hash := k.Hash()
	data, err := json.Marshal(Entry{
		Hash:      hash,
		Provider:  k.Provider,
		Model:     k.Model,
		Response:  response,
		CreatedAt: c.now().UTC(),
	})
	if err != nil {
		return fmt.Errorf("encoding cache entry: %w", err)
	}
	path := c.entryPath(hash)
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("writing cache entry: %w", err)
	}
	if err := writeAtomic(path, data); err != nil {
		return fmt.Errorf("writing cache entry: %w", err)
	}
	return nil
}

// Clear removes every entry and returns how many were removed.
func (c *Cache) Clear() (int, error) {
	return c.sweep(func(string, Entry, error) bool { return true })
}

// Prune removes expired and unreadable entries. Without a TTL only
// unreadable entries go.
func (c *Cache) Prune() (int, error) {
	return c.sweep(func(_ string, e Entry, err error) bool {
		return err != nil || c.expired(e)
	})
}

// Stats describes the cache contents.
type Stats struct {
	Dir        string `json:"dir"`
	Entries    int    `json:"entries"`
	TotalBytes int64  `json:"totalBytes"`
	Expired    int    `json:"expired"`

	// Models counts readable entries by "provider/model".
	Models map[string]int `json:"models,omitempty"`
}

// GetStats walks the cache and summarizes it.
func (c *Cache) GetStats() (Stats, error) {
	stats := Stats{Dir: c.dir}
	if !c.enabled {
		return stats, nil
	}
	err := c.walk(func(path string, size int64) error {
		stats.Entries++
		stats.TotalBytes += size
		e, err := readEntry(path)
		if err != nil {
			return nil
		}
		if c.expired(e) {
			stats.Expired++
		}
		if stats.Models == nil {
			stats.Models = make(map[string]int)
		}
		stats.Models[e.Provider+"/"+e.Model]++
		return nil
	})
	return stats, err
}

// sweep removes the entries drop selects, then any shard directory left
// empty.
func (c *Cache) sweep(drop func(path string, e Entry, err error) bool) (int, error) {
	if !c.enabled {
		return 0, nil
	}
	var doomed []string
	err := c.walk(func(path string, _ int64) error {
		e, err := readEntry(path)
		if drop(path, e, err) {
			doomed = append(doomed, path)
		}
		return nil
	})
	if err != nil {
		return 0, err
	}
	removed := 0
	for _, path := range doomed {
		if c.remove(path) {
			removed++
		}
	}
	return removed, nil
}

// walk calls fn for every .json file under the cache directory.
func (c *Cache) walk(fn func(path string, size int64) error) error {
	err := filepath.WalkDir(c.dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			if path == c.dir && errors.Is(err, fs.ErrNotExist) {
				return fs.SkipAll
			}
			return err
		}
		if d.IsDir() || filepath.Ext(path) != ".json" {
			return nil
		}
		info, err := d.Info()
		if err != nil {
			return nil
		}
		return fn(path, info.Size())
	})
	if err != nil {
		return fmt.Errorf("reading cache directory: %w", err)
	}
	return nil
}

// remove deletes an entry file and its shard directory once empty.
func (c *Cache) remove(path string) bool {
	if err := os.Remove(path); err != nil {
		return false
	}
	if dir := filepath.Dir(path); dir != c.dir {
		_ = os.Remove(dir)
	}
	return true
}

func (c *Cache) expired(e Entry) bool {
	return c.ttl > 0 && c.now().Sub(e.CreatedAt) > c.ttl
}

func (c *Cache) entryPath(hash string) string {
	return filepath.Join(c.dir, hash[:2], hash+".json")
}

func readEntry(path string) (Entry, error) {
	var e Entry
	data, err := os.ReadFile(path)
	if err != nil {
		return e, err
	}
	err = json.Unmarshal(data, &e)
	return e, err
}

func writeAtomic(path string, data []byte) error {
	tmp, err := os.CreateTemp(filepath.Dir(path), ".entry-*")
	if err != nil {
		return err
	}
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return err
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmp.Name())
		return err
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		os.Remove(tmp.Name())
		return err
	}
	return nil
}

// DefaultDir returns $XDG_CACHE_HOME/chronicle/responses, falling back to
// the user cache directory of the platform.
func DefaultDir() (string, error) {
	base := os.Getenv("XDG_CACHE_HOME")
	if base == "" {
		d, err := os.UserCacheDir()
		if err != nil {
			return "", fmt.Errorf("locating cache directory: %w", err)
		}
		base = d
	}
	return filepath.Join(base, "chronicle", "responses"), nil
}
