package store

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/dshills/chronicle/internal/segment"
)

// SchemaVersion is the manifest format version.
const SchemaVersion = 1

// Manifest is the persisted record of one indexed range.
type Manifest struct {
	SchemaVersion int            `json:"schemaVersion"`
	Base          string         `json:"base"`
	Head          string         `json:"head"`
	Files         []ManifestFile `json:"files"`
}

// ManifestFile lists one changed file and its hunk ids in diff order.
type ManifestFile struct {
	Path       string             `json:"path"`
	OldPath    string             `json:"oldPath,omitempty"`
	ChangeKind segment.ChangeKind `json:"changeKind"`
	IsBinary   bool               `json:"isBinary"`
	HunkIDs    []string           `json:"hunkIds"`
}

// Change returns the file change recorded by f.
func (f ManifestFile) Change() segment.FileChange {
	return segment.FileChange{
		Path:    f.Path,
		OldPath: f.OldPath,
		Kind:    f.ChangeKind,
		Binary:  f.IsBinary,
	}
}

// RangeInfo describes one indexed range on disk.
type RangeInfo struct {
	Name       string `json:"name"`
	Hunks      int    `json:"hunks"`
	TotalBytes int64  `json:"totalBytes"`
}

// Stats summarizes an index root.
type Stats struct {
	Root       string      `json:"root"`
	Ranges     []RangeInfo `json:"ranges"`
	Hunks      int         `json:"hunks"`
	TotalBytes int64       `json:"totalBytes"`
}

// List reports every indexed range under root, sorted by name.
func List(root string) (Stats, error) {
	stats := Stats{Root: root, Ranges: []RangeInfo{}}
	entries, err := os.ReadDir(root)
	if err != nil {
		if os.IsNotExist(err) {
			return stats, nil
		}
		return stats, fmt.Errorf("reading index root: %w", err)
	}
	for _, e := range entries {
		if !e.IsDir() || !strings.Contains(e.Name(), "..") {
			continue
		}
		info := RangeInfo{Name: e.Name()}
		dir := filepath.Join(root, e.Name())
		if fi, err := os.Stat(filepath.Join(dir, manifestName)); err == nil {
			info.TotalBytes += fi.Size()
		}
		hunks, err := os.ReadDir(filepath.Join(dir, hunksDir))
		if err != nil && !os.IsNotExist(err) {
			return stats, fmt.Errorf("reading %s: %w", e.Name(), err)
		}
		for _, h := range hunks {
			if filepath.Ext(h.Name()) != hunkExt {
				continue
			}
			fi, err := h.Info()
			if err != nil {
				continue
			}
			info.Hunks++
			info.TotalBytes += fi.Size()
		}
		stats.Ranges = append(stats.Ranges, info)
		stats.Hunks += info.Hunks
		stats.TotalBytes += info.TotalBytes
	}
	sort.Slice(stats.Ranges, func(i, j int) bool { return stats.Ranges[i].Name < stats.Ranges[j].Name })
	return stats, nil
}

// RemoveAll deletes every indexed range under root and returns how many
// were removed. Unrelated files in root are left alone.
func RemoveAll(root string) (int, error) {
	entries, err := os.ReadDir(root)
	if err != nil {
		if os.IsNotExist(err) {
			return 0, nil
		}
		return 0, fmt.Errorf("reading index root: %w", err)
	}
	removed := 0
	for _, e := range entries {
		if !e.IsDir() || !strings.Contains(e.Name(), "..") {
			continue
		}
		if err := os.RemoveAll(filepath.Join(root, e.Name())); err != nil {
			return removed, fmt.Errorf("removing %s: %w", e.Name(), err)
		}
		removed++
	}
	return removed, nil
}
