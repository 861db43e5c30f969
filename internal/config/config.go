package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"runtime"
	"slices"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/dshills/chronicle/internal/evidence"
	"github.com/dshills/chronicle/internal/gateway"
	"github.com/dshills/chronicle/internal/providers"
	"github.com/dshills/chronicle/internal/segment"
)

// Config represents the chronicle configuration.
type Config struct {
	Provider     string          `yaml:"provider" json:"provider"`
	Model        string          `yaml:"model" json:"model"`
	Format       string          `yaml:"format" json:"format"`
	IndexDir     string          `yaml:"indexDir,omitempty" json:"indexDir,omitempty"`
	ContextLines int             `yaml:"contextLines" json:"contextLines"`
	MaxNotes     int             `yaml:"maxNotes" json:"maxNotes"`
	MaxTokens    int             `yaml:"maxTokens" json:"maxTokens"`
	Include      []string        `yaml:"include" json:"include"`
	Exclude      []string        `yaml:"exclude" json:"exclude"`
	Limits       Limits          `yaml:"limits" json:"limits"`
	Budgets      gateway.Budgets `yaml:"budgets" json:"budgets"`
	Surfaces     evidence.Rules  `yaml:"surfaces" json:"surfaces"`
	Cache        CacheConfig     `yaml:"cache" json:"cache"`
	Privacy      PrivacyConfig   `yaml:"privacy" json:"privacy"`
}

// Limits bounds indexing, the round loop and individual retrieval requests.
type Limits struct {
	MaxHunkBytes      int `yaml:"maxHunkBytes" json:"maxHunkBytes"`
	MaxTotalHunkBytes int `yaml:"maxTotalHunkBytes" json:"maxTotalHunkBytes"`
	MaxRounds         int `yaml:"maxRounds" json:"maxRounds"`

	gateway.Limits `yaml:",inline"`
}

// CacheConfig controls caching behavior.
type CacheConfig struct {
	Enabled    bool   `yaml:"enabled" json:"enabled"`
	Dir        string `yaml:"dir,omitempty" json:"dir,omitempty"`
	TTLSeconds int    `yaml:"ttlSeconds" json:"ttlSeconds"`
}

// PrivacyConfig controls privacy/redaction behavior.
type PrivacyConfig struct {
	RedactSecrets bool     `yaml:"redactSecrets" json:"redactSecrets"`
	RedactPaths   []string `yaml:"redactPaths,omitempty" json:"redactPaths,omitempty"`
}

// Formats lists the supported output formats.
var Formats = []string{"text", "json", "markdown"}

// Default returns a Config with all defaults applied.
func Default() Config {
	return Config{
		Provider:     "anthropic",
		Model:        "claude-sonnet-4-20250514",
		Format:       "text",
		ContextLines: 3,
		MaxNotes:     50,
		MaxTokens:    8192,
		Include:      []string{"**/*"},
		Exclude:      []string{"vendor/**", "**/*.gen.go", "**/dist/**"},
		Limits: Limits{
			MaxHunkBytes:      segment.DefaultMaxHunkBytes,
			MaxTotalHunkBytes: segment.DefaultMaxTotalHunkBytes,
			MaxRounds:         6,
			Limits:            gateway.DefaultLimits(),
		},
		Budgets: gateway.DefaultBudgets(),
		Cache: CacheConfig{
			Enabled:    true,
			TTLSeconds: 86400,
		},
		Privacy: PrivacyConfig{
			RedactSecrets: true,
			RedactPaths:   []string{"**/.env", "**/*secrets*"},
		},
	}
}

// Validate reports the first invalid setting.
func (c Config) Validate() error {
	if !slices.Contains(providers.Names, c.Provider) {
		return fmt.Errorf("unknown provider %q (supported: %s)", c.Provider, strings.Join(providers.Names, ", "))
	}
	if !slices.Contains(Formats, c.Format) {
		return fmt.Errorf("unknown format %q (supported: %s)", c.Format, strings.Join(Formats, ", "))
	}
	if c.ContextLines < 0 {
		return fmt.Errorf("contextLines must not be negative")
	}
	if c.Limits.MaxHunkBytes < 0 || c.Limits.MaxTotalHunkBytes < 0 || c.Limits.MaxRounds < 0 {
		return fmt.Errorf("limits must not be negative")
	}
	for _, k := range gateway.Kinds {
		if c.Budgets.For(k) < 0 {
			return fmt.Errorf("budgets.%s must not be negative", k)
		}
	}
	return nil
}

// ConfigDir returns the platform-appropriate config directory for chronicle.
func ConfigDir() (string, error) {
	if xdg := os.Getenv("XDG_CONFIG_HOME"); xdg != "" {
		return filepath.Join(xdg, "chronicle"), nil
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("cannot determine home directory: %w", err)
	}
	switch runtime.GOOS {
	case "darwin":
		return filepath.Join(home, "Library", "Application Support", "chronicle"), nil
	case "windows":
		if appData := os.Getenv("APPDATA"); appData != "" {
			return filepath.Join(appData, "chronicle"), nil
		}
		return filepath.Join(home, "AppData", "Roaming", "chronicle"), nil
	default:
		return filepath.Join(home, ".config", "chronicle"), nil
	}
}

// ConfigPath returns the full path to the config file.
func ConfigPath() (string, error) {
	dir, err := ConfigDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, "config.yaml"), nil
}

// LoadFile decodes the config file over base. Keys absent from the file
// keep their value in base; unknown keys are an error. A missing file
// returns base unchanged.
func LoadFile(base Config) (Config, error) {
	path, err := ConfigPath()
	if err != nil {
		return Config{}, err
	}
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return base, nil
		}
		return Config{}, fmt.Errorf("reading config file: %w", err)
	}
	cfg, err := decode(data, base)
	if err != nil {
		return Config{}, fmt.Errorf("parsing config file %s: %w", path, err)
	}
	return cfg, nil
}

func decode(data []byte, base Config) (Config, error) {
	cfg := base
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(&cfg); err != nil && !errors.Is(err, io.EOF) {
		return Config{}, err
	}
	return cfg, nil
}

// Save writes the config to the config file.
func Save(cfg Config) error {
	path, err := ConfigPath()
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("creating config directory: %w", err)
	}
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("marshaling config: %w", err)
	}
	return os.WriteFile(path, data, 0o644)
}

// Load builds the effective config by merging: defaults <- file <- env <- overrides.
// The overrides map comes from CLI flags (only non-zero values should be set).
func Load(overrides map[string]string) (Config, error) {
	cfg, err := LoadFile(Default())
	if err != nil {
		return Config{}, err
	}
	mergeEnv(&cfg)
	if err := mergeOverrides(&cfg, overrides); err != nil {
		return Config{}, err
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func mergeEnv(cfg *Config) {
	if v := os.Getenv("CHRONICLE_PROVIDER"); v != "" {
		cfg.Provider = v
	}
	if v := os.Getenv("CHRONICLE_MODEL"); v != "" {
		cfg.Model = v
	}
	if v := os.Getenv("CHRONICLE_FORMAT"); v != "" {
		cfg.Format = v
	}
	if v := os.Getenv("CHRONICLE_INDEX_DIR"); v != "" {
		cfg.IndexDir = v
	}
	if v := os.Getenv("CHRONICLE_MAX_ROUNDS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.Limits.MaxRounds = n
		}
	}
	if v := os.Getenv("CHRONICLE_CONTEXT_LINES"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.ContextLines = n
		}
	}
}

// mergeOverrides applies flag values. Keys use the same dotted names as
// SetField.
func mergeOverrides(cfg *Config, overrides map[string]string) error {
	keys := make([]string, 0, len(overrides))
	for k, v := range overrides {
		if v != "" {
			keys = append(keys, k)
		}
	}
	slices.Sort(keys)
	for _, k := range keys {
		if err := SetField(cfg, k, overrides[k]); err != nil {
			return err
		}
	}
	return nil
}

// SetField sets a single config field by its dotted YAML key, such as
// "model", "budgets.hunk" or "limits.maxRounds". List fields take a
// comma-separated value. Returns an error for unknown keys and values of the
// wrong type.
func SetField(cfg *Config, key, value string) error {
	var doc yaml.Node
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("marshaling config: %w", err)
	}
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return fmt.Errorf("parsing config: %w", err)
	}
	root := doc.Content[0]

	node, err := lookup(root, key)
	if err != nil {
		return err
	}
	switch node.Kind {
	case yaml.ScalarNode:
		node.Value = value
		node.Tag = ""
		node.Style = 0
	case yaml.SequenceNode:
		node.Content = nil
		for _, part := range strings.Split(value, ",") {
			if part = strings.TrimSpace(part); part != "" {
				node.Content = append(node.Content, &yaml.Node{Kind: yaml.ScalarNode, Value: part})
			}
		}
		node.Style = yaml.FlowStyle
	default:
		return fmt.Errorf("config key %s is a section; set one of its fields", key)
	}

	out, err := yaml.Marshal(&doc)
	if err != nil {
		return fmt.Errorf("marshaling config: %w", err)
	}
	updated, err := decode(out, Config{})
	if err != nil {
		return fmt.Errorf("invalid value for %s: %w", key, err)
	}
	*cfg = updated
	return nil
}

// optionalKeys are omitted from marshaled output when empty but may still
// be set.
var optionalKeys = map[string]yaml.Kind{
	"indexDir":                  yaml.ScalarNode,
	"cache.dir":                 yaml.ScalarNode,
	"privacy.redactPaths":       yaml.SequenceNode,
	"surfaces.publicPaths":      yaml.SequenceNode,
	"surfaces.internalPaths":    yaml.SequenceNode,
	"surfaces.publicPrefixes":   yaml.SequenceNode,
	"surfaces.internalPrefixes": yaml.SequenceNode,
}

func lookup(root *yaml.Node, key string) (*yaml.Node, error) {
	parts := strings.Split(key, ".")
	node := root
	for i, part := range parts {
		if node.Kind != yaml.MappingNode {
			return nil, fmt.Errorf("unknown config key: %s", key)
		}
		var next *yaml.Node
		for j := 0; j+1 < len(node.Content); j += 2 {
			if node.Content[j].Value == part {
				next = node.Content[j+1]
				break
			}
		}
		if next == nil {
			kind, ok := optionalKeys[key]
			if !ok || i != len(parts)-1 {
				return nil, fmt.Errorf("unknown config key: %s", key)
			}
			next = &yaml.Node{Kind: kind}
			if kind == yaml.ScalarNode {
				next.Tag = "!!str"
			}
			node.Content = append(node.Content, &yaml.Node{Kind: yaml.ScalarNode, Value: part}, next)
		}
		node = next
	}
	return node, nil
}
