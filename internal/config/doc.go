// Package config loads and merges chronicle configuration from multiple
// sources.
//
// Precedence (highest to lowest):
//  1. CLI flags
//  2. Environment variables (CHRONICLE_PROVIDER, CHRONICLE_MODEL,
//     CHRONICLE_FORMAT, CHRONICLE_INDEX_DIR, CHRONICLE_MAX_ROUNDS,
//     CHRONICLE_CONTEXT_LINES)
//  3. Config file ($XDG_CONFIG_HOME/chronicle/config.yaml)
//  4. Built-in defaults
//
// The file is YAML. Keys it leaves out keep their defaults; unknown keys are
// rejected. Use [Load] to obtain a merged [Config], [Save] to write one and
// [SetField] to change a single dotted key such as "budgets.hunk".
package config
