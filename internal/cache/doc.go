// Package cache stores model replies on disk so a rerun over the same
// evidence does not pay for the same call twice.
//
// An entry is addressed by the SHA-256 of its Key (provider, model, system
// prompt, prompt) and lives at <dir>/<hash[:2]>/<hash>.json. Entries older
// than the TTL miss on read and are removed; a TTL of zero never expires.
// Prompts are redacted before they reach the cache.
package cache
