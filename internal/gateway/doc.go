// Package gateway serves evidence to an untrusted requester under per-kind
// byte budgets.
//
// There are six request kinds: hunk by id, snippet by line range, snippet
// around a line, substring search in one file, substring search across
// files, and path listing. Each kind draws on its own [Tracker], seeded once
// per run and only ever decremented. A call validates its input, serves the
// result, measures the result's JSON encoding and charges that many bytes.
//
// Hunk ids are checked against the evidence index; anything not in the index
// is dropped. Every other kind reads from an immutable [Snapshot] of the
// head revision, and a missing path yields an empty result rather than an
// error.
package gateway
