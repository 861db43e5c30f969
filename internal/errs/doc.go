// Package errs defines the coded error type shared by the evidence pipeline.
//
// Codes separate fatal conditions (malformed stored content, the global
// indexing byte limit) from soft ones (a single retrieval budget running out)
// so callers can decide whether to abort, shrink, or skip. Use [Is] to test a
// wrapped error for a code and [IsSoft] to test for any budget condition.
package errs
