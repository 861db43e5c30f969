// Package evidence builds the per-range evidence index: one [Node] per
// changed file, each carrying a surface classification and the ids of its
// stored hunks.
//
// The index is the permission boundary for hunk retrieval. A hunk id that is
// not attached to some node in the index is never served.
package evidence
