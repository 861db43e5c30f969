// Package reconcile turns generator output into a deterministic list of
// cited notes.
//
// The generator's items vary between runs even for identical input. [Run]
// drops empty items, merges duplicates, validates every citation against the
// evidence index, tries to recover citations from file paths mentioned in
// the text, drops what it cannot support, and sorts the result so identical
// input sets always produce identical output.
package reconcile
