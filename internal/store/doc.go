// Package store persists hunks by content address and records the
// per-range manifest.
//
// Layout under the index root:
//
//	<base>..<head>/manifest.json
//	<base>..<head>/hunks/<id>.hunk
//
// A hunk's id is the lowercase hex SHA-256 of its canonical encoding (see
// [Encode]). Hunk files are written once per id with a temp-file rename, so
// re-indexing the same range reproduces the same files byte for byte and
// the whole directory is safe to delete and regenerate.
package store
