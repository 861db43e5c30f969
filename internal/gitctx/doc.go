// Package gitctx is chronicle's view of a git repository.
//
// It resolves revision ranges to commit ids, streams the unified diff for a
// range, reports the independent name-status change summary used to
// cross-check segmentation, and exposes a [Snapshot] that reads files at a
// fixed commit. Everything shells out to git.
//
// [Filter] applies include/exclude glob patterns to changed paths.
package gitctx
