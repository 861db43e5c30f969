// Package segment streams git unified-diff text into per-file, per-hunk
// records.
//
// [Run] walks the diff one line at a time and hands each hunk to a [Sink] as
// soon as it closes, so peak memory is one in-flight hunk rather than the
// whole diff. Hunks larger than Options.MaxHunkBytes are cut at a UTF-8 safe
// byte boundary and end with exactly one [TruncationMarker] line. Files with
// no textual hunks (pure renames, copies, binaries, mode changes) receive a
// single synthetic meta hunk so every changed file yields evidence.
package segment
