// Package output formats release-note reports for display or machine
// consumption.
//
// Three formats are supported:
//   - text     human-readable terminal output (default)
//   - json     full structured JSON report
//   - markdown notes grouped by surface, ready to paste into a release
//
// Use [GetWriter] to obtain a [Writer] for a given format string, or
// [WriteReport] to write straight to a file or stdout.
package output
