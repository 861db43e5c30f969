package output

import (
	"io"
	"strings"

	"github.com/dshills/chronicle/internal/evidence"
	"github.com/dshills/chronicle/internal/notes"
)

// TextWriter outputs a human-readable text report.
type TextWriter struct{}

func (t *TextWriter) Write(w io.Writer, report *notes.Report) error {
	ew := &errWriter{w: w}

	ew.printf("Chronicle release notes for %s\n", report.Range.Spec)
	ew.printf("Range: %s..%s\n", Short(report.Range.Base), Short(report.Range.Head))
	ew.printf("Repository: %s (branch: %s)\n", report.Repo.Root, report.Repo.Branch)
	ew.println(strings.Repeat("─", 60))
	ew.printf("Notes: %d from %d files, %d commits\n",
		len(report.Notes), report.Evidence.Files, len(report.Commits))
	ew.println(strings.Repeat("─", 60))

	if len(report.Notes) == 0 {
		ew.println("\nNothing to report.")
	}

	// Notes arrive sorted by surface priority.
	var current evidence.Surface
	for i, n := range report.Notes {
		if i == 0 || n.Surface != current {
			current = n.Surface
			ew.printf("\n%s\n", strings.ToUpper(surfaceTitle(current)))
			ew.println(strings.Repeat("─", 40))
		}
		for j, line := range wrapText(n.Text, 70) {
			if j == 0 {
				ew.printf("  - %s\n", line)
			} else {
				ew.printf("    %s\n", line)
			}
		}
		ew.printf("    %s [%s]\n", n.Path, shortAll(n.Citations))
	}
	if report.Truncated > 0 {
		ew.printf("\n(%d more notes omitted)\n", report.Truncated)
	}

	ew.printf("\n%s\n", strings.Repeat("─", 60))
	r := report.Rounds
	ew.printf("Rounds: %d (stop: %s) | served %d, skipped %d, denied %d | %d bytes\n",
		r.Rounds, r.StopReason, r.Served, r.Skipped, r.Denied, r.Bytes)
	if report.Usage.Calls > 0 || report.Usage.CacheHits > 0 {
		ew.printf("Model: %s/%s | %d calls, %d cached, %d tokens\n",
			report.Provider, report.Model, report.Usage.Calls, report.Usage.CacheHits, report.Usage.TokensUsed)
	}
	ew.printf("Completed in %dms (index: %dms, rounds: %dms, draft: %dms)\n",
		report.Timing.TotalMs, report.Timing.IndexMs, report.Timing.RoundsMs, report.Timing.DraftMs)

	return ew.err
}

func shortAll(ids []string) string {
	out := make([]string, len(ids))
	for i, id := range ids {
		out[i] = Short(id)
	}
	return strings.Join(out, ", ")
}

func wrapText(text string, width int) []string {
	if len(text) <= width {
		return []string{text}
	}
	var lines []string
	words := strings.Fields(text)
	var current strings.Builder
	for _, word := range words {
		if current.Len()+len(word)+1 > width && current.Len() > 0 {
			lines = append(lines, current.String())
			current.Reset()
		}
		if current.Len() > 0 {
			current.WriteString(" ")
		}
		current.WriteString(word)
	}
	if current.Len() > 0 {
		lines = append(lines, current.String())
	}
	return lines
}
