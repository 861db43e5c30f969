package output

import (
	"io"
	"strings"

	"github.com/dshills/chronicle/internal/evidence"
	"github.com/dshills/chronicle/internal/notes"
)

// MarkdownWriter outputs release notes as markdown, with the evidence and
// budget details in a collapsible section.
type MarkdownWriter struct{}

func (m *MarkdownWriter) Write(w io.Writer, report *notes.Report) error {
	ew := &errWriter{w: w}

	ew.printf("## Release notes: `%s`\n\n", report.Range.Spec)
	ew.printf("_%d notes from %d changed files across %d commits (`%s..%s`)._\n\n",
		len(report.Notes), report.Evidence.Files, len(report.Commits),
		Short(report.Range.Base), Short(report.Range.Head))

	if len(report.Notes) == 0 {
		ew.println("No notable changes.")
		ew.println("")
	}

	var current evidence.Surface
	for i, n := range report.Notes {
		if i == 0 || n.Surface != current {
			if i > 0 {
				ew.println("")
			}
			current = n.Surface
			ew.printf("### %s\n\n", surfaceTitle(current))
		}
		text := strings.Join(strings.Fields(n.Text), " ")
		ew.printf("- %s (`%s`)\n", text, n.Path)
	}
	if len(report.Notes) > 0 {
		ew.println("")
	}
	if report.Truncated > 0 {
		ew.printf("_%d more notes omitted._\n\n", report.Truncated)
	}

	if len(report.Commits) > 0 {
		ew.printf("<details>\n<summary>Commits (%d)</summary>\n\n", len(report.Commits))
		for _, c := range report.Commits {
			ew.printf("- `%s` %s\n", Short(c.SHA), c.Subject)
		}
		ew.println("\n</details>\n")
	}

	ew.println("<details>\n<summary>Evidence budgets</summary>\n")
	ew.println("| Kind | Used | Limit | Calls |")
	ew.println("|------|------|-------|-------|")
	for _, u := range report.Budgets {
		ew.printf("| %s | %d | %d | %d |\n", u.Kind, u.Used, u.Limit, u.Calls)
	}
	ew.printf("\nRounds: %d, stop: %s. Served %d, skipped %d, denied %d.\n\n</details>\n\n",
		report.Rounds.Rounds, report.Rounds.StopReason,
		report.Rounds.Served, report.Rounds.Skipped, report.Rounds.Denied)

	ew.printf("*Generated in %dms (index: %dms, rounds: %dms, draft: %dms)*\n",
		report.Timing.TotalMs, report.Timing.IndexMs, report.Timing.RoundsMs, report.Timing.DraftMs)

	return ew.err
}
