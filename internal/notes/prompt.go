package notes

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/dshills/chronicle/internal/evidence"
	"github.com/dshills/chronicle/internal/gateway"
	"github.com/dshills/chronicle/internal/redact"
	"github.com/dshills/chronicle/internal/rounds"
	"github.com/dshills/chronicle/internal/segment"
)

const roundSystemPrompt = `You write release notes for a range of git commits. You cannot see the diff directly. Instead you are given an evidence index: every changed file is a node with an id, its path, change kind, surface and the ids of its diff hunks. You gather the evidence you need in rounds.

Each round, respond with ONLY a JSON object. No markdown, no explanation, no preamble:
{"done": false, "requests": [ ... ]}

Request shapes:
  {"kind": "hunk", "ids": ["<hunk id>", "..."]}                 diff hunks by id
  {"kind": "snippet", "path": "p", "start": 1, "end": 40}        lines of a file at head
  {"kind": "around", "path": "p", "line": 120, "radius": 10}     lines around one line at head
  {"kind": "file_search", "path": "p", "query": "text"}          substring search in one file
  {"kind": "repo_search", "query": "text", "prefix": "pkg/"}     substring search across files
  {"kind": "list", "prefix": "pkg/", "extensions": [".go"]}      list paths at head

Rules:
1. Only hunk ids from the evidence index are served. Anything else is denied.
2. Each kind has its own byte budget. Ask for what you need, not everything.
3. Requests you already made are not served twice.
4. When you have enough evidence, respond with {"done": true, "requests": []}.`

const draftSystemPrompt = `You write release notes for a range of git commits from the evidence gathered so far.

Rules:
1. Describe user-visible changes first: public API, CLI, configuration. Then infrastructure, docs, tests and internals.
2. One note per distinct change. Be concise and concrete.
3. Every note must cite the evidence it is based on, using node ids or hunk ids from the evidence index.
4. Do not invent changes that the evidence does not show.

You MUST respond with ONLY a JSON array of notes. No markdown, no explanation, no preamble. Just the JSON array.

Each note must have this exact structure:
{
  "text": "What changed and why it matters",
  "citations": ["<node id or hunk id>"]
}

If nothing is worth noting, respond with an empty array: []`

// RoundSystemPrompt returns the system prompt for retrieval rounds.
func RoundSystemPrompt() string { return roundSystemPrompt }

// DraftSystemPrompt returns the system prompt for the drafting step.
func DraftSystemPrompt() string { return draftSystemPrompt }

// PromptOptions shapes the user prompts.
type PromptOptions struct {
	Redactor redact.Redactor
	MaxNotes int
	// Budgets, when set, reports the current per-kind budgets.
	Budgets func() []gateway.Usage
}

// BuildRoundPrompt renders the index, budgets and transcript for the next
// retrieval round.
func BuildRoundPrompt(idx *evidence.Index, t rounds.Transcript, opts PromptOptions) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Range: %s..%s\n", idx.Base, idx.Head)
	fmt.Fprintf(&b, "Round: %d\n", t.Len()+1)
	writeBudgets(&b, opts)
	writeIndex(&b, idx)
	writeTranscript(&b, t, opts.Redactor)
	b.WriteString("\nRespond with the JSON object for the next round.\n")
	return b.String()
}

// BuildDraftPrompt renders the index and the gathered evidence for drafting.
func BuildDraftPrompt(idx *evidence.Index, t rounds.Transcript, opts PromptOptions) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Write release notes for %s..%s.\n", idx.Base, idx.Head)
	if opts.MaxNotes > 0 {
		fmt.Fprintf(&b, "Return at most %d notes.\n", opts.MaxNotes)
	}
	writeIndex(&b, idx)
	writeTranscript(&b, t, opts.Redactor)
	return b.String()
}

func writeBudgets(b *strings.Builder, opts PromptOptions) {
	if opts.Budgets == nil {
		return
	}
	b.WriteString("\nRemaining budget (bytes):\n")
	for _, u := range opts.Budgets() {
		fmt.Fprintf(b, "  %s: %d of %d\n", u.Kind, u.Remaining, u.Limit)
	}
}

func writeIndex(b *strings.Builder, idx *evidence.Index) {
	b.WriteString("\n--- BEGIN EVIDENCE INDEX ---\n")
	for _, n := range idx.Nodes() {
		path := n.Path
		if n.OldPath != "" {
			path = n.OldPath + " -> " + n.Path
		}
		fmt.Fprintf(b, "node %s %s [%s, %s", n.ID, path, n.Kind, n.Surface)
		if n.Binary {
			b.WriteString(", binary")
		}
		b.WriteString("]\n")
		for _, id := range n.HunkIDs {
			fmt.Fprintf(b, "  hunk %s\n", id)
		}
	}
	b.WriteString("--- END EVIDENCE INDEX ---\n")
}

func writeTranscript(b *strings.Builder, t rounds.Transcript, r redact.Redactor) {
	if t.Len() == 0 {
		return
	}
	b.WriteString("\n--- BEGIN EVIDENCE GATHERED ---\n")
	for _, round := range t.Rounds {
		fmt.Fprintf(b, "# round %d\n", round.N)
		for _, e := range round.Entries {
			e.Result = redactResult(r, e.Result)
			data, err := json.Marshal(e)
			if err != nil {
				fmt.Fprintf(b, "{\"status\":%q,\"error\":\"unencodable result\"}\n", e.Status)
				continue
			}
			b.Write(data)
			b.WriteByte('\n')
		}
	}
	b.WriteString("--- END EVIDENCE GATHERED ---\n")
}

// redactResult returns a copy of a gateway result with file content passed
// through r. Results without file content are returned as is.
func redactResult(r redact.Redactor, v any) any {
	switch res := v.(type) {
	case *gateway.HunkResult:
		out := *res
		out.Hunks = make([]segment.Hunk, len(res.Hunks))
		for i, h := range res.Hunks {
			h.Lines = r.Lines(h.Path, h.Lines)
			out.Hunks[i] = h
		}
		return &out
	case *gateway.SnippetResult:
		out := *res
		out.Lines = make([]gateway.Line, len(res.Lines))
		for i, l := range res.Lines {
			out.Lines[i] = gateway.Line{N: l.N, Text: r.Line(res.Path, l.Text)}
		}
		return &out
	case *gateway.FileSearchResult:
		out := *res
		out.Matches = redactMatches(r, res.Matches)
		return &out
	case *gateway.RepoSearchResult:
		out := *res
		out.Matches = redactMatches(r, res.Matches)
		return &out
	}
	return v
}

func redactMatches(r redact.Redactor, ms []gateway.Match) []gateway.Match {
	out := make([]gateway.Match, len(ms))
	for i, m := range ms {
		m.Text = r.Line(m.Path, m.Text)
		out[i] = m
	}
	return out
}
