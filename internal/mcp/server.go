package mcp

import (
	"sort"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"
	"go.uber.org/zap"

	"github.com/dshills/chronicle/internal/gateway"
)

// toolEntry pairs a tool definition with a handler factory.
type toolEntry struct {
	def     mcp.Tool
	handler func(*Handlers) server.ToolHandlerFunc
}

var pathArg = mcp.WithString("path", mcp.Required(), mcp.Description("Slash-separated path relative to the repository root"))

func filterArgs() []mcp.ToolOption {
	return []mcp.ToolOption{
		mcp.WithString("prefix", mcp.Description("Only paths under this directory prefix")),
		mcp.WithArray("extensions", mcp.WithStringItems(), mcp.Description("Only paths with one of these extensions, e.g. \".go\"")),
		mcp.WithString("glob", mcp.Description("Only paths matching this doublestar glob")),
	}
}

var (
	evidenceIndexToolDef = mcp.NewTool("evidence_index",
		mcp.WithDescription("List every changed file of the range with its node id, change kind, surface and hunk ids."),
	)

	hunkGetToolDef = mcp.NewTool("hunk_get",
		mcp.WithDescription("Fetch diff hunks by id. Ids outside the evidence index are denied."),
		mcp.WithArray("ids", mcp.Required(), mcp.WithStringItems(), mcp.Description("Hunk ids from evidence_index")),
	)

	snippetGetToolDef = mcp.NewTool("snippet_get",
		mcp.WithDescription("Read lines start..end (1-based, inclusive) of a file at the head revision."),
		pathArg,
		mcp.WithNumber("start", mcp.Required(), mcp.Description("First line")),
		mcp.WithNumber("end", mcp.Required(), mcp.Description("Last line")),
	)

	snippetAroundToolDef = mcp.NewTool("snippet_around",
		mcp.WithDescription("Read the lines around one line of a file at the head revision."),
		pathArg,
		mcp.WithNumber("line", mcp.Required(), mcp.Description("Center line")),
		mcp.WithNumber("radius", mcp.Description("Lines on either side")),
	)

	fileSearchToolDef = mcp.NewTool("file_search",
		mcp.WithDescription("Find lines of one file containing a substring."),
		pathArg,
		mcp.WithString("query", mcp.Required(), mcp.Description("Substring to find")),
		mcp.WithNumber("maxMatches", mcp.Description("Upper bound on matches returned")),
		mcp.WithBoolean("ignoreCase", mcp.Description("Match case-insensitively")),
	)

	repoSearchToolDef = mcp.NewTool("repo_search",
		append([]mcp.ToolOption{
			mcp.WithDescription("Find lines containing a substring across files at the head revision."),
			mcp.WithString("query", mcp.Required(), mcp.Description("Substring to find")),
			mcp.WithNumber("maxMatches", mcp.Description("Upper bound on matches returned")),
			mcp.WithBoolean("ignoreCase", mcp.Description("Match case-insensitively")),
		}, filterArgs()...)...,
	)

	pathListToolDef = mcp.NewTool("path_list",
		append([]mcp.ToolOption{
			mcp.WithDescription("List file paths at the head revision."),
			mcp.WithNumber("maxEntries", mcp.Description("Upper bound on paths returned")),
		}, filterArgs()...)...,
	)

	budgetStatusToolDef = mcp.NewTool("budget_status",
		mcp.WithDescription("Report the byte budget of every request kind: limit, used, remaining and calls."),
	)
)

// toolRegistry maps tool names to their definitions and handler factories.
var toolRegistry = map[string]toolEntry{
	"evidence_index": {
		def:     evidenceIndexToolDef,
		handler: func(h *Handlers) server.ToolHandlerFunc { return h.HandleEvidenceIndex },
	},
	"hunk_get": {
		def:     hunkGetToolDef,
		handler: func(h *Handlers) server.ToolHandlerFunc { return h.HandleHunkGet },
	},
	"snippet_get": {
		def:     snippetGetToolDef,
		handler: func(h *Handlers) server.ToolHandlerFunc { return h.serveKind(gateway.KindSnippet) },
	},
	"snippet_around": {
		def:     snippetAroundToolDef,
		handler: func(h *Handlers) server.ToolHandlerFunc { return h.serveKind(gateway.KindAround) },
	},
	"file_search": {
		def:     fileSearchToolDef,
		handler: func(h *Handlers) server.ToolHandlerFunc { return h.serveKind(gateway.KindFileSearch) },
	},
	"repo_search": {
		def:     repoSearchToolDef,
		handler: func(h *Handlers) server.ToolHandlerFunc { return h.serveKind(gateway.KindRepoSearch) },
	},
	"path_list": {
		def:     pathListToolDef,
		handler: func(h *Handlers) server.ToolHandlerFunc { return h.serveKind(gateway.KindList) },
	},
	"budget_status": {
		def:     budgetStatusToolDef,
		handler: func(h *Handlers) server.ToolHandlerFunc { return h.HandleBudgetStatus },
	},
}

// ToolNames returns every tool name, sorted.
func ToolNames() []string {
	names := make([]string, 0, len(toolRegistry))
	for name := range toolRegistry {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// NewServer creates an MCP server with every tool bound to gw.
func NewServer(gw *gateway.Gateway, version string, log *zap.Logger) *server.MCPServer {
	s := server.NewMCPServer(
		"chronicle",
		version,
		server.WithToolCapabilities(true),
	)
	h := NewHandlers(gw, log)
	for _, entry := range toolRegistry {
		s.AddTool(entry.def, entry.handler(h))
	}
	return s
}

// Run serves the tools over stdio until stdin closes.
func Run(gw *gateway.Gateway, version string, log *zap.Logger) error {
	return server.ServeStdio(NewServer(gw, version, log))
}
