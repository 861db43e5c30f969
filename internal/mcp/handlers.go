package mcp

import (
	"context"
	"encoding/json"
	"errors"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"
	"go.uber.org/zap"

	"github.com/dshills/chronicle/internal/errs"
	"github.com/dshills/chronicle/internal/evidence"
	"github.com/dshills/chronicle/internal/gateway"
)

// Handlers holds dependencies for MCP tool handlers.
type Handlers struct {
	gw  *gateway.Gateway
	log *zap.Logger
}

// NewHandlers creates a new Handlers instance.
func NewHandlers(gw *gateway.Gateway, log *zap.Logger) *Handlers {
	if log == nil {
		log = zap.NewNop()
	}
	return &Handlers{gw: gw, log: log}
}

// IndexResponse is the result of evidence_index.
type IndexResponse struct {
	evidence.Export
	Surfaces map[evidence.Surface]int `json:"surfaces"`
}

// ToolResponse is the result of every retrieval tool.
type ToolResponse struct {
	Kind      gateway.Kind `json:"kind"`
	Bytes     int          `json:"bytes"`
	Remaining int          `json:"remaining"`
	Result    any          `json:"result"`
}

// BudgetResponse is the result of budget_status.
type BudgetResponse struct {
	Budgets []gateway.Usage `json:"budgets"`
}

// HandleEvidenceIndex handles the evidence_index tool.
func (h *Handlers) HandleEvidenceIndex(_ context.Context, _ mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	idx := h.gw.Index()
	return successResult(IndexResponse{Export: idx.Export(), Surfaces: idx.SurfaceCounts()})
}

// HandleHunkGet handles the hunk_get tool. All ids are served as one call
// against the hunk budget.
func (h *Handlers) HandleHunkGet(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	wire, err := decodeWire(req, gateway.KindHunk)
	if err != nil {
		return h.errorResult(err), nil
	}
	if _, err := wire.Requests(); err != nil {
		return h.errorResult(err), nil
	}
	ids := wire.IDs
	if wire.ID != "" {
		ids = append([]string{wire.ID}, ids...)
	}

	res, n, err := h.gw.Hunks(ctx, ids)
	if err != nil {
		return h.errorResult(err), nil
	}
	return successResult(ToolResponse{
		Kind:      gateway.KindHunk,
		Bytes:     n,
		Remaining: h.gw.Remaining(gateway.KindHunk),
		Result:    res,
	})
}

// serveKind returns a handler that decodes the arguments as a request of
// the given kind and serves it through the gateway.
func (h *Handlers) serveKind(kind gateway.Kind) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		wire, err := decodeWire(req, kind)
		if err != nil {
			return h.errorResult(err), nil
		}
		reqs, err := wire.Requests()
		if err != nil {
			return h.errorResult(err), nil
		}

		resp, err := h.gw.Serve(ctx, reqs[0])
		if err != nil {
			return h.errorResult(err), nil
		}
		h.log.Debug("served tool request",
			zap.String("kind", string(kind)),
			zap.String("signature", resp.Signature),
			zap.Int("bytes", resp.Bytes))
		return successResult(ToolResponse{
			Kind:      resp.Kind,
			Bytes:     resp.Bytes,
			Remaining: h.gw.Remaining(kind),
			Result:    resp.Result,
		})
	}
}

// HandleBudgetStatus handles the budget_status tool.
func (h *Handlers) HandleBudgetStatus(_ context.Context, _ mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	return successResult(BudgetResponse{Budgets: h.gw.Usage()})
}

// Result helpers

// errorResult creates an MCP error result. Errors without a code are logged
// and reported as INTERNAL so paths and I/O details stay server-side.
func (h *Handlers) errorResult(err error) *mcp.CallToolResult {
	var payload map[string]any

	var e *errs.Error
	if errors.As(err, &e) {
		errorObj := map[string]any{
			"code":    e.Code,
			"message": e.Message,
		}
		if e.Details != nil {
			errorObj["details"] = e.Details
		}
		payload = map[string]any{"error": errorObj}
	} else {
		h.log.Error("tool call failed", zap.Error(err))
		payload = map[string]any{
			"error": map[string]any{
				"code":    "INTERNAL",
				"message": "an internal error occurred",
			},
		}
	}

	content, _ := json.Marshal(payload)
	return &mcp.CallToolResult{
		Content: []mcp.Content{mcp.TextContent{Type: "text", Text: string(content)}},
		IsError: true,
	}
}

// successResult creates an MCP success result from any data.
func successResult(data any) (*mcp.CallToolResult, error) {
	return mcp.NewToolResultJSON(data)
}
