package mcp

import (
	"encoding/json"

	"github.com/mark3labs/mcp-go/mcp"

	"github.com/dshills/chronicle/internal/errs"
	"github.com/dshills/chronicle/internal/gateway"
)

// decodeWire reads tool arguments into a wire request of the given kind.
// The kind always comes from the tool, never from the arguments.
func decodeWire(req mcp.CallToolRequest, kind gateway.Kind) (gateway.WireRequest, error) {
	var w gateway.WireRequest
	b, err := json.Marshal(req.GetArguments())
	if err != nil {
		return w, errs.InvalidRequest("encoding arguments: %v", err)
	}
	if err := json.Unmarshal(b, &w); err != nil {
		return w, errs.InvalidRequest("decoding arguments: %v", err)
	}
	w.Kind = kind
	return w, nil
}
