package server

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"
	"go.uber.org/zap"
)

// Handler turns one raw JSON-RPC message into its raw response. It does
// no I/O, so transports only move bytes.
type Handler struct {
	mcp *server.MCPServer
	log *zap.Logger
}

// NewHandler creates a Handler for s.
func NewHandler(s *server.MCPServer, log *zap.Logger) *Handler {
	if log == nil {
		log = zap.NewNop()
	}
	return &Handler{mcp: s, log: log}
}

// envelope holds the fields Handle inspects before dispatch.
type envelope struct {
	ID     any    `json:"id"`
	Method string `json:"method"`
	Params struct {
		Name string `json:"name"`
	} `json:"params"`
}

// Handle processes raw and returns the encoded response, or nil for
// notifications.
func (h *Handler) Handle(ctx context.Context, raw []byte) []byte {
	var env envelope
	if err := json.Unmarshal(raw, &env); err == nil && env.Method == string(mcp.MethodToolsCall) && env.ID != nil {
		if h.mcp.GetTool(env.Params.Name) == nil {
			h.log.Warn("unknown tool", zap.String("tool", env.Params.Name))
			return h.encode(mcp.JSONRPCError{
				JSONRPC: mcp.JSONRPC_VERSION,
				ID:      mcp.NewRequestId(env.ID),
				Error: mcp.NewJSONRPCErrorDetails(mcp.METHOD_NOT_FOUND,
					fmt.Sprintf("Tool not found: %s", env.Params.Name), nil),
			})
		}
	}

	resp := h.mcp.HandleMessage(ctx, raw)
	if resp == nil {
		return nil
	}
	return h.encode(resp)
}

func (h *Handler) encode(v any) []byte {
	out, err := json.Marshal(v)
	if err != nil {
		h.log.Error("encoding response", zap.Error(err))
		return []byte(fmt.Sprintf(`{"jsonrpc":%q,"id":null,"error":{"code":%d,"message":"internal error"}}`,
			mcp.JSONRPC_VERSION, mcp.INTERNAL_ERROR))
	}
	return out
}
