// Package protocol implements the Protocol Handler (C7): the per-request
// pipeline that parses one JSON-RPC envelope, runs the C9 middleware chain,
// and routes initialize/tools.list/tools.call/authenticate to their
// results, shared by both transports (internal/transport).
package protocol

import (
	"context"
	"encoding/json"

	"github.com/rs/zerolog"

	"github.com/corvidae-labs/chromefleet/internal/dispatch"
	"github.com/corvidae-labs/chromefleet/internal/middleware"
	"github.com/corvidae-labs/chromefleet/internal/rpc"
	"github.com/corvidae-labs/chromefleet/internal/rpcerr"
)

// MiddlewareFunc matches internal/middleware's fixed Authentication/
// RateLimit signature (spec.md §4.9's Open Question #4 resolution).
type MiddlewareFunc func(ctx context.Context, req *rpc.Request, client middleware.ClientInfo) *rpcerr.Error

// Handler owns one Dispatcher and the fixed Authentication-then-RateLimit
// chain. One Handler serves every connection; per-connection state is the
// caller-supplied middleware.ClientInfo and dispatch.ClientSession.
type Handler struct {
	dispatcher *dispatch.Dispatcher
	chain      []MiddlewareFunc
	serverName string
	serverVers string
	log        zerolog.Logger
}

// New builds a Handler. chain is applied in order; spec.md §4.9 fixes it as
// [Authentication, RateLimit].
func New(d *dispatch.Dispatcher, serverName, serverVersion string, log zerolog.Logger, chain ...MiddlewareFunc) *Handler {
	return &Handler{dispatcher: d, chain: chain, serverName: serverName, serverVers: serverVersion, log: log}
}

// Conn is the per-connection state a transport owns and passes to every
// call to Handle on that connection: the middleware-visible client identity
// plus the dispatcher's own per-connection active-instance bookkeeping.
type Conn struct {
	Client   middleware.ClientInfo
	Dispatch *dispatch.ClientSession
}

// NewConn constructs empty per-connection state for addr.
func NewConn(addr string) *Conn {
	return &Conn{
		Client:   middleware.ClientInfo{Addr: addr, Session: &middleware.Session{}},
		Dispatch: dispatch.NewClientSession(),
	}
}

// Handle parses raw as one JSON-RPC request, runs the middleware chain and
// method routing, and returns the wire bytes to write back — nil for a
// notification, which per spec.md §7 gets no response either way.
func (h *Handler) Handle(ctx context.Context, conn *Conn, raw []byte) []byte {
	req, perr := rpc.ParseRequest(raw)
	if perr != nil {
		return mustMarshal(rpc.ErrorResponse(nil, perr))
	}

	result, rerr := h.route(ctx, conn, req)

	if req.IsNotification() {
		if rerr != nil {
			h.log.Warn().Str("method", req.Method).Err(rerr).Msg("notification handler returned an error")
		}
		return nil
	}

	if rerr != nil {
		return mustMarshal(rpc.ErrorResponse(req.ID, rerr))
	}
	return mustMarshal(rpc.SuccessResponse(req.ID, result))
}

func (h *Handler) route(ctx context.Context, conn *Conn, req *rpc.Request) (any, *rpcerr.Error) {
	for _, mw := range h.chain {
		if err := mw(ctx, req, conn.Client); err != nil {
			return nil, err
		}
	}

	switch req.Method {
	case "initialize":
		return rpc.NewInitializeResult(h.serverName, h.serverVers), nil
	case "authenticate":
		// Authentication middleware consumed this method's credentials
		// already; a request that reaches here with the chain passing means
		// either auth is disabled or the handshake just latched.
		return map[string]any{"authenticated": true}, nil
	case "tools/list":
		return h.toolsList(), nil
	case "tools/call":
		return h.toolsCall(ctx, conn, req.Params)
	default:
		return nil, rpcerr.MethodNotFound(req.Method)
	}
}

func (h *Handler) toolsList() rpc.ToolsListResult {
	defs := h.dispatcher.ToolDefs()
	out := make([]rpc.ToolDescriptor, 0, len(defs))
	for _, t := range defs {
		out = append(out, rpc.ToolDescriptor{
			Name:        t.Name,
			Description: t.Description,
			InputSchema: t.InputSchema,
		})
	}
	return rpc.ToolsListResult{Tools: out}
}

func (h *Handler) toolsCall(ctx context.Context, conn *Conn, params json.RawMessage) (any, *rpcerr.Error) {
	var call rpc.ToolsCallParams
	if err := json.Unmarshal(params, &call); err != nil {
		return nil, rpcerr.BadParams(err.Error())
	}
	if call.Name == "" {
		return nil, rpcerr.BadParams("name is required")
	}

	result, err := h.dispatcher.Dispatch(ctx, conn.Dispatch, call.Name, call.Arguments)
	if err != nil {
		if rerr, ok := err.(*rpcerr.Error); ok {
			return nil, rerr
		}
		return nil, rpcerr.Internal(err)
	}

	wrapped, wrapErr := rpc.NewToolsCallResult(result)
	if wrapErr != nil {
		return nil, rpcerr.Internal(wrapErr)
	}
	return wrapped, nil
}

func mustMarshal(resp *rpc.Response) []byte {
	b, err := json.Marshal(resp)
	if err != nil {
		// A Response can only fail to marshal if a tool handler returned a
		// value json.Marshal itself rejects (e.g. a channel); fall back to a
		// minimal internal-error envelope rather than panic mid-request.
		fallback := rpc.ErrorResponse(resp.ID, rpcerr.Internal(err))
		b, _ = json.Marshal(fallback)
	}
	return b
}
