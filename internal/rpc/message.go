// Package rpc implements the JSON-RPC 2.0 envelope this service speaks over
// both transports (internal/transport). It owns framing validation only;
// method routing lives in internal/protocol and tool routing in
// internal/dispatch.
package rpc

import (
	"encoding/json"

	"github.com/corvidae-labs/chromefleet/internal/rpcerr"
)

// ProtocolVersion is returned from the initialize method.
const ProtocolVersion = "2024-11-05"

// Request is a decoded JSON-RPC request or notification.
// A notification has a nil ID; a request has a non-nil ID (which may itself
// decode to JSON null, distinct from absent).
type Request struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      json.RawMessage `json:"id,omitempty"`
	Method  string          `json:"method"`
	Params  json.RawMessage `json:"params,omitempty"`
}

// IsNotification reports whether the request carries no id.
func (r *Request) IsNotification() bool {
	return len(r.ID) == 0
}

// Response is an outgoing JSON-RPC response. Exactly one of Result/Error is set.
type Response struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      json.RawMessage `json:"id"`
	Result  any             `json:"result,omitempty"`
	Error   *WireError      `json:"error,omitempty"`
}

// WireError is the on-the-wire {code, message, data?} shape.
type WireError struct {
	Code    int            `json:"code"`
	Message string         `json:"message"`
	Data    map[string]any `json:"data,omitempty"`
}

// NullID is the literal JSON `null`, used when a malformed request carried no
// usable id (spec.md §7: "the response carries the same id as the request
// (including null when the request id was null)").
var NullID = json.RawMessage("null")

// ParseRequest decodes raw bytes into a Request, validating the JSON-RPC
// envelope. Parse failures return rpcerr.ParseError (-32700); a well-formed
// JSON document that fails envelope validation (missing/wrong jsonrpc,
// missing method) returns rpcerr.InvalidRequest (-32600).
func ParseRequest(raw []byte) (*Request, *rpcerr.Error) {
	var req Request
	if err := json.Unmarshal(raw, &req); err != nil {
		return nil, rpcerr.ParseError(err.Error())
	}
	if req.JSONRPC != "2.0" {
		return nil, rpcerr.InvalidRequest("jsonrpc must be \"2.0\"")
	}
	if req.Method == "" {
		return nil, rpcerr.InvalidRequest("method is required")
	}
	return &req, nil
}

// SuccessResponse builds a {result: ...} response carrying the request's id.
func SuccessResponse(id json.RawMessage, result any) *Response {
	return &Response{JSONRPC: "2.0", ID: idOrNull(id), Result: result}
}

// ErrorResponse builds an {error: {code, message, data?}} response.
// id may be nil (e.g. parse errors with no decodable id) and is rendered as null.
func ErrorResponse(id json.RawMessage, err *rpcerr.Error) *Response {
	we := &WireError{Code: err.Code, Message: err.Message, Data: err.Data}
	return &Response{JSONRPC: "2.0", ID: idOrNull(id), Error: we}
}

func idOrNull(id json.RawMessage) json.RawMessage {
	if len(id) == 0 {
		return NullID
	}
	return id
}

// InitializeResult is the result object for the `initialize` method.
type InitializeResult struct {
	ProtocolVersion string         `json:"protocolVersion"`
	Capabilities    map[string]any `json:"capabilities"`
	ServerInfo      ServerInfo     `json:"serverInfo"`
}

// ServerInfo identifies this server implementation.
type ServerInfo struct {
	Name    string `json:"name"`
	Version string `json:"version"`
}

// NewInitializeResult builds the fixed initialize response body per spec.md §4.7.
func NewInitializeResult(name, version string) InitializeResult {
	return InitializeResult{
		ProtocolVersion: ProtocolVersion,
		Capabilities: map[string]any{
			"tools":     map[string]any{},
			"resources": map[string]any{},
		},
		ServerInfo: ServerInfo{Name: name, Version: version},
	}
}

// ToolDescriptor is one entry of the tools/list result.
type ToolDescriptor struct {
	Name        string         `json:"name"`
	Description string         `json:"description"`
	InputSchema map[string]any `json:"inputSchema"`
}

// ToolsListResult is the result object for tools/list.
type ToolsListResult struct {
	Tools []ToolDescriptor `json:"tools"`
}

// ToolsCallParams decodes the params of a tools/call request.
type ToolsCallParams struct {
	Name      string          `json:"name"`
	Arguments json.RawMessage `json:"arguments"`
}

// ToolsCallResult wraps a tool handler's JSON-serializable result as the
// {content:[{type:"text", text:<json>}]} envelope spec.md §4.7 mandates.
type ToolsCallResult struct {
	Content []ContentBlock `json:"content"`
}

// ContentBlock is one entry of a ToolsCallResult's content array.
type ContentBlock struct {
	Type string `json:"type"`
	Text string `json:"text"`
}

// NewToolsCallResult JSON-encodes result and wraps it as a single text block.
func NewToolsCallResult(result any) (*ToolsCallResult, error) {
	text, err := json.Marshal(result)
	if err != nil {
		return nil, err
	}
	return &ToolsCallResult{Content: []ContentBlock{{Type: "text", Text: string(text)}}}, nil
}
