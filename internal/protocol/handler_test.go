package protocol

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/corvidae-labs/chromefleet/internal/dispatch"
)

func newTestHandler(t *testing.T) *Handler {
	t.Helper()
	d := dispatch.New(nil, nil, nil, zerolog.Nop())
	return New(d, "chromefleet", "test", zerolog.Nop())
}

func decodeResponse(t *testing.T, raw []byte) map[string]any {
	t.Helper()
	var m map[string]any
	require.NoError(t, json.Unmarshal(raw, &m))
	return m
}

func TestHandleInitialize(t *testing.T) {
	h := newTestHandler(t)
	conn := NewConn("test-addr")

	raw := h.Handle(context.Background(), conn, []byte(`{"jsonrpc":"2.0","id":1,"method":"initialize"}`))
	require.NotNil(t, raw)

	resp := decodeResponse(t, raw)
	assert.Nil(t, resp["error"])
	result, ok := resp["result"].(map[string]any)
	require.True(t, ok)
	assert.Equal(t, "2024-11-05", result["protocolVersion"])
}

func TestHandleToolsList(t *testing.T) {
	h := newTestHandler(t)
	conn := NewConn("test-addr")

	raw := h.Handle(context.Background(), conn, []byte(`{"jsonrpc":"2.0","id":2,"method":"tools/list"}`))
	resp := decodeResponse(t, raw)
	require.Nil(t, resp["error"])

	result := resp["result"].(map[string]any)
	tools := result["tools"].([]any)
	assert.NotEmpty(t, tools)

	names := map[string]bool{}
	for _, raw := range tools {
		entry := raw.(map[string]any)
		names[entry["name"].(string)] = true
	}
	assert.True(t, names["browser_launch"])
	assert.True(t, names["session_save"])
}

func TestHandleUnknownMethod(t *testing.T) {
	h := newTestHandler(t)
	conn := NewConn("test-addr")

	raw := h.Handle(context.Background(), conn, []byte(`{"jsonrpc":"2.0","id":3,"method":"bogus"}`))
	resp := decodeResponse(t, raw)
	require.NotNil(t, resp["error"])
	errObj := resp["error"].(map[string]any)
	assert.Equal(t, float64(-32601), errObj["code"])
}

func TestHandleMalformedJSON(t *testing.T) {
	h := newTestHandler(t)
	conn := NewConn("test-addr")

	raw := h.Handle(context.Background(), conn, []byte(`not json`))
	resp := decodeResponse(t, raw)
	require.NotNil(t, resp["error"])
	errObj := resp["error"].(map[string]any)
	assert.Equal(t, float64(-32700), errObj["code"])
	assert.Nil(t, resp["id"])
}

func TestHandleNotificationReturnsNil(t *testing.T) {
	h := newTestHandler(t)
	conn := NewConn("test-addr")

	raw := h.Handle(context.Background(), conn, []byte(`{"jsonrpc":"2.0","method":"tools/list"}`))
	assert.Nil(t, raw)
}

func TestHandleToolsCallMissingName(t *testing.T) {
	h := newTestHandler(t)
	conn := NewConn("test-addr")

	raw := h.Handle(context.Background(), conn, []byte(`{"jsonrpc":"2.0","id":4,"method":"tools/call","params":{}}`))
	resp := decodeResponse(t, raw)
	require.NotNil(t, resp["error"])
	errObj := resp["error"].(map[string]any)
	assert.Equal(t, float64(-32600), errObj["code"])
}
