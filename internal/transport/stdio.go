// Package transport implements the C8 wire-level transports (stdio and
// WebSocket) that feed raw JSON-RPC bytes to internal/protocol.Handler and
// write its responses back.
package transport

import (
	"bufio"
	"context"
	"io"

	"github.com/rs/zerolog"

	"github.com/corvidae-labs/chromefleet/internal/protocol"
)

// RunStdio serves one JSON-RPC connection over in/out: one line-delimited
// JSON document per request, one per response, per spec.md §4.8's stdio
// transport. All logging goes to log (never stdout, which is reserved for
// wire traffic); EOF on in ends the loop cleanly.
func RunStdio(ctx context.Context, h *protocol.Handler, in io.Reader, out io.Writer, log zerolog.Logger) error {
	conn := protocol.NewConn("stdio")
	scanner := bufio.NewScanner(in)
	scanner.Buffer(make([]byte, 0, 64*1024), 16*1024*1024)

	writer := bufio.NewWriter(out)
	defer writer.Flush()

	for scanner.Scan() {
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}
		// Handle synchronously: spec.md's stdio transport serves exactly one
		// connection and has no need for the concurrency a socket transport
		// must support.
		resp := h.Handle(ctx, conn, append([]byte(nil), line...))
		if resp == nil {
			continue
		}
		if _, err := writer.Write(resp); err != nil {
			return err
		}
		if err := writer.WriteByte('\n'); err != nil {
			return err
		}
		if err := writer.Flush(); err != nil {
			return err
		}
	}
	if err := scanner.Err(); err != nil {
		log.Error().Err(err).Msg("stdio transport: read error")
		return err
	}
	return nil
}
