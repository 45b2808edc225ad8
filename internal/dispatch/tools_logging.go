package dispatch

import (
	"encoding/json"

	"github.com/corvidae-labs/chromefleet/internal/rpcerr"
)

type logParams struct {
	Limit int `json:"limit"`
}

func (d *Dispatcher) registerLoggingTools() {
	d.register(ToolDef{
		Name: "browser_get_console_logs", Category: "logging",
		Description: "Return captured browser console output in capture order (oldest first); limit keeps the most recent entries.",
		Handler:     d.handleConsoleLogs,
	})
	d.register(ToolDef{
		Name: "browser_get_network_logs", Category: "logging",
		Description: "Return captured network responses in capture order (oldest first); limit keeps the most recent entries.",
		Handler:     d.handleNetworkLogs,
	})
}

func (d *Dispatcher) handleConsoleLogs(c *Call) (any, error) {
	var params logParams
	if len(c.Args) > 0 {
		if err := json.Unmarshal(c.Args, &params); err != nil {
			return nil, rpcerr.BadParams(err.Error())
		}
	}
	entries := c.Inst.Driver().ConsoleLogs(c.Ctx)
	return limitEntries(entries, params.Limit), nil
}

func (d *Dispatcher) handleNetworkLogs(c *Call) (any, error) {
	var params logParams
	if len(c.Args) > 0 {
		if err := json.Unmarshal(c.Args, &params); err != nil {
			return nil, rpcerr.BadParams(err.Error())
		}
	}
	entries := c.Inst.Driver().NetworkLogs(c.Ctx)
	return limitEntries(entries, params.Limit), nil
}

// limitEntries returns the last n entries of a newest-last slice, or all of
// them when n <= 0.
func limitEntries[T any](entries []T, n int) []T {
	if n <= 0 || n >= len(entries) {
		return entries
	}
	return entries[len(entries)-n:]
}
