package dispatch

import (
	"encoding/json"

	"github.com/corvidae-labs/chromefleet/internal/driver"
	"github.com/corvidae-labs/chromefleet/internal/rpcerr"
)

type switchTabParams struct {
	Handle string `json:"handle"`
}

func (d *Dispatcher) registerTabTools() {
	d.register(ToolDef{
		Name: "browser_get_tabs", Category: "tabs",
		Description: "List every open tab's handle, marking the active one.",
		Handler:     d.handleGetTabs,
	})
	d.register(ToolDef{
		Name: "browser_switch_tab", Category: "tabs",
		Description: "Make handle the active tab for subsequent calls.",
		Handler:     d.handleSwitchTab,
	})
}

func (d *Dispatcher) handleGetTabs(c *Call) (any, error) {
	drv := c.Inst.Driver()
	current := drv.CurrentHandle()
	handles := drv.WindowHandles()

	out := make([]map[string]any, 0, len(handles))
	for _, h := range handles {
		out = append(out, map[string]any{
			"handle": string(h),
			"active": h == current,
		})
	}
	return out, nil
}

func (d *Dispatcher) handleSwitchTab(c *Call) (any, error) {
	var params switchTabParams
	if err := json.Unmarshal(c.Args, &params); err != nil {
		return nil, rpcerr.BadParams(err.Error())
	}
	if params.Handle == "" {
		return nil, rpcerr.BadParams("handle is required")
	}
	drv := c.Inst.Driver()
	if err := drv.SwitchTo(driver.WindowHandle(params.Handle)); err != nil {
		return nil, err
	}
	return map[string]any{"active": params.Handle}, nil
}
