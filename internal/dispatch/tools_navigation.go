package dispatch

import (
	"encoding/json"
	"net/url"
	"time"

	"github.com/corvidae-labs/chromefleet/internal/driver"
	"github.com/corvidae-labs/chromefleet/internal/rpcerr"
)

type navigateParams struct {
	URL        string `json:"url"`
	WaitFor    string `json:"wait_for"` // "load" | "networkidle" | "element:<selector>" | "predicate:<script>"
	TimeoutSec int    `json:"timeout"`
}

func (d *Dispatcher) registerNavigationTools() {
	d.register(ToolDef{
		Name: "browser_navigate", Category: "navigation",
		Description: "Load a URL in the current instance's active tab and wait for the given condition.",
		Handler:     d.handleNavigate,
	})
	d.register(ToolDef{
		Name: "browser_back", Category: "navigation",
		Description: "Go back one entry in the active tab's history.",
		Handler:     func(c *Call) (any, error) { return nil, c.Inst.Driver().Back(c.Ctx) },
	})
	d.register(ToolDef{
		Name: "browser_forward", Category: "navigation",
		Description: "Go forward one entry in the active tab's history.",
		Handler:     func(c *Call) (any, error) { return nil, c.Inst.Driver().Forward(c.Ctx) },
	})
	d.register(ToolDef{
		Name: "browser_refresh", Category: "navigation",
		Description: "Reload the active tab.",
		Handler:     func(c *Call) (any, error) { return nil, c.Inst.Driver().Refresh(c.Ctx) },
	})
	d.register(ToolDef{
		Name: "browser_get_url", Category: "navigation",
		Description: "Return the active tab's current URL and title.",
		Handler:     d.handleGetURL,
	})
}

// parseWaitCondition maps the tool surface's compact wait_for string onto
// the driver's WaitCondition, per spec.md §4.1's four condition kinds.
func parseWaitCondition(waitFor string, timeoutSec int) driver.WaitCondition {
	cond := driver.WaitCondition{Type: driver.WaitLoad}
	if timeoutSec > 0 {
		cond.Timeout = time.Duration(timeoutSec) * time.Second
	}
	switch {
	case waitFor == "" || waitFor == "load":
		cond.Type = driver.WaitLoad
	case waitFor == "networkidle":
		cond.Type = driver.WaitNetworkIdle
	case len(waitFor) > len("element:") && waitFor[:len("element:")] == "element:":
		cond.Type = driver.WaitElementPresent
		cond.Selector = waitFor[len("element:"):]
	case len(waitFor) > len("predicate:") && waitFor[:len("predicate:")] == "predicate:":
		cond.Type = driver.WaitPredicate
		cond.Script = waitFor[len("predicate:"):]
	}
	return cond
}

func (d *Dispatcher) handleNavigate(c *Call) (any, error) {
	var params navigateParams
	if err := json.Unmarshal(c.Args, &params); err != nil {
		return nil, rpcerr.BadParams(err.Error())
	}
	if params.URL == "" {
		return nil, rpcerr.BadParams("url is required")
	}

	drv := c.Inst.Driver()
	start := time.Now()
	cond := parseWaitCondition(params.WaitFor, params.TimeoutSec)
	if err := drv.Navigate(c.Ctx, params.URL, cond); err != nil {
		if u, perr := url.Parse(params.URL); perr == nil {
			c.Inst.RecordNavigation(u.Hostname(), false, true)
		}
		return nil, err
	}

	finalURL, _ := drv.URL(c.Ctx)
	title, _ := drv.Title(c.Ctx)
	html, _ := drv.GetHTML(c.Ctx, nil)

	result := map[string]any{
		"final_url":        finalURL,
		"title":            title,
		"load_time_seconds": time.Since(start).Seconds(),
		"content_length":   len(html),
	}

	// Supplemented feature (SPEC_FULL.md §6.2): surface bot-block detection
	// against the loaded document's status and body, folding the outcome
	// into the instance's per-domain health cache.
	if u, perr := url.Parse(finalURL); perr == nil {
		status := lastStatusFor(drv.NetworkLogs(c.Ctx), finalURL)
		if blocked := detectBlockAndRecord(c.Inst, u.Hostname(), status, html); blocked != nil {
			result["blocked"] = blocked
		}
	}

	return result, nil
}

// lastStatusFor scans captured network responses for the most recent entry
// matching target, newest first; returns 0 (unknown) if none match.
func lastStatusFor(entries []driver.NetworkEntry, target string) int {
	for i := len(entries) - 1; i >= 0; i-- {
		if entries[i].URL == target {
			return entries[i].Status
		}
	}
	return 0
}

func (d *Dispatcher) handleGetURL(c *Call) (any, error) {
	drv := c.Inst.Driver()
	u, err := drv.URL(c.Ctx)
	if err != nil {
		return nil, err
	}
	title, _ := drv.Title(c.Ctx)
	return map[string]any{"url": u, "title": title}, nil
}
