package dispatch

import (
	"encoding/base64"
	"encoding/json"

	"github.com/go-rod/rod"
	"github.com/go-rod/rod/lib/proto"

	"github.com/corvidae-labs/chromefleet/internal/rpcerr"
)

type contentParams struct {
	Selector  string `json:"selector"`
	MaxTokens int    `json:"max_tokens"`
}

// charsPerToken is a rough token-to-character ratio, used only to bound
// browser_get_html's response size before it reaches an LLM caller.
const charsPerToken = 4

func truncateForTokens(s string, maxTokens int) (string, bool) {
	if maxTokens <= 0 {
		return s, false
	}
	limit := maxTokens * charsPerToken
	if len(s) <= limit {
		return s, false
	}
	return s[:limit], true
}

type screenshotParams struct {
	Selector string `json:"selector"`
	FullPage bool   `json:"full_page"`
}

func (d *Dispatcher) registerContentTools() {
	d.register(ToolDef{
		Name: "browser_get_html", Category: "content",
		Description: "Return the outer HTML of selector, or the whole document when omitted.",
		Handler:     d.handleGetHTML,
	})
	d.register(ToolDef{
		Name: "browser_get_text", Category: "content",
		Description: "Return the rendered text of selector, or the whole body when omitted.",
		Handler:     d.handleGetText,
	})
	d.register(ToolDef{
		Name: "browser_extract_links", Category: "content",
		Description: "Return every anchor's href and visible text on the active page.",
		Handler: func(c *Call) (any, error) {
			return c.Inst.Driver().ExtractLinks(c.Ctx)
		},
	})
	d.register(ToolDef{
		Name: "browser_extract_forms", Category: "content",
		Description: "Return every form's action, method, and field names on the active page.",
		Handler: func(c *Call) (any, error) {
			return c.Inst.Driver().ExtractForms(c.Ctx)
		},
	})
	d.register(ToolDef{
		Name: "browser_screenshot", Category: "content",
		Description: "Capture a PNG screenshot of the active page, base64-encoded.",
		Handler:     d.handleScreenshot,
	})
}

func (d *Dispatcher) handleGetHTML(c *Call) (any, error) {
	var params contentParams
	if len(c.Args) > 0 {
		if err := json.Unmarshal(c.Args, &params); err != nil {
			return nil, rpcerr.BadParams(err.Error())
		}
	}
	drv := c.Inst.Driver()
	var html string
	var err error
	if params.Selector == "" {
		html, err = drv.GetHTML(c.Ctx, nil)
	} else {
		var el *rod.Element
		el, err = drv.FindElement(c.Ctx, params.Selector, 0)
		if err == nil {
			html, err = drv.GetHTML(c.Ctx, el)
		}
	}
	if err != nil {
		return nil, err
	}
	result := map[string]any{}
	truncated, wasTruncated := truncateForTokens(html, params.MaxTokens)
	result["html"] = truncated
	if wasTruncated {
		result["truncated"] = true
	}
	return result, nil
}

func (d *Dispatcher) handleGetText(c *Call) (any, error) {
	var params contentParams
	if len(c.Args) > 0 {
		if err := json.Unmarshal(c.Args, &params); err != nil {
			return nil, rpcerr.BadParams(err.Error())
		}
	}
	drv := c.Inst.Driver()
	if params.Selector == "" {
		text, err := drv.GetText(c.Ctx, nil)
		if err != nil {
			return nil, err
		}
		return map[string]any{"text": text}, nil
	}
	el, err := drv.FindElement(c.Ctx, params.Selector, 0)
	if err != nil {
		return nil, err
	}
	text, err := drv.GetText(c.Ctx, el)
	if err != nil {
		return nil, err
	}
	return map[string]any{"text": text}, nil
}

func (d *Dispatcher) handleScreenshot(c *Call) (any, error) {
	var params screenshotParams
	if len(c.Args) > 0 {
		if err := json.Unmarshal(c.Args, &params); err != nil {
			return nil, rpcerr.BadParams(err.Error())
		}
	}
	drv := c.Inst.Driver()
	if params.Selector != "" {
		el, err := drv.FindElement(c.Ctx, params.Selector, 0)
		if err != nil {
			return nil, err
		}
		bytes, err := el.Context(c.Ctx).Screenshot(proto.PageCaptureScreenshotFormatPng, 0)
		if err != nil {
			return nil, rpcerr.New("content", rpcerr.CodeInternal, "screenshot failed", err)
		}
		return map[string]any{"image_base64": base64.StdEncoding.EncodeToString(bytes)}, nil
	}
	data, err := drv.CaptureScreenshot(c.Ctx, params.FullPage)
	if err != nil {
		return nil, err
	}
	return map[string]any{"image_base64": base64.StdEncoding.EncodeToString(data)}, nil
}
