package dispatch

import (
	"encoding/json"

	"github.com/go-rod/rod/lib/proto"

	"github.com/corvidae-labs/chromefleet/internal/humanize"
	"github.com/corvidae-labs/chromefleet/internal/rpcerr"
)

type clickParams struct {
	Selector   string `json:"selector"`
	Button     string `json:"button"`
	ClickCount int    `json:"click_count"`
	Humanize   *bool  `json:"humanize"`
}

type typeParams struct {
	Selector string `json:"selector"`
	Text     string `json:"text"`
	Clear    bool   `json:"clear"`
	Humanize *bool  `json:"humanize"`
}

type selectParams struct {
	Selector string `json:"selector"`
	Value    string `json:"value"`
}

type scrollParams struct {
	Direction string  `json:"direction"` // "up" | "down"
	X         float64 `json:"x"`
	Y         float64 `json:"y"`
	To        string  `json:"to"` // "top" | "bottom", or a selector
	Humanize  *bool   `json:"humanize"`
}

type executeScriptParams struct {
	Script string `json:"script"`
	Args   []any  `json:"args"`
}

// wantsHumanize defaults a *bool param to true per SPEC_FULL.md §6.1: humanized
// interaction is the default, opt-out rather than opt-in.
func wantsHumanize(b *bool) bool { return b == nil || *b }

func (d *Dispatcher) registerInputTools() {
	d.register(ToolDef{
		Name: "browser_click", Category: "input",
		Description: "Click the element matching selector, humanized by default.",
		Handler:     d.handleClick,
	})
	d.register(ToolDef{
		Name: "browser_type", Category: "input",
		Description: "Type text into the element matching selector, humanized by default.",
		Handler:     d.handleType,
	})
	d.register(ToolDef{
		Name: "browser_select", Category: "input",
		Description: "Choose an option by value in a <select> element.",
		Handler:     d.handleSelect,
	})
	d.register(ToolDef{
		Name: "browser_scroll", Category: "input",
		Description: "Scroll the active page, humanized by default.",
		Handler:     d.handleScroll,
	})
	d.register(ToolDef{
		Name: "browser_execute_script", Category: "input",
		Description: "Evaluate JavaScript in the active page's main world.",
		Handler:     d.handleExecuteScript,
	})
}

func (d *Dispatcher) handleClick(c *Call) (any, error) {
	var params clickParams
	if err := json.Unmarshal(c.Args, &params); err != nil {
		return nil, rpcerr.BadParams(err.Error())
	}
	if params.Selector == "" {
		return nil, rpcerr.BadParams("selector is required")
	}

	drv := c.Inst.Driver()
	el, err := drv.FindElement(c.Ctx, params.Selector, 0)
	if err != nil {
		return nil, err
	}

	if wantsHumanize(params.Humanize) {
		page, err := drv.ActivePage(c.Ctx)
		if err != nil {
			return nil, err
		}
		mouse := humanize.NewMouse(page)
		if err := mouse.ClickElement(c.Ctx, el); err != nil {
			return nil, rpcerr.New("interaction", rpcerr.CodeInternal, "humanized click failed", err)
		}
		return map[string]any{"clicked": params.Selector}, nil
	}

	button := proto.InputMouseButtonLeft
	switch params.Button {
	case "right":
		button = proto.InputMouseButtonRight
	case "middle":
		button = proto.InputMouseButtonMiddle
	}
	if err := drv.Click(c.Ctx, el, button, params.ClickCount); err != nil {
		return nil, err
	}
	return map[string]any{"clicked": params.Selector}, nil
}

func (d *Dispatcher) handleType(c *Call) (any, error) {
	var params typeParams
	if err := json.Unmarshal(c.Args, &params); err != nil {
		return nil, rpcerr.BadParams(err.Error())
	}
	if params.Selector == "" {
		return nil, rpcerr.BadParams("selector is required")
	}

	drv := c.Inst.Driver()
	el, err := drv.FindElement(c.Ctx, params.Selector, 0)
	if err != nil {
		return nil, err
	}

	if wantsHumanize(params.Humanize) {
		timing := humanize.NewTiming()
		scoped := el.Context(c.Ctx)
		if params.Clear {
			if cerr := scoped.SelectAllText(); cerr == nil {
				_ = scoped.Input("")
			}
		}
		for _, r := range params.Text {
			if err := scoped.Input(string(r)); err != nil {
				return nil, rpcerr.New("interaction", rpcerr.CodeInternal, "humanized type failed", err)
			}
			humanize.SleepWithContext(c.Ctx, timing.TypingDelay())
		}
		return map[string]any{"typed": params.Selector}, nil
	}

	if err := drv.Type(c.Ctx, el, params.Text, params.Clear); err != nil {
		return nil, err
	}
	return map[string]any{"typed": params.Selector}, nil
}

func (d *Dispatcher) handleSelect(c *Call) (any, error) {
	var params selectParams
	if err := json.Unmarshal(c.Args, &params); err != nil {
		return nil, rpcerr.BadParams(err.Error())
	}
	drv := c.Inst.Driver()
	el, err := drv.FindElement(c.Ctx, params.Selector, 0)
	if err != nil {
		return nil, err
	}
	if err := drv.Select(c.Ctx, el, params.Value); err != nil {
		return nil, err
	}
	return map[string]any{"selected": params.Value}, nil
}

func (d *Dispatcher) handleScroll(c *Call) (any, error) {
	var params scrollParams
	if err := json.Unmarshal(c.Args, &params); err != nil {
		return nil, rpcerr.BadParams(err.Error())
	}

	drv := c.Inst.Driver()
	page, err := drv.ActivePage(c.Ctx)
	if err != nil {
		return nil, err
	}

	humanized := wantsHumanize(params.Humanize)
	var scroller *humanize.Scroller
	if humanized {
		scroller = humanize.NewScroller(page)
	}

	switch {
	case params.To == "top":
		if humanized {
			return nil, scroller.ScrollToTop(c.Ctx)
		}
		_, err := page.Eval(`() => window.scrollTo(0, 0)`)
		return nil, err
	case params.To == "bottom":
		if humanized {
			return nil, scroller.ScrollToBottom(c.Ctx)
		}
		_, err := page.Eval(`() => window.scrollTo(0, document.body.scrollHeight)`)
		return nil, err
	case params.To != "":
		el, err := drv.FindElement(c.Ctx, params.To, 0)
		if err != nil {
			return nil, err
		}
		if humanized {
			return nil, scroller.ScrollToElement(c.Ctx, el)
		}
		return nil, el.ScrollIntoView()
	case params.Direction == "up":
		if humanized {
			return nil, scroller.ScrollBy(c.Ctx, -scrollStep(params.Y))
		}
		_, err := page.Eval(`(dy) => window.scrollBy(0, -dy)`, scrollStep(params.Y))
		return nil, err
	default:
		dy := params.Y
		if dy == 0 {
			dy = scrollStep(0)
		}
		if humanized {
			return nil, scroller.ScrollBy(c.Ctx, dy)
		}
		_, err := page.Eval(`(dy) => window.scrollBy(0, dy)`, dy)
		return nil, err
	}
}

func scrollStep(y float64) float64 {
	if y > 0 {
		return y
	}
	return 400
}

func (d *Dispatcher) handleExecuteScript(c *Call) (any, error) {
	var params executeScriptParams
	if err := json.Unmarshal(c.Args, &params); err != nil {
		return nil, rpcerr.BadParams(err.Error())
	}
	if params.Script == "" {
		return nil, rpcerr.BadParams("script is required")
	}
	return c.Inst.Driver().ExecuteScript(c.Ctx, params.Script, params.Args...)
}
