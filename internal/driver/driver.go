// Package driver implements the Driver Adapter (C1): a uniform,
// operation-oriented API over one live browser session, backed by go-rod's
// CDP client.
package driver

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/go-rod/rod"
	"github.com/go-rod/rod/lib/launcher"
	"github.com/go-rod/rod/lib/proto"
	"github.com/rs/zerolog"

	"github.com/corvidae-labs/chromefleet/internal/rpcerr"
	"github.com/corvidae-labs/chromefleet/internal/security"
)

// LaunchOptions configures a new Chrome process.
type LaunchOptions struct {
	Headless    bool
	BrowserPath string
	ProxyURL    string
	UserDataDir string
	Extensions  []string
	AntiDetect  bool
}

// WindowHandle identifies one tab (CDP target) within a Driver.
type WindowHandle string

// Driver wraps one launched Chrome process and its active page set. It is
// not safe for concurrent use from two goroutines operating on the same
// page; callers serialize access per instance (internal/instance does this).
type Driver struct {
	log        zerolog.Logger
	launcher   *launcher.Launcher
	browser    *rod.Browser
	mu         sync.Mutex
	pages      map[WindowHandle]*rod.Page
	current    WindowHandle
	antiDetect bool

	logMu      sync.Mutex
	consoleLog []ConsoleEntry
	networkLog []NetworkEntry
}

// Launch starts a new Chrome process per opts and returns a Driver bound to
// its initial blank tab.
func Launch(ctx context.Context, opts LaunchOptions, log zerolog.Logger) (*Driver, error) {
	l := launcher.New().
		Headless(opts.Headless).
		Set("disable-blink-features", "AutomationControlled").
		Set("disable-infobars").
		Set("no-first-run").
		Set("no-default-browser-check").
		Set("disable-dev-shm-usage")

	binPath := opts.BrowserPath
	if binPath == "" {
		if found, ok := launcher.LookPath(); ok {
			binPath = found
		}
	}

	// spec.md §4.1 effect (a): the binary is patched before first
	// navigation. Patching requires a resolved path up front, so this only
	// runs when one is known; an unresolved path (rod's own auto-download)
	// launches unpatched rather than blocking on a download just to patch it.
	if opts.AntiDetect && binPath != "" {
		patched, err := PatchBinary(binPath)
		if err != nil {
			log.Warn().Err(err).Msg("anti-detect binary patch failed, launching unpatched browser")
		} else {
			if err := reSignBinary(patched); err != nil {
				log.Warn().Err(err).Msg("re-sign patched binary failed, launching unpatched browser")
			} else {
				binPath = patched
			}
		}
	}

	if binPath != "" {
		l = l.Bin(binPath)
	}
	if opts.ProxyURL != "" {
		l = l.Proxy(opts.ProxyURL)
	}
	if opts.UserDataDir != "" {
		l = l.UserDataDir(opts.UserDataDir)
	}
	for _, ext := range opts.Extensions {
		l = l.Set("load-extension", ext)
	}

	u, err := l.Context(ctx).Launch()
	if err != nil {
		return nil, rpcerr.LaunchFailed(err.Error())
	}

	browser := rod.New().Context(ctx).ControlURL(u)
	if err := browser.Connect(); err != nil {
		l.Cleanup()
		return nil, rpcerr.LaunchFailed(err.Error())
	}

	page, err := browser.Page(proto.TargetCreateTarget{URL: "about:blank"})
	if err != nil {
		browser.Close()
		l.Cleanup()
		return nil, rpcerr.LaunchFailed(err.Error())
	}

	d := &Driver{
		log:        log,
		launcher:   l,
		browser:    browser,
		pages:      map[WindowHandle]*rod.Page{},
		antiDetect: opts.AntiDetect,
	}
	handle := WindowHandle(page.TargetID)
	d.pages[handle] = page
	d.current = handle

	if opts.AntiDetect {
		if err := applyStealth(page); err != nil {
			d.log.Warn().Err(err).Msg("stealth patch failed on initial page")
		}
	}
	d.watchNewTargets()
	d.watchLogs()

	return d, nil
}

// watchNewTargets re-applies the stealth payload to every tab the browser
// opens after launch (popups, window.open, target=_blank links), not just
// the initial page.
func (d *Driver) watchNewTargets() {
	if !d.antiDetect {
		return
	}
	go d.browser.EachEvent(func(e *proto.TargetTargetCreated) {
		if e.TargetInfo.Type != proto.TargetTargetInfoTypePage {
			return
		}
		page, err := d.browser.PageFromTarget(e.TargetInfo.TargetID)
		if err != nil {
			return
		}
		d.mu.Lock()
		d.pages[WindowHandle(e.TargetInfo.TargetID)] = page
		d.mu.Unlock()
		if err := applyStealth(page); err != nil {
			d.log.Warn().Err(err).Msg("stealth patch failed on new target")
		}
	})()
}

// Quit closes the browser and releases the launcher's process and temp
// profile. Safe to call more than once.
func (d *Driver) Quit(ctx context.Context) error {
	done := make(chan error, 1)
	go func() { done <- d.browser.Close() }()
	select {
	case err := <-done:
		d.launcher.Cleanup()
		if err != nil {
			return rpcerr.New("driver", rpcerr.CodeInternal, "browser close failed", err)
		}
		return nil
	case <-ctx.Done():
		d.launcher.Kill()
		return ctx.Err()
	}
}

// PID returns the underlying Chrome process id, used by internal/instance
// to read OS-level memory/cpu usage for info(). Returns 0 if the process
// handle isn't available (e.g. connected to a remote/externally-managed
// Chrome rather than one this driver launched).
func (d *Driver) PID() int {
	return d.launcher.PID()
}

func (d *Driver) activePage() (*rod.Page, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	page, ok := d.pages[d.current]
	if !ok {
		return nil, rpcerr.NotFound("window: " + string(d.current))
	}
	return page, nil
}

// Navigate loads url in the active tab, enforcing the SSRF guard before any
// network request is issued, then waits per cond.
func (d *Driver) Navigate(ctx context.Context, rawURL string, cond WaitCondition) error {
	if err := security.ValidateURLWithContext(ctx, rawURL); err != nil {
		return rpcerr.New("navigation", rpcerr.CodeInternal, "blocked target URL", err)
	}
	page, err := d.activePage()
	if err != nil {
		return err
	}
	page = page.Context(ctx)
	if err := page.Navigate(rawURL); err != nil {
		return rpcerr.New("navigation", rpcerr.CodeInternal, "navigate failed", err)
	}
	return wait(ctx, page, cond)
}

// NavigateBlank loads about:blank in the active tab, bypassing the SSRF
// guard (about:blank never issues a network request). Used by the pool's
// reset-on-release to return an instance to a clean slate.
func (d *Driver) NavigateBlank(ctx context.Context) error {
	page, err := d.activePage()
	if err != nil {
		return err
	}
	if err := page.Context(ctx).Navigate("about:blank"); err != nil {
		return rpcerr.New("navigation", rpcerr.CodeInternal, "navigate to about:blank failed", err)
	}
	return nil
}

// Back, Forward and Refresh replay browser history commands on the active tab.
func (d *Driver) Back(ctx context.Context) error    { return d.historyNav(ctx, "back") }
func (d *Driver) Forward(ctx context.Context) error { return d.historyNav(ctx, "forward") }
func (d *Driver) Refresh(ctx context.Context) error { return d.historyNav(ctx, "refresh") }

func (d *Driver) historyNav(ctx context.Context, which string) error {
	page, err := d.activePage()
	if err != nil {
		return err
	}
	page = page.Context(ctx)
	switch which {
	case "back":
		err = page.NavigateBack()
	case "forward":
		err = page.NavigateForward()
	case "refresh":
		err = page.Reload()
	}
	if err != nil {
		return rpcerr.New("navigation", rpcerr.CodeInternal, which+" failed", err)
	}
	return wait(ctx, page, WaitCondition{Type: WaitLoad, Timeout: 30 * time.Second})
}

// ExecuteScript evaluates js in the active page's main world and returns its
// JSON-decoded result.
func (d *Driver) ExecuteScript(ctx context.Context, js string, args ...any) (any, error) {
	page, err := d.activePage()
	if err != nil {
		return nil, err
	}
	res, err := page.Context(ctx).Evaluate(rod.Eval(js, args...))
	if err != nil {
		return nil, rpcerr.ScriptError(err.Error())
	}
	var out any
	if err := res.Value.Unmarshal(&out); err != nil {
		return nil, rpcerr.New("script", rpcerr.CodeInternal, "script result decode failed", err)
	}
	return out, nil
}

// FindElement resolves a raw selector string (per the grammar in
// selector.go) to a rod.Element handle on the active page.
func (d *Driver) FindElement(ctx context.Context, raw string, timeout time.Duration) (*rod.Element, error) {
	page, err := d.activePage()
	if err != nil {
		return nil, err
	}
	page = page.Context(ctx).Timeout(timeout)
	sel := ParseSelector(raw)

	var el *rod.Element
	switch sel.Kind {
	case KindXPath:
		el, err = page.ElementX(sel.Value)
	case KindID:
		el, err = page.Element("#" + cssEscapeID(sel.Value))
	case KindClass:
		el, err = page.Element("." + sel.Value)
	case KindName:
		el, err = page.Element(fmt.Sprintf(`[name="%s"]`, sel.Value))
	case KindTag:
		el, err = page.Element(sel.Value)
	default:
		el, err = page.Element(sel.Value)
	}
	if err != nil {
		return nil, rpcerr.ElementNotFound(raw)
	}
	return el, nil
}

// cssEscapeID is a minimal CSS.escape for id values built into a selector
// string; ids containing CSS-special characters are rare in practice but
// must not break the query.
func cssEscapeID(id string) string {
	out := make([]rune, 0, len(id))
	for _, r := range id {
		switch r {
		case ':', '.', '[', ']', '(', ')', ' ', '#':
			out = append(out, '\\', r)
		default:
			out = append(out, r)
		}
	}
	return string(out)
}

// Cookies returns all cookies visible to the active page.
func (d *Driver) Cookies(ctx context.Context) ([]*proto.NetworkCookie, error) {
	page, err := d.activePage()
	if err != nil {
		return nil, err
	}
	cookies, err := page.Context(ctx).Cookies(nil)
	if err != nil {
		return nil, rpcerr.New("cookies", rpcerr.CodeInternal, "read cookies failed", err)
	}
	return cookies, nil
}

// SetCookies installs cookies on the active page.
func (d *Driver) SetCookies(ctx context.Context, cookies []*proto.NetworkCookieParam) error {
	page, err := d.activePage()
	if err != nil {
		return err
	}
	if err := page.Context(ctx).SetCookies(cookies); err != nil {
		return rpcerr.New("cookies", rpcerr.CodeInternal, "set cookies failed", err)
	}
	return nil
}

// ClearCookies removes all cookies visible to the active page.
func (d *Driver) ClearCookies(ctx context.Context) error {
	page, err := d.activePage()
	if err != nil {
		return err
	}
	return proto.NetworkClearBrowserCookies{}.Call(page.Context(ctx))
}

// LocalStorageGet reads one localStorage key for the active page's current
// origin, returning "" when the key is absent.
func (d *Driver) LocalStorageGet(ctx context.Context, key string) (string, error) {
	v, err := d.ExecuteScript(ctx, `(k) => window.localStorage.getItem(k)`, key)
	if err != nil {
		return "", err
	}
	s, _ := v.(string)
	return s, nil
}

func (d *Driver) LocalStorageSet(ctx context.Context, key, value string) error {
	_, err := d.ExecuteScript(ctx, `(k, v) => window.localStorage.setItem(k, v)`, key, value)
	return err
}

// storageObj returns "localStorage" or "sessionStorage" for the given scope
// name, defaulting to local for anything else.
func storageObj(scope string) string {
	if scope == "session" {
		return "sessionStorage"
	}
	return "localStorage"
}

// ReadStorage reads one key from local or session storage on the active
// page's current origin.
func (d *Driver) ReadStorage(ctx context.Context, scope, key string) (string, error) {
	v, err := d.ExecuteScript(ctx, `(o, k) => window[o].getItem(k)`, storageObj(scope), key)
	if err != nil {
		return "", err
	}
	s, _ := v.(string)
	return s, nil
}

// WriteStorage writes one key to local or session storage.
func (d *Driver) WriteStorage(ctx context.Context, scope, key, value string) error {
	_, err := d.ExecuteScript(ctx, `(o, k, v) => window[o].setItem(k, v)`, storageObj(scope), key, value)
	return err
}

// ClearStorage empties local or session storage for the active origin.
func (d *Driver) ClearStorage(ctx context.Context, scope string) error {
	_, err := d.ExecuteScript(ctx, `(o) => window[o].clear()`, storageObj(scope))
	return err
}

// AllStorage dumps every key/value pair from local or session storage, used
// by session_save to capture a full snapshot rather than one key at a time.
func (d *Driver) AllStorage(ctx context.Context, scope string) (map[string]string, error) {
	v, err := d.ExecuteScript(ctx, `(o) => { const s = window[o], out = {}; for (let i = 0; i < s.length; i++) { const k = s.key(i); out[k] = s.getItem(k); } return out; }`, storageObj(scope))
	if err != nil {
		return nil, err
	}
	out := make(map[string]string)
	if m, ok := v.(map[string]any); ok {
		for k, val := range m {
			if s, ok := val.(string); ok {
				out[k] = s
			}
		}
	}
	return out, nil
}

// URL returns the active page's current address.
func (d *Driver) URL(ctx context.Context) (string, error) {
	page, err := d.activePage()
	if err != nil {
		return "", err
	}
	info, err := page.Context(ctx).Info()
	if err != nil {
		return "", rpcerr.New("content", rpcerr.CodeInternal, "read url failed", err)
	}
	return info.URL, nil
}

// Title returns the active page's document title.
func (d *Driver) Title(ctx context.Context) (string, error) {
	page, err := d.activePage()
	if err != nil {
		return "", err
	}
	info, err := page.Context(ctx).Info()
	if err != nil {
		return "", rpcerr.New("content", rpcerr.CodeInternal, "read title failed", err)
	}
	return info.Title, nil
}

// WindowSize returns the active tab's outer window dimensions.
func (d *Driver) WindowSize(ctx context.Context) (width, height int, err error) {
	page, perr := d.activePage()
	if perr != nil {
		return 0, 0, perr
	}
	bounds, berr := page.Context(ctx).GetWindow()
	if berr != nil {
		return 0, 0, rpcerr.New("content", rpcerr.CodeInternal, "read window size failed", berr)
	}
	if bounds.Width != nil {
		width = *bounds.Width
	}
	if bounds.Height != nil {
		height = *bounds.Height
	}
	return width, height, nil
}

// SetWindowSize resizes the active tab's window, used by session_load to
// restore captured geometry.
func (d *Driver) SetWindowSize(ctx context.Context, width, height int) error {
	page, err := d.activePage()
	if err != nil {
		return err
	}
	w, h := width, height
	if err := page.Context(ctx).SetWindow(&proto.BrowserBounds{Width: &w, Height: &h}); err != nil {
		return rpcerr.New("content", rpcerr.CodeInternal, "set window size failed", err)
	}
	return nil
}

// CaptureScreenshot returns a PNG-encoded screenshot of the active tab.
func (d *Driver) CaptureScreenshot(ctx context.Context, fullPage bool) ([]byte, error) {
	page, err := d.activePage()
	if err != nil {
		return nil, err
	}
	req := &proto.PageCaptureScreenshot{Format: proto.PageCaptureScreenshotFormatPng}
	if fullPage {
		req.CaptureBeyondViewport = true
	}
	data, err := page.Context(ctx).Screenshot(fullPage, req)
	if err != nil {
		return nil, rpcerr.New("screenshot", rpcerr.CodeInternal, "screenshot failed", err)
	}
	return data, nil
}

// WindowHandles lists every tab's handle known to this driver.
func (d *Driver) WindowHandles() []WindowHandle {
	d.mu.Lock()
	defer d.mu.Unlock()
	out := make([]WindowHandle, 0, len(d.pages))
	for h := range d.pages {
		out = append(out, h)
	}
	return out
}

// CurrentHandle returns the active tab's handle.
func (d *Driver) CurrentHandle() WindowHandle {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.current
}

// SwitchTo makes handle the active tab for subsequent operations.
func (d *Driver) SwitchTo(handle WindowHandle) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if _, ok := d.pages[handle]; !ok {
		return rpcerr.NotFound("window: " + string(handle))
	}
	d.current = handle
	return nil
}

// CloseWindow closes one tab. Closing the active tab leaves CurrentHandle
// pointing at a now-missing entry until the caller calls SwitchTo; callers
// (internal/dispatch) are expected to switch to a remaining handle first.
func (d *Driver) CloseWindow(ctx context.Context, handle WindowHandle) error {
	d.mu.Lock()
	page, ok := d.pages[handle]
	if ok {
		delete(d.pages, handle)
	}
	d.mu.Unlock()
	if !ok {
		return rpcerr.NotFound("window: " + string(handle))
	}
	return page.Context(ctx).Close()
}

// ActivePage exposes the active tab's rod.Page for callers (internal/dispatch)
// that need humanized interaction helpers (internal/humanize) operating
// directly on the page/element rather than through a Driver method.
func (d *Driver) ActivePage(ctx context.Context) (*rod.Page, error) {
	page, err := d.activePage()
	if err != nil {
		return nil, err
	}
	return page.Context(ctx), nil
}

// Click performs a plain synthetic click on el; humanized clicks go through
// internal/humanize.Mouse directly against ActivePage instead.
func (d *Driver) Click(ctx context.Context, el *rod.Element, button proto.InputMouseButton, clickCount int) error {
	if clickCount <= 0 {
		clickCount = 1
	}
	if err := el.Context(ctx).Click(button, clickCount); err != nil {
		return rpcerr.New("interaction", rpcerr.CodeInternal, "click failed", err)
	}
	return nil
}

// Type clears el's value first when clear is set, then inputs text as
// synthetic keystrokes.
func (d *Driver) Type(ctx context.Context, el *rod.Element, text string, clear bool) error {
	el = el.Context(ctx)
	if clear {
		if err := el.SelectAllText(); err == nil {
			_ = el.Input("")
		}
	}
	if err := el.Input(text); err != nil {
		return rpcerr.New("interaction", rpcerr.CodeInternal, "type failed", err)
	}
	return nil
}

// Select chooses the option matching value in a <select> element by its
// value attribute.
func (d *Driver) Select(ctx context.Context, el *rod.Element, value string) error {
	if err := el.Context(ctx).Select([]string{fmt.Sprintf("[value=%q]", value)}, true, rod.SelectorTypeCSS); err != nil {
		return rpcerr.New("interaction", rpcerr.CodeInternal, "select failed", err)
	}
	return nil
}

// GetHTML returns the outer HTML of el, or the active page's document when
// el is nil.
func (d *Driver) GetHTML(ctx context.Context, el *rod.Element) (string, error) {
	if el != nil {
		html, err := el.Context(ctx).HTML()
		if err != nil {
			return "", rpcerr.New("content", rpcerr.CodeInternal, "get_html failed", err)
		}
		return html, nil
	}
	page, err := d.activePage()
	if err != nil {
		return "", err
	}
	html, err := page.Context(ctx).HTML()
	if err != nil {
		return "", rpcerr.New("content", rpcerr.CodeInternal, "get_html failed", err)
	}
	return html, nil
}

// GetText returns el's rendered text content, or the active page's body
// text when el is nil.
func (d *Driver) GetText(ctx context.Context, el *rod.Element) (string, error) {
	if el != nil {
		text, err := el.Context(ctx).Text()
		if err != nil {
			return "", rpcerr.New("content", rpcerr.CodeInternal, "get_text failed", err)
		}
		return text, nil
	}
	page, err := d.activePage()
	if err != nil {
		return "", err
	}
	body, err := page.Context(ctx).Element("body")
	if err != nil {
		return "", rpcerr.New("content", rpcerr.CodeInternal, "get_text failed", err)
	}
	text, err := body.Text()
	if err != nil {
		return "", rpcerr.New("content", rpcerr.CodeInternal, "get_text failed", err)
	}
	return text, nil
}

// ExtractLinks returns every anchor's href and visible text on the active page.
func (d *Driver) ExtractLinks(ctx context.Context) ([]map[string]string, error) {
	out, err := d.ExecuteScript(ctx, `() => Array.from(document.querySelectorAll('a[href]')).map(a => ({href: a.href, text: a.innerText.trim()}))`)
	if err != nil {
		return nil, err
	}
	return toStringMapSlice(out), nil
}

// ExtractForms returns each form's action, method, and field names on the
// active page.
func (d *Driver) ExtractForms(ctx context.Context) ([]map[string]any, error) {
	out, err := d.ExecuteScript(ctx, `() => Array.from(document.querySelectorAll('form')).map(f => ({
		action: f.action, method: f.method,
		fields: Array.from(f.elements).map(e => e.name).filter(Boolean),
	}))`)
	if err != nil {
		return nil, err
	}
	list, _ := out.([]any)
	forms := make([]map[string]any, 0, len(list))
	for _, item := range list {
		if m, ok := item.(map[string]any); ok {
			forms = append(forms, m)
		}
	}
	return forms, nil
}

func toStringMapSlice(v any) []map[string]string {
	list, _ := v.([]any)
	out := make([]map[string]string, 0, len(list))
	for _, item := range list {
		raw, ok := item.(map[string]any)
		if !ok {
			continue
		}
		m := make(map[string]string, len(raw))
		for k, val := range raw {
			if s, ok := val.(string); ok {
				m[k] = s
			}
		}
		out = append(out, m)
	}
	return out
}
