package driver

import (
	"context"
	"time"

	"github.com/go-rod/rod"

	"github.com/corvidae-labs/chromefleet/internal/rpcerr"
)

// WaitKind selects which post-navigation/action condition to block on.
type WaitKind int

const (
	// WaitLoad waits for the page's load event, rod's default navigation wait.
	WaitLoad WaitKind = iota
	// WaitNetworkIdle waits until no network request has started for a quiet
	// window, grounded on the teacher's network-quiescence polling used to
	// decide when a Cloudflare challenge has finished resolving.
	WaitNetworkIdle
	// WaitElementPresent waits until Selector resolves to an element,
	// piercing open shadow roots the way the teacher's challenge detector
	// does when hunting for a Turnstile widget inside a shadow DOM.
	WaitElementPresent
	// WaitPredicate waits until the JS expression in Script evaluates truthy.
	WaitPredicate
)

// WaitCondition describes what Navigate blocks on before returning.
type WaitCondition struct {
	Type     WaitKind
	Selector string        // WaitElementPresent
	Script   string        // WaitPredicate
	Quiet    time.Duration // WaitNetworkIdle: idle window required, default 500ms
	Timeout  time.Duration
}

func wait(ctx context.Context, page *rod.Page, cond WaitCondition) error {
	if cond.Timeout <= 0 {
		cond.Timeout = 30 * time.Second
	}
	ctx, cancel := context.WithTimeout(ctx, cond.Timeout)
	defer cancel()
	page = page.Context(ctx)

	switch cond.Type {
	case WaitNetworkIdle:
		return waitNetworkIdle(page, cond.Quiet)
	case WaitElementPresent:
		return waitElementPresent(page, cond.Selector)
	case WaitPredicate:
		return waitPredicate(page, cond.Script)
	default:
		if err := page.WaitLoad(); err != nil {
			return rpcerr.NavigationTimeout("load")
		}
		return nil
	}
}

// waitNetworkIdle polls the page's network request counter, returning once
// the outstanding-request count has stayed at zero for quiet.
func waitNetworkIdle(page *rod.Page, quiet time.Duration) error {
	if quiet <= 0 {
		quiet = 500 * time.Millisecond
	}
	waitIdle := page.WaitRequestIdle(quiet, nil, nil, nil)
	waitIdle()
	return nil
}

// waitElementPresent polls FindElement-style resolution, including inside
// open shadow roots, until it succeeds or the context deadline fires.
func waitElementPresent(page *rod.Page, raw string) error {
	sel := ParseSelector(raw)
	ticker := time.NewTicker(100 * time.Millisecond)
	defer ticker.Stop()
	ctx := page.GetContext()

	for {
		if found, _ := elementExists(page, sel); found {
			return nil
		}
		select {
		case <-ctx.Done():
			return rpcerr.ElementNotFound(raw)
		case <-ticker.C:
		}
	}
}

func elementExists(page *rod.Page, sel Selector) (bool, error) {
	var query string
	switch sel.Kind {
	case KindID:
		query = "#" + cssEscapeID(sel.Value)
	case KindClass:
		query = "." + sel.Value
	case KindTag:
		query = sel.Value
	case KindName:
		query = `[name="` + sel.Value + `"]`
	case KindXPath:
		if _, err := page.Timeout(200 * time.Millisecond).ElementX(sel.Value); err != nil {
			return false, err
		}
		return true, nil
	default:
		query = sel.Value
	}

	// Pierce open shadow roots: query the document first, then search each
	// element's open shadowRoot recursively if nothing matched there.
	found, err := page.Eval(`(q) => {
		function search(root) {
			const el = root.querySelector(q);
			if (el) return true;
			const all = root.querySelectorAll('*');
			for (const node of all) {
				if (node.shadowRoot && search(node.shadowRoot)) return true;
			}
			return false;
		}
		return search(document);
	}`, query)
	if err != nil {
		return false, err
	}
	return found.Value.Bool(), nil
}

// waitPredicate polls a JS expression until it evaluates truthy.
func waitPredicate(page *rod.Page, script string) error {
	ticker := time.NewTicker(100 * time.Millisecond)
	defer ticker.Stop()
	ctx := page.GetContext()

	for {
		res, err := page.Eval(script)
		if err == nil && res.Value.Bool() {
			return nil
		}
		select {
		case <-ctx.Done():
			return rpcerr.New("driver", rpcerr.CodeInternal, "wait predicate timed out", nil)
		case <-ticker.C:
		}
	}
}
