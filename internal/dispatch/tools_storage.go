package dispatch

import (
	"encoding/json"

	"github.com/go-rod/rod/lib/proto"

	"github.com/corvidae-labs/chromefleet/internal/rpcerr"
)

type setCookieParams struct {
	Name     string `json:"name"`
	Value    string `json:"value"`
	Domain   string `json:"domain"`
	Path     string `json:"path"`
	HTTPOnly bool   `json:"http_only"`
	Secure   bool   `json:"secure"`
}

type storageKeyParams struct {
	Scope string `json:"scope"` // "local" | "session"
	Key   string `json:"key"`
	Value string `json:"value"`
}

func (d *Dispatcher) registerStorageTools() {
	d.register(ToolDef{
		Name: "browser_get_cookies", Category: "storage",
		Description: "Return every cookie visible to the active page.",
		Handler: func(c *Call) (any, error) {
			return c.Inst.Driver().Cookies(c.Ctx)
		},
	})
	d.register(ToolDef{
		Name: "browser_set_cookie", Category: "storage",
		Description: "Install one cookie on the active page.",
		Handler:     d.handleSetCookie,
	})
	d.register(ToolDef{
		Name: "browser_clear_cookies", Category: "storage",
		Description: "Remove every cookie visible to the active page.",
		Handler: func(c *Call) (any, error) {
			return nil, c.Inst.Driver().ClearCookies(c.Ctx)
		},
	})
	d.register(ToolDef{
		Name: "browser_read_storage", Category: "storage",
		Description: "Read one key, or every key, from local or session storage.",
		Handler:     d.handleReadStorage,
	})
	d.register(ToolDef{
		Name: "browser_write_storage", Category: "storage",
		Description: "Write one key to local or session storage.",
		Handler:     d.handleWriteStorage,
	})
	d.register(ToolDef{
		Name: "browser_clear_storage", Category: "storage",
		Description: "Empty local or session storage for the active origin.",
		Handler: func(c *Call) (any, error) {
			var params storageKeyParams
			if len(c.Args) > 0 {
				if err := json.Unmarshal(c.Args, &params); err != nil {
					return nil, rpcerr.BadParams(err.Error())
				}
			}
			return nil, c.Inst.Driver().ClearStorage(c.Ctx, params.Scope)
		},
	})
}

func (d *Dispatcher) handleSetCookie(c *Call) (any, error) {
	var params setCookieParams
	if err := json.Unmarshal(c.Args, &params); err != nil {
		return nil, rpcerr.BadParams(err.Error())
	}
	if params.Name == "" {
		return nil, rpcerr.BadParams("name is required")
	}
	cookie := &proto.NetworkCookieParam{
		Name:     params.Name,
		Value:    params.Value,
		Domain:   params.Domain,
		Path:     params.Path,
		HTTPOnly: params.HTTPOnly,
		Secure:   params.Secure,
	}
	if err := c.Inst.Driver().SetCookies(c.Ctx, []*proto.NetworkCookieParam{cookie}); err != nil {
		return nil, err
	}
	return map[string]any{"set": params.Name}, nil
}

func (d *Dispatcher) handleReadStorage(c *Call) (any, error) {
	var params storageKeyParams
	if len(c.Args) > 0 {
		if err := json.Unmarshal(c.Args, &params); err != nil {
			return nil, rpcerr.BadParams(err.Error())
		}
	}
	drv := c.Inst.Driver()
	if params.Key == "" {
		all, err := drv.AllStorage(c.Ctx, params.Scope)
		if err != nil {
			return nil, err
		}
		return all, nil
	}
	value, err := drv.ReadStorage(c.Ctx, params.Scope, params.Key)
	if err != nil {
		return nil, err
	}
	return map[string]any{"value": value}, nil
}

func (d *Dispatcher) handleWriteStorage(c *Call) (any, error) {
	var params storageKeyParams
	if err := json.Unmarshal(c.Args, &params); err != nil {
		return nil, rpcerr.BadParams(err.Error())
	}
	if params.Key == "" {
		return nil, rpcerr.BadParams("key is required")
	}
	if err := c.Inst.Driver().WriteStorage(c.Ctx, params.Scope, params.Key, params.Value); err != nil {
		return nil, err
	}
	return map[string]any{"written": params.Key}, nil
}
