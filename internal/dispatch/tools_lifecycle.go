package dispatch

import (
	"encoding/json"

	"github.com/google/uuid"

	"github.com/corvidae-labs/chromefleet/internal/instance"
	"github.com/corvidae-labs/chromefleet/internal/rpcerr"
)

type launchParams struct {
	Headless   *bool  `json:"headless"`
	Profile    string `json:"profile"`
	AntiDetect *bool  `json:"anti_detect"`
	ProxyURL   string `json:"proxy_url"`
	UsePool    *bool  `json:"use_pool"`
}

type terminateParams struct {
	InstanceID   string `json:"instance_id"`
	ReturnToPool bool   `json:"return_to_pool"`
}

func (d *Dispatcher) registerLifecycleTools() {
	d.register(ToolDef{
		Name: "browser_launch", Category: "lifecycle",
		Description: "Launch or acquire a browser instance and adopt it as this connection's active instance.",
		Handler:     d.handleLaunch,
	})
	d.register(ToolDef{
		Name: "browser_terminate", Category: "lifecycle",
		Description: "Terminate or release an instance.",
		Handler:     d.handleTerminate,
	})
	d.register(ToolDef{
		Name: "browser_list", Category: "lifecycle",
		Description: "List every known instance with its composite info.",
		Handler:     d.handleList,
	})
	d.register(ToolDef{
		Name: "browser_get_active", Category: "lifecycle",
		Description: "Return this connection's active instance id, if any.",
		Handler:     d.handleGetActive,
	})
}

func (d *Dispatcher) handleLaunch(c *Call) (any, error) {
	var params launchParams
	if len(c.Args) > 0 {
		if err := json.Unmarshal(c.Args, &params); err != nil {
			return nil, rpcerr.BadParams(err.Error())
		}
	}

	opts := instance.Options{Headless: true, AntiDetect: true}
	if pending := c.Client.consumePendingOptions(); pending != nil {
		opts = *pending
	}
	if params.Headless != nil {
		opts.Headless = *params.Headless
	}
	if params.AntiDetect != nil {
		opts.AntiDetect = *params.AntiDetect
	}
	if params.ProxyURL != "" {
		opts.ProxyURL = params.ProxyURL
	}
	if params.Profile != "" {
		dir, err := c.D.profiles.PathFor(params.Profile)
		if err != nil {
			return nil, err
		}
		opts.Profile = params.Profile
		opts.UserDataDir = dir
	}

	usePool := params.UsePool == nil || *params.UsePool
	if !usePool {
		id := uuid.NewString()
		inst, err := instance.New(c.Ctx, id, opts, c.D.log)
		if err != nil {
			return nil, err
		}
		c.D.standaloneMu.Lock()
		c.D.standalone[id] = inst
		c.D.standaloneMu.Unlock()
		c.Client.setActive(id)
		return inst.Info(), nil
	}

	inst, err := c.D.pool.Acquire(c.Ctx, &opts)
	if err != nil {
		return nil, err
	}
	c.Client.setActive(inst.ID)
	return inst.Info(), nil
}

func (d *Dispatcher) handleTerminate(c *Call) (any, error) {
	var params terminateParams
	if len(c.Args) > 0 {
		if err := json.Unmarshal(c.Args, &params); err != nil {
			return nil, rpcerr.BadParams(err.Error())
		}
	}
	id := params.InstanceID
	if id == "" {
		id = c.Client.active()
	}
	if id == "" {
		return nil, rpcerr.BadParams("instance_id required: no active instance on this connection")
	}

	c.D.standaloneMu.Lock()
	inst, isStandalone := c.D.standalone[id]
	if isStandalone {
		delete(c.D.standalone, id)
	}
	c.D.standaloneMu.Unlock()

	if isStandalone {
		c.Client.clearActiveIfMatches(id)
		return map[string]any{"status": "terminated"}, inst.Close(c.Ctx)
	}

	inst, ok := c.D.pool.Lookup(id)
	if !ok {
		return nil, rpcerr.NotFound(id)
	}
	c.Client.clearActiveIfMatches(id)

	if params.ReturnToPool {
		c.D.pool.Release(c.Ctx, inst)
		return map[string]any{"released": id}, nil
	}

	c.D.pool.Remove(inst)
	if err := inst.Close(c.Ctx); err != nil {
		return nil, err
	}
	return map[string]any{"status": "terminated"}, nil
}

func (d *Dispatcher) handleList(c *Call) (any, error) {
	out := []instance.Info{}
	seen := map[string]bool{}

	for _, id := range c.D.pool.AllIDs() {
		if inst, ok := c.D.pool.Lookup(id); ok {
			out = append(out, inst.Info())
			seen[id] = true
		}
	}

	c.D.standaloneMu.Lock()
	for id, inst := range c.D.standalone {
		if !seen[id] {
			out = append(out, inst.Info())
		}
	}
	c.D.standaloneMu.Unlock()

	return out, nil
}

func (d *Dispatcher) handleGetActive(c *Call) (any, error) {
	id := c.Client.active()
	if id == "" {
		return map[string]any{"active": nil}, nil
	}
	return map[string]any{"active": id}, nil
}
