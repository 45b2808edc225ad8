package dispatch

import (
	"encoding/json"

	"github.com/corvidae-labs/chromefleet/internal/rpcerr"
)

type profileCreateParams struct {
	Name        string `json:"name"`
	Description string `json:"description"`
}

type profileNameParams struct {
	Name string `json:"name"`
}

func (d *Dispatcher) registerProfileTools() {
	d.register(ToolDef{
		Name: "profile_create", Category: "profile",
		Description: "Create a new durable browser profile directory.",
		Handler:     d.handleProfileCreate,
	})
	d.register(ToolDef{
		Name: "profile_list", Category: "profile",
		Description: "List every known profile.",
		Handler: func(c *Call) (any, error) {
			return c.D.profiles.List(), nil
		},
	})
	d.register(ToolDef{
		Name: "profile_delete", Category: "profile",
		Description: "Delete a profile directory and its metadata entry.",
		Handler:     d.handleProfileDelete,
	})
}

func (d *Dispatcher) handleProfileCreate(c *Call) (any, error) {
	var params profileCreateParams
	if err := json.Unmarshal(c.Args, &params); err != nil {
		return nil, rpcerr.BadParams(err.Error())
	}
	if params.Name == "" {
		return nil, rpcerr.BadParams("name is required")
	}
	path, err := c.D.profiles.Create(params.Name, params.Description)
	if err != nil {
		return nil, err
	}
	return map[string]any{"name": params.Name, "path": path}, nil
}

func (d *Dispatcher) handleProfileDelete(c *Call) (any, error) {
	var params profileNameParams
	if err := json.Unmarshal(c.Args, &params); err != nil {
		return nil, rpcerr.BadParams(err.Error())
	}
	if params.Name == "" {
		return nil, rpcerr.BadParams("name is required")
	}
	if err := c.D.profiles.Delete(params.Name); err != nil {
		return nil, err
	}
	return map[string]any{"deleted": params.Name}, nil
}
