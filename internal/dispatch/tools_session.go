package dispatch

import (
	"encoding/json"

	"github.com/go-rod/rod/lib/proto"

	"github.com/corvidae-labs/chromefleet/internal/driver"
	"github.com/corvidae-labs/chromefleet/internal/rpcerr"
	"github.com/corvidae-labs/chromefleet/internal/session"
)

type sessionSaveParams struct {
	InstanceID string `json:"instance_id"`
}

type sessionIDParams struct {
	ID string `json:"id"`
}

func (d *Dispatcher) registerSessionTools() {
	d.register(ToolDef{
		Name: "session_save", Category: "session",
		Description: "Snapshot an instance's cookies, storage, URL, title, and window size to durable storage.",
		Handler:     d.handleSessionSave,
	})
	d.register(ToolDef{
		Name: "session_load", Category: "session",
		Description: "Restore a saved snapshot onto an instance.",
		Handler:     d.handleSessionLoad,
	})
	d.register(ToolDef{
		Name: "session_list", Category: "session",
		Description: "List every saved session.",
		Handler: func(c *Call) (any, error) {
			return c.D.sessions.List(), nil
		},
	})
	d.register(ToolDef{
		Name: "session_delete", Category: "session",
		Description: "Delete a saved session.",
		Handler:     d.handleSessionDelete,
	})
}

// sessionSaveParams.InstanceID is resolved the same way Dispatch resolves
// non-lifecycle calls (explicit id, then this connection's active id), since
// session_save is itself a lifecycle method and never goes through
// resolveInstance.
func (d *Dispatcher) handleSessionSave(c *Call) (any, error) {
	var params sessionSaveParams
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
	inst, ok := c.D.lookupAny(id)
	if !ok {
		return nil, rpcerr.NotFound(id)
	}

	drv := inst.Driver()
	rawCookies, err := drv.Cookies(c.Ctx)
	if err != nil {
		return nil, err
	}
	cookies := make([]session.Cookie, 0, len(rawCookies))
	for _, rc := range rawCookies {
		cookies = append(cookies, session.Cookie{
			Name:     rc.Name,
			Value:    rc.Value,
			Domain:   rc.Domain,
			Path:     rc.Path,
			Expires:  float64(rc.Expires),
			HTTPOnly: rc.HTTPOnly,
			Secure:   rc.Secure,
			SameSite: string(rc.SameSite),
		})
	}

	localStorage, err := drv.AllStorage(c.Ctx, "local")
	if err != nil {
		return nil, err
	}
	sessionStorage, err := drv.AllStorage(c.Ctx, "session")
	if err != nil {
		return nil, err
	}
	url, err := drv.URL(c.Ctx)
	if err != nil {
		return nil, err
	}
	title, _ := drv.Title(c.Ctx)
	width, height, err := drv.WindowSize(c.Ctx)
	if err != nil {
		return nil, err
	}

	snap := session.Snapshot{
		Profile:        inst.LaunchOptions().Profile,
		URL:            url,
		Title:          title,
		Cookies:        cookies,
		LocalStorage:   localStorage,
		SessionStorage: sessionStorage,
		WindowSize:     [2]int{width, height},
	}

	savedID, err := c.D.sessions.Save(snap)
	if err != nil {
		return nil, err
	}
	return map[string]any{"id": savedID}, nil
}

func (d *Dispatcher) handleSessionLoad(c *Call) (any, error) {
	var params struct {
		ID         string `json:"id"`
		InstanceID string `json:"instance_id"`
	}
	if err := json.Unmarshal(c.Args, &params); err != nil {
		return nil, rpcerr.BadParams(err.Error())
	}
	if params.ID == "" {
		return nil, rpcerr.BadParams("id is required")
	}
	instID := params.InstanceID
	if instID == "" {
		instID = c.Client.active()
	}
	if instID == "" {
		return nil, rpcerr.BadParams("instance_id required: no active instance on this connection")
	}
	inst, ok := c.D.lookupAny(instID)
	if !ok {
		return nil, rpcerr.NotFound(instID)
	}

	snap, err := c.D.sessions.Load(params.ID)
	if err != nil {
		return nil, err
	}

	drv := inst.Driver()
	if snap.URL != "" {
		if err := drv.Navigate(c.Ctx, snap.URL, driver.WaitCondition{Type: driver.WaitLoad}); err != nil {
			return nil, err
		}
	}

	cookieParams := make([]*proto.NetworkCookieParam, 0, len(snap.Cookies))
	for _, ck := range snap.Cookies {
		cookieParams = append(cookieParams, &proto.NetworkCookieParam{
			Name:     ck.Name,
			Value:    ck.Value,
			Domain:   ck.Domain,
			Path:     ck.Path,
			Expires:  proto.TimeSinceEpoch(ck.Expires),
			HTTPOnly: ck.HTTPOnly,
			Secure:   ck.Secure,
			SameSite: proto.NetworkCookieSameSite(ck.SameSite),
		})
	}
	if len(cookieParams) > 0 {
		if err := drv.SetCookies(c.Ctx, cookieParams); err != nil {
			return nil, err
		}
	}

	for k, v := range snap.LocalStorage {
		if err := drv.WriteStorage(c.Ctx, "local", k, v); err != nil {
			return nil, err
		}
	}
	for k, v := range snap.SessionStorage {
		if err := drv.WriteStorage(c.Ctx, "session", k, v); err != nil {
			return nil, err
		}
	}
	if snap.WindowSize[0] > 0 && snap.WindowSize[1] > 0 {
		if err := drv.SetWindowSize(c.Ctx, snap.WindowSize[0], snap.WindowSize[1]); err != nil {
			return nil, err
		}
	}

	return map[string]any{"loaded": params.ID, "instance_id": instID}, nil
}

func (d *Dispatcher) handleSessionDelete(c *Call) (any, error) {
	var params sessionIDParams
	if err := json.Unmarshal(c.Args, &params); err != nil {
		return nil, rpcerr.BadParams(err.Error())
	}
	if params.ID == "" {
		return nil, rpcerr.BadParams("id is required")
	}
	if err := c.D.sessions.Delete(params.ID); err != nil {
		return nil, err
	}
	return map[string]any{"deleted": params.ID}, nil
}
