// Package dispatch implements the Tool Dispatcher (C6) per spec.md §4.6: a
// registry of named tools plus the routing rule that resolves which browser
// instance a non-lifecycle call targets.
package dispatch

import (
	"context"
	"encoding/json"
	"sort"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/corvidae-labs/chromefleet/internal/instance"
	"github.com/corvidae-labs/chromefleet/internal/metrics"
	"github.com/corvidae-labs/chromefleet/internal/pool"
	"github.com/corvidae-labs/chromefleet/internal/profile"
	"github.com/corvidae-labs/chromefleet/internal/ratelimit"
	"github.com/corvidae-labs/chromefleet/internal/rpcerr"
	"github.com/corvidae-labs/chromefleet/internal/session"
)

// lifecycleMethods are the tool names spec.md §4.6 says never need an
// instance resolved before the handler runs.
var lifecycleMethods = map[string]bool{
	"browser_launch":     true,
	"browser_terminate":  true,
	"browser_list":       true,
	"browser_get_active": true,
	"session_save":       true,
	"session_load":       true,
	"session_list":       true,
	"session_delete":     true,
	"profile_create":     true,
	"profile_list":       true,
	"profile_delete":     true,
}

// Call is the per-invocation context a tool handler receives.
type Call struct {
	Ctx    context.Context
	D      *Dispatcher
	Client *ClientSession
	Inst   *instance.Instance // nil for lifecycle/profile/session tools
	Args   json.RawMessage
}

// HandlerFunc implements one tool. It returns a JSON-serializable result or
// a *rpcerr.Error (or any error, normalized at the protocol boundary).
type HandlerFunc func(c *Call) (any, error)

// ToolDef is one entry in the Tool Registry: spec.md §3's
// {description, input-schema, category, handler} mapping. InputSchema is
// a JSON Schema document describing the tool's params, surfaced verbatim
// by tools/list.
type ToolDef struct {
	Name        string
	Category    string
	Description string
	InputSchema map[string]any
	Handler     HandlerFunc
}

// ClientSession is the per-connection state spec.md §4.6 calls "the
// dispatcher's active id": which instance the most recent lifecycle call on
// this connection adopted, plus the launch options a pending
// security/property configuration call should apply to the next launch.
// One transport connection owns exactly one ClientSession for its lifetime.
type ClientSession struct {
	mu             sync.Mutex
	activeID       string
	pendingOptions *instance.Options
	implicit       map[string]bool // instance ids acquired implicitly this call, auto-released at call end
}

// NewClientSession constructs empty per-connection dispatch state.
func NewClientSession() *ClientSession {
	return &ClientSession{implicit: map[string]bool{}}
}

func (c *ClientSession) active() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.activeID
}

func (c *ClientSession) setActive(id string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.activeID = id
}

func (c *ClientSession) clearActiveIfMatches(id string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.activeID == id {
		c.activeID = ""
	}
}

// PendingOptions returns the launch-option overrides queued by a prior
// configuration call, if any.
func (c *ClientSession) PendingOptions() *instance.Options {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.pendingOptions
}

// SetPendingOptions queues launch-option overrides for the next browser_launch
// on this connection (consumed, not repeated, by the next launch call).
func (c *ClientSession) SetPendingOptions(opts *instance.Options) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.pendingOptions = opts
}

func (c *ClientSession) consumePendingOptions() *instance.Options {
	c.mu.Lock()
	defer c.mu.Unlock()
	opts := c.pendingOptions
	c.pendingOptions = nil
	return opts
}

// Dispatcher owns the tool registry, the pool, and the store handles every
// tool handler needs. One Dispatcher serves every connection; per-connection
// state lives in ClientSession.
type Dispatcher struct {
	log      zerolog.Logger
	pool     *pool.Pool
	profiles *profile.Store
	sessions *session.Store
	tools    map[string]ToolDef

	// standalone tracks instances launched with use_pool=false: these never
	// enter the pool's collections and are never implicitly released or
	// auto-acquired, per spec.md §4.6's release policy.
	standaloneMu sync.Mutex
	standalone   map[string]*instance.Instance
}

// New constructs a Dispatcher and registers every built-in tool category.
func New(p *pool.Pool, profiles *profile.Store, sessions *session.Store, log zerolog.Logger) *Dispatcher {
	d := &Dispatcher{
		log: log, pool: p, profiles: profiles, sessions: sessions,
		tools:      map[string]ToolDef{},
		standalone: map[string]*instance.Instance{},
	}
	d.registerLifecycleTools()
	d.registerNavigationTools()
	d.registerInputTools()
	d.registerContentTools()
	d.registerStorageTools()
	d.registerTabTools()
	d.registerLoggingTools()
	d.registerProfileTools()
	d.registerSessionTools()
	return d
}

// register adds one tool definition to the registry. Tools are registered
// once at construction and the registry is immutable thereafter (spec.md §3).
func (d *Dispatcher) register(t ToolDef) {
	d.tools[t.Name] = t
}

// ToolDefs returns every registered tool sorted by name, for tools/list.
func (d *Dispatcher) ToolDefs() []ToolDef {
	out := make([]ToolDef, 0, len(d.tools))
	for _, t := range d.tools {
		out = append(out, t)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// Pool exposes the underlying pool for components that need direct access
// (the health-check HTTP surface, metrics).
func (d *Dispatcher) Pool() *pool.Pool { return d.pool }

// Profiles exposes the profile store for the health/metrics surfaces.
func (d *Dispatcher) Profiles() *profile.Store { return d.profiles }

// Sessions exposes the session store for the health/metrics surfaces.
func (d *Dispatcher) Sessions() *session.Store { return d.sessions }

// callParams is the subset of every tool's params dispatch itself reads to
// resolve routing: only instance_id is ever inspected generically.
type callParams struct {
	InstanceID string `json:"instance_id"`
}

// Dispatch routes one tool call: resolves the target instance per spec.md
// §4.6's method-routing rule, invokes the registered handler, and applies
// the post-call release policy.
func (d *Dispatcher) Dispatch(ctx context.Context, client *ClientSession, tool string, args json.RawMessage) (any, error) {
	start := time.Now()
	result, err := d.dispatch(ctx, client, tool, args)
	metrics.RecordToolCall(tool, outcomeLabel(err), time.Since(start))
	return result, err
}

func outcomeLabel(err error) string {
	if err != nil {
		return "error"
	}
	return "ok"
}

func (d *Dispatcher) dispatch(ctx context.Context, client *ClientSession, tool string, args json.RawMessage) (any, error) {
	def, ok := d.tools[tool]
	if !ok {
		return nil, rpcerr.MethodNotFound(tool)
	}

	if lifecycleMethods[tool] {
		return def.Handler(&Call{Ctx: ctx, D: d, Client: client, Args: args})
	}

	inst, acquiredImplicitly, err := d.resolveInstance(ctx, client, args)
	if err != nil {
		return nil, err
	}
	if err := inst.RequireReady(); err != nil {
		return nil, err
	}

	result, err := def.Handler(&Call{Ctx: ctx, D: d, Client: client, Inst: inst, Args: args})
	if err == nil {
		inst.Touch()
	}

	if acquiredImplicitly {
		d.pool.Release(context.Background(), inst)
	}
	return result, err
}

// resolveInstance implements spec.md §4.6's target-instance rule:
// arguments.instance_id if present, else the connection's active id, else
// acquire from the pool and adopt as active. The third path's instance is
// released back to the pool at the end of this call; the first two are not.
func (d *Dispatcher) resolveInstance(ctx context.Context, client *ClientSession, args json.RawMessage) (*instance.Instance, bool, error) {
	var params callParams
	if len(args) > 0 {
		_ = json.Unmarshal(args, &params)
	}

	if params.InstanceID != "" {
		if inst, ok := d.lookupAny(params.InstanceID); ok {
			return inst, false, nil
		}
		return nil, false, rpcerr.NotFound(params.InstanceID)
	}

	if id := client.active(); id != "" {
		if inst, ok := d.lookupAny(id); ok {
			return inst, false, nil
		}
		client.clearActiveIfMatches(id)
	}

	inst, err := d.pool.Acquire(ctx, nil)
	if err != nil {
		return nil, false, err
	}
	client.setActive(inst.ID)
	return inst, true, nil
}

// lookupAny resolves an instance id against both the pool and the
// standalone (use_pool=false) set.
func (d *Dispatcher) lookupAny(id string) (*instance.Instance, bool) {
	if inst, ok := d.pool.Lookup(id); ok {
		return inst, true
	}
	d.standaloneMu.Lock()
	inst, ok := d.standalone[id]
	d.standaloneMu.Unlock()
	return inst, ok
}

// detectBlockAndRecord wires internal/ratelimit's block detector and
// internal/instance's domain-stats cache into navigation results, the
// supplemented feature SPEC_FULL.md §6.2/§6.3 describes.
func detectBlockAndRecord(inst *instance.Instance, host string, statusCode int, body string) *ratelimit.Info {
	info := ratelimit.Detect(statusCode, body)
	inst.RecordNavigation(host, info.Detected, statusCode >= 400)
	if !info.Detected {
		return nil
	}
	metrics.RecordBlock(string(info.Category))
	return &info
}
