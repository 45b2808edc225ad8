// Package instance implements the Browser Instance (C4): a composite
// binding one Driver Adapter to a profile, launch options, a process
// handle, an activity clock, and a monitoring cache.
package instance

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"

	"github.com/corvidae-labs/chromefleet/internal/driver"
	"github.com/corvidae-labs/chromefleet/internal/rpcerr"
	"github.com/corvidae-labs/chromefleet/internal/security"
)

// Status is the instance lifecycle state. It advances monotonically
// through Starting -> {Ready <-> Busy} -> {Closed|Crashed}; a Crashed
// instance never returns to Ready.
type Status int32

const (
	Starting Status = iota
	Ready
	Busy
	Crashed
	Closed
)

func (s Status) String() string {
	switch s {
	case Starting:
		return "starting"
	case Ready:
		return "ready"
	case Busy:
		return "busy"
	case Crashed:
		return "crashed"
	case Closed:
		return "closed"
	default:
		return "unknown"
	}
}

// Options configures a new instance at launch time.
type Options struct {
	Headless    bool
	AntiDetect  bool
	BrowserPath string
	ProxyURL    string
	Profile     string // bound profile name, optional
	UserDataDir string
	Extensions  []string
	WindowSize  [2]int
	ExtraArgs   []string
}

// Info is the info() result shape spec.md §4.4 names.
type Info struct {
	ID           string    `json:"id"`
	Status       string    `json:"status"`
	CreatedAt    time.Time `json:"created_at"`
	LastActivity time.Time `json:"last_activity"`
	MemoryBytes  int64     `json:"memory_bytes,omitempty"`
	CPUPercent   float64   `json:"cpu_percent,omitempty"`
	ActiveTabs   int       `json:"active_tabs"`
	Headless     bool      `json:"headless"`
	Profile      string    `json:"profile,omitempty"`
}

// Instance is one pooled browser: a Driver Adapter plus the composite
// state spec.md §4.4 describes. Fields after creation are touched under
// mu except the atomics, which are read in hot paths (pool health scans)
// without locking.
type Instance struct {
	ID      string
	Profile string
	options Options

	log zerolog.Logger

	mu        sync.Mutex
	status    atomic.Int32
	drv       *driver.Driver
	createdAt time.Time
	activity  atomic.Int64 // unix nanos, lock-free last-activity read

	monitor *Monitor
	pid     int
}

// New launches a browser process and returns a Ready instance.
func New(ctx context.Context, id string, opts Options, log zerolog.Logger) (*Instance, error) {
	inst := &Instance{
		ID:        id,
		Profile:   opts.Profile,
		options:   opts,
		log:       log.With().Str("instance_id", id).Logger(),
		createdAt: time.Now(),
		monitor:   newMonitor(),
	}
	inst.status.Store(int32(Starting))
	inst.touch()

	if opts.ProxyURL != "" {
		inst.log.Debug().Str("proxy", security.RedactProxyURL(opts.ProxyURL)).Msg("launching instance with proxy")
	}

	drv, err := driver.Launch(ctx, driver.LaunchOptions{
		Headless:    opts.Headless,
		BrowserPath: opts.BrowserPath,
		ProxyURL:    opts.ProxyURL,
		UserDataDir: opts.UserDataDir,
		Extensions:  opts.Extensions,
		AntiDetect:  opts.AntiDetect,
	}, inst.log)
	if err != nil {
		inst.status.Store(int32(Crashed))
		return nil, err
	}

	inst.mu.Lock()
	inst.drv = drv
	inst.mu.Unlock()
	inst.status.Store(int32(Ready))
	inst.pid = drv.PID()

	return inst, nil
}

// Status returns the current lifecycle status; safe for concurrent callers.
func (i *Instance) Status() Status { return Status(i.status.Load()) }

// MarkBusy/MarkReady/MarkCrashed transition status; callers (the pool) hold
// the exclusive-use invariant that only one goroutine drives an in-use
// instance at a time, so no additional locking is needed around the CAS.
func (i *Instance) MarkBusy() bool   { return i.status.CompareAndSwap(int32(Ready), int32(Busy)) }
func (i *Instance) MarkReady() bool  { return i.status.CompareAndSwap(int32(Busy), int32(Ready)) }
func (i *Instance) MarkCrashed()     { i.status.Store(int32(Crashed)) }
func (i *Instance) MarkClosed()      { i.status.Store(int32(Closed)) }

// touch records activity now; called by every driver-delegating operation.
func (i *Instance) touch() { i.activity.Store(time.Now().UnixNano()) }

// LastActivity returns the last-activity timestamp without locking.
func (i *Instance) LastActivity() time.Time {
	return time.Unix(0, i.activity.Load())
}

// LaunchOptions returns a copy of the options this instance was created
// with, used by the pool's compatibility check on acquire.
func (i *Instance) LaunchOptions() Options { return i.options }

// CreatedAt returns the instance's creation time, used by the pool's
// TTL-based health loop.
func (i *Instance) CreatedAt() time.Time { return i.createdAt }

// Driver returns the underlying driver handle for dispatch to delegate
// operations to; nil if status is not Ready/Busy.
func (i *Instance) Driver() *driver.Driver {
	if s := i.Status(); s != Ready && s != Busy {
		return nil
	}
	i.mu.Lock()
	defer i.mu.Unlock()
	return i.drv
}

// IsHealthy runs a cheap liveness probe against the driver: evaluating a
// trivial script confirms the CDP connection and renderer are both alive.
func (i *Instance) IsHealthy(ctx context.Context) bool {
	if i.Status() == Crashed || i.Status() == Closed {
		return false
	}
	drv := i.Driver()
	if drv == nil {
		return false
	}
	ctx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	if _, err := drv.ExecuteScript(ctx, `1+1`); err != nil {
		return false
	}
	return true
}

// Info reports the composite state spec.md §4.4 names, sourcing memory/cpu
// from the OS-level child process handle when available.
func (i *Instance) Info() Info {
	mem, cpu := readProcessUsage(i.pid)
	drv := i.Driver()
	tabs := 0
	if drv != nil {
		tabs = len(drv.WindowHandles())
	}
	return Info{
		ID:           i.ID,
		Status:       i.Status().String(),
		CreatedAt:    i.createdAt,
		LastActivity: i.LastActivity(),
		MemoryBytes:  mem,
		CPUPercent:   cpu,
		ActiveTabs:   tabs,
		Headless:     i.options.Headless,
		Profile:      i.Profile,
	}
}

// DomainStats exposes the instance's per-domain health cache for info()
// callers that want the extended view (supplemented feature, SPEC_FULL.md §6.3).
func (i *Instance) DomainStats() map[string]DomainStatsSnapshot {
	return i.monitor.snapshotDomains()
}

// Logs returns cached log entries of the given kind ("" for all kinds),
// most recent first.
func (i *Instance) Logs(kind string, limit int) []LogEntry {
	return i.monitor.Snapshot(kind, limit)
}

// RecordLog appends one line to the instance's log cache.
func (i *Instance) RecordLog(kind, message string) {
	i.monitor.Append(kind, message)
}

// RecordNavigation updates the per-domain health counters after a
// navigation to host (supplemented feature, SPEC_FULL.md §6.2/§6.3).
func (i *Instance) RecordNavigation(host string, blocked, failed bool) {
	i.monitor.RecordNavigation(host, blocked, failed)
}

// Touch records activity now; dispatch calls this after every successful
// tool call per spec.md §4.6's handler contract.
func (i *Instance) Touch() { i.touch() }

// Restart force-closes the current driver and relaunches with the same
// options, reusing the same instance id and monitor cache.
func (i *Instance) Restart(ctx context.Context) error {
	i.mu.Lock()
	old := i.drv
	i.mu.Unlock()
	if old != nil {
		_ = old.Quit(ctx)
	}

	drv, err := driver.Launch(ctx, driver.LaunchOptions{
		Headless:    i.options.Headless,
		BrowserPath: i.options.BrowserPath,
		ProxyURL:    i.options.ProxyURL,
		UserDataDir: i.options.UserDataDir,
		Extensions:  i.options.Extensions,
		AntiDetect:  i.options.AntiDetect,
	}, i.log)
	if err != nil {
		i.MarkCrashed()
		return err
	}

	i.mu.Lock()
	i.drv = drv
	i.mu.Unlock()
	i.pid = drv.PID()
	i.status.Store(int32(Ready))
	i.touch()
	return nil
}

// Close terminates the underlying browser process.
func (i *Instance) Close(ctx context.Context) error {
	i.mu.Lock()
	drv := i.drv
	i.mu.Unlock()
	i.status.Store(int32(Closed))
	if drv == nil {
		return nil
	}
	return drv.Quit(ctx)
}

// RequireReady returns rpcerr.Crashed if the instance can no longer serve
// calls, used by dispatch before delegating an operation.
func (i *Instance) RequireReady() error {
	switch i.Status() {
	case Ready, Busy:
		return nil
	case Crashed:
		return rpcerr.Crashed(i.ID)
	default:
		return rpcerr.NotFound(i.ID)
	}
}
