// Package pool implements the Instance Pool (C5) per spec.md §4.5 — the
// hardest subsystem. It owns three collections (available, in_use, all)
// behind a single mutex, a FIFO waiter queue standing in for the
// condition variable spec.md describes, and two background loops (health,
// warmup).
package pool

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/corvidae-labs/chromefleet/internal/instance"
	"github.com/corvidae-labs/chromefleet/internal/metrics"
	"github.com/corvidae-labs/chromefleet/internal/rpcerr"
)

// Config mirrors internal/config.PoolConfig's fields; kept separate so
// this package doesn't import internal/config (the pool is constructible
// in tests without the config layer).
type Config struct {
	MinInstances        int
	MaxInstances        int
	WarmInstances       int
	InstanceTTL         time.Duration
	HealthCheckInterval time.Duration
	AcquireTimeout      time.Duration
}

// Pool is the C5 instance pool. The zero value is not usable; construct
// with New.
type Pool struct {
	cfg         Config
	defaultOpts instance.Options
	log         zerolog.Logger

	mu        sync.Mutex
	available []*instance.Instance            // FIFO, oldest-first
	inUse     map[string]*instance.Instance
	all       map[string]*instance.Instance
	waiters   []chan struct{}

	stopCh chan struct{}
	wg     sync.WaitGroup
	closed bool
}

// New constructs a pool and pre-warms it to min_instances.
func New(ctx context.Context, cfg Config, defaultOpts instance.Options, log zerolog.Logger) (*Pool, error) {
	if cfg.MaxInstances < 1 {
		cfg.MaxInstances = 1
	}
	if cfg.MinInstances > cfg.MaxInstances {
		cfg.MinInstances = cfg.MaxInstances
	}
	if cfg.WarmInstances > cfg.MaxInstances {
		cfg.WarmInstances = cfg.MaxInstances
	}

	p := &Pool{
		cfg:         cfg,
		defaultOpts: defaultOpts,
		log:         log,
		inUse:       map[string]*instance.Instance{},
		all:         map[string]*instance.Instance{},
		stopCh:      make(chan struct{}),
	}

	for i := 0; i < cfg.MinInstances; i++ {
		inst, err := p.spawn(ctx, defaultOpts)
		if err != nil {
			p.log.Warn().Err(err).Msg("pool warmup: initial instance failed to launch")
			continue
		}
		p.mu.Lock()
		p.available = append(p.available, inst)
		p.mu.Unlock()
	}

	p.wg.Add(2)
	go p.healthLoop()
	go p.warmupLoop()

	return p, nil
}

func (p *Pool) spawn(ctx context.Context, opts instance.Options) (*instance.Instance, error) {
	id := uuid.NewString()
	inst, err := instance.New(ctx, id, opts, p.log)
	if err != nil {
		return nil, err
	}
	p.mu.Lock()
	p.all[id] = inst
	p.mu.Unlock()
	metrics.RecordInstanceLaunched()
	return inst, nil
}

// compatible reports whether an existing instance can serve a request for
// opts: same headless flag, same set of loaded extensions (spec.md §4.5
// "Compatibility" — order-independent, other options may differ).
func compatible(existing, requested instance.Options) bool {
	if existing.Headless != requested.Headless {
		return false
	}
	a := append([]string(nil), existing.Extensions...)
	b := append([]string(nil), requested.Extensions...)
	if len(a) != len(b) {
		return false
	}
	sort.Strings(a)
	sort.Strings(b)
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

// Acquire implements the three-step acquire protocol. opts is nil to
// accept the pool's default launch options.
func (p *Pool) Acquire(ctx context.Context, opts *instance.Options) (*instance.Instance, error) {
	req := p.defaultOpts
	if opts != nil {
		req = *opts
	}

	if _, hasDeadline := ctx.Deadline(); !hasDeadline && p.cfg.AcquireTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, p.cfg.AcquireTimeout)
		defer cancel()
	}

	atHead := false
	for {
		p.mu.Lock()
		if p.closed {
			p.mu.Unlock()
			return nil, rpcerr.New("instance", rpcerr.CodeInternal, "instance pool is closed", rpcerr.ErrPoolClosed)
		}
		p.mu.Unlock()

		if inst, ok := p.tryFromAvailable(ctx, req); ok {
			return inst, nil
		}
		if inst, ok := p.tryCreate(ctx, req); ok {
			return inst, nil
		}

		ch := p.enqueueWaiter(atHead)
		atHead = true

		select {
		case <-ch:
			// signalled by release(); loop back and re-check.
		case <-time.After(100 * time.Millisecond):
			p.removeWaiter(ch)
		case <-ctx.Done():
			p.removeWaiter(ch)
			return nil, rpcerr.AcquireTimeout()
		}
	}
}

// tryFromAvailable implements step 1: scan available outside the lock for
// health, evicting unhealthy candidates and reusing the first compatible
// healthy one.
func (p *Pool) tryFromAvailable(ctx context.Context, req instance.Options) (*instance.Instance, bool) {
	p.mu.Lock()
	snapshot := append([]*instance.Instance(nil), p.available...)
	p.mu.Unlock()

	for _, cand := range snapshot {
		if !cand.IsHealthy(ctx) {
			if p.evictIfPresent(cand) {
				metrics.RecordInstanceCrashed()
				go cand.Close(context.Background())
			}
			continue
		}

		p.mu.Lock()
		idx := indexOf(p.available, cand)
		if idx < 0 {
			p.mu.Unlock()
			continue // another acquirer already took it
		}
		if !compatible(cand.LaunchOptions(), req) {
			p.mu.Unlock()
			continue // leave it in place for a better-matching acquirer
		}
		p.available = append(p.available[:idx], p.available[idx+1:]...)
		p.inUse[cand.ID] = cand
		p.mu.Unlock()

		cand.MarkBusy()
		return cand, true
	}
	return nil, false
}

// tryCreate implements step 2: create a new instance if the pool has
// capacity, launching outside the lock.
func (p *Pool) tryCreate(ctx context.Context, req instance.Options) (*instance.Instance, bool) {
	p.mu.Lock()
	if len(p.all) >= p.cfg.MaxInstances {
		p.mu.Unlock()
		return nil, false
	}
	p.mu.Unlock()

	inst, err := p.spawn(ctx, req)
	if err != nil {
		p.log.Warn().Err(err).Msg("pool: on-demand instance creation failed")
		return nil, false
	}

	inst.MarkBusy()
	p.mu.Lock()
	p.inUse[inst.ID] = inst
	p.mu.Unlock()
	return inst, true
}

func indexOf(list []*instance.Instance, target *instance.Instance) int {
	for i, inst := range list {
		if inst == target {
			return i
		}
	}
	return -1
}

// evictIfPresent removes inst from available/inUse/all if still present,
// reporting whether it actually removed anything (so callers don't double-close).
func (p *Pool) evictIfPresent(inst *instance.Instance) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	_, inAll := p.all[inst.ID]
	if !inAll {
		return false
	}
	if idx := indexOf(p.available, inst); idx >= 0 {
		p.available = append(p.available[:idx], p.available[idx+1:]...)
	}
	delete(p.inUse, inst.ID)
	delete(p.all, inst.ID)
	return true
}

// Release implements the release protocol: reset-on-release for a healthy
// instance, eviction for an unhealthy one, signalling exactly one waiter
// either way a slot frees up.
func (p *Pool) Release(ctx context.Context, inst *instance.Instance) {
	p.mu.Lock()
	delete(p.inUse, inst.ID)
	p.mu.Unlock()

	if !inst.IsHealthy(ctx) {
		p.evictIfPresent(inst)
		metrics.RecordInstanceCrashed()
		inst.Close(ctx)
		p.signalOneWaiter()
		return
	}

	resetOnRelease(ctx, inst)
	inst.MarkReady()

	p.mu.Lock()
	p.available = append(p.available, inst)
	p.mu.Unlock()

	p.signalOneWaiter()
}

// resetOnRelease navigates to about:blank, clears cookies, and closes
// every window handle but the first, so the next acquirer sees a clean slate.
func resetOnRelease(ctx context.Context, inst *instance.Instance) {
	drv := inst.Driver()
	if drv == nil {
		return
	}
	_ = drv.NavigateBlank(ctx)
	_ = drv.ClearCookies(ctx)

	// "the first handle" is the instance's current tab at release time;
	// every other tab opened during the call is closed.
	keep := drv.CurrentHandle()
	for _, h := range drv.WindowHandles() {
		if h != keep {
			_ = drv.CloseWindow(ctx, h)
		}
	}
	_ = drv.SwitchTo(keep)
}

func (p *Pool) enqueueWaiter(head bool) chan struct{} {
	ch := make(chan struct{})
	p.mu.Lock()
	if head {
		p.waiters = append([]chan struct{}{ch}, p.waiters...)
	} else {
		p.waiters = append(p.waiters, ch)
	}
	p.mu.Unlock()
	return ch
}

func (p *Pool) removeWaiter(target chan struct{}) {
	p.mu.Lock()
	defer p.mu.Unlock()
	for i, ch := range p.waiters {
		if ch == target {
			p.waiters = append(p.waiters[:i], p.waiters[i+1:]...)
			return
		}
	}
}

func (p *Pool) signalOneWaiter() {
	p.mu.Lock()
	if len(p.waiters) == 0 {
		p.mu.Unlock()
		return
	}
	ch := p.waiters[0]
	p.waiters = p.waiters[1:]
	p.mu.Unlock()
	close(ch)
}

// AllIDs returns the ids of every instance the pool currently owns,
// available or in use.
func (p *Pool) AllIDs() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	ids := make([]string, 0, len(p.all))
	for id := range p.all {
		ids = append(ids, id)
	}
	return ids
}

// Lookup returns the instance with the given id, regardless of whether it
// is currently available or in use, for dispatch's instance_id/active-id
// resolution (spec.md §4.6).
func (p *Pool) Lookup(id string) (*instance.Instance, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	inst, ok := p.all[id]
	return inst, ok
}

// Remove forcibly drops an instance from every collection without closing
// it, used by browser_terminate(return_to_pool=false) after the caller has
// already closed the driver.
func (p *Pool) Remove(inst *instance.Instance) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if idx := indexOf(p.available, inst); idx >= 0 {
		p.available = append(p.available[:idx], p.available[idx+1:]...)
	}
	delete(p.inUse, inst.ID)
	delete(p.all, inst.ID)
}

// Size returns the total instance count.
func (p *Pool) Size() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.all)
}

// Available returns the idle instance count.
func (p *Pool) Available() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.available)
}

// Close cancels both background loops, then quits every instance in
// bounded parallel.
func (p *Pool) Close(ctx context.Context) error {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return nil
	}
	p.closed = true
	waiters := p.waiters
	p.waiters = nil
	p.mu.Unlock()

	for _, ch := range waiters {
		close(ch)
	}

	close(p.stopCh)
	p.wg.Wait()

	p.mu.Lock()
	all := make([]*instance.Instance, 0, len(p.all))
	for _, inst := range p.all {
		all = append(all, inst)
	}
	p.available = nil
	p.inUse = map[string]*instance.Instance{}
	p.all = map[string]*instance.Instance{}
	p.mu.Unlock()

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(4)
	for _, inst := range all {
		inst := inst
		g.Go(func() error {
			return inst.Close(gctx)
		})
	}
	return g.Wait()
}
