package pool

import (
	"context"
	"time"

	"github.com/corvidae-labs/chromefleet/internal/instance"
)

// healthLoop evicts instances past their TTL or that fail a health probe,
// then tops the pool back up to min_instances.
func (p *Pool) healthLoop() {
	defer p.wg.Done()
	interval := p.cfg.HealthCheckInterval
	if interval <= 0 {
		interval = time.Minute
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-p.stopCh:
			return
		case <-ticker.C:
			p.runHealthPass()
		}
	}
}

func (p *Pool) runHealthPass() {
	p.mu.Lock()
	snapshot := make([]*instance.Instance, 0, len(p.all))
	for _, inst := range p.all {
		snapshot = append(snapshot, inst)
	}
	p.mu.Unlock()

	ctx := context.Background()
	var evicted []*instance.Instance
	for _, inst := range snapshot {
		stale := p.cfg.InstanceTTL > 0 && time.Since(inst.CreatedAt()) > p.cfg.InstanceTTL
		if stale || !inst.IsHealthy(ctx) {
			if p.evictIfPresent(inst) {
				evicted = append(evicted, inst)
			}
		}
	}

	for _, inst := range evicted {
		inst.Close(ctx)
		p.log.Debug().Str("instance_id", inst.ID).Msg("pool health loop evicted instance")
	}
	if len(evicted) > 0 {
		p.signalAllWaiters()
	}

	p.topUpToMin(ctx)
}

func (p *Pool) topUpToMin(ctx context.Context) {
	for {
		p.mu.Lock()
		need := len(p.all) < p.cfg.MinInstances
		p.mu.Unlock()
		if !need {
			return
		}
		inst, err := p.spawn(ctx, p.defaultOpts)
		if err != nil {
			p.log.Warn().Err(err).Msg("pool health loop: top-up to min_instances failed")
			return
		}
		p.mu.Lock()
		p.available = append(p.available, inst)
		p.mu.Unlock()
		p.signalOneWaiter()
	}
}

// warmupLoop keeps `available` stocked to warm_instances while the pool
// has room under max_instances.
func (p *Pool) warmupLoop() {
	defer p.wg.Done()
	ticker := time.NewTicker(10 * time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-p.stopCh:
			return
		case <-ticker.C:
			p.runWarmupPass()
		}
	}
}

func (p *Pool) runWarmupPass() {
	ctx := context.Background()
	for {
		p.mu.Lock()
		room := len(p.available) < p.cfg.WarmInstances && len(p.all) < p.cfg.MaxInstances
		p.mu.Unlock()
		if !room {
			return
		}
		inst, err := p.spawn(ctx, p.defaultOpts)
		if err != nil {
			p.log.Warn().Err(err).Msg("pool warmup loop: instance creation failed")
			return
		}
		p.mu.Lock()
		p.available = append(p.available, inst)
		p.mu.Unlock()
		p.signalOneWaiter()
	}
}

// signalAllWaiters wakes every current waiter after a mass eviction so
// they re-scan rather than waiting out their full poll interval.
func (p *Pool) signalAllWaiters() {
	p.mu.Lock()
	waiters := p.waiters
	p.waiters = nil
	p.mu.Unlock()
	for _, ch := range waiters {
		close(ch)
	}
}
