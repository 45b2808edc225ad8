// Package server builds the shared dependency graph both chromefleet
// entrypoints (the WebSocket daemon and the stdio binary) wire up: the
// instance pool, the profile and session stores, the tool dispatcher, and
// the protocol handler sitting on top of them.
package server

import (
	"context"
	"fmt"

	"github.com/rs/zerolog"

	"github.com/corvidae-labs/chromefleet/internal/config"
	"github.com/corvidae-labs/chromefleet/internal/dispatch"
	"github.com/corvidae-labs/chromefleet/internal/instance"
	"github.com/corvidae-labs/chromefleet/internal/middleware"
	"github.com/corvidae-labs/chromefleet/internal/pool"
	"github.com/corvidae-labs/chromefleet/internal/profile"
	"github.com/corvidae-labs/chromefleet/internal/protocol"
	"github.com/corvidae-labs/chromefleet/internal/session"
	"github.com/corvidae-labs/chromefleet/pkg/version"
)

// Deps is the fully wired dependency graph one chromefleet process owns.
type Deps struct {
	Config     *config.Config
	Pool       *pool.Pool
	Profiles   *profile.Store
	Sessions   *session.Store
	Dispatcher *dispatch.Dispatcher
	Handler    *protocol.Handler
}

// Build constructs the pool, the two on-disk stores, the dispatcher, and a
// protocol.Handler running the fixed [Authentication, RateLimit] chain.
func Build(ctx context.Context, cfg *config.Config, log zerolog.Logger) (*Deps, error) {
	profiles, err := profile.Open(cfg.Store.ProfilesRoot, log)
	if err != nil {
		return nil, fmt.Errorf("open profile store: %w", err)
	}

	sessions, err := session.Open(cfg.Store.SessionsRoot, log)
	if err != nil {
		return nil, fmt.Errorf("open session store: %w", err)
	}

	defaultOpts := instance.Options{
		Headless:    cfg.Browser.Headless,
		AntiDetect:  cfg.Browser.AntiDetect,
		BrowserPath: cfg.Browser.BrowserPath,
		ProxyURL:    cfg.Browser.ProxyURL,
	}

	p, err := pool.New(ctx, pool.Config{
		MinInstances:        cfg.Pool.MinInstances,
		MaxInstances:        cfg.Pool.MaxInstances,
		WarmInstances:       cfg.Pool.WarmInstances,
		InstanceTTL:         cfg.Pool.InstanceTTL,
		HealthCheckInterval: cfg.Pool.HealthCheckInterval,
		AcquireTimeout:      cfg.Pool.AcquireTimeout,
	}, defaultOpts, log)
	if err != nil {
		return nil, fmt.Errorf("start instance pool: %w", err)
	}

	d := dispatch.New(p, profiles, sessions, log)

	chain := []protocol.MiddlewareFunc{
		middleware.Authentication(cfg.Auth),
		middleware.RateLimit(cfg.RateLimit),
	}
	h := protocol.New(d, "chromefleet", version.Full(), log, chain...)

	return &Deps{
		Config:     cfg,
		Pool:       p,
		Profiles:   profiles,
		Sessions:   sessions,
		Dispatcher: d,
		Handler:    h,
	}, nil
}

// Close tears the pool down. The stores have no background resources beyond
// their optional file watcher, which callers stop separately if they started one.
func (d *Deps) Close(ctx context.Context) error {
	return d.Pool.Close(ctx)
}
