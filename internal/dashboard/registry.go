package dashboard

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/scanper/liff-dashboard/internal/metrics"
)

// Registry maps browser session ids to their mounted App.
type Registry struct {
	ttl    time.Duration
	logger zerolog.Logger

	mu   sync.Mutex
	apps map[string]*App
}

func NewRegistry(ttl time.Duration, logger zerolog.Logger) *Registry {
	return &Registry{
		ttl:    ttl,
		logger: logger.With().Str("service", "DashboardRegistry").Logger(),
		apps:   make(map[string]*App),
	}
}

// Replace installs app for its session, closing the App it replaces. A page
// load always mounts a new App, so nothing from the old one survives except
// an unconsumed banner.
func (r *Registry) Replace(app *App) {
	r.mu.Lock()
	prev := r.apps[app.ID()]
	r.apps[app.ID()] = app
	n := len(r.apps)
	r.mu.Unlock()

	metrics.ActiveDashboards.Set(float64(n))
	if prev != nil && prev != app {
		app.inheritBanner(prev)
		prev.Close()
	}
}

// Get returns the mounted App and marks it as recently used.
func (r *Registry) Get(sessionID string) (*App, bool) {
	r.mu.Lock()
	app, ok := r.apps[sessionID]
	r.mu.Unlock()
	if ok {
		app.touch()
	}
	return app, ok
}

func (r *Registry) Remove(sessionID string) {
	r.mu.Lock()
	app, ok := r.apps[sessionID]
	delete(r.apps, sessionID)
	n := len(r.apps)
	r.mu.Unlock()

	metrics.ActiveDashboards.Set(float64(n))
	if ok {
		app.Close()
	}
}

func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.apps)
}

// Sweep closes Apps idle for longer than the TTL and returns how many. Each
// App is measured on its own clock, the one that stamped its last use.
func (r *Registry) Sweep() int {
	var stale []*App

	r.mu.Lock()
	for id, app := range r.apps {
		if app.idleFor() > r.ttl {
			stale = append(stale, app)
			delete(r.apps, id)
		}
	}
	n := len(r.apps)
	r.mu.Unlock()

	metrics.ActiveDashboards.Set(float64(n))
	for _, app := range stale {
		app.Close()
	}
	return len(stale)
}

// Run sweeps every interval until ctx is done, then closes every App.
func (r *Registry) Run(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			r.closeAll()
			return
		case <-ticker.C:
			if n := r.Sweep(); n > 0 {
				r.logger.Debug().Int("evicted", n).Msg("Evicted idle dashboards")
			}
		}
	}
}

func (r *Registry) closeAll() {
	r.mu.Lock()
	apps := r.apps
	r.apps = make(map[string]*App)
	r.mu.Unlock()

	metrics.ActiveDashboards.Set(0)
	for _, app := range apps {
		app.Close()
	}
}
