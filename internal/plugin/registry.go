// Package plugin hosts the Registry that drives every pkg/plugin.Plugin
// module's lifecycle: registration, ordered init/start, reverse-order stop,
// and route aggregation for the HTTP server to mount.
package plugin

import (
	"context"
	"fmt"
	"sync"

	"github.com/spf13/viper"
	"go.uber.org/zap"

	"github.com/draymonix/pathlens/pkg/plugin"
)

// Registry manages the lifecycle of all registered plugins.
type Registry struct {
	mu      sync.RWMutex
	plugins map[string]plugin.Plugin
	order   []string
	logger  *zap.Logger
	bus     plugin.EventBus
	unsubs  []func()
}

// NewRegistry builds a Registry. bus may be nil; plugins implementing
// plugin.EventSubscriber are then simply never auto-subscribed.
func NewRegistry(logger *zap.Logger, bus plugin.EventBus) *Registry {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Registry{
		plugins: make(map[string]plugin.Plugin),
		logger:  logger,
		bus:     bus,
	}
}

// Register adds a plugin to the registry.
func (r *Registry) Register(p plugin.Plugin) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	name := p.Name()
	if _, exists := r.plugins[name]; exists {
		return fmt.Errorf("plugin %q already registered", name)
	}

	r.plugins[name] = p
	r.order = append(r.order, name)
	r.logger.Info("plugin registered", zap.String("name", name), zap.String("version", p.Version()))
	return nil
}

// InitAll initializes all registered plugins with their configuration,
// skipping any plugin whose "plugins.<name>.enabled" key is explicitly false.
func (r *Registry) InitAll(root *viper.Viper) error {
	r.mu.RLock()
	defer r.mu.RUnlock()

	for _, name := range r.order {
		p := r.plugins[name]

		if root != nil && root.IsSet("plugins."+name+".enabled") && !root.GetBool("plugins."+name+".enabled") {
			r.logger.Info("plugin disabled, skipping", zap.String("name", name))
			continue
		}

		sub := viper.New()
		if root != nil {
			if s := root.Sub("plugins." + name); s != nil {
				sub = s
			}
		}

		r.logger.Info("initializing plugin", zap.String("name", name))
		if err := p.Init(sub, r.logger.Named(name)); err != nil {
			return fmt.Errorf("failed to initialize plugin %q: %w", name, err)
		}

		if v, ok := p.(plugin.Validator); ok {
			if err := v.ValidateConfig(); err != nil {
				return fmt.Errorf("plugin %q failed config validation: %w", name, err)
			}
		}

		if s, ok := p.(plugin.EventSubscriber); ok && r.bus != nil {
			for _, sub := range s.Subscriptions() {
				r.unsubs = append(r.unsubs, r.bus.Subscribe(sub.Topic, sub.Handler))
			}
		}
	}
	return nil
}

// AggregateHealth reports whether every plugin implementing
// plugin.HealthChecker considers itself healthy. Plugins that don't
// implement it are assumed healthy (they have no notion of degraded state).
func (r *Registry) AggregateHealth(ctx context.Context) map[string]plugin.HealthStatus {
	r.mu.RLock()
	defer r.mu.RUnlock()

	statuses := make(map[string]plugin.HealthStatus, len(r.order))
	for _, name := range r.order {
		p := r.plugins[name]
		if hc, ok := p.(plugin.HealthChecker); ok {
			statuses[name] = hc.Health(ctx)
		}
	}
	return statuses
}

// StartAll starts all initialized plugins in registration order.
func (r *Registry) StartAll(ctx context.Context) error {
	r.mu.RLock()
	defer r.mu.RUnlock()

	for _, name := range r.order {
		p := r.plugins[name]
		r.logger.Info("starting plugin", zap.String("name", name))
		if err := p.Start(ctx); err != nil {
			return fmt.Errorf("failed to start plugin %q: %w", name, err)
		}
	}
	return nil
}

// StopAll stops all plugins in reverse registration order.
func (r *Registry) StopAll() {
	r.mu.RLock()
	defer r.mu.RUnlock()

	for _, unsub := range r.unsubs {
		unsub()
	}

	for i := len(r.order) - 1; i >= 0; i-- {
		name := r.order[i]
		p := r.plugins[name]
		r.logger.Info("stopping plugin", zap.String("name", name))
		if err := p.Stop(); err != nil {
			r.logger.Error("failed to stop plugin", zap.String("name", name), zap.Error(err))
		}
	}
}

// Get returns a plugin by name.
func (r *Registry) Get(name string) (plugin.Plugin, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	p, ok := r.plugins[name]
	return p, ok
}

// All returns all registered plugins in registration order.
func (r *Registry) All() []plugin.Plugin {
	r.mu.RLock()
	defer r.mu.RUnlock()

	result := make([]plugin.Plugin, 0, len(r.order))
	for _, name := range r.order {
		result = append(result, r.plugins[name])
	}
	return result
}

// AllRoutes returns every plugin's routes, keyed by plugin name.
func (r *Registry) AllRoutes() map[string][]plugin.Route {
	r.mu.RLock()
	defer r.mu.RUnlock()

	routes := make(map[string][]plugin.Route)
	for _, name := range r.order {
		p := r.plugins[name]
		if pr := p.Routes(); len(pr) > 0 {
			routes[name] = pr
		}
	}
	return routes
}
