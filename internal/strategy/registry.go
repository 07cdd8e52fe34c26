package strategy

import (
	"context"
	"sync"

	"github.com/ivanpostolski/one-prompt-agents/internal/telemetry"
)

// DefaultName is the strategy_name used when an AgentConfig omits the field,
// and the fallback target when an unknown name is looked up.
const DefaultName = "default"

// Registry is a process-wide, injected map of strategy name to Factory (per
// the Design Note on replacing global mutable registries with an explicit
// injected value). Lookup of an unknown name logs a warning and falls back
// to the default entry rather than failing the job.
type Registry struct {
	mu        sync.RWMutex
	factories map[string]Factory
	logger    telemetry.Logger
}

// NewRegistry constructs a Registry holding a copy of factories. It adds no
// entries of its own; Lookup's fallback returns nil unless factories has a
// DefaultName entry.
func NewRegistry(factories map[string]Factory, logger telemetry.Logger) *Registry {
	if logger == nil {
		logger = telemetry.NewNoopLogger()
	}
	cp := make(map[string]Factory, len(factories))
	for k, v := range factories {
		cp[k] = v
	}
	return &Registry{factories: cp, logger: logger}
}

// Register adds or replaces a named strategy factory.
func (r *Registry) Register(name string, f Factory) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.factories[name] = f
}

// Lookup resolves name to a Factory, falling back to DefaultName with a
// warning log when name is unknown.
func (r *Registry) Lookup(name string) Factory {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if f, ok := r.factories[name]; ok {
		return f
	}
	r.logger.Warn(context.Background(), "strategy: unknown strategy, falling back to default", "requested", name)
	return r.factories[DefaultName]
}

// Has reports whether name is a known strategy, without falling back.
func (r *Registry) Has(name string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.factories[name]
	return ok
}
