package transport

import (
	"context"
	"fmt"
	"maps"
	"slices"
	"sync"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill/message"
)

// Registry maps transport names to builders.
type Registry struct {
	mu       sync.RWMutex
	builders map[string]Builder
}

// DefaultRegistry is the registry the sub-packages register with.
var DefaultRegistry = NewRegistry()

func NewRegistry() *Registry {
	return &Registry{builders: make(map[string]Builder)}
}

// Register adds or replaces the builder for name.
func (r *Registry) Register(name string, builder Builder) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.builders[name] = builder
}

// Build creates a publisher with the builder named by cfg.GetAuditTransport.
func (r *Registry) Build(ctx context.Context, cfg Config, logger watermill.LoggerAdapter) (message.Publisher, error) {
	if cfg == nil {
		return nil, fmt.Errorf("config is required")
	}
	name := cfg.GetAuditTransport()
	if name == "" {
		return nil, fmt.Errorf("no audit transport configured")
	}

	r.mu.RLock()
	builder, ok := r.builders[name]
	r.mu.RUnlock()

	if !ok {
		return nil, fmt.Errorf("unknown transport: %q (registered: %v)", name, r.Names())
	}
	if logger == nil {
		logger = watermill.NopLogger{}
	}
	return builder(ctx, cfg, logger)
}

// Names returns the registered transport names in sorted order.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	return slices.Sorted(maps.Keys(r.builders))
}

// Has reports whether name can be used as AUDIT_TRANSPORT.
func (r *Registry) Has(name string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.builders[name]
	return ok
}

// Register adds a builder to the default registry.
func Register(name string, builder Builder) {
	DefaultRegistry.Register(name, builder)
}

// Build creates a publisher using the default registry.
func Build(ctx context.Context, cfg Config, logger watermill.LoggerAdapter) (message.Publisher, error) {
	return DefaultRegistry.Build(ctx, cfg, logger)
}
