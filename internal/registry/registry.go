package registry

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/jellydator/ttlcache/v3"

	"github.com/drblury/tenantbus/internal/domain"
	loggingpkg "github.com/drblury/tenantbus/internal/runtime/logging"
)

const defaultCacheTTL = 5 * time.Minute

// Registration is the outcome of Register: the rows now stored per role.
type Registration struct {
	Publishers  []domain.MessagingModule `json:"publishers"`
	Subscribers []domain.MessagingModule `json:"subscribers"`
}

// Registry fronts a Store with a read-through cache keyed by filter. Any
// write drops the whole cache.
type Registry struct {
	store  Store
	cache  *ttlcache.Cache[string, []domain.MessagingModule]
	logger loggingpkg.ServiceLogger
	newID  func() string

	// generation is bumped by Invalidate. A lookup only caches its store
	// result if no invalidation happened since it started reading.
	mu         sync.Mutex
	generation uint64
}

// New wraps store. A non-positive ttl means cached lookups live until the
// next registration change.
func New(store Store, ttl time.Duration, logger loggingpkg.ServiceLogger) *Registry {
	if ttl == 0 {
		ttl = defaultCacheTTL
	}
	if ttl < 0 {
		ttl = ttlcache.NoTTL
	}
	return &Registry{
		store:  store,
		cache:  ttlcache.New[string, []domain.MessagingModule](ttlcache.WithTTL[string, []domain.MessagingModule](ttl)),
		logger: loggingpkg.OrNop(logger),
		newID:  uuid.NewString,
	}
}

// Modules returns the registrations matching filter.
func (r *Registry) Modules(ctx context.Context, filter domain.ModuleFilter) ([]domain.MessagingModule, error) {
	key := filter.Key()
	if item := r.cache.Get(key); item != nil {
		return item.Value(), nil
	}

	r.mu.Lock()
	gen := r.generation
	r.mu.Unlock()

	modules, err := r.store.Modules(ctx, filter)
	if err != nil {
		return nil, fmt.Errorf("load modules: %w", err)
	}

	r.mu.Lock()
	if gen == r.generation {
		r.cache.Set(key, modules, ttlcache.DefaultTTL)
	}
	r.mu.Unlock()
	return modules, nil
}

// Subscribers lists the activated subscribers of eventType within tenant.
func (r *Registry) Subscribers(ctx context.Context, tenant, eventType string) ([]domain.MessagingModule, error) {
	return r.Modules(ctx, domain.ModuleFilter{
		TenantID:  tenant,
		EventType: eventType,
		Role:      domain.RoleSubscriber,
		Activated: domain.Bool(true),
	})
}

// PublisherActive reports whether moduleID may publish eventType within tenant.
func (r *Registry) PublisherActive(ctx context.Context, tenant, eventType, moduleID string) (bool, error) {
	mods, err := r.Modules(ctx, domain.ModuleFilter{
		TenantID:  tenant,
		EventType: eventType,
		ModuleID:  moduleID,
		Role:      domain.RolePublisher,
		Activated: domain.Bool(true),
	})
	return len(mods) > 0, err
}

// Register supersedes the module's previous rows for every role the
// descriptor declares. Registering the same descriptor twice leaves the
// store with the same set of rows.
func (r *Registry) Register(ctx context.Context, d Descriptor) (Registration, error) {
	if err := d.Validate(); err != nil {
		return Registration{}, err
	}
	defer r.Invalidate()

	var out Registration
	if len(d.Publications) > 0 {
		out.Publishers = d.modules(domain.RolePublisher, r.newID)
		key := domain.ModuleKey{TenantID: d.TenantID, ModuleID: d.ModuleID, Role: domain.RolePublisher}
		if err := r.store.Replace(ctx, key, out.Publishers); err != nil {
			return Registration{}, fmt.Errorf("replace publishers: %w", err)
		}
	}
	if len(d.Subscriptions) > 0 {
		out.Subscribers = d.modules(domain.RoleSubscriber, r.newID)
		key := domain.ModuleKey{TenantID: d.TenantID, ModuleID: d.ModuleID, Role: domain.RoleSubscriber}
		if err := r.store.Replace(ctx, key, out.Subscribers); err != nil {
			return Registration{}, fmt.Errorf("replace subscribers: %w", err)
		}
	}

	r.logger.Info("Module registered", loggingpkg.LogFields{
		"tenant":        d.TenantID,
		"module_id":     d.ModuleID,
		"publications":  len(out.Publishers),
		"subscriptions": len(out.Subscribers),
	})
	return out, nil
}

// Unregister removes the module's rows for role.
func (r *Registry) Unregister(ctx context.Context, key domain.ModuleKey) error {
	defer r.Invalidate()
	if err := r.store.Delete(ctx, key); err != nil {
		return fmt.Errorf("delete modules: %w", err)
	}
	r.logger.Info("Module unregistered", loggingpkg.LogFields{
		"tenant":    key.TenantID,
		"module_id": key.ModuleID,
		"role":      string(key.Role),
	})
	return nil
}

// Invalidate drops every cached lookup, including lookups still reading
// the store.
func (r *Registry) Invalidate() {
	r.mu.Lock()
	r.generation++
	r.cache.DeleteAll()
	r.mu.Unlock()
}
