// Package registry records which modules publish and subscribe to which
// event types, per tenant, and serves lookups through a loading cache.
package registry

import (
	"context"
	"sync"

	"github.com/drblury/tenantbus/internal/domain"
)

// Store persists module registrations.
type Store interface {
	Modules(ctx context.Context, filter domain.ModuleFilter) ([]domain.MessagingModule, error)
	// Replace deletes every row matching key and inserts modules in one step.
	Replace(ctx context.Context, key domain.ModuleKey, modules []domain.MessagingModule) error
	Delete(ctx context.Context, key domain.ModuleKey) error
}

// MemoryStore keeps registrations in process.
type MemoryStore struct {
	mu   sync.RWMutex
	rows []domain.MessagingModule
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{}
}

func (s *MemoryStore) Modules(_ context.Context, filter domain.ModuleFilter) ([]domain.MessagingModule, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []domain.MessagingModule
	for _, m := range s.rows {
		if filter.Matches(m) {
			out = append(out, m)
		}
	}
	return out, nil
}

func (s *MemoryStore) Replace(_ context.Context, key domain.ModuleKey, modules []domain.MessagingModule) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.rows = append(without(s.rows, key), modules...)
	return nil
}

func (s *MemoryStore) Delete(_ context.Context, key domain.ModuleKey) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.rows = without(s.rows, key)
	return nil
}

func without(rows []domain.MessagingModule, key domain.ModuleKey) []domain.MessagingModule {
	kept := rows[:0:0]
	for _, m := range rows {
		if m.TenantID == key.TenantID && m.ModuleID == key.ModuleID && m.Role == key.Role {
			continue
		}
		kept = append(kept, m)
	}
	return kept
}
