package runtime

import (
	"context"
	"errors"
	"fmt"

	"github.com/drblury/tenantbus/internal/domain"
	"github.com/drblury/tenantbus/internal/ingest"
	"github.com/drblury/tenantbus/internal/registry"
)

// RegisterModule records what a module publishes and subscribes to within a
// tenant, replacing its previous registration for each declared role.
// Topics of published event types are created first; a consumer is started
// for every newly subscribed event type once the service runs.
func (s *Service) RegisterModule(ctx context.Context, d registry.Descriptor) (registry.Registration, error) {
	if err := d.Validate(); err != nil {
		return registry.Registration{}, err
	}

	if pubs := d.EventTypes(domain.RolePublisher); len(pubs) > 0 {
		topics := make([]string, 0, len(pubs))
		for _, eventType := range pubs {
			topics = append(topics, ingest.TopicName(s.Conf.Env, s.Conf.KafkaNamespace, d.TenantID, eventType))
		}
		if err := s.topics.EnsureTopics(ctx, topics...); err != nil {
			return registry.Registration{}, fmt.Errorf("create topics for %s: %w", d.ModuleID, err)
		}
	}

	reg, err := s.registry.Register(ctx, d)
	if err != nil {
		return registry.Registration{}, err
	}

	var errs []error
	for _, eventType := range d.EventTypes(domain.RoleSubscriber) {
		if err := s.ensureConsumer(eventType); err != nil {
			errs = append(errs, err)
		}
	}
	return reg, errors.Join(errs...)
}

// UnregisterModule removes a module's registration for role. Running
// consumers keep running; events without subscribers are rejected on publish.
func (s *Service) UnregisterModule(ctx context.Context, tenant, moduleID string, role domain.Role) error {
	if tenant == "" || moduleID == "" {
		return &domain.ValidationError{Field: "tenantId/moduleId", Reason: "is required"}
	}
	return s.registry.Unregister(ctx, domain.ModuleKey{TenantID: tenant, ModuleID: moduleID, Role: role})
}

// Modules lists registrations matching filter.
func (s *Service) Modules(ctx context.Context, filter domain.ModuleFilter) ([]domain.MessagingModule, error) {
	return s.registry.Modules(ctx, filter)
}
