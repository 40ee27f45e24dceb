package runtime

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/ThreeDotsLabs/watermill/message"

	"github.com/drblury/tenantbus/internal/audit"
	"github.com/drblury/tenantbus/internal/domain"
	errspkg "github.com/drblury/tenantbus/internal/runtime/errors"
	jsonpkg "github.com/drblury/tenantbus/internal/runtime/jsoncodec"
	loggingpkg "github.com/drblury/tenantbus/internal/runtime/logging"
	"github.com/drblury/tenantbus/internal/security"
)

// ErrAuditUnavailable is returned by AuditMessages when no readable audit store is configured.
var ErrAuditUnavailable = errors.New("tenantbus: audit records are not queryable with the configured sink")

// handleEvent is the business handler of every consumer. Only records that
// cannot be decoded fail; delivery problems end in audit records.
func (s *Service) handleEvent(msg *message.Message) error {
	var ev domain.Event
	if err := jsonpkg.Unmarshal(msg.Payload, &ev); err != nil {
		return fmt.Errorf("decode event: %w", err)
	}
	ctx := msg.Context()

	audit.Emit(ctx, s.audit, ev, domain.AuditReceived, nil)
	if ev.Expired(time.Now()) {
		audit.Emit(ctx, s.audit, ev, domain.AuditRejected, errspkg.ErrEventExpired)
		s.Logger.Info("Expired event dropped", loggingpkg.LogFields{
			"event_id":   ev.ID,
			"event_type": ev.EventType,
			"tenant":     ev.EventMetadata.TenantID,
		})
		return nil
	}

	s.engine.Deliver(ctx, ev, s.paramsFor(msg, ev))
	return nil
}

// paramsFor prefers the gateway recorded at publish time over the configured one.
func (s *Service) paramsFor(msg *message.Message, ev domain.Event) security.ConnectionParams {
	okapiURL := msg.Metadata.Get(security.HeaderOkapiURL)
	if okapiURL == "" {
		okapiURL = s.Conf.OkapiURL
	}
	return security.ConnectionParams{OkapiURL: okapiURL, TenantID: ev.EventMetadata.TenantID}
}

// InitTenant provisions the system user of a tenant and logs it in, so the
// first delivery does not pay for the login.
func (s *Service) InitTenant(ctx context.Context, params security.ConnectionParams) error {
	if params.TenantID == "" {
		return &domain.ValidationError{Field: "tenantId", Reason: "is required"}
	}
	if params.OkapiURL == "" {
		params.OkapiURL = s.Conf.OkapiURL
	}
	if err := s.identity.CreatePubSubUser(ctx, params); err != nil {
		return fmt.Errorf("provision system user for %s: %w", params.TenantID, err)
	}
	if _, err := s.identity.AccessToken(ctx, params.WithToken("")); err != nil {
		return fmt.Errorf("log in system user for %s: %w", params.TenantID, err)
	}
	s.Logger.Info("Tenant initialised", loggingpkg.LogFields{"tenant": params.TenantID})
	return nil
}

// AuditMessages lists stored audit records, newest first.
func (s *Service) AuditMessages(ctx context.Context, filter domain.AuditFilter) ([]domain.AuditMessage, error) {
	if s.auditReader == nil {
		return nil, ErrAuditUnavailable
	}
	return s.auditReader.AuditMessages(ctx, filter)
}
