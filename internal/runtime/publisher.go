package runtime

import (
	"context"
	"fmt"
	"time"

	"github.com/ThreeDotsLabs/watermill/message"

	"github.com/drblury/tenantbus/internal/audit"
	"github.com/drblury/tenantbus/internal/domain"
	"github.com/drblury/tenantbus/internal/ingest"
	errspkg "github.com/drblury/tenantbus/internal/runtime/errors"
	idspkg "github.com/drblury/tenantbus/internal/runtime/ids"
	jsonpkg "github.com/drblury/tenantbus/internal/runtime/jsoncodec"
	loggingpkg "github.com/drblury/tenantbus/internal/runtime/logging"
	metadatapkg "github.com/drblury/tenantbus/internal/runtime/metadata"
	"github.com/drblury/tenantbus/internal/security"
)

// NewEventMessage encodes ev as the Watermill message written to the log.
// The event id becomes the record key; the gateway URL travels as a header
// so consumers can reach the same gateway.
func NewEventMessage(ev domain.Event, params security.ConnectionParams) (*message.Message, error) {
	payload, err := jsonpkg.Marshal(ev)
	if err != nil {
		return nil, fmt.Errorf("encode event %s: %w", ev.ID, err)
	}

	md := metadatapkg.New(
		metadatapkg.RecordKey, ev.ID,
		metadatapkg.TenantID, ev.EventMetadata.TenantID,
		metadatapkg.EventType, ev.EventType,
		metadatapkg.ModuleID, ev.EventMetadata.PublishedBy,
	)
	if ev.EventMetadata.CorrelationID != "" {
		md = md.With(metadatapkg.CorrelationID, ev.EventMetadata.CorrelationID)
	}
	if params.OkapiURL != "" {
		md = md.With(security.HeaderOkapiURL, params.OkapiURL)
	}

	msg := message.NewMessage(idspkg.CreateULID(), payload)
	msg.Metadata = metadatapkg.ToWatermill(md)
	return msg, nil
}

// EventPublisher is the part of a Watermill publisher PublishEvent needs.
// Both message.Publisher and pooled producer leases satisfy it.
type EventPublisher interface {
	Publish(topic string, messages ...*message.Message) error
}

// PublishEvent writes ev to topic with publisher.
func PublishEvent(ctx context.Context, publisher EventPublisher, topic string, ev domain.Event, params security.ConnectionParams) error {
	if publisher == nil {
		return errspkg.ErrPublisherRequired
	}
	if topic == "" {
		return errspkg.ErrTopicRequired
	}
	msg, err := NewEventMessage(ev, params)
	if err != nil {
		return err
	}
	if ctx != nil {
		msg.SetContext(ctx)
	}
	return publisher.Publish(topic, msg)
}

// Publish accepts an event from a registered publisher and writes it to the
// tenant topic of its type. A missing id, creation date or correlation id is
// filled in. Events that are expired, come from an unregistered publisher,
// or have no subscriber are rejected and audited as such.
func (s *Service) Publish(ctx context.Context, ev domain.Event, params security.ConnectionParams) (domain.Event, error) {
	if ev.ID == "" {
		ev.ID = idspkg.NewUUID()
	}
	if ev.EventMetadata.CreatedDate.IsZero() {
		ev.EventMetadata.CreatedDate = time.Now().UTC()
	}
	if ev.EventMetadata.CorrelationID == "" {
		ev.EventMetadata.CorrelationID = idspkg.CreateULID()
	}
	if err := ev.Validate(); err != nil {
		return ev, err
	}

	tenant := ev.EventMetadata.TenantID
	log := s.Logger.With(loggingpkg.LogFields{
		"event_id":   ev.ID,
		"event_type": ev.EventType,
		"tenant":     tenant,
	})
	audit.Emit(ctx, s.audit, ev, domain.AuditCreated, nil)

	reject := func(err error) (domain.Event, error) {
		audit.Emit(ctx, s.audit, ev, domain.AuditRejected, err)
		log.Info("Event rejected", loggingpkg.LogFields{"reason": err.Error()})
		return ev, err
	}

	if ev.Expired(time.Now()) {
		return reject(errspkg.ErrEventExpired)
	}

	active, err := s.registry.PublisherActive(ctx, tenant, ev.EventType, ev.EventMetadata.PublishedBy)
	if err != nil {
		return reject(fmt.Errorf("look up publisher: %w", err))
	}
	if !active {
		return reject(fmt.Errorf("%w: %s", errspkg.ErrPublisherNotRegistered, ev.EventMetadata.PublishedBy))
	}

	subs, err := s.registry.Subscribers(ctx, tenant, ev.EventType)
	if err != nil {
		return reject(fmt.Errorf("look up subscribers: %w", err))
	}
	if len(subs) == 0 {
		return reject(errspkg.ErrNoSubscribers)
	}

	if params.OkapiURL == "" {
		params.OkapiURL = s.Conf.OkapiURL
	}
	params.TenantID = tenant

	topic := ingest.TopicName(s.Conf.Env, s.Conf.KafkaNamespace, tenant, ev.EventType)
	pub, err := s.producers.Acquire(ctx, ev.EventType)
	if err != nil {
		return reject(err)
	}
	err = PublishEvent(ctx, pub, topic, ev, params)
	pub.Release(err != nil)
	if err != nil {
		return reject(fmt.Errorf("publish to %s: %w", topic, err))
	}

	audit.Emit(ctx, s.audit, ev, domain.AuditPublished, nil)
	log.Debug("Event published", loggingpkg.LogFields{"topic": topic, "subscribers": len(subs)})
	return ev, nil
}
