package audit

import (
	"context"
	"fmt"

	"github.com/ThreeDotsLabs/watermill/message"

	"github.com/drblury/tenantbus/internal/domain"
	jsonpkg "github.com/drblury/tenantbus/internal/runtime/jsoncodec"
	metadatapkg "github.com/drblury/tenantbus/internal/runtime/metadata"
)

// TransportWriter forwards records as JSON messages to a Watermill publisher,
// so the audit trail can be shipped over any configured transport.
type TransportWriter struct {
	publisher message.Publisher
	topic     string
}

func NewTransportWriter(publisher message.Publisher, topic string) *TransportWriter {
	return &TransportWriter{publisher: publisher, topic: topic}
}

func (w *TransportWriter) SaveAuditMessage(ctx context.Context, msg domain.AuditMessage) error {
	payload, err := jsonpkg.Marshal(msg)
	if err != nil {
		return fmt.Errorf("encode audit message: %w", err)
	}
	wm := message.NewMessage(msg.ID, payload)
	wm.Metadata.Set(metadatapkg.TenantID, msg.TenantID)
	wm.Metadata.Set(metadatapkg.EventType, msg.EventType)
	wm.Metadata.Set(metadatapkg.CorrelationID, msg.CorrelationID)
	wm.SetContext(ctx)
	if err := w.publisher.Publish(w.topic, wm); err != nil {
		return fmt.Errorf("publish audit message to %s: %w", w.topic, err)
	}
	return nil
}

func (w *TransportWriter) Close() error {
	return w.publisher.Close()
}
