package audit

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/rueidis"

	"github.com/drblury/tenantbus/internal/domain"
)

// StreamWriter appends records to a Redis stream with XADD.
type StreamWriter struct {
	client rueidis.Client
	stream string
}

// NewStreamWriter connects to addr.
func NewStreamWriter(addr, stream string) (*StreamWriter, error) {
	client, err := rueidis.NewClient(rueidis.ClientOption{InitAddress: []string{addr}})
	if err != nil {
		return nil, fmt.Errorf("connect redis %s: %w", addr, err)
	}
	return &StreamWriter{client: client, stream: stream}, nil
}

func (w *StreamWriter) SaveAuditMessage(ctx context.Context, msg domain.AuditMessage) error {
	b := w.client.B().Xadd().Key(w.stream).Id("*").FieldValue()
	for _, kv := range streamFields(msg) {
		b = b.FieldValue(kv[0], kv[1])
	}
	if err := w.client.Do(ctx, b.Build()).Error(); err != nil {
		return fmt.Errorf("xadd %s: %w", w.stream, err)
	}
	return nil
}

func (w *StreamWriter) Close() {
	w.client.Close()
}

// streamFields flattens msg into stream entry fields, skipping empty ones.
func streamFields(msg domain.AuditMessage) [][2]string {
	all := [][2]string{
		{"id", msg.ID},
		{"event_id", msg.EventID},
		{"event_type", msg.EventType},
		{"tenant_id", msg.TenantID},
		{"state", string(msg.State)},
		{"audit_date", msg.AuditDate.UTC().Format(time.RFC3339Nano)},
		{"correlation_id", msg.CorrelationID},
		{"created_by", msg.CreatedBy},
		{"published_by", msg.PublishedBy},
		{"error_message", msg.ErrorMessage},
	}
	out := all[:0]
	for _, kv := range all {
		if kv[1] != "" {
			out = append(out, kv)
		}
	}
	return out
}
