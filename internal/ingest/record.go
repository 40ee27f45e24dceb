package ingest

import (
	"context"
	"strconv"

	"github.com/ThreeDotsLabs/watermill/message"

	idspkg "github.com/drblury/tenantbus/internal/runtime/ids"
	metadatapkg "github.com/drblury/tenantbus/internal/runtime/metadata"
)

// Header is a single Kafka record header.
type Header struct {
	Key   string
	Value []byte
}

// Record is a consumed log record, independent of the client library.
type Record struct {
	Topic       string
	Partition   int32
	Offset      int64
	LeaderEpoch int32
	Key         []byte
	Value       []byte
	Headers     []Header
}

// Header returns the value of the last header named key.
func (r *Record) Header(key string) (string, bool) {
	for i := len(r.Headers) - 1; i >= 0; i-- {
		if r.Headers[i].Key == key {
			return string(r.Headers[i].Value), true
		}
	}
	return "", false
}

// Metadata flattens the headers into a map; later duplicates win.
func (r *Record) Metadata() metadatapkg.Metadata {
	md := make(metadatapkg.Metadata, len(r.Headers))
	for _, h := range r.Headers {
		md[h.Key] = string(h.Value)
	}
	return md
}

// Message converts the record into the Watermill message handed to business
// handlers. Position and key travel as metadata.
func (r *Record) Message(ctx context.Context) *message.Message {
	md := r.Metadata().
		With(metadatapkg.KafkaTopic, r.Topic).
		With(metadatapkg.KafkaPartition, strconv.FormatInt(int64(r.Partition), 10)).
		With(metadatapkg.KafkaOffset, strconv.FormatInt(r.Offset, 10)).
		With(metadatapkg.RecordKey, string(r.Key))

	msg := message.NewMessage(idspkg.CreateULID(), r.Value)
	msg.Metadata = metadatapkg.ToWatermill(md)
	msg.SetContext(ctx)
	return msg
}
