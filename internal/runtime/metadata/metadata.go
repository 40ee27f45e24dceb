// Package metadata names the record headers the broker reads and writes and
// provides copy-on-write helpers for header maps.
package metadata

import (
	"maps"
	"strconv"
	"strings"

	"github.com/ThreeDotsLabs/watermill/message"
)

const (
	// ResendCounter carries the attempt number of a republished record.
	ResendCounter = "resend-counter"
	// RecordKey carries the Kafka record key through Watermill messages.
	RecordKey = "tenantbus_record_key"

	// WatermillUUID is the header Watermill's Kafka marshaler stamps on every
	// record; it is dropped before a record is republished.
	WatermillUUID = "_watermill_message_uuid"

	KafkaTopic     = "kafka_topic"
	KafkaPartition = "kafka_partition"
	KafkaOffset    = "kafka_offset"

	CorrelationID = "correlation_id"
	TenantID      = "tenant_id"
	EventType     = "event_type"
	ModuleID      = "module_id"
)

// Metadata represents the headers carried alongside a record. Its methods
// never modify the receiver.
type Metadata map[string]string

// Clone returns a shallow copy; a nil receiver yields an empty map.
func (m Metadata) Clone() Metadata {
	if m == nil {
		return Metadata{}
	}
	return maps.Clone(m)
}

// With returns a copy carrying key=value.
func (m Metadata) With(key, value string) Metadata {
	out := m.Clone()
	out[key] = value
	return out
}

// Without returns a copy lacking keys.
func (m Metadata) Without(keys ...string) Metadata {
	out := m.Clone()
	for _, k := range keys {
		delete(out, k)
	}
	return out
}

// ToWatermill copies m into the header map of an outgoing message.
func ToWatermill(m Metadata) message.Metadata {
	return message.Metadata(m.Clone())
}

// New constructs a Metadata map from alternating key/value pairs.
func New(pairs ...string) Metadata {
	md := make(Metadata, len(pairs)/2)
	for i := 0; i < len(pairs)-1; i += 2 {
		md[pairs[i]] = pairs[i+1]
	}
	return md
}

// ParseCounter reads a decimal attempt counter. Absent, negative, or
// unparsable values count as zero.
func ParseCounter(raw string) int {
	n, err := strconv.Atoi(strings.TrimSpace(raw))
	if err != nil || n < 0 {
		return 0
	}
	return n
}

// FormatCounter renders n the way ParseCounter reads it.
func FormatCounter(n int) string {
	return strconv.Itoa(n)
}
