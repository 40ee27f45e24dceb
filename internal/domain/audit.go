package domain

import "time"

// AuditState is one step of an event's journey through the broker.
type AuditState string

const (
	AuditCreated   AuditState = "CREATED"
	AuditReceived  AuditState = "RECEIVED"
	AuditPublished AuditState = "PUBLISHED"
	AuditDelivered AuditState = "DELIVERED"
	AuditRejected  AuditState = "REJECTED"
)

// AuditMessage is an append-only record of a state transition.
type AuditMessage struct {
	ID            string     `json:"id"`
	EventID       string     `json:"eventId"`
	EventType     string     `json:"eventType"`
	TenantID      string     `json:"tenantId"`
	CorrelationID string     `json:"correlationId,omitempty"`
	CreatedBy     string     `json:"createdBy,omitempty"`
	PublishedBy   string     `json:"publishedBy,omitempty"`
	AuditDate     time.Time  `json:"auditDate"`
	State         AuditState `json:"state"`
	ErrorMessage  string     `json:"errorMessage,omitempty"`
}

// NewAuditMessage captures the event's identity fields for the given state.
func NewAuditMessage(id string, ev Event, state AuditState, at time.Time) AuditMessage {
	return AuditMessage{
		ID:            id,
		EventID:       ev.ID,
		EventType:     ev.EventType,
		TenantID:      ev.EventMetadata.TenantID,
		CorrelationID: ev.EventMetadata.CorrelationID,
		CreatedBy:     ev.EventMetadata.CreatedBy,
		PublishedBy:   ev.EventMetadata.PublishedBy,
		AuditDate:     at.UTC(),
		State:         state,
	}
}

// AuditFilter selects audit records; empty fields match everything and a
// non-positive Limit means no limit.
type AuditFilter struct {
	TenantID string
	EventID  string
	Limit    int
}
