// Package domain holds the value types shared by the broker's subsystems:
// events, module registrations, and audit records.
package domain

import (
	"strings"
	"time"
)

// Event is the JSON document carried on the log and POSTed to subscriber callbacks.
type Event struct {
	ID            string        `json:"id"`
	EventType     string        `json:"eventType"`
	EventMetadata EventMetadata `json:"eventMetadata"`
	EventPayload  string        `json:"eventPayload,omitempty"`
}

// EventMetadata describes who published an event and how long it stays relevant.
type EventMetadata struct {
	TenantID      string    `json:"tenantId"`
	EventTTL      int       `json:"eventTTL"`
	PublishedBy   string    `json:"publishedBy,omitempty"`
	CorrelationID string    `json:"correlationId,omitempty"`
	CreatedBy     string    `json:"createdBy,omitempty"`
	CreatedDate   time.Time `json:"createdDate,omitempty"`
}

// Validate reports the first missing mandatory field.
func (e Event) Validate() error {
	switch {
	case strings.TrimSpace(e.ID) == "":
		return &ValidationError{Field: "id", Reason: "is required"}
	case strings.TrimSpace(e.EventType) == "":
		return &ValidationError{Field: "eventType", Reason: "is required"}
	case strings.TrimSpace(e.EventMetadata.TenantID) == "":
		return &ValidationError{Field: "eventMetadata.tenantId", Reason: "is required"}
	case strings.TrimSpace(e.EventMetadata.PublishedBy) == "":
		return &ValidationError{Field: "eventMetadata.publishedBy", Reason: "is required"}
	case e.EventMetadata.EventTTL < 0:
		return &ValidationError{Field: "eventMetadata.eventTTL", Reason: "cannot be negative"}
	}
	return nil
}

// Expired reports whether the event outlived its TTL (in minutes) at now.
// A zero TTL or a missing creation date never expires.
func (e Event) Expired(now time.Time) bool {
	md := e.EventMetadata
	if md.EventTTL <= 0 || md.CreatedDate.IsZero() {
		return false
	}
	return now.After(md.CreatedDate.Add(time.Duration(md.EventTTL) * time.Minute))
}

// ValidationError describes a rejected field of an event or a registration.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return "tenantbus: " + e.Field + " " + e.Reason
}
