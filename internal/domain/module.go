package domain

import (
	"fmt"
	"strings"
)

// Role scopes a module registration.
type Role string

const (
	RolePublisher  Role = "PUBLISHER"
	RoleSubscriber Role = "SUBSCRIBER"
)

// ParseRole accepts the role names case-insensitively.
func ParseRole(raw string) (Role, error) {
	switch Role(strings.ToUpper(strings.TrimSpace(raw))) {
	case RolePublisher:
		return RolePublisher, nil
	case RoleSubscriber:
		return RoleSubscriber, nil
	}
	return "", fmt.Errorf("tenantbus: unknown role %q", raw)
}

// MessagingModule is one registration row: a module acting in a role for an
// event type within a tenant.
type MessagingModule struct {
	ID                 string `json:"id"`
	EventType          string `json:"eventType"`
	ModuleID           string `json:"moduleId"`
	TenantID           string `json:"tenantId"`
	Role               Role   `json:"role"`
	Activated          bool   `json:"activated"`
	SubscriberCallback string `json:"subscriberCallback,omitempty"`
}

// ModuleKey identifies the rows superseded by a re-registration.
type ModuleKey struct {
	TenantID string
	ModuleID string
	Role     Role
}

// ModuleFilter selects registrations. Empty fields match everything.
type ModuleFilter struct {
	EventType string
	ModuleID  string
	TenantID  string
	Role      Role
	Activated *bool
	Callback  string
}

// Matches reports whether m satisfies every set field of f.
func (f ModuleFilter) Matches(m MessagingModule) bool {
	if f.EventType != "" && f.EventType != m.EventType {
		return false
	}
	if f.ModuleID != "" && f.ModuleID != m.ModuleID {
		return false
	}
	if f.TenantID != "" && f.TenantID != m.TenantID {
		return false
	}
	if f.Role != "" && f.Role != m.Role {
		return false
	}
	if f.Activated != nil && *f.Activated != m.Activated {
		return false
	}
	if f.Callback != "" && f.Callback != m.SubscriberCallback {
		return false
	}
	return true
}

// Key renders the filter as a stable cache key.
func (f ModuleFilter) Key() string {
	activated := "*"
	if f.Activated != nil {
		activated = fmt.Sprintf("%t", *f.Activated)
	}
	return strings.Join([]string{f.TenantID, f.EventType, f.ModuleID, string(f.Role), activated, f.Callback}, "|")
}

// Bool returns a pointer to v, for filling ModuleFilter.Activated.
func Bool(v bool) *bool {
	return &v
}
