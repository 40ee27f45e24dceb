package registry

import (
	"fmt"
	"io"
	"net/url"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/drblury/tenantbus/internal/domain"
)

// Subscription is a subscribed event type and the callback receiving it.
type Subscription struct {
	EventType string `json:"eventType" yaml:"eventType"`
	Callback  string `json:"callback" yaml:"callback"`
}

// Descriptor declares everything one module publishes and subscribes to
// within a tenant. It is accepted as JSON by the admin API and as YAML (or
// JSON) from files.
type Descriptor struct {
	TenantID      string         `json:"tenantId" yaml:"tenantId"`
	ModuleID      string         `json:"moduleId" yaml:"moduleId"`
	Publications  []string       `json:"publications,omitempty" yaml:"publications,omitempty"`
	Subscriptions []Subscription `json:"subscriptions,omitempty" yaml:"subscriptions,omitempty"`
}

// LoadDescriptor decodes a descriptor document.
func LoadDescriptor(r io.Reader) (Descriptor, error) {
	var d Descriptor
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(&d); err != nil {
		return Descriptor{}, fmt.Errorf("decode module descriptor: %w", err)
	}
	return d, nil
}

// Validate rejects descriptors missing identity, with blank event types, or
// with subscriptions lacking a usable callback.
func (d Descriptor) Validate() error {
	if strings.TrimSpace(d.TenantID) == "" {
		return &domain.ValidationError{Field: "tenantId", Reason: "is required"}
	}
	if strings.TrimSpace(d.ModuleID) == "" {
		return &domain.ValidationError{Field: "moduleId", Reason: "is required"}
	}
	for i, et := range d.Publications {
		if strings.TrimSpace(et) == "" {
			return &domain.ValidationError{Field: fmt.Sprintf("publications[%d]", i), Reason: "is blank"}
		}
	}
	for i, s := range d.Subscriptions {
		if strings.TrimSpace(s.EventType) == "" {
			return &domain.ValidationError{Field: fmt.Sprintf("subscriptions[%d].eventType", i), Reason: "is blank"}
		}
		if err := validateCallback(s.Callback); err != nil {
			return &domain.ValidationError{Field: fmt.Sprintf("subscriptions[%d].callback", i), Reason: err.Error()}
		}
	}
	return nil
}

// validateCallback accepts gateway-relative paths and absolute http(s) URLs.
func validateCallback(raw string) error {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return fmt.Errorf("is required")
	}
	if strings.HasPrefix(raw, "/") {
		return nil
	}
	u, err := url.Parse(raw)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return fmt.Errorf("must be a path or an http(s) URL")
	}
	return nil
}

// EventTypes lists the distinct event types named for role.
func (d Descriptor) EventTypes(role domain.Role) []string {
	seen := map[string]bool{}
	var out []string
	add := func(et string) {
		if !seen[et] {
			seen[et] = true
			out = append(out, et)
		}
	}
	switch role {
	case domain.RolePublisher:
		for _, et := range d.Publications {
			add(et)
		}
	case domain.RoleSubscriber:
		for _, s := range d.Subscriptions {
			add(s.EventType)
		}
	}
	return out
}

// modules expands the descriptor into activated rows for role. newID mints
// row ids.
func (d Descriptor) modules(role domain.Role, newID func() string) []domain.MessagingModule {
	var out []domain.MessagingModule
	switch role {
	case domain.RolePublisher:
		for _, et := range d.EventTypes(domain.RolePublisher) {
			out = append(out, domain.MessagingModule{
				ID:        newID(),
				EventType: et,
				ModuleID:  d.ModuleID,
				TenantID:  d.TenantID,
				Role:      domain.RolePublisher,
				Activated: true,
			})
		}
	case domain.RoleSubscriber:
		seen := map[Subscription]bool{}
		for _, s := range d.Subscriptions {
			if seen[s] {
				continue
			}
			seen[s] = true
			out = append(out, domain.MessagingModule{
				ID:                 newID(),
				EventType:          s.EventType,
				ModuleID:           d.ModuleID,
				TenantID:           d.TenantID,
				Role:               domain.RoleSubscriber,
				Activated:          true,
				SubscriberCallback: strings.TrimSpace(s.Callback),
			})
		}
	}
	return out
}
