package ingest

import (
	"regexp"
	"strings"

	errspkg "github.com/drblury/tenantbus/internal/runtime/errors"
)

// SubscriptionDefinition names an event type and the topic regex consuming it.
type SubscriptionDefinition struct {
	EventType           string
	SubscriptionPattern string
}

// NewSubscriptionDefinition builds the tenant-agnostic definition for
// eventType: every tenant's topic for that type matches the pattern.
func NewSubscriptionDefinition(env, namespace, eventType string) SubscriptionDefinition {
	return SubscriptionDefinition{
		EventType:           eventType,
		SubscriptionPattern: SubscriptionPattern(env, namespace, eventType),
	}
}

// Validate rejects a definition without a pattern.
func (d SubscriptionDefinition) Validate() error {
	if strings.TrimSpace(d.SubscriptionPattern) == "" {
		return errspkg.ErrSubscriptionPatternRequired
	}
	return nil
}

// TopicName returns {env}.{namespace}.{tenant}.{eventType}.
func TopicName(env, namespace, tenant, eventType string) string {
	return strings.Join([]string{env, namespace, tenant, eventType}, ".")
}

// GroupName returns the consumer group {eventType}.{moduleIdentity}.
func GroupName(eventType, moduleIdentity string) string {
	return eventType + "." + moduleIdentity
}

// SubscriptionPattern returns ^{env}\.{namespace}\.\w{1,}\.{eventType}$.
// The anchors matter: franz-go matches consume regexes unanchored.
func SubscriptionPattern(env, namespace, eventType string) string {
	return "^" + regexp.QuoteMeta(env) + `\.` + regexp.QuoteMeta(namespace) + `\.\w{1,}\.` + regexp.QuoteMeta(eventType) + "$"
}

// EventTypeFromTopic returns the last dot-separated segment of topic.
func EventTypeFromTopic(topic string) string {
	if i := strings.LastIndexByte(topic, '.'); i >= 0 {
		return topic[i+1:]
	}
	return topic
}

// TenantFromTopic returns the tenant segment of a four-part topic name, or "".
func TenantFromTopic(topic string) string {
	parts := strings.Split(topic, ".")
	if len(parts) < 4 {
		return ""
	}
	return parts[len(parts)-2]
}
