package tenantbus

import (
	"github.com/drblury/tenantbus/internal/domain"
	"github.com/drblury/tenantbus/internal/ingest"
	"github.com/drblury/tenantbus/internal/registry"
	runtimepkg "github.com/drblury/tenantbus/internal/runtime"
	configpkg "github.com/drblury/tenantbus/internal/runtime/config"
	errspkg "github.com/drblury/tenantbus/internal/runtime/errors"
	idspkg "github.com/drblury/tenantbus/internal/runtime/ids"
	jsoncodec "github.com/drblury/tenantbus/internal/runtime/jsoncodec"
	loggingpkg "github.com/drblury/tenantbus/internal/runtime/logging"
	metadatapkg "github.com/drblury/tenantbus/internal/runtime/metadata"
	"github.com/drblury/tenantbus/internal/security"
	newtransport "github.com/drblury/tenantbus/transport"
)

type (
	Config              = configpkg.Config
	Service             = runtimepkg.Service
	ServiceDependencies = runtimepkg.ServiceDependencies
	IdentityProvider    = runtimepkg.IdentityProvider
	TopicEnsurer        = runtimepkg.TopicEnsurer
	ConsumerFactory     = runtimepkg.ConsumerFactory
	PublisherFactory    = runtimepkg.PublisherFactory
	EventPublisher      = runtimepkg.EventPublisher

	MiddlewareBuilder      = runtimepkg.MiddlewareBuilder
	MiddlewareRegistration = runtimepkg.MiddlewareRegistration

	// Domain values
	Event            = domain.Event
	EventMetadata    = domain.EventMetadata
	MessagingModule  = domain.MessagingModule
	ModuleFilter     = domain.ModuleFilter
	Role             = domain.Role
	AuditMessage     = domain.AuditMessage
	AuditFilter      = domain.AuditFilter
	AuditState       = domain.AuditState
	ValidationError  = domain.ValidationError
	ModuleDescriptor = registry.Descriptor
	Subscription     = registry.Subscription
	Registration     = registry.Registration
	ConnectionParams = security.ConnectionParams

	ConsumerSnapshot = ingest.Snapshot

	Metadata = metadatapkg.Metadata

	LogFields     = loggingpkg.LogFields
	ServiceLogger = loggingpkg.ServiceLogger

	ConfigValidationError = errspkg.ConfigValidationError

	// Job lifecycle hooks
	JobContext = runtimepkg.JobContext
	JobHooks   = runtimepkg.JobHooks

	BrokerMetrics    = runtimepkg.BrokerMetrics
	EventTypeMetrics = runtimepkg.EventTypeMetrics
	MetricsSnapshot  = runtimepkg.MetricsSnapshot

	// Audit forwarding transports
	TransportBuilder  = newtransport.Builder
	TransportConfig   = newtransport.Config
	TransportRegistry = newtransport.Registry
)

const (
	RolePublisher  = domain.RolePublisher
	RoleSubscriber = domain.RoleSubscriber

	AuditCreated   = domain.AuditCreated
	AuditReceived  = domain.AuditReceived
	AuditPublished = domain.AuditPublished
	AuditDelivered = domain.AuditDelivered
	AuditRejected  = domain.AuditRejected
)

var (
	NewService     = runtimepkg.NewService
	LoadConfig     = configpkg.Load
	ValidateConfig = configpkg.ValidateConfig

	LoadModuleDescriptor = registry.LoadDescriptor
	ParseRole            = domain.ParseRole

	NewEventMessage = runtimepkg.NewEventMessage
	PublishEvent    = runtimepkg.PublishEvent

	TopicName           = ingest.TopicName
	GroupName           = ingest.GroupName
	SubscriptionPattern = ingest.SubscriptionPattern

	DefaultMiddlewares      = runtimepkg.DefaultMiddlewares
	CorrelationIDMiddleware = runtimepkg.CorrelationIDMiddleware
	LogMessagesMiddleware   = runtimepkg.LogMessagesMiddleware
	TracerMiddleware        = runtimepkg.TracerMiddleware
	MetricsMiddleware       = runtimepkg.MetricsMiddleware
	RecovererMiddleware     = runtimepkg.RecovererMiddleware

	// Job lifecycle hooks
	JobHooksMiddleware = runtimepkg.JobHooksMiddleware
	LoggingHooks       = runtimepkg.LoggingHooks
	MetricsHooks       = runtimepkg.MetricsHooks
	AlertingHooks      = runtimepkg.AlertingHooks

	NewBrokerMetrics = runtimepkg.NewBrokerMetrics

	DefaultTransportRegistry = newtransport.DefaultRegistry
	RegisterTransport        = newtransport.Register
	BuildTransport           = newtransport.Build

	Marshal   = jsoncodec.Marshal
	Unmarshal = jsoncodec.Unmarshal
	Encode    = jsoncodec.Encode
	Decode    = jsoncodec.Decode

	ErrHandlerRequired        = errspkg.ErrHandlerRequired
	ErrPublisherRequired      = errspkg.ErrPublisherRequired
	ErrTopicRequired          = errspkg.ErrTopicRequired
	ErrConfigRequired         = errspkg.ErrConfigRequired
	ErrLoggerRequired         = errspkg.ErrLoggerRequired
	ErrPublisherNotRegistered = errspkg.ErrPublisherNotRegistered
	ErrNoSubscribers          = errspkg.ErrNoSubscribers
	ErrEventExpired           = errspkg.ErrEventExpired
	ErrAuditUnavailable       = runtimepkg.ErrAuditUnavailable

	NewSlogServiceLogger = loggingpkg.NewSlogServiceLogger

	NewMetadata = metadatapkg.New

	CreateULID = idspkg.CreateULID
	NewUUID    = idspkg.NewUUID
)

// Metadata keys carried on every record.
const (
	MetadataKeyCorrelationID = metadatapkg.CorrelationID
	MetadataKeyTenantID      = metadatapkg.TenantID
	MetadataKeyEventType     = metadatapkg.EventType
	MetadataKeyResendCounter = metadatapkg.ResendCounter
)
