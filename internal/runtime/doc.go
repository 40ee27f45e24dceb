/*
Package runtime assembles the broker out of its subsystems and exposes it as a
Service.

# Service (service.go)

NewService wires together:
  - the module registry and its store (memory, SQLite or PostgreSQL)
  - the audit sink
  - the identity provider issuing system user tokens
  - the delivery engine posting events to subscriber callbacks
  - the producer pool shared by the publish path and the resend policy
  - one ingestion governor per subscribed event type, created on demand

# Operations

  - publisher.go: Publish validates an event and writes it to its tenant topic
  - registration.go: RegisterModule, UnregisterModule and Modules
  - consumer.go: the handler behind every governor, InitTenant, audit queries
  - api.go: the echo admin API under /pubsub plus /health and /metrics

# Middleware (middleware.go, hooks.go)

The business handler of every consumer is wrapped in Watermill handler
middleware: correlation ids, message logging, tracing, Prometheus handler
metrics and panic recovery. Job hooks are added the same way.

# Sub-packages

  - config/: environment configuration with validation
  - errors/: sentinel errors
  - ids/: ULID and UUID generation
  - jsoncodec/: JSON encoding
  - logging/: logger interface and adapters
  - metadata/: record header names and helpers
*/
package runtime
