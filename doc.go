// Package tenantbus is a tenant-aware publish/subscribe broker on top of
// Kafka. Modules register which event types they publish and which they
// subscribe to, per tenant; published events land on one topic per tenant and
// event type and are POSTed to every subscriber callback with a token of the
// broker's system user for that tenant.
//
// Service hosts the whole broker: the registration registry, one consumer per
// subscribed event type, the resend policy for records whose handling failed,
// the delivery engine, and the admin HTTP API. A minimal setup loads Config
// from the environment, creates a Service and calls Start.
//
// # Flow control
//
// Each consumer is driven by a governor that counts records in flight, both
// for its own event type and across the process. When the load passes
// Config.LoadLimit the consumer is paused and held records wait; it resumes
// once the load has fallen below half the limit.
//
// # Resending
//
// A record whose handling returned an error is republished to its topic with
// an incremented resend-counter header after round(e^attempt) delay quanta,
// until Config.MaxResendNumber attempts are used up.
//
// # Audit trail
//
// Every event leaves CREATED, PUBLISHED, RECEIVED, DELIVERED or REJECTED
// records. They go to the log, the registry database, a Redis stream, or any
// registered Watermill transport (see the transport package).
//
// # Job Hooks
//
// JobHooksMiddleware provides OnJobStart, OnJobDone, and OnJobError callbacks
// around the handling of every consumed record.
package tenantbus
