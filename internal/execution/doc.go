// Package execution runs validated plans against the remote platform.
//
// Each action-entity pair moves through a small state machine:
// pending -> idempotent-skip | in-flight -> retrying* -> confirmed | failed.
// A TTL idempotency store prevents duplicate remote calls, transient
// errors retry with exponential backoff, permanent errors surface
// immediately, and a per-engine circuit breaker fast-fails while the
// platform is unhealthy. Risk-flagged specs additionally wait for a
// state-change confirmation over the event stream.
package execution
