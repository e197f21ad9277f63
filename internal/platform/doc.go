// Package platform provides clients for the remote smart-home device
// platform: a REST client for states, services, and service calls, and a
// WebSocket stream client for live state-change events.
//
// # REST Surface
//
//   - GET  /api/states                      - full entity snapshot
//   - GET  /api/states/{entity_id}          - single entity
//   - GET  /api/services                    - service catalog (map or list form)
//   - GET  /api/config                      - platform instance metadata
//   - POST /api/services/{domain}/{service} - execute one action
//
// # Event Stream
//
// The stream client performs the platform auth handshake (auth_required ->
// auth -> auth_ok), maintains subscriptions across reconnects, runs a
// ping/pong keep-alive loop, and reconnects with jittered exponential
// backoff up to a bounded attempt count.
//
// # Error Taxonomy
//
// Remote failures are classified into TransientError (timeouts, connection
// errors, 429/5xx - safe to retry) and PermanentError (other 4xx, explicit
// invalid/not-found responses - never retried). Callers use IsTransient and
// IsPermanent rather than inspecting status codes.
package platform
