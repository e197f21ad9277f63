package execution

import "errors"

var (
	// ErrCircuitOpen is returned when the circuit breaker rejects a call
	// before it reaches the remote platform. Distinct from a remote
	// failure so callers can tell "platform down" from "this call is bad".
	ErrCircuitOpen = errors.New("execution: circuit breaker open")

	// ErrExecutionBlocked is returned when the kill switch pauses a run
	// before any action executes.
	ErrExecutionBlocked = errors.New("execution: blocked by kill switch")

	// ErrNilPlan is returned when Execute is called without a plan.
	ErrNilPlan = errors.New("execution: nil plan")
)
