package rollout

import "errors"

var (
	// ErrNoCanary is returned for operations on a spec with no canary in flight.
	ErrNoCanary = errors.New("rollout: no active canary for spec")

	// ErrCanaryExists is returned when starting a canary that is already running.
	ErrCanaryExists = errors.New("rollout: canary already in progress")

	// ErrGatesFailed is returned when promotion is attempted while
	// health gates do not pass.
	ErrGatesFailed = errors.New("rollout: health gates failed")

	// ErrInsufficientSample is returned when promotion is attempted
	// before the canary has seen enough executions.
	ErrInsufficientSample = errors.New("rollout: insufficient execution sample")

	// ErrBudgetIntact is returned when a rollback is requested without
	// an exhausted error budget.
	ErrBudgetIntact = errors.New("rollout: error budget not exhausted")
)
