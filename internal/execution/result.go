package execution

import "time"

// ActionStatus is the terminal state of one action-entity pair.
type ActionStatus string

const (
	StatusOK      ActionStatus = "ok"
	StatusSkipped ActionStatus = "skipped"
	StatusFailed  ActionStatus = "failed"
	StatusAborted ActionStatus = "aborted"
)

// RunStatus summarizes a whole execution.
type RunStatus string

const (
	RunCompleted RunStatus = "completed"
	RunPartial   RunStatus = "partial"
	RunFailed    RunStatus = "failed"
	RunBlocked   RunStatus = "blocked"
)

// ActionResult is the outcome for one action-entity pair.
type ActionResult struct {
	ActionID   string         `json:"action_id"`
	EntityID   string         `json:"entity_id"`
	Capability string         `json:"capability"`
	Status     ActionStatus   `json:"status"`
	Attempts   int            `json:"attempts"`
	Error      string         `json:"error,omitempty"`
	Confirm    *ConfirmOutcome `json:"confirm,omitempty"`
	Duration   time.Duration  `json:"duration"`
}

// ExecutionResult aggregates every action-entity outcome of one run
// under a single correlation id.
type ExecutionResult struct {
	CorrelationID string         `json:"correlation_id"`
	SpecID        string         `json:"spec_id"`
	SpecVersion   string         `json:"spec_version"`
	HomeID        string         `json:"home_id"`
	Status        RunStatus      `json:"status"`
	BlockReason   string         `json:"block_reason,omitempty"`
	Results       []ActionResult `json:"results"`
	StartedAt     time.Time      `json:"started_at"`
	CompletedAt   time.Time      `json:"completed_at"`
}

// Duration of the whole run.
func (r *ExecutionResult) Duration() time.Duration {
	return r.CompletedAt.Sub(r.StartedAt)
}

// Counts tallies per-status outcomes.
func (r *ExecutionResult) Counts() (ok, skipped, failed, aborted int) {
	for _, a := range r.Results {
		switch a.Status {
		case StatusOK:
			ok++
		case StatusSkipped:
			skipped++
		case StatusFailed:
			failed++
		case StatusAborted:
			aborted++
		}
	}
	return ok, skipped, failed, aborted
}

// Failures returns the failed action results.
func (r *ExecutionResult) Failures() []ActionResult {
	var out []ActionResult
	for _, a := range r.Results {
		if a.Status == StatusFailed {
			out = append(out, a)
		}
	}
	return out
}

func (r *ExecutionResult) summarize() {
	ok, skipped, failed, _ := r.Counts()
	switch {
	case failed == 0:
		r.Status = RunCompleted
	case ok+skipped > 0:
		r.Status = RunPartial
	default:
		r.Status = RunFailed
	}
}
