package validation

import (
	"encoding/json"
	"fmt"
)

// RiskLevel orders specs by blast radius. Higher risk buys longer
// confirmation waits and stricter preflight, but also bypasses
// platform-instability and kill-switch pauses.
type RiskLevel string

const (
	RiskLow    RiskLevel = "low"
	RiskMedium RiskLevel = "medium"
	RiskHigh   RiskLevel = "high"
)

// ParseRiskLevel normalizes a risk string, defaulting to low.
func ParseRiskLevel(s string) RiskLevel {
	switch RiskLevel(s) {
	case RiskLow, RiskMedium, RiskHigh:
		return RiskLevel(s)
	default:
		return RiskLow
	}
}

// TimeCondition gates execution on the current time of day.
// Kind selects the polarity: "in_time_range" requires the clock to be
// inside [Start, End], "not_in_time_range" requires it to be outside.
// Ranges where Start > End cross midnight.
type TimeCondition struct {
	Kind  string `json:"kind" yaml:"kind"`
	Start string `json:"start" yaml:"start"`
	End   string `json:"end" yaml:"end"`
}

const (
	TimeInRange    = "in_time_range"
	TimeNotInRange = "not_in_time_range"
)

// Policy carries the per-spec safety knobs.
type Policy struct {
	Risk                RiskLevel       `json:"risk" yaml:"risk"`
	QuietHours          []TimeCondition `json:"quiet_hours,omitempty" yaml:"quiet_hours,omitempty"`
	RequireConfirmation bool            `json:"require_confirmation,omitempty" yaml:"require_confirmation,omitempty"`
	RequirePreflight    bool            `json:"require_preflight,omitempty" yaml:"require_preflight,omitempty"`
	AllowWhenUnstable   bool            `json:"allow_when_unstable,omitempty" yaml:"allow_when_unstable,omitempty"`
	ParallelActions     bool            `json:"parallel_actions,omitempty" yaml:"parallel_actions,omitempty"`
}

// Target is an abstract selector to be resolved against the capability
// graph. Known keys are entity_id, area, device_class and user; anything
// else resolves to nothing with a warning.
type Target map[string]any

// Action is one step of a spec, pre-resolution.
type Action struct {
	ID         string         `json:"id" yaml:"id"`
	Capability string         `json:"capability" yaml:"capability"`
	Target     Target         `json:"target" yaml:"target"`
	Data       map[string]any `json:"data,omitempty" yaml:"data,omitempty"`
}

// Trigger and Condition are authored by collaborators and carried
// opaquely; the pipeline does not evaluate them.
type Trigger struct {
	Platform string          `json:"platform" yaml:"platform"`
	Config   json.RawMessage `json:"config,omitempty" yaml:"config,omitempty"`
}

type Condition struct {
	Kind   string          `json:"kind" yaml:"kind"`
	Config json.RawMessage `json:"config,omitempty" yaml:"config,omitempty"`
}

// AutomationSpec is a versioned declaration of desired behavior.
type AutomationSpec struct {
	ID         string      `json:"id" yaml:"id"`
	Version    string      `json:"version" yaml:"version"`
	Alias      string      `json:"alias,omitempty" yaml:"alias,omitempty"`
	Triggers   []Trigger   `json:"triggers,omitempty" yaml:"triggers,omitempty"`
	Conditions []Condition `json:"conditions,omitempty" yaml:"conditions,omitempty"`
	Actions    []Action    `json:"actions" yaml:"actions"`
	Policy     Policy      `json:"policy" yaml:"policy"`
	Enabled    bool        `json:"enabled" yaml:"enabled"`
}

// PlannedAction is an action with its target expanded to concrete
// entity ids, deduplicated in first-encountered order.
type PlannedAction struct {
	Action
	ResolvedEntityIDs []string `json:"resolved_entity_ids"`
}

// ExecutionPlan is the validated, resolved form of a spec, ready for
// the execution engine. Built fresh per validation pass.
type ExecutionPlan struct {
	SpecID      string          `json:"spec_id"`
	SpecVersion string          `json:"spec_version"`
	Actions     []PlannedAction `json:"actions"`
}

// EntityCount sums resolved entities across all actions.
func (p *ExecutionPlan) EntityCount() int {
	n := 0
	for _, a := range p.Actions {
		n += len(a.ResolvedEntityIDs)
	}
	return n
}

// Result aggregates every problem found across all stages so callers
// see the full picture in one pass. Plan is nil unless Valid.
type Result struct {
	Valid    bool           `json:"valid"`
	Errors   []string       `json:"errors"`
	Warnings []string       `json:"warnings"`
	Plan     *ExecutionPlan `json:"plan,omitempty"`
}

func (r *Result) errorf(format string, args ...any) {
	r.Errors = append(r.Errors, fmt.Sprintf(format, args...))
}

func (r *Result) warnf(format string, args ...any) {
	r.Warnings = append(r.Warnings, fmt.Sprintf(format, args...))
}
