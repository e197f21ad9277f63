package mqtt

import (
	"encoding/json"
	"time"

	"github.com/emberhaus/ember-core/internal/execution"
	"github.com/emberhaus/ember-core/internal/rollout"
)

// Publisher is the subset of Client the event bus needs. Satisfied by
// *Client; tests substitute a capture fake.
type Publisher interface {
	Publish(topic string, payload []byte, retained bool) error
}

// Bus fans control-plane events out to MQTT observers. It implements
// execution.Observer so the engine pushes results without knowing
// anything about transports.
type Bus struct {
	pub    Publisher
	topics Topics
	logger Logger
}

// NewBus creates an event bus over a publisher.
func NewBus(pub Publisher) *Bus {
	return &Bus{pub: pub}
}

// SetLogger sets a logger for publish failures.
func (b *Bus) SetLogger(logger Logger) {
	b.logger = logger
}

// ObserveExecution publishes an execution result. Implements
// execution.Observer; failures are logged, never propagated, so a broker
// outage cannot affect execution.
func (b *Bus) ObserveExecution(res *execution.ExecutionResult) {
	if res == nil {
		return
	}
	succeeded, skipped, failed, aborted := res.Counts()
	event := executionEvent{
		CorrelationID: res.CorrelationID,
		SpecID:        res.SpecID,
		SpecVersion:   res.SpecVersion,
		HomeID:        res.HomeID,
		Status:        string(res.Status),
		BlockReason:   res.BlockReason,
		Succeeded:     succeeded,
		Failed:        failed,
		Skipped:       skipped,
		Aborted:       aborted,
		DurationMS:    res.Duration().Milliseconds(),
		CompletedAt:   res.CompletedAt.UTC().Format(time.RFC3339Nano),
	}
	b.publish(b.topics.ExecutionResult(res.HomeID, res.SpecID), event, false)
}

// PublishCanaryEvent announces a canary lifecycle transition.
// Phase is one of "started", "promoted", "abandoned".
func (b *Bus) PublishCanaryEvent(homeID, phase string, state *rollout.CanaryState) {
	if state == nil {
		return
	}
	event := canaryEvent{
		Phase:      phase,
		SpecID:     state.SpecID,
		Version:    state.Version,
		Percentage: state.Percentage,
		Executions: state.Metrics.Executions,
		ErrorRate:  state.Metrics.ErrorRate,
		Complete:   state.Complete,
	}
	b.publish(b.topics.CanaryEvent(homeID, state.SpecID), event, false)
}

// PublishRollback announces a completed rollback to a prior version.
func (b *Bus) PublishRollback(homeID, specID, fromVersion, toVersion, reason string) {
	event := rollbackEvent{
		SpecID:      specID,
		FromVersion: fromVersion,
		ToVersion:   toVersion,
		Reason:      reason,
		Timestamp:   time.Now().UTC().Format(time.RFC3339),
	}
	b.publish(b.topics.RollbackEvent(homeID, specID), event, false)
}

// PublishKillSwitch announces a pause state change. Retained so late
// subscribers see the current state.
func (b *Bus) PublishKillSwitch(scope, target, reason string, paused bool) {
	event := killSwitchEvent{
		Scope:     scope,
		Target:    target,
		Paused:    paused,
		Reason:    reason,
		Timestamp: time.Now().UTC().Format(time.RFC3339),
	}
	b.publish(b.topics.KillSwitchEvent(scope), event, true)
}

// PublishDrift announces a capability drift report for a home.
func (b *Bus) PublishDrift(homeID string, added, removed []string) {
	event := driftEvent{
		HomeID:    homeID,
		Added:     added,
		Removed:   removed,
		Timestamp: time.Now().UTC().Format(time.RFC3339),
	}
	b.publish(b.topics.DriftReport(homeID), event, false)
}

func (b *Bus) publish(topic string, event any, retained bool) {
	payload, err := json.Marshal(event)
	if err != nil {
		if b.logger != nil {
			b.logger.Error("mqtt bus marshal failed", "topic", topic, "error", err)
		}
		return
	}
	if err := b.pub.Publish(topic, payload, retained); err != nil {
		if b.logger != nil {
			b.logger.Warn("mqtt bus publish failed", "topic", topic, "error", err)
		}
	}
}

type executionEvent struct {
	CorrelationID string `json:"correlation_id"`
	SpecID        string `json:"spec_id"`
	SpecVersion   string `json:"spec_version"`
	HomeID        string `json:"home_id"`
	Status        string `json:"status"`
	BlockReason   string `json:"block_reason,omitempty"`
	Succeeded     int    `json:"succeeded"`
	Failed        int    `json:"failed"`
	Skipped       int    `json:"skipped"`
	Aborted       int    `json:"aborted"`
	DurationMS    int64  `json:"duration_ms"`
	CompletedAt   string `json:"completed_at"`
}

type canaryEvent struct {
	Phase      string  `json:"phase"`
	SpecID     string  `json:"spec_id"`
	Version    string  `json:"version"`
	Percentage int     `json:"percentage"`
	Executions int     `json:"executions"`
	ErrorRate  float64 `json:"error_rate"`
	Complete   bool    `json:"complete"`
}

type rollbackEvent struct {
	SpecID      string `json:"spec_id"`
	FromVersion string `json:"from_version,omitempty"`
	ToVersion   string `json:"to_version"`
	Reason      string `json:"reason,omitempty"`
	Timestamp   string `json:"timestamp"`
}

type killSwitchEvent struct {
	Scope     string `json:"scope"`
	Target    string `json:"target,omitempty"`
	Paused    bool   `json:"paused"`
	Reason    string `json:"reason,omitempty"`
	Timestamp string `json:"timestamp"`
}

type driftEvent struct {
	HomeID    string   `json:"home_id"`
	Added     []string `json:"added,omitempty"`
	Removed   []string `json:"removed,omitempty"`
	Timestamp string   `json:"timestamp"`
}
