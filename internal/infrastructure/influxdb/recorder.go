package influxdb

import (
	"time"

	"github.com/emberhaus/ember-core/internal/execution"
	"github.com/emberhaus/ember-core/internal/rollout"
)

// PointWriter is the write surface the recorder needs. Satisfied by
// *Client; tests substitute a capture fake.
type PointWriter interface {
	WritePointAt(measurement string, tags map[string]string, fields map[string]any, ts time.Time)
}

// Recorder converts control-plane events into time-series points. It
// implements execution.Observer so the engine feeds it run results
// alongside the other observers.
//
// Measurements:
//
//	execution_runs     one point per run: outcome counts and duration
//	execution_actions  one point per action: attempts and confirmation
//	canary_health      gate metrics sampled at health checks
type Recorder struct {
	writer PointWriter
}

// NewRecorder creates a metrics recorder over a point writer.
func NewRecorder(writer PointWriter) *Recorder {
	return &Recorder{writer: writer}
}

// ObserveExecution writes one run-level point and one point per action.
func (r *Recorder) ObserveExecution(res *execution.ExecutionResult) {
	if res == nil {
		return
	}

	succeeded, skipped, failed, aborted := res.Counts()
	r.writer.WritePointAt("execution_runs",
		map[string]string{
			"spec_id": res.SpecID,
			"home_id": res.HomeID,
			"status":  string(res.Status),
		},
		map[string]any{
			"duration_ms": res.Duration().Milliseconds(),
			"succeeded":   succeeded,
			"skipped":     skipped,
			"failed":      failed,
			"aborted":     aborted,
		},
		res.CompletedAt)

	for _, action := range res.Results {
		fields := map[string]any{
			"attempts":    action.Attempts,
			"duration_ms": action.Duration.Milliseconds(),
		}
		if action.Confirm != nil {
			fields["confirmed"] = action.Confirm.Confirmed
		}
		r.writer.WritePointAt("execution_actions",
			map[string]string{
				"spec_id":    res.SpecID,
				"home_id":    res.HomeID,
				"capability": action.Capability,
				"status":     string(action.Status),
			},
			fields,
			res.CompletedAt)
	}
}

// RecordCanaryHealth samples a canary's gate metrics.
func (r *Recorder) RecordCanaryHealth(homeID string, state *rollout.CanaryState) {
	if state == nil {
		return
	}
	r.writer.WritePointAt("canary_health",
		map[string]string{
			"spec_id": state.SpecID,
			"home_id": homeID,
			"version": state.Version,
		},
		map[string]any{
			"percentage":     state.Percentage,
			"executions":     state.Metrics.Executions,
			"failures":       state.Metrics.Failures,
			"error_rate":     state.Metrics.ErrorRate,
			"avg_latency_ms": state.Metrics.AvgLatencyMS,
		},
		time.Now())
}
